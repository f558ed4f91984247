package presence

import (
	"context"
	"errors"
	"time"

	"support-chat/internal/apperrors"
)

const leaveTimeout = 5 * time.Second

// Beater is the heartbeat task owned by one connected session.
type Beater struct {
	tracker  *Tracker
	groupID  int
	userID   int
	interval time.Duration
}

// NewBeater builds a heartbeat task for a session.
func (t *Tracker) NewBeater(groupID, userID int, interval time.Duration) *Beater {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Beater{tracker: t, groupID: groupID, userID: userID, interval: interval}
}

// Run beats immediately and then every interval until ctx is done, when it
// marks the member offline. It returns ErrNotMember as soon as the membership
// ends so the owning session can close.
func (b *Beater) Run(ctx context.Context) error {
	defer b.leave(ctx)

	if err := b.beat(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.beat(ctx); err != nil {
				return err
			}
		}
	}
}

func (b *Beater) beat(ctx context.Context) error {
	_, err := b.tracker.Heartbeat(ctx, b.groupID, b.userID, true)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrNotMember):
		return err
	case ctx.Err() != nil:
		return nil
	default:
		// a missed beat ages out of the freshness window on its own
		b.tracker.log.Warn("heartbeat failed", "group_id", b.groupID, "user_id", b.userID, "err", err)
		return nil
	}
}

func (b *Beater) leave(ctx context.Context) {
	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaveTimeout)
	defer cancel()
	if err := b.tracker.Leave(leaveCtx, b.groupID, b.userID); err != nil {
		b.tracker.log.Warn("leave failed", "group_id", b.groupID, "user_id", b.userID, "err", err)
	}
}
