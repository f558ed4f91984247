// Package presence tracks which members are live in a group. Freshness is
// computed when records are read; nothing sweeps stale records.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"support-chat/internal/apperrors"
	"support-chat/internal/bus"
	"support-chat/internal/models"
	"support-chat/internal/repositories"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultFreshnessWindow   = 45 * time.Second
)

// Tracker maintains one liveness record per (group, member).
type Tracker struct {
	presence repositories.PresenceRepository
	groups   repositories.GroupRepository
	bus      bus.Bus
	window   time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewTracker constructs a Tracker. window is the freshness window used at read time.
func NewTracker(presence repositories.PresenceRepository, groups repositories.GroupRepository, b bus.Bus, window time.Duration, log *slog.Logger) *Tracker {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Tracker{presence: presence, groups: groups, bus: b, window: window, log: log, now: time.Now}
}

// WithClock overrides the tracker's clock.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Heartbeat upserts the caller's record with last_active = now.
// Only active members have presence.
func (t *Tracker) Heartbeat(ctx context.Context, groupID, userID int, online bool) (models.PresenceRecord, error) {
	member, err := t.groups.GetMember(ctx, groupID, userID)
	if errors.Is(err, repositories.ErrMemberNotFound) {
		return models.PresenceRecord{}, apperrors.ErrNotMember
	}
	if err != nil {
		return models.PresenceRecord{}, apperrors.Persistence("load member", err)
	}
	if !member.Active || member.Banned {
		return models.PresenceRecord{}, apperrors.ErrNotMember
	}

	rec, err := t.presence.UpsertPresence(ctx, groupID, userID, online, t.now())
	if err != nil {
		return models.PresenceRecord{}, apperrors.Persistence("upsert presence", err)
	}
	t.publish(ctx, groupID, userID)
	return rec, nil
}

// Leave marks the member offline immediately. Calling it again is harmless.
func (t *Tracker) Leave(ctx context.Context, groupID, userID int) error {
	if err := t.presence.SetOffline(ctx, groupID, userID); err != nil {
		return apperrors.Persistence("set offline", err)
	}
	t.publish(ctx, groupID, userID)
	return nil
}

// Snapshot returns every record of the group with Online reflecting freshness at now.
func (t *Tracker) Snapshot(ctx context.Context, groupID int) ([]models.PresenceRecord, error) {
	recs, err := t.presence.ListPresence(ctx, groupID)
	if err != nil {
		return nil, apperrors.Persistence("list presence", err)
	}
	now := t.now()
	return lo.Map(recs, func(r models.PresenceRecord, _ int) models.PresenceRecord {
		r.Online = r.Fresh(now, t.window)
		return r
	}), nil
}

// Online returns only the members considered online at now.
func (t *Tracker) Online(ctx context.Context, groupID int) ([]models.PresenceRecord, error) {
	recs, err := t.Snapshot(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return lo.Filter(recs, func(r models.PresenceRecord, _ int) bool { return r.Online }), nil
}

func (t *Tracker) publish(ctx context.Context, groupID, userID int) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(ctx, models.GroupEvent{Type: models.EventPresence, GroupID: groupID, UserID: userID, At: t.now()}); err != nil {
		t.log.Warn("presence publish failed", "group_id", groupID, "user_id", userID, "err", err)
	}
}
