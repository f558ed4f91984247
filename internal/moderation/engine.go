// Package moderation is the authoritative state machine for member standing.
//
// Active -> Silenced(until) -> Active happens lazily: an expired silenced_until
// reads as active at standing-check time, with no background timer.
// Active|Silenced -> Banned is terminal until the owner issues an explicit unban.
// Every transition is one store transaction together with its audit row.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"support-chat/internal/apperrors"
	"support-chat/internal/bus"
	"support-chat/internal/models"
	"support-chat/internal/observability"
	"support-chat/internal/repositories"
	"support-chat/internal/telemetry"
)

// ActionKind names a moderator action.
type ActionKind string

const (
	ActionSilence   ActionKind = "silence"
	ActionKick      ActionKind = "kick"
	ActionBan       ActionKind = "ban"
	ActionUnban     ActionKind = "unban"
	ActionUnsilence ActionKind = "unsilence"
	ActionSetRole   ActionKind = "set_role"
)

const (
	MinSilenceHours = 1
	MaxSilenceHours = 168
	MaxSlowMode     = time.Hour
)

// Action is a moderation request against a target member.
type Action struct {
	Kind  ActionKind
	Hours int
}

// Validate checks the action kind and the silence duration bounds.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionSilence:
		if a.Hours < MinSilenceHours || a.Hours > MaxSilenceHours {
			return apperrors.ErrInvalidDuration
		}
	case ActionKick, ActionBan:
	default:
		return fmt.Errorf("%w: unknown action %q", apperrors.ErrInvalidArgument, a.Kind)
	}
	return nil
}

// CheckStanding is the standing check applied before a member may produce content.
func CheckStanding(member models.Member, now time.Time) error {
	if member.Banned && member.Role != models.RoleOwner {
		return apperrors.ErrBanned
	}
	if !member.Active {
		return apperrors.ErrNotMember
	}
	if member.Standing(now) == models.StandingSilenced {
		return &apperrors.SilencedError{Remaining: member.SilenceRemaining(now)}
	}
	return nil
}

// Engine applies moderator actions.
type Engine struct {
	groups repositories.GroupRepository
	bus    bus.Bus
	audit  *telemetry.AuditEmitter
	log    *slog.Logger
	now    func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(groups repositories.GroupRepository, b bus.Bus, audit *telemetry.AuditEmitter, log *slog.Logger) *Engine {
	return &Engine{groups: groups, bus: b, audit: audit, log: log, now: time.Now}
}

// WithClock overrides the engine's clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// AuthorizedAction resolves the actor and checks their role before a state
// transition. Inactive or banned actors are rejected like non-members.
func (e *Engine) AuthorizedAction(ctx context.Context, groupID, actorID int, roles ...models.Role) (models.Member, error) {
	actor, err := e.groups.GetMember(ctx, groupID, actorID)
	if errors.Is(err, repositories.ErrMemberNotFound) {
		return models.Member{}, apperrors.ErrNotMember
	}
	if err != nil {
		return models.Member{}, apperrors.Persistence("load actor", err)
	}
	if !actor.Active || (actor.Banned && actor.Role != models.RoleOwner) {
		return models.Member{}, apperrors.ErrNotMember
	}
	if !slices.Contains(roles, actor.Role) {
		return models.Member{}, apperrors.ErrForbidden
	}
	return actor, nil
}

// Moderate silences, kicks or bans a member. Only moderators and the owner may
// act; the owner can never be a target and only the owner may act on moderators.
func (e *Engine) Moderate(ctx context.Context, groupID, actorID, targetID int, action Action, reason string) (models.Member, error) {
	ctx, span := observability.Tracer("moderation").Start(ctx, "moderation.moderate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("group_id", groupID),
		attribute.Int("target_id", targetID),
		attribute.String("action", string(action.Kind)),
	)

	if err := action.Validate(); err != nil {
		return models.Member{}, err
	}
	actor, err := e.AuthorizedAction(ctx, groupID, actorID, models.RoleModerator, models.RoleOwner)
	if err != nil {
		return models.Member{}, err
	}
	if targetID == actorID {
		if actor.Role == models.RoleOwner {
			return models.Member{}, apperrors.ErrCannotModerateOwner
		}
		return models.Member{}, fmt.Errorf("%w: cannot moderate yourself", apperrors.ErrInvalidArgument)
	}

	now := e.now()
	member, err := e.groups.MutateMember(ctx, groupID, targetID, func(m *models.Member) (models.ModerationAction, error) {
		if m.Role == models.RoleOwner {
			return models.ModerationAction{}, apperrors.ErrCannotModerateOwner
		}
		if m.Role == models.RoleModerator && actor.Role != models.RoleOwner {
			return models.ModerationAction{}, apperrors.ErrForbidden
		}
		if !m.Active && !m.Banned && action.Kind != ActionBan {
			return models.ModerationAction{}, apperrors.ErrNotMember
		}

		audit := models.ModerationAction{
			GroupID:   groupID,
			ActorID:   actorID,
			TargetID:  targetID,
			Action:    string(action.Kind),
			Reason:    reason,
			CreatedAt: now,
		}
		switch action.Kind {
		case ActionSilence:
			until := now.Add(time.Duration(action.Hours) * time.Hour)
			m.SilencedUntil = &until
			audit.DurationHours = action.Hours
		case ActionKick:
			m.Active = false
		case ActionBan:
			m.Banned = true
			m.Active = false
		}
		return audit, nil
	})
	if err != nil {
		return models.Member{}, e.storeErr("moderate", err)
	}

	e.afterTransition(ctx, groupID, actorID, member, string(action.Kind), reason, map[string]any{"hours": action.Hours})
	return member, nil
}

// Unban restores a banned member to active standing. Owner only.
func (e *Engine) Unban(ctx context.Context, groupID, actorID, targetID int, reason string) (models.Member, error) {
	if _, err := e.AuthorizedAction(ctx, groupID, actorID, models.RoleOwner); err != nil {
		return models.Member{}, err
	}
	now := e.now()
	member, err := e.groups.MutateMember(ctx, groupID, targetID, func(m *models.Member) (models.ModerationAction, error) {
		if !m.Banned {
			return models.ModerationAction{}, apperrors.ErrNotBanned
		}
		m.Banned = false
		m.Active = true
		m.SilencedUntil = nil
		return models.ModerationAction{ActorID: actorID, Action: string(ActionUnban), Reason: reason, CreatedAt: now}, nil
	})
	if err != nil {
		return models.Member{}, e.storeErr("unban", err)
	}
	e.afterTransition(ctx, groupID, actorID, member, string(ActionUnban), reason, nil)
	return member, nil
}

// Unsilence lifts a silence before it expires.
func (e *Engine) Unsilence(ctx context.Context, groupID, actorID, targetID int, reason string) (models.Member, error) {
	actor, err := e.AuthorizedAction(ctx, groupID, actorID, models.RoleModerator, models.RoleOwner)
	if err != nil {
		return models.Member{}, err
	}
	now := e.now()
	member, err := e.groups.MutateMember(ctx, groupID, targetID, func(m *models.Member) (models.ModerationAction, error) {
		if m.Role == models.RoleModerator && actor.Role != models.RoleOwner {
			return models.ModerationAction{}, apperrors.ErrForbidden
		}
		m.SilencedUntil = nil
		return models.ModerationAction{ActorID: actorID, Action: string(ActionUnsilence), Reason: reason, CreatedAt: now}, nil
	})
	if err != nil {
		return models.Member{}, e.storeErr("unsilence", err)
	}
	e.afterTransition(ctx, groupID, actorID, member, string(ActionUnsilence), reason, nil)
	return member, nil
}

// SetRole promotes a member to moderator or demotes a moderator. Owner only;
// ownership itself never moves.
func (e *Engine) SetRole(ctx context.Context, groupID, actorID, targetID int, role models.Role) (models.Member, error) {
	if role != models.RoleMember && role != models.RoleModerator {
		return models.Member{}, fmt.Errorf("%w: role must be member or moderator", apperrors.ErrInvalidArgument)
	}
	if _, err := e.AuthorizedAction(ctx, groupID, actorID, models.RoleOwner); err != nil {
		return models.Member{}, err
	}
	now := e.now()
	member, err := e.groups.MutateMember(ctx, groupID, targetID, func(m *models.Member) (models.ModerationAction, error) {
		if m.Role == models.RoleOwner {
			return models.ModerationAction{}, apperrors.ErrCannotModerateOwner
		}
		if !m.Active || m.Banned {
			return models.ModerationAction{}, apperrors.ErrNotMember
		}
		m.Role = role
		return models.ModerationAction{ActorID: actorID, Action: string(ActionSetRole), Reason: string(role), CreatedAt: now}, nil
	})
	if err != nil {
		return models.Member{}, e.storeErr("set role", err)
	}
	e.afterTransition(ctx, groupID, actorID, member, string(ActionSetRole), string(role), nil)
	return member, nil
}

// SetSlowMode configures the group's slow-mode interval; zero disables it.
func (e *Engine) SetSlowMode(ctx context.Context, groupID, actorID int, interval time.Duration) error {
	if interval < 0 || interval > MaxSlowMode {
		return fmt.Errorf("%w: slow mode must be between 0 and %d seconds", apperrors.ErrInvalidArgument, int(MaxSlowMode.Seconds()))
	}
	if _, err := e.AuthorizedAction(ctx, groupID, actorID, models.RoleModerator, models.RoleOwner); err != nil {
		return err
	}
	seconds := int(interval / time.Second)
	if err := e.groups.SetSlowMode(ctx, groupID, seconds); err != nil {
		return e.storeErr("set slow mode", err)
	}

	e.emitAudit(ctx, groupID, actorID, "slow mode updated", map[string]any{"seconds": seconds})
	e.publish(ctx, models.GroupEvent{Type: models.EventGroupUpdated, GroupID: groupID, UserID: actorID, At: e.now()})
	return nil
}

// History returns the newest moderation audit rows. Moderators and owner only.
func (e *Engine) History(ctx context.Context, groupID, actorID, limit int) ([]models.ModerationAction, error) {
	if _, err := e.AuthorizedAction(ctx, groupID, actorID, models.RoleModerator, models.RoleOwner); err != nil {
		return nil, err
	}
	actions, err := e.groups.ListModerationActions(ctx, groupID, limit)
	if err != nil {
		return nil, apperrors.Persistence("list moderation actions", err)
	}
	return actions, nil
}

func (e *Engine) afterTransition(ctx context.Context, groupID, actorID int, member models.Member, action, reason string, extra map[string]any) {
	observability.IncModerationAction(action)
	e.log.Info("member moderated", "group_id", groupID, "actor_id", actorID, "target_id", member.UserID, "action", action, "reason", reason)

	fields := map[string]any{"action": action, "target_id": member.UserID, "reason": reason}
	for k, v := range extra {
		fields[k] = v
	}
	e.emitAudit(ctx, groupID, actorID, "member moderated", fields)
	e.publish(ctx, models.GroupEvent{Type: models.EventMemberUpdated, GroupID: groupID, UserID: member.UserID, At: e.now()})
}

func (e *Engine) emitAudit(ctx context.Context, groupID, actorID int, text string, fields map[string]any) {
	e.audit.Emit(ctx, telemetry.AuditEntry{
		Level:     "INFO",
		Text:      text,
		RequestID: observability.RequestIDFromContext(ctx),
		UserID:    actorID,
		GroupID:   groupID,
		Fields:    fields,
	})
}

func (e *Engine) publish(ctx context.Context, event models.GroupEvent) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, event); err != nil {
		e.log.Warn("bus publish failed", "group_id", event.GroupID, "type", event.Type, "err", err)
	}
}

func (e *Engine) storeErr(op string, err error) error {
	if errors.Is(err, repositories.ErrMemberNotFound) {
		return apperrors.ErrMemberNotFound
	}
	return apperrors.Persistence(op, err)
}
