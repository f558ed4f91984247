package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Role is a member's role within a group.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleOwner     Role = "owner"
)

// Privileged reports whether the role may moderate and bypass slow mode.
func (r Role) Privileged() bool {
	return r == RoleModerator || r == RoleOwner
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleModerator, RoleOwner:
		return true
	}
	return false
}

// Standing is a member's moderation state, distinct from their role.
type Standing string

const (
	StandingActive   Standing = "active"
	StandingSilenced Standing = "silenced"
	StandingBanned   Standing = "banned"
)

// JSONMap is a free-form JSONB column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("jsonmap: unsupported source type")
	}
	out := JSONMap{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
	}
	*m = out
	return nil
}

// Group represents a support group conversation.
type Group struct {
	ID              int       `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	OwnerID         int       `db:"owner_id" json:"owner_id"`
	SlowModeSeconds int       `db:"slow_mode_seconds" json:"slow_mode_seconds"`
	ChatConfig      JSONMap   `db:"chat_config" json:"chat_config"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// SlowModeInterval returns the configured slow-mode interval.
func (g Group) SlowModeInterval() time.Duration {
	return time.Duration(g.SlowModeSeconds) * time.Second
}

// Member is a (group, user) membership row.
type Member struct {
	GroupID       int        `db:"group_id" json:"group_id"`
	UserID        int        `db:"user_id" json:"user_id"`
	Alias         string     `db:"alias" json:"alias"`
	Role          Role       `db:"role" json:"role"`
	Active        bool       `db:"active" json:"active"`
	SilencedUntil *time.Time `db:"silenced_until" json:"silenced_until,omitempty"`
	Banned        bool       `db:"banned" json:"banned"`
	JoinedAt      time.Time  `db:"joined_at" json:"joined_at"`
}

// Standing evaluates the member's standing at now. Silence expiry is lazy:
// a past silenced_until simply reads as active. The owner is always active.
func (m Member) Standing(now time.Time) Standing {
	if m.Role == RoleOwner {
		return StandingActive
	}
	if m.Banned {
		return StandingBanned
	}
	if m.SilencedUntil != nil && m.SilencedUntil.After(now) {
		return StandingSilenced
	}
	return StandingActive
}

// SilenceRemaining returns how long the member stays silenced, or zero.
func (m Member) SilenceRemaining(now time.Time) time.Duration {
	if m.SilencedUntil == nil || !m.SilencedUntil.After(now) {
		return 0
	}
	return m.SilencedUntil.Sub(now)
}

// ModerationAction is an append-only audit row for moderator actions.
type ModerationAction struct {
	ID            int       `db:"id" json:"id"`
	GroupID       int       `db:"group_id" json:"group_id"`
	ActorID       int       `db:"actor_id" json:"actor_id"`
	TargetID      int       `db:"target_id" json:"target_id"`
	Action        string    `db:"action" json:"action"`
	Reason        string    `db:"reason" json:"reason"`
	DurationHours int       `db:"duration_hours" json:"duration_hours,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
