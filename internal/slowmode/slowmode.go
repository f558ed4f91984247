// Package slowmode enforces the minimum interval between consecutive messages
// of non-privileged members. It holds no state: the caller's session passes in
// the time of its last accepted message.
package slowmode

import (
	"time"

	"support-chat/internal/models"
)

// Decision is the outcome of a slow-mode check.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

// Check decides whether a post at now is allowed. A zero lastMessageAt means
// the session has not posted yet. Elapsed time exactly equal to the interval
// is accepted.
func Check(interval time.Duration, role models.Role, lastMessageAt, now time.Time) Decision {
	if interval <= 0 || role.Privileged() || lastMessageAt.IsZero() {
		return Decision{Allowed: true}
	}
	elapsed := now.Sub(lastMessageAt)
	if elapsed >= interval {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Remaining: interval - elapsed}
}
