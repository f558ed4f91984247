package models

import (
	"time"

	"github.com/lib/pq"
)

// PresenceRecord is the liveness row of a member in a group.
type PresenceRecord struct {
	GroupID    int       `db:"group_id" json:"group_id"`
	UserID     int       `db:"user_id" json:"user_id"`
	Online     bool      `db:"online" json:"online"`
	LastActive time.Time `db:"last_active" json:"last_active"`
}

// Fresh reports whether the record counts as online at now.
func (p PresenceRecord) Fresh(now time.Time, window time.Duration) bool {
	return p.Online && now.Sub(p.LastActive) <= window
}

// ReportReason is the reason code of a report.
type ReportReason string

const (
	ReasonSpam          ReportReason = "spam"
	ReasonHarassment    ReportReason = "harassment"
	ReasonSelfHarm      ReportReason = "self_harm"
	ReasonInappropriate ReportReason = "inappropriate"
	ReasonOther         ReportReason = "other"
)

// Valid reports whether r is a known reason code.
func (r ReportReason) Valid() bool {
	switch r {
	case ReasonSpam, ReasonHarassment, ReasonSelfHarm, ReasonInappropriate, ReasonOther:
		return true
	}
	return false
}

// Report flags a message for moderator review.
type Report struct {
	ID          int          `db:"id" json:"id"`
	MessageID   int          `db:"message_id" json:"message_id"`
	GroupID     int          `db:"group_id" json:"group_id"`
	ReporterID  int          `db:"reporter_id" json:"reporter_id"`
	Reason      ReportReason `db:"reason" json:"reason"`
	Description string       `db:"description" json:"description,omitempty"`
	Resolved    bool         `db:"resolved" json:"resolved"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// ReportBucket aggregates the unresolved reports of one message.
type ReportBucket struct {
	MessageID      int          `json:"message_id"`
	GroupID        int          `json:"group_id"`
	Count          int          `json:"count"`
	HeadlineReason ReportReason `json:"headline_reason"`
	LatestAt       time.Time    `json:"latest_at"`
	ReporterIDs    []int        `json:"reporter_ids"`
}

// CrisisAlert is written once per message whose content matched the classifier.
type CrisisAlert struct {
	ID                int            `db:"id" json:"id"`
	MessageID         int            `db:"message_id" json:"message_id"`
	GroupID           int            `db:"group_id" json:"group_id"`
	UserID            int            `db:"user_id" json:"user_id"`
	Keywords          pq.StringArray `db:"keywords" json:"keywords"`
	ModeratorNotified bool           `db:"moderator_notified" json:"moderator_notified"`
	ContactNotified   bool           `db:"contact_notified" json:"contact_notified"`
	// Signaled is set once the sender and the group's moderators were reached.
	Signaled          bool           `db:"signaled" json:"-"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}
