package models

import "time"

// MessageKind is the content type of a group message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindAudio MessageKind = "audio"
	KindFile  MessageKind = "file"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAudio, KindFile:
		return true
	}
	return false
}

// Message represents a message posted in a group.
type Message struct {
	ID        int         `db:"id" json:"id"`
	GroupID   int         `db:"group_id" json:"group_id"`
	AuthorID  int         `db:"author_id" json:"author_id"`
	Content   string      `db:"content" json:"content"`
	Kind      MessageKind `db:"kind" json:"kind"`
	FileRef   *string     `db:"file_ref" json:"file_ref,omitempty"`
	ReplyTo   *int        `db:"reply_to" json:"reply_to,omitempty"`
	Pinned    bool        `db:"pinned" json:"pinned"`
	Reported  bool        `db:"reported" json:"reported"`
	Edited    bool        `db:"edited" json:"edited"`
	Deleted   bool        `db:"deleted" json:"-"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	EditedAt  *time.Time  `db:"edited_at" json:"edited_at,omitempty"`
	Metadata  JSONMap     `db:"metadata" json:"metadata,omitempty"`
}

// NewMessage carries the insertable fields of a message.
type NewMessage struct {
	GroupID  int
	AuthorID int
	Content  string
	Kind     MessageKind
	FileRef  *string
	ReplyTo  *int
	Metadata JSONMap
}

// Event types emitted on the notification bus and over websockets.
const (
	EventMessageCreated = "message_created"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventMemberUpdated  = "member_updated"
	EventPresence       = "presence"
	EventCrisisAlert    = "crisis_alert"
	EventEmergency      = "emergency"
	EventGroupUpdated   = "group_updated"
	EventSnapshot       = "snapshot"
)

// GroupEvent is published on the bus and forwarded to websocket clients.
// Subscribers treat it as a change hint and reconcile against the store.
type GroupEvent struct {
	Type      string           `json:"type"`
	GroupID   int              `json:"group_id"`
	MessageID int              `json:"message_id,omitempty"`
	UserID    int              `json:"user_id,omitempty"`
	Message   *Message         `json:"message,omitempty"`
	Messages  []Message        `json:"messages,omitempty"`
	Presence  []PresenceRecord `json:"presence,omitempty"`
	Alert     *CrisisAlert     `json:"alert,omitempty"`
	Resources []string         `json:"resources,omitempty"`
	At        time.Time        `json:"at"`
}
