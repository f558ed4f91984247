package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"support-chat/internal/models"
)

const messageColumns = `id, group_id, author_id, content, kind, file_ref, reply_to, pinned, reported, edited, deleted, created_at, edited_at, metadata`

// GroupMessageRepository defines interactions for group messages.
type GroupMessageRepository interface {
	CreateGroupMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	ListRecentMessages(ctx context.Context, groupID int, limit int) ([]models.Message, error)
	GetGroupMessage(ctx context.Context, messageID int) (models.Message, error)
	UpdateContent(ctx context.Context, messageID int, content string, editedAt time.Time) (models.Message, error)
	SetPinned(ctx context.Context, messageID int, pinned bool) (models.Message, error)
	MarkDeleted(ctx context.Context, messageID int) error
}

// GroupMessageRepo is a sqlx-backed implementation.
type GroupMessageRepo struct {
	db *sqlx.DB
}

// NewGroupMessageRepo constructs a GroupMessageRepo.
func NewGroupMessageRepo(db *sqlx.DB) *GroupMessageRepo {
	return &GroupMessageRepo{db: db}
}

// CreateGroupMessage persists a group message. created_at is assigned by the store.
func (r *GroupMessageRepo) CreateGroupMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO group_messages (group_id, author_id, content, kind, file_ref, reply_to, metadata) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+messageColumns,
		in.GroupID, in.AuthorID, in.Content, in.Kind, in.FileRef, in.ReplyTo, in.Metadata)
	return msg, err
}

// ListRecentMessages returns the newest limit messages ordered by creation, excluding deleted ones.
func (r *GroupMessageRepo) ListRecentMessages(ctx context.Context, groupID int, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT * FROM (SELECT `+messageColumns+` FROM group_messages WHERE group_id=$1 AND deleted = FALSE ORDER BY created_at DESC, id DESC LIMIT $2) recent ORDER BY created_at ASC, id ASC`, groupID, limit)
	return msgs, err
}

// GetGroupMessage fetches a single message. Deleted messages read as not found.
func (r *GroupMessageRepo) GetGroupMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM group_messages WHERE id=$1 AND deleted = FALSE`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateContent rewrites the content of a message and marks it edited.
func (r *GroupMessageRepo) UpdateContent(ctx context.Context, messageID int, content string, editedAt time.Time) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE group_messages SET content=$2, edited = TRUE, edited_at=$3 WHERE id=$1 AND deleted = FALSE RETURNING `+messageColumns, messageID, content, editedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// SetPinned pins or unpins a message.
func (r *GroupMessageRepo) SetPinned(ctx context.Context, messageID int, pinned bool) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE group_messages SET pinned=$2 WHERE id=$1 AND deleted = FALSE RETURNING `+messageColumns, messageID, pinned)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkDeleted sets the delete flag on a message.
func (r *GroupMessageRepo) MarkDeleted(ctx context.Context, messageID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE group_messages SET deleted = TRUE WHERE id=$1 AND deleted = FALSE`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
