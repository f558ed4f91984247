package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"support-chat/internal/models"
)

// PresenceRepository persists liveness records.
type PresenceRepository interface {
	UpsertPresence(ctx context.Context, groupID int, userID int, online bool, at time.Time) (models.PresenceRecord, error)
	SetOffline(ctx context.Context, groupID int, userID int) error
	ListPresence(ctx context.Context, groupID int) ([]models.PresenceRecord, error)
}

// PresenceRepo is a sqlx implementation of PresenceRepository.
type PresenceRepo struct {
	db *sqlx.DB
}

// NewPresenceRepo constructs a PresenceRepo.
func NewPresenceRepo(db *sqlx.DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

// UpsertPresence creates or refreshes the (group, user) record.
func (r *PresenceRepo) UpsertPresence(ctx context.Context, groupID int, userID int, online bool, at time.Time) (models.PresenceRecord, error) {
	var rec models.PresenceRecord
	err := r.db.GetContext(ctx, &rec, `INSERT INTO presence (group_id, user_id, online, last_active) VALUES ($1, $2, $3, $4)
        ON CONFLICT (group_id, user_id) DO UPDATE SET online = EXCLUDED.online, last_active = EXCLUDED.last_active
        RETURNING group_id, user_id, online, last_active`, groupID, userID, online, at)
	return rec, err
}

// SetOffline flips the online flag; a missing record is not an error.
func (r *PresenceRepo) SetOffline(ctx context.Context, groupID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE presence SET online = FALSE WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	return err
}

// ListPresence returns records of active members only.
func (r *PresenceRepo) ListPresence(ctx context.Context, groupID int) ([]models.PresenceRecord, error) {
	var recs []models.PresenceRecord
	err := r.db.SelectContext(ctx, &recs, `SELECT p.group_id, p.user_id, p.online, p.last_active FROM presence p INNER JOIN group_members gm ON gm.group_id = p.group_id AND gm.user_id = p.user_id WHERE p.group_id=$1 AND gm.active = TRUE ORDER BY p.last_active DESC`, groupID)
	return recs, err
}
