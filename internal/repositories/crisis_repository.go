package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"support-chat/internal/models"
)

const alertColumns = `id, message_id, group_id, user_id, keywords, moderator_notified, contact_notified, signaled, created_at`

// CrisisRepository persists crisis alerts, one per message.
type CrisisRepository interface {
	CreateAlert(ctx context.Context, alert models.CrisisAlert) (models.CrisisAlert, bool, error)
	MarkContactNotified(ctx context.Context, alertID int) error
	MarkSignaled(ctx context.Context, alertID int) error
	ListAlerts(ctx context.Context, groupID int) ([]models.CrisisAlert, error)
}

// CrisisRepo is a sqlx implementation of CrisisRepository.
type CrisisRepo struct {
	db *sqlx.DB
}

// NewCrisisRepo constructs a CrisisRepo.
func NewCrisisRepo(db *sqlx.DB) *CrisisRepo {
	return &CrisisRepo{db: db}
}

// CreateAlert inserts the alert unless one exists for the message. The bool
// reports whether this call created it.
func (r *CrisisRepo) CreateAlert(ctx context.Context, alert models.CrisisAlert) (models.CrisisAlert, bool, error) {
	var created models.CrisisAlert
	err := r.db.GetContext(ctx, &created, `INSERT INTO crisis_alerts (message_id, group_id, user_id, keywords, moderator_notified) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (message_id) DO NOTHING RETURNING `+alertColumns,
		alert.MessageID, alert.GroupID, alert.UserID, alert.Keywords, alert.ModeratorNotified)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.CrisisAlert{}, false, err
	}

	var existing models.CrisisAlert
	if err := r.db.GetContext(ctx, &existing, `SELECT `+alertColumns+` FROM crisis_alerts WHERE message_id=$1`, alert.MessageID); err != nil {
		return models.CrisisAlert{}, false, err
	}
	return existing, false, nil
}

// MarkContactNotified records that the emergency collaborator accepted the alert.
func (r *CrisisRepo) MarkContactNotified(ctx context.Context, alertID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE crisis_alerts SET contact_notified = TRUE WHERE id=$1`, alertID)
	return err
}

// MarkSignaled records that the emergency signal and the moderator alert went out.
func (r *CrisisRepo) MarkSignaled(ctx context.Context, alertID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE crisis_alerts SET signaled = TRUE WHERE id=$1`, alertID)
	return err
}

// ListAlerts returns a group's alerts, newest first.
func (r *CrisisRepo) ListAlerts(ctx context.Context, groupID int) ([]models.CrisisAlert, error) {
	var alerts []models.CrisisAlert
	err := r.db.SelectContext(ctx, &alerts, `SELECT `+alertColumns+` FROM crisis_alerts WHERE group_id=$1 ORDER BY created_at DESC`, groupID)
	return alerts, err
}
