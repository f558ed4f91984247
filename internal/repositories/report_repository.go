package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"support-chat/internal/models"
)

// ReportRepository persists message reports and their resolution.
type ReportRepository interface {
	CreateReport(ctx context.Context, report models.Report) (models.Report, error)
	ListUnresolved(ctx context.Context, groupID int) ([]models.Report, error)
	ResolveAll(ctx context.Context, messageID int) (int64, error)
	DeleteAndResolve(ctx context.Context, messageID int) (int64, error)
}

// ReportRepo is a sqlx implementation of ReportRepository.
type ReportRepo struct {
	db *sqlx.DB
}

// NewReportRepo constructs a ReportRepo.
func NewReportRepo(db *sqlx.DB) *ReportRepo {
	return &ReportRepo{db: db}
}

// CreateReport stores a report and flags the message as reported.
func (r *ReportRepo) CreateReport(ctx context.Context, report models.Report) (models.Report, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Report{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var created models.Report
	err = tx.GetContext(ctx, &created, `INSERT INTO reports (message_id, group_id, reporter_id, reason, description) VALUES ($1, $2, $3, $4, $5) RETURNING id, message_id, group_id, reporter_id, reason, description, resolved, created_at`,
		report.MessageID, report.GroupID, report.ReporterID, report.Reason, report.Description)
	if err != nil {
		if isUniqueViolation(err) {
			err = ErrAlreadyReported
		}
		return models.Report{}, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE group_messages SET reported = TRUE WHERE id=$1 AND deleted = FALSE`, report.MessageID)
	if err != nil {
		return models.Report{}, err
	}
	if err = requireRow(res); err != nil {
		return models.Report{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Report{}, err
	}
	return created, nil
}

// ListUnresolved returns unresolved reports of a group's live messages, newest first.
func (r *ReportRepo) ListUnresolved(ctx context.Context, groupID int) ([]models.Report, error) {
	var reports []models.Report
	err := r.db.SelectContext(ctx, &reports, `SELECT r.id, r.message_id, r.group_id, r.reporter_id, r.reason, r.description, r.resolved, r.created_at FROM reports r INNER JOIN group_messages m ON m.id = r.message_id WHERE r.group_id=$1 AND r.resolved = FALSE AND m.deleted = FALSE ORDER BY r.created_at DESC, r.id DESC`, groupID)
	return reports, err
}

// ResolveAll marks every report of a message resolved and clears its reported flag.
func (r *ReportRepo) ResolveAll(ctx context.Context, messageID int) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE reports SET resolved = TRUE WHERE message_id=$1 AND resolved = FALSE`, messageID)
	if err != nil {
		return 0, err
	}
	resolved, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE group_messages SET reported = FALSE WHERE id=$1`, messageID); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return resolved, nil
}

// DeleteAndResolve deletes the message and resolves all its reports as one unit.
func (r *ReportRepo) DeleteAndResolve(ctx context.Context, messageID int) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE group_messages SET deleted = TRUE WHERE id=$1 AND deleted = FALSE`, messageID)
	if err != nil {
		return 0, err
	}
	if err = requireRow(res); err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx, `UPDATE reports SET resolved = TRUE WHERE message_id=$1 AND resolved = FALSE`, messageID)
	if err != nil {
		return 0, err
	}
	resolved, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return resolved, nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffecter) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
