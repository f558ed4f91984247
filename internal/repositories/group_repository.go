package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"support-chat/internal/apperrors"
	"support-chat/internal/models"
)

const memberColumns = `group_id, user_id, alias, role, active, silenced_until, banned, joined_at`

// MemberMutation validates and mutates a locked member row. It returns the audit
// row to append; a zero Action skips the audit insert.
type MemberMutation func(member *models.Member) (models.ModerationAction, error)

// GroupRepository abstracts group and membership persistence.
type GroupRepository interface {
	CreateGroup(ctx context.Context, ownerID int, name, ownerAlias string, slowModeSeconds int, config models.JSONMap) (models.Group, error)
	ListGroupsForUser(ctx context.Context, userID int) ([]models.Group, error)
	GetGroup(ctx context.Context, groupID int) (models.Group, error)
	SetSlowMode(ctx context.Context, groupID int, seconds int) error
	GetMember(ctx context.Context, groupID int, userID int) (models.Member, error)
	ListMembers(ctx context.Context, groupID int) ([]models.Member, error)
	AddMember(ctx context.Context, groupID int, userID int, alias string) (models.Member, error)
	MutateMember(ctx context.Context, groupID int, userID int, mutate MemberMutation) (models.Member, error)
	ListModerationActions(ctx context.Context, groupID int, limit int) ([]models.ModerationAction, error)
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// CreateGroup creates a group and its owner membership atomically.
func (r *GroupRepo) CreateGroup(ctx context.Context, ownerID int, name, ownerAlias string, slowModeSeconds int, config models.JSONMap) (models.Group, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var group models.Group
	if err = tx.QueryRowxContext(ctx, `INSERT INTO groups (name, owner_id, slow_mode_seconds, chat_config) VALUES ($1, $2, $3, $4) RETURNING id, name, owner_id, slow_mode_seconds, chat_config, created_at`,
		name, ownerID, slowModeSeconds, config).
		Scan(&group.ID, &group.Name, &group.OwnerID, &group.SlowModeSeconds, &group.ChatConfig, &group.CreatedAt); err != nil {
		return models.Group{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, alias, role) VALUES ($1, $2, $3, $4)`,
		group.ID, ownerID, ownerAlias, models.RoleOwner); err != nil {
		return models.Group{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Group{}, err
	}
	return group, nil
}

// ListGroupsForUser returns groups where the user is an active member.
func (r *GroupRepo) ListGroupsForUser(ctx context.Context, userID int) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.SelectContext(ctx, &groups, `SELECT g.id, g.name, g.owner_id, g.slow_mode_seconds, g.chat_config, g.created_at FROM groups g INNER JOIN group_members gm ON gm.group_id = g.id WHERE gm.user_id=$1 AND gm.active = TRUE ORDER BY g.created_at DESC`, userID)
	return groups, err
}

// GetGroup fetches a single group.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group, `SELECT id, name, owner_id, slow_mode_seconds, chat_config, created_at FROM groups WHERE id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	return group, err
}

// SetSlowMode updates the group's slow-mode interval.
func (r *GroupRepo) SetSlowMode(ctx context.Context, groupID int, seconds int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE groups SET slow_mode_seconds=$1 WHERE id=$2`, seconds, groupID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// GetMember fetches a membership row regardless of its active flag.
func (r *GroupRepo) GetMember(ctx context.Context, groupID int, userID int) (models.Member, error) {
	var m models.Member
	err := r.db.GetContext(ctx, &m, `SELECT `+memberColumns+` FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Member{}, ErrMemberNotFound
	}
	return m, err
}

// ListMembers returns the active members of a group.
func (r *GroupRepo) ListMembers(ctx context.Context, groupID int) ([]models.Member, error) {
	var members []models.Member
	err := r.db.SelectContext(ctx, &members, `SELECT `+memberColumns+` FROM group_members WHERE group_id=$1 AND active = TRUE ORDER BY joined_at ASC`, groupID)
	return members, err
}

// AddMember joins a user to a group. A previously kicked member is reactivated;
// a banned member stays out.
func (r *GroupRepo) AddMember(ctx context.Context, groupID int, userID int, alias string) (models.Member, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Member{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var existing models.Member
	err = tx.GetContext(ctx, &existing, `SELECT `+memberColumns+` FROM group_members WHERE group_id=$1 AND user_id=$2 FOR UPDATE`, groupID, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var m models.Member
		err = tx.GetContext(ctx, &m, `INSERT INTO group_members (group_id, user_id, alias, role) VALUES ($1, $2, $3, $4) RETURNING `+memberColumns,
			groupID, userID, alias, models.RoleMember)
		if err != nil {
			if isUniqueViolation(err) {
				err = ErrDuplicateMembership
			}
			return models.Member{}, err
		}
		if err = tx.Commit(); err != nil {
			return models.Member{}, err
		}
		return m, nil
	case err != nil:
		return models.Member{}, err
	case existing.Banned:
		err = apperrors.ErrBanned
		return models.Member{}, err
	case existing.Active:
		err = ErrDuplicateMembership
		return models.Member{}, err
	}

	var m models.Member
	if err = tx.GetContext(ctx, &m, `UPDATE group_members SET active = TRUE, alias=$3, joined_at=NOW() WHERE group_id=$1 AND user_id=$2 RETURNING `+memberColumns,
		groupID, userID, alias); err != nil {
		return models.Member{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Member{}, err
	}
	return m, nil
}

// MutateMember locks the member row, applies mutate and writes the new state,
// the audit row and, when the membership ends, the presence flip in one transaction.
func (r *GroupRepo) MutateMember(ctx context.Context, groupID int, userID int, mutate MemberMutation) (models.Member, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Member{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var m models.Member
	err = tx.GetContext(ctx, &m, `SELECT `+memberColumns+` FROM group_members WHERE group_id=$1 AND user_id=$2 FOR UPDATE`, groupID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrMemberNotFound
		return models.Member{}, err
	}
	if err != nil {
		return models.Member{}, err
	}

	action, err := mutate(&m)
	if err != nil {
		return models.Member{}, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE group_members SET role=$3, active=$4, silenced_until=$5, banned=$6 WHERE group_id=$1 AND user_id=$2`,
		groupID, userID, m.Role, m.Active, m.SilencedUntil, m.Banned); err != nil {
		return models.Member{}, err
	}

	if !m.Active {
		if _, err = tx.ExecContext(ctx, `UPDATE presence SET online = FALSE WHERE group_id=$1 AND user_id=$2`, groupID, userID); err != nil {
			return models.Member{}, err
		}
	}

	if action.Action != "" {
		if action.CreatedAt.IsZero() {
			action.CreatedAt = time.Now()
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO moderation_actions (group_id, actor_id, target_id, action, reason, duration_hours, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			groupID, action.ActorID, userID, action.Action, action.Reason, action.DurationHours, action.CreatedAt); err != nil {
			return models.Member{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Member{}, err
	}
	return m, nil
}

// ListModerationActions returns the newest audit rows of a group.
func (r *GroupRepo) ListModerationActions(ctx context.Context, groupID int, limit int) ([]models.ModerationAction, error) {
	var actions []models.ModerationAction
	err := r.db.SelectContext(ctx, &actions, `SELECT id, group_id, actor_id, target_id, action, reason, duration_hours, created_at FROM moderation_actions WHERE group_id=$1 ORDER BY created_at DESC LIMIT $2`, groupID, limit)
	return actions, err
}
