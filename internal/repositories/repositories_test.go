package repositories

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat/internal/apperrors"
	"support-chat/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

var memberCols = []string{"group_id", "user_id", "alias", "role", "active", "silenced_until", "banned", "joined_at"}

func TestGetMemberNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGroupRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM group_members WHERE group_id=$1 AND user_id=$2`)).
		WithArgs(9, 4).
		WillReturnRows(sqlmock.NewRows(memberCols))

	_, err := repo.GetMember(context.Background(), 9, 4)
	require.ErrorIs(t, err, ErrMemberNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutateMemberWritesAuditRowInTransaction(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGroupRepo(db)
	joined := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs(9, 4).
		WillReturnRows(sqlmock.NewRows(memberCols).AddRow(9, 4, "sam", "member", true, nil, false, joined))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE group_members SET role=$3`)).
		WithArgs(9, 4, models.RoleMember, false, nil, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE presence SET online = FALSE`)).
		WithArgs(9, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO moderation_actions`)).
		WithArgs(9, 2, 4, "ban", "spam", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	member, err := repo.MutateMember(context.Background(), 9, 4, func(m *models.Member) (models.ModerationAction, error) {
		m.Banned = true
		m.Active = false
		return models.ModerationAction{ActorID: 2, Action: "ban", Reason: "spam"}, nil
	})
	require.NoError(t, err)
	assert.True(t, member.Banned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutateMemberRollsBackOnRejection(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGroupRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs(9, 1).
		WillReturnRows(sqlmock.NewRows(memberCols).AddRow(9, 1, "owner", "owner", true, nil, false, time.Now()))
	mock.ExpectRollback()

	_, err := repo.MutateMember(context.Background(), 9, 1, func(*models.Member) (models.ModerationAction, error) {
		return models.ModerationAction{}, apperrors.ErrCannotModerateOwner
	})
	require.ErrorIs(t, err, apperrors.ErrCannotModerateOwner)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMemberKeepsBannedOut(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGroupRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs(9, 4).
		WillReturnRows(sqlmock.NewRows(memberCols).AddRow(9, 4, "sam", "member", false, nil, true, time.Now()))
	mock.ExpectRollback()

	_, err := repo.AddMember(context.Background(), 9, 4, "sam")
	require.ErrorIs(t, err, apperrors.ErrBanned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMemberDuplicateInsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGroupRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs(9, 4).
		WillReturnRows(sqlmock.NewRows(memberCols))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO group_members`)).
		WithArgs(9, 4, "sam", models.RoleMember).
		WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectRollback()

	_, err := repo.AddMember(context.Background(), 9, 4, "sam")
	require.ErrorIs(t, err, ErrDuplicateMembership)
	require.NoError(t, mock.ExpectationsWereMet())
}

var alertCols = []string{"id", "message_id", "group_id", "user_id", "keywords", "moderator_notified", "contact_notified", "signaled", "created_at"}

func TestCreateAlertReturnsExistingOnConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCrisisRepo(db)
	alert := models.CrisisAlert{MessageID: 12, GroupID: 9, UserID: 4, Keywords: pq.StringArray{"end it all"}, ModeratorNotified: true}

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (message_id) DO NOTHING`)).
		WithArgs(12, 9, 4, sqlmock.AnyArg(), true).
		WillReturnRows(sqlmock.NewRows(alertCols))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM crisis_alerts WHERE message_id=$1`)).
		WithArgs(12).
		WillReturnRows(sqlmock.NewRows(alertCols).AddRow(3, 12, 9, 4, "{\"end it all\"}", true, true, true, time.Now()))

	existing, created, err := repo.CreateAlert(context.Background(), alert)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 3, existing.ID)
	assert.Equal(t, []string{"end it all"}, []string(existing.Keywords))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlertNew(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCrisisRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO crisis_alerts`)).
		WillReturnRows(sqlmock.NewRows(alertCols).AddRow(5, 12, 9, 4, "{suicide}", true, false, false, time.Now()))

	alert, created, err := repo.CreateAlert(context.Background(), models.CrisisAlert{MessageID: 12, GroupID: 9, UserID: 4, Keywords: pq.StringArray{"suicide"}})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 5, alert.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReportDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReportRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reports`)).
		WithArgs(12, 9, 4, models.ReasonSpam, "").
		WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectRollback()

	_, err := repo.CreateReport(context.Background(), models.Report{MessageID: 12, GroupID: 9, ReporterID: 4, Reason: models.ReasonSpam})
	require.ErrorIs(t, err, ErrAlreadyReported)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAndResolveCommitsBoth(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReportRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE group_messages SET deleted = TRUE`)).
		WithArgs(12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE reports SET resolved = TRUE`)).
		WithArgs(12).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	resolved, err := repo.DeleteAndResolve(context.Background(), 12)
	require.NoError(t, err)
	assert.EqualValues(t, 3, resolved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAndResolveRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReportRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE group_messages SET deleted = TRUE`)).
		WithArgs(12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE reports SET resolved = TRUE`)).
		WithArgs(12).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.DeleteAndResolve(context.Background(), 12)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAndResolveMissingMessage(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReportRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE group_messages SET deleted = TRUE`)).
		WithArgs(12).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.DeleteAndResolve(context.Background(), 12)
	require.ErrorIs(t, err, ErrMessageNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetGroupMessageDeletedReadsAsNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewGroupMessageRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM group_messages WHERE id=$1 AND deleted = FALSE`)).
		WithArgs(12).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetGroupMessage(context.Background(), 12)
	require.ErrorIs(t, err, ErrMessageNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPresence(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPresenceRepo(db)
	at := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (group_id, user_id) DO UPDATE`)).
		WithArgs(9, 4, true, at).
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "user_id", "online", "last_active"}).AddRow(9, 4, true, at))

	rec, err := repo.UpsertPresence(context.Background(), 9, 4, true, at)
	require.NoError(t, err)
	assert.Equal(t, at, rec.LastActive)
	require.NoError(t, mock.ExpectationsWereMet())
}
