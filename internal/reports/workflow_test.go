package reports

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"support-chat/internal/apperrors"
	"support-chat/internal/bus"
	"support-chat/internal/mocks"
	"support-chat/internal/models"
	"support-chat/internal/moderation"
)

type fixture struct {
	reports  *mocks.ReportRepositoryMock
	messages *mocks.GroupMessageRepositoryMock
	groups   *mocks.GroupRepositoryMock
	workflow *Workflow
}

func newFixture(b bus.Bus) fixture {
	f := fixture{
		reports:  new(mocks.ReportRepositoryMock),
		messages: new(mocks.GroupMessageRepositoryMock),
		groups:   new(mocks.GroupRepositoryMock),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := moderation.NewEngine(f.groups, nil, nil, log)
	f.workflow = NewWorkflow(f.reports, f.messages, f.groups, engine, b, nil, log)
	return f
}

func activeMember(userID int, role models.Role) models.Member {
	return models.Member{GroupID: 4, UserID: userID, Role: role, Active: true}
}

func TestReportByTwoMembersAggregates(t *testing.T) {
	f := newFixture(nil)
	msg := models.Message{ID: 50, GroupID: 4, AuthorID: 2, Content: "buy now"}
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	f.messages.On("GetGroupMessage", mock.Anything, 50).Return(msg, nil)
	f.groups.On("GetMember", mock.Anything, 4, 7).Return(activeMember(7, models.RoleMember), nil)
	f.groups.On("GetMember", mock.Anything, 4, 8).Return(activeMember(8, models.RoleMember), nil)
	f.reports.On("CreateReport", mock.Anything, mock.MatchedBy(func(r models.Report) bool { return r.ReporterID == 7 })).
		Return(models.Report{ID: 1, MessageID: 50, GroupID: 4, ReporterID: 7, Reason: models.ReasonSpam, CreatedAt: base}, nil).Once()
	f.reports.On("CreateReport", mock.Anything, mock.MatchedBy(func(r models.Report) bool { return r.ReporterID == 8 })).
		Return(models.Report{ID: 2, MessageID: 50, GroupID: 4, ReporterID: 8, Reason: models.ReasonHarassment, CreatedAt: base.Add(time.Minute)}, nil).Once()

	first, err := f.workflow.Report(context.Background(), 50, 7, models.ReasonSpam, "")
	require.NoError(t, err)
	second, err := f.workflow.Report(context.Background(), 50, 8, models.ReasonHarassment, " rude ")
	require.NoError(t, err)

	buckets := Aggregate([]models.Report{first, second})
	require.Len(t, buckets, 1)
	assert.Equal(t, 50, buckets[0].MessageID)
	assert.Equal(t, 2, buckets[0].Count)
	assert.Equal(t, models.ReasonHarassment, buckets[0].HeadlineReason)
	assert.ElementsMatch(t, []int{7, 8}, buckets[0].ReporterIDs)
}

func TestReportValidation(t *testing.T) {
	f := newFixture(nil)

	_, err := f.workflow.Report(context.Background(), 50, 7, models.ReportReason("boring"), "")
	require.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	f.messages.On("GetGroupMessage", mock.Anything, 51).Return(models.Message{}, apperrors.ErrMessageNotFound).Once()
	_, err = f.workflow.Report(context.Background(), 51, 7, models.ReasonSpam, "")
	require.ErrorIs(t, err, apperrors.ErrMessageNotFound)

	f.messages.On("GetGroupMessage", mock.Anything, 50).Return(models.Message{ID: 50, GroupID: 4}, nil)
	f.groups.On("GetMember", mock.Anything, 4, 9).Return(models.Member{}, apperrors.ErrMemberNotFound).Once()
	_, err = f.workflow.Report(context.Background(), 50, 9, models.ReasonSpam, "")
	require.ErrorIs(t, err, apperrors.ErrNotMember)

	f.groups.On("GetMember", mock.Anything, 4, 7).Return(activeMember(7, models.RoleMember), nil).Once()
	f.reports.On("CreateReport", mock.Anything, mock.Anything).Return(nil, apperrors.ErrAlreadyReported).Once()
	_, err = f.workflow.Report(context.Background(), 50, 7, models.ReasonSpam, "")
	require.ErrorIs(t, err, apperrors.ErrAlreadyReported)
}

func TestResolveKeepsMessage(t *testing.T) {
	b := bus.NewLocal(2)
	sub := b.Subscribe(4)
	defer sub.Close()
	f := newFixture(b)

	f.messages.On("GetGroupMessage", mock.Anything, 50).Return(models.Message{ID: 50, GroupID: 4}, nil)
	f.groups.On("GetMember", mock.Anything, 4, 2).Return(activeMember(2, models.RoleModerator), nil)
	f.reports.On("ResolveAll", mock.Anything, 50).Return(int64(2), nil).Once()

	resolved, err := f.workflow.Resolve(context.Background(), 50, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), resolved)
	assert.Equal(t, models.EventMessageUpdated, (<-sub.C).Type)
	f.reports.AssertNotCalled(t, "DeleteAndResolve", mock.Anything, mock.Anything)
}

func TestResolveRequiresModerator(t *testing.T) {
	f := newFixture(nil)
	f.messages.On("GetGroupMessage", mock.Anything, 50).Return(models.Message{ID: 50, GroupID: 4}, nil)
	f.groups.On("GetMember", mock.Anything, 4, 7).Return(activeMember(7, models.RoleMember), nil)

	_, err := f.workflow.Resolve(context.Background(), 50, 7)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = f.workflow.DeleteAndResolve(context.Background(), 50, 7)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	f.reports.AssertNotCalled(t, "ResolveAll", mock.Anything, mock.Anything)
}

func TestDeleteAndResolveAllOrNothing(t *testing.T) {
	b := bus.NewLocal(2)
	sub := b.Subscribe(4)
	defer sub.Close()
	f := newFixture(b)

	f.messages.On("GetGroupMessage", mock.Anything, 50).Return(models.Message{ID: 50, GroupID: 4}, nil)
	f.groups.On("GetMember", mock.Anything, 4, 1).Return(activeMember(1, models.RoleOwner), nil)
	f.reports.On("DeleteAndResolve", mock.Anything, 50).Return(int64(0), errors.New("tx rolled back")).Once()

	_, err := f.workflow.DeleteAndResolve(context.Background(), 50, 1)
	var perr *apperrors.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Len(t, sub.C, 0)

	f.reports.On("DeleteAndResolve", mock.Anything, 50).Return(int64(2), nil).Once()
	resolved, err := f.workflow.DeleteAndResolve(context.Background(), 50, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), resolved)
	assert.Equal(t, models.EventMessageDeleted, (<-sub.C).Type)
}

func TestQueueOrdersByLatestReport(t *testing.T) {
	f := newFixture(nil)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	f.groups.On("GetMember", mock.Anything, 4, 2).Return(activeMember(2, models.RoleModerator), nil)
	f.reports.On("ListUnresolved", mock.Anything, 4).Return([]models.Report{
		{ID: 3, MessageID: 61, GroupID: 4, ReporterID: 9, Reason: models.ReasonSelfHarm, CreatedAt: base.Add(5 * time.Minute)},
		{ID: 2, MessageID: 60, GroupID: 4, ReporterID: 8, Reason: models.ReasonOther, CreatedAt: base.Add(time.Minute)},
		{ID: 1, MessageID: 60, GroupID: 4, ReporterID: 7, Reason: models.ReasonSpam, CreatedAt: base},
	}, nil)

	queue, err := f.workflow.Queue(context.Background(), 4, 2)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, 61, queue[0].MessageID)
	assert.Equal(t, 1, queue[0].Count)
	assert.Equal(t, 60, queue[1].MessageID)
	assert.Equal(t, 2, queue[1].Count)
	assert.Equal(t, models.ReasonOther, queue[1].HeadlineReason)
}
