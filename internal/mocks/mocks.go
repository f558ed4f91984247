package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"support-chat/internal/models"
	"support-chat/internal/repositories"
)

type GroupRepositoryMock struct {
	mock.Mock

	mu      sync.Mutex
	Actions []models.ModerationAction
}

func (m *GroupRepositoryMock) CreateGroup(ctx context.Context, ownerID int, name, ownerAlias string, slowModeSeconds int, config models.JSONMap) (models.Group, error) {
	args := m.Called(ctx, ownerID, name, ownerAlias, slowModeSeconds, config)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *GroupRepositoryMock) ListGroupsForUser(ctx context.Context, userID int) ([]models.Group, error) {
	args := m.Called(ctx, userID)
	var groups []models.Group
	if val := args.Get(0); val != nil {
		groups = val.([]models.Group)
	}
	return groups, args.Error(1)
}

func (m *GroupRepositoryMock) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	args := m.Called(ctx, groupID)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *GroupRepositoryMock) SetSlowMode(ctx context.Context, groupID int, seconds int) error {
	args := m.Called(ctx, groupID, seconds)
	return args.Error(0)
}

func (m *GroupRepositoryMock) GetMember(ctx context.Context, groupID int, userID int) (models.Member, error) {
	args := m.Called(ctx, groupID, userID)
	var member models.Member
	if val := args.Get(0); val != nil {
		member = val.(models.Member)
	}
	return member, args.Error(1)
}

func (m *GroupRepositoryMock) ListMembers(ctx context.Context, groupID int) ([]models.Member, error) {
	args := m.Called(ctx, groupID)
	var members []models.Member
	if val := args.Get(0); val != nil {
		members = val.([]models.Member)
	}
	return members, args.Error(1)
}

func (m *GroupRepositoryMock) AddMember(ctx context.Context, groupID int, userID int, alias string) (models.Member, error) {
	args := m.Called(ctx, groupID, userID, alias)
	var member models.Member
	if val := args.Get(0); val != nil {
		member = val.(models.Member)
	}
	return member, args.Error(1)
}

// MutateMember applies mutate to the stubbed row the way the store does inside
// its transaction, recording the audit rows it would append.
func (m *GroupRepositoryMock) MutateMember(ctx context.Context, groupID int, userID int, mutate repositories.MemberMutation) (models.Member, error) {
	args := m.Called(ctx, groupID, userID)
	if err := args.Error(1); err != nil {
		return models.Member{}, err
	}
	member := args.Get(0).(models.Member)
	action, err := mutate(&member)
	if err != nil {
		return models.Member{}, err
	}
	if action.Action != "" {
		m.mu.Lock()
		m.Actions = append(m.Actions, action)
		m.mu.Unlock()
	}
	return member, nil
}

func (m *GroupRepositoryMock) ListModerationActions(ctx context.Context, groupID int, limit int) ([]models.ModerationAction, error) {
	args := m.Called(ctx, groupID, limit)
	var actions []models.ModerationAction
	if val := args.Get(0); val != nil {
		actions = val.([]models.ModerationAction)
	}
	return actions, args.Error(1)
}

type GroupMessageRepositoryMock struct {
	mock.Mock
}

func (m *GroupMessageRepositoryMock) CreateGroupMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	switch val := args.Get(0).(type) {
	case models.Message:
		out = val
	case func(context.Context, models.NewMessage) models.Message:
		out = val(ctx, msg)
	}
	return out, args.Error(1)
}

func (m *GroupMessageRepositoryMock) ListRecentMessages(ctx context.Context, groupID int, limit int) ([]models.Message, error) {
	args := m.Called(ctx, groupID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *GroupMessageRepositoryMock) GetGroupMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *GroupMessageRepositoryMock) UpdateContent(ctx context.Context, messageID int, content string, editedAt time.Time) (models.Message, error) {
	args := m.Called(ctx, messageID, content, editedAt)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *GroupMessageRepositoryMock) SetPinned(ctx context.Context, messageID int, pinned bool) (models.Message, error) {
	args := m.Called(ctx, messageID, pinned)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *GroupMessageRepositoryMock) MarkDeleted(ctx context.Context, messageID int) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

type PresenceRepositoryMock struct {
	mock.Mock
}

func (m *PresenceRepositoryMock) UpsertPresence(ctx context.Context, groupID int, userID int, online bool, at time.Time) (models.PresenceRecord, error) {
	args := m.Called(ctx, groupID, userID, online, at)
	var rec models.PresenceRecord
	if val := args.Get(0); val != nil {
		rec = val.(models.PresenceRecord)
	}
	return rec, args.Error(1)
}

func (m *PresenceRepositoryMock) SetOffline(ctx context.Context, groupID int, userID int) error {
	args := m.Called(ctx, groupID, userID)
	return args.Error(0)
}

func (m *PresenceRepositoryMock) ListPresence(ctx context.Context, groupID int) ([]models.PresenceRecord, error) {
	args := m.Called(ctx, groupID)
	var recs []models.PresenceRecord
	if val := args.Get(0); val != nil {
		recs = val.([]models.PresenceRecord)
	}
	return recs, args.Error(1)
}

type ReportRepositoryMock struct {
	mock.Mock
}

func (m *ReportRepositoryMock) CreateReport(ctx context.Context, report models.Report) (models.Report, error) {
	args := m.Called(ctx, report)
	var out models.Report
	if val := args.Get(0); val != nil {
		out = val.(models.Report)
	}
	return out, args.Error(1)
}

func (m *ReportRepositoryMock) ListUnresolved(ctx context.Context, groupID int) ([]models.Report, error) {
	args := m.Called(ctx, groupID)
	var reports []models.Report
	if val := args.Get(0); val != nil {
		reports = val.([]models.Report)
	}
	return reports, args.Error(1)
}

func (m *ReportRepositoryMock) ResolveAll(ctx context.Context, messageID int) (int64, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ReportRepositoryMock) DeleteAndResolve(ctx context.Context, messageID int) (int64, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(int64), args.Error(1)
}

type CrisisRepositoryMock struct {
	mock.Mock
}

func (m *CrisisRepositoryMock) CreateAlert(ctx context.Context, alert models.CrisisAlert) (models.CrisisAlert, bool, error) {
	args := m.Called(ctx, alert)
	var out models.CrisisAlert
	if val := args.Get(0); val != nil {
		out = val.(models.CrisisAlert)
	}
	return out, args.Bool(1), args.Error(2)
}

func (m *CrisisRepositoryMock) MarkContactNotified(ctx context.Context, alertID int) error {
	args := m.Called(ctx, alertID)
	return args.Error(0)
}

func (m *CrisisRepositoryMock) MarkSignaled(ctx context.Context, alertID int) error {
	args := m.Called(ctx, alertID)
	return args.Error(0)
}

func (m *CrisisRepositoryMock) ListAlerts(ctx context.Context, groupID int) ([]models.CrisisAlert, error) {
	args := m.Called(ctx, groupID)
	var alerts []models.CrisisAlert
	if val := args.Get(0); val != nil {
		alerts = val.([]models.CrisisAlert)
	}
	return alerts, args.Error(1)
}

var _ repositories.GroupRepository = (*GroupRepositoryMock)(nil)
var _ repositories.GroupMessageRepository = (*GroupMessageRepositoryMock)(nil)
var _ repositories.PresenceRepository = (*PresenceRepositoryMock)(nil)
var _ repositories.ReportRepository = (*ReportRepositoryMock)(nil)
var _ repositories.CrisisRepository = (*CrisisRepositoryMock)(nil)
