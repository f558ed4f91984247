package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
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

const gid = 5

type dispatchRecorder struct {
	mu  sync.Mutex
	ids []int
}

func (d *dispatchRecorder) Dispatch(msg models.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, msg.ID)
}

func (d *dispatchRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	groups   *mocks.GroupRepositoryMock
	messages *mocks.GroupMessageRepositoryMock
	detector *dispatchRecorder
	bus      *bus.Local
	clock    *clock
	manager  *Manager
}

func newFixture() *fixture {
	f := &fixture{
		groups:   new(mocks.GroupRepositoryMock),
		messages: new(mocks.GroupMessageRepositoryMock),
		detector: &dispatchRecorder{},
		bus:      bus.NewLocal(16),
		clock:    &clock{t: time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := moderation.NewEngine(f.groups, nil, nil, log)
	f.manager = NewManager(f.groups, f.messages, f.detector, engine, f.bus, log).WithClock(f.clock.now)
	return f
}

func (f *fixture) member(userID int, role models.Role) models.Member {
	return models.Member{GroupID: gid, UserID: userID, Alias: "alias", Role: role, Active: true}
}

func (f *fixture) expectGroup(slowModeSeconds int) {
	f.groups.On("GetGroup", mock.Anything, gid).Return(models.Group{ID: gid, SlowModeSeconds: slowModeSeconds}, nil)
}

func (f *fixture) expectInsert() {
	next := 100
	var mu sync.Mutex
	f.messages.On("CreateGroupMessage", mock.Anything, mock.Anything).Return(func(_ context.Context, in models.NewMessage) models.Message {
		mu.Lock()
		defer mu.Unlock()
		next++
		return models.Message{ID: next, GroupID: in.GroupID, AuthorID: in.AuthorID, Content: in.Content, Kind: in.Kind, Metadata: in.Metadata}
	}, nil)
}

func text(content string) PostInput {
	return PostInput{Content: content, Kind: models.KindText}
}

func TestPostMessageSlowMode(t *testing.T) {
	f := newFixture()
	f.groups.On("GetMember", mock.Anything, gid, 7).Return(f.member(7, models.RoleMember), nil)
	f.expectGroup(10)
	f.expectInsert()
	ctx := context.Background()

	s := f.manager.Open(gid, 7)
	defer f.manager.Close(s)

	_, err := f.manager.PostInSession(ctx, s, text("hello"))
	require.NoError(t, err)

	f.clock.advance(4 * time.Second)
	_, err = f.manager.PostInSession(ctx, s, text("again"))
	var slow *apperrors.SlowModeError
	require.ErrorAs(t, err, &slow)
	assert.Equal(t, 6*time.Second, slow.Remaining)

	f.clock.advance(6 * time.Second)
	_, err = f.manager.PostInSession(ctx, s, text("at the boundary"))
	require.NoError(t, err)

	f.messages.AssertNumberOfCalls(t, "CreateGroupMessage", 2)
	assert.Equal(t, 2, f.detector.count())
}

func TestSlowModeSurvivesReconnect(t *testing.T) {
	f := newFixture()
	f.groups.On("GetMember", mock.Anything, gid, 7).Return(f.member(7, models.RoleMember), nil)
	f.expectGroup(10)
	f.expectInsert()

	_, err := f.manager.PostMessage(context.Background(), gid, 7, text("hello"))
	require.NoError(t, err)

	f.clock.advance(time.Second)
	_, err = f.manager.PostMessage(context.Background(), gid, 7, text("hello again"))
	var slow *apperrors.SlowModeError
	require.ErrorAs(t, err, &slow)
}

func TestSlowModeSkipsModerators(t *testing.T) {
	f := newFixture()
	f.groups.On("GetMember", mock.Anything, gid, 2).Return(f.member(2, models.RoleModerator), nil)
	f.expectGroup(60)
	f.expectInsert()

	for i := 0; i < 3; i++ {
		_, err := f.manager.PostMessage(context.Background(), gid, 2, text("announcement"))
		require.NoError(t, err)
	}
}

func TestPostMessageSilencedThenExpires(t *testing.T) {
	f := newFixture()
	silenced := f.member(7, models.RoleMember)
	until := f.clock.now().Add(time.Hour)
	silenced.SilencedUntil = &until
	f.groups.On("GetMember", mock.Anything, gid, 7).Return(silenced, nil)
	f.expectGroup(0)
	f.expectInsert()

	f.clock.advance(30 * time.Minute)
	_, err := f.manager.PostMessage(context.Background(), gid, 7, text("can I talk?"))
	var sil *apperrors.SilencedError
	require.ErrorAs(t, err, &sil)
	assert.Equal(t, 30*time.Minute, sil.Remaining)

	f.clock.advance(31 * time.Minute)
	_, err = f.manager.PostMessage(context.Background(), gid, 7, text("back"))
	require.NoError(t, err)
}

func TestPostMessageRejectsNonMembersAndBanned(t *testing.T) {
	f := newFixture()
	banned := f.member(8, models.RoleMember)
	banned.Banned = true
	banned.Active = false
	f.groups.On("GetMember", mock.Anything, gid, 7).Return(models.Member{}, apperrors.ErrMemberNotFound)
	f.groups.On("GetMember", mock.Anything, gid, 8).Return(banned, nil)

	_, err := f.manager.PostMessage(context.Background(), gid, 7, text("hi"))
	require.ErrorIs(t, err, apperrors.ErrNotMember)
	_, err = f.manager.PostMessage(context.Background(), gid, 8, text("hi"))
	require.ErrorIs(t, err, apperrors.ErrBanned)

	f.messages.AssertNotCalled(t, "CreateGroupMessage", mock.Anything, mock.Anything)
}

func TestPostMessagePersistenceFailureHasNoSideEffects(t *testing.T) {
	f := newFixture()
	sub := f.bus.Subscribe(gid)
	defer sub.Close()
	f.groups.On("GetMember", mock.Anything, gid, 7).Return(f.member(7, models.RoleMember), nil)
	f.expectGroup(10)
	f.messages.On("CreateGroupMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset")).Once()

	s := f.manager.Open(gid, 7)
	defer f.manager.Close(s)

	_, err := f.manager.PostInSession(context.Background(), s, text("I want to end it all"))
	var perr *apperrors.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, f.detector.count())
	assert.Len(t, sub.C, 0)
	assert.True(t, s.LastAcceptedAt().IsZero())
}

func TestPostMessagePublishesAndDispatches(t *testing.T) {
	f := newFixture()
	sub := f.bus.Subscribe(gid)
	defer sub.Close()
	f.groups.On("GetMember", mock.Anything, gid, 7).Return(f.member(7, models.RoleMember), nil)
	f.groups.On("ListMembers", mock.Anything, gid).Return([]models.Member{
		{GroupID: gid, UserID: 7, Alias: "river"},
		{GroupID: gid, UserID: 9, Alias: "Sky"},
	}, nil)
	f.expectGroup(0)
	f.expectInsert()

	msg, err := f.manager.PostMessage(context.Background(), gid, 7, text("thanks @sky and @nobody"))
	require.NoError(t, err)
	assert.Equal(t, []int{9}, msg.Metadata["mentions"])

	evt := <-sub.C
	assert.Equal(t, models.EventMessageCreated, evt.Type)
	assert.Equal(t, msg.ID, evt.MessageID)
	assert.Equal(t, []int{msg.ID}, f.detector.ids)
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture()

	_, err := f.manager.PostMessage(context.Background(), gid, 7, text("   "))
	require.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, err = f.manager.PostMessage(context.Background(), gid, 7, PostInput{Kind: models.KindImage})
	require.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, err = f.manager.PostMessage(context.Background(), gid, 7, PostInput{Kind: "video", Content: "x"})
	require.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	f.groups.On("GetMember", mock.Anything, gid, 7).Return(f.member(7, models.RoleMember), nil)
	f.expectGroup(0)
	other := 40
	f.messages.On("GetGroupMessage", mock.Anything, other).Return(models.Message{ID: other, GroupID: gid + 1}, nil)
	_, err = f.manager.PostMessage(context.Background(), gid, 7, PostInput{Kind: models.KindText, Content: "re", ReplyTo: &other})
	require.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestEditMessageAuthorOnly(t *testing.T) {
	f := newFixture()
	f.messages.On("GetGroupMessage", mock.Anything, 20).Return(models.Message{ID: 20, GroupID: gid, AuthorID: 7}, nil)
	f.groups.On("GetMember", mock.Anything, gid, 7).Return(f.member(7, models.RoleMember), nil)
	f.messages.On("UpdateContent", mock.Anything, 20, "fixed", f.clock.now()).
		Return(models.Message{ID: 20, GroupID: gid, AuthorID: 7, Content: "fixed", Edited: true}, nil).Once()

	_, err := f.manager.EditMessage(context.Background(), gid, 20, 8, "hijack")
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	msg, err := f.manager.EditMessage(context.Background(), gid, 20, 7, " fixed ")
	require.NoError(t, err)
	assert.True(t, msg.Edited)
	assert.Equal(t, 1, f.detector.count())
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture()
	f.messages.On("GetGroupMessage", mock.Anything, 20).Return(models.Message{ID: 20, GroupID: gid, AuthorID: 7}, nil)
	f.groups.On("GetMember", mock.Anything, gid, 8).Return(f.member(8, models.RoleMember), nil)
	f.groups.On("GetMember", mock.Anything, gid, 2).Return(f.member(2, models.RoleModerator), nil)
	f.messages.On("MarkDeleted", mock.Anything, 20).Return(nil).Once()

	require.ErrorIs(t, f.manager.DeleteMessage(context.Background(), gid, 20, 8), apperrors.ErrForbidden)
	require.NoError(t, f.manager.DeleteMessage(context.Background(), gid, 20, 2))
	require.ErrorIs(t, f.manager.DeleteMessage(context.Background(), gid+1, 20, 2), apperrors.ErrMessageNotFound)
}

func TestJoinRecoversDuplicateMembership(t *testing.T) {
	f := newFixture()
	f.groups.On("GetGroup", mock.Anything, gid).Return(models.Group{ID: gid}, nil)
	f.groups.On("AddMember", mock.Anything, gid, 7, "river").Return(nil, apperrors.ErrDuplicateMembership).Once()
	f.groups.On("GetMember", mock.Anything, gid, 7).Return(f.member(7, models.RoleMember), nil).Once()

	member, created, err := f.manager.Join(context.Background(), gid, 7, "river")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 7, member.UserID)
}

func TestJoinBanned(t *testing.T) {
	f := newFixture()
	f.groups.On("GetGroup", mock.Anything, gid).Return(models.Group{ID: gid}, nil)
	f.groups.On("AddMember", mock.Anything, gid, 7, "river").Return(nil, apperrors.ErrBanned).Once()

	_, _, err := f.manager.Join(context.Background(), gid, 7, "river")
	require.ErrorIs(t, err, apperrors.ErrBanned)
}

func TestUnregister(t *testing.T) {
	f := newFixture()
	f.groups.On("MutateMember", mock.Anything, gid, 1).Return(f.member(1, models.RoleOwner), nil).Once()
	f.groups.On("MutateMember", mock.Anything, gid, 7).Return(f.member(7, models.RoleMember), nil).Once()

	require.ErrorIs(t, f.manager.Unregister(context.Background(), gid, 1), apperrors.ErrForbidden)
	require.NoError(t, f.manager.Unregister(context.Background(), gid, 7))
	assert.Empty(t, f.groups.Actions)
}

func TestHistoryRequiresActiveMember(t *testing.T) {
	f := newFixture()
	inactive := f.member(7, models.RoleMember)
	inactive.Active = false
	f.groups.On("GetMember", mock.Anything, gid, 7).Return(inactive, nil).Once()
	_, err := f.manager.History(context.Background(), gid, 7, 0)
	require.ErrorIs(t, err, apperrors.ErrNotMember)

	f.groups.On("GetMember", mock.Anything, gid, 8).Return(f.member(8, models.RoleMember), nil).Once()
	f.messages.On("ListRecentMessages", mock.Anything, gid, MaxHistoryLimit).Return([]models.Message{{ID: 1}}, nil).Once()
	msgs, err := f.manager.History(context.Background(), gid, 8, 5000)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestRegistryPrunesIdleSessions(t *testing.T) {
	f := newFixture()
	s := f.manager.Open(gid, 7)
	assert.Equal(t, 1, f.manager.LiveSessions(gid))
	f.manager.Close(s)
	assert.Equal(t, 0, f.manager.LiveSessions(gid))

	_, ok := f.manager.sessions.get(gid, 7)
	assert.False(t, ok)
}
