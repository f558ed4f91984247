// Package session orchestrates what a member does inside a group: posting
// through standing and slow-mode checks, editing, pinning and membership.
package session

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"support-chat/internal/apperrors"
	"support-chat/internal/bus"
	"support-chat/internal/models"
	"support-chat/internal/moderation"
	"support-chat/internal/observability"
	"support-chat/internal/repositories"
	"support-chat/internal/slowmode"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	MaxContentLength    = 4000
	MaxGroupNameLength  = 120
)

var mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_.\-]+)`)

// Dispatcher runs crisis detection on a stored message without blocking the caller.
type Dispatcher interface {
	Dispatch(msg models.Message)
}

// Authorizer resolves an actor holding one of roles.
type Authorizer interface {
	AuthorizedAction(ctx context.Context, groupID, actorID int, roles ...models.Role) (models.Member, error)
}

// PostInput is what a member submits.
type PostInput struct {
	Content string             `json:"content"`
	Kind    models.MessageKind `json:"kind"`
	FileRef *string            `json:"file_ref"`
	ReplyTo *int               `json:"reply_to"`
}

type Manager struct {
	groups     repositories.GroupRepository
	messages   repositories.GroupMessageRepository
	detector   Dispatcher
	authorizer Authorizer
	bus        bus.Bus
	log        *slog.Logger
	now        func() time.Time

	sessions *registry
}

func NewManager(groups repositories.GroupRepository, messages repositories.GroupMessageRepository, detector Dispatcher, authorizer Authorizer, b bus.Bus, log *slog.Logger) *Manager {
	return &Manager{
		groups:     groups,
		messages:   messages,
		detector:   detector,
		authorizer: authorizer,
		bus:        b,
		log:        log,
		now:        time.Now,
		sessions:   newRegistry(moderation.MaxSlowMode),
	}
}

// WithClock overrides the manager's clock.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Open registers a live connection of the member. Every Open is paired with Close.
func (m *Manager) Open(groupID, userID int) *Session {
	return m.sessions.acquire(groupID, userID, m.now())
}

// Close releases a connection opened with Open.
func (m *Manager) Close(s *Session) {
	m.sessions.release(s, m.now())
}

// LiveSessions counts members of the group with at least one open connection.
func (m *Manager) LiveSessions(groupID int) int {
	return m.sessions.live(groupID)
}

// PostMessage accepts a message from a member. Checks run in order: membership,
// standing, slow mode. Once the message is stored, crisis detection is
// dispatched and subscribers are notified; neither can fail the post.
func (m *Manager) PostMessage(ctx context.Context, groupID, userID int, in PostInput) (models.Message, error) {
	s := m.Open(groupID, userID)
	defer m.Close(s)
	return m.post(ctx, s, in)
}

// PostInSession posts through an already open session.
func (m *Manager) PostInSession(ctx context.Context, s *Session, in PostInput) (models.Message, error) {
	return m.post(ctx, s, in)
}

func (m *Manager) post(ctx context.Context, s *Session, in PostInput) (models.Message, error) {
	ctx, span := observability.Tracer("session").Start(ctx, "session.post_message")
	defer span.End()
	span.SetAttributes(attribute.Int("group_id", s.GroupID), attribute.Int("user_id", s.UserID))

	msg, outcome, err := m.postLocked(ctx, s, in)
	observability.IncPost(outcome)
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		return models.Message{}, err
	}

	m.detector.Dispatch(msg)
	m.publish(ctx, models.GroupEvent{Type: models.EventMessageCreated, GroupID: msg.GroupID, MessageID: msg.ID, UserID: msg.AuthorID, Message: &msg, At: msg.CreatedAt})
	return msg, nil
}

func (m *Manager) postLocked(ctx context.Context, s *Session, in PostInput) (models.Message, string, error) {
	in.Content = strings.TrimSpace(in.Content)
	if in.Kind == "" {
		in.Kind = models.KindText
	}
	if err := validate(in); err != nil {
		return models.Message{}, "invalid", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	member, err := m.groups.GetMember(ctx, s.GroupID, s.UserID)
	if errors.Is(err, repositories.ErrMemberNotFound) {
		return models.Message{}, "not_member", apperrors.ErrNotMember
	}
	if err != nil {
		return models.Message{}, "persistence_error", apperrors.Persistence("load member", err)
	}

	now := m.now()
	if err := moderation.CheckStanding(member, now); err != nil {
		return models.Message{}, standingOutcome(err), err
	}

	group, err := m.groups.GetGroup(ctx, s.GroupID)
	if err != nil {
		return models.Message{}, "persistence_error", apperrors.Persistence("load group", err)
	}
	if d := slowmode.Check(group.SlowModeInterval(), member.Role, s.lastAcceptedAt, now); !d.Allowed {
		return models.Message{}, "slow_mode", &apperrors.SlowModeError{Remaining: d.Remaining}
	}

	if in.ReplyTo != nil {
		parent, err := m.messages.GetGroupMessage(ctx, *in.ReplyTo)
		if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && parent.GroupID != s.GroupID) {
			return models.Message{}, "invalid", apperrors.ErrInvalidArgument
		}
		if err != nil {
			return models.Message{}, "persistence_error", apperrors.Persistence("load reply target", err)
		}
	}

	var metadata models.JSONMap
	if mentions := m.mentions(ctx, s.GroupID, in.Content); len(mentions) > 0 {
		metadata = models.JSONMap{"mentions": mentions}
	}

	msg, err := m.messages.CreateGroupMessage(ctx, models.NewMessage{
		GroupID:  s.GroupID,
		AuthorID: s.UserID,
		Content:  in.Content,
		Kind:     in.Kind,
		FileRef:  in.FileRef,
		ReplyTo:  in.ReplyTo,
		Metadata: metadata,
	})
	if err != nil {
		m.log.Error("message insert failed", "group_id", s.GroupID, "user_id", s.UserID, "err", err)
		return models.Message{}, "persistence_error", apperrors.Persistence("insert message", err)
	}
	s.lastAcceptedAt = now
	return msg, "accepted", nil
}

// EditMessage replaces the content of the caller's own message.
func (m *Manager) EditMessage(ctx context.Context, groupID, messageID, userID int, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > MaxContentLength {
		return models.Message{}, apperrors.ErrInvalidArgument
	}
	msg, err := m.groupMessage(ctx, groupID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.AuthorID != userID {
		return models.Message{}, apperrors.ErrForbidden
	}
	if err := m.standing(ctx, groupID, userID); err != nil {
		return models.Message{}, err
	}

	updated, err := m.messages.UpdateContent(ctx, messageID, content, m.now())
	if err != nil {
		return models.Message{}, m.storeErr("update message", err)
	}
	m.detector.Dispatch(updated)
	m.publish(ctx, models.GroupEvent{Type: models.EventMessageUpdated, GroupID: groupID, MessageID: messageID, UserID: userID, Message: &updated, At: m.now()})
	return updated, nil
}

// DeleteMessage removes a message. Authors may delete their own; moderators
// and the owner may delete any.
func (m *Manager) DeleteMessage(ctx context.Context, groupID, messageID, actorID int) error {
	msg, err := m.groupMessage(ctx, groupID, messageID)
	if err != nil {
		return err
	}
	if msg.AuthorID == actorID {
		member, err := m.member(ctx, groupID, actorID)
		if err != nil {
			return err
		}
		if !member.Active || (member.Banned && member.Role != models.RoleOwner) {
			return apperrors.ErrNotMember
		}
	} else if _, err := m.authorizer.AuthorizedAction(ctx, groupID, actorID, models.RoleModerator, models.RoleOwner); err != nil {
		return err
	}

	if err := m.messages.MarkDeleted(ctx, messageID); err != nil {
		return m.storeErr("delete message", err)
	}
	m.log.Info("message deleted", "group_id", groupID, "message_id", messageID, "actor_id", actorID)
	m.publish(ctx, models.GroupEvent{Type: models.EventMessageDeleted, GroupID: groupID, MessageID: messageID, UserID: actorID, At: m.now()})
	return nil
}

// PinMessage pins or unpins a message.
func (m *Manager) PinMessage(ctx context.Context, groupID, messageID, actorID int, pinned bool) (models.Message, error) {
	if _, err := m.groupMessage(ctx, groupID, messageID); err != nil {
		return models.Message{}, err
	}
	if _, err := m.authorizer.AuthorizedAction(ctx, groupID, actorID, models.RoleModerator, models.RoleOwner); err != nil {
		return models.Message{}, err
	}
	msg, err := m.messages.SetPinned(ctx, messageID, pinned)
	if err != nil {
		return models.Message{}, m.storeErr("pin message", err)
	}
	m.publish(ctx, models.GroupEvent{Type: models.EventMessageUpdated, GroupID: groupID, MessageID: messageID, UserID: actorID, Message: &msg, At: m.now()})
	return msg, nil
}

// History returns the most recent live messages in ascending order.
func (m *Manager) History(ctx context.Context, groupID, userID, limit int) ([]models.Message, error) {
	member, err := m.member(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if member.Banned && member.Role != models.RoleOwner {
		return nil, apperrors.ErrBanned
	}
	if !member.Active {
		return nil, apperrors.ErrNotMember
	}
	msgs, err := m.messages.ListRecentMessages(ctx, groupID, clampLimit(limit))
	if err != nil {
		return nil, apperrors.Persistence("list messages", err)
	}
	return msgs, nil
}

// CreateGroup creates a group owned by ownerID.
func (m *Manager) CreateGroup(ctx context.Context, ownerID int, name, ownerAlias string, slowMode time.Duration, config models.JSONMap) (models.Group, error) {
	name = strings.TrimSpace(name)
	ownerAlias = strings.TrimSpace(ownerAlias)
	if name == "" || len(name) > MaxGroupNameLength || ownerAlias == "" {
		return models.Group{}, apperrors.ErrInvalidArgument
	}
	if slowMode < 0 || slowMode > moderation.MaxSlowMode {
		return models.Group{}, apperrors.ErrInvalidArgument
	}
	group, err := m.groups.CreateGroup(ctx, ownerID, name, ownerAlias, int(slowMode/time.Second), config)
	if err != nil {
		return models.Group{}, apperrors.Persistence("create group", err)
	}
	m.log.Info("group created", "group_id", group.ID, "owner_id", ownerID)
	return group, nil
}

// Groups lists the groups the user is an active member of.
func (m *Manager) Groups(ctx context.Context, userID int) ([]models.Group, error) {
	groups, err := m.groups.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Persistence("list groups", err)
	}
	return groups, nil
}

// Join adds the user to the group. Joining twice is not an error; the bool
// reports whether this call created the membership.
func (m *Manager) Join(ctx context.Context, groupID, userID int, alias string) (models.Member, bool, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return models.Member{}, false, apperrors.ErrInvalidArgument
	}
	if _, err := m.groups.GetGroup(ctx, groupID); err != nil {
		return models.Member{}, false, m.storeErr("load group", err)
	}

	member, err := m.groups.AddMember(ctx, groupID, userID, alias)
	if errors.Is(err, repositories.ErrDuplicateMembership) {
		existing, err := m.member(ctx, groupID, userID)
		if err != nil {
			return models.Member{}, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return models.Member{}, false, apperrors.Persistence("add member", err)
	}

	m.log.Info("member joined", "group_id", groupID, "user_id", userID)
	m.publish(ctx, models.GroupEvent{Type: models.EventMemberUpdated, GroupID: groupID, UserID: userID, At: m.now()})
	return member, true, nil
}

// Unregister removes the caller from the group. The owner cannot leave.
func (m *Manager) Unregister(ctx context.Context, groupID, userID int) error {
	_, err := m.groups.MutateMember(ctx, groupID, userID, func(member *models.Member) (models.ModerationAction, error) {
		if member.Role == models.RoleOwner {
			return models.ModerationAction{}, apperrors.ErrForbidden
		}
		if !member.Active {
			return models.ModerationAction{}, apperrors.ErrNotMember
		}
		member.Active = false
		return models.ModerationAction{}, nil
	})
	if errors.Is(err, repositories.ErrMemberNotFound) {
		return apperrors.ErrNotMember
	}
	if err != nil {
		return apperrors.Persistence("leave group", err)
	}
	m.log.Info("member left", "group_id", groupID, "user_id", userID)
	m.publish(ctx, models.GroupEvent{Type: models.EventMemberUpdated, GroupID: groupID, UserID: userID, At: m.now()})
	return nil
}

func (m *Manager) mentions(ctx context.Context, groupID int, content string) []int {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	members, err := m.groups.ListMembers(ctx, groupID)
	if err != nil {
		m.log.Warn("mention lookup failed", "group_id", groupID, "err", err)
		return nil
	}
	byAlias := lo.SliceToMap(members, func(mb models.Member) (string, int) {
		return strings.ToLower(mb.Alias), mb.UserID
	})
	ids := lo.FilterMap(matches, func(match []string, _ int) (int, bool) {
		id, ok := byAlias[strings.ToLower(match[1])]
		return id, ok
	})
	return lo.Uniq(ids)
}

func (m *Manager) standing(ctx context.Context, groupID, userID int) error {
	member, err := m.member(ctx, groupID, userID)
	if err != nil {
		return err
	}
	return moderation.CheckStanding(member, m.now())
}

func (m *Manager) member(ctx context.Context, groupID, userID int) (models.Member, error) {
	member, err := m.groups.GetMember(ctx, groupID, userID)
	if errors.Is(err, repositories.ErrMemberNotFound) {
		return models.Member{}, apperrors.ErrNotMember
	}
	if err != nil {
		return models.Member{}, apperrors.Persistence("load member", err)
	}
	return member, nil
}

func (m *Manager) groupMessage(ctx context.Context, groupID, messageID int) (models.Message, error) {
	msg, err := m.messages.GetGroupMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, m.storeErr("load message", err)
	}
	if msg.GroupID != groupID {
		return models.Message{}, apperrors.ErrMessageNotFound
	}
	return msg, nil
}

func (m *Manager) storeErr(op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound):
		return apperrors.ErrMessageNotFound
	case errors.Is(err, repositories.ErrGroupNotFound):
		return apperrors.ErrGroupNotFound
	}
	return apperrors.Persistence(op, err)
}

func (m *Manager) publish(ctx context.Context, event models.GroupEvent) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, event); err != nil {
		m.log.Warn("bus publish failed", "group_id", event.GroupID, "type", event.Type, "err", err)
	}
}

func validate(in PostInput) error {
	if !in.Kind.Valid() {
		return apperrors.ErrInvalidArgument
	}
	if len(in.Content) > MaxContentLength {
		return apperrors.ErrInvalidArgument
	}
	if in.Kind == models.KindText {
		if in.Content == "" {
			return apperrors.ErrInvalidArgument
		}
		return nil
	}
	if in.FileRef == nil || strings.TrimSpace(*in.FileRef) == "" {
		return apperrors.ErrInvalidArgument
	}
	return nil
}

func standingOutcome(err error) string {
	var silenced *apperrors.SilencedError
	switch {
	case errors.As(err, &silenced):
		return "silenced"
	case errors.Is(err, apperrors.ErrBanned):
		return "banned"
	default:
		return "not_member"
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
