// Package reports handles member reports against group messages and their
// resolution by moderators.
package reports

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"support-chat/internal/apperrors"
	"support-chat/internal/bus"
	"support-chat/internal/models"
	"support-chat/internal/observability"
	"support-chat/internal/repositories"
	"support-chat/internal/telemetry"
)

const maxDescription = 1000

// Authorizer resolves an actor holding one of roles.
type Authorizer interface {
	AuthorizedAction(ctx context.Context, groupID, actorID int, roles ...models.Role) (models.Member, error)
}

type Workflow struct {
	reports    repositories.ReportRepository
	messages   repositories.GroupMessageRepository
	groups     repositories.GroupRepository
	authorizer Authorizer
	bus        bus.Bus
	audit      *telemetry.AuditEmitter
	log        *slog.Logger
	now        func() time.Time
}

func NewWorkflow(reports repositories.ReportRepository, messages repositories.GroupMessageRepository, groups repositories.GroupRepository, authorizer Authorizer, b bus.Bus, audit *telemetry.AuditEmitter, log *slog.Logger) *Workflow {
	return &Workflow{
		reports:    reports,
		messages:   messages,
		groups:     groups,
		authorizer: authorizer,
		bus:        b,
		audit:      audit,
		log:        log,
		now:        time.Now,
	}
}

// Report files one report by reporterID against a message of a group they belong to.
func (w *Workflow) Report(ctx context.Context, messageID, reporterID int, reason models.ReportReason, description string) (models.Report, error) {
	if !reason.Valid() {
		return models.Report{}, apperrors.ErrInvalidArgument
	}
	description = strings.TrimSpace(description)
	if len(description) > maxDescription {
		return models.Report{}, apperrors.ErrInvalidArgument
	}

	msg, err := w.message(ctx, messageID)
	if err != nil {
		return models.Report{}, err
	}

	reporter, err := w.groups.GetMember(ctx, msg.GroupID, reporterID)
	if errors.Is(err, repositories.ErrMemberNotFound) {
		return models.Report{}, apperrors.ErrNotMember
	}
	if err != nil {
		return models.Report{}, apperrors.Persistence("load reporter", err)
	}
	if reporter.Banned {
		return models.Report{}, apperrors.ErrBanned
	}
	if !reporter.Active {
		return models.Report{}, apperrors.ErrNotMember
	}

	report, err := w.reports.CreateReport(ctx, models.Report{
		MessageID:   msg.ID,
		GroupID:     msg.GroupID,
		ReporterID:  reporterID,
		Reason:      reason,
		Description: description,
	})
	if err != nil {
		return models.Report{}, apperrors.Persistence("create report", err)
	}

	w.log.Info("message reported", "group_id", msg.GroupID, "message_id", msg.ID, "reporter_id", reporterID, "reason", reason)
	w.publish(ctx, models.GroupEvent{Type: models.EventMessageUpdated, GroupID: msg.GroupID, MessageID: msg.ID, At: w.now()})
	return report, nil
}

// Resolve marks every report of the message resolved and keeps the message.
func (w *Workflow) Resolve(ctx context.Context, messageID, actorID int) (int64, error) {
	msg, err := w.authorize(ctx, messageID, actorID)
	if err != nil {
		return 0, err
	}
	resolved, err := w.reports.ResolveAll(ctx, messageID)
	if err != nil {
		return 0, apperrors.Persistence("resolve reports", err)
	}
	w.after(ctx, msg, actorID, "resolve_reports", "reports resolved", resolved)
	w.publish(ctx, models.GroupEvent{Type: models.EventMessageUpdated, GroupID: msg.GroupID, MessageID: msg.ID, At: w.now()})
	return resolved, nil
}

// DeleteAndResolve deletes the message and resolves its reports; either both
// happen or neither does.
func (w *Workflow) DeleteAndResolve(ctx context.Context, messageID, actorID int) (int64, error) {
	msg, err := w.authorize(ctx, messageID, actorID)
	if err != nil {
		return 0, err
	}
	resolved, err := w.reports.DeleteAndResolve(ctx, messageID)
	if err != nil {
		return 0, apperrors.Persistence("delete and resolve", err)
	}
	w.after(ctx, msg, actorID, "delete_reported", "reported message deleted", resolved)
	w.publish(ctx, models.GroupEvent{Type: models.EventMessageDeleted, GroupID: msg.GroupID, MessageID: msg.ID, At: w.now()})
	return resolved, nil
}

// Queue returns the group's review queue, most recently reported first.
func (w *Workflow) Queue(ctx context.Context, groupID, actorID int) ([]models.ReportBucket, error) {
	if _, err := w.authorizer.AuthorizedAction(ctx, groupID, actorID, models.RoleModerator, models.RoleOwner); err != nil {
		return nil, err
	}
	reports, err := w.reports.ListUnresolved(ctx, groupID)
	if err != nil {
		return nil, apperrors.Persistence("list reports", err)
	}
	return Aggregate(reports), nil
}

// Aggregate groups unresolved reports by message. The headline reason is the
// reason of the most recent report.
func Aggregate(reports []models.Report) []models.ReportBucket {
	byMessage := lo.GroupBy(lo.Filter(reports, func(r models.Report, _ int) bool { return !r.Resolved }), func(r models.Report) int {
		return r.MessageID
	})

	buckets := make([]models.ReportBucket, 0, len(byMessage))
	for messageID, group := range byMessage {
		latest := lo.MaxBy(group, func(a, b models.Report) bool {
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID > b.ID
			}
			return a.CreatedAt.After(b.CreatedAt)
		})
		buckets = append(buckets, models.ReportBucket{
			MessageID:      messageID,
			GroupID:        latest.GroupID,
			Count:          len(group),
			HeadlineReason: latest.Reason,
			LatestAt:       latest.CreatedAt,
			ReporterIDs:    lo.Uniq(lo.Map(group, func(r models.Report, _ int) int { return r.ReporterID })),
		})
	}

	slices.SortFunc(buckets, func(a, b models.ReportBucket) int {
		if c := b.LatestAt.Compare(a.LatestAt); c != 0 {
			return c
		}
		return cmp.Compare(a.MessageID, b.MessageID)
	})
	return buckets
}

func (w *Workflow) message(ctx context.Context, messageID int) (models.Message, error) {
	msg, err := w.messages.GetGroupMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, apperrors.ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, apperrors.Persistence("load message", err)
	}
	return msg, nil
}

func (w *Workflow) authorize(ctx context.Context, messageID, actorID int) (models.Message, error) {
	msg, err := w.message(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if _, err := w.authorizer.AuthorizedAction(ctx, msg.GroupID, actorID, models.RoleModerator, models.RoleOwner); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (w *Workflow) after(ctx context.Context, msg models.Message, actorID int, action, text string, resolved int64) {
	observability.IncModerationAction(action)
	w.log.Info(text, "group_id", msg.GroupID, "message_id", msg.ID, "actor_id", actorID, "resolved", resolved)
	w.audit.Emit(ctx, telemetry.AuditEntry{
		Level:     "INFO",
		Text:      text,
		RequestID: observability.RequestIDFromContext(ctx),
		UserID:    actorID,
		GroupID:   msg.GroupID,
		Fields:    map[string]any{"message_id": msg.ID, "resolved": resolved},
	})
}

func (w *Workflow) publish(ctx context.Context, event models.GroupEvent) {
	if w.bus == nil {
		return
	}
	if err := w.bus.Publish(ctx, event); err != nil {
		w.log.Warn("bus publish failed", "group_id", event.GroupID, "type", event.Type, "err", err)
	}
}
