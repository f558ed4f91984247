package crisis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"support-chat/internal/apperrors"
	"support-chat/internal/bus"
	"support-chat/internal/models"
	"support-chat/internal/observability"
	"support-chat/internal/repositories"
	"support-chat/internal/telemetry"
)

const (
	DefaultScanTimeout = 10 * time.Second
	retryDelay         = 500 * time.Millisecond
)

// EmergencySignaler delivers an event to every live session of one member.
type EmergencySignaler interface {
	SignalEmergency(groupID, userID int, event models.GroupEvent) int
}

// Authorizer resolves an actor holding one of roles.
type Authorizer interface {
	AuthorizedAction(ctx context.Context, groupID, actorID int, roles ...models.Role) (models.Member, error)
}

// Options tunes a Detector.
type Options struct {
	Resources []string
	Timeout   time.Duration
}

// Detector runs after a message is durably stored. Its failures are logged
// and never reach the sender.
type Detector struct {
	classifier Classifier
	alerts     repositories.CrisisRepository
	bus        bus.Bus
	signaler   EmergencySignaler
	notifier   EmergencyNotifier
	authorizer Authorizer
	audit      *telemetry.AuditEmitter
	resources  []string
	timeout    time.Duration
	log        *slog.Logger

	wg sync.WaitGroup
}

// NewDetector constructs a Detector. Signaler, notifier and authorizer are attached with the With* setters.
func NewDetector(classifier Classifier, alerts repositories.CrisisRepository, b bus.Bus, audit *telemetry.AuditEmitter, log *slog.Logger, opts Options) *Detector {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultScanTimeout
	}
	return &Detector{
		classifier: classifier,
		alerts:     alerts,
		bus:        b,
		audit:      audit,
		resources:  opts.Resources,
		timeout:    opts.Timeout,
		log:        log,
	}
}

func (d *Detector) WithSignaler(s EmergencySignaler) *Detector {
	d.signaler = s
	return d
}

func (d *Detector) WithNotifier(n EmergencyNotifier) *Detector {
	d.notifier = n
	return d
}

func (d *Detector) WithAuthorizer(a Authorizer) *Detector {
	d.authorizer = a
	return d
}

// Scan classifies msg and, on a match, writes the message's alert. The sender
// signal and moderator alert fire until the row records them as sent, and the
// contact notification until contact_notified is set, so a rescan after a
// partial failure finishes the job and a rescan after success does nothing.
// A nil alert means no match.
func (d *Detector) Scan(ctx context.Context, msg models.Message) (*models.CrisisAlert, error) {
	ctx, span := observability.Tracer("crisis").Start(ctx, "crisis.scan")
	defer span.End()
	span.SetAttributes(attribute.Int("message_id", msg.ID), attribute.Int("group_id", msg.GroupID))

	keywords := d.classifier.Match(msg.Content)
	if len(keywords) == 0 {
		return nil, nil
	}

	alert, created, err := d.alerts.CreateAlert(ctx, models.CrisisAlert{
		MessageID:         msg.ID,
		GroupID:           msg.GroupID,
		UserID:            msg.AuthorID,
		Keywords:          keywords,
		ModeratorNotified: true,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, apperrors.Persistence("create crisis alert", err)
	}
	if created {
		observability.IncCrisisAlert()
		d.log.Warn("crisis alert raised", "alert_id", alert.ID, "group_id", alert.GroupID, "user_id", alert.UserID, "message_id", alert.MessageID, "keywords", []string(alert.Keywords))
		d.audit.Emit(ctx, telemetry.AuditEntry{
			Level:   "WARN",
			Text:    "crisis alert raised",
			UserID:  alert.UserID,
			GroupID: alert.GroupID,
			Fields:  map[string]any{"alert_id": alert.ID, "message_id": alert.MessageID, "keywords": []string(alert.Keywords)},
		})
	} else if !alert.Signaled || !alert.ContactNotified {
		d.log.Info("resuming crisis alert delivery", "alert_id", alert.ID, "signaled", alert.Signaled, "contact_notified", alert.ContactNotified)
	}

	if !alert.Signaled {
		d.signalSender(alert)
		if d.notifyModerators(ctx, alert) {
			if err := d.alerts.MarkSignaled(ctx, alert.ID); err != nil {
				d.log.Warn("mark alert signaled failed", "alert_id", alert.ID, "err", err)
			} else {
				alert.Signaled = true
			}
		}
	}
	if !alert.ContactNotified && d.notifyContact(ctx, alert) {
		alert.ContactNotified = true
	}
	return &alert, nil
}

// Dispatch scans msg on a background goroutine with its own deadline. One
// failed attempt is retried; a second failure is logged as a DetectorError.
func (d *Detector) Dispatch(msg models.Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := d.attempt(msg)
		if err == nil {
			return
		}
		observability.IncDetectorFailure("retry")
		time.Sleep(retryDelay)
		if err = d.attempt(msg); err != nil {
			observability.IncDetectorFailure("final")
			d.log.Error("crisis scan failed", "err", &apperrors.DetectorError{MessageID: msg.ID, Err: err}, "group_id", msg.GroupID)
		}
	}()
}

func (d *Detector) attempt(msg models.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &apperrors.DetectorError{MessageID: msg.ID, Err: panicError{r}}
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_, err = d.Scan(ctx, msg)
	return err
}

// Wait blocks until all dispatched scans finish.
func (d *Detector) Wait() {
	d.wg.Wait()
}

// Alerts lists a group's alerts for its moderators and owner.
func (d *Detector) Alerts(ctx context.Context, groupID, actorID int) ([]models.CrisisAlert, error) {
	if d.authorizer != nil {
		if _, err := d.authorizer.AuthorizedAction(ctx, groupID, actorID, models.RoleModerator, models.RoleOwner); err != nil {
			return nil, err
		}
	}
	alerts, err := d.alerts.ListAlerts(ctx, groupID)
	if err != nil {
		return nil, apperrors.Persistence("list crisis alerts", err)
	}
	return alerts, nil
}

func (d *Detector) signalSender(alert models.CrisisAlert) {
	if d.signaler == nil {
		return
	}
	delivered := d.signaler.SignalEmergency(alert.GroupID, alert.UserID, models.GroupEvent{
		Type:      models.EventEmergency,
		GroupID:   alert.GroupID,
		MessageID: alert.MessageID,
		UserID:    alert.UserID,
		Alert:     &alert,
		Resources: d.resources,
		At:        alert.CreatedAt,
	})
	if delivered == 0 {
		d.log.Info("emergency signal had no live session", "group_id", alert.GroupID, "user_id", alert.UserID)
	}
}

func (d *Detector) notifyModerators(ctx context.Context, alert models.CrisisAlert) bool {
	if d.bus == nil {
		return true
	}
	err := d.bus.Publish(ctx, models.GroupEvent{
		Type:      models.EventCrisisAlert,
		GroupID:   alert.GroupID,
		MessageID: alert.MessageID,
		UserID:    alert.UserID,
		Alert:     &alert,
		At:        alert.CreatedAt,
	})
	if err != nil {
		observability.IncDetectorFailure("moderator_notify")
		d.log.Warn("crisis alert publish failed", "alert_id", alert.ID, "err", err)
		return false
	}
	return true
}

func (d *Detector) notifyContact(ctx context.Context, alert models.CrisisAlert) bool {
	if d.notifier == nil {
		return false
	}
	if err := d.notifier.NotifyEmergency(ctx, alert); err != nil {
		observability.IncDetectorFailure("contact_notify")
		d.log.Warn("emergency contact notify failed", "alert_id", alert.ID, "err", err)
		return false
	}
	if err := d.alerts.MarkContactNotified(ctx, alert.ID); err != nil {
		d.log.Warn("mark contact notified failed", "alert_id", alert.ID, "err", err)
		return false
	}
	return true
}

type panicError struct{ v any }

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.v)
}
