package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"support-chat/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter streams audit envelopes to the broker. The moderation log in
// the store stays the source of truth; the stream feeds external review tools.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *slog.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level   string         `json:"level"`
	Text    string         `json:"text"`
	GroupID int            `json:"group_id,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// AuditEntry describes one audited action.
type AuditEntry struct {
	Level     string
	Text      string
	RequestID string
	UserID    int
	GroupID   int
	Fields    map[string]any
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *slog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, entry AuditEntry) {
	if e == nil || e.publisher == nil {
		return
	}

	var userID *string
	if entry.UserID != 0 {
		id := strconv.Itoa(entry.UserID)
		userID = &id
	}

	e.log.Info("audit emit", "level", entry.Level, "request_id", entry.RequestID, "user_id", entry.UserID, "group_id", entry.GroupID, "text", entry.Text)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     entry.RequestID,
		TraceID:       observability.TraceIDFromContext(ctx),
		UserID:        userID,
		Payload: AuditPayload{
			Level:   entry.Level,
			Text:    entry.Text,
			GroupID: entry.GroupID,
			Fields:  entry.Fields,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.log.Warn("audit publish failed", "err", err)
	}
}
