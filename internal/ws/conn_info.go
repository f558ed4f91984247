package ws

import (
	"context"
	"time"

	"github.com/google/uuid"

	"support-chat/internal/models"
	"support-chat/internal/observability"
)

const lifecycleRoutingKey = "ws_events.groups"

type ConnInfo struct {
	ConnID      string
	UserID      int
	Role        models.Role
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnID() string {
	return uuid.NewString()
}

func publishLifecycle(ctx context.Context, event string, groupID int, info ConnInfo, reason string) {
	observability.IncWSEvent("group", event)
	_ = observability.PublishEvent(ctx, lifecycleRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		RequestID: info.RequestID,
		TraceID:   info.TraceID,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "group",
				"resource_id": groupID,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	})
}
