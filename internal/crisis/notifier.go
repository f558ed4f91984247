package crisis

import (
	"context"
	"time"

	"support-chat/internal/models"
	"support-chat/internal/rabbitmq"
)

// EmergencyNotifier hands an alert to the external emergency workflow.
type EmergencyNotifier interface {
	NotifyEmergency(ctx context.Context, alert models.CrisisAlert) error
}

// EmergencyRequest is the payload consumed by the emergency contact workflow.
type EmergencyRequest struct {
	AlertID   int       `json:"alert_id"`
	UserID    int       `json:"user_id"`
	GroupID   int       `json:"group_id"`
	MessageID int       `json:"message_id"`
	Keywords  []string  `json:"keywords"`
	RaisedAt  time.Time `json:"raised_at"`
}

// BrokerNotifier publishes emergency requests to the broker.
type BrokerNotifier struct {
	publisher  rabbitmq.Publisher
	routingKey string
}

func NewBrokerNotifier(publisher rabbitmq.Publisher, routingKey string) *BrokerNotifier {
	return &BrokerNotifier{publisher: publisher, routingKey: routingKey}
}

func (n *BrokerNotifier) NotifyEmergency(ctx context.Context, alert models.CrisisAlert) error {
	return n.publisher.Publish(ctx, n.routingKey, EmergencyRequest{
		AlertID:   alert.ID,
		UserID:    alert.UserID,
		GroupID:   alert.GroupID,
		MessageID: alert.MessageID,
		Keywords:  alert.Keywords,
		RaisedAt:  alert.CreatedAt,
	})
}
