package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"support-chat/internal/models"
	"support-chat/internal/observability"
	"support-chat/internal/rabbitmq"
)

const routingPrefix = "group."

// AMQP fans group events out through a topic exchange so every instance's
// Local bus sees them. Subscriptions are always served from the Local bus.
type AMQP struct {
	local     *Local
	publisher rabbitmq.Publisher
	remote    bool
	url       string
	exchange  string
	log       *slog.Logger

	// consuming is true while Run has a live consumer feeding local.
	consuming atomic.Bool
}

// NewAMQP wraps local with RabbitMQ fan-out.
func NewAMQP(local *Local, publisher rabbitmq.Publisher, url, exchange string, log *slog.Logger) *AMQP {
	return &AMQP{
		local:     local,
		publisher: publisher,
		remote:    rabbitmq.PublisherMode(publisher) == "amqp",
		url:       url,
		exchange:  exchange,
		log:       log,
	}
}

// RoutingKey returns the routing key of a group topic.
func RoutingKey(groupID int) string {
	return routingPrefix + strconv.Itoa(groupID)
}

// Subscribers returns the number of local subscribers of a group.
func (b *AMQP) Subscribers(groupID int) int {
	return b.local.Subscribers(groupID)
}

// Consuming reports whether exchange deliveries currently reach the local bus.
func (b *AMQP) Consuming() bool {
	return b.consuming.Load()
}

// Publish sends the event to the exchange. When the broker is unavailable, or
// this instance's consumer is down, the event is delivered to local
// subscribers directly.
func (b *AMQP) Publish(ctx context.Context, event models.GroupEvent) error {
	if !b.remote {
		return b.local.Publish(ctx, event)
	}
	err := b.publisher.Publish(ctx, RoutingKey(event.GroupID), event)
	switch {
	case err != nil:
		b.log.Warn("bus publish failed, delivering locally", "group_id", event.GroupID, "type", event.Type, "err", err)
		return b.local.Publish(ctx, event)
	case !b.consuming.Load():
		return b.local.Publish(ctx, event)
	}
	return nil
}

// Subscribe registers a subscriber on the local topic.
func (b *AMQP) Subscribe(groupID int) *Subscription {
	return b.local.Subscribe(groupID)
}

// Run consumes the exchange into the local bus until ctx is done, reconnecting
// with exponential backoff whenever the consumer drops.
func (b *AMQP) Run(ctx context.Context) error {
	if !b.remote {
		b.log.Info("bus consumer disabled", "reason", rabbitmq.PublisherNoopReason(b.publisher))
		<-ctx.Done()
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	for {
		err := b.consume(ctx, policy.Reset)
		if ctx.Err() != nil {
			return nil
		}
		wait := policy.NextBackOff()
		observability.IncBusReconnect()
		b.log.Warn("bus consumer stopped, delivering locally until reconnect", "err", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// consume runs one consumer session. started is called once deliveries flow.
func (b *AMQP) consume(ctx context.Context, started func()) error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("bus dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("bus channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("bus exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("bus queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingPrefix+"*", b.exchange, false, nil); err != nil {
		return fmt.Errorf("bus bind: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("bus consume: %w", err)
	}

	b.consuming.Store(true)
	defer b.consuming.Store(false)
	started()
	b.log.Info("bus consumer started", "exchange", b.exchange, "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("bus deliveries closed")
			}
			event, err := decodeEvent(d.RoutingKey, d.Body)
			if err != nil {
				b.log.Warn("bus dropped malformed event", "routing_key", d.RoutingKey, "err", err)
				continue
			}
			_ = b.local.Publish(ctx, event)
		}
	}
}

func decodeEvent(routingKey string, body []byte) (models.GroupEvent, error) {
	var event models.GroupEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return models.GroupEvent{}, err
	}
	groupID, err := strconv.Atoi(strings.TrimPrefix(routingKey, routingPrefix))
	if err != nil {
		return models.GroupEvent{}, fmt.Errorf("routing key %q: %w", routingKey, err)
	}
	if event.GroupID != groupID {
		return models.GroupEvent{}, fmt.Errorf("event group %d does not match routing key %q", event.GroupID, routingKey)
	}
	return event, nil
}
