// Package bus carries group change events between the session manager and
// live subscribers. Delivery is best-effort and may duplicate or reorder
// events, so subscribers reconcile against the store on every event.
package bus

import (
	"context"
	"sync"

	"support-chat/internal/models"
	"support-chat/internal/observability"
)

// Bus is a publish/subscribe channel keyed by group id.
type Bus interface {
	Publish(ctx context.Context, event models.GroupEvent) error
	Subscribe(groupID int) *Subscription
}

// Subscription receives the events of one group until closed.
type Subscription struct {
	C       <-chan models.GroupEvent
	groupID int
	ch      chan models.GroupEvent
	local   *Local
	once    sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.local.remove(s)
	})
}

// Local is an in-process Bus with one topic per group.
type Local struct {
	mu     sync.RWMutex
	topics map[int]map[*Subscription]struct{}
	buffer int
}

// NewLocal builds a Local bus whose subscribers buffer up to buffer events.
func NewLocal(buffer int) *Local {
	if buffer <= 0 {
		buffer = 1
	}
	return &Local{
		topics: make(map[int]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber on a group topic.
func (b *Local) Subscribe(groupID int) *Subscription {
	ch := make(chan models.GroupEvent, b.buffer)
	sub := &Subscription{C: ch, groupID: groupID, ch: ch, local: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[groupID]; !ok {
		b.topics[groupID] = make(map[*Subscription]struct{})
	}
	b.topics[groupID][sub] = struct{}{}
	return sub
}

// Publish delivers the event to every subscriber of its group without blocking.
// A subscriber whose buffer is full misses the event.
func (b *Local) Publish(_ context.Context, event models.GroupEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.topics[event.GroupID] {
		select {
		case sub.ch <- event:
		default:
			observability.IncBusDropped()
		}
	}
	observability.IncBusEvent(event.Type)
	return nil
}

// Subscribers returns the number of subscribers of a group.
func (b *Local) Subscribers(groupID int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[groupID])
}

func (b *Local) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[sub.groupID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.groupID)
		}
	}
	close(sub.ch)
}
