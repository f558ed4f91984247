package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"support-chat/internal/bus"
	"support-chat/internal/models"
	"support-chat/internal/observability"
)

const (
	writeWait        = 10 * time.Second
	reconcileTimeout = 5 * time.Second
)

// Snapshotter reloads group state from the store. The hub never trusts event
// payload order; every change event is answered with a fresh read.
type Snapshotter interface {
	RecentMessages(ctx context.Context, groupID int) ([]models.Message, error)
	Presence(ctx context.Context, groupID int) ([]models.PresenceRecord, error)
}

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type client struct {
	conn Conn
	info ConnInfo

	writeMu sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

type room struct {
	clients map[*client]struct{}
	sub     *bus.Subscription
}

// Hub keeps one room per group with live connections. Each room holds a
// single bus subscription shared by its clients.
type Hub struct {
	bus      bus.Bus
	snapshot Snapshotter
	log      *slog.Logger

	mu    sync.RWMutex
	rooms map[int]*room
	wg    sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub(b bus.Bus, snapshot Snapshotter, log *slog.Logger) *Hub {
	return &Hub{bus: b, snapshot: snapshot, log: log, rooms: make(map[int]*room)}
}

// Join registers a connection to a group room.
func (h *Hub) Join(groupID int, conn Conn, info ConnInfo) *client {
	c := &client{conn: conn, info: info}

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[groupID]
	if !ok {
		r = &room{clients: make(map[*client]struct{}), sub: h.bus.Subscribe(groupID)}
		h.rooms[groupID] = r
		h.wg.Add(1)
		go h.run(groupID, r.sub)
	}
	r.clients[c] = struct{}{}
	return c
}

// Leave removes a connection. The room's subscription ends with its last client.
func (h *Hub) Leave(groupID int, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[groupID]
	if !ok {
		return
	}
	delete(r.clients, c)
	if len(r.clients) == 0 {
		r.sub.Close()
		delete(h.rooms, groupID)
	}
}

// Clients counts connections in a group room.
func (h *Hub) Clients(groupID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[groupID]; ok {
		return len(r.clients)
	}
	return 0
}

// Snapshot builds the full state event sent to a freshly connected client.
func (h *Hub) Snapshot(ctx context.Context, groupID int) (models.GroupEvent, error) {
	msgs, err := h.snapshot.RecentMessages(ctx, groupID)
	if err != nil {
		return models.GroupEvent{}, err
	}
	presence, err := h.snapshot.Presence(ctx, groupID)
	if err != nil {
		return models.GroupEvent{}, err
	}
	return models.GroupEvent{Type: models.EventSnapshot, GroupID: groupID, Messages: msgs, Presence: presence, At: time.Now()}, nil
}

// SignalEmergency delivers event to every connection of userID in the group
// and returns how many received it.
func (h *Hub) SignalEmergency(groupID, userID int, event models.GroupEvent) int {
	return h.deliver(groupID, event, func(c *client) bool { return c.info.UserID == userID })
}

// Send writes one event to a single connection.
func (h *Hub) Send(groupID int, c *client, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := c.write(payload); err != nil {
		h.drop(groupID, c, err)
		return err
	}
	return nil
}

// Wait blocks until every room loop has exited.
func (h *Hub) Wait() {
	h.wg.Wait()
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var conns []Conn
	for groupID, r := range h.rooms {
		for c := range r.clients {
			conns = append(conns, c.conn)
		}
		r.sub.Close()
		delete(h.rooms, groupID)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (h *Hub) run(groupID int, sub *bus.Subscription) {
	defer h.wg.Done()
	for event := range sub.C {
		h.reconcile(groupID, event)
	}
}

func (h *Hub) reconcile(groupID int, event models.GroupEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	switch event.Type {
	case models.EventMessageCreated, models.EventMessageUpdated, models.EventMessageDeleted:
		msgs, err := h.snapshot.RecentMessages(ctx, groupID)
		if err != nil {
			h.log.Warn("reconcile messages failed", "group_id", groupID, "err", err)
			break
		}
		event.Messages = msgs
	case models.EventPresence, models.EventMemberUpdated:
		presence, err := h.snapshot.Presence(ctx, groupID)
		if err != nil {
			h.log.Warn("reconcile presence failed", "group_id", groupID, "err", err)
			break
		}
		event.Presence = presence
	case models.EventCrisisAlert:
		h.deliver(groupID, event, func(c *client) bool { return c.info.Role.Privileged() })
		return
	case models.EventEmergency:
		// targeted only, never broadcast
		return
	}
	h.deliver(groupID, event, func(*client) bool { return true })
}

func (h *Hub) deliver(groupID int, event models.GroupEvent, match func(*client) bool) int {
	h.mu.RLock()
	var targets []*client
	if r, ok := h.rooms[groupID]; ok {
		for c := range r.clients {
			if match(c) {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("encode event failed", "group_id", groupID, "type", event.Type, "err", err)
		return 0
	}
	delivered := 0
	for _, c := range targets {
		if err := c.write(payload); err != nil {
			h.drop(groupID, c, err)
			continue
		}
		delivered++
	}
	observability.IncWSEvent("group", event.Type)
	return delivered
}

func (h *Hub) drop(groupID int, c *client, err error) {
	h.log.Warn("websocket write error", "group_id", groupID, "conn_id", c.info.ConnID, "err", err)
	_ = c.conn.Close()
	h.Leave(groupID, c)
	publishLifecycle(context.Background(), "ws_error", groupID, c.info, err.Error())
}
