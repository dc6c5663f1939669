package ws

import (
	"context"
	"sync"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
	"github.com/nethunterzist/7p-platform-sub005/internal/observability"
)

// DeliverySink receives delivery confirmations as events reach connections.
// Implemented by the chat service; calls must be cheap and never publish
// back synchronously into the calling goroutine's lock scope.
type DeliverySink interface {
	MarkSent(ctx context.Context, messageID, recipientID int64)
	MarkDelivered(ctx context.Context, messageID, recipientID int64)
}

// Hub routes events to the active connections of subscribed users. Ordering
// within one conversation is preserved per connection: publishes for a
// conversation are serialized upstream by the sequencer, and each connection
// drains its egress channel with a single writer.
type Hub struct {
	mu    sync.RWMutex
	users map[int64]map[*Client]struct{}
	sink  DeliverySink
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{users: make(map[int64]map[*Client]struct{})}
}

// SetDeliverySink wires the delivery tracker. Must be called before clients
// connect.
func (h *Hub) SetDeliverySink(sink DeliverySink) {
	h.sink = sink
}

// Register adds a connection to its user's subscription set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[c.userID]; !ok {
		h.users[c.userID] = make(map[*Client]struct{})
	}
	h.users[c.userID][c] = struct{}{}
}

// Unregister removes a connection; the last connection removes the user key.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.users[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.userID)
		}
	}
}

// ConnectionCount reports the number of active connections for a user.
func (h *Hub) ConnectionCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// PublishToUsers delivers an event to every active connection of the given
// users. Durable events (messages, status, unread) must not be lost to a slow
// consumer, so a saturated connection is dropped and left to the reconnect
// protocol. Ephemeral typing/presence events are dropped instead, never
// blocking the caller.
func (h *Hub) PublishToUsers(userIDs []int64, ev models.Event) {
	h.mu.RLock()
	var targets []*Client
	for _, userID := range userIDs {
		for c := range h.users[userID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	ephemeral := ev.Type == models.EventTypingChanged || ev.Type == models.EventPresenceChanged

	for _, c := range targets {
		if ephemeral {
			if !c.TryEnqueue(ev) {
				observability.IncWSEvent("subscribe", "ephemeral_dropped")
			}
			continue
		}
		if !c.TryEnqueue(ev) {
			// Saturated egress: the connection is beyond repair here, the
			// client recovers via replay after reconnecting.
			h.Unregister(c)
			c.Close()
			observability.IncWSEvent("subscribe", "slow_consumer_dropped")
			continue
		}
		if h.sink != nil && ev.Type == models.EventMessageCreated && ev.Message != nil && ev.Message.SenderID != c.userID {
			h.sink.MarkSent(context.Background(), ev.Message.ID, c.userID)
		}
	}
}

func (h *Hub) confirmWrite(c *Client, ev models.Event) {
	if h.sink == nil {
		return
	}
	if ev.Type == models.EventMessageCreated && ev.Message != nil && ev.Message.SenderID != c.userID {
		h.sink.MarkDelivered(context.Background(), ev.Message.ID, c.userID)
	}
}
