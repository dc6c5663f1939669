package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
	"github.com/nethunterzist/7p-platform-sub005/internal/observability"
)

// MessagingService is the slice of the chat service the socket layer needs
// for inbound signals.
type MessagingService interface {
	MarkRead(ctx context.Context, messageID, recipientID int64) error
	MarkConversationRead(ctx context.Context, conversationID, userID int64) error
	Replay(ctx context.Context, conversationID, userID, afterSeq int64) ([]models.Message, bool, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundFrame is what clients push over the socket: fire-and-forget typing
// and read signals, plus replay requests after a reconnect.
type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	MessageID      int64  `json:"message_id,omitempty"`
	IsTyping       bool   `json:"is_typing,omitempty"`
	AfterSequence  int64  `json:"after_sequence,omitempty"`
}

// SubscribeHandler upgrades authenticated connections into hub subscriptions.
type SubscribeHandler struct {
	hub      *Hub
	typing   *TypingEngine
	presence *PresenceTracker
	svc      MessagingService
}

// NewSubscribeHandler constructs the websocket entry point.
func NewSubscribeHandler(hub *Hub, typing *TypingEngine, presence *PresenceTracker, svc MessagingService) *SubscribeHandler {
	return &SubscribeHandler{hub: hub, typing: typing, presence: presence, svc: svc}
}

// Handle upgrades the connection, registers the client, and runs the read
// loop until the peer goes away.
func (h *SubscribeHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetInt64("userID")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(h.hub, conn, info)
	h.hub.Register(client)
	h.presence.ConnectionOpened(userID)

	observability.IncWSActive("subscribe")
	observability.IncWSEvent("subscribe", "ws_connect")

	go client.WritePump()
	go h.readLoop(client)
}

func (h *SubscribeHandler) readLoop(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.Close()
		h.presence.ConnectionClosed(client.UserID())
		// A dropped connection stops composing.
		if h.hub.ConnectionCount(client.UserID()) == 0 {
			h.typing.StopUser(client.UserID())
		}
		observability.DecWSActive("subscribe")
		observability.IncWSEvent("subscribe", "ws_disconnect")
	}()

	for {
		var frame inboundFrame
		if err := client.conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("subscribe", "ws_error")
			}
			return
		}
		h.dispatch(client, frame)
	}
}

func (h *SubscribeHandler) dispatch(client *Client, frame inboundFrame) {
	userID := client.UserID()
	switch frame.Type {
	case "typing":
		h.typing.Set(frame.ConversationID, userID, frame.IsTyping)
		observability.IncWSEvent("subscribe", "typing_signal")
	case "read":
		_ = h.svc.MarkRead(context.Background(), frame.MessageID, userID)
	case "read_conversation":
		_ = h.svc.MarkConversationRead(context.Background(), frame.ConversationID, userID)
	case "replay":
		h.replay(client, frame.ConversationID, frame.AfterSequence)
	}
}

// replay re-emits missed MessageCreated events in sequence order, or tells
// the client the gap is beyond the window.
func (h *SubscribeHandler) replay(client *Client, conversationID, afterSeq int64) {
	msgs, ok, err := h.svc.Replay(context.Background(), conversationID, client.UserID(), afterSeq)
	if err != nil {
		observability.IncWSEvent("subscribe", "replay_error")
		return
	}
	if !ok {
		client.TryEnqueue(models.Event{
			Type:           models.EventReplayTooOld,
			ConversationID: conversationID,
		})
		return
	}
	for i := range msgs {
		client.TryEnqueue(models.Event{
			Type:           models.EventMessageCreated,
			ConversationID: conversationID,
			Sequence:       msgs[i].Sequence,
			Message:        &msgs[i],
		})
	}
	observability.IncWSEvent("subscribe", "replay_served")
}
