package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReadService is the delivery-tracking slice of the messaging core.
type ReadService interface {
	MarkRead(ctx context.Context, messageID, recipientID int64) error
	MarkConversationRead(ctx context.Context, conversationID, userID int64) error
	UnreadCount(ctx context.Context, userID int64) (int64, error)
	ConversationUnread(ctx context.Context, conversationID, userID int64) (int64, error)
}

// ReadHandler manages read acknowledgement and unread count endpoints.
type ReadHandler struct {
	svc ReadService
}

// NewReadHandler builds a ReadHandler.
func NewReadHandler(svc ReadService) *ReadHandler {
	return &ReadHandler{svc: svc}
}

// MarkRead acknowledges one message.
func (h *ReadHandler) MarkRead(c *gin.Context) {
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	userID := c.GetInt64("userID")
	if err := h.svc.MarkRead(c.Request.Context(), messageID, userID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkConversationRead acknowledges everything up to the current sequence.
func (h *ReadHandler) MarkConversationRead(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	userID := c.GetInt64("userID")
	if err := h.svc.MarkConversationRead(c.Request.Context(), conversationID, userID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// UnreadCount returns the caller's unread totals.
func (h *ReadHandler) UnreadCount(c *gin.Context) {
	userID := c.GetInt64("userID")

	if raw := c.Query("conversation_id"); raw != "" {
		conversationID := parseInt64Query(c, "conversation_id")
		count, err := h.svc.ConversationUnread(c.Request.Context(), conversationID, userID)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "unread": count})
		return
	}

	count, err := h.svc.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": "failed to load unread count"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}
