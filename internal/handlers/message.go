package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nethunterzist/7p-platform-sub005/internal/chat"
	"github.com/nethunterzist/7p-platform-sub005/internal/models"
	"github.com/nethunterzist/7p-platform-sub005/internal/observability"
)

// MessageService is the message slice of the messaging core.
type MessageService interface {
	Send(ctx context.Context, req chat.SendRequest) (models.Message, error)
	Edit(ctx context.Context, messageID, editorID int64, content string) (models.Message, error)
	Delete(ctx context.Context, messageID, requesterID int64) error
	ListMessages(ctx context.Context, conversationID, userID int64, page models.Page) ([]models.Message, error)
	Search(ctx context.Context, userID int64, query string, limit int) ([]models.Message, error)
	AttachmentURL(ctx context.Context, userID, messageID int64, ttlSeconds int) (string, error)
}

// MessageHandler manages message endpoints.
type MessageHandler struct {
	svc MessageService
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(svc MessageService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// Send accepts a message into a conversation.
func (h *MessageHandler) Send(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	var req struct {
		Content       string  `json:"content" binding:"required"`
		ParentID      *int64  `json:"parent_id"`
		AttachmentID  *string `json:"attachment_id"`
		CorrelationID *string `json:"correlation_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt64("userID")
	msg, err := h.svc.Send(c.Request.Context(), chat.SendRequest{
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        req.Content,
		ParentID:       req.ParentID,
		AttachmentID:   req.AttachmentID,
		CorrelationID:  req.CorrelationID,
	})
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	observability.IncMessageSent(msg.Type)
	c.JSON(http.StatusCreated, msg)
}

// List pages through a conversation by sequence cursor.
func (h *MessageHandler) List(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	page := models.Page{Limit: parseIntQuery(c, "limit")}
	page.BeforeSeq = parseInt64Query(c, "before_seq")
	page.AfterSeq = parseInt64Query(c, "after_seq")
	if page.BeforeSeq > 0 && page.AfterSeq > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "before_seq and after_seq are mutually exclusive"})
		return
	}

	userID := c.GetInt64("userID")
	msgs, err := h.svc.ListMessages(c.Request.Context(), conversationID, userID, page)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Edit replaces the content of the caller's own message.
func (h *MessageHandler) Edit(c *gin.Context) {
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt64("userID")
	msg, err := h.svc.Edit(c.Request.Context(), messageID, userID, req.Content)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Delete tombstones a message for everyone.
func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}

	userID := c.GetInt64("userID")
	if err := h.svc.Delete(c.Request.Context(), messageID, userID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Search matches content across the caller's conversations.
func (h *MessageHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}

	userID := c.GetInt64("userID")
	msgs, err := h.svc.Search(c.Request.Context(), userID, query, parseIntQuery(c, "limit"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Attachment resolves a message attachment into a time-bounded URL.
func (h *MessageHandler) Attachment(c *gin.Context) {
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	ttl := parseIntQuery(c, "ttl_seconds")
	if ttl <= 0 {
		ttl = 300
	}

	userID := c.GetInt64("userID")
	url, err := h.svc.AttachmentURL(c.Request.Context(), userID, messageID, ttl)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func parseMessageID(c *gin.Context) (int64, bool) {
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, false
	}
	return messageID, true
}

func parseIntQuery(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

func parseInt64Query(c *gin.Context, key string) int64 {
	v, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
