package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
)

// ConversationService is the conversation slice of the messaging core.
type ConversationService interface {
	CreateOrGetConversation(ctx context.Context, creatorID int64, participantIDs []int64, title *string) (models.Conversation, error)
	ListConversations(ctx context.Context, userID int64, filter models.ConversationFilter) ([]models.ConversationSummary, error)
	SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error
	SetMuted(ctx context.Context, conversationID, userID int64, muted bool) error
}

// ConversationHandler manages conversation lifecycle endpoints.
type ConversationHandler struct {
	svc ConversationService
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(svc ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// Create starts a conversation, or returns the existing two-party one.
func (h *ConversationHandler) Create(c *gin.Context) {
	var req struct {
		ParticipantIDs []int64 `json:"participant_ids" binding:"required"`
		Title          *string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt64("userID")
	conv, err := h.svc.CreateOrGetConversation(c.Request.Context(), userID, req.ParticipantIDs, req.Title)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conv)
}

// List returns the caller's conversations with unread counts and previews.
func (h *ConversationHandler) List(c *gin.Context) {
	userID := c.GetInt64("userID")

	var filter models.ConversationFilter
	if v, ok := parseBoolQuery(c, "has_unread"); ok {
		filter.HasUnread = &v
	}
	if v, ok := parseBoolQuery(c, "archived"); ok {
		filter.Archived = &v
	}
	if v, ok := parseBoolQuery(c, "muted"); ok {
		filter.Muted = &v
	}
	if role := c.Query("role"); role != "" {
		filter.Role = &role
	}

	conversations, err := h.svc.ListConversations(c.Request.Context(), userID, filter)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// SetArchived flips the caller's archived flag.
func (h *ConversationHandler) SetArchived(c *gin.Context) {
	h.setFlag(c, h.svc.SetArchived)
}

// SetMuted flips the caller's muted flag.
func (h *ConversationHandler) SetMuted(c *gin.Context) {
	h.setFlag(c, h.svc.SetMuted)
}

func (h *ConversationHandler) setFlag(c *gin.Context, set func(ctx context.Context, conversationID, userID int64, value bool) error) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	var req struct {
		Value *bool `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt64("userID")
	if err := set(c.Request.Context(), conversationID, userID, *req.Value); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func parseConversationID(c *gin.Context) (int64, bool) {
	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return conversationID, true
}

func parseBoolQuery(c *gin.Context, key string) (bool, bool) {
	raw, ok := c.GetQuery(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
