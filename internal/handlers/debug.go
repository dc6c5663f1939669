package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
	"github.com/nethunterzist/7p-platform-sub005/internal/notify"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, notifier *notify.DigestNotifier, enabled bool) {
	if !enabled {
		return
	}

	// Pushes a synthetic digest through the notification pipeline so the
	// broker wiring can be verified end to end.
	router.GET("/debug/digest-test", func(c *gin.Context) {
		if notifier == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifier not configured"})
			return
		}
		requestID := requestIDFromContext(c)
		userID := c.GetInt64("userID")
		log.Printf("digest test request_id=%s user_id=%d", requestID, userID)
		notifier.NotifyOffline(c.Request.Context(), userID, models.Message{
			Content:   "digest test",
			SenderID:  userID,
			CreatedAt: time.Now().UTC(),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok", "request_id": requestID})
	})
}

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}
