package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/nethunterzist/7p-platform-sub005/internal/chat"
	"github.com/nethunterzist/7p-platform-sub005/internal/db"
	"github.com/nethunterzist/7p-platform-sub005/internal/handlers"
	"github.com/nethunterzist/7p-platform-sub005/internal/middleware"
	"github.com/nethunterzist/7p-platform-sub005/internal/notify"
	"github.com/nethunterzist/7p-platform-sub005/internal/observability"
	"github.com/nethunterzist/7p-platform-sub005/internal/rabbitmq"
	"github.com/nethunterzist/7p-platform-sub005/internal/repositories"
	"github.com/nethunterzist/7p-platform-sub005/internal/storage"
	"github.com/nethunterzist/7p-platform-sub005/internal/ws"
)

const serviceName = "messaging-service"

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	environment := getEnv("ENVIRONMENT", "development")

	shutdownTracing, err := observability.SetupTracing(context.Background(), getEnv("OTLP_ENDPOINT", ""), serviceName, environment)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(getEnv("AMQP_URL", ""), getEnv("AMQP_EXCHANGE", "platform.events"))
	defer publisher.Close()
	log.Printf("notification publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))

	notifier := notify.NewDigestNotifier(publisher, getEnv("DIGEST_ROUTING_KEY", "messaging.digest"), serviceName, environment)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	deliveryRepo := repositories.NewDeliveryRepo(database)

	hub := ws.NewHub()

	svc := chat.NewService(conversationRepo, messageRepo, deliveryRepo, hub)
	hub.SetDeliverySink(svc)

	presence := ws.NewPresenceTracker(hub, conversationRepo, ws.DefaultOfflineGrace)
	defer presence.Stop()
	typing := ws.NewTypingEngine(hub, conversationRepo, ws.DefaultTypingTimeout)
	defer typing.Stop()

	svc.SetPresence(presence)
	svc.SetNotifier(notifier)
	svc.SetAttachments(storage.NewSignedURLStore(
		getEnv("ATTACHMENT_BASE_URL", "http://localhost:8086"),
		getEnv("ATTACHMENT_SIGNING_SECRET", "dev-attachment-secret"),
	))

	conversationHandler := handlers.NewConversationHandler(svc)
	messageHandler := handlers.NewMessageHandler(svc)
	readHandler := handlers.NewReadHandler(svc)
	subscribeWS := ws.NewSubscribeHandler(hub, typing, presence, svc)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(getEnv("JWT_SECRET", "dev-secret"))

	sendLimiter := middleware.NewLimiterStore(envInt("SEND_RATE_PER_MINUTE", 120), envInt("SEND_RATE_BURST", 20), 5*time.Minute)
	defer sendLimiter.Stop()
	sendRateLimit := middleware.RateLimitMiddleware(sendLimiter)

	router.POST("/conversations", authMiddleware, conversationHandler.Create)
	router.GET("/conversations", authMiddleware, conversationHandler.List)
	router.POST("/conversations/:conversation_id/archive", authMiddleware, conversationHandler.SetArchived)
	router.POST("/conversations/:conversation_id/mute", authMiddleware, conversationHandler.SetMuted)
	router.POST("/conversations/:conversation_id/read", authMiddleware, readHandler.MarkConversationRead)

	router.POST("/conversations/:conversation_id/messages", authMiddleware, sendRateLimit, messageHandler.Send)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, messageHandler.List)
	router.PATCH("/messages/:message_id", authMiddleware, messageHandler.Edit)
	router.DELETE("/messages/:message_id", authMiddleware, messageHandler.Delete)
	router.POST("/messages/:message_id/read", authMiddleware, readHandler.MarkRead)
	router.GET("/messages/:message_id/attachment", authMiddleware, messageHandler.Attachment)
	router.GET("/messages/search", authMiddleware, messageHandler.Search)
	router.GET("/unread", authMiddleware, readHandler.UnreadCount)

	router.GET("/ws", authMiddleware, subscribeWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterDebugRoutes(router, notifier, getEnv("DEBUG_ROUTES", "") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}
