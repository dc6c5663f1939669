package notify

import (
	"context"
	"log"
	"time"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
)

// Publisher is the broker-facing side of the notifier.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// DigestNotifier hands offline-recipient digests to the notification
// pipeline. Delivery is best effort; a failed publish is logged and dropped.
type DigestNotifier struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

// DigestEnvelope is the broker payload consumed by the notification workers.
type DigestEnvelope struct {
	SchemaVersion  int       `json:"schema_version"`
	EventType      string    `json:"event_type"`
	OccurredAt     string    `json:"occurred_at"`
	Service        string    `json:"service"`
	Environment    string    `json:"environment"`
	RecipientID    int64     `json:"recipient_id"`
	ConversationID int64     `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	SenderID       int64     `json:"sender_id"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sent_at"`
}

const previewRunes = 120

func NewDigestNotifier(publisher Publisher, routingKey, service, environment string) *DigestNotifier {
	return &DigestNotifier{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// NotifyOffline publishes a digest for one offline recipient.
func (n *DigestNotifier) NotifyOffline(ctx context.Context, recipientID int64, msg models.Message) {
	if n == nil || n.publisher == nil {
		return
	}

	envelope := DigestEnvelope{
		SchemaVersion:  1,
		EventType:      "offline_message_digest",
		OccurredAt:     time.Now().UTC().Format(time.RFC3339Nano),
		Service:        n.service,
		Environment:    n.environment,
		RecipientID:    recipientID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		Preview:        preview(msg.Content),
		SentAt:         msg.CreatedAt,
	}

	if err := n.publisher.Publish(ctx, n.routingKey, envelope); err != nil {
		log.Printf("digest publish failed recipient=%d message=%d: %v", recipientID, msg.ID, err)
	}
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}
	return string(runes[:previewRunes])
}
