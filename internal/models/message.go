package models

import "time"

// Message types.
const (
	MessageTypeText       = "text"
	MessageTypeSystem     = "system"
	MessageTypeAttachment = "attachment"
)

// TombstoneContent replaces the content of soft-deleted messages on read.
const TombstoneContent = ""

// Message is one entry in a conversation. Sequence is the authoritative
// per-conversation order; CreatedAt is display-only and may not be monotonic
// under clock skew.
type Message struct {
	ID             int64      `db:"id" json:"id"`
	ConversationID int64      `db:"conversation_id" json:"conversation_id"`
	SenderID       int64      `db:"sender_id" json:"sender_id"`
	Sequence       int64      `db:"sequence" json:"sequence"`
	ParentID       *int64     `db:"parent_id" json:"parent_id,omitempty"`
	Content        string     `db:"content" json:"content"`
	Type           string     `db:"type" json:"type"`
	AttachmentID   *string    `db:"attachment_id" json:"attachment_id,omitempty"`
	CorrelationID  *string    `db:"correlation_id" json:"correlation_id,omitempty"`
	EditedAt       *time.Time `db:"edited_at" json:"edited_at,omitempty"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Deleted reports whether the message has been tombstoned.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// Redact returns a copy safe to hand to readers: tombstoned messages keep
// their identity and sequence but lose their content and attachment.
func (m Message) Redact() Message {
	if !m.Deleted() {
		return m
	}
	m.Content = TombstoneContent
	m.AttachmentID = nil
	m.ParentID = nil
	return m
}

// Page is a sequence-cursor request for ListMessages. At most one of
// BeforeSeq/AfterSeq may be set; zero values mean "latest page".
type Page struct {
	Limit     int
	BeforeSeq int64
	AfterSeq  int64
}
