package models

import "time"

// Event types fanned out to subscribed clients.
const (
	EventMessageCreated     = "message_created"
	EventMessageEdited      = "message_edited"
	EventMessageDeleted     = "message_deleted"
	EventStatusChanged      = "status_changed"
	EventTypingChanged      = "typing_changed"
	EventPresenceChanged    = "presence_changed"
	EventUnreadCountChanged = "unread_count_changed"

	// EventReplayTooOld answers a replay request whose gap exceeds the
	// replay window; the client falls back to pagination.
	EventReplayTooOld = "replay_too_old"
)

// Event is the tagged union broadcast over websockets. Exactly one payload
// pointer is set, matching Type.
type Event struct {
	Type           string          `json:"type"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	Sequence       int64           `json:"sequence,omitempty"`
	Message        *Message        `json:"message,omitempty"`
	Status         *StatusUpdate   `json:"status,omitempty"`
	Typing         *TypingUpdate   `json:"typing,omitempty"`
	Presence       *PresenceUpdate `json:"presence,omitempty"`
	Unread         *UnreadUpdate   `json:"unread,omitempty"`
}

// StatusUpdate reports a delivery state transition.
type StatusUpdate struct {
	MessageID   int64     `json:"message_id"`
	RecipientID int64     `json:"recipient_id"`
	State       string    `json:"state"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TypingUpdate reports an idle<->typing transition, never a timer refresh.
type TypingUpdate struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	IsTyping       bool  `json:"is_typing"`
}

// PresenceUpdate reports an online/offline transition.
type PresenceUpdate struct {
	UserID   int64     `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// UnreadUpdate carries a recipient's refreshed unread totals.
type UnreadUpdate struct {
	ConversationID int64 `json:"conversation_id"`
	Unread         int64 `json:"unread"`
	TotalUnread    int64 `json:"total_unread"`
}
