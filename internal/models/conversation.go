package models

import "time"

// Member roles within a conversation.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Conversation is a channel between a fixed set of participants. Two-party
// conversations are deduplicated through ParticipantKey; groups are not.
type Conversation struct {
	ID             int64      `db:"id" json:"id"`
	Title          *string    `db:"title" json:"title,omitempty"`
	ParticipantKey *string    `db:"participant_key" json:"-"`
	LastSequence   int64      `db:"last_sequence" json:"last_sequence"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastActivityAt time.Time  `db:"last_activity_at" json:"last_activity_at"`
}

// ConversationMember holds per-participant state for one conversation.
type ConversationMember struct {
	ConversationID int64  `db:"conversation_id" json:"conversation_id"`
	UserID         int64  `db:"user_id" json:"user_id"`
	Role           string `db:"role" json:"role"`
	Archived       bool   `db:"archived" json:"archived"`
	Muted          bool   `db:"muted" json:"muted"`
	LastReadSeq    int64  `db:"last_read_seq" json:"last_read_seq"`
}

// ConversationSummary is the API-friendly view returned by list calls.
type ConversationSummary struct {
	ConversationID int64     `db:"id" json:"conversation_id"`
	Title          *string   `db:"title" json:"title,omitempty"`
	Participants   []int64   `json:"participants"`
	Archived       bool      `db:"archived" json:"archived"`
	Muted          bool      `db:"muted" json:"muted"`
	UnreadCount    int64     `db:"unread_count" json:"unread_count"`
	LastPreview    string    `db:"last_preview" json:"last_preview"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ConversationFilter narrows ListConversations results. Nil fields are
// ignored; Role matches the caller's own membership role.
type ConversationFilter struct {
	HasUnread *bool
	Role      *string
	Archived  *bool
	Muted     *bool
}
