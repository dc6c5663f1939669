package models

import "time"

// Delivery states, in monotonic order. A row never moves backward.
const (
	StateQueued    = "queued"
	StateSent      = "sent"
	StateDelivered = "delivered"
	StateRead      = "read"
)

// StateRank orders delivery states for the monotonic transition guard.
// Unknown states rank below queued so they can never overwrite anything.
func StateRank(state string) int {
	switch state {
	case StateQueued:
		return 1
	case StateSent:
		return 2
	case StateDelivered:
		return 3
	case StateRead:
		return 4
	default:
		return 0
	}
}

// DeliveryStatus tracks one message for one recipient other than the sender.
type DeliveryStatus struct {
	MessageID   int64     `db:"message_id" json:"message_id"`
	RecipientID int64     `db:"recipient_id" json:"recipient_id"`
	State       string    `db:"state" json:"state"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
