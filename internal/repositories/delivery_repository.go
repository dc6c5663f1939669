package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
)

// DeliveryRepository owns per-recipient delivery state transitions.
type DeliveryRepository interface {
	Transition(ctx context.Context, messageID, recipientID int64, state string) (bool, error)
	GetStatus(ctx context.Context, messageID, recipientID int64) (models.DeliveryStatus, error)
	MarkConversationRead(ctx context.Context, conversationID, userID, upToSeq int64) ([]int64, error)
	UnreadCount(ctx context.Context, conversationID, userID int64) (int64, error)
	TotalUnread(ctx context.Context, userID int64) (int64, error)
}

// DeliveryRepo is the sqlx implementation.
type DeliveryRepo struct {
	db *sqlx.DB
}

// NewDeliveryRepo constructs a DeliveryRepo.
func NewDeliveryRepo(db *sqlx.DB) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

// transitionQuery guards the update with the same ranking models.StateRank
// defines, so a duplicate or late lower-ranked signal matches no row.
var transitionQuery = `UPDATE delivery_status SET state=$1, updated_at=NOW()
         WHERE message_id=$2 AND recipient_id=$3
           AND ` + stateRankCase("state") + ` < ` + stateRankCase("$1")

// stateRankCase renders a SQL CASE ranking the given state expression exactly
// as models.StateRank does in process.
func stateRankCase(expr string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "(CASE %s", expr)
	for _, state := range []string{models.StateQueued, models.StateSent, models.StateDelivered, models.StateRead} {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", state, models.StateRank(state))
	}
	b.WriteString(" ELSE 0 END)")
	return b.String()
}

// Transition moves a message/recipient pair to the given state if and only if
// it advances. A duplicate or late lower-ranked signal is a no-op, not an
// error; the bool reports whether a row actually changed.
func (r *DeliveryRepo) Transition(ctx context.Context, messageID, recipientID int64, state string) (bool, error) {
	res, err := r.db.ExecContext(ctx, transitionQuery, state, messageID, recipientID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetStatus returns the tracked state for one message/recipient pair.
func (r *DeliveryRepo) GetStatus(ctx context.Context, messageID, recipientID int64) (models.DeliveryStatus, error) {
	var status models.DeliveryStatus
	err := r.db.GetContext(ctx, &status,
		`SELECT message_id, recipient_id, state, updated_at FROM delivery_status
         WHERE message_id=$1 AND recipient_id=$2`, messageID, recipientID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeliveryStatus{}, ErrMessageNotFound
	}
	return status, err
}

// MarkConversationRead marks every message up to (and including) upToSeq as
// read for the user and advances the member read watermark. The boundary is
// the sequence pinned by the caller at call start, so messages accepted
// mid-call stay unread. Returns the ids of messages whose state changed, in
// sequence order.
func (r *DeliveryRepo) MarkConversationRead(ctx context.Context, conversationID, userID, upToSeq int64) ([]int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var changed []int64
	rows, err := tx.QueryxContext(ctx,
		`UPDATE delivery_status ds SET state='read', updated_at=NOW()
         FROM messages m
         WHERE m.id = ds.message_id
           AND m.conversation_id=$1
           AND ds.recipient_id=$2
           AND m.sequence <= $3
           AND ds.state <> 'read'
         RETURNING m.id, m.sequence`,
		conversationID, userID, upToSeq)
	if err != nil {
		return nil, err
	}
	type changedRow struct {
		ID       int64 `db:"id"`
		Sequence int64 `db:"sequence"`
	}
	var byseq []changedRow
	for rows.Next() {
		var row changedRow
		if err := rows.StructScan(&row); err != nil {
			rows.Close()
			return nil, err
		}
		byseq = append(byseq, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversation_members SET last_read_seq = GREATEST(last_read_seq, $1)
         WHERE conversation_id=$2 AND user_id=$3`,
		upToSeq, conversationID, userID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sort.Slice(byseq, func(i, j int) bool { return byseq[i].Sequence < byseq[j].Sequence })
	for _, row := range byseq {
		changed = append(changed, row.ID)
	}
	return changed, nil
}

// UnreadCount counts messages above the user's read watermark, excluding the
// user's own messages and tombstones.
func (r *DeliveryRepo) UnreadCount(ctx context.Context, conversationID, userID int64) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages m
         JOIN conversation_members cm ON cm.conversation_id = m.conversation_id AND cm.user_id=$2
         WHERE m.conversation_id=$1
           AND m.sequence > cm.last_read_seq
           AND m.sender_id <> $2
           AND m.deleted_at IS NULL`,
		conversationID, userID)
	return count, err
}

// TotalUnread aggregates unread counts across all the user's conversations.
func (r *DeliveryRepo) TotalUnread(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages m
         JOIN conversation_members cm ON cm.conversation_id = m.conversation_id AND cm.user_id=$1
         WHERE m.sequence > cm.last_read_seq
           AND m.sender_id <> $1
           AND m.deleted_at IS NULL`,
		userID)
	return count, err
}
