package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")

	// ErrSequenceConflict reports that the storage backstop rejected a
	// sequence number already taken by another writer.
	ErrSequenceConflict = errors.New("sequence number already allocated")

	// ErrDuplicateCorrelation reports an insert whose correlation id was
	// already accepted; the caller re-reads the accepted message.
	ErrDuplicateCorrelation = errors.New("correlation id already accepted")
)

const messageColumns = `id, conversation_id, sender_id, sequence, parent_id, content, type,
    attachment_id, correlation_id, edited_at, deleted_at, created_at`

// MessageRepository defines interactions for messages.
type MessageRepository interface {
	InsertMessage(ctx context.Context, msg models.Message, recipientIDs []int64) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (models.Message, error)
	MaxSequence(ctx context.Context, conversationID int64) (int64, error)
	UpdateContent(ctx context.Context, messageID int64, content string) (models.Message, error)
	SoftDelete(ctx context.Context, messageID int64) error
	ListMessages(ctx context.Context, conversationID int64, page models.Page) ([]models.Message, error)
	Search(ctx context.Context, userID int64, query string, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// InsertMessage persists a message with its pre-allocated sequence number,
// bumps the conversation watermark and seeds queued delivery rows for every
// recipient, all in one transaction. The UNIQUE(conversation_id, sequence)
// constraint backstops the in-process sequencer.
func (r *MessageRepo) InsertMessage(ctx context.Context, msg models.Message, recipientIDs []int64) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var inserted models.Message
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, sequence, parent_id, content, type, attachment_id, correlation_id)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
         RETURNING `+messageColumns,
		msg.ConversationID, msg.SenderID, msg.Sequence, msg.ParentID,
		msg.Content, msg.Type, msg.AttachmentID, msg.CorrelationID).StructScan(&inserted)
	if err != nil {
		return models.Message{}, classifyInsertError(err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_sequence=$1, last_activity_at=NOW() WHERE id=$2 AND last_sequence < $1`,
		msg.Sequence, msg.ConversationID); err != nil {
		return models.Message{}, err
	}

	for _, recipientID := range recipientIDs {
		if recipientID == msg.SenderID {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO delivery_status (message_id, recipient_id, state) VALUES ($1, $2, $3)`,
			inserted.ID, recipientID, models.StateQueued); err != nil {
			return models.Message{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return inserted, nil
}

func classifyInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if pqErr.Constraint == "messages_correlation_id_key" {
			return ErrDuplicateCorrelation
		}
		return ErrSequenceConflict
	}
	return err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetByCorrelationID resolves a retried send to its accepted message.
func (r *MessageRepo) GetByCorrelationID(ctx context.Context, correlationID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE correlation_id=$1`, correlationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MaxSequence returns the highest accepted sequence in the conversation.
func (r *MessageRepo) MaxSequence(ctx context.Context, conversationID int64) (int64, error) {
	var max int64
	err := r.db.GetContext(ctx, &max,
		`SELECT COALESCE(MAX(sequence), 0) FROM messages WHERE conversation_id=$1`, conversationID)
	return max, err
}

// UpdateContent applies an edit: new content, edited_at set, sequence kept.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID int64, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`UPDATE messages SET content=$1, edited_at=NOW() WHERE id=$2 AND deleted_at IS NULL
         RETURNING `+messageColumns, content, messageID).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// SoftDelete tombstones a message. Content stays in storage but every read
// path redacts it.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListMessages pages through a conversation keyed on sequence number, so the
// walk is stable under concurrent inserts. Results are ascending by sequence.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int64, page models.Page) ([]models.Message, error) {
	if page.Limit <= 0 {
		page.Limit = 50
	}

	var msgs []models.Message
	var err error
	switch {
	case page.AfterSeq > 0:
		err = r.db.SelectContext(ctx, &msgs,
			`SELECT `+messageColumns+` FROM messages
             WHERE conversation_id=$1 AND sequence > $2
             ORDER BY sequence ASC LIMIT $3`,
			conversationID, page.AfterSeq, page.Limit)
	case page.BeforeSeq > 0:
		err = r.db.SelectContext(ctx, &msgs,
			`SELECT `+messageColumns+` FROM messages
             WHERE conversation_id=$1 AND sequence < $2
             ORDER BY sequence DESC LIMIT $3`,
			conversationID, page.BeforeSeq, page.Limit)
	default:
		err = r.db.SelectContext(ctx, &msgs,
			`SELECT `+messageColumns+` FROM messages
             WHERE conversation_id=$1
             ORDER BY sequence DESC LIMIT $2`,
			conversationID, page.Limit)
	}
	if err != nil {
		return nil, err
	}

	// Descending pages are re-ordered ascending before return.
	if page.AfterSeq == 0 {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

// Search matches message content across the user's conversations, most
// recent first. Tombstoned messages never match.
func (r *MessageRepo) Search(ctx context.Context, userID int64, query string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT m.id, m.conversation_id, m.sender_id, m.sequence, m.parent_id, m.content, m.type,
                m.attachment_id, m.correlation_id, m.edited_at, m.deleted_at, m.created_at
         FROM messages m
         JOIN conversation_members cm ON cm.conversation_id = m.conversation_id AND cm.user_id=$1
         WHERE m.deleted_at IS NULL AND m.content ILIKE '%' || $2 || '%'
         ORDER BY m.created_at DESC LIMIT $3`,
		userID, query, limit)
	return msgs, err
}
