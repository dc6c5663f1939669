package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrDuplicatePair reports a concurrent creation of the same two-party
	// conversation; the caller resolves it by re-reading the pair key.
	ErrDuplicatePair = errors.New("two-party conversation already exists")
)

// MemberInit seeds one participant row at conversation creation.
type MemberInit struct {
	UserID int64
	Role   string
}

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateConversation(ctx context.Context, title *string, participantKey *string, members []MemberInit) (models.Conversation, error)
	GetByParticipantKey(ctx context.Context, key string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID int64) (bool, error)
	GetMember(ctx context.Context, conversationID, userID int64) (models.ConversationMember, error)
	MemberIDs(ctx context.Context, conversationID int64) ([]int64, error)
	RelatedUserIDs(ctx context.Context, userID int64) ([]int64, error)
	ListConversations(ctx context.Context, userID int64, filter models.ConversationFilter) ([]models.ConversationSummary, error)
	SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error
	SetMuted(ctx context.Context, conversationID, userID int64, muted bool) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// PairKey builds the storage key used to deduplicate two-party conversations.
func PairKey(a, b int64) string {
	ids := []int64{a, b}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return fmt.Sprintf("%d:%d", ids[0], ids[1])
}

// CreateConversation inserts the conversation and its member rows in one
// transaction. For two-party conversations participantKey carries the unique
// pair key; a concurrent duplicate surfaces as a unique violation the caller
// resolves by re-reading.
func (r *ConversationRepo) CreateConversation(ctx context.Context, title *string, participantKey *string, members []MemberInit) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	var conv models.Conversation
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO conversations (title, participant_key) VALUES ($1, $2)
         RETURNING id, title, participant_key, last_sequence, created_at, last_activity_at`,
		title, participantKey).StructScan(&conv)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.Conversation{}, ErrDuplicatePair
		}
		return models.Conversation{}, err
	}

	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id, role) VALUES ($1, $2, $3)`,
			conv.ID, m.UserID, m.Role); err != nil {
			return models.Conversation{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// GetByParticipantKey looks up the two-party conversation for a pair key.
func (r *ConversationRepo) GetByParticipantKey(ctx context.Context, key string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT id, title, participant_key, last_sequence, created_at, last_activity_at
         FROM conversations WHERE participant_key=$1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT id, title, participant_key, last_sequence, created_at, last_activity_at
         FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsMember checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, userID)
	return exists, err
}

// GetMember returns the per-participant row for one user.
func (r *ConversationRepo) GetMember(ctx context.Context, conversationID, userID int64) (models.ConversationMember, error) {
	var member models.ConversationMember
	err := r.db.GetContext(ctx, &member,
		`SELECT conversation_id, user_id, role, archived, muted, last_read_seq
         FROM conversation_members WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConversationMember{}, ErrConversationNotFound
	}
	return member, err
}

// MemberIDs lists all participant user ids in the conversation.
func (r *ConversationRepo) MemberIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM conversation_members WHERE conversation_id=$1 ORDER BY user_id`,
		conversationID)
	return ids, err
}

// RelatedUserIDs returns every user sharing at least one conversation with
// the given user. Presence transitions fan out to this set.
func (r *ConversationRepo) RelatedUserIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT cm.user_id FROM conversation_members cm
         WHERE cm.user_id <> $1 AND cm.conversation_id IN (
             SELECT conversation_id FROM conversation_members WHERE user_id=$1
         )`, userID)
	return ids, err
}

// ListConversations returns the user's conversations ordered by last activity,
// each annotated with unread count and last message preview.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID int64, filter models.ConversationFilter) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.title, cm.archived, cm.muted, c.last_activity_at, c.created_at,
            COALESCE((SELECT COUNT(*) FROM messages m
                WHERE m.conversation_id = c.id
                  AND m.sequence > cm.last_read_seq
                  AND m.sender_id <> cm.user_id
                  AND m.deleted_at IS NULL), 0) AS unread_count,
            COALESCE((SELECT CASE WHEN m.deleted_at IS NULL THEN m.content ELSE '' END
                FROM messages m
                WHERE m.conversation_id = c.id
                ORDER BY m.sequence DESC LIMIT 1), '') AS last_preview
        FROM conversations c
        JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = $1`

	conds := []string{}
	args := []interface{}{userID}
	if filter.Archived != nil {
		args = append(args, *filter.Archived)
		conds = append(conds, fmt.Sprintf("cm.archived = $%d", len(args)))
	}
	if filter.Muted != nil {
		args = append(args, *filter.Muted)
		conds = append(conds, fmt.Sprintf("cm.muted = $%d", len(args)))
	}
	if filter.Role != nil {
		args = append(args, *filter.Role)
		conds = append(conds, fmt.Sprintf("cm.role = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY c.last_activity_at DESC"

	var summaries []models.ConversationSummary
	if err := r.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, err
	}

	if filter.HasUnread != nil {
		filtered := summaries[:0]
		for _, s := range summaries {
			if (s.UnreadCount > 0) == *filter.HasUnread {
				filtered = append(filtered, s)
			}
		}
		summaries = filtered
	}

	for i := range summaries {
		ids, err := r.MemberIDs(ctx, summaries[i].ConversationID)
		if err != nil {
			return nil, err
		}
		summaries[i].Participants = ids
	}
	return summaries, nil
}

// SetArchived updates the per-participant archived flag.
func (r *ConversationRepo) SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error {
	return r.setMemberFlag(ctx, "archived", conversationID, userID, archived)
}

// SetMuted updates the per-participant muted flag.
func (r *ConversationRepo) SetMuted(ctx context.Context, conversationID, userID int64, muted bool) error {
	return r.setMemberFlag(ctx, "muted", conversationID, userID, muted)
}

func (r *ConversationRepo) setMemberFlag(ctx context.Context, column string, conversationID, userID int64, value bool) error {
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE conversation_members SET %s=$1 WHERE conversation_id=$2 AND user_id=$3`, column),
		value, conversationID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}
