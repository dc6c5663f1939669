package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
	"github.com/nethunterzist/7p-platform-sub005/internal/repositories"
)

const (
	// MaxContentRunes bounds message content length.
	MaxContentRunes = 4000

	// DefaultReplayWindow bounds how far behind a reconnecting client may be
	// before it must fall back to pagination.
	DefaultReplayWindow = 500
)

// EventBus fans an event out to the connected clients of the given users.
// Implemented by the websocket hub.
type EventBus interface {
	PublishToUsers(userIDs []int64, ev models.Event)
}

// PresenceView reports whether a user currently holds an active connection.
type PresenceView interface {
	IsOnline(userID int64) bool
}

// Notifier delivers best-effort digests to offline recipients.
type Notifier interface {
	NotifyOffline(ctx context.Context, recipientID int64, msg models.Message)
}

// AttachmentStore is the object storage collaborator: it turns an attachment
// id into a time-bounded access URL.
type AttachmentStore interface {
	GetAttachmentURL(ctx context.Context, attachmentID string, ttlSeconds int) (string, error)
}

// SendRequest carries one message intent into the store. CorrelationID is
// client-assigned; retries reusing it are idempotent.
type SendRequest struct {
	ConversationID int64
	SenderID       int64
	Content        string
	Type           string
	ParentID       *int64
	AttachmentID   *string
	CorrelationID  *string
}

// Service is the messaging core: conversation lifecycle, ordered message
// acceptance, delivery tracking, and event publication.
type Service struct {
	convRepo     repositories.ConversationRepository
	messageRepo  repositories.MessageRepository
	deliveryRepo repositories.DeliveryRepository
	sequencer    *Sequencer
	bus          EventBus

	presence    PresenceView
	notifier    Notifier
	attachments AttachmentStore

	replayWindow int64
}

// NewService builds the messaging service. Presence, notifier, and attachment
// collaborators are optional and wired via the setters.
func NewService(convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, deliveryRepo repositories.DeliveryRepository, bus EventBus) *Service {
	return &Service{
		convRepo:     convRepo,
		messageRepo:  messageRepo,
		deliveryRepo: deliveryRepo,
		sequencer:    NewSequencer(messageRepo),
		bus:          bus,
		replayWindow: DefaultReplayWindow,
	}
}

// SetPresence wires the presence tracker used for offline digests.
func (s *Service) SetPresence(p PresenceView) { s.presence = p }

// SetNotifier wires the offline digest notifier.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetAttachments wires the object storage collaborator.
func (s *Service) SetAttachments(a AttachmentStore) { s.attachments = a }

// CreateOrGetConversation starts a conversation. Exactly two distinct
// participants resolve to the existing pair conversation when one exists;
// three or more always create a new group. The creator becomes admin.
func (s *Service) CreateOrGetConversation(ctx context.Context, creatorID int64, participantIDs []int64, title *string) (models.Conversation, error) {
	distinct := distinctParticipants(creatorID, participantIDs)
	if len(distinct) < 2 {
		return models.Conversation{}, ErrInvalidParticipants
	}

	var key *string
	if len(distinct) == 2 {
		k := repositories.PairKey(distinct[0], distinct[1])
		key = &k
		conv, err := s.convRepo.GetByParticipantKey(ctx, k)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, repositories.ErrConversationNotFound) {
			return models.Conversation{}, err
		}
	}

	members := make([]repositories.MemberInit, 0, len(distinct))
	for _, id := range distinct {
		role := models.RoleMember
		if id == creatorID {
			role = models.RoleAdmin
		}
		members = append(members, repositories.MemberInit{UserID: id, Role: role})
	}

	conv, err := s.convRepo.CreateConversation(ctx, title, key, members)
	if errors.Is(err, repositories.ErrDuplicatePair) && key != nil {
		// Lost the race to a concurrent creator; the existing one wins.
		return s.convRepo.GetByParticipantKey(ctx, *key)
	}
	return conv, err
}

func distinctParticipants(creatorID int64, participantIDs []int64) []int64 {
	seen := map[int64]struct{}{creatorID: {}}
	distinct := []int64{creatorID}
	for _, id := range participantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}
	return distinct
}

// ListConversations returns the user's conversations, newest activity first.
func (s *Service) ListConversations(ctx context.Context, userID int64, filter models.ConversationFilter) ([]models.ConversationSummary, error) {
	return s.convRepo.ListConversations(ctx, userID, filter)
}

// SetArchived flips the caller's archived flag on a conversation.
func (s *Service) SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.convRepo.SetArchived(ctx, conversationID, userID, archived)
}

// SetMuted flips the caller's muted flag on a conversation.
func (s *Service) SetMuted(ctx context.Context, conversationID, userID int64, muted bool) error {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.convRepo.SetMuted(ctx, conversationID, userID, muted)
}

func (s *Service) requireMember(ctx context.Context, conversationID, userID int64) error {
	member, err := s.convRepo.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotAMember
	}
	return nil
}

// Send validates and accepts a message: sequence allocation under the
// per-conversation lock, persistence with queued delivery rows, then fan-out.
// A retried correlation id returns the already-accepted message without
// publishing again.
func (s *Service) Send(ctx context.Context, req SendRequest) (models.Message, error) {
	if _, err := s.convRepo.GetConversation(ctx, req.ConversationID); err != nil {
		return models.Message{}, err
	}
	if err := s.requireMember(ctx, req.ConversationID, req.SenderID); err != nil {
		return models.Message{}, err
	}
	if err := validateContent(req.Content); err != nil {
		return models.Message{}, err
	}

	if req.CorrelationID != nil {
		existing, err := s.messageRepo.GetByCorrelationID(ctx, *req.CorrelationID)
		if err == nil {
			return existing.Redact(), nil
		}
		if !errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, err
		}
	}

	if req.ParentID != nil {
		parent, err := s.messageRepo.GetMessage(ctx, *req.ParentID)
		if err != nil || parent.ConversationID != req.ConversationID {
			return models.Message{}, ErrInvalidParent
		}
	}

	msgType := req.Type
	if msgType == "" {
		msgType = models.MessageTypeText
		if req.AttachmentID != nil {
			msgType = models.MessageTypeAttachment
		}
	}

	memberIDs, err := s.convRepo.MemberIDs(ctx, req.ConversationID)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		ParentID:       req.ParentID,
		Content:        req.Content,
		Type:           msgType,
		AttachmentID:   req.AttachmentID,
		CorrelationID:  req.CorrelationID,
	}

	var inserted models.Message
	persist := func(seq int64) error {
		msg.Sequence = seq
		var insertErr error
		inserted, insertErr = s.messageRepo.InsertMessage(ctx, msg, memberIDs)
		return insertErr
	}

	// One retry after a sequence conflict: another process advanced the
	// watermark, the sequencer reloads it.
	var allocErr error
	for attempt := 0; attempt < 2; attempt++ {
		_, allocErr = s.sequencer.Allocate(ctx, req.ConversationID, persist)
		if allocErr == nil || !errors.Is(allocErr, repositories.ErrSequenceConflict) {
			break
		}
	}
	if allocErr != nil {
		if errors.Is(allocErr, repositories.ErrDuplicateCorrelation) && req.CorrelationID != nil {
			existing, getErr := s.messageRepo.GetByCorrelationID(ctx, *req.CorrelationID)
			if getErr != nil {
				return models.Message{}, getErr
			}
			return existing.Redact(), nil
		}
		return models.Message{}, fmt.Errorf("%w: %v", ErrTransientStorage, allocErr)
	}

	s.bus.PublishToUsers(memberIDs, models.Event{
		Type:           models.EventMessageCreated,
		ConversationID: inserted.ConversationID,
		Sequence:       inserted.Sequence,
		Message:        &inserted,
	})
	s.publishUnreadCounts(ctx, inserted.ConversationID, memberIDs, inserted.SenderID)
	s.notifyOffline(memberIDs, inserted)

	return inserted, nil
}

func validateContent(content string) error {
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return ErrContentTooLarge
	}
	return nil
}

func (s *Service) publishUnreadCounts(ctx context.Context, conversationID int64, memberIDs []int64, senderID int64) {
	for _, userID := range memberIDs {
		if userID == senderID {
			continue
		}
		unread, err := s.deliveryRepo.UnreadCount(ctx, conversationID, userID)
		if err != nil {
			log.Printf("unread count for user %d: %v", userID, err)
			continue
		}
		total, err := s.deliveryRepo.TotalUnread(ctx, userID)
		if err != nil {
			log.Printf("total unread for user %d: %v", userID, err)
			continue
		}
		s.bus.PublishToUsers([]int64{userID}, models.Event{
			Type:           models.EventUnreadCountChanged,
			ConversationID: conversationID,
			Unread:         &models.UnreadUpdate{ConversationID: conversationID, Unread: unread, TotalUnread: total},
		})
	}
}

func (s *Service) notifyOffline(memberIDs []int64, msg models.Message) {
	if s.notifier == nil || s.presence == nil {
		return
	}
	recipients := make([]int64, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != msg.SenderID && !s.presence.IsOnline(id) {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return
	}
	// Fire and forget; digests never block or fail a send.
	go func() {
		for _, id := range recipients {
			s.notifier.NotifyOffline(context.Background(), id, msg)
		}
	}()
}

// Edit replaces the content of the editor's own message. The sequence number
// never changes; readers see the edited flag.
func (s *Service) Edit(ctx context.Context, messageID, editorID int64, content string) (models.Message, error) {
	msg, err := s.messageRepo.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Deleted() {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	if msg.SenderID != editorID {
		return models.Message{}, ErrNotAuthor
	}
	if err := validateContent(content); err != nil {
		return models.Message{}, err
	}

	updated, err := s.messageRepo.UpdateContent(ctx, messageID, content)
	if err != nil {
		return models.Message{}, err
	}

	memberIDs, err := s.convRepo.MemberIDs(ctx, updated.ConversationID)
	if err != nil {
		return models.Message{}, err
	}
	s.bus.PublishToUsers(memberIDs, models.Event{
		Type:           models.EventMessageEdited,
		ConversationID: updated.ConversationID,
		Sequence:       updated.Sequence,
		Message:        &updated,
	})
	return updated, nil
}

// Delete tombstones a message. The author or a conversation admin may delete;
// future reads return the tombstone, never the original content.
func (s *Service) Delete(ctx context.Context, messageID, requesterID int64) error {
	msg, err := s.messageRepo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		member, err := s.convRepo.GetMember(ctx, msg.ConversationID, requesterID)
		if err != nil {
			if errors.Is(err, repositories.ErrConversationNotFound) {
				return ErrNotAMember
			}
			return err
		}
		if member.Role != models.RoleAdmin {
			return ErrNotAuthor
		}
	}

	if err := s.messageRepo.SoftDelete(ctx, messageID); err != nil {
		return err
	}

	memberIDs, err := s.convRepo.MemberIDs(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	tombstone := msg
	now := time.Now()
	tombstone.DeletedAt = &now
	redacted := tombstone.Redact()
	s.bus.PublishToUsers(memberIDs, models.Event{
		Type:           models.EventMessageDeleted,
		ConversationID: msg.ConversationID,
		Sequence:       msg.Sequence,
		Message:        &redacted,
	})
	return nil
}

// ListMessages pages through a conversation for a member. Tombstoned
// messages come back redacted, in ascending sequence order.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID int64, page models.Page) ([]models.Message, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.messageRepo.ListMessages(ctx, conversationID, page)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i] = msgs[i].Redact()
	}
	return msgs, nil
}

// Search matches content across the caller's conversations, recency-ranked.
func (s *Service) Search(ctx context.Context, userID int64, query string, limit int) ([]models.Message, error) {
	return s.messageRepo.Search(ctx, userID, query, limit)
}

// MarkSent records a successful hand-off to the recipient's connection.
func (s *Service) MarkSent(ctx context.Context, messageID, recipientID int64) {
	s.transition(ctx, messageID, recipientID, models.StateSent)
}

// MarkDelivered records a confirmed socket write to the recipient.
func (s *Service) MarkDelivered(ctx context.Context, messageID, recipientID int64) {
	s.transition(ctx, messageID, recipientID, models.StateDelivered)
}

func (s *Service) transition(ctx context.Context, messageID, recipientID int64, state string) {
	changed, err := s.deliveryRepo.Transition(ctx, messageID, recipientID, state)
	if err != nil {
		log.Printf("delivery transition %s for message %d: %v", state, messageID, err)
		return
	}
	if !changed {
		return
	}
	s.publishStatus(ctx, messageID, recipientID, state)
}

func (s *Service) publishStatus(ctx context.Context, messageID, recipientID int64, state string) {
	msg, err := s.messageRepo.GetMessage(ctx, messageID)
	if err != nil {
		log.Printf("status publish lookup for message %d: %v", messageID, err)
		return
	}
	memberIDs, err := s.convRepo.MemberIDs(ctx, msg.ConversationID)
	if err != nil {
		log.Printf("status publish members for message %d: %v", messageID, err)
		return
	}
	status, err := s.deliveryRepo.GetStatus(ctx, messageID, recipientID)
	if err != nil {
		log.Printf("status publish state for message %d: %v", messageID, err)
		return
	}
	s.bus.PublishToUsers(memberIDs, models.Event{
		Type:           models.EventStatusChanged,
		ConversationID: msg.ConversationID,
		Sequence:       msg.Sequence,
		Status: &models.StatusUpdate{
			MessageID:   messageID,
			RecipientID: recipientID,
			State:       state,
			UpdatedAt:   status.UpdatedAt,
		},
	})
}

// MarkRead acknowledges one message for one recipient. Reading a message
// implies having read everything before it, so every delivery row at or
// below its sequence flips to read and the watermark advances with it.
// Reading your own message is a no-op.
func (s *Service) MarkRead(ctx context.Context, messageID, recipientID int64) error {
	msg, err := s.messageRepo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == recipientID {
		return nil
	}
	if err := s.requireMember(ctx, msg.ConversationID, recipientID); err != nil {
		return err
	}

	changed, err := s.deliveryRepo.MarkConversationRead(ctx, msg.ConversationID, recipientID, msg.Sequence)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}
	s.publishReadStatuses(ctx, msg.ConversationID, recipientID, changed)
	s.publishUnreadForUser(ctx, msg.ConversationID, recipientID)
	return nil
}

// MarkConversationRead marks everything up to the sequence observed at call
// start. Messages accepted mid-call keep their state: the boundary is pinned
// before any row changes.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID int64) error {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	conv, err := s.convRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	changed, err := s.deliveryRepo.MarkConversationRead(ctx, conversationID, userID, conv.LastSequence)
	if err != nil {
		return err
	}

	s.publishReadStatuses(ctx, conversationID, userID, changed)
	s.publishUnreadForUser(ctx, conversationID, userID)
	return nil
}

func (s *Service) publishReadStatuses(ctx context.Context, conversationID, userID int64, messageIDs []int64) {
	memberIDs, err := s.convRepo.MemberIDs(ctx, conversationID)
	if err != nil {
		log.Printf("read status members for conversation %d: %v", conversationID, err)
		return
	}
	for _, messageID := range messageIDs {
		status, err := s.deliveryRepo.GetStatus(ctx, messageID, userID)
		if err != nil {
			continue
		}
		s.bus.PublishToUsers(memberIDs, models.Event{
			Type:           models.EventStatusChanged,
			ConversationID: conversationID,
			Status: &models.StatusUpdate{
				MessageID:   messageID,
				RecipientID: userID,
				State:       models.StateRead,
				UpdatedAt:   status.UpdatedAt,
			},
		})
	}
}

func (s *Service) publishUnreadForUser(ctx context.Context, conversationID, userID int64) {
	unread, err := s.deliveryRepo.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		return
	}
	total, err := s.deliveryRepo.TotalUnread(ctx, userID)
	if err != nil {
		return
	}
	s.bus.PublishToUsers([]int64{userID}, models.Event{
		Type:           models.EventUnreadCountChanged,
		ConversationID: conversationID,
		Unread:         &models.UnreadUpdate{ConversationID: conversationID, Unread: unread, TotalUnread: total},
	})
}

// UnreadCount aggregates unread messages across all conversations.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	return s.deliveryRepo.TotalUnread(ctx, userID)
}

// ConversationUnread counts unread messages in one conversation.
func (s *Service) ConversationUnread(ctx context.Context, conversationID, userID int64) (int64, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.deliveryRepo.UnreadCount(ctx, conversationID, userID)
}

// AttachmentURL resolves a message attachment to a time-bounded access URL
// through the object storage collaborator.
func (s *Service) AttachmentURL(ctx context.Context, userID, messageID int64, ttlSeconds int) (string, error) {
	if s.attachments == nil {
		return "", repositories.ErrMessageNotFound
	}
	msg, err := s.messageRepo.GetMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	if err := s.requireMember(ctx, msg.ConversationID, userID); err != nil {
		return "", err
	}
	if msg.Deleted() || msg.AttachmentID == nil {
		return "", repositories.ErrMessageNotFound
	}
	return s.attachments.GetAttachmentURL(ctx, *msg.AttachmentID, ttlSeconds)
}

// Replay returns the messages a reconnecting client missed after its last
// acknowledged sequence. ok=false means the gap exceeds the replay window and
// the client must fall back to pagination.
func (s *Service) Replay(ctx context.Context, conversationID, userID, afterSeq int64) ([]models.Message, bool, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, false, err
	}
	conv, err := s.convRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if conv.LastSequence-afterSeq > s.replayWindow {
		return nil, false, nil
	}
	msgs, err := s.messageRepo.ListMessages(ctx, conversationID, models.Page{
		AfterSeq: afterSeq,
		Limit:    int(s.replayWindow),
	})
	if err != nil {
		return nil, false, err
	}
	for i := range msgs {
		msgs[i] = msgs[i].Redact()
	}
	return msgs, true, nil
}
