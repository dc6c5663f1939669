package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
	"github.com/nethunterzist/7p-platform-sub005/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CreateConversation(ctx context.Context, title *string, participantKey *string, members []repositories.MemberInit) (models.Conversation, error) {
	args := m.Called(ctx, title, participantKey, members)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetByParticipantKey(ctx context.Context, key string) (models.Conversation, error) {
	args := m.Called(ctx, key)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) GetMember(ctx context.Context, conversationID, userID int64) (models.ConversationMember, error) {
	args := m.Called(ctx, conversationID, userID)
	var member models.ConversationMember
	if val := args.Get(0); val != nil {
		member = val.(models.ConversationMember)
	}
	return member, args.Error(1)
}

func (m *ConversationRepositoryMock) MemberIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	args := m.Called(ctx, conversationID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) RelatedUserIDs(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) ListConversations(ctx context.Context, userID int64, filter models.ConversationFilter) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID, filter)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error {
	args := m.Called(ctx, conversationID, userID, archived)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) SetMuted(ctx context.Context, conversationID, userID int64, muted bool) error {
	args := m.Called(ctx, conversationID, userID, muted)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) InsertMessage(ctx context.Context, msg models.Message, recipientIDs []int64) (models.Message, error) {
	args := m.Called(ctx, msg, recipientIDs)
	var inserted models.Message
	if val := args.Get(0); val != nil {
		inserted = val.(models.Message)
	}
	return inserted, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetByCorrelationID(ctx context.Context, correlationID string) (models.Message, error) {
	args := m.Called(ctx, correlationID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MaxSequence(ctx context.Context, conversationID int64) (int64, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) UpdateContent(ctx context.Context, messageID int64, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID int64) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID int64, page models.Page) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, page)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) Search(ctx context.Context, userID int64, query string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, userID, query, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type DeliveryRepositoryMock struct {
	mock.Mock
}

func (m *DeliveryRepositoryMock) Transition(ctx context.Context, messageID, recipientID int64, state string) (bool, error) {
	args := m.Called(ctx, messageID, recipientID, state)
	return args.Bool(0), args.Error(1)
}

func (m *DeliveryRepositoryMock) GetStatus(ctx context.Context, messageID, recipientID int64) (models.DeliveryStatus, error) {
	args := m.Called(ctx, messageID, recipientID)
	var status models.DeliveryStatus
	if val := args.Get(0); val != nil {
		status = val.(models.DeliveryStatus)
	}
	return status, args.Error(1)
}

func (m *DeliveryRepositoryMock) MarkConversationRead(ctx context.Context, conversationID, userID, upToSeq int64) ([]int64, error) {
	args := m.Called(ctx, conversationID, userID, upToSeq)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *DeliveryRepositoryMock) UnreadCount(ctx context.Context, conversationID, userID int64) (int64, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *DeliveryRepositoryMock) TotalUnread(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

type EventBusMock struct {
	mock.Mock
}

func (m *EventBusMock) PublishToUsers(userIDs []int64, event models.Event) {
	m.Called(userIDs, event)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.DeliveryRepository = (*DeliveryRepositoryMock)(nil)
