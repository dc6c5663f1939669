package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nethunterzist/7p-platform-sub005/internal/chat"
	"github.com/nethunterzist/7p-platform-sub005/internal/mocks"
	"github.com/nethunterzist/7p-platform-sub005/internal/models"
	"github.com/nethunterzist/7p-platform-sub005/internal/repositories"
)

func newService(t *testing.T) (*chat.Service, *mocks.ConversationRepositoryMock, *mocks.MessageRepositoryMock, *mocks.DeliveryRepositoryMock, *mocks.EventBusMock) {
	t.Helper()
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	deliveryRepo := new(mocks.DeliveryRepositoryMock)
	bus := new(mocks.EventBusMock)
	svc := chat.NewService(convRepo, messageRepo, deliveryRepo, bus)
	return svc, convRepo, messageRepo, deliveryRepo, bus
}

func TestCreateOrGetConversationReturnsExistingPair(t *testing.T) {
	svc, convRepo, _, _, _ := newService(t)

	key := repositories.PairKey(1, 2)
	convRepo.On("GetByParticipantKey", mock.Anything, key).
		Return(models.Conversation{ID: 42, ParticipantKey: &key}, nil).Once()

	conv, err := svc.CreateOrGetConversation(context.Background(), 1, []int64{2}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), conv.ID)
	convRepo.AssertExpectations(t)
	convRepo.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrGetConversationCreatesWithCreatorAsAdmin(t *testing.T) {
	svc, convRepo, _, _, _ := newService(t)

	key := repositories.PairKey(1, 2)
	convRepo.On("GetByParticipantKey", mock.Anything, key).
		Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()
	convRepo.On("CreateConversation", mock.Anything, (*string)(nil), &key, []repositories.MemberInit{
		{UserID: 1, Role: models.RoleAdmin},
		{UserID: 2, Role: models.RoleMember},
	}).Return(models.Conversation{ID: 7}, nil).Once()

	conv, err := svc.CreateOrGetConversation(context.Background(), 1, []int64{2}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), conv.ID)
	convRepo.AssertExpectations(t)
}

func TestCreateOrGetConversationLosesCreationRace(t *testing.T) {
	svc, convRepo, _, _, _ := newService(t)

	key := repositories.PairKey(1, 2)
	convRepo.On("GetByParticipantKey", mock.Anything, key).
		Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()
	convRepo.On("CreateConversation", mock.Anything, (*string)(nil), &key, mock.Anything).
		Return(models.Conversation{}, repositories.ErrDuplicatePair).Once()
	convRepo.On("GetByParticipantKey", mock.Anything, key).
		Return(models.Conversation{ID: 99}, nil).Once()

	conv, err := svc.CreateOrGetConversation(context.Background(), 1, []int64{2}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(99), conv.ID)
	convRepo.AssertExpectations(t)
}

func TestCreateOrGetConversationGroupsAreNeverDeduplicated(t *testing.T) {
	svc, convRepo, _, _, _ := newService(t)

	title := "planning"
	convRepo.On("CreateConversation", mock.Anything, &title, (*string)(nil), mock.Anything).
		Return(models.Conversation{ID: 5, Title: &title}, nil).Once()

	conv, err := svc.CreateOrGetConversation(context.Background(), 1, []int64{2, 3}, &title)
	require.NoError(t, err)
	assert.Equal(t, int64(5), conv.ID)
	convRepo.AssertNotCalled(t, "GetByParticipantKey", mock.Anything, mock.Anything)
}

func TestCreateOrGetConversationRejectsSoloParticipant(t *testing.T) {
	svc, _, _, _, _ := newService(t)

	_, err := svc.CreateOrGetConversation(context.Background(), 1, []int64{1, 1}, nil)
	require.ErrorIs(t, err, chat.ErrInvalidParticipants)
}

func TestSendPublishesAndReturnsSequencedMessage(t *testing.T) {
	svc, convRepo, messageRepo, deliveryRepo, bus := newService(t)

	convRepo.On("GetConversation", mock.Anything, int64(3)).Return(models.Conversation{ID: 3}, nil).Once()
	convRepo.On("IsMember", mock.Anything, int64(3), int64(1)).Return(true, nil).Once()
	convRepo.On("MemberIDs", mock.Anything, int64(3)).Return([]int64{1, 2}, nil).Once()
	messageRepo.On("MaxSequence", mock.Anything, int64(3)).Return(int64(0), nil).Once()
	messageRepo.On("InsertMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.Sequence == 1 && m.Content == "hi" && m.Type == models.MessageTypeText
	}), []int64{1, 2}).Return(models.Message{ID: 10, ConversationID: 3, SenderID: 1, Sequence: 1, Content: "hi"}, nil).Once()
	deliveryRepo.On("UnreadCount", mock.Anything, int64(3), int64(2)).Return(int64(1), nil).Once()
	deliveryRepo.On("TotalUnread", mock.Anything, int64(2)).Return(int64(4), nil).Once()
	bus.On("PublishToUsers", []int64{1, 2}, mock.MatchedBy(func(ev models.Event) bool {
		return ev.Type == models.EventMessageCreated && ev.Sequence == 1
	})).Once()
	bus.On("PublishToUsers", []int64{2}, mock.MatchedBy(func(ev models.Event) bool {
		return ev.Type == models.EventUnreadCountChanged && ev.Unread != nil && ev.Unread.Unread == 1
	})).Once()

	msg, err := svc.Send(context.Background(), chat.SendRequest{ConversationID: 3, SenderID: 1, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Sequence)
	convRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestSendRejectsNonMember(t *testing.T) {
	svc, convRepo, _, _, bus := newService(t)

	convRepo.On("GetConversation", mock.Anything, int64(3)).Return(models.Conversation{ID: 3}, nil).Once()
	convRepo.On("IsMember", mock.Anything, int64(3), int64(9)).Return(false, nil).Once()

	_, err := svc.Send(context.Background(), chat.SendRequest{ConversationID: 3, SenderID: 9, Content: "hi"})
	require.ErrorIs(t, err, chat.ErrNotAMember)
	bus.AssertNotCalled(t, "PublishToUsers", mock.Anything, mock.Anything)
}

func TestSendRejectsOversizedContent(t *testing.T) {
	svc, convRepo, _, _, _ := newService(t)

	convRepo.On("GetConversation", mock.Anything, int64(3)).Return(models.Conversation{ID: 3}, nil).Once()
	convRepo.On("IsMember", mock.Anything, int64(3), int64(1)).Return(true, nil).Once()

	big := make([]rune, chat.MaxContentRunes+1)
	for i := range big {
		big[i] = 'x'
	}
	_, err := svc.Send(context.Background(), chat.SendRequest{ConversationID: 3, SenderID: 1, Content: string(big)})
	require.ErrorIs(t, err, chat.ErrContentTooLarge)
}

func TestSendDuplicateCorrelationReturnsOriginal(t *testing.T) {
	svc, convRepo, messageRepo, _, bus := newService(t)

	correlation := "11111111-2222-3333-4444-555555555555"
	convRepo.On("GetConversation", mock.Anything, int64(3)).Return(models.Conversation{ID: 3}, nil).Once()
	convRepo.On("IsMember", mock.Anything, int64(3), int64(1)).Return(true, nil).Once()
	messageRepo.On("GetByCorrelationID", mock.Anything, correlation).
		Return(models.Message{ID: 10, ConversationID: 3, Sequence: 1, Content: "hi"}, nil).Once()

	msg, err := svc.Send(context.Background(), chat.SendRequest{
		ConversationID: 3, SenderID: 1, Content: "hi", CorrelationID: &correlation,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), msg.ID)
	bus.AssertNotCalled(t, "PublishToUsers", mock.Anything, mock.Anything)
	messageRepo.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendDuplicateCorrelationAtInsertReturnsRedacted(t *testing.T) {
	svc, convRepo, messageRepo, _, bus := newService(t)

	correlation := "11111111-2222-3333-4444-555555555555"
	deletedAt := time.Now()
	convRepo.On("GetConversation", mock.Anything, int64(3)).Return(models.Conversation{ID: 3}, nil).Once()
	convRepo.On("IsMember", mock.Anything, int64(3), int64(1)).Return(true, nil).Once()
	// Not yet visible at the pre-check; the insert itself hits the unique
	// correlation constraint, and the accepted message was deleted meanwhile.
	messageRepo.On("GetByCorrelationID", mock.Anything, correlation).
		Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	convRepo.On("MemberIDs", mock.Anything, int64(3)).Return([]int64{1, 2}, nil).Once()
	messageRepo.On("MaxSequence", mock.Anything, int64(3)).Return(int64(0), nil).Once()
	messageRepo.On("InsertMessage", mock.Anything, mock.Anything, mock.Anything).
		Return(models.Message{}, repositories.ErrDuplicateCorrelation).Once()
	messageRepo.On("GetByCorrelationID", mock.Anything, correlation).
		Return(models.Message{ID: 10, ConversationID: 3, Sequence: 1, Content: "secret", DeletedAt: &deletedAt}, nil).Once()

	msg, err := svc.Send(context.Background(), chat.SendRequest{
		ConversationID: 3, SenderID: 1, Content: "hi", CorrelationID: &correlation,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), msg.ID)
	assert.Equal(t, models.TombstoneContent, msg.Content)
	bus.AssertNotCalled(t, "PublishToUsers", mock.Anything, mock.Anything)
}

func TestSendRejectsParentFromOtherConversation(t *testing.T) {
	svc, convRepo, messageRepo, _, _ := newService(t)

	parentID := int64(40)
	convRepo.On("GetConversation", mock.Anything, int64(3)).Return(models.Conversation{ID: 3}, nil).Once()
	convRepo.On("IsMember", mock.Anything, int64(3), int64(1)).Return(true, nil).Once()
	messageRepo.On("GetMessage", mock.Anything, parentID).
		Return(models.Message{ID: parentID, ConversationID: 8}, nil).Once()

	_, err := svc.Send(context.Background(), chat.SendRequest{
		ConversationID: 3, SenderID: 1, Content: "reply", ParentID: &parentID,
	})
	require.ErrorIs(t, err, chat.ErrInvalidParent)
}

func TestSendWrapsStorageFailure(t *testing.T) {
	svc, convRepo, messageRepo, _, bus := newService(t)

	convRepo.On("GetConversation", mock.Anything, int64(3)).Return(models.Conversation{ID: 3}, nil).Once()
	convRepo.On("IsMember", mock.Anything, int64(3), int64(1)).Return(true, nil).Once()
	convRepo.On("MemberIDs", mock.Anything, int64(3)).Return([]int64{1, 2}, nil).Once()
	messageRepo.On("MaxSequence", mock.Anything, int64(3)).Return(int64(0), nil).Once()
	messageRepo.On("InsertMessage", mock.Anything, mock.Anything, mock.Anything).
		Return(models.Message{}, assert.AnError).Once()

	_, err := svc.Send(context.Background(), chat.SendRequest{ConversationID: 3, SenderID: 1, Content: "hi"})
	require.ErrorIs(t, err, chat.ErrTransientStorage)
	bus.AssertNotCalled(t, "PublishToUsers", mock.Anything, mock.Anything)
}

func TestSendRetriesOnceAfterSequenceConflict(t *testing.T) {
	svc, convRepo, messageRepo, deliveryRepo, bus := newService(t)

	convRepo.On("GetConversation", mock.Anything, int64(3)).Return(models.Conversation{ID: 3}, nil).Once()
	convRepo.On("IsMember", mock.Anything, int64(3), int64(1)).Return(true, nil).Once()
	convRepo.On("MemberIDs", mock.Anything, int64(3)).Return([]int64{1}, nil).Once()
	// First watermark load says 4; the insert loses to a concurrent writer,
	// the reload sees 5 and the retry lands on 6.
	messageRepo.On("MaxSequence", mock.Anything, int64(3)).Return(int64(4), nil).Once()
	messageRepo.On("InsertMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool { return m.Sequence == 5 }), mock.Anything).
		Return(models.Message{}, repositories.ErrSequenceConflict).Once()
	messageRepo.On("MaxSequence", mock.Anything, int64(3)).Return(int64(5), nil).Once()
	messageRepo.On("InsertMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool { return m.Sequence == 6 }), mock.Anything).
		Return(models.Message{ID: 11, ConversationID: 3, SenderID: 1, Sequence: 6}, nil).Once()
	bus.On("PublishToUsers", mock.Anything, mock.Anything).Maybe()
	deliveryRepo.On("UnreadCount", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil).Maybe()
	deliveryRepo.On("TotalUnread", mock.Anything, mock.Anything).Return(int64(0), nil).Maybe()

	msg, err := svc.Send(context.Background(), chat.SendRequest{ConversationID: 3, SenderID: 1, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), msg.Sequence)
	messageRepo.AssertExpectations(t)
}

func TestEditRejectsOtherAuthors(t *testing.T) {
	svc, _, messageRepo, _, _ := newService(t)

	messageRepo.On("GetMessage", mock.Anything, int64(10)).
		Return(models.Message{ID: 10, ConversationID: 3, SenderID: 1}, nil).Once()

	_, err := svc.Edit(context.Background(), 10, 2, "nope")
	require.ErrorIs(t, err, chat.ErrNotAuthor)
}

func TestDeleteByAdminPublishesTombstone(t *testing.T) {
	svc, convRepo, messageRepo, _, bus := newService(t)

	messageRepo.On("GetMessage", mock.Anything, int64(10)).
		Return(models.Message{ID: 10, ConversationID: 3, SenderID: 1, Sequence: 2, Content: "secret"}, nil).Once()
	convRepo.On("GetMember", mock.Anything, int64(3), int64(5)).
		Return(models.ConversationMember{UserID: 5, Role: models.RoleAdmin}, nil).Once()
	messageRepo.On("SoftDelete", mock.Anything, int64(10)).Return(nil).Once()
	convRepo.On("MemberIDs", mock.Anything, int64(3)).Return([]int64{1, 5}, nil).Once()
	bus.On("PublishToUsers", []int64{1, 5}, mock.MatchedBy(func(ev models.Event) bool {
		return ev.Type == models.EventMessageDeleted && ev.Message != nil && ev.Message.Content == models.TombstoneContent
	})).Once()

	require.NoError(t, svc.Delete(context.Background(), 10, 5))
	bus.AssertExpectations(t)
}

func TestDeleteByPlainMemberIsForbidden(t *testing.T) {
	svc, convRepo, messageRepo, _, _ := newService(t)

	messageRepo.On("GetMessage", mock.Anything, int64(10)).
		Return(models.Message{ID: 10, ConversationID: 3, SenderID: 1}, nil).Once()
	convRepo.On("GetMember", mock.Anything, int64(3), int64(2)).
		Return(models.ConversationMember{UserID: 2, Role: models.RoleMember}, nil).Once()

	require.ErrorIs(t, svc.Delete(context.Background(), 10, 2), chat.ErrNotAuthor)
}

func TestMarkReadOwnMessageIsNoop(t *testing.T) {
	svc, _, messageRepo, deliveryRepo, _ := newService(t)

	messageRepo.On("GetMessage", mock.Anything, int64(10)).
		Return(models.Message{ID: 10, ConversationID: 3, SenderID: 1}, nil).Once()

	require.NoError(t, svc.MarkRead(context.Background(), 10, 1))
	deliveryRepo.AssertNotCalled(t, "MarkConversationRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkReadAdvancesWatermarkAndPublishes(t *testing.T) {
	svc, convRepo, messageRepo, deliveryRepo, bus := newService(t)

	messageRepo.On("GetMessage", mock.Anything, int64(10)).
		Return(models.Message{ID: 10, ConversationID: 3, SenderID: 1, Sequence: 4}, nil).Once()
	convRepo.On("IsMember", mock.Anything, int64(3), int64(2)).Return(true, nil).Once()
	deliveryRepo.On("MarkConversationRead", mock.Anything, int64(3), int64(2), int64(4)).
		Return([]int64{10}, nil).Once()
	convRepo.On("MemberIDs", mock.Anything, int64(3)).Return([]int64{1, 2}, nil).Once()
	deliveryRepo.On("GetStatus", mock.Anything, int64(10), int64(2)).
		Return(models.DeliveryStatus{MessageID: 10, RecipientID: 2, State: models.StateRead}, nil).Once()
	deliveryRepo.On("UnreadCount", mock.Anything, int64(3), int64(2)).Return(int64(0), nil).Once()
	deliveryRepo.On("TotalUnread", mock.Anything, int64(2)).Return(int64(0), nil).Once()
	bus.On("PublishToUsers", []int64{1, 2}, mock.MatchedBy(func(ev models.Event) bool {
		return ev.Type == models.EventStatusChanged && ev.Status != nil && ev.Status.State == models.StateRead
	})).Once()
	bus.On("PublishToUsers", []int64{2}, mock.MatchedBy(func(ev models.Event) bool {
		return ev.Type == models.EventUnreadCountChanged
	})).Once()

	require.NoError(t, svc.MarkRead(context.Background(), 10, 2))
	bus.AssertExpectations(t)
}

func TestMarkReadCascadesToEarlierMessages(t *testing.T) {
	svc, convRepo, messageRepo, deliveryRepo, bus := newService(t)

	// Acknowledging message 102 (seq 2) while 101 (seq 1) is still
	// outstanding flips both rows to read in one call.
	messageRepo.On("GetMessage", mock.Anything, int64(102)).
		Return(models.Message{ID: 102, ConversationID: 3, SenderID: 1, Sequence: 2}, nil).Once()
	convRepo.On("IsMember", mock.Anything, int64(3), int64(2)).Return(true, nil).Once()
	deliveryRepo.On("MarkConversationRead", mock.Anything, int64(3), int64(2), int64(2)).
		Return([]int64{101, 102}, nil).Once()
	convRepo.On("MemberIDs", mock.Anything, int64(3)).Return([]int64{1, 2}, nil).Once()
	deliveryRepo.On("GetStatus", mock.Anything, int64(101), int64(2)).
		Return(models.DeliveryStatus{MessageID: 101, RecipientID: 2, State: models.StateRead}, nil).Once()
	deliveryRepo.On("GetStatus", mock.Anything, int64(102), int64(2)).
		Return(models.DeliveryStatus{MessageID: 102, RecipientID: 2, State: models.StateRead}, nil).Once()
	deliveryRepo.On("UnreadCount", mock.Anything, int64(3), int64(2)).Return(int64(0), nil).Once()
	deliveryRepo.On("TotalUnread", mock.Anything, int64(2)).Return(int64(0), nil).Once()

	var statusIDs []int64
	bus.On("PublishToUsers", []int64{1, 2}, mock.MatchedBy(func(ev models.Event) bool {
		return ev.Type == models.EventStatusChanged && ev.Status != nil && ev.Status.State == models.StateRead
	})).Twice().Run(func(args mock.Arguments) {
		ev := args.Get(1).(models.Event)
		statusIDs = append(statusIDs, ev.Status.MessageID)
	})
	bus.On("PublishToUsers", []int64{2}, mock.MatchedBy(func(ev models.Event) bool {
		return ev.Type == models.EventUnreadCountChanged
	})).Once()

	require.NoError(t, svc.MarkRead(context.Background(), 102, 2))
	assert.Equal(t, []int64{101, 102}, statusIDs)
	deliveryRepo.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestMarkConversationReadPinsBoundary(t *testing.T) {
	svc, convRepo, _, deliveryRepo, bus := newService(t)

	convRepo.On("IsMember", mock.Anything, int64(3), int64(2)).Return(true, nil).Once()
	convRepo.On("GetConversation", mock.Anything, int64(3)).
		Return(models.Conversation{ID: 3, LastSequence: 8}, nil).Once()
	deliveryRepo.On("MarkConversationRead", mock.Anything, int64(3), int64(2), int64(8)).
		Return([]int64{20, 21}, nil).Once()
	convRepo.On("MemberIDs", mock.Anything, int64(3)).Return([]int64{1, 2}, nil).Once()
	deliveryRepo.On("GetStatus", mock.Anything, int64(20), int64(2)).
		Return(models.DeliveryStatus{MessageID: 20, RecipientID: 2, State: models.StateRead}, nil).Once()
	deliveryRepo.On("GetStatus", mock.Anything, int64(21), int64(2)).
		Return(models.DeliveryStatus{MessageID: 21, RecipientID: 2, State: models.StateRead}, nil).Once()
	deliveryRepo.On("UnreadCount", mock.Anything, int64(3), int64(2)).Return(int64(0), nil).Once()
	deliveryRepo.On("TotalUnread", mock.Anything, int64(2)).Return(int64(0), nil).Once()
	bus.On("PublishToUsers", mock.Anything, mock.Anything).Times(3)

	require.NoError(t, svc.MarkConversationRead(context.Background(), 3, 2))
	deliveryRepo.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestReplayWithinWindow(t *testing.T) {
	svc, convRepo, messageRepo, _, _ := newService(t)

	convRepo.On("IsMember", mock.Anything, int64(3), int64(2)).Return(true, nil).Once()
	convRepo.On("GetConversation", mock.Anything, int64(3)).
		Return(models.Conversation{ID: 3, LastSequence: 12}, nil).Once()
	messageRepo.On("ListMessages", mock.Anything, int64(3), models.Page{AfterSeq: 10, Limit: chat.DefaultReplayWindow}).
		Return([]models.Message{{ID: 30, Sequence: 11}, {ID: 31, Sequence: 12}}, nil).Once()

	msgs, ok, err := svc.Replay(context.Background(), 3, 2, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(11), msgs[0].Sequence)
}

func TestReplayBeyondWindow(t *testing.T) {
	svc, convRepo, messageRepo, _, _ := newService(t)

	convRepo.On("IsMember", mock.Anything, int64(3), int64(2)).Return(true, nil).Once()
	convRepo.On("GetConversation", mock.Anything, int64(3)).
		Return(models.Conversation{ID: 3, LastSequence: int64(chat.DefaultReplayWindow) + 50}, nil).Once()

	_, ok, err := svc.Replay(context.Background(), 3, 2, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	messageRepo.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything, mock.Anything)
}
