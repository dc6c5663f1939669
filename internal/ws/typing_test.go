package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
)

type recordingBus struct {
	mu     sync.Mutex
	events []models.Event
}

func (b *recordingBus) PublishToUsers(userIDs []int64, ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) snapshot() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Event, len(b.events))
	copy(out, b.events)
	return out
}

type staticMembers struct {
	ids []int64
}

func (s staticMembers) MemberIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	return s.ids, nil
}

func (s staticMembers) RelatedUserIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.ids, nil
}

func typingEvents(events []models.Event) []models.TypingUpdate {
	var out []models.TypingUpdate
	for _, ev := range events {
		if ev.Type == models.EventTypingChanged && ev.Typing != nil {
			out = append(out, *ev.Typing)
		}
	}
	return out
}

func TestTypingStartAndStopPublishTransitions(t *testing.T) {
	bus := &recordingBus{}
	engine := NewTypingEngine(bus, staticMembers{ids: []int64{1, 2}}, time.Second)
	defer engine.Stop()

	engine.Set(3, 1, true)
	assert.True(t, engine.IsTyping(3, 1))
	engine.Set(3, 1, false)
	assert.False(t, engine.IsTyping(3, 1))

	updates := typingEvents(bus.snapshot())
	require.Len(t, updates, 2)
	assert.True(t, updates[0].IsTyping)
	assert.False(t, updates[1].IsTyping)
}

func TestTypingRefreshDoesNotRepublish(t *testing.T) {
	bus := &recordingBus{}
	engine := NewTypingEngine(bus, staticMembers{ids: []int64{1, 2}}, time.Second)
	defer engine.Stop()

	engine.Set(3, 1, true)
	engine.Set(3, 1, true)
	engine.Set(3, 1, true)

	updates := typingEvents(bus.snapshot())
	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsTyping)
}

func TestTypingExpiresExactlyOnce(t *testing.T) {
	bus := &recordingBus{}
	engine := NewTypingEngine(bus, staticMembers{ids: []int64{1, 2}}, 20*time.Millisecond)
	defer engine.Stop()

	engine.Set(3, 1, true)

	require.Eventually(t, func() bool {
		return len(typingEvents(bus.snapshot())) == 2
	}, time.Second, 5*time.Millisecond)

	// No further events after expiry; a late stop is a no-op.
	engine.Set(3, 1, false)
	time.Sleep(50 * time.Millisecond)
	updates := typingEvents(bus.snapshot())
	require.Len(t, updates, 2)
	assert.False(t, updates[1].IsTyping)
	assert.False(t, engine.IsTyping(3, 1))
}

func TestTypingStopOnExplicitSignalCancelsTimer(t *testing.T) {
	bus := &recordingBus{}
	engine := NewTypingEngine(bus, staticMembers{ids: []int64{1}}, 20*time.Millisecond)
	defer engine.Stop()

	engine.Set(3, 1, true)
	engine.Set(3, 1, false)
	time.Sleep(60 * time.Millisecond)

	updates := typingEvents(bus.snapshot())
	require.Len(t, updates, 2, "expiry after explicit stop must not publish again")
}

func TestTypingIgnoresNonMember(t *testing.T) {
	bus := &recordingBus{}
	engine := NewTypingEngine(bus, staticMembers{ids: []int64{1, 2}}, time.Second)
	defer engine.Stop()

	engine.Set(3, 9, true)
	engine.Set(3, 9, false)

	assert.False(t, engine.IsTyping(3, 9))
	assert.Empty(t, typingEvents(bus.snapshot()))
}

func TestTypingStopUserClearsAllConversations(t *testing.T) {
	bus := &recordingBus{}
	engine := NewTypingEngine(bus, staticMembers{ids: []int64{1, 2}}, time.Minute)
	defer engine.Stop()

	engine.Set(3, 1, true)
	engine.Set(4, 1, true)
	engine.StopUser(1)

	assert.False(t, engine.IsTyping(3, 1))
	assert.False(t, engine.IsTyping(4, 1))

	var stops int
	for _, u := range typingEvents(bus.snapshot()) {
		if !u.IsTyping {
			stops++
		}
	}
	assert.Equal(t, 2, stops)
}
