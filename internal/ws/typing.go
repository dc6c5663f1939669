package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
)

// DefaultTypingTimeout is how long a typing state survives without refresh.
const DefaultTypingTimeout = 3 * time.Second

// EventPublisher is the hub surface the ephemeral engines publish through.
type EventPublisher interface {
	PublishToUsers(userIDs []int64, ev models.Event)
}

// MemberResolver resolves the recipients of a conversation-scoped event.
type MemberResolver interface {
	MemberIDs(ctx context.Context, conversationID int64) ([]int64, error)
}

type typingKey struct {
	conversationID int64
	userID         int64
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// TypingEngine owns ephemeral typing state per (conversation, user). Events
// fire only on idle<->typing transitions; a refresh silently resets the
// expiry timer. Nothing here is persisted.
type TypingEngine struct {
	bus      EventPublisher
	resolver MemberResolver
	timeout  time.Duration

	mu      sync.Mutex
	entries map[typingKey]*typingEntry
}

// NewTypingEngine builds a typing engine with the given inactivity timeout.
func NewTypingEngine(bus EventPublisher, resolver MemberResolver, timeout time.Duration) *TypingEngine {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingEngine{
		bus:      bus,
		resolver: resolver,
		timeout:  timeout,
		entries:  make(map[typingKey]*typingEntry),
	}
}

// Set applies a typing signal. Start on idle publishes TypingChanged(true);
// repeat within the window only resets the timer; explicit stop or expiry
// publishes exactly one TypingChanged(false). Signals from non-members are
// dropped: stop and refresh only act on entries membership already admitted,
// so the lookup runs once per composing burst.
func (e *TypingEngine) Set(conversationID, userID int64, isTyping bool) {
	key := typingKey{conversationID: conversationID, userID: userID}

	if isTyping && !e.IsTyping(conversationID, userID) && !e.isMember(conversationID, userID) {
		return
	}

	e.mu.Lock()
	entry, active := e.entries[key]

	if isTyping {
		if active {
			// Refresh: replace the timer under a new generation so a racing
			// expiry becomes a no-op.
			entry.timer.Stop()
			entry.gen++
			gen := entry.gen
			entry.timer = time.AfterFunc(e.timeout, func() { e.expire(key, gen) })
			e.mu.Unlock()
			return
		}
		entry = &typingEntry{}
		gen := entry.gen
		entry.timer = time.AfterFunc(e.timeout, func() { e.expire(key, gen) })
		e.entries[key] = entry
		e.mu.Unlock()
		e.publish(key, true)
		return
	}

	if !active {
		e.mu.Unlock()
		return
	}
	entry.timer.Stop()
	delete(e.entries, key)
	e.mu.Unlock()
	e.publish(key, false)
}

// IsTyping reports the current ephemeral state.
func (e *TypingEngine) IsTyping(conversationID, userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, active := e.entries[typingKey{conversationID: conversationID, userID: userID}]
	return active
}

func (e *TypingEngine) isMember(conversationID, userID int64) bool {
	memberIDs, err := e.resolver.MemberIDs(context.Background(), conversationID)
	if err != nil {
		return false
	}
	for _, id := range memberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (e *TypingEngine) expire(key typingKey, gen uint64) {
	e.mu.Lock()
	entry, ok := e.entries[key]
	if !ok || entry.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.entries, key)
	e.mu.Unlock()
	e.publish(key, false)
}

// StopUser clears every typing state a user holds, publishing the idle
// transition for each. Called when a user's connection drops mid-compose.
func (e *TypingEngine) StopUser(userID int64) {
	e.mu.Lock()
	var stopped []typingKey
	for key, entry := range e.entries {
		if key.userID != userID {
			continue
		}
		entry.timer.Stop()
		delete(e.entries, key)
		stopped = append(stopped, key)
	}
	e.mu.Unlock()
	for _, key := range stopped {
		e.publish(key, false)
	}
}

// Stop cancels every pending expiry timer.
func (e *TypingEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, entry := range e.entries {
		entry.timer.Stop()
		delete(e.entries, key)
	}
}

func (e *TypingEngine) publish(key typingKey, isTyping bool) {
	memberIDs, err := e.resolver.MemberIDs(context.Background(), key.conversationID)
	if err != nil {
		log.Printf("typing publish members for conversation %d: %v", key.conversationID, err)
		return
	}
	e.bus.PublishToUsers(memberIDs, models.Event{
		Type:           models.EventTypingChanged,
		ConversationID: key.conversationID,
		Typing: &models.TypingUpdate{
			ConversationID: key.conversationID,
			UserID:         key.userID,
			IsTyping:       isTyping,
		},
	})
}
