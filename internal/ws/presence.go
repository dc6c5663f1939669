package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
)

// DefaultOfflineGrace covers a reconnect-on-refresh before offline publishes.
const DefaultOfflineGrace = 10 * time.Second

// RelatedResolver resolves who observes a user's presence transitions.
type RelatedResolver interface {
	RelatedUserIDs(ctx context.Context, userID int64) ([]int64, error)
}

type presenceEntry struct {
	refs       int
	online     bool
	lastSeen   time.Time
	graceTimer *time.Timer
	gen        uint64
}

// PresenceTracker reference-counts connections per user. The first connection
// publishes online; the last close starts a grace timer, and only its expiry
// publishes offline with last-seen set to the close time. A reconnect inside
// the grace window cancels the pending offline.
type PresenceTracker struct {
	bus      EventPublisher
	resolver RelatedResolver
	grace    time.Duration

	mu      sync.Mutex
	entries map[int64]*presenceEntry
}

// NewPresenceTracker builds a tracker with the given offline grace window.
func NewPresenceTracker(bus EventPublisher, resolver RelatedResolver, grace time.Duration) *PresenceTracker {
	if grace <= 0 {
		grace = DefaultOfflineGrace
	}
	return &PresenceTracker{
		bus:      bus,
		resolver: resolver,
		grace:    grace,
		entries:  make(map[int64]*presenceEntry),
	}
}

// ConnectionOpened registers one more active connection for the user.
func (p *PresenceTracker) ConnectionOpened(userID int64) {
	p.mu.Lock()
	entry, ok := p.entries[userID]
	if !ok {
		entry = &presenceEntry{}
		p.entries[userID] = entry
	}
	entry.refs++
	if entry.graceTimer != nil {
		entry.graceTimer.Stop()
		entry.graceTimer = nil
		entry.gen++
	}
	wasOnline := entry.online
	entry.online = true
	p.mu.Unlock()

	if !wasOnline {
		p.publish(userID, true, time.Time{})
	}
}

// ConnectionClosed unregisters a connection. Only the transition to zero
// connections arms the grace timer.
func (p *PresenceTracker) ConnectionClosed(userID int64) {
	p.mu.Lock()
	entry, ok := p.entries[userID]
	if !ok || entry.refs == 0 {
		p.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		p.mu.Unlock()
		return
	}
	entry.lastSeen = time.Now()
	entry.gen++
	gen := entry.gen
	entry.graceTimer = time.AfterFunc(p.grace, func() { p.goOffline(userID, gen) })
	p.mu.Unlock()
}

func (p *PresenceTracker) goOffline(userID int64, gen uint64) {
	p.mu.Lock()
	entry, ok := p.entries[userID]
	if !ok || entry.gen != gen || entry.refs > 0 {
		p.mu.Unlock()
		return
	}
	// Departed users leave the table; the offline event carries last-seen.
	delete(p.entries, userID)
	lastSeen := entry.lastSeen
	p.mu.Unlock()

	p.publish(userID, false, lastSeen)
}

// IsOnline reports the published presence state. A user inside the grace
// window still counts as online; no offline has been announced yet.
func (p *PresenceTracker) IsOnline(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[userID]
	return ok && entry.online
}

// Stop cancels pending grace timers.
func (p *PresenceTracker) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.entries {
		if entry.graceTimer != nil {
			entry.graceTimer.Stop()
			entry.graceTimer = nil
		}
	}
}

func (p *PresenceTracker) publish(userID int64, online bool, lastSeen time.Time) {
	observers, err := p.resolver.RelatedUserIDs(context.Background(), userID)
	if err != nil {
		log.Printf("presence publish observers for user %d: %v", userID, err)
		return
	}
	observers = append(observers, userID)
	p.bus.PublishToUsers(observers, models.Event{
		Type: models.EventPresenceChanged,
		Presence: &models.PresenceUpdate{
			UserID:   userID,
			Online:   online,
			LastSeen: lastSeen,
		},
	})
}
