package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/nethunterzist/7p-platform-sub005/internal/repositories"
)

// SequenceLoader reads the highest accepted sequence for a conversation.
type SequenceLoader interface {
	MaxSequence(ctx context.Context, conversationID int64) (int64, error)
}

// Sequencer owns the per-conversation sequence counters. Allocation and
// persistence happen under one per-conversation lock, so two concurrent sends
// into the same conversation can never observe the same number and accepted
// sequences stay gapless: a failed persist leaves the counter untouched.
type Sequencer struct {
	loader SequenceLoader

	mu       sync.Mutex
	counters map[int64]*convCounter
}

type convCounter struct {
	mu     sync.Mutex
	loaded bool
	last   int64
}

// NewSequencer constructs a Sequencer backed by the given loader.
func NewSequencer(loader SequenceLoader) *Sequencer {
	return &Sequencer{loader: loader, counters: make(map[int64]*convCounter)}
}

func (s *Sequencer) counterFor(conversationID int64) *convCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[conversationID]
	if !ok {
		c = &convCounter{}
		s.counters[conversationID] = c
	}
	return c
}

// Allocate hands the next sequence number to persist and commits the counter
// only if persist succeeds. On a storage-level sequence conflict (another
// process won the number) the counter is invalidated so the next allocation
// reloads the watermark.
func (s *Sequencer) Allocate(ctx context.Context, conversationID int64, persist func(seq int64) error) (int64, error) {
	c := s.counterFor(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		max, err := s.loader.MaxSequence(ctx, conversationID)
		if err != nil {
			return 0, err
		}
		c.last = max
		c.loaded = true
	}

	seq := c.last + 1
	if err := persist(seq); err != nil {
		if errors.Is(err, repositories.ErrSequenceConflict) {
			c.loaded = false
		}
		return 0, err
	}
	c.last = seq
	return seq, nil
}
