package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Transport is the server-facing side of one logical client connection.
type Transport interface {
	Send(ctx context.Context, msg OutgoingMessage) error
	RequestReplay(ctx context.Context, conversationID, afterSeq int64) error
}

// OutgoingMessage is one buffered send intent. CorrelationID makes retries
// idempotent: the server deduplicates on it, so "no confirmation received"
// and "confirmed, confirmation lost" converge to the same accepted message.
type OutgoingMessage struct {
	CorrelationID  string
	ConversationID int64
	Content        string
	ParentID       *int64
	AttachmentID   *string
}

// State of the adapter's link to the server.
type State int32

const (
	// StateOnline: sends flush immediately.
	StateOnline State = iota
	// StateOffline: sends buffer locally until reconnect.
	StateOffline
	// StateDisconnected: terminal, the retry budget is exhausted and the
	// application layer must surface a persistent disconnection.
	StateDisconnected
)

// ErrSuperseded cancels a pending retry whose message was replaced by a
// user-initiated edit or delete before the original send confirmed.
var ErrSuperseded = errors.New("send superseded before confirmation")

type pending struct {
	msg        OutgoingMessage
	superseded bool
}

// Options tunes the adapter's retry behavior.
type Options struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 250 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 10 * time.Second
	}
}

// Adapter wraps one logical client connection: it buffers sends while
// disconnected, flushes them in original order with capped exponential
// backoff once online, and drives replay requests after a reconnect.
type Adapter struct {
	transport Transport
	opts      Options

	mu        sync.Mutex
	outbox    []*pending
	state     State
	lastAcked map[int64]int64

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewAdapter builds an adapter in the offline state; call SetOnline once the
// underlying connection is up.
func NewAdapter(transport Transport, opts Options) *Adapter {
	opts.withDefaults()
	return &Adapter{
		transport: transport,
		opts:      opts,
		state:     StateOffline,
		lastAcked: make(map[int64]int64),
		flushCh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the flush loop.
func (a *Adapter) Start() {
	a.wg.Add(1)
	go a.flushLoop()
}

// Close stops the flush loop. Buffered messages stay queued.
func (a *Adapter) Close() {
	a.once.Do(func() { close(a.done) })
	a.wg.Wait()
}

// State returns the current link state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// PendingCount reports how many sends are buffered.
func (a *Adapter) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outbox)
}

// Send buffers a message and returns its correlation id. Delivery order
// follows enqueue order.
func (a *Adapter) Send(msg OutgoingMessage) string {
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	a.mu.Lock()
	a.outbox = append(a.outbox, &pending{msg: msg})
	a.mu.Unlock()
	a.kick()
	return msg.CorrelationID
}

// Supersede cancels a buffered or retrying send. Returns false when the
// message already left the outbox (it was confirmed, or never existed).
func (a *Adapter) Supersede(correlationID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.outbox {
		if p.msg.CorrelationID == correlationID {
			p.superseded = true
			return true
		}
	}
	return false
}

// Acknowledge records the highest event sequence seen for a conversation;
// replay after reconnect starts from here.
func (a *Adapter) Acknowledge(conversationID, seq int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq > a.lastAcked[conversationID] {
		a.lastAcked[conversationID] = seq
	}
}

// LastAcknowledged returns the replay cursor for a conversation.
func (a *Adapter) LastAcknowledged(conversationID int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAcked[conversationID]
}

// SetOnline flips connectivity. Coming online requests replay for every
// acknowledged conversation and flushes the outbox in order.
func (a *Adapter) SetOnline(online bool) {
	a.mu.Lock()
	if a.state == StateDisconnected && !online {
		a.mu.Unlock()
		return
	}
	if online {
		a.state = StateOnline
	} else {
		a.state = StateOffline
	}
	cursors := make(map[int64]int64, len(a.lastAcked))
	for conversationID, seq := range a.lastAcked {
		cursors[conversationID] = seq
	}
	a.mu.Unlock()

	if !online {
		return
	}
	for conversationID, seq := range cursors {
		if err := a.transport.RequestReplay(context.Background(), conversationID, seq); err != nil {
			log.Printf("replay request for conversation %d: %v", conversationID, err)
		}
	}
	a.kick()
}

func (a *Adapter) kick() {
	select {
	case a.flushCh <- struct{}{}:
	default:
	}
}

func (a *Adapter) flushLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case <-a.flushCh:
			a.flush()
		}
	}
}

// flush drains the outbox head-first. A message that exhausts its retry
// budget flips the adapter to the terminal disconnected state instead of
// retrying forever.
func (a *Adapter) flush() {
	for {
		a.mu.Lock()
		if a.state != StateOnline || len(a.outbox) == 0 {
			a.mu.Unlock()
			return
		}
		head := a.outbox[0]
		if head.superseded {
			a.outbox = a.outbox[1:]
			a.mu.Unlock()
			continue
		}
		msg := head.msg
		a.mu.Unlock()

		if err := a.deliver(msg); err != nil {
			if errors.Is(err, ErrSuperseded) {
				a.mu.Lock()
				if len(a.outbox) > 0 && a.outbox[0] == head {
					a.outbox = a.outbox[1:]
				}
				a.mu.Unlock()
				continue
			}
			a.mu.Lock()
			a.state = StateDisconnected
			a.mu.Unlock()
			log.Printf("send %s exhausted retry budget: %v", msg.CorrelationID, err)
			return
		}

		a.mu.Lock()
		if len(a.outbox) > 0 && a.outbox[0] == head {
			a.outbox = a.outbox[1:]
		}
		a.mu.Unlock()
	}
}

func (a *Adapter) deliver(msg OutgoingMessage) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.opts.InitialInterval
	policy.MaxInterval = a.opts.MaxInterval
	policy.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		select {
		case <-a.done:
			return backoff.Permanent(ErrSuperseded)
		default:
		}
		a.mu.Lock()
		superseded := len(a.outbox) > 0 && a.outbox[0].msg.CorrelationID == msg.CorrelationID && a.outbox[0].superseded
		a.mu.Unlock()
		if superseded {
			return backoff.Permanent(ErrSuperseded)
		}

		attempts++
		err := a.transport.Send(context.Background(), msg)
		if err != nil && attempts >= a.opts.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithMaxRetries(policy, uint64(a.opts.MaxAttempts)))
}
