package chat

import (
	"sync"

	"github.com/hongjun500/chat-broadcast/internal/observe"
	"github.com/hongjun500/chat-broadcast/internal/protocol"
)

const DefaultQueueDepth = 256

// Subscription is one bounded delivery queue. It receives every envelope
// published after it was created, plus anything sent to it directly.
type Subscription struct {
	id    uint64
	owner string
	ch    chan *protocol.Envelope
	done chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func newSubscription(id uint64, owner string, depth int) *Subscription {
	return &Subscription{
		id:    id,
		owner: owner,
		ch:   make(chan *protocol.Envelope, depth),
		done: make(chan struct{}),
	}
}

func (s *Subscription) ID() uint64 { return s.id }

// Owner is the session name the queue belongs to, empty for anonymous ones.
func (s *Subscription) Owner() string { return s.owner }

// C yields queued envelopes; it is closed when the subscription ends.
func (s *Subscription) C() <-chan *protocol.Envelope { return s.ch }

// Done is closed when the subscription ends for any reason.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err explains why the subscription ended: ErrSlowConsumer after an
// overflow, ErrSubscriptionClosed otherwise. Nil while live.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// offer never blocks. It reports false only when the queue is full.
func (s *Subscription) offer(env *protocol.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- env:
		return true
	default:
		return false
	}
}

func (s *Subscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
	close(s.ch)
}

// Broadcaster fans envelopes out to every live subscription. Publishing is
// serialized, so each subscriber sees one sender's messages in order. A
// subscriber whose queue is full is evicted instead of blocking the publisher.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	depth  int
	closed bool
}

func NewBroadcaster(depth int) *Broadcaster {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Broadcaster{
		subs:  make(map[uint64]*Subscription),
		depth: depth,
	}
}

// Subscribe registers a new queue for owner. Publish never queues owner's
// own chat or binary envelopes on it. After Close it returns an ended
// subscription.
func (b *Broadcaster) Subscribe(owner string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := newSubscription(b.nextID, owner, b.depth)
	if b.closed {
		s.close(ErrSubscriptionClosed)
		return s
	}
	b.subs[s.id] = s
	return s
}

// Unsubscribe stops delivery and releases the queue. Safe to repeat.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, s.id)
	b.mu.Unlock()
	s.close(ErrSubscriptionClosed)
}

// Publish queues env on every live subscription that should see it and
// returns how many took it.
func (b *Broadcaster) Publish(env *protocol.Envelope) int {
	if env == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for id, s := range b.subs {
		if !ShouldDeliver(env, s.owner) {
			continue
		}
		if s.offer(env) {
			delivered++
			continue
		}
		b.evictLocked(id, s)
	}
	observe.IncMessage(env.Kind.String())
	return delivered
}

// Send queues env on s alone. It reports false when s is gone or was just
// evicted for overflowing.
func (b *Broadcaster) Send(s *Subscription, env *protocol.Envelope) bool {
	if s == nil || env == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return false
	}
	if s.offer(env) {
		return true
	}
	b.evictLocked(s.id, s)
	return false
}

func (b *Broadcaster) evictLocked(id uint64, s *Subscription) {
	delete(b.subs, id)
	s.close(ErrSlowConsumer)
	observe.IncSlowConsumer()
}

func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription; later Subscribe calls get ended ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.closed = true
	b.mu.Unlock()
	for _, s := range subs {
		s.close(ErrSubscriptionClosed)
	}
}
