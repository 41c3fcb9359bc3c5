// Package bus is the process-local typed pub/sub bridging domain mutations
// to per-user push connections. It is lossy by design: bounded subscriber
// queues drop their oldest events on overflow, and the durable notification
// store is the recovery path.
package bus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse-api/internal/types"
)

// DefaultBufferSize bounds each subscriber queue.
const DefaultBufferSize = 256

// BroadcastGroup receives cross-cutting events alongside the per-user groups.
const BroadcastGroup = "push/broadcast"

// UserGroup is the push-group key for one user.
func UserGroup(userID string) string {
	return fmt.Sprintf("push/%s", userID)
}

// Subscription is one subscriber's handle on a group. Events arrives on C()
// in publish order; the channel closes when the handle is closed or the
// group is closed. Handles are not restartable.
type Subscription struct {
	group string
	ch    chan types.TradeEvent

	mu      sync.Mutex
	pending []types.TradeEvent
	closed  bool
	wake    chan struct{}
	quit    chan struct{}
	bound   int
}

// C yields the subscriber's event stream.
func (s *Subscription) C() <-chan types.TradeEvent {
	return s.ch
}

// push enqueues an event, truncating oldest-first when the queue is full.
// Never blocks the publisher.
func (s *Subscription) push(event types.TradeEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.pending) >= s.bound {
		dropped := len(s.pending) - s.bound + 1
		s.pending = s.pending[dropped:]
		log.Warn().
			Str("group", s.group).
			Int("dropped", dropped).
			Msg("subscriber queue overflow, truncated oldest events")
	}
	s.pending = append(s.pending, event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drain moves queued events onto the delivery channel until closed.
func (s *Subscription) drain() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 {
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			s.mu.Lock()
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return
		}
		select {
		case s.ch <- next:
		case <-s.quit:
			return
		}
	}
}

// Close detaches the subscription. Idempotent.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	close(s.quit)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Bus is the subscriber registry. The registry lock is held only for
// registration and deregistration; publishing touches per-subscriber queues
// without it.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*Subscription
	bufferSize  int
}

func New() *Bus {
	return NewWithBuffer(DefaultBufferSize)
}

func NewWithBuffer(size int) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[string][]*Subscription),
		bufferSize:  size,
	}
}

// Subscribe attaches a new subscriber to a group.
func (b *Bus) Subscribe(group string) *Subscription {
	sub := &Subscription{
		group: group,
		ch:    make(chan types.TradeEvent),
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		bound: b.bufferSize,
	}
	go sub.drain()

	b.mu.Lock()
	b.subscribers[group] = append(b.subscribers[group], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe detaches a handle from its group and closes it.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	subs := b.subscribers[sub.group]
	for i, candidate := range subs {
		if candidate == sub {
			b.subscribers[sub.group] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[sub.group]) == 0 {
		delete(b.subscribers, sub.group)
	}
	b.mu.Unlock()
	sub.Close()
}

// Publish delivers an event to every subscriber of the group, in publish
// order per subscriber, without ever blocking the publisher.
func (b *Bus) Publish(group string, event types.TradeEvent) {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.subscribers[group]))
	copy(subs, b.subscribers[group])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.push(event)
	}
}

// CloseGroup terminates every subscriber of the group.
func (b *Bus) CloseGroup(group string) {
	b.mu.Lock()
	subs := b.subscribers[group]
	delete(b.subscribers, group)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// SubscriberCount reports the current number of subscribers on a group.
func (b *Bus) SubscriberCount(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[group])
}
