// Package bus carries trading signals from producer agents to the
// execution agent. It is an in-process pub/sub channel with a bounded
// buffer and a single logical consumer group.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"crypto_agents/internal/domain"
)

var (
	// ErrSubscriptionClosed is returned when a subscription was closed or
	// superseded by a newer Subscribe call.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Bus is the signal bus. Publish never blocks: when the buffer is full
// the oldest unconsumed signal for the incoming signal's symbol is
// dropped (signals are time-sensitive, staleness is worse than loss)
// and the drop counter is incremented.
type Bus struct {
	mu       sync.Mutex
	capacity int
	queue    []domain.Signal
	dropped  uint64
	onDrop   func()
	sub      *Subscription
	notify   chan struct{}
}

// New allocates a bus with the given buffer capacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{
		capacity: capacity,
		queue:    make([]domain.Signal, 0, capacity),
		notify:   make(chan struct{}, 1),
	}
}

// OnDrop installs a callback invoked once per dropped signal, outside
// the bus lock. Set during wiring, before any Publish.
func (b *Bus) OnDrop(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Publish enqueues a signal, dropping the oldest same-symbol signal
// (or the global oldest when the symbol has none queued) if the buffer
// is full. Delivery order is arrival order at the bus.
func (b *Bus) Publish(sig domain.Signal) {
	b.mu.Lock()
	var onDrop func()
	if len(b.queue) >= b.capacity {
		victim := 0
		for i, queued := range b.queue {
			if queued.Symbol == sig.Symbol {
				victim = i
				break
			}
		}
		dropped := b.queue[victim]
		b.queue = append(b.queue[:victim], b.queue[victim+1:]...)
		b.dropped++
		onDrop = b.onDrop
		slog.Debug("signal dropped",
			slog.String("symbol", dropped.Symbol),
			slog.String("source", dropped.Source),
			slog.Uint64("seq", dropped.Seq),
		)
	}
	b.queue = append(b.queue, sig)
	b.mu.Unlock()

	if onDrop != nil {
		onDrop()
	}

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Dropped returns the total number of signals dropped since creation.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Pending returns the number of undelivered signals.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Subscribe attaches the single logical consumer. A newer call
// invalidates the previous subscription; undelivered signals remain
// queued and resume on the new subscription, so no signal is delivered
// twice to the same subscription instance.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		b.sub.closeLocked()
	}
	sub := &Subscription{bus: b, done: make(chan struct{})}
	b.sub = sub
	return sub
}

// Subscription is one consumer instance of the bus.
type Subscription struct {
	bus  *Bus
	done chan struct{}
	once sync.Once
}

// Next blocks until a signal is available, the context is cancelled, or
// the subscription is closed.
func (s *Subscription) Next(ctx context.Context) (domain.Signal, error) {
	for {
		s.bus.mu.Lock()
		if s.bus.sub != s || s.isClosed() {
			s.bus.mu.Unlock()
			return domain.Signal{}, ErrSubscriptionClosed
		}
		if len(s.bus.queue) > 0 {
			sig := s.bus.queue[0]
			s.bus.queue = s.bus.queue[1:]
			remaining := len(s.bus.queue)
			s.bus.mu.Unlock()

			// Keep the wakeup pending for the next signal in line.
			if remaining > 0 {
				select {
				case s.bus.notify <- struct{}{}:
				default:
				}
			}
			return sig, nil
		}
		s.bus.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Signal{}, ctx.Err()
		case <-s.done:
			return domain.Signal{}, ErrSubscriptionClosed
		case <-s.bus.notify:
		}
	}
}

// Close detaches the subscription. Queued signals stay on the bus for
// a future subscriber.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closeLocked()
	if s.bus.sub == s {
		s.bus.sub = nil
	}
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
