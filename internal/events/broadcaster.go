package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Broadcaster fans events out to channel subscribers. A subscriber whose
// buffer is full misses the event; Emit never blocks on a slow consumer.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	buffer  int
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewBroadcaster creates a broadcaster whose subscriptions default to buffer slots
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[uint64]chan Event),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel of future events and a function that ends the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Emit implements Sink
func (b *Broadcaster) Emit(ctx context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event subscriber full, dropping event",
				"subscriber", id,
				"event", string(e.Type),
				"session_id", e.SessionID,
			)
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a buffer was full
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}
