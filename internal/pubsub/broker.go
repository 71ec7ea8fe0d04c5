package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/mdnsdiscover/internal/logging"
)

// defaultBufferSize covers a full burst of Published events from one
// resolution pass on a busy network.
const defaultBufferSize = 256

// Broker relays registry notifications to consumers that cannot run inside
// the registry's handler goroutine, such as the terminal UI and WebSocket
// clients. discovery.Forward is its only publisher.
//
// Publish never blocks the registry. A subscriber whose buffer is full
// misses the event, which is safe because Published and Unpublished are
// last-write-wins signals: a lagging consumer resynchronises from
// Registry.Devices rather than replaying a log.
type Broker[T any] struct {
	mu         sync.RWMutex
	subs       map[chan Event[T]]*subscriber
	done       chan struct{}
	bufferSize int
	dropped    atomic.Uint64
}

// subscriber counts the events one consumer missed. A consumer is reported
// as lagging the first time it misses one.
type subscriber struct {
	dropped atomic.Uint64
}

// NewBroker creates a broker with the default buffer size.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a broker whose subscriber channels hold size
// events.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	return &Broker[T]{
		subs:       make(map[chan Event[T]]*subscriber),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// Subscribe registers a consumer. The channel is closed when ctx ends or
// the broker closes, whichever comes first.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan Event[T])
		close(ch)
		return ch
	default:
	}

	ch := make(chan Event[T], b.bufferSize)
	sub := &subscriber{}
	b.subs[ch] = sub

	go func() {
		<-ctx.Done()
		b.release(ch, sub)
	}()

	return ch
}

func (b *Broker[T]) release(ch chan Event[T], sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return // closed by Close
	default:
	}

	delete(b.subs, ch)
	close(ch)

	if n := sub.dropped.Load(); n > 0 {
		logging.Debug("Event subscriber released", zap.Uint64("dropped", n))
	}
}

// Publish stamps payload and offers it to every subscriber.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	event := Event[T]{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}

	for ch, sub := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			if sub.dropped.Add(1) == 1 {
				logging.Warn("Event subscriber lagging, dropping events",
					zap.String("event", string(eventType)),
					zap.Int("buffer", b.bufferSize),
				)
			}
		}
	}
}

// Dropped returns how many deliveries were skipped across all subscribers.
func (b *Broker[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Lagging returns how many current subscribers have missed at least one
// event.
func (b *Broker[T]) Lagging() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, sub := range b.subs {
		if sub.dropped.Load() > 0 {
			n++
		}
	}
	return n
}

// Close shuts down the broker and closes every subscriber channel.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}

	close(b.done)
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
