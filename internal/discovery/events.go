package discovery

import "sync"

// ErrorSeparator separates the timestamp prefix from the message in Error events.
const ErrorSeparator = " | "

// StateHandler receives StateChanged events.
type StateHandler func(running bool)

// KeyHandler receives Published and Unpublished events.
type KeyHandler func(key string)

// ErrorHandler receives Error events. Messages carry a timestamp prefix.
type ErrorHandler func(message string)

type handlerEntry[F any] struct {
	id uint64
	fn F
}

// handlerList is a registration list that preserves registration order.
type handlerList[F any] struct {
	mu      sync.RWMutex
	seq     uint64
	entries []handlerEntry[F]
}

func (l *handlerList[F]) add(fn F) func() {
	l.mu.Lock()
	l.seq++
	id := l.seq
	l.entries = append(l.entries, handlerEntry[F]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, e := range l.entries {
				if e.id == id {
					l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *handlerList[F]) snapshot() []F {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fns := make([]F, len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	return fns
}

// notifier owns the four consumer-facing event streams. Emit methods must
// never be called with the store lock held.
type notifier struct {
	clock Clock

	state       handlerList[StateHandler]
	published   handlerList[KeyHandler]
	unpublished handlerList[KeyHandler]
	errors      handlerList[ErrorHandler]
}

// OnStateChanged registers a handler and returns a function that removes it.
func (n *notifier) OnStateChanged(fn StateHandler) (unsubscribe func()) {
	return n.state.add(fn)
}

// OnPublished registers a handler and returns a function that removes it.
func (n *notifier) OnPublished(fn KeyHandler) (unsubscribe func()) {
	return n.published.add(fn)
}

// OnUnpublished registers a handler and returns a function that removes it.
func (n *notifier) OnUnpublished(fn KeyHandler) (unsubscribe func()) {
	return n.unpublished.add(fn)
}

// OnError registers a handler and returns a function that removes it.
func (n *notifier) OnError(fn ErrorHandler) (unsubscribe func()) {
	return n.errors.add(fn)
}

func (n *notifier) emitStateChanged(running bool) {
	for _, fn := range n.state.snapshot() {
		fn(running)
	}
}

func (n *notifier) emitPublished(keys []string) {
	handlers := n.published.snapshot()
	for _, key := range keys {
		for _, fn := range handlers {
			fn(key)
		}
	}
}

func (n *notifier) emitUnpublished(keys []string) {
	handlers := n.unpublished.snapshot()
	for _, key := range keys {
		for _, fn := range handlers {
			fn(key)
		}
	}
}

func (n *notifier) emitError(message string) {
	stamped := n.clock.Now().Format(timestampLayout) + ErrorSeparator + message
	for _, fn := range n.errors.snapshot() {
		fn(stamped)
	}
}
