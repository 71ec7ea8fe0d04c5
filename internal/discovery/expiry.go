package discovery

import (
	"context"
	"time"

	"github.com/muurk/mdnsdiscover/internal/logging"
)

const (
	// DefaultWakeInterval bounds how long the monitor sleeps when no record
	// has a nearer deadline.
	DefaultWakeInterval = 9 * time.Second

	// minWake is the resolution of an immediate re-scan. A deadline that
	// lands exactly on now is due one tick later.
	minWake = time.Millisecond
)

// monitor flags records whose TTL has elapsed. It runs for the lifetime of
// the context passed to run and is not restartable.
type monitor struct {
	store       *store
	events      *notifier
	clock       Clock
	defaultWake time.Duration
	nudge       chan struct{}
	done        chan struct{}
}

func newMonitor(s *store, events *notifier, clock Clock, defaultWake time.Duration) *monitor {
	return &monitor{
		store:       s,
		events:      events,
		clock:       clock,
		defaultWake: defaultWake,
		nudge:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func (m *monitor) run(ctx context.Context) {
	defer close(m.done)

	for {
		delay := m.scan()

		select {
		case <-ctx.Done():
			return
		case <-m.nudge:
		case <-m.clock.After(delay):
		}
	}
}

// scan runs one expiry pass and returns the delay until the next one.
func (m *monitor) scan() time.Duration {
	scanned := m.store.len()
	expired, next := m.store.expire(m.clock.Now(), m.defaultWake)
	if next < minWake {
		next = minWake
	}

	if len(expired) > 0 {
		logging.LogExpiry(scanned, len(expired), next)
	}
	m.events.emitPublished(expired)
	return next
}

// wake asks the monitor to rescan now. It never blocks; a pending nudge
// already covers this one.
func (m *monitor) wake() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}
