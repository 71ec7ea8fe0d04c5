package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/mdnsdiscover/internal/logging"
)

const (
	// MaxStopRetries is how many times Stop waits for a subscription to
	// finish before giving up on it and escalating to StateError.
	MaxStopRetries = 3

	// DefaultStopTimeout is how long each wait in Stop lasts.
	DefaultStopTimeout = 2 * time.Second

	streamBuffer = 32
)

var (
	// ErrTeardown is returned by Stop when a subscription failed to finish
	// within MaxStopRetries waits.
	ErrTeardown = errors.New("subscription teardown failed")

	// ErrClosed is returned by Start once the registry's lifetime context
	// has been cancelled.
	ErrClosed = errors.New("registry is closed")

	errSessionEnded = errors.New("discovery session ended")
)

// State is the lifecycle state of a Registry.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// subscription is one cancellable stream consumer owned by the registry.
type subscription struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock used for timestamps and expiry.
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithDefaultWake sets the expiry monitor's maximum sleep.
func WithDefaultWake(d time.Duration) Option {
	return func(r *Registry) { r.defaultWake = d }
}

// WithStopTimeout sets how long Stop waits for each subscription per attempt.
func WithStopTimeout(d time.Duration) Option {
	return func(r *Registry) { r.stopTimeout = d }
}

// WithSettings sets the initial Source settings.
func WithSettings(s Settings) Option {
	return func(r *Registry) { r.settings = s }
}

// WithAnnouncements controls whether Start subscribes to unsolicited
// announcements. Enabled by default.
func WithAnnouncements(enabled bool) Option {
	return func(r *Registry) { r.announcements = enabled }
}

// Registry maintains the set of discovered devices for one Source.
type Registry struct {
	*notifier

	src         Source
	store       *store
	monitor     *monitor
	clock       Clock
	defaultWake time.Duration
	stopTimeout time.Duration

	// lifetime bounds every subscription and the expiry monitor
	lifetime context.Context

	// opMu serializes Start and Stop. It is held while waiting for
	// subscriptions to finish, so stream consumers must never take it
	// synchronously.
	opMu sync.Mutex

	mu            sync.Mutex
	state         State
	live          bool
	gen           uint64
	settings      Settings
	announcements bool
	subs          []*subscription
	domains       map[DomainService]struct{}
}

// New creates a stopped Registry and starts its expiry monitor. The monitor
// and any session started later run until ctx is cancelled.
func New(ctx context.Context, src Source, opts ...Option) *Registry {
	r := &Registry{
		src:           src,
		store:         newStore(),
		clock:         realClock{},
		defaultWake:   DefaultWakeInterval,
		stopTimeout:   DefaultStopTimeout,
		lifetime:      ctx,
		settings:      DefaultSettings(),
		announcements: true,
		domains:       make(map[DomainService]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.notifier = &notifier{clock: r.clock}
	r.monitor = newMonitor(r.store, r.notifier, r.clock, r.defaultWake)
	go r.monitor.run(ctx)

	return r
}

// State returns the current lifecycle state.
func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Running reports whether a discovery session is active.
func (r *Registry) Running() bool {
	return r.State() == StateRunning
}

// Settings returns the settings the next Start will use.
func (r *Registry) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Configure replaces the Source settings. They take effect on the next
// Start or Restart. All-zero settings are rejected with ErrDefaultSettings.
func (r *Registry) Configure(s Settings) error {
	if s.IsZero() {
		return ErrDefaultSettings
	}
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()

	logging.Info("Discovery settings updated",
		zap.Duration("scan_time", s.ScanTime),
		zap.Int("retry_count", s.RetryCount),
		zap.Int("retry_delay_ms", s.RetryDelayMs),
	)
	return nil
}

// Start begins a discovery session. It is a no-op while running. If the
// initial subscriptions cannot be established the registry reports an
// Error event, passes through StateError and stops again.
func (r *Registry) Start() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := r.lifetime.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStarting
	r.live = true
	r.gen++
	gen := r.gen
	opts := r.settings.options()
	announcements := r.announcements
	r.mu.Unlock()

	if err := r.startStreams(gen, opts, announcements); err != nil {
		r.mu.Lock()
		r.state = StateError
		r.mu.Unlock()

		logging.Error("Failed to start discovery", zap.Error(err))
		r.emitError(err.Error())
		if stopErr := r.stopLocked(); stopErr != nil {
			return errors.Join(err, stopErr)
		}
		return err
	}

	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()

	logging.Info("Discovery started",
		zap.Duration("scan_time", opts.ScanTime),
		zap.Int("retry_count", opts.RetryCount),
	)
	r.emitStateChanged(true)
	return nil
}

func (r *Registry) startStreams(gen uint64, opts ResolveOptions, announcements bool) error {
	domains := make(chan DomainService, streamBuffer)
	err := r.open(gen, "domains",
		func(ctx context.Context) error { return r.src.BrowseDomains(ctx, opts, domains) },
		func(ctx context.Context) { r.consumeDomains(ctx, gen, opts, domains) },
	)
	if err != nil {
		return err
	}

	if !announcements {
		return nil
	}

	heard := make(chan Announcement, streamBuffer)
	return r.open(gen, "announcements",
		func(ctx context.Context) error { return r.src.ListenForAnnouncements(ctx, heard) },
		func(ctx context.Context) { r.consumeAnnouncements(ctx, heard) },
	)
}

// open establishes one subscription for session gen and starts its consumer.
// It fails with errSessionEnded if the session was stopped meanwhile.
func (r *Registry) open(gen uint64, name string, setup func(context.Context) error, consume func(context.Context)) error {
	ctx, cancel := context.WithCancel(r.lifetime)
	if err := setup(ctx); err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", name, err)
	}

	sub := &subscription{name: name, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if r.gen != gen || (r.state != StateStarting && r.state != StateRunning) {
		r.mu.Unlock()
		cancel()
		return errSessionEnded
	}
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	logging.LogSubscription(name, "opened")
	go func() {
		defer close(sub.done)
		consume(ctx)
	}()
	return nil
}

// Stop ends the discovery session, clears every record and emits
// StateChanged(false). Stopping a stopped registry does nothing.
func (r *Registry) Stop() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.stopLocked()
}

// stopSession stops session gen unless a newer session replaced it.
func (r *Registry) stopSession(gen uint64) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	current := r.gen == gen && r.live
	r.mu.Unlock()

	if current {
		_ = r.stopLocked()
	}
}

// stopLocked requires opMu.
func (r *Registry) stopLocked() error {
	r.mu.Lock()
	if !r.live {
		r.state = StateStopped
		r.mu.Unlock()
		return nil
	}
	failedStart := r.state == StateError
	r.state = StateStopping
	subs := r.subs
	r.subs = nil
	r.domains = make(map[DomainService]struct{})
	r.mu.Unlock()

	var errs []error
	for i := len(subs) - 1; i >= 0; i-- {
		if err := r.release(subs[i]); err != nil {
			errs = append(errs, err)
		}
	}

	cleared := r.store.clear()

	r.mu.Lock()
	r.live = false
	if len(errs) > 0 {
		r.state = StateError
	} else {
		r.state = StateStopped
	}
	r.mu.Unlock()

	if len(errs) > 0 {
		logging.Error("Discovery stopped with teardown errors",
			zap.Int("failed", len(errs)),
			zap.Int("cleared", cleared),
		)
	} else {
		logging.Info("Discovery stopped",
			zap.Int("subscriptions", len(subs)),
			zap.Int("cleared", cleared),
			zap.Bool("after_failed_start", failedStart),
		)
	}

	r.emitStateChanged(false)
	return errors.Join(errs...)
}

// release cancels sub and waits for its consumer, re-cancelling between
// attempts.
func (r *Registry) release(sub *subscription) error {
	sub.cancel()

	for attempt := 1; attempt <= MaxStopRetries; attempt++ {
		timer := time.NewTimer(r.stopTimeout)
		select {
		case <-sub.done:
			timer.Stop()
			logging.LogSubscription(sub.name, "closed")
			return nil
		case <-timer.C:
		}

		msg := fmt.Sprintf("Subscription %s did not stop (attempt %d of %d)", sub.name, attempt, MaxStopRetries)
		logging.Warn(msg)
		r.emitError(msg)
		sub.cancel()
	}

	return fmt.Errorf("%w: %s", ErrTeardown, sub.name)
}

// Restart stops a running session and then starts a new one if desiredOn.
func (r *Registry) Restart(desiredOn bool) error {
	r.opMu.Lock()
	running := r.live
	var stopErr error
	if running {
		stopErr = r.stopLocked()
	}
	r.opMu.Unlock()

	if !desiredOn {
		return stopErr
	}
	return errors.Join(stopErr, r.Start())
}

// SetEnabled starts or stops discovery.
func (r *Registry) SetEnabled(on bool) error {
	if on {
		return r.Start()
	}
	return r.Stop()
}

func (r *Registry) consumeDomains(ctx context.Context, gen uint64, opts ResolveOptions, in <-chan DomainService) {
	for {
		select {
		case <-ctx.Done():
			return
		case ds, ok := <-in:
			if !ok {
				r.streamEnded(ctx, "domains")
				return
			}
			r.resolveDomain(gen, opts, ds)
		}
	}
}

// resolveDomain opens a host resolution for ds unless one is already open.
// A failure reports an Error event and stops the session asynchronously,
// since the caller is itself one of the subscriptions Stop waits on.
func (r *Registry) resolveDomain(gen uint64, opts ResolveOptions, ds DomainService) {
	r.mu.Lock()
	if _, seen := r.domains[ds]; seen || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.domains[ds] = struct{}{}
	r.mu.Unlock()

	hosts := make(chan *Host, streamBuffer)
	err := r.open(gen, "resolve "+ds.String(),
		func(ctx context.Context) error { return r.src.Resolve(ctx, ds, opts, hosts) },
		func(ctx context.Context) { r.consumeHosts(ctx, ds, hosts) },
	)
	switch {
	case err == nil:
	case errors.Is(err, errSessionEnded):
	default:
		logging.Error("Failed to resolve service type",
			zap.String("service", ds.String()),
			zap.Error(err),
		)
		r.emitError(err.Error())
		go r.stopSession(gen)
	}
}

func (r *Registry) consumeHosts(ctx context.Context, ds DomainService, in <-chan *Host) {
	for {
		select {
		case <-ctx.Done():
			return
		case host, ok := <-in:
			if !ok {
				r.streamEnded(ctx, ds.String())
				return
			}
			// Hosts arriving after teardown began belong to no session.
			if ctx.Err() != nil {
				return
			}
			r.Ingest(ds.Domain, host)
		}
	}
}

func (r *Registry) consumeAnnouncements(ctx context.Context, in <-chan Announcement) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-in:
			if !ok {
				r.streamEnded(ctx, "announcements")
				return
			}
			if a.Host == nil {
				continue
			}
			logging.Debug("Announcement received",
				zap.String("adapter", a.Adapter.Name),
				zap.String("host", a.Host.DisplayName),
			)
			r.emitError(FormatAnnouncement(a))
		}
	}
}

func (r *Registry) streamEnded(ctx context.Context, name string) {
	if ctx.Err() != nil {
		return
	}
	logging.LogSubscription(name, "completed")
	r.emitError("Completed browsing " + name)
}

// Ingest merges one resolved host into the store. Every service with a
// positive TTL is inserted (replacing any record with the same key) and
// published; every service with a non-positive TTL is unpublished and
// then removed. All Published events precede all Unpublished events, and
// an Unpublished handler can still Lookup the outgoing record. Hosts
// without an address or services are ignored.
func (r *Registry) Ingest(domain string, host *Host) {
	if host == nil || host.IPAddress == "" || host.Services == nil {
		logging.Debug("Ignoring incomplete host notification", zap.String("domain", domain))
		return
	}

	now := r.clock.Now()
	detail := FormatHost(host)

	var inserts []*DeviceRecord
	var published, removed []string
	for _, key := range host.ServiceKeys() {
		svc := host.Services[key]
		if svc == nil {
			continue
		}
		rec := newRecord(domain, key, host, svc, detail, now)
		if svc.TTL <= 0 {
			removed = append(removed, rec.Key)
			continue
		}
		inserts = append(inserts, rec)
		published = append(published, rec.Key)
	}

	if len(inserts) > 0 {
		r.store.replace(inserts)
		r.monitor.wake()
	}

	logging.LogIngest(host.IPAddress, len(published), len(removed))
	r.emitPublished(published)
	r.emitUnpublished(removed)

	if len(removed) > 0 {
		for _, key := range r.store.remove(removed) {
			logging.Debug("Removal for unknown device", zap.String("key", key))
		}
	}
}

// Lookup returns the summary of the record stored under key.
func (r *Registry) Lookup(key string) (DeviceSummary, bool) {
	return r.store.summary(key)
}

// DeviceDetailText returns the detail text for key, or "" if absent.
func (r *Registry) DeviceDetailText(key string) string {
	text, _ := r.store.detail(key)
	return text
}

// Snapshot returns a copy of the record stored under key.
func (r *Registry) Snapshot(key string) (DeviceRecord, bool) {
	return r.store.snapshot(key)
}

// Keys returns the current keys in sorted order.
func (r *Registry) Keys() []string {
	return r.store.keys()
}

// Len returns the number of stored records.
func (r *Registry) Len() int {
	return r.store.len()
}

// Devices returns summaries of every stored record in key order.
func (r *Registry) Devices() []DeviceSummary {
	keys := r.store.keys()
	out := make([]DeviceSummary, 0, len(keys))
	for _, key := range keys {
		if dev, ok := r.store.summary(key); ok {
			out = append(out, dev)
		}
	}
	return out
}
