package discovery

import (
	"context"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
}

// fakeSource hands the registry's output channels to the test.
type fakeSource struct {
	mu sync.Mutex

	browseErr  error
	listenErr  error
	resolveErr map[DomainService]error

	opts       ResolveOptions
	domainsOut chan<- DomainService
	domainsCtx context.Context
	heardOut   chan<- Announcement
	heardCtx   context.Context
	hostsOut   map[DomainService]chan<- *Host
	hostsCtx   map[DomainService]context.Context
	resolves   map[DomainService]int
	resolved   chan DomainService
	closedOuts map[any]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		resolveErr: make(map[DomainService]error),
		hostsOut:   make(map[DomainService]chan<- *Host),
		hostsCtx:   make(map[DomainService]context.Context),
		resolves:   make(map[DomainService]int),
		resolved:   make(chan DomainService, 16),
		closedOuts: make(map[any]bool),
	}
}

func (f *fakeSource) BrowseDomains(ctx context.Context, opts ResolveOptions, out chan<- DomainService) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browseErr != nil {
		return f.browseErr
	}
	f.opts = opts
	f.domainsOut = out
	f.domainsCtx = ctx
	f.closeOnDone(ctx, out, func() { close(out) })
	return nil
}

func (f *fakeSource) ListenForAnnouncements(ctx context.Context, out chan<- Announcement) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listenErr != nil {
		return f.listenErr
	}
	f.heardOut = out
	f.heardCtx = ctx
	f.closeOnDone(ctx, out, func() { close(out) })
	return nil
}

func (f *fakeSource) Resolve(ctx context.Context, target DomainService, opts ResolveOptions, out chan<- *Host) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resolves[target]++
	if err := f.resolveErr[target]; err != nil {
		return err
	}
	f.hostsOut[target] = out
	f.hostsCtx[target] = ctx
	f.closeOnDone(ctx, out, func() { close(out) })
	f.resolved <- target
	return nil
}

// closeOnDone requires f.mu.
func (f *fakeSource) closeOnDone(ctx context.Context, id any, closeFn func()) {
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closeOnce(id, closeFn)
	}()
}

// closeOnce requires f.mu.
func (f *fakeSource) closeOnce(id any, closeFn func()) {
	if f.closedOuts[id] {
		return
	}
	f.closedOuts[id] = true
	closeFn()
}

func (f *fakeSource) announceDomain(t *testing.T, ds DomainService) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.domainsOut == nil || f.closedOuts[f.domainsOut] {
		t.Fatalf("domain stream not open")
	}
	f.domainsOut <- ds
}

func (f *fakeSource) endDomains(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.domainsOut
	f.closeOnce(out, func() { close(out) })
}

func (f *fakeSource) sendHost(t *testing.T, ds DomainService, host *Host) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out, ok := f.hostsOut[ds]
	if !ok || f.closedOuts[out] {
		t.Fatalf("no open resolution for %s", ds)
	}
	out <- host
}

func (f *fakeSource) sendAnnouncement(t *testing.T, a Announcement) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.heardOut == nil || f.closedOuts[f.heardOut] {
		t.Fatalf("announcement stream not open")
	}
	f.heardOut <- a
}

func (f *fakeSource) resolveCount(ds DomainService) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolves[ds]
}

func (f *fakeSource) lastOptions() ResolveOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts
}

func (f *fakeSource) waitResolved(t *testing.T) DomainService {
	t.Helper()
	select {
	case ds := <-f.resolved:
		return ds
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Resolve")
		return DomainService{}
	}
}

// recorder captures every event the registry emits.
type recorder struct {
	mu          sync.Mutex
	states      []bool
	published   []string
	unpublished []string
	errors      []string

	publishedCh chan string
	errorCh     chan string
	stateCh     chan bool
}

func record(reg *Registry) *recorder {
	rec := &recorder{
		publishedCh: make(chan string, 256),
		errorCh:     make(chan string, 256),
		stateCh:     make(chan bool, 16),
	}
	reg.OnStateChanged(func(running bool) {
		rec.mu.Lock()
		rec.states = append(rec.states, running)
		rec.mu.Unlock()
		rec.stateCh <- running
	})
	reg.OnPublished(func(key string) {
		rec.mu.Lock()
		rec.published = append(rec.published, key)
		rec.mu.Unlock()
		rec.publishedCh <- key
	})
	reg.OnUnpublished(func(key string) {
		rec.mu.Lock()
		rec.unpublished = append(rec.unpublished, key)
		rec.mu.Unlock()
	})
	reg.OnError(func(message string) {
		rec.mu.Lock()
		rec.errors = append(rec.errors, message)
		rec.mu.Unlock()
		rec.errorCh <- message
	})
	return rec
}

func (r *recorder) snapshot() (states []bool, published, unpublished, errs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...),
		append([]string(nil), r.published...),
		append([]string(nil), r.unpublished...),
		append([]string(nil), r.errors...)
}

func (r *recorder) waitPublished(t *testing.T) string {
	t.Helper()
	select {
	case key := <-r.publishedCh:
		return key
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Published")
		return ""
	}
}

func (r *recorder) waitError(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-r.errorCh:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Error")
		return ""
	}
}

func (r *recorder) waitState(t *testing.T) bool {
	t.Helper()
	select {
	case running := <-r.stateCh:
		return running
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for StateChanged")
		return false
	}
}

func newTestRegistry(t *testing.T, src Source, opts ...Option) (*Registry, *fakeClock) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()
	reg := New(ctx, src, append([]Option{WithClock(clock)}, opts...)...)

	t.Cleanup(func() {
		_ = reg.Stop()
		cancel()
		<-reg.monitor.done
	})
	return reg, clock
}

func testHost(ip string, services map[string]*Service) *Host {
	return &Host{
		DisplayName: "office-printer",
		ID:          "office-printer.local.",
		IPAddress:   ip,
		IPAddresses: []string{ip},
		Services:    services,
	}
}
