package mdns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/mdnsdiscover/internal/discovery"
	"github.com/muurk/mdnsdiscover/internal/logging"
)

const (
	// DefaultDomain is the mDNS domain browsed when none is configured
	DefaultDomain = "local."

	// DefaultScanTime is the browse window used when the settings leave the
	// scan time at zero
	DefaultScanTime = 5 * time.Second

	// serviceEnumeration is the DNS-SD meta-query that lists service types
	serviceEnumeration = "_services._dns-sd._udp"

	entryBuffer  = 64
	drainTimeout = 2 * time.Second
)

// Resolver is the part of *zeroconf.Resolver the Source uses.
type Resolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// ResolverFactory creates a Resolver. zeroconf resolvers stop for good when
// their browse context ends, so the Source makes a new one per scan window.
type ResolverFactory func() (Resolver, error)

func newZeroconfResolver() (Resolver, error) {
	return zeroconf.NewResolver(nil)
}

// Source implements discovery.Source on top of zeroconf browsing and a raw
// multicast listener for unsolicited announcements.
type Source struct {
	newResolver ResolverFactory
	domain      string
	listener    *Listener
}

// Option configures a Source.
type Option func(*Source)

// WithResolverFactory replaces the zeroconf resolver constructor.
func WithResolverFactory(f ResolverFactory) Option {
	return func(s *Source) { s.newResolver = f }
}

// WithDomain sets the domain browsed for service types.
func WithDomain(domain string) Option {
	return func(s *Source) { s.domain = domain }
}

// WithListener replaces the announcement listener.
func WithListener(l *Listener) Option {
	return func(s *Source) { s.listener = l }
}

// NewSource creates a Source that browses DefaultDomain.
func NewSource(opts ...Option) *Source {
	s := &Source{
		newResolver: newZeroconfResolver,
		domain:      DefaultDomain,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.listener == nil {
		s.listener = NewListener()
	}
	return s
}

// BrowseDomains enumerates advertised service types and sends each one on
// out. The enumeration is repeated every scan window until ctx ends.
func (s *Source) BrowseDomains(ctx context.Context, opts discovery.ResolveOptions, out chan<- discovery.DomainService) error {
	handle := func(entry *zeroconf.ServiceEntry) bool {
		ds, ok := parseServiceType(entry.Instance, s.domain)
		if !ok {
			logging.Debug("Ignoring malformed service type", zap.String("instance", entry.Instance))
			return true
		}
		select {
		case out <- ds:
			return true
		case <-ctx.Done():
			return false
		}
	}

	return s.stream(ctx, serviceEnumeration, s.domain, opts, handle, func() { close(out) })
}

// Resolve browses one service type and sends every resolved host on out.
func (s *Source) Resolve(ctx context.Context, target discovery.DomainService, opts discovery.ResolveOptions, out chan<- *discovery.Host) error {
	handle := func(entry *zeroconf.ServiceEntry) bool {
		host := entryToHost(entry, target)
		if host == nil {
			logging.Debug("Ignoring entry without address", zap.String("instance", entry.Instance))
			return true
		}
		select {
		case out <- host:
			return true
		case <-ctx.Done():
			return false
		}
	}

	return s.stream(ctx, target.Service, target.Domain, opts, handle, func() { close(out) })
}

// ListenForAnnouncements delegates to the Source's Listener.
func (s *Source) ListenForAnnouncements(ctx context.Context, out chan<- discovery.Announcement) error {
	return s.listener.Listen(ctx, out)
}

// stream opens the first window synchronously so setup errors reach the
// caller, then keeps browsing in the background until ctx ends or a window
// cannot be opened within the retry budget. done runs once the stream stops.
func (s *Source) stream(ctx context.Context, service, domain string, opts discovery.ResolveOptions, handle func(*zeroconf.ServiceEntry) bool, done func()) error {
	name := service + "." + domain

	w, err := s.openWithRetry(ctx, service, domain, opts)
	if err != nil {
		return fmt.Errorf("failed to browse %s: %w", name, err)
	}

	go func() {
		defer done()
		for {
			if !w.collect(handle) || ctx.Err() != nil {
				return
			}

			w, err = s.openWithRetry(ctx, service, domain, opts)
			if err != nil {
				if ctx.Err() == nil {
					logging.Warn("Browse stopped",
						zap.String("service", name),
						zap.Error(err),
					)
				}
				return
			}
		}
	}()
	return nil
}

func (s *Source) openWithRetry(ctx context.Context, service, domain string, opts discovery.ResolveOptions) (*window, error) {
	scan := opts.ScanTime
	if scan <= 0 {
		scan = DefaultScanTime
	}

	for attempt := 0; ; attempt++ {
		w, err := s.openWindow(ctx, service, domain, scan)
		if err == nil {
			return w, nil
		}
		if attempt >= opts.RetryCount {
			return nil, err
		}

		logging.Debug("Retrying browse",
			zap.String("service", service),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryDelay):
		}
	}
}

func (s *Source) openWindow(ctx context.Context, service, domain string, scan time.Duration) (*window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolver, err := s.newResolver()
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, scan)
	entries := make(chan *zeroconf.ServiceEntry, entryBuffer)
	if err := resolver.Browse(wctx, service, domain, entries); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	return &window{ctx: wctx, cancel: cancel, entries: entries}, nil
}

// window is one zeroconf browse bounded by the scan time.
type window struct {
	ctx     context.Context
	cancel  context.CancelFunc
	entries chan *zeroconf.ServiceEntry
}

// collect hands entries to handle until the window closes. It reports false
// if handle asked to stop.
func (w *window) collect(handle func(*zeroconf.ServiceEntry) bool) bool {
	defer w.cancel()

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				// The resolver gave up early; hold the window open so the
				// next browse does not start in a tight loop.
				<-w.ctx.Done()
				return true
			}
			if entry == nil {
				continue
			}
			if !handle(entry) {
				go w.drain()
				return false
			}
		case <-w.ctx.Done():
			go w.drain()
			return true
		}
	}
}

// drain keeps the resolver from blocking on a send after the window ends.
func (w *window) drain() {
	timeout := time.NewTimer(drainTimeout)
	defer timeout.Stop()

	for {
		select {
		case _, ok := <-w.entries:
			if !ok {
				return
			}
		case <-timeout.C:
			return
		}
	}
}

// parseServiceType turns a DNS-SD enumeration instance such as
// "_http._tcp.local" into a DomainService.
func parseServiceType(instance, domain string) (discovery.DomainService, bool) {
	name := strings.TrimSuffix(instance, ".")
	trimmed := strings.TrimSuffix(domain, ".")
	if trimmed != "" {
		name = strings.TrimSuffix(name, "."+trimmed)
	}

	labels := strings.Split(name, ".")
	if len(labels) != 2 {
		return discovery.DomainService{}, false
	}
	if !strings.HasPrefix(labels[0], "_") || len(labels[0]) < 2 {
		return discovery.DomainService{}, false
	}
	if labels[1] != "_tcp" && labels[1] != "_udp" {
		return discovery.DomainService{}, false
	}

	if domain == "" {
		domain = DefaultDomain
	}
	if !strings.HasSuffix(domain, ".") {
		domain += "."
	}
	return discovery.DomainService{Service: name, Domain: domain}, true
}

// entryToHost converts a zeroconf service entry to a Host carrying the one
// service it describes. Returns nil if the entry has no address.
func entryToHost(entry *zeroconf.ServiceEntry, target discovery.DomainService) *discovery.Host {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	// Prefer IPv4, fall back to IPv6
	if len(addrs) == 0 {
		return nil
	}
	ip := addrs[0]

	instance := unescapeName(entry.Instance)
	display := instance
	if display == "" {
		display = strings.TrimSuffix(entry.HostName, ".")
	}

	return &discovery.Host{
		DisplayName: display,
		ID:          entry.HostName,
		IPAddress:   ip,
		IPAddresses: addrs,
		Services: map[string]*discovery.Service{
			target.Service: {
				Name:       instance,
				Port:       entry.Port,
				TTL:        int(entry.TTL),
				Properties: parseTXT(entry.Text),
			},
		},
	}
}

// parseTXT parses TXT strings in "key=value" form into one property group.
// A key without "=" maps to the empty string.
func parseTXT(text []string) []map[string]string {
	if len(text) == 0 {
		return nil
	}

	props := make(map[string]string, len(text))
	for _, txt := range text {
		if txt == "" {
			continue
		}
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			props[parts[0]] = parts[1]
		} else {
			props[parts[0]] = ""
		}
	}
	if len(props) == 0 {
		return nil
	}
	return []map[string]string{props}
}

// firstIPv4 returns the first IPv4 address among addrs, or nil.
func firstIPv4(addrs []net.Addr) net.IP {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4
		}
	}
	return nil
}
