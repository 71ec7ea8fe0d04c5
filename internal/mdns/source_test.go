package mdns

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/muurk/mdnsdiscover/internal/discovery"
)

func TestParseServiceType(t *testing.T) {
	tests := []struct {
		name     string
		instance string
		domain   string
		want     discovery.DomainService
		wantOK   bool
	}{
		{
			name:     "zeroconf enumeration instance",
			instance: "_http._tcp.local",
			domain:   "local.",
			want:     discovery.DomainService{Service: "_http._tcp", Domain: "local."},
			wantOK:   true,
		},
		{
			name:     "trailing dot",
			instance: "_ipp._tcp.local.",
			domain:   "local.",
			want:     discovery.DomainService{Service: "_ipp._tcp", Domain: "local."},
			wantOK:   true,
		},
		{
			name:     "udp service",
			instance: "_sleep-proxy._udp.local",
			domain:   "local.",
			want:     discovery.DomainService{Service: "_sleep-proxy._udp", Domain: "local."},
			wantOK:   true,
		},
		{
			name:     "bare service type",
			instance: "_smb._tcp",
			domain:   "local.",
			want:     discovery.DomainService{Service: "_smb._tcp", Domain: "local."},
			wantOK:   true,
		},
		{
			name:     "missing protocol label",
			instance: "_http.local",
			domain:   "local.",
			wantOK:   false,
		},
		{
			name:     "instance name rather than a type",
			instance: "Printer._ipp._tcp.local",
			domain:   "local.",
			wantOK:   false,
		},
		{
			name:     "empty",
			instance: "",
			domain:   "local.",
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseServiceType(tt.instance, tt.domain)
			if ok != tt.wantOK {
				t.Fatalf("parseServiceType() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseServiceType() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEntryToHost(t *testing.T) {
	target := discovery.DomainService{Service: "_http._tcp", Domain: "local."}

	tests := []struct {
		name      string
		entry     *zeroconf.ServiceEntry
		wantNil   bool
		wantIP    string
		wantAddrs int
		wantPort  int
		wantTTL   int
		wantName  string
		wantProps map[string]string
	}{
		{
			name: "ipv4 with txt records",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: `Office\ Printer`},
				HostName:      "printer.local.",
				Port:          80,
				TTL:           120,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"path=/", "srcvers=1D90645", "flag"},
			},
			wantIP:    "192.168.4.16",
			wantAddrs: 1,
			wantPort:  80,
			wantTTL:   120,
			wantName:  "Office Printer",
			wantProps: map[string]string{"path": "/", "srcvers": "1D90645", "flag": ""},
		},
		{
			name: "prefers ipv4 over ipv6",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "nas"},
				HostName:      "nas.local.",
				Port:          5000,
				TTL:           4500,
				AddrIPv4:      []net.IP{net.ParseIP("10.0.0.5")},
				AddrIPv6:      []net.IP{net.ParseIP("fe80::5")},
			},
			wantIP:    "10.0.0.5",
			wantAddrs: 2,
			wantPort:  5000,
			wantTTL:   4500,
			wantName:  "nas",
		},
		{
			name: "ipv6 fallback",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "tv"},
				HostName:      "tv.local.",
				Port:          8009,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::9")},
			},
			wantIP:    "fe80::9",
			wantAddrs: 1,
			wantPort:  8009,
			wantName:  "tv",
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "ghost"},
				HostName:      "ghost.local.",
				Port:          80,
			},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := entryToHost(tt.entry, target)
			if tt.wantNil {
				if host != nil {
					t.Errorf("entryToHost() = %+v, want nil", host)
				}
				return
			}
			if host == nil {
				t.Fatal("entryToHost() = nil")
			}
			if host.IPAddress != tt.wantIP {
				t.Errorf("IPAddress = %q, want %q", host.IPAddress, tt.wantIP)
			}
			if len(host.IPAddresses) != tt.wantAddrs {
				t.Errorf("IPAddresses = %v, want %d entries", host.IPAddresses, tt.wantAddrs)
			}
			if host.ID != tt.entry.HostName {
				t.Errorf("ID = %q, want %q", host.ID, tt.entry.HostName)
			}

			svc := host.Services[target.Service]
			if svc == nil {
				t.Fatalf("no service under %q", target.Service)
			}
			if svc.Port != tt.wantPort || svc.TTL != tt.wantTTL || svc.Name != tt.wantName {
				t.Errorf("service = %+v", svc)
			}
			if tt.wantProps == nil {
				if svc.Properties != nil {
					t.Errorf("Properties = %v, want nil", svc.Properties)
				}
				return
			}
			if len(svc.Properties) != 1 {
				t.Fatalf("Properties = %v, want one group", svc.Properties)
			}
			for k, v := range tt.wantProps {
				if svc.Properties[0][k] != v {
					t.Errorf("Properties[%q] = %q, want %q", k, svc.Properties[0][k], v)
				}
			}
		})
	}
}

// fakeResolver sends its entries on Browse and closes the channel when the
// browse context ends, like zeroconf.
type fakeResolver struct {
	entries []*zeroconf.ServiceEntry
	err     error

	mu      sync.Mutex
	browsed []string
}

func (r *fakeResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.browsed = append(r.browsed, service+"."+domain)
	r.mu.Unlock()

	go func() {
		defer close(entries)
		for _, e := range r.entries {
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return nil
}

func sourceWith(r *fakeResolver) *Source {
	return NewSource(WithResolverFactory(func() (Resolver, error) { return r, nil }))
}

func TestSource_BrowseDomains(t *testing.T) {
	resolver := &fakeResolver{entries: []*zeroconf.ServiceEntry{
		{ServiceRecord: zeroconf.ServiceRecord{Instance: "_http._tcp.local"}},
		{ServiceRecord: zeroconf.ServiceRecord{Instance: "garbage"}},
		{ServiceRecord: zeroconf.ServiceRecord{Instance: "_ipp._tcp.local"}},
	}}
	src := sourceWith(resolver)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan discovery.DomainService, 8)
	if err := src.BrowseDomains(ctx, discovery.ResolveOptions{ScanTime: time.Hour}, out); err != nil {
		t.Fatalf("BrowseDomains() error = %v", err)
	}

	want := []discovery.DomainService{
		{Service: "_http._tcp", Domain: "local."},
		{Service: "_ipp._tcp", Domain: "local."},
	}
	for _, w := range want {
		select {
		case got := <-out:
			if got != w {
				t.Errorf("got %+v, want %+v", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %+v", w)
		}
	}

	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Error("unexpected extra domain")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("out was not closed after cancel")
	}

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	if len(resolver.browsed) == 0 || resolver.browsed[0] != "_services._dns-sd._udp.local." {
		t.Errorf("browsed = %v", resolver.browsed)
	}
}

func TestSource_ResolveRebrowsesEachWindow(t *testing.T) {
	resolver := &fakeResolver{entries: []*zeroconf.ServiceEntry{{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "nas"},
		HostName:      "nas.local.",
		Port:          445,
		TTL:           120,
		AddrIPv4:      []net.IP{net.ParseIP("10.0.0.8")},
	}}}
	src := sourceWith(resolver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := discovery.DomainService{Service: "_smb._tcp", Domain: "local."}
	out := make(chan *discovery.Host, 8)
	if err := src.Resolve(ctx, target, discovery.ResolveOptions{ScanTime: 20 * time.Millisecond}, out); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// The same host arrives again in the next window.
	for i := 0; i < 2; i++ {
		select {
		case host := <-out:
			if host.IPAddress != "10.0.0.8" || host.Services["_smb._tcp"] == nil {
				t.Errorf("host = %+v", host)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for window %d", i+1)
		}
	}
}

func TestSource_SetupErrorIsReturned(t *testing.T) {
	calls := 0
	src := NewSource(WithResolverFactory(func() (Resolver, error) {
		calls++
		return nil, errors.New("no multicast interfaces")
	}))

	out := make(chan discovery.DomainService)
	opts := discovery.ResolveOptions{RetryCount: 2, RetryDelay: time.Millisecond}
	err := src.BrowseDomains(context.Background(), opts, out)
	if err == nil {
		t.Fatal("BrowseDomains() error = nil")
	}
	if calls != 3 {
		t.Errorf("resolver created %d times, want 3 (1 + 2 retries)", calls)
	}
}

func TestSource_BrowseErrorIsReturned(t *testing.T) {
	src := sourceWith(&fakeResolver{err: errors.New("socket closed")})

	out := make(chan *discovery.Host)
	target := discovery.DomainService{Service: "_http._tcp", Domain: "local."}
	if err := src.Resolve(context.Background(), target, discovery.ResolveOptions{}, out); err == nil {
		t.Fatal("Resolve() error = nil")
	}
}

func TestParseTXT(t *testing.T) {
	if got := parseTXT(nil); got != nil {
		t.Errorf("parseTXT(nil) = %v", got)
	}
	if got := parseTXT([]string{""}); got != nil {
		t.Errorf("parseTXT(empty string) = %v", got)
	}
	got := parseTXT([]string{"a=1", "b==2"})
	if len(got) != 1 || got[0]["a"] != "1" || got[0]["b"] != "=2" {
		t.Errorf("parseTXT() = %v", got)
	}
}
