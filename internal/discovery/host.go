package discovery

import (
	"context"
	"sort"
	"time"
)

// DomainService is one (service type, domain) pair reported by the domain
// browse, e.g. {"_http._tcp", "local."}.
type DomainService struct {
	Service string
	Domain  string
}

// String returns the fully qualified service type name.
func (d DomainService) String() string {
	return d.Service + "." + d.Domain
}

// Service is one service entry of a resolved host.
type Service struct {
	// Name is the service instance name (e.g. "Office Printer")
	Name string

	// Port is the advertised port
	Port int

	// TTL is the announced time-to-live in seconds
	TTL int

	// Properties holds the TXT record groups in announcement order
	Properties []map[string]string
}

// Host is a resolved host notification. It may bundle several services.
type Host struct {
	DisplayName string
	ID          string
	IPAddress   string
	IPAddresses []string

	// Services is keyed by service type key (e.g. "_http._tcp")
	Services map[string]*Service
}

// ServiceKeys returns the non-empty service type keys in sorted order.
// Ingest and detail rendering both walk services in this order.
func (h *Host) ServiceKeys() []string {
	keys := make([]string, 0, len(h.Services))
	for k := range h.Services {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// AdapterInfo identifies the local network adapter an announcement arrived on.
type AdapterInfo struct {
	Name    string
	Address string
}

// Announcement is an unsolicited mDNS response observed on the wire.
type Announcement struct {
	Adapter AdapterInfo
	Host    *Host
}

// ResolveOptions controls how long a Source listens per scan and how it
// retries failed scans.
type ResolveOptions struct {
	ScanTime   time.Duration
	RetryCount int
	RetryDelay time.Duration
}

// Source is the multicast discovery transport consumed by the Registry.
//
// Each method performs its setup synchronously and returns an error if the
// subscription cannot be established. On success the stream runs in the
// background and the Source closes out when ctx is cancelled or the stream
// ends on its own.
type Source interface {
	BrowseDomains(ctx context.Context, opts ResolveOptions, out chan<- DomainService) error
	ListenForAnnouncements(ctx context.Context, out chan<- Announcement) error
	Resolve(ctx context.Context, target DomainService, opts ResolveOptions, out chan<- *Host) error
}
