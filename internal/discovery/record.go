package discovery

import (
	"strconv"
	"time"
)

const (
	// InvalidTTL marks a record that never expires
	InvalidTTL = -1

	// KeySeparator joins the parts of a composite device key.
	// Consumers parse keys, so the value and field order are fixed.
	KeySeparator = "@@"

	timestampLayout = "2006-01-02 15:04:05"
)

// MakeKey builds the composite device key for one service of a host.
func MakeKey(ip, serviceKey string, port int) string {
	return ip + KeySeparator + serviceKey + KeySeparator + strconv.Itoa(port)
}

// DeviceRecord is one (host, service instance) pair seen from the resolver.
// Records are replaced wholesale on re-announcement; the only in-place
// changes are the one-way Expired flag and the expiry notice appended to the
// detail text.
type DeviceRecord struct {
	Key               string
	Domain            string
	ServiceType       string
	DisplayName       string
	IPAddress         string
	ServiceInstanceID string
	Port              int

	// TTL is the announced time-to-live in seconds, or InvalidTTL
	TTL int

	ReceivedAt time.Time
	Expired    bool

	detail string
}

func newRecord(domain, serviceKey string, host *Host, svc *Service, detail string, now time.Time) *DeviceRecord {
	return &DeviceRecord{
		Key:               MakeKey(host.IPAddress, serviceKey, svc.Port),
		Domain:            domain,
		ServiceType:       serviceKey,
		DisplayName:       host.DisplayName,
		IPAddress:         host.IPAddress,
		ServiceInstanceID: serviceKey,
		Port:              svc.Port,
		TTL:               svc.TTL,
		ReceivedAt:        now,
		detail:            detail + "\n\nTimestamp: " + now.Format(timestampLayout),
	}
}

// Detail returns the rendered host detail text.
func (r *DeviceRecord) Detail() string {
	return r.detail
}

// Deadline returns when the record expires and whether it can expire at all.
func (r *DeviceRecord) Deadline() (time.Time, bool) {
	if r.TTL == InvalidTTL {
		return time.Time{}, false
	}
	return r.ReceivedAt.Add(time.Duration(r.TTL) * time.Second), true
}

// markExpired flips the record to expired and appends the notice.
// It reports false if the record was already expired.
func (r *DeviceRecord) markExpired(at time.Time) bool {
	if r.Expired {
		return false
	}
	r.Expired = true
	r.detail += "\n\n TTL Expired: " + at.Format(timestampLayout)
	return true
}
