package discovery

import (
	"sort"
	"sync"
	"time"
)

// store maps composite keys to records. Every read and write happens under
// mu; the registry and the expiry monitor share this one lock.
type store struct {
	mu      sync.Mutex
	records map[string]*DeviceRecord
}

func newStore() *store {
	return &store{records: make(map[string]*DeviceRecord)}
}

// replace removes then inserts each record, so a re-announcement fully
// replaces whatever was stored under the same key.
func (s *store) replace(records []*DeviceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		delete(s.records, rec.Key)
		s.records[rec.Key] = rec
	}
}

// remove deletes keys and returns those that were not present.
func (s *store) remove(keys []string) (missing []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		if _, ok := s.records[key]; !ok {
			missing = append(missing, key)
			continue
		}
		delete(s.records, key)
	}
	return missing
}

func (s *store) clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	s.records = make(map[string]*DeviceRecord)
	return n
}

func (s *store) summary(key string) (DeviceSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return DeviceSummary{}, false
	}
	return summarize(rec), true
}

func (s *store) detail(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return "", false
	}
	return rec.detail, true
}

func (s *store) snapshot(key string) (DeviceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return DeviceRecord{}, false
	}
	return *rec, true
}

func (s *store) keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Strings(keys)
	return keys
}

func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// expire flags every record whose TTL has elapsed at now and returns the
// newly expired keys (sorted) together with how long the caller may sleep
// before the next deadline. The delay never exceeds defaultWake and never
// passes the earliest pending deadline; it is zero when a deadline is due.
// Records that are already expired have no pending deadline.
func (s *store) expire(now time.Time, defaultWake time.Duration) (expired []string, next time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next = defaultWake
	for key, rec := range s.records {
		if rec.TTL == InvalidTTL || rec.Expired {
			continue
		}

		elapsed := now.Sub(rec.ReceivedAt)
		ttl := time.Duration(rec.TTL) * time.Second

		if elapsed > ttl {
			rec.markExpired(now)
			expired = append(expired, key)
			continue
		}

		remaining := ttl - elapsed
		if remaining <= 0 {
			next = 0
		} else if remaining < next {
			next = remaining
		}
	}

	sort.Strings(expired)
	return expired, next
}
