package discovery

import (
	"errors"
	"fmt"
	"time"
)

// ErrDefaultSettings is returned by Configure when every setting is zero.
var ErrDefaultSettings = errors.New("settings are all zero; keeping current configuration")

// Settings tunes how the Source is driven. Zero ScanTime lets the Source pick
// its own scan window.
type Settings struct {
	ScanTime     time.Duration `json:"scan_time"`
	RetryCount   int           `json:"retry_count"`
	RetryDelayMs int           `json:"retry_delay_ms"`
}

// DefaultSettings returns the settings a new Registry starts with.
func DefaultSettings() Settings {
	return Settings{
		ScanTime:     0,
		RetryCount:   2,
		RetryDelayMs: 2000,
	}
}

// IsZero reports whether every field is zero.
func (s Settings) IsZero() bool {
	return s.ScanTime == 0 && s.RetryCount == 0 && s.RetryDelayMs == 0
}

// Validate checks the individual fields. It does not reject all-zero
// settings; Configure does that.
func (s Settings) Validate() error {
	if s.ScanTime < 0 {
		return fmt.Errorf("scan time must not be negative: %s", s.ScanTime)
	}
	if s.RetryCount < 0 {
		return fmt.Errorf("retry count must not be negative: %d", s.RetryCount)
	}
	if s.RetryDelayMs < 0 {
		return fmt.Errorf("retry delay must not be negative: %dms", s.RetryDelayMs)
	}
	return nil
}

func (s Settings) options() ResolveOptions {
	return ResolveOptions{
		ScanTime:   s.ScanTime,
		RetryCount: s.RetryCount,
		RetryDelay: time.Duration(s.RetryDelayMs) * time.Millisecond,
	}
}
