package config

import (
	"fmt"
	"net"
	"time"

	"github.com/muurk/mdnsdiscover/internal/discovery"
)

// CurrentVersion is the only config file version this build understands.
const CurrentVersion = 1

// Viper keys. Each matches the yaml path of the field it sets.
const (
	KeyScanTime      = "discovery.scan_time"
	KeyRetryCount    = "discovery.retry_count"
	KeyRetryDelayMs  = "discovery.retry_delay_ms"
	KeyAnnouncements = "discovery.announcements"
	KeyDomain        = "discovery.domain"
	KeyListen        = "server.listen"
	KeyTLSCert       = "server.tls_cert"
	KeyTLSKey        = "server.tls_key"
	KeyLogLevel      = "log.level"
	KeyLogFile       = "log.file"
)

// Config is the complete configuration file.
type Config struct {
	Version   int             `yaml:"version" mapstructure:"version"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// DiscoveryConfig tunes the mDNS browse.
type DiscoveryConfig struct {
	// ScanTime is the browse window; zero lets the transport choose
	ScanTime     time.Duration `yaml:"scan_time" mapstructure:"scan_time"`
	RetryCount   int           `yaml:"retry_count" mapstructure:"retry_count"`
	RetryDelayMs int           `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`

	// Announcements enables the unsolicited announcement listener
	Announcements bool   `yaml:"announcements" mapstructure:"announcements"`
	Domain        string `yaml:"domain" mapstructure:"domain"`
}

// ServerConfig configures the HTTP API. TLS is used when both the
// certificate and key are set.
type ServerConfig struct {
	Listen  string `yaml:"listen" mapstructure:"listen"`
	TLSCert string `yaml:"tls_cert,omitempty" mapstructure:"tls_cert"`
	TLSKey  string `yaml:"tls_key,omitempty" mapstructure:"tls_key"`
}

// LogConfig configures zap. An empty level keeps logging silent.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	settings := discovery.DefaultSettings()
	return Config{
		Version: CurrentVersion,
		Discovery: DiscoveryConfig{
			ScanTime:      settings.ScanTime,
			RetryCount:    settings.RetryCount,
			RetryDelayMs:  settings.RetryDelayMs,
			Announcements: true,
			Domain:        "local.",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8053",
		},
	}
}

// Settings returns the discovery settings this configuration selects.
func (c Config) Settings() discovery.Settings {
	return discovery.Settings{
		ScanTime:     c.Discovery.ScanTime,
		RetryCount:   c.Discovery.RetryCount,
		RetryDelayMs: c.Discovery.RetryDelayMs,
	}
}

// Validate checks every field.
func (c Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion)
	}
	if err := c.Settings().Validate(); err != nil {
		return fmt.Errorf("invalid discovery settings: %w", err)
	}
	if c.Discovery.Domain == "" {
		return fmt.Errorf("discovery domain must not be empty")
	}
	if c.Server.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
			return fmt.Errorf("invalid server listen address %q: %w", c.Server.Listen, err)
		}
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server tls_cert and tls_key must be set together")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q (want debug, info, warn or error)", c.Log.Level)
	}
	return nil
}
