package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/muurk/mdnsdiscover/internal/discovery"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "mdns-discover") {
		t.Errorf("GetConfigDir() = %v, should contain 'mdns-discover'", configDir)
	}

	switch runtime.GOOS {
	case "darwin":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("macOS config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only applies on Linux")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if configDir != filepath.Join("/tmp/xdg", "mdns-discover") {
		t.Errorf("GetConfigDir() = %v", configDir)
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() error = %v", err)
	}
	if cfg.Settings() != discovery.DefaultSettings() {
		t.Errorf("Settings() = %+v, want %+v", cfg.Settings(), discovery.DefaultSettings())
	}
	if !cfg.Discovery.Announcements {
		t.Error("announcements disabled by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"wrong version", func(c *Config) { c.Version = 2 }, true},
		{"negative retry count", func(c *Config) { c.Discovery.RetryCount = -1 }, true},
		{"negative scan time", func(c *Config) { c.Discovery.ScanTime = -time.Second }, true},
		{"empty domain", func(c *Config) { c.Discovery.Domain = "" }, true},
		{"listen without port", func(c *Config) { c.Server.Listen = "localhost" }, true},
		{"listen disabled", func(c *Config) { c.Server.Listen = "" }, false},
		{"tls cert without key", func(c *Config) { c.Server.TLSCert = "cert.pem" }, true},
		{"tls pair", func(c *Config) { c.Server.TLSCert, c.Server.TLSKey = "cert.pem", "key.pem" }, false},
		{"debug logging", func(c *Config) { c.Log.Level = "debug" }, false},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *cfg != Defaults() {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "version: 1\ndiscovery:\n  scan_time: 3s\n  retry_count: 5\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Discovery.ScanTime != 3*time.Second || cfg.Discovery.RetryCount != 5 {
		t.Errorf("discovery = %+v", cfg.Discovery)
	}
	if cfg.Discovery.RetryDelayMs != 2000 || cfg.Server.Listen != "127.0.0.1:8053" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "discovery: [unclosed"},
		{"bad version", "version: 7\n"},
		{"bad duration", "discovery:\n  scan_time: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.data), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() error = nil")
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Defaults()
	cfg.Discovery.ScanTime = 7 * time.Second
	cfg.Discovery.Announcements = false
	cfg.Log.File = "/var/log/mdns.log"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Error("temporary file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *loaded != cfg {
		t.Errorf("Load() = %+v, want %+v", *loaded, cfg)
	}

	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "# mdns-discover configuration file") {
		t.Error("header comment missing")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if err := WriteDefault(path, false); !errors.Is(err, ErrConfigExists) {
		t.Errorf("second WriteDefault() error = %v, want ErrConfigExists", err)
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("forced WriteDefault() error = %v", err)
	}
}
