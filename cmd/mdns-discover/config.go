package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/muurk/mdnsdiscover/internal/config"
	"github.com/muurk/mdnsdiscover/internal/discovery"
	"github.com/muurk/mdnsdiscover/internal/logging"
)

const envPrefix = "MDNS_DISCOVER"

var (
	cfgFile   string
	cfg       config.Config
	configErr error
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default: <user config dir>/mdns-discover/config.yaml)")
	flags.Duration("scan-time", 0, "browse window per scan (0 uses the built-in window)")
	flags.Int("retry-count", 0, "retries when a browse cannot be started")
	flags.Int("retry-delay-ms", 0, "delay between browse retries in milliseconds")
	flags.Bool("announcements", true, "listen for unsolicited mDNS announcements")
	flags.String("domain", "", "domain to browse (default local.)")
	flags.String("log-level", "", "log level (debug, info, warn, error); empty is silent")
	flags.String("log-file", "", "write logs to this file")

	bindFlag(config.KeyScanTime, "scan-time")
	bindFlag(config.KeyRetryCount, "retry-count")
	bindFlag(config.KeyRetryDelayMs, "retry-delay-ms")
	bindFlag(config.KeyAnnouncements, "announcements")
	bindFlag(config.KeyDomain, "domain")
	bindFlag(config.KeyLogLevel, "log-level")
	bindFlag(config.KeyLogFile, "log-file")
}

func bindFlag(key, flag string) {
	_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
}

// initConfig layers defaults, the config file, MDNS_DISCOVER_* environment
// variables and flags, in increasing priority.
func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("version", defaults.Version)
	viper.SetDefault(config.KeyScanTime, defaults.Discovery.ScanTime)
	viper.SetDefault(config.KeyRetryCount, defaults.Discovery.RetryCount)
	viper.SetDefault(config.KeyRetryDelayMs, defaults.Discovery.RetryDelayMs)
	viper.SetDefault(config.KeyAnnouncements, defaults.Discovery.Announcements)
	viper.SetDefault(config.KeyDomain, defaults.Discovery.Domain)
	viper.SetDefault(config.KeyListen, defaults.Server.Listen)
	viper.SetDefault(config.KeyTLSCert, defaults.Server.TLSCert)
	viper.SetDefault(config.KeyTLSKey, defaults.Server.TLSKey)
	viper.SetDefault(config.KeyLogLevel, defaults.Log.Level)
	viper.SetDefault(config.KeyLogFile, defaults.Log.File)

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if dir, err := config.GetConfigDir(); err == nil {
			viper.AddConfigPath(dir)
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		// Running without a config file is fine; a broken one is not
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			configErr = fmt.Errorf("failed to read config: %w", err)
			return
		}
	}

	configErr = unmarshalConfig(&cfg)
}

func unmarshalConfig(dst *config.Config) error {
	var next config.Config
	if err := viper.Unmarshal(&next); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*dst = next
	return nil
}

// loadedConfig returns the effective configuration or the reason it could
// not be built.
func loadedConfig() (config.Config, error) {
	if configErr != nil {
		return config.Config{}, configErr
	}
	return cfg, nil
}

// setupLogging routes logs to the configured file, or to fallback when no
// file is set. The TUI passes "" so it never writes over the screen.
func setupLogging(c config.Config, fallback string) error {
	switch {
	case c.Log.File != "":
		return logging.InitializeToFile(c.Log.Level, c.Log.File)
	case fallback == "":
		logging.SetLogger(zap.NewNop())
		return nil
	default:
		return logging.InitializeToFile(c.Log.Level, fallback)
	}
}

// watchConfig applies discovery settings from the config file whenever it
// changes on disk. A running session is restarted so the new settings take
// effect; a stopped one picks them up on its next start.
func watchConfig(reg *discovery.Registry) {
	path := viper.ConfigFileUsed()
	if path == "" {
		return
	}

	var mu sync.Mutex
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		mu.Lock()
		defer mu.Unlock()

		var next config.Config
		if err := unmarshalConfig(&next); err != nil {
			logging.Warn("Ignoring invalid config change", zap.String("path", e.Name), zap.Error(err))
			return
		}

		settings := next.Settings()
		if settings == reg.Settings() {
			return
		}
		if err := reg.Configure(settings); err != nil {
			logging.Warn("Ignoring config change", zap.String("path", e.Name), zap.Error(err))
			return
		}

		logging.Info("Config reloaded", zap.String("path", e.Name))
		if reg.Running() {
			if err := reg.Restart(true); err != nil {
				logging.Error("Restart after config change failed", zap.Error(err))
			}
		}
	})
	viper.WatchConfig()
}
