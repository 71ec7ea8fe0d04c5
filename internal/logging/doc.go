// Package logging provides structured logging for mdns-discover.
//
// This package wraps a package-level zap logger with convenience functions
// used by the discovery registry, the mDNS source, the API server and the
// CLI. Logging is silent until initialized.
//
// # Log Levels
//
//   - Debug: per-host ingest results, expiry scans, malformed notifications
//   - Info: session start/stop, subscriptions opened and closed, HTTP requests
//   - Warn: retried browses, dropped announcements
//   - Error: transport and teardown failures
//
// # Configuration
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// The level may also come from the MDNS_DISCOVER_LOG_LEVEL environment
// variable. The terminal UI writes logs to a file with InitializeToFile so
// that log lines do not corrupt the screen.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use once the logger has been
// initialized. Initialize itself should be called once at startup.
package logging
