package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/muurk/mdnsdiscover/internal/config"
	"github.com/muurk/mdnsdiscover/internal/discovery"
	"github.com/muurk/mdnsdiscover/internal/logging"
	"github.com/muurk/mdnsdiscover/internal/mdns"
	"github.com/muurk/mdnsdiscover/internal/pubsub"
	"github.com/muurk/mdnsdiscover/internal/server"
	"github.com/muurk/mdnsdiscover/internal/tui"
)

// app wires a registry to an mDNS source and a broker carrying its events.
type app struct {
	registry  *discovery.Registry
	broker    *pubsub.Broker[discovery.Notification]
	unforward func()
}

func newApp(ctx context.Context, c config.Config) *app {
	source := mdns.NewSource(mdns.WithDomain(c.Discovery.Domain))
	registry := discovery.New(ctx, source,
		discovery.WithSettings(c.Settings()),
		discovery.WithAnnouncements(c.Discovery.Announcements),
	)
	broker := pubsub.NewBroker[discovery.Notification]()

	return &app{
		registry:  registry,
		broker:    broker,
		unforward: discovery.Forward(registry, broker),
	}
}

func (a *app) close() {
	if err := a.registry.Stop(); err != nil {
		logging.Warn("Discovery did not stop cleanly", zap.Error(err))
	}
	a.unforward()
	a.broker.Close()
	logging.Sync()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runTUI(cmd *cobra.Command, args []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(c, ""); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a := newApp(ctx, c)
	defer a.close()
	watchConfig(a.registry)

	return tui.Run(ctx, a.registry, a.broker, true)
}

// Watch command and flags
var watchFor time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print discovery events as lines",
	Long: `Start discovery and print one line per registry event until interrupted.

Lines are prefixed with the event kind:
  +  device published (first sighting or refresh)
  -  device unpublished
  *  discovery switched on or off
  !  error or diagnostic message`,
	Example: `  # Watch until Ctrl-C
  mdns-discover watch

  # Scan for 30 seconds with a 3 second browse window
  mdns-discover watch --for 30s --scan-time 3s`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchFor, "for", 0, "stop after this long (0 runs until interrupted)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(c, "stderr"); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	if watchFor > 0 {
		ctx, cancel = context.WithTimeout(ctx, watchFor)
		defer cancel()
	}

	a := newApp(ctx, c)
	defer a.close()
	watchConfig(a.registry)

	events := a.broker.Subscribe(ctx)
	if err := a.registry.Start(); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}

	printEvents(ctx, cmd.OutOrStdout(), a.registry, events, lineWidth())
	return nil
}

// lineWidth is the terminal width when stdout is a terminal, otherwise 0
// (no truncation).
func lineWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}

func printEvents(ctx context.Context, w io.Writer, reg *discovery.Registry, events <-chan pubsub.Event[discovery.Notification], width int) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintln(w, truncate(formatEvent(ev, reg), width))
		}
	}
}

func formatEvent(ev pubsub.Event[discovery.Notification], reg *discovery.Registry) string {
	stamp := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case pubsub.PublishedEvent:
		if dev, ok := reg.Lookup(ev.Payload.Key); ok {
			return fmt.Sprintf("%s + %s %s  %s  %s", stamp, dev.Class.Icon(), dev.DisplayName, dev.ServiceType, dev.Key)
		}
		return fmt.Sprintf("%s + %s", stamp, ev.Payload.Key)
	case pubsub.UnpublishedEvent:
		return fmt.Sprintf("%s - %s", stamp, ev.Payload.Key)
	case pubsub.StateChangedEvent:
		state := "off"
		if ev.Payload.Running {
			state = "on"
		}
		return fmt.Sprintf("%s * discovery %s", stamp, state)
	default:
		return fmt.Sprintf("%s ! %s", stamp, ev.Payload.Message)
	}
}

func truncate(line string, width int) string {
	if width <= 0 {
		return line
	}
	runes := []rune(line)
	if len(runes) <= width {
		return line
	}
	return string(runes[:width-1]) + "…"
}

// Serve command and flags
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the device registry over HTTP",
	Long: `Start discovery and expose the registry as a JSON API with a WebSocket
event stream at /api/events.

TLS is enabled when both --tls-cert and --tls-key are given.`,
	Example: `  # Serve on the default address
  mdns-discover serve

  # Serve on all interfaces with TLS
  mdns-discover serve --listen :8443 --tls-cert cert.pem --tls-key key.pem`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (default 127.0.0.1:8053)")
	serveCmd.Flags().String("tls-cert", "", "path to TLS certificate file")
	serveCmd.Flags().String("tls-key", "", "path to TLS private key file")
	_ = viper.BindPFlag(config.KeyListen, serveCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag(config.KeyTLSCert, serveCmd.Flags().Lookup("tls-cert"))
	_ = viper.BindPFlag(config.KeyTLSKey, serveCmd.Flags().Lookup("tls-key"))
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(c, "stdout"); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a := newApp(ctx, c)
	defer a.close()
	watchConfig(a.registry)

	srv, err := server.New(&server.Config{
		Listen:   c.Server.Listen,
		CertPath: c.Server.TLSCert,
		KeyPath:  c.Server.TLSKey,
	}, a.registry, a.broker)
	if err != nil {
		return err
	}

	if err := a.registry.Start(); err != nil {
		// The API can retry through POST /api/discovery/start
		logging.Warn("Discovery failed to start", zap.Error(err))
	}

	return srv.Start(ctx)
}

// Config command group
var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if err := config.WriteDefault(path, configForce); err != nil {
			if errors.Is(err, config.ErrConfigExists) {
				return fmt.Errorf("%w (use --force to overwrite)", err)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if _, err := config.Load(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configPathCmd, configValidateCmd)
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.GetConfigPath()
}
