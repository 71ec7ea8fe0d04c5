package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/mdnsdiscover/internal/discovery"
	"github.com/muurk/mdnsdiscover/internal/logging"
	"github.com/muurk/mdnsdiscover/internal/pubsub"
)

// Config holds the server configuration
type Config struct {
	Listen   string
	CertPath string // TLS is enabled when CertPath and KeyPath are both set
	KeyPath  string
}

// Registry is the part of *discovery.Registry the API serves.
type Registry interface {
	Devices() []discovery.DeviceSummary
	Lookup(key string) (discovery.DeviceSummary, bool)
	DeviceDetailText(key string) string
	Len() int
	State() discovery.State
	Settings() discovery.Settings
	Configure(s discovery.Settings) error
	Start() error
	Stop() error
	Restart(desiredOn bool) error
}

// Server exposes a discovery registry over HTTP and streams its events to
// WebSocket clients.
type Server struct {
	config      *Config
	registry    Registry
	broker      *pubsub.Broker[discovery.Notification]
	tlsConfig   *tls.Config
	upgrader    websocket.Upgrader
	httpServer  *http.Server
	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[*websocket.Conn]string // conn -> remote address
}

// New creates a new Server instance
func New(config *Config, registry Registry, broker *pubsub.Broker[discovery.Notification]) (*Server, error) {
	var tlsConfig *tls.Config
	if config.CertPath != "" && config.KeyPath != "" {
		var err error
		tlsConfig, err = NewTLSConfig(config.CertPath, config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	s := &Server{
		config:      config,
		registry:    registry,
		broker:      broker,
		tlsConfig:   tlsConfig,
		activeConns: make(map[*websocket.Conn]string),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start serves until ctx is cancelled, SIGINT/SIGTERM arrives or the
// listener fails, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
	}

	logging.Info("Starting discovery API",
		zap.String("addr", listener.Addr().String()),
		zap.Any("tls_info", GetTLSInfo(s.tlsConfig)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping server...")
	case <-ctx.Done():
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		logging.Error("Error shutting down HTTP server", zap.Error(err))
	}

	// Hijacked WebSocket connections are not closed by http.Server
	s.mu.Lock()
	for conn, addr := range s.activeConns {
		logging.Info("Closing event stream", zap.String("remote_addr", addr))
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All connections closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	}

	logging.Sync()
	return err
}

// GetActiveConnections returns the number of open event streams
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

// track registers conn under its own identity. RealIP rewrites RemoteAddr
// from proxy headers, so several clients can report the same address.
func (s *Server) track(conn *websocket.Conn, addr string) {
	s.mu.Lock()
	s.activeConns[conn] = addr
	s.mu.Unlock()
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.activeConns, conn)
	s.mu.Unlock()
}
