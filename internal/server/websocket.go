package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/mdnsdiscover/internal/discovery"
	"github.com/muurk/mdnsdiscover/internal/logging"
	"github.com/muurk/mdnsdiscover/internal/pubsub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// snapshotEvent is sent once when a stream opens.
const snapshotEvent = "snapshot"

// eventMessage is the JSON frame written to event stream clients.
type eventMessage struct {
	Type      string                    `json:"type"`
	Timestamp time.Time                 `json:"timestamp"`
	Key       string                    `json:"key,omitempty"`
	Running   *bool                     `json:"running,omitempty"`
	Message   string                    `json:"message,omitempty"`
	Device    *discovery.DeviceSummary  `json:"device,omitempty"`
	Devices   []discovery.DeviceSummary `json:"devices,omitempty"`
}

func (s *Server) toMessage(ev pubsub.Event[discovery.Notification]) eventMessage {
	msg := eventMessage{
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Key:       ev.Payload.Key,
		Message:   ev.Payload.Message,
	}
	switch ev.Type {
	case pubsub.StateChangedEvent:
		running := ev.Payload.Running
		msg.Running = &running
	case pubsub.PublishedEvent:
		if dev, ok := s.registry.Lookup(ev.Payload.Key); ok {
			msg.Device = &dev
		}
	}
	return msg
}

// handleEvents upgrades the request and streams registry events until the
// client goes away or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Event stream upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	addr := r.RemoteAddr
	s.wg.Add(1)
	s.track(conn, addr)
	logging.Info("Event stream opened", zap.String("remote_addr", addr))
	defer func() {
		s.untrack(conn)
		_ = conn.Close()
		s.wg.Done()
		logging.Info("Event stream closed", zap.String("remote_addr", addr))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := s.broker.Subscribe(ctx)

	go s.readPump(conn, cancel)

	running := s.registry.State() == discovery.StateRunning
	hello := eventMessage{
		Type:      snapshotEvent,
		Timestamp: time.Now(),
		Running:   &running,
		Devices:   s.registry.Devices(),
	}
	if err := writeFrame(conn, hello); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeFrame(conn, s.toMessage(ev)); err != nil {
				logging.Debug("Event stream write failed", zap.String("remote_addr", addr), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and cancels the stream once the peer
// stops answering pings or disconnects.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg eventMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
