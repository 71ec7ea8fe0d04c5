package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/muurk/mdnsdiscover/internal/discovery"
	"github.com/muurk/mdnsdiscover/internal/logging"
	"github.com/muurk/mdnsdiscover/internal/version"
)

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.health)
	r.Route("/api", func(api chi.Router) {
		// The event stream outlives any request timeout
		api.Get("/events", s.handleEvents)

		api.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(20 * time.Second))
			api.Get("/devices", s.listDevices)
			api.Get("/devices/{key}", s.getDevice)
			api.Get("/devices/{key}/detail", s.getDeviceDetail)
			api.Post("/discovery/start", s.startDiscovery)
			api.Post("/discovery/stop", s.stopDiscovery)
			api.Post("/discovery/restart", s.restartDiscovery)
			api.Get("/discovery/settings", s.getSettings)
			api.Put("/discovery/settings", s.putSettings)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"state":   s.registry.State().String(),
		"devices": s.registry.Len(),
		"version": version.Get(),
	})
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	class := strings.TrimSpace(r.URL.Query().Get("class"))

	var expired *bool
	if raw := strings.TrimSpace(r.URL.Query().Get("expired")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_expired_filter", "expired must be true or false")
			return
		}
		expired = &value
	}

	items := make([]discovery.DeviceSummary, 0)
	for _, dev := range s.registry.Devices() {
		if class != "" && string(dev.Class) != class {
			continue
		}
		if expired != nil && dev.Expired != *expired {
			continue
		}
		items = append(items, dev)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	key, ok := deviceKey(w, r)
	if !ok {
		return
	}
	dev, found := s.registry.Lookup(key)
	if !found {
		writeError(w, http.StatusNotFound, "device_not_found", "No device with key "+key)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) getDeviceDetail(w http.ResponseWriter, r *http.Request) {
	key, ok := deviceKey(w, r)
	if !ok {
		return
	}
	detail := s.registry.DeviceDetailText(key)
	if detail == "" {
		writeError(w, http.StatusNotFound, "device_not_found", "No device with key "+key)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(detail))
}

func (s *Server) startDiscovery(w http.ResponseWriter, _ *http.Request) {
	s.lifecycle(w, s.registry.Start())
}

func (s *Server) stopDiscovery(w http.ResponseWriter, _ *http.Request) {
	s.lifecycle(w, s.registry.Stop())
}

func (s *Server) restartDiscovery(w http.ResponseWriter, r *http.Request) {
	on := true
	if raw := r.URL.Query().Get("on"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_on", "on must be true or false")
			return
		}
		on = value
	}
	s.lifecycle(w, s.registry.Restart(on))
}

func (s *Server) lifecycle(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, http.StatusBadGateway, "discovery_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.registry.State().String()})
}

// settingsPayload is the wire form of discovery.Settings; scan_time is a Go
// duration string.
type settingsPayload struct {
	ScanTime     string `json:"scan_time"`
	RetryCount   int    `json:"retry_count"`
	RetryDelayMs int    `json:"retry_delay_ms"`
}

func toPayload(s discovery.Settings) settingsPayload {
	return settingsPayload{
		ScanTime:     s.ScanTime.String(),
		RetryCount:   s.RetryCount,
		RetryDelayMs: s.RetryDelayMs,
	}
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toPayload(s.registry.Settings()))
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	var scan time.Duration
	if payload.ScanTime != "" {
		d, err := time.ParseDuration(payload.ScanTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_scan_time", err.Error())
			return
		}
		scan = d
	}

	err := s.registry.Configure(discovery.Settings{
		ScanTime:     scan,
		RetryCount:   payload.RetryCount,
		RetryDelayMs: payload.RetryDelayMs,
	})
	switch {
	case errors.Is(err, discovery.ErrDefaultSettings):
		writeError(w, http.StatusUnprocessableEntity, "default_settings", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_settings", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toPayload(s.registry.Settings()))
}

func deviceKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		writeError(w, http.StatusBadRequest, "invalid_key", "device key is malformed")
		return "", false
	}
	return key, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// requestLogger logs one line per request through the package logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, status, time.Since(startedAt))
	})
}
