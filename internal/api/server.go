// Package api serves the bridge's HTTP API: device and entity views,
// pending commands, manual commands and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"goodhome/internal/coordinator"
	"goodhome/internal/entity"
	"goodhome/internal/goodhome"
	"goodhome/internal/shadowstate"
)

const (
	maxBodyBytes   = 1 << 20
	commandTimeout = 15 * time.Second
)

// Backend is the account as seen by the API
type Backend interface {
	Devices() []goodhome.Device
	Status() coordinator.Status
	Entities() []entity.Entity
	Entity(uniqueID string) (entity.Entity, bool)
	Identify(ctx context.Context, deviceID string) bool
	Commands() shadowstate.Snapshot
}

// Server provides HTTP API endpoints for the bridge
type Server struct {
	backend Backend
	logger  *zap.Logger
	server  *http.Server
	mux     *http.ServeMux
}

// NewServer creates a new API server. gatherer backs /metrics.
func NewServer(backend Backend, gatherer prometheus.Gatherer, logger *zap.Logger, port int) *Server {
	s := &Server{
		backend: backend,
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("/", s.handleSitemap)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/devices", s.handleDevices)
	s.mux.HandleFunc("/api/entities", s.handleEntities)
	s.mux.HandleFunc("/api/pending", s.handlePending)
	s.mux.HandleFunc("POST /api/devices/{id}/identify", s.handleIdentify)
	s.mux.HandleFunc("POST /api/entities/{unique_id}", s.handleCommand)
	s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DevicesResponse is served by /api/devices
type DevicesResponse struct {
	Devices []goodhome.Device  `json:"devices"`
	Status  coordinator.Status `json:"status"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices := s.backend.Devices()
	if devices == nil {
		devices = []goodhome.Device{}
	}
	s.writeJSON(w, http.StatusOK, DevicesResponse{
		Devices: devices,
		Status:  s.backend.Status(),
	})
}

// EntityView is one entity as served by /api/entities
type EntityView struct {
	UniqueID   string          `json:"unique_id"`
	Name       string          `json:"name"`
	Platform   entity.Platform `json:"platform"`
	DeviceID   string          `json:"device_id"`
	Available  bool            `json:"available"`
	State      any             `json:"state"`
	Attributes map[string]any  `json:"attributes"`
	Pending    map[string]any  `json:"pending,omitempty"`
}

func view(e entity.Entity) EntityView {
	v := EntityView{
		UniqueID:   e.UniqueID(),
		Name:       e.Name(),
		Platform:   e.Platform(),
		DeviceID:   e.DeviceID(),
		Available:  e.Available(),
		State:      e.State(),
		Attributes: e.Attributes(),
	}
	if p, ok := e.(entity.Pender); ok {
		if pending := p.Pending(); len(pending) > 0 {
			v.Pending = pending
		}
	}
	return v
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entities := s.backend.Entities()
	views := make([]EntityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, view(e))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.backend.Commands())
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	known := false
	for _, d := range s.backend.Devices() {
		if d.ID == id {
			known = true
			break
		}
	}
	if !known {
		s.writeError(w, http.StatusNotFound, "unknown device")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if !s.backend.Identify(ctx, id) {
		s.writeError(w, http.StatusBadGateway, "identify failed")
		return
	}

	s.logger.Info("Identify requested over HTTP", zap.String("device_id", id))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CommandRequest is the body of POST /api/entities/{unique_id}
type CommandRequest struct {
	Field string `json:"field,omitempty"`
	Value any    `json:"value"`
}

// CommandResponse carries the id used in command events
type CommandResponse struct {
	CommandID string `json:"command_id,omitempty"`
	Status    string `json:"status"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("unique_id")
	e, ok := s.backend.Entity(uid)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	cmd, ok := e.(entity.Commander)
	if !ok {
		s.writeError(w, http.StatusMethodNotAllowed, "entity is read-only")
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	id, err := cmd.Command(ctx, req.Field, req.Value)
	switch {
	case errors.Is(err, entity.ErrCommandFailed):
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("Command accepted over HTTP",
		zap.String("entity_id", uid),
		zap.String("field", req.Field),
		zap.String("command_id", id))
	s.writeJSON(w, http.StatusAccepted, CommandResponse{CommandID: id, Status: "accepted"})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap"},
	{Path: "/health", Method: "GET", Description: `Health check, returns {"status": "ok"}`},
	{Path: "/api/devices", Method: "GET", Description: "Devices and coordinator status"},
	{Path: "/api/entities", Method: "GET", Description: "Entities with state, attributes and pending values"},
	{Path: "/api/pending", Method: "GET", Description: "Pending commands and recent outcomes"},
	{Path: "/api/devices/{id}/identify", Method: "POST", Description: "Make a thermostat beep"},
	{Path: "/api/entities/{unique_id}", Method: "POST", Description: `Send a command, body {"value": ..., "field": ...}`},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>GoodHome Bridge API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>GoodHome Bridge API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "GoodHome Bridge API\n")
		fmt.Fprintf(w, "===================\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-28s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
