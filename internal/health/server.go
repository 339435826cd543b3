// Package health exposes the Discord integration's health over HTTP.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/shopcord/internal/infra/discord"
	"github.com/vietddude/shopcord/internal/infra/discord/monitor"
)

// Source provides the data served by the endpoints.
type Source interface {
	HealthStatus() monitor.Health
	Stats() discord.Stats
}

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	source Source
	server *http.Server
}

// NewServer creates a new health server.
func NewServer(source Source, port int, readTimeout, writeTimeout time.Duration) *Server {
	mux := http.NewServeMux()
	s := &Server{
		source: source,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: readTimeout,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.source.HealthStatus()

	response := map[string]any{"status": h.Status}
	if len(h.Details) > 0 {
		response["details"] = h.Details
	}

	status := http.StatusOK
	if h.Status == monitor.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write health response", "error", err)
	}
}
