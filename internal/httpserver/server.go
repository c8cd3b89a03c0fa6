// Package httpserver exposes a small operational status surface for the
// mirror process.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Status is the snapshot reported by the /status endpoint.
type Status struct {
	Connected bool   `json:"connected"`
	Cursor    string `json:"cursor,omitempty"`
}

// StatusSource provides the current ingestion state.
type StatusSource interface {
	Status() Status
}

// Tracker is a StatusSource fed by the stream ingestor's connection hooks
// and cursor observations. Safe for concurrent use.
type Tracker struct {
	connected atomic.Bool
	cursor    atomic.Value // string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.cursor.Store("")
	return t
}

// SetConnected records the connection state.
func (t *Tracker) SetConnected(connected bool) {
	t.connected.Store(connected)
}

// SetCursor records the most recently observed feed position.
func (t *Tracker) SetCursor(cursor string) {
	t.cursor.Store(cursor)
}

// Status returns the current snapshot.
func (t *Tracker) Status() Status {
	cursor, _ := t.cursor.Load().(string)
	return Status{
		Connected: t.connected.Load(),
		Cursor:    cursor,
	}
}

// Server serves the health and status endpoints.
type Server struct {
	source     StatusSource
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a status HTTP server listening on the given port.
func NewServer(port int, source StatusSource, logger *slog.Logger) *Server {
	s := &Server{
		source: source,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting status server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
