// Package api implements the host-facing HTTP API: tool discovery,
// invocation, toolset state and a websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/nugget/toolhost/internal/buildinfo"
	"github.com/nugget/toolhost/internal/events"
	"github.com/nugget/toolhost/internal/mcp"
	"github.com/nugget/toolhost/internal/toolset"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Config wires the API to the objects it serves.
type Config struct {
	Address string
	Port    int

	Host    *mcp.Host
	Toolset toolset.Toolset // optional; state endpoints answer 404 without it

	Events *events.Bus
	Recent *events.Recent // optional backlog for /v1/events/recent

	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	host    *mcp.Host
	toolset toolset.Toolset
	bus     *events.Bus
	recent  *events.Recent
	logger  *slog.Logger

	upgrader websocket.Upgrader
	server   *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: cfg.Address,
		port:    cfg.Port,
		host:    cfg.Host,
		toolset: cfg.Toolset,
		bus:     cfg.Events,
		recent:  cfg.Recent,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API is meant for local tooling; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler. It is also what Start serves.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withLogging)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/ws/events", s.handleEventsWS)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", s.handleVersion)

		// Discovery
		r.Get("/servers", s.handleServers)
		r.Post("/servers/{id}/refresh", s.handleRefresh)
		r.Get("/tools", s.handleTools)
		r.Get("/functions", s.handleFunctions)

		// Invocation
		r.Post("/invoke", s.handleInvoke)
		r.Post("/tools/call", s.handleToolCall)

		// Toolset
		r.Get("/toolset", s.handleToolset)
		r.Get("/state", s.handleState)
		r.Get("/state/markdown", s.handleStateMarkdown)

		r.Get("/events/recent", s.handleRecentEvents)
	})
	return r
}

// Start begins serving HTTP requests. It returns when the server is
// shut down or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    buildinfo.ClientName,
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Get(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}
