// SPDX-License-Identifier: MIT

// Package server exposes the WebSocket session endpoint and the HTTP
// operational surface: stats, GPU history, metrics, and probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/voxlabs/voxgate/internal/admission"
	"github.com/voxlabs/voxgate/internal/config"
	"github.com/voxlabs/voxgate/internal/gpu"
	"github.com/voxlabs/voxgate/internal/health"
	"github.com/voxlabs/voxgate/internal/log"
	"github.com/voxlabs/voxgate/internal/metrics"
	"github.com/voxlabs/voxgate/internal/session"
	"github.com/voxlabs/voxgate/internal/stt"
)

// Options carries the server's dependencies.
type Options struct {
	Config    config.Config
	Gate      *admission.Gate
	Allocator *gpu.Allocator
	Monitor   *gpu.Monitor
	Factory   stt.Factory
	Health    *health.Manager
}

// Server is the HTTP/WebSocket front of the gateway.
type Server struct {
	cfg       config.Config
	gate      *admission.Gate
	allocator *gpu.Allocator
	monitor   *gpu.Monitor
	factory   stt.Factory
	healthMgr *health.Manager

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	started  time.Time
	logger   zerolog.Logger
}

// New creates a server from its dependencies. Call Start to serve.
func New(opts Options) *Server {
	s := &Server{
		cfg:       opts.Config,
		gate:      opts.Gate,
		allocator: opts.Allocator,
		monitor:   opts.Monitor,
		factory:   opts.Factory,
		healthMgr: opts.Health,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Sessions are authenticated by deployment topology, not origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		started: time.Now(),
		logger:  log.WithComponent("server"),
	}
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)

	// The WebSocket endpoint must see the raw ResponseWriter so the upgrade
	// can hijack the connection; only rate limiting wraps it.
	r.With(RateLimit(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow)).
		Get("/ws", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(Metrics())
		r.Use(Tracing("voxgate-api"))
		r.Use(RateLimit(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))

		r.Get("/api/stats", s.handleStats)
		r.Get("/api/gpu/history", s.handleHistory)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if s.healthMgr != nil {
		r.Get("/healthz", s.healthMgr.ServeHealth)
		r.Get("/readyz", s.healthMgr.ServeReady)
	}

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("event", "server.listening").
			Str("addr", s.cfg.ListenAddr).
			Int("max_connections", s.gate.MaxConnections()).
			Msg("server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting new connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Str("event", "server.shutdown").Msg("shutting down")
	return s.httpSrv.Shutdown(ctx)
}

// handleWS upgrades the connection, admits the session, and hands it to a
// supervisor. Admission errors are reported to the client over the socket
// before closing so the client sees a structured refusal, not a bare close.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "ws")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Str("event", "ws.upgrade_failed").Msg("websocket upgrade failed")
		return
	}

	transport := newWSTransport(conn)
	defer func() { _ = transport.Close() }()

	defer func() {
		if rec := recover(); rec != nil {
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			logger.Error().
				Str("event", "ws.panic").
				Interface("panic_value", rec).
				Str("stack_trace", string(buf[:n])).
				Msg("panic in session handler")
			s.gate.RecordFailure()
			s.sendEvent(transport, session.ErrorEvent(session.CodeServerError, "Internal server error"))
		}
	}()

	permit, err := s.gate.TryAdmit(r.Context(), s.cfg.AdmissionTimeout)
	if err != nil {
		s.gate.RecordFailure()
		if errors.Is(err, admission.ErrTimeout) {
			metrics.RecordReject("timeout")
			logger.Warn().
				Str("event", "ws.admission_timeout").
				Dur("waited", s.cfg.AdmissionTimeout).
				Msg("no connection slot became available")
			s.sendEvent(transport, session.ErrorEvent(session.CodeServerBusy, "Server at maximum capacity, please try again later"))
		}
		return
	}

	id := uuid.New().String()
	ctx := log.ContextWithSessionID(r.Context(), id)
	logger.Info().Str("event", "ws.connected").Str("session_id", id).Msg("session admitted")

	sup := session.New(id, transport, s.allocator, permit, s.factory, s.statsPayload, session.DefaultConfig())
	sup.Run(ctx)
}

// statsPayload assembles the operational stats answered both on /api/stats
// and to in-session get_stats commands.
func (s *Server) statsPayload() any {
	counters := s.gate.Counters()
	return map[string]any{
		"server": map[string]any{
			"active_connections": counters.CurrentActive,
			"total_connections":  counters.TotalAdmitted,
			"failed_connections": counters.TotalFailed,
			"max_connections":    s.gate.MaxConnections(),
			"uptime_seconds":     time.Since(s.started).Seconds(),
		},
		"gpus":        s.monitor.Snapshot(),
		"allocations": s.allocator.PerDeviceCounts(),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.statsPayload())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"history": s.monitor.History(),
	})
}

func (s *Server) sendEvent(t session.Transport, ev session.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = t.Send(payload)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "server")
		logger.Error().Err(err).Str("event", "server.encode_failed").Msg("failed to encode response")
	}
}
