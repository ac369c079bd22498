package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emperorhan/wallet-sentinel/internal/metrics"
	"github.com/emperorhan/wallet-sentinel/internal/watcher"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Monitor is the part of the watcher the admin API drives. In production
// this is *watcher.Monitor.
type Monitor interface {
	Status(ctx context.Context) watcher.Status
	Restart(ctx context.Context, addresses []string) error
	Stop(ctx context.Context)
	Running() bool
}

// Server serves health, metrics and the operator API.
type Server struct {
	monitor    Monitor
	adminToken string
	startedAt  time.Time
	now        func() time.Time
	limiter    *RateLimitMiddleware
	logger     *slog.Logger
}

// ServerOption configures optional behaviour of the admin server.
type ServerOption func(*Server)

// WithAdminToken requires a bearer token on mutating requests.
func WithAdminToken(token string) ServerOption {
	return func(s *Server) { s.adminToken = token }
}

// WithClock overrides the clock used for uptime.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// NewServer creates the admin server. Call Close to stop its background
// limiter sweeper.
func NewServer(monitor Monitor, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		monitor: monitor,
		now:     time.Now,
		logger:  logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	s.limiter = NewRateLimitMiddleware(s.logger)
	return s
}

// Close releases background resources.
func (s *Server) Close() {
	s.limiter.Stop()
}

// Handler returns the full middleware chain: rate limit, audit, auth, routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/monitoring", s.handleStartMonitoring)
	mux.HandleFunc("DELETE /v1/monitoring", s.handleStopMonitoring)

	return s.limiter.Wrap(AuditMiddleware(s.logger, TokenAuth(s.adminToken, mux)))
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("admin server shutdown error", "error", err)
		}
	}()

	s.logger.Info("admin server started", "addr", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// --- Health endpoint ---

type healthResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Monitoring    bool   `json:"monitoring"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := s.now().Sub(s.startedAt)
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		Monitoring:    s.monitor.Running(),
	})
}

// --- Status endpoint ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Status(r.Context()))
}

// --- Monitoring control ---

type startMonitoringRequest struct {
	Addresses []string `json:"addresses"`
}

type monitoringResponse struct {
	Running   bool     `json:"running"`
	Addresses []string `json:"addresses,omitempty"`
}

func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	var req startMonitoringRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Addresses) == 0 {
		writeError(w, http.StatusBadRequest, "addresses is required")
		return
	}

	if err := s.monitor.Restart(r.Context(), req.Addresses); err != nil {
		metrics.AdminMonitoringChangesTotal.WithLabelValues("start", "rejected").Inc()
		status := http.StatusBadRequest
		if errors.Is(err, watcher.ErrTooManyTargets) {
			status = http.StatusUnprocessableEntity
		}
		s.logger.Warn("monitoring restart rejected", "targets", len(req.Addresses), "error", err)
		writeError(w, status, err.Error())
		return
	}

	metrics.AdminMonitoringChangesTotal.WithLabelValues("start", "ok").Inc()
	s.logger.Info("monitoring restarted by operator", "targets", len(req.Addresses))
	writeJSON(w, http.StatusAccepted, monitoringResponse{Running: true, Addresses: req.Addresses})
}

func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	s.monitor.Stop(r.Context())
	metrics.AdminMonitoringChangesTotal.WithLabelValues("stop", "ok").Inc()
	s.logger.Info("monitoring stopped by operator")
	writeJSON(w, http.StatusOK, monitoringResponse{Running: false})
}
