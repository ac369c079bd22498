package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/emperorhan/wallet-sentinel/internal/metrics"
)

// ErrNoHealthyEndpoints is returned by selection when every endpoint is quarantined.
var ErrNoHealthyEndpoints = errors.New("no healthy endpoints")

const (
	// DefaultMaxErrors is the failure count at which an endpoint is quarantined.
	DefaultMaxErrors = 5

	// DefaultErrorWindow is the minimum spacing between two warnings for the same endpoint.
	DefaultErrorWindow = 60 * time.Second

	// DefaultWarningCap is the highest error count that may still produce a warning.
	DefaultWarningCap = 2
)

// EndpointConfig describes one configured upstream provider.
type EndpointConfig struct {
	Name       string
	URL        string
	Credential string
}

// Endpoint is a point-in-time view of one upstream provider (JSON-safe).
type Endpoint struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Credential  string     `json:"-"`
	ErrorCount  int        `json:"error_count"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	Quarantined bool       `json:"quarantined"`
}

// EventKind categorizes a health event.
type EventKind string

const (
	EventWarning    EventKind = "WARNING"
	EventQuarantine EventKind = "QUARANTINE"
)

// HealthEvent is emitted to the Notifier when an endpoint degrades.
type HealthEvent struct {
	Kind      EventKind
	Endpoint  Endpoint
	Detail    string
	MaxErrors int
	At        time.Time
}

// Notifier receives health events. Implementations must not block for long;
// the router calls Notify outside its lock but on the reporting goroutine.
type Notifier interface {
	Notify(ctx context.Context, ev HealthEvent)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev HealthEvent)

func (f NotifierFunc) Notify(ctx context.Context, ev HealthEvent) { f(ctx, ev) }

// FailureOutcome reports what a single ReportFailure call did.
type FailureOutcome struct {
	ErrorCount int
	// Warned is true if this failure emitted a warning event.
	Warned bool
	// Quarantined is true only for the call that moved the endpoint into quarantine.
	Quarantined bool
	// AlreadyQuarantined is true if the endpoint was quarantined before this call.
	AlreadyQuarantined bool
}

// Config configures a Router.
type Config struct {
	MaxErrors   int           // failures before quarantine (default: 5)
	ErrorWindow time.Duration // warning suppression window (default: 60s)
	WarningCap  int           // last error count that may warn (default: 2, negative disables)
	Notifier    Notifier
	Now         func() time.Time
}

type endpointState struct {
	cfg           EndpointConfig
	errorCount    int
	lastErrorAt   time.Time
	lastWarningAt time.Time
	quarantined   bool
}

// Router tracks per-endpoint health and hands out endpoints in round-robin
// order, skipping quarantined ones. Quarantine is terminal until ResetAll.
type Router struct {
	mu        sync.Mutex
	endpoints []*endpointState
	cursor    int

	maxErrors   int
	errorWindow time.Duration
	warningCap  int
	notifier    Notifier
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a router over the given endpoints in configuration order.
func New(endpoints []EndpointConfig, cfg Config, logger *slog.Logger) (*Router, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("router requires at least one endpoint")
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultMaxErrors
	}
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = DefaultErrorWindow
	}
	if cfg.WarningCap < 0 {
		cfg.WarningCap = 0
	} else if cfg.WarningCap == 0 {
		cfg.WarningCap = DefaultWarningCap
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(func(context.Context, HealthEvent) {})
	}

	r := &Router{
		endpoints:   make([]*endpointState, len(endpoints)),
		cursor:      -1,
		maxErrors:   cfg.MaxErrors,
		errorWindow: cfg.ErrorWindow,
		warningCap:  cfg.WarningCap,
		notifier:    cfg.Notifier,
		now:         cfg.Now,
		logger:      logger.With("component", "router"),
	}
	for i, ep := range endpoints {
		if ep.URL == "" {
			return nil, fmt.Errorf("endpoint %d has empty url", i)
		}
		if ep.Name == "" {
			ep.Name = "rpc-" + strconv.Itoa(i+1)
		}
		r.endpoints[i] = &endpointState{cfg: ep}
		metrics.RouterEndpointErrors.WithLabelValues(ep.Name).Set(0)
		metrics.RouterEndpointQuarantined.WithLabelValues(ep.Name).Set(0)
	}
	return r, nil
}

// Len returns the number of configured endpoints.
func (r *Router) Len() int {
	return len(r.endpoints)
}

// MaxErrors returns the quarantine threshold.
func (r *Router) MaxErrors() int {
	return r.maxErrors
}

// SelectEndpoint returns the next non-quarantined endpoint after previous in
// round-robin order. Pass -1 to start at the first endpoint.
func (r *Router) SelectEndpoint(previous int) (Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selectLocked(previous)
}

// Next selects the endpoint after the last one handed out by Next. Callers
// that do not care about a specific starting point use it to spread load.
func (r *Router) Next() (Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, err := r.selectLocked(r.cursor)
	if err != nil {
		return Endpoint{}, err
	}
	r.cursor = ep.ID
	return ep, nil
}

// selectLocked must be called with mu held.
func (r *Router) selectLocked(previous int) (Endpoint, error) {
	n := len(r.endpoints)
	start := ((previous+1)%n + n) % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if !r.endpoints[idx].quarantined {
			return r.snapshotLocked(idx), nil
		}
	}
	metrics.RouterExhaustedTotal.Inc()
	return Endpoint{}, ErrNoHealthyEndpoints
}

// ReportFailure records a failure against the endpoint. The call that reaches
// MaxErrors quarantines the endpoint and emits exactly one quarantine event.
// Before that, warnings are emitted while the error count is within the
// warning cap and no warning fired for the endpoint inside the error window.
func (r *Router) ReportFailure(ctx context.Context, id int, cause error) FailureOutcome {
	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}

	r.mu.Lock()
	if id < 0 || id >= len(r.endpoints) {
		r.mu.Unlock()
		r.logger.Warn("failure reported for unknown endpoint", "endpoint_id", id, "error", detail)
		return FailureOutcome{}
	}

	s := r.endpoints[id]
	now := r.now()
	s.errorCount++
	s.lastErrorAt = now

	var (
		outcome = FailureOutcome{ErrorCount: s.errorCount}
		emit    *HealthEvent
	)
	switch {
	case s.quarantined:
		outcome.AlreadyQuarantined = true
	case s.errorCount >= r.maxErrors:
		s.quarantined = true
		outcome.Quarantined = true
		emit = &HealthEvent{Kind: EventQuarantine}
	case s.errorCount <= r.warningCap && (s.lastWarningAt.IsZero() || now.Sub(s.lastWarningAt) >= r.errorWindow):
		s.lastWarningAt = now
		outcome.Warned = true
		emit = &HealthEvent{Kind: EventWarning}
	}
	snap := r.snapshotLocked(id)
	r.mu.Unlock()

	name := snap.Name
	metrics.RouterFailuresTotal.WithLabelValues(name).Inc()
	metrics.RouterEndpointErrors.WithLabelValues(name).Set(float64(snap.ErrorCount))

	r.logger.Warn("rpc endpoint failure",
		"endpoint", name,
		"url", RedactURL(snap.URL),
		"error_count", snap.ErrorCount,
		"max_errors", r.maxErrors,
		"error", detail,
	)

	if emit == nil {
		return outcome
	}

	emit.Endpoint = snap
	emit.Detail = detail
	emit.MaxErrors = r.maxErrors
	emit.At = now

	switch emit.Kind {
	case EventQuarantine:
		metrics.RouterQuarantinesTotal.WithLabelValues(name).Inc()
		metrics.RouterEndpointQuarantined.WithLabelValues(name).Set(1)
		r.logger.Error("rpc endpoint quarantined",
			"endpoint", name,
			"url", RedactURL(snap.URL),
			"error_count", snap.ErrorCount,
		)
	case EventWarning:
		metrics.RouterWarningsTotal.WithLabelValues(name).Inc()
	}
	r.notifier.Notify(ctx, *emit)
	return outcome
}

// ReportSuccess records a successful call. Error counts are never decayed.
func (r *Router) ReportSuccess(id int) {
	if id < 0 || id >= len(r.endpoints) {
		return
	}
	metrics.RouterSuccessesTotal.WithLabelValues(r.endpoints[id].cfg.Name).Inc()
}

// ResetAll clears every error count, timestamp and quarantine flag.
func (r *Router) ResetAll() {
	r.mu.Lock()
	for _, s := range r.endpoints {
		s.errorCount = 0
		s.lastErrorAt = time.Time{}
		s.lastWarningAt = time.Time{}
		s.quarantined = false
		metrics.RouterEndpointErrors.WithLabelValues(s.cfg.Name).Set(0)
		metrics.RouterEndpointQuarantined.WithLabelValues(s.cfg.Name).Set(0)
	}
	r.cursor = -1
	r.mu.Unlock()

	r.logger.Info("router state reset", "endpoints", len(r.endpoints))
}

// Endpoint returns a snapshot of the endpoint with the given id.
func (r *Router) Endpoint(id int) (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.endpoints) {
		return Endpoint{}, false
	}
	return r.snapshotLocked(id), true
}

// Endpoints returns snapshots of all endpoints in configuration order.
func (r *Router) Endpoints() []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Endpoint, len(r.endpoints))
	for i := range r.endpoints {
		out[i] = r.snapshotLocked(i)
	}
	return out
}

// Healthy returns the number of endpoints not in quarantine.
func (r *Router) Healthy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.endpoints {
		if !s.quarantined {
			n++
		}
	}
	return n
}

func (r *Router) snapshotLocked(id int) Endpoint {
	s := r.endpoints[id]
	ep := Endpoint{
		ID:          id,
		Name:        s.cfg.Name,
		URL:         s.cfg.URL,
		Credential:  s.cfg.Credential,
		ErrorCount:  s.errorCount,
		Quarantined: s.quarantined,
	}
	if !s.lastErrorAt.IsZero() {
		t := s.lastErrorAt
		ep.LastErrorAt = &t
	}
	return ep
}

// RedactURL strips credentials, path tokens and query strings from a provider
// URL so it can be logged. Many providers embed API keys in the path or query.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid-url>"
	}
	redacted := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		redacted += "/***"
	}
	return redacted
}
