package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emperorhan/wallet-sentinel/internal/alert"
	"github.com/emperorhan/wallet-sentinel/internal/amount"
	"github.com/emperorhan/wallet-sentinel/internal/chain"
	"github.com/emperorhan/wallet-sentinel/internal/forwarder"
	"github.com/emperorhan/wallet-sentinel/internal/metrics"
	"github.com/emperorhan/wallet-sentinel/internal/retry"
	"github.com/emperorhan/wallet-sentinel/internal/router"
)

var (
	// ErrTooManyTargets is returned when there are more targets than endpoints.
	ErrTooManyTargets = errors.New("more targets than rpc endpoints")

	// ErrAlreadyRunning is returned by Start while monitoring is active.
	ErrAlreadyRunning = errors.New("monitoring already running")
)

const (
	defaultProbeTimeout     = 3 * time.Second
	defaultRequestTimeout   = 15 * time.Second
	defaultResubscribeDelay = 5 * time.Second
)

// Forwarder moves a wallet's balance to the destination.
type Forwarder interface {
	Destination() string
	Forward(ctx context.Context, client chain.BalanceClient, from string, balance uint64) (forwarder.Result, error)
}

// AlertSink receives operator notifications.
type AlertSink interface {
	Dispatch(ctx context.Context, a alert.Alert)
}

// Config configures a Monitor.
type Config struct {
	ProbeTimeout     time.Duration // status balance probe (default 3s)
	RequestTimeout   time.Duration // each RPC call (default 15s)
	ResubscribeDelay time.Duration // pause before reopening a dropped stream (default 5s)
}

// Monitor watches target wallets. Target i is bound to endpoint i for its
// whole life; when that endpoint is quarantined the target is stopped, not
// moved.
type Monitor struct {
	router    *router.Router
	clients   []chain.BalanceClient
	forwarder Forwarder
	alerts    AlertSink
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger

	// lifecycle serializes Start, Stop and Restart.
	lifecycle sync.Mutex

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	targets   []*target
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Monitor. clients[i] must talk to the router's endpoint i.
func New(r *router.Router, clients []chain.BalanceClient, fwd Forwarder, alerts AlertSink, cfg Config, logger *slog.Logger) (*Monitor, error) {
	if len(clients) != r.Len() {
		return nil, fmt.Errorf("watcher: %d clients for %d endpoints", len(clients), r.Len())
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = defaultResubscribeDelay
	}
	return &Monitor{
		router:    r,
		clients:   clients,
		forwarder: fwd,
		alerts:    alerts,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With("component", "watcher"),
	}, nil
}

// Start begins monitoring addresses. Target i is bound to endpoint i.
// Monitoring outlives ctx; it runs until Stop.
func (m *Monitor) Start(ctx context.Context, addresses []string) error {
	if err := m.validateTargets(addresses); err != nil {
		return err
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.start(ctx, addresses)
}

func (m *Monitor) start(ctx context.Context, addresses []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.running = true
	m.startedAt = m.now()
	m.targets = make([]*target, len(addresses))

	for i, addr := range addresses {
		tctx, tcancel := context.WithCancel(runCtx)
		t := &target{
			address:    addr,
			endpointID: i,
			client:     m.clients[i],
			cancel:     tcancel,
			active:     true,
		}
		m.targets[i] = t
		metrics.WatcherTargetsActive.Inc()

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runTarget(tctx, t)
		}()
	}

	m.logger.Info("monitoring started", "targets", len(addresses), "endpoints", m.router.Len())
	m.alerts.Dispatch(ctx, alert.Alert{
		Type:    alert.AlertTypeMonitoring,
		Subject: "watcher",
		Title:   "Monitoring started",
		Message: fmt.Sprintf("watching %d wallets", len(addresses)),
	})
	return nil
}

// Stop unsubscribes every target and resets all endpoint health. It is a
// no-op when monitoring is not running.
func (m *Monitor) Stop(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stop(ctx)
}

// stop requires m.lifecycle. m.mu is released while waiting for the
// target goroutines, which take it to report failures.
func (m *Monitor) stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	targets := m.targets
	m.mu.Unlock()

	for _, t := range targets {
		m.stopTarget(t, "monitoring stopped")
	}
	cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.targets = nil
	m.cancel = nil
	m.mu.Unlock()

	m.router.ResetAll()
	m.logger.Info("monitoring stopped", "targets", len(targets))
	m.alerts.Dispatch(ctx, alert.Alert{
		Type:    alert.AlertTypeMonitoring,
		Subject: "watcher",
		Title:   "Monitoring stopped",
		Message: fmt.Sprintf("stopped %d wallets; endpoint health reset", len(targets)),
	})
}

// Restart stops any running monitoring and starts it for addresses. An
// invalid target list is rejected before anything is stopped.
func (m *Monitor) Restart(ctx context.Context, addresses []string) error {
	if err := m.validateTargets(addresses); err != nil {
		return err
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stop(ctx)
	return m.start(ctx, addresses)
}

func (m *Monitor) validateTargets(addresses []string) error {
	if len(addresses) == 0 {
		return fmt.Errorf("start monitoring: no target addresses")
	}
	if len(addresses) > m.router.Len() {
		return fmt.Errorf("start monitoring %d targets with %d endpoints: %w",
			len(addresses), m.router.Len(), ErrTooManyTargets)
	}
	seen := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("start monitoring: empty address")
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("start monitoring: duplicate address %s", addr)
		}
		if addr == m.forwarder.Destination() {
			return fmt.Errorf("start monitoring: %s is the forwarding destination", addr)
		}
		seen[addr] = struct{}{}
	}
	return nil
}

// Running reports whether monitoring is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) snapshotTargets() []*target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*target(nil), m.targets...)
}

// stopTarget cancels a target's goroutine. The goroutine unsubscribes on
// its way out. Returns false if the target was already stopped.
func (m *Monitor) stopTarget(t *target, reason string) bool {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return false
	}
	t.active = false
	t.stopReason = reason
	t.mu.Unlock()

	t.cancel()
	metrics.WatcherTargetsActive.Dec()
	return true
}

// stopEndpointTargets stops every target bound to endpointID and returns
// their addresses.
func (m *Monitor) stopEndpointTargets(endpointID int, reason string) []string {
	var stopped []string
	for _, t := range m.snapshotTargets() {
		if t.endpointID != endpointID {
			continue
		}
		if m.stopTarget(t, reason) {
			metrics.WatcherTargetsStopped.WithLabelValues(t.client.Endpoint()).Inc()
			stopped = append(stopped, t.address)
		}
	}
	return stopped
}

// reportFailure records err against the target's endpoint. If that
// quarantines the endpoint, every target bound to it stops and the
// operator is told which wallets are no longer watched.
func (m *Monitor) reportFailure(ctx context.Context, t *target, err error) {
	outcome := m.router.ReportFailure(ctx, t.endpointID, err)
	if !outcome.Quarantined && !outcome.AlreadyQuarantined {
		return
	}

	ep, _ := m.router.Endpoint(t.endpointID)
	stopped := m.stopEndpointTargets(t.endpointID, "endpoint quarantined")
	if !outcome.Quarantined || len(stopped) == 0 {
		return
	}

	m.logger.Error("targets unmonitored after quarantine",
		"endpoint", ep.Name,
		"targets", stopped,
	)
	m.alerts.Dispatch(ctx, alert.Alert{
		Type:    alert.AlertTypeTargetsUnmonitored,
		Subject: ep.Name,
		Title:   "Wallets no longer monitored",
		Message: fmt.Sprintf("%s was quarantined; stopped monitoring %d wallet(s): %s",
			ep.Name, len(stopped), strings.Join(stopped, ", ")),
		Fields: map[string]string{
			"endpoint": ep.Name,
			"wallets":  strings.Join(stopped, ","),
		},
	})

	if m.router.Healthy() == 0 {
		m.logger.Error("all endpoints quarantined", "total", m.router.Len())
		m.alerts.Dispatch(ctx, alert.ExhaustedAlert(m.router.Len(), err.Error()))
	}
}

// shouldReport reports whether err counts against the bound endpoint.
// Signer failures, small balances and caller cancellation do not.
func shouldReport(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, forwarder.ErrAmountBelowFee), errors.Is(err, forwarder.ErrSigner):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return retry.IsTransient(err)
	}
}

func (m *Monitor) runTarget(ctx context.Context, t *target) {
	log := m.logger.With("wallet", t.address, "endpoint", t.client.Endpoint())
	defer t.closeSubscription(log)

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	bal, err := t.client.GetBalance(reqCtx, t.address)
	cancel()
	switch {
	case ctx.Err() != nil:
		return
	case err != nil:
		log.Warn("initial balance check failed", "error", err)
		if shouldReport(err) {
			m.reportFailure(ctx, t, fmt.Errorf("initial balance: %w", err))
		}
	default:
		t.setBalance(bal)
		log.Info("initial balance", "lamports", bal, "sol", amount.FormatSOL(bal))
		if bal > 0 {
			m.forward(ctx, t, log, bal)
		}
	}

	for attempt := 0; ctx.Err() == nil; attempt++ {
		sub, err := t.client.SubscribeBalance(ctx, t.address)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("subscribe failed", "error", err)
			if shouldReport(err) {
				m.reportFailure(ctx, t, fmt.Errorf("subscribe: %w", err))
			}
		} else {
			t.setSubscription(sub)
			if attempt > 0 {
				m.reconcile(ctx, t, log)
			}
			m.consume(ctx, t, sub, log)
			t.closeSubscription(log)
		}

		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(m.cfg.ResubscribeDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		log.Info("resubscribing")
	}
}

// reconcile re-reads the balance after a resubscribe. The stream only
// pushes later changes, so funds that landed while it was down are
// picked up here.
func (m *Monitor) reconcile(ctx context.Context, t *target, log *slog.Logger) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	bal, err := t.client.GetBalance(reqCtx, t.address)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("balance reconcile failed", "error", err)
		if shouldReport(err) {
			m.reportFailure(ctx, t, fmt.Errorf("reconcile balance: %w", err))
		}
		return
	}
	m.handleUpdate(ctx, t, chain.BalanceUpdate{Address: t.address, Lamports: bal}, log)
}

// consume processes one subscription until it ends or ctx is cancelled.
func (m *Monitor) consume(ctx context.Context, t *target, sub chain.Subscription, log *slog.Logger) {
	updates := sub.Updates()
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn("subscription error", "error", err)
			if shouldReport(err) {
				m.reportFailure(ctx, t, err)
			}
		case u, ok := <-updates:
			if !ok {
				log.Warn("subscription ended")
				m.drainErrors(ctx, t, errs, log)
				return
			}
			m.handleUpdate(ctx, t, u, log)
		}
	}
}

// drainErrors reports errors still buffered after Updates closed. The
// stream-ending error is sent before the close, so select may pick the
// close first. errs is not always closed, so the read never blocks.
func (m *Monitor) drainErrors(ctx context.Context, t *target, errs <-chan error, log *slog.Logger) {
	if errs == nil {
		return
	}
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			log.Warn("subscription error", "error", err)
			if shouldReport(err) {
				m.reportFailure(ctx, t, err)
			}
		default:
			return
		}
	}
}

func (m *Monitor) handleUpdate(ctx context.Context, t *target, u chain.BalanceUpdate, log *slog.Logger) {
	prev, known := t.swapBalance(u.Lamports)
	if known && u.Lamports == prev {
		return
	}
	if known && u.Lamports < prev {
		metrics.WatcherBalanceChanges.WithLabelValues(t.client.Endpoint(), "out").Inc()
		log.Info("balance decreased", "previous", prev, "lamports", u.Lamports)
		return
	}

	metrics.WatcherBalanceChanges.WithLabelValues(t.client.Endpoint(), "in").Inc()
	received := u.Lamports - prev
	log.Info("funds received",
		"received_lamports", received,
		"balance_lamports", u.Lamports,
		"slot", u.Slot,
	)
	m.alerts.Dispatch(ctx, alert.Alert{
		Type:    alert.AlertTypeFundsReceived,
		Subject: t.address,
		Title:   "Funds received",
		Message: fmt.Sprintf("received %s SOL, balance %s SOL",
			amount.FormatSOL(received), amount.FormatSOL(u.Lamports)),
		Fields: map[string]string{
			"wallet":   t.address,
			"endpoint": t.client.Endpoint(),
		},
	})
	m.forward(ctx, t, log, u.Lamports)
}

func (m *Monitor) forward(ctx context.Context, t *target, log *slog.Logger, balance uint64) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	res, err := m.forwarder.Forward(reqCtx, t.client, t.address, balance)
	if err != nil {
		if shouldReport(err) {
			m.reportFailure(ctx, t, err)
		}
		return
	}
	m.router.ReportSuccess(t.endpointID)
	log.Debug("forwarded", "signature", res.Signature, "lamports", res.Lamports)
}
