package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/emperorhan/wallet-sentinel/internal/router"
)

const defaultDispatchTimeout = 15 * time.Second

// Dispatcher delivers alerts in the background so that callers on the hot
// path (router failure reporting, balance handlers) never wait on a chat API.
// It also implements router.Notifier.
type Dispatcher struct {
	alerter Alerter
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

var _ router.Notifier = (*Dispatcher)(nil)

// NewDispatcher wraps alerter. timeout bounds each delivery.
func NewDispatcher(alerter Alerter, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Dispatcher{
		alerter: alerter,
		timeout: timeout,
		logger:  logger.With("component", "alert_dispatcher"),
	}
}

// Dispatch sends a in a new goroutine. Delivery outlives ctx cancellation
// but not the dispatcher timeout. Failures are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) {
	d.logger.Info("dispatching alert", "type", a.Type, "subject", a.Subject, "title", a.Title)
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		if err := d.alerter.Send(sendCtx, a); err != nil {
			d.logger.Warn("alert delivery failed",
				"type", a.Type,
				"subject", a.Subject,
				"error", err,
			)
		}
	}()
}

// Notify converts a router health event into an alert and dispatches it.
func (d *Dispatcher) Notify(ctx context.Context, ev router.HealthEvent) {
	d.Dispatch(ctx, HealthAlert(ev))
}

// Wait blocks until every dispatched alert has been attempted.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// HealthAlert renders a router health event.
func HealthAlert(ev router.HealthEvent) Alert {
	fields := map[string]string{
		"endpoint":    ev.Endpoint.Name,
		"error_count": fmt.Sprintf("%d/%d", ev.Endpoint.ErrorCount, ev.MaxErrors),
	}
	if ev.Detail != "" {
		fields["last_error"] = ev.Detail
	}
	if !ev.At.IsZero() {
		fields["at"] = ev.At.UTC().Format(time.RFC3339)
	}

	switch ev.Kind {
	case router.EventQuarantine:
		return Alert{
			Type:    AlertTypeRPCQuarantined,
			Subject: ev.Endpoint.Name,
			Title:   "RPC endpoint quarantined",
			Message: fmt.Sprintf("%s reached %d errors and is out of rotation until monitoring restarts",
				ev.Endpoint.Name, ev.MaxErrors),
			Fields: fields,
		}
	default:
		return Alert{
			Type:    AlertTypeRPCWarning,
			Subject: ev.Endpoint.Name,
			Title:   "RPC endpoint degraded",
			Message: fmt.Sprintf("%s error %s of %s before quarantine",
				ev.Endpoint.Name, strconv.Itoa(ev.Endpoint.ErrorCount), strconv.Itoa(ev.MaxErrors)),
			Fields: fields,
		}
	}
}

// ExhaustedAlert reports that every configured endpoint is quarantined.
func ExhaustedAlert(total int, detail string) Alert {
	a := Alert{
		Type:    AlertTypeEndpointsExhausted,
		Subject: "router",
		Title:   "All RPC endpoints quarantined",
		Message: fmt.Sprintf("all %d endpoint(s) are quarantined; restart monitoring after fixing the providers", total),
		Fields:  map[string]string{"endpoints": strconv.Itoa(total)},
	}
	if detail != "" {
		a.Fields["last_error"] = detail
	}
	return a
}
