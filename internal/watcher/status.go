package watcher

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/wallet-sentinel/internal/amount"
	"github.com/emperorhan/wallet-sentinel/internal/router"
)

// EndpointStatus is the health of one endpoint, safe to serve to operators.
type EndpointStatus struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	ErrorCount  int        `json:"error_count"`
	MaxErrors   int        `json:"max_errors"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	Quarantined bool       `json:"quarantined"`
	HeadSlot    *int64     `json:"head_slot,omitempty"`
	ProbeError  string     `json:"probe_error,omitempty"`
}

// TargetStatus describes one watched wallet.
type TargetStatus struct {
	Address     string  `json:"address"`
	Endpoint    string  `json:"endpoint"`
	Active      bool    `json:"active"`
	Subscribed  bool    `json:"subscribed"`
	StopReason  string  `json:"stop_reason,omitempty"`
	LastKnown   *string `json:"last_known_sol,omitempty"`
	BalanceSOL  *string `json:"balance_sol,omitempty"`
	ProbeError  string  `json:"probe_error,omitempty"`
	ProbeTimeMS int64   `json:"probe_time_ms"`
}

// Status is a point-in-time report of monitoring and endpoint health.
type Status struct {
	Running   bool             `json:"running"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	Healthy   int              `json:"healthy_endpoints"`
	Total     int              `json:"total_endpoints"`
	Endpoints []EndpointStatus `json:"endpoints"`
	Targets   []TargetStatus   `json:"targets"`
}

// Status probes every endpoint's head slot and every target's balance
// through its bound endpoint, each bounded by the probe timeout, and reports
// endpoint health alongside. Probe failures are reported in the result, not
// to the router.
func (m *Monitor) Status(ctx context.Context) Status {
	m.mu.Lock()
	running := m.running
	startedAt := m.startedAt
	targets := append([]*target(nil), m.targets...)
	m.mu.Unlock()

	st := Status{
		Running: running,
		Healthy: m.router.Healthy(),
		Total:   m.router.Len(),
	}
	if running {
		st.StartedAt = &startedAt
	}

	g, gctx := errgroup.WithContext(ctx)

	maxErrors := m.router.MaxErrors()
	endpoints := m.router.Endpoints()
	st.Endpoints = make([]EndpointStatus, len(endpoints))
	for i, ep := range endpoints {
		st.Endpoints[i] = EndpointStatus{
			ID:          ep.ID,
			Name:        ep.Name,
			URL:         router.RedactURL(ep.URL),
			ErrorCount:  ep.ErrorCount,
			MaxErrors:   maxErrors,
			LastErrorAt: ep.LastErrorAt,
			Quarantined: ep.Quarantined,
		}

		client := m.clients[ep.ID]
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, m.cfg.ProbeTimeout)
			defer cancel()
			slot, err := client.GetHeadSequence(probeCtx)
			if err != nil {
				st.Endpoints[i].ProbeError = err.Error()
				return nil
			}
			st.Endpoints[i].HeadSlot = &slot
			return nil
		})
	}

	st.Targets = make([]TargetStatus, len(targets))
	for i, t := range targets {
		snap := t.snapshot()
		ts := TargetStatus{
			Address:    snap.address,
			Endpoint:   snap.client.Endpoint(),
			Active:     snap.active,
			Subscribed: snap.subscribed,
			StopReason: snap.stopReason,
		}
		if snap.hasBalance {
			sol := amount.FormatSOL(snap.lastBalance)
			ts.LastKnown = &sol
		}
		st.Targets[i] = ts

		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, m.cfg.ProbeTimeout)
			defer cancel()
			start := time.Now()
			bal, err := snap.client.GetBalance(probeCtx, snap.address)
			st.Targets[i].ProbeTimeMS = time.Since(start).Milliseconds()
			if err != nil {
				st.Targets[i].ProbeError = err.Error()
				return nil
			}
			sol := amount.FormatSOL(bal)
			st.Targets[i].BalanceSOL = &sol
			return nil
		})
	}
	_ = g.Wait()
	return st
}
