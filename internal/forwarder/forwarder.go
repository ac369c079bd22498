package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/emperorhan/wallet-sentinel/internal/alert"
	"github.com/emperorhan/wallet-sentinel/internal/amount"
	"github.com/emperorhan/wallet-sentinel/internal/chain"
	"github.com/emperorhan/wallet-sentinel/internal/metrics"
)

// ErrAmountBelowFee is returned when the balance does not cover the
// transfer fee plus the configured minimum.
var ErrAmountBelowFee = errors.New("amount too small to forward")

const (
	DefaultFeeLamports = 5000
	DefaultExplorerURL = "https://solscan.io/tx/"
)

// AlertSink receives operator notifications.
type AlertSink interface {
	Dispatch(ctx context.Context, a alert.Alert)
}

// Config configures a Forwarder.
type Config struct {
	Destination        string
	FeeLamports        uint64 // default 5000
	MinForwardLamports uint64
	ExplorerURL        string // signature is appended
}

// Result describes a submitted transfer.
type Result struct {
	ID          string
	Signature   string
	Lamports    uint64
	Duration    time.Duration
	ExplorerURL string
}

// Forwarder moves the balance of a watched wallet to the destination.
type Forwarder struct {
	submitter Submitter
	alerts    AlertSink
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

func New(submitter Submitter, alerts AlertSink, cfg Config, logger *slog.Logger) (*Forwarder, error) {
	if cfg.Destination == "" {
		return nil, fmt.Errorf("forwarder requires a destination address")
	}
	if cfg.FeeLamports == 0 {
		cfg.FeeLamports = DefaultFeeLamports
	}
	if cfg.ExplorerURL == "" {
		cfg.ExplorerURL = DefaultExplorerURL
	}
	return &Forwarder{
		submitter: submitter,
		alerts:    alerts,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With("component", "forwarder"),
	}, nil
}

// Destination returns the address funds are forwarded to.
func (f *Forwarder) Destination() string {
	return f.cfg.Destination
}

// TransferAmount returns what would be forwarded from balance, or 0 if the
// balance does not cover the fee and the minimum.
func (f *Forwarder) TransferAmount(balance uint64) uint64 {
	if balance <= f.cfg.FeeLamports {
		return 0
	}
	amt := balance - f.cfg.FeeLamports
	if amt < f.cfg.MinForwardLamports {
		return 0
	}
	return amt
}

// Forward sends balance minus the fee from the wallet at from, through
// client, to the destination.
func (f *Forwarder) Forward(ctx context.Context, client chain.BalanceClient, from string, balance uint64) (Result, error) {
	amt := f.TransferAmount(balance)
	if amt == 0 {
		metrics.ForwarderTransfersTotal.WithLabelValues("too_small").Inc()
		f.logger.Info("balance too small to forward",
			"wallet", from,
			"balance_lamports", balance,
			"fee_lamports", f.cfg.FeeLamports,
		)
		f.alerts.Dispatch(ctx, alert.Alert{
			Type:    alert.AlertTypeAmountTooSmall,
			Subject: from,
			Title:   "Amount too small to forward",
			Message: fmt.Sprintf("balance %s SOL does not cover the %s SOL fee",
				amount.FormatSOL(balance), amount.FormatSOL(f.cfg.FeeLamports)),
			Fields: map[string]string{"wallet": from},
		})
		return Result{}, fmt.Errorf("forward from %s: %w", from, ErrAmountBelowFee)
	}

	req := TransferRequest{
		ID:       uuid.NewString(),
		From:     from,
		To:       f.cfg.Destination,
		Lamports: amt,
		Client:   client,
	}

	start := f.now()
	sig, err := f.submitter.SubmitTransfer(ctx, req)
	elapsed := f.now().Sub(start)
	metrics.ForwarderLatency.Observe(elapsed.Seconds())

	if err != nil {
		metrics.ForwarderTransfersTotal.WithLabelValues("failed").Inc()
		f.logger.Error("transfer failed",
			"transfer_id", req.ID,
			"wallet", from,
			"endpoint", client.Endpoint(),
			"lamports", amt,
			"error", err,
		)
		f.alerts.Dispatch(ctx, alert.Alert{
			Type:    alert.AlertTypeTransferFailed,
			Subject: from,
			Title:   "Transfer failed",
			Message: fmt.Sprintf("could not forward %s SOL: %v", amount.FormatSOL(amt), err),
			Fields: map[string]string{
				"wallet":      from,
				"transfer_id": req.ID,
				"endpoint":    client.Endpoint(),
			},
		})
		return Result{ID: req.ID, Lamports: amt, Duration: elapsed}, fmt.Errorf("forward from %s: %w", from, err)
	}

	res := Result{
		ID:          req.ID,
		Signature:   sig,
		Lamports:    amt,
		Duration:    elapsed,
		ExplorerURL: f.cfg.ExplorerURL + sig,
	}

	metrics.ForwarderTransfersTotal.WithLabelValues("ok").Inc()
	metrics.ForwarderLamportsForwarded.Add(float64(amt))
	f.logger.Info("transfer submitted",
		"transfer_id", req.ID,
		"wallet", from,
		"endpoint", client.Endpoint(),
		"lamports", amt,
		"signature", sig,
		"duration", elapsed,
	)
	f.alerts.Dispatch(ctx, alert.Alert{
		Type:    alert.AlertTypeTransferOK,
		Subject: from,
		Title:   "Transfer sent",
		Message: fmt.Sprintf("forwarded %s SOL to %s", amount.FormatSOL(amt), f.cfg.Destination),
		Fields: map[string]string{
			"wallet":         from,
			"signature":      sig,
			"explorer":       res.ExplorerURL,
			"execution_time": strconv.FormatInt(elapsed.Milliseconds(), 10) + "ms",
		},
	})
	return res, nil
}
