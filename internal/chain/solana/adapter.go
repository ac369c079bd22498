package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/wallet-sentinel/internal/chain"
	"github.com/emperorhan/wallet-sentinel/internal/chain/solana/rpc"
)

const (
	maxPageSize         = 1000
	maxConcurrentTxs    = 10
	defaultCommitment   = "confirmed"
	defaultPollInterval = 5 * time.Second
)

// Mode selects how balance changes are observed.
type Mode string

const (
	ModeWebsocket Mode = "ws"
	ModePoll      Mode = "poll"
)

type accountSubscriber interface {
	SubscribeAccount(ctx context.Context, address, commitment string) (*rpc.AccountSubscription, error)
}

// Options configures an Adapter.
type Options struct {
	Mode         Mode
	PollInterval time.Duration
	Commitment   string
}

// Adapter is a chain.BalanceClient and chain.HistoryClient bound to one
// Solana RPC endpoint.
type Adapter struct {
	name             string
	client           rpc.RPCClient
	subscriber       accountSubscriber
	mode             Mode
	pollInterval     time.Duration
	commitment       string
	maxPageSize      int
	maxConcurrentTxs int
	logger           *slog.Logger
}

var (
	_ chain.BalanceClient = (*Adapter)(nil)
	_ chain.HistoryClient = (*Adapter)(nil)
)

func NewAdapter(client *rpc.Client, opts Options, logger *slog.Logger) *Adapter {
	if opts.Mode == "" {
		opts.Mode = ModeWebsocket
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Commitment == "" {
		opts.Commitment = defaultCommitment
	}
	return &Adapter{
		name:             client.Name(),
		client:           client,
		subscriber:       client,
		mode:             opts.Mode,
		pollInterval:     opts.PollInterval,
		commitment:       opts.Commitment,
		maxPageSize:      maxPageSize,
		maxConcurrentTxs: maxConcurrentTxs,
		logger:           logger.With("chain", "solana", "endpoint", client.Name()),
	}
}

func (a *Adapter) Endpoint() string {
	return a.name
}

func (a *Adapter) GetBalance(ctx context.Context, address string) (uint64, error) {
	return a.client.GetBalance(ctx, address, a.commitment)
}

func (a *Adapter) GetHeadSequence(ctx context.Context) (int64, error) {
	return a.client.GetSlot(ctx, a.commitment)
}

func (a *Adapter) LatestBlockhash(ctx context.Context) (string, error) {
	return a.client.GetLatestBlockhash(ctx, a.commitment)
}

func (a *Adapter) SendTransaction(ctx context.Context, signedTx string) (string, error) {
	return a.client.SendTransaction(ctx, signedTx)
}

// SubscribeBalance streams balance changes of address using the adapter's
// configured mode.
func (a *Adapter) SubscribeBalance(ctx context.Context, address string) (chain.Subscription, error) {
	switch a.mode {
	case ModePoll:
		return a.pollBalance(ctx, address), nil
	case ModeWebsocket:
		if a.subscriber == nil {
			return nil, fmt.Errorf("subscribe %s: websocket subscriber not configured", address)
		}
		inner, err := a.subscriber.SubscribeAccount(ctx, address, a.commitment)
		if err != nil {
			return nil, err
		}
		sub := &wsSubscription{
			inner:   inner,
			address: address,
			updates: make(chan chain.BalanceUpdate, 16),
			done:    make(chan struct{}),
		}
		go sub.run()
		a.logger.Info("balance subscription opened", "address", address, "mode", a.mode)
		return sub, nil
	default:
		return nil, fmt.Errorf("subscribe %s: unknown mode %q", address, a.mode)
	}
}

type wsSubscription struct {
	inner   *rpc.AccountSubscription
	address string
	updates chan chain.BalanceUpdate
	done    chan struct{}
	once    sync.Once
}

func (s *wsSubscription) run() {
	defer close(s.updates)
	for n := range s.inner.Notifications() {
		select {
		case s.updates <- chain.BalanceUpdate{Address: s.address, Lamports: n.Value.Lamports, Slot: n.Context.Slot}:
		case <-s.done:
			return
		}
	}
}

func (s *wsSubscription) Updates() <-chan chain.BalanceUpdate { return s.updates }
func (s *wsSubscription) Errors() <-chan error                { return s.inner.Errors() }

func (s *wsSubscription) Unsubscribe() error {
	s.once.Do(func() { close(s.done) })
	return s.inner.Unsubscribe()
}

// pollSubscription emits the balance whenever it differs from the previous
// poll. The first successful poll is always emitted.
type pollSubscription struct {
	updates chan chain.BalanceUpdate
	errs    chan error
	cancel  context.CancelFunc
	done    chan struct{}
}

func (a *Adapter) pollBalance(ctx context.Context, address string) *pollSubscription {
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &pollSubscription{
		updates: make(chan chain.BalanceUpdate, 1),
		errs:    make(chan error, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.updates)

		ticker := time.NewTicker(a.pollInterval)
		defer ticker.Stop()

		var last uint64
		seen := false
		for {
			bal, err := a.client.GetBalance(pollCtx, address, a.commitment)
			if pollCtx.Err() != nil {
				return
			}
			if err != nil {
				select {
				case s.errs <- fmt.Errorf("poll balance %s: %w", address, err):
				case <-pollCtx.Done():
					return
				}
			} else if !seen || bal != last {
				seen, last = true, bal
				select {
				case s.updates <- chain.BalanceUpdate{Address: address, Lamports: bal}:
				case <-pollCtx.Done():
					return
				}
			}

			select {
			case <-ticker.C:
			case <-pollCtx.Done():
				return
			}
		}
	}()

	a.logger.Info("balance subscription opened", "address", address, "mode", ModePoll, "interval", a.pollInterval)
	return s
}

func (s *pollSubscription) Updates() <-chan chain.BalanceUpdate { return s.updates }
func (s *pollSubscription) Errors() <-chan error                { return s.errs }

func (s *pollSubscription) Unsubscribe() error {
	s.cancel()
	<-s.done
	return nil
}

// FetchSignaturePage returns one page of signatures, newest-first.
func (a *Adapter) FetchSignaturePage(ctx context.Context, address, before string, limit int) ([]chain.SignatureInfo, error) {
	if limit <= 0 || limit > a.maxPageSize {
		limit = a.maxPageSize
	}

	sigs, err := a.client.GetSignaturesForAddress(ctx, address, &rpc.GetSignaturesOpts{
		Limit:  limit,
		Before: before,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch signatures page: %w", err)
	}

	result := make([]chain.SignatureInfo, len(sigs))
	for i, sig := range sigs {
		var t *time.Time
		if sig.BlockTime != nil {
			bt := time.Unix(*sig.BlockTime, 0)
			t = &bt
		}
		result[i] = chain.SignatureInfo{
			Hash:     sig.Signature,
			Sequence: sig.Slot,
			Time:     t,
			Failed:   sig.Err != nil,
		}
	}

	a.logger.Debug("fetched signatures",
		"address", address,
		"count", len(result),
		"before", before,
	)
	return result, nil
}

// FetchTransactions fetches raw transaction data for given signatures.
// A batch request is tried first; individual requests are the fallback.
func (a *Adapter) FetchTransactions(ctx context.Context, signatures []string) ([]json.RawMessage, error) {
	if len(signatures) == 0 {
		return []json.RawMessage{}, nil
	}

	results, err := a.client.GetTransactions(ctx, signatures)
	if err == nil {
		a.logger.Debug("fetched transactions (batch)", "count", len(results))
		return results, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	a.logger.Warn("batch transaction fetch failed, falling back", "error", err)

	results = make([]json.RawMessage, len(signatures))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrentTxs)

	for i, sig := range signatures {
		g.Go(func() error {
			result, err := a.client.GetTransaction(gctx, sig)
			if err != nil {
				return fmt.Errorf("fetch tx %s: %w", sig, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.logger.Debug("fetched transactions", "count", len(results))
	return results, nil
}
