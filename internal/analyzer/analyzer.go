package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/wallet-sentinel/internal/amount"
	"github.com/emperorhan/wallet-sentinel/internal/chain"
	"github.com/emperorhan/wallet-sentinel/internal/metrics"
	"github.com/emperorhan/wallet-sentinel/internal/retry"
	"github.com/emperorhan/wallet-sentinel/internal/router"
	"github.com/emperorhan/wallet-sentinel/internal/tracing"
)

const (
	defaultPageSize    = 1000
	defaultBatchSize   = 100
	defaultConcurrency = 4
)

// Cache remembers per-signature outcomes between runs so history that was
// already analyzed is not fetched again.
type Cache interface {
	Lookup(ctx context.Context, address string, signatures []string) (map[string]Outcome, error)
	Store(ctx context.Context, address string, outcomes map[string]Outcome) error
}

// Config configures an Analyzer.
type Config struct {
	ProgramID     string
	PageSize      int // signatures per getSignaturesForAddress page (max 1000)
	MaxSignatures int // per address, 0 for full history
	BatchSize     int // transactions per batch fetch
	Concurrency   int // addresses analyzed in parallel
	RetryBudget   int // attempts per RPC call across endpoints (default: endpoint count)
	PointsPerSOL  decimal.Decimal
}

// Analyzer computes swap volume against one program id from address history.
type Analyzer struct {
	router  *router.Router
	clients []chain.HistoryClient
	cache   Cache
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Analyzer)

// WithCache enables the signature outcome cache.
func WithCache(c Cache) Option {
	return func(a *Analyzer) {
		a.cache = c
	}
}

// New creates an Analyzer. clients[i] must talk to the router's endpoint i.
func New(r *router.Router, clients []chain.HistoryClient, cfg Config, logger *slog.Logger, opts ...Option) (*Analyzer, error) {
	if cfg.ProgramID == "" {
		return nil, fmt.Errorf("analyzer: program id is required")
	}
	if len(clients) != r.Len() {
		return nil, fmt.Errorf("analyzer: %d clients for %d endpoints", len(clients), r.Len())
	}
	if cfg.PageSize <= 0 || cfg.PageSize > defaultPageSize {
		cfg.PageSize = defaultPageSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = r.Len()
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Analyzer{
		router:  r,
		clients: clients,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With("component", "analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Analyze analyzes every address, at most Concurrency at a time. The first
// address that fails aborts the run.
func (a *Analyzer) Analyze(ctx context.Context, addresses []string) (Report, error) {
	start := a.now()
	reports := make([]AddressReport, len(addresses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, addr := range addresses {
		g.Go(func() error {
			r, err := a.AnalyzeAddress(gctx, addr)
			if err != nil {
				return fmt.Errorf("analyze %s: %w", addr, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	return a.buildReport(reports, start), nil
}

// AnalyzeAddress pages through the full signature history of address.
func (a *Analyzer) AnalyzeAddress(ctx context.Context, address string) (AddressReport, error) {
	ctx, span := tracing.Tracer("analyzer").Start(ctx, "analyzer.address")
	span.SetAttributes(attribute.String("address", address))
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	rep := AddressReport{Address: address}
	before := ""
	for {
		limit := a.cfg.PageSize
		if a.cfg.MaxSignatures > 0 {
			remaining := a.cfg.MaxSignatures - rep.Signatures
			if remaining <= 0 {
				break
			}
			limit = min(limit, remaining)
		}

		page, err := router.Call(ctx, a.router, a.cfg.RetryBudget, retry.IsTransient,
			func(ctx context.Context, ep router.Endpoint) ([]chain.SignatureInfo, error) {
				return a.clients[ep.ID].FetchSignaturePage(ctx, address, before, limit)
			})
		if err != nil {
			spanErr = err
			return AddressReport{}, fmt.Errorf("signatures before %q: %w", before, err)
		}
		if len(page) == 0 {
			break
		}

		if err := a.processPage(ctx, address, page, &rep); err != nil {
			spanErr = err
			return AddressReport{}, err
		}

		before = page[len(page)-1].Hash
		if len(page) < limit {
			break
		}
	}

	a.finishAddress(&rep)
	span.SetAttributes(
		attribute.Int("signatures", rep.Signatures),
		attribute.Int("swaps", rep.Swaps),
	)
	a.logger.Info("address analyzed",
		"address", address,
		"signatures", rep.Signatures,
		"cached", rep.Cached,
		"swaps", rep.Swaps,
		"volume_sol", rep.VolumeSOL,
	)
	return rep, nil
}

func (a *Analyzer) processPage(ctx context.Context, address string, page []chain.SignatureInfo, rep *AddressReport) error {
	rep.Signatures += len(page)
	metrics.AnalyzerSignaturesScanned.Add(float64(len(page)))

	pending := make([]string, 0, len(page))
	for _, sig := range page {
		if sig.Failed {
			rep.Failed++
			continue
		}
		pending = append(pending, sig.Hash)
	}

	if a.cache != nil && len(pending) > 0 {
		cached, err := a.cache.Lookup(ctx, address, pending)
		if err != nil {
			a.logger.Warn("signature cache lookup failed", "address", address, "error", err)
		} else if len(cached) > 0 {
			rest := pending[:0]
			for _, sig := range pending {
				if out, ok := cached[sig]; ok {
					rep.add(out)
					rep.Cached++
					continue
				}
				rest = append(rest, sig)
			}
			pending = rest
			metrics.AnalyzerSignaturesSkipped.Add(float64(len(cached)))
		}
	}

	for start := 0; start < len(pending); start += a.cfg.BatchSize {
		batch := pending[start:min(start+a.cfg.BatchSize, len(pending))]
		outcomes, err := a.fetchOutcomes(ctx, address, batch)
		if err != nil {
			return err
		}
		for _, sig := range batch {
			rep.add(outcomes[sig])
		}
		if a.cache != nil {
			if err := a.cache.Store(ctx, address, outcomes); err != nil {
				a.logger.Warn("signature cache store failed", "address", address, "error", err)
			}
		}
	}
	return nil
}

func (a *Analyzer) fetchOutcomes(ctx context.Context, address string, batch []string) (map[string]Outcome, error) {
	raws, err := router.Call(ctx, a.router, a.cfg.RetryBudget, retry.IsTransient,
		func(ctx context.Context, ep router.Endpoint) ([]json.RawMessage, error) {
			return a.clients[ep.ID].FetchTransactions(ctx, batch)
		})
	if err != nil {
		return nil, fmt.Errorf("fetch %d transactions: %w", len(batch), err)
	}
	if len(raws) != len(batch) {
		return nil, fmt.Errorf("fetch transactions: got %d results for %d signatures", len(raws), len(batch))
	}

	outcomes := make(map[string]Outcome, len(batch))
	for i, sig := range batch {
		out, err := inspectTransaction(raws[i], address, a.cfg.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", sig, err)
		}
		if out.Swap {
			metrics.AnalyzerSwapsMatched.Inc()
		}
		outcomes[sig] = out
	}
	return outcomes, nil
}

func (a *Analyzer) finishAddress(rep *AddressReport) {
	vol := amount.ToSOL(rep.VolumeLamports)
	rep.VolumeSOL = amount.FormatSOL(rep.VolumeLamports)
	rep.Allocation = vol.Mul(a.cfg.PointsPerSOL).StringFixed(2)
}

func (a *Analyzer) buildReport(addresses []AddressReport, start time.Time) Report {
	r := Report{
		ProgramID:    a.cfg.ProgramID,
		PointsPerSOL: a.cfg.PointsPerSOL.String(),
		Addresses:    addresses,
		GeneratedAt:  a.now().UTC(),
	}
	for _, ar := range addresses {
		r.TotalSignatures += ar.Signatures
		r.TotalSwaps += ar.Swaps
		r.TotalVolumeLamports += ar.VolumeLamports
	}
	r.TotalVolumeSOL = amount.FormatSOL(r.TotalVolumeLamports)
	r.TotalAllocation = amount.ToSOL(r.TotalVolumeLamports).Mul(a.cfg.PointsPerSOL).StringFixed(2)
	r.Duration = r.GeneratedAt.Sub(start.UTC()).Round(time.Millisecond).String()
	return r
}
