package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emperorhan/wallet-sentinel/internal/alert"
	"github.com/emperorhan/wallet-sentinel/internal/analyzer"
	"github.com/emperorhan/wallet-sentinel/internal/bootstrap"
	"github.com/emperorhan/wallet-sentinel/internal/cache"
	"github.com/emperorhan/wallet-sentinel/internal/chain"
	"github.com/emperorhan/wallet-sentinel/internal/config"
	"github.com/emperorhan/wallet-sentinel/internal/router"
	redisstore "github.com/emperorhan/wallet-sentinel/internal/store/redis"
)

func main() {
	outPath := flag.String("out", "", "write the JSON report to this file instead of stdout")
	every := flag.Duration("every", 0, "rerun the analysis at this interval until interrupted")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateAnalyzer(); err != nil {
		slog.Error("invalid analyzer config", "error", err)
		os.Exit(1)
	}

	addresses := resolveAddresses(flag.Args(), cfg.Analyzer.Addresses)
	if len(addresses) == 0 {
		slog.Error("no addresses to analyze; pass them as arguments or set ANALYZE_ADDRESSES")
		os.Exit(2)
	}

	// Logs go to stderr so stdout carries only the report.
	logger := bootstrap.NewLogger(os.Stderr, cfg.Log.Level)
	slog.SetDefault(logger)

	logger.Info("starting swap volume analyzer",
		"endpoints", len(cfg.Endpoints),
		"addresses", len(addresses),
		"program_id", cfg.Analyzer.ProgramID,
		"points_per_sol", cfg.Analyzer.PointsPerSOL.String(),
	)

	shutdownTracing, err := bootstrap.InitTracing(cfg, "wallet-sentinel-analyzer", logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	dispatcher := alert.NewDispatcher(bootstrap.BuildAlerter(cfg, logger), cfg.Alert.DispatchTimeout, logger)
	defer dispatcher.Wait()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, addresses, *outPath, *every, dispatcher, logger); err != nil {
		logger.Error("analysis failed", "error", err)
		dispatcher.Wait()
		os.Exit(1)
	}
	logger.Info("analysis complete")
}

func run(ctx context.Context, cfg *config.Config, addresses []string, outPath string, every time.Duration, dispatcher *alert.Dispatcher, logger *slog.Logger) error {
	r, adapters, err := bootstrap.BuildEndpoints(cfg, dispatcher, logger)
	if err != nil {
		return fmt.Errorf("build endpoints: %w", err)
	}
	clients := make([]chain.HistoryClient, len(adapters))
	for i, a := range adapters {
		clients[i] = a
	}

	var outcomeCache analyzer.Cache
	if cfg.Redis.URL != "" {
		rdb, err := redisstore.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		outcomeCache = redisstore.NewSignatureCache(rdb, cfg.Analyzer.ProgramID, cfg.Analyzer.CacheTTL)
		logger.Info("signature cache enabled", "backend", "redis", "ttl", cfg.Analyzer.CacheTTL)
	} else {
		outcomeCache = cache.NewOutcomeCache(cache.DefaultOutcomeCapacity, cfg.Analyzer.CacheTTL)
		logger.Info("signature cache enabled", "backend", "memory", "ttl", cfg.Analyzer.CacheTTL)
	}

	a, err := analyzer.New(r, clients, analyzer.Config{
		ProgramID:     cfg.Analyzer.ProgramID,
		PageSize:      cfg.Analyzer.PageSize,
		MaxSignatures: cfg.Analyzer.MaxSignatures,
		BatchSize:     cfg.Analyzer.BatchSize,
		Concurrency:   cfg.Analyzer.Concurrency,
		RetryBudget:   cfg.Router.RetryBudget,
		PointsPerSOL:  cfg.Analyzer.PointsPerSOL,
	}, logger, analyzer.WithCache(outcomeCache))
	if err != nil {
		return fmt.Errorf("create analyzer: %w", err)
	}

	if every <= 0 {
		return analyzeOnce(ctx, a, r, addresses, outPath, dispatcher, logger)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := analyzeOnce(ctx, a, r, addresses, outPath, dispatcher, logger); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("analysis round failed", "error", err)
			// quarantine is permanent for this process; later rounds cannot succeed
			if r.Healthy() == 0 {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func analyzeOnce(ctx context.Context, a *analyzer.Analyzer, r *router.Router, addresses []string, outPath string, dispatcher *alert.Dispatcher, logger *slog.Logger) error {
	report, err := a.Analyze(ctx, addresses)
	if err != nil {
		if errors.Is(err, router.ErrNoHealthyEndpoints) || r.Healthy() == 0 {
			dispatcher.Dispatch(ctx, alert.ExhaustedAlert(r.Len(), err.Error()))
		}
		return err
	}

	if err := writeReport(report, outPath); err != nil {
		return err
	}
	logger.Info("report written",
		"total_swaps", report.TotalSwaps,
		"total_volume_sol", report.TotalVolumeSOL,
		"total_allocation", report.TotalAllocation,
		"duration", report.Duration,
	)
	return nil
}

// writeReport writes to stdout, or replaces outPath atomically.
func writeReport(report analyzer.Report, outPath string) error {
	if outPath == "" {
		return report.WriteJSON(os.Stdout)
	}

	tmp := outPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := report.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report file: %w", err)
	}
	return os.Rename(tmp, outPath)
}

// resolveAddresses prefers command-line arguments over ANALYZE_ADDRESSES.
func resolveAddresses(args, configured []string) []string {
	if len(args) > 0 {
		return args
	}
	return configured
}
