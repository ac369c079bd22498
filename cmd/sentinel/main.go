package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/wallet-sentinel/internal/admin"
	"github.com/emperorhan/wallet-sentinel/internal/alert"
	"github.com/emperorhan/wallet-sentinel/internal/bootstrap"
	"github.com/emperorhan/wallet-sentinel/internal/chain"
	"github.com/emperorhan/wallet-sentinel/internal/config"
	"github.com/emperorhan/wallet-sentinel/internal/forwarder"
	"github.com/emperorhan/wallet-sentinel/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateSentinel(); err != nil {
		slog.Error("invalid sentinel config", "error", err)
		os.Exit(1)
	}

	logger := bootstrap.NewLogger(os.Stdout, cfg.Log.Level)
	slog.SetDefault(logger)

	logger.Info("starting wallet-sentinel",
		"endpoints", len(cfg.Endpoints),
		"watched_addresses", len(cfg.Watcher.WatchedAddresses),
		"subscription_mode", cfg.RPC.SubscriptionMode,
		"destination", cfg.Forwarder.Destination,
		"max_errors", cfg.Router.MaxErrors,
	)

	shutdownTracing, err := bootstrap.InitTracing(cfg, "wallet-sentinel", logger)
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

	r, adapters, err := bootstrap.BuildEndpoints(cfg, dispatcher, logger)
	if err != nil {
		logger.Error("failed to build endpoints", "error", err)
		os.Exit(1)
	}

	submitter := forwarder.NewSignerSubmitter(cfg.Forwarder.SignerURL, cfg.Forwarder.SignerToken, cfg.Forwarder.SignerTimeout, logger)
	fwd, err := forwarder.New(submitter, dispatcher, forwarder.Config{
		Destination:        cfg.Forwarder.Destination,
		FeeLamports:        cfg.Forwarder.FeeLamports,
		MinForwardLamports: cfg.Forwarder.MinForwardLamports,
		ExplorerURL:        cfg.Forwarder.ExplorerURL,
	}, logger)
	if err != nil {
		logger.Error("failed to create forwarder", "error", err)
		os.Exit(1)
	}

	clients := make([]chain.BalanceClient, len(adapters))
	for i, a := range adapters {
		clients[i] = a
	}
	monitor, err := watcher.New(r, clients, fwd, dispatcher, watcher.Config{
		ProbeTimeout:     cfg.RPC.HealthProbeTimeout,
		RequestTimeout:   cfg.RPC.RequestTimeout,
		ResubscribeDelay: cfg.Watcher.ResubscribeDelay,
	}, logger)
	if err != nil {
		logger.Error("failed to create monitor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if len(cfg.Watcher.WatchedAddresses) > 0 {
		if err := monitor.Start(ctx, cfg.Watcher.WatchedAddresses); err != nil {
			logger.Error("failed to start monitoring", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("no WATCHED_ADDRESSES configured; waiting for POST /v1/monitoring")
	}

	server := admin.NewServer(monitor, logger, admin.WithAdminToken(cfg.Server.AdminToken))
	defer server.Close()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gCtx, fmt.Sprintf(":%d", cfg.Server.HealthPort))
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	waitErr := g.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	monitor.Stop(stopCtx)

	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		logger.Error("sentinel exited with error", "error", waitErr)
		dispatcher.Wait()
		os.Exit(1)
	}
	logger.Info("sentinel shut down gracefully")
}
