// Package bootstrap wires configuration into the runtime components shared
// by the sentinel and analyzer binaries.
package bootstrap

import (
	"context"
	"io"
	"log/slog"

	"github.com/emperorhan/wallet-sentinel/internal/alert"
	"github.com/emperorhan/wallet-sentinel/internal/chain/ratelimit"
	"github.com/emperorhan/wallet-sentinel/internal/chain/solana"
	"github.com/emperorhan/wallet-sentinel/internal/chain/solana/rpc"
	"github.com/emperorhan/wallet-sentinel/internal/config"
	"github.com/emperorhan/wallet-sentinel/internal/router"
	"github.com/emperorhan/wallet-sentinel/internal/tracing"
)

// NewLogger returns a JSON logger writing to w at the named level
// (default info).
func NewLogger(w io.Writer, level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// InitTracing starts the OTLP exporter when tracing is enabled and returns
// its shutdown func.
func InitTracing(cfg *config.Config, service string, logger *slog.Logger) (func(context.Context) error, error) {
	endpoint := ""
	if cfg.Tracing.Enabled {
		endpoint = cfg.Tracing.Endpoint
		logger.Info("tracing enabled", "endpoint", endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}
	return tracing.Init(context.Background(), service, endpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
}

// BuildAlerter fans out to every configured channel. With none configured,
// alerts only reach the dispatcher log.
func BuildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var alerters []alert.Alerter
	if cfg.Alert.TelegramBotToken != "" {
		alerters = append(alerters, alert.NewTelegramAlerter(cfg.Alert.TelegramBotToken, cfg.Alert.TelegramChatID))
	}
	if cfg.Alert.SlackWebhookURL != "" {
		alerters = append(alerters, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(alerters) == 0 {
		logger.Warn("no alert channels configured")
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, alerters...)
}

// BuildEndpoints creates the router and one adapter per endpoint, index
// aligned with the router's endpoint ids.
func BuildEndpoints(cfg *config.Config, notifier router.Notifier, logger *slog.Logger) (*router.Router, []*solana.Adapter, error) {
	routerCfgs := make([]router.EndpointConfig, len(cfg.Endpoints))
	adapters := make([]*solana.Adapter, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		routerCfgs[i] = router.EndpointConfig{Name: ep.Name, URL: ep.URL, Credential: ep.WSURL}

		client := rpc.NewClient(ep.URL, logger,
			rpc.WithName(ep.Name),
			rpc.WithWSURL(ep.WSURL),
			rpc.WithTimeout(cfg.RPC.RequestTimeout),
			rpc.WithLimiter(ratelimit.NewLimiter(cfg.RPC.RPS, cfg.RPC.Burst, ep.Name)),
		)
		adapters[i] = solana.NewAdapter(client, solana.Options{
			Mode:         solana.Mode(cfg.RPC.SubscriptionMode),
			PollInterval: cfg.RPC.PollInterval,
			Commitment:   cfg.RPC.Commitment,
		}, logger)

		logger.Info("endpoint configured", "name", ep.Name, "url", router.RedactURL(ep.URL))
	}

	r, err := router.New(routerCfgs, router.Config{
		MaxErrors:   cfg.Router.MaxErrors,
		ErrorWindow: cfg.Router.ErrorWindow,
		WarningCap:  cfg.Router.WarningCap,
		Notifier:    notifier,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return r, adapters, nil
}
