package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emperorhan/wallet-sentinel/internal/analyzer"
	"github.com/emperorhan/wallet-sentinel/internal/metrics"
)

const (
	// SignatureKeyPrefix prefixes every cached signature outcome.
	SignatureKeyPrefix = "sentinel:analyzer:sig:"

	// DefaultSignatureTTL is how long an analyzed signature is remembered.
	DefaultSignatureTTL = 30 * 24 * time.Hour
)

// Connect opens a client for url and checks it with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// SignatureCache stores analyzer outcomes per address and signature. Keys
// are scoped by program id so changing the tracked program starts fresh.
type SignatureCache struct {
	rdb   *redis.Client
	scope string
	ttl   time.Duration
}

var _ analyzer.Cache = (*SignatureCache)(nil)

// NewSignatureCache creates a cache scoped to programID. A non-positive ttl
// uses DefaultSignatureTTL.
func NewSignatureCache(rdb *redis.Client, programID string, ttl time.Duration) *SignatureCache {
	if ttl <= 0 {
		ttl = DefaultSignatureTTL
	}
	return &SignatureCache{rdb: rdb, scope: programID, ttl: ttl}
}

func (c *SignatureCache) key(address, signature string) string {
	return SignatureKeyPrefix + c.scope + ":" + address + ":" + signature
}

// Lookup returns the cached outcomes among signatures. Missing keys are
// simply absent from the result.
func (c *SignatureCache) Lookup(ctx context.Context, address string, signatures []string) (map[string]analyzer.Outcome, error) {
	if len(signatures) == 0 {
		return map[string]analyzer.Outcome{}, nil
	}

	keys := make([]string, len(signatures))
	for i, sig := range signatures {
		keys[i] = c.key(address, sig)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make(map[string]analyzer.Outcome, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var o analyzer.Outcome
		if err := json.Unmarshal([]byte(s), &o); err != nil {
			return nil, fmt.Errorf("decode cached outcome %s: %w", signatures[i], err)
		}
		out[signatures[i]] = o
	}
	metrics.AnalyzerCacheLookups.WithLabelValues("redis", "hit").Add(float64(len(out)))
	metrics.AnalyzerCacheLookups.WithLabelValues("redis", "miss").Add(float64(len(signatures) - len(out)))
	return out, nil
}

// Store records outcomes with SETNX; an outcome already cached is kept.
func (c *SignatureCache) Store(ctx context.Context, address string, outcomes map[string]analyzer.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	pipe := c.rdb.Pipeline()
	for sig, o := range outcomes {
		b, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode outcome %s: %w", sig, err)
		}
		pipe.SetNX(ctx, c.key(address, sig), b, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline setnx: %w", err)
	}
	return nil
}
