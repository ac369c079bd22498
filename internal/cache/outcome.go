// Package cache holds analyzer outcomes in process memory. It backs the
// analyzer when no Redis is configured, so repeated runs in one process
// only fetch new history.
package cache

import (
	"context"
	"time"

	"github.com/emperorhan/wallet-sentinel/internal/analyzer"
	"github.com/emperorhan/wallet-sentinel/internal/metrics"
)

// DefaultOutcomeCapacity bounds the number of remembered signatures.
const DefaultOutcomeCapacity = 500_000

type outcomeKey struct {
	address   string
	signature string
}

// OutcomeCache is an in-memory analyzer.Cache.
type OutcomeCache struct {
	lru *LRU[outcomeKey, analyzer.Outcome]
}

var _ analyzer.Cache = (*OutcomeCache)(nil)

// NewOutcomeCache creates a cache of at most capacity signatures.
func NewOutcomeCache(capacity int, ttl time.Duration) *OutcomeCache {
	if capacity <= 0 {
		capacity = DefaultOutcomeCapacity
	}
	return &OutcomeCache{lru: NewLRU[outcomeKey, analyzer.Outcome](capacity, ttl)}
}

func (c *OutcomeCache) Lookup(_ context.Context, address string, signatures []string) (map[string]analyzer.Outcome, error) {
	out := make(map[string]analyzer.Outcome)
	for _, sig := range signatures {
		if o, ok := c.lru.Get(outcomeKey{address, sig}); ok {
			out[sig] = o
		}
	}
	metrics.AnalyzerCacheLookups.WithLabelValues("memory", "hit").Add(float64(len(out)))
	metrics.AnalyzerCacheLookups.WithLabelValues("memory", "miss").Add(float64(len(signatures) - len(out)))
	return out, nil
}

func (c *OutcomeCache) Store(_ context.Context, address string, outcomes map[string]analyzer.Outcome) error {
	for sig, o := range outcomes {
		c.lru.Add(outcomeKey{address, sig}, o)
	}
	return nil
}

// Len returns the number of cached signatures.
func (c *OutcomeCache) Len() int {
	return c.lru.Len()
}
