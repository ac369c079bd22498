package watcher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/emperorhan/wallet-sentinel/internal/chain"
)

// target is one watched wallet and the endpoint it is bound to.
type target struct {
	address    string
	endpointID int
	client     chain.BalanceClient
	cancel     context.CancelFunc

	mu          sync.Mutex
	active      bool
	stopReason  string
	lastBalance uint64
	hasBalance  bool
	sub         chain.Subscription
}

func (t *target) setBalance(lamports uint64) {
	t.mu.Lock()
	t.lastBalance = lamports
	t.hasBalance = true
	t.mu.Unlock()
}

// swapBalance stores lamports and returns the previous value. known is
// false if no balance had been observed yet.
func (t *target) swapBalance(lamports uint64) (prev uint64, known bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, known = t.lastBalance, t.hasBalance
	t.lastBalance = lamports
	t.hasBalance = true
	return prev, known
}

func (t *target) setSubscription(sub chain.Subscription) {
	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()
}

// closeSubscription unsubscribes the current stream, if any.
func (t *target) closeSubscription(log *slog.Logger) {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Debug("unsubscribe failed", "error", err)
	}
}

type targetSnapshot struct {
	address     string
	endpointID  int
	client      chain.BalanceClient
	active      bool
	subscribed  bool
	stopReason  string
	lastBalance uint64
	hasBalance  bool
}

func (t *target) snapshot() targetSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return targetSnapshot{
		address:     t.address,
		endpointID:  t.endpointID,
		client:      t.client,
		active:      t.active,
		subscribed:  t.sub != nil,
		stopReason:  t.stopReason,
		lastBalance: t.lastBalance,
		hasBalance:  t.hasBalance,
	}
}
