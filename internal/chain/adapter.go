package chain

import (
	"context"
	"encoding/json"
	"time"
)

//go:generate mockgen -destination=mocks/mock_adapter.go -package=mocks . BalanceClient,Subscription,HistoryClient

// BalanceClient is the per-endpoint view of the chain used for monitoring
// and forwarding. Every implementation is bound to exactly one provider
// endpoint.
type BalanceClient interface {
	// Endpoint returns the provider endpoint name this client talks to.
	Endpoint() string

	// GetBalance returns the lamport balance of address.
	GetBalance(ctx context.Context, address string) (uint64, error)

	// GetHeadSequence returns the latest slot on chain.
	GetHeadSequence(ctx context.Context) (int64, error)

	// SubscribeBalance streams balance changes of address until
	// Unsubscribe is called or the stream fails.
	SubscribeBalance(ctx context.Context, address string) (Subscription, error)

	// LatestBlockhash returns a recent blockhash for building a transfer.
	LatestBlockhash(ctx context.Context) (string, error)

	// SendTransaction submits a signed, base64-encoded transaction.
	SendTransaction(ctx context.Context, signedTx string) (string, error)
}

// Subscription is a live balance change stream.
//
// Updates is closed when the stream ends. Errors carries failures observed
// while the stream runs; a failure that ends the stream is sent before
// Updates is closed.
type Subscription interface {
	Updates() <-chan BalanceUpdate
	Errors() <-chan error
	Unsubscribe() error
}

// BalanceUpdate is one observed balance of a watched address.
type BalanceUpdate struct {
	Address  string
	Lamports uint64
	Slot     int64
}

// HistoryClient reads transaction history for an address.
type HistoryClient interface {
	// FetchSignaturePage returns up to limit signatures older than before,
	// newest-first. An empty before starts at the newest signature.
	FetchSignaturePage(ctx context.Context, address, before string, limit int) ([]SignatureInfo, error)

	// FetchTransactions fetches raw transaction data for given signatures.
	FetchTransactions(ctx context.Context, signatures []string) ([]json.RawMessage, error)
}

// SignatureInfo represents a transaction reference from the chain.
type SignatureInfo struct {
	Hash     string     // transaction signature
	Sequence int64      // slot
	Time     *time.Time // block time if available
	Failed   bool       // transaction executed with an error
}
