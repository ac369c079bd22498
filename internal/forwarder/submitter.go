package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emperorhan/wallet-sentinel/internal/chain"
	solanarpc "github.com/emperorhan/wallet-sentinel/internal/chain/solana/rpc"
	"github.com/emperorhan/wallet-sentinel/internal/circuitbreaker"
	"github.com/emperorhan/wallet-sentinel/internal/metrics"
	"github.com/emperorhan/wallet-sentinel/internal/retry"
)

// ErrSigner marks failures of the external signer, as opposed to failures
// of the RPC endpoint the wallet is bound to.
var ErrSigner = errors.New("signer")

// TransferRequest is one lamport transfer from a watched wallet.
type TransferRequest struct {
	ID       string // idempotency key
	From     string
	To       string
	Lamports uint64
	// Client is the endpoint the source wallet is bound to. The transfer is
	// built against and submitted through it.
	Client chain.BalanceClient
}

// Submitter builds, signs and submits a transfer and returns its signature.
type Submitter interface {
	SubmitTransfer(ctx context.Context, req TransferRequest) (string, error)
}

type signRequest struct {
	ID              string `json:"id"`
	From            string `json:"from"`
	To              string `json:"to"`
	Lamports        uint64 `json:"lamports"`
	RecentBlockhash string `json:"recent_blockhash"`
}

type signResponse struct {
	Transaction string `json:"transaction"`
}

// SignerSubmitter delegates signing to an external signer service over
// HTTP. Keys never enter this process.
type SignerSubmitter struct {
	url     string
	token   string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewSignerSubmitter creates a submitter for the signer at baseURL.
// token, if set, is sent as a bearer token.
func NewSignerSubmitter(baseURL, token string, timeout time.Duration, logger *slog.Logger) *SignerSubmitter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &SignerSubmitter{
		url:    strings.TrimRight(baseURL, "/") + "/v1/sign-transfer",
		token:  token,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "signer"),
	}
	s.breaker = circuitbreaker.New(circuitbreaker.Config{
		Name:             "signer",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
		OnStateChange: func(from, to circuitbreaker.State) {
			metrics.SignerBreakerState.Set(float64(to))
			s.logger.Warn("circuit breaker state change",
				"breaker", s.breaker.Name(),
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return s
}

// SubmitTransfer fetches a recent blockhash from the wallet's endpoint, asks
// the signer for a signed transaction and submits it through the same
// endpoint.
func (s *SignerSubmitter) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.Client == nil {
		return "", fmt.Errorf("submit transfer %s: no endpoint client", req.ID)
	}

	blockhash, err := req.Client.LatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("latest blockhash: %w", err)
	}

	var signed string
	err = s.breaker.Execute(ctx, countsAgainstSigner, func(ctx context.Context) error {
		var signErr error
		signed, signErr = s.sign(ctx, signRequest{
			ID:              req.ID,
			From:            req.From,
			To:              req.To,
			Lamports:        req.Lamports,
			RecentBlockhash: blockhash,
		})
		return signErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSigner, err)
	}

	sig, err := req.Client.SendTransaction(ctx, signed)
	if err != nil {
		var rpcErr *solanarpc.RPCError
		if errors.As(err, &rpcErr) && rpcErr.TransactionRejected() {
			// the node is healthy; it refused this transaction
			return "", retry.Terminal(fmt.Errorf("send transaction rejected: %w", err))
		}
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// errSignerRejected is a 4xx answer: the request was bad, the signer is fine.
var errSignerRejected = errors.New("signer rejected request")

func countsAgainstSigner(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, errSignerRejected)
}

func (s *SignerSubmitter) sign(ctx context.Context, sr signRequest) (string, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return "", fmt.Errorf("marshal sign request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create sign request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", sr.ID)
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read sign response: %w", err)
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", fmt.Errorf("%w: status %d: %s", errSignerRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("signer returned status %d", resp.StatusCode)
	}

	var out signResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal sign response: %w", err)
	}
	if out.Transaction == "" {
		return "", fmt.Errorf("signer returned empty transaction")
	}

	s.logger.Debug("transfer signed", "id", sr.ID, "from", sr.From, "lamports", sr.Lamports)
	return out.Transaction, nil
}
