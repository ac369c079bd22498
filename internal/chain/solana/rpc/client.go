package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/emperorhan/wallet-sentinel/internal/chain/ratelimit"
	"github.com/emperorhan/wallet-sentinel/internal/metrics"
	"github.com/emperorhan/wallet-sentinel/internal/tracing"
)

const defaultTimeout = 30 * time.Second

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks . RPCClient

// RPCClient abstracts the Solana JSON-RPC interface for testing.
type RPCClient interface {
	GetBalance(ctx context.Context, address, commitment string) (uint64, error)
	GetSlot(ctx context.Context, commitment string) (int64, error)
	GetLatestBlockhash(ctx context.Context, commitment string) (string, error)
	SendTransaction(ctx context.Context, signedTx string) (string, error)
	GetSignaturesForAddress(ctx context.Context, address string, opts *GetSignaturesOpts) ([]SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (json.RawMessage, error)
	GetTransactions(ctx context.Context, signatures []string) ([]json.RawMessage, error)
}

type Client struct {
	httpClient *http.Client
	rpcURL     string
	wsURL      string
	name       string
	limiter    *ratelimit.Limiter
	requestID  atomic.Int64
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithName sets the endpoint label used in logs, metrics and spans.
// The URL itself is never used as a label since it may carry an API key.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithLimiter throttles every outgoing request through l.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithWSURL sets the pubsub URL. By default it is derived from the RPC URL.
func WithWSURL(u string) Option {
	return func(c *Client) { c.wsURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(rpcURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		rpcURL: rpcURL,
		name:   "solana",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.wsURL == "" {
		c.wsURL = HTTPToWS(rpcURL)
	}
	c.logger = logger.With("component", "solana_rpc", "endpoint", c.name)
	return c
}

// Name returns the endpoint label.
func (c *Client) Name() string {
	return c.name
}

// URL returns the JSON-RPC URL the client posts to.
func (c *Client) URL() string {
	return c.rpcURL
}

func (c *Client) newRequest(method string, params []interface{}) Request {
	return Request{
		JSONRPC: "2.0",
		ID:      int(c.requestID.Add(1)),
		Method:  method,
		Params:  params,
	}
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (result json.RawMessage, err error) {
	ctx, span := tracing.StartRPCSpan(ctx, c.name, method)
	start := time.Now()
	defer func() {
		metrics.RPCLatency.WithLabelValues(c.name, method).Observe(time.Since(start).Seconds())
		ratelimit.RecordRPCCall(c.name, method, err)
		tracing.EndSpan(span, err)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	respBody, err := c.post(ctx, c.newRequest(method, params))
	if err != nil {
		return nil, err
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// callBatch sends requests as one JSON-RPC batch and returns the responses
// in request order. Per-request errors are left on the responses.
func (c *Client) callBatch(ctx context.Context, requests []Request) (responses []Response, err error) {
	method := "batch"
	if len(requests) > 0 {
		method = requests[0].Method + "_batch"
	}
	ctx, span := tracing.StartRPCSpan(ctx, c.name, method)
	start := time.Now()
	defer func() {
		metrics.RPCLatency.WithLabelValues(c.name, method).Observe(time.Since(start).Seconds())
		ratelimit.RecordRPCCall(c.name, method, err)
		tracing.EndSpan(span, err)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	respBody, err := c.post(ctx, requests)
	if err != nil {
		return nil, err
	}

	var raw []Response
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal batch response: %w", err)
	}

	byID := make(map[int]Response, len(raw))
	for _, r := range raw {
		byID[r.ID] = r
	}

	responses = make([]Response, len(requests))
	for i, req := range requests {
		r, ok := byID[req.ID]
		if !ok {
			return nil, fmt.Errorf("batch response missing id %d", req.ID)
		}
		responses[i] = r
	}
	return responses, nil
}

func (c *Client) post(ctx context.Context, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("rpc http error", "status", resp.StatusCode)
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, truncate(respBody, 256))
	}
	return respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
