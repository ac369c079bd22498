package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/emperorhan/wallet-sentinel/internal/chain"
	chainmocks "github.com/emperorhan/wallet-sentinel/internal/chain/mocks"
	"github.com/emperorhan/wallet-sentinel/internal/retry"
	"github.com/emperorhan/wallet-sentinel/internal/router"
)

const (
	programID = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	wallet    = "7YttLkHDoNj9wyDur5pM1ejNaAvT9X4eqaYcHQqtj2G5"
	other     = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type txSpec struct {
	topLevel  []string
	inner     []string
	keys      []string
	pre, post []int64
	failed    bool
}

func buildTx(t *testing.T, s txSpec) json.RawMessage {
	t.Helper()
	keys := make([]map[string]any, len(s.keys))
	for i, k := range s.keys {
		keys[i] = map[string]any{"pubkey": k, "signer": i == 0, "writable": true}
	}
	ixs := make([]map[string]any, len(s.topLevel))
	for i, p := range s.topLevel {
		ixs[i] = map[string]any{"programId": p}
	}
	innerIxs := make([]map[string]any, len(s.inner))
	for i, p := range s.inner {
		innerIxs[i] = map[string]any{"programId": p}
	}
	var txErr any
	if s.failed {
		txErr = map[string]any{"InstructionError": []any{0, "Custom"}}
	}
	raw, err := json.Marshal(map[string]any{
		"slot": 100,
		"transaction": map[string]any{
			"signatures": []string{"sig"},
			"message":    map[string]any{"accountKeys": keys, "instructions": ixs},
		},
		"meta": map[string]any{
			"err":               txErr,
			"fee":               5000,
			"preBalances":       s.pre,
			"postBalances":      s.post,
			"innerInstructions": []any{map[string]any{"index": 0, "instructions": innerIxs}},
		},
	})
	require.NoError(t, err)
	return raw
}

func TestInspectTransaction(t *testing.T) {
	tests := []struct {
		name string
		raw  func(t *testing.T) json.RawMessage
		want Outcome
	}{
		{
			name: "top-level instruction, outflow",
			raw: func(t *testing.T) json.RawMessage {
				return buildTx(t, txSpec{
					topLevel: []string{programID},
					keys:     []string{wallet, other},
					pre:      []int64{3_000_000_000, 0},
					post:     []int64{1_499_995_000, 1_500_000_000},
				})
			},
			want: Outcome{Swap: true, Lamports: 1_500_005_000},
		},
		{
			name: "inner instruction, inflow at second index",
			raw: func(t *testing.T) json.RawMessage {
				return buildTx(t, txSpec{
					topLevel: []string{"ComputeBudget111111111111111111111111111111"},
					inner:    []string{programID},
					keys:     []string{other, wallet},
					pre:      []int64{10, 1_000},
					post:     []int64{5, 501_000},
				})
			},
			want: Outcome{Swap: true, Lamports: 500_000},
		},
		{
			name: "different program",
			raw: func(t *testing.T) json.RawMessage {
				return buildTx(t, txSpec{
					topLevel: []string{"11111111111111111111111111111111"},
					keys:     []string{wallet},
					pre:      []int64{10},
					post:     []int64{5},
				})
			},
			want: Outcome{},
		},
		{
			name: "failed transaction",
			raw: func(t *testing.T) json.RawMessage {
				return buildTx(t, txSpec{
					topLevel: []string{programID},
					keys:     []string{wallet},
					pre:      []int64{10},
					post:     []int64{5},
					failed:   true,
				})
			},
			want: Outcome{Failed: true},
		},
		{
			name: "address not in account keys",
			raw: func(t *testing.T) json.RawMessage {
				return buildTx(t, txSpec{
					topLevel: []string{programID},
					keys:     []string{other},
					pre:      []int64{10},
					post:     []int64{5},
				})
			},
			want: Outcome{Swap: true},
		},
		{
			name: "null result",
			raw:  func(*testing.T) json.RawMessage { return json.RawMessage("null") },
			want: Outcome{Missing: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := inspectTransaction(tt.raw(t), wallet, programID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInspectTransaction_Malformed(t *testing.T) {
	_, err := inspectTransaction(json.RawMessage(`{"meta": 12}`), wallet, programID)
	assert.Error(t, err)
}

func newRouter(t *testing.T, n int) *router.Router {
	t.Helper()
	cfgs := make([]router.EndpointConfig, n)
	for i := range cfgs {
		cfgs[i] = router.EndpointConfig{URL: "https://rpc.example.com"}
	}
	r, err := router.New(cfgs, router.Config{}, testLogger())
	require.NoError(t, err)
	return r
}

func swapTx(t *testing.T, delta int64) json.RawMessage {
	return buildTx(t, txSpec{
		topLevel: []string{programID},
		keys:     []string{wallet},
		pre:      []int64{10_000_000_000},
		post:     []int64{10_000_000_000 - delta},
	})
}

func TestAnalyzeAddress_PagesAndSkipsFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockHistoryClient(ctrl)

	gomock.InOrder(
		client.EXPECT().FetchSignaturePage(gomock.Any(), wallet, "", 2).Return([]chain.SignatureInfo{
			{Hash: "s1"}, {Hash: "s2", Failed: true},
		}, nil),
		client.EXPECT().FetchTransactions(gomock.Any(), []string{"s1"}).
			Return([]json.RawMessage{swapTx(t, 1_000_000_000)}, nil),
		client.EXPECT().FetchSignaturePage(gomock.Any(), wallet, "s2", 2).Return([]chain.SignatureInfo{
			{Hash: "s3"},
		}, nil),
		client.EXPECT().FetchTransactions(gomock.Any(), []string{"s3"}).
			Return([]json.RawMessage{swapTx(t, -500_000_000)}, nil),
	)

	a, err := New(newRouter(t, 1), []chain.HistoryClient{client}, Config{
		ProgramID:    programID,
		PageSize:     2,
		PointsPerSOL: decimal.NewFromInt(1000),
	}, testLogger())
	require.NoError(t, err)

	rep, err := a.AnalyzeAddress(context.Background(), wallet)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Signatures)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 2, rep.Swaps)
	assert.Equal(t, uint64(1_500_000_000), rep.VolumeLamports)
	assert.Equal(t, "1.5", rep.VolumeSOL)
	assert.Equal(t, "1500.00", rep.Allocation)
}

func TestAnalyzeAddress_MaxSignatures(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockHistoryClient(ctrl)

	client.EXPECT().FetchSignaturePage(gomock.Any(), wallet, "", 3).Return([]chain.SignatureInfo{
		{Hash: "s1", Failed: true}, {Hash: "s2", Failed: true}, {Hash: "s3", Failed: true},
	}, nil)

	a, err := New(newRouter(t, 1), []chain.HistoryClient{client}, Config{
		ProgramID:     programID,
		PageSize:      10,
		MaxSignatures: 3,
	}, testLogger())
	require.NoError(t, err)

	rep, err := a.AnalyzeAddress(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Signatures)
	assert.Equal(t, 3, rep.Failed)
}

func TestAnalyzeAddress_RetriesOnNextEndpoint(t *testing.T) {
	ctrl := gomock.NewController(t)
	flaky := chainmocks.NewMockHistoryClient(ctrl)
	healthy := chainmocks.NewMockHistoryClient(ctrl)

	flaky.EXPECT().FetchSignaturePage(gomock.Any(), wallet, "", 1000).
		Return(nil, retry.Transient(errors.New("http status 503")))
	healthy.EXPECT().FetchSignaturePage(gomock.Any(), wallet, "", 1000).
		Return([]chain.SignatureInfo{}, nil)

	r := newRouter(t, 2)
	a, err := New(r, []chain.HistoryClient{flaky, healthy}, Config{ProgramID: programID}, testLogger())
	require.NoError(t, err)

	rep, err := a.AnalyzeAddress(context.Background(), wallet)
	require.NoError(t, err)
	assert.Zero(t, rep.Signatures)

	ep, _ := r.Endpoint(0)
	assert.Equal(t, 1, ep.ErrorCount)
}

func TestAnalyzeAddress_TerminalErrorNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockHistoryClient(ctrl)
	client.EXPECT().FetchSignaturePage(gomock.Any(), wallet, "", 1000).
		Return(nil, errors.New("invalid params: bad address"))

	r := newRouter(t, 2)
	spare := chainmocks.NewMockHistoryClient(ctrl)
	a, err := New(r, []chain.HistoryClient{client, spare}, Config{ProgramID: programID}, testLogger())
	require.NoError(t, err)

	_, err = a.AnalyzeAddress(context.Background(), wallet)
	require.Error(t, err)
	ep, _ := r.Endpoint(0)
	assert.Zero(t, ep.ErrorCount)
}

func TestAnalyzeAddress_ResultCountMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockHistoryClient(ctrl)
	client.EXPECT().FetchSignaturePage(gomock.Any(), wallet, "", 1000).
		Return([]chain.SignatureInfo{{Hash: "s1"}, {Hash: "s2"}}, nil)
	client.EXPECT().FetchTransactions(gomock.Any(), []string{"s1", "s2"}).
		Return([]json.RawMessage{swapTx(t, 1)}, nil)

	a, err := New(newRouter(t, 1), []chain.HistoryClient{client}, Config{ProgramID: programID}, testLogger())
	require.NoError(t, err)

	_, err = a.AnalyzeAddress(context.Background(), wallet)
	assert.ErrorContains(t, err, "got 1 results for 2 signatures")
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]Outcome
}

func (c *memoryCache) Lookup(_ context.Context, address string, sigs []string) (map[string]Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Outcome)
	for _, s := range sigs {
		if o, ok := c.entries[address+":"+s]; ok {
			out[s] = o
		}
	}
	return out, nil
}

func (c *memoryCache) Store(_ context.Context, address string, outcomes map[string]Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s, o := range outcomes {
		c.entries[address+":"+s] = o
	}
	return nil
}

func TestAnalyzeAddress_CacheSkipsAnalyzedSignatures(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockHistoryClient(ctrl)

	page := []chain.SignatureInfo{{Hash: "s1"}, {Hash: "s2"}}
	client.EXPECT().FetchSignaturePage(gomock.Any(), wallet, "", 1000).Return(page, nil).Times(2)
	client.EXPECT().FetchTransactions(gomock.Any(), []string{"s1", "s2"}).
		Return([]json.RawMessage{swapTx(t, 200_000_000), json.RawMessage("null")}, nil).Times(1)

	cache := &memoryCache{entries: make(map[string]Outcome)}
	a, err := New(newRouter(t, 1), []chain.HistoryClient{client}, Config{ProgramID: programID}, testLogger(), WithCache(cache))
	require.NoError(t, err)

	first, err := a.AnalyzeAddress(context.Background(), wallet)
	require.NoError(t, err)
	second, err := a.AnalyzeAddress(context.Background(), wallet)
	require.NoError(t, err)

	assert.Zero(t, first.Cached)
	assert.Equal(t, 2, second.Cached)
	assert.Equal(t, first.VolumeLamports, second.VolumeLamports)
	assert.Equal(t, 1, second.Missing)
	assert.Equal(t, 1, second.Swaps)
}

func TestAnalyze_AggregatesAndWritesJSON(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockHistoryClient(ctrl)

	client.EXPECT().FetchSignaturePage(gomock.Any(), wallet, "", 1000).
		Return([]chain.SignatureInfo{{Hash: "a1"}}, nil)
	client.EXPECT().FetchTransactions(gomock.Any(), []string{"a1"}).
		Return([]json.RawMessage{swapTx(t, 2_000_000_000)}, nil)
	client.EXPECT().FetchSignaturePage(gomock.Any(), other, "", 1000).
		Return(nil, nil)

	a, err := New(newRouter(t, 1), []chain.HistoryClient{client}, Config{
		ProgramID:    programID,
		PointsPerSOL: decimal.RequireFromString("2.5"),
	}, testLogger())
	require.NoError(t, err)

	rep, err := a.Analyze(context.Background(), []string{wallet, other})
	require.NoError(t, err)

	require.Len(t, rep.Addresses, 2)
	assert.Equal(t, wallet, rep.Addresses[0].Address)
	assert.Equal(t, other, rep.Addresses[1].Address)
	assert.Equal(t, 1, rep.TotalSwaps)
	assert.Equal(t, "2", rep.TotalVolumeSOL)
	assert.Equal(t, "5.00", rep.TotalAllocation)

	var buf bytes.Buffer
	require.NoError(t, rep.WriteJSON(&buf))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, programID, decoded["program_id"])
	assert.Equal(t, "5.00", decoded["total_allocation_estimate"])
}

func TestNew_Validation(t *testing.T) {
	r := newRouter(t, 1)
	_, err := New(r, []chain.HistoryClient{nil}, Config{}, testLogger())
	assert.Error(t, err)
	_, err = New(r, nil, Config{ProgramID: programID}, testLogger())
	assert.Error(t, err)
}
