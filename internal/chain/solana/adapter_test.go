package solana

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/emperorhan/wallet-sentinel/internal/chain/solana/rpc"
	rpcmocks "github.com/emperorhan/wallet-sentinel/internal/chain/solana/rpc/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestAdapter(ctrl *gomock.Controller) (*Adapter, *rpcmocks.MockRPCClient) {
	mockClient := rpcmocks.NewMockRPCClient(ctrl)
	adapter := &Adapter{
		name:             "rpc-1",
		client:           mockClient,
		mode:             ModePoll,
		pollInterval:     10 * time.Millisecond,
		commitment:       "confirmed",
		maxPageSize:      maxPageSize,
		maxConcurrentTxs: maxConcurrentTxs,
		logger:           slog.Default(),
	}
	return adapter, mockClient
}

func TestAdapter_RPCClientContractParity(t *testing.T) {
	t.Parallel()

	var _ rpc.RPCClient = (*rpc.Client)(nil)
	var _ rpc.RPCClient = (*rpcmocks.MockRPCClient)(nil)
	var _ accountSubscriber = (*rpc.Client)(nil)
}

func TestNewAdapter_Defaults(t *testing.T) {
	client := rpc.NewClient("http://rpc.local", nil, rpc.WithName("rpc-7"))
	adapter := NewAdapter(client, Options{}, slog.Default())

	assert.Equal(t, "rpc-7", adapter.Endpoint())
	assert.Equal(t, ModeWebsocket, adapter.mode)
	assert.Equal(t, defaultPollInterval, adapter.pollInterval)
	assert.Equal(t, "confirmed", adapter.commitment)
}

func TestAdapter_GetBalance(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	mockClient.EXPECT().
		GetBalance(gomock.Any(), "wallet", "confirmed").
		Return(uint64(42), nil)

	bal, err := adapter.GetBalance(context.Background(), "wallet")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), bal)
}

func TestAdapter_GetHeadSequence_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	mockClient.EXPECT().
		GetSlot(gomock.Any(), "confirmed").
		Return(int64(0), errors.New("rpc error"))

	_, err := adapter.GetHeadSequence(context.Background())
	require.Error(t, err)
}

func TestAdapter_LatestBlockhashAndSend(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	mockClient.EXPECT().GetLatestBlockhash(gomock.Any(), "confirmed").Return("hash1", nil)
	mockClient.EXPECT().SendTransaction(gomock.Any(), "AQID").Return("sig1", nil)

	bh, err := adapter.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hash1", bh)

	sig, err := adapter.SendTransaction(context.Background(), "AQID")
	require.NoError(t, err)
	assert.Equal(t, "sig1", sig)
}

func TestAdapter_SubscribeBalance_PollEmitsChangesOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	gomock.InOrder(
		mockClient.EXPECT().GetBalance(gomock.Any(), "wallet", "confirmed").Return(uint64(100), nil),
		mockClient.EXPECT().GetBalance(gomock.Any(), "wallet", "confirmed").Return(uint64(100), nil),
		mockClient.EXPECT().GetBalance(gomock.Any(), "wallet", "confirmed").Return(uint64(0), errors.New("http status 503: down")),
		mockClient.EXPECT().GetBalance(gomock.Any(), "wallet", "confirmed").Return(uint64(250), nil),
		mockClient.EXPECT().GetBalance(gomock.Any(), "wallet", "confirmed").Return(uint64(250), nil).AnyTimes(),
	)

	sub, err := adapter.SubscribeBalance(context.Background(), "wallet")
	require.NoError(t, err)

	timeout := time.After(5 * time.Second)
	var got []uint64
	var errs int
	for len(got) < 2 {
		select {
		case u := <-sub.Updates():
			assert.Equal(t, "wallet", u.Address)
			got = append(got, u.Lamports)
		case err := <-sub.Errors():
			require.Error(t, err)
			assert.Contains(t, err.Error(), "503")
			errs++
		case <-timeout:
			t.Fatal("timed out waiting for poll updates")
		}
	}

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, []uint64{100, 250}, got)
	assert.Equal(t, 1, errs)

	_, open := <-sub.Updates()
	assert.False(t, open)
}

func TestAdapter_SubscribeBalance_UnknownMode(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, _ := newTestAdapter(ctrl)
	adapter.mode = "carrier-pigeon"

	_, err := adapter.SubscribeBalance(context.Background(), "wallet")
	require.Error(t, err)
}

func TestAdapter_SubscribeBalance_WebsocketWithoutSubscriber(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, _ := newTestAdapter(ctrl)
	adapter.mode = ModeWebsocket

	_, err := adapter.SubscribeBalance(context.Background(), "wallet")
	require.Error(t, err)
}

func TestAdapter_FetchSignaturePage(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	bt := int64(1700000000)
	mockClient.EXPECT().
		GetSignaturesForAddress(gomock.Any(), "addr1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, opts *rpc.GetSignaturesOpts) ([]rpc.SignatureInfo, error) {
			assert.Equal(t, 100, opts.Limit)
			assert.Equal(t, "sigX", opts.Before)
			return []rpc.SignatureInfo{
				{Signature: "sig3", Slot: 300, BlockTime: &bt},
				{Signature: "sig2", Slot: 200, Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
			}, nil
		})

	sigs, err := adapter.FetchSignaturePage(context.Background(), "addr1", "sigX", 100)
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	assert.Equal(t, "sig3", sigs[0].Hash)
	assert.Equal(t, int64(300), sigs[0].Sequence)
	require.NotNil(t, sigs[0].Time)
	assert.Equal(t, bt, sigs[0].Time.Unix())
	assert.False(t, sigs[0].Failed)
	assert.True(t, sigs[1].Failed)
}

func TestAdapter_FetchSignaturePage_ClampsLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	mockClient.EXPECT().
		GetSignaturesForAddress(gomock.Any(), "addr1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, opts *rpc.GetSignaturesOpts) ([]rpc.SignatureInfo, error) {
			assert.Equal(t, maxPageSize, opts.Limit)
			assert.Empty(t, opts.Before)
			return nil, nil
		})

	sigs, err := adapter.FetchSignaturePage(context.Background(), "addr1", "", 5000)
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestAdapter_FetchSignaturePage_RPCError(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	mockClient.EXPECT().
		GetSignaturesForAddress(gomock.Any(), "addr1", gomock.Any()).
		Return(nil, errors.New("connection refused"))

	_, err := adapter.FetchSignaturePage(context.Background(), "addr1", "", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAdapter_FetchTransactions_BatchPreferred(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	mockClient.EXPECT().
		GetTransactions(gomock.Any(), []string{"sig1", "sig2"}).
		Return([]json.RawMessage{json.RawMessage(`{"slot":100}`), json.RawMessage(`{"slot":200}`)}, nil)

	results, err := adapter.FetchTransactions(context.Background(), []string{"sig1", "sig2"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.JSONEq(t, `{"slot":200}`, string(results[1]))
}

func TestAdapter_FetchTransactions_FallbackPreservesOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	mockClient.EXPECT().
		GetTransactions(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("batch not supported"))
	mockClient.EXPECT().GetTransaction(gomock.Any(), "sig1").Return(json.RawMessage(`{"slot":100}`), nil)
	mockClient.EXPECT().GetTransaction(gomock.Any(), "sig2").Return(json.RawMessage(`{"slot":200}`), nil)
	mockClient.EXPECT().GetTransaction(gomock.Any(), "sig3").Return(json.RawMessage(`{"slot":300}`), nil)

	results, err := adapter.FetchTransactions(context.Background(), []string{"sig1", "sig2", "sig3"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.JSONEq(t, `{"slot":100}`, string(results[0]))
	assert.JSONEq(t, `{"slot":200}`, string(results[1]))
	assert.JSONEq(t, `{"slot":300}`, string(results[2]))
}

func TestAdapter_FetchTransactions_FallbackError(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	mockClient.EXPECT().
		GetTransactions(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("batch not supported"))
	mockClient.EXPECT().
		GetTransaction(gomock.Any(), "sig1").
		Return(nil, errors.New("tx not found"))
	mockClient.EXPECT().
		GetTransaction(gomock.Any(), "sig2").
		Return(json.RawMessage(`{}`), nil).AnyTimes()

	_, err := adapter.FetchTransactions(context.Background(), []string{"sig1", "sig2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tx not found")
}

func TestAdapter_FetchTransactions_EmptySignatures(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, _ := newTestAdapter(ctrl)

	results, err := adapter.FetchTransactions(context.Background(), []string{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
