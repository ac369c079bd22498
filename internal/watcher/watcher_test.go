package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emperorhan/wallet-sentinel/internal/alert"
	"github.com/emperorhan/wallet-sentinel/internal/chain"
	chainmocks "github.com/emperorhan/wallet-sentinel/internal/chain/mocks"
	solanarpc "github.com/emperorhan/wallet-sentinel/internal/chain/solana/rpc"
	"github.com/emperorhan/wallet-sentinel/internal/forwarder"
	"github.com/emperorhan/wallet-sentinel/internal/retry"
	"github.com/emperorhan/wallet-sentinel/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	walletA     = "7YttLkHDoNj9wyDur5pM1ejNaAvT9X4eqaYcHQqtj2G5"
	walletB     = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	destination = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (c *captureSink) Dispatch(_ context.Context, a alert.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

func (c *captureSink) ofType(t alert.AlertType) []alert.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []alert.Alert
	for _, a := range c.alerts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

type forwardCall struct {
	from    string
	balance uint64
}

type fakeForwarder struct {
	mu    sync.Mutex
	calls []forwardCall
	err   error
}

func (f *fakeForwarder) Destination() string { return destination }

func (f *fakeForwarder) Forward(_ context.Context, _ chain.BalanceClient, from string, balance uint64) (forwarder.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, forwardCall{from: from, balance: balance})
	if f.err != nil {
		return forwarder.Result{}, f.err
	}
	return forwarder.Result{Signature: "sig", Lamports: balance - 5000}, nil
}

func (f *fakeForwarder) snapshot() []forwardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forwardCall(nil), f.calls...)
}

type fakeSub struct {
	updates      chan chain.BalanceUpdate
	errs         chan error
	unsubscribed atomic.Int32
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		updates: make(chan chain.BalanceUpdate, 8),
		errs:    make(chan error, 8),
	}
}

func (s *fakeSub) Updates() <-chan chain.BalanceUpdate { return s.updates }
func (s *fakeSub) Errors() <-chan error                { return s.errs }
func (s *fakeSub) Unsubscribe() error {
	s.unsubscribed.Add(1)
	return nil
}

type fixture struct {
	router  *router.Router
	clients []*chainmocks.MockBalanceClient
	subs    []*fakeSub
	fwd     *fakeForwarder
	sink    *captureSink
	monitor *Monitor
}

// newFixture builds a monitor over n mocked endpoints. Each client reports
// initial[i] lamports and hands out one fake subscription.
func newFixture(t *testing.T, maxErrors int, initial ...uint64) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	cfgs := make([]router.EndpointConfig, len(initial))
	for i := range initial {
		cfgs[i] = router.EndpointConfig{
			Name: fmt.Sprintf("rpc-%d", i+1),
			URL:  fmt.Sprintf("https://rpc%d.example.com/secret-key", i+1),
		}
	}
	r, err := router.New(cfgs, router.Config{MaxErrors: maxErrors}, testLogger())
	require.NoError(t, err)

	f := &fixture{
		router: r,
		fwd:    &fakeForwarder{},
		sink:   &captureSink{},
	}
	clients := make([]chain.BalanceClient, len(initial))
	for i, bal := range initial {
		c := chainmocks.NewMockBalanceClient(ctrl)
		sub := newFakeSub()
		c.EXPECT().Endpoint().Return(cfgs[i].Name).AnyTimes()
		c.EXPECT().GetBalance(gomock.Any(), gomock.Any()).Return(bal, nil).AnyTimes()
		c.EXPECT().GetHeadSequence(gomock.Any()).Return(int64(250_000_000+i), nil).AnyTimes()
		c.EXPECT().SubscribeBalance(gomock.Any(), gomock.Any()).Return(sub, nil).AnyTimes()
		f.clients = append(f.clients, c)
		f.subs = append(f.subs, sub)
		clients[i] = c
	}

	m, err := New(r, clients, f.fwd, f.sink, Config{ResubscribeDelay: time.Hour}, testLogger())
	require.NoError(t, err)
	f.monitor = m
	t.Cleanup(func() { m.Stop(context.Background()) })
	return f
}

func TestNew_ClientCountMismatch(t *testing.T) {
	r, err := router.New([]router.EndpointConfig{{URL: "https://a"}, {URL: "https://b"}}, router.Config{}, testLogger())
	require.NoError(t, err)

	_, err = New(r, []chain.BalanceClient{nil}, &fakeForwarder{}, &captureSink{}, Config{}, testLogger())
	assert.Error(t, err)
}

func TestStart_TooManyTargets(t *testing.T) {
	f := newFixture(t, 5, 0)

	err := f.monitor.Start(context.Background(), []string{walletA, walletB})
	assert.ErrorIs(t, err, ErrTooManyTargets)
	assert.False(t, f.monitor.Running())
}

func TestStart_RejectsDuplicatesAndEmpty(t *testing.T) {
	f := newFixture(t, 5, 0, 0)

	assert.Error(t, f.monitor.Start(context.Background(), nil))
	assert.Error(t, f.monitor.Start(context.Background(), []string{walletA, walletA}))
	assert.Error(t, f.monitor.Start(context.Background(), []string{" "}))
	err := f.monitor.Start(context.Background(), []string{walletA, destination})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forwarding destination")
	assert.False(t, f.monitor.Running())
}

func TestStart_AlreadyRunning(t *testing.T) {
	f := newFixture(t, 5, 0)

	require.NoError(t, f.monitor.Start(context.Background(), []string{walletA}))
	err := f.monitor.Start(context.Background(), []string{walletA})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStart_ForwardsPositiveInitialBalance(t *testing.T) {
	f := newFixture(t, 5, 2_000_000, 0)

	require.NoError(t, f.monitor.Start(context.Background(), []string{walletA, walletB}))

	assert.Eventually(t, func() bool { return len(f.fwd.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	calls := f.fwd.snapshot()
	assert.Equal(t, forwardCall{from: walletA, balance: 2_000_000}, calls[0])
}

func TestBalanceIncrease_NotifiesAndForwardsWholeBalance(t *testing.T) {
	f := newFixture(t, 5, 0)
	require.NoError(t, f.monitor.Start(context.Background(), []string{walletA}))

	// Wait for the subscription before pushing changes.
	require.Eventually(t, func() bool {
		st := f.monitor.Status(context.Background())
		return len(st.Targets) == 1 && st.Targets[0].Subscribed
	}, time.Second, 5*time.Millisecond)

	f.subs[0].updates <- chain.BalanceUpdate{Address: walletA, Lamports: 1_500_000_000, Slot: 10}

	require.Eventually(t, func() bool { return len(f.fwd.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1_500_000_000), f.fwd.snapshot()[0].balance)

	received := f.sink.ofType(alert.AlertTypeFundsReceived)
	require.Len(t, received, 1)
	assert.Equal(t, walletA, received[0].Subject)
	assert.Contains(t, received[0].Message, "received 1.5 SOL")

	// The forward drains the wallet; a decrease is recorded but not acted on.
	f.subs[0].updates <- chain.BalanceUpdate{Address: walletA, Lamports: 0, Slot: 11}
	f.subs[0].updates <- chain.BalanceUpdate{Address: walletA, Lamports: 0, Slot: 12}
	f.subs[0].updates <- chain.BalanceUpdate{Address: walletA, Lamports: 10_000, Slot: 13}

	require.Eventually(t, func() bool { return len(f.fwd.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(10_000), f.fwd.snapshot()[1].balance)
	assert.Len(t, f.sink.ofType(alert.AlertTypeFundsReceived), 2)
}

func TestQuarantine_StopsBoundTargetsAndAlerts(t *testing.T) {
	f := newFixture(t, 2, 0, 0)
	require.NoError(t, f.monitor.Start(context.Background(), []string{walletA, walletB}))

	require.Eventually(t, func() bool {
		st := f.monitor.Status(context.Background())
		return st.Targets[0].Subscribed && st.Targets[1].Subscribed
	}, time.Second, 5*time.Millisecond)

	f.subs[0].errs <- retry.Transient(errors.New("subscription dropped: unexpected EOF"))
	f.subs[0].errs <- retry.Transient(errors.New("subscription dropped: unexpected EOF"))

	require.Eventually(t, func() bool {
		return len(f.sink.ofType(alert.AlertTypeTargetsUnmonitored)) == 1
	}, time.Second, 5*time.Millisecond)

	unmonitored := f.sink.ofType(alert.AlertTypeTargetsUnmonitored)[0]
	assert.Equal(t, "rpc-1", unmonitored.Subject)
	assert.Contains(t, unmonitored.Message, walletA)
	assert.NotContains(t, unmonitored.Message, walletB)

	assert.Eventually(t, func() bool { return f.subs[0].unsubscribed.Load() > 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.subs[1].unsubscribed.Load())

	st := f.monitor.Status(context.Background())
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.Healthy)
	assert.False(t, st.Targets[0].Active)
	assert.Equal(t, "endpoint quarantined", st.Targets[0].StopReason)
	assert.True(t, st.Targets[1].Active)
	assert.True(t, st.Endpoints[0].Quarantined)
	assert.Equal(t, "https://rpc1.example.com/***", st.Endpoints[0].URL)
	require.NotNil(t, st.Endpoints[1].HeadSlot)
	assert.Equal(t, int64(250_000_001), *st.Endpoints[1].HeadSlot)
	assert.Empty(t, f.sink.ofType(alert.AlertTypeEndpointsExhausted))
}

func TestQuarantine_LastEndpointRaisesExhausted(t *testing.T) {
	f := newFixture(t, 1, 0)
	require.NoError(t, f.monitor.Start(context.Background(), []string{walletA}))

	require.Eventually(t, func() bool {
		return f.monitor.Status(context.Background()).Targets[0].Subscribed
	}, time.Second, 5*time.Millisecond)

	f.subs[0].errs <- retry.Transient(errors.New("subscription dropped: unexpected EOF"))

	require.Eventually(t, func() bool {
		return len(f.sink.ofType(alert.AlertTypeEndpointsExhausted)) == 1
	}, time.Second, 5*time.Millisecond)
	exhausted := f.sink.ofType(alert.AlertTypeEndpointsExhausted)[0]
	assert.Equal(t, "1", exhausted.Fields["endpoints"])
	assert.Contains(t, exhausted.Fields["last_error"], "subscription dropped")
}

func TestSignerFailure_NotCountedAgainstEndpoint(t *testing.T) {
	f := newFixture(t, 5, 0)
	f.fwd.err = fmt.Errorf("%w: 503 service unavailable", forwarder.ErrSigner)
	require.NoError(t, f.monitor.Start(context.Background(), []string{walletA}))

	require.Eventually(t, func() bool {
		return f.monitor.Status(context.Background()).Targets[0].Subscribed
	}, time.Second, 5*time.Millisecond)

	f.subs[0].updates <- chain.BalanceUpdate{Address: walletA, Lamports: 1_000_000}
	require.Eventually(t, func() bool { return len(f.fwd.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	ep, ok := f.router.Endpoint(0)
	require.True(t, ok)
	assert.Zero(t, ep.ErrorCount)
}

func TestForwardRPCFailure_CountedAgainstEndpoint(t *testing.T) {
	f := newFixture(t, 5, 0)
	f.fwd.err = retry.Transient(errors.New("send transaction: http status 503"))
	require.NoError(t, f.monitor.Start(context.Background(), []string{walletA}))

	require.Eventually(t, func() bool {
		return f.monitor.Status(context.Background()).Targets[0].Subscribed
	}, time.Second, 5*time.Millisecond)

	f.subs[0].updates <- chain.BalanceUpdate{Address: walletA, Lamports: 1_000_000}

	assert.Eventually(t, func() bool {
		ep, _ := f.router.Endpoint(0)
		return ep.ErrorCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestForwardPreflightRejection_NotCountedAgainstEndpoint(t *testing.T) {
	f := newFixture(t, 1, 0)
	f.fwd.err = fmt.Errorf("forward from %s: %w", walletA, fmt.Errorf("send transaction: %w", &solanarpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed: Blockhash not found",
	}))
	require.NoError(t, f.monitor.Start(context.Background(), []string{walletA}))

	require.Eventually(t, func() bool {
		return f.monitor.Status(context.Background()).Targets[0].Subscribed
	}, time.Second, 5*time.Millisecond)

	// Updates are handled in order, so the first rejection has been
	// classified once the second forward is attempted.
	f.subs[0].updates <- chain.BalanceUpdate{Address: walletA, Lamports: 1_000_000}
	f.subs[0].updates <- chain.BalanceUpdate{Address: walletA, Lamports: 2_000_000}
	require.Eventually(t, func() bool { return len(f.fwd.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	ep, ok := f.router.Endpoint(0)
	require.True(t, ok)
	assert.Zero(t, ep.ErrorCount)
	assert.False(t, ep.Quarantined)
	assert.True(t, f.monitor.Status(context.Background()).Targets[0].Active)
}

func TestConsume_ReportsErrorQueuedBeforeStreamEnd(t *testing.T) {
	f := newFixture(t, 1000, 0)
	tgt := &target{
		address:    walletA,
		endpointID: 0,
		client:     f.clients[0],
		cancel:     func() {},
		active:     true,
	}

	// The stream sends its final error and then closes Updates; both are
	// ready by the time consume selects.
	const rounds = 50
	for i := 0; i < rounds; i++ {
		sub := newFakeSub()
		sub.errs <- retry.Transient(errors.New("subscription dropped: unexpected EOF"))
		close(sub.updates)
		f.monitor.consume(context.Background(), tgt, sub, testLogger())
	}

	ep, ok := f.router.Endpoint(0)
	require.True(t, ok)
	assert.Equal(t, rounds, ep.ErrorCount)
}

func TestConsume_EndedStreamWithoutErrorReturns(t *testing.T) {
	f := newFixture(t, 5, 0)
	tgt := &target{address: walletA, client: f.clients[0], cancel: func() {}, active: true}

	sub := newFakeSub()
	close(sub.updates)

	done := make(chan struct{})
	go func() {
		f.monitor.consume(context.Background(), tgt, sub, testLogger())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume blocked on an open error channel")
	}

	ep, _ := f.router.Endpoint(0)
	assert.Zero(t, ep.ErrorCount)
}

func TestResubscribe_ReconcilesBalanceMissedWhileDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	r, err := router.New([]router.EndpointConfig{{Name: "rpc-1", URL: "https://a.example.com"}}, router.Config{}, testLogger())
	require.NoError(t, err)

	first, second := newFakeSub(), newFakeSub()
	c := chainmocks.NewMockBalanceClient(ctrl)
	c.EXPECT().Endpoint().Return("rpc-1").AnyTimes()
	gomock.InOrder(
		c.EXPECT().GetBalance(gomock.Any(), walletA).Return(uint64(0), nil),
		c.EXPECT().GetBalance(gomock.Any(), walletA).Return(uint64(3_000_000), nil),
	)
	gomock.InOrder(
		c.EXPECT().SubscribeBalance(gomock.Any(), walletA).Return(first, nil),
		c.EXPECT().SubscribeBalance(gomock.Any(), walletA).Return(second, nil),
	)

	fwd := &fakeForwarder{}
	sink := &captureSink{}
	m, err := New(r, []chain.BalanceClient{c}, fwd, sink, Config{ResubscribeDelay: 10 * time.Millisecond}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { m.Stop(context.Background()) })

	require.NoError(t, m.Start(context.Background(), []string{walletA}))

	// The first stream drops; 0.003 SOL lands before the second one opens.
	close(first.updates)

	require.Eventually(t, func() bool { return len(fwd.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, forwardCall{from: walletA, balance: 3_000_000}, fwd.snapshot()[0])
	assert.Len(t, sink.ofType(alert.AlertTypeFundsReceived), 1)
	assert.Positive(t, first.unsubscribed.Load())
}

func TestLifecycle_ConcurrentStopAndRestartLeaveNoOrphans(t *testing.T) {
	f := newFixture(t, 5, 0, 0)
	ctx := context.Background()
	require.NoError(t, f.monitor.Start(ctx, []string{walletA}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			f.monitor.Stop(ctx)
		}()
		go func() {
			defer wg.Done()
			f.monitor.Stop(ctx)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, f.monitor.Restart(ctx, []string{walletA, walletB}))
		}()
	}
	wg.Wait()

	f.monitor.Stop(ctx)
	assert.False(t, f.monitor.Running())
	assert.Empty(t, f.monitor.snapshotTargets())

	// Every run's goroutines have exited.
	done := make(chan struct{})
	go func() {
		f.monitor.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("target goroutines outlived Stop")
	}

	// A clean start still works after the churn.
	require.NoError(t, f.monitor.Start(ctx, []string{walletB}))
	assert.True(t, f.monitor.Running())
}

func TestStop_UnsubscribesAndResetsRouter(t *testing.T) {
	f := newFixture(t, 5, 0)
	require.NoError(t, f.monitor.Start(context.Background(), []string{walletA}))

	require.Eventually(t, func() bool {
		return f.monitor.Status(context.Background()).Targets[0].Subscribed
	}, time.Second, 5*time.Millisecond)

	f.router.ReportFailure(context.Background(), 0, errors.New("timeout"))
	f.monitor.Stop(context.Background())

	assert.False(t, f.monitor.Running())
	assert.Equal(t, int32(1), f.subs[0].unsubscribed.Load())
	ep, _ := f.router.Endpoint(0)
	assert.Zero(t, ep.ErrorCount)

	// Stop is idempotent and the monitor can be started again.
	f.monitor.Stop(context.Background())
	require.NoError(t, f.monitor.Start(context.Background(), []string{walletA}))
	assert.True(t, f.monitor.Running())
}

func TestStatus_ReportsProbeFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	r, err := router.New([]router.EndpointConfig{{Name: "rpc-1", URL: "https://a.example.com"}}, router.Config{}, testLogger())
	require.NoError(t, err)

	c := chainmocks.NewMockBalanceClient(ctrl)
	c.EXPECT().Endpoint().Return("rpc-1").AnyTimes()
	c.EXPECT().GetBalance(gomock.Any(), walletA).Return(uint64(0), nil).Times(1)
	c.EXPECT().SubscribeBalance(gomock.Any(), walletA).Return(newFakeSub(), nil).AnyTimes()
	c.EXPECT().GetHeadSequence(gomock.Any()).Return(int64(0), errors.New("http status 503: upstream unavailable")).AnyTimes()
	c.EXPECT().GetBalance(gomock.Any(), walletA).
		DoAndReturn(func(ctx context.Context, _ string) (uint64, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}).AnyTimes()

	m, err := New(r, []chain.BalanceClient{c}, &fakeForwarder{}, &captureSink{},
		Config{ProbeTimeout: 20 * time.Millisecond, ResubscribeDelay: time.Hour}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { m.Stop(context.Background()) })

	require.NoError(t, m.Start(context.Background(), []string{walletA}))
	require.Eventually(t, func() bool { return m.Status(context.Background()).Targets[0].Subscribed }, time.Second, 5*time.Millisecond)

	st := m.Status(context.Background())
	require.Len(t, st.Targets, 1)
	assert.Nil(t, st.Targets[0].BalanceSOL)
	assert.Contains(t, st.Targets[0].ProbeError, "deadline exceeded")
	require.NotNil(t, st.Targets[0].LastKnown)
	assert.Equal(t, "0", *st.Targets[0].LastKnown)

	require.Len(t, st.Endpoints, 1)
	assert.Nil(t, st.Endpoints[0].HeadSlot)
	assert.Contains(t, st.Endpoints[0].ProbeError, "503")

	ep, _ := r.Endpoint(0)
	assert.Zero(t, ep.ErrorCount)
}

func TestShouldReport(t *testing.T) {
	assert.False(t, shouldReport(nil))
	assert.False(t, shouldReport(forwarder.ErrAmountBelowFee))
	assert.False(t, shouldReport(fmt.Errorf("x: %w", forwarder.ErrSigner)))
	assert.False(t, shouldReport(context.Canceled))
	assert.False(t, shouldReport(errors.New("invalid params")))
	assert.True(t, shouldReport(context.DeadlineExceeded))
	assert.True(t, shouldReport(errors.New("http status 429: too many requests")))
}
