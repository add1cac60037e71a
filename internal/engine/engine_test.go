package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyflash/internal/domain"
	"github.com/alejandrodnm/polyflash/internal/feed"
)

type fakeExecutor struct {
	mu          sync.Mutex
	createCalls []domain.OrderRequest

	createFn     func(req domain.OrderRequest) (domain.OrderResult, error)
	createResult domain.OrderResult
	createErr    error

	balance      float64
	balanceErr   error
	balanceCalls int

	liquidity    domain.LiquidityMetrics
	liquidityErr error

	tokenBalance    float64
	tokenBalanceErr error

	negRisk bool
}

// newFakeExecutor fills 20 shares without reporting a fill price, so the
// engine falls back to the caller's reference price.
func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		createResult: domain.OrderResult{
			Success:      true,
			OrderID:      "ord-1",
			SharesFilled: 20,
			SubmittedAt:  time.Now(),
		},
		balance:   1_000,
		liquidity: domain.LiquidityMetrics{AvailableDepthUSD: 10_000, BestPrice: 0.50},
	}
}

func (f *fakeExecutor) CreateOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	f.createCalls = append(f.createCalls, req)
	fn := f.createFn
	res, err := f.createResult, f.createErr
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return res, err
}

func (f *fakeExecutor) GetLiquidity(_ context.Context, _ string, _ domain.Side, _ float64) (domain.LiquidityMetrics, error) {
	return f.liquidity, f.liquidityErr
}

func (f *fakeExecutor) GetBalance(_ context.Context) (float64, error) {
	f.mu.Lock()
	f.balanceCalls++
	f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *fakeExecutor) TokenBalance(_ context.Context, _ string) (float64, error) {
	return f.tokenBalance, f.tokenBalanceErr
}

func (f *fakeExecutor) IsNegRisk(_ context.Context, _ string) (bool, error) {
	return f.negRisk, nil
}

func (f *fakeExecutor) calls() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OrderRequest, len(f.createCalls))
	copy(out, f.createCalls)
	return out
}

type fakeSubs struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
}

func (f *fakeSubs) Subscribe(tokenIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, tokenIDs...)
	return nil
}

func (f *fakeSubs) Unsubscribe(tokenIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, tokenIDs...)
	return nil
}

func testConfig() Config {
	return Config{
		BaseOrderUSD:    10,
		MaxPositions:    3,
		KillEnabled:     true,
		KillCeiling:     90,
		KillMaxLosses:   3,
		KillDrawdownUSD: -1_000,
	}
}

func newTestExecEngine(t *testing.T, cfg Config, exec *fakeExecutor) (*Engine, *fakeSubs, *feed.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := feed.NewBus(logger)
	subs := &fakeSubs{}
	eng := New(cfg, exec, nil, subs, bus, logger)
	return eng, subs, bus
}

func det(tokenID string, velocity, confidence, riskScore float64) domain.Detection {
	return domain.Detection{
		TokenID:     tokenID,
		ConditionID: "0xcond",
		OldPrice:    0.45,
		NewPrice:    0.50,
		Velocity:    velocity,
		Confidence:  confidence,
		RiskScore:   riskScore,
		Strategy:    domain.StrategyVelocity,
		Timestamp:   time.Now(),
	}
}

func waitPositions(t *testing.T, eng *Engine, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(eng.Positions()) == n },
		2*time.Second, 2*time.Millisecond)
}

func TestEngine_KillSwitchGate(t *testing.T) {
	exec := newFakeExecutor()
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 95))

	stats := eng.Stats()
	assert.Equal(t, 1, stats.Killed)
	assert.Empty(t, exec.calls(), "rejected entries must never reach the executor")
	assert.Equal(t, 0, exec.balanceCalls)
}

func TestEngine_KillSwitchDisabledPasses(t *testing.T) {
	cfg := testConfig()
	cfg.KillEnabled = false
	exec := newFakeExecutor()
	eng, _, _ := newTestExecEngine(t, cfg, exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 95))

	waitPositions(t, eng, 1)
	assert.Len(t, exec.calls(), 1)
}

func TestEngine_ConcurrencyCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositions = 1
	exec := newFakeExecutor()
	eng, _, _ := newTestExecEngine(t, cfg, exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 40))
	waitPositions(t, eng, 1)

	eng.OnDetection(context.Background(), det("tok-2", 0.12, 0.9, 40))

	stats := eng.Stats()
	assert.Equal(t, 1, stats.Limited)
	assert.Len(t, exec.calls(), 1, "capped entries must never reach the executor")
}

func TestEngine_PendingEntriesCountTowardCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositions = 1
	exec := newFakeExecutor()
	release := make(chan struct{})
	exec.createFn = func(req domain.OrderRequest) (domain.OrderResult, error) {
		<-release
		return domain.OrderResult{Success: true, SharesFilled: 20, PriceFilled: 0.50}, nil
	}
	eng, _, _ := newTestExecEngine(t, cfg, exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 40))
	require.Eventually(t, func() bool { return len(exec.calls()) == 1 },
		2*time.Second, 2*time.Millisecond)

	// first entry still in flight
	eng.OnDetection(context.Background(), det("tok-2", 0.12, 0.9, 40))
	assert.Equal(t, 1, eng.Stats().Limited)

	close(release)
	waitPositions(t, eng, 1)
	assert.Len(t, exec.calls(), 1)
}

func TestEngine_DuplicatePositionRejected(t *testing.T) {
	exec := newFakeExecutor()
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 40))
	waitPositions(t, eng, 1)

	eng.OnDetection(context.Background(), det("tok-1", 0.15, 0.9, 40))

	assert.Equal(t, 1, eng.Stats().Skipped)
	assert.Len(t, exec.calls(), 1)
}

func TestEngine_OpensPositionWithExitLevels(t *testing.T) {
	exec := newFakeExecutor()
	exec.createResult.PriceFilled = 0.55
	eng, subs, bus := newTestExecEngine(t, testConfig(), exec)

	var fills []feed.Fill
	var mu sync.Mutex
	bus.Register(feed.EventFill, func(payload any) {
		mu.Lock()
		fills = append(fills, payload.(feed.Fill))
		mu.Unlock()
	})

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 40))
	waitPositions(t, eng, 1)

	pos, ok := eng.Position("tok-1")
	require.True(t, ok)
	assert.Equal(t, domain.SideBuy, pos.Direction)
	assert.Equal(t, 0.55, pos.EntryPrice)
	assert.InDelta(t, 0.55*0.90, pos.StopLoss, 1e-9)
	assert.InDelta(t, 0.55*1.15, pos.TakeProfit, 1e-9)
	assert.NotEmpty(t, pos.ID)

	assert.Equal(t, []string{"tok-1"}, subs.subscribed)
	assert.Equal(t, 1, eng.Stats().Executed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fills, 1)
	assert.Equal(t, pos.ID, fills[0].PositionID)
	assert.False(t, fills[0].Closing)
}

func TestEngine_SellDirectionInvertsLevels(t *testing.T) {
	exec := newFakeExecutor()
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	eng.OnDetection(context.Background(), det("tok-1", -0.12, 0.9, 40))
	waitPositions(t, eng, 1)

	pos, _ := eng.Position("tok-1")
	assert.Equal(t, domain.SideSell, pos.Direction)
	assert.InDelta(t, 0.50*1.10, pos.StopLoss, 1e-9)
	assert.InDelta(t, 0.50*0.85, pos.TakeProfit, 1e-9)

	req := exec.calls()[0]
	assert.Equal(t, domain.SideSell, req.Side)
	assert.Less(t, req.PriceLimit, 0.50, "sell limits sit below the reference price")
}

func TestEngine_SizeCappedByBalance(t *testing.T) {
	exec := newFakeExecutor()
	exec.balance = 5
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 1.0, 40))
	waitPositions(t, eng, 1)

	req := exec.calls()[0]
	assert.InDelta(t, 4.5, req.SizeUSD, 1e-9, "half a dollar stays reserved")
}

func TestEngine_SizeCappedByLiquidity(t *testing.T) {
	exec := newFakeExecutor()
	exec.liquidity = domain.LiquidityMetrics{AvailableDepthUSD: 4, BestPrice: 0.50}
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 1.0, 40))
	waitPositions(t, eng, 1)

	req := exec.calls()[0]
	assert.InDelta(t, 2.0, req.SizeUSD, 1e-9, "sized to half the available depth")
}

func TestEngine_SizeBelowMinimumSkips(t *testing.T) {
	exec := newFakeExecutor()
	exec.balance = 1.2
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 1.0, 40))

	require.Eventually(t, func() bool { return eng.Stats().Skipped == 1 },
		2*time.Second, 2*time.Millisecond)
	assert.Empty(t, eng.Positions())
	assert.Empty(t, exec.calls())
}

func TestEngine_MarketClosedCountsSkipped(t *testing.T) {
	exec := newFakeExecutor()
	exec.createResult = domain.OrderResult{Success: false, MarketClosed: true, Reason: "market resolved"}
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 40))

	require.Eventually(t, func() bool { return eng.Stats().Skipped == 1 },
		2*time.Second, 2*time.Millisecond)
	assert.Equal(t, 0, eng.Stats().Failed)
	assert.Empty(t, eng.Positions())
}

func TestEngine_TransportErrorCountsFailed(t *testing.T) {
	exec := newFakeExecutor()
	exec.createErr = errors.New("connection reset")
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 40))

	require.Eventually(t, func() bool { return eng.Stats().Failed == 1 },
		2*time.Second, 2*time.Millisecond)
	assert.Empty(t, eng.Positions())

	// the pending slot must be released so the token can be retried
	exec.mu.Lock()
	exec.createErr = nil
	exec.mu.Unlock()
	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 40))
	waitPositions(t, eng, 1)
}

func TestEngine_ClosePositionIdempotent(t *testing.T) {
	exec := newFakeExecutor()
	eng, subs, _ := newTestExecEngine(t, testConfig(), exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 40))
	waitPositions(t, eng, 1)

	trade, ok := eng.ClosePosition(context.Background(), "tok-1", domain.ExitTargetHit, 0.60)
	require.True(t, ok)
	assert.Equal(t, domain.ExitTargetHit, trade.ExitReason)
	assert.Empty(t, eng.Positions())
	assert.Equal(t, []string{"tok-1"}, subs.unsubscribed)

	_, ok = eng.ClosePosition(context.Background(), "tok-1", domain.ExitTargetHit, 0.60)
	assert.False(t, ok)
	assert.Len(t, exec.calls(), 2, "entry plus one liquidation, never a second")
}

func TestEngine_CloseUsesOnChainBalance(t *testing.T) {
	exec := newFakeExecutor()
	exec.tokenBalance = 42
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 40))
	waitPositions(t, eng, 1)

	_, ok := eng.ClosePosition(context.Background(), "tok-1", domain.ExitTimeStop, 0.52)
	require.True(t, ok)

	calls := exec.calls()
	require.Len(t, calls, 2)
	liq := calls[1]
	assert.Equal(t, domain.SideSell, liq.Side)
	assert.Equal(t, 42.0, liq.Shares)
	assert.Equal(t, domain.OrderFAK, liq.OrderType)
	assert.Less(t, liq.PriceLimit, 0.52)
}

func TestEngine_ConsecutiveLossesTripKillSwitch(t *testing.T) {
	exec := newFakeExecutor()
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	for i, token := range []string{"tok-1", "tok-2", "tok-3"} {
		eng.OnDetection(context.Background(), det(token, 0.12, 0.9, 40))
		waitPositions(t, eng, 1)
		trade, ok := eng.ClosePosition(context.Background(), token, domain.ExitStopLoss, 0.40)
		require.True(t, ok, "close %d", i)
		assert.Negative(t, trade.PnLUSD)
	}

	k := eng.KillSwitch()
	assert.True(t, k.Tripped)
	assert.Equal(t, 3, k.ConsecutiveLosses)

	// tripped switch blocks even low-risk detections
	eng.OnDetection(context.Background(), det("tok-4", 0.12, 0.9, 10))
	assert.Equal(t, 1, eng.Stats().Killed)

	eng.ResetKillSwitch(context.Background())
	assert.False(t, eng.KillSwitch().Tripped)
	eng.OnDetection(context.Background(), det("tok-4", 0.12, 0.9, 10))
	waitPositions(t, eng, 1)
}

func TestEngine_WinInterruptsLossStreak(t *testing.T) {
	exec := newFakeExecutor()
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	roundTrip := func(token string, exitPrice float64) {
		eng.OnDetection(context.Background(), det(token, 0.12, 0.9, 40))
		waitPositions(t, eng, 1)
		_, ok := eng.ClosePosition(context.Background(), token, domain.ExitStopLoss, exitPrice)
		require.True(t, ok)
	}

	roundTrip("tok-1", 0.40)
	roundTrip("tok-2", 0.40)
	roundTrip("tok-3", 0.60) // win resets the streak
	roundTrip("tok-4", 0.40)

	k := eng.KillSwitch()
	assert.False(t, k.Tripped)
	assert.Equal(t, 1, k.ConsecutiveLosses)
}

func TestEngine_DrainStopsNewEntries(t *testing.T) {
	exec := newFakeExecutor()
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	require.NoError(t, eng.Drain(context.Background()))

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 40))
	assert.Equal(t, 0, eng.Stats().Attempted)
	assert.Empty(t, exec.calls())
}

func TestEngine_MarkSweepTracksStall(t *testing.T) {
	exec := newFakeExecutor()
	eng, _, _ := newTestExecEngine(t, testConfig(), exec)

	eng.OnDetection(context.Background(), det("tok-1", 0.12, 0.9, 40))
	waitPositions(t, eng, 1)

	// entry at 0.50; flat and falling prices stack stall ticks
	pos, _ := eng.MarkSweep("tok-1", 0.50)
	assert.Equal(t, 1, pos.StallTicks)
	pos, _ = eng.MarkSweep("tok-1", 0.49)
	assert.Equal(t, 2, pos.StallTicks)

	// improvement resets the counter
	pos, _ = eng.MarkSweep("tok-1", 0.51)
	assert.Equal(t, 0, pos.StallTicks)
	assert.Equal(t, 0.51, pos.LastPrice)
}
