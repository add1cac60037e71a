package paper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

type stubPrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (s *stubPrices) set(tokenID string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prices == nil {
		s.prices = make(map[string]float64)
	}
	s.prices[tokenID] = price
}

func (s *stubPrices) LastPrice(tokenID string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[tokenID]
	return p, ok
}

func newTestExecutor(cfg Config) (*Executor, *stubPrices) {
	prices := &stubPrices{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, prices, logger), prices
}

func TestCreateOrder_BuyFillsAtLastPriceWithSlippage(t *testing.T) {
	exec, prices := newTestExecutor(Config{Slippage: 0.01})
	prices.set("tok-1", 0.50)

	res, err := exec.CreateOrder(context.Background(), domain.OrderRequest{
		TokenID:    "tok-1",
		Side:       domain.SideBuy,
		SizeUSD:    10,
		PriceLimit: 0.55,
		OrderType:  domain.OrderFAK,
	})
	require.NoError(t, err)

	require.True(t, res.Filled())
	assert.InDelta(t, 0.505, res.PriceFilled, 1e-9)
	assert.InDelta(t, 10/0.505, res.SharesFilled, 1e-9)

	balance, err := exec.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 990.0, balance, 1e-9)

	held, err := exec.TokenBalance(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.InDelta(t, res.SharesFilled, held, 1e-9)
}

func TestCreateOrder_BuyBeyondLimitRejects(t *testing.T) {
	exec, prices := newTestExecutor(Config{})
	prices.set("tok-1", 0.60)

	res, err := exec.CreateOrder(context.Background(), domain.OrderRequest{
		TokenID:    "tok-1",
		Side:       domain.SideBuy,
		SizeUSD:    10,
		PriceLimit: 0.55,
		OrderType:  domain.OrderFOK,
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "no liquidity", res.Reason)

	balance, _ := exec.GetBalance(context.Background())
	assert.InDelta(t, defaultBalanceUSD, balance, 1e-9)
}

func TestCreateOrder_BuyClampsFillToLimit(t *testing.T) {
	exec, prices := newTestExecutor(Config{Slippage: 0.05})
	prices.set("tok-1", 0.50)

	res, err := exec.CreateOrder(context.Background(), domain.OrderRequest{
		TokenID:    "tok-1",
		Side:       domain.SideBuy,
		SizeUSD:    10,
		PriceLimit: 0.51,
		OrderType:  domain.OrderFAK,
	})
	require.NoError(t, err)

	// Raw fill 0.50×1.05 = 0.525 exceeds the limit → fills at the limit.
	require.True(t, res.Filled())
	assert.InDelta(t, 0.51, res.PriceFilled, 1e-9)
}

func TestCreateOrder_InsufficientBalance(t *testing.T) {
	exec, prices := newTestExecutor(Config{BalanceUSD: 5})
	prices.set("tok-1", 0.50)

	res, err := exec.CreateOrder(context.Background(), domain.OrderRequest{
		TokenID:    "tok-1",
		Side:       domain.SideBuy,
		SizeUSD:    10,
		PriceLimit: 0.55,
		OrderType:  domain.OrderFAK,
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "insufficient balance", res.Reason)
}

func TestCreateOrder_SellRoundTripRealizesPnL(t *testing.T) {
	exec, prices := newTestExecutor(Config{Slippage: 0.01})
	prices.set("tok-1", 0.50)
	ctx := context.Background()

	buy, err := exec.CreateOrder(ctx, domain.OrderRequest{
		TokenID:    "tok-1",
		Side:       domain.SideBuy,
		SizeUSD:    10,
		PriceLimit: 0.55,
		OrderType:  domain.OrderFAK,
	})
	require.NoError(t, err)
	require.True(t, buy.Filled())

	// Price runs up, liquidate everything.
	prices.set("tok-1", 0.60)
	held, err := exec.TokenBalance(ctx, "tok-1")
	require.NoError(t, err)

	sell, err := exec.CreateOrder(ctx, domain.OrderRequest{
		TokenID:    "tok-1",
		Side:       domain.SideSell,
		Shares:     held,
		PriceLimit: 0.55,
		OrderType:  domain.OrderFAK,
	})
	require.NoError(t, err)

	require.True(t, sell.Filled())
	assert.InDelta(t, 0.594, sell.PriceFilled, 1e-9)
	assert.InDelta(t, held, sell.SharesFilled, 1e-9)

	// 990 + shares×0.594 > 1000: the move was profitable.
	balance, _ := exec.GetBalance(ctx)
	assert.InDelta(t, 990+held*0.594, balance, 1e-9)
	assert.Greater(t, balance, defaultBalanceUSD)

	held, _ = exec.TokenBalance(ctx, "tok-1")
	assert.Zero(t, held)
}

func TestCreateOrder_SellBelowLimitRejects(t *testing.T) {
	exec, prices := newTestExecutor(Config{})
	prices.set("tok-1", 0.40)

	res, err := exec.CreateOrder(context.Background(), domain.OrderRequest{
		TokenID:    "tok-1",
		Side:       domain.SideSell,
		Shares:     10,
		PriceLimit: 0.45,
		OrderType:  domain.OrderFAK,
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "no liquidity", res.Reason)
}

func TestCreateOrder_SellClampsToHoldings(t *testing.T) {
	exec, prices := newTestExecutor(Config{Slippage: 0.01})
	prices.set("tok-1", 0.50)
	ctx := context.Background()

	_, err := exec.CreateOrder(ctx, domain.OrderRequest{
		TokenID:    "tok-1",
		Side:       domain.SideBuy,
		SizeUSD:    10,
		PriceLimit: 0.55,
		OrderType:  domain.OrderFAK,
	})
	require.NoError(t, err)

	held, _ := exec.TokenBalance(ctx, "tok-1")
	res, err := exec.CreateOrder(ctx, domain.OrderRequest{
		TokenID:    "tok-1",
		Side:       domain.SideSell,
		Shares:     held + 100,
		PriceLimit: 0.40,
		OrderType:  domain.OrderFAK,
	})
	require.NoError(t, err)

	require.True(t, res.Filled())
	assert.InDelta(t, held, res.SharesFilled, 1e-9)
}

func TestCreateOrder_NoPriceFallsBackToLimit(t *testing.T) {
	exec, _ := newTestExecutor(Config{Slippage: 0.01})

	res, err := exec.CreateOrder(context.Background(), domain.OrderRequest{
		TokenID:    "tok-unseen",
		Side:       domain.SideBuy,
		SizeUSD:    10,
		PriceLimit: 0.50,
		OrderType:  domain.OrderFAK,
	})
	require.NoError(t, err)

	require.True(t, res.Filled())
	assert.InDelta(t, 0.50, res.PriceFilled, 1e-9)
}

func TestCreateOrder_FillDelayHonorsContext(t *testing.T) {
	exec, prices := newTestExecutor(Config{FillDelay: 200 * time.Millisecond})
	prices.set("tok-1", 0.50)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	res, err := exec.CreateOrder(ctx, domain.OrderRequest{
		TokenID:    "tok-1",
		Side:       domain.SideBuy,
		SizeUSD:    10,
		PriceLimit: 0.55,
		OrderType:  domain.OrderFAK,
	})

	assert.Error(t, err)
	assert.Error(t, res.Err)
}

func TestGetLiquidityDefaults(t *testing.T) {
	exec, prices := newTestExecutor(Config{})
	prices.set("tok-1", 0.50)

	liq, err := exec.GetLiquidity(context.Background(), "tok-1", domain.SideBuy, 0.55)
	require.NoError(t, err)
	assert.InDelta(t, defaultBookDepthUSD, liq.AvailableDepthUSD, 1e-9)
	assert.InDelta(t, 0.50, liq.BestPrice, 1e-9)

	neg, err := exec.IsNegRisk(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.False(t, neg)
}
