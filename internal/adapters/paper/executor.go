// Package paper simulates order execution against observed stream prices
// so the whole pipeline can run without wallet keys. Balance and holdings
// are a virtual ledger, never on chain.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

const (
	defaultBalanceUSD   = 1_000.0
	defaultSlippage     = 0.002
	defaultBookDepthUSD = 5_000.0
)

// PriceSource yields the last observed price for a token. Satisfied by the
// window store.
type PriceSource interface {
	LastPrice(tokenID string) (float64, bool)
}

// Config tunes the simulation.
type Config struct {
	BalanceUSD   float64       // starting virtual balance
	Slippage     float64       // fill price haircut vs last observed
	BookDepthUSD float64       // depth reported by GetLiquidity
	FillDelay    time.Duration // simulated order latency, 0 = instant
}

func (c *Config) applyDefaults() {
	if c.BalanceUSD <= 0 {
		c.BalanceUSD = defaultBalanceUSD
	}
	if c.Slippage <= 0 {
		c.Slippage = defaultSlippage
	}
	if c.BookDepthUSD <= 0 {
		c.BookDepthUSD = defaultBookDepthUSD
	}
}

// Executor implements ports.OrderExecutor with simulated fills. Orders fill
// at the last stream price plus slippage, bounded by the request's price
// limit. FAK and FOK behave identically: the simulated book is always deep
// enough at the reference price.
type Executor struct {
	cfg    Config
	prices PriceSource
	logger *slog.Logger

	mu       sync.Mutex
	balance  float64
	holdings map[string]float64 // tokenID → shares
}

// New creates a paper executor with the configured starting balance.
func New(cfg Config, prices PriceSource, logger *slog.Logger) *Executor {
	cfg.applyDefaults()
	return &Executor{
		cfg:      cfg,
		prices:   prices,
		logger:   logger,
		balance:  cfg.BalanceUSD,
		holdings: make(map[string]float64),
	}
}

// CreateOrder fills the request against the last observed price. A book
// that moved past the price limit rejects with "no liquidity", matching
// the live executor's reason strings.
func (e *Executor) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	submitted := time.Now().UTC()

	if e.cfg.FillDelay > 0 {
		select {
		case <-time.After(e.cfg.FillDelay):
		case <-ctx.Done():
			return domain.OrderResult{Err: ctx.Err(), SubmittedAt: submitted}, fmt.Errorf("paper.CreateOrder: %w", ctx.Err())
		}
	}

	ref, ok := e.prices.LastPrice(req.TokenID)
	if !ok || ref <= 0 {
		ref = req.PriceLimit
	}

	if req.Side == domain.SideSell {
		return e.fillSell(req, ref, submitted), nil
	}
	return e.fillBuy(req, ref, submitted), nil
}

func (e *Executor) fillBuy(req domain.OrderRequest, ref float64, submitted time.Time) domain.OrderResult {
	if req.PriceLimit > 0 && ref > req.PriceLimit {
		return domain.OrderResult{Reason: "no liquidity", SubmittedAt: submitted}
	}

	price := ref * (1 + e.cfg.Slippage)
	if req.PriceLimit > 0 && price > req.PriceLimit {
		price = req.PriceLimit
	}
	if price <= 0 {
		return domain.OrderResult{Reason: "no reference price", SubmittedAt: submitted}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.SizeUSD > e.balance {
		return domain.OrderResult{Reason: "insufficient balance", SubmittedAt: submitted}
	}

	shares := req.SizeUSD / price
	e.balance -= req.SizeUSD
	e.holdings[req.TokenID] += shares

	e.logger.Info("paper: buy filled",
		"token", shortToken(req.TokenID),
		"shares", fmt.Sprintf("%.2f", shares),
		"price", fmt.Sprintf("%.4f", price),
		"notional", fmt.Sprintf("$%.2f", req.SizeUSD),
		"balance", fmt.Sprintf("$%.2f", e.balance),
	)

	return domain.OrderResult{
		Success:      true,
		OrderID:      uuid.NewString(),
		SharesFilled: shares,
		PriceFilled:  price,
		SubmittedAt:  submitted,
	}
}

func (e *Executor) fillSell(req domain.OrderRequest, ref float64, submitted time.Time) domain.OrderResult {
	if req.PriceLimit > 0 && ref < req.PriceLimit {
		return domain.OrderResult{Reason: "no liquidity", SubmittedAt: submitted}
	}

	price := ref * (1 - e.cfg.Slippage)
	if req.PriceLimit > 0 && price < req.PriceLimit {
		price = req.PriceLimit
	}
	if price <= 0 {
		return domain.OrderResult{Reason: "no reference price", SubmittedAt: submitted}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	shares := req.Shares
	if shares <= 0 {
		shares = req.SizeUSD / price
	}
	if held := e.holdings[req.TokenID]; held > 0 && shares > held {
		shares = held
	}
	if shares <= 0 {
		return domain.OrderResult{Reason: "nothing to sell", SubmittedAt: submitted}
	}

	proceeds := shares * price
	e.balance += proceeds
	if held := e.holdings[req.TokenID] - shares; held > 1e-9 {
		e.holdings[req.TokenID] = held
	} else {
		delete(e.holdings, req.TokenID)
	}

	e.logger.Info("paper: sell filled",
		"token", shortToken(req.TokenID),
		"shares", fmt.Sprintf("%.2f", shares),
		"price", fmt.Sprintf("%.4f", price),
		"proceeds", fmt.Sprintf("$%.2f", proceeds),
		"balance", fmt.Sprintf("$%.2f", e.balance),
	)

	return domain.OrderResult{
		Success:      true,
		OrderID:      uuid.NewString(),
		SharesFilled: shares,
		PriceFilled:  price,
		SubmittedAt:  submitted,
	}
}

// GetLiquidity reports the configured synthetic depth at the last price.
func (e *Executor) GetLiquidity(ctx context.Context, tokenID string, side domain.Side, priceLimit float64) (domain.LiquidityMetrics, error) {
	ref, _ := e.prices.LastPrice(tokenID)
	return domain.LiquidityMetrics{
		AvailableDepthUSD: e.cfg.BookDepthUSD,
		BestPrice:         ref,
	}, nil
}

// GetBalance returns the virtual USDC balance.
func (e *Executor) GetBalance(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

// TokenBalance returns the simulated holdings for a token.
func (e *Executor) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holdings[tokenID], nil
}

// IsNegRisk always reports false; the ledger has no NegRisk markets.
func (e *Executor) IsNegRisk(ctx context.Context, tokenID string) (bool, error) {
	return false, nil
}

// SetTickSize is a no-op; simulated fills don't snap to ticks. Keeps the
// stream wiring uniform across executors.
func (e *Executor) SetTickSize(tokenID string, tick float64) {}

func shortToken(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
