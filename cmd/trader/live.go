package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/polyflash/config"
	"github.com/alejandrodnm/polyflash/internal/adapters/polymarket"
)

// newLiveExecutor authenticates against the CLOB and verifies the account
// can fund orders. Any failure here aborts startup.
func newLiveExecutor(ctx context.Context, cfg *config.Config) *polymarket.TradingClient {
	slog.Info("=== LIVE TRADING MODE (REAL MONEY) ===",
		"base_order", cfg.Trading.BaseOrderUSD,
		"max_positions", cfg.Trading.MaxPositions,
		"stop_loss", cfg.Trading.StopLossPct,
		"take_profit", cfg.Trading.TakeProfitPct,
	)

	fmt.Printf("\n⚠️  LIVE TRADING MODE — REAL MONEY WILL BE SPENT\n")
	fmt.Printf("   Base order: $%.2f | Max positions: %d | Stop %.0f%% / Take %.0f%%\n",
		cfg.Trading.BaseOrderUSD, cfg.Trading.MaxPositions,
		cfg.Trading.StopLossPct*100, cfg.Trading.TakeProfitPct*100)
	fmt.Printf("   Press Ctrl+C within 5 seconds to abort...\n\n")

	abortTimer := time.NewTimer(5 * time.Second)
	select {
	case <-abortTimer.C:
	case <-ctx.Done():
		slog.Info("live trading aborted by user")
		os.Exit(0)
	}

	authClient, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.Wallet.PrivateKey)
	if err != nil {
		slog.Error("failed to create auth client", "err", err)
		os.Exit(1)
	}

	if err := authClient.EnsureCreds(ctx); err != nil {
		slog.Error("failed to derive API credentials — check POLY_PRIVATE_KEY", "err", err)
		os.Exit(1)
	}

	slog.Info("live: authenticated with Polymarket CLOB", "address", authClient.Address())

	tradingClient, err := polymarket.NewTradingClient(authClient, cfg.Wallet.RPCURL)
	if err != nil {
		slog.Error("failed to create trading client", "err", err)
		os.Exit(1)
	}

	balance, err := tradingClient.GetBalance(ctx)
	if err != nil {
		slog.Error("failed to get CLOB balance", "err", err)
		os.Exit(1)
	}
	slog.Info("live: CLOB balance", "usdc", fmt.Sprintf("$%.2f", balance))

	base := cfg.Trading.BaseOrderUSD
	if base <= 0 {
		base = 10 // engine default
	}
	if balance < base*2 {
		slog.Error("insufficient CLOB balance",
			"balance", fmt.Sprintf("$%.2f", balance),
			"required", fmt.Sprintf("$%.2f", base*2))
		os.Exit(1)
	}

	return tradingClient
}
