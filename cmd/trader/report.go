package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/polyflash/internal/adapters/notify"
	"github.com/alejandrodnm/polyflash/internal/adapters/storage"
)

const (
	reportDays   = 30
	reportWindow = 7 * 24 * time.Hour
)

func runReport(ctx context.Context, store *storage.SQLiteStorage, notifier *notify.Console) {
	dailies, err := store.GetDailies(ctx, reportDays)
	if err != nil {
		slog.Error("failed to load daily stats", "err", err)
		os.Exit(1)
	}

	now := time.Now()
	trades, err := store.RecentTrades(ctx, now.Add(-reportWindow), now)
	if err != nil {
		slog.Error("failed to load trades", "err", err)
		os.Exit(1)
	}

	notifier.PrintSessionReport(dailies, trades)
}
