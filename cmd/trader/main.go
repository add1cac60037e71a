package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/polyflash/config"
	"github.com/alejandrodnm/polyflash/internal/adapters/notify"
	"github.com/alejandrodnm/polyflash/internal/adapters/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	preset := flag.String("preset", "", "detector preset: swing|highfreq (overrides config)")
	paper := flag.Bool("paper", false, "paper trading: simulated fills, no real orders")
	table := flag.Bool("table", false, "print open positions as a full table (default: compact 1-line)")
	report := flag.Bool("report", false, "print the stored trading report and exit")
	resetKill := flag.Bool("reset-kill", false, "clear a tripped kill switch before starting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *preset != "" {
		cfg.Detector.Preset = *preset
	}
	if cfg.Detector.Preset == "" {
		cfg.Detector.Preset = "swing"
	}
	paperMode := *paper || cfg.Paper.Enabled || cfg.Wallet.PrivateKey == ""

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	notifier := notify.NewConsole(*table)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		runReport(ctx, store, notifier)
		return
	}

	slog.Info("polyflash starting",
		"config", *configPath,
		"preset", cfg.Detector.Preset,
		"paper", paperMode,
		"assets", len(cfg.Feed.Assets),
	)

	if err := runTrader(ctx, cfg, store, notifier, paperMode, *resetKill); err != nil {
		slog.Error("trader exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("polyflash stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
