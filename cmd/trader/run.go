package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/polyflash/config"
	"github.com/alejandrodnm/polyflash/internal/adapters/notify"
	"github.com/alejandrodnm/polyflash/internal/adapters/paper"
	"github.com/alejandrodnm/polyflash/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyflash/internal/adapters/storage"
	"github.com/alejandrodnm/polyflash/internal/detector"
	"github.com/alejandrodnm/polyflash/internal/domain"
	"github.com/alejandrodnm/polyflash/internal/engine"
	"github.com/alejandrodnm/polyflash/internal/feed"
	"github.com/alejandrodnm/polyflash/internal/monitor"
	"github.com/alejandrodnm/polyflash/internal/ports"
	"github.com/alejandrodnm/polyflash/internal/window"
)

const drainTimeout = 10 * time.Second

// tickCache is the slice of the executor that keeps CLOB tick sizes
// current as the stream announces changes.
type tickCache interface {
	SetTickSize(tokenID string, tick float64)
}

func runTrader(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, notifier *notify.Console, paperMode, resetKill bool) error {
	logger := slog.Default()
	bus := feed.NewBus(logger)

	gw, err := feed.NewGateway(feed.Config{
		URL:               cfg.Feed.WSURL,
		MaxAttempts:       cfg.Feed.MaxAttempts,
		Cooldown:          cfg.Feed.Cooldown(),
		KeepaliveInterval: cfg.Feed.Keepalive(),
	}, bus, logger)
	if err != nil {
		return fmt.Errorf("feed gateway: %w", err)
	}

	detCfg, err := buildDetectorConfig(cfg.Detector)
	if err != nil {
		return err
	}

	winCfg := window.Config{
		Capacity:       cfg.Window.Capacity,
		VolumeCapacity: cfg.Window.VolumeCapacity,
		TTL:            cfg.Window.TTL(),
	}
	if winCfg.Capacity == 0 && detCfg.HighFreq {
		winCfg.Capacity = 100
	}
	windows := window.NewStore(winCfg, logger)

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)
	meta := polymarket.NewGammaProvider(client)

	det := detector.New(detCfg, windows, meta, store, bus, logger)

	var executor ports.OrderExecutor
	var ticks tickCache
	if paperMode {
		pe := paper.New(paper.Config{
			BalanceUSD:   cfg.Paper.BalanceUSD,
			Slippage:     cfg.Paper.Slippage,
			BookDepthUSD: cfg.Paper.BookDepthUSD,
		}, windows, logger)
		balance, _ := pe.GetBalance(ctx)
		slog.Info("=== PAPER TRADING MODE (simulated fills) ===",
			"balance", fmt.Sprintf("$%.2f", balance))
		executor, ticks = pe, pe
	} else {
		tc := newLiveExecutor(ctx, cfg)
		executor, ticks = tc, tc
	}

	eng := engine.New(engine.Config{
		BaseOrderUSD:    cfg.Trading.BaseOrderUSD,
		MaxPositions:    cfg.Trading.MaxPositions,
		StopLossPct:     cfg.Trading.StopLossPct,
		TakeProfitPct:   cfg.Trading.TakeProfitPct,
		Profile:         domain.StrategyProfile(cfg.Trading.Strategy),
		ConfCutoff:      cfg.Trading.OrderTypeConfCutoff,
		OrderTimeout:    cfg.Trading.OrderTimeout(),
		KillEnabled:     !cfg.Kill.Disabled,
		KillCeiling:     cfg.Kill.ScoreCeiling,
		KillMaxLosses:   cfg.Kill.MaxLosses,
		KillDrawdownUSD: cfg.Kill.MaxDrawdownUSD,
	}, executor, store, gw, bus, logger)

	if saved, err := store.LoadKillSwitch(ctx); err == nil {
		eng.RestoreKillSwitch(saved)
		if saved.Tripped {
			slog.Warn("kill switch restored TRIPPED — no new entries until reset",
				"reason", saved.Reason,
				"losses", saved.ConsecutiveLosses,
				"pnl", fmt.Sprintf("$%.4f", saved.TotalPnL))
		} else if saved.ConsecutiveLosses > 0 || saved.TotalPnL != 0 {
			slog.Info("kill switch state restored",
				"losses", saved.ConsecutiveLosses,
				"pnl", fmt.Sprintf("$%.4f", saved.TotalPnL))
		}
	}
	if resetKill {
		eng.ResetKillSwitch(ctx)
		slog.Info("kill switch reset")
	}

	mon := monitor.New(monitor.Config{
		SweepInterval:  cfg.Monitor.Sweep(),
		MinHold:        cfg.Monitor.MinHold(),
		MaxHold:        cfg.Monitor.MaxHold(),
		StallSweeps:    cfg.Monitor.StallSweeps,
		StatusInterval: cfg.Monitor.Status(),
	}, eng, windows, notifier, bus, logger)

	det.Bind()
	eng.Bind(ctx)
	mon.Bind(ctx)

	bus.Register(feed.EventDetection, func(payload any) {
		if d, ok := payload.(domain.Detection); ok {
			if err := notifier.NotifyDetection(ctx, d); err != nil {
				slog.Warn("notifier error", "err", err)
			}
		}
	})
	bus.Register(feed.EventTickSizeChange, func(payload any) {
		if ev, ok := payload.(feed.TickSizeEvent); ok {
			ticks.SetTickSize(ev.TokenID, ev.NewTick)
		}
	})
	if cfg.Feed.SubscribeNewMarkets {
		bus.Register(feed.EventNewMarket, func(payload any) {
			if ev, ok := payload.(feed.MarketEvent); ok && len(ev.AssetIDs) > 0 {
				if err := gw.Subscribe(ev.AssetIDs...); err != nil {
					slog.Warn("new market subscribe failed", "condition_id", ev.ConditionID, "err", err)
				}
			}
		})
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			slog.Info("metrics listener started", "addr", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				slog.Warn("metrics listener stopped", "err", err)
			}
		}()
	}

	windows.Start(ctx)
	gw.Start(ctx)
	mon.Start(ctx)

	if len(cfg.Feed.Assets) > 0 {
		if err := gw.Subscribe(cfg.Feed.Assets...); err != nil {
			return fmt.Errorf("subscribe configured assets: %w", err)
		}
		slog.Info("subscribed to configured assets", "count", len(cfg.Feed.Assets))
	} else if !cfg.Feed.SubscribeNewMarkets {
		slog.Warn("no assets configured and new-market subscription disabled — nothing to watch")
	}

	<-ctx.Done()
	slog.Info("shutting down...")

	mon.Close()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := eng.Drain(drainCtx); err != nil {
		slog.Warn("in-flight orders not fully drained", "err", err)
	}

	if err := gw.Close(); err != nil {
		slog.Warn("feed close", "err", err)
	}
	windows.Close()
	return nil
}

// buildDetectorConfig resolves the preset and lays any explicit config
// values over it. Zero fields keep the preset's value.
func buildDetectorConfig(dc config.DetectorConfig) (detector.Config, error) {
	det, err := detector.PresetConfig(dc.Preset)
	if err != nil {
		return detector.Config{}, err
	}
	if dc.VelocityThreshold > 0 {
		det.VelocityThreshold = dc.VelocityThreshold
	}
	if dc.MomentumThreshold > 0 {
		det.MomentumThreshold = dc.MomentumThreshold
	}
	if dc.VolumeSpikeMult > 0 {
		det.VolumeSpikeMult = dc.VolumeSpikeMult
	}
	if dc.MicroTickThreshold > 0 {
		det.MicroTickThreshold = dc.MicroTickThreshold
	}
	if dc.MinWindowAgeSeconds > 0 {
		det.MinWindowAge = time.Duration(dc.MinWindowAgeSeconds) * time.Second
	}
	if dc.VelocityWindowSeconds > 0 {
		det.VelocityWindow = time.Duration(dc.VelocityWindowSeconds) * time.Second
	}
	if dc.VolumeAvgLen > 0 {
		det.VolumeAvgLen = dc.VolumeAvgLen
	}
	if dc.WhaleNotionalUSD > 0 {
		det.WhaleNotionalUSD = dc.WhaleNotionalUSD
	}
	return det, nil
}
