// Package monitor sweeps open positions against their exit conditions
// and drives liquidations through the execution engine.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyflash/internal/domain"
	"github.com/alejandrodnm/polyflash/internal/feed"
	"github.com/alejandrodnm/polyflash/internal/ports"
)

const (
	defaultSweepInterval  = 5 * time.Second
	defaultMinHold        = 25 * time.Second
	defaultMaxHold        = 120 * time.Second
	defaultStallSweeps    = 3
	defaultStatusInterval = 30 * time.Second
)

// PositionBook is the slice of the execution engine the monitor drives.
type PositionBook interface {
	Positions() []domain.Position
	MarkSweep(tokenID string, price float64) (domain.Position, bool)
	ClosePosition(ctx context.Context, tokenID, reason string, refPrice float64) (domain.ClosedTrade, bool)
	Stats() domain.ExecStats
}

// PriceSource supplies the latest observed price per token.
type PriceSource interface {
	LastPrice(tokenID string) (float64, bool)
}

// Config holds sweep cadence and exit thresholds.
type Config struct {
	SweepInterval time.Duration
	// MinHold is the dwell floor before a momentum stall may fire.
	MinHold time.Duration
	// MaxHold is the hard time stop.
	MaxHold time.Duration
	// StallSweeps is how many consecutive non-improving sweeps count as a
	// stall.
	StallSweeps int
	// StatusInterval paces the open-position summary, 0 disables it.
	StatusInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.MinHold <= 0 {
		c.MinHold = defaultMinHold
	}
	if c.MaxHold <= 0 {
		c.MaxHold = defaultMaxHold
	}
	if c.StallSweeps <= 0 {
		c.StallSweeps = defaultStallSweeps
	}
	if c.StatusInterval < 0 {
		c.StatusInterval = 0
	}
}

// Monitor runs the periodic exit sweep.
type Monitor struct {
	cfg      Config
	book     PositionBook
	prices   PriceSource
	notifier ports.Notifier
	bus      *feed.Bus
	logger   *slog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds the monitor. notifier may be nil.
func New(cfg Config, book PositionBook, prices PriceSource, notifier ports.Notifier, bus *feed.Bus, logger *slog.Logger) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:      cfg,
		book:     book,
		prices:   prices,
		notifier: notifier,
		bus:      bus,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Bind registers the emergency-exit hook: a resolved market force-closes
// any position on it, outside the sweep cadence and ignoring dwell
// floors.
func (m *Monitor) Bind(ctx context.Context) {
	m.bus.Register(feed.EventMarketResolved, func(payload any) {
		if ev, ok := payload.(feed.MarketEvent); ok {
			m.EmergencyExit(ctx, ev)
		}
	})
}

// Start launches the sweep loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Close stops the sweep loop and waits for it to finish.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	var statusC <-chan time.Time
	if m.cfg.StatusInterval > 0 {
		status := time.NewTicker(m.cfg.StatusInterval)
		defer status.Stop()
		statusC = status.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case now := <-ticker.C:
			m.sweep(ctx, now)
		case <-statusC:
			m.printStatus(ctx)
		}
	}
}

// sweep evaluates every open position once, first matching exit wins.
func (m *Monitor) sweep(ctx context.Context, now time.Time) {
	for _, pos := range m.book.Positions() {
		price, _ := m.prices.LastPrice(pos.TokenID)

		swept, live := m.book.MarkSweep(pos.TokenID, price)
		if !live {
			continue
		}

		evalPrice := price
		if evalPrice <= 0 {
			evalPrice = swept.LastPrice
		}
		if evalPrice <= 0 {
			evalPrice = swept.EntryPrice
		}

		reason, exit := m.exitReason(swept, evalPrice, now)
		if !exit {
			m.logger.Debug("monitor: holding",
				"token", shortID(swept.TokenID),
				"price", fmt.Sprintf("%.4f", evalPrice),
				"pnl", fmt.Sprintf("$%.2f", swept.UnrealizedPnL(evalPrice)),
				"stall", swept.StallTicks,
				"age", swept.Age(now).Round(time.Second))
			continue
		}

		trade, closed := m.book.ClosePosition(ctx, swept.TokenID, reason, evalPrice)
		if !closed {
			continue
		}
		m.notifyTrade(ctx, trade)
	}
}

// exitReason applies the fixed exit precedence: target, stall, stop,
// time.
func (m *Monitor) exitReason(p domain.Position, price float64, now time.Time) (string, bool) {
	switch {
	case p.TargetHit(price):
		return domain.ExitTargetHit, true
	case p.StallTicks >= m.cfg.StallSweeps && p.Age(now) >= m.cfg.MinHold:
		return domain.ExitMomentumStall, true
	case p.StopHit(price):
		return domain.ExitStopLoss, true
	case p.Age(now) > m.cfg.MaxHold:
		return domain.ExitTimeStop, true
	}
	return "", false
}

// EmergencyExit force-closes every position on a resolved market.
func (m *Monitor) EmergencyExit(ctx context.Context, ev feed.MarketEvent) {
	resolved := make(map[string]bool, len(ev.AssetIDs))
	for _, id := range ev.AssetIDs {
		resolved[id] = true
	}

	for _, pos := range m.book.Positions() {
		if !resolved[pos.TokenID] && (ev.ConditionID == "" || pos.ConditionID != ev.ConditionID) {
			continue
		}
		price, _ := m.prices.LastPrice(pos.TokenID)
		m.logger.Warn("monitor: market resolved, emergency exit",
			"token", shortID(pos.TokenID),
			"question", domain.TruncateQuestion(pos.Question, pos.ConditionID, 40))
		trade, closed := m.book.ClosePosition(ctx, pos.TokenID, domain.ExitEmergency, price)
		if closed {
			m.notifyTrade(ctx, trade)
		}
	}
}

func (m *Monitor) notifyTrade(ctx context.Context, trade domain.ClosedTrade) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyTrade(ctx, trade); err != nil {
		m.logger.Warn("monitor: trade notification failed", "err", err)
	}
}

// printStatus pushes the open-position table to the notifier.
func (m *Monitor) printStatus(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	positions := m.book.Positions()
	if len(positions) == 0 {
		return
	}
	if err := m.notifier.NotifyPositions(ctx, positions, m.book.Stats()); err != nil {
		m.logger.Warn("monitor: status notification failed", "err", err)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
