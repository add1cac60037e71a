// Package engine turns detections into risk-bounded orders and owns the
// open-position registry. Gates run synchronously on the dispatch
// goroutine; the order round trip runs in its own goroutine and
// re-serializes through the registry mutex.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyflash/internal/domain"
	"github.com/alejandrodnm/polyflash/internal/feed"
	"github.com/alejandrodnm/polyflash/internal/obs"
	"github.com/alejandrodnm/polyflash/internal/ports"
)

const (
	defaultBaseOrderUSD  = 10.0
	defaultMaxPositions  = 3
	defaultStopLossPct   = 0.10
	defaultTakeProfitPct = 0.15
	defaultConfCutoff    = 0.70
	defaultOrderTimeout  = 10 * time.Second
	defaultKillCeiling   = 90.0
	defaultKillLosses    = 3
	defaultKillDrawdown  = -25.0

	minOrderUSD       = 1.0
	balanceReserveUSD = 0.5
	liquidityFraction = 0.5

	slippageCap          = 0.02
	slippageConservative = 0.005
	slippageBalanced     = 0.01
	slippageAggressive   = 0.02
)

// Subscriber is the slice of the gateway the engine needs: keeping the
// feed subscribed to tokens it holds positions in.
type Subscriber interface {
	Subscribe(tokenIDs ...string) error
	Unsubscribe(tokenIDs ...string) error
}

// Config holds execution tunables.
type Config struct {
	BaseOrderUSD  float64
	MaxPositions  int
	StopLossPct   float64
	TakeProfitPct float64

	// Profile is the configured strategy. StratAdaptive resolves to a
	// concrete posture per detection.
	Profile domain.StrategyProfile
	// ConfCutoff switches adaptive orders between partial-fill FAK
	// (above) and all-or-nothing FOK (at or below).
	ConfCutoff float64

	OrderTimeout time.Duration

	KillEnabled     bool
	KillCeiling     float64
	KillMaxLosses   int
	KillDrawdownUSD float64
}

func (c *Config) applyDefaults() {
	if c.BaseOrderUSD <= 0 {
		c.BaseOrderUSD = defaultBaseOrderUSD
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = defaultMaxPositions
	}
	if c.StopLossPct <= 0 {
		c.StopLossPct = defaultStopLossPct
	}
	if c.TakeProfitPct <= 0 {
		c.TakeProfitPct = defaultTakeProfitPct
	}
	if c.Profile == "" {
		c.Profile = domain.StratAdaptive
	}
	if c.ConfCutoff <= 0 {
		c.ConfCutoff = defaultConfCutoff
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = defaultOrderTimeout
	}
	if c.KillCeiling <= 0 {
		c.KillCeiling = defaultKillCeiling
	}
	if c.KillMaxLosses <= 0 {
		c.KillMaxLosses = defaultKillLosses
	}
	if c.KillDrawdownUSD >= 0 {
		c.KillDrawdownUSD = defaultKillDrawdown
	}
}

// Engine is the execution engine.
type Engine struct {
	cfg      Config
	executor ports.OrderExecutor
	storage  ports.Storage
	subs     Subscriber
	bus      *feed.Bus
	logger   *slog.Logger

	mu        sync.Mutex
	positions map[string]*domain.Position // by token id
	pending   map[string]bool             // tokens with an entry in flight
	kill      domain.KillSwitch
	stats     domain.ExecStats
	closed    bool

	inflight sync.WaitGroup
}

// New builds the engine. storage and subs may be nil (persistence or
// subscription pinning disabled).
func New(cfg Config, executor ports.OrderExecutor, storage ports.Storage, subs Subscriber, bus *feed.Bus, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:       cfg,
		executor:  executor,
		storage:   storage,
		subs:      subs,
		bus:       bus,
		logger:    logger,
		positions: make(map[string]*domain.Position),
		pending:   make(map[string]bool),
		kill: domain.KillSwitch{
			Enabled:      cfg.KillEnabled,
			ScoreCeiling: cfg.KillCeiling,
			MaxLosses:    cfg.KillMaxLosses,
			MaxDrawdown:  cfg.KillDrawdownUSD,
		},
	}
}

// RestoreKillSwitch loads a previously persisted kill-switch state,
// keeping the configured limits.
func (e *Engine) RestoreKillSwitch(k domain.KillSwitch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k.Enabled = e.kill.Enabled
	k.ScoreCeiling = e.kill.ScoreCeiling
	k.MaxLosses = e.kill.MaxLosses
	k.MaxDrawdown = e.kill.MaxDrawdown
	e.kill = k
	obs.SetKillSwitch(k.Tripped)
}

// Bind registers the engine on the detection stream.
func (e *Engine) Bind(ctx context.Context) {
	e.bus.Register(feed.EventDetection, func(payload any) {
		if d, ok := payload.(domain.Detection); ok {
			e.OnDetection(ctx, d)
		}
	})
}

// OnDetection runs the admission gates and, when the detection passes,
// hands off to the async placement path. Rejections never touch the
// executor.
func (e *Engine) OnDetection(ctx context.Context, d domain.Detection) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.stats.Attempted++

	if e.kill.Blocks(d.RiskScore) {
		e.stats.Killed++
		tripped := e.kill.Tripped
		e.mu.Unlock()
		obs.Orders.WithLabelValues("killed").Inc()
		e.logger.Error("engine: kill switch rejected entry",
			"token", shortID(d.TokenID),
			"risk", d.RiskScore,
			"tripped", tripped)
		return
	}

	if len(e.positions)+len(e.pending) >= e.cfg.MaxPositions {
		e.stats.Limited++
		e.mu.Unlock()
		obs.Orders.WithLabelValues("limited").Inc()
		e.logger.Info("engine: concurrency cap reached, entry rejected",
			"token", shortID(d.TokenID), "max", e.cfg.MaxPositions)
		return
	}

	if e.positions[d.TokenID] != nil || e.pending[d.TokenID] {
		e.stats.Skipped++
		e.mu.Unlock()
		obs.Orders.WithLabelValues("duplicate").Inc()
		e.logger.Debug("engine: position already open", "token", shortID(d.TokenID))
		return
	}

	assessment := e.assess(d)
	e.pending[d.TokenID] = true
	e.inflight.Add(1)
	e.mu.Unlock()

	go e.placeEntry(ctx, d, assessment)
}

// Positions returns a snapshot of the open positions.
func (e *Engine) Positions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

// Position returns the open position for a token, if any.
func (e *Engine) Position(tokenID string) (domain.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[tokenID]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// MarkSweep records the monitor's per-sweep observation on a position:
// current price and whether it improved since the last sweep.
func (e *Engine) MarkSweep(tokenID string, price float64) (domain.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[tokenID]
	if !ok {
		return domain.Position{}, false
	}
	if price > 0 {
		if p.Improved(price) {
			p.StallTicks = 0
		} else {
			p.StallTicks++
		}
		p.LastPrice = price
	}
	return *p, true
}

// Stats returns a copy of the running execution counters.
func (e *Engine) Stats() domain.ExecStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// KillSwitch returns a copy of the current kill-switch state.
func (e *Engine) KillSwitch() domain.KillSwitch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kill
}

// ResetKillSwitch re-arms a tripped switch.
func (e *Engine) ResetKillSwitch(ctx context.Context) {
	e.mu.Lock()
	e.kill.Reset()
	k := e.kill
	e.mu.Unlock()
	obs.SetKillSwitch(false)
	e.persistKillSwitch(ctx, k)
	e.logger.Info("engine: kill switch reset")
}

// Drain stops accepting detections and waits for in-flight orders to
// settle, up to the context deadline.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
