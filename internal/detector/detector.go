// Package detector scores incoming price updates against the per-token
// windows and emits detections when any configured threshold fires.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyflash/internal/domain"
	"github.com/alejandrodnm/polyflash/internal/feed"
	"github.com/alejandrodnm/polyflash/internal/obs"
	"github.com/alejandrodnm/polyflash/internal/ports"
	"github.com/alejandrodnm/polyflash/internal/window"
)

// Config holds the detection thresholds and weights. The two named
// presets reproduce the historical swing and high-frequency tunings; any
// field can be overridden from the config file on top of a preset.
type Config struct {
	Preset string

	VelocityThreshold  float64       // fractional move to fire on
	MomentumThreshold  float64       // price change per second
	VolumeSpikeMult    float64       // current / rolling avg
	MicroTickThreshold float64       // high-frequency only
	MinWindowAge       time.Duration // window span required before velocity fires
	VelocityWindow     time.Duration // lookback for the velocity baseline
	MicroWindow        time.Duration // lookback for the micro baseline
	VolumeAvgLen       int           // volumes in the spike baseline
	HighFreq           bool          // enables micro-tick and imbalance

	Weights domain.SignalWeights

	WhaleNotionalUSD float64
	EnrichTimeout    time.Duration
}

// SwingPreset is the standard tuning: 30-sample windows, velocity over a
// matured window carries the signal.
func SwingPreset() Config {
	return Config{
		Preset:            "swing",
		VelocityThreshold: 0.05,
		MomentumThreshold: 0.01,
		VolumeSpikeMult:   3.0,
		MinWindowAge:      30 * time.Second,
		VelocityWindow:    60 * time.Second,
		VolumeAvgLen:      5,
		Weights:           domain.SwingWeights(),
		WhaleNotionalUSD:  10_000,
		EnrichTimeout:     3 * time.Second,
	}
}

// HighFreqPreset is the fast tuning: tighter thresholds, micro-tick and
// book imbalance active, velocity fires as soon as two samples exist.
func HighFreqPreset() Config {
	return Config{
		Preset:             "highfreq",
		VelocityThreshold:  0.02,
		MomentumThreshold:  0.005,
		VolumeSpikeMult:    2.5,
		MicroTickThreshold: 0.005,
		VelocityWindow:     10 * time.Second,
		MicroWindow:        500 * time.Millisecond,
		VolumeAvgLen:       5,
		HighFreq:           true,
		Weights:            domain.HighFreqWeights(),
		WhaleNotionalUSD:   10_000,
		EnrichTimeout:      3 * time.Second,
	}
}

// PresetConfig resolves a preset by name.
func PresetConfig(name string) (Config, error) {
	switch name {
	case "", "swing":
		return SwingPreset(), nil
	case "highfreq":
		return HighFreqPreset(), nil
	default:
		return Config{}, fmt.Errorf("detector.PresetConfig: unknown preset %q", name)
	}
}

// Engine evaluates price updates. Stateless beyond the window store;
// safe to call from the feed dispatch goroutine.
type Engine struct {
	cfg     Config
	store   *window.Store
	meta    ports.MetadataProvider
	storage ports.Storage
	bus     *feed.Bus
	logger  *slog.Logger
}

// New builds the engine. storage may be nil when persistence is disabled.
func New(cfg Config, store *window.Store, meta ports.MetadataProvider, storage ports.Storage, bus *feed.Bus, logger *slog.Logger) *Engine {
	if cfg.VolumeAvgLen <= 0 {
		cfg.VolumeAvgLen = 5
	}
	if cfg.EnrichTimeout <= 0 {
		cfg.EnrichTimeout = 3 * time.Second
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		meta:    meta,
		storage: storage,
		bus:     bus,
		logger:  logger,
	}
}

// Bind registers the engine on every price-bearing feed kind plus raw
// trades for whale classification.
func (e *Engine) Bind() {
	onPrice := func(payload any) {
		if u, ok := payload.(feed.PriceUpdate); ok {
			e.OnPriceUpdate(u)
		}
	}
	e.bus.Register(feed.EventLastTradePrice, onPrice)
	e.bus.Register(feed.EventPriceChange, onPrice)
	e.bus.Register(feed.EventBook, onPrice)
	e.bus.Register(feed.EventBestBidAsk, onPrice)
	e.bus.Register(feed.EventTrade, func(payload any) {
		if tr, ok := payload.(feed.TradeEvent); ok {
			e.OnTrade(tr)
		}
	})
}

// OnPriceUpdate records the sample and fires a detection when any
// threshold is crossed.
func (e *Engine) OnPriceUpdate(u feed.PriceUpdate) {
	if u.Price <= 0 || u.TokenID == "" {
		return
	}
	sample := domain.PriceSample{
		Price:     u.Price,
		Volume:    u.Size,
		BestBid:   u.BestBid,
		BestAsk:   u.BestAsk,
		Timestamp: u.Timestamp,
	}
	observation := e.store.Observe(u.TokenID, sample, e.cfg.VolumeAvgLen)

	d, fired := e.evaluate(u, sample, observation)
	if !fired {
		return
	}

	obs.Detections.WithLabelValues(d.Strategy).Inc()
	e.logger.Info("detector: signal fired",
		"token", shortID(d.TokenID),
		"strategy", d.Strategy,
		"velocity", fmt.Sprintf("%.4f", d.Velocity),
		"confidence", fmt.Sprintf("%.2f", d.Confidence),
		"risk", fmt.Sprintf("%.1f", d.RiskScore),
		"price", d.NewPrice)

	e.publish(d)
}

// evaluate runs the scoring pass over the freshly updated window.
func (e *Engine) evaluate(u feed.PriceUpdate, sample domain.PriceSample, observation window.Observation) (domain.Detection, bool) {
	w := observation.Window
	now := sample.Timestamp

	velocity := 0.0
	oldPrice := 0.0
	if base, ok := w.OldestWithin(now, e.cfg.VelocityWindow); ok {
		matured := false
		if e.cfg.HighFreq {
			matured = w.Len() >= 2
		} else {
			matured = w.Span() >= e.cfg.MinWindowAge
		}
		if matured {
			velocity = domain.Velocity(base.Price, u.Price)
			oldPrice = base.Price
		}
	}
	if oldPrice == 0 {
		if prev := w.LastK(2); len(prev) == 2 {
			oldPrice = prev[0].Price
		} else {
			oldPrice = u.Price
		}
	}

	momentum := domain.Momentum(w.Samples)
	spike := domain.VolumeSpike(sample.Volume, observation.AvgVolume)

	micro := 0.0
	imbalance := 0.0
	if e.cfg.HighFreq {
		if base, ok := w.OldestWithin(now, e.cfg.MicroWindow); ok && w.Len() >= 2 {
			micro = domain.Velocity(base.Price, u.Price)
		}
		imbalance = domain.Imbalance(u.BestBid, u.BestAsk)
	}

	velocityHit := e.cfg.VelocityThreshold > 0 && abs(velocity) >= e.cfg.VelocityThreshold
	momentumHit := e.cfg.MomentumThreshold > 0 && abs(momentum) >= e.cfg.MomentumThreshold
	volumeHit := e.cfg.VolumeSpikeMult > 0 && spike >= e.cfg.VolumeSpikeMult
	microHit := e.cfg.HighFreq && e.cfg.MicroTickThreshold > 0 && abs(micro) >= e.cfg.MicroTickThreshold

	if !velocityHit && !momentumHit && !volumeHit && !microHit {
		return domain.Detection{}, false
	}

	return domain.Detection{
		TokenID:       u.TokenID,
		ConditionID:   u.ConditionID,
		OldPrice:      oldPrice,
		NewPrice:      u.Price,
		Velocity:      velocity,
		Momentum:      momentum,
		VolumeSpike:   spike,
		MicroVelocity: micro,
		Imbalance:     imbalance,
		Confidence:    domain.Confidence(e.cfg.Weights, microHit, velocityHit, momentumHit, volumeHit),
		RiskScore:     domain.RiskScore(velocity, momentum, spike),
		Strategy:      domain.ClassifyStrategy(microHit, momentumHit, volumeHit),
		Timestamp:     now,
	}, true
}

// publish enriches asynchronously and emits. The feed dispatch goroutine
// never waits on the metadata lookup.
func (e *Engine) publish(d domain.Detection) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.EnrichTimeout)
		defer cancel()

		info, err := e.meta.GetMetadata(ctx, d.TokenID, true)
		if err != nil {
			e.logger.Warn("detector: enrichment failed", "token", shortID(d.TokenID), "err", err)
			d.Question = domain.UnknownMarket
		} else {
			d.Question = info.Question
			d.Image = info.Image
			d.Slug = info.Slug
			if d.ConditionID == "" {
				d.ConditionID = info.ConditionID
			}
		}

		if e.storage != nil {
			if err := e.storage.SaveDetection(ctx, d); err != nil {
				e.logger.Warn("detector: save failed", "err", err)
			}
		}
		e.bus.Emit(feed.EventDetection, d)
	}()
}

// OnTrade classifies raw trades by notional. Trades do not feed the
// windows; last_trade_price already carries the same print.
func (e *Engine) OnTrade(tr feed.TradeEvent) {
	if e.cfg.WhaleNotionalUSD <= 0 {
		return
	}
	notional := tr.Price * tr.Size
	if notional < e.cfg.WhaleNotionalUSD {
		return
	}
	obs.WhaleTrades.Inc()
	whale := domain.WhaleTrade{
		TokenID:     tr.TokenID,
		Price:       tr.Price,
		Size:        tr.Size,
		NotionalUSD: notional,
		Side:        tr.Side,
		Timestamp:   tr.Timestamp,
	}
	e.logger.Info("detector: whale trade",
		"token", shortID(tr.TokenID),
		"side", string(tr.Side),
		"notional", fmt.Sprintf("$%.2f", notional))
	e.bus.Emit(feed.EventWhaleTrade, whale)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
