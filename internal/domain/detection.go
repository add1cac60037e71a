package domain

import "time"

// Strategy tags assigned to a detection, highest-precedence signal first.
// Simultaneous momentum and volume hits collapse into StrategyCombined.
const (
	StrategyMicroTick = "micro-tick"
	StrategyCombined  = "combined"
	StrategyMomentum  = "momentum"
	StrategyVolume    = "volume"
	StrategyVelocity  = "velocity"
)

// Detection is a fired market signal: a price move (or volume anomaly) on
// one token that crossed at least one configured threshold.
type Detection struct {
	TokenID     string
	ConditionID string

	OldPrice float64
	NewPrice float64

	Velocity      float64 // fractional change vs window baseline
	Momentum      float64 // price change per second
	VolumeSpike   float64 // current / rolling avg, 0 when unknown
	MicroVelocity float64 // sub-second change, high-frequency preset only
	Imbalance     float64 // bestBid/bestAsk, 0 without a two-sided book

	Confidence float64 // [0,1]
	RiskScore  float64 // [0,100]
	Strategy   string  // which signal fired, see Strategy* constants

	Timestamp time.Time

	// Best-effort enrichment; placeholder text when the metadata lookup
	// fails or times out.
	Question string
	Image    string
	Slug     string
}

// Direction returns the trade side implied by the move: positive velocity
// buys, negative sells.
func (d Detection) Direction() Side {
	if d.Velocity < 0 {
		return SideSell
	}
	return SideBuy
}

// ClassifyStrategy picks the tag for a set of threshold hits. Micro-tick
// wins outright; momentum and volume together tag as combined; otherwise
// the strongest single signal in fixed order momentum > volume > velocity.
func ClassifyStrategy(microHit, momentumHit, volumeHit bool) string {
	switch {
	case microHit:
		return StrategyMicroTick
	case momentumHit && volumeHit:
		return StrategyCombined
	case momentumHit:
		return StrategyMomentum
	case volumeHit:
		return StrategyVolume
	default:
		return StrategyVelocity
	}
}

// WhaleTrade is a raw venue trade whose notional crossed the configured
// whale threshold.
type WhaleTrade struct {
	TokenID     string
	Price       float64
	Size        float64
	NotionalUSD float64
	Side        Side
	Timestamp   time.Time
}
