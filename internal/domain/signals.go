package domain

import "math"

// Velocity returns the fractional price change against a baseline price:
// (new - old) / old. Returns 0 when the baseline is not positive.
func Velocity(oldPrice, newPrice float64) float64 {
	if oldPrice <= 0 {
		return 0
	}
	return (newPrice - oldPrice) / oldPrice
}

// Momentum returns the per-second rate of price change over the most
// recent three samples:
//
//	m = (price[n-1] - price[n-3]) / (t[n-1] - t[n-3])  [per second]
//
// Requires at least 3 samples with increasing timestamps, else 0.
func Momentum(samples []PriceSample) float64 {
	n := len(samples)
	if n < 3 {
		return 0
	}
	first := samples[n-3]
	last := samples[n-1]
	dt := last.Timestamp.Sub(first.Timestamp).Seconds()
	if dt <= 0 {
		return 0
	}
	return (last.Price - first.Price) / dt
}

// VolumeSpike returns the ratio of the current volume to the average of
// the last 5 recorded volumes. Requires at least 5 prior volumes, else 0.
func VolumeSpike(current, avgRecent float64) float64 {
	if avgRecent <= 0 {
		return 0
	}
	return current / avgRecent
}

// Imbalance returns the top-of-book pressure ratio bestBid/bestAsk.
// Above 1 the bid side leads. Returns 0 without a two-sided book.
func Imbalance(bestBid, bestAsk float64) float64 {
	if bestBid <= 0 || bestAsk <= 0 {
		return 0
	}
	return bestBid / bestAsk
}

// RiskScore condenses a detection into a 0-100 volatility score:
//
//	score = |velocity|×2 + |momentum|×1.5 + (spike > 5 ? spike×0.5 : 0)
//
// Volume spikes beyond 5x the rolling average count as manipulation risk,
// not as signal quality; they are the main path to the kill ceiling.
func RiskScore(velocity, momentum, volumeSpike float64) float64 {
	score := math.Abs(velocity)*2 + math.Abs(momentum)*1.5
	if volumeSpike > 5 {
		score += volumeSpike * 0.5
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// SignalWeights is the confidence weight table, one weight per signal.
// Weights are summed over satisfied thresholds and capped at 1.0, so a
// table summing above 1 saturates with fewer hits.
type SignalWeights struct {
	MicroVelocity float64 `yaml:"micro_velocity"`
	Velocity      float64 `yaml:"velocity"`
	Momentum      float64 `yaml:"momentum"`
	VolumeSpike   float64 `yaml:"volume_spike"`
}

// SwingWeights mirrors the original swing-trading tuning: no micro signal,
// velocity carries the detection.
func SwingWeights() SignalWeights {
	return SignalWeights{Velocity: 0.4, Momentum: 0.3, VolumeSpike: 0.3}
}

// HighFreqWeights mirrors the original high-frequency tuning: micro-tick
// dominates and the table deliberately sums past 1.0.
func HighFreqWeights() SignalWeights {
	return SignalWeights{MicroVelocity: 0.5, Velocity: 0.3, Momentum: 0.2, VolumeSpike: 0.2}
}

// Confidence sums the weights of the satisfied thresholds, capped at 1.0.
// Adding a satisfied signal never lowers the result.
func Confidence(w SignalWeights, microHit, velocityHit, momentumHit, volumeHit bool) float64 {
	c := 0.0
	if microHit {
		c += w.MicroVelocity
	}
	if velocityHit {
		c += w.Velocity
	}
	if momentumHit {
		c += w.Momentum
	}
	if volumeHit {
		c += w.VolumeSpike
	}
	if c > 1.0 {
		return 1.0
	}
	return c
}
