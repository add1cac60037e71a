package domain

import "time"

// StrategyProfile selects the execution posture for an order.
type StrategyProfile string

const (
	StratConservative StrategyProfile = "conservative"
	StratBalanced     StrategyProfile = "balanced"
	StratAggressive   StrategyProfile = "aggressive"
	// StratAdaptive is a selection policy, not a posture: the assessor
	// resolves it to one of the concrete profiles per detection.
	StratAdaptive StrategyProfile = "adaptive"
)

// SizeMultiplier returns the profile's scaling over the base order size.
func (s StrategyProfile) SizeMultiplier() float64 {
	switch s {
	case StratConservative:
		return 0.5
	case StratAggressive:
		return 1.5
	default:
		return 1.0
	}
}

// RiskAssessment is the pre-flight verdict for a detection.
type RiskAssessment struct {
	Approved bool
	Reason   string // populated when rejected
	Strategy StrategyProfile
	SizeUSD  float64
	// MaxSlippage is the fractional price-limit offset from the current
	// price, capped at 2%.
	MaxSlippage float64
}

// KillSwitch halts new entries when volatility risk gets out of hand.
// A per-order gate rejects detections whose risk score exceeds the
// ceiling; sustained losses trip the switch entirely until reset.
type KillSwitch struct {
	Enabled      bool
	ScoreCeiling float64

	ConsecutiveLosses int
	MaxLosses         int
	TotalPnL          float64
	MaxDrawdown       float64 // negative dollar threshold

	Tripped   bool
	TrippedAt time.Time
	Reason    string
}

// Blocks reports whether a detection with the given risk score must be
// rejected before any order call.
func (k *KillSwitch) Blocks(riskScore float64) bool {
	if !k.Enabled {
		return false
	}
	if k.Tripped {
		return true
	}
	return riskScore > k.ScoreCeiling
}

// RecordLoss adds a realized loss and may trip the switch.
func (k *KillSwitch) RecordLoss(loss float64) {
	k.ConsecutiveLosses++
	k.TotalPnL += loss
	if k.MaxLosses > 0 && k.ConsecutiveLosses >= k.MaxLosses {
		k.trip("consecutive losses")
	}
	if k.MaxDrawdown < 0 && k.TotalPnL < k.MaxDrawdown {
		k.trip("max drawdown exceeded")
	}
}

// RecordWin resets the consecutive-loss counter.
func (k *KillSwitch) RecordWin(profit float64) {
	k.ConsecutiveLosses = 0
	k.TotalPnL += profit
}

// Reset re-arms a tripped switch. Loss counters restart from zero;
// cumulative PnL is kept.
func (k *KillSwitch) Reset() {
	k.Tripped = false
	k.Reason = ""
	k.ConsecutiveLosses = 0
}

func (k *KillSwitch) trip(reason string) {
	if k.Tripped {
		return
	}
	k.Tripped = true
	k.TrippedAt = time.Now()
	k.Reason = reason
}
