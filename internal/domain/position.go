package domain

import "time"

// Exit reasons recorded when the monitor closes a position, in sweep
// precedence order. The first matching condition wins within one sweep.
const (
	ExitTargetHit     = "TARGET HIT"
	ExitMomentumStall = "MOMENTUM STALL"
	ExitStopLoss      = "STOP LOSS"
	ExitTimeStop      = "TIME STOP"
	ExitEmergency     = "EMERGENCY"
)

// Position is a live holding opened from a detection fill. Created by the
// execution engine, mutated only by monitor sweeps, removed on exit.
type Position struct {
	ID          string // UUID, local tracking
	TokenID     string
	ConditionID string
	Question    string

	Direction  Side
	EntryPrice float64
	Shares     float64
	SizeUSD    float64

	StopLoss   float64 // absolute price, already direction-adjusted
	TakeProfit float64 // absolute price, already direction-adjusted
	Strategy   StrategyProfile

	OpenedAt   time.Time
	LastPrice  float64
	StallTicks int // consecutive sweeps without price improvement
}

// Age returns how long the position has been open.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// UnrealizedPnL values the position at price. Sell-direction entries
// profit when price falls.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.Direction == SideSell {
		return (p.EntryPrice - price) * p.Shares
	}
	return (price - p.EntryPrice) * p.Shares
}

// TargetHit reports whether price crossed the take-profit level.
func (p Position) TargetHit(price float64) bool {
	if p.Direction == SideSell {
		return price <= p.TakeProfit
	}
	return price >= p.TakeProfit
}

// StopHit reports whether price crossed the stop-loss level.
func (p Position) StopHit(price float64) bool {
	if p.Direction == SideSell {
		return price >= p.StopLoss
	}
	return price <= p.StopLoss
}

// Improved reports whether price moved in the position's favor relative
// to the last sweep.
func (p Position) Improved(price float64) bool {
	if p.Direction == SideSell {
		return price < p.LastPrice
	}
	return price > p.LastPrice
}

// ClosedTrade is the persisted record of a completed round trip.
type ClosedTrade struct {
	PositionID  string
	TokenID     string
	ConditionID string
	Question    string
	Direction   Side
	EntryPrice  float64
	ExitPrice   float64
	Shares      float64
	PnLUSD      float64
	ExitReason  string
	Strategy    StrategyProfile
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// HoldTime returns the round-trip duration.
func (t ClosedTrade) HoldTime() time.Duration {
	return t.ClosedAt.Sub(t.OpenedAt)
}
