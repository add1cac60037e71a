package domain

import "time"

// Side is the taker direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the liquidating side for a held direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType selects the CLOB time-in-force semantics.
type OrderType string

const (
	// OrderFAK fills whatever is immediately available at or better than
	// the limit and cancels the remainder.
	OrderFAK OrderType = "FAK"
	// OrderFOK fills the entire size immediately or cancels outright.
	OrderFOK OrderType = "FOK"
	// OrderGTC rests on the book until filled or cancelled.
	OrderGTC OrderType = "GTC"
)

// OrderRequest is a concrete instruction for the order executor.
type OrderRequest struct {
	TokenID     string
	ConditionID string
	Side        Side
	SizeUSD     float64 // taker notional for buys
	Shares      float64 // explicit share size for liquidations, 0 = derive from SizeUSD
	PriceLimit  float64 // worst acceptable price
	OrderType   OrderType
	NegRisk     bool
}

// OrderResult is the structured outcome of an order attempt. Success and
// Reason replace error returns for expected rejections so callers branch
// without unwrapping.
type OrderResult struct {
	Success      bool
	OrderID      string
	SharesFilled float64
	PriceFilled  float64
	Reason       string // "killed", "limited", "duplicate", "no liquidity", ...
	MarketClosed bool   // venue reported the market closed or resolved
	Err          error  // transport-level failure, nil on clean rejection
	SubmittedAt  time.Time
}

// Filled reports whether any quantity executed.
func (r OrderResult) Filled() bool {
	return r.Success && r.SharesFilled > 0
}

// LiquidityMetrics is the depth snapshot used to cap order size.
type LiquidityMetrics struct {
	AvailableDepthUSD float64
	BestPrice         float64
}
