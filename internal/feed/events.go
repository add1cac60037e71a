package feed

import (
	"time"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

// EventKind discriminates bus events. Raw kinds mirror the upstream
// event_type field; derived kinds are produced by the pipeline.
type EventKind string

const (
	// Raw feed kinds, one per upstream event_type.
	EventLastTradePrice EventKind = "last_trade_price"
	EventPriceChange    EventKind = "price_change"
	EventBook           EventKind = "book"
	EventBestBidAsk     EventKind = "best_bid_ask"
	EventNewMarket      EventKind = "new_market"
	EventMarketResolved EventKind = "market_resolved"
	EventTickSizeChange EventKind = "tick_size_change"
	EventTrade          EventKind = "trade"

	// Derived kinds. Price updates ride the raw kinds above; every
	// price-bearing frame is emitted as a PriceUpdate payload.
	EventDetection      EventKind = "detection"       // payload domain.Detection
	EventWhaleTrade     EventKind = "whale_trade"     // payload domain.WhaleTrade
	EventFill           EventKind = "fill"            // payload Fill
	EventPositionUpdate EventKind = "position_update" // payload PositionUpdate
)

// PriceUpdate is the normalized price point extracted from any raw price
// bearing event. Size is non-zero only for trade-derived updates; BestBid
// and BestAsk only when the event carried quotes.
type PriceUpdate struct {
	TokenID     string
	ConditionID string
	Price       float64
	Size        float64
	BestBid     float64
	BestAsk     float64
	Source      EventKind
	Timestamp   time.Time
}

// TradeEvent is a raw venue trade prior to whale classification.
type TradeEvent struct {
	TokenID   string
	Price     float64
	Size      float64
	Side      domain.Side
	Timestamp time.Time
}

// MarketEvent announces instrument lifecycle changes (new market listed,
// market resolved).
type MarketEvent struct {
	ConditionID string
	AssetIDs    []string
	Question    string
	Timestamp   time.Time
}

// TickSizeEvent carries a minimum tick change for a token.
type TickSizeEvent struct {
	TokenID string
	OldTick float64
	NewTick float64
}

// Fill reports an executed order, entry or liquidation.
type Fill struct {
	PositionID string
	TokenID    string
	Side       domain.Side
	Price      float64
	Shares     float64
	SizeUSD    float64
	Closing    bool
	Timestamp  time.Time
}

// PositionUpdate reports a position opening or closing. Trade is set only
// on close.
type PositionUpdate struct {
	Position domain.Position
	Trade    *domain.ClosedTrade
}
