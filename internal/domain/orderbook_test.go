package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderBook_BestBid_Empty(t *testing.T) {
	assert.Equal(t, 0.0, OrderBook{}.BestBid())
	assert.Equal(t, 0.0, OrderBook{}.BestAsk())
}

func TestOrderBook_Midpoint(t *testing.T) {
	ob := OrderBook{
		Bids: []BookEntry{{Price: 0.70, Size: 100}},
		Asks: []BookEntry{{Price: 0.72, Size: 150}},
	}
	assert.InDelta(t, 0.71, ob.Midpoint(), 0.0001)
	assert.InDelta(t, 0.02, ob.Spread(), 0.0001)
}

func TestOrderBook_AskDepthUSDC(t *testing.T) {
	ob := OrderBook{
		Asks: []BookEntry{
			{Price: 0.50, Size: 100},
			{Price: 0.52, Size: 200},
			{Price: 0.60, Size: 500},
		},
	}
	// hasta 0.52: 100×0.50 + 200×0.52 = 154
	assert.InDelta(t, 154.0, ob.AskDepthUSDC(0.52), 0.001)
	assert.Equal(t, 0.0, ob.AskDepthUSDC(0.40))
}

func TestOrderBook_BidDepthUSDC(t *testing.T) {
	ob := OrderBook{
		Bids: []BookEntry{
			{Price: 0.50, Size: 100},
			{Price: 0.48, Size: 200},
			{Price: 0.40, Size: 500},
		},
	}
	// hasta 0.48: 100×0.50 + 200×0.48 = 146
	assert.InDelta(t, 146.0, ob.BidDepthUSDC(0.48), 0.001)
}

func TestOrderBook_DepthForSide(t *testing.T) {
	ob := OrderBook{
		Bids: []BookEntry{{Price: 0.50, Size: 100}},
		Asks: []BookEntry{{Price: 0.52, Size: 100}},
	}
	assert.InDelta(t, 52.0, ob.DepthForSide(SideBuy, 0.52), 0.001)
	assert.InDelta(t, 50.0, ob.DepthForSide(SideSell, 0.50), 0.001)
}

func TestParsePrice(t *testing.T) {
	assert.Equal(t, 0.72, ParsePrice("0.72"))
	assert.Equal(t, 0.0, ParsePrice(""))
}
