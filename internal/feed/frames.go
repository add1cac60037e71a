package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alejandrodnm/polyflash/internal/domain"
)

// Text keepalive payloads exchanged with the CLOB feed.
const (
	pingText = "PING"
	pongText = "PONG"
)

// Credentials is the signed triple required by the authenticated channel.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Complete reports whether all three fields are present.
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.Secret != "" && c.Passphrase != ""
}

type authPayload struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// subscribeFrame is both the initial channel subscription (Type set,
// Operation empty) and the incremental add/remove (Operation set).
type subscribeFrame struct {
	Auth      *authPayload `json:"auth,omitempty"`
	Type      string       `json:"type,omitempty"`
	AssetIDs  []string     `json:"assets_ids"`
	Operation string       `json:"operation,omitempty"`
}

func initialFrame(channel string, assetIDs []string, creds *Credentials) subscribeFrame {
	f := subscribeFrame{Type: channel, AssetIDs: assetIDs}
	if creds != nil {
		f.Auth = &authPayload{APIKey: creds.APIKey, Secret: creds.Secret, Passphrase: creds.Passphrase}
	}
	return f
}

func incrementalFrame(assetIDs []string, subscribe bool) subscribeFrame {
	op := "subscribe"
	if !subscribe {
		op = "unsubscribe"
	}
	return subscribeFrame{AssetIDs: assetIDs, Operation: op}
}

// rawEvent is the envelope shared by every inbound event frame. Numeric
// fields arrive as strings; json.Number keeps the parse lossless until
// mapping.
type rawEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Market    string      `json:"market"` // condition id
	Price     json.Number `json:"price"`
	Size      json.Number `json:"size"`
	Side      string      `json:"side"`
	Timestamp json.Number `json:"timestamp"`

	// book / best_bid_ask
	Bids    []rawLevel  `json:"bids"`
	Asks    []rawLevel  `json:"asks"`
	BestBid json.Number `json:"best_bid"`
	BestAsk json.Number `json:"best_ask"`

	// price_change
	Changes []rawChange `json:"changes"`

	// new_market / market_resolved
	AssetIDs []string `json:"assets_ids"`
	Question string   `json:"question"`

	// tick_size_change
	OldTickSize json.Number `json:"old_tick_size"`
	NewTickSize json.Number `json:"new_tick_size"`
}

type rawLevel struct {
	Price json.Number `json:"price"`
	Size  json.Number `json:"size"`
}

type rawChange struct {
	Price json.Number `json:"price"`
	Side  string      `json:"side"`
	Size  json.Number `json:"size"`
}

func num(n json.Number) float64 {
	v, _ := n.Float64()
	return v
}

// eventTime converts the upstream millisecond timestamp, falling back to
// now when absent.
func eventTime(n json.Number, now time.Time) time.Time {
	ms, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || ms <= 0 {
		return now
	}
	return time.UnixMilli(ms)
}

// parseFrame decodes one inbound JSON frame into its kind and payload.
// Unknown kinds return ok=false with no error; malformed JSON returns an
// error. The caller drops both without propagating.
func parseFrame(data []byte, now time.Time) (EventKind, any, bool, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, false, fmt.Errorf("feed.parseFrame: %w", err)
	}

	ts := eventTime(raw.Timestamp, now)

	switch EventKind(raw.EventType) {
	case EventLastTradePrice:
		return EventLastTradePrice, PriceUpdate{
			TokenID:     raw.AssetID,
			ConditionID: raw.Market,
			Price:       num(raw.Price),
			Size:        num(raw.Size),
			Source:      EventLastTradePrice,
			Timestamp:   ts,
		}, true, nil

	case EventPriceChange:
		u := PriceUpdate{
			TokenID:     raw.AssetID,
			ConditionID: raw.Market,
			BestBid:     num(raw.BestBid),
			BestAsk:     num(raw.BestAsk),
			Source:      EventPriceChange,
			Timestamp:   ts,
		}
		if u.BestBid > 0 && u.BestAsk > 0 {
			u.Price = (u.BestBid + u.BestAsk) / 2
		} else if len(raw.Changes) > 0 {
			u.Price = num(raw.Changes[len(raw.Changes)-1].Price)
		}
		return EventPriceChange, u, true, nil

	case EventBook:
		book := domain.OrderBook{TokenID: raw.AssetID}
		for _, b := range raw.Bids {
			book.Bids = append(book.Bids, domain.BookEntry{Price: num(b.Price), Size: num(b.Size)})
		}
		for _, a := range raw.Asks {
			book.Asks = append(book.Asks, domain.BookEntry{Price: num(a.Price), Size: num(a.Size)})
		}
		u := PriceUpdate{
			TokenID:     raw.AssetID,
			ConditionID: raw.Market,
			Price:       book.Midpoint(),
			BestBid:     book.BestBid(),
			BestAsk:     book.BestAsk(),
			Source:      EventBook,
			Timestamp:   ts,
		}
		return EventBook, u, true, nil

	case EventBestBidAsk:
		u := PriceUpdate{
			TokenID:     raw.AssetID,
			ConditionID: raw.Market,
			BestBid:     num(raw.BestBid),
			BestAsk:     num(raw.BestAsk),
			Source:      EventBestBidAsk,
			Timestamp:   ts,
		}
		if u.BestBid > 0 && u.BestAsk > 0 {
			u.Price = (u.BestBid + u.BestAsk) / 2
		}
		return EventBestBidAsk, u, true, nil

	case EventTrade:
		side := domain.SideBuy
		if raw.Side == "SELL" {
			side = domain.SideSell
		}
		return EventTrade, TradeEvent{
			TokenID:   raw.AssetID,
			Price:     num(raw.Price),
			Size:      num(raw.Size),
			Side:      side,
			Timestamp: ts,
		}, true, nil

	case EventNewMarket:
		return EventNewMarket, MarketEvent{
			ConditionID: raw.Market,
			AssetIDs:    raw.AssetIDs,
			Question:    raw.Question,
			Timestamp:   ts,
		}, true, nil

	case EventMarketResolved:
		return EventMarketResolved, MarketEvent{
			ConditionID: raw.Market,
			AssetIDs:    raw.AssetIDs,
			Question:    raw.Question,
			Timestamp:   ts,
		}, true, nil

	case EventTickSizeChange:
		return EventTickSizeChange, TickSizeEvent{
			TokenID: raw.AssetID,
			OldTick: num(raw.OldTickSize),
			NewTick: num(raw.NewTickSize),
		}, true, nil
	}

	// unrecognized event kinds are a deliberate no-op
	return "", nil, false, nil
}
