// Package obs exposes the Prometheus metrics the engine updates during
// operation, served at /metrics when the listener is enabled:
//
//   - polyflash_feed_state                       – connection state gauge (one labeled series per state)
//   - polyflash_feed_reconnects_total            – connect attempts
//   - polyflash_feed_frames_total{kind}          – inbound frames by event kind
//   - polyflash_feed_offline                     – 1 while the gateway is persistently offline
//   - polyflash_subscriptions_active             – tokens with refcount > 0
//   - polyflash_detections_total{strategy}       – detections by strategy tag
//   - polyflash_whale_trades_total               – trades above the whale notional
//   - polyflash_orders_total{result}             – order attempts by outcome
//   - polyflash_positions_open                   – open position count gauge
//   - polyflash_exits_total{reason}              – closes by exit reason
//   - polyflash_pnl_usd                          – cumulative realized PnL
//   - polyflash_kill_switch_active               – 1 while the kill switch is tripped
package obs

import "github.com/prometheus/client_golang/prometheus"

var (
	FeedState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polyflash_feed_state",
			Help: "Feed connection state (1 on the active state's series)",
		},
		[]string{"state"},
	)

	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polyflash_feed_reconnects_total",
			Help: "Connect attempts against the feed, first connect included",
		},
	)

	FeedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyflash_feed_frames_total",
			Help: "Inbound feed frames by event kind",
		},
		[]string{"kind"},
	)

	FeedOffline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polyflash_feed_offline",
			Help: "1 while reconnection keeps failing across circuit cooldowns",
		},
	)

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polyflash_subscriptions_active",
			Help: "Tokens with at least one active subscriber",
		},
	)

	Detections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyflash_detections_total",
			Help: "Fired detections by strategy tag",
		},
		[]string{"strategy"},
	)

	WhaleTrades = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polyflash_whale_trades_total",
			Help: "Raw trades above the whale notional threshold",
		},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyflash_orders_total",
			Help: "Order attempts by outcome (executed|failed|skipped|killed|limited|duplicate)",
		},
		[]string{"result"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polyflash_positions_open",
			Help: "Currently open positions",
		},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyflash_exits_total",
			Help: "Position closes by exit reason",
		},
		[]string{"reason"},
	)

	PnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polyflash_pnl_usd",
			Help: "Cumulative realized PnL in USD",
		},
	)

	KillSwitchActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polyflash_kill_switch_active",
			Help: "1 while the kill switch is tripped",
		},
	)
)

func init() {
	prometheus.MustRegister(FeedState, FeedReconnects, FeedFrames, FeedOffline)
	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(Detections, WhaleTrades)
	prometheus.MustRegister(Orders, PositionsOpen, Exits, PnL, KillSwitchActive)
}

// SetFeedState flips the state gauge so exactly one labeled series is 1.
func SetFeedState(state string) {
	for _, s := range []string{"disconnected", "connecting", "open", "reconnect_wait", "circuit_open"} {
		v := 0.0
		if s == state {
			v = 1
		}
		FeedState.WithLabelValues(s).Set(v)
	}
}

// SetOffline flips the persistent-offline gauge.
func SetOffline(offline bool) {
	if offline {
		FeedOffline.Set(1)
		return
	}
	FeedOffline.Set(0)
}

// SetKillSwitch flips the kill-switch gauge.
func SetKillSwitch(active bool) {
	if active {
		KillSwitchActive.Set(1)
		return
	}
	KillSwitchActive.Set(0)
}
