package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polyflash/internal/obs"
)

// ErrCredentials is returned when the user channel is configured without
// a complete credential triple. Fatal, never retried.
var ErrCredentials = errors.New("feed: user channel requires api key, secret and passphrase")

// Conn is the subset of *websocket.Conn the gateway uses. Injected so
// tests can drive the state machine with scripted connections.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens one connection attempt.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// GorillaDial is the production dialer.
func GorillaDial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed.GorillaDial: %w", err)
	}
	return conn, nil
}

// Config tunes the gateway connection handling.
type Config struct {
	URL     string
	Channel string // "market" or "user"

	// Credentials are required (and replayed on every reconnect) for the
	// user channel.
	Credentials *Credentials

	InitialBackoff time.Duration // first reconnect delay, doubled per failure
	MaxBackoff     time.Duration // backoff cap
	MaxAttempts    int           // consecutive failures before the circuit opens
	Cooldown       time.Duration // circuit-open duration
	OfflineAfter   int           // circuit trips before reporting offline

	KeepaliveInterval time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration

	// Dial defaults to GorillaDial.
	Dial DialFunc
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if c.Channel == "" {
		c.Channel = "market"
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
	if c.OfflineAfter <= 0 {
		c.OfflineAfter = 3
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.Dial == nil {
		c.Dial = GorillaDial
	}
}

// Gateway owns the upstream feed connection: reconnect with capped
// backoff and a failure circuit breaker, text keepalives, ref-counted
// subscriptions, and frame parsing onto the bus. One Gateway per channel,
// constructed and started by the composition root.
type Gateway struct {
	cfg    Config
	bus    *Bus
	logger *slog.Logger

	mu   sync.Mutex // guards conn and refs
	conn Conn
	refs map[string]int

	state   atomic.Int32
	offline atomic.Bool
	circuit circuitBreaker
	backoff Backoff

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewGateway validates the configuration and builds a stopped gateway.
// Returns ErrCredentials before any dial when the user channel lacks a
// complete triple.
func NewGateway(cfg Config, bus *Bus, logger *slog.Logger) (*Gateway, error) {
	cfg.applyDefaults()
	if cfg.Channel == "user" && (cfg.Credentials == nil || !cfg.Credentials.Complete()) {
		return nil, ErrCredentials
	}
	g := &Gateway{
		cfg:     cfg,
		bus:     bus,
		logger:  logger,
		refs:    make(map[string]int),
		backoff: Backoff{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff},
		circuit: circuitBreaker{maxFailures: cfg.MaxAttempts, cooldown: cfg.Cooldown},
		done:    make(chan struct{}),
	}
	g.setState(StateDisconnected)
	return g, nil
}

// Start launches the connection loop. Non-blocking.
func (g *Gateway) Start(ctx context.Context) {
	g.wg.Add(1)
	go g.run(ctx)
}

// Close stops the loops and drops the connection.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		close(g.done)
		g.mu.Lock()
		if g.conn != nil {
			g.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			g.conn.Close()
		}
		g.mu.Unlock()
	})
	g.wg.Wait()
	return nil
}

// State returns the current connection state.
func (g *Gateway) State() ConnState {
	return ConnState(g.state.Load())
}

// Offline reports persistent reconnect failure across repeated circuit
// cooldowns.
func (g *Gateway) Offline() bool {
	return g.offline.Load()
}

// Subscribe increments the reference count for each token and sends one
// incremental subscribe frame covering the tokens that went 0→1. Tokens
// subscribed while disconnected ride the next initial frame.
func (g *Gateway) Subscribe(tokenIDs ...string) error {
	g.mu.Lock()
	var added []string
	for _, id := range tokenIDs {
		g.refs[id]++
		if g.refs[id] == 1 {
			added = append(added, id)
		}
	}
	active := len(g.refs)
	connected := g.conn != nil
	g.mu.Unlock()

	obs.SubscriptionsActive.Set(float64(active))
	if len(added) == 0 || !connected {
		return nil
	}
	return g.writeJSON(incrementalFrame(added, true))
}

// Unsubscribe decrements reference counts, never below zero, and sends
// one incremental unsubscribe frame covering the tokens that went 1→0.
func (g *Gateway) Unsubscribe(tokenIDs ...string) error {
	g.mu.Lock()
	var removed []string
	for _, id := range tokenIDs {
		n, ok := g.refs[id]
		if !ok {
			continue
		}
		if n <= 1 {
			delete(g.refs, id)
			removed = append(removed, id)
			continue
		}
		g.refs[id] = n - 1
	}
	active := len(g.refs)
	connected := g.conn != nil
	g.mu.Unlock()

	obs.SubscriptionsActive.Set(float64(active))
	if len(removed) == 0 || !connected {
		return nil
	}
	return g.writeJSON(incrementalFrame(removed, false))
}

// Subscribed returns the reference count for a token.
func (g *Gateway) Subscribed(tokenID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refs[tokenID]
}

func (g *Gateway) run(ctx context.Context) {
	defer g.wg.Done()

	attempt := 0
	for {
		select {
		case <-g.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now()
		if !g.circuit.allow(now) {
			g.setState(StateCircuitOpen)
			if !g.sleep(ctx, time.Until(g.circuit.openUntil)) {
				return
			}
			continue
		}

		if attempt > 0 {
			g.setState(StateReconnectWait)
			if !g.sleep(ctx, g.backoff.Next(attempt)) {
				return
			}
		}

		g.setState(StateConnecting)
		obs.FeedReconnects.Inc()
		dialCtx, cancel := context.WithTimeout(ctx, g.cfg.HandshakeTimeout)
		conn, err := g.cfg.Dial(dialCtx, g.cfg.URL)
		cancel()
		if err != nil {
			attempt++
			if g.circuit.recordFailure(time.Now()) {
				g.logger.Warn("feed: circuit open",
					"failures", g.cfg.MaxAttempts,
					"cooldown", g.cfg.Cooldown,
					"trips", g.circuit.trips)
				// after the cooldown exactly one attempt fires with no
				// extra backoff wait
				attempt = 0
				if g.circuit.trips >= g.cfg.OfflineAfter && !g.offline.Swap(true) {
					obs.SetOffline(true)
					g.logger.Error("feed: offline, reconnection keeps failing", "trips", g.circuit.trips)
				}
			} else {
				g.logger.Warn("feed: connect failed", "attempt", attempt, "err", err)
			}
			continue
		}

		if err := g.open(conn); err != nil {
			conn.Close()
			attempt++
			g.circuit.recordFailure(time.Now())
			g.logger.Warn("feed: subscribe frame failed", "err", err)
			continue
		}

		attempt = 0
		g.circuit.recordSuccess()
		if g.offline.Swap(false) {
			obs.SetOffline(false)
		}
		g.setState(StateOpen)
		g.logger.Info("feed: connected", "url", g.cfg.URL, "channel", g.cfg.Channel)

		stop := make(chan struct{})
		g.wg.Add(1)
		go g.keepalive(stop)

		g.readLoop(conn)
		close(stop)
		g.dropConn(conn)

		select {
		case <-g.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		g.setState(StateDisconnected)
		attempt = 1
	}
}

// open installs the connection and replays the subscription set (plus
// credentials on the user channel) in the initial frame.
func (g *Gateway) open(conn Conn) error {
	g.mu.Lock()
	g.conn = conn
	ids := make([]string, 0, len(g.refs))
	for id := range g.refs {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	if len(ids) == 0 && g.cfg.Channel != "user" {
		return nil
	}
	return g.writeJSON(initialFrame(g.cfg.Channel, ids, g.cfg.Credentials))
}

func (g *Gateway) dropConn(conn Conn) {
	g.mu.Lock()
	if g.conn == conn {
		g.conn = nil
	}
	g.mu.Unlock()
	conn.Close()
}

func (g *Gateway) readLoop(conn Conn) {
	for {
		if g.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-g.done:
			default:
				g.logger.Warn("feed: read failed", "err", err)
			}
			return
		}
		g.handleMessage(data)
	}
}

// handleMessage routes one inbound text frame: keepalives are answered
// and swallowed, event frames (single object or batched array) are parsed
// and emitted, malformed JSON is logged and dropped.
func (g *Gateway) handleMessage(data []byte) {
	trimmed := bytes.TrimSpace(data)
	switch string(trimmed) {
	case pongText:
		return
	case pingText:
		if err := g.writeText(pongText); err != nil {
			g.logger.Warn("feed: pong failed", "err", err)
		}
		return
	}

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			g.logger.Warn("feed: bad frame", "err", err)
			return
		}
		for _, one := range batch {
			g.emitFrame(one)
		}
		return
	}
	g.emitFrame(trimmed)
}

func (g *Gateway) emitFrame(data []byte) {
	kind, payload, ok, err := parseFrame(data, time.Now())
	if err != nil {
		g.logger.Warn("feed: bad frame", "err", err)
		return
	}
	if !ok {
		return
	}
	obs.FeedFrames.WithLabelValues(string(kind)).Inc()
	g.bus.Emit(kind, payload)
}

// keepalive sends the text PING on a fixed cadence until the connection
// is dropped.
func (g *Gateway) keepalive(stop <-chan struct{}) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-g.done:
			return
		case <-ticker.C:
			if err := g.writeText(pingText); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) writeText(s string) error {
	return g.write(websocket.TextMessage, []byte(s))
}

func (g *Gateway) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("feed.writeJSON: %w", err)
	}
	return g.write(websocket.TextMessage, data)
}

func (g *Gateway) write(messageType int, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return errors.New("feed: not connected")
	}
	g.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
	if err := g.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("feed.write: %w", err)
	}
	return nil
}

func (g *Gateway) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-g.done:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (g *Gateway) setState(s ConnState) {
	g.state.Store(int32(s))
	obs.SetFeedState(s.String())
}
