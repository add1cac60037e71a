package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a scripted connection: inbound frames are fed through a
// channel, written frames are recorded.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte

	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	if mt != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// frames returns the decoded subscribe frames written so far, keepalives
// excluded.
func (c *fakeConn) frames(t *testing.T) []subscribeFrame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []subscribeFrame
	for _, data := range c.written {
		s := string(data)
		if s == pingText || s == pongText {
			continue
		}
		var f subscribeFrame
		require.NoError(t, json.Unmarshal(data, &f))
		out = append(out, f)
	}
	return out
}

func (c *fakeConn) textWrites() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for _, w := range c.written {
		out = append(out, string(w))
	}
	return out
}

func startGateway(t *testing.T, cfg Config) (*Gateway, *Bus) {
	t.Helper()
	bus := NewBus(testLogger())
	g, err := NewGateway(cfg, bus, testLogger())
	require.NoError(t, err)
	g.Start(context.Background())
	t.Cleanup(func() { g.Close() })
	return g, bus
}

func waitOpen(t *testing.T, g *Gateway) {
	t.Helper()
	require.Eventually(t, func() bool { return g.State() == StateOpen },
		2*time.Second, time.Millisecond)
}

func TestGateway_UserChannelRequiresCredentials(t *testing.T) {
	bus := NewBus(testLogger())

	_, err := NewGateway(Config{Channel: "user"}, bus, testLogger())
	assert.ErrorIs(t, err, ErrCredentials)

	_, err = NewGateway(Config{
		Channel:     "user",
		Credentials: &Credentials{APIKey: "k", Secret: "s"}, // passphrase missing
	}, bus, testLogger())
	assert.ErrorIs(t, err, ErrCredentials)

	_, err = NewGateway(Config{
		Channel:     "user",
		Credentials: &Credentials{APIKey: "k", Secret: "s", Passphrase: "p"},
	}, bus, testLogger())
	assert.NoError(t, err)
}

func TestGateway_RefCountedSubscribe(t *testing.T) {
	conn := newFakeConn()
	g, _ := startGateway(t, Config{
		Dial: func(context.Context, string) (Conn, error) { return conn, nil },
	})
	waitOpen(t, g)

	// two independent subscribers, one upstream frame
	require.NoError(t, g.Subscribe("tok-1"))
	require.NoError(t, g.Subscribe("tok-1"))
	assert.Equal(t, 2, g.Subscribed("tok-1"))

	frames := conn.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "subscribe", frames[0].Operation)
	assert.Equal(t, []string{"tok-1"}, frames[0].AssetIDs)

	// first unsubscribe only decrements
	require.NoError(t, g.Unsubscribe("tok-1"))
	assert.Equal(t, 1, g.Subscribed("tok-1"))
	require.Len(t, conn.frames(t), 1)

	// second unsubscribe releases upstream, exactly once
	require.NoError(t, g.Unsubscribe("tok-1"))
	assert.Equal(t, 0, g.Subscribed("tok-1"))
	frames = conn.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, "unsubscribe", frames[1].Operation)
	assert.Equal(t, []string{"tok-1"}, frames[1].AssetIDs)

	// unsubscribing an unknown token never goes negative
	require.NoError(t, g.Unsubscribe("tok-1"))
	assert.Equal(t, 0, g.Subscribed("tok-1"))
	assert.Len(t, conn.frames(t), 2)
}

func TestGateway_ResubscribesAfterReconnect(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	conns := make(chan *fakeConn, 2)
	conns <- conn1
	conns <- conn2

	g, _ := startGateway(t, Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Dial: func(context.Context, string) (Conn, error) {
			return <-conns, nil
		},
	})
	waitOpen(t, g)

	require.NoError(t, g.Subscribe("tok-1"))
	require.NoError(t, g.Subscribe("tok-2"))

	// drop the first connection
	conn1.Close()
	require.Eventually(t, func() bool {
		return len(conn2.frames(t)) > 0
	}, 2*time.Second, time.Millisecond)

	initial := conn2.frames(t)[0]
	assert.Equal(t, "market", initial.Type)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, initial.AssetIDs)
}

func TestGateway_UserChannelReplaysAuth(t *testing.T) {
	conn := newFakeConn()
	g, _ := startGateway(t, Config{
		Channel:     "user",
		Credentials: &Credentials{APIKey: "k", Secret: "s", Passphrase: "p"},
		Dial:        func(context.Context, string) (Conn, error) { return conn, nil },
	})
	waitOpen(t, g)

	require.Eventually(t, func() bool { return len(conn.frames(t)) > 0 },
		2*time.Second, time.Millisecond)
	initial := conn.frames(t)[0]
	require.NotNil(t, initial.Auth)
	assert.Equal(t, "k", initial.Auth.APIKey)
	assert.Equal(t, "p", initial.Auth.Passphrase)
}

func TestGateway_CircuitOpensAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	var dials []time.Time
	dialErr := errors.New("dial refused")

	g, _ := startGateway(t, Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		MaxAttempts:    3,
		Cooldown:       300 * time.Millisecond,
		Dial: func(context.Context, string) (Conn, error) {
			mu.Lock()
			dials = append(dials, time.Now())
			mu.Unlock()
			return nil, dialErr
		},
	})

	countDials := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(dials)
	}

	// three failures trip the circuit
	require.Eventually(t, func() bool { return countDials() == 3 },
		2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return g.State() == StateCircuitOpen },
		2*time.Second, time.Millisecond)

	// no attempts while the cooldown runs
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, countDials())

	// exactly one attempt fires once the cooldown elapses
	require.Eventually(t, func() bool { return countDials() >= 4 },
		2*time.Second, time.Millisecond)
	mu.Lock()
	gap := dials[3].Sub(dials[2])
	mu.Unlock()
	assert.GreaterOrEqual(t, gap, 250*time.Millisecond)
}

func TestGateway_RecoversAfterCircuitCooldown(t *testing.T) {
	conn := newFakeConn()
	var mu sync.Mutex
	failures := 3

	g, _ := startGateway(t, Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxAttempts:    3,
		Cooldown:       20 * time.Millisecond,
		Dial: func(context.Context, string) (Conn, error) {
			mu.Lock()
			defer mu.Unlock()
			if failures > 0 {
				failures--
				return nil, errors.New("dial refused")
			}
			return conn, nil
		},
	})

	waitOpen(t, g)
	assert.False(t, g.Offline())
}

func TestGateway_KeepaliveRespondsToPing(t *testing.T) {
	conn := newFakeConn()
	g, _ := startGateway(t, Config{
		Dial: func(context.Context, string) (Conn, error) { return conn, nil },
	})
	waitOpen(t, g)

	conn.inbound <- []byte(pingText)
	require.Eventually(t, func() bool {
		for _, w := range conn.textWrites() {
			if w == pongText {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
}

func TestGateway_SendsPeriodicPing(t *testing.T) {
	conn := newFakeConn()
	g, _ := startGateway(t, Config{
		KeepaliveInterval: 5 * time.Millisecond,
		Dial:              func(context.Context, string) (Conn, error) { return conn, nil },
	})
	waitOpen(t, g)

	require.Eventually(t, func() bool {
		for _, w := range conn.textWrites() {
			if w == pingText {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
}

func TestGateway_EmitsParsedFrames(t *testing.T) {
	conn := newFakeConn()
	g, bus := startGateway(t, Config{
		Dial: func(context.Context, string) (Conn, error) { return conn, nil },
	})

	var mu sync.Mutex
	var got []PriceUpdate
	bus.Register(EventLastTradePrice, func(payload any) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, payload.(PriceUpdate))
	})
	waitOpen(t, g)

	conn.inbound <- []byte(`{"event_type":"last_trade_price","asset_id":"tok-1","market":"0xc1","price":"0.55","size":"120","timestamp":"1717243200000"}`)
	// malformed and unknown frames are dropped silently
	conn.inbound <- []byte(`{"event_type":"last_trade_price",`)
	conn.inbound <- []byte(`{"event_type":"comment_created","asset_id":"tok-1"}`)
	conn.inbound <- []byte(`[{"event_type":"last_trade_price","asset_id":"tok-2","market":"0xc2","price":"0.30","size":"10"}]`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "tok-1", got[0].TokenID)
	assert.Equal(t, 0.55, got[0].Price)
	assert.Equal(t, 120.0, got[0].Size)
	assert.Equal(t, "tok-2", got[1].TokenID)
}
