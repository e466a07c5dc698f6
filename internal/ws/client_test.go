package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/vendorpulse/internal/auth"
)

// peer is a websocket test server that records every frame it receives
type peer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader
	reject   atomic.Bool
	dials    atomic.Int32

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames [][]Envelope
	onOpen func(conn *websocket.Conn)
}

func newPeer(t *testing.T) *peer {
	p := &peer{t: t}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.server.Close)
	return p
}

func (p *peer) url() string {
	return "ws" + strings.TrimPrefix(p.server.URL, "http")
}

func (p *peer) handle(w http.ResponseWriter, r *http.Request) {
	p.dials.Add(1)
	if p.reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p.mu.Lock()
	idx := len(p.conns)
	p.conns = append(p.conns, conn)
	p.frames = append(p.frames, nil)
	onOpen := p.onOpen
	p.mu.Unlock()

	if onOpen != nil {
		onOpen(conn)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		p.mu.Lock()
		p.frames[idx] = append(p.frames[idx], env)
		p.mu.Unlock()
	}
}

func (p *peer) framesOn(idx int) []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx >= len(p.frames) {
		return nil
	}
	return append([]Envelope(nil), p.frames[idx]...)
}

func (p *peer) connCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *peer) dropAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		_ = c.Close()
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.HandshakeTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.PongTimeout = 5 * time.Second
	cfg.HeartbeatInterval = time.Hour
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.ReconnectDelayMax = 40 * time.Millisecond
	return cfg
}

var vendor = auth.Identity{VendorID: "vendor-1", Role: auth.RoleVendor, Token: "tok"}

func TestRegisterVendorIsFirstFrameOnEveryConnection(t *testing.T) {
	p := newPeer(t)
	client := NewClient(testConfig(p.url()), nil)
	require.NoError(t, client.Connect(context.Background(), vendor))
	t.Cleanup(client.Disconnect)

	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, client.Emit("custom", map[string]string{"k": "v"}))

	require.Eventually(t, func() bool { return len(p.framesOn(0)) == 2 }, 2*time.Second, 10*time.Millisecond)
	first := p.framesOn(0)
	assert.Equal(t, EventRegisterVendor, first[0].Event)
	assert.JSONEq(t, `{"vendorId":"vendor-1"}`, string(first[0].Data))
	assert.Equal(t, "custom", first[1].Event)

	p.dropAll()

	require.Eventually(t, func() bool {
		return p.connCount() == 2 && len(p.framesOn(1)) >= 1 && client.Connected()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, EventRegisterVendor, p.framesOn(1)[0].Event)
}

func TestHeartbeatOnlyWhileConnected(t *testing.T) {
	p := newPeer(t)
	cfg := testConfig(p.url())
	cfg.HeartbeatInterval = 20 * time.Millisecond
	client := NewClient(cfg, nil)
	require.NoError(t, client.Connect(context.Background(), vendor))

	require.Eventually(t, func() bool {
		for _, f := range p.framesOn(0) {
			if f.Event == EventHeartbeat {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	var hb heartbeatPayload
	for _, f := range p.framesOn(0) {
		if f.Event == EventHeartbeat {
			require.NoError(t, json.Unmarshal(f.Data, &hb))
			break
		}
	}
	assert.Equal(t, "vendor-1", hb.UserID)
	assert.Equal(t, "vendor", hb.UserType)
	assert.NotZero(t, hb.Timestamp)

	client.Disconnect()
	assert.Equal(t, StateClosed, client.State())
	assert.ErrorIs(t, client.Emit(EventHeartbeat, nil), ErrNotConnected)

	count := len(p.framesOn(0))
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, count, len(p.framesOn(0)))
}

func TestInboundEventsDispatchInArrivalOrder(t *testing.T) {
	p := newPeer(t)
	p.onOpen = func(conn *websocket.Conn) {
		for i, name := range []string{"newOrder", "orderStatusUpdate", "newOrder"} {
			frame, _ := encodeEnvelope(name, map[string]int{"seq": i})
			_ = conn.WriteMessage(websocket.TextMessage, frame)
		}
	}

	client := NewClient(testConfig(p.url()), nil)
	var mu sync.Mutex
	var seen []int
	record := func(data json.RawMessage) {
		var body struct{ Seq int }
		_ = json.Unmarshal(data, &body)
		mu.Lock()
		seen = append(seen, body.Seq)
		mu.Unlock()
	}
	client.On("newOrder", record)
	client.On("orderStatusUpdate", record)

	require.NoError(t, client.Connect(context.Background(), vendor))
	t.Cleanup(client.Disconnect)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestEmitBeforeConnectFails(t *testing.T) {
	client := NewClient(testConfig("ws://127.0.0.1:1/ws"), nil)
	assert.ErrorIs(t, client.Emit("anything", nil), ErrNotConnected)
	assert.ErrorIs(t, client.JoinRoom("vendor-1"), ErrNotConnected)
	assert.Error(t, client.Probe())
	assert.Equal(t, StateDisconnected, client.State())
}

func TestConnectRequiresVendorAndRejectsDoubleStart(t *testing.T) {
	p := newPeer(t)
	client := NewClient(testConfig(p.url()), nil)

	assert.Error(t, client.Connect(context.Background(), auth.Identity{}))
	require.NoError(t, client.Connect(context.Background(), vendor))
	t.Cleanup(client.Disconnect)
	assert.ErrorIs(t, client.Connect(context.Background(), vendor), ErrAlreadyStarted)
}

func TestFailedStateParksUntilNudged(t *testing.T) {
	p := newPeer(t)
	p.reject.Store(true)

	cfg := testConfig(p.url())
	cfg.MaxReconnectAttempts = 2
	client := NewClient(cfg, nil)

	var mu sync.Mutex
	var states []ConnectionState
	client.OnStateChange(func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background(), vendor))
	t.Cleanup(client.Disconnect)

	require.Eventually(t, func() bool { return client.State() == StateFailed }, 2*time.Second, 5*time.Millisecond)
	dials := p.dials.Load()
	assert.Equal(t, int32(3), dials)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, dials, p.dials.Load(), "parked loop must not dial")

	p.reject.Store(false)
	client.Nudge(NudgeActivity)

	require.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, client.Status().ReconnectAttempts)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateReconnecting)
	assert.Equal(t, StateConnected, states[len(states)-1])
}

func TestNudgeCutsBackoffShort(t *testing.T) {
	p := newPeer(t)
	p.reject.Store(true)

	cfg := testConfig(p.url())
	cfg.ReconnectDelay = time.Hour
	cfg.ReconnectDelayMax = time.Hour
	client := NewClient(cfg, nil)
	require.NoError(t, client.Connect(context.Background(), vendor))
	t.Cleanup(client.Disconnect)

	require.Eventually(t, func() bool { return client.State() == StateReconnecting }, 2*time.Second, 5*time.Millisecond)

	p.reject.Store(false)
	client.Nudge(NudgeVisibility)
	require.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)
}

func TestNudgeBeforeConnectDoesNotSkipLaterBackoff(t *testing.T) {
	p := newPeer(t)

	cfg := testConfig(p.url())
	cfg.ReconnectDelay = time.Hour
	cfg.ReconnectDelayMax = time.Hour
	client := NewClient(cfg, nil)

	// arrives while the first dial is still pending
	client.Nudge(NudgeFocus)
	require.NoError(t, client.Connect(context.Background(), vendor))
	t.Cleanup(client.Disconnect)
	require.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)

	p.dropAll()
	require.Eventually(t, func() bool { return client.State() == StateReconnecting }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), p.dials.Load(), "the reconnect must wait out its backoff")
	assert.False(t, client.Connected())
}

func TestProbeWritesTestFrames(t *testing.T) {
	p := newPeer(t)
	client := NewClient(testConfig(p.url()), nil)
	require.NoError(t, client.Connect(context.Background(), vendor))
	t.Cleanup(client.Disconnect)
	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Probe())
	require.Eventually(t, func() bool { return len(p.framesOn(0)) == 3 }, 2*time.Second, 10*time.Millisecond)

	frames := p.framesOn(0)
	assert.Equal(t, EventHeartbeat, frames[1].Event)
	assert.Contains(t, string(frames[1].Data), `"test":true`)
	assert.Equal(t, EventTestConnection, frames[2].Event)
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 5 * time.Second}
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(4))
	assert.Equal(t, 5*time.Second, b.Delay(10))
}
