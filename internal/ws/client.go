// Package ws holds the vendor's single push connection to the order backend.
// It dials, registers the vendor, keeps the link alive with heartbeats and
// reconnects with capped exponential backoff when the link drops.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/internal/auth"
	"github.com/Aidin1998/vendorpulse/pkg/errors"
	"github.com/Aidin1998/vendorpulse/pkg/logger"
	"github.com/Aidin1998/vendorpulse/pkg/metrics"
)

var (
	// ErrNotConnected is returned by Emit while the socket is down
	ErrNotConnected = errors.Transport.Explain("socket is not connected")
	// ErrAlreadyStarted is returned by Connect on a running client
	ErrAlreadyStarted = errors.Transport.Explain("socket client already started")
)

// Handler receives the raw data of one inbound event
type Handler func(data json.RawMessage)

// Config holds connection settings
type Config struct {
	URL                  string
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	PongTimeout          time.Duration
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	ReconnectDelayMax    time.Duration
	MaxReconnectAttempts int
}

// DefaultConfig returns the reconnect and keepalive schedule the order backend expects
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		HandshakeTimeout:     20 * time.Second,
		WriteTimeout:         10 * time.Second,
		PongTimeout:          60 * time.Second,
		HeartbeatInterval:    20 * time.Second,
		ReconnectDelay:       time.Second,
		ReconnectDelayMax:    5 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// Client owns exactly one live websocket connection at a time
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	backoff Backoff
	logger  *zap.Logger

	mu           sync.RWMutex
	conn         *websocket.Conn
	identity     auth.Identity
	state        ConnectionState
	connected    bool
	attempts     int
	lastActivity time.Time
	listeners    []func(Status)
	cancel       context.CancelFunc
	done         chan struct{}

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	nudgeCh chan string
}

// NewClient creates a client; nothing is dialed until Connect
func NewClient(cfg Config, log *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		backoff:  Backoff{Initial: cfg.ReconnectDelay, Max: cfg.ReconnectDelayMax},
		logger:   logger.OrNop(log).With(zap.String("component", "socket")),
		state:    StateDisconnected,
		handlers: make(map[string][]Handler),
		nudgeCh:  make(chan string, 1),
	}
}

// On registers a handler for an inbound event name. Handlers run on the
// read goroutine in arrival order.
func (c *Client) On(event string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// OnStateChange registers a listener called after every state transition
func (c *Client) OnStateChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Connect starts the connection loop for the given vendor. It returns once the
// loop is running; the link itself comes up asynchronously.
func (c *Client) Connect(ctx context.Context, id auth.Identity) error {
	if id.VendorID == "" {
		return errors.Validation.Explain("vendor id is required to register on the socket")
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.identity = id
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.run(runCtx, done)
	return nil
}

// Disconnect closes the link and stops reconnecting
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "vendor disconnect")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	cancel()
	<-done
	c.setState(StateClosed, 0)
	c.logger.Info("socket closed")
}

// Nudge wakes a pending backoff wait or a loop parked after too many failures.
// It does nothing while connected.
func (c *Client) Nudge(reason string) {
	if c.Connected() {
		return
	}
	select {
	case c.nudgeCh <- reason:
		c.logger.Debug("reconnect nudged", zap.String("reason", reason))
	default:
	}
}

// Emit sends one event. It fails with ErrNotConnected while the link is down.
func (c *Client) Emit(event string, payload interface{}) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}
	if err := c.writeFrame(conn, event, payload); err != nil {
		// the read loop notices the closed conn and starts reconnecting
		_ = conn.Close()
		return err
	}
	return nil
}

// JoinRoom subscribes the session to a server-side room
func (c *Client) JoinRoom(room string) error {
	return c.Emit(EventJoin, room)
}

// LeaveRoom unsubscribes the session from a server-side room
func (c *Client) LeaveRoom(room string) error {
	return c.Emit(EventLeave, room)
}

// Probe sends a test heartbeat and a test-connection event.
// A nil error means the link accepted both writes.
func (c *Client) Probe() error {
	c.mu.RLock()
	vendorID := c.identity.VendorID
	c.mu.RUnlock()

	now := time.Now().UnixMilli()
	if err := c.Emit(EventHeartbeat, heartbeatPayload{
		Timestamp: now,
		UserID:    vendorID,
		UserType:  auth.RoleVendor,
		Test:      true,
	}); err != nil {
		return err
	}
	return c.Emit(EventTestConnection, map[string]int64{"timestamp": now})
}

// Connected reports whether the link is up and the vendor is registered
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a snapshot of the connection
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statusLocked()
}

func (c *Client) statusLocked() Status {
	return Status{
		State:             c.state,
		Connected:         c.connected,
		ReconnectAttempts: c.attempts,
		LastActivityAt:    c.lastActivity,
	}
}

func (c *Client) setState(s ConnectionState, attempts int) {
	c.mu.Lock()
	c.state = s
	c.attempts = attempts
	st := c.statusLocked()
	listeners := append(([]func(Status))(nil), c.listeners...)
	c.mu.Unlock()

	recordState(s)
	for _, fn := range listeners {
		fn(st)
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// run manages connection and reconnection
func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	immediate := false
	for {
		if attempt == 0 {
			c.setState(StateConnecting, 0)
		} else {
			if attempt > c.cfg.MaxReconnectAttempts {
				c.setState(StateFailed, attempt-1)
				c.logger.Warn("reconnect attempts exhausted, waiting for activity",
					zap.Int("attempts", attempt-1))
				select {
				case <-ctx.Done():
					return
				case reason := <-c.nudgeCh:
					c.logger.Info("resuming reconnect", zap.String("reason", reason))
				}
				attempt = 1
				immediate = true
			}
			c.setState(StateReconnecting, attempt)
			if !immediate && !c.wait(ctx, c.backoff.Delay(attempt)) {
				return
			}
			immediate = false
			metrics.ReconnectAttempts.Inc()
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("socket dial failed", zap.Int("attempt", attempt), zap.Error(err))
			attempt++
			continue
		}

		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		attempt = 1
	}
}

// drainNudges discards a nudge left over from before the link came up so
// the next drop still waits out its backoff
func (c *Client) drainNudges() {
	select {
	case reason := <-c.nudgeCh:
		c.logger.Debug("discarding stale nudge", zap.String("reason", reason))
	default:
	}
}

func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case reason := <-c.nudgeCh:
		c.logger.Debug("backoff cut short", zap.String("reason", reason))
		return true
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.RLock()
	id := c.identity
	c.mu.RUnlock()

	header := http.Header{}
	if id.Token != "" {
		header.Set("Authorization", id.BearerHeader())
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Transport.Explain("handshake rejected").WithStatus(resp.StatusCode).Wrap(err)
		}
		return nil, errors.Transport.Explain("dial %s", c.cfg.URL).Wrap(err)
	}
	return conn, nil
}

// serve registers the vendor on a fresh connection and runs the read loop
// until the link drops or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	c.mu.RLock()
	vendorID := c.identity.VendorID
	c.mu.RUnlock()

	if err := c.writeFrame(conn, EventRegisterVendor, registerPayload{VendorID: vendorID}); err != nil {
		c.logger.Warn("registerVendor failed", zap.Error(err))
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		c.touch()
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastActivity = time.Now()
	c.mu.Unlock()
	c.drainNudges()
	c.setState(StateConnected, 0)
	c.logger.Info("socket connected", zap.String("vendor_id", vendorID))

	connCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.heartbeat(connCtx, conn, vendorID)
	}()
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("socket read failed", zap.Error(err))
			}
			break
		}
		c.touch()
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		env, err := decodeEnvelope(frame)
		if err != nil {
			metrics.EventsDropped.WithLabelValues("malformed_frame").Inc()
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}

	c.mu.Lock()
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	stop()
	wg.Wait()
}

func (c *Client) dispatch(env Envelope) {
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	c.handlersMu.RLock()
	handlers := c.handlers[env.Event]
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug("no handler for event", zap.String("event", env.Event))
		return
	}
	for _, h := range handlers {
		h(env.Data)
	}
}

// heartbeat emits the keepalive event and a ping while this connection is live
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn, vendorID string) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !c.Connected() {
				return
			}
			err := c.writeFrame(conn, EventHeartbeat, heartbeatPayload{
				Timestamp: now.UnixMilli(),
				UserID:    vendorID,
				UserType:  auth.RoleVendor,
			})
			if err != nil {
				c.logger.Warn("heartbeat failed", zap.Error(err))
				_ = conn.Close()
				return
			}
			metrics.HeartbeatsSent.Inc()
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
			}
		}
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, event string, payload interface{}) error {
	frame, err := encodeEnvelope(event, payload)
	if err != nil {
		return errors.Transport.Explain("encode %s", event).Wrap(err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.Transport.Explain("write %s", event).Wrap(err)
	}
	return nil
}
