package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/pkg/logger"
)

// DefaultReplaySize is how many feed messages a reconnecting dashboard can catch up on
const DefaultReplaySize = 100

// FeedMessage is one state change pushed to dashboards
type FeedMessage struct {
	Topic string          `json:"topic"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
	At    time.Time       `json:"at"`
}

// replayBuffer holds the last N messages
type replayBuffer struct {
	buf   []FeedMessage
	size  int
	start int
	count int
}

func newReplayBuffer(size int) *replayBuffer {
	return &replayBuffer{buf: make([]FeedMessage, size), size: size}
}

// add appends a message, overwriting the oldest when full
func (r *replayBuffer) add(msg FeedMessage) {
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
	}
	r.buf[idx] = msg
	r.count++
}

// since returns buffered messages with Seq > seq, oldest first
func (r *replayBuffer) since(seq uint64) []FeedMessage {
	var out []FeedMessage
	for i := 0; i < r.count; i++ {
		msg := r.buf[(r.start+i)%r.size]
		if msg.Seq > seq {
			out = append(out, msg)
		}
	}
	return out
}

// feedClient is one dashboard connection
type feedClient struct {
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool // empty means every topic
	feed   *Feed
}

func (c *feedClient) wants(topic string) bool {
	return len(c.topics) == 0 || c.topics[topic]
}

// Feed fans session updates out to dashboards over websocket
type Feed struct {
	mu      sync.Mutex
	clients map[*feedClient]struct{}
	buffer  *replayBuffer
	nextSeq uint64

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewFeed creates a feed; allowedOrigins empty accepts any origin
func NewFeed(replaySize int, allowedOrigins []string, log *zap.Logger) *Feed {
	if replaySize <= 0 {
		replaySize = DefaultReplaySize
	}
	f := &Feed{
		clients: make(map[*feedClient]struct{}),
		buffer:  newReplayBuffer(replaySize),
		logger:  logger.OrNop(log).With(zap.String("component", "feed")),
	}
	f.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return f
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Publish records a state change and pushes it to every subscribed dashboard
func (f *Feed) Publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		f.logger.Error("failed to encode feed payload", zap.String("topic", topic), zap.Error(err))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextSeq++
	msg := FeedMessage{Topic: topic, Seq: f.nextSeq, Data: data, At: time.Now()}
	f.buffer.add(msg)

	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for c := range f.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			f.logger.Debug("dropping feed message for slow dashboard", zap.Uint64("seq", msg.Seq))
		}
	}
}

// Clients returns the number of connected dashboards
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// ServeWS upgrades the request and streams updates. Query parameters:
// since (replay after this sequence) and topics (comma separated filter).
func (f *Feed) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Debug("feed upgrade failed", zap.Error(err))
		return
	}

	c := &feedClient{
		conn:   conn,
		send:   make(chan []byte, f.buffer.size+64),
		topics: make(map[string]bool),
		feed:   f,
	}
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			c.topics[t] = true
		}
	}

	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)

	// replay and register under one lock so nothing published in between is lost
	f.mu.Lock()
	for _, msg := range f.buffer.since(since) {
		if !c.wants(msg.Topic) {
			continue
		}
		if frame, err := json.Marshal(msg); err == nil {
			c.send <- frame
		}
	}
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

// Close disconnects every dashboard
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
}

func (f *Feed) unregister(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

type subscriptionRequest struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

// readPump handles control frames and subscription changes
func (c *feedClient) readPump() {
	defer func() { c.feed.unregister(c); c.conn.Close() }()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscriptionRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		c.feed.mu.Lock()
		for _, t := range req.Subscribe {
			c.topics[t] = true
		}
		for _, t := range req.Unsubscribe {
			delete(c.topics, t)
		}
		c.feed.mu.Unlock()
	}
}

// writePump sends messages and keepalive pings
func (c *feedClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() { ticker.Stop(); c.conn.Close() }()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
