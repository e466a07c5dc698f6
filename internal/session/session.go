// Package session wires the socket, the intake queue, the decision desk and
// the notification center for one authenticated vendor.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/internal/audit"
	"github.com/Aidin1998/vendorpulse/internal/auth"
	"github.com/Aidin1998/vendorpulse/internal/decision"
	"github.com/Aidin1998/vendorpulse/internal/normalizer"
	"github.com/Aidin1998/vendorpulse/internal/notify"
	"github.com/Aidin1998/vendorpulse/internal/orderqueue"
	"github.com/Aidin1998/vendorpulse/internal/ws"
	"github.com/Aidin1998/vendorpulse/pkg/errors"
	"github.com/Aidin1998/vendorpulse/pkg/logger"
	"github.com/Aidin1998/vendorpulse/pkg/metrics"
	"github.com/Aidin1998/vendorpulse/pkg/models"
)

var (
	ErrNoActiveOrder  = errors.NotFound.Explain("there is no active order")
	ErrAlreadyStarted = errors.Internal.Explain("session already started")
)

// Transport is the push connection the session drives
type Transport interface {
	On(event string, h ws.Handler)
	OnStateChange(fn func(ws.Status))
	Connect(ctx context.Context, id auth.Identity) error
	Disconnect()
	Nudge(reason string)
	Emit(event string, payload interface{}) error
	JoinRoom(room string) error
	LeaveRoom(room string) error
	Probe() error
	Status() ws.Status
}

// StatusChecker asks the backend for the current status of an order
type StatusChecker interface {
	FetchStatus(ctx context.Context, orderID string) (string, error)
}

// AuditSink records resolved decisions
type AuditSink interface {
	Publish(ctx context.Context, event audit.DecisionEvent) error
}

// Feed receives state changes for live dashboards
type Feed interface {
	Publish(topic string, payload interface{})
}

// Feed topics
const (
	TopicOrders       = "orders"
	TopicNotification = "notification"
	TopicConnection   = "connection"
	TopicDecision     = "decision"
)

// OrdersUpdate is published whenever the queue or its active order changes
type OrdersUpdate struct {
	Orders   []models.IncomingOrderEvent `json:"orders"`
	ActiveID string                      `json:"activeId,omitempty"`
}

// Deps are the collaborators of a session. Statuses, Alerter, Audit and Feed are optional.
type Deps struct {
	Transport     Transport
	Queue         *orderqueue.Queue
	Desk          *decision.Desk
	Notifications *notify.Center
	Alerter       notify.Alerter
	Statuses      StatusChecker
	Audit         AuditSink
	Feed          Feed
}

// Options tune event intake
type Options struct {
	ValidateStatus bool
	StatusTimeout  time.Duration
	EventBuffer    int
}

type inbound struct {
	name string
	data json.RawMessage
	at   time.Time
}

// statusPush is re-broadcast after the vendor resolves an order so other
// tabs of the same vendor drop it too
type statusPush struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// Session applies push events and vendor commands to the intake state
type Session struct {
	identity auth.Identity
	deps     Deps
	opts     Options
	logger   *zap.Logger

	events  chan inbound
	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	// syncMu pairs every read of the queue's active order with the desk update
	syncMu sync.Mutex

	stateMu   sync.Mutex
	lastState ws.ConnectionState
}

// New creates a session and registers its handlers on the transport
func New(identity auth.Identity, deps Deps, opts Options, log *zap.Logger) *Session {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = 5 * time.Second
	}
	if deps.Alerter == nil {
		deps.Alerter = notify.NewLogAlerter(log)
	}

	s := &Session{
		identity:  identity,
		deps:      deps,
		opts:      opts,
		logger:    logger.OrNop(log).With(zap.String("component", "session"), zap.String("vendor_id", identity.VendorID)),
		events:    make(chan inbound, opts.EventBuffer),
		lastState: ws.StateDisconnected,
	}

	for _, name := range normalizer.Names() {
		deps.Transport.On(name, s.enqueue(name))
	}
	deps.Transport.OnStateChange(s.onState)
	return s
}

// Start restores the persisted active order and opens the socket
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.rehydrate(runCtx)

	go s.loop(runCtx, s.done)

	if err := s.deps.Transport.Connect(runCtx, s.identity); err != nil {
		cancel()
		<-s.done
		s.started.Store(false)
		return err
	}
	s.logger.Info("session started")
	return nil
}

// Stop closes the socket and waits for the event loop to drain
func (s *Session) Stop() {
	if !s.started.Load() || s.cancel == nil {
		return
	}
	s.deps.Transport.Disconnect()
	s.cancel()
	<-s.done
	s.logger.Info("session stopped")
}

// Started reports whether Start succeeded
func (s *Session) Started() bool {
	return s.started.Load()
}

func (s *Session) rehydrate(ctx context.Context) {
	order, ok, err := s.deps.Queue.Rehydrate(ctx)
	if err != nil {
		s.logger.Warn("failed to restore active order", zap.Error(err))
	}
	if ok && s.opts.ValidateStatus && !s.stillPending(ctx, order.OrderID) {
		s.deps.Queue.Remove(ctx, order.OrderID, orderqueue.ResolutionStatusTerminal)
		s.logger.Info("restored order was resolved while offline", zap.String("order_id", order.OrderID))
	}
	s.syncDesk()
}

// enqueue returns the transport handler for one event name. It runs on the
// socket read goroutine, so it only hands the frame to the loop.
func (s *Session) enqueue(name string) ws.Handler {
	return func(data json.RawMessage) {
		ev := inbound{name: name, data: append(json.RawMessage(nil), data...), at: time.Now()}
		select {
		case s.events <- ev:
		default:
			s.logger.Warn("event buffer full, applying backpressure", zap.String("event", name))
			select {
			case s.events <- ev:
			case <-s.done:
			}
		}
	}
}

func (s *Session) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.apply(ctx, ev)
		}
	}
}

func (s *Session) apply(ctx context.Context, in inbound) {
	event, err := normalizer.Normalize(in.name, in.data, in.at)
	if err != nil {
		reason := "normalization"
		if err == normalizer.ErrUnknownEvent {
			reason = "unknown_event"
		}
		metrics.EventsDropped.WithLabelValues(reason).Inc()
		s.logger.Warn("dropping malformed event", zap.String("event", in.name), zap.Error(err))
		return
	}

	switch e := event.(type) {
	case normalizer.IncomingOrder:
		s.handleOrder(ctx, e.Order)
	case normalizer.StatusUpdate:
		s.handleStatus(ctx, e.Update)
	case normalizer.PaymentConfirmed:
		s.notify(ctx, notify.PaymentConfirmed(e.Payment), true)
	case normalizer.DeliveryAssigned:
		s.notify(ctx, notify.DeliveryAssigned(e.Delivery), true)
	case normalizer.CheckoutRequest:
		s.notify(ctx, notify.CheckoutRequest(e.Checkout), true)
	}
}

func (s *Session) handleOrder(ctx context.Context, order models.IncomingOrderEvent) {
	log := s.logger.With(zap.String("order_id", order.OrderID), zap.String("kind", string(order.Kind)))

	if s.deps.Queue.IsResolved(ctx, order.OrderID) {
		metrics.EventsDropped.WithLabelValues("resolved").Inc()
		log.Debug("ignoring push for resolved order")
		return
	}
	if s.opts.ValidateStatus && !s.deps.Queue.Contains(order.OrderID) && !s.stillPending(ctx, order.OrderID) {
		s.deps.Queue.Remove(ctx, order.OrderID, orderqueue.ResolutionStatusTerminal)
		metrics.EventsDropped.WithLabelValues("status_terminal").Inc()
		log.Info("dropping order already resolved upstream")
		return
	}

	res := s.deps.Queue.Upsert(ctx, order)
	switch res.Outcome {
	case orderqueue.SuppressedResolved:
		return
	case orderqueue.Updated:
		if res.Active && s.deps.Desk.Refresh(order).HadEdits {
			s.notify(ctx, notify.OrderRefreshed(order), false)
		}
		log.Debug("order payload refreshed", zap.Bool("active", res.Active))
	case orderqueue.Inserted:
		log.Info("order queued", zap.Bool("active", res.Active), zap.Int("pending", s.deps.Queue.Len()))
		s.notify(ctx, notify.NewOrder(order), true)
	}
	s.syncDesk()
}

func (s *Session) handleStatus(ctx context.Context, update models.StatusUpdateEvent) {
	s.notify(ctx, notify.StatusUpdate(update), false)
	if !models.IsTerminalStatus(update.Status) {
		return
	}
	if s.deps.Queue.Remove(ctx, update.OrderID, orderqueue.ResolutionStatusTerminal) {
		s.logger.Info("order resolved by status push",
			zap.String("order_id", update.OrderID),
			zap.String("status", update.Status))
	}
	s.syncDesk()
}

// stillPending reports whether the backend still considers the order open.
// Lookup failures count as pending.
func (s *Session) stillPending(ctx context.Context, orderID string) bool {
	if s.deps.Statuses == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.StatusTimeout)
	defer cancel()

	status, err := s.deps.Statuses.FetchStatus(ctx, orderID)
	switch {
	case err == nil:
		return !models.IsTerminalStatus(status)
	case errors.Is(err, errors.Stale):
		return false
	default:
		s.logger.Warn("order status lookup failed, keeping order", zap.String("order_id", orderID), zap.Error(err))
		return true
	}
}

// syncDesk follows the queue's active order and publishes the queue
func (s *Session) syncDesk() {
	s.syncMu.Lock()
	s.deps.Desk.Sync(s.deps.Queue.PeekActive())
	s.syncMu.Unlock()

	s.publish(TopicOrders, OrdersUpdate{Orders: s.deps.Queue.List(), ActiveID: s.deps.Queue.ActiveID()})
}

func (s *Session) publish(topic string, payload interface{}) {
	if s.deps.Feed != nil {
		s.deps.Feed.Publish(topic, payload)
	}
}

func (s *Session) notify(ctx context.Context, n models.Notification, alert bool) {
	n, added := s.deps.Notifications.Add(n)
	if !added {
		return
	}
	s.publish(TopicNotification, n)
	if !alert {
		return
	}
	if err := s.deps.Alerter.Alert(ctx, n.Title, n.Message); err != nil {
		s.logger.Warn("alert failed", zap.String("title", n.Title), zap.Error(err))
	}
}

func (s *Session) onState(status ws.Status) {
	s.stateMu.Lock()
	prev := s.lastState
	s.lastState = status.State
	s.stateMu.Unlock()

	switch {
	case status.State == ws.StateConnected && (prev == ws.StateReconnecting || prev == ws.StateFailed):
		s.notify(context.Background(), notify.Connection("Reconnected", "Live order updates resumed."), false)
	case status.State == ws.StateFailed && prev != ws.StateFailed:
		s.notify(context.Background(), notify.Connection("Connection Lost",
			"Could not reach the order server. Interact with the dashboard to retry."), false)
	}
	s.publish(TopicConnection, notify.BuildView(status, s.Started(),
		s.deps.Queue.Len(), s.deps.Notifications.Len(), s.deps.Queue.ActiveID()))
}
