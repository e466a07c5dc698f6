package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/vendorpulse/internal/audit"
	"github.com/Aidin1998/vendorpulse/internal/auth"
	"github.com/Aidin1998/vendorpulse/internal/decision"
	"github.com/Aidin1998/vendorpulse/internal/notify"
	"github.com/Aidin1998/vendorpulse/internal/orderqueue"
	"github.com/Aidin1998/vendorpulse/internal/ws"
	"github.com/Aidin1998/vendorpulse/pkg/errors"
	"github.com/Aidin1998/vendorpulse/pkg/models"
)

type emitted struct {
	event   string
	payload interface{}
}

type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[string][]ws.Handler
	listeners []func(ws.Status)
	identity  auth.Identity
	emits     []emitted
	nudges    []string
	status    ws.Status
	emitErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]ws.Handler)}
}

func (f *fakeTransport) On(event string, h ws.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
}

func (f *fakeTransport) OnStateChange(fn func(ws.Status)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeTransport) Connect(ctx context.Context, id auth.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = id
	return nil
}

func (f *fakeTransport) Disconnect() {}

func (f *fakeTransport) Nudge(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nudges = append(f.nudges, reason)
}

func (f *fakeTransport) Emit(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitted{event: event, payload: payload})
	return nil
}

func (f *fakeTransport) JoinRoom(room string) error  { return f.Emit(ws.EventJoin, room) }
func (f *fakeTransport) LeaveRoom(room string) error { return f.Emit(ws.EventLeave, room) }
func (f *fakeTransport) Probe() error                { return f.Emit(ws.EventTestConnection, nil) }

func (f *fakeTransport) Status() ws.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTransport) push(event string, data string) {
	f.mu.Lock()
	handlers := f.handlers[event]
	f.mu.Unlock()
	for _, h := range handlers {
		h(json.RawMessage(data))
	}
}

func (f *fakeTransport) setState(st ws.Status) {
	f.mu.Lock()
	f.status = st
	listeners := append(([]func(ws.Status))(nil), f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}

func (f *fakeTransport) sent() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

type fakeBackend struct {
	mu        sync.Mutex
	statuses  map[string]string
	statusErr error
	confirms  []string
	cancels   []string
	err       error
}

func (b *fakeBackend) UpdateStatus(ctx context.Context, orderID, status, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, orderID+":"+reason)
	return b.err
}

func (b *fakeBackend) ConfirmRehearsal(ctx context.Context, orderID string, items []models.OrderItem) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirms = append(b.confirms, orderID)
	return b.err
}

func (b *fakeBackend) ConfirmStaged(ctx context.Context, orderID string) error {
	return b.ConfirmRehearsal(ctx, orderID, nil)
}

func (b *fakeBackend) FetchStatus(ctx context.Context, orderID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.statusErr != nil {
		return "", b.statusErr
	}
	if s, ok := b.statuses[orderID]; ok {
		return s, nil
	}
	return "pending", nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []audit.DecisionEvent
}

func (a *fakeAudit) Publish(ctx context.Context, event audit.DecisionEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

type countingAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (c *countingAlerter) Alert(ctx context.Context, title, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	return nil
}

func (c *countingAlerter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.titles)
}

type recordingFeed struct {
	mu     sync.Mutex
	topics []string
	last   map[string]interface{}
}

func (r *recordingFeed) Publish(topic string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		r.last = make(map[string]interface{})
	}
	r.topics = append(r.topics, topic)
	r.last[topic] = payload
}

func (r *recordingFeed) latest(topic string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.last[topic]
	return p, ok
}

type harness struct {
	session   *Session
	transport *fakeTransport
	backend   *fakeBackend
	queue     *orderqueue.Queue
	snapshots *orderqueue.MemorySnapshotStore
	audit     *fakeAudit
	alerter   *countingAlerter
	feed      *recordingFeed
}

func newHarness(t *testing.T, validate bool, prepare func(h *harness)) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		backend:   &fakeBackend{statuses: map[string]string{}},
		snapshots: orderqueue.NewMemorySnapshotStore(),
		audit:     &fakeAudit{},
		alerter:   &countingAlerter{},
		feed:      &recordingFeed{},
	}
	h.queue = orderqueue.NewQueue(h.snapshots, orderqueue.NewMemoryResolvedSet(time.Minute), nil)
	if prepare != nil {
		prepare(h)
	}

	h.session = New(auth.Identity{VendorID: "vendor-1", Role: auth.RoleVendor}, Deps{
		Transport:     h.transport,
		Queue:         h.queue,
		Desk:          decision.NewDesk(h.backend, nil),
		Notifications: notify.NewCenter(10),
		Alerter:       h.alerter,
		Statuses:      h.backend,
		Audit:         h.audit,
		Feed:          h.feed,
	}, Options{ValidateStatus: validate, StatusTimeout: time.Second, EventBuffer: 8}, nil)

	require.NoError(t, h.session.Start(context.Background()))
	t.Cleanup(h.session.Stop)
	return h
}

func (h *harness) waitQueued(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.queue.Len() == n }, 2*time.Second, 5*time.Millisecond)
}

// flush pushes a marker event and waits for it so every earlier event was applied
func (h *harness) flush(t *testing.T) {
	t.Helper()
	marker := fmt.Sprintf("flush-%d", time.Now().UnixNano())
	h.transport.push("orderStatusUpdate", fmt.Sprintf(`{"orderId":%q,"status":"noted"}`, marker))
	require.Eventually(t, func() bool {
		for _, n := range h.session.Notifications() {
			if n.OrderID == marker {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

const rehearsalOrder = `{"orderId":"X1","customer":{"name":"Asha"},"items":[{"productId":"p1","name":"Tea","price":20,"quantity":3},{"productId":"p2","name":"Bun","price":15,"quantity":1}]}`

func TestIncomingOrderIsQueuedActivatedAndAnnounced(t *testing.T) {
	h := newHarness(t, false, nil)
	assert.Equal(t, "vendor-1", h.transport.identity.VendorID)

	h.transport.push("newOrder", rehearsalOrder)
	h.waitQueued(t, 1)
	h.flush(t)

	view, ok := h.session.Active()
	require.True(t, ok)
	assert.Equal(t, "X1", view.Order.OrderID)
	assert.True(t, view.Policy.Editable)
	assert.Len(t, view.Lines, 2)

	notes := h.session.Notifications()
	require.NotEmpty(t, notes)
	assert.Equal(t, models.NotificationNewOrder, notes[len(notes)-1].Type)
	assert.Equal(t, 1, h.alerter.count())

	_, err := h.snapshots.Load(context.Background())
	assert.NoError(t, err)

	// a re-push replaces the payload without a second announcement
	h.transport.push("newOrder", rehearsalOrder)
	h.flush(t)
	assert.Equal(t, 1, h.queue.Len())
	assert.Equal(t, 1, h.alerter.count())
}

func TestConfirmedOrderIsNeverResurrected(t *testing.T) {
	h := newHarness(t, false, nil)
	h.transport.push("newOrder", rehearsalOrder)
	h.waitQueued(t, 1)

	_, err := h.session.SetQuantity(1, "2")
	require.NoError(t, err)
	_, err = h.session.SetQuantity(2, "9")
	assert.True(t, errors.Is(err, errors.Validation))

	res, err := h.session.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, decision.OutcomeConfirmed, res.Outcome)
	require.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.Items[0].Quantity)

	assert.Equal(t, 0, h.queue.Len())
	_, ok := h.session.Active()
	assert.False(t, ok)

	emits := h.transport.sent()
	require.Len(t, emits, 1)
	assert.Equal(t, ws.EventOrderStatusPush, emits[0].event)
	assert.Equal(t, statusPush{OrderID: "X1", Status: models.StatusPreparing}, emits[0].payload)

	require.Len(t, h.audit.events, 1)
	assert.Equal(t, "vendor-1", h.audit.events[0].VendorID)
	assert.Equal(t, "confirmed", h.audit.events[0].Outcome)

	h.transport.push("newOrder", rehearsalOrder)
	h.flush(t)
	assert.Equal(t, 0, h.queue.Len())

	_, err = h.snapshots.Load(context.Background())
	assert.ErrorIs(t, err, orderqueue.ErrNoSnapshot)
}

func TestRejectStagedOrderBroadcastsCancellation(t *testing.T) {
	h := newHarness(t, false, nil)
	h.transport.push("newStagedOrder", `{"_id":"S1","items":[{"productId":"p1","name":"Tea","price":20,"quantity":1}]}`)
	h.waitQueued(t, 1)

	_, err := h.session.Reject(context.Background(), "  ")
	assert.ErrorIs(t, err, decision.ErrReasonRequired)

	res, err := h.session.Reject(context.Background(), "out of stock")
	require.NoError(t, err)
	assert.Equal(t, decision.OutcomeRejected, res.Outcome)
	assert.Equal(t, []string{"S1:out of stock"}, h.backend.cancels)

	emits := h.transport.sent()
	require.Len(t, emits, 1)
	assert.Equal(t, statusPush{OrderID: "S1", Status: models.StatusCancelled, Reason: "out of stock"}, emits[0].payload)

	notes := h.session.Notifications()
	assert.Equal(t, models.NotificationOrderRejected, notes[0].Type)
}

func TestStaleDecisionResolvesWithoutBroadcast(t *testing.T) {
	h := newHarness(t, false, nil)
	h.transport.push("newOrder", rehearsalOrder)
	h.waitQueued(t, 1)

	h.backend.err = errors.Stale.Explain("order already handled").WithStatus(409)
	res, err := h.session.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, decision.OutcomeAlreadyResolved, res.Outcome)
	assert.Empty(t, h.transport.sent())
	assert.Equal(t, 0, h.queue.Len())
	assert.True(t, h.queue.IsResolved(context.Background(), "X1"))
}

func TestFailedDecisionKeepsOrderActionable(t *testing.T) {
	h := newHarness(t, false, nil)
	h.transport.push("newOrder", rehearsalOrder)
	h.waitQueued(t, 1)

	h.backend.err = errors.Transport.Explain("connection refused")
	_, err := h.session.Confirm(context.Background())
	assert.True(t, errors.Is(err, errors.Decision))
	assert.Equal(t, 1, h.queue.Len())

	view, ok := h.session.Active()
	require.True(t, ok)
	assert.Equal(t, decision.StateEditing, view.State)
	assert.Empty(t, h.audit.events)
}

func TestTerminalStatusPushRemovesQueuedOrder(t *testing.T) {
	h := newHarness(t, false, nil)
	h.transport.push("newOrder", rehearsalOrder)
	h.transport.push("newOrder", `{"orderId":"X2","items":[{"productId":"p9","quantity":1}]}`)
	h.waitQueued(t, 2)

	h.transport.push("orderStatusUpdate", `{"orderId":"X1","status":"delivered"}`)
	h.waitQueued(t, 1)
	h.flush(t)

	view, ok := h.session.Active()
	require.True(t, ok)
	assert.Equal(t, "X2", view.Order.OrderID)
	assert.True(t, h.queue.IsResolved(context.Background(), "X1"))
}

func TestStatusValidationDropsResolvedAndFailsOpen(t *testing.T) {
	h := newHarness(t, true, nil)

	h.backend.statuses["X1"] = "confirmed"
	h.transport.push("newOrder", rehearsalOrder)
	h.flush(t)
	assert.Equal(t, 0, h.queue.Len())
	assert.True(t, h.queue.IsResolved(context.Background(), "X1"))

	h.backend.mu.Lock()
	h.backend.statusErr = errors.Transport.Explain("backend unreachable")
	h.backend.mu.Unlock()
	h.transport.push("newOrder", `{"orderId":"X2","items":[{"productId":"p9","quantity":1}]}`)
	h.waitQueued(t, 1)
}

func TestRehydratedOrderIsValidatedAgainstBackend(t *testing.T) {
	stored := models.IncomingOrderEvent{
		OrderID: "R1",
		Kind:    models.OrderKindRehearsal,
		Items:   []models.OrderItem{{ProductID: "p1", Name: "Tea", Quantity: 1}},
	}
	state, err := json.Marshal(stored)
	require.NoError(t, err)

	h := newHarness(t, true, func(h *harness) {
		require.NoError(t, h.snapshots.Save(context.Background(), state))
		h.backend.statuses["R1"] = "cancelled"
	})
	assert.Equal(t, 0, h.queue.Len())
	_, ok := h.session.Active()
	assert.False(t, ok)

	h2 := newHarness(t, true, func(h *harness) {
		require.NoError(t, h.snapshots.Save(context.Background(), state))
	})
	view, ok := h2.session.Active()
	require.True(t, ok)
	assert.Equal(t, "R1", view.Order.OrderID)
}

func TestActivateAndDismiss(t *testing.T) {
	h := newHarness(t, false, nil)
	h.transport.push("newOrder", rehearsalOrder)
	h.transport.push("newOrder", `{"orderId":"X2","items":[{"productId":"p9","quantity":1}]}`)
	h.waitQueued(t, 2)
	h.flush(t)

	require.NoError(t, h.session.Activate(context.Background(), "X2"))
	view, _ := h.session.Active()
	assert.Equal(t, "X2", view.Order.OrderID)

	assert.ErrorIs(t, h.session.Activate(context.Background(), "nope"), orderqueue.ErrOrderNotQueued)

	require.NoError(t, h.session.Dismiss(context.Background()))
	view, _ = h.session.Active()
	assert.Equal(t, "X1", view.Order.OrderID)
	assert.False(t, h.queue.IsResolved(context.Background(), "X2"))

	h.transport.push("newOrder", `{"orderId":"X2","items":[{"productId":"p9","quantity":1}]}`)
	h.waitQueued(t, 2)
}

func TestSideEventsNotifyAndUnknownEventsAreDropped(t *testing.T) {
	h := newHarness(t, false, nil)
	h.transport.push("paymentConfirmed", `{"orderId":"X1","amount":250}`)
	h.transport.push("deliveryAssigned", `{"orderId":"X1","deliveryPartner":{"name":"Ravi"}}`)
	h.transport.push("newOrder", `not json`)
	h.flush(t)

	types := map[models.NotificationType]bool{}
	for _, n := range h.session.Notifications() {
		types[n.Type] = true
	}
	assert.True(t, types[models.NotificationPaymentConfirmed])
	assert.True(t, types[models.NotificationDeliveryAssigned])
	assert.Equal(t, 2, h.alerter.count())
	assert.Equal(t, 0, h.queue.Len())
}

func TestConnectionViewAndNotifications(t *testing.T) {
	h := newHarness(t, false, nil)

	h.transport.setState(ws.Status{State: ws.StateReconnecting, ReconnectAttempts: 2})
	v := h.session.View()
	assert.Equal(t, "Reconnecting... (2)", v.ConnectionLabel)
	assert.True(t, v.ShowBanner)

	h.transport.setState(ws.Status{State: ws.StateConnected, Connected: true})
	v = h.session.View()
	assert.Equal(t, notify.HealthHealthy, v.Health)
	assert.Equal(t, 1, v.Notifications)

	h.session.Nudge(ws.NudgeFocus)
	assert.Equal(t, []string{ws.NudgeFocus}, h.transport.nudges)

	require.NoError(t, h.session.Probe())
	assert.Equal(t, 2, len(h.session.Notifications()))
}

func TestCommandsWithoutActiveOrder(t *testing.T) {
	h := newHarness(t, false, nil)
	_, err := h.session.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveOrder)
	_, err = h.session.Reject(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoActiveOrder)
	assert.ErrorIs(t, h.session.Dismiss(context.Background()), ErrNoActiveOrder)
	_, err = h.session.RemoveLine(1)
	assert.ErrorIs(t, err, ErrNoActiveOrder)
	assert.ErrorIs(t, h.session.Start(context.Background()), ErrAlreadyStarted)
}

func TestFeedReceivesQueueNotificationAndDecisionUpdates(t *testing.T) {
	h := newHarness(t, false, nil)
	h.transport.push("newOrder", rehearsalOrder)
	h.waitQueued(t, 1)
	h.flush(t)

	payload, ok := h.feed.latest(TopicOrders)
	require.True(t, ok)
	update := payload.(OrdersUpdate)
	assert.Equal(t, "X1", update.ActiveID)
	require.Len(t, update.Orders, 1)

	_, ok = h.feed.latest(TopicNotification)
	assert.True(t, ok)

	_, err := h.session.Confirm(context.Background())
	require.NoError(t, err)

	payload, ok = h.feed.latest(TopicDecision)
	require.True(t, ok)
	assert.Equal(t, "X1", payload.(decision.Result).OrderID)

	payload, _ = h.feed.latest(TopicOrders)
	assert.Empty(t, payload.(OrdersUpdate).Orders)

	h.transport.setState(ws.Status{State: ws.StateFailed})
	payload, ok = h.feed.latest(TopicConnection)
	require.True(t, ok)
	assert.Equal(t, notify.HealthDisconnected, payload.(notify.View).Health)
}

func TestRepushOfEditedOrderKeepsEditsAndNotifies(t *testing.T) {
	h := newHarness(t, false, nil)
	h.transport.push("newOrder", rehearsalOrder)
	h.waitQueued(t, 1)
	h.flush(t)

	_, err := h.session.SetQuantity(1, "2")
	require.NoError(t, err)

	h.transport.push("newOrder", `{"orderId":"X1","items":[{"productId":"p1","name":"Tea","price":20,"quantity":4},{"productId":"p2","name":"Bun","price":15,"quantity":1}]}`)
	h.flush(t)

	view, ok := h.session.Active()
	require.True(t, ok)
	require.Len(t, view.Lines, 2)
	assert.Equal(t, 2, view.Lines[0].Item.Quantity)
	assert.Equal(t, 4, view.Lines[0].Max)

	var titles []string
	for _, n := range h.session.Notifications() {
		titles = append(titles, n.Title)
	}
	assert.Contains(t, titles, "Active Order Updated")
	assert.Equal(t, 1, h.alerter.count())
}
