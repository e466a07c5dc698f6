package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Aidin1998/vendorpulse/internal/config"
	"github.com/Aidin1998/vendorpulse/internal/decision"
	"github.com/Aidin1998/vendorpulse/internal/notify"
	"github.com/Aidin1998/vendorpulse/internal/orderqueue"
	"github.com/Aidin1998/vendorpulse/pkg/errors"
	"github.com/Aidin1998/vendorpulse/pkg/models"
)

type fakeController struct {
	active     *decision.View
	confirmErr error
	quantities []string
	rejects    []string
	nudges     []string
	notes      []models.Notification
}

func (f *fakeController) View() notify.View {
	return notify.View{ConnectionLabel: "Connected", Health: notify.HealthHealthy, PendingOrders: 1, Badge: 1}
}

func (f *fakeController) Orders() []models.IncomingOrderEvent {
	return []models.IncomingOrderEvent{{OrderID: "X1", Kind: models.OrderKindRehearsal}}
}

func (f *fakeController) Active() (decision.View, bool) {
	if f.active == nil {
		return decision.View{}, false
	}
	return *f.active, true
}

func (f *fakeController) Activate(ctx context.Context, orderID string) error {
	if orderID != "X1" {
		return orderqueue.ErrOrderNotQueued
	}
	return nil
}

func (f *fakeController) SetQuantity(line int, input string) (decision.View, error) {
	f.quantities = append(f.quantities, input)
	return *f.active, nil
}

func (f *fakeController) RemoveLine(line int) (decision.View, error) {
	return *f.active, nil
}

func (f *fakeController) Confirm(ctx context.Context) (decision.Result, error) {
	if f.confirmErr != nil {
		return decision.Result{}, f.confirmErr
	}
	return decision.Result{OrderID: "X1", Action: decision.ActionConfirm, Outcome: decision.OutcomeConfirmed}, nil
}

func (f *fakeController) Reject(ctx context.Context, reason string) (decision.Result, error) {
	f.rejects = append(f.rejects, reason)
	return decision.Result{OrderID: "X1", Action: decision.ActionReject, Outcome: decision.OutcomeRejected, Reason: reason}, nil
}

func (f *fakeController) Dismiss(ctx context.Context) error { return nil }

func (f *fakeController) Notifications() []models.Notification { return f.notes }

func (f *fakeController) DismissNotification(id string) bool { return id == "n1" }

func (f *fakeController) ClearNotifications() { f.notes = nil }

func (f *fakeController) Nudge(reason string) { f.nudges = append(f.nudges, reason) }

func (f *fakeController) Probe() error { return nil }

func (f *fakeController) JoinRoom(room string) error  { return nil }
func (f *fakeController) LeaveRoom(room string) error { return nil }

func newTestServer(ctl *fakeController) http.Handler {
	gin.SetMode(gin.TestMode)
	return NewServer(config.Default().Server, ctl, nil, nil).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func activeView() *decision.View {
	return &decision.View{
		Order:  models.IncomingOrderEvent{OrderID: "X1", Kind: models.OrderKindRehearsal},
		State:  decision.StateLoaded,
		Policy: decision.PolicyFor(models.OrderKindRehearsal),
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(&fakeController{})

	w := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connection":"healthy"`)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vendorpulse_queue_size")
}

func TestActiveOrderNotFoundIsProblemDocument(t *testing.T) {
	h := newTestServer(&fakeController{})

	w := do(t, h, http.MethodGet, "/api/orders/active", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "/api/orders/active", body["instance"])
	assert.EqualValues(t, http.StatusNotFound, body["status"])

	w = do(t, h, http.MethodPost, "/api/orders/nope/activate", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetQuantityAcceptsNumbersAndStrings(t *testing.T) {
	ctl := &fakeController{active: activeView()}
	h := newTestServer(ctl)

	w := do(t, h, http.MethodPatch, "/api/orders/active/lines/1", `{"quantity":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodPatch, "/api/orders/active/lines/1", `{"quantity":"abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"2", "abc"}, ctl.quantities)

	w = do(t, h, http.MethodPatch, "/api/orders/active/lines/zero", `{"quantity":2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, h, http.MethodPatch, "/api/orders/active/lines/1", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestConfirmMapsErrorKinds(t *testing.T) {
	ctl := &fakeController{active: activeView()}
	h := newTestServer(ctl)

	w := do(t, h, http.MethodPost, "/api/orders/active/confirm", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"confirmed"`)

	ctl.confirmErr = decision.ErrNothingToConfirm
	w = do(t, h, http.MethodPost, "/api/orders/active/confirm", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	ctl.confirmErr = errors.Decision.Explain("backend said no").WithStatus(500)
	w = do(t, h, http.MethodPost, "/api/orders/active/confirm", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "upstream_status")
}

func TestRejectRequiresReason(t *testing.T) {
	ctl := &fakeController{active: activeView()}
	h := newTestServer(ctl)

	w := do(t, h, http.MethodPost, "/api/orders/active/reject", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, ctl.rejects)

	w = do(t, h, http.MethodPost, "/api/orders/active/reject", `{"reason":"out of stock"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"out of stock"}, ctl.rejects)
}

func TestActivityNudgesTransport(t *testing.T) {
	ctl := &fakeController{}
	h := newTestServer(ctl)

	w := do(t, h, http.MethodPost, "/api/activity", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = do(t, h, http.MethodPost, "/api/activity", `{"reason":"visibility"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = do(t, h, http.MethodPost, "/api/activity", `{"reason":"sneeze"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	assert.Equal(t, []string{"activity", "visibility"}, ctl.nudges)
}

func TestNotificationRoutes(t *testing.T) {
	ctl := &fakeController{notes: []models.Notification{{ID: "n1", Title: "t"}}}
	h := newTestServer(ctl)

	w := do(t, h, http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"badge":1`)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/notifications/n1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/notifications/n2", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/notifications", "").Code)
	assert.Nil(t, ctl.notes)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/rooms/vendor-1/join", "").Code)
}

func TestRequestsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	h := newTestServer(&fakeController{})
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/status", "").Code)

	ended := recorder.Ended()
	require.NotEmpty(t, ended)
	assert.Equal(t, "/api/status", ended[len(ended)-1].Name())
}
