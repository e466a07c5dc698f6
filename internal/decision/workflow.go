// Package decision implements the per-order confirm/reject workflow.
package decision

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/pkg/errors"
	"github.com/Aidin1998/vendorpulse/pkg/logger"
	"github.com/Aidin1998/vendorpulse/pkg/metrics"
	"github.com/Aidin1998/vendorpulse/pkg/models"
	"github.com/Aidin1998/vendorpulse/pkg/tracing"
)

const instrumentation = "github.com/Aidin1998/vendorpulse/internal/decision"

// State of a workflow
type State string

const (
	StateLoaded     State = "loaded"
	StateEditing    State = "editing"
	StateConfirming State = "confirming"
	StateRejecting  State = "rejecting"
	StateResolved   State = "resolved"
)

// Outcome of a completed decision
type Outcome string

const (
	OutcomeConfirmed       Outcome = "confirmed"
	OutcomeRejected        Outcome = "rejected"
	OutcomeAlreadyResolved Outcome = "already_resolved"
)

// Actions
const (
	ActionConfirm = "confirm"
	ActionReject  = "reject"
)

var (
	ErrDecisionInFlight = errors.Validation.Explain("a decision for this order is already in progress")
	ErrAlreadyResolved  = errors.Stale.Explain("order is already resolved")
	ErrNothingToConfirm = errors.Validation.Explain("cannot confirm an order with no items").
				WithField("min", "items", "at least one line needs a quantity above zero")
	ErrNotRejectable = errors.Validation.Explain("this order cannot be rejected; reduce quantities instead")
	ErrReasonRequired = errors.Validation.Explain("a reason is required to reject an order").
				WithField("required", "reason", "must not be empty")
)

// OrderAPI is the backend surface the workflow calls
type OrderAPI interface {
	UpdateStatus(ctx context.Context, orderID, status, reason string) error
	ConfirmRehearsal(ctx context.Context, orderID string, items []models.OrderItem) error
	ConfirmStaged(ctx context.Context, orderID string) error
}

// Result describes a resolved decision
type Result struct {
	OrderID string             `json:"orderId"`
	Kind    models.OrderKind   `json:"kind"`
	Action  string             `json:"action"`
	Outcome Outcome            `json:"outcome"`
	Items   []models.OrderItem `json:"items,omitempty"`
	Reason  string             `json:"reason,omitempty"`
}

// View is a read-only snapshot of a workflow for rendering
type View struct {
	Order  models.IncomingOrderEvent `json:"order"`
	State  State                     `json:"state"`
	Policy KindPolicy                `json:"policy"`
	Lines  []Line                    `json:"lines"`
}

// Workflow drives one active order from Loaded to Resolved
type Workflow struct {
	mu     sync.Mutex
	order  models.IncomingOrderEvent
	policy KindPolicy
	draft  *Draft
	state  State

	api    OrderAPI
	logger *zap.Logger
}

// NewWorkflow loads order into a fresh draft
func NewWorkflow(order models.IncomingOrderEvent, api OrderAPI, log *zap.Logger) *Workflow {
	return &Workflow{
		order:  order.Clone(),
		policy: PolicyFor(order.Kind),
		draft:  NewDraft(order.Items),
		state:  StateLoaded,
		api:    api,
		logger: logger.OrNop(log).With(zap.String("order_id", order.OrderID)),
	}
}

func (w *Workflow) OrderID() string {
	return w.order.OrderID
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// InFlight reports whether a backend call is pending
func (w *Workflow) InFlight() bool {
	s := w.State()
	return s == StateConfirming || s == StateRejecting
}

func (w *Workflow) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return View{
		Order:  w.order.Clone(),
		State:  w.state,
		Policy: w.policy,
		Lines:  w.draft.Lines(),
	}
}

// RefreshResult reports what a payload refresh did to the draft
type RefreshResult struct {
	Applied bool
	// HadEdits is set when the vendor had unsent edits that were rebased
	// onto the new payload
	HadEdits bool
}

// Refresh re-seeds the draft from a newer payload of the same order, keeping
// the vendor's edits on products that are still in it. It is refused while a
// decision is in flight or after resolution.
func (w *Workflow) Refresh(order models.IncomingOrderEvent) RefreshResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	if order.OrderID != w.order.OrderID || !w.editableStateLocked() {
		return RefreshResult{}
	}
	hadEdits := w.state == StateEditing
	next := NewDraft(order.Items)
	if hadEdits {
		next.rebase(w.draft, w.order.Items)
	}

	w.order = order.Clone()
	w.policy = PolicyFor(order.Kind)
	w.draft = next
	if !hadEdits {
		w.state = StateLoaded
	}
	return RefreshResult{Applied: true, HadEdits: hadEdits}
}

// SetQuantity edits one line. Returns false when the input was not applied.
func (w *Workflow) SetQuantity(line int, input string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.policy.Editable || !w.editableStateLocked() {
		return false
	}
	if !w.draft.SetQuantity(line, input) {
		return false
	}
	w.state = StateEditing
	return true
}

// RemoveLine drops one line from the draft
func (w *Workflow) RemoveLine(line int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.policy.Editable || !w.editableStateLocked() {
		return false
	}
	if !w.draft.RemoveLine(line) {
		return false
	}
	w.state = StateEditing
	return true
}

// Confirm submits the draft. Staged orders go through the paid-order
// endpoint without items; rehearsal orders submit the lines left above zero.
func (w *Workflow) Confirm(ctx context.Context) (Result, error) {
	w.mu.Lock()
	if err := w.beginLocked(ActionConfirm); err != nil {
		w.mu.Unlock()
		return Result{}, err
	}
	if !w.draft.Confirmable() {
		w.countLocked(ActionConfirm, "refused")
		w.mu.Unlock()
		return Result{}, ErrNothingToConfirm
	}
	w.state = StateConfirming
	order := w.order
	items := w.draft.Items()
	w.mu.Unlock()

	ctx, span := w.startSpan(ctx, ActionConfirm, order)

	start := time.Now()
	var err error
	if order.Kind == models.OrderKindStaged {
		err = w.api.ConfirmStaged(ctx, order.OrderID)
	} else {
		err = w.api.ConfirmRehearsal(ctx, order.OrderID, items)
	}
	metrics.DecisionLatency.Observe(time.Since(start).Seconds())

	res := Result{OrderID: order.OrderID, Kind: order.Kind, Action: ActionConfirm, Outcome: OutcomeConfirmed}
	if order.Kind != models.OrderKindStaged {
		res.Items = items
	}
	return endSpan(span)(w.finish(res, err))
}

// Reject cancels a rejectable order with the vendor's reason
func (w *Workflow) Reject(ctx context.Context, reason string) (Result, error) {
	reason = strings.TrimSpace(reason)

	w.mu.Lock()
	if err := w.beginLocked(ActionReject); err != nil {
		w.mu.Unlock()
		return Result{}, err
	}
	if !w.policy.Rejectable {
		w.countLocked(ActionReject, "refused")
		w.mu.Unlock()
		return Result{}, ErrNotRejectable
	}
	if reason == "" {
		w.countLocked(ActionReject, "refused")
		w.mu.Unlock()
		return Result{}, ErrReasonRequired
	}
	w.state = StateRejecting
	order := w.order
	w.mu.Unlock()

	ctx, span := w.startSpan(ctx, ActionReject, order)

	start := time.Now()
	err := w.api.UpdateStatus(ctx, order.OrderID, models.StatusCancelled, reason)
	metrics.DecisionLatency.Observe(time.Since(start).Seconds())

	return endSpan(span)(w.finish(Result{
		OrderID: order.OrderID,
		Kind:    order.Kind,
		Action:  ActionReject,
		Outcome: OutcomeRejected,
		Reason:  reason,
	}, err))
}

func (w *Workflow) startSpan(ctx context.Context, action string, order models.IncomingOrderEvent) (context.Context, trace.Span) {
	return tracing.Start(ctx, instrumentation, "decision."+action,
		attribute.String("order.id", order.OrderID),
		attribute.String("order.kind", string(order.Kind)))
}

// endSpan closes a decision span with the outcome the workflow settled on
func endSpan(span trace.Span) func(Result, error) (Result, error) {
	return func(res Result, err error) (Result, error) {
		if err == nil {
			span.SetAttributes(attribute.String("decision.outcome", string(res.Outcome)))
		}
		tracing.End(span, err)
		return res, err
	}
}

// Cancel discards local edits without contacting the backend
func (w *Workflow) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.beginLocked("cancel"); err != nil {
		return err
	}
	w.draft = NewDraft(w.order.Items)
	w.state = StateLoaded
	return nil
}

func (w *Workflow) beginLocked(action string) error {
	switch w.state {
	case StateConfirming, StateRejecting:
		w.logger.Debug("decision already in flight", zap.String("action", action))
		return ErrDecisionInFlight
	case StateResolved:
		return ErrAlreadyResolved
	}
	return nil
}

func (w *Workflow) editableStateLocked() bool {
	return w.state == StateLoaded || w.state == StateEditing
}

// finish applies the backend outcome. A stale response means another tab or
// channel already resolved the order, which is the state we wanted.
func (w *Workflow) finish(res Result, err error) (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case err == nil:
		w.state = StateResolved
	case errors.Is(err, errors.Stale):
		w.state = StateResolved
		res.Outcome = OutcomeAlreadyResolved
		w.logger.Info("order already resolved upstream", zap.String("action", res.Action), zap.Error(err))
	default:
		w.state = StateEditing
		w.countLocked(res.Action, "failed")
		w.logger.Warn("decision failed", zap.String("action", res.Action), zap.Error(err))
		if errors.KindOf(err) != errors.KindDecision {
			err = errors.Decision.Explain("%s order %s failed", res.Action, res.OrderID).Wrap(err)
		}
		return Result{}, err
	}

	w.countLocked(res.Action, string(res.Outcome))
	w.logger.Info("decision resolved", zap.String("action", res.Action), zap.String("outcome", string(res.Outcome)))
	return res, nil
}

func (w *Workflow) countLocked(action, outcome string) {
	metrics.Decisions.WithLabelValues(action, string(w.order.Kind), outcome).Inc()
}
