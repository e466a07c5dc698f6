package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/internal/audit"
	"github.com/Aidin1998/vendorpulse/internal/decision"
	"github.com/Aidin1998/vendorpulse/internal/notify"
	"github.com/Aidin1998/vendorpulse/internal/orderqueue"
	"github.com/Aidin1998/vendorpulse/internal/ws"
	"github.com/Aidin1998/vendorpulse/pkg/errors"
	"github.com/Aidin1998/vendorpulse/pkg/models"
)

// Confirm submits the active order's draft
func (s *Session) Confirm(ctx context.Context) (decision.Result, error) {
	w, ok := s.deps.Desk.Current()
	if !ok {
		return decision.Result{}, ErrNoActiveOrder
	}
	res, err := w.Confirm(ctx)
	if err != nil {
		return decision.Result{}, err
	}
	s.complete(ctx, res)
	return res, nil
}

// Reject cancels the active order with the vendor's reason
func (s *Session) Reject(ctx context.Context, reason string) (decision.Result, error) {
	w, ok := s.deps.Desk.Current()
	if !ok {
		return decision.Result{}, ErrNoActiveOrder
	}
	res, err := w.Reject(ctx, reason)
	if err != nil {
		return decision.Result{}, err
	}
	s.complete(ctx, res)
	return res, nil
}

// Dismiss closes the active order locally. The order is not marked resolved
// and comes back if the server pushes it again.
func (s *Session) Dismiss(ctx context.Context) error {
	w, ok := s.deps.Desk.Current()
	if !ok {
		return ErrNoActiveOrder
	}
	if err := w.Cancel(); err != nil {
		return err
	}
	s.deps.Queue.Remove(ctx, w.OrderID(), orderqueue.ResolutionDismissed)
	s.syncDesk()
	s.logger.Info("order dismissed", zap.String("order_id", w.OrderID()))
	return nil
}

// SetQuantity edits one line of the active draft
func (s *Session) SetQuantity(line int, input string) (decision.View, error) {
	w, ok := s.deps.Desk.Current()
	if !ok {
		return decision.View{}, ErrNoActiveOrder
	}
	if !w.SetQuantity(line, input) {
		return w.View(), errors.Validation.Explain("quantity %q was not applied to line %d", input, line).
			WithField("range", "quantity", "must be a whole number between 0 and the ordered quantity")
	}
	return w.View(), nil
}

// RemoveLine drops one line from the active draft
func (s *Session) RemoveLine(line int) (decision.View, error) {
	w, ok := s.deps.Desk.Current()
	if !ok {
		return decision.View{}, ErrNoActiveOrder
	}
	if !w.RemoveLine(line) {
		return w.View(), errors.Validation.Explain("line %d cannot be removed", line)
	}
	return w.View(), nil
}

// Activate switches the decision surface to another queued order
func (s *Session) Activate(ctx context.Context, orderID string) error {
	if s.deps.Desk.Busy() {
		return decision.ErrDecisionInFlight
	}
	if err := s.deps.Queue.Activate(ctx, orderID); err != nil {
		return err
	}
	s.syncDesk()
	return nil
}

// complete applies a resolved decision. The queue entry may already be gone
// when a status push for the same order arrived while the call was pending.
func (s *Session) complete(ctx context.Context, res decision.Result) {
	log := s.logger.With(zap.String("order_id", res.OrderID), zap.String("outcome", string(res.Outcome)))

	if !s.deps.Queue.Remove(ctx, res.OrderID, resolutionOf(res.Outcome)) {
		log.Debug("order left the queue while the decision was pending")
	}
	s.syncDesk()

	accepted := res.Action == decision.ActionConfirm
	detail := res.Reason
	if res.Outcome == decision.OutcomeAlreadyResolved {
		detail = "already handled elsewhere"
	} else {
		push := statusPush{OrderID: res.OrderID, Status: models.StatusPreparing}
		if !accepted {
			push.Status = models.StatusCancelled
			push.Reason = res.Reason
		}
		if err := s.deps.Transport.Emit(ws.EventOrderStatusPush, push); err != nil {
			log.Debug("status re-broadcast skipped", zap.Error(err))
		}
	}
	s.notify(ctx, notify.Decision(res.OrderID, accepted, detail), false)
	s.publish(TopicDecision, res)

	if s.deps.Audit != nil {
		err := s.deps.Audit.Publish(ctx, audit.DecisionEvent{
			VendorID:  s.identity.VendorID,
			OrderID:   res.OrderID,
			Kind:      res.Kind,
			Action:    res.Action,
			Outcome:   string(res.Outcome),
			Reason:    res.Reason,
			ItemCount: len(res.Items),
		})
		if err != nil {
			log.Warn("failed to publish decision audit event", zap.Error(err))
		}
	}
	log.Info("decision applied", zap.String("action", res.Action))
}

func resolutionOf(outcome decision.Outcome) orderqueue.Resolution {
	switch outcome {
	case decision.OutcomeConfirmed:
		return orderqueue.ResolutionConfirmed
	case decision.OutcomeRejected:
		return orderqueue.ResolutionRejected
	default:
		return orderqueue.ResolutionAlreadyResolved
	}
}

// Active returns the decision view of the active order
func (s *Session) Active() (decision.View, bool) {
	w, ok := s.deps.Desk.Current()
	if !ok {
		return decision.View{}, false
	}
	return w.View(), true
}

// Orders lists queued orders in arrival order
func (s *Session) Orders() []models.IncomingOrderEvent {
	return s.deps.Queue.List()
}

func (s *Session) Notifications() []models.Notification {
	return s.deps.Notifications.List()
}

func (s *Session) DismissNotification(id string) bool {
	return s.deps.Notifications.Dismiss(id)
}

func (s *Session) ClearNotifications() {
	s.deps.Notifications.Clear()
}

// View builds the dashboard header state
func (s *Session) View() notify.View {
	return notify.BuildView(
		s.deps.Transport.Status(),
		s.Started(),
		s.deps.Queue.Len(),
		s.deps.Notifications.Len(),
		s.deps.Queue.ActiveID(),
	)
}

// Nudge asks the transport to reconnect now if it is down
func (s *Session) Nudge(reason string) {
	s.deps.Transport.Nudge(reason)
}

// Probe sends test frames over the live link
func (s *Session) Probe() error {
	if err := s.deps.Transport.Probe(); err != nil {
		return err
	}
	s.notify(context.Background(), models.Notification{
		Type:    models.NotificationTest,
		Title:   "Connection Test",
		Message: "Test frames sent to the order server.",
	}, false)
	return nil
}

func (s *Session) JoinRoom(room string) error {
	return s.deps.Transport.JoinRoom(room)
}

func (s *Session) LeaveRoom(room string) error {
	return s.deps.Transport.LeaveRoom(room)
}
