package decision

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/pkg/logger"
	"github.com/Aidin1998/vendorpulse/pkg/models"
)

// Desk holds the workflow for whichever order is currently active
type Desk struct {
	mu      sync.Mutex
	current *Workflow
	api     OrderAPI
	logger  *zap.Logger
}

func NewDesk(api OrderAPI, log *zap.Logger) *Desk {
	return &Desk{api: api, logger: logger.OrNop(log).With(zap.String("component", "decision"))}
}

// Sync points the desk at the queue's active order. A different order
// replaces the workflow, no active order clears it, and the same order keeps
// the vendor's edits.
func (d *Desk) Sync(active models.IncomingOrderEvent, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !ok {
		d.current = nil
		return
	}
	if d.current != nil && d.current.OrderID() == active.OrderID {
		return
	}
	d.current = NewWorkflow(active, d.api, d.logger)
}

// Refresh re-seeds the draft after the active order was re-pushed with a new
// payload. It does nothing while a decision is in flight.
func (d *Desk) Refresh(order models.IncomingOrderEvent) RefreshResult {
	w, ok := d.Current()
	if !ok || w.OrderID() != order.OrderID {
		return RefreshResult{}
	}
	res := w.Refresh(order)
	if res.Applied {
		d.logger.Debug("active order payload refreshed",
			zap.String("order_id", order.OrderID),
			zap.Bool("had_edits", res.HadEdits))
	}
	return res
}

// Current returns the active workflow
func (d *Desk) Current() (*Workflow, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, d.current != nil
}

// Busy reports whether the active workflow has a decision in flight
func (d *Desk) Busy() bool {
	w, ok := d.Current()
	return ok && w.InFlight()
}

// Clear drops the current workflow without any backend call
func (d *Desk) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = nil
}
