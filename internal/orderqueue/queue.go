// Package orderqueue implements the vendor's order intake queue: de-duplicated
// by order id, one active order at a time, with the active order mirrored
// into a snapshot store so a restart resumes the in-progress decision.
package orderqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/pkg/errors"
	"github.com/Aidin1998/vendorpulse/pkg/logger"
	"github.com/Aidin1998/vendorpulse/pkg/metrics"
	"github.com/Aidin1998/vendorpulse/pkg/models"
)

// Outcome describes what an upsert did
type Outcome string

const (
	Inserted           Outcome = "inserted"
	Updated            Outcome = "updated"
	SuppressedResolved Outcome = "suppressed_resolved"
)

// UpsertResult reports the outcome and whether the order is now the active one
type UpsertResult struct {
	Outcome Outcome
	Active  bool
}

// Resolution is why an order left the queue
type Resolution string

const (
	ResolutionConfirmed       Resolution = "confirmed"
	ResolutionRejected        Resolution = "rejected"
	ResolutionAlreadyResolved Resolution = "already_resolved"
	ResolutionStatusTerminal  Resolution = "status_terminal"
	// ResolutionDismissed is a local deferral; the order may be pushed again.
	ResolutionDismissed Resolution = "dismissed"
)

// MarksResolved reports whether the resolution is a business outcome that
// must suppress later pushes of the same order
func (r Resolution) MarksResolved() bool {
	return r != ResolutionDismissed
}

// ErrOrderNotQueued is returned when an operation names an order not in the queue
var ErrOrderNotQueued = errors.NotFound.Explain("order is not queued")

// Queue holds orders awaiting a vendor decision in arrival order.
// Safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	entries  []models.IncomingOrderEvent
	activeID string

	snapshots SnapshotStore
	resolved  ResolvedSet
	logger    *zap.Logger
}

// NewQueue creates a queue. Nil stores default to in-memory implementations.
func NewQueue(snapshots SnapshotStore, resolved ResolvedSet, log *zap.Logger) *Queue {
	if snapshots == nil {
		snapshots = NewMemorySnapshotStore()
	}
	if resolved == nil {
		resolved = NewMemoryResolvedSet(DefaultResolvedTTL)
	}
	return &Queue{
		snapshots: snapshots,
		resolved:  resolved,
		logger:    logger.OrNop(log).With(zap.String("component", "orderqueue")),
	}
}

// Upsert inserts a new order as newest, or replaces the payload of a queued
// order in place keeping its position and first arrival time. Orders marked
// resolved are never re-inserted.
func (q *Queue) Upsert(ctx context.Context, ev models.IncomingOrderEvent) UpsertResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	// checked under mu so a concurrent Remove cannot slip in between
	if q.IsResolved(ctx, ev.OrderID) {
		metrics.QueueUpserts.WithLabelValues(string(SuppressedResolved)).Inc()
		q.logger.Debug("suppressed push for resolved order", zap.String("order_id", ev.OrderID))
		return UpsertResult{Outcome: SuppressedResolved}
	}

	ev = ev.Clone()
	result := UpsertResult{Outcome: Inserted}
	if idx := q.indexLocked(ev.OrderID); idx >= 0 {
		ev.ReceivedAt = q.entries[idx].ReceivedAt
		q.entries[idx] = ev
		result.Outcome = Updated
	} else {
		q.entries = append(q.entries, ev)
		if q.activeID == "" {
			q.activeID = ev.OrderID
		}
	}

	result.Active = q.activeID == ev.OrderID
	if result.Active {
		q.persistLocked(ctx)
	}

	metrics.QueueUpserts.WithLabelValues(string(result.Outcome)).Inc()
	metrics.QueueSize.Set(float64(len(q.entries)))
	return result
}

// Remove drops an order. Business resolutions also mark the id resolved,
// even when the order was not queued. It reports whether an entry was removed.
func (q *Queue) Remove(ctx context.Context, orderID string, reason Resolution) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if reason.MarksResolved() {
		if err := q.resolved.MarkResolved(ctx, orderID); err != nil {
			q.logger.Warn("failed to mark order resolved", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	idx := q.indexLocked(orderID)
	if idx < 0 {
		return false
	}
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)

	if q.activeID == orderID {
		q.activeID = ""
		if len(q.entries) > 0 {
			q.activeID = q.entries[0].OrderID
		}
		q.persistLocked(ctx)
	}

	metrics.QueueSize.Set(float64(len(q.entries)))
	q.logger.Info("order removed",
		zap.String("order_id", orderID),
		zap.String("resolution", string(reason)),
		zap.Int("remaining", len(q.entries)))
	return true
}

// Activate makes a queued order the active one
func (q *Queue) Activate(ctx context.Context, orderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexLocked(orderID) < 0 {
		return ErrOrderNotQueued
	}
	if q.activeID == orderID {
		return nil
	}
	q.activeID = orderID
	q.persistLocked(ctx)
	return nil
}

// PeekActive returns a copy of the active order
func (q *Queue) PeekActive() (models.IncomingOrderEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if idx := q.indexLocked(q.activeID); idx >= 0 {
		return q.entries[idx].Clone(), true
	}
	return models.IncomingOrderEvent{}, false
}

// ActiveID returns the id of the active order or ""
func (q *Queue) ActiveID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeID
}

// Get returns a copy of a queued order
func (q *Queue) Get(orderID string) (models.IncomingOrderEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if idx := q.indexLocked(orderID); idx >= 0 {
		return q.entries[idx].Clone(), true
	}
	return models.IncomingOrderEvent{}, false
}

// Contains reports whether orderID is queued
func (q *Queue) Contains(orderID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(orderID) >= 0
}

// List returns copies of all queued orders, oldest first
func (q *Queue) List() []models.IncomingOrderEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.IncomingOrderEvent, len(q.entries))
	for i, ev := range q.entries {
		out[i] = ev.Clone()
	}
	return out
}

// ListNewestFirst returns copies of all queued orders, newest first
func (q *Queue) ListNewestFirst() []models.IncomingOrderEvent {
	out := q.List()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// IsResolved consults the resolved set. Lookup failures count as not resolved
// so a flaky shared store cannot hide pending orders. It does not take mu.
func (q *Queue) IsResolved(ctx context.Context, orderID string) bool {
	resolved, err := q.resolved.IsResolved(ctx, orderID)
	if err != nil {
		q.logger.Warn("resolved lookup failed", zap.String("order_id", orderID), zap.Error(err))
		return false
	}
	return resolved
}

// Rehydrate loads the persisted snapshot and restores it as the active order.
// A snapshot for an order already resolved is cleared instead.
func (q *Queue) Rehydrate(ctx context.Context) (models.IncomingOrderEvent, bool, error) {
	state, err := q.snapshots.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return models.IncomingOrderEvent{}, false, nil
	}
	if err != nil {
		return models.IncomingOrderEvent{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	var ev models.IncomingOrderEvent
	if err := json.Unmarshal(state, &ev); err != nil || ev.OrderID == "" {
		q.logger.Warn("discarding unreadable snapshot", zap.Error(err))
		return models.IncomingOrderEvent{}, false, q.snapshots.Clear(ctx)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.IsResolved(ctx, ev.OrderID) {
		q.logger.Info("discarding snapshot of resolved order", zap.String("order_id", ev.OrderID))
		return models.IncomingOrderEvent{}, false, q.snapshots.Clear(ctx)
	}

	if idx := q.indexLocked(ev.OrderID); idx >= 0 {
		ev = q.entries[idx]
	} else {
		q.entries = append([]models.IncomingOrderEvent{ev}, q.entries...)
	}
	q.activeID = ev.OrderID
	metrics.QueueSize.Set(float64(len(q.entries)))

	q.logger.Info("rehydrated active order", zap.String("order_id", ev.OrderID))
	return ev.Clone(), true, nil
}

func (q *Queue) indexLocked(orderID string) int {
	if orderID == "" {
		return -1
	}
	for i := range q.entries {
		if q.entries[i].OrderID == orderID {
			return i
		}
	}
	return -1
}

// persistLocked mirrors the active entry into the snapshot store, or clears it.
// Storage failures are logged; the in-memory queue stays authoritative.
func (q *Queue) persistLocked(ctx context.Context) {
	idx := q.indexLocked(q.activeID)
	if idx < 0 {
		if err := q.snapshots.Clear(ctx); err != nil {
			q.logger.Warn("failed to clear snapshot", zap.Error(err))
		}
		return
	}

	state, err := json.Marshal(q.entries[idx])
	if err != nil {
		q.logger.Error("failed to encode snapshot", zap.String("order_id", q.activeID), zap.Error(err))
		return
	}
	if err := q.snapshots.Save(ctx, state); err != nil {
		q.logger.Warn("failed to save snapshot", zap.String("order_id", q.activeID), zap.Error(err))
	}
}
