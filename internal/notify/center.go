// Package notify keeps the vendor's notification history and derives the
// status view a renderer shows.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aidin1998/vendorpulse/pkg/models"
)

// DefaultCapacity is the number of notifications kept
const DefaultCapacity = 50

// Center is a capped, most-recent-first notification history
type Center struct {
	mu       sync.RWMutex
	capacity int
	items    []models.Notification
	now      func() time.Time
}

func NewCenter(capacity int) *Center {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Center{capacity: capacity, now: time.Now}
}

// Add records n as the newest notification. Entries with an id already
// present, or the same title and message as an existing one, are suppressed.
// Missing ids and timestamps are filled in.
func (c *Center) Add(n models.Notification) (models.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.items {
		if (n.ID != "" && existing.ID == n.ID) || (existing.Title == n.Title && existing.Message == n.Message) {
			return existing, false
		}
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = c.now()
	}

	c.items = append([]models.Notification{n}, c.items...)
	if len(c.items) > c.capacity {
		c.items = c.items[:c.capacity]
	}
	return n, true
}

// Dismiss removes one notification
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		if c.items[i].ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every notification
func (c *Center) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}

// List returns the notifications newest first
func (c *Center) List() []models.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Notification(nil), c.items...)
}

func (c *Center) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
