package orderqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultResolvedTTL bounds how long a resolved id suppresses late pushes
const DefaultResolvedTTL = 30 * time.Minute

// ResolvedSet remembers recently resolved order ids so late or replayed
// pushes cannot resurrect them.
type ResolvedSet interface {
	MarkResolved(ctx context.Context, orderID string) error
	IsResolved(ctx context.Context, orderID string) (bool, error)
}

// MemoryResolvedSet is a process-local ResolvedSet with per-entry expiry
type MemoryResolvedSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryResolvedSet(ttl time.Duration) *MemoryResolvedSet {
	if ttl <= 0 {
		ttl = DefaultResolvedTTL
	}
	return &MemoryResolvedSet{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryResolvedSet) MarkResolved(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[orderID] = s.now().Add(s.ttl)
	s.pruneLocked()
	return nil
}

func (s *MemoryResolvedSet) IsResolved(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.entries[orderID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expiry) {
		delete(s.entries, orderID)
		return false, nil
	}
	return true, nil
}

// Len returns the number of unexpired entries
func (s *MemoryResolvedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return len(s.entries)
}

func (s *MemoryResolvedSet) pruneLocked() {
	now := s.now()
	for id, expiry := range s.entries {
		if !now.Before(expiry) {
			delete(s.entries, id)
		}
	}
}

// RedisResolvedSet shares resolved ids across agent instances of one vendor
type RedisResolvedSet struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisResolvedSet(client redis.Cmdable, vendorID string, ttl time.Duration) *RedisResolvedSet {
	if ttl <= 0 {
		ttl = DefaultResolvedTTL
	}
	return &RedisResolvedSet{
		client: client,
		prefix: fmt.Sprintf("vendorpulse:%s:resolved:", vendorID),
		ttl:    ttl,
	}
}

func (s *RedisResolvedSet) MarkResolved(ctx context.Context, orderID string) error {
	return s.client.Set(ctx, s.prefix+orderID, 1, s.ttl).Err()
}

func (s *RedisResolvedSet) IsResolved(ctx context.Context, orderID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+orderID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
