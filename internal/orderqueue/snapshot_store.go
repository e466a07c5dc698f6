package orderqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/redis/go-redis/v9"

	"github.com/Aidin1998/vendorpulse/pkg/errors"
)

// DefaultSnapshotKey is the storage key holding the active order
const DefaultSnapshotKey = "persistentVendorOrder"

// ErrNoSnapshot is returned by Load when nothing is persisted
var ErrNoSnapshot = errors.NotFound.Explain("no snapshot found")

// SnapshotStore persists the JSON form of the active order under one fixed key.
type SnapshotStore interface {
	// Save overwrites the persisted snapshot.
	Save(ctx context.Context, state []byte) error

	// Load retrieves the persisted snapshot or ErrNoSnapshot.
	Load(ctx context.Context) ([]byte, error)

	// Clear removes the persisted snapshot. Clearing an empty store is not an error.
	Clear(ctx context.Context) error

	Close() error
}

// BadgerSnapshotStore persists the snapshot in a local BadgerDB.
type BadgerSnapshotStore struct {
	db  *badger.DB
	key []byte
}

// NewBadgerSnapshotStore opens (or creates) the store at path
func NewBadgerSnapshotStore(path, key string) (*BadgerSnapshotStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &BadgerSnapshotStore{db: db, key: []byte(key)}, nil
}

func (s *BadgerSnapshotStore) Save(ctx context.Context, state []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, state)
	})
}

func (s *BadgerSnapshotStore) Load(ctx context.Context) ([]byte, error) {
	var state []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			state = append([]byte(nil), v...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNoSnapshot
	}
	return state, err
}

func (s *BadgerSnapshotStore) Clear(ctx context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key)
	})
}

func (s *BadgerSnapshotStore) Close() error {
	return s.db.Close()
}

// RedisSnapshotStore shares the snapshot between agent instances of the same
// vendor. Concurrent writers resolve last-writer-wins.
type RedisSnapshotStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisSnapshotStore stores the snapshot under key, namespaced per vendor
func NewRedisSnapshotStore(client redis.Cmdable, vendorID, key string) *RedisSnapshotStore {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &RedisSnapshotStore{client: client, key: fmt.Sprintf("vendorpulse:%s:%s", vendorID, key)}
}

func (s *RedisSnapshotStore) Save(ctx context.Context, state []byte) error {
	return s.client.Set(ctx, s.key, state, 0).Err()
}

func (s *RedisSnapshotStore) Load(ctx context.Context) ([]byte, error) {
	state, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, ErrNoSnapshot
	}
	return state, err
}

func (s *RedisSnapshotStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Close is a no-op; the client is owned by the caller
func (s *RedisSnapshotStore) Close() error { return nil }

// MemorySnapshotStore keeps the snapshot in process memory
type MemorySnapshotStore struct {
	mu    sync.Mutex
	state []byte
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (s *MemorySnapshotStore) Save(ctx context.Context, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = append([]byte(nil), state...)
	return nil
}

func (s *MemorySnapshotStore) Load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), s.state...), nil
}

func (s *MemorySnapshotStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}

func (s *MemorySnapshotStore) Close() error { return nil }
