package kvstore

import (
	"context"
	"time"

	"github.com/mikeusry/southland-platform-sub000/lru"
)

// DefaultMemoryCapacity bounds the number of keys a MemoryStore holds.
const DefaultMemoryCapacity = 100_000

// MemoryStore is an in-memory store for development and single-instance deployments.
// The least recently used key is dropped once capacity is reached.
type MemoryStore struct {
	cache *lru.Cache[string, []byte]
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	onEvict func(key string)
}

// WithEvictionHook is called with the key of every entry the store drops on its own,
// whether for capacity or expiry. Explicit deletes do not trigger it. The hook runs
// under the store lock and must not call back into the store.
func WithEvictionHook(fn func(key string)) MemoryOption {
	return func(o *memoryOptions) { o.onEvict = fn }
}

// NewMemoryStore creates a memory store. capacity <= 0 selects DefaultMemoryCapacity.
func NewMemoryStore(capacity int, opts ...MemoryOption) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	var o memoryOptions
	for _, opt := range opts {
		opt(&o)
	}

	var cacheOpts []lru.Option[string, []byte]
	if o.onEvict != nil {
		hook := o.onEvict
		cacheOpts = append(cacheOpts, lru.WithOnEvict(func(key string, _ []byte) { hook(key) }))
	}
	return &MemoryStore{cache: lru.New[string, []byte](capacity, cacheOpts...)}
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	m.cache.PutWithTTL(key, buf, ttl)
	return nil
}

// Get returns a copy of the stored value. The cache drops expired keys on access, so
// an expired key reports ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(v))
	copy(buf, v)
	return buf, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

func (m *MemoryStore) Cleanup(_ context.Context) (int, error) {
	return m.cache.PurgeExpired(), nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

// Stats exposes the underlying cache counters.
func (m *MemoryStore) Stats() lru.Metrics {
	return m.cache.Metrics()
}
