// Package cache implements the cache port with an in-process ristretto L1,
// a NATS JetStream KV L2 and a tiered combination of both.
package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Memory is the in-process L1 cache.
type Memory struct {
	c *ristretto.Cache[string, []byte]
}

// NewMemory creates a ristretto-backed cache. maxCostBytes is the maximum
// total size of cached values in bytes.
func NewMemory(maxCostBytes int64) (*Memory, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCostBytes/100*10, 1000),
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Memory{c: c}, nil
}

// Get retrieves a value from the cache.
func (m *Memory) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := m.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value with the given TTL. It waits for the write buffer so a
// following Get observes the value.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.SetWithTTL(key, value, int64(len(value)), ttl)
	m.c.Wait()
	return nil
}

// Delete removes a value from the cache.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Del(key)
	return nil
}

// Close shuts down the cache and releases resources.
func (m *Memory) Close() {
	m.c.Close()
}
