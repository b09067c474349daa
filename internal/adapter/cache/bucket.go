package cache

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// KV is the subset of jetstream.KeyValue the L2 cache needs.
type KV interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// Bucket is the L2 cache shared by every LaneSync replica. Entry expiry is
// the bucket's TTL; the per-call ttl is ignored.
type Bucket struct {
	kv KV
}

// NewBucket creates a NATS KV-backed cache.
func NewBucket(kv KV) *Bucket {
	return &Bucket{kv: kv}
}

// Get retrieves a value. Missing and deleted keys are a miss.
func (b *Bucket) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores a value in the bucket.
func (b *Bucket) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := b.kv.Put(ctx, key, value)
	return err
}

// Delete removes a value from the bucket.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	err := b.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
