package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/LaneSync/internal/port/cache"
)

// Tiered checks L1 first, then L2, backfilling L1 on an L2 hit. An
// unreachable L2 degrades to a miss so a NATS outage never fails a read.
type Tiered struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// NewTiered creates a tiered cache. l1Expire bounds how long L2 backfills
// live in L1. l2 may be nil when no bucket is configured.
func NewTiered(l1, l2 cache.Cache, l1Expire time.Duration) *Tiered {
	return &Tiered{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2.
func (c *Tiered) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found || c.l2 == nil {
		return val, found, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		slog.Warn("l2 cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	if found {
		_ = c.l1.Set(ctx, key, val, c.l1Expire)
	}
	return val, found, nil
}

// Set writes to both levels. An L2 failure is logged, not returned.
func (c *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, min(ttl, c.l1Expire)); err != nil {
		return err
	}
	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl); err != nil {
			slog.Warn("l2 cache set failed", "key", key, "error", err)
		}
	}
	return nil
}

// Delete removes from both levels. Unlike Set, an L2 failure is returned:
// a stale L2 entry would otherwise be backfilled into other replicas.
func (c *Tiered) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if c.l2 == nil {
		return nil
	}
	return c.l2.Delete(ctx, key)
}
