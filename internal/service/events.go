package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/LaneSync/internal/port/cache"
	"github.com/Strob0t/LaneSync/internal/port/eventbus"
)

// publish sends a board or webhook event. Fan-out is best effort: a failed
// publish is logged and never fails the write that produced it.
func publish(ctx context.Context, bus eventbus.Bus, subject string, payload any) {
	if bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event", "subject", subject, "error", err)
		return
	}
	if err := bus.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish event failed", "subject", subject, "error", err)
	}
}

// WIPCache holds rendered WIP reports per board.
type WIPCache struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewWIPCache wraps c. A nil cache disables caching.
func NewWIPCache(c cache.Cache, ttl time.Duration) *WIPCache {
	return &WIPCache{cache: c, ttl: ttl}
}

func (w *WIPCache) get(ctx context.Context, boardID string) ([]byte, bool) {
	if w == nil || w.cache == nil {
		return nil, false
	}
	data, ok, err := w.cache.Get(ctx, cache.WIPKey(boardID))
	if err != nil {
		slog.Warn("wip cache get failed", "board_id", boardID, "error", err)
		return nil, false
	}
	return data, ok
}

func (w *WIPCache) put(ctx context.Context, boardID string, data []byte) {
	if w == nil || w.cache == nil {
		return
	}
	if err := w.cache.Set(ctx, cache.WIPKey(boardID), data, w.ttl); err != nil {
		slog.Warn("wip cache set failed", "board_id", boardID, "error", err)
	}
}

// Invalidate drops the cached report of a board.
func (w *WIPCache) Invalidate(ctx context.Context, boardID string) {
	if w == nil || w.cache == nil || boardID == "" {
		return
	}
	if err := w.cache.Delete(ctx, cache.WIPKey(boardID)); err != nil {
		slog.Warn("wip cache invalidate failed", "board_id", boardID, "error", err)
	}
}

// Subscribe invalidates cached reports whenever any replica publishes a
// board event. The returned function cancels the subscription.
func (w *WIPCache) Subscribe(ctx context.Context, bus eventbus.Bus) (func(), error) {
	return bus.Subscribe(ctx, eventbus.SubjectAllBoards, func(ctx context.Context, subject string, _ []byte) error {
		if boardID, ok := eventbus.BoardIDFromSubject(subject); ok {
			w.Invalidate(ctx, boardID)
		}
		return nil
	})
}
