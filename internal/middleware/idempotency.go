package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotency-Replayed"
	maxIdempotencyBody   = 1 << 20 // 1 MB
)

// IdempotencyKV is the subset of jetstream.KeyValue the middleware needs.
// Entry expiry is the bucket's TTL.
type IdempotencyKV interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// idempotencyEntry stores a cached HTTP response. Pending marks a request
// still being processed.
type idempotencyEntry struct {
	Pending    bool                `json:"pending,omitempty"`
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

var pendingEntry, _ = json.Marshal(idempotencyEntry{Pending: true})

// Idempotency returns middleware that deduplicates POST/PUT/PATCH/DELETE
// requests carrying an Idempotency-Key header. The first request claims the
// key; a concurrent duplicate gets 409 and a later one replays the stored
// response. Server errors release the key so the client can retry.
func Idempotency(kv IdempotencyKV) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to mutating methods
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(headerIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			kvKey := idempotencyKVKey(r.Method, r.URL.Path, key)
			ctx := r.Context()

			entry, err := kv.Get(ctx, kvKey)
			switch {
			case err == nil:
				var cached idempotencyEntry
				if err := json.Unmarshal(entry.Value(), &cached); err != nil {
					slog.Warn("idempotency: corrupt cache entry", "key", key)
					break
				}
				if cached.Pending {
					writeInProgress(w)
					return
				}
				replay(w, &cached)
				return
			case !errors.Is(err, jetstream.ErrKeyNotFound):
				slog.Warn("idempotency: lookup failed, processing without dedupe", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if _, err := kv.Create(ctx, kvKey, pendingEntry); err != nil {
				if errors.Is(err, jetstream.ErrKeyExists) {
					writeInProgress(w)
					return
				}
				slog.Warn("idempotency: claim failed, processing without dedupe", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			// the request may be cancelled; the store update must still happen
			storeCtx := context.WithoutCancel(ctx)
			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxIdempotencyBody {
				if err := kv.Delete(storeCtx, kvKey); err != nil {
					slog.Warn("idempotency: failed to release key", "key", key, "error", err)
				}
				return
			}
			data, err := json.Marshal(idempotencyEntry{
				StatusCode: rec.statusCode,
				Headers:    w.Header().Clone(),
				Body:       rec.body.Bytes(),
			})
			if err == nil {
				_, err = kv.Put(storeCtx, kvKey, data)
			}
			if err != nil {
				slog.Warn("idempotency: failed to store response", "key", key, "error", err)
			}
		})
	}
}

// idempotencyKVKey scopes a client key to the route so the same key on two
// endpoints does not collide. The hash keeps the KV key within NATS's
// allowed characters.
func idempotencyKVKey(method, path, key string) string {
	sum := sha256.Sum256([]byte(method + " " + path + " " + key))
	return "idem." + hex.EncodeToString(sum[:])
}

func replay(w http.ResponseWriter, cached *idempotencyEntry) {
	for k, vals := range cached.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

func writeInProgress(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_, _ = w.Write([]byte(`{"error":"a request with this idempotency key is in progress"}`))
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
