package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/LaneSync/internal/domain/webhook"
)

// --- Secrets ---

const secretColumns = `id, source, token_hash, token_hint, enabled, created_at, updated_at`

func scanSecret(row scannable) (webhook.Secret, error) {
	var s webhook.Secret
	err := row.Scan(&s.ID, &s.Source, &s.TokenHash, &s.TokenHint, &s.Enabled, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (s *Store) GetWebhookSecret(ctx context.Context, source string) (*webhook.Secret, error) {
	sec, err := scanSecret(s.pool.QueryRow(ctx, `SELECT `+secretColumns+` FROM webhook_secrets WHERE source = $1`, source))
	if err != nil {
		return nil, notFoundWrap(err, "get webhook secret %s", source)
	}
	return &sec, nil
}

func (s *Store) ListWebhookSecrets(ctx context.Context) ([]webhook.Secret, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+secretColumns+` FROM webhook_secrets ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("list webhook secrets: %w", err)
	}
	defer rows.Close()

	var out []webhook.Secret
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook secret: %w", err)
		}
		out = append(out, sec)
	}
	return orEmpty(out), rows.Err()
}

// UpsertWebhookSecret creates or replaces the secret of sec.Source. The
// previous hash is overwritten, so a rotated token stops working at once.
func (s *Store) UpsertWebhookSecret(ctx context.Context, sec *webhook.Secret) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO webhook_secrets (source, token_hash, token_hint, enabled)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (source) DO UPDATE
		 SET token_hash = EXCLUDED.token_hash, token_hint = EXCLUDED.token_hint,
		     enabled = EXCLUDED.enabled, updated_at = now()
		 RETURNING id, created_at, updated_at`,
		sec.Source, sec.TokenHash, sec.TokenHint, sec.Enabled,
	).Scan(&sec.ID, &sec.CreatedAt, &sec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert webhook secret %s: %w", sec.Source, err)
	}
	return nil
}

func (s *Store) DisableWebhookSecret(ctx context.Context, source string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_secrets SET enabled = false, updated_at = now() WHERE source = $1`, source)
	return execExpectOne(tag, err, "disable webhook secret %s", source)
}

// --- Events ---

const eventColumns = `id, source, received_at, headers, payload, idempotency_key, result, error, processed_at, attempts`

func scanEvent(row scannable) (webhook.Event, error) {
	var (
		ev              webhook.Event
		headers, result []byte
		payload         []byte
		key             *string
	)
	if err := row.Scan(&ev.ID, &ev.Source, &ev.ReceivedAt, &headers, &payload, &key, &result,
		&ev.Error, &ev.ProcessedAt, &ev.Attempts); err != nil {
		return ev, err
	}
	if err := json.Unmarshal(headers, &ev.Headers); err != nil {
		return ev, fmt.Errorf("decode event headers: %w", err)
	}
	ev.Payload = payload
	ev.Result = result
	ev.IdempotencyKey = deref(key)
	return ev, nil
}

// CreateWebhookEvent inserts ev, or returns the event already stored for the
// same source and idempotency key.
func (s *Store) CreateWebhookEvent(ctx context.Context, ev webhook.NewEvent) (*webhook.Event, bool, error) {
	headers, err := json.Marshal(orMap(ev.Headers))
	if err != nil {
		return nil, false, fmt.Errorf("encode event headers: %w", err)
	}

	stored, err := scanEvent(s.pool.QueryRow(ctx,
		`INSERT INTO webhook_events (source, headers, payload, idempotency_key)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (source, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		 RETURNING `+eventColumns,
		ev.Source, headers, []byte(ev.Payload), nullIfEmpty(ev.IdempotencyKey)))
	if err == nil {
		return &stored, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create webhook event: %w", err)
	}

	stored, err = scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE source = $1 AND idempotency_key = $2`,
		ev.Source, ev.IdempotencyKey))
	if err != nil {
		return nil, false, notFoundWrap(err, "get webhook event by key %s", ev.IdempotencyKey)
	}
	return &stored, true, nil
}

func (s *Store) GetWebhookEvent(ctx context.Context, id string) (*webhook.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get webhook event %s", id)
	}
	return &ev, nil
}

// FinishWebhookEvent records a processing outcome and counts the attempt.
func (s *Store) FinishWebhookEvent(ctx context.Context, id string, out webhook.Outcome) (*webhook.Event, error) {
	var result []byte
	if len(out.Result) > 0 {
		result = out.Result
	}
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`UPDATE webhook_events
		 SET result = $2, error = $3, processed_at = now(), attempts = attempts + 1
		 WHERE id = $1
		 RETURNING `+eventColumns,
		id, result, out.Error))
	if err != nil {
		return nil, notFoundWrap(err, "finish webhook event %s", id)
	}
	return &ev, nil
}

func (s *Store) ListWebhookEvents(ctx context.Context, f webhook.ListFilter) ([]webhook.Event, error) {
	f.Normalize()
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM webhook_events
		 WHERE ($1 = '' OR source = $1)
		 ORDER BY received_at DESC, id LIMIT $2`, f.Source, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var out []webhook.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		out = append(out, ev)
	}
	return orEmpty(out), rows.Err()
}

func orMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
