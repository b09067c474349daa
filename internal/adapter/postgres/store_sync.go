package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/integration"
)

// --- Connections ---

const connectionColumns = `id, provider, name, base_url, email, sealed_token, token_hint, default_assignee,
	project_ref, needs_reconnect, reconnect_reason, last_checked_at, created_at, updated_at`

func scanConnection(row scannable) (integration.Connection, error) {
	var c integration.Connection
	err := row.Scan(&c.ID, &c.Provider, &c.Name, &c.BaseURL, &c.Email, &c.SealedToken, &c.TokenHint,
		&c.DefaultAssignee, &c.ProjectRef, &c.NeedsReconnect, &c.ReconnectReason, &c.LastCheckedAt,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) CreateConnection(ctx context.Context, c *integration.Connection) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_connections (provider, name, base_url, email, sealed_token, token_hint, default_assignee, project_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		c.Provider, c.Name, c.BaseURL, c.Email, c.SealedToken, c.TokenHint, c.DefaultAssignee, c.ProjectRef,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

func (s *Store) GetConnection(ctx context.Context, id string) (*integration.Connection, error) {
	c, err := scanConnection(s.pool.QueryRow(ctx, `SELECT `+connectionColumns+` FROM sync_connections WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get connection %s", id)
	}
	return &c, nil
}

// ListConnections returns every connection of provider, oldest first. An
// empty provider lists all.
func (s *Store) ListConnections(ctx context.Context, provider board.Provider) ([]integration.Connection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+connectionColumns+` FROM sync_connections WHERE ($1 = '' OR provider = $1) ORDER BY created_at, id`,
		string(provider))
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []integration.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_connections WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete connection %s", id)
}

// UpdateConnectionCredential replaces the sealed token. The reconnect flag is
// left alone; a successful test clears it.
func (s *Store) UpdateConnectionCredential(ctx context.Context, id, sealedToken, tokenHint string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_connections SET sealed_token = $2, token_hint = $3, updated_at = now() WHERE id = $1`,
		id, sealedToken, tokenHint)
	return execExpectOne(tag, err, "update connection credential %s", id)
}

func (s *Store) SetConnectionStatus(ctx context.Context, id string, needsReconnect bool, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_connections
		 SET needs_reconnect = $2, reconnect_reason = $3, last_checked_at = now(), updated_at = now()
		 WHERE id = $1`,
		id, needsReconnect, reason)
	return execExpectOne(tag, err, "set connection status %s", id)
}

// --- Profiles ---

const profileColumns = `id, board_id, connection_id, provider, query, mapping, conflict_policy, created_at, updated_at`

func scanProfile(row scannable) (integration.Profile, error) {
	var p integration.Profile
	var mapping []byte
	if err := row.Scan(&p.ID, &p.BoardID, &p.ConnectionID, &p.Provider, &p.Query, &mapping,
		&p.ConflictPolicy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	if err := json.Unmarshal(mapping, &p.Mapping); err != nil {
		return p, fmt.Errorf("decode mapping: %w", err)
	}
	return p, nil
}

// UpsertProfile stores the single profile of a (board, connection) pair.
func (s *Store) UpsertProfile(ctx context.Context, p *integration.Profile) error {
	mapping, err := json.Marshal(p.Mapping)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO sync_profiles (board_id, connection_id, provider, query, mapping, conflict_policy)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (board_id, connection_id) DO UPDATE
		 SET provider = EXCLUDED.provider, query = EXCLUDED.query, mapping = EXCLUDED.mapping,
		     conflict_policy = EXCLUDED.conflict_policy, updated_at = now()
		 RETURNING id, created_at, updated_at`,
		p.BoardID, p.ConnectionID, p.Provider, p.Query, mapping, p.ConflictPolicy,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "upsert profile")
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (*integration.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM sync_profiles WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get profile %s", id)
	}
	return &p, nil
}

func (s *Store) ListProfiles(ctx context.Context, boardID string) ([]integration.Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM sync_profiles WHERE board_id = $1 ORDER BY created_at, id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []integration.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return orEmpty(out), rows.Err()
}

// --- Run ledger ---

const runColumns = `id, board_id, profile_id, connection_id, provider, kind, status, started_at, finished_at,
	log, error_message, counts`

func scanRun(row scannable) (integration.Run, error) {
	var (
		r           integration.Run
		profileID   *string
		log, counts []byte
	)
	if err := row.Scan(&r.ID, &r.BoardID, &profileID, &r.ConnectionID, &r.Provider, &r.Kind, &r.Status,
		&r.StartedAt, &r.FinishedAt, &log, &r.ErrorMessage, &counts); err != nil {
		return r, err
	}
	r.ProfileID = deref(profileID)
	if err := json.Unmarshal(log, &r.Log); err != nil {
		return r, fmt.Errorf("decode run log: %w", err)
	}
	if err := json.Unmarshal(counts, &r.Counts); err != nil {
		return r, fmt.Errorf("decode run counts: %w", err)
	}
	r.Log = orEmpty(r.Log)
	return r, nil
}

// StartRun opens a running run. The partial unique index on profile_id
// rejects a second running run of the same profile.
func (s *Store) StartRun(ctx context.Context, req integration.StartRun) (*integration.Run, error) {
	first, err := json.Marshal([]integration.LogEntry{
		integration.Entry(integration.LevelInfo, integration.StepStart, fmt.Sprintf("%s %s started", req.Provider, req.Kind)),
	})
	if err != nil {
		return nil, fmt.Errorf("encode run log: %w", err)
	}
	r, err := scanRun(s.pool.QueryRow(ctx,
		`INSERT INTO sync_runs (board_id, profile_id, connection_id, provider, kind, status, log)
		 VALUES ($1, $2, $3, $4, $5, 'running', $6)
		 RETURNING `+runColumns,
		req.BoardID, nullIfEmpty(req.ProfileID), req.ConnectionID, req.Provider, req.Kind, first))
	if err != nil {
		if uniqueViolation(err, "idx_sync_runs_one_running") {
			return nil, fmt.Errorf("start run for profile %s: %w", req.ProfileID, domain.ErrSyncInProgress)
		}
		return nil, notFoundWrap(err, "start run")
	}
	return &r, nil
}

// AppendRunLog appends entries in order. Finished runs are immutable and
// report domain.ErrNotFound.
func (s *Store) AppendRunLog(ctx context.Context, runID string, entries ...integration.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode run log: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET log = log || $2::jsonb WHERE id = $1 AND status = 'running'`, runID, raw)
	return execExpectOne(tag, err, "append run log %s", runID)
}

// FinishRun moves a running run to its terminal status exactly once.
func (s *Store) FinishRun(ctx context.Context, runID string, fin integration.FinishRun) (*integration.Run, error) {
	counts, err := json.Marshal(fin.Counts)
	if err != nil {
		return nil, fmt.Errorf("encode run counts: %w", err)
	}
	r, err := scanRun(s.pool.QueryRow(ctx,
		`UPDATE sync_runs SET status = $2, error_message = $3, counts = $4, finished_at = now()
		 WHERE id = $1 AND status = 'running'
		 RETURNING `+runColumns,
		runID, fin.Status, fin.ErrorMessage, counts))
	if err != nil {
		return nil, notFoundWrap(err, "finish run %s", runID)
	}
	return &r, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*integration.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", id)
	}
	return &r, nil
}

// ListRuns returns the newest runs first. An empty boardID lists runs of
// every board.
func (s *Store) ListRuns(ctx context.Context, boardID string, limit int) ([]integration.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM sync_runs
		 WHERE ($1 = '' OR board_id::text = $1)
		 ORDER BY started_at DESC, id LIMIT $2`, boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []integration.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return orEmpty(out), rows.Err()
}

// DeleteFinishedRuns clears the ledger of a board, keeping running runs.
func (s *Store) DeleteFinishedRuns(ctx context.Context, boardID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_runs WHERE board_id = $1 AND status <> 'running'`, boardID)
	if err != nil {
		if invalidText(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AbandonStaleRuns finishes runs left running by a crashed process, once
// they are older than olderThan.
func (s *Store) AbandonStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	entry, err := json.Marshal([]integration.LogEntry{
		integration.Entry(integration.LevelError, integration.StepAbort, "run abandoned: no progress before cutoff"),
	})
	if err != nil {
		return 0, fmt.Errorf("encode run log: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs
		 SET status = 'error', error_message = 'abandoned', finished_at = now(), log = log || $2::jsonb
		 WHERE status = 'running' AND started_at < $1`, cutoff, entry)
	if err != nil {
		return 0, fmt.Errorf("abandon stale runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
