package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
)

const taskColumns = `t.id, t.board_id, t.lane_id, l.state_key, t.title, t.description, t.tags, t.priority, t.type,
	t.owner_id, t.due_date, t.estimate_minutes, t.blocked, t.blocked_reason, t.order_index, t.version,
	t.jira_connection_id, t.jira_key, t.jira_url, t.jira_updated_at, t.jira_last_sync_at,
	t.op_connection_id, t.op_work_package_id, t.op_url, t.op_updated_at, t.op_last_sync_at,
	t.created_at, t.updated_at`

const taskFrom = ` FROM tasks t JOIN lanes l ON l.id = t.lane_id`

func scanTask(row scannable) (board.Task, error) {
	var (
		t              board.Task
		jiraConn, jKey *string
		jiraURL        *string
		opConn, opID   *string
		opURL          *string
	)
	err := row.Scan(
		&t.ID, &t.BoardID, &t.LaneID, &t.StateKey, &t.Title, &t.Description, &t.Tags, &t.Priority, &t.Type,
		&t.OwnerID, &t.DueDate, &t.EstimateMinutes, &t.Blocked, &t.BlockedReason, &t.OrderIndex, &t.Version,
		&jiraConn, &jKey, &jiraURL, &t.Jira.ExternalUpdatedAt, &t.Jira.LastSyncAt,
		&opConn, &opID, &opURL, &t.OpenProject.ExternalUpdatedAt, &t.OpenProject.LastSyncAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.Jira.ConnectionID, t.Jira.ExternalID, t.Jira.URL = deref(jiraConn), deref(jKey), deref(jiraURL)
	t.OpenProject.ConnectionID, t.OpenProject.ExternalID, t.OpenProject.URL = deref(opConn), deref(opID), deref(opURL)
	t.Tags = orEmpty(t.Tags)
	return t, nil
}

func queryTasks(ctx context.Context, q querier, where string, args ...any) ([]board.Task, error) {
	rows, err := q.Query(ctx, `SELECT `+taskColumns+taskFrom+` WHERE `+where+` ORDER BY l.position, t.order_index, t.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []board.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return orEmpty(tasks), rows.Err()
}

func getTask(ctx context.Context, q querier, id string) (*board.Task, error) {
	t, err := scanTask(q.QueryRow(ctx, `SELECT `+taskColumns+taskFrom+` WHERE t.id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, boardID string) ([]board.Task, error) {
	return queryTasks(ctx, s.pool, `t.board_id = $1`, boardID)
}

// ListLinkedTasks returns the tasks of a board linked through connectionID.
func (s *Store) ListLinkedTasks(ctx context.Context, boardID string, provider board.Provider, connectionID string) ([]board.Task, error) {
	if provider == board.ProviderOpenProject {
		return queryTasks(ctx, s.pool,
			`t.board_id = $1 AND t.op_connection_id = $2 AND t.op_work_package_id IS NOT NULL`, boardID, connectionID)
	}
	return queryTasks(ctx, s.pool,
		`t.board_id = $1 AND t.jira_connection_id = $2 AND t.jira_key IS NOT NULL`, boardID, connectionID)
}

func (s *Store) GetTask(ctx context.Context, id string) (*board.Task, error) {
	return getTask(ctx, s.pool, id)
}

// FindTaskByExternalID looks a task up by its link; external ids are unique per board.
func (s *Store) FindTaskByExternalID(ctx context.Context, boardID string, provider board.Provider, externalID string) (*board.Task, error) {
	col := "t.jira_key"
	if provider == board.ProviderOpenProject {
		col = "t.op_work_package_id"
	}
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+taskFrom+` WHERE t.board_id = $1 AND `+col+` = $2`, boardID, externalID))
	if err != nil {
		return nil, notFoundWrap(err, "find task by %s %s", provider, externalID)
	}
	return &t, nil
}

// FindTaskByJiraKey returns the most recently updated task linked to key on any board.
func (s *Store) FindTaskByJiraKey(ctx context.Context, jiraKey string) (*board.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+taskFrom+` WHERE t.jira_key = $1 ORDER BY t.updated_at DESC, t.id LIMIT 1`, jiraKey))
	if err != nil {
		return nil, notFoundWrap(err, "find task by jira key %s", jiraKey)
	}
	return &t, nil
}

// CreateTask appends a task to its lane. The lane row is locked so
// concurrent creates in one lane get distinct order indexes.
func (s *Store) CreateTask(ctx context.Context, req board.CreateTaskRequest) (*board.Task, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	var boardID string
	if err := tx.QueryRow(ctx, `SELECT board_id FROM lanes WHERE id = $1 FOR UPDATE`, req.LaneID).Scan(&boardID); err != nil {
		return nil, false, notFoundWrap(err, "lock lane %s", req.LaneID)
	}

	if req.ImportKey != "" {
		var existingID string
		err := tx.QueryRow(ctx,
			`SELECT task_id FROM task_import_keys WHERE board_id = $1 AND key = $2`, boardID, req.ImportKey).Scan(&existingID)
		if err == nil {
			t, err := getTask(ctx, tx, existingID)
			return t, false, err
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("lookup import key: %w", err)
		}
	}

	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(order_index) + 1, 0) FROM tasks WHERE lane_id = $1`, req.LaneID).Scan(&next); err != nil {
		return nil, false, fmt.Errorf("next order index: %w", err)
	}

	var id string
	err = tx.QueryRow(ctx,
		`INSERT INTO tasks (board_id, lane_id, title, description, tags, priority, type, owner_id, due_date,
		   estimate_minutes, blocked, blocked_reason, order_index,
		   jira_connection_id, jira_key, jira_url, jira_updated_at, jira_last_sync_at,
		   op_connection_id, op_work_package_id, op_url, op_updated_at, op_last_sync_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		   $14, $15, $16, $17, CASE WHEN $18::timestamptz IS NULL THEN NULL ELSE now() END,
		   $19, $20, $21, $22, CASE WHEN $23::timestamptz IS NULL THEN NULL ELSE now() END)
		 RETURNING id`,
		boardID, req.LaneID, req.Title, req.Description, pgTextArray(req.Tags), req.Priority, req.Type, req.OwnerID, req.DueDate,
		req.EstimateMinutes, req.Blocked, req.BlockedReason, next,
		nullIfEmpty(req.Jira.ConnectionID), nullIfEmpty(req.Jira.ExternalID), nullIfEmpty(req.Jira.URL), req.Jira.ExternalUpdatedAt, req.Jira.LastSyncAt,
		nullIfEmpty(req.OpenProject.ConnectionID), nullIfEmpty(req.OpenProject.ExternalID), nullIfEmpty(req.OpenProject.URL), req.OpenProject.ExternalUpdatedAt, req.OpenProject.LastSyncAt,
	).Scan(&id)
	if err != nil {
		return nil, false, conflictWrap(err, "create task")
	}

	if req.ImportKey != "" {
		tag, err := tx.Exec(ctx,
			`INSERT INTO task_import_keys (board_id, key, task_id) VALUES ($1, $2, $3)
			 ON CONFLICT (board_id, key) DO NOTHING`, boardID, req.ImportKey, id)
		if err != nil {
			return nil, false, fmt.Errorf("record import key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// lost a race with another lane; keep the winner's task
			rollback(ctx, tx)
			existingID, found, err := s.FindImportKey(ctx, boardID, req.ImportKey)
			if err != nil || !found {
				return nil, false, fmt.Errorf("import key %s: %w", req.ImportKey, domain.ErrConflict)
			}
			t, err := s.GetTask(ctx, existingID)
			return t, false, err
		}
	}

	t, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit create task: %w", err)
	}
	return t, true, nil
}

// UpdateTask writes t where the stored version equals t.Version. A lane
// change appends the task to the end of the new lane and compacts the old one.
// An advanced sync mark is stored as the transaction time, equal to updated_at.
func (s *Store) UpdateTask(ctx context.Context, t *board.Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	curLane, boardID, version, err := lockForWrite(ctx, tx, t.ID, t.LaneID)
	if err != nil {
		return err
	}
	if version != t.Version {
		return fmt.Errorf("update task %s at version %d (stored %d): %w", t.ID, t.Version, version, domain.ErrConflict)
	}

	if t.LaneID != curLane {
		if err := s.relocate(ctx, tx, t.ID, boardID, curLane, t.LaneID, math.MaxInt32); err != nil {
			return err
		}
	}

	var updatedAt time.Time
	err = tx.QueryRow(ctx,
		`UPDATE tasks SET title = $3, description = $4, tags = $5, priority = $6, type = $7, owner_id = $8,
		   due_date = $9, estimate_minutes = $10, blocked = $11, blocked_reason = $12,
		   jira_connection_id = $13, jira_key = $14, jira_url = $15, jira_updated_at = $16,
		   jira_last_sync_at = CASE WHEN $17::timestamptz IS NULL THEN NULL
		     WHEN $17::timestamptz IS DISTINCT FROM jira_last_sync_at THEN now() ELSE jira_last_sync_at END,
		   op_connection_id = $18, op_work_package_id = $19, op_url = $20, op_updated_at = $21,
		   op_last_sync_at = CASE WHEN $22::timestamptz IS NULL THEN NULL
		     WHEN $22::timestamptz IS DISTINCT FROM op_last_sync_at THEN now() ELSE op_last_sync_at END,
		   version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2
		 RETURNING updated_at`,
		t.ID, t.Version, t.Title, t.Description, pgTextArray(t.Tags), t.Priority, t.Type, t.OwnerID,
		t.DueDate, t.EstimateMinutes, t.Blocked, t.BlockedReason,
		nullIfEmpty(t.Jira.ConnectionID), nullIfEmpty(t.Jira.ExternalID), nullIfEmpty(t.Jira.URL), t.Jira.ExternalUpdatedAt, t.Jira.LastSyncAt,
		nullIfEmpty(t.OpenProject.ConnectionID), nullIfEmpty(t.OpenProject.ExternalID), nullIfEmpty(t.OpenProject.URL), t.OpenProject.ExternalUpdatedAt, t.OpenProject.LastSyncAt,
	).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update task %s: %w", t.ID, domain.ErrConflict)
		}
		return conflictWrap(err, "update task %s", t.ID)
	}

	stored, err := getTask(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update task: %w", err)
	}
	*t = *stored
	return nil
}

// MoveTask runs the move protocol: lock both lanes in id order, then the
// task, check the version, plan the dense orderings and renumber. Nothing is
// written when the version is stale.
func (s *Store) MoveTask(ctx context.Context, taskID string, req board.MoveRequest) (*board.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	curLane, boardID, version, err := lockForWrite(ctx, tx, taskID, req.LaneID)
	if err != nil {
		return nil, err
	}
	if version != req.Version {
		return nil, fmt.Errorf("move task %s at version %d (stored %d): %w", taskID, req.Version, version, domain.ErrConflict)
	}

	if err := s.relocate(ctx, tx, taskID, boardID, curLane, req.LaneID, req.ToIndex); err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET version = version + 1, updated_at = now() WHERE id = $1 AND version = $2`, taskID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("bump task version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("move task %s: %w", taskID, domain.ErrConflict)
	}

	t, err := getTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit move task: %w", err)
	}
	return t, nil
}

// lockForWrite takes the locks a task write needs: the task's current lane
// and toLane in id order, then the task row. Lanes always come before task
// rows, so a renumber never waits on a row held by a writer that is itself
// waiting for the lane. A task that changed lanes between the unlocked read
// and the row lock was written concurrently and reports ErrConflict.
func lockForWrite(ctx context.Context, tx pgx.Tx, taskID, toLane string) (curLane, boardID string, version int, err error) {
	var seenLane string
	if err := tx.QueryRow(ctx, `SELECT lane_id FROM tasks WHERE id = $1`, taskID).Scan(&seenLane); err != nil {
		return "", "", 0, notFoundWrap(err, "read task %s", taskID)
	}
	if err := lockLanes(ctx, tx, seenLane, toLane); err != nil {
		return "", "", 0, err
	}

	if err := tx.QueryRow(ctx,
		`SELECT lane_id, board_id, version FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&curLane, &boardID, &version); err != nil {
		return "", "", 0, notFoundWrap(err, "lock task %s", taskID)
	}
	if curLane != seenLane {
		return "", "", 0, fmt.Errorf("task %s changed lanes concurrently: %w", taskID, domain.ErrConflict)
	}
	return curLane, boardID, version, nil
}

// lockLanes row-locks the given lanes in ascending id order.
func lockLanes(ctx context.Context, q querier, laneIDs ...string) error {
	if _, err := q.Exec(ctx,
		`SELECT id FROM lanes WHERE id = ANY($1::text[]::uuid[]) ORDER BY id FOR UPDATE`, sortedUnique(laneIDs...)); err != nil {
		return notFoundWrap(err, "lock lanes")
	}
	return nil
}

// relocate places taskID at toIndex of toLane and renumbers the lanes it
// touched. The caller holds the lane locks from lockForWrite and the task
// row lock, and owns the version bump.
func (s *Store) relocate(ctx context.Context, tx pgx.Tx, taskID, boardID, fromLane, toLane string, toIndex int) error {
	targetBoard, _, err := laneOf(ctx, tx, toLane)
	if err != nil {
		return err
	}
	if targetBoard != boardID {
		return fmt.Errorf("%w: lane %s belongs to another board", domain.ErrValidation, toLane)
	}

	sameLane := fromLane == toLane
	source, err := laneOrder(ctx, tx, fromLane)
	if err != nil {
		return err
	}
	target := source
	if !sameLane {
		if target, err = laneOrder(ctx, tx, toLane); err != nil {
			return err
		}
	}

	plan, err := board.PlanMove(source, target, taskID, toIndex, sameLane)
	if err != nil {
		return err
	}

	if !sameLane {
		if _, err := tx.Exec(ctx, `UPDATE tasks SET lane_id = $2 WHERE id = $1`, taskID, toLane); err != nil {
			return fmt.Errorf("move task lane: %w", err)
		}
		if err := renumber(ctx, tx, fromLane, plan.Source); err != nil {
			return err
		}
	}
	return renumber(ctx, tx, toLane, plan.Target)
}

// laneOrder returns the task ids of a lane in their current order.
func laneOrder(ctx context.Context, q querier, laneID string) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT id FROM tasks WHERE lane_id = $1 ORDER BY order_index, id`, laneID)
	if err != nil {
		return nil, fmt.Errorf("lane order %s: %w", laneID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("lane order %s: %w", laneID, err)
	}
	return ids, nil
}

// renumber assigns order_index i to ids[i]. The lane/order unique
// constraint is deferred, so intermediate duplicates are allowed.
func renumber(ctx context.Context, q querier, laneID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx,
		`UPDATE tasks AS t SET order_index = o.idx - 1
		 FROM unnest($2::text[]) WITH ORDINALITY AS o(id, idx)
		 WHERE t.id = o.id::uuid AND t.lane_id = $1 AND t.order_index <> o.idx - 1`,
		laneID, ids)
	if err != nil {
		return fmt.Errorf("renumber lane %s: %w", laneID, err)
	}
	return nil
}

// --- Import keys ---

func (s *Store) FindImportKey(ctx context.Context, boardID, key string) (string, bool, error) {
	var taskID string
	err := s.pool.QueryRow(ctx,
		`SELECT task_id FROM task_import_keys WHERE board_id = $1 AND key = $2`, boardID, key).Scan(&taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find import key: %w", err)
	}
	return taskID, true, nil
}

func (s *Store) RecordImportKey(ctx context.Context, boardID, key, taskID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_import_keys (board_id, key, task_id) VALUES ($1, $2, $3)
		 ON CONFLICT (board_id, key) DO NOTHING`, boardID, key, taskID)
	if err != nil {
		return fmt.Errorf("record import key: %w", err)
	}
	return nil
}

// --- Comments ---

// AddComment inserts c unless the same (task, source, source id) exists.
func (s *Store) AddComment(ctx context.Context, c *board.Comment) (*board.Comment, bool, error) {
	const cols = `id, task_id, body, source, source_id, source_author, created_at`
	scan := func(row scannable) (*board.Comment, error) {
		var out board.Comment
		var sourceID *string
		if err := row.Scan(&out.ID, &out.TaskID, &out.Body, &out.Source, &sourceID, &out.SourceAuthor, &out.CreatedAt); err != nil {
			return nil, err
		}
		out.SourceID = deref(sourceID)
		return &out, nil
	}

	stored, err := scan(s.pool.QueryRow(ctx,
		`INSERT INTO task_comments (task_id, body, source, source_id, source_author)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (task_id, source, source_id) WHERE source_id IS NOT NULL DO NOTHING
		 RETURNING `+cols,
		c.TaskID, c.Body, c.Source, nullIfEmpty(c.SourceID), c.SourceAuthor))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, notFoundWrap(err, "add comment")
	}

	stored, err = scan(s.pool.QueryRow(ctx,
		`SELECT `+cols+` FROM task_comments WHERE task_id = $1 AND source = $2 AND source_id = $3`,
		c.TaskID, c.Source, c.SourceID))
	if err != nil {
		return nil, false, notFoundWrap(err, "get comment")
	}
	return stored, false, nil
}
