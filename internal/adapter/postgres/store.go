package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/LaneSync/internal/domain/board"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Boards ---

const boardColumns = `id, name, created_at, updated_at`

func scanBoard(row scannable) (board.Board, error) {
	var b board.Board
	err := row.Scan(&b.ID, &b.Name, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// CreateBoard inserts a board and its initial lanes in one transaction.
func (s *Store) CreateBoard(ctx context.Context, req board.CreateBoardRequest) (*board.Board, []board.Lane, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	b, err := scanBoard(tx.QueryRow(ctx,
		`INSERT INTO boards (name) VALUES ($1) RETURNING `+boardColumns, req.Name))
	if err != nil {
		return nil, nil, conflictWrap(err, "create board %q", req.Name)
	}

	lanes := make([]board.Lane, 0, len(req.Lanes))
	for i := range req.Lanes {
		l, err := insertLane(ctx, tx, b.ID, i, &req.Lanes[i])
		if err != nil {
			return nil, nil, err
		}
		lanes = append(lanes, l)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit create board: %w", err)
	}
	return &b, lanes, nil
}

func (s *Store) GetBoard(ctx context.Context, id string) (*board.Board, error) {
	b, err := scanBoard(s.pool.QueryRow(ctx, `SELECT `+boardColumns+` FROM boards WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get board %s", id)
	}
	return &b, nil
}

// FindBoardByName matches names case-insensitively; names are unique.
func (s *Store) FindBoardByName(ctx context.Context, name string) (*board.Board, error) {
	b, err := scanBoard(s.pool.QueryRow(ctx,
		`SELECT `+boardColumns+` FROM boards WHERE lower(name) = lower($1)`, name))
	if err != nil {
		return nil, notFoundWrap(err, "find board %q", name)
	}
	return &b, nil
}

// --- Lanes ---

const laneColumns = `id, board_id, name, state_key, type, position, wip_limit, created_at, updated_at`

func scanLane(row scannable) (board.Lane, error) {
	var l board.Lane
	err := row.Scan(&l.ID, &l.BoardID, &l.Name, &l.StateKey, &l.Type, &l.Position, &l.WIPLimit, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func insertLane(ctx context.Context, q querier, boardID string, position int, req *board.CreateLaneRequest) (board.Lane, error) {
	l, err := scanLane(q.QueryRow(ctx,
		`INSERT INTO lanes (board_id, name, state_key, type, position, wip_limit)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+laneColumns,
		boardID, req.Name, req.StateKey, string(req.Type), position, req.WIPLimit))
	if err != nil {
		return board.Lane{}, conflictWrap(err, "create lane %q", req.Name)
	}
	return l, nil
}

func (s *Store) ListLanes(ctx context.Context, boardID string) ([]board.Lane, error) {
	return listLanes(ctx, s.pool, boardID)
}

func listLanes(ctx context.Context, q querier, boardID string) ([]board.Lane, error) {
	rows, err := q.Query(ctx,
		`SELECT `+laneColumns+` FROM lanes WHERE board_id = $1 ORDER BY position, id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list lanes: %w", err)
	}
	defer rows.Close()

	var lanes []board.Lane
	for rows.Next() {
		l, err := scanLane(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lane: %w", err)
		}
		lanes = append(lanes, l)
	}
	return orEmpty(lanes), rows.Err()
}

func (s *Store) GetLane(ctx context.Context, id string) (*board.Lane, error) {
	l, err := scanLane(s.pool.QueryRow(ctx, `SELECT `+laneColumns+` FROM lanes WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get lane %s", id)
	}
	return &l, nil
}

// CreateLane appends a lane to the board. The board row is locked so two
// concurrent appends cannot pick the same position.
func (s *Store) CreateLane(ctx context.Context, boardID string, req board.CreateLaneRequest) (*board.Lane, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	var id string
	if err := tx.QueryRow(ctx, `SELECT id FROM boards WHERE id = $1 FOR UPDATE`, boardID).Scan(&id); err != nil {
		return nil, notFoundWrap(err, "lock board %s", boardID)
	}
	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM lanes WHERE board_id = $1`, boardID).Scan(&next); err != nil {
		return nil, fmt.Errorf("next lane position: %w", err)
	}
	l, err := insertLane(ctx, tx, boardID, next, &req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create lane: %w", err)
	}
	return &l, nil
}

// ReorderLanes assigns position i to orderedLaneIDs[i]. The board row is
// locked and the full lane set is checked inside the transaction, so a
// concurrently added lane fails the reorder instead of being left out.
func (s *Store) ReorderLanes(ctx context.Context, boardID string, orderedLaneIDs []string) ([]board.Lane, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	var id string
	if err := tx.QueryRow(ctx, `SELECT id FROM boards WHERE id = $1 FOR UPDATE`, boardID).Scan(&id); err != nil {
		return nil, notFoundWrap(err, "lock board %s", boardID)
	}
	// same id order as task moves
	if _, err := tx.Exec(ctx,
		`SELECT id FROM lanes WHERE board_id = $1 ORDER BY id FOR UPDATE`, boardID); err != nil {
		return nil, fmt.Errorf("lock lanes: %w", err)
	}
	current, err := listLanes(ctx, tx, boardID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(current))
	for i := range current {
		ids[i] = current[i].ID
	}
	if err := board.ValidateLaneOrder(ids, orderedLaneIDs); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE lanes AS l SET position = o.idx - 1, updated_at = now()
		 FROM unnest($2::text[]) WITH ORDINALITY AS o(id, idx)
		 WHERE l.id = o.id::uuid AND l.board_id = $1 AND l.position <> o.idx - 1`,
		boardID, orderedLaneIDs); err != nil {
		return nil, fmt.Errorf("reorder lanes: %w", err)
	}

	lanes, err := listLanes(ctx, tx, boardID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reorder lanes: %w", err)
	}
	return lanes, nil
}

// CountTasksByLane returns the number of tasks per lane of a board.
func (s *Store) CountTasksByLane(ctx context.Context, boardID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT lane_id, count(*) FROM tasks WHERE board_id = $1 GROUP BY lane_id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var laneID string
		var n int
		if err := rows.Scan(&laneID, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[laneID] = n
	}
	return counts, rows.Err()
}

// laneOf locks nothing; it returns the board and state key of a lane.
func laneOf(ctx context.Context, q querier, laneID string) (boardID, stateKey string, err error) {
	err = q.QueryRow(ctx, `SELECT board_id, state_key FROM lanes WHERE id = $1`, laneID).Scan(&boardID, &stateKey)
	if err != nil {
		return "", "", notFoundWrap(err, "lane %s", laneID)
	}
	return boardID, stateKey, nil
}
