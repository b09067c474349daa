package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/Strob0t/LaneSync/internal/adapter/otel"
	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/port/database"
	"github.com/Strob0t/LaneSync/internal/port/eventbus"
)

// BoardView is a board with its lanes in position order.
type BoardView struct {
	board.Board
	Lanes []board.Lane `json:"lanes"`
}

// BoardService handles boards, lanes and local task writes.
type BoardService struct {
	store   database.BoardStore
	bus     eventbus.Bus
	wip     *WIPCache
	metrics *otel.Metrics
}

// NewBoardService creates a new BoardService. bus, wip and metrics may be nil.
func NewBoardService(store database.BoardStore, bus eventbus.Bus, wip *WIPCache, metrics *otel.Metrics) *BoardService {
	return &BoardService{store: store, bus: bus, wip: wip, metrics: metrics}
}

// --- Boards and lanes ---

// CreateBoard creates a board with its initial lanes.
func (s *BoardService) CreateBoard(ctx context.Context, req board.CreateBoardRequest) (*BoardView, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	b, lanes, err := s.store.CreateBoard(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Info("board created", "board_id", b.ID, "lanes", len(lanes))
	return &BoardView{Board: *b, Lanes: lanes}, nil
}

// GetBoard returns a board with its lanes.
func (s *BoardService) GetBoard(ctx context.Context, id string) (*BoardView, error) {
	b, err := s.store.GetBoard(ctx, id)
	if err != nil {
		return nil, err
	}
	lanes, err := s.store.ListLanes(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BoardView{Board: *b, Lanes: lanes}, nil
}

// ListLanes returns the lanes of a board in position order.
func (s *BoardService) ListLanes(ctx context.Context, boardID string) ([]board.Lane, error) {
	if _, err := s.store.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}
	return s.store.ListLanes(ctx, boardID)
}

// CreateLane appends a lane to a board.
func (s *BoardService) CreateLane(ctx context.Context, boardID string, req board.CreateLaneRequest) (*board.Lane, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	lane, err := s.store.CreateLane(ctx, boardID, req)
	if err != nil {
		return nil, err
	}
	s.wip.Invalidate(ctx, boardID)
	return lane, nil
}

// ReorderLanes applies a full lane permutation.
func (s *BoardService) ReorderLanes(ctx context.Context, boardID string, req board.ReorderLanesRequest) ([]board.Lane, error) {
	lanes, err := s.store.ReorderLanes(ctx, boardID, req.OrderedLaneIDs)
	if err != nil {
		return nil, err
	}
	publish(ctx, s.bus, eventbus.BoardSubject(boardID, eventbus.SuffixLanesReordered), eventbus.LanesReorderedPayload{
		BoardID:        boardID,
		OrderedLaneIDs: req.OrderedLaneIDs,
	})
	s.wip.Invalidate(ctx, boardID)
	return lanes, nil
}

// ReorderLaneSet reorders lanes when the caller names only the lanes. The
// board is the one owning the first lane; a boardId in the request must
// agree with it. Lanes of any other board fail the full-set check.
func (s *BoardService) ReorderLaneSet(ctx context.Context, req board.ReorderLanesRequest) ([]board.Lane, error) {
	if len(req.OrderedLaneIDs) == 0 {
		return nil, fmt.Errorf("%w: orderedLaneIds is required", domain.ErrValidation)
	}
	first, err := s.store.GetLane(ctx, req.OrderedLaneIDs[0])
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown lane %s", domain.ErrValidation, req.OrderedLaneIDs[0])
		}
		return nil, err
	}
	if req.BoardID != "" && req.BoardID != first.BoardID {
		return nil, fmt.Errorf("%w: lane %s belongs to another board", domain.ErrValidation, first.ID)
	}
	return s.ReorderLanes(ctx, first.BoardID, req)
}

// WIP returns the advisory per-lane load of a board.
func (s *BoardService) WIP(ctx context.Context, boardID string) ([]board.LaneLoad, error) {
	if data, ok := s.wip.get(ctx, boardID); ok {
		var cached []board.LaneLoad
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	if _, err := s.store.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}
	lanes, err := s.store.ListLanes(ctx, boardID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountTasksByLane(ctx, boardID)
	if err != nil {
		return nil, err
	}
	report := board.WIPReport(lanes, counts)
	if data, err := json.Marshal(report); err == nil {
		s.wip.put(ctx, boardID, data)
	}
	return report, nil
}

// --- Tasks ---

// ListTasks returns every task of a board in lane and order.
func (s *BoardService) ListTasks(ctx context.Context, boardID string) ([]board.Task, error) {
	if _, err := s.store.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, boardID)
}

// GetTask returns one task.
func (s *BoardService) GetTask(ctx context.Context, id string) (*board.Task, error) {
	return s.store.GetTask(ctx, id)
}

// CreateTask appends a new task to a lane.
func (s *BoardService) CreateTask(ctx context.Context, laneID string, req board.CreateTaskRequest) (*board.Task, error) {
	req.LaneID = laneID
	req.ImportKey = ""
	req.Jira, req.OpenProject = board.Link{}, board.Link{}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	t, _, err := s.store.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}
	s.taskChanged(ctx, t, "create")
	return t, nil
}

// UpdateTask patches task fields when req.Version is current.
func (s *BoardService) UpdateTask(ctx context.Context, id string, req board.UpdateTaskRequest) (*board.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Version != req.Version {
		s.metrics.Conflict(ctx, "update")
		return nil, fmt.Errorf("update task %s at version %d (current %d): %w", id, req.Version, t.Version, domain.ErrConflict)
	}
	if err := req.Apply(t); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTask(ctx, t); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.Conflict(ctx, "update")
		}
		return nil, err
	}
	s.taskChanged(ctx, t, "update")
	return t, nil
}

// MoveTask places a task at req.ToIndex of req.LaneID. The index is clamped;
// a stale req.Version fails with domain.ErrConflict and changes nothing.
func (s *BoardService) MoveTask(ctx context.Context, id string, req board.MoveRequest) (*board.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := otel.StartMoveSpan(ctx, id, req.LaneID)
	before, err := s.store.GetTask(ctx, id)
	if err != nil {
		otel.EndSpan(span, err)
		return nil, err
	}
	t, err := s.store.MoveTask(ctx, id, req)
	otel.EndSpan(span, err)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.Conflict(ctx, "move")
		}
		return nil, err
	}

	s.metrics.Move(ctx, before.LaneID != t.LaneID)
	publish(ctx, s.bus, eventbus.BoardSubject(t.BoardID, eventbus.SuffixTaskMoved), eventbus.TaskMovedPayload{
		BoardID:    t.BoardID,
		TaskID:     t.ID,
		FromLaneID: before.LaneID,
		ToLaneID:   t.LaneID,
		OrderIndex: t.OrderIndex,
		Version:    t.Version,
	})
	s.wip.Invalidate(ctx, t.BoardID)
	return t, nil
}

// moveToEnd moves a task to the end of laneID, re-reading the version when
// a concurrent write won, at most attempts times.
func (s *BoardService) moveToEnd(ctx context.Context, t *board.Task, laneID string, attempts int) (*board.Task, error) {
	for attempt := 1; ; attempt++ {
		moved, err := s.MoveTask(ctx, t.ID, board.MoveRequest{LaneID: laneID, ToIndex: math.MaxInt32, Version: t.Version})
		if err == nil || !errors.Is(err, domain.ErrConflict) || attempt >= attempts {
			return moved, err
		}
		if t, err = s.store.GetTask(ctx, t.ID); err != nil {
			return nil, err
		}
		if t.LaneID == laneID {
			return t, nil
		}
	}
}

// BulkImport creates many tasks at once. Each item is keyed by its explicit
// idempotency key or its normalized title, so re-sending an import never
// duplicates a task.
func (s *BoardService) BulkImport(ctx context.Context, boardID string, req board.BulkImportRequest) (*board.BulkImportResponse, error) {
	if len(req.Items) > board.MaxBulkImportItems {
		return nil, fmt.Errorf("%w: at most %d items per import", domain.ErrValidation, board.MaxBulkImportItems)
	}
	if _, err := s.store.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}
	lanes, err := s.store.ListLanes(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if len(lanes) == 0 {
		return nil, fmt.Errorf("%w: board has no lanes", domain.ErrValidation)
	}
	laneIDs := make(map[string]bool, len(lanes))
	for i := range lanes {
		laneIDs[lanes[i].ID] = true
	}
	defaultLane := defaultLaneID(lanes)
	if req.DefaultLaneID != "" {
		if !laneIDs[req.DefaultLaneID] {
			return nil, fmt.Errorf("%w: invalid defaultLaneId", domain.ErrValidation)
		}
		defaultLane = req.DefaultLaneID
	}
	for i := range req.Items {
		if id := req.Items[i].LaneID; id != "" && !laneIDs[id] {
			return nil, fmt.Errorf("%w: invalid laneId in item %d", domain.ErrValidation, i)
		}
	}

	byTitle := map[string]string{}
	if req.SkipTitles() {
		tasks, err := s.store.ListTasks(ctx, boardID)
		if err != nil {
			return nil, err
		}
		for i := range tasks {
			byTitle[board.NormalizeTitle(tasks[i].Title)] = tasks[i].ID
		}
	}

	resp := &board.BulkImportResponse{Results: make([]board.BulkImportResult, 0, len(req.Items))}
	for i := range req.Items {
		res := s.importItem(ctx, boardID, defaultLane, byTitle, req.SkipTitles(), &req.Items[i])
		res.Index = i
		switch res.Status {
		case board.ImportCreated:
			resp.Created++
		case board.ImportExisting:
			resp.Existing++
		default:
			resp.Failed++
		}
		resp.Results = append(resp.Results, res)
	}

	if resp.Created > 0 {
		publish(ctx, s.bus, eventbus.BoardSubject(boardID, eventbus.SuffixTaskChanged), eventbus.TaskChangedPayload{
			BoardID: boardID,
			Cause:   "import",
		})
		s.wip.Invalidate(ctx, boardID)
	}
	slog.Info("bulk import finished", "board_id", boardID,
		"created", resp.Created, "existing", resp.Existing, "failed", resp.Failed)
	return resp, nil
}

func (s *BoardService) importItem(ctx context.Context, boardID, defaultLane string, byTitle map[string]string, skipTitles bool, item *board.BulkImportItem) board.BulkImportResult {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return board.BulkImportResult{Status: board.ImportError, Error: "title is required"}
	}
	key := board.ImportKey(title, item.IdempotencyKey)

	taskID, found, err := s.store.FindImportKey(ctx, boardID, key)
	if err != nil {
		return board.BulkImportResult{Status: board.ImportError, Key: key, Error: err.Error()}
	}
	if found {
		return board.BulkImportResult{Status: board.ImportExisting, Key: key, TaskID: taskID}
	}

	if skipTitles {
		if existing, ok := byTitle[board.NormalizeTitle(title)]; ok {
			if err := s.store.RecordImportKey(ctx, boardID, key, existing); err != nil {
				slog.Warn("record import key failed", "board_id", boardID, "error", err)
			}
			return board.BulkImportResult{Status: board.ImportExisting, Key: key, TaskID: existing}
		}
	}

	laneID := defaultLane
	if item.LaneID != "" {
		laneID = item.LaneID
	}
	req := board.CreateTaskRequest{
		LaneID:          laneID,
		Title:           title,
		Description:     item.Description,
		Tags:            item.Tags,
		Priority:        item.Priority,
		Type:            item.Type,
		OwnerID:         item.OwnerID,
		DueDate:         item.DueDate,
		EstimateMinutes: item.EstimateMinutes,
		Blocked:         item.Blocked,
		BlockedReason:   item.BlockedReason,
		ImportKey:       key,
	}
	if err := req.Validate(); err != nil {
		return board.BulkImportResult{Status: board.ImportError, Key: key, Error: err.Error()}
	}
	t, created, err := s.store.CreateTask(ctx, req)
	if err != nil {
		return board.BulkImportResult{Status: board.ImportError, Key: key, Error: err.Error()}
	}
	if !created {
		return board.BulkImportResult{Status: board.ImportExisting, Key: key, TaskID: t.ID}
	}
	byTitle[board.NormalizeTitle(title)] = t.ID
	return board.BulkImportResult{Status: board.ImportCreated, Key: key, TaskID: t.ID}
}

func (s *BoardService) taskChanged(ctx context.Context, t *board.Task, cause string) {
	publish(ctx, s.bus, eventbus.BoardSubject(t.BoardID, eventbus.SuffixTaskChanged), eventbus.TaskChangedPayload{
		BoardID: t.BoardID,
		TaskID:  t.ID,
		Version: t.Version,
		Cause:   cause,
	})
	s.wip.Invalidate(ctx, t.BoardID)
}

// defaultLaneID picks the first backlog lane, or the first lane.
func defaultLaneID(lanes []board.Lane) string {
	for i := range lanes {
		if lanes[i].Type == board.LaneBacklog {
			return lanes[i].ID
		}
	}
	return lanes[0].ID
}

// findLane matches a lane by name or state key, case-insensitively.
func findLane(lanes []board.Lane, name string) (*board.Lane, bool) {
	for i := range lanes {
		if strings.EqualFold(lanes[i].Name, name) || strings.EqualFold(lanes[i].StateKey, name) {
			return &lanes[i], true
		}
	}
	return nil, false
}
