package board

import (
	"fmt"

	"github.com/Strob0t/LaneSync/internal/domain"
)

// MoveRequest is a client's intent to place a task at ToIndex in LaneID.
// The server decides the final order; Version is the compare-and-swap token.
type MoveRequest struct {
	LaneID  string `json:"laneId"`
	ToIndex int    `json:"toIndex"`
	Version int    `json:"version"`
}

// Validate checks the move intent before the store is touched.
func (r MoveRequest) Validate() error {
	if r.LaneID == "" {
		return fmt.Errorf("%w: laneId is required", domain.ErrValidation)
	}
	if r.Version < 0 {
		return fmt.Errorf("%w: version must be >= 0", domain.ErrValidation)
	}
	return nil
}

// MovePlan is the dense ordering of the lanes touched by a move. Source is
// nil when the task stays in its lane.
type MovePlan struct {
	Source []string
	Target []string
	Index  int
}

// ClampIndex bounds i to [0, n]. n is the number of other tasks in the
// target lane, so n itself means append.
func ClampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

// PlanMove removes taskID from source and inserts it at toIndex in target.
// Both slices are task ids ordered by their current OrderIndex. For a move
// within one lane pass the same slice twice with sameLane set.
func PlanMove(source, target []string, taskID string, toIndex int, sameLane bool) (MovePlan, error) {
	remaining := without(source, taskID)
	if len(remaining) == len(source) {
		return MovePlan{}, fmt.Errorf("task %s not in source lane ordering: %w", taskID, domain.ErrConflict)
	}

	base := remaining
	if !sameLane {
		base = without(target, taskID)
	}

	idx := ClampIndex(toIndex, len(base))
	ordered := make([]string, 0, len(base)+1)
	ordered = append(ordered, base[:idx]...)
	ordered = append(ordered, taskID)
	ordered = append(ordered, base[idx:]...)

	plan := MovePlan{Target: ordered, Index: idx}
	if !sameLane {
		plan.Source = remaining
	}
	return plan, nil
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// ReorderLanesRequest carries the full desired lane order of one board.
// BoardID is optional and only read on the board-less route.
type ReorderLanesRequest struct {
	BoardID        string   `json:"boardId,omitempty"`
	OrderedLaneIDs []string `json:"orderedLaneIds"`
}

// ValidateLaneOrder checks that ordered is a permutation of current. Partial
// orders are rejected so two clients cannot interleave half-applied orders.
func ValidateLaneOrder(current, ordered []string) error {
	if len(ordered) == 0 {
		return fmt.Errorf("%w: orderedLaneIds is required", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(ordered))
	for _, id := range ordered {
		if seen[id] {
			return fmt.Errorf("%w: duplicate lane %s", domain.ErrValidation, id)
		}
		seen[id] = true
	}
	if len(current) != len(ordered) {
		return fmt.Errorf("%w: orderedLaneIds must contain all %d lanes of the board", domain.ErrValidation, len(current))
	}
	for _, id := range current {
		if !seen[id] {
			return fmt.Errorf("%w: lane %s missing from orderedLaneIds", domain.ErrValidation, id)
		}
	}
	return nil
}

// LaneLoad is one row of the WIP report.
type LaneLoad struct {
	LaneID   string `json:"laneId"`
	Name     string `json:"name"`
	Tasks    int    `json:"active"`
	WIPLimit *int   `json:"wipLimit,omitempty"`
	Over     bool   `json:"over"`
}

// WIPReport computes per-lane load. Limits are advisory; nothing here blocks
// a move.
func WIPReport(lanes []Lane, counts map[string]int) []LaneLoad {
	out := make([]LaneLoad, 0, len(lanes))
	for i := range lanes {
		l := &lanes[i]
		n := counts[l.ID]
		out = append(out, LaneLoad{
			LaneID:   l.ID,
			Name:     l.Name,
			Tasks:    n,
			WIPLimit: l.WIPLimit,
			Over:     l.WIPLimit != nil && *l.WIPLimit > 0 && n > *l.WIPLimit,
		})
	}
	return out
}
