package board

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/Strob0t/LaneSync/internal/domain"
)

func TestClampIndex(t *testing.T) {
	tests := []struct {
		i, n, want int
	}{
		{-3, 4, 0},
		{0, 4, 0},
		{2, 4, 2},
		{4, 4, 4},
		{9, 4, 4},
		{0, 0, 0},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := ClampIndex(tt.i, tt.n); got != tt.want {
			t.Errorf("ClampIndex(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.want)
		}
	}
}

func TestPlanMove_SameLaneToFront(t *testing.T) {
	lane := []string{"A", "B", "C"}
	plan, err := PlanMove(lane, lane, "C", 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"C", "A", "B"}; !reflect.DeepEqual(plan.Target, want) {
		t.Fatalf("expected %v, got %v", want, plan.Target)
	}
	if plan.Source != nil {
		t.Fatalf("expected nil source for same-lane move, got %v", plan.Source)
	}
}

func TestPlanMove_SameLaneClampsToLast(t *testing.T) {
	lane := []string{"A", "B", "C"}
	plan, err := PlanMove(lane, lane, "A", 99, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"B", "C", "A"}; !reflect.DeepEqual(plan.Target, want) {
		t.Fatalf("expected %v, got %v", want, plan.Target)
	}
	if plan.Index != 2 {
		t.Fatalf("expected index 2, got %d", plan.Index)
	}
}

func TestPlanMove_CrossLane(t *testing.T) {
	plan, err := PlanMove([]string{"A", "B"}, []string{"X", "Y"}, "A", 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"B"}; !reflect.DeepEqual(plan.Source, want) {
		t.Fatalf("expected source %v, got %v", want, plan.Source)
	}
	if want := []string{"X", "A", "Y"}; !reflect.DeepEqual(plan.Target, want) {
		t.Fatalf("expected target %v, got %v", want, plan.Target)
	}
}

func TestPlanMove_IntoEmptyLane(t *testing.T) {
	plan, err := PlanMove([]string{"A"}, nil, "A", 3, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Source) != 0 {
		t.Fatalf("expected empty source, got %v", plan.Source)
	}
	if want := []string{"A"}; !reflect.DeepEqual(plan.Target, want) {
		t.Fatalf("expected target %v, got %v", want, plan.Target)
	}
}

func TestPlanMove_TaskMissingFromSource(t *testing.T) {
	_, err := PlanMove([]string{"A"}, []string{"B"}, "Z", 0, false)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

// Random move sequences must keep every lane a permutation of its tasks.
func TestPlanMove_RandomSequencesStayConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	lanes := map[string][]string{
		"backlog": {"t0", "t1", "t2", "t3"},
		"active":  {"t4", "t5"},
		"done":    {},
	}
	laneOf := map[string]string{}
	for lane, ids := range lanes {
		for _, id := range ids {
			laneOf[id] = lane
		}
	}
	names := []string{"backlog", "active", "done"}

	for step := range 500 {
		id := fmt.Sprintf("t%d", rng.Intn(6))
		from := laneOf[id]
		to := names[rng.Intn(len(names))]
		idx := rng.Intn(8) - 2

		plan, err := PlanMove(lanes[from], lanes[to], id, idx, from == to)
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", step, err)
		}
		if from != to {
			lanes[from] = plan.Source
		}
		lanes[to] = plan.Target
		laneOf[id] = to

		total := 0
		seen := map[string]bool{}
		for _, ids := range lanes {
			for _, v := range ids {
				if seen[v] {
					t.Fatalf("step %d: duplicate task %s", step, v)
				}
				seen[v] = true
				total++
			}
		}
		if total != 6 {
			t.Fatalf("step %d: expected 6 tasks, got %d", step, total)
		}
		if lanes[to][plan.Index] != id {
			t.Fatalf("step %d: expected %s at index %d, got %s", step, id, plan.Index, lanes[to][plan.Index])
		}
	}
}

func TestValidateLaneOrder(t *testing.T) {
	current := []string{"a", "b", "c"}
	tests := []struct {
		name    string
		ordered []string
		wantErr bool
	}{
		{"permutation", []string{"c", "a", "b"}, false},
		{"empty", nil, true},
		{"partial", []string{"a", "b"}, true},
		{"duplicate", []string{"a", "a", "b"}, true},
		{"foreign lane", []string{"a", "b", "z"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLaneOrder(current, tt.ordered)
			if tt.wantErr && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestWIPReport(t *testing.T) {
	two := 2
	zero := 0
	lanes := []Lane{
		{ID: "l1", Name: "Active", WIPLimit: &two},
		{ID: "l2", Name: "Backlog"},
		{ID: "l3", Name: "Review", WIPLimit: &zero},
	}
	report := WIPReport(lanes, map[string]int{"l1": 3, "l2": 10, "l3": 4})
	if len(report) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(report))
	}
	if !report[0].Over {
		t.Fatal("expected lane l1 over its limit")
	}
	if report[1].Over {
		t.Fatal("expected lane without limit not over")
	}
	if report[2].Over {
		t.Fatal("expected zero limit to mean unlimited")
	}
}

func TestMoveRequestValidate(t *testing.T) {
	if err := (MoveRequest{Version: 1}).Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing lane, got %v", err)
	}
	if err := (MoveRequest{LaneID: "l", Version: -1}).Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for negative version, got %v", err)
	}
	if err := (MoveRequest{LaneID: "l", Version: 3}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
