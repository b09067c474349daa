package integration

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
)

// Mapping translates external vocabularies onto local lanes and fields.
// It is validated against the board when a profile is submitted.
type Mapping struct {
	Status   map[string]string `json:"statusToStateKey"`
	Priority map[string]string `json:"priorityMap"`
	Type     map[string]string `json:"typeMap"`
}

// Validate rejects mappings that point at unknown lanes, priorities or types.
func (m Mapping) Validate(stateKeys []string) error {
	if len(m.Status) == 0 {
		return fmt.Errorf("%w: statusToStateKey must map at least one status", domain.ErrValidation)
	}
	known := make(map[string]bool, len(stateKeys))
	for _, k := range stateKeys {
		known[k] = true
	}
	for _, ext := range sortedKeys(m.Status) {
		if !known[m.Status[ext]] {
			return fmt.Errorf("%w: statusToStateKey[%q] points at unknown lane state %q", domain.ErrValidation, ext, m.Status[ext])
		}
	}
	for _, ext := range sortedKeys(m.Priority) {
		if !board.ValidPriority(m.Priority[ext]) {
			return fmt.Errorf("%w: priorityMap[%q] has unknown priority %q", domain.ErrValidation, ext, m.Priority[ext])
		}
	}
	for _, ext := range sortedKeys(m.Type) {
		if !board.ValidType(m.Type[ext]) {
			return fmt.Errorf("%w: typeMap[%q] has unknown type %q", domain.ErrValidation, ext, m.Type[ext])
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lookup(table map[string]string, field, value string) (string, error) {
	v, ok := table[strings.TrimSpace(value)]
	if !ok {
		return "", fmt.Errorf("%w: %s %q has no mapping entry", domain.ErrMapping, field, value)
	}
	return v, nil
}

// Issue is an external work item normalized across providers.
type Issue struct {
	ExternalID  string     `json:"externalId"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority,omitempty"`
	Type        string     `json:"type,omitempty"`
	Labels      []string   `json:"labels"`
	Assignee    string     `json:"assignee,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	LockVersion int        `json:"lockVersion,omitempty"`
}

// Resolution is the set of local field values decided for one issue.
// Empty Priority or Type mean the external side has no value and the local
// value is kept.
type Resolution struct {
	StateKey    string
	Title       string
	Description string
	Tags        []string
	Priority    string
	Type        string
	DueDate     *time.Time
	URL         string
	UpdatedAt   *time.Time
}

// Resolve decides the local values for issue under policy. Only jiraWins is
// implemented; every synchronized field takes the external value. A status,
// priority or type without a mapping entry fails the item.
func Resolve(policy ConflictPolicy, m Mapping, issue *Issue) (Resolution, error) {
	if err := policy.Check(); err != nil {
		return Resolution{}, err
	}

	stateKey, err := lookup(m.Status, "status", issue.Status)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		StateKey:    stateKey,
		Title:       strings.TrimSpace(issue.Title),
		Description: issue.Description,
		Tags:        append([]string{}, issue.Labels...),
		DueDate:     issue.DueDate,
		URL:         issue.URL,
		UpdatedAt:   issue.UpdatedAt,
	}
	if res.Title == "" {
		res.Title = issue.ExternalID
	}
	if issue.Priority != "" {
		if res.Priority, err = lookup(m.Priority, "priority", issue.Priority); err != nil {
			return Resolution{}, err
		}
	}
	if issue.Type != "" {
		if res.Type, err = lookup(m.Type, "type", issue.Type); err != nil {
			return Resolution{}, err
		}
	}
	return res, nil
}

// ApplyTo overwrites the task's synchronized fields. Lane placement is the
// store's job because it touches lane ordering.
func (r *Resolution) ApplyTo(t *board.Task) {
	t.Title = r.Title
	t.Description = r.Description
	t.Tags = r.Tags
	if r.Priority != "" {
		t.Priority = r.Priority
	}
	if r.Type != "" {
		t.Type = r.Type
	}
	t.DueDate = r.DueDate
}

// NewTaskRequest builds the create request for an issue seen for the first time.
func (r *Resolution) NewTaskRequest(laneID string) board.CreateTaskRequest {
	req := board.CreateTaskRequest{
		LaneID:      laneID,
		Title:       r.Title,
		Description: r.Description,
		Tags:        r.Tags,
		Priority:    r.Priority,
		Type:        r.Type,
		DueDate:     r.DueDate,
	}
	return req
}

// BothChanged reports whether the local task and the external issue were
// edited since the last successful sync of the link. The local side compares
// against the sync mark, which the store writes as the task's UpdatedAt. The
// external side compares against the issue timestamp seen at that sync, so
// the two clocks are never mixed.
func BothChanged(t *board.Task, link *board.Link, issue *Issue) bool {
	if link.LastSyncAt == nil || issue.UpdatedAt == nil {
		return false
	}
	seen := link.LastSyncAt
	if link.ExternalUpdatedAt != nil {
		seen = link.ExternalUpdatedAt
	}
	return t.UpdatedAt.After(*link.LastSyncAt) && issue.UpdatedAt.After(*seen)
}
