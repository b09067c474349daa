// Package board defines boards, lanes and tasks together with the pure
// ordering rules the task store applies inside its transactions.
package board

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/LaneSync/internal/domain"
)

// LaneType is the closed set of workflow stages a lane can represent.
type LaneType string

const (
	LaneBacklog LaneType = "backlog"
	LaneActive  LaneType = "active"
	LaneBlocked LaneType = "blocked"
	LaneDone    LaneType = "done"
)

// Valid reports whether t is one of the known lane types.
func (t LaneType) Valid() bool {
	switch t {
	case LaneBacklog, LaneActive, LaneBlocked, LaneDone:
		return true
	}
	return false
}

// Provider identifies an external tracker a task can be linked to.
type Provider string

const (
	ProviderJira        Provider = "jira"
	ProviderOpenProject Provider = "openproject"
)

// ParseProvider validates a provider name taken from a URL or request body.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderJira, ProviderOpenProject:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, s)
}

// Board groups lanes.
type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Lane is an ordered column on a board.
type Lane struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Name      string    `json:"name"`
	StateKey  string    `json:"stateKey"`
	Type      LaneType  `json:"type"`
	Position  int       `json:"position"`
	WIPLimit  *int      `json:"wipLimit,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Link is a weak back-reference from a task to an external issue. The task
// store never checks that the connection still exists.
type Link struct {
	ConnectionID      string     `json:"connectionId,omitempty"`
	ExternalID        string     `json:"externalId,omitempty"`
	URL               string     `json:"url,omitempty"`
	ExternalUpdatedAt *time.Time `json:"externalUpdatedAt,omitempty"`
	LastSyncAt        *time.Time `json:"lastSyncAt,omitempty"`
}

// Linked reports whether the link points at an external issue.
func (l Link) Linked() bool { return l.ExternalID != "" }

// Task is a card within a lane. OrderIndex is unique per lane and Version
// increases by exactly one on every successful write.
type Task struct {
	ID              string     `json:"id"`
	BoardID         string     `json:"boardId"`
	LaneID          string     `json:"laneId"`
	StateKey        string     `json:"stateKey"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Tags            []string   `json:"tags"`
	Priority        string     `json:"priority"`
	Type            string     `json:"type"`
	OwnerID         *string    `json:"ownerId,omitempty"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
	EstimateMinutes *int       `json:"estimateMinutes,omitempty"`
	Blocked         bool       `json:"blocked"`
	BlockedReason   string     `json:"blockedReason,omitempty"`
	OrderIndex      int        `json:"orderIndex"`
	Version         int        `json:"version"`
	Jira            Link       `json:"jira"`
	OpenProject     Link       `json:"openproject"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// LinkFor returns the task's link for the given provider.
func (t *Task) LinkFor(p Provider) *Link {
	if p == ProviderOpenProject {
		return &t.OpenProject
	}
	return &t.Jira
}

// Comment is a note on a task. Comments from automations carry a source and
// source id so redelivery does not duplicate them.
type Comment struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"taskId"`
	Body         string    `json:"body"`
	Source       string    `json:"source"`
	SourceID     string    `json:"sourceId,omitempty"`
	SourceAuthor string    `json:"sourceAuthor,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateBoardRequest holds the fields needed to create a board.
type CreateBoardRequest struct {
	Name  string              `json:"name"`
	Lanes []CreateLaneRequest `json:"lanes,omitempty"`
}

// Validate checks board creation input.
func (r *CreateBoardRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	for i := range r.Lanes {
		if err := r.Lanes[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CreateLaneRequest holds the fields needed to append a lane to a board.
type CreateLaneRequest struct {
	Name     string   `json:"name"`
	StateKey string   `json:"stateKey"`
	Type     LaneType `json:"type"`
	WIPLimit *int     `json:"wipLimit,omitempty"`
}

// Validate checks lane creation input and fills the state key from the name
// when it is omitted.
func (r *CreateLaneRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return fmt.Errorf("%w: lane name is required", domain.ErrValidation)
	}
	if r.StateKey == "" {
		r.StateKey = stateKeyFromName(r.Name)
	}
	if r.Type == "" {
		r.Type = LaneActive
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown lane type %q", domain.ErrValidation, r.Type)
	}
	if r.WIPLimit != nil && *r.WIPLimit < 0 {
		return fmt.Errorf("%w: wipLimit must be >= 0", domain.ErrValidation)
	}
	return nil
}

func stateKeyFromName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// CreateTaskRequest holds the fields for a new task. The store appends it to
// the end of LaneID.
type CreateTaskRequest struct {
	LaneID          string     `json:"laneId"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Tags            []string   `json:"tags"`
	Priority        string     `json:"priority"`
	Type            string     `json:"type"`
	OwnerID         *string    `json:"ownerId,omitempty"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
	EstimateMinutes *int       `json:"estimateMinutes,omitempty"`
	Blocked         bool       `json:"blocked"`
	BlockedReason   string     `json:"blockedReason,omitempty"`

	// ImportKey, when set, makes creation idempotent per board.
	ImportKey string `json:"-"`
	// Links are set by tracker imports.
	Jira        Link `json:"-"`
	OpenProject Link `json:"-"`
}

// Validate normalizes vocabulary fields and checks required input.
func (r *CreateTaskRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if r.LaneID == "" {
		return fmt.Errorf("%w: laneId is required", domain.ErrValidation)
	}
	r.Priority = NormalizePriority(r.Priority)
	r.Type = NormalizeType(r.Type)
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if r.EstimateMinutes != nil && *r.EstimateMinutes < 0 {
		return fmt.Errorf("%w: estimateMinutes must be >= 0", domain.ErrValidation)
	}
	return nil
}

// UpdateTaskRequest patches task fields. Version must equal the stored
// version or the update fails with domain.ErrConflict.
type UpdateTaskRequest struct {
	Version         int        `json:"version"`
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Priority        *string    `json:"priority,omitempty"`
	Type            *string    `json:"type,omitempty"`
	OwnerID         *string    `json:"ownerId,omitempty"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
	EstimateMinutes *int       `json:"estimateMinutes,omitempty"`
	Blocked         *bool      `json:"blocked,omitempty"`
	BlockedReason   *string    `json:"blockedReason,omitempty"`
}

// Apply copies the set fields onto t. It does not touch Version.
func (r *UpdateTaskRequest) Apply(t *Task) error {
	if r.Title != nil {
		title := strings.TrimSpace(*r.Title)
		if title == "" {
			return fmt.Errorf("%w: title must not be empty", domain.ErrValidation)
		}
		t.Title = title
	}
	if r.Description != nil {
		t.Description = *r.Description
	}
	if r.Tags != nil {
		t.Tags = r.Tags
	}
	if r.Priority != nil {
		if !ValidPriority(*r.Priority) {
			return fmt.Errorf("%w: unknown priority %q", domain.ErrValidation, *r.Priority)
		}
		t.Priority = *r.Priority
	}
	if r.Type != nil {
		if !ValidType(*r.Type) {
			return fmt.Errorf("%w: unknown type %q", domain.ErrValidation, *r.Type)
		}
		t.Type = *r.Type
	}
	if r.OwnerID != nil {
		if *r.OwnerID == "" {
			t.OwnerID = nil
		} else {
			t.OwnerID = r.OwnerID
		}
	}
	if r.DueDate != nil {
		t.DueDate = r.DueDate
	}
	if r.EstimateMinutes != nil {
		if *r.EstimateMinutes < 0 {
			return fmt.Errorf("%w: estimateMinutes must be >= 0", domain.ErrValidation)
		}
		t.EstimateMinutes = r.EstimateMinutes
	}
	if r.Blocked != nil {
		t.Blocked = *r.Blocked
		if !t.Blocked {
			t.BlockedReason = ""
		}
	}
	if r.BlockedReason != nil && t.Blocked {
		t.BlockedReason = *r.BlockedReason
	}
	return nil
}
