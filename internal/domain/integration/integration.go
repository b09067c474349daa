// Package integration defines tracker connections, sync profiles, the sync
// run ledger entries and the conflict resolver that merges external issues
// into local tasks.
package integration

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
)

// Connection is a stored tracker account. The credential is sealed at rest
// and never serialized.
type Connection struct {
	ID              string         `json:"id"`
	Provider        board.Provider `json:"provider"`
	Name            string         `json:"name"`
	BaseURL         string         `json:"baseUrl"`
	Email           string         `json:"email,omitempty"`
	SealedToken     string         `json:"-"`
	TokenHint       string         `json:"tokenHint"`
	DefaultAssignee string         `json:"defaultAssignee,omitempty"`
	ProjectRef      string         `json:"projectRef,omitempty"`
	NeedsReconnect  bool           `json:"needsReconnect"`
	ReconnectReason string         `json:"reconnectReason,omitempty"`
	LastCheckedAt   *time.Time     `json:"lastCheckedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// CreateConnectionRequest is the body of POST /integrations/{provider}/connections.
type CreateConnectionRequest struct {
	Name            string `json:"name"`
	BaseURL         string `json:"baseUrl"`
	Email           string `json:"email"`
	Token           string `json:"token"`
	DefaultAssignee string `json:"defaultAssignee"`
	ProjectRef      string `json:"projectRef"`
}

// Validate trims input and normalizes the base URL.
func (r *CreateConnectionRequest) Validate() error {
	base, err := NormalizeBaseURL(r.BaseURL)
	if err != nil {
		return err
	}
	r.BaseURL = base
	r.Token = strings.TrimSpace(r.Token)
	if r.Token == "" {
		return fmt.Errorf("%w: token is required", domain.ErrValidation)
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		r.Name = base
	}
	r.Email = strings.TrimSpace(r.Email)
	return nil
}

// NormalizeBaseURL trims trailing slashes and defaults the scheme to https.
func NormalizeBaseURL(raw string) (string, error) {
	b := strings.TrimRight(strings.TrimSpace(raw), "/")
	if b == "" {
		return "", fmt.Errorf("%w: baseUrl is required", domain.ErrValidation)
	}
	if !strings.HasPrefix(b, "http://") && !strings.HasPrefix(b, "https://") {
		b = "https://" + b
	}
	u, err := url.Parse(b)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid baseUrl %q", domain.ErrValidation, raw)
	}
	return b, nil
}

// TokenHint masks a credential down to its last four characters.
func TokenHint(token string) string {
	t := strings.TrimSpace(token)
	if len(t) <= 8 {
		return "****"
	}
	return "****" + t[len(t)-4:]
}

// TestResult is returned by a connection test.
type TestResult struct {
	OK             bool   `json:"ok"`
	NeedsReconnect bool   `json:"needsReconnect"`
	Message        string `json:"message,omitempty"`
	Instance       string `json:"instance,omitempty"`
}

// ConflictPolicy decides which side wins when both changed.
type ConflictPolicy string

const (
	PolicyJiraWins ConflictPolicy = "jiraWins"
	PolicyAppWins  ConflictPolicy = "appWins"
	PolicyManual   ConflictPolicy = "manual"
)

// Check accepts only implemented policies. Declared but unimplemented
// policies are rejected rather than treated as jiraWins.
func (p ConflictPolicy) Check() error {
	switch p {
	case PolicyJiraWins:
		return nil
	case PolicyAppWins, PolicyManual:
		return fmt.Errorf("%w: %s", domain.ErrPolicyUnimplemented, p)
	}
	return fmt.Errorf("%w: unknown conflictPolicy %q", domain.ErrValidation, p)
}

// Profile binds a board to a connection with a filter query and mapping.
type Profile struct {
	ID             string         `json:"id"`
	BoardID        string         `json:"boardId"`
	ConnectionID   string         `json:"connectionId"`
	Provider       board.Provider `json:"provider"`
	Query          string         `json:"query"`
	Mapping        Mapping        `json:"mapping"`
	ConflictPolicy ConflictPolicy `json:"conflictPolicy"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// ImportRequest is the body of POST /integrations/{provider}/import.
type ImportRequest struct {
	BoardID          string            `json:"boardId"`
	ConnectionID     string            `json:"connectionId"`
	JQL              string            `json:"jql"`
	Query            string            `json:"query"`
	StatusToStateKey map[string]string `json:"statusToStateKey"`
	PriorityMap      map[string]string `json:"priorityMap"`
	TypeMap          map[string]string `json:"typeMap"`
	ConflictPolicy   ConflictPolicy    `json:"conflictPolicy"`
}

// Filter returns the provider query; jql is accepted as an alias.
func (r *ImportRequest) Filter() string {
	if q := strings.TrimSpace(r.Query); q != "" {
		return q
	}
	return strings.TrimSpace(r.JQL)
}

// Mapping returns the typed mapping from the request maps.
func (r *ImportRequest) Mapping() Mapping {
	return Mapping{Status: r.StatusToStateKey, Priority: r.PriorityMap, Type: r.TypeMap}
}

// Validate checks everything that can be checked without the store.
func (r *ImportRequest) Validate() error {
	if r.ConflictPolicy == "" {
		r.ConflictPolicy = PolicyJiraWins
	}
	if err := r.ConflictPolicy.Check(); err != nil {
		return err
	}
	if r.BoardID == "" {
		return fmt.Errorf("%w: boardId is required", domain.ErrValidation)
	}
	if r.ConnectionID == "" {
		return fmt.Errorf("%w: connectionId is required", domain.ErrValidation)
	}
	if r.Filter() == "" {
		return fmt.Errorf("%w: query is required", domain.ErrValidation)
	}
	return nil
}

// SingleTaskRequest is the body of the per-task create/link endpoints.
type SingleTaskRequest struct {
	ConnectionID string `json:"connectionId"`
	ProjectRef   string `json:"projectRef"`
	IssueType    string `json:"issueType"`
	ExternalID   string `json:"externalId"`
}
