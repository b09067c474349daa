// Package tracker defines the port interface for external issue trackers
// (Jira, OpenProject) that tasks can be imported from and pushed to.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/integration"
)

// ErrNotSupported is returned when a tracker does not support the requested operation.
var ErrNotSupported = errors.New("operation not supported by this tracker")

// Config carries the decrypted credential and transport settings for one client.
// It is built per call and never stored.
type Config struct {
	BaseURL   string
	Email     string
	Token     string
	UserAgent string
	Timeout   time.Duration
	PageSize  int
}

// IssueInput holds the fields written on create and update. Empty fields are
// left untouched on update.
type IssueInput struct {
	ProjectRef  string
	Title       string
	Description string
	IssueType   string
	Priority    string
	Labels      []string
	Assignee    string
}

// Client is the port interface for a tracker account.
type Client interface {
	// Provider returns the tracker identifier.
	Provider() board.Provider

	// Ping performs a cheap authenticated call and returns an instance label.
	Ping(ctx context.Context) (string, error)

	// Search returns issues matching query, following pagination up to limit.
	Search(ctx context.Context, query string, limit int) ([]integration.Issue, error)

	// GetIssue returns one issue by its external id.
	GetIssue(ctx context.Context, externalID string) (*integration.Issue, error)

	// CreateIssue creates an issue and returns it as stored by the tracker.
	CreateIssue(ctx context.Context, in IssueInput) (*integration.Issue, error)

	// UpdateIssue writes title, description and labels onto an existing issue.
	UpdateIssue(ctx context.Context, externalID string, in IssueInput) (*integration.Issue, error)

	// FindByLabel returns the first issue carrying label, or domain.ErrNotFound.
	// Returns ErrNotSupported if the tracker has no labels.
	FindByLabel(ctx context.Context, label string) (*integration.Issue, error)
}

// APIError is a non-2xx response from a tracker.
type APIError struct {
	Provider   board.Provider
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Is maps rejected credentials to domain.ErrNeedsReconnect and missing
// issues to domain.ErrNotFound.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrNeedsReconnect:
		return e.StatusCode == 401 || e.StatusCode == 403
	case domain.ErrNotFound:
		return e.StatusCode == 404
	}
	return false
}

// IsClientError reports whether err is a 4xx answer. Such answers prove the
// tracker is reachable and must not trip a circuit breaker.
func IsClientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
