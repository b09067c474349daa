// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/integration"
	"github.com/Strob0t/LaneSync/internal/domain/webhook"
)

// Store is the port interface for database operations.
type Store interface {
	BoardStore
	SyncStore
	WebhookStore
}

// BoardStore owns boards, lanes and tasks. Every task write is a
// compare-and-swap on Task.Version and returns domain.ErrConflict when the
// stored version differs.
type BoardStore interface {
	// Boards and lanes
	CreateBoard(ctx context.Context, req board.CreateBoardRequest) (*board.Board, []board.Lane, error)
	GetBoard(ctx context.Context, id string) (*board.Board, error)
	FindBoardByName(ctx context.Context, name string) (*board.Board, error)
	ListLanes(ctx context.Context, boardID string) ([]board.Lane, error)
	GetLane(ctx context.Context, id string) (*board.Lane, error)
	CreateLane(ctx context.Context, boardID string, req board.CreateLaneRequest) (*board.Lane, error)
	ReorderLanes(ctx context.Context, boardID string, orderedLaneIDs []string) ([]board.Lane, error)
	CountTasksByLane(ctx context.Context, boardID string) (map[string]int, error)

	// Tasks
	ListTasks(ctx context.Context, boardID string) ([]board.Task, error)
	ListLinkedTasks(ctx context.Context, boardID string, provider board.Provider, connectionID string) ([]board.Task, error)
	GetTask(ctx context.Context, id string) (*board.Task, error)
	FindTaskByExternalID(ctx context.Context, boardID string, provider board.Provider, externalID string) (*board.Task, error)
	FindTaskByJiraKey(ctx context.Context, jiraKey string) (*board.Task, error)

	// CreateTask appends a task to the end of req.LaneID. When req.ImportKey
	// is set and already recorded for the board, the existing task is
	// returned with created=false. A set Link.LastSyncAt is stored as the
	// task's UpdatedAt.
	CreateTask(ctx context.Context, req board.CreateTaskRequest) (t *board.Task, created bool, err error)

	// UpdateTask writes every field of t where the stored version equals
	// t.Version, then increments t.Version. If t.LaneID differs from the
	// stored lane the task is appended to the end of t.LaneID. A
	// Link.LastSyncAt that differs from the stored one is stored as the new
	// UpdatedAt, so a sync write never reads as a later local edit.
	UpdateTask(ctx context.Context, t *board.Task) error

	// MoveTask applies the move/reorder protocol in one transaction.
	MoveTask(ctx context.Context, taskID string, req board.MoveRequest) (*board.Task, error)

	// Import keys
	FindImportKey(ctx context.Context, boardID, key string) (taskID string, found bool, err error)
	RecordImportKey(ctx context.Context, boardID, key, taskID string) error

	// AddComment inserts c unless a comment with the same task, source and
	// source id exists; the stored comment is returned either way.
	AddComment(ctx context.Context, c *board.Comment) (stored *board.Comment, created bool, err error)
}

// SyncStore owns tracker connections, sync profiles and the run ledger.
type SyncStore interface {
	// Connections
	CreateConnection(ctx context.Context, c *integration.Connection) error
	GetConnection(ctx context.Context, id string) (*integration.Connection, error)
	ListConnections(ctx context.Context, provider board.Provider) ([]integration.Connection, error)
	DeleteConnection(ctx context.Context, id string) error
	UpdateConnectionCredential(ctx context.Context, id, sealedToken, tokenHint string) error
	SetConnectionStatus(ctx context.Context, id string, needsReconnect bool, reason string) error

	// Profiles
	UpsertProfile(ctx context.Context, p *integration.Profile) error
	GetProfile(ctx context.Context, id string) (*integration.Profile, error)
	ListProfiles(ctx context.Context, boardID string) ([]integration.Profile, error)

	// Run ledger. StartRun fails with domain.ErrSyncInProgress while another
	// run of the same profile is running. AppendRunLog and FinishRun only
	// touch running runs.
	StartRun(ctx context.Context, req integration.StartRun) (*integration.Run, error)
	AppendRunLog(ctx context.Context, runID string, entries ...integration.LogEntry) error
	FinishRun(ctx context.Context, runID string, fin integration.FinishRun) (*integration.Run, error)
	GetRun(ctx context.Context, id string) (*integration.Run, error)
	ListRuns(ctx context.Context, boardID string, limit int) ([]integration.Run, error)
	DeleteFinishedRuns(ctx context.Context, boardID string) (int64, error)
	AbandonStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error)
}

// WebhookStore owns webhook secrets and the event inbox.
type WebhookStore interface {
	GetWebhookSecret(ctx context.Context, source string) (*webhook.Secret, error)
	ListWebhookSecrets(ctx context.Context) ([]webhook.Secret, error)
	UpsertWebhookSecret(ctx context.Context, s *webhook.Secret) error
	DisableWebhookSecret(ctx context.Context, source string) error

	// CreateWebhookEvent persists a received event. When the source already
	// has an event with the same idempotency key, that event is returned
	// with existing=true and nothing is inserted.
	CreateWebhookEvent(ctx context.Context, ev webhook.NewEvent) (stored *webhook.Event, existing bool, err error)
	GetWebhookEvent(ctx context.Context, id string) (*webhook.Event, error)
	FinishWebhookEvent(ctx context.Context, id string, out webhook.Outcome) (*webhook.Event, error)
	ListWebhookEvents(ctx context.Context, f webhook.ListFilter) ([]webhook.Event, error)
}
