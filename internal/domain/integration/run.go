package integration

import (
	"fmt"
	"time"

	"github.com/Strob0t/LaneSync/internal/domain/board"
)

// RunKind names what a sync run did.
type RunKind string

const (
	RunImport     RunKind = "import"
	RunSync       RunKind = "sync"
	RunTaskCreate RunKind = "task_create"
	RunTaskLink   RunKind = "task_link"
	RunTaskPull   RunKind = "task_pull"
	RunTaskPush   RunKind = "task_push"
)

// RunStatus is running until the run is finished exactly once.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Log levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Step names used in run log entries.
const (
	StepStart    = "start"
	StepFetch    = "fetch"
	StepCreated  = "created"
	StepUpdated  = "updated"
	StepLinked   = "linked"
	StepPushed   = "pushed"
	StepConflict = "conflict"
	StepItem     = "item_error"
	StepDone     = "done"
	StepAbort    = "abort"
)

// LogEntry is one ordered step of a run.
type LogEntry struct {
	At         time.Time `json:"at"`
	Level      string    `json:"level"`
	Step       string    `json:"step"`
	ExternalID string    `json:"externalId,omitempty"`
	TaskID     string    `json:"taskId,omitempty"`
	Message    string    `json:"message"`
}

// Run is one ledger record. Entries are only appended while the run is
// running; once finished the record is immutable.
type Run struct {
	ID           string         `json:"id"`
	BoardID      string         `json:"boardId"`
	ProfileID    string         `json:"profileId,omitempty"`
	ConnectionID string         `json:"connectionId"`
	Provider     board.Provider `json:"provider"`
	Kind         RunKind        `json:"kind"`
	Status       RunStatus      `json:"status"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   *time.Time     `json:"finishedAt,omitempty"`
	Log          []LogEntry     `json:"log"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Counts       Counts         `json:"counts"`
}

// Counts aggregates item outcomes of a run.
type Counts struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

// Summary renders the terminal log message.
func (c Counts) Summary() string {
	return fmt.Sprintf("Done created=%d updated=%d failed=%d conflicts=%d", c.Created, c.Updated, c.Failed, c.Conflicts)
}

// FinalStatus is error when any item failed, success otherwise.
func (c Counts) FinalStatus() RunStatus {
	if c.Failed > 0 {
		return RunError
	}
	return RunSuccess
}

// StartRun describes a run about to be opened in the ledger.
type StartRun struct {
	BoardID      string
	ProfileID    string
	ConnectionID string
	Provider     board.Provider
	Kind         RunKind
}

// FinishRun carries the terminal state of a run.
type FinishRun struct {
	Status       RunStatus
	ErrorMessage string
	Counts       Counts
}

// Entry builds a log entry stamped with the current time.
func Entry(level, step, message string) LogEntry {
	return LogEntry{At: time.Now().UTC(), Level: level, Step: step, Message: message}
}
