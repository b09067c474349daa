package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/LaneSync/internal/domain"
)

// Supported actions.
const (
	ActionCreateTask  = "create_task"
	ActionMoveTask    = "move_task"
	ActionCommentTask = "comment_task"
)

// Payload is the JSON object an automation posts. Which fields are required
// depends on Action.
type Payload struct {
	Action         string   `json:"action"`
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
	BoardID        string   `json:"boardId,omitempty"`
	BoardName      string   `json:"boardName,omitempty"`
	LaneName       string   `json:"laneName,omitempty"`
	TaskID         string   `json:"taskId,omitempty"`
	JiraKey        string   `json:"jiraKey,omitempty"`
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Type           string   `json:"type,omitempty"`
	DueDate        string   `json:"dueDate,omitempty"`
	Estimate       *int     `json:"estimateMinutes,omitempty"`
	Blocked        bool     `json:"blocked,omitempty"`
	BlockedReason  string   `json:"blockedReason,omitempty"`
	Body           string   `json:"body,omitempty"`
	CommentID      string   `json:"commentId,omitempty"`
	ID             string   `json:"id,omitempty"`
	Author         string   `json:"author,omitempty"`
	AuthorName     string   `json:"authorName,omitempty"`
}

// ParsePayload decodes and validates an inbound body. The body must be a
// JSON object.
func ParsePayload(raw []byte) (*Payload, error) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("%w: JSON object body required", domain.ErrValidation)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrValidation, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate trims fields and checks what the action requires.
func (p *Payload) Validate() error {
	p.Action = strings.TrimSpace(p.Action)
	p.Title = strings.TrimSpace(p.Title)
	p.BoardName = strings.TrimSpace(p.BoardName)
	p.BoardID = strings.TrimSpace(p.BoardID)
	p.LaneName = strings.TrimSpace(p.LaneName)
	p.TaskID = strings.TrimSpace(p.TaskID)
	p.JiraKey = strings.TrimSpace(p.JiraKey)
	p.Body = strings.TrimSpace(p.Body)

	switch p.Action {
	case ActionCreateTask:
		if p.Title == "" {
			return fmt.Errorf("%w: title is required", domain.ErrValidation)
		}
		if p.BoardName == "" && p.BoardID == "" {
			return fmt.Errorf("%w: boardName is required", domain.ErrValidation)
		}
	case ActionMoveTask:
		if p.TaskID == "" {
			return fmt.Errorf("%w: taskId is required", domain.ErrValidation)
		}
		if p.LaneName == "" {
			return fmt.Errorf("%w: laneName is required", domain.ErrValidation)
		}
	case ActionCommentTask:
		if p.Body == "" {
			return fmt.Errorf("%w: body is required", domain.ErrValidation)
		}
		if p.TaskID == "" && p.JiraKey == "" {
			return fmt.Errorf("%w: taskId or jiraKey is required", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrValidation, p.Action)
	}
	return nil
}

// ParsedDueDate accepts RFC 3339 timestamps and plain dates. Anything else
// is treated as no due date.
func (p *Payload) ParsedDueDate() *time.Time {
	s := strings.TrimSpace(p.DueDate)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// CommentSourceID picks the dedupe id of a comment: the sender's comment id,
// then its generic id, then the idempotency key, then the event id.
func (p *Payload) CommentSourceID(eventID string) string {
	for _, v := range []string{p.CommentID, p.ID, p.IdempotencyKey} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return eventID
}

// CommentAuthor returns the sender-side author name, if any.
func (p *Payload) CommentAuthor() string {
	if a := strings.TrimSpace(p.Author); a != "" {
		return a
	}
	return strings.TrimSpace(p.AuthorName)
}

// IdempotencyKey prefers the Idempotency-Key header over the body field.
// Only a string body field counts, as ParsePayload rejects any other type.
func IdempotencyKey(header string, raw []byte) string {
	if k := strings.TrimSpace(header); k != "" {
		return k
	}
	var body struct {
		IdempotencyKey json.RawMessage `json:"idempotencyKey"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.IdempotencyKey) == 0 {
		return ""
	}
	var key string
	if err := json.Unmarshal(body.IdempotencyKey, &key); err != nil {
		return ""
	}
	return strings.TrimSpace(key)
}

// ActionResult is the stored result of a processed action.
type ActionResult struct {
	TaskID     string `json:"taskId,omitempty"`
	BoardID    string `json:"boardId,omitempty"`
	LaneID     string `json:"laneId,omitempty"`
	CommentID  string `json:"commentId,omitempty"`
	Idempotent bool   `json:"idempotent,omitempty"`
}
