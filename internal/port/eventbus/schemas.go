package eventbus

// TaskMovedPayload is the schema for board.<id>.task.moved messages.
type TaskMovedPayload struct {
	BoardID    string `json:"boardId"`
	TaskID     string `json:"taskId"`
	FromLaneID string `json:"fromLaneId"`
	ToLaneID   string `json:"toLaneId"`
	OrderIndex int    `json:"orderIndex"`
	Version    int    `json:"version"`
}

// TaskChangedPayload is the schema for board.<id>.task.changed messages.
type TaskChangedPayload struct {
	BoardID string `json:"boardId"`
	TaskID  string `json:"taskId"`
	Version int    `json:"version"`
	Cause   string `json:"cause"` // "create", "update", "sync", "webhook"
}

// LanesReorderedPayload is the schema for board.<id>.lanes.reordered messages.
type LanesReorderedPayload struct {
	BoardID        string   `json:"boardId"`
	OrderedLaneIDs []string `json:"orderedLaneIds"`
}

// SyncFinishedPayload is the schema for board.<id>.sync.finished messages.
type SyncFinishedPayload struct {
	BoardID   string `json:"boardId"`
	RunID     string `json:"runId"`
	ProfileID string `json:"profileId,omitempty"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Failed    int    `json:"failed"`
}

// WebhookProcessedPayload is the schema for webhook.<source>.processed messages.
type WebhookProcessedPayload struct {
	EventID string `json:"eventId"`
	Source  string `json:"source"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}
