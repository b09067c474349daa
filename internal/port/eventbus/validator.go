package eventbus

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch {
	case strings.HasPrefix(subject, "board.") && strings.HasSuffix(subject, "."+SuffixTaskMoved):
		target = &TaskMovedPayload{}
	case strings.HasPrefix(subject, "board.") && strings.HasSuffix(subject, "."+SuffixTaskChanged):
		target = &TaskChangedPayload{}
	case strings.HasPrefix(subject, "board.") && strings.HasSuffix(subject, "."+SuffixLanesReordered):
		target = &LanesReorderedPayload{}
	case strings.HasPrefix(subject, "board.") && strings.HasSuffix(subject, "."+SuffixSyncFinished):
		target = &SyncFinishedPayload{}
	case strings.HasPrefix(subject, "webhook.") && strings.HasSuffix(subject, ".processed"):
		target = &WebhookProcessedPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
