// Package eventbus defines the board event bus port (interface).
package eventbus

import (
	"context"
	"strings"
)

// Handler processes a message received from the bus.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Bus is the port interface for publishing and subscribing to board events.
type Bus interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject
	// pattern. The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the connection immediately.
	Close() error

	// IsConnected reports whether the bus is currently connected.
	IsConnected() bool
}

// Subject suffixes under board.<boardID>.
const (
	SuffixTaskMoved      = "task.moved"
	SuffixTaskChanged    = "task.changed"
	SuffixLanesReordered = "lanes.reordered"
	SuffixSyncFinished   = "sync.finished"
)

// SubjectAllBoards matches every board event.
const SubjectAllBoards = "board.>"

// BoardSubject builds board.<boardID>.<suffix>.
func BoardSubject(boardID, suffix string) string {
	return "board." + boardID + "." + suffix
}

// WebhookSubject builds webhook.<source>.processed.
func WebhookSubject(source string) string {
	return "webhook." + source + ".processed"
}

// BoardIDFromSubject extracts the board id from a board.<id>.* subject.
func BoardIDFromSubject(subject string) (string, bool) {
	parts := strings.SplitN(subject, ".", 3)
	if len(parts) < 3 || parts[0] != "board" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
