// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates the request failed input validation.
var ErrValidation = errors.New("validation failed")

// ErrNeedsReconnect indicates a tracker connection's stored credential can no
// longer be used and must be re-saved.
var ErrNeedsReconnect = errors.New("connection needs reconnect")

// ErrMapping indicates an external status, priority or type has no entry in
// the profile mapping.
var ErrMapping = errors.New("unmapped external value")

// ErrPolicyUnimplemented indicates a conflict policy that is declared but not
// implemented.
var ErrPolicyUnimplemented = errors.New("conflict policy not implemented")

// ErrWebhookAuth indicates an inbound webhook with a missing, unknown or
// rotated bearer token.
var ErrWebhookAuth = errors.New("webhook authentication failed")

// ErrSyncInProgress indicates another run for the same profile is still running.
var ErrSyncInProgress = errors.New("sync already running for profile")

// ErrReplayUnsafe indicates a replay request for an event without an
// idempotency key.
var ErrReplayUnsafe = errors.New("replay requires an idempotency key")
