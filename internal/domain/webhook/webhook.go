// Package webhook defines inbound automation sources, their bearer secrets
// and the recorded events with their processing outcome.
package webhook

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/LaneSync/internal/domain"
)

// Secret is the bearer credential of one inbound source. Only the hash of
// the token is stored; the plain token is returned once on creation or
// rotation.
type Secret struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	TokenHash string    `json:"-"`
	TokenHint string    `json:"tokenHint"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Reveal is returned by create and rotate. BearerToken is never stored.
type Reveal struct {
	Secret      Secret `json:"secret"`
	BearerToken string `json:"bearerToken"`
}

// UpsertSecretRequest is the body of PUT /webhooks/secrets/{source}.
type UpsertSecretRequest struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	BearerToken string `json:"bearerToken,omitempty"`
}

// ValidateSource accepts letters, digits, dash and underscore.
func ValidateSource(source string) error {
	if source == "" || len(source) > 64 {
		return fmt.Errorf("%w: invalid source %q", domain.ErrValidation, source)
	}
	for _, r := range source {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: invalid source %q", domain.ErrValidation, source)
		}
	}
	return nil
}

// NewToken returns a random URL-safe bearer token.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the stored form of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// TokenHint masks a token down to its last four characters.
func TokenHint(token string) string {
	t := strings.TrimSpace(token)
	if len(t) <= 8 {
		return "****"
	}
	return "****" + t[len(t)-4:]
}

// Verify reports whether token matches the current secret. Disabled secrets
// match nothing.
func (s *Secret) Verify(token string) bool {
	if s == nil || !s.Enabled || s.TokenHash == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(s.TokenHash)) == 1
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}

// SafeHeaders flattens request headers for storage, dropping credentials.
func SafeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch strings.ToLower(k) {
		case "authorization", "cookie", "set-cookie":
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// Event is one recorded inbound delivery. Result and Error are set once when
// processing finishes; a replay clears and sets them again on the same id.
type Event struct {
	ID             string            `json:"id"`
	Source         string            `json:"source"`
	ReceivedAt     time.Time         `json:"receivedAt"`
	Headers        map[string]string `json:"headers"`
	Payload        json.RawMessage   `json:"payload"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	ProcessedAt    *time.Time        `json:"processedAt,omitempty"`
	Attempts       int               `json:"attempts"`
}

// Succeeded reports whether the event was processed without error.
func (e *Event) Succeeded() bool {
	return e.ProcessedAt != nil && e.Error == "" && len(e.Result) > 0
}

// NewEvent holds what the inbox persists before processing.
type NewEvent struct {
	Source         string
	Headers        map[string]string
	Payload        json.RawMessage
	IdempotencyKey string
}

// Outcome is the terminal state written back to an event.
type Outcome struct {
	Result json.RawMessage
	Error  string
}

// InboundResult is the response body of POST /webhooks/inbound/{source} and
// of a replay.
type InboundResult struct {
	EventID          string          `json:"eventId"`
	IdempotentReplay bool            `json:"idempotentReplay"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// ListFilter narrows GET /webhooks/events.
type ListFilter struct {
	Source string
	Limit  int
}

// Normalize applies the default and maximum page size.
func (f *ListFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
}
