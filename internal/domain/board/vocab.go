package board

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Priorities is the closed priority vocabulary, most urgent first.
var Priorities = []string{"P0", "P1", "P2", "P3"}

// Types is the closed task type vocabulary.
var Types = []string{"Bug", "Feature", "Ops", "Risk", "Debt", "Spike", "Support"}

const (
	DefaultPriority = "P2"
	DefaultType     = "Feature"
)

// ValidPriority reports whether p is in Priorities.
func ValidPriority(p string) bool { return contains(Priorities, p) }

// ValidType reports whether t is in Types.
func ValidType(t string) bool { return contains(Types, t) }

// NormalizePriority upper-cases p and falls back to DefaultPriority.
func NormalizePriority(p string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	if ValidPriority(p) {
		return p
	}
	return DefaultPriority
}

// NormalizeType matches t case-insensitively and falls back to DefaultType.
func NormalizeType(t string) string {
	t = strings.TrimSpace(t)
	for _, v := range Types {
		if strings.EqualFold(v, t) {
			return v
		}
	}
	return DefaultType
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// NormalizeTitle strips leading bullet characters, collapses whitespace and
// lower-cases the result. Two titles are duplicates when their normalized
// forms are equal.
func NormalizeTitle(title string) string {
	t := strings.TrimLeft(strings.TrimSpace(title), "-*• \t")
	return strings.ToLower(strings.Join(strings.Fields(t), " "))
}

// ImportKey derives the per-board dedupe key for a bulk import item. An
// explicit idempotency key wins over the title.
func ImportKey(title, idempotencyKey string) string {
	if k := strings.TrimSpace(idempotencyKey); k != "" {
		return "custom:" + sha256Hex(k)
	}
	return "title:" + sha256Hex(NormalizeTitle(title))
}

// WebhookImportKey derives the dedupe key for tasks created by inbound
// webhooks, so replays of the same event cannot create a second task.
func WebhookImportKey(source, idempotencyKey string) string {
	return "webhook:" + source + ":" + sha256Hex(strings.TrimSpace(idempotencyKey))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// BulkImportItem is one entry of a bulk import.
type BulkImportItem struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Tags            []string   `json:"tags"`
	Priority        string     `json:"priority"`
	Type            string     `json:"type"`
	LaneID          string     `json:"laneId,omitempty"`
	OwnerID         *string    `json:"ownerId,omitempty"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
	EstimateMinutes *int       `json:"estimateMinutes,omitempty"`
	Blocked         bool       `json:"blocked"`
	BlockedReason   string     `json:"blockedReason,omitempty"`
	IdempotencyKey  string     `json:"idempotencyKey,omitempty"`
}

// BulkImportRequest is the body of POST /boards/{id}/import.
type BulkImportRequest struct {
	DefaultLaneID     string           `json:"defaultLaneId"`
	SkipIfTitleExists *bool            `json:"skipIfTitleExists,omitempty"`
	Items             []BulkImportItem `json:"items"`
}

// SkipTitles reports whether items whose normalized title already exists on
// the board are reported as existing. Defaults to true.
func (r *BulkImportRequest) SkipTitles() bool {
	return r.SkipIfTitleExists == nil || *r.SkipIfTitleExists
}

// MaxBulkImportItems caps a single bulk import.
const MaxBulkImportItems = 1000

// Bulk import item outcomes.
const (
	ImportCreated  = "created"
	ImportExisting = "existing"
	ImportError    = "error"
)

// BulkImportResult is the outcome for one item, in request order.
type BulkImportResult struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Key    string `json:"key,omitempty"`
	TaskID string `json:"taskId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BulkImportResponse summarizes a bulk import.
type BulkImportResponse struct {
	Created  int                `json:"createdCount"`
	Existing int                `json:"existingCount"`
	Failed   int                `json:"failedCount"`
	Results  []BulkImportResult `json:"results"`
}
