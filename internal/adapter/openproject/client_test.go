package openproject

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/port/tracker"
)

// Compile-time interface check.
var _ tracker.Client = (*Client)(nil)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(tracker.Config{BaseURL: srv.URL, Token: "op-key", PageSize: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func wpJSON(id, lock int, status string) map[string]any {
	return map[string]any{
		"id":          id,
		"subject":     fmt.Sprintf("WP %d", id),
		"description": map[string]any{"format": "markdown", "raw": "details"},
		"lockVersion": lock,
		"dueDate":     "2026-04-02",
		"updatedAt":   "2026-02-10T09:30:00Z",
		"_links": map[string]any{
			"status":   map[string]any{"href": "/api/v3/statuses/1", "title": status},
			"priority": map[string]any{"href": "/api/v3/priorities/8", "title": "High"},
			"type":     map[string]any{"href": "/api/v3/types/1", "title": "Task"},
		},
	}
}

func TestPingUsesAPIKeyAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "apikey" || pass != "op-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"_type":"Error","errorIdentifier":"urn:openproject-org:api:v3:errors:Unauthenticated","message":"You need to be authenticated."}`))
			return
		}
		_, _ = w.Write([]byte(`{"instanceName":"Acme","coreVersion":"14.1.0"}`))
	}))
	defer srv.Close()

	got, err := newTestClient(t, srv).Ping(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Acme 14.1.0" {
		t.Fatalf("expected instance label, got %q", got)
	}

	bad, _ := New(tracker.Config{BaseURL: srv.URL, Token: "wrong"})
	_, err = bad.Ping(context.Background())
	if !errors.Is(err, domain.ErrNeedsReconnect) {
		t.Fatalf("expected ErrNeedsReconnect, got %v", err)
	}
}

func TestSearchPagesByOffset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filters") == "" {
			t.Errorf("expected filters to be forwarded")
		}
		var elems []any
		switch r.URL.Query().Get("offset") {
		case "1":
			elems = []any{wpJSON(1, 1, "New"), wpJSON(2, 1, "New")}
		case "2":
			elems = []any{wpJSON(3, 4, "Closed")}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"total": 3, "count": len(elems), "_embedded": map[string]any{"elements": elems}})
	}))
	defer srv.Close()

	issues, err := newTestClient(t, srv).Search(context.Background(), `[{"status":{"operator":"*","values":[]}}]`, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issues) != 3 {
		t.Fatalf("expected 3 issues, got %d", len(issues))
	}
	last := issues[2]
	if last.ExternalID != "3" || last.Status != "Closed" || last.LockVersion != 4 {
		t.Fatalf("unexpected issue %+v", last)
	}
	if last.URL != srv.URL+"/work_packages/3" {
		t.Fatalf("expected work package URL, got %q", last.URL)
	}
	if last.Description != "details" || last.Priority != "High" || last.Type != "Task" {
		t.Fatalf("expected fields from links, got %+v", last)
	}
}

func TestUpdateSendsLockVersion(t *testing.T) {
	var mu sync.Mutex
	var patch map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(wpJSON(7, 3, "New"))
		case http.MethodPatch:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			patch = body
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(wpJSON(7, 4, "New"))
		}
	}))
	defer srv.Close()

	issue, err := newTestClient(t, srv).UpdateIssue(context.Background(), "7", tracker.IssueInput{Title: "  ", Description: "new body"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issue.LockVersion != 4 {
		t.Fatalf("expected lockVersion 4, got %d", issue.LockVersion)
	}
	mu.Lock()
	defer mu.Unlock()
	if patch["lockVersion"] != float64(3) {
		t.Fatalf("expected lockVersion 3 sent, got %v", patch["lockVersion"])
	}
	if patch["subject"] != defaultSubject {
		t.Fatalf("expected default subject for blank title, got %v", patch["subject"])
	}
}

func TestUpdateConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"_type":"Error","message":"Could not update the resource because of conflicting modifications."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(wpJSON(7, 3, "New"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).UpdateIssue(context.Background(), "7", tracker.IssueInput{Title: "x"})
	if tracker.StatusCode(err) != http.StatusConflict {
		t.Fatalf("expected 409 api error, got %v", err)
	}
}

func TestCreateLinksProject(t *testing.T) {
	var mu sync.Mutex
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b map[string]any
		_ = json.NewDecoder(r.Body).Decode(&b)
		mu.Lock()
		body = b
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(wpJSON(11, 1, "New"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.CreateIssue(context.Background(), tracker.IssueInput{Title: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation without project, got %v", err)
	}
	issue, err := c.CreateIssue(context.Background(), tracker.IssueInput{ProjectRef: "ops", Title: "Rotate keys"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issue.ExternalID != "11" {
		t.Fatalf("expected id 11, got %q", issue.ExternalID)
	}
	mu.Lock()
	defer mu.Unlock()
	project := body["_links"].(map[string]any)["project"].(map[string]any)
	if project["href"] != "/api/v3/projects/ops" {
		t.Fatalf("expected project link, got %v", project)
	}
	if _, ok := body["description"]; ok {
		t.Fatal("expected empty description omitted")
	}
}

func TestFindByLabelNotSupported(t *testing.T) {
	c, _ := New(tracker.Config{BaseURL: "op.example.com", Token: "k"})
	if _, err := c.FindByLabel(context.Background(), "x"); !errors.Is(err, tracker.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestGetRejectsBadID(t *testing.T) {
	c, _ := New(tracker.Config{BaseURL: "op.example.com", Token: "k"})
	if _, err := c.GetIssue(context.Background(), "ENG-1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
