package webhook

import (
	"errors"
	"net/http"
	"testing"

	"github.com/Strob0t/LaneSync/internal/domain"
)

func TestSecretVerify(t *testing.T) {
	s := &Secret{Source: "shortcuts", TokenHash: HashToken("old-token"), Enabled: true}
	if !s.Verify("old-token") {
		t.Fatal("expected current token to verify")
	}
	if s.Verify("other") {
		t.Fatal("expected wrong token to fail")
	}

	// rotation replaces the hash; the prior token must stop working at once
	s.TokenHash = HashToken("new-token")
	if s.Verify("old-token") {
		t.Fatal("expected rotated token to be rejected")
	}
	if !s.Verify("new-token") {
		t.Fatal("expected new token to verify")
	}

	s.Enabled = false
	if s.Verify("new-token") {
		t.Fatal("expected disabled secret to reject every token")
	}
	var missing *Secret
	if missing.Verify("new-token") {
		t.Fatal("expected nil secret to reject")
	}
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseBearer(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseBearer(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNewTokenIsRandom(t *testing.T) {
	a, err := NewToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := NewToken()
	if a == b || len(a) < 40 {
		t.Fatalf("expected distinct long tokens, got %q and %q", a, b)
	}
}

func TestSafeHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer x")
	h.Set("Cookie", "a=b")
	h.Set("Content-Type", "application/json")
	got := SafeHeaders(h)
	if _, ok := got["Authorization"]; ok {
		t.Fatal("expected Authorization to be dropped")
	}
	if _, ok := got["Cookie"]; ok {
		t.Fatal("expected Cookie to be dropped")
	}
	if got["Content-Type"] != "application/json" {
		t.Fatalf("expected Content-Type kept, got %v", got)
	}
}

func TestValidateSource(t *testing.T) {
	for _, s := range []string{"shortcuts", "zapier_1", "make-com"} {
		if err := ValidateSource(s); err != nil {
			t.Errorf("ValidateSource(%q): unexpected error %v", s, err)
		}
	}
	for _, s := range []string{"", "a b", "x/y"} {
		if err := ValidateSource(s); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("ValidateSource(%q): expected ErrValidation, got %v", s, err)
		}
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"create ok", `{"action":"create_task","title":"Call vendor","boardName":"Ops"}`, false},
		{"create missing board", `{"action":"create_task","title":"x"}`, true},
		{"create missing title", `{"action":"create_task","boardName":"Ops"}`, true},
		{"move ok", `{"action":"move_task","taskId":"t1","laneName":"Done"}`, false},
		{"move missing lane", `{"action":"move_task","taskId":"t1"}`, true},
		{"comment by jira key", `{"action":"comment_task","jiraKey":"ENG-1","body":"hi"}`, false},
		{"comment missing target", `{"action":"comment_task","body":"hi"}`, true},
		{"unknown action", `{"action":"delete_board"}`, true},
		{"array body", `[1,2]`, true},
		{"broken json", `{"action":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tt.body))
			if tt.wantErr && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	body := []byte(`{"idempotencyKey":"body-key"}`)
	if got := IdempotencyKey("hdr-key", body); got != "hdr-key" {
		t.Fatalf("expected header to win, got %q", got)
	}
	if got := IdempotencyKey("", body); got != "body-key" {
		t.Fatalf("expected body key, got %q", got)
	}
	if got := IdempotencyKey("", []byte(`{"idempotencyKey":"  spaced  "}`)); got != "spaced" {
		t.Fatalf("expected trimmed key, got %q", got)
	}
	if got := IdempotencyKey("", []byte(`{}`)); got != "" {
		t.Fatalf("expected empty key, got %q", got)
	}
}

func TestNonStringIdempotencyKeyRejected(t *testing.T) {
	for _, body := range []string{
		`{"action":"create_task","title":"a","boardId":"b1","idempotencyKey":42}`,
		`{"action":"create_task","title":"a","boardId":"b1","idempotencyKey":{"k":1}}`,
		`{"action":"create_task","title":"a","boardId":"b1","idempotencyKey":true}`,
	} {
		if got := IdempotencyKey("", []byte(body)); got != "" {
			t.Fatalf("expected no key for %s, got %q", body, got)
		}
		if _, err := ParsePayload([]byte(body)); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation for %s, got %v", body, err)
		}
	}
	body := []byte(`{"action":"create_task","title":"a","boardId":"b1","idempotencyKey":"k1"}`)
	p, err := ParsePayload(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := IdempotencyKey("", body); got != p.IdempotencyKey {
		t.Fatalf("expected key %q to match payload, got %q", p.IdempotencyKey, got)
	}
}

func TestCommentSourceID(t *testing.T) {
	p := &Payload{ID: "generic", IdempotencyKey: "idem"}
	if got := p.CommentSourceID("ev1"); got != "generic" {
		t.Fatalf("expected generic, got %q", got)
	}
	p.CommentID = "c-9"
	if got := p.CommentSourceID("ev1"); got != "c-9" {
		t.Fatalf("expected c-9, got %q", got)
	}
	if got := (&Payload{}).CommentSourceID("ev1"); got != "ev1" {
		t.Fatalf("expected event id fallback, got %q", got)
	}
}

func TestParsedDueDate(t *testing.T) {
	if d := (&Payload{DueDate: "2026-03-01"}).ParsedDueDate(); d == nil || d.Day() != 1 {
		t.Fatalf("expected plain date to parse, got %v", d)
	}
	if d := (&Payload{DueDate: "2026-03-01T10:00:00Z"}).ParsedDueDate(); d == nil || d.Hour() != 10 {
		t.Fatalf("expected timestamp to parse, got %v", d)
	}
	if d := (&Payload{DueDate: "next week"}).ParsedDueDate(); d != nil {
		t.Fatalf("expected nil for garbage, got %v", d)
	}
}

func TestTokenHint(t *testing.T) {
	if got := TokenHint("abcdefghijkl"); got != "****ijkl" {
		t.Fatalf("expected ****ijkl, got %q", got)
	}
}
