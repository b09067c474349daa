package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/LaneSync/internal/config"
	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/integration"
	"github.com/Strob0t/LaneSync/internal/port/tracker"
	"github.com/Strob0t/LaneSync/internal/resilience"
	"github.com/Strob0t/LaneSync/internal/secrets"
)

// mockTracker implements tracker.Client for testing.
type mockTracker struct {
	mu       sync.Mutex
	provider board.Provider
	issues   map[string]integration.Issue
	labeled  map[string]string
	pingErr  error
	getErr   map[string]error
	created  []tracker.IssueInput
	updated  []string
	token    string
}

func newMockTracker(p board.Provider, issues ...integration.Issue) *mockTracker {
	m := &mockTracker{provider: p, issues: map[string]integration.Issue{}, labeled: map[string]string{}, getErr: map[string]error{}}
	for _, is := range issues {
		m.issues[is.ExternalID] = is
	}
	return m
}

func (m *mockTracker) Provider() board.Provider { return m.provider }

func (m *mockTracker) Ping(_ context.Context) (string, error) {
	if m.pingErr != nil {
		return "", m.pingErr
	}
	return "test-instance", nil
}

func (m *mockTracker) Search(_ context.Context, _ string, limit int) ([]integration.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []integration.Issue
	for i := 1; len(out) < len(m.issues) && len(out) < limit; i++ {
		if is, ok := m.issues[fmt.Sprintf("ENG-%d", i)]; ok {
			out = append(out, is)
		}
		if i > 1000 {
			break
		}
	}
	return out, nil
}

func (m *mockTracker) GetIssue(_ context.Context, id string) (*integration.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.getErr[id]; err != nil {
		return nil, err
	}
	is, ok := m.issues[id]
	if !ok {
		return nil, &tracker.APIError{Provider: m.provider, StatusCode: 404, Message: "missing"}
	}
	return &is, nil
}

func (m *mockTracker) CreateIssue(_ context.Context, in tracker.IssueInput) (*integration.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, in)
	is := integration.Issue{ExternalID: fmt.Sprintf("NEW-%d", len(m.created)), Title: in.Title, Status: "To Do", Labels: in.Labels}
	m.issues[is.ExternalID] = is
	for _, l := range in.Labels {
		m.labeled[l] = is.ExternalID
	}
	return &is, nil
}

func (m *mockTracker) UpdateIssue(_ context.Context, id string, in tracker.IssueInput) (*integration.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	is, ok := m.issues[id]
	if !ok {
		return nil, &tracker.APIError{Provider: m.provider, StatusCode: 404, Message: "missing"}
	}
	is.Title, is.Description, is.Labels = in.Title, in.Description, in.Labels
	m.issues[id] = is
	m.updated = append(m.updated, id)
	return &is, nil
}

func (m *mockTracker) FindByLabel(_ context.Context, label string) (*integration.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.provider == board.ProviderOpenProject {
		return nil, tracker.ErrNotSupported
	}
	id, ok := m.labeled[label]
	if !ok {
		return nil, fmt.Errorf("label %s: %w", label, domain.ErrNotFound)
	}
	is := m.issues[id]
	return &is, nil
}

func testKeyring(t *testing.T, active string, previous ...string) *secrets.Keyring {
	t.Helper()
	k, err := secrets.NewKeyring(secrets.Static(active, previous...))
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return k
}

func newConnectionService(t *testing.T, store *mockStore, client *mockTracker) *ConnectionService {
	t.Helper()
	svc := NewConnectionService(store, testKeyring(t, "active-key"), config.Sync{PageSize: 50, HTTPTimeout: time.Second}, nil)
	svc.newClient = func(_ board.Provider, cfg tracker.Config) (tracker.Client, error) {
		client.mu.Lock()
		client.token = cfg.Token
		client.mu.Unlock()
		return client, nil
	}
	return svc
}

func createJiraConnection(t *testing.T, svc *ConnectionService) *integration.Connection {
	t.Helper()
	c, err := svc.Create(context.Background(), board.ProviderJira, integration.CreateConnectionRequest{
		BaseURL: "acme.atlassian.net/",
		Email:   "ops@acme.test",
		Token:   "secret-api-token",
	})
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return c
}

func TestConnectionServiceCreateSealsToken(t *testing.T) {
	store := newMockStore()
	svc := newConnectionService(t, store, newMockTracker(board.ProviderJira))
	c := createJiraConnection(t, svc)

	if c.BaseURL != "https://acme.atlassian.net" {
		t.Fatalf("expected normalized base URL, got %q", c.BaseURL)
	}
	if c.TokenHint != "****oken" {
		t.Fatalf("expected token hint, got %q", c.TokenHint)
	}
	stored := store.conns[c.ID]
	if stored.SealedToken == "" || strings.Contains(stored.SealedToken, "secret-api-token") {
		t.Fatalf("expected sealed token at rest, got %q", stored.SealedToken)
	}
}

func TestConnectionServiceTest(t *testing.T) {
	store := newMockStore()
	client := newMockTracker(board.ProviderJira)
	svc := newConnectionService(t, store, client)
	c := createJiraConnection(t, svc)
	ctx := context.Background()

	res, err := svc.Test(ctx, board.ProviderJira, c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK || res.Instance != "test-instance" {
		t.Fatalf("expected ok result, got %+v", res)
	}
	if client.token != "secret-api-token" {
		t.Fatalf("expected decrypted token passed to client, got %q", client.token)
	}

	// a transport failure is transient and leaves the flag alone
	client.pingErr = errors.New("dial tcp: timeout")
	res, _ = svc.Test(ctx, board.ProviderJira, c.ID)
	if res.OK || res.NeedsReconnect || store.conns[c.ID].NeedsReconnect {
		t.Fatalf("expected transient failure, got %+v", res)
	}

	client.pingErr = &tracker.APIError{Provider: board.ProviderJira, StatusCode: 401, Message: "unauthorized"}
	res, _ = svc.Test(ctx, board.ProviderJira, c.ID)
	if !res.NeedsReconnect || !store.conns[c.ID].NeedsReconnect {
		t.Fatalf("expected needsReconnect after 401, got %+v", res)
	}

	client.pingErr = nil
	res, _ = svc.Test(ctx, board.ProviderJira, c.ID)
	if !res.OK || store.conns[c.ID].NeedsReconnect {
		t.Fatalf("expected passing test to clear the flag, got %+v", res)
	}
}

func TestConnectionServiceWrongProvider(t *testing.T) {
	store := newMockStore()
	svc := newConnectionService(t, store, newMockTracker(board.ProviderJira))
	c := createJiraConnection(t, svc)

	if _, err := svc.Test(context.Background(), board.ProviderOpenProject, c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for provider mismatch, got %v", err)
	}
}

func TestConnectionServiceUndecryptableCredential(t *testing.T) {
	store := newMockStore()
	client := newMockTracker(board.ProviderJira)
	svc := newConnectionService(t, store, client)
	c := createJiraConnection(t, svc)
	ctx := context.Background()

	// the key was rotated without keeping the old one
	svc.keyring = testKeyring(t, "brand-new-key")
	_, _, err := svc.ClientFor(ctx, c.ID)
	if !errors.Is(err, domain.ErrNeedsReconnect) {
		t.Fatalf("expected ErrNeedsReconnect, got %v", err)
	}
	stored := store.conns[c.ID]
	if !stored.NeedsReconnect || stored.ReconnectReason != "credential cannot be decrypted" {
		t.Fatalf("expected connection flagged, got %+v", stored)
	}

	// refused until the credential is re-saved and tested
	if _, _, err := svc.ClientFor(ctx, c.ID); !errors.Is(err, domain.ErrNeedsReconnect) {
		t.Fatalf("expected refusal while flagged, got %v", err)
	}
	res, err := svc.UpdateCredential(ctx, board.ProviderJira, c.ID, "replacement-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK || store.conns[c.ID].NeedsReconnect {
		t.Fatalf("expected re-saved credential to clear the flag, got %+v", res)
	}
	if _, _, err := svc.ClientFor(ctx, c.ID); err != nil {
		t.Fatalf("expected client after reconnect, got %v", err)
	}
}

func TestConnectionServiceResealsWithActiveKey(t *testing.T) {
	store := newMockStore()
	svc := newConnectionService(t, store, newMockTracker(board.ProviderJira))
	c := createJiraConnection(t, svc)
	before := store.conns[c.ID].SealedToken

	svc.keyring = testKeyring(t, "next-key", "active-key")
	if _, _, err := svc.ClientFor(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := store.conns[c.ID].SealedToken
	if after == before {
		t.Fatal("expected credential resealed under the active key")
	}
	if _, stale, err := svc.keyring.Open(after); err != nil || stale {
		t.Fatalf("expected fresh seal, got stale=%v err=%v", stale, err)
	}
}

func TestGuardedClientOpensBreaker(t *testing.T) {
	store := newMockStore()
	client := newMockTracker(board.ProviderJira)
	svc := newConnectionService(t, store, client)
	svc.breakers = resilience.NewSet(2, time.Minute, tracker.IsClientError)
	c := createJiraConnection(t, svc)
	ctx := context.Background()

	_, guarded, err := svc.ClientFor(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 404s prove the tracker is up and never trip the breaker
	for range 3 {
		if _, err := guarded.GetIssue(ctx, "ENG-404"); errors.Is(err, resilience.ErrCircuitOpen) {
			t.Fatal("expected client errors to be ignored by the breaker")
		}
	}

	client.pingErr = errors.New("connection refused")
	_, _ = guarded.Ping(ctx)
	_, _ = guarded.Ping(ctx)
	if _, err := guarded.Ping(ctx); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}
