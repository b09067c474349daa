package tracker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/integration"
	"github.com/Strob0t/LaneSync/internal/port/tracker"
)

const testProvider board.Provider = "test-tracker"

type testClient struct{}

func (testClient) Provider() board.Provider               { return testProvider }
func (testClient) Ping(_ context.Context) (string, error) { return "test", nil }
func (testClient) Search(_ context.Context, _ string, _ int) ([]integration.Issue, error) {
	return nil, nil
}
func (testClient) GetIssue(_ context.Context, _ string) (*integration.Issue, error) { return nil, nil }
func (testClient) CreateIssue(_ context.Context, _ tracker.IssueInput) (*integration.Issue, error) {
	return nil, nil
}
func (testClient) UpdateIssue(_ context.Context, _ string, _ tracker.IssueInput) (*integration.Issue, error) {
	return nil, nil
}
func (testClient) FindByLabel(_ context.Context, _ string) (*integration.Issue, error) {
	return nil, tracker.ErrNotSupported
}

func TestRegisterAndNew(t *testing.T) {
	tracker.Register(testProvider, func(_ tracker.Config) (tracker.Client, error) {
		return testClient{}, nil
	})

	c, err := tracker.New(testProvider, tracker.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if c.Provider() != testProvider {
		t.Fatalf("expected %s, got %s", testProvider, c.Provider())
	}

	found := false
	for _, p := range tracker.Available() {
		if p == testProvider {
			found = true
		}
	}
	if !found {
		t.Fatal("expected test-tracker in available providers")
	}
}

func TestDuplicateRegisterPanics(t *testing.T) {
	tracker.Register("dup-tracker", func(_ tracker.Config) (tracker.Client, error) { return testClient{}, nil })
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	tracker.Register("dup-tracker", func(_ tracker.Config) (tracker.Client, error) { return testClient{}, nil })
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := tracker.New("nonexistent", tracker.Config{}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestAPIErrorIs(t *testing.T) {
	tests := []struct {
		status    int
		reconnect bool
		notFound  bool
		client    bool
	}{
		{401, true, false, true},
		{403, true, false, true},
		{404, false, true, true},
		{400, false, false, true},
		{502, false, false, false},
	}
	for _, tt := range tests {
		err := fmt.Errorf("jira search: %w", &tracker.APIError{Provider: board.ProviderJira, StatusCode: tt.status, Message: "x"})
		if got := errors.Is(err, domain.ErrNeedsReconnect); got != tt.reconnect {
			t.Errorf("status %d: expected reconnect=%v, got %v", tt.status, tt.reconnect, got)
		}
		if got := errors.Is(err, domain.ErrNotFound); got != tt.notFound {
			t.Errorf("status %d: expected notFound=%v, got %v", tt.status, tt.notFound, got)
		}
		if got := tracker.IsClientError(err); got != tt.client {
			t.Errorf("status %d: expected client=%v, got %v", tt.status, tt.client, got)
		}
		if got := tracker.StatusCode(err); got != tt.status {
			t.Errorf("expected status %d, got %d", tt.status, got)
		}
	}
	if tracker.StatusCode(errors.New("dial tcp")) != 0 {
		t.Fatal("expected 0 for transport errors")
	}
}
