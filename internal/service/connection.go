package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/Strob0t/LaneSync/internal/config"
	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/integration"
	"github.com/Strob0t/LaneSync/internal/port/database"
	"github.com/Strob0t/LaneSync/internal/port/tracker"
	"github.com/Strob0t/LaneSync/internal/resilience"
	"github.com/Strob0t/LaneSync/internal/secrets"
)

// reasonUndecryptable is stored on connections whose credential no longer
// opens with any configured key.
const reasonUndecryptable = "credential cannot be decrypted"

// ConnectionService manages tracker connections and builds authenticated
// clients for them.
type ConnectionService struct {
	store     database.SyncStore
	keyring   *secrets.Keyring
	cfg       config.Sync
	breakers  *resilience.Set
	newClient func(board.Provider, tracker.Config) (tracker.Client, error)
}

// NewConnectionService creates a new ConnectionService. breakers may be nil.
func NewConnectionService(store database.SyncStore, keyring *secrets.Keyring, cfg config.Sync, breakers *resilience.Set) *ConnectionService {
	return &ConnectionService{
		store:     store,
		keyring:   keyring,
		cfg:       cfg,
		breakers:  breakers,
		newClient: tracker.New,
	}
}

// Create seals the credential and stores a new connection.
func (s *ConnectionService) Create(ctx context.Context, p board.Provider, req integration.CreateConnectionRequest) (*integration.Connection, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sealed, err := s.keyring.Seal(req.Token)
	if err != nil {
		return nil, fmt.Errorf("seal credential: %w", err)
	}
	c := &integration.Connection{
		Provider:        p,
		Name:            req.Name,
		BaseURL:         req.BaseURL,
		Email:           req.Email,
		SealedToken:     sealed,
		TokenHint:       integration.TokenHint(req.Token),
		DefaultAssignee: req.DefaultAssignee,
		ProjectRef:      req.ProjectRef,
	}
	if err := s.store.CreateConnection(ctx, c); err != nil {
		return nil, err
	}
	slog.Info("connection created", "connection_id", c.ID, "provider", p, "base_url", c.BaseURL)
	return c, nil
}

// List returns the connections of a provider.
func (s *ConnectionService) List(ctx context.Context, p board.Provider) ([]integration.Connection, error) {
	return s.store.ListConnections(ctx, p)
}

// Get returns a connection of the given provider.
func (s *ConnectionService) Get(ctx context.Context, p board.Provider, id string) (*integration.Connection, error) {
	c, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if p != "" && c.Provider != p {
		return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// Delete removes a connection. Task links pointing at it stay in place.
func (s *ConnectionService) Delete(ctx context.Context, p board.Provider, id string) error {
	if _, err := s.Get(ctx, p, id); err != nil {
		return err
	}
	return s.store.DeleteConnection(ctx, id)
}

// UpdateCredential replaces the stored token and clears the reconnect flag
// once the new token passes a test.
func (s *ConnectionService) UpdateCredential(ctx context.Context, p board.Provider, id, token string) (*integration.TestResult, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", domain.ErrValidation)
	}
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	sealed, err := s.keyring.Seal(token)
	if err != nil {
		return nil, fmt.Errorf("seal credential: %w", err)
	}
	if err := s.store.UpdateConnectionCredential(ctx, id, sealed, integration.TokenHint(token)); err != nil {
		return nil, err
	}
	return s.Test(ctx, p, id)
}

// Test pings the tracker. A rejected credential marks the connection as
// needing reconnect; transport failures leave the flag untouched.
func (s *ConnectionService) Test(ctx context.Context, p board.Provider, id string) (*integration.TestResult, error) {
	c, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	client, err := s.client(ctx, c)
	if err != nil {
		if errors.Is(err, domain.ErrNeedsReconnect) {
			return &integration.TestResult{NeedsReconnect: true, Message: err.Error()}, nil
		}
		return nil, err
	}

	instance, err := client.Ping(ctx)
	switch {
	case err == nil:
		if err := s.store.SetConnectionStatus(ctx, id, false, ""); err != nil {
			return nil, err
		}
		return &integration.TestResult{OK: true, Instance: instance}, nil
	case errors.Is(err, domain.ErrNeedsReconnect):
		if serr := s.store.SetConnectionStatus(ctx, id, true, err.Error()); serr != nil {
			return nil, serr
		}
		slog.Warn("connection rejected credential", "connection_id", id, "error", err)
		return &integration.TestResult{NeedsReconnect: true, Message: err.Error()}, nil
	default:
		return &integration.TestResult{Message: err.Error()}, nil
	}
}

// MarkReconnect flags a connection whose credential the tracker rejected.
func (s *ConnectionService) MarkReconnect(ctx context.Context, id, reason string) {
	if err := s.store.SetConnectionStatus(context.WithoutCancel(ctx), id, true, reason); err != nil {
		slog.ErrorContext(ctx, "flag connection for reconnect", "connection_id", id, "error", err)
		return
	}
	slog.WarnContext(ctx, "connection needs reconnect", "connection_id", id, "reason", reason)
}

// ClientFor returns a client for a connection that is not flagged for
// reconnect.
func (s *ConnectionService) ClientFor(ctx context.Context, id string) (*integration.Connection, tracker.Client, error) {
	c, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if c.NeedsReconnect {
		return nil, nil, fmt.Errorf("connection %s: %s: %w", id, c.ReconnectReason, domain.ErrNeedsReconnect)
	}
	client, err := s.client(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return c, client, nil
}

// client opens the credential and builds a guarded client. Credentials
// sealed under a previous key are resealed with the active key.
func (s *ConnectionService) client(ctx context.Context, c *integration.Connection) (tracker.Client, error) {
	token, stale, err := s.keyring.Open(c.SealedToken)
	if err != nil {
		if errors.Is(err, secrets.ErrUndecryptable) {
			s.MarkReconnect(ctx, c.ID, reasonUndecryptable)
			c.NeedsReconnect, c.ReconnectReason = true, reasonUndecryptable
			return nil, fmt.Errorf("connection %s: %s: %w", c.ID, reasonUndecryptable, domain.ErrNeedsReconnect)
		}
		return nil, err
	}
	if stale {
		s.reseal(ctx, c, token)
	}

	client, err := s.newClient(c.Provider, tracker.Config{
		BaseURL:   c.BaseURL,
		Email:     c.Email,
		Token:     token,
		UserAgent: s.cfg.UserAgent,
		Timeout:   s.cfg.HTTPTimeout,
		PageSize:  s.cfg.PageSize,
	})
	if err != nil {
		return nil, err
	}
	if s.breakers == nil {
		return client, nil
	}
	return &guardedClient{Client: client, breaker: s.breakers.For(breakerKey(c.BaseURL))}, nil
}

func (s *ConnectionService) reseal(ctx context.Context, c *integration.Connection, token string) {
	sealed, err := s.keyring.Seal(token)
	if err != nil {
		slog.Warn("reseal credential failed", "connection_id", c.ID, "error", err)
		return
	}
	if err := s.store.UpdateConnectionCredential(ctx, c.ID, sealed, c.TokenHint); err != nil {
		slog.Warn("store resealed credential failed", "connection_id", c.ID, "error", err)
		return
	}
	c.SealedToken = sealed
	slog.Info("credential resealed with active key", "connection_id", c.ID)
}

// breakerKey groups connections by tracker host.
func breakerKey(baseURL string) string {
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return baseURL
}

// guardedClient routes every tracker call through a circuit breaker shared
// by all connections to the same host.
type guardedClient struct {
	tracker.Client
	breaker *resilience.Breaker
}

func (g *guardedClient) Ping(ctx context.Context) (string, error) {
	var out string
	err := g.breaker.Execute(func() error {
		var err error
		out, err = g.Client.Ping(ctx)
		return err
	})
	return out, err
}

func (g *guardedClient) Search(ctx context.Context, query string, limit int) ([]integration.Issue, error) {
	var out []integration.Issue
	err := g.breaker.Execute(func() error {
		var err error
		out, err = g.Client.Search(ctx, query, limit)
		return err
	})
	return out, err
}

func (g *guardedClient) GetIssue(ctx context.Context, externalID string) (*integration.Issue, error) {
	return g.issue(func() (*integration.Issue, error) { return g.Client.GetIssue(ctx, externalID) })
}

func (g *guardedClient) CreateIssue(ctx context.Context, in tracker.IssueInput) (*integration.Issue, error) {
	return g.issue(func() (*integration.Issue, error) { return g.Client.CreateIssue(ctx, in) })
}

func (g *guardedClient) UpdateIssue(ctx context.Context, externalID string, in tracker.IssueInput) (*integration.Issue, error) {
	return g.issue(func() (*integration.Issue, error) { return g.Client.UpdateIssue(ctx, externalID, in) })
}

func (g *guardedClient) FindByLabel(ctx context.Context, label string) (*integration.Issue, error) {
	return g.issue(func() (*integration.Issue, error) { return g.Client.FindByLabel(ctx, label) })
}

func (g *guardedClient) issue(fn func() (*integration.Issue, error)) (*integration.Issue, error) {
	var out *integration.Issue
	err := g.breaker.Execute(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}
