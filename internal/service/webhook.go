package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Strob0t/LaneSync/internal/adapter/otel"
	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/webhook"
	"github.com/Strob0t/LaneSync/internal/port/database"
	"github.com/Strob0t/LaneSync/internal/port/eventbus"
)

// minBearerTokenLen is the shortest operator supplied token accepted.
const minBearerTokenLen = 16

// moveAttempts bounds how often a webhook move re-reads a task that a
// concurrent write changed.
const moveAttempts = 3

// WebhookService authenticates inbound automation requests, records every
// delivery in the inbox and applies its action to the board.
type WebhookService struct {
	store   database.WebhookStore
	tasks   database.BoardStore
	boards  *BoardService
	bus     eventbus.Bus
	metrics *otel.Metrics
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(store database.WebhookStore, tasks database.BoardStore, boards *BoardService, bus eventbus.Bus, metrics *otel.Metrics) *WebhookService {
	return &WebhookService{store: store, tasks: tasks, boards: boards, bus: bus, metrics: metrics}
}

// Receive handles one inbound delivery. Authentication failures are returned
// before anything is stored. Processing failures are recorded on the event
// and reported in the result, not as an error. A repeat of an already
// successful idempotency key returns the stored result without processing.
func (s *WebhookService) Receive(ctx context.Context, source, authorization string, headers http.Header, body []byte) (*webhook.InboundResult, error) {
	if err := s.authenticate(ctx, source, authorization); err != nil {
		s.metrics.Webhook(ctx, source, "unauthorized")
		return nil, err
	}
	if !isJSONObject(body) {
		return nil, fmt.Errorf("%w: JSON object body required", domain.ErrValidation)
	}

	ev, existing, err := s.store.CreateWebhookEvent(ctx, webhook.NewEvent{
		Source:         source,
		Headers:        webhook.SafeHeaders(headers),
		Payload:        body,
		IdempotencyKey: webhook.IdempotencyKey(headers.Get("Idempotency-Key"), body),
	})
	if err != nil {
		return nil, err
	}
	if existing && ev.Succeeded() {
		s.metrics.Webhook(ctx, source, "replay")
		slog.InfoContext(ctx, "webhook idempotent replay", "source", source, "event_id", ev.ID)
		return &webhook.InboundResult{EventID: ev.ID, IdempotentReplay: true, Result: ev.Result}, nil
	}
	return s.handle(ctx, ev)
}

// Replay processes a stored event again. Only events that carried an
// idempotency key can be replayed without duplicating side effects.
func (s *WebhookService) Replay(ctx context.Context, id string) (*webhook.InboundResult, error) {
	ev, err := s.store.GetWebhookEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.IdempotencyKey == "" {
		return nil, fmt.Errorf("event %s: %w", id, domain.ErrReplayUnsafe)
	}
	slog.InfoContext(ctx, "webhook replay", "source", ev.Source, "event_id", ev.ID, "attempts", ev.Attempts)
	return s.handle(ctx, ev)
}

func (s *WebhookService) authenticate(ctx context.Context, source, authorization string) error {
	if err := webhook.ValidateSource(source); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWebhookAuth, err)
	}
	token, ok := webhook.ParseBearer(authorization)
	if !ok {
		return fmt.Errorf("%w: bearer token required", domain.ErrWebhookAuth)
	}
	secret, err := s.store.GetWebhookSecret(ctx, source)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown source", domain.ErrWebhookAuth)
		}
		return err
	}
	if !secret.Verify(token) {
		return fmt.Errorf("%w: invalid token", domain.ErrWebhookAuth)
	}
	return nil
}

// handle processes ev and writes its outcome back exactly once.
func (s *WebhookService) handle(ctx context.Context, ev *webhook.Event) (*webhook.InboundResult, error) {
	ctx, span := otel.StartWebhookSpan(ctx, ev.Source, ev.ID)
	res, perr := s.process(ctx, ev)
	otel.EndSpan(span, perr)

	var out webhook.Outcome
	if perr != nil {
		out.Error = perr.Error()
		slog.WarnContext(ctx, "webhook processing failed", "source", ev.Source, "event_id", ev.ID, "error", perr)
	} else {
		data, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("marshal webhook result: %w", err)
		}
		out.Result = data
	}

	stored, err := s.store.FinishWebhookEvent(context.WithoutCancel(ctx), ev.ID, out)
	if err != nil {
		return nil, err
	}

	outcome := "ok"
	if perr != nil {
		outcome = "error"
	}
	s.metrics.Webhook(ctx, ev.Source, outcome)
	publish(ctx, s.bus, eventbus.WebhookSubject(ev.Source), eventbus.WebhookProcessedPayload{
		EventID: stored.ID,
		Source:  stored.Source,
		OK:      perr == nil,
		Error:   stored.Error,
	})
	return &webhook.InboundResult{EventID: stored.ID, Result: stored.Result, Error: stored.Error}, nil
}

func (s *WebhookService) process(ctx context.Context, ev *webhook.Event) (*webhook.ActionResult, error) {
	p, err := webhook.ParsePayload(ev.Payload)
	if err != nil {
		return nil, err
	}
	switch p.Action {
	case webhook.ActionCreateTask:
		return s.createTask(ctx, ev, p)
	case webhook.ActionMoveTask:
		return s.moveTask(ctx, p)
	default:
		return s.commentTask(ctx, ev, p)
	}
}

func (s *WebhookService) createTask(ctx context.Context, ev *webhook.Event, p *webhook.Payload) (*webhook.ActionResult, error) {
	var (
		b   *board.Board
		err error
	)
	if p.BoardID != "" {
		b, err = s.tasks.GetBoard(ctx, p.BoardID)
	} else {
		b, err = s.tasks.FindBoardByName(ctx, p.BoardName)
	}
	if err != nil {
		return nil, err
	}
	lanes, err := s.tasks.ListLanes(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if len(lanes) == 0 {
		return nil, fmt.Errorf("%w: board %s has no lanes", domain.ErrValidation, b.Name)
	}
	laneID := defaultLaneID(lanes)
	if p.LaneName != "" {
		lane, ok := findLane(lanes, p.LaneName)
		if !ok {
			return nil, fmt.Errorf("%w: unknown lane %q", domain.ErrValidation, p.LaneName)
		}
		laneID = lane.ID
	}

	req := board.CreateTaskRequest{
		LaneID:          laneID,
		Title:           p.Title,
		Description:     p.Description,
		Tags:            p.Tags,
		Priority:        p.Priority,
		Type:            p.Type,
		DueDate:         p.ParsedDueDate(),
		EstimateMinutes: p.Estimate,
		Blocked:         p.Blocked,
		BlockedReason:   p.BlockedReason,
	}
	if ev.IdempotencyKey != "" {
		req.ImportKey = board.WebhookImportKey(ev.Source, ev.IdempotencyKey)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	t, created, err := s.tasks.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}
	if created {
		s.boards.taskChanged(ctx, t, "webhook")
	}
	return &webhook.ActionResult{TaskID: t.ID, BoardID: t.BoardID, LaneID: t.LaneID, Idempotent: !created}, nil
}

func (s *WebhookService) moveTask(ctx context.Context, p *webhook.Payload) (*webhook.ActionResult, error) {
	t, err := s.tasks.GetTask(ctx, p.TaskID)
	if err != nil {
		return nil, err
	}
	lanes, err := s.tasks.ListLanes(ctx, t.BoardID)
	if err != nil {
		return nil, err
	}
	lane, ok := findLane(lanes, p.LaneName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown lane %q", domain.ErrValidation, p.LaneName)
	}
	if t.LaneID == lane.ID {
		return &webhook.ActionResult{TaskID: t.ID, BoardID: t.BoardID, LaneID: t.LaneID, Idempotent: true}, nil
	}
	moved, err := s.boards.moveToEnd(ctx, t, lane.ID, moveAttempts)
	if err != nil {
		return nil, err
	}
	return &webhook.ActionResult{TaskID: moved.ID, BoardID: moved.BoardID, LaneID: moved.LaneID}, nil
}

func (s *WebhookService) commentTask(ctx context.Context, ev *webhook.Event, p *webhook.Payload) (*webhook.ActionResult, error) {
	var (
		t   *board.Task
		err error
	)
	if p.TaskID != "" {
		t, err = s.tasks.GetTask(ctx, p.TaskID)
	} else {
		t, err = s.tasks.FindTaskByJiraKey(ctx, p.JiraKey)
	}
	if err != nil {
		return nil, err
	}
	stored, created, err := s.tasks.AddComment(ctx, &board.Comment{
		TaskID:       t.ID,
		Body:         p.Body,
		Source:       "webhook:" + ev.Source,
		SourceID:     p.CommentSourceID(ev.ID),
		SourceAuthor: p.CommentAuthor(),
	})
	if err != nil {
		return nil, err
	}
	return &webhook.ActionResult{TaskID: t.ID, BoardID: t.BoardID, CommentID: stored.ID, Idempotent: !created}, nil
}

// --- Secrets and events ---

// ListSecrets returns every configured source without tokens.
func (s *WebhookService) ListSecrets(ctx context.Context) ([]webhook.Secret, error) {
	return s.store.ListWebhookSecrets(ctx)
}

// UpsertSecret creates or updates a source. A token is generated for a new
// source unless one is supplied; the token is only returned here.
func (s *WebhookService) UpsertSecret(ctx context.Context, source string, req webhook.UpsertSecretRequest) (*webhook.Reveal, error) {
	if err := webhook.ValidateSource(source); err != nil {
		return nil, err
	}
	secret, err := s.store.GetWebhookSecret(ctx, source)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		secret = &webhook.Secret{Source: source, Enabled: true}
	case err != nil:
		return nil, err
	}

	token := req.BearerToken
	if token != "" && len(token) < minBearerTokenLen {
		return nil, fmt.Errorf("%w: bearerToken must be at least %d characters", domain.ErrValidation, minBearerTokenLen)
	}
	if token == "" && secret.TokenHash == "" {
		if token, err = webhook.NewToken(); err != nil {
			return nil, err
		}
	}
	if token != "" {
		secret.TokenHash = webhook.HashToken(token)
		secret.TokenHint = webhook.TokenHint(token)
	}
	if req.Enabled != nil {
		secret.Enabled = *req.Enabled
	}
	if err := s.store.UpsertWebhookSecret(ctx, secret); err != nil {
		return nil, err
	}
	slog.Info("webhook secret saved", "source", source, "enabled", secret.Enabled, "token_changed", token != "")
	return &webhook.Reveal{Secret: *secret, BearerToken: token}, nil
}

// RotateSecret replaces the token of an existing source. The previous token
// stops working immediately.
func (s *WebhookService) RotateSecret(ctx context.Context, source string) (*webhook.Reveal, error) {
	secret, err := s.store.GetWebhookSecret(ctx, source)
	if err != nil {
		return nil, err
	}
	token, err := webhook.NewToken()
	if err != nil {
		return nil, err
	}
	secret.TokenHash = webhook.HashToken(token)
	secret.TokenHint = webhook.TokenHint(token)
	if err := s.store.UpsertWebhookSecret(ctx, secret); err != nil {
		return nil, err
	}
	slog.Info("webhook secret rotated", "source", source)
	return &webhook.Reveal{Secret: *secret, BearerToken: token}, nil
}

// DisableSecret rejects every future request of a source.
func (s *WebhookService) DisableSecret(ctx context.Context, source string) error {
	return s.store.DisableWebhookSecret(ctx, source)
}

// ListEvents returns recorded deliveries, newest first.
func (s *WebhookService) ListEvents(ctx context.Context, f webhook.ListFilter) ([]webhook.Event, error) {
	return s.store.ListWebhookEvents(ctx, f)
}

// GetEvent returns one recorded delivery.
func (s *WebhookService) GetEvent(ctx context.Context, id string) (*webhook.Event, error) {
	return s.store.GetWebhookEvent(ctx, id)
}

func isJSONObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
