package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/webhook"
	"github.com/Strob0t/LaneSync/internal/port/eventbus"
)

type webhookFixture struct {
	store *mockStore
	bus   *mockBus
	svc   *WebhookService
	board *board.Board
	lanes []board.Lane
	token string
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	store := newMockStore()
	b, lanes := seedBoard(store)
	bus := &mockBus{}
	boards := NewBoardService(store, bus, nil, nil)
	svc := NewWebhookService(store, store, boards, bus, nil)
	reveal, err := svc.UpsertSecret(context.Background(), "shortcuts", webhook.UpsertSecretRequest{})
	if err != nil {
		t.Fatalf("create secret: %v", err)
	}
	return &webhookFixture{store: store, bus: bus, svc: svc, board: b, lanes: lanes, token: reveal.BearerToken}
}

func (f *webhookFixture) receive(t *testing.T, token, key, body string) (*webhook.InboundResult, error) {
	t.Helper()
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+token)
	if key != "" {
		h.Set("Idempotency-Key", key)
	}
	return f.svc.Receive(context.Background(), "shortcuts", "Bearer "+token, h, []byte(body))
}

func decodeResult(t *testing.T, res *webhook.InboundResult) webhook.ActionResult {
	t.Helper()
	var out webhook.ActionResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode result %s: %v", res.Result, err)
	}
	return out
}

func TestWebhookServiceCreateTask(t *testing.T) {
	f := newWebhookFixture(t)

	res, err := f.receive(t, f.token, "", `{"action":"create_task","boardName":"ops","laneName":"Doing","title":"Call vendor","priority":"P1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IdempotentReplay || res.Error != "" {
		t.Fatalf("expected first receipt to be processed, got %+v", res)
	}
	out := decodeResult(t, res)
	task, _ := f.store.GetTask(context.Background(), out.TaskID)
	if task.LaneID != f.lanes[1].ID || task.Priority != "P1" {
		t.Fatalf("expected P1 task in Doing, got %+v", task)
	}
	ev := f.store.events[res.EventID]
	if ev.ProcessedAt == nil || ev.Attempts != 1 {
		t.Fatalf("expected event finished once, got %+v", ev)
	}
	if _, ok := ev.Headers["Authorization"]; ok {
		t.Fatal("expected Authorization header not to be stored")
	}
	if f.bus.count("processed") != 1 || f.bus.count(eventbus.SuffixTaskChanged) != 1 {
		t.Fatalf("expected processed and task.changed events, got %v", f.bus.published)
	}
}

func TestWebhookServiceRejectsBadToken(t *testing.T) {
	f := newWebhookFixture(t)

	if _, err := f.receive(t, "wrong", "", `{"action":"create_task","boardName":"Ops","title":"x"}`); !errors.Is(err, domain.ErrWebhookAuth) {
		t.Fatalf("expected ErrWebhookAuth, got %v", err)
	}
	if len(f.store.events) != 0 {
		t.Fatal("expected nothing recorded for unauthenticated request")
	}
	if _, err := f.svc.Receive(context.Background(), "unknown", "Bearer "+f.token, http.Header{}, []byte(`{}`)); !errors.Is(err, domain.ErrWebhookAuth) {
		t.Fatalf("expected unknown source to be rejected, got %v", err)
	}
}

func TestWebhookServiceRotationInvalidatesOldToken(t *testing.T) {
	f := newWebhookFixture(t)
	body := `{"action":"create_task","boardName":"Ops","title":"After rotation"}`

	reveal, err := f.svc.RotateSecret(context.Background(), "shortcuts")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := f.receive(t, f.token, "", body); !errors.Is(err, domain.ErrWebhookAuth) {
		t.Fatalf("expected old token rejected, got %v", err)
	}
	if _, err := f.receive(t, reveal.BearerToken, "", body); err != nil {
		t.Fatalf("expected new token accepted, got %v", err)
	}
}

func TestWebhookServiceIdempotentRepeat(t *testing.T) {
	f := newWebhookFixture(t)
	body := `{"action":"create_task","boardName":"Ops","title":"Once"}`

	first, err := f.receive(t, f.token, "key-1", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.receive(t, f.token, "key-1", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.IdempotentReplay || second.EventID != first.EventID {
		t.Fatalf("expected idempotent replay of %s, got %+v", first.EventID, second)
	}
	if string(second.Result) != string(first.Result) {
		t.Fatalf("expected stored result, got %s", second.Result)
	}
	if f.store.createTaskCalls != 1 {
		t.Fatalf("expected a single create, got %d", f.store.createTaskCalls)
	}
}

func TestWebhookServiceProcessingErrorIsRecorded(t *testing.T) {
	f := newWebhookFixture(t)

	res, err := f.receive(t, f.token, "", `{"action":"create_task","boardName":"Nope","title":"x"}`)
	if err != nil {
		t.Fatalf("expected processing failure not to be returned, got %v", err)
	}
	if res.Error == "" || f.store.events[res.EventID].Error == "" {
		t.Fatalf("expected error recorded on the event, got %+v", res)
	}

	if _, err := f.receive(t, f.token, "", `[1,2,3]`); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected non-object body rejected, got %v", err)
	}
}

func TestWebhookServiceReplay(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	keyed, err := f.receive(t, f.token, "", `{"action":"create_task","boardName":"Ops","title":"Replay me","idempotencyKey":"body-key"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := decodeResult(t, keyed)

	for range 2 {
		res, err := f.svc.Replay(ctx, keyed.EventID)
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if out := decodeResult(t, res); out.TaskID != first.TaskID || !out.Idempotent {
			t.Fatalf("expected replay to resolve to %s, got %+v", first.TaskID, out)
		}
	}
	tasks, _ := f.store.ListTasks(ctx, f.board.ID)
	if len(tasks) != 1 {
		t.Fatalf("expected no extra tasks from replay, got %d", len(tasks))
	}

	unkeyed, _ := f.receive(t, f.token, "", `{"action":"create_task","boardName":"Ops","title":"No key"}`)
	if _, err := f.svc.Replay(ctx, unkeyed.EventID); !errors.Is(err, domain.ErrReplayUnsafe) {
		t.Fatalf("expected ErrReplayUnsafe, got %v", err)
	}
}

func TestWebhookServiceMoveTask(t *testing.T) {
	f := newWebhookFixture(t)
	seedTask(f.store, f.lanes[2].ID, "Already done")
	task := seedTask(f.store, f.lanes[0].ID, "Ship it")

	res, err := f.receive(t, f.token, "", `{"action":"move_task","taskId":"`+task.ID+`","laneName":"done"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := decodeResult(t, res)
	if out.LaneID != f.lanes[2].ID || out.Idempotent {
		t.Fatalf("expected move into Done, got %+v", out)
	}
	moved, _ := f.store.GetTask(context.Background(), task.ID)
	if moved.OrderIndex != 1 {
		t.Fatalf("expected task appended to lane end, got index %d", moved.OrderIndex)
	}

	res, _ = f.receive(t, f.token, "", `{"action":"move_task","taskId":"`+task.ID+`","laneName":"Done"}`)
	if out := decodeResult(t, res); !out.Idempotent {
		t.Fatalf("expected second move to be a no-op, got %+v", out)
	}
}

func TestWebhookServiceCommentDedupe(t *testing.T) {
	f := newWebhookFixture(t)
	task := seedTask(f.store, f.lanes[0].ID, "Discuss")
	f.store.tasks[task.ID].Jira = board.Link{ExternalID: "ENG-9"}
	body := `{"action":"comment_task","jiraKey":"ENG-9","body":"ping","commentId":"c-1","author":"sam"}`

	first, err := f.receive(t, f.token, "", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := f.receive(t, f.token, "", body)
	a, b := decodeResult(t, first), decodeResult(t, second)
	if a.CommentID != b.CommentID || !b.Idempotent {
		t.Fatalf("expected redelivered comment deduped, got %+v then %+v", a, b)
	}
	if len(f.store.comments) != 1 || f.store.comments[0].Source != "webhook:shortcuts" || f.store.comments[0].SourceAuthor != "sam" {
		t.Fatalf("unexpected stored comments %+v", f.store.comments)
	}
}

func TestWebhookServiceSecrets(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	if _, err := f.svc.UpsertSecret(ctx, "zapier", webhook.UpsertSecretRequest{BearerToken: "short"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected short token rejected, got %v", err)
	}
	disabled := false
	reveal, err := f.svc.UpsertSecret(ctx, "shortcuts", webhook.UpsertSecretRequest{Enabled: &disabled})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reveal.BearerToken != "" || reveal.Secret.Enabled {
		t.Fatalf("expected disable without new token, got %+v", reveal)
	}
	if _, err := f.receive(t, f.token, "", `{}`); !errors.Is(err, domain.ErrWebhookAuth) {
		t.Fatalf("expected disabled source rejected, got %v", err)
	}
	if _, err := f.svc.RotateSecret(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list, _ := f.svc.ListSecrets(ctx)
	if len(list) != 1 || list[0].TokenHint == "" {
		t.Fatalf("unexpected secrets %+v", list)
	}
}
