package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/integration"
	"github.com/Strob0t/LaneSync/internal/domain/webhook"
	"github.com/Strob0t/LaneSync/internal/port/eventbus"
)

// mockStore is an in-memory database.Store with the same compare-and-swap
// and ordering rules as the Postgres store.
type mockStore struct {
	mu         sync.Mutex
	seq        int
	boards     map[string]*board.Board
	lanes      map[string]*board.Lane
	tasks      map[string]*board.Task
	importKeys map[string]string
	comments   []board.Comment
	conns      map[string]*integration.Connection
	profiles   map[string]*integration.Profile
	runs       map[string]*integration.Run
	secrets    map[string]*webhook.Secret
	events     map[string]*webhook.Event

	createTaskCalls int
	updateErr       error
}

func newMockStore() *mockStore {
	return &mockStore{
		boards:     map[string]*board.Board{},
		lanes:      map[string]*board.Lane{},
		tasks:      map[string]*board.Task{},
		importKeys: map[string]string{},
		conns:      map[string]*integration.Connection{},
		profiles:   map[string]*integration.Profile{},
		runs:       map[string]*integration.Run{},
		secrets:    map[string]*webhook.Secret{},
		events:     map[string]*webhook.Event{},
	}
}

func (m *mockStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
}

// --- Boards and lanes ---

func (m *mockStore) CreateBoard(_ context.Context, req board.CreateBoardRequest) (*board.Board, []board.Lane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	b := &board.Board{ID: m.nextID("board"), Name: req.Name, CreatedAt: now, UpdatedAt: now}
	m.boards[b.ID] = b
	lanes := make([]board.Lane, 0, len(req.Lanes))
	for i := range req.Lanes {
		l := m.addLane(b.ID, i, req.Lanes[i])
		lanes = append(lanes, *l)
	}
	return b, lanes, nil
}

func (m *mockStore) addLane(boardID string, pos int, req board.CreateLaneRequest) *board.Lane {
	l := &board.Lane{
		ID:       m.nextID("lane"),
		BoardID:  boardID,
		Name:     req.Name,
		StateKey: req.StateKey,
		Type:     req.Type,
		Position: pos,
		WIPLimit: req.WIPLimit,
	}
	m.lanes[l.ID] = l
	return l
}

func (m *mockStore) GetBoard(_ context.Context, id string) (*board.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[id]
	if !ok {
		return nil, notFound("board", id)
	}
	cp := *b
	return &cp, nil
}

func (m *mockStore) FindBoardByName(_ context.Context, name string) (*board.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.boards {
		if strings.EqualFold(b.Name, name) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, notFound("board", name)
}

func (m *mockStore) listLanes(boardID string) []board.Lane {
	var out []board.Lane
	for _, l := range m.lanes {
		if l.BoardID == boardID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (m *mockStore) ListLanes(_ context.Context, boardID string) ([]board.Lane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLanes(boardID), nil
}

func (m *mockStore) GetLane(_ context.Context, id string) (*board.Lane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[id]
	if !ok {
		return nil, notFound("lane", id)
	}
	cp := *l
	return &cp, nil
}

func (m *mockStore) CreateLane(_ context.Context, boardID string, req board.CreateLaneRequest) (*board.Lane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[boardID]; !ok {
		return nil, notFound("board", boardID)
	}
	l := m.addLane(boardID, len(m.listLanes(boardID)), req)
	cp := *l
	return &cp, nil
}

func (m *mockStore) ReorderLanes(_ context.Context, boardID string, ordered []string) ([]board.Lane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[boardID]; !ok {
		return nil, notFound("board", boardID)
	}
	current := m.listLanes(boardID)
	ids := make([]string, len(current))
	for i := range current {
		ids[i] = current[i].ID
	}
	if err := board.ValidateLaneOrder(ids, ordered); err != nil {
		return nil, err
	}
	for i, id := range ordered {
		m.lanes[id].Position = i
	}
	return m.listLanes(boardID), nil
}

func (m *mockStore) CountTasksByLane(_ context.Context, boardID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, t := range m.tasks {
		if t.BoardID == boardID {
			out[t.LaneID]++
		}
	}
	return out, nil
}

// --- Tasks ---

func (m *mockStore) laneTaskIDs(laneID string) []string {
	var ts []*board.Task
	for _, t := range m.tasks {
		if t.LaneID == laneID {
			ts = append(ts, t)
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].OrderIndex < ts[j].OrderIndex })
	ids := make([]string, len(ts))
	for i, t := range ts {
		ids[i] = t.ID
	}
	return ids
}

func (m *mockStore) renumber(laneID string, ids []string) {
	for i, id := range ids {
		m.tasks[id].LaneID = laneID
		m.tasks[id].StateKey = m.lanes[laneID].StateKey
		m.tasks[id].OrderIndex = i
	}
}

func (m *mockStore) sortedTasks(match func(*board.Task) bool) []board.Task {
	var out []board.Task
	for _, t := range m.tasks {
		if match(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := m.lanes[out[i].LaneID].Position, m.lanes[out[j].LaneID].Position
		if pi != pj {
			return pi < pj
		}
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out
}

func (m *mockStore) ListTasks(_ context.Context, boardID string) ([]board.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedTasks(func(t *board.Task) bool { return t.BoardID == boardID }), nil
}

func (m *mockStore) ListLinkedTasks(_ context.Context, boardID string, p board.Provider, connectionID string) ([]board.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedTasks(func(t *board.Task) bool {
		l := t.LinkFor(p)
		return t.BoardID == boardID && l.Linked() && l.ConnectionID == connectionID
	}), nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*board.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) FindTaskByExternalID(_ context.Context, boardID string, p board.Provider, externalID string) (*board.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.BoardID == boardID && t.LinkFor(p).ExternalID == externalID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, notFound("task", externalID)
}

func (m *mockStore) FindTaskByJiraKey(_ context.Context, key string) (*board.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Jira.ExternalID == key {
			cp := *t
			return &cp, nil
		}
	}
	return nil, notFound("task", key)
}

func (m *mockStore) CreateTask(_ context.Context, req board.CreateTaskRequest) (*board.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createTaskCalls++
	lane, ok := m.lanes[req.LaneID]
	if !ok {
		return nil, false, notFound("lane", req.LaneID)
	}
	if req.ImportKey != "" {
		if id, ok := m.importKeys[lane.BoardID+"|"+req.ImportKey]; ok {
			cp := *m.tasks[id]
			return &cp, false, nil
		}
	}
	now := time.Now().UTC()
	t := &board.Task{
		ID:              m.nextID("task"),
		BoardID:         lane.BoardID,
		LaneID:          lane.ID,
		StateKey:        lane.StateKey,
		Title:           req.Title,
		Description:     req.Description,
		Tags:            req.Tags,
		Priority:        req.Priority,
		Type:            req.Type,
		OwnerID:         req.OwnerID,
		DueDate:         req.DueDate,
		EstimateMinutes: req.EstimateMinutes,
		Blocked:         req.Blocked,
		BlockedReason:   req.BlockedReason,
		OrderIndex:      len(m.laneTaskIDs(lane.ID)),
		Version:         1,
		Jira:            req.Jira,
		OpenProject:     req.OpenProject,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	stampSync(&t.Jira, nil, now)
	stampSync(&t.OpenProject, nil, now)
	m.tasks[t.ID] = t
	if req.ImportKey != "" {
		m.importKeys[lane.BoardID+"|"+req.ImportKey] = t.ID
	}
	cp := *t
	return &cp, true, nil
}

func (m *mockStore) UpdateTask(_ context.Context, t *board.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.tasks[t.ID]
	if !ok {
		return notFound("task", t.ID)
	}
	if stored.Version != t.Version {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrConflict)
	}
	if stored.LaneID != t.LaneID {
		lane, ok := m.lanes[t.LaneID]
		if !ok || lane.BoardID != stored.BoardID {
			return fmt.Errorf("%w: lane %s not on board", domain.ErrValidation, t.LaneID)
		}
		from := stored.LaneID
		m.renumber(t.LaneID, append(m.laneTaskIDs(t.LaneID), t.ID))
		m.renumber(from, m.laneTaskIDs(from))
	}
	updated := *t
	updated.LaneID = stored.LaneID
	updated.StateKey = stored.StateKey
	updated.OrderIndex = stored.OrderIndex
	updated.Version = stored.Version + 1
	updated.UpdatedAt = time.Now().UTC()
	stampSync(&updated.Jira, stored.Jira.LastSyncAt, updated.UpdatedAt)
	stampSync(&updated.OpenProject, stored.OpenProject.LastSyncAt, updated.UpdatedAt)
	*stored = updated
	*t = updated
	return nil
}

func (m *mockStore) MoveTask(_ context.Context, taskID string, req board.MoveRequest) (*board.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, notFound("task", taskID)
	}
	if t.Version != req.Version {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrConflict)
	}
	lane, ok := m.lanes[req.LaneID]
	if !ok || lane.BoardID != t.BoardID {
		return nil, fmt.Errorf("%w: lane %s not on board", domain.ErrValidation, req.LaneID)
	}
	same := t.LaneID == req.LaneID
	source := m.laneTaskIDs(t.LaneID)
	plan, err := board.PlanMove(source, m.laneTaskIDs(req.LaneID), taskID, req.ToIndex, same)
	if err != nil {
		return nil, err
	}
	if !same {
		m.renumber(t.LaneID, plan.Source)
	}
	m.renumber(req.LaneID, plan.Target)
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

func (m *mockStore) FindImportKey(_ context.Context, boardID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.importKeys[boardID+"|"+key]
	return id, ok, nil
}

func (m *mockStore) RecordImportKey(_ context.Context, boardID, key, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.importKeys[boardID+"|"+key]; !ok {
		m.importKeys[boardID+"|"+key] = taskID
	}
	return nil
}

func (m *mockStore) AddComment(_ context.Context, c *board.Comment) (*board.Comment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.comments {
		e := m.comments[i]
		if c.SourceID != "" && e.TaskID == c.TaskID && e.Source == c.Source && e.SourceID == c.SourceID {
			return &e, false, nil
		}
	}
	stored := *c
	stored.ID = m.nextID("comment")
	stored.CreatedAt = time.Now().UTC()
	m.comments = append(m.comments, stored)
	return &stored, true, nil
}

// --- Connections, profiles and runs ---

func (m *mockStore) CreateConnection(_ context.Context, c *integration.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID("conn")
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.conns[c.ID] = &cp
	return nil
}

func (m *mockStore) GetConnection(_ context.Context, id string) (*integration.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, notFound("connection", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) ListConnections(_ context.Context, p board.Provider) ([]integration.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []integration.Connection
	for _, c := range m.conns {
		if p == "" || c.Provider == p {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) DeleteConnection(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[id]; !ok {
		return notFound("connection", id)
	}
	delete(m.conns, id)
	return nil
}

func (m *mockStore) UpdateConnectionCredential(_ context.Context, id, sealed, hint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return notFound("connection", id)
	}
	c.SealedToken, c.TokenHint = sealed, hint
	return nil
}

func (m *mockStore) SetConnectionStatus(_ context.Context, id string, needsReconnect bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return notFound("connection", id)
	}
	now := time.Now().UTC()
	c.NeedsReconnect, c.ReconnectReason, c.LastCheckedAt = needsReconnect, reason, &now
	return nil
}

func (m *mockStore) UpsertProfile(_ context.Context, p *integration.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.profiles {
		if existing.BoardID == p.BoardID && existing.ConnectionID == p.ConnectionID {
			p.ID = existing.ID
		}
	}
	if p.ID == "" {
		p.ID = m.nextID("profile")
	}
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *mockStore) GetProfile(_ context.Context, id string) (*integration.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, notFound("profile", id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) ListProfiles(_ context.Context, boardID string) ([]integration.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []integration.Profile
	for _, p := range m.profiles {
		if p.BoardID == boardID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockStore) StartRun(_ context.Context, req integration.StartRun) (*integration.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ProfileID != "" {
		for _, r := range m.runs {
			if r.ProfileID == req.ProfileID && r.Status == integration.RunRunning {
				return nil, domain.ErrSyncInProgress
			}
		}
	}
	r := &integration.Run{
		ID:           m.nextID("run"),
		BoardID:      req.BoardID,
		ProfileID:    req.ProfileID,
		ConnectionID: req.ConnectionID,
		Provider:     req.Provider,
		Kind:         req.Kind,
		Status:       integration.RunRunning,
		StartedAt:    time.Now().UTC(),
		Log:          []integration.LogEntry{integration.Entry(integration.LevelInfo, integration.StepStart, "started")},
	}
	m.runs[r.ID] = r
	cp := *r
	return &cp, nil
}

func (m *mockStore) AppendRunLog(_ context.Context, runID string, entries ...integration.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok || r.Status != integration.RunRunning {
		return notFound("running run", runID)
	}
	r.Log = append(r.Log, entries...)
	return nil
}

func (m *mockStore) FinishRun(_ context.Context, runID string, fin integration.FinishRun) (*integration.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok || r.Status != integration.RunRunning {
		return nil, notFound("running run", runID)
	}
	now := time.Now().UTC()
	r.Status, r.ErrorMessage, r.Counts, r.FinishedAt = fin.Status, fin.ErrorMessage, fin.Counts, &now
	cp := *r
	cp.Log = append([]integration.LogEntry(nil), r.Log...)
	return &cp, nil
}

func (m *mockStore) GetRun(_ context.Context, id string) (*integration.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, notFound("run", id)
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) ListRuns(_ context.Context, boardID string, limit int) ([]integration.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []integration.Run
	for _, r := range m.runs {
		if boardID == "" || r.BoardID == boardID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) DeleteFinishedRuns(_ context.Context, boardID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.runs {
		if r.BoardID == boardID && r.Status != integration.RunRunning {
			delete(m.runs, id)
			n++
		}
	}
	return n, nil
}

func (m *mockStore) AbandonStaleRuns(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for _, r := range m.runs {
		if r.Status == integration.RunRunning && r.StartedAt.Before(cutoff) {
			r.Status, r.ErrorMessage = integration.RunError, "abandoned"
			n++
		}
	}
	return n, nil
}

// --- Webhooks ---

func (m *mockStore) GetWebhookSecret(_ context.Context, source string) (*webhook.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[source]
	if !ok {
		return nil, notFound("webhook secret", source)
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) ListWebhookSecrets(_ context.Context) ([]webhook.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webhook.Secret
	for _, s := range m.secrets {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (m *mockStore) UpsertWebhookSecret(_ context.Context, s *webhook.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = m.nextID("secret")
	}
	cp := *s
	m.secrets[s.Source] = &cp
	return nil
}

func (m *mockStore) DisableWebhookSecret(_ context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[source]
	if !ok {
		return notFound("webhook secret", source)
	}
	s.Enabled = false
	return nil
}

func (m *mockStore) CreateWebhookEvent(_ context.Context, ev webhook.NewEvent) (*webhook.Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.IdempotencyKey != "" {
		for _, e := range m.events {
			if e.Source == ev.Source && e.IdempotencyKey == ev.IdempotencyKey {
				cp := *e
				return &cp, true, nil
			}
		}
	}
	e := &webhook.Event{
		ID:             m.nextID("event"),
		Source:         ev.Source,
		ReceivedAt:     time.Now().UTC(),
		Headers:        ev.Headers,
		Payload:        ev.Payload,
		IdempotencyKey: ev.IdempotencyKey,
	}
	m.events[e.ID] = e
	cp := *e
	return &cp, false, nil
}

func (m *mockStore) GetWebhookEvent(_ context.Context, id string) (*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, notFound("webhook event", id)
	}
	cp := *e
	return &cp, nil
}

func (m *mockStore) FinishWebhookEvent(_ context.Context, id string, out webhook.Outcome) (*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, notFound("webhook event", id)
	}
	now := time.Now().UTC()
	e.Result, e.Error, e.ProcessedAt = out.Result, out.Error, &now
	e.Attempts++
	cp := *e
	return &cp, nil
}

func (m *mockStore) ListWebhookEvents(_ context.Context, f webhook.ListFilter) ([]webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.Normalize()
	var out []webhook.Event
	for _, e := range m.events {
		if f.Source == "" || e.Source == f.Source {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// mockBus records published messages.
type mockBus struct {
	mu        sync.Mutex
	published []string
	handlers  []eventbus.Handler
}

func (b *mockBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	b.published = append(b.published, subject)
	handlers := append([]eventbus.Handler(nil), b.handlers...)
	b.mu.Unlock()
	for _, h := range handlers {
		_ = h(ctx, subject, data)
	}
	return nil
}

func (b *mockBus) Subscribe(_ context.Context, _ string, h eventbus.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
	return func() {}, nil
}

func (b *mockBus) Drain() error      { return nil }
func (b *mockBus) Close() error      { return nil }
func (b *mockBus) IsConnected() bool { return true }

func (b *mockBus) count(suffix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.published {
		if strings.HasSuffix(s, suffix) {
			n++
		}
	}
	return n
}

// seedBoard creates a board with Backlog, Doing and Done lanes.
func seedBoard(m *mockStore) (*board.Board, []board.Lane) {
	b, lanes, _ := m.CreateBoard(context.Background(), board.CreateBoardRequest{
		Name: "Ops",
		Lanes: []board.CreateLaneRequest{
			{Name: "Backlog", StateKey: "backlog", Type: board.LaneBacklog},
			{Name: "Doing", StateKey: "doing", Type: board.LaneActive},
			{Name: "Done", StateKey: "done", Type: board.LaneDone},
		},
	})
	return b, lanes
}

func seedTask(m *mockStore, laneID, title string) *board.Task {
	req := board.CreateTaskRequest{LaneID: laneID, Title: title}
	_ = req.Validate()
	t, _, _ := m.CreateTask(context.Background(), req)
	return t
}

func laneOrder(m *mockStore, laneID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.laneTaskIDs(laneID)
}

// stampSync stores an advanced sync mark as the write time, as Postgres does.
func stampSync(l *board.Link, prev *time.Time, at time.Time) {
	if l.LastSyncAt == nil || (prev != nil && l.LastSyncAt.Equal(*prev)) {
		return
	}
	ts := at
	l.LastSyncAt = &ts
}
