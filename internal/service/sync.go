package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/LaneSync/internal/adapter/otel"
	"github.com/Strob0t/LaneSync/internal/config"
	"github.com/Strob0t/LaneSync/internal/domain"
	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/integration"
	"github.com/Strob0t/LaneSync/internal/logger"
	"github.com/Strob0t/LaneSync/internal/port/database"
	"github.com/Strob0t/LaneSync/internal/port/eventbus"
	"github.com/Strob0t/LaneSync/internal/port/tracker"
	"github.com/Strob0t/LaneSync/internal/throttle"
)

// defaultRunListLimit caps ledger listings when no limit is given.
const defaultRunListLimit = 50

// SyncService runs imports, sync-now reconciliations and single-task
// operations against Jira and OpenProject. Every run is recorded in the
// ledger; tracker calls never happen inside a store transaction.
type SyncService struct {
	boards  database.BoardStore
	store   database.SyncStore
	conns   *ConnectionService
	bus     eventbus.Bus
	wip     *WIPCache
	metrics *otel.Metrics
	pool    *throttle.Pool
	cfg     config.Sync
}

// NewSyncService creates a new SyncService.
func NewSyncService(
	boards database.BoardStore,
	store database.SyncStore,
	conns *ConnectionService,
	bus eventbus.Bus,
	wip *WIPCache,
	metrics *otel.Metrics,
	cfg config.Sync,
) *SyncService {
	return &SyncService{
		boards:  boards,
		store:   store,
		conns:   conns,
		bus:     bus,
		wip:     wip,
		metrics: metrics,
		pool:    throttle.NewPool(cfg.MaxParallelRuns),
		cfg:     cfg,
	}
}

// TaskSyncResult is the outcome of a single-task operation.
type TaskSyncResult struct {
	Task *board.Task      `json:"task"`
	Run  *integration.Run `json:"run"`
}

// runPlan names the run about to be opened.
type runPlan struct {
	kind    integration.RunKind
	boardID string
	profile *integration.Profile
	conn    *integration.Connection
	client  tracker.Client
}

// recorder appends entries to one running run and tallies item outcomes.
type recorder struct {
	store  database.SyncStore
	runID  string
	counts integration.Counts
}

func (r *recorder) log(ctx context.Context, e integration.LogEntry) {
	if err := r.store.AppendRunLog(context.WithoutCancel(ctx), r.runID, e); err != nil {
		slog.WarnContext(ctx, "append run log failed", "step", e.Step, "error", err)
	}
}

func (r *recorder) item(ctx context.Context, level, step, externalID, taskID, msg string) {
	e := integration.Entry(level, step, msg)
	e.ExternalID, e.TaskID = externalID, taskID
	r.log(ctx, e)
}

// fetched is what an import or sync-now pulled from the tracker. Issues that
// could not be fetched are reported as failures instead of aborting the run.
type fetched struct {
	issues   []integration.Issue
	failures []integration.LogEntry
	warnings []integration.LogEntry
}

// --- Import and sync now ---

// Import stores the profile described by req and imports every issue
// matching its query. Re-running an import updates the tasks already linked
// to the returned issues instead of creating new ones.
func (s *SyncService) Import(ctx context.Context, p board.Provider, req integration.ImportRequest) (*integration.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.boards.GetBoard(ctx, req.BoardID); err != nil {
		return nil, err
	}
	lanes, err := s.boards.ListLanes(ctx, req.BoardID)
	if err != nil {
		return nil, err
	}
	mapping := req.Mapping()
	if err := mapping.Validate(stateKeys(lanes)); err != nil {
		return nil, err
	}
	conn, client, err := s.clientFor(ctx, p, req.ConnectionID)
	if err != nil {
		return nil, err
	}

	profile := &integration.Profile{
		BoardID:        req.BoardID,
		ConnectionID:   conn.ID,
		Provider:       p,
		Query:          req.Filter(),
		Mapping:        mapping,
		ConflictPolicy: req.ConflictPolicy,
	}
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return nil, err
	}

	plan := runPlan{kind: integration.RunImport, boardID: req.BoardID, profile: profile, conn: conn, client: client}
	return s.reconcile(ctx, plan, lanes, func(ctx context.Context) (fetched, error) {
		issues, err := client.Search(ctx, profile.Query, s.cfg.MaxIssues)
		if err != nil {
			return fetched{}, fmt.Errorf("search issues: %w", err)
		}
		out := fetched{issues: issues}
		if s.cfg.MaxIssues > 0 && len(issues) >= s.cfg.MaxIssues {
			slog.WarnContext(ctx, "search results truncated", "max_issues", s.cfg.MaxIssues)
			out.warnings = append(out.warnings, integration.Entry(integration.LevelWarn, integration.StepFetch,
				fmt.Sprintf("Search stopped at the %d issue limit; narrow the query to import the rest", s.cfg.MaxIssues)))
		}
		return out, nil
	})
}

// SyncNow reconciles every task already linked under a profile without
// re-running the profile query.
func (s *SyncService) SyncNow(ctx context.Context, profileID string) (*integration.Run, error) {
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if err := profile.ConflictPolicy.Check(); err != nil {
		return nil, err
	}
	lanes, err := s.boards.ListLanes(ctx, profile.BoardID)
	if err != nil {
		return nil, err
	}
	conn, client, err := s.clientFor(ctx, profile.Provider, profile.ConnectionID)
	if err != nil {
		return nil, err
	}

	plan := runPlan{kind: integration.RunSync, boardID: profile.BoardID, profile: profile, conn: conn, client: client}
	return s.reconcile(ctx, plan, lanes, func(ctx context.Context) (fetched, error) {
		tasks, err := s.boards.ListLinkedTasks(ctx, profile.BoardID, profile.Provider, conn.ID)
		if err != nil {
			return fetched{}, err
		}
		issues, errs, err := throttle.Map(ctx, s.cfg.FetchConcurrency, tasks, func(ctx context.Context, t board.Task) (*integration.Issue, error) {
			return client.GetIssue(ctx, t.LinkFor(profile.Provider).ExternalID)
		})
		if err != nil {
			return fetched{}, err
		}

		var out fetched
		for i := range tasks {
			if errs[i] != nil {
				if errors.Is(errs[i], domain.ErrNeedsReconnect) {
					return fetched{}, errs[i]
				}
				e := integration.Entry(integration.LevelError, integration.StepItem, errs[i].Error())
				e.ExternalID, e.TaskID = tasks[i].LinkFor(profile.Provider).ExternalID, tasks[i].ID
				out.failures = append(out.failures, e)
				continue
			}
			if issues[i] != nil {
				out.issues = append(out.issues, *issues[i])
			}
		}
		return out, nil
	})
}

// reconcile opens a run, fetches issues and merges each one into the board.
// Items commit independently; a failure part way leaves earlier items in
// place and records where the run stopped.
func (s *SyncService) reconcile(ctx context.Context, plan runPlan, lanes []board.Lane, fetch func(context.Context) (fetched, error)) (*integration.Run, error) {
	laneByState := make(map[string]string, len(lanes))
	for i := range lanes {
		if _, dup := laneByState[lanes[i].StateKey]; !dup {
			laneByState[lanes[i].StateKey] = lanes[i].ID
		}
	}

	return s.run(ctx, plan, func(ctx context.Context, rec *recorder) error {
		batch, err := fetch(ctx)
		if err != nil {
			return err
		}
		rec.log(ctx, integration.Entry(integration.LevelInfo, integration.StepFetch,
			fmt.Sprintf("Fetched %d issues", len(batch.issues)+len(batch.failures))))
		for _, e := range batch.warnings {
			rec.log(ctx, e)
		}
		for _, e := range batch.failures {
			rec.counts.Failed++
			rec.log(ctx, e)
		}

		for i := range batch.issues {
			if err := ctx.Err(); err != nil {
				return err
			}
			issue := &batch.issues[i]
			t, step, err := s.mergeIssue(ctx, plan, laneByState, issue, rec)
			if err != nil {
				if errors.Is(err, domain.ErrNeedsReconnect) {
					return err
				}
				rec.counts.Failed++
				rec.item(ctx, integration.LevelError, integration.StepItem, issue.ExternalID, "", err.Error())
				continue
			}
			if step == integration.StepCreated {
				rec.counts.Created++
			} else {
				rec.counts.Updated++
			}
			rec.item(ctx, integration.LevelInfo, step, issue.ExternalID, t.ID, fmt.Sprintf("%s %s", step, issue.ExternalID))
		}
		return nil
	})
}

// mergeIssue creates the linked task of an issue seen for the first time or
// overwrites the synchronized fields of the task already linked to it.
func (s *SyncService) mergeIssue(ctx context.Context, plan runPlan, laneByState map[string]string, issue *integration.Issue, rec *recorder) (*board.Task, string, error) {
	res, err := integration.Resolve(plan.profile.ConflictPolicy, plan.profile.Mapping, issue)
	if err != nil {
		return nil, "", err
	}
	laneID, ok := laneByState[res.StateKey]
	if !ok {
		return nil, "", fmt.Errorf("%w: no lane with state %q", domain.ErrMapping, res.StateKey)
	}
	p := plan.conn.Provider
	link := newLink(plan.conn.ID, issue)

	t, err := s.boards.FindTaskByExternalID(ctx, plan.boardID, p, issue.ExternalID)
	if errors.Is(err, domain.ErrNotFound) {
		req := res.NewTaskRequest(laneID)
		req.ImportKey = string(p) + ":" + issue.ExternalID
		setLink(&req, p, link)
		if err := req.Validate(); err != nil {
			return nil, "", err
		}
		created, isNew, cerr := s.boards.CreateTask(ctx, req)
		if cerr != nil {
			return nil, "", cerr
		}
		if isNew {
			return created, integration.StepCreated, nil
		}
		// The import key outlived the link; relink the recorded task.
		t, err = created, nil
	}
	if err != nil {
		return nil, "", err
	}

	for attempt := 0; ; attempt++ {
		if integration.BothChanged(t, t.LinkFor(p), issue) {
			rec.counts.Conflicts++
			rec.item(ctx, integration.LevelWarn, integration.StepConflict, issue.ExternalID, t.ID,
				fmt.Sprintf("both sides changed since last sync; %s wins", plan.profile.ConflictPolicy))
		}
		res.ApplyTo(t)
		t.LaneID = laneID
		*t.LinkFor(p) = link
		err = s.boards.UpdateTask(ctx, t)
		if err == nil || !errors.Is(err, domain.ErrConflict) || attempt >= 1 {
			break
		}
		s.metrics.Conflict(ctx, "sync")
		if t, err = s.boards.GetTask(ctx, t.ID); err != nil {
			return nil, "", err
		}
	}
	if err != nil {
		return nil, "", err
	}
	return t, integration.StepUpdated, nil
}

// run opens a ledger record, executes body within the shared run pool and
// finishes the record exactly once, whatever body returned.
func (s *SyncService) run(ctx context.Context, plan runPlan, body func(context.Context, *recorder) error) (*integration.Run, error) {
	start := integration.StartRun{
		BoardID:      plan.boardID,
		ConnectionID: plan.conn.ID,
		Provider:     plan.conn.Provider,
		Kind:         plan.kind,
	}
	if plan.profile != nil {
		start.ProfileID = plan.profile.ID
	}
	opened, err := s.store.StartRun(ctx, start)
	if errors.Is(err, domain.ErrSyncInProgress) {
		// the blocking run may be an orphan past the cutoff
		if n, aerr := s.AbandonStale(ctx); aerr == nil && n > 0 {
			opened, err = s.store.StartRun(ctx, start)
		}
	}
	if err != nil {
		return nil, err
	}

	ctx = logger.WithRunID(ctx, opened.ID)
	ctx, span := otel.StartSyncSpan(ctx, string(plan.conn.Provider), string(plan.kind), plan.boardID, plan.conn.ID)
	began := time.Now()
	rec := &recorder{store: s.store, runID: opened.ID}

	runErr := s.pool.Run(ctx, func() error { return body(ctx, rec) })

	fin := integration.FinishRun{Status: rec.counts.FinalStatus(), Counts: rec.counts}
	if runErr != nil {
		fin.Status = integration.RunError
		fin.ErrorMessage = runErr.Error()
		if errors.Is(runErr, domain.ErrNeedsReconnect) {
			s.conns.MarkReconnect(ctx, plan.conn.ID, runErr.Error())
		}
		rec.log(ctx, integration.Entry(integration.LevelError, integration.StepAbort, runErr.Error()))
		slog.WarnContext(ctx, "sync run aborted", "kind", plan.kind, "error", runErr)
	}
	rec.log(ctx, integration.Entry(integration.LevelInfo, integration.StepDone, rec.counts.Summary()))

	finished, err := s.store.FinishRun(context.WithoutCancel(ctx), opened.ID, fin)
	otel.EndSpan(span, runErr)
	if err != nil {
		return nil, fmt.Errorf("finish run %s: %w", opened.ID, err)
	}

	c := finished.Counts
	s.metrics.Run(ctx, string(plan.conn.Provider), string(plan.kind), string(finished.Status),
		time.Since(began).Seconds(), c.Created, c.Updated, c.Failed, c.Conflicts)
	publish(ctx, s.bus, eventbus.BoardSubject(plan.boardID, eventbus.SuffixSyncFinished), eventbus.SyncFinishedPayload{
		BoardID:   plan.boardID,
		RunID:     finished.ID,
		ProfileID: finished.ProfileID,
		Kind:      string(finished.Kind),
		Status:    string(finished.Status),
		Created:   c.Created,
		Updated:   c.Updated,
		Failed:    c.Failed,
	})
	s.wip.Invalidate(ctx, plan.boardID)
	slog.InfoContext(ctx, "sync run finished", "kind", plan.kind, "status", finished.Status, "summary", c.Summary())
	return finished, nil
}

// --- Single-task operations ---

// CreateIssue creates an external issue for a task and links it. A task
// that is already linked is returned unchanged. On Jira an issue carrying
// the task's stable label is relinked instead of creating a duplicate.
func (s *SyncService) CreateIssue(ctx context.Context, p board.Provider, taskID string, req integration.SingleTaskRequest) (*TaskSyncResult, error) {
	t, err := s.boards.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	conn, client, err := s.clientFor(ctx, p, req.ConnectionID)
	if err != nil {
		return nil, err
	}

	plan := runPlan{kind: integration.RunTaskCreate, boardID: t.BoardID, conn: conn, client: client}
	run, err := s.run(ctx, plan, func(ctx context.Context, rec *recorder) error {
		if link := t.LinkFor(p); link.Linked() {
			rec.item(ctx, integration.LevelInfo, integration.StepLinked, link.ExternalID, t.ID, "task already linked")
			return nil
		}

		label := TaskLabel(t.ID)
		issue, err := client.FindByLabel(ctx, label)
		switch {
		case err == nil:
			rec.item(ctx, integration.LevelInfo, integration.StepLinked, issue.ExternalID, t.ID, "relinked by label "+label)
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, tracker.ErrNotSupported):
			projectRef := req.ProjectRef
			if projectRef == "" {
				projectRef = conn.ProjectRef
			}
			issue, err = client.CreateIssue(ctx, tracker.IssueInput{
				ProjectRef:  projectRef,
				Title:       t.Title,
				Description: t.Description,
				IssueType:   req.IssueType,
				Priority:    t.Priority,
				Labels:      append(append([]string{}, t.Tags...), label),
				Assignee:    conn.DefaultAssignee,
			})
			if err != nil {
				return err
			}
			rec.item(ctx, integration.LevelInfo, integration.StepCreated, issue.ExternalID, t.ID, "created "+issue.ExternalID)
		default:
			return err
		}

		if t, err = s.saveLink(ctx, t, p, newLink(conn.ID, issue)); err != nil {
			return err
		}
		rec.counts.Created++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &TaskSyncResult{Task: t, Run: run}, nil
}

// LinkIssue links a task to an existing external issue.
func (s *SyncService) LinkIssue(ctx context.Context, p board.Provider, taskID string, req integration.SingleTaskRequest) (*TaskSyncResult, error) {
	if req.ExternalID == "" {
		return nil, fmt.Errorf("%w: externalId is required", domain.ErrValidation)
	}
	t, err := s.boards.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	conn, client, err := s.clientFor(ctx, p, req.ConnectionID)
	if err != nil {
		return nil, err
	}

	plan := runPlan{kind: integration.RunTaskLink, boardID: t.BoardID, conn: conn, client: client}
	run, err := s.run(ctx, plan, func(ctx context.Context, rec *recorder) error {
		issue, err := client.GetIssue(ctx, req.ExternalID)
		if err != nil {
			return err
		}
		if t, err = s.saveLink(ctx, t, p, newLink(conn.ID, issue)); err != nil {
			return err
		}
		rec.counts.Updated++
		rec.item(ctx, integration.LevelInfo, integration.StepLinked, issue.ExternalID, t.ID, "linked "+issue.ExternalID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &TaskSyncResult{Task: t, Run: run}, nil
}

// PullIssue overwrites a linked task with the external issue. With a sync
// profile for the board the full mapping applies; without one only title,
// description and tags are pulled.
func (s *SyncService) PullIssue(ctx context.Context, p board.Provider, taskID string) (*TaskSyncResult, error) {
	t, conn, client, err := s.linkedTask(ctx, p, taskID)
	if err != nil {
		return nil, err
	}
	profile, err := s.profileFor(ctx, t.BoardID, conn.ID)
	if err != nil {
		return nil, err
	}
	var lanes []board.Lane
	if profile != nil {
		if lanes, err = s.boards.ListLanes(ctx, t.BoardID); err != nil {
			return nil, err
		}
	}

	plan := runPlan{kind: integration.RunTaskPull, boardID: t.BoardID, profile: profile, conn: conn, client: client}
	run, err := s.run(ctx, plan, func(ctx context.Context, rec *recorder) error {
		issue, err := client.GetIssue(ctx, t.LinkFor(p).ExternalID)
		if err != nil {
			return err
		}
		if profile != nil {
			laneByState := make(map[string]string, len(lanes))
			for i := range lanes {
				laneByState[lanes[i].StateKey] = lanes[i].ID
			}
			t, _, err = s.mergeIssue(ctx, plan, laneByState, issue, rec)
		} else {
			t, err = s.pullText(ctx, t, p, conn.ID, issue)
		}
		if err != nil {
			return err
		}
		rec.counts.Updated++
		rec.item(ctx, integration.LevelInfo, integration.StepUpdated, issue.ExternalID, t.ID, "pulled "+issue.ExternalID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if run.Status == integration.RunSuccess {
		s.taskSynced(ctx, t)
	}
	return &TaskSyncResult{Task: t, Run: run}, nil
}

// PushIssue writes the task's title, description and tags to the linked
// external issue.
func (s *SyncService) PushIssue(ctx context.Context, p board.Provider, taskID string) (*TaskSyncResult, error) {
	t, conn, client, err := s.linkedTask(ctx, p, taskID)
	if err != nil {
		return nil, err
	}

	plan := runPlan{kind: integration.RunTaskPush, boardID: t.BoardID, conn: conn, client: client}
	run, err := s.run(ctx, plan, func(ctx context.Context, rec *recorder) error {
		extID := t.LinkFor(p).ExternalID
		issue, err := client.UpdateIssue(ctx, extID, tracker.IssueInput{
			Title:       t.Title,
			Description: t.Description,
			Labels:      t.Tags,
		})
		if err != nil {
			return err
		}
		if t, err = s.saveLink(ctx, t, p, newLink(conn.ID, issue)); err != nil {
			return err
		}
		rec.counts.Updated++
		rec.item(ctx, integration.LevelInfo, integration.StepPushed, extID, t.ID, "pushed "+extID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &TaskSyncResult{Task: t, Run: run}, nil
}

// TaskLabel is the stable Jira label that ties an issue to a local task.
func TaskLabel(taskID string) string {
	return "lanesync-task-" + taskID
}

func (s *SyncService) linkedTask(ctx context.Context, p board.Provider, taskID string) (*board.Task, *integration.Connection, tracker.Client, error) {
	t, err := s.boards.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, nil, err
	}
	link := t.LinkFor(p)
	if !link.Linked() {
		return nil, nil, nil, fmt.Errorf("%w: task %s is not linked to %s", domain.ErrValidation, taskID, p)
	}
	if link.ConnectionID == "" {
		return nil, nil, nil, fmt.Errorf("%w: task %s link has no connection", domain.ErrValidation, taskID)
	}
	conn, client, err := s.clientFor(ctx, p, link.ConnectionID)
	if err != nil {
		return nil, nil, nil, err
	}
	return t, conn, client, nil
}

// profileFor returns the board's profile for a connection, or nil.
func (s *SyncService) profileFor(ctx context.Context, boardID, connectionID string) (*integration.Profile, error) {
	profiles, err := s.store.ListProfiles(ctx, boardID)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if profiles[i].ConnectionID == connectionID {
			return &profiles[i], nil
		}
	}
	return nil, nil
}

func (s *SyncService) pullText(ctx context.Context, t *board.Task, p board.Provider, connID string, issue *integration.Issue) (*board.Task, error) {
	return s.updateWithRetry(ctx, t, func(t *board.Task) {
		if title := issue.Title; title != "" {
			t.Title = title
		}
		t.Description = issue.Description
		t.Tags = append([]string{}, issue.Labels...)
		*t.LinkFor(p) = newLink(connID, issue)
	})
}

func (s *SyncService) saveLink(ctx context.Context, t *board.Task, p board.Provider, link board.Link) (*board.Task, error) {
	t, err := s.updateWithRetry(ctx, t, func(t *board.Task) { *t.LinkFor(p) = link })
	if err != nil {
		return nil, err
	}
	s.taskSynced(ctx, t)
	return t, nil
}

// updateWithRetry applies mutate and writes the task, re-reading it once
// when a concurrent write changed the version.
func (s *SyncService) updateWithRetry(ctx context.Context, t *board.Task, mutate func(*board.Task)) (*board.Task, error) {
	for attempt := 0; ; attempt++ {
		mutate(t)
		err := s.boards.UpdateTask(ctx, t)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= 1 {
			return nil, err
		}
		s.metrics.Conflict(ctx, "sync")
		if t, err = s.boards.GetTask(ctx, t.ID); err != nil {
			return nil, err
		}
	}
}

func (s *SyncService) taskSynced(ctx context.Context, t *board.Task) {
	publish(ctx, s.bus, eventbus.BoardSubject(t.BoardID, eventbus.SuffixTaskChanged), eventbus.TaskChangedPayload{
		BoardID: t.BoardID,
		TaskID:  t.ID,
		Version: t.Version,
		Cause:   "sync",
	})
}

func (s *SyncService) clientFor(ctx context.Context, p board.Provider, connectionID string) (*integration.Connection, tracker.Client, error) {
	if connectionID == "" {
		return nil, nil, fmt.Errorf("%w: connectionId is required", domain.ErrValidation)
	}
	conn, client, err := s.conns.ClientFor(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}
	if conn.Provider != p {
		return nil, nil, fmt.Errorf("%w: connection %s is a %s connection", domain.ErrValidation, connectionID, conn.Provider)
	}
	return conn, client, nil
}

// --- Ledger ---

// ListRuns returns the most recent runs of a board, newest first.
func (s *SyncService) ListRuns(ctx context.Context, boardID string, limit int) ([]integration.Run, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	return s.store.ListRuns(ctx, boardID, limit)
}

// GetRun returns one run with its full log.
func (s *SyncService) GetRun(ctx context.Context, id string) (*integration.Run, error) {
	return s.store.GetRun(ctx, id)
}

// ClearRuns deletes every finished run of a board. Running runs stay.
func (s *SyncService) ClearRuns(ctx context.Context, boardID string) (int64, error) {
	if _, err := s.boards.GetBoard(ctx, boardID); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteFinishedRuns(ctx, boardID)
	if err != nil {
		return 0, err
	}
	slog.Info("sync runs cleared", "board_id", boardID, "deleted", n)
	return n, nil
}

// AbandonStale closes runs left running by a crashed process.
func (s *SyncService) AbandonStale(ctx context.Context) (int64, error) {
	n, err := s.store.AbandonStaleRuns(ctx, s.cfg.StaleRunAfter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Warn("abandoned stale sync runs", "count", n, "older_than", s.cfg.StaleRunAfter)
	}
	return n, nil
}

// StartStaleSweep spawns a goroutine that abandons stale runs every
// interval until ctx is done.
func (s *SyncService) StartStaleSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.AbandonStale(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("abandon stale runs failed", "error", err)
				}
			}
		}
	}()
}

// StaleSweepInterval is how often serve looks for stale runs: a quarter of
// the cutoff, at least once a minute apart.
func StaleSweepInterval(staleAfter time.Duration) time.Duration {
	if d := staleAfter / 4; d > time.Minute {
		return d
	}
	return time.Minute
}

// ListProfiles returns the sync profiles of a board.
func (s *SyncService) ListProfiles(ctx context.Context, boardID string) ([]integration.Profile, error) {
	if _, err := s.boards.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}
	return s.store.ListProfiles(ctx, boardID)
}

func newLink(connectionID string, issue *integration.Issue) board.Link {
	now := time.Now().UTC()
	return board.Link{
		ConnectionID:      connectionID,
		ExternalID:        issue.ExternalID,
		URL:               issue.URL,
		ExternalUpdatedAt: issue.UpdatedAt,
		LastSyncAt:        &now,
	}
}

func setLink(req *board.CreateTaskRequest, p board.Provider, link board.Link) {
	if p == board.ProviderOpenProject {
		req.OpenProject = link
		return
	}
	req.Jira = link
}

func stateKeys(lanes []board.Lane) []string {
	keys := make([]string, len(lanes))
	for i := range lanes {
		keys[i] = lanes[i].StateKey
	}
	return keys
}
