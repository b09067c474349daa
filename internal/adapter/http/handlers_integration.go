package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/domain/integration"
	"github.com/Strob0t/LaneSync/internal/service"
)

// --- Connections ---

// CreateConnection handles POST /api/v1/integrations/{provider}/connections
func (h *Handlers) CreateConnection(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[integration.CreateConnectionRequest](w, r, h.BodyLimit)
	if !ok {
		return
	}
	c, err := h.Connections.Create(r.Context(), p, req)
	if err != nil {
		writeDomainError(w, err, "connection creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListConnections handles GET /api/v1/integrations/{provider}/connections
func (h *Handlers) ListConnections(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	conns, err := h.Connections.List(r.Context(), p)
	if err != nil {
		writeDomainError(w, err, "connections not found")
		return
	}
	if conns == nil {
		conns = []integration.Connection{}
	}
	writeJSON(w, http.StatusOK, conns)
}

// GetConnection handles GET /api/v1/integrations/{provider}/connections/{id}
func (h *Handlers) GetConnection(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	c, err := h.Connections.Get(r.Context(), p, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteConnection handles DELETE /api/v1/integrations/{provider}/connections/{id}
func (h *Handlers) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	if err := h.Connections.Delete(r.Context(), p, urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type credentialRequest struct {
	Token string `json:"token"`
}

// UpdateCredential handles PUT /api/v1/integrations/{provider}/connections/{id}/credential
func (h *Handlers) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[credentialRequest](w, r, h.BodyLimit)
	if !ok {
		return
	}
	if !requireField(w, req.Token, "token") {
		return
	}
	res, err := h.Connections.UpdateCredential(r.Context(), p, urlParam(r, "id"), req.Token)
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// TestConnection handles POST /api/v1/integrations/{provider}/connections/{id}/test
func (h *Handlers) TestConnection(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	res, err := h.Connections.Test(r.Context(), p, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Import and sync ---

// Import handles POST /api/v1/integrations/{provider}/import
func (h *Handlers) Import(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[integration.ImportRequest](w, r, h.BodyLimit)
	if !ok {
		return
	}
	run, err := h.Sync.Import(r.Context(), p, req)
	if err != nil {
		writeDomainError(w, err, "board or connection not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// SyncNow handles POST /api/v1/integrations/{provider}/sync-profiles/{id}/sync
func (h *Handlers) SyncNow(w http.ResponseWriter, r *http.Request) {
	if _, ok := providerParam(w, r); !ok {
		return
	}
	run, err := h.Sync.SyncNow(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "sync profile not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListProfiles handles GET /api/v1/boards/{id}/sync-profiles
func (h *Handlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.Sync.ListProfiles, "board not found")(w, r)
}

// --- Single-task operations ---

// CreateIssue handles POST /api/v1/tasks/{id}/{provider}/create
func (h *Handlers) CreateIssue(w http.ResponseWriter, r *http.Request) {
	h.singleTask(w, r, true, h.Sync.CreateIssue)
}

// LinkIssue handles POST /api/v1/tasks/{id}/{provider}/link
func (h *Handlers) LinkIssue(w http.ResponseWriter, r *http.Request) {
	h.singleTask(w, r, true, h.Sync.LinkIssue)
}

// PullIssue handles POST /api/v1/tasks/{id}/{provider}/pull
func (h *Handlers) PullIssue(w http.ResponseWriter, r *http.Request) {
	h.singleTask(w, r, false, func(ctx context.Context, p board.Provider, id string, _ integration.SingleTaskRequest) (*service.TaskSyncResult, error) {
		return h.Sync.PullIssue(ctx, p, id)
	})
}

// PushIssue handles POST /api/v1/tasks/{id}/{provider}/push
func (h *Handlers) PushIssue(w http.ResponseWriter, r *http.Request) {
	h.singleTask(w, r, false, func(ctx context.Context, p board.Provider, id string, _ integration.SingleTaskRequest) (*service.TaskSyncResult, error) {
		return h.Sync.PushIssue(ctx, p, id)
	})
}

type singleTaskFunc func(ctx context.Context, p board.Provider, taskID string, req integration.SingleTaskRequest) (*service.TaskSyncResult, error)

func (h *Handlers) singleTask(w http.ResponseWriter, r *http.Request, withBody bool, fn singleTaskFunc) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	var req integration.SingleTaskRequest
	if withBody {
		if req, ok = readJSON[integration.SingleTaskRequest](w, r, h.BodyLimit); !ok {
			return
		}
	}
	res, err := fn(r.Context(), p, urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "task or connection not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Ledger ---

// ListRuns handles GET /api/v1/boards/{id}/sync-runs?limit=
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Sync.ListRuns(r.Context(), urlParam(r, "id"), queryInt(r, "limit", 0))
	if err != nil {
		writeDomainError(w, err, "board not found")
		return
	}
	if runs == nil {
		runs = []integration.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/v1/sync-runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Sync.GetRun, "sync run not found")(w, r)
}

// ClearRuns handles DELETE /api/v1/boards/{id}/sync-runs
func (h *Handlers) ClearRuns(w http.ResponseWriter, r *http.Request) {
	n, err := h.Sync.ClearRuns(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "board not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
