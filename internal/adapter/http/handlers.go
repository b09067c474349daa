package http

import (
	"net/http"

	"github.com/Strob0t/LaneSync/internal/domain/board"
	"github.com/Strob0t/LaneSync/internal/service"
)

// Handlers holds the services the REST API delegates to.
type Handlers struct {
	Boards      *service.BoardService
	Connections *service.ConnectionService
	Sync        *service.SyncService
	Webhooks    *service.WebhookService
	BodyLimit   int64
}

// --- Boards and lanes ---

// CreateBoard handles POST /api/v1/boards
func (h *Handlers) CreateBoard(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.BodyLimit, h.Boards.CreateBoard)(w, r)
}

// GetBoard handles GET /api/v1/boards/{id}
func (h *Handlers) GetBoard(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Boards.GetBoard, "board not found")(w, r)
}

// ListLanes handles GET /api/v1/boards/{id}/lanes
func (h *Handlers) ListLanes(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.Boards.ListLanes, "board not found")(w, r)
}

// CreateLane handles POST /api/v1/boards/{id}/lanes
func (h *Handlers) CreateLane(w http.ResponseWriter, r *http.Request) {
	handleWithBody(h.BodyLimit, http.StatusCreated, h.Boards.CreateLane, "board not found")(w, r)
}

// ReorderBoardLanes handles POST /api/v1/boards/{id}/lanes/reorder
func (h *Handlers) ReorderBoardLanes(w http.ResponseWriter, r *http.Request) {
	handleWithBody(h.BodyLimit, http.StatusOK, h.Boards.ReorderLanes, "board not found")(w, r)
}

// ReorderLanes handles POST /api/v1/lanes/reorder
func (h *Handlers) ReorderLanes(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[board.ReorderLanesRequest](w, r, h.BodyLimit)
	if !ok {
		return
	}
	lanes, err := h.Boards.ReorderLaneSet(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "board not found")
		return
	}
	writeJSON(w, http.StatusOK, lanes)
}

// WIP handles GET /api/v1/boards/{id}/wip
func (h *Handlers) WIP(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.Boards.WIP, "board not found")(w, r)
}

// BulkImport handles POST /api/v1/boards/{id}/import
func (h *Handlers) BulkImport(w http.ResponseWriter, r *http.Request) {
	handleWithBody(h.BodyLimit, http.StatusOK, h.Boards.BulkImport, "board not found")(w, r)
}

// --- Tasks ---

// ListTasks handles GET /api/v1/boards/{id}/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.Boards.ListTasks, "board not found")(w, r)
}

// CreateTask handles POST /api/v1/lanes/{id}/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	handleWithBody(h.BodyLimit, http.StatusCreated, h.Boards.CreateTask, "lane not found")(w, r)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Boards.GetTask, "task not found")(w, r)
}

// UpdateTask handles PATCH /api/v1/tasks/{id}
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	handleWithBody(h.BodyLimit, http.StatusOK, h.Boards.UpdateTask, "task not found")(w, r)
}

// MoveTask handles POST /api/v1/tasks/{id}/move
func (h *Handlers) MoveTask(w http.ResponseWriter, r *http.Request) {
	handleWithBody(h.BodyLimit, http.StatusOK, h.Boards.MoveTask, "task or lane not found")(w, r)
}
