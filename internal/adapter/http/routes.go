package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/LaneSync/internal/middleware"
)

// RouteMiddleware holds per-route middleware built from runtime dependencies.
// Nil entries are skipped.
type RouteMiddleware struct {
	Idempotency func(http.Handler) http.Handler
	WebhookRate func(http.Handler) http.Handler
}

// WebhookRateKey charges inbound webhook requests per (source, client IP).
func WebhookRateKey(r *http.Request) string {
	return chi.URLParam(r, "source") + "|" + middleware.ClientIP(r)
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, mw RouteMiddleware) {
	idem := optional(mw.Idempotency)
	rate := optional(mw.WebhookRate)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"1.0.0"}`))
		})

		// Boards and lanes
		r.Post("/boards", h.CreateBoard)
		r.Get("/boards/{id}", h.GetBoard)
		r.Get("/boards/{id}/lanes", h.ListLanes)
		r.Post("/boards/{id}/lanes", h.CreateLane)
		r.Post("/boards/{id}/lanes/reorder", h.ReorderBoardLanes)
		r.Post("/lanes/reorder", h.ReorderLanes)
		r.Get("/boards/{id}/wip", h.WIP)
		r.With(idem).Post("/boards/{id}/import", h.BulkImport)

		// Tasks
		r.Get("/boards/{id}/tasks", h.ListTasks)
		r.Post("/lanes/{id}/tasks", h.CreateTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Patch("/tasks/{id}", h.UpdateTask)
		r.Post("/tasks/{id}/move", h.MoveTask)

		// Single-task tracker operations
		r.Post("/tasks/{id}/{provider}/create", h.CreateIssue)
		r.Post("/tasks/{id}/{provider}/link", h.LinkIssue)
		r.Post("/tasks/{id}/{provider}/pull", h.PullIssue)
		r.Post("/tasks/{id}/{provider}/push", h.PushIssue)

		// Integrations
		r.Route("/integrations/{provider}", func(r chi.Router) {
			r.Get("/connections", h.ListConnections)
			r.Post("/connections", h.CreateConnection)
			r.Get("/connections/{id}", h.GetConnection)
			r.Delete("/connections/{id}", h.DeleteConnection)
			r.Put("/connections/{id}/credential", h.UpdateCredential)
			r.Post("/connections/{id}/test", h.TestConnection)
			r.With(idem).Post("/import", h.Import)
			r.Post("/sync-profiles/{id}/sync", h.SyncNow)
		})
		r.Get("/boards/{id}/sync-profiles", h.ListProfiles)

		// Sync run ledger
		r.Get("/boards/{id}/sync-runs", h.ListRuns)
		r.Delete("/boards/{id}/sync-runs", h.ClearRuns)
		r.Get("/sync-runs/{id}", h.GetRun)

		// Webhooks
		r.Route("/webhooks", func(r chi.Router) {
			r.With(rate).Post("/inbound/{source}", h.InboundWebhook)
			r.Get("/events", h.ListWebhookEvents)
			r.Get("/events/{id}", h.GetWebhookEvent)
			r.Post("/events/{id}/replay", h.ReplayWebhookEvent)
			r.Get("/secrets", h.ListWebhookSecrets)
			r.Put("/secrets/{source}", h.UpsertWebhookSecret)
			r.Post("/secrets/{source}/rotate", h.RotateWebhookSecret)
			r.Delete("/secrets/{source}", h.DisableWebhookSecret)
		})
	})
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}
