package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/Strob0t/LaneSync/internal/domain/webhook"
)

// InboundWebhook handles POST /api/v1/webhooks/inbound/{source}
//
// The sender gets 202 on first receipt and 200 when an already processed
// idempotency key is repeated. Processing failures are recorded on the event
// and reported in the body, never as an HTTP error.
func (h *Handlers) InboundWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.BodyLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	res, err := h.Webhooks.Receive(r.Context(), urlParam(r, "source"), r.Header.Get("Authorization"), r.Header, body)
	if err != nil {
		writeDomainError(w, err, "webhook source not found")
		return
	}
	status := http.StatusAccepted
	if res.IdempotentReplay {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// ReplayWebhookEvent handles POST /api/v1/webhooks/events/{id}/replay
func (h *Handlers) ReplayWebhookEvent(w http.ResponseWriter, r *http.Request) {
	res, err := h.Webhooks.Replay(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "webhook event not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListWebhookEvents handles GET /api/v1/webhooks/events?source=&limit=
func (h *Handlers) ListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	f := webhook.ListFilter{
		Source: r.URL.Query().Get("source"),
		Limit:  queryInt(r, "limit", 0),
	}
	f.Normalize()
	events, err := h.Webhooks.ListEvents(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "webhook events not found")
		return
	}
	if events == nil {
		events = []webhook.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetWebhookEvent handles GET /api/v1/webhooks/events/{id}
func (h *Handlers) GetWebhookEvent(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Webhooks.GetEvent, "webhook event not found")(w, r)
}

// --- Secrets ---

// ListWebhookSecrets handles GET /api/v1/webhooks/secrets
func (h *Handlers) ListWebhookSecrets(w http.ResponseWriter, r *http.Request) {
	handleList(h.Webhooks.ListSecrets)(w, r)
}

// UpsertWebhookSecret handles PUT /api/v1/webhooks/secrets/{source}
func (h *Handlers) UpsertWebhookSecret(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[webhook.UpsertSecretRequest](w, r, h.BodyLimit)
	if !ok {
		return
	}
	rev, err := h.Webhooks.UpsertSecret(r.Context(), urlParam(r, "source"), req)
	if err != nil {
		writeDomainError(w, err, "webhook source not found")
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// RotateWebhookSecret handles POST /api/v1/webhooks/secrets/{source}/rotate
func (h *Handlers) RotateWebhookSecret(w http.ResponseWriter, r *http.Request) {
	rev, err := h.Webhooks.RotateSecret(r.Context(), urlParam(r, "source"))
	if err != nil {
		writeDomainError(w, err, "webhook source not found")
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// DisableWebhookSecret handles DELETE /api/v1/webhooks/secrets/{source}
func (h *Handlers) DisableWebhookSecret(w http.ResponseWriter, r *http.Request) {
	if err := h.Webhooks.DisableSecret(r.Context(), urlParam(r, "source")); err != nil {
		writeDomainError(w, err, "webhook source not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
