package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	service "github.com/okian/spawnfence/internal/app"
	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/okian/spawnfence/pkg/logger"
)

// WebhookHandler accepts webhook arrays of {type, message} envelopes.
type WebhookHandler struct {
	ingester     Ingester
	maxBodyBytes int64
	logger       logger.Logger
}

// NewWebhookHandler creates a webhook handler reading at most maxBodyBytes.
func NewWebhookHandler(ingester Ingester, maxBodyBytes int64, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{ingester: ingester, maxBodyBytes: maxBodyBytes, logger: log}
}

type webhookResponse struct {
	Status string `json:"status"`
	service.IngestResult
}

// HandleWebhook handles POST /webhook. Any body that parses as a JSON array
// gets 200; per-event drops are reported only in the counts.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "api.webhook"
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", WrapKind(op, ErrBadRequest, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		h.logger.Error(r.Context(), "received data is not in list format",
			logger.Int("bytes", len(body)))
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrNotArray))
		return
	}
	var envelopes []model.Envelope
	if err := json.Unmarshal(trimmed, &envelopes); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.ingester.Ingest(r.Context(), envelopes)
	if err != nil {
		if service.IsShutdown(err) {
			writeError(w, http.StatusServiceUnavailable, "shutting_down", WrapKind(op, ErrUnavailable, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", WrapKind(op, ErrIngest, err))
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Status: "success", IngestResult: res})
}

// HandleRootRedirect handles POST / for senders configured without a path.
// 307 keeps the method and body.
func (h *WebhookHandler) HandleRootRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/webhook", http.StatusTemporaryRedirect)
}
