package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"
	"github.com/nimasrn/webhook-inbox/internal/reconciler"
	"github.com/nimasrn/webhook-inbox/internal/webhook"
	xhttp "github.com/nimasrn/webhook-inbox/pkg/http"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
)

type WebhookService interface {
	Ingest(ctx context.Context, raw []byte) ([]reconciler.Outcome, error)
	Enqueue(ctx context.Context, raw []byte) (string, error)
}

type WebhookHandler struct {
	svc   WebhookService
	async bool
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/webhook", h.Receive)
}

// NewWebhookHandler builds the provider endpoint. With async set payloads
// are queued for the processor instead of being applied in the request.
func NewWebhookHandler(svc WebhookService, async bool) *WebhookHandler {
	return &WebhookHandler{
		svc:   svc,
		async: async,
	}
}

type webhookResponse struct {
	Success  bool                 `json:"success"`
	Message  string               `json:"message,omitempty"`
	Error    string               `json:"error,omitempty"`
	Summary  reconciler.Summary   `json:"summary"`
	Outcomes []reconciler.Outcome `json:"outcomes"`
}

type queuedResponse struct {
	Success bool   `json:"success"`
	Queued  bool   `json:"queued"`
	ID      string `json:"id"`
}

func (h *WebhookHandler) Receive(ctx *xhttp.RequestCtx) {
	// the body buffer is reused by fasthttp after the handler returns
	raw := append([]byte(nil), ctx.PostBody()...)

	if h.async {
		h.enqueue(ctx, raw)
		return
	}

	outcomes, err := h.svc.Ingest(ctx, raw)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedPayload) {
			writeError(ctx, 400, err.Error())
			return
		}
		logger.Error("webhook: ingest failed", "error", err, "applied", len(outcomes))
		writeJSON(ctx, 500, webhookResponse{
			Success:  false,
			Error:    "failed to process webhook",
			Summary:  reconciler.Summarize(outcomes),
			Outcomes: nonNil(outcomes),
		})
		return
	}

	writeJSON(ctx, 200, webhookResponse{
		Success:  true,
		Message:  "Webhook processed",
		Summary:  reconciler.Summarize(outcomes),
		Outcomes: nonNil(outcomes),
	})
}

func (h *WebhookHandler) enqueue(ctx *xhttp.RequestCtx, raw []byte) {
	id, err := h.svc.Enqueue(ctx, raw)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedPayload) {
			writeError(ctx, 400, err.Error())
			return
		}
		logger.Error("webhook: enqueue failed", "error", err)
		writeError(ctx, 500, "failed to queue webhook")
		return
	}
	writeJSON(ctx, 202, queuedResponse{Success: true, Queued: true, ID: id})
}

func nonNil(outcomes []reconciler.Outcome) []reconciler.Outcome {
	if outcomes == nil {
		return []reconciler.Outcome{}
	}
	return outcomes
}
