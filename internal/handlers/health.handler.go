package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/webhook-inbox/internal/model"
	xhttp "github.com/nimasrn/webhook-inbox/pkg/http"
)

type HealthService interface {
	Get(ctx context.Context) model.Health
}

type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{
		svc: svc,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	health := h.svc.Get(ctx)
	if !health.Healthy() {
		writeJSON(ctx, 503, health)
		return
	}
	writeJSON(ctx, 200, health)
}
