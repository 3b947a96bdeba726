package services

import (
	"context"
	"time"

	"github.com/nimasrn/webhook-inbox/internal/model"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthService struct {
	db      Pinger
	timeout time.Duration
}

func NewHealthService(db Pinger) *HealthService {
	return &HealthService{db: db, timeout: 2 * time.Second}
}

func (s *HealthService) Get(ctx context.Context) model.Health {
	h := model.Health{
		Status:    model.HealthStatusOK,
		Timestamp: time.Now().UTC(),
		Database:  model.DatabaseConnected,
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.Ping(pingCtx); err != nil {
		logger.Warn("health: database ping failed", "error", err)
		h.Status = model.HealthStatusDegraded
		h.Database = model.DatabaseDisconnected
	}
	return h
}
