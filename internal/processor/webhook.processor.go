package processor

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/webhook-inbox/internal/queue"
	"github.com/nimasrn/webhook-inbox/internal/reconciler"
	"github.com/nimasrn/webhook-inbox/internal/webhook"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
)

type Ingester interface {
	Ingest(ctx context.Context, raw []byte) ([]reconciler.Outcome, error)
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// WebhookProcessor applies one queued webhook payload. The whole payload is
// applied in a single transaction so a retried delivery never leaves
// duplicates behind, and outcomes are announced only after commit.
type WebhookProcessor struct {
	ingester    Ingester
	tx          Transactor
	idempotency *IdempotencyService
	notifier    reconciler.Notifier
	metrics     *ServiceMetrics
}

func NewWebhookProcessor(ingester Ingester, tx Transactor, idempotency *IdempotencyService, notifier reconciler.Notifier) *WebhookProcessor {
	return &WebhookProcessor{
		ingester:    ingester,
		tx:          tx,
		idempotency: idempotency,
		notifier:    notifier,
		metrics:     NewServiceMetrics(),
	}
}

func (p *WebhookProcessor) GetType() string {
	return "webhook"
}

func (p *WebhookProcessor) Metrics() *ServiceMetrics {
	return p.metrics
}

func (p *WebhookProcessor) Process(ctx context.Context, msg *queue.Message) error {
	pc, err := p.idempotency.AcquireProcessingLock(ctx, msg.ID)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		logger.Info("[processor] delivery already applied, skipping", "delivery_id", msg.ID)
		return nil
	case errors.Is(err, ErrMaxRetriesExceeded):
		p.metrics.RecordDeadLetter()
		return msg.DeadLetter(ctx, err.Error())
	case err != nil:
		p.metrics.RecordFailure()
		return err
	}
	defer func() {
		if err := p.idempotency.ReleaseLock(ctx, pc); err != nil {
			logger.Warn("[processor] lock release failed", "delivery_id", msg.ID, "error", err)
		}
	}()

	start := time.Now()
	outcomes, err := p.apply(ctx, msg.Data)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedPayload) {
			p.metrics.RecordDeadLetter()
			if markErr := p.idempotency.MarkSuccess(ctx, pc); markErr != nil {
				logger.Warn("[processor] mark processed failed", "delivery_id", msg.ID, "error", markErr)
			}
			return msg.DeadLetter(ctx, err.Error())
		}
		p.metrics.RecordFailure()
		if markErr := p.idempotency.MarkFailure(ctx, pc, err); markErr != nil {
			logger.Warn("[processor] mark failure failed", "delivery_id", msg.ID, "error", markErr)
		}
		return err
	}

	if err := p.idempotency.MarkSuccess(ctx, pc); err != nil {
		logger.Warn("[processor] mark processed failed", "delivery_id", msg.ID, "error", err)
	}
	p.metrics.RecordSuccess(time.Since(start), len(outcomes))

	if p.notifier != nil {
		for _, o := range outcomes {
			p.notifier.Notify(ctx, o)
		}
	}

	logger.Info("[processor] delivery applied",
		"delivery_id", msg.ID,
		"outcomes", len(outcomes),
		"attempts", msg.Attempts,
		"is_retry", pc.IsRetry)
	return nil
}

func (p *WebhookProcessor) apply(ctx context.Context, raw []byte) ([]reconciler.Outcome, error) {
	if p.tx == nil {
		return p.ingester.Ingest(ctx, raw)
	}
	var outcomes []reconciler.Outcome
	err := p.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		outcomes, err = p.ingester.Ingest(ctx, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}
