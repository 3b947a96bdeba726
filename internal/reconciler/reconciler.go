package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/webhook-inbox/internal/webhook"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
	"github.com/nimasrn/webhook-inbox/pkg/prom"
)

type Reconciler struct {
	store      MessageStore
	normalizer *webhook.Normalizer
	notifier   Notifier
}

type Option func(*Reconciler)

func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) {
		r.notifier = n
	}
}

func WithNormalizer(n *webhook.Normalizer) Option {
	return func(r *Reconciler) {
		r.normalizer = n
	}
}

func New(store MessageStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:      store,
		normalizer: webhook.NewNormalizer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply applies a single event to the store.
func (r *Reconciler) Apply(ctx context.Context, ev webhook.Event) (Outcome, error) {
	var (
		outcome Outcome
		err     error
	)

	switch e := ev.(type) {
	case webhook.MessageReceived:
		outcome, err = r.insert(ctx, e)
	case webhook.StatusUpdated:
		outcome, err = r.updateStatus(ctx, e)
	default:
		return Outcome{}, fmt.Errorf("reconciler: unsupported event %T", ev)
	}
	if err != nil {
		return Outcome{}, err
	}

	r.report(ctx, outcome)
	return outcome, nil
}

func (r *Reconciler) insert(ctx context.Context, e webhook.MessageReceived) (Outcome, error) {
	if e.Record == nil {
		return Outcome{}, fmt.Errorf("reconciler: message event without record")
	}
	created, err := r.store.Create(ctx, e.Record)
	if err != nil {
		return Outcome{}, fmt.Errorf("reconciler: apply %s: %w", e.Name(), err)
	}
	return Inserted(created), nil
}

func (r *Reconciler) updateStatus(ctx context.Context, e webhook.StatusUpdated) (Outcome, error) {
	outcome := Outcome{
		Kind:              OutcomeNoMatch,
		ProviderMessageID: e.ProviderMessageID,
		MetaMessageID:     e.MetaMessageID,
		Status:            e.Status,
	}

	if e.ProviderMessageID == "" && e.MetaMessageID == "" {
		return outcome, nil
	}
	if e.Status == "" {
		logger.Warn("reconciler: status event without status ignored",
			"message_id", e.ProviderMessageID,
			"meta_msg_id", e.MetaMessageID)
		outcome.Kind = OutcomeIgnored
		return outcome, nil
	}

	id, found, err := r.store.UpdateStatusFirstMatch(ctx, e.ProviderMessageID, e.MetaMessageID, e.Status)
	if err != nil {
		return Outcome{}, fmt.Errorf("reconciler: apply %s: %w", e.Name(), err)
	}
	if found {
		outcome.Kind = OutcomeUpdated
		outcome.MatchedID = id
	}
	return outcome, nil
}

// Ingest normalizes one payload and applies its events in order. A payload
// that cannot be decoded applies nothing. A store failure stops the payload
// and returns the outcomes of the events applied before it; those writes
// are not rolled back.
func (r *Reconciler) Ingest(ctx context.Context, raw []byte) ([]Outcome, error) {
	start := time.Now()

	events, stats, err := r.normalizer.Normalize(raw)
	if err != nil {
		prom.IncWebhookPayload(prom.ResultMalformed)
		logger.Warn("reconciler: malformed payload rejected", "error", err, "bytes", len(raw))
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(events))
	for i, ev := range events {
		outcome, err := r.Apply(ctx, ev)
		if err != nil {
			prom.IncWebhookPayload(prom.ResultStoreError)
			prom.ObserveIngestDuration(time.Since(start).Seconds(), prom.ResultStoreError)
			logger.Error("reconciler: payload aborted",
				"event_index", i,
				"event", ev.Name(),
				"applied", len(outcomes),
				"error", err)
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}

	summary := Summarize(outcomes)
	prom.IncWebhookPayload(prom.ResultOK)
	prom.ObserveIngestDuration(time.Since(start).Seconds(), prom.ResultOK)
	logger.Info("reconciler: payload ingested",
		"entries", stats.Entries,
		"skipped", stats.Skipped,
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"no_match", summary.NoMatch,
		"duration", time.Since(start).String())

	return outcomes, nil
}

func (r *Reconciler) report(ctx context.Context, o Outcome) {
	prom.IncWebhookOutcome(string(o.Kind))

	switch o.Kind {
	case OutcomeInserted:
		logger.Debug("reconciler: message inserted",
			"id", o.Record.ID,
			"wa_id", o.Record.ConversationID,
			"message_id", o.Record.ProviderMessageID)
	case OutcomeUpdated:
		logger.Debug("reconciler: status updated",
			"id", o.MatchedID,
			"message_id", o.ProviderMessageID,
			"meta_msg_id", o.MetaMessageID,
			"status", o.Status)
	case OutcomeNoMatch:
		logger.Info("reconciler: status matched no message",
			"message_id", o.ProviderMessageID,
			"meta_msg_id", o.MetaMessageID,
			"status", o.Status)
	}

	if r.notifier != nil {
		r.notifier.Notify(ctx, o)
	}
}
