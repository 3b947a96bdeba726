package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/webhook-inbox/pkg/logger"
	"github.com/nimasrn/webhook-inbox/pkg/prom"
	"github.com/nimasrn/webhook-inbox/pkg/redis"
)

const (
	fieldData       = "data"
	fieldEnqueuedAt = "enqueued_at"
	metaPrefix      = "meta_"
	dlqSuffix       = ":dlq"
)

const (
	deliveryAcked = "acked"
	deliveryRetry = "retry"
	deliveryDead  = "dead_letter"
)

// Message is one raw webhook payload waiting in the stream.
type Message struct {
	ID         string
	Data       []byte
	Metadata   map[string]string
	EnqueuedAt time.Time
	// Attempts counts earlier deliveries of this entry; zero on first read.
	Attempts int

	mu      sync.Mutex
	settled bool
	queue   *Queue
}

func (m *Message) settle() error {
	if m.queue == nil {
		return fmt.Errorf("message %s is not bound to a queue", m.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return fmt.Errorf("message %s already settled", m.ID)
	}
	m.settled = true
	return nil
}

func (m *Message) isSettled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled
}

// Ack removes the message from the pending list.
func (m *Message) Ack(ctx context.Context) error {
	if err := m.settle(); err != nil {
		return err
	}
	return m.queue.ack(ctx, m.ID)
}

// Nack leaves the message pending so it is reclaimed after the visibility
// timeout.
func (m *Message) Nack() error {
	if err := m.settle(); err != nil {
		return err
	}
	prom.IncQueueDelivery(m.queue.config.Name, deliveryRetry)
	return nil
}

// DeadLetter copies the message to the dead letter stream and acks it.
func (m *Message) DeadLetter(ctx context.Context, reason string) error {
	if err := m.settle(); err != nil {
		return err
	}
	if err := m.queue.moveToDeadLetterQueue(ctx, m, reason); err != nil {
		return err
	}
	return m.queue.ack(ctx, m.ID)
}

// MessageHandler processes one message. When the handler leaves the message
// unsettled, a nil error acks it and a non-nil error leaves it for retry.
type MessageHandler func(ctx context.Context, msg *Message) error

type QueueConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

type Queue struct {
	adapter redis.RedisAdapter
	config  QueueConfig
	handler MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type QueueStats struct {
	TotalMessages   int64
	PendingMessages int64
	DeadLetters     int64
	ConsumerCount   int64
}

func NewQueue(adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if adapter == nil {
		return nil, fmt.Errorf("queue: redis adapter is required")
	}
	if config.Name == "" {
		return nil, fmt.Errorf("queue: name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		adapter: adapter,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := adapter.XGroupCreateMkStream(ctx, config.Name, config.ConsumerGroup, "0"); err != nil {
		if !strings.Contains(err.Error(), "BUSYGROUP") {
			cancel()
			return nil, fmt.Errorf("queue: create consumer group: %w", err)
		}
	}
	return q, nil
}

func (q *Queue) Name() string {
	return q.config.Name
}

func (q *Queue) DeadLetterName() string {
	return q.config.Name + dlqSuffix
}

// Publish appends a payload to the stream and returns its stream id.
func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		fieldData:       string(data),
		fieldEnqueuedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range metadata {
		values[metaPrefix+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("queue: publish: %w", err)
	}

	if q.config.MaxLen > 0 {
		if err := q.adapter.XTrimApprox(ctx, q.config.Name, q.config.MaxLen); err != nil {
			logger.Warn("[queue] trim failed", "queue", q.config.Name, "error", err)
		}
	}
	return id, nil
}

func (q *Queue) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("queue: marshal: %w", err)
	}
	return q.Publish(ctx, raw, metadata)
}

// Consume starts the polling loop. It returns immediately.
func (q *Queue) Consume(handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("queue: message handler is required")
	}
	q.handler = handler
	q.wg.Add(1)
	go q.consumeLoop()
	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.processMessages()
			q.claimStuckMessages()
		}
	}
}

// Fetch reads up to count new messages for this consumer without running
// the handler. The caller settles each one.
func (q *Queue) Fetch(ctx context.Context, count int64) ([]*Message, error) {
	entries, err := q.adapter.XReadGroup(ctx, q.config.ConsumerGroup, q.config.ConsumerName, q.config.Name, ">", count)
	if err != nil {
		return nil, fmt.Errorf("queue: fetch: %w", err)
	}
	out := make([]*Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, q.toMessage(e))
	}
	return out, nil
}

func (q *Queue) processMessages() {
	messages, err := q.Fetch(q.ctx, q.config.BatchSize)
	if err != nil {
		if q.ctx.Err() == nil {
			logger.Error("[queue] read failed", "queue", q.config.Name, "error", err)
		}
		return
	}

	for _, msg := range messages {
		q.handleMessage(msg)
	}
}

func (q *Queue) claimStuckMessages() {
	pending, err := q.adapter.XPendingExt(q.ctx, q.config.Name, q.config.ConsumerGroup, 100)
	if err != nil || len(pending) == 0 {
		return
	}

	deliveries := make(map[string]int64, len(pending))
	var ids []string
	for _, p := range pending {
		if p.Idle >= q.config.VisibilityTimeout {
			ids = append(ids, p.ID)
			deliveries[p.ID] = p.RetryCount
		}
	}
	if len(ids) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(q.ctx, q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, ids...)
	if err != nil {
		logger.Warn("[queue] claim failed", "queue", q.config.Name, "error", err)
		return
	}

	for _, sm := range messages {
		msg := q.toMessage(sm)
		msg.Attempts = int(deliveries[sm.ID])
		q.handleMessage(msg)
	}
}

func (q *Queue) handleMessage(msg *Message) {
	if msg.Attempts >= q.config.MaxRetries {
		logger.Warn("[queue] retries exhausted", "queue", q.config.Name, "id", msg.ID, "attempts", msg.Attempts)
		if err := msg.DeadLetter(q.ctx, "max retries exceeded"); err != nil {
			logger.Error("[queue] dead letter failed", "queue", q.config.Name, "id", msg.ID, "error", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	err := q.handler(ctx, msg)
	if msg.isSettled() {
		return
	}
	if err != nil {
		logger.Warn("[queue] handler failed, leaving pending", "queue", q.config.Name, "id", msg.ID, "error", err)
		_ = msg.Nack()
		return
	}
	if err := msg.Ack(q.ctx); err != nil {
		logger.Error("[queue] ack failed", "queue", q.config.Name, "id", msg.ID, "error", err)
	}
}

func (q *Queue) ack(ctx context.Context, id string) error {
	if err := q.adapter.XAck(ctx, q.config.Name, q.config.ConsumerGroup, id); err != nil {
		return fmt.Errorf("queue: ack %s: %w", id, err)
	}
	prom.IncQueueDelivery(q.config.Name, deliveryAcked)
	return nil
}

func (q *Queue) moveToDeadLetterQueue(ctx context.Context, msg *Message, reason string) error {
	if !q.config.EnableDLQ {
		logger.Warn("[queue] dropping message, dead letter queue disabled", "queue", q.config.Name, "id", msg.ID, "reason", reason)
		return nil
	}

	values := map[string]interface{}{
		fieldData:        string(msg.Data),
		"original_id":    msg.ID,
		"original_queue": q.config.Name,
		"attempts":       msg.Attempts,
		"reason":         reason,
		"failed_at":      time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range msg.Metadata {
		values[metaPrefix+k] = v
	}

	if _, err := q.adapter.XAdd(ctx, q.DeadLetterName(), values); err != nil {
		return fmt.Errorf("queue: dead letter %s: %w", msg.ID, err)
	}
	prom.IncQueueDelivery(q.config.Name, deliveryDead)
	logger.Warn("[queue] moved to dead letter queue", "queue", q.config.Name, "id", msg.ID, "reason", reason)
	return nil
}

func (q *Queue) toMessage(sm redis.StreamMessage) *Message {
	msg := &Message{
		ID:       sm.ID,
		Metadata: make(map[string]string),
		queue:    q,
	}

	for k, v := range sm.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch {
		case k == fieldData:
			msg.Data = []byte(s)
		case k == fieldEnqueuedAt:
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				msg.EnqueuedAt = ts
			}
		case strings.HasPrefix(k, metaPrefix):
			msg.Metadata[strings.TrimPrefix(k, metaPrefix)] = s
		}
	}
	return msg
}

func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("queue: timeout waiting for %s to stop", q.config.Name)
	}
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	total, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}
	stats := &QueueStats{TotalMessages: total}

	if pending, err := q.adapter.XPending(ctx, q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}
	if dead, err := q.adapter.XLen(ctx, q.DeadLetterName()); err == nil {
		stats.DeadLetters = dead
	}

	prom.SetQueuePending(q.config.Name, stats.PendingMessages)
	return stats, nil
}

// DeadLetters lists up to count entries of the dead letter stream.
func (q *Queue) DeadLetters(ctx context.Context, count int64) ([]*Message, error) {
	entries, err := q.adapter.XRange(ctx, q.DeadLetterName(), count)
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(entries))
	for _, e := range entries {
		m := q.toMessage(e)
		if reason, ok := e.Values["reason"].(string); ok {
			m.Metadata["reason"] = reason
		}
		if id, ok := e.Values["original_id"].(string); ok {
			m.Metadata["original_id"] = id
		}
		out = append(out, m)
	}
	return out, nil
}
