package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/webhook-inbox/internal/queue"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
	"github.com/nimasrn/webhook-inbox/pkg/redis"
	"github.com/nimasrn/webhook-inbox/pkg/worker"
)

const (
	ProcessingTimeout = 5 * time.Second
	StatsInterval     = 30 * time.Second
	ShutdownTimeout   = time.Minute
	HighLagThreshold  = 10000
)

// Processor handles one queued delivery. A nil error acks it.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

type ServiceConfig struct {
	Queue         queue.QueueConfig
	Consumers     int
	Workers       int
	StatsInterval time.Duration
}

// ProcessorService fans deliveries from several stream consumers into one
// worker pool.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	config    ServiceConfig
	queues    []*queue.Queue
	processor Processor
	metrics   *ServiceMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager
}

func NewProcessorService(adapter redis.RedisAdapter, processor Processor, config ServiceConfig) (*ProcessorService, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor: processor is required")
	}
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = StatsInterval
	}

	metrics := NewServiceMetrics()
	if wp, ok := processor.(*WebhookProcessor); ok {
		metrics = wp.Metrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter:   adapter,
		config:    config,
		processor: processor,
		metrics:   metrics,
		ctx:       ctx,
		cancel:    cancel,
		worker:    worker.NewWorkerManager(config.Workers*4, config.Workers, nil),
	}, nil
}

func (s *ProcessorService) Start() error {
	logger.Info("[processor] starting", "type", s.processor.GetType())

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Info("[processor] worker pool stopped", "reason", err)
		}
	}()

	for i := 0; i < s.config.Consumers; i++ {
		qc := s.config.Queue
		qc.ConsumerName = fmt.Sprintf("%s-instance-%d", qc.ConsumerName, i)

		q, err := queue.NewQueue(s.adapter, qc)
		if err != nil {
			return fmt.Errorf("processor: create consumer %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("processor: start consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(1)
	go s.statsReporter()

	logger.Info("[processor] started", "queue", s.config.Queue.Name, "consumers", len(s.queues), "workers", s.worker.Size())
	return nil
}

func (s *ProcessorService) statsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportStats()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportStats() {
	st := s.metrics.GetStats()
	logger.Info("[processor] stats",
		"processed", st.Processed,
		"failed", st.Failed,
		"dead_lettered", st.DeadLettered,
		"outcomes", st.Outcomes,
		"rate_per_second", st.RatePerSec,
		"avg_duration_ms", st.AvgDuration.Milliseconds(),
		"uptime_seconds", st.Uptime.Seconds(),
		"backlog", s.worker.GetUnreadCount())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("[processor] redis unreachable", "error", err)
		return
	}
	if len(s.queues) == 0 {
		return
	}
	// consumers share one stream and group, one stats call covers them all
	qs, err := s.queues[0].GetStats(ctx)
	if err != nil {
		logger.Warn("[processor] queue stats unavailable", "error", err)
		return
	}
	logger.Info("[processor] queue stats", "total", qs.TotalMessages, "pending", qs.PendingMessages, "dead_letters", qs.DeadLetters)
	if qs.PendingMessages > HighLagThreshold {
		logger.Warn("[processor] queue has high lag", "pending", qs.PendingMessages)
	}
}

func (s *ProcessorService) Stop() {
	logger.Info("[processor] shutting down")
	s.cancel()

	var stopWG sync.WaitGroup
	for i, q := range s.queues {
		stopWG.Add(1)
		go func(index int, q *queue.Queue) {
			defer stopWG.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("[processor] consumer stop failed", "consumer", index, "error", err)
			}
		}(i, q)
	}
	stopWG.Wait()

	s.worker.Exit()
	s.wg.Wait()
	s.reportStats()

	logger.Info("[processor] stopped")
}

type job struct {
	msg    *queue.Message
	result chan error
	ctx    context.Context
}

// messageHandler hands the delivery to the pool and waits for its result.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	jobCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout+time.Second)
	defer cancel()

	j := &job{msg: msg, result: make(chan error, 1), ctx: jobCtx}
	if !s.worker.Enqueue(j) {
		return fmt.Errorf("processor: worker pool stopped")
	}

	select {
	case err := <-j.result:
		return err
	case <-jobCtx.Done():
		return fmt.Errorf("processor: timeout waiting for worker: %w", jobCtx.Err())
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, v interface{}) {
	j, ok := v.(*job)
	if !ok {
		logger.Error("[processor] invalid job type", "worker", workerIndex)
		return
	}
	if j.ctx.Err() != nil {
		logger.Warn("[processor] job expired before start", "worker", workerIndex, "delivery_id", j.msg.ID)
		return
	}

	ctx, cancel := context.WithTimeout(j.ctx, ProcessingTimeout)
	defer cancel()

	err := s.processor.Process(ctx, j.msg)
	if err != nil {
		logger.Error("[processor] delivery failed", "worker", workerIndex, "delivery_id", j.msg.ID, "error", err)
	}
	// result is buffered, the waiting handler may already be gone
	j.result <- err
}
