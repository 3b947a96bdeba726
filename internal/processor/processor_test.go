package processor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimasrn/webhook-inbox/internal/queue"
	"github.com/nimasrn/webhook-inbox/internal/reconciler"
	"github.com/nimasrn/webhook-inbox/internal/repository"
	"github.com/nimasrn/webhook-inbox/test/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProcessor struct {
	calls int32
}

func (p *countingProcessor) Process(context.Context, *queue.Message) error {
	atomic.AddInt32(&p.calls, 1)
	return nil
}

func (p *countingProcessor) GetType() string { return "counting" }

func testServiceConfig() ServiceConfig {
	return ServiceConfig{
		Queue: queue.QueueConfig{
			Name:          "webhooks",
			ConsumerGroup: "inbox",
			ConsumerName:  "test",
			PollInterval:  20 * time.Millisecond,
			EnableDLQ:     true,
		},
		Consumers:     2,
		Workers:       2,
		StatsInterval: 50 * time.Millisecond,
	}
}

func TestNewProcessorService_RequiresProcessor(t *testing.T) {
	_, adapter := setupTestRedis(t)
	_, err := NewProcessorService(adapter, nil, testServiceConfig())
	assert.Error(t, err)
}

func TestProcessorService_DispatchesToWorkers(t *testing.T) {
	_, adapter := setupTestRedis(t)
	p := &countingProcessor{}

	svc, err := NewProcessorService(adapter, p, testServiceConfig())
	require.NoError(t, err)
	require.NoError(t, svc.Start())

	pub, err := queue.NewQueue(adapter, queue.QueueConfig{Name: "webhooks", ConsumerGroup: "inbox"})
	require.NoError(t, err)
	defer pub.Stop(time.Second)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := pub.Publish(ctx, []byte(`{}`), nil)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&p.calls) == 5 }, 3*time.Second, 20*time.Millisecond)
	svc.Stop()

	stats, err := pub.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingMessages)
}

func TestProcessorService_EndToEnd(t *testing.T) {
	_, adapter := setupTestRedis(t)
	db := openTestDB(t)
	repo := repository.NewMessageRepository(db)
	n := &recordingNotifier{}

	wp := NewWebhookProcessor(reconciler.New(repo), db, NewIdempotencyService(adapter, DefaultIdempotencyConfig()), n)
	svc, err := NewProcessorService(adapter, wp, testServiceConfig())
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	pub, err := queue.NewQueue(adapter, queue.QueueConfig{Name: "webhooks", ConsumerGroup: "inbox"})
	require.NoError(t, err)
	defer pub.Stop(time.Second)

	ctx := context.Background()
	_, err = pub.Publish(ctx, fixtures.MessagePayload("m1", "c1", "Alice", "hi", 1700000000), nil)
	require.NoError(t, err)
	_, err = pub.Publish(ctx, []byte(`broken`), nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		msgs, err := repo.ListByConversation(ctx, "c1")
		return err == nil && len(msgs) == 1
	}, 3*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		st, err := pub.GetStats(ctx)
		return err == nil && st.DeadLetters == 1
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, n.count())
}
