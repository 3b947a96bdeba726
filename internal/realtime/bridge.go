package realtime

import (
	"context"
	"encoding/json"

	"github.com/nimasrn/webhook-inbox/internal/reconciler"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
	"github.com/nimasrn/webhook-inbox/pkg/redis"
)

// DefaultChannel carries events from the processor to the api hub.
const DefaultChannel = "events"

// RedisPublisher is a reconciler.Notifier for processes without clients of
// their own; it hands events to whichever process runs the hub.
type RedisPublisher struct {
	adapter redis.RedisAdapter
	channel string
}

func NewRedisPublisher(adapter redis.RedisAdapter, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{adapter: adapter, channel: channel}
}

func (p *RedisPublisher) Notify(ctx context.Context, o reconciler.Outcome) {
	ev, ok := FromOutcome(o)
	if !ok {
		return
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		logger.Error("[realtime] marshal event failed", "type", ev.Type, "error", err)
		return
	}
	if err := p.adapter.Publish(ctx, p.channel, frame); err != nil {
		logger.Warn("[realtime] publish failed", "channel", p.channel, "error", err)
	}
}

// Relay forwards frames published on channel into hub until ctx is done.
// ready is closed once the subscription is active.
func Relay(ctx context.Context, adapter redis.RedisAdapter, channel string, hub *Hub, ready chan<- struct{}) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := adapter.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	logger.Info("[realtime] relaying events", "channel", channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			hub.Broadcast([]byte(msg.Payload))
		}
	}
}
