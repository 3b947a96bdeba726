package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nimasrn/webhook-inbox/internal/config"
	gateway "github.com/nimasrn/webhook-inbox/internal/gateways"
	"github.com/nimasrn/webhook-inbox/internal/queue"
	"github.com/nimasrn/webhook-inbox/internal/reconciler"
	"github.com/nimasrn/webhook-inbox/internal/repository"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
	"github.com/nimasrn/webhook-inbox/pkg/pg"
	"github.com/nimasrn/webhook-inbox/pkg/redis"
)

const usage = `usage: cli <command> [--env=.env]
  migrate [--dir=./migrations]          apply database migrations
  load    [--dir=./payloads] [--url=]   replay stored webhook payloads
  dlq     [--count=20]                  list dead lettered deliveries`

func main() {
	defer logger.Sync()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(2)
	}

	err := config.Load(config.EnvPath(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "migrate":
		err = runMigrate()
	case "load":
		err = runLoad(ctx)
	case "dlq":
		err = runDLQ(ctx)
	default:
		fmt.Println(usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func argOr(name, fallback string) string {
	if v, ok := config.Arg(os.Args, name); ok && v != "" {
		return v
	}
	return fallback
}

// main.go migrate --dir=./migrations
func runMigrate() error {
	return pg.Migrate(config.Get().WriteDB(), argOr("dir", "./migrations"))
}

func runLoad(ctx context.Context) error {
	dir := argOr("dir", "./payloads")

	if url, ok := config.Arg(os.Args, "url"); ok && url != "" {
		client, err := gateway.NewClient(gateway.DefaultConfig(url))
		if err != nil {
			return err
		}
		defer client.Close()
		_, err = LoadDir(ctx, dir, func(ctx context.Context, raw []byte) (reconciler.Summary, error) {
			resp, err := client.Deliver(ctx, raw)
			if err != nil {
				return reconciler.Summary{}, err
			}
			return summaryFromResponse(resp)
		})
		return err
	}

	cfg := config.Get()
	db, err := pg.CreateReadWrite(cfg.ReadDB(), cfg.WriteDB(), false)
	if err != nil {
		return err
	}
	defer db.Close()

	rec := reconciler.New(repository.NewMessageRepository(db))
	_, err = LoadDir(ctx, dir, func(ctx context.Context, raw []byte) (reconciler.Summary, error) {
		var outcomes []reconciler.Outcome
		err := db.WithinTransaction(ctx, func(ctx context.Context) error {
			var err error
			outcomes, err = rec.Ingest(ctx, raw)
			return err
		})
		if err != nil {
			return reconciler.Summary{}, err
		}
		return reconciler.Summarize(outcomes), nil
	})
	return err
}

func runDLQ(ctx context.Context) error {
	cfg := config.Get()
	count, err := strconv.ParseInt(argOr("count", "20"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid --count: %w", err)
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName,
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		return err
	}
	defer redisAdap.Close()

	q, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:          cfg.QueueName,
		ConsumerGroup: cfg.QueueConsumerGroup,
		EnableDLQ:     true,
	})
	if err != nil {
		return err
	}

	stats, err := q.GetStats(ctx)
	if err != nil {
		return err
	}
	logger.Info("queue stats", "queue", q.Name(), "total", stats.TotalMessages, "pending", stats.PendingMessages, "dead_letters", stats.DeadLetters, "consumers", stats.ConsumerCount)

	entries, err := q.DeadLetters(ctx, count)
	if err != nil {
		return err
	}
	for _, m := range entries {
		logger.Info("dead letter", "id", m.ID, "original_id", m.Metadata["original_id"], "reason", m.Metadata["reason"], "attempts", m.Attempts, "payload", string(m.Data))
	}
	return nil
}
