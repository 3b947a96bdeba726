package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/webhook-inbox/internal/config"
	"github.com/nimasrn/webhook-inbox/internal/processor"
	"github.com/nimasrn/webhook-inbox/internal/queue"
	"github.com/nimasrn/webhook-inbox/internal/realtime"
	"github.com/nimasrn/webhook-inbox/internal/reconciler"
	"github.com/nimasrn/webhook-inbox/internal/repository"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
	"github.com/nimasrn/webhook-inbox/pkg/pg"
	"github.com/nimasrn/webhook-inbox/pkg/prom"
	"github.com/nimasrn/webhook-inbox/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer logger.Sync()

	err := config.Load(config.EnvPath(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting webhook processor", "version", version, "commit", commit, "date", date)

	db, err := pg.CreateReadWrite(cfg.ReadDB(), cfg.WriteDB(), cfg.IsDev())
	if err != nil {
		logger.Error("failed connecting to database", "driver", cfg.DBDriver, "error", err)
		return
	}
	defer db.Close()

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName,
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}
	defer redisAdap.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)

	messageRepo := repository.NewMessageRepository(db)
	rec := reconciler.New(messageRepo)

	idempotencyConfig := processor.DefaultIdempotencyConfig()
	idempotencyConfig.MaxRetries = cfg.QueueMaxRetries
	idempotencyService := processor.NewIdempotencyService(redisAdap, idempotencyConfig)

	// api instances relay these to their websocket clients
	publisher := realtime.NewRedisPublisher(redisAdap, realtime.DefaultChannel)
	webhookProcessor := processor.NewWebhookProcessor(rec, db, idempotencyService, publisher)

	consumerName := cfg.QueueConsumerName
	if consumerName == "" {
		consumerName = hostname
	}
	service, err := processor.NewProcessorService(redisAdap, webhookProcessor, processor.ServiceConfig{
		Queue: queue.QueueConfig{
			Name:              cfg.QueueName,
			ConsumerGroup:     cfg.QueueConsumerGroup,
			ConsumerName:      consumerName,
			MaxRetries:        cfg.QueueMaxRetries,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			PollInterval:      cfg.QueuePollInterval,
			BatchSize:         cfg.QueueBatchSize,
			MaxLen:            cfg.QueueMaxLen,
			EnableDLQ:         cfg.QueueEnableDLQ,
		},
		Consumers: cfg.ProcessorConsumers,
		Workers:   cfg.ProcessorWorkers,
	})
	if err != nil {
		logger.Error("failed to create the processor", "error", err)
		return
	}

	if err = service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		service.Stop()
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	service.Stop()
}
