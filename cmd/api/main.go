package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/webhook-inbox/internal/config"
	"github.com/nimasrn/webhook-inbox/internal/handlers"
	"github.com/nimasrn/webhook-inbox/internal/queue"
	"github.com/nimasrn/webhook-inbox/internal/realtime"
	"github.com/nimasrn/webhook-inbox/internal/reconciler"
	"github.com/nimasrn/webhook-inbox/internal/repository"
	"github.com/nimasrn/webhook-inbox/internal/services"
	xhttp "github.com/nimasrn/webhook-inbox/pkg/http"
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
	logger.Info("starting webhook inbox api", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pg.CreateReadWrite(cfg.ReadDB(), cfg.WriteDB(), cfg.IsDev())
	if err != nil {
		logger.Error("failed connecting to database", "driver", cfg.DBDriver, "error", err)
		return
	}
	defer db.Close()

	// redis is optional in sync mode; it then only feeds the realtime relay
	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName,
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		if cfg.WebhookAsync {
			logger.Error("failed connecting to redis", "error", err)
			return
		}
		logger.Warn("redis unavailable, realtime events stay local", "error", err)
		redisAdap = nil
	}

	// with redis every api instance relays the events channel into its own
	// hub, so local outcomes go through redis too and reach all instances
	var notifier reconciler.Notifier
	if redisAdap != nil {
		notifier = realtime.NewRedisPublisher(redisAdap, realtime.DefaultChannel)
	}
	if cfg.RealtimeListenAddr != "" {
		hub := realtime.NewHub()
		go func() {
			if err := realtime.Serve(ctx, cfg.RealtimeListenAddr, hub, cfg.CorsAllowOrigin); err != nil {
				logger.Error("realtime server stopped", "error", err)
			}
		}()
		if redisAdap != nil {
			go func() {
				if err := realtime.Relay(ctx, redisAdap, realtime.DefaultChannel, hub, nil); err != nil {
					logger.Error("realtime relay stopped", "error", err)
				}
			}()
		} else {
			notifier = hub
		}
	}

	var publisher services.PayloadPublisher
	if cfg.WebhookAsync {
		q, err := queue.NewQueue(redisAdap, queue.QueueConfig{
			Name:          cfg.QueueName,
			ConsumerGroup: cfg.QueueConsumerGroup,
			MaxLen:        cfg.QueueMaxLen,
			EnableDLQ:     cfg.QueueEnableDLQ,
		})
		if err != nil {
			logger.Error("failed creating queue", "error", err)
			return
		}
		publisher = q
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)

	messageRepo := repository.NewMessageRepository(db)
	rec := reconciler.New(messageRepo, reconciler.WithNotifier(notifier))

	// services
	messageService := services.NewMessageService(messageRepo, rec, notifier, publisher)
	healthService := services.NewHealthService(db)

	// handlers
	webhookHandler := handlers.NewWebhookHandler(messageService, cfg.WebhookAsync)
	messageHandler := handlers.NewMessageHandler(messageService)
	healthHandler := handlers.NewHealthHandler(healthService)

	opt := xhttp.DefaultServerOption
	if cfg.HttpServerReadTimeout > 0 {
		opt.ReadTimeout = cfg.HttpServerReadTimeout
	}
	if cfg.HttpServerWriteTimeout > 0 {
		opt.WriteTimeout = cfg.HttpServerWriteTimeout
	}
	if cfg.HttpServerReadBufferSize > 0 {
		opt.ReadBufferSize = cfg.HttpServerReadBufferSize
	}
	if cfg.HttpServerWriteBufferSize > 0 {
		opt.WriteBufferSize = cfg.HttpServerWriteBufferSize
	}

	s := xhttp.NewServer(opt)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.CORSMiddleware(xhttp.CORSOptions{AllowOrigin: cfg.CorsAllowOrigin}))
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpServerRequestTimeout))
	s.Use(xhttp.CompressMiddleware(6))

	g := s.Router.Group(cfg.HttpBaseRequestUrl)
	handlers.RegisterWebhookRoutes(g, webhookHandler)
	handlers.RegisterMessageRoutes(g, messageHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	go func() {
		var err error
		if cfg.HttpPrefork {
			err = s.PreforkListenAndServe(cfg.HttpListenAddr)
		} else {
			err = s.ListenAndServe(cfg.HttpListenAddr)
		}
		if err != nil {
			logger.Error("error in running http-server", "error", err)
			stop()
		}
	}()
	logger.Info("api listening", "addr", cfg.HttpListenAddr, "base", cfg.HttpBaseRequestUrl, "async", cfg.WebhookAsync)

	<-ctx.Done()
	logger.Info("shutting down api")
	s.Shutdown()
}
