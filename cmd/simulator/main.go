package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimasrn/webhook-inbox/internal/config"
	gateway "github.com/nimasrn/webhook-inbox/internal/gateways"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	gin.SetMode(gin.ReleaseMode)

	if err := config.Load(config.EnvPath(os.Args)); err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	cfg := config.Get()

	minDelay, maxDelay := cfg.SimulatorMinDelay, cfg.SimulatorMaxDelay
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	client, err := gateway.NewClient(gateway.DefaultConfig(cfg.SimulatorWebhookUrl))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create webhook client")
	}
	defer client.Close()

	sim := NewSimulator(client, minDelay, maxDelay)
	router := SetupRouter(NewHandler(sim))

	log.Info().
		Str("addr", cfg.SimulatorListenAddr).
		Str("webhook_url", cfg.SimulatorWebhookUrl).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting webhook simulator")

	srv := &http.Server{
		Addr:         cfg.SimulatorListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down simulator...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	sim.Wait()
	log.Info().Msg("Simulator exited")
}
