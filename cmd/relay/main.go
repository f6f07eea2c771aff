package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mobile-chat/backend/pkg/config"
	"mobile-chat/backend/pkg/di"
	"mobile-chat/backend/pkg/logger"
	"mobile-chat/backend/pkg/router"
	"mobile-chat/backend/roster/repository"
	"mobile-chat/backend/shared/observability"

	"gorm.io/gorm"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting relay", "version", cfg.Server.Version, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing("chat-relay")
	if err != nil {
		log.LogError(err, "Failed to set up tracing")
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	if _, err := observability.SetupPrometheusMetrics(); err != nil {
		log.LogError(err, "Failed to set up metrics")
		os.Exit(1)
	}

	// The roster database is optional for the relay; it is only health-checked
	var db *gorm.DB
	if os.Getenv("DB_HOST") != "" {
		db, err = config.NewDB(ctx, cfg, log)
		if err != nil {
			log.LogError(err, "Failed to initialize roster database")
			os.Exit(1)
		}
		if err := repository.NewGormParticipantRepository(db).Migrate(); err != nil {
			log.LogError(err, "Failed to migrate roster database")
			os.Exit(1)
		}
	}

	container, err := di.New(cfg, di.Options{DB: db, Logger: log})
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	go container.Hub.Run(ctx)
	go container.RateLimiter.RunCleanup(ctx, time.Minute)
	container.Health.Start(ctx)

	r := router.New(container)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.Relay.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Relay listening", "port", cfg.Relay.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Relay failed to start")
			os.Exit(1)
		}
	}()

	go func() {
		if err := container.GRPC.StartGRPCServer(ctx, cfg.Relay.GRPCPort); err != nil {
			log.LogError(err, "gRPC health server failed", "port", cfg.Relay.GRPCPort)
		}
	}()
	container.GRPC.SetServing(true)

	<-ctx.Done()
	log.Info("Shutting down relay...")
	container.GRPC.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Relay forced to shutdown")
	}

	log.Info("Relay exited gracefully")
}
