package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eyeconlabs/bump-service/config"
	"github.com/eyeconlabs/bump-service/internal/broadcast"
	"github.com/eyeconlabs/bump-service/internal/delivery/http"
	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/database"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/kafka"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/logger"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/telegram"
	"github.com/eyeconlabs/bump-service/internal/scheduler"
	"github.com/eyeconlabs/bump-service/internal/tasks"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("info")
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.NewLogger(&cfg.Logging)
	log.Info().
		Str("service", cfg.Service.Name).
		Str("port", cfg.Service.Port).
		Msg("starting bump service")

	store, err := database.New(cfg.Database.Path, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	// Campaigns left "running" by a previous process are stale; in-flight
	// progress is gone with it.
	if n, err := store.ReconcileStale(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to reconcile stale campaigns")
	} else if n > 0 {
		log.Warn().Int("campaigns", n).Msg("reconciled stale campaigns to stopped")
	}

	var producer domain.EventProducer
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Logger:  log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		producer = p
	} else {
		log.Info().Msg("kafka brokers not configured, event publishing disabled")
		producer = kafka.NopProducer{}
	}
	defer producer.Close()

	sessions := telegram.NewSessionStore(telegram.SessionStoreConfig{
		APIID:   cfg.Telegram.APIID,
		APIHash: cfg.Telegram.APIHash,
		Store:   store,
		Logger:  log,
	})

	runner := broadcast.NewRunner(broadcast.RunnerConfig{
		Sessions: sessions,
		Store:    store,
		Producer: producer,
		Logger:   log,
	})

	orch := tasks.NewOrchestrator(tasks.OrchestratorConfig{
		Sessions:    sessions,
		Store:       store,
		Logger:      log,
		FolderLinks: cfg.Folders.InviteLinks,
		PeerLimit:   cfg.Folders.PeerLimit,
	})

	sched, err := scheduler.New(orch, cfg.Folders.SweepCron, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	sched.Start()

	server := http.NewServer(http.ServerConfig{
		Port:       cfg.Service.Port,
		Name:       cfg.Service.Name,
		AdminToken: cfg.Service.AdminToken,
		Store:      store,
		Sessions:   sessions,
		Producer:   producer,
		Runner:     runner,
		Orch:       orch,
		Logger:     log,
	})
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := sched.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown failed")
	}
	runner.Shutdown(ctx)
	orch.Shutdown(ctx)
	sessions.Shutdown(ctx)

	log.Info().Msg("bump service stopped")
}
