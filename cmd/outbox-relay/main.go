package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/crownarena/server/internal/infra"
	"github.com/crownarena/server/internal/repository"
	"github.com/jonboulle/clockwork"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("outbox relay failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.KafkaEnabled {
		return fmt.Errorf("outbox relay needs KAFKA_ENABLED=true")
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()

	poller := infra.NewOutboxPoller(pool, repository.NewOutboxRepository(), producer, clockwork.NewRealClock(), cfg, logger)
	logger.Info("outbox relay starting", "brokers", cfg.KafkaBrokers, "topic_prefix", cfg.TopicPrefix)
	return poller.Run(ctx)
}
