package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crownarena/server/db"
	"github.com/crownarena/server/internal/app"
	"github.com/crownarena/server/internal/auth"
	"github.com/crownarena/server/internal/catalog"
	"github.com/crownarena/server/internal/handler"
	"github.com/crownarena/server/internal/infra"
	"github.com/crownarena/server/internal/matchmaking"
	"github.com/crownarena/server/internal/repository"
	"github.com/crownarena/server/internal/service"
	"github.com/crownarena/server/internal/world"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	clock := clockwork.NewRealClock()
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiry)
	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()

	var (
		source   catalog.Source = catalog.NewStaticSource(catalog.DefaultCards)
		accounts world.AccountStore
		results  world.ResultRecorder
		health   handler.HealthChecker
	)
	var resultSvc *service.ResultService

	if cfg.DatabaseEnable {
		if cfg.MigrateOnStart {
			if err := infra.RunMigrations(cfg.DSN(), db.Migrations, "migrations", logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}

		pool, err := infra.NewPostgresPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		logger.Info("connected to postgres")

		source = service.NewCardSource(pool, repository.NewPgCardRepository())
		accounts = service.NewAccountService(pool, repository.NewPgAccountRepository())
		resultSvc = service.NewResultService(pool, repository.NewPgResultRepository(), repository.NewOutboxRepository(), clock, service.ResultConfig{
			Attempts:    cfg.ResultAttempts,
			Backoff:     cfg.ResultBackoff,
			TrophyDelta: cfg.TrophyDelta,
		}, logger)
		results = resultSvc
		health = infra.PoolChecker{Pool: pool}
	} else {
		logger.Warn("database disabled, using built-in cards; results are not persisted")
	}

	// Card catalog
	cards := catalog.NewCache(source, clock, cfg.Catalog(), logger)
	if n, err := cards.Warm(ctx); err != nil {
		logger.Warn("card catalog warm-up failed", "error", err)
	} else {
		logger.Info("card catalog warmed", "cards", n)
	}

	// World
	conns := infra.NewConnHub(infra.WSConfigFrom(cfg), logger)
	hub := world.New(cfg.World(), cfg.Battle(), matchmaking.New(cfg.Matchmaking(), logger), world.Deps{
		Notifier: conns.Sender(infra.ChannelWorld),
		Battles:  conns.Sender(infra.ChannelBattle),
		Catalog:  cards,
		Accounts: accounts,
		Bots:     service.NewBotService(producer, cfg.BotTopic, clock),
		Results:  results,
		Clock:    clock,
		Logger:   logger,
	})

	scheduler, err := infra.NewScheduler(clock, logger)
	if err != nil {
		return err
	}
	if err := hub.RegisterJobs(scheduler); err != nil {
		return err
	}
	scheduler.Start()

	router := app.NewRouter(app.RouterDeps{
		World:   hub,
		Conns:   conns,
		JWTMgr:  jwtMgr,
		Health:  health,
		Gateway: handler.GatewayConfigFrom(cfg),
		Clock:   clock,
		Logger:  logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	invalidations := infra.NewKafkaConsumer(cfg.KafkaBrokers, cfg.CatalogTopic, "arena-server-catalog", cfg.KafkaEnabled, logger)
	defer invalidations.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("game server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return invalidations.Run(gctx, infra.CatalogInvalidation(cards, logger))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := scheduler.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown", "error", err)
		}
		conns.Shutdown(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		if err := hub.Shutdown(shutdownCtx); err != nil {
			logger.Warn("battle sessions still running at shutdown", "error", err)
		}
		if resultSvc != nil {
			if err := resultSvc.Wait(shutdownCtx); err != nil {
				logger.Warn("battle results still pending at shutdown", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}
