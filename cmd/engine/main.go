package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/oncall-engine/internal/config"
	"github.com/kursadbilgin/oncall-engine/internal/dispatch"
	"github.com/kursadbilgin/oncall-engine/internal/engine"
	"github.com/kursadbilgin/oncall-engine/internal/handler"
	"github.com/kursadbilgin/oncall-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/oncall-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/oncall-engine/internal/infra/redis"
	"github.com/kursadbilgin/oncall-engine/internal/observability"
	"github.com/kursadbilgin/oncall-engine/internal/repository"
	"github.com/kursadbilgin/oncall-engine/internal/resolver"
	"github.com/kursadbilgin/oncall-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewDispatchRateLimiter(rdb, cfg.DispatchRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	var dispatcher dispatch.Dispatcher
	switch cfg.DispatchMode {
	case config.DispatchModeQueue:
		mq, err := dispatch.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer mq.Close() //nolint:errcheck

		dispatcher, err = dispatch.NewAMQPDispatcher(mq, limiter)
		if err != nil {
			logger.Fatal("amqp dispatcher initialization failed", zap.Error(err))
		}
	case config.DispatchModeWebhook:
		dispatcher, err = dispatch.NewWebhookDispatcher(cfg.WebhookBridgeURL, limiter)
		if err != nil {
			logger.Fatal("webhook dispatcher initialization failed", zap.Error(err))
		}
	}

	attemptRepo := repository.NewGormAttemptRepo(db)
	ruleRepo := repository.NewGormRuleRepo(db)
	incidentRepo := repository.NewGormIncidentRepo(db)
	recordRepo := repository.NewGormDispatchRecordRepo(db)

	ruleResolver, err := resolver.NewResolver(incidentRepo)
	if err != nil {
		logger.Fatal("resolver initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	processor, err := engine.NewProcessor(
		attemptRepo,
		ruleRepo,
		ruleResolver,
		dispatcher,
		recordRepo,
		time.Duration(cfg.MaxPendingAgeHours)*time.Hour,
		logger,
	)
	if err != nil {
		logger.Fatal("processor initialization failed", zap.Error(err))
	}
	processor.SetMetrics(metrics)

	scanner, err := engine.NewScanner(
		attemptRepo,
		processor,
		time.Duration(cfg.ScanIntervalSeconds)*time.Second,
		cfg.ScanLimit,
		cfg.ScanConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("scanner initialization failed", zap.Error(err))
	}
	scanner.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	handler.RegisterMetricsRoute(app, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("escalation scanner started",
			zap.Int("intervalSeconds", cfg.ScanIntervalSeconds),
			zap.Int("limit", cfg.ScanLimit),
			zap.Int("concurrency", cfg.ScanConcurrency),
			zap.String("dispatchMode", cfg.DispatchMode),
		)
		return scanner.Start(gctx)
	})

	g.Go(func() error {
		logger.Info("ops server started", zap.Int("port", cfg.OpsPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.OpsPort))
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("engine terminated", zap.Error(err))
	}

	logger.Info("engine stopped")
}
