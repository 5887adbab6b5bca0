// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server and task worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/catalog"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/config"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/database"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/handler"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/logger"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/normalize"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/notify"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/payments"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/repository"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/service"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	os.Exit(shutdown(log, run(cfg, log)))
}

// shutdown flushes the logger and returns the process exit code.
func shutdown(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("server exited", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// ── 1. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.DSN(), log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	log.Info("connected to postgres")

	// ── 2. Redis: catalog cache and task queue ───────────────────────────
	cacheClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisCacheDB,
	})
	defer cacheClient.Close()

	queueOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisQueueDB,
	}
	queue := asynq.NewClient(queueOpt)
	defer queue.Close()

	// ── 3. Notifications ─────────────────────────────────────────────────
	var notifier notify.Dispatcher = notify.NewLogDispatcher(log)
	if cfg.RabbitMQURL != "" {
		pub, err := notify.NewRabbitPublisher(cfg.RabbitMQURL, cfg.NotifyExchange)
		if err != nil {
			return fmt.Errorf("notifications: %w", err)
		}
		defer pub.Close()
		notifier = pub
		log.Info("publishing notifications", zap.String("exchange", cfg.NotifyExchange))
	} else {
		log.Warn("RABBITMQ_URL not set, notifications are only logged")
	}

	// ── 4. Wire up layers ────────────────────────────────────────────────
	store := repository.NewPostgresStore(pool)
	sessions := catalog.NewCached(catalog.NewPostgres(pool), cacheClient, cfg.CatalogCacheTTL, log)
	gateway := payments.NewStripeGateway(cfg.StripeKey, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL, nil)

	svc := service.NewBookingService(store, sessions, gateway, notifier, tasks.NewEnqueuer(queue), log, service.Options{
		SlotLookback: cfg.SlotMatchLookback,
		AbandonAfter: cfg.AbandonAfter,
	})

	bookingHandler := handler.NewBookingHandler(svc, log)
	webhookHandler := handler.NewWebhookHandler(
		svc,
		normalize.NewSchedulingNormalizer(cfg.SchedulingWebhookSecret, cfg.SchedulingSignatureTolerance),
		normalize.NewPaymentNormalizer(cfg.PaymentWebhookSecret),
		log,
	)

	// ── 5. Task worker and sweep scheduler ───────────────────────────────
	worker := asynq.NewServer(queueOpt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			tasks.QueueCritical: 6,
			tasks.QueueDefault:  3,
		},
		Logger: log.Sugar(),
	})
	if err := tasks.Start(worker, tasks.NewWorker(svc, gateway, log).Mux(), log); err != nil {
		return err
	}
	defer worker.Shutdown()

	scheduler := asynq.NewScheduler(queueOpt, &asynq.SchedulerOpts{Location: time.UTC, Logger: log.Sugar()})
	if err := tasks.RegisterSweeps(scheduler, cfg.SweepSpec); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Shutdown()

	// ── 6. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      handler.NewRouter(bookingHandler, webhookHandler, handler.NewRateLimiter(cfg.MaxRequestsPerMin, log), log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}
