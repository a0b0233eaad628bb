package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadflow_backend/internal/assignment"
	"leadflow_backend/internal/capture"
	"leadflow_backend/internal/caps"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/routing"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/internal/webhook"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/kvstore"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env, "queue", cfg.GetAsynqQueueName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	var redisClient *redis.Client
	if err := withRetry(ctx, log, "redis connection", 5, 2*time.Second, func() error {
		c, err := kvstore.NewRedisClient(ctx, cfg)
		if err != nil {
			return err
		}
		redisClient = c
		return nil
	}); err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	defer func() { _ = redisClient.Close() }()
	store := kvstore.NewRedisStore(redisClient, kvstore.KeyPrefix, cfg.GetStoreTimeout())

	queue, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task queue client", "error", err)
		panic("failed to initialize task queue client: " + err.Error())
	}
	defer func() { _ = queue.Close() }()

	eventBus := events.NewInMemoryBus(log)

	// Assignment events leave the process through the dispatch queue.
	webhook.Subscribe(eventBus, queue, log)

	centroids, err := routing.DefaultCentroids()
	if err != nil {
		log.Error("failed to load zip centroids", "error", err)
		panic("failed to load zip centroids: " + err.Error())
	}

	assignments := assignment.NewRepository(pool)
	orchestrator := assignment.NewOrchestrator(assignment.Deps{
		Leads:    assignments,
		Rules:    assignment.NewRuleCache(assignments, cfg.GetRuleCacheTTL()),
		Orgs:     assignments,
		Caps:     caps.NewTracker(store, cfg.GetCapLocation(), log),
		Matcher:  routing.NewMatcher(centroids),
		Selector: routing.NewSelector(store, cfg.IsRoundRobinEnabled(), log),
		EventBus: eventBus,
		Log:      log,
	})

	deliveries := webhook.NewDeliveryRepository(pool)
	dispatcher := webhook.NewDispatcher(webhook.NewRepository(pool), deliveries, webhook.Options{
		Timeout:       cfg.GetWebhookTimeout(),
		RetrySchedule: cfg.GetWebhookRetrySchedule(),
		MaxParallel:   cfg.GetWebhookMaxParallel(),
		RatePerSecond: cfg.GetWebhookRatePerSecond(),
		Retention:     cfg.GetWebhookDeliveryRetention(),
	}, log)

	go scheduler.NewDeliveryCleanup(deliveries, log, 0).Run(ctx)
	go scheduler.NewPendingLeadRequeue(capture.NewRepository(pool), queue, log, 0, 0).Run(ctx)

	worker, err := scheduler.NewWorker(cfg, scheduler.NewTaskHandlers(orchestrator, dispatcher, log), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
