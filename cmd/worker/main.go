package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"job-lifecycle-service/internal/config"
	"job-lifecycle-service/internal/coordinator"
	"job-lifecycle-service/internal/media"
	"job-lifecycle-service/internal/queue"
	"job-lifecycle-service/internal/realtime"
	"job-lifecycle-service/internal/store"
	"job-lifecycle-service/internal/telemetry"
	workerproc "job-lifecycle-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	// Generate a unique worker ID from hostname or env var
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}
	logger := telemetry.NewLogger(cfg.LogLevel, "service", "lifecycle-worker", "env", cfg.Env)

	st, err := store.Open(ctx, cfg.StoreDriver, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect store: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	storage, err := media.NewStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("init media storage: %v", err)
	}
	q := queue.NewRedisQueue(rdb, cfg.MediaQueuePrefix, cfg.VisibilityTimeout)

	// Photo entries fan out through Redis to the API processes that hold the observers.
	relay := realtime.NewRedisRelay(rdb, cfg.RealtimeChannel, nil, logger)
	svc := coordinator.New(st, nil, logger,
		coordinator.WithPublisher(relay),
		coordinator.WithLimits(cfg.MessageMaxLength, cfg.TranscriptPageSize, cfg.NotificationPageSize),
	)
	processor := workerproc.NewProcessor(cfg, q, st, storage, svc, workerID, logger)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker started", "worker_id", workerID, "visibility", cfg.VisibilityTimeout, "backoff_initial", cfg.BackoffInitial)
	if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", "error", err)
	}
}
