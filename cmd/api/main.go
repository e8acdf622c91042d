package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"job-lifecycle-service/internal/api"
	"job-lifecycle-service/internal/config"
	"job-lifecycle-service/internal/coordinator"
	"job-lifecycle-service/internal/media"
	"job-lifecycle-service/internal/queue"
	"job-lifecycle-service/internal/ratelimit"
	"job-lifecycle-service/internal/realtime"
	"job-lifecycle-service/internal/store"
	"job-lifecycle-service/internal/telemetry"
)

var configFile string

func main() {
	if err := buildCLI().Execute(); err != nil {
		log.Fatalf("lifecycle-api: %v", err)
	}
}

func buildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lifecycle-api",
		Short: "Job lifecycle API: transitions, chat, notifications and realtime sync",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "config file path")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildMigrateCommand())
	return rootCmd
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func buildMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return err
			}
			st, err := store.Open(cmd.Context(), cfg.StoreDriver, cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connect store: %w", err)
			}
			defer st.Close()
			if err := st.RunMigrations(cmd.Context()); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := telemetry.NewLogger(cfg.LogLevel, "service", "lifecycle-api", "env", cfg.Env)

	st, err := store.Open(ctx, cfg.StoreDriver, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	hub := realtime.NewHub(logger, realtime.WithBufferSize(cfg.RealtimeBuffer))
	defer hub.Close()
	relay := realtime.NewRedisRelay(rdb, cfg.RealtimeChannel, hub, logger)
	limiter := ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitTTL)
	q := queue.NewRedisQueue(rdb, cfg.MediaQueuePrefix, cfg.VisibilityTimeout)
	storage, err := media.NewStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("media storage: %w", err)
	}

	svc := coordinator.New(st, hub, logger,
		coordinator.WithPublisher(relay),
		coordinator.WithLimiter(limiter),
		coordinator.WithMedia(storage, q, cfg.MediaMaxBytes, cfg.MaxAttempts),
		coordinator.WithLimits(cfg.MessageMaxLength, cfg.TranscriptPageSize, cfg.NotificationPageSize),
	)
	ws := realtime.NewWSHandler(hub, svc, logger, cfg.WSFrameRate, cfg.WSFrameBurst)
	server := api.New(svc, ws, q, logger, cfg.MediaMaxBytes)

	router := chi.NewRouter()
	if cfg.MediaS3Bucket == "" && strings.HasPrefix(cfg.MediaBaseURL, "/") {
		prefix := strings.TrimSuffix(cfg.MediaBaseURL, "/")
		router.Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.MediaDir))))
	}
	router.Mount("/", server.Router())

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	adminServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: server.AdminRouter(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		relay.RunWithRetry(gctx, cfg.BackoffInitial, cfg.BackoffMax)
		return nil
	})
	for _, srv := range []*http.Server{httpServer, adminServer} {
		g.Go(func() error {
			logger.Info("listening", "addr", srv.Addr, "store", cfg.StoreDriver)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return errors.Join(httpServer.Shutdown(shutdownCtx), adminServer.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		logger.Error("api stopped", slog.Any("error", err))
		return err
	}
	return nil
}
