// Command sinu-api runs the subscription tracker backend: the REST API, the
// Firestore-backed subscription store, and the scheduled status
// recalculation sweep.
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

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sinuapp/sinu-api/middleware/gin"
	"github.com/sinuapp/sinu-api/pkg/api"
	"github.com/sinuapp/sinu-api/pkg/auth"
	"github.com/sinuapp/sinu-api/pkg/config"
	"github.com/sinuapp/sinu-api/pkg/lifecycle"
	zerologadapter "github.com/sinuapp/sinu-api/pkg/lifecycle/logger/zerolog"
	prommetrics "github.com/sinuapp/sinu-api/pkg/lifecycle/metrics/prometheus"
	"github.com/sinuapp/sinu-api/pkg/mail"
	"github.com/sinuapp/sinu-api/pkg/scheduler"
	firestorestore "github.com/sinuapp/sinu-api/storage/firestore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sinu-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zl := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "sinu-api").Logger()
	logger := zerologadapter.NewLogger(zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("firestore client: %w", err)
	}
	defer client.Close()

	store, err := firestorestore.New(client, firestorestore.Config{})
	if err != nil {
		return fmt.Errorf("firestore store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(registry, "sinu")

	manager, err := lifecycle.NewManager(store, lifecycle.Config{
		Logger:         logger,
		Metrics:        metrics,
		SweepBatchSize: cfg.SweepBatchSize,
	})
	if err != nil {
		return fmt.Errorf("lifecycle manager: %w", err)
	}

	authClient, err := auth.New(auth.Config{APIKey: cfg.FirebaseAPIKey})
	if err != nil {
		return fmt.Errorf("auth client: %w", err)
	}

	mailer, err := mail.New(mail.Config{
		SendGridAPIKey: cfg.SendGridAPIKey,
		FromEmail:      cfg.FromEmail,
		SupportEmail:   cfg.SupportEmail,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}

	handlerConfig := api.Config{
		Manager:         manager,
		Store:           store,
		Auth:            authClient,
		Mailer:          mailer,
		SchedulerKey:    cfg.SchedulerKey,
		AllowedOrigins:  cfg.AllowedOrigins,
		Logger:          logger,
		MetricsRegistry: registry,
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		handlerConfig.LoginLimiter = gin.RateLimit(gin.RateLimitConfig{
			Client: redisClient,
			Logger: logger,
		})
	}

	handler, err := api.NewHandler(handlerConfig)
	if err != nil {
		return fmt.Errorf("api handler: %w", err)
	}

	var sweeper *scheduler.Scheduler
	if cfg.SweepSchedule != "" {
		sweeper, err = scheduler.New(scheduler.Config{
			Manager:  manager,
			Schedule: cfg.SweepSchedule,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("sweep scheduler: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening",
			lifecycle.Field{Key: "addr", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
