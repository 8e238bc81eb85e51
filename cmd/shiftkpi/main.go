package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/savegress/shiftkpi/internal/api"
	"github.com/savegress/shiftkpi/internal/cache"
	"github.com/savegress/shiftkpi/internal/config"
	"github.com/savegress/shiftkpi/internal/engine"
	"github.com/savegress/shiftkpi/internal/logging"
	"github.com/savegress/shiftkpi/internal/metrics"
	"github.com/savegress/shiftkpi/internal/oee"
	"github.com/savegress/shiftkpi/internal/publisher"
	"github.com/savegress/shiftkpi/internal/service"
	"github.com/savegress/shiftkpi/internal/store"
	"github.com/savegress/shiftkpi/internal/store/memory"
	"github.com/savegress/shiftkpi/internal/store/postgres"
	"github.com/savegress/shiftkpi/internal/store/sqlite"
	"github.com/savegress/shiftkpi/pkg/workerpool"
)

func main() {
	// Load configuration
	var cfg *config.Config
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.LoadFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting ShiftKPI - shift production KPI service",
		"environment", cfg.Server.Environment,
		"storage", cfg.Storage.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to open store", "type", cfg.Storage.Type, "error", err)
	}
	defer st.Close()
	logger.Info("Store opened", "type", cfg.Storage.Type)

	reportCache, err := cache.New(cache.Config{
		URL:       cfg.Redis.URL,
		KeyPrefix: cfg.Redis.Prefix,
		TTL:       cfg.Redis.TTL,
		Enabled:   cfg.Redis.Enabled,
	})
	if err != nil {
		logger.Fatal("Failed to connect to redis", "error", err)
	}
	defer reportCache.Close()
	if reportCache.IsEnabled() {
		logger.Info("Report cache enabled", "prefix", cfg.Redis.Prefix)
	}

	var pub publisher.Publisher = publisher.Nop{}
	if cfg.Kafka.Enabled {
		k, err := publisher.NewKafka(publisher.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: "shiftkpi",
		})
		if err != nil {
			logger.Fatal("Failed to create kafka publisher", "error", err)
		}
		pub = k
		logger.Info("Report publishing enabled", "topic", cfg.Kafka.Topic)
	}
	defer pub.Close()

	pool, err := workerpool.NewWorkerPool(workerpool.Config{
		Workers:         cfg.Workers.Count,
		QueueSize:       cfg.Workers.QueueSize,
		ShutdownTimeout: cfg.Workers.ShutdownTimeout,
		ErrorHandler: func(te *workerpool.TaskError) {
			logger.Debug("Worker task failed", "task_id", te.TaskID, "error", te.Err)
		},
	})
	if err != nil {
		logger.Fatal("Failed to create worker pool", "error", err)
	}
	registerPoolGauges(m, pool)

	eng := engine.New(engine.Config{
		DefaultMicrostopThreshold: cfg.Engine.DefaultMicrostopThreshold,
		IncludeIntervals:          cfg.Engine.IncludeIntervals,
		Targets: oee.Targets{
			OEE:          cfg.Engine.Targets.OEE,
			Availability: cfg.Engine.Targets.Availability,
			Performance:  cfg.Engine.Targets.Performance,
			Quality:      cfg.Engine.Targets.Quality,
		},
	})

	svc := service.New(service.Deps{
		Engine:        eng,
		Store:         st,
		Pool:          pool,
		Cache:         reportCache,
		Publisher:     pub,
		Metrics:       m,
		Logger:        logger,
		RepairOffsets: cfg.Engine.RepairOffsets,
	})

	// Create API server
	server := api.NewServer(svc, m, logger.With("component", "http"), api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		JWTSecret:      cfg.Auth.JWTSecret,
		JWTIssuer:      cfg.Auth.Issuer,
	})
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("API authentication disabled; set JWT_SECRET to require bearer tokens")
	}

	// Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := pool.StopWithContext(shutdownCtx); err != nil {
		logger.Error("Worker pool shutdown error", "error", err)
	}

	logger.Info("ShiftKPI stopped")
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Type {
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return postgres.New(connectCtx, postgres.Config{
			URL:      cfg.URL,
			MaxConns: int32(cfg.MaxConns),
			MinConns: int32(cfg.MinConns),
		})
	case "sqlite":
		return sqlite.New(cfg.SQLitePath)
	default:
		return memory.New(), nil
	}
}

func registerPoolGauges(m *metrics.Metrics, pool *workerpool.WorkerPool) {
	m.RegisterGauge("workerpool_active_workers", "Worker goroutines started by the pool.", func() float64 {
		return float64(pool.Stats().ActiveWorkers)
	})
	m.RegisterGauge("workerpool_queued_tasks", "Jobs waiting in the worker pool queue.", func() float64 {
		return float64(pool.Stats().QueuedTasks)
	})
	m.RegisterGauge("workerpool_rejected_tasks", "Jobs rejected by the worker pool.", func() float64 {
		return float64(pool.Stats().RejectedTasks)
	})
}
