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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/jobsync/internal/api"
	"github.com/dunamismax/jobsync/internal/config"
	"github.com/dunamismax/jobsync/internal/gateway"
	"github.com/dunamismax/jobsync/internal/queue"
	"github.com/dunamismax/jobsync/internal/ratelimit"
	"github.com/dunamismax/jobsync/internal/session"
	"github.com/dunamismax/jobsync/internal/storage"
	"github.com/dunamismax/jobsync/internal/store"
	"github.com/dunamismax/jobsync/internal/syncer"
	"github.com/dunamismax/jobsync/internal/telemetry"
	"github.com/dunamismax/jobsync/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  "Run the HTTP API the job pages call. Session expiry runs on the task queue when QUEUE_ENABLED is set, otherwise on an in-process sweeper.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	journal, closeJournal, err := openJournal(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	var attachments api.Attachments
	if cfg.Storage.Enabled {
		files, err := openStorage(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		attachments = files
		logger.Printf("resume storage enabled endpoint=%s bucket=%s", cfg.Storage.Endpoint, files.Bucket())
	}

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		budget, err := ratelimit.NewBudget(redisClient, ratelimit.Config{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			return fmt.Errorf("create rate limiter: %w", err)
		}
		limiter = budget
		logger.Printf("mutation rate limit enabled capacity=%d window=%s", cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	}

	var scheduler session.Scheduler
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		queueClient = queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Printf("queue client close error: %v", err)
			}
		}()
		scheduler = queueClient
	}

	gatewayLogger := log.New(os.Stdout, "[gateway] ", log.LstdFlags|log.Lmsgprefix)
	sessions := session.NewManager(session.Config{
		IdleTimeout:         cfg.Session.IdleTimeout,
		MaxConcurrentChecks: cfg.Session.MaxConcurrentChecks,
		Journal:             journal,
		Metrics:             syncer.NewMetrics(registry),
		Logger:              log.New(os.Stdout, "[sync] ", log.LstdFlags|log.Lmsgprefix),
	}, func(token gateway.TokenSource) (gateway.RemoteJobGateway, error) {
		return gateway.NewClient(gateway.Config{
			BaseURL:        cfg.Gateway.BaseURL,
			Timeout:        cfg.Gateway.Timeout,
			MaxAttempts:    cfg.Gateway.MaxAttempts,
			InitialBackoff: cfg.Gateway.InitialBackoff,
			MaxBackoff:     cfg.Gateway.MaxBackoff,
			Logger:         gatewayLogger,
		}, token)
	}, scheduler)
	defer sessions.Close()

	if queueClient != nil {
		workerLogger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
		srv, err := worker.NewServer(workerLogger, cfg.Queue, cfg.Worker, sessions, registry)
		if err != nil {
			return fmt.Errorf("create worker: %w", err)
		}
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		defer srv.Shutdown()
		workerLogger.Printf("session expiry worker started queue=%s redis=%s concurrency=%d", cfg.Queue.Name, cfg.Queue.RedisAddr, cfg.Worker.Concurrency)
	} else {
		go sessions.RunSweeper(ctx, cfg.Session.SweepInterval)
	}

	app := api.NewServer(api.Options{
		Logger:        logger,
		Sessions:      sessions,
		Auth:          api.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Attachments:   attachments,
		PresignTTL:    cfg.Storage.PresignTTL,
		RateLimiter:   limiter,
		Registry:      registry,
		Tracer:        otel.Tracer("jobsync/api"),
		PageSize:      cfg.View.PageSize,
		FetchPageSize: cfg.View.FetchPageSize,
	})

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: cfg.API.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s marketplace=%s", cfg.API.Addr, cfg.Gateway.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	return nil
}

// openJournal picks Postgres when a DSN is configured and the in-memory
// journal otherwise.
func openJournal(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.Journal, func(), error) {
	if cfg.DSN == "" {
		logger.Printf("mutation journal in memory")
		return store.NewMemoryJournal(), func() {}, nil
	}

	journal, err := store.NewPostgresJournal(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	logger.Printf("mutation journal in postgres")
	return journal, func() {
		if err := journal.Close(); err != nil {
			logger.Printf("journal close error: %v", err)
		}
	}, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (*storage.Client, error) {
	files, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Endpoint,
		Access:   cfg.AccessKey,
		Secret:   cfg.SecretKey,
		Bucket:   cfg.Bucket,
		Region:   cfg.Region,
		UseSSL:   cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if err := files.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	return files, nil
}
