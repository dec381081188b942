// Command worker runs the job-execution side: the WorkerPool manager
// claims leases from each tenant/jobType queue and dispatches into the
// engagement/postbatch/chat executors. Grounded on the teacher's
// cmd/worker/main.go (Postgres connect + migrate, metrics listener,
// SIGINT/SIGTERM shutdown).
//
// The SocialClient implementation is out of scope for this repository
// (spec.md's Non-goals: "the core does not itself speak the social
// protocol"); social.NewFake is wired here as the pluggable boundary a
// real atproto client would replace via social.Factory.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"social-job-orchestrator/internal/accounts"
	"social-job-orchestrator/internal/clock"
	"social-job-orchestrator/internal/config"
	"social-job-orchestrator/internal/dispatch"
	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/eventbus"
	"social-job-orchestrator/internal/media"
	"social-job-orchestrator/internal/queue"
	"social-job-orchestrator/internal/social"
	"social-job-orchestrator/internal/store"
	"social-job-orchestrator/internal/telemetry"
	"social-job-orchestrator/internal/workerpool"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	accountStore := accounts.New(st.Pool())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	backend := queue.NewRedisBackend(redisClient)
	bus := eventbus.New(logger)
	registry := queue.New(backend, bus, logger)

	factory := social.FactoryFunc(func(_ context.Context, _ domain.AccountMetadata) (social.Client, error) {
		return social.NewFake(), nil
	})
	disp := dispatch.New(factory, accountStore, clock.Real(), clock.NewSystemRand(), http.DefaultClient)
	if uploader, err := media.NewUploader(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint, ""); err != nil {
		logger.Warn("blob uploader: falling back to social client blob endpoint", "error", err)
	} else {
		disp.SetBlobUploader(uploader)
	}

	manager := workerpool.NewManager(registry, st, bus, disp.Handle, logger, workerpool.ManagerOptions{
		DefaultConcurrency: cfg.ConcurrencyDefault,
		TenantConcurrency:  cfg.TenantConcurrency,
		LockDuration:       workerpool.Options{Concurrency: cfg.ConcurrencyDefault, LockDuration: cfg.LockDuration},
	})

	go discoverPools(ctx, st, manager, cfg.ConcurrencyDefault, logger)

	go func() {
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker started", "concurrency", cfg.ConcurrencyDefault, "tenantConcurrency", cfg.TenantConcurrency)
	<-ctx.Done()
	manager.Shutdown(context.Background())
}

// discoverPools polls the job store for (tenant, jobType) pairs with
// pending work and ensures a pool is running for each, so the worker
// process need not know the tenant set ahead of time: a pool is
// created lazily the first time a tenant's queue has work, matching
// spec.md §4.3's "a pool creates a worker when its queue is created".
func discoverPools(ctx context.Context, st *store.Store, manager *workerpool.Manager, concurrency int, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		active, err := st.ActiveTenantJobTypes(ctx)
		if err != nil {
			logger.Warn("discover pools: query failed", "error", err)
		}
		for _, tjt := range active {
			manager.EnsurePool(ctx, tjt.TenantID, tjt.JobType, concurrency)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
