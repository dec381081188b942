// Command api runs the intake HTTP surface: enqueue/getJob/listByParent
// and the SSE subscription endpoints, grounded on the teacher's
// cmd/api/main.go (Postgres connect + migrate, Redis-backed rate
// limiter, graceful shutdown on SIGINT).
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
	"social-job-orchestrator/internal/config"
	"social-job-orchestrator/internal/eventbus"
	"social-job-orchestrator/internal/fanout"
	"social-job-orchestrator/internal/intake"
	"social-job-orchestrator/internal/queue"
	"social-job-orchestrator/internal/ratelimit"
	"social-job-orchestrator/internal/store"
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

	hub := fanout.New(bus)
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := intake.New(cfg, st, accountStore, registry, hub, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	registry.Close()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
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
