// Command server starts the chat gateway HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/charlalabs/charla-gateway/internal/adapter/ai"
	"github.com/charlalabs/charla-gateway/internal/adapter/ai/real"
	"github.com/charlalabs/charla-gateway/internal/adapter/ai/stub"
	"github.com/charlalabs/charla-gateway/internal/adapter/httpserver"
	"github.com/charlalabs/charla-gateway/internal/adapter/observability"
	"github.com/charlalabs/charla-gateway/internal/adapter/queue/redpanda"
	"github.com/charlalabs/charla-gateway/internal/adapter/repo/postgres"
	"github.com/charlalabs/charla-gateway/internal/app"
	"github.com/charlalabs/charla-gateway/internal/config"
	"github.com/charlalabs/charla-gateway/internal/domain"
	"github.com/charlalabs/charla-gateway/internal/service/license"
	"github.com/charlalabs/charla-gateway/internal/service/ratelimiter"
	"github.com/charlalabs/charla-gateway/internal/service/reply"
	"github.com/charlalabs/charla-gateway/internal/service/sanitize"
	"github.com/charlalabs/charla-gateway/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		slog.Error("rules load failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Infra: DB pool and schema
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	repo := postgres.NewConversationRepo(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		slog.Error("schema bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Chat client: deterministic stub in test mode, real provider otherwise.
	var chatClient domain.ChatClient
	if cfg.IsTest() {
		chatClient = stub.New()
		slog.Info("chat client initialized in stub mode")
	} else {
		keyPool, err := ai.NewKeyPool(cfg.ChatAPIKeys)
		if err != nil {
			slog.Error("chat credential pool init failed", slog.Any("error", err))
			os.Exit(1)
		}
		chatClient = real.New(cfg, keyPool)
	}

	// Optional chat-event audit producer.
	var events domain.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := redpanda.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic)
		if err != nil {
			slog.Error("event producer connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = producer.Close() }()
		events = producer
	}

	// Optional per-user rate limiter.
	var userLimiter ratelimiter.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("redis url invalid", slog.Any("error", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		userLimiter = ratelimiter.NewRedisLuaLimiter(rdb, ratelimiter.NewBucketConfigFromPerMinute(cfg.UserRatePerMin))
		slog.Info("per-user rate limiter enabled", slog.Int("per_min", cfg.UserRatePerMin))
	}

	// Optional license verifier with background refresh.
	runCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	verifier := license.New(cfg)
	if verifier != nil {
		if err := verifier.RefreshOnce(ctx); err != nil {
			slog.Error("initial license refresh failed", slog.Any("error", err))
		}
		go verifier.Run(runCtx)
	}

	sanitizer := sanitize.New(rules)
	pipeline := reply.New(rules, sanitizer, chatClient)
	chatSvc := usecase.NewChatService(cfg, rules, repo, pipeline, events)

	srv := httpserver.NewServer(cfg, chatSvc, verifier, userLimiter, app.BuildDBCheck(pool))
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	pool.Close()
}
