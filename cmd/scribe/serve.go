package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alphabot-ai/scribe/internal/auth"
	"github.com/alphabot-ai/scribe/internal/autoreply"
	"github.com/alphabot-ai/scribe/internal/config"
	httpapp "github.com/alphabot-ai/scribe/internal/http"
	"github.com/alphabot-ai/scribe/internal/llm"
	"github.com/alphabot-ai/scribe/internal/logging"
	"github.com/alphabot-ai/scribe/internal/moderation"
	"github.com/alphabot-ai/scribe/internal/rate"
	"github.com/alphabot-ai/scribe/internal/reply"
	"github.com/alphabot-ai/scribe/internal/store"
	"github.com/alphabot-ai/scribe/internal/store/postgres"
	"github.com/alphabot-ai/scribe/internal/store/sqlite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const verdictCacheSize = 4096

type closableStore interface {
	store.Store
	Close() error
}

func openStore(ctx context.Context, cfg config.Config) (closableStore, error) {
	if cfg.IsPostgres() {
		return postgres.Open(ctx, cfg.DatabaseURL)
	}
	return sqlite.Open(cfg.DatabaseURL)
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{Environment: cfg.Environment, Level: cfg.LogLevel, Service: "scribe"})
}

func runMigrate(cctx *cli.Context) error {
	cfg := config.Load()
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStore(cctx.Context, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("schema up to date", zap.Bool("postgres", cfg.IsPostgres()))
	return st.Close()
}

func runServe(cctx *cli.Context) error {
	cfg := config.Load()
	if cctx.IsSet("addr") {
		cfg.Addr = cctx.String("addr")
	}
	if cctx.IsSet("metrics-addr") {
		cfg.MetricsAddr = cctx.String("metrics-addr")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var model llm.Model
	if cfg.AutoReply.GenAIAPIKey != "" {
		gm, err := llm.NewGeminiModel(ctx, cfg.AutoReply.GenAIAPIKey, cfg.AutoReply.Model)
		if err != nil {
			return err
		}
		model = gm
	}

	gate := moderation.NewGate(newModerator(cfg, model, rdb, logger))

	var scheduler httpapp.ReplyScheduler
	var workers sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if cfg.AutoReply.Enabled {
		writer := reply.NewGenerator(model, model != nil, cfg.AutoReply.Timeout, logger.Named("reply"))
		exec := autoreply.NewExecutor(st, writer, cfg.AutoReply.Tag, logger.Named("autoreply"))

		var queue autoreply.Queue = autoreply.NewMemoryQueue()
		var dlq autoreply.DeadLetter
		if rdb != nil {
			queue = autoreply.NewRedisQueue(rdb, "")
			dlq = autoreply.NewRedisDeadLetter(rdb)
		}
		sched := autoreply.NewScheduler(queue, exec, st, autoreply.Options{
			Workers:      cfg.AutoReply.Workers,
			MaxAttempts:  cfg.AutoReply.MaxAttempts,
			RetryBackoff: cfg.AutoReply.RetryBackoff,
			DeadLetter:   dlq,
		}, logger.Named("autoreply"))
		scheduler = sched

		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := sched.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("auto-reply workers stopped", zap.Error(err))
			}
		}()

		janitor := autoreply.NewJanitor(st, 0, logger.Named("janitor"))
		if err := janitor.Start(); err != nil {
			return fmt.Errorf("start janitor: %w", err)
		}
		defer janitor.Stop()

		if !writer.Enabled() {
			logger.Warn("auto-replies enabled without a GenAI key; scheduled jobs will post nothing")
		}
	}

	authSvc := auth.NewService(st, cfg.SecretKey, cfg.AccessTTL, cfg.RefreshTTL)
	server := httpapp.NewServer(st, authSvc, gate, scheduler, rate.NewMemory(), cfg, logger.Named("http"))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 2)
	go func() {
		logger.Info("scribe listening", zap.String("addr", cfg.Addr), zap.String("version", cctx.App.Version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errc:
		logger.Error("server error", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cctx.Duration("shutdown-timeout"))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	// running jobs are marked interrupted
	stopWorkers()
	workers.Wait()
	return runErr
}

// newModerator picks the classifier: a dedicated moderation endpoint when
// one is configured, otherwise the GenAI model, otherwise none.
func newModerator(cfg config.Config, model llm.Model, rdb *redis.Client, logger *zap.Logger) *moderation.Client {
	var classifier moderation.Classifier
	switch {
	case !cfg.Moderation.Enabled:
	case cfg.Moderation.APIURL != "":
		classifier = moderation.NewHTTPClassifier(cfg.Moderation.APIURL, cfg.Moderation.APIKey)
	case model != nil:
		classifier = moderation.NewGenAIClassifier(model)
	}
	if classifier == nil {
		logger.Warn("content moderation not configured; all content will be allowed")
	}

	opts := []moderation.Option{
		moderation.WithTimeout(cfg.Moderation.Timeout),
		moderation.WithLogger(logger.Named("moderation")),
	}
	switch {
	case cfg.Moderation.CacheTTL <= 0:
	case rdb != nil:
		opts = append(opts, moderation.WithCache(moderation.NewRedisVerdictCache(rdb, cfg.Moderation.CacheTTL)))
	default:
		opts = append(opts, moderation.WithCache(moderation.NewMemVerdictCache(verdictCacheSize, cfg.Moderation.CacheTTL)))
	}
	return moderation.New(classifier, opts...)
}
