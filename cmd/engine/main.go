package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"esg_news/internal/bot"
	"esg_news/internal/cache"
	"esg_news/internal/config"
	"esg_news/internal/engine"
	"esg_news/internal/fetcher"
	"esg_news/internal/model"
	"esg_news/internal/ops"
	"esg_news/internal/pipeline"
	"esg_news/internal/resolver"
	"esg_news/internal/scheduler"
	"esg_news/internal/scoring"
	"esg_news/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("engine stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("engine stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	subjects, err := config.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	store, err := storage.NewSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	source, err := newSource(cfg)
	if err != nil {
		return err
	}
	scorer, err := newScorer(cfg, log)
	if err != nil {
		return err
	}
	pl := pipeline.New(source, scorer, pipeline.Config{
		Threshold:    cfg.SimilarityThreshold,
		MaxQueries:   cfg.MaxQueries,
		MaxResults:   cfg.MaxResults,
		Concurrency:  cfg.FetchConcurrency,
		QueryTimeout: cfg.QueryTimeout,
	}, log.With("component", "pipeline"))

	cacheStore, closeCache, err := newCacheStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	tier1, err := cache.NewTierWriter(cacheStore, model.TierScheduler, cfg.SchedulerTTL)
	if err != nil {
		return err
	}
	tier2, err := cache.NewTierWriter(cacheStore, model.TierOnDemand, cfg.OnDemandTTL)
	if err != nil {
		return err
	}

	var console *bot.Bot
	var notifier scheduler.Notifier
	if cfg.ConsoleEnabled() {
		console, err = bot.New(cfg.TelegramBotToken, cfg, log.With("component", "bot"))
		if err != nil {
			return err
		}
		notifier = console
	} else {
		log.Info("telegram console disabled")
	}

	sched, err := scheduler.New(subjects, pl, tier1, store, notifier, scheduler.Config{
		Workers:    cfg.SchedulerWorkers,
		RunTimeout: cfg.ComputeTimeout,
	}, log.With("component", "scheduler"))
	if err != nil {
		return err
	}
	if _, err := sched.Warm(ctx); err != nil {
		log.Warn("warm scheduler tier", "error", err)
	}

	res, err := resolver.New(cacheStore, tier2, pl, cfg.ComputeTimeout, log.With("component", "resolver"))
	if err != nil {
		return err
	}
	eng := engine.New(res, sched, store, log.With("component", "engine"))

	log.Info("starting engine",
		"subjects", len(subjects),
		"news_source", cfg.NewsSource,
		"cache_backend", cfg.CacheBackend,
		"scoring", cfg.ScoringEnabled(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	if console != nil {
		g.Go(func() error {
			console.Run(gctx, eng)
			return nil
		})
	}
	g.Go(func() error {
		return ops.New(eng, log.With("component", "ops")).ListenAndServe(gctx, cfg.OpsAddr)
	})
	return g.Wait()
}

func newSource(cfg *config.Config) (fetcher.Searcher, error) {
	limiter := fetcher.NewLimiter(cfg.NewsRateInterval)
	client := &http.Client{Timeout: cfg.QueryTimeout}

	if cfg.NewsSource == config.SourceRSS {
		return fetcher.NewRSSSource(client, limiter, cfg.RSSSearchURL)
	}
	return fetcher.NewNaverSource(client, limiter, cfg.NaverBaseURL, cfg.NaverClientID, cfg.NaverClientSecret), nil
}

func newScorer(cfg *config.Config, log *slog.Logger) (scoring.Scorer, error) {
	if !cfg.ScoringEnabled() {
		log.Info("scoring disabled, results will be unscored")
		return scoring.Disabled{}, nil
	}
	return scoring.NewOpenAI(scoring.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
}

func newCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	if cfg.CacheBackend == config.BackendRedis {
		rs, err := cache.NewRedisStoreWithURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	}

	ms, err := cache.NewMemoryStore(cfg.CacheMaxEntries)
	if err != nil {
		return nil, nil, err
	}
	return ms, func() {}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
