package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/pricewatch/aggregator"
	"github.com/use-agent/pricewatch/api"
	"github.com/use-agent/pricewatch/api/handler"
	"github.com/use-agent/pricewatch/cache"
	"github.com/use-agent/pricewatch/cleaner"
	"github.com/use-agent/pricewatch/config"
	"github.com/use-agent/pricewatch/engine"
	"github.com/use-agent/pricewatch/llm"
	"github.com/use-agent/pricewatch/retry"
	"github.com/use-agent/pricewatch/scheduler"
	"github.com/use-agent/pricewatch/scraper"
	"github.com/use-agent/pricewatch/store"
	"github.com/use-agent/pricewatch/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("pricewatch starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"sources", len(cfg.Sources),
		"browser", cfg.Browser.Enabled,
		"llm_provider", cfg.LLM.Provider,
	)

	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		slog.Warn("auth enabled without API keys, scrape endpoints will reject every request",
			"hint", "set PRICEWATCH_AUTH_API_KEYS or PRICEWATCH_AUTH_ENABLED=false")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Cache and store ──────────────────────────────────────────
	cc, cacheName := openCache(ctx, cfg.Cache)
	defer cc.Close()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// ── 4. Transports ───────────────────────────────────────────────
	httpEngine := engine.NewHTTPEngine(engine.HTTPOptions{
		UserAgents:     cfg.Fetch.UserAgents,
		AcceptLanguage: cfg.Fetch.AcceptLanguage,
	})

	var browser engine.Engine
	if cfg.Browser.Enabled {
		renderer := scraper.NewRenderer(scraper.Options{
			Headless:             cfg.Browser.Headless,
			NoSandbox:            cfg.Browser.NoSandbox,
			BrowserBin:           cfg.Browser.Bin,
			Proxy:                cfg.Browser.Proxy,
			Stealth:              cfg.Browser.Stealth,
			BlockedResourceTypes: cfg.Browser.BlockedResourceTypes,
			BlockAds:             cfg.Browser.BlockAds,
			AcceptLanguage:       cfg.Fetch.AcceptLanguage,
			NavTimeout:           cfg.Browser.NavTimeout,
			MaxConcurrent:        cfg.Browser.MaxConcurrent,
		})
		browser = engine.NewRodEngine(renderer.Render)
	}
	memory := engine.NewDomainMemory(cfg.Browser.MemoryTTL)
	defer memory.Stop()

	// ── 5. Extraction capability ────────────────────────────────────
	extractor := llm.NewExtractor(llm.Params{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLM.Timeout,
	})
	if u, ok := extractor.(llm.Unavailable); ok {
		slog.Warn("extraction disabled, runs will return no records", "reason", u.Reason)
	}

	// ── 6. Pipeline, scheduler, notifications ───────────────────────
	agg := aggregator.New(aggregator.Deps{
		Fetcher:   httpEngine,
		Renderer:  browser,
		Memory:    memory,
		Extractor: extractor,
		Cache:     cc,
		Cleaner:   cleaner.NewCleaner(),
	}, aggregator.Options{
		Retry: retry.Policy{
			MaxAttempts: cfg.Fetch.Retries,
			Backoff:     retry.Exponential(cfg.Fetch.Backoff),
		},
		ScheduledTimeout: cfg.Fetch.ScheduledTimeout,
		AdhocTimeout:     cfg.Fetch.AdhocTimeout,
		BrowserTimeout:   cfg.Browser.Timeout,
		Referer:          cfg.Fetch.Referer,
		FragmentFormat:   cfg.Fetch.FragmentFormat,
	})

	notifier := webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret)
	defer notifier.Wait()

	sched := scheduler.New(agg, st, notifier, cfg.Sources, cfg.Schedule.Interval)
	go sched.Start(ctx)

	// ── 7. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(ctx, api.Deps{
		Prices:  st,
		Trigger: sched,
		Scraper: agg,
		Health: handler.HealthInfo{
			Cache:   cacheName,
			Store:   st.Name(),
			Sources: len(cfg.Sources),
			Degraded: func() bool {
				last := sched.Last()
				return last != nil && last.Stats.Sources > 0 && last.Stats.Failed == last.Stats.Sources
			},
		},
	}, cfg, time.Now())

	// ── 8. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	// ── 9. Graceful shutdown ────────────────────────────────────────
	<-ctx.Done()
	slog.Info("shutdown signal received")

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Deferred closers drain webhook deliveries, then close store and cache.
	slog.Info("pricewatch stopped")
}

// openCache builds the configured cache. A Redis outage at startup
// degrades to no cache rather than refusing to serve.
func openCache(ctx context.Context, cfg config.CacheConfig) (*cache.Cache, string) {
	switch cfg.Type {
	case "redis":
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		backend, err := cache.NewRedis(pingCtx, cfg.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, caching disabled", "error", err)
			return cache.New(nil, cfg.TTL), "none"
		}
		return cache.New(backend, cfg.TTL), "redis"
	case "memory":
		return cache.New(cache.NewMemory(cfg.MaxEntries), cfg.TTL), "memory"
	default:
		return cache.New(nil, cfg.TTL), "none"
	}
}

// openStore connects Postgres when a database URL is set and otherwise
// keeps the latest run in memory.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Info("no database configured, keeping the latest run in memory")
		return store.NewMemory(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pg, err := store.OpenPostgres(connectCtx, store.PostgresOptions{
		DSN:            cfg.DatabaseURL,
		MaxConns:       cfg.MaxConns,
		SimpleProtocol: cfg.SimpleProtocol,
		Table:          cfg.Table,
	})
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(h))
}
