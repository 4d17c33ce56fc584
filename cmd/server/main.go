// Package main provides the entry point for the IntelForge server: an OSINT
// discovery and correlation engine exposed over an HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/intelforge/internal/config"
	"github.com/lvonguyen/intelforge/internal/correlate"
	"github.com/lvonguyen/intelforge/internal/engine"
	"github.com/lvonguyen/intelforge/internal/events"
	"github.com/lvonguyen/intelforge/internal/gateway"
	"github.com/lvonguyen/intelforge/internal/observability"
	"github.com/lvonguyen/intelforge/internal/ratelimit"
	"github.com/lvonguyen/intelforge/internal/score"
	"github.com/lvonguyen/intelforge/internal/source"
	"github.com/lvonguyen/intelforge/internal/store"
	"github.com/lvonguyen/intelforge/internal/validate"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("IntelForge %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg := config.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	telemetry, err := observability.New(observability.Config{
		ServiceName:    "intelforge",
		ServiceVersion: Version,
		Environment:    os.Getenv("INTELFORGE_ENV"),
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		MetricsEnabled: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init telemetry: %v\n", err)
		os.Exit(1)
	}
	logger := telemetry.Logger()
	logger.Info("starting intelforge", zap.String("version", Version), zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	telemetry.StartSystemMetricsCollector(ctx)

	// Source registry: catalog file when configured, built-in definitions
	// otherwise.
	registry := source.NewRegistry()
	definitions := source.DefaultDefinitions()
	if cfg.Sources.CatalogPath != "" {
		catalog := source.NewCatalog(logger)
		if err := catalog.LoadFile(cfg.Sources.CatalogPath); err != nil {
			logger.Fatal("load source catalog", zap.Error(err))
		}
		definitions = catalog.All()
	}
	for _, def := range definitions {
		collector, err := source.NewAPICollector(def, cfg.Sources.HTTPTimeout)
		if err != nil {
			logger.Warn("skipping source", zap.String("source", def.ID), zap.Error(err))
			continue
		}
		if err := registry.Register(collector); err != nil {
			logger.Fatal("register source", zap.String("source", def.ID), zap.Error(err))
		}
	}
	logger.Info("sources registered", zap.Int("count", len(registry.All())))

	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	proxies := ratelimit.NewProxyPool(cfg.ProxyPool, logger)
	proxies.Start()
	defer proxies.Stop()

	st, err := store.OpenBadger(cfg.Storage, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	bus := events.NewBus()
	defer bus.Close()

	var redisClient *redis.Client
	var apiLimiter *gateway.RateLimiter
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.RedisPassword(),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()

		mirror := events.NewRedisMirror(redisClient, cfg.Redis.EventStream, cfg.Redis.EventMaxLen, logger)
		mirrorCh, mirrorCancel := bus.Subscribe(256)
		defer mirrorCancel()
		go mirror.Run(ctx, mirrorCh)

		apiLimiter = gateway.NewRateLimiter(redisClient, cfg.Server.APIRateLimit, logger)
	}

	eng, err := engine.New(engine.Options{
		Registry:   registry,
		Store:      st,
		Validator:  validate.New(cfg.Validation, logger),
		Limiter:    limiter,
		Proxies:    proxies,
		Correlator: correlate.New(cfg.Correlation, logger),
		Scorer:     score.New(cfg.Scoring),
		Bus:        bus,
		Metrics:    telemetry.Metrics(),
		Logger:     logger,
		Defaults:   cfg.Engine.Defaults,
	})
	if err != nil {
		logger.Fatal("init engine", zap.Error(err))
	}

	api := gateway.NewAPI(eng, registry, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if apiLimiter != nil {
		r.Use(apiLimiter.Middleware())
	}

	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(registry))
	r.Handle("/metrics", telemetry.MetricsHandler())
	r.Route("/api/v1", api.Routes)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown", zap.Error(err))
	}
	telemetry.Shutdown(shutdownCtx)
	logger.Info("server stopped")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","version":"` + Version + `"}`))
}

// handleReady probes every registered source with a short deadline. The
// service is ready when at least one source answers.
func handleReady(registry *source.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		healthy := 0
		for _, c := range registry.All() {
			if err := c.HealthCheck(ctx); err == nil {
				healthy++
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if healthy == 0 && len(registry.All()) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"degraded","healthy_sources":0}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready","healthy_sources":%d}`, healthy)
	}
}
