// Package main is the entrypoint for the QR engine API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tapon/qrengine/internal/analytics"
	"github.com/tapon/qrengine/internal/cache"
	"github.com/tapon/qrengine/internal/config"
	"github.com/tapon/qrengine/internal/eventlog"
	"github.com/tapon/qrengine/internal/handler"
	"github.com/tapon/qrengine/internal/handler/dto"
	"github.com/tapon/qrengine/internal/metrics"
	"github.com/tapon/qrengine/internal/middleware"
	"github.com/tapon/qrengine/internal/repository"
	"github.com/tapon/qrengine/internal/server"
	"github.com/tapon/qrengine/internal/service"
)

// eventLog is the event store behind the analytics pipeline.
type eventLog interface {
	analytics.EventSource
	analytics.EventSink
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if cfg.MigrateOnStart {
		if err := repository.Migrate(cfg.DatabaseURL, repository.MigrateUp); err != nil {
			logger.Error("failed to migrate database", slog.String("error", sanitizeError(err, cfg.DatabaseURL)))
			os.Exit(1)
		}
		logger.Info("database migrated")
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL, cfg.RedisPoolSize)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	var (
		events      eventLog
		mongoHealth handler.HealthChecker
		mongoStore  *eventlog.Store
	)
	if cfg.MongoURL != "" {
		mongoStore, err = eventlog.New(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			logger.Error(
				"failed to connect to MongoDB",
				slog.String("error", sanitizeError(err, cfg.MongoURL)),
				slog.String("mongo_url", redactURL(cfg.MongoURL)),
			)
			_ = cacheClient.Close()
			repo.Close()
			os.Exit(1)
		}
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			logger.Warn("failed to ensure event log indexes", "error", err)
		}
		events, mongoHealth = mongoStore, mongoStore
		logger.Info("connected to MongoDB", "database", cfg.MongoDatabase)
	} else {
		events = analytics.NewMemoryLog(cfg.MemoryLogCapacity)
		logger.Warn("MONGO_URL not set, analytics events are kept in memory", "capacity", cfg.MemoryLogCapacity)
	}

	prom := metrics.NewPrometheus()

	recorder := analytics.NewRecorder(cacheClient.Client(), logger, prom)
	profiles := service.NewProfileResolver(repo, cacheClient, cfg.FrontendURL, logger, prom)
	qrService := service.NewQRService(repo, profiles, cacheClient, recorder, logger, prom)
	scanService := service.NewScanService(repo, cacheClient, recorder, service.ScanConfig{
		UniqueWindow:      cfg.UniqueScanWindow,
		BreakdownCapacity: cfg.BreakdownCapacity,
	}, logger, prom)
	aggregator := analytics.NewAggregator(events, analytics.AggregatorConfig{
		MaxEvents:     cfg.AggMaxEvents,
		DefaultWindow: cfg.AggDefaultWindow,
		MaxWindow:     cfg.AggMaxWindow,
	})
	analyticsService := service.NewAnalyticsService(aggregator, repo, repo)

	validator := dto.NewValidator()
	handlers := routes{
		base: handler.New(),
		health: handler.NewHealthHandler(
			handler.Dependency{Name: "postgres", Checker: repo},
			handler.Dependency{Name: "redis", Checker: cacheClient},
			handler.Dependency{Name: "mongo", Checker: mongoHealth, Optional: true},
		),
		qr:        handler.NewQRHandler(qrService, validator, cfg.PublicBaseURL, logger),
		scan:      handler.NewScanHandler(scanService, validator, logger),
		events:    handler.NewEventHandler(recorder, validator, logger),
		analytics: handler.NewAnalyticsHandler(analyticsService, cfg.RealtimePushInterval, cfg.GetCORSAllowedOrigins(), logger),
		metrics:   prom.Handler(),
	}

	r := setupRouter(handlers, cacheClient, cfg, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Hooks run newest first: flush the recorder, then close the stores.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})
	if mongoStore != nil {
		srv.OnShutdown("mongo", mongoStore.Close)
	}
	srv.OnShutdown("analytics-recorder", recorder.Flush)

	if cfg.AnalyticsWorkerEnabled {
		worker := analytics.NewWorker(cacheClient.Client(), events, logger, prom, analytics.WorkerConfig{
			BatchSize: cfg.AnalyticsBatchSize,
			ClaimIdle: cfg.AnalyticsClaimIdle,
		})
		srv.Go("analytics-worker", worker.Run)
	} else {
		logger.Warn("analytics worker disabled, events stay in the stream until a worker runs")
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.PublicBaseURL,
		"env", cfg.AppEnv,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

type routes struct {
	base      *handler.Handler
	health    *handler.HealthHandler
	qr        *handler.QRHandler
	scan      *handler.ScanHandler
	events    *handler.EventHandler
	analytics *handler.AnalyticsHandler
	metrics   http.Handler
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(h routes, limiter middleware.Limiter, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(cfg.GetCORSAllowedOrigins()))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)
	r.Handle("/metrics", h.metrics)

	scanLimit := middleware.RateLimitIP(middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: limiter,
		Enabled: cfg.RateLimitEnabled,
		Scope:   "scan",
		RPS:     cfg.RateLimitScanRPS,
		Burst:   cfg.RateLimitScanBurst,
	})
	eventLimit := middleware.RateLimitIP(middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: limiter,
		Enabled: cfg.RateLimitEnabled,
		Scope:   "events",
		RPS:     cfg.RateLimitEventRPS,
		Burst:   cfg.RateLimitEventBurst,
	})

	r.With(scanLimit).Get("/s/{id}", h.scan.Scan)
	r.With(scanLimit).Post("/s/{id}", h.scan.Scan)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(eventLimit).Post("/events", h.events.Track)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Owner)

			r.Route("/qr", func(r chi.Router) {
				r.Post("/", h.qr.Create)
				r.Get("/", h.qr.List)
				r.Get("/{id}", h.qr.Get)
				r.Patch("/{id}", h.qr.Update)
				r.Delete("/{id}", h.qr.Delete)
				r.Patch("/{id}/toggle", h.qr.Toggle)
				r.Post("/{id}/regenerate", h.qr.Regenerate)
				r.Get("/{id}/download", h.qr.Download)
				r.Get("/{id}/stats", h.qr.Stats)
			})

			r.Post("/profiles/{id}/qr", h.qr.EnsureProfileCode)

			r.Route("/analytics", func(r chi.Router) {
				r.Get("/qr/{id}/funnel", h.analytics.QRFunnel)
				r.Get("/profiles/{id}/funnel", h.analytics.ProfileFunnel)
				r.Get("/profiles/{id}/overview", h.analytics.ProfileOverview)
				r.Get("/trend", h.analytics.Trend)
				r.Get("/summary", h.analytics.Summary)
				r.Get("/realtime", h.analytics.Realtime)
				r.Get("/realtime/ws", h.analytics.RealtimeStream)
			})
		})
	})

	r.NotFound(h.base.NotFound)
	r.MethodNotAllowed(h.base.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
