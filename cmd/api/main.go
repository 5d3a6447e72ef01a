// Package main is the entrypoint for the Epoch API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/epochapi/epochapi/internal/auth"
	"github.com/epochapi/epochapi/internal/cache"
	"github.com/epochapi/epochapi/internal/config"
	"github.com/epochapi/epochapi/internal/gate"
	"github.com/epochapi/epochapi/internal/handler"
	"github.com/epochapi/epochapi/internal/metrics"
	"github.com/epochapi/epochapi/internal/middleware"
	"github.com/epochapi/epochapi/internal/ratelimit"
	"github.com/epochapi/epochapi/internal/repository"
	"github.com/epochapi/epochapi/internal/server"
	"github.com/epochapi/epochapi/internal/service"
	"github.com/epochapi/epochapi/internal/store"
	"github.com/epochapi/epochapi/internal/store/memory"
	"github.com/epochapi/epochapi/internal/store/sqlite"
	"github.com/epochapi/epochapi/internal/usage"
)

const serviceName = "epochapi"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		a.close(context.Background())
		return err
	}

	srv := server.New(a.router, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	for _, c := range a.components {
		srv.OnShutdown(c.name, c.shutdown)
	}

	a.scheduler.Start(ctx)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"version", version,
		"storage_backend", cfg.StorageBackend,
		"redis", cfg.RedisURL != "",
	)

	return srv.Run(ctx)
}

// component is a dependency closed on shutdown, in reverse order of opening.
type component struct {
	name     string
	shutdown server.ShutdownFunc
}

// app is the wired service: its router and everything that must be closed.
type app struct {
	router     http.Handler
	scheduler  *usage.Scheduler
	components []component
}

func (a *app) onShutdown(name string, fn server.ShutdownFunc) {
	a.components = append(a.components, component{name: name, shutdown: fn})
}

// close releases components after a failed build, when no server owns them yet.
func (a *app) close(ctx context.Context) {
	for i := len(a.components) - 1; i >= 0; i-- {
		_ = a.components[i].shutdown(ctx)
	}
}

// buildApp opens storage and wires every component behind the router.
// On error the returned app holds whatever was opened so far.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	// Key hashing
	if cfg.KeyHashSecret == "" {
		logger.Warn("KEY_HASH_SECRET is empty; key digests are unkeyed")
	}
	hasher, err := auth.NewKeyHasher([]byte(cfg.KeyHashSecret))
	if err != nil {
		return a, fmt.Errorf("key hasher: %w", err)
	}

	// Storage
	keys, ledger, deps, err := openStorage(ctx, a, cfg, logger)
	if err != nil {
		return a, err
	}
	if cfg.StorageBackend != config.BackendMemory && cfg.AccountCacheTTL > 0 {
		keys = store.NewCachedKeyStore(keys, cfg.AccountCacheTTL)
	}

	// Shared counters and issuance limiter
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		cacheClient, err := cache.New(ctx, cache.Config{
			URL:             cfg.RedisURL,
			PoolSize:        cfg.RedisPoolSize,
			MinIdleConns:    cfg.RedisMinIdleConns,
			DialTimeout:     cfg.RedisDialTimeout,
			OpTimeout:       cfg.RedisOpTimeout,
			ConnMaxIdleTime: cfg.RedisConnMaxIdleTime,
			IssueRPS:        cfg.IssueRateLimitRPS,
			IssueBurst:      cfg.IssueRateLimitBurst,
		})
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			return a, errors.New("connect redis")
		}
		a.onShutdown("redis", func(context.Context) error { return cacheClient.Close() })
		logger.Info("connected to Redis")

		ledger = cacheClient.Ledger()
		limiter = cacheClient.IPLimiter()
		deps = append(deps, handler.Dependency{Name: "redis", Checker: cacheClient})
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.IssueRateLimitRPS, cfg.IssueRateLimitBurst)
	}

	// Metrics
	var recorder metrics.Recorder = metrics.NewNoop()
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		prom := metrics.NewPrometheus()
		recorder = prom
		metricsHandler = prom.Handler()
	}

	// Services
	g := gate.New(keys, ledger, hasher, recorder)
	issuer := service.NewKeyIssuer(keys, hasher, recorder)

	scheduler, err := usage.NewScheduler(ledger, usage.Config{
		DailySchedule:   cfg.UsageDailyResetSchedule,
		MonthlySchedule: cfg.UsageMonthlyResetSchedule,
	}, recorder, logger)
	if err != nil {
		return a, fmt.Errorf("usage scheduler: %w", err)
	}
	a.scheduler = scheduler
	a.onShutdown("usage-scheduler", func(context.Context) error {
		scheduler.Stop()
		return nil
	})

	// Handlers
	rt := routes{
		index:          handler.New(serviceName, version),
		health:         handler.NewHealthHandler(deps...),
		apiKeys:        handler.NewAPIKeyHandler(logger, issuer),
		accounts:       handler.NewAccountHandler(logger, g, scheduler),
		convert:        handler.NewConvertHandler(logger, recorder),
		metricsHandler: metricsHandler,
	}

	a.router = setupRouter(rt, g, limiter, recorder, cfg, logger)
	return a, nil
}

// openStorage opens the configured backend and registers it for shutdown.
func openStorage(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) (store.KeyStore, store.Ledger, []handler.Dependency, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		repo, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error(
				"failed to connect to database",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
				slog.String("database_url", redactURL(cfg.DatabaseURL)),
			)
			return nil, nil, nil, errors.New("connect database")
		}
		a.onShutdown("postgres", func(context.Context) error {
			repo.Close()
			return nil
		})
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("connected to database")
		return repo.Accounts(), repo.Usage(), []handler.Dependency{{Name: "database", Checker: repo}}, nil

	case config.BackendSQLite:
		db, err := sqlite.OpenWithConfig(ctx, sqlite.Config{Path: cfg.SQLitePath})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.onShutdown("sqlite", func(context.Context) error { return db.Close() })
		logger.Info("opened sqlite database", "path", cfg.SQLitePath)
		return db, db, []handler.Dependency{{Name: "database", Checker: db}}, nil

	default:
		return memory.NewKeyStore(), memory.NewLedger(), nil, nil
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", serviceName)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routes struct {
	index          *handler.Handler
	health         *handler.HealthHandler
	apiKeys        *handler.APIKeyHandler
	accounts       *handler.AccountHandler
	convert        *handler.ConvertHandler
	metricsHandler http.Handler
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h routes,
	g *gate.Gate,
	limiter ratelimit.Limiter,
	recorder metrics.Recorder,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(cors))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	// Public endpoints
	r.Get("/", h.index.Index)
	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)
	if h.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.metricsHandler)
	}

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: limiter,
		Metrics: recorder,
		Enabled: cfg.IssueRateLimitEnabled,
	}
	authCfg := middleware.AuthConfig{
		Logger: logger,
		Gate:   g,
	}

	r.Route("/api", func(r chi.Router) {
		// Key issuance is unauthenticated, so it is throttled per IP instead.
		r.With(middleware.RateLimitIP(rateLimitCfg)).Post("/auth/create-key", h.apiKeys.CreateKey)

		// Every other API call passes the gate and counts against the quota.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(authCfg))

			r.Get("/auth/verify", h.apiKeys.Verify)
			r.Get("/account/usage", h.accounts.Usage)

			r.Get("/convert/epoch-to-date", h.convert.EpochToDate)
			r.Get("/convert/date-to-epoch", h.convert.DateToEpoch)
			r.Post("/convert/batch", h.convert.Batch)
			r.Get("/current-timestamp", h.convert.CurrentTimestamp)
			r.Get("/week-number", h.convert.WeekNumber)
			r.Get("/formats", h.convert.Formats)
		})
	})

	// 404 and 405 handlers
	r.NotFound(h.index.NotFound)
	r.MethodNotAllowed(h.index.MethodNotAllowed)

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
