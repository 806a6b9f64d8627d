package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/rentchain/pkg/database"
	"github.com/utafrali/rentchain/pkg/health"
	pkgkafka "github.com/utafrali/rentchain/pkg/kafka"
	"github.com/utafrali/rentchain/pkg/middleware"
	"github.com/utafrali/rentchain/pkg/tracing"
	"github.com/utafrali/rentchain/services/session/internal/auth"
	"github.com/utafrali/rentchain/services/session/internal/config"
	"github.com/utafrali/rentchain/services/session/internal/event"
	handler "github.com/utafrali/rentchain/services/session/internal/handler/http"
	"github.com/utafrali/rentchain/services/session/internal/repository"
	"github.com/utafrali/rentchain/services/session/internal/repository/memory"
	"github.com/utafrali/rentchain/services/session/internal/repository/postgres"
	"github.com/utafrali/rentchain/services/session/internal/service"
	"github.com/utafrali/rentchain/services/session/migrations"
)

const serviceName = "session"

// App wires together all dependencies and runs the session service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	localLimiter   *middleware.LocalLimiter
	sessions       *service.SessionService
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(serviceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	identities, credentials, err := a.initStorage(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	// Domain events go to Kafka unless it is disabled.
	var publisher event.Publisher = event.NopPublisher{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = a.producer
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Warn("kafka disabled, domain events are discarded")
	}

	limiter, err := a.initRefreshLimiter(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	// Build the dependency graph.
	tokens := auth.NewTokenCodec(cfg.JWTSecret, cfg.AccessTokenTTL)
	events := event.NewProducer(publisher, logger)
	a.sessions = service.NewSessionService(identities, credentials, tokens,
		auth.NewSecretHasher(cfg.CredentialHashCost), events, logger,
		service.SessionOptions{RefreshTTL: cfg.RefreshTokenTTL, PasswordCost: auth.PasswordCost})
	identityService := service.NewIdentityService(identities, tokens, events, logger)

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		Sessions:   a.sessions,
		Identities: identityService,
		Health:     healthHandler,
		Logger:     logger,
		Cookie: handler.CookieConfig{
			Name:   cfg.RefreshCookieName,
			Secure: cfg.RefreshCookieSecure,
			MaxAge: cfg.RefreshTokenTTL,
		},
		CORS:              middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins),
		RefreshLimiter:    limiter,
		WalletHeaderAuth:  cfg.WalletHeaderAuth,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		TrustedProxyCIDRs: cfg.TrustedProxyCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStorage opens the configured repositories and registers their health checks.
func (a *App) initStorage(ctx context.Context, healthHandler *health.Handler) (repository.IdentityRepository, repository.CredentialRepository, error) {
	cfg := a.cfg

	if cfg.StorageBackend == config.StorageMemory {
		a.logger.Warn("using in-memory storage, all identities and sessions are lost on restart")
		return memory.NewIdentityRepository(), memory.NewCredentialRepository(), nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	// Configure slow query logging.
	if threshold := cfg.SlowQueryThreshold(); threshold > 0 {
		database.SetSlowQueryLogging(threshold, a.logger)
	}

	healthHandler.RegisterCritical("postgres", pool.Ping)
	return postgres.NewIdentityRepository(pool), postgres.NewCredentialRepository(pool), nil
}

// initRefreshLimiter returns the Redis-backed limiter when Redis is enabled so
// the budget is shared across replicas, and a per-process limiter otherwise.
func (a *App) initRefreshLimiter(ctx context.Context, healthHandler *health.Handler) (middleware.Limiter, error) {
	cfg := a.cfg

	if !cfg.RedisEnabled {
		a.localLimiter = middleware.NewLocalLimiter(cfg.RefreshRateLimit, cfg.RefreshRateWindow)
		return a.localLimiter, nil
	}

	rdb, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.rdb = rdb
	a.logger.Info("connected to Redis",
		slog.String("addr", cfg.Redis().Addr()),
		slog.Int("db", cfg.RedisDB),
	)

	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	return middleware.NewRedisLimiter(rdb, "session:refresh", cfg.RefreshRateLimit, cfg.RefreshRateWindow), nil
}

// Run starts the HTTP server and the credential janitor, and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go a.runJanitor(janitorCtx, a.cfg.CredentialPurgeInterval)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		stopJanitor()
		if shutdownErr := a.Shutdown(); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	}

	stopJanitor()
	return a.Shutdown()
}

// runJanitor deletes expired refresh credentials every interval until ctx ends.
func (a *App) runJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.sessions.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Error("credential purge failed", slog.String("error", err.Error()))
				}
				continue
			}
			if n > 0 {
				a.logger.Info("purged expired credentials", slog.Int64("count", n))
			}
		}
	}
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	errs = append(errs, a.closeResources()...)

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases everything opened after the tracer, in shutdown order.
// It is also used to unwind a partially constructed App.
func (a *App) closeResources() []error {
	var errs []error

	// Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.localLimiter != nil {
		a.localLimiter.Close()
	}

	if a.pool != nil {
		a.pool.Close()
	}
	return errs
}
