package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"school-notify/internal/common/pagination"
	pgRepo "school-notify/internal/infra/adapter/persistence/postgres"
	"school-notify/internal/infra/db"
	"school-notify/internal/infra/notifier"
	"school-notify/internal/infra/queue"
	"school-notify/internal/infra/realtime"
	"school-notify/internal/observability/logging"
	"school-notify/internal/observability/metrics"
	"school-notify/internal/observability/tracing"
	"school-notify/internal/repository"
	"school-notify/internal/resilience/retry"
	"school-notify/pkg/config"

	"school-notify/internal/usecase/dispatch"
	"school-notify/internal/usecase/notify"
	"school-notify/internal/usecase/preference"

	hhttp "school-notify/internal/handler/http"
	hauth "school-notify/internal/handler/http/auth"
	"school-notify/internal/handler/http/middleware"
	hnotification "school-notify/internal/handler/http/notification"
	"school-notify/internal/handler/http/requestid"
)

const (
	queueBackendPostgres = "postgres"
	queueBackendMemory   = "memory"
)

func main() {
	logger := initLogger()
	authenticator := initAuthenticator(logger)

	shutdownTracing := tracing.Init()
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", slog.Any("error", err))
		}
	}()

	database := initDatabase(logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	version := getVersion()
	components := setupServer(logger, database, authenticator, version)

	runServer(logger, components, version)
}

// initLogger installs the process logger as the slog default.
func initLogger() *slog.Logger {
	logger := logging.NewLogger()
	slog.SetDefault(logger)
	return logger
}

// initAuthenticator validates JWT_SECRET and builds the token verifier.
func initAuthenticator(logger *slog.Logger) *hauth.Authenticator {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logger.Error("JWT_SECRET must be set")
		os.Exit(1)
	}
	a, err := hauth.NewAuthenticator(secret)
	if err != nil {
		logger.Error("invalid JWT_SECRET", slog.Any("error", err))
		os.Exit(1)
	}
	return a
}

// initDatabase opens the database, retrying while it is still starting, and
// runs migrations.
func initDatabase(logger *slog.Logger) *sql.DB {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var database *sql.DB
	err := retry.WithBackoff(ctx, retry.StartupConfig(), func() error {
		var err error
		database, err = db.Open(ctx)
		return err
	}, retry.WithLogger(logger))
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	if err := db.MigrateUp(ctx, database); err != nil {
		logger.Error("failed to migrate database", slog.Any("error", err))
		os.Exit(1)
	}
	if err := metrics.RegisterDBStats(prometheus.DefaultRegisterer, database, "notifications"); err != nil {
		logger.Warn("failed to register database pool metrics", slog.Any("error", err))
	}
	return database
}

// getVersion returns the application version from environment or default.
func getVersion() string {
	return config.GetEnvString("VERSION", "dev")
}

// ServerComponents holds what runServer starts and stops.
type ServerComponents struct {
	Handler  http.Handler
	Limiters []*middleware.RateLimiter
	// Dispatcher is set when the in-process queue is used.
	Dispatcher *dispatch.Worker
}

// setupServer builds the services, routes and middleware chain.
func setupServer(logger *slog.Logger, database *sql.DB, authenticator *hauth.Authenticator, version string) *ServerComponents {
	catalog, err := notifier.LoadCatalog()
	if err == nil {
		err = catalog.Validate()
	}
	if err != nil {
		logger.Error("invalid template catalog", slog.Any("error", err))
		os.Exit(1)
	}

	corsConfig, err := middleware.LoadCORSConfig(logger)
	if err != nil {
		logger.Error("failed to load CORS configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("CORS enabled",
		slog.Any("allowed_origins", corsConfig.AllowedOrigins),
		slog.Any("allowed_methods", corsConfig.AllowedMethods),
		slog.Int("max_age", corsConfig.MaxAge))

	hub := realtime.NewHub(
		realtime.WithLogger(logger),
		realtime.WithCheckOrigin(originChecker(corsConfig.AllowedOrigins)),
	)

	deliveryLog := pgRepo.NewDeliveryLogRepo(database)
	components := &ServerComponents{}

	var q repository.DeliveryQueue
	switch backend := config.GetEnvString("QUEUE_BACKEND", queueBackendPostgres); backend {
	case queueBackendMemory:
		q = queue.NewMemoryQueue()
		components.Dispatcher = newInProcessDispatcher(logger, q, deliveryLog, catalog)
		logger.Warn("using in-memory delivery queue, pending jobs are lost on restart")
	case queueBackendPostgres:
		q = pgRepo.NewDeliveryQueue(database)
	default:
		logger.Error("unknown QUEUE_BACKEND", slog.String("value", backend))
		os.Exit(1)
	}

	prefSvc := &preference.Service{Repo: pgRepo.NewPreferenceRepo(database)}
	notifySvc := notify.NewService(notify.Deps{
		Notifications: pgRepo.NewNotificationRepo(database),
		Preferences:   prefSvc,
		Queue:         q,
		Contacts:      pgRepo.NewContactRepo(database),
		PushSubs:      pgRepo.NewPushSubscriptionRepo(database),
		DeliveryLog:   deliveryLog,
		Templates:     catalog,
		Broadcaster:   hub,
		Logger:        logger,
	}, notify.LoadConfigFromEnv())

	sendLimiter := middleware.NewRateLimiter("user", middleware.LoadSendRateLimitConfig(), middleware.UserKey)
	webhookLimiter := middleware.NewRateLimiter("ip", middleware.LoadWebhookRateLimitConfig(), middleware.IPKey)
	components.Limiters = []*middleware.RateLimiter{sendLimiter, webhookLimiter}

	webhookSecret := os.Getenv("EMAIL_WEBHOOK_SECRET")
	if webhookSecret == "" {
		logger.Warn("EMAIL_WEBHOOK_SECRET is not set, email event webhook rejects every request")
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", &hhttp.HealthHandler{DB: database, Version: version, Queue: q, Realtime: hub})
	mux.Handle("GET /ready", &hhttp.ReadyHandler{DB: database})
	mux.Handle("GET /live", &hhttp.LiveHandler{})
	mux.Handle("GET /metrics", hhttp.MetricsHandler())

	hnotification.Register(mux, hnotification.Deps{
		Notify:         notifySvc,
		Preferences:    prefSvc,
		Hub:            hub,
		PaginationCfg:  pagination.LoadFromEnv(),
		SendLimiter:    sendLimiter.Middleware,
		WebhookLimiter: webhookLimiter.Middleware,
		WebhookSecret:  webhookSecret,
		Logger:         logger,
	})

	components.Handler = applyMiddleware(logger, mux, authenticator, corsConfig)
	return components
}

// newInProcessDispatcher builds a dispatch worker for the in-memory queue,
// which only this process can drain.
func newInProcessDispatcher(logger *slog.Logger, q repository.DeliveryQueue, deliveryLog repository.DeliveryLogRepository, catalog *notifier.Catalog) *dispatch.Worker {
	notifierCfg, err := notifier.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load notifier configuration", slog.Any("error", err))
		os.Exit(1)
	}
	notifierAdapters, err := notifier.BuildAdapters(context.Background(), notifierCfg, catalog)
	if err != nil {
		logger.Error("failed to build delivery adapters", slog.Any("error", err))
		os.Exit(1)
	}
	adapters := make([]dispatch.Adapter, 0, len(notifierAdapters))
	for _, a := range notifierAdapters {
		adapters = append(adapters, a)
	}
	return dispatch.NewWorker(q, deliveryLog, adapters, dispatch.DefaultConfig(), dispatch.WithLogger(logger))
}

// originChecker allows websocket upgrades from the CORS origins only.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimSuffix(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimSuffix(strings.ToLower(origin), "/")]
		return ok
	}
}

// applyMiddleware wraps the handler with the middleware chain.
// Order: Request ID → Tracing → Logging → Recovery → Metrics → Input validation
// → Body limit → CORS → Timeout → Authentication → routes.
func applyMiddleware(logger *slog.Logger, handler http.Handler, authenticator *hauth.Authenticator, corsConfig middleware.CORSConfig) http.Handler {
	requestTimeout := config.GetEnvDuration("HTTP_REQUEST_TIMEOUT", 30*time.Second)

	// Apply in reverse order (innermost to outermost)
	chain := authenticator.Middleware(handler)
	chain = hhttp.Timeout(requestTimeout)(chain)
	chain = middleware.CORS(corsConfig)(chain)
	chain = hhttp.LimitRequestBody(1 << 20)(chain)
	chain = hhttp.InputValidation()(chain)
	chain = hhttp.MetricsMiddleware(chain)
	chain = hhttp.Recover(logger)(chain)
	chain = hhttp.Logging(logger)(chain)
	chain = tracing.Middleware(chain)
	chain = requestid.Middleware(chain)

	return chain
}

// runServer starts the HTTP server and handles graceful shutdown.
func runServer(logger *slog.Logger, components *ServerComponents, version string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanupInterval := config.GetEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute)
	go startRateLimitCleanup(ctx, logger, components.Limiters, cleanupInterval)

	dispatchDone := make(chan struct{})
	if components.Dispatcher != nil {
		go func() {
			defer close(dispatchDone)
			if err := components.Dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("dispatch worker stopped", slog.Any("error", err))
			}
		}()
	} else {
		close(dispatchDone)
	}

	addr := ":" + config.GetEnvString("PORT", "8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           components.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
	}

	// Websocket streams and the dispatcher run on ctx.
	cancel()
	<-dispatchDone
	logger.Info("server stopped")
}

// startRateLimitCleanup evicts idle rate limit buckets until ctx is done.
func startRateLimitCleanup(ctx context.Context, logger *slog.Logger, limiters []*middleware.RateLimiter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range limiters {
				if n := l.Cleanup(); n > 0 {
					logger.Debug("rate limit buckets evicted", slog.Int("evicted", n))
				}
			}
		}
	}
}
