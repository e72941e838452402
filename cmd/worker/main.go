package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	pgRepo "school-notify/internal/infra/adapter/persistence/postgres"
	"school-notify/internal/infra/db"
	"school-notify/internal/infra/events"
	"school-notify/internal/infra/notifier"
	workerPkg "school-notify/internal/infra/worker"
	"school-notify/internal/observability/logging"
	"school-notify/internal/observability/metrics"
	"school-notify/internal/observability/slo"
	"school-notify/internal/observability/tracing"
	"school-notify/internal/repository"
	"school-notify/internal/resilience/retry"
	"school-notify/internal/usecase/dispatch"
	"school-notify/internal/usecase/notify"
	"school-notify/internal/usecase/preference"
	"school-notify/pkg/config"
)

// sloWindow is the delivery log window the SLO sweep evaluates.
const sloWindow = time.Hour

func waitForMigrations(ctx context.Context, logger *slog.Logger, db *sql.DB) {
	const probe = "SELECT 1 FROM delivery_jobs LIMIT 1"
	for i := 0; i < 10; i++ {
		if _, err := db.ExecContext(ctx, probe); err == nil {
			return
		}
		logger.Info("waiting for migrations, retrying in 3s", slog.Int("attempt", i+1))
		select {
		case <-ctx.Done():
			os.Exit(1)
		case <-time.After(3 * time.Second):
		}
	}
	logger.Error("migrations did not complete in time")
	os.Exit(1)
}

func main() {
	logger := initLogger()

	shutdownTracing := tracing.Init()
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database := initDatabase(ctx, logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	// Load worker configuration (fail-open strategy)
	workerMetrics := workerPkg.NewWorkerMetrics()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker configuration loaded",
		slog.Int("concurrency", workerConfig.Concurrency),
		slog.Duration("send_timeout", workerConfig.SendTimeout),
		slog.Int("max_attempts", workerConfig.MaxAttempts),
		slog.String("sweep_schedule", workerConfig.SweepSchedule),
		slog.String("timezone", workerConfig.Timezone),
		slog.Int("health_port", workerConfig.HealthPort))

	catalog, err := notifier.LoadCatalog()
	if err == nil {
		err = catalog.Validate()
	}
	if err != nil {
		logger.Error("invalid template catalog", slog.Any("error", err))
		os.Exit(1)
	}

	q := pgRepo.NewDeliveryQueue(database)
	deliveryLog := pgRepo.NewDeliveryLogRepo(database)
	dispatcher := setupDispatcher(ctx, logger, q, deliveryLog, catalog, workerConfig)

	// The worker never broadcasts: realtime streams are held by the api.
	notifySvc := notify.NewService(notify.Deps{
		Notifications: pgRepo.NewNotificationRepo(database),
		Preferences:   &preference.Service{Repo: pgRepo.NewPreferenceRepo(database)},
		Queue:         q,
		Contacts:      pgRepo.NewContactRepo(database),
		PushSubs:      pgRepo.NewPushSubscriptionRepo(database),
		DeliveryLog:   deliveryLog,
		Templates:     catalog,
		Logger:        logger,
	}, notify.Config{MaxAttempts: workerConfig.MaxAttempts})

	startMetricsServer(ctx, logger, workerConfig.MetricsPort)

	healthAddr := fmt.Sprintf(":%d", workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger,
		workerPkg.WithReadinessCheck("database", database.PingContext),
		workerPkg.WithChannelStatus(channelStatus(dispatcher)),
	)
	go func() {
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	scheduler, err := workerPkg.NewScheduler(workerConfig, logger, workerMetrics,
		sweeps(notifySvc, q, workerConfig)...)
	if err != nil {
		logger.Error("failed to schedule sweeps", slog.Any("error", err))
		os.Exit(1)
	}
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	if consumer := setupConsumer(logger, notifySvc); consumer != nil {
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	healthServer.SetReady(true)
	logger.Info("worker started", slog.String("schedule", workerConfig.SweepSchedule))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", slog.Any("error", err))
	}
	healthServer.SetReady(false)
	<-scheduler.Stop().Done()
	logger.Info("worker stopped")
}

// initLogger installs the process logger as the slog default.
func initLogger() *slog.Logger {
	logger := logging.NewLogger()
	slog.SetDefault(logger)
	return logger
}

// initDatabase opens the database and waits for the api to migrate it.
func initDatabase(ctx context.Context, logger *slog.Logger) *sql.DB {
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
	waitForMigrations(ctx, logger, database)
	if err := metrics.RegisterDBStats(prometheus.DefaultRegisterer, database, "notifications"); err != nil {
		logger.Warn("failed to register database pool metrics", slog.Any("error", err))
	}
	return database
}

// setupDispatcher builds the channel adapters and the dispatch worker.
func setupDispatcher(
	ctx context.Context,
	logger *slog.Logger,
	q repository.DeliveryQueue,
	deliveryLog repository.DeliveryLogRepository,
	catalog *notifier.Catalog,
	cfg *workerPkg.WorkerConfig,
) *dispatch.Worker {
	notifierCfg, err := notifier.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load notifier configuration", slog.Any("error", err))
		os.Exit(1)
	}
	notifierAdapters, err := notifier.BuildAdapters(ctx, notifierCfg, catalog)
	if err != nil {
		logger.Error("failed to build delivery adapters", slog.Any("error", err))
		os.Exit(1)
	}
	adapters := make([]dispatch.Adapter, 0, len(notifierAdapters))
	for _, a := range notifierAdapters {
		adapters = append(adapters, a)
	}
	logger.Info("delivery adapters initialized",
		slog.Bool("email", notifierCfg.EmailEnabled),
		slog.Bool("push", notifierCfg.PushEnabled),
		slog.Bool("sms", notifierCfg.SMSEnabled))

	return dispatch.NewWorker(q, deliveryLog, adapters, dispatch.Config{
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		SendTimeout:  cfg.SendTimeout,
		Retry:        cfg.Retry(),
	}, dispatch.WithLogger(logger))
}

// setupConsumer returns the domain-event consumer, or nil when KAFKA_BROKERS
// is not set.
func setupConsumer(logger *slog.Logger, sender events.BulkSender) *events.Consumer {
	brokers := config.GetEnvStringList("KAFKA_BROKERS", nil)
	if len(brokers) == 0 {
		logger.Info("KAFKA_BROKERS not set, event consumer disabled")
		return nil
	}
	topic := config.GetEnvString("KAFKA_TOPIC", "school.events")
	groupID := config.GetEnvString("KAFKA_GROUP_ID", "school-notify")

	group, err := events.NewConsumerGroup(brokers, groupID)
	if err != nil {
		logger.Error("failed to create kafka consumer group", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("event consumer configured",
		slog.Any("brokers", brokers),
		slog.String("topic", topic),
		slog.String("group", groupID))
	return events.NewConsumer(topic, group, sender, logger)
}

// sweeps returns the maintenance tasks run on the sweep schedule.
func sweeps(svc notify.Service, q repository.DeliveryQueue, cfg *workerPkg.WorkerConfig) []workerPkg.Sweep {
	return []workerPkg.Sweep{
		{
			Name:    "prune_expired",
			Timeout: time.Minute,
			Run: func(ctx context.Context) (int64, error) {
				return svc.PruneExpired(ctx, time.Now())
			},
		},
		{
			Name:    "requeue_stale",
			Timeout: time.Minute,
			Run: func(ctx context.Context) (int64, error) {
				return q.RequeueStale(ctx, time.Now().Add(-cfg.StaleLease))
			},
		},
		{
			Name:    "queue_gauges",
			Timeout: 30 * time.Second,
			Run: func(ctx context.Context) (int64, error) {
				return 0, dispatch.RefreshQueueGauges(ctx, q)
			},
		},
		{
			Name:    "delivery_slo",
			Timeout: 30 * time.Second,
			Run: func(ctx context.Context) (int64, error) {
				stats, err := svc.DeliveryStats(ctx, time.Now().Add(-sloWindow))
				if err != nil {
					return 0, err
				}
				return int64(slo.Update(stats.Events)), nil
			},
		},
	}
}

// channelStatus reports the breaker state of every dispatch channel.
func channelStatus(w *dispatch.Worker) workerPkg.ChannelStatusFunc {
	return func() (bool, any) {
		statuses := w.ChannelStatuses()
		healthy := true
		for _, s := range statuses {
			if s.BreakerOpen {
				healthy = false
			}
		}
		return healthy, statuses
	}
}
