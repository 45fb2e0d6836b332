package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/septivank/irrigation-sync-worker/internal/actuator"
	"github.com/septivank/irrigation-sync-worker/internal/automation"
	"github.com/septivank/irrigation-sync-worker/internal/config"
	"github.com/septivank/irrigation-sync-worker/internal/db"
	"github.com/septivank/irrigation-sync-worker/internal/et"
	"github.com/septivank/irrigation-sync-worker/internal/feed"
	"github.com/septivank/irrigation-sync-worker/internal/httpapi"
	"github.com/septivank/irrigation-sync-worker/internal/ingest"
	"github.com/septivank/irrigation-sync-worker/internal/metrics"
	"github.com/septivank/irrigation-sync-worker/internal/mq"
	"github.com/septivank/irrigation-sync-worker/internal/repository"
	"github.com/septivank/irrigation-sync-worker/internal/service"
	"github.com/septivank/irrigation-sync-worker/internal/timeseries"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// startScheduler runs the sync loop for the lifetime of the application
func startScheduler(lc fx.Lifecycle, svc *service.SyncService, cfg *config.Config, logger *zap.Logger) {
	scheduler := service.NewScheduler(svc, cfg.Sync.Interval, cfg.Sync.RunOnStart, logger)

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			scheduler.Start(context.Background())
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			scheduler.Stop()
			logger.Info("worker stopped gracefully")
			return nil
		},
	})
}

// startTriggerConsumer lets other services request an immediate run over RabbitMQ
func startTriggerConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	svc *service.SyncService,
) error {
	if conn == nil {
		return nil
	}

	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.TriggerQueue,
		DLQQueue:      cfg.RabbitMQ.TriggerDLQ,
		Exchange:      cfg.RabbitMQ.TriggerExchange,
		RoutingKey:    cfg.RabbitMQ.TriggerRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler: func(ctx context.Context, trigger mq.Trigger) error {
			_, err := svc.RunOnce(ctx)
			if errors.Is(err, service.ErrRunInProgress) {
				return fmt.Errorf("%w: %v", mq.ErrSkipped, err)
			}
			return err
		},
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting sync trigger consumer",
				zap.String("queue", cfg.RabbitMQ.TriggerQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			return nil
		},
	})

	return nil
}

// startAdminServer serves health, metrics and the on-demand run endpoint
func startAdminServer(lc fx.Lifecycle, svc *service.SyncService, reg *prometheus.Registry, cfg *config.Config, logger *zap.Logger) {
	handler := httpapi.NewHandler(svc, reg, logger)
	server := httpapi.NewServer(cfg.ServicePort, handler.InitRoutes(), logger)
	server.RegisterLifecycle(lc)
}

// ProvideStoreProvider opens the configured storage backend
func ProvideStoreProvider(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (repository.Provider, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		conn, err := db.OpenSQLite(lc, logger, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return repository.NewSQLiteProvider(conn), nil
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on shutdown")
		return repository.NewMemoryStore(), nil
	default:
		pool, err := db.NewPool(lc, logger, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresProvider(pool), nil
	}
}

// ProvideFeedClient creates the telemetry feed client
func ProvideFeedClient(cfg *config.Config, logger *zap.Logger) *feed.Client {
	return feed.NewClient(feed.ClientConfig{
		BaseURL:            cfg.Feed.BaseURL,
		Results:            cfg.Feed.Results,
		Timeout:            cfg.Feed.Timeout,
		BreakerFailures:    cfg.Feed.BreakerFailures,
		BreakerOpenTimeout: cfg.Feed.BreakerOpenTimeout,
		Logger:             logger,
	})
}

// ProvideIngestor creates a new ingestor instance
func ProvideIngestor(logger *zap.Logger) *ingest.Ingestor {
	return ingest.NewIngestor(logger)
}

// ProvideEstimator creates the ET estimator with the configured strategy and timezone
func ProvideEstimator(cfg *config.Config, logger *zap.Logger) (*et.Estimator, error) {
	strategy, err := et.ParseStrategy(cfg.ET.Strategy)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	logger.Info("et strategy selected", zap.String("strategy", strategy.Name()), zap.String("timezone", loc.String()))
	return et.NewEstimator(strategy, loc, logger), nil
}

// ProvideEngine creates the decision engine
func ProvideEngine(cfg *config.Config, logger *zap.Logger) *automation.Engine {
	return automation.NewEngine(cfg.Automation.TriggerParameter, logger)
}

// ProvideRegistry creates the prometheus registry exposed on /metrics
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the worker metrics
func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.NewMetrics(reg)
}

// ProvideMQConnection creates a new RabbitMQ connection instance, nil when not configured
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the command event publisher, nil without RabbitMQ
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	if conn == nil {
		return nil, nil
	}
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.WorkerExchange, cfg.RabbitMQ.CommandRoutingKey, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideActuatorNotifier connects to the MQTT broker, nil when MQTT_HOST is not set
func ProvideActuatorNotifier(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*actuator.Notifier, error) {
	if cfg.MQTT.Host == "" {
		logger.Info("MQTT_HOST not set, actuator push disabled")
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := actuator.Connect(ctx, actuator.Config{
		Host:          cfg.MQTT.Host,
		Port:          cfg.MQTT.Port,
		User:          cfg.MQTT.User,
		Password:      cfg.MQTT.Password,
		ClientID:      cfg.MQTT.ClientID,
		TopicTemplate: cfg.MQTT.TopicTemplate,
	}, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return nil
		},
	})

	return actuator.NewNotifier(client, cfg.MQTT.TopicTemplate, logger), nil
}

// ProvideMirror creates the influx time series mirror, nil when not configured
func ProvideMirror(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *timeseries.Mirror {
	return timeseries.NewInfluxMirror(lc, timeseries.Config{
		URL:    cfg.Influx.URL,
		Token:  cfg.Influx.Token,
		Org:    cfg.Influx.Org,
		Bucket: cfg.Influx.Bucket,
	}, logger)
}

// ProvideSyncService creates the sync service and attaches the optional outputs
func ProvideSyncService(
	provider repository.Provider,
	client *feed.Client,
	ingestor *ingest.Ingestor,
	estimator *et.Estimator,
	engine *automation.Engine,
	m *metrics.Metrics,
	publisher *mq.Publisher,
	notifier *actuator.Notifier,
	mirror *timeseries.Mirror,
	logger *zap.Logger,
) *service.SyncService {
	svc := service.NewSyncService(provider, client, ingestor, estimator, engine, m, logger)
	if publisher != nil {
		svc.AddNotifier(publisher)
	}
	if notifier != nil {
		svc.AddNotifier(notifier)
	}
	if mirror != nil {
		svc.SetMirror(mirror)
	}
	return svc
}
