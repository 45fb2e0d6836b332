package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/septivank/irrigation-sync-worker/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// lifecycleTimeout bounds both startup and graceful shutdown
const lifecycleTimeout = 30 * time.Second

func main() {
	workDir, _ := os.Getwd()
	envPath, err := loadEnvFile(envCandidates(os.Getenv(envFileVar), workDir))
	switch {
	case err != nil:
		fmt.Println("failed to load .env file:", err)
	case envPath != "":
		fmt.Printf("Loaded environment from: %s\n", envPath)
	default:
		fmt.Println("No .env file found, using system environment variables")
	}

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideStoreProvider,
			ProvideFeedClient,
			ProvideIngestor,
			ProvideEstimator,
			ProvideEngine,
			ProvideRegistry,
			ProvideMetrics,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideActuatorNotifier,
			ProvideMirror,
			ProvideSyncService,
		),
		fx.Invoke(
			startScheduler,
			startTriggerConsumer,
			startAdminServer,
		),
	)

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Create a temporary logger for startup error messages
	tempLogger, _ := newLogger(&config.Config{ServiceName: "irrigation-sync-worker"})
	tempLogger.Info("starting application...", zap.Duration("timeout", lifecycleTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		// Check if it's a timeout error
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("APPLICATION START TIMEOUT: Failed to start within 30 seconds. This usually means a dependency (Database, RabbitMQ or MQTT broker) is not accessible. Check the error messages above for specific connection failures.")
		}
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop application gracefully
	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}
