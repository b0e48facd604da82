// Command trigger-relay forwards cart line-item writes from Firestore to the
// trigger topic consumed by the worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/firebase/emulators-codelab/internal/cart"
	"github.com/firebase/emulators-codelab/internal/trigger"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/firestore"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/metrics"
	"github.com/firebase/emulators-codelab/pkg/pubsub"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "trigger-relay"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "trigger-relay",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "relay stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "relay shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	fsClient, err := firestore.New(ctx, cfg.GCP, cfg.Firestore, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := fsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing firestore", err)
		}
	}()

	psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := psClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	relay, err := trigger.NewRelay(
		fsClient,
		psClient.TriggerPublisher(),
		firestore.ListenOptions{Pattern: cart.LineItemPattern},
		logg,
		metrics.NewTriggerMetrics(prometheus.DefaultRegisterer),
	)
	if err != nil {
		return err
	}

	logg.Info(logg.WithField(ctx, "topic", cfg.PubSub.TriggerTopic), "relaying cart item writes")
	return relay.Run(ctx)
}
