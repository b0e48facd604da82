package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/firebase/emulators-codelab/api/controllers"
	"github.com/firebase/emulators-codelab/internal/aggregator"
	"github.com/firebase/emulators-codelab/internal/cart"
	"github.com/firebase/emulators-codelab/internal/trigger"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/firestore"
	"github.com/firebase/emulators-codelab/pkg/idempotency"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/metrics"
	"github.com/firebase/emulators-codelab/pkg/pubsub"
	"github.com/firebase/emulators-codelab/pkg/redis"
)

const dedupeConsumer = "cart-aggregator"

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "worker exited with error", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	if cfg.Store.UsesMemory() {
		return fmt.Errorf("the worker needs %s=%s; the in-memory store runs its aggregator inside the api", config.EnvStoreBackend, config.StoreBackendFirestore)
	}

	fsClient, err := firestore.New(ctx, cfg.GCP, cfg.Firestore, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := fsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing firestore", err)
		}
	}()
	pingers := map[string]controllers.Pinger{"firestore": fsClient}

	agg, err := aggregator.New(fsClient, cfg.Aggregator, logg, metrics.NewAggregatorMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}
	router := trigger.NewRouter()
	if err := agg.Register(router); err != nil {
		return err
	}
	triggerMetrics := metrics.NewTriggerMetrics(prometheus.DefaultRegisterer)

	var src source
	switch strings.ToLower(strings.TrimSpace(cfg.Trigger.Source)) {
	case config.TriggerSourcePubSub:
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return err
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		pingers["pubsub"] = psClient

		var guard *idempotency.Guard
		if cfg.Redis.Enabled() {
			redisClient, err := redis.New(ctx, cfg.Redis, logg)
			if err != nil {
				return err
			}
			defer func() {
				if err := redisClient.Close(); err != nil {
					logg.Error(context.Background(), "error closing redis", err)
				}
			}()
			pingers["redis"] = redisClient
			guard, err = idempotency.NewGuard(redisClient, dedupeConsumer, cfg.Trigger.DedupeTTL)
			if err != nil {
				return err
			}
		}

		consumer, err := newConsumer(router, psClient, guard, cfg, logg, triggerMetrics)
		if err != nil {
			return err
		}
		src = consumer
	case config.TriggerSourceFirestore:
		listener, err := trigger.NewFirestoreSource(fsClient, router, firestore.ListenOptions{Pattern: cart.LineItemPattern}, cfg.Trigger, logg, triggerMetrics)
		if err != nil {
			return err
		}
		src = listener
	default:
		return fmt.Errorf("the worker cannot run %s=%s", config.EnvTriggerSource, cfg.Trigger.Source)
	}

	svc, err := NewService(ServiceParams{
		Config:  cfg,
		Logger:  logg,
		Source:  src,
		Pingers: pingers,
	})
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

// newConsumer keeps a nil guard a nil interface so duplicates are simply
// handled again.
func newConsumer(router *trigger.Router, client *pubsub.Client, guard *idempotency.Guard, cfg *config.Config, logg *logger.Logger, m *metrics.TriggerMetrics) (*trigger.PubSubConsumer, error) {
	if guard == nil {
		return trigger.NewPubSubConsumer(router, client.TriggerSubscription(), nil, cfg.Trigger, logg, m)
	}
	return trigger.NewPubSubConsumer(router, client.TriggerSubscription(), guard, cfg.Trigger, logg, m)
}
