package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/firebase/emulators-codelab/api/controllers"
	"github.com/firebase/emulators-codelab/api/routes"
	"github.com/firebase/emulators-codelab/internal/aggregator"
	"github.com/firebase/emulators-codelab/internal/cart"
	"github.com/firebase/emulators-codelab/internal/catalog"
	"github.com/firebase/emulators-codelab/internal/policy"
	"github.com/firebase/emulators-codelab/internal/trigger"
	"github.com/firebase/emulators-codelab/pkg/auth"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/docstore"
	"github.com/firebase/emulators-codelab/pkg/docstore/memstore"
	"github.com/firebase/emulators-codelab/pkg/firestore"
	"github.com/firebase/emulators-codelab/pkg/instance"
	"github.com/firebase/emulators-codelab/pkg/logger"
	"github.com/firebase/emulators-codelab/pkg/metrics"
	"github.com/firebase/emulators-codelab/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "api shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	pingers := map[string]controllers.Pinger{}

	store, mem, closeStore, err := openStore(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeStore()
	pingers["store"] = store

	rules, err := policy.LoadFile(cfg.Policy.RulesFile)
	if err != nil {
		return err
	}

	items, err := catalog.NewService(store, logg)
	if err != nil {
		return err
	}
	carts, err := cart.NewService(store, rules, items, logg)
	if err != nil {
		return err
	}

	deps := routes.Deps{
		Carts:   carts,
		Catalog: items,
		Pingers: pingers,
	}

	if cfg.Auth.IsLocal() {
		provider := auth.NewLocalProvider(cfg.Auth)
		deps.Verifier = provider
		deps.Anonymous = provider
	} else {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.GCP, cfg.Auth)
		if err != nil {
			return err
		}
		deps.Verifier = verifier
	}

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
		deps.Limiter = redisClient
		pingers["redis"] = redisClient
	}

	// The in-process store has no external trigger runtime, so the
	// aggregator runs inside the API.
	if mem != nil {
		router := trigger.NewRouter()
		agg, err := aggregator.New(store, cfg.Aggregator, logg, metrics.NewAggregatorMetrics(prometheus.DefaultRegisterer))
		if err != nil {
			return err
		}
		if err := agg.Register(router); err != nil {
			return err
		}
		dispatcher, err := trigger.NewLocalDispatcher(mem, router, cfg.Trigger, logg, metrics.NewTriggerMetrics(prometheus.DefaultRegisterer))
		if err != nil {
			return err
		}
		defer func() { _ = dispatcher.Close() }()
	}

	if cfg.Catalog.AutoSeed {
		seeded, err := items.EnsureSeeded(ctx, cfg.Catalog.SeedCount)
		if err != nil {
			logg.Error(ctx, "catalog seed failed", err)
		} else if seeded {
			logg.Info(logg.WithField(ctx, "count", cfg.Catalog.SeedCount), "catalog seeded")
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"store":    cfg.Store.Backend,
		"auth":     cfg.Auth.Mode,
		"limiter":  deps.Limiter != nil,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type pingStore interface {
	docstore.Store
	Ping(ctx context.Context) error
}

// openStore returns the configured document store. mem is non-nil only for
// the in-process backend.
func openStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (store pingStore, mem *memstore.Store, closeFn func(), err error) {
	if cfg.Store.UsesMemory() {
		mem = memstore.New(memstore.WithMaxAttempts(cfg.Firestore.MaxAttempts))
		logg.Warn(ctx, "using in-memory document store; data is lost on restart")
		return mem, mem, func() { _ = mem.Close() }, nil
	}
	client, err := firestore.New(ctx, cfg.GCP, cfg.Firestore, logg)
	if err != nil {
		return nil, nil, nil, err
	}
	return client, nil, func() {
		if err := client.Close(); err != nil {
			logg.Error(context.Background(), "error closing firestore", err)
		}
	}, nil
}
