// Command seed fills the catalog with generated grocery items.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/firebase/emulators-codelab/internal/catalog"
	"github.com/firebase/emulators-codelab/pkg/config"
	"github.com/firebase/emulators-codelab/pkg/firestore"
	"github.com/firebase/emulators-codelab/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "seed"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	count := flag.Int("count", cfg.Catalog.SeedCount, "number of catalog items to write")
	ifEmpty := flag.Bool("if-empty", false, "only seed when the catalog has no items")
	flag.Parse()

	ctx := logg.WithField(context.Background(), "count", *count)
	if cfg.Store.UsesMemory() {
		logg.Warn(ctx, "seed skipped: the in-memory store is seeded by the api at startup")
		return
	}

	client, err := firestore.New(ctx, cfg.GCP, cfg.Firestore, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap firestore", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logg.Error(context.Background(), "error closing firestore", err)
		}
	}()

	items, err := catalog.NewService(client, logg)
	if err != nil {
		logg.Error(ctx, "failed to create catalog service", err)
		os.Exit(1)
	}

	if *ifEmpty {
		seeded, err := items.EnsureSeeded(ctx, *count)
		if err != nil {
			logg.Error(ctx, "seed failed", err)
			os.Exit(1)
		}
		if !seeded {
			logg.Info(ctx, "catalog already populated")
			return
		}
		logg.Info(ctx, "catalog seeded")
		return
	}

	written, err := items.Seed(ctx, *count)
	if err != nil {
		logg.Error(ctx, "seed failed", err)
		os.Exit(1)
	}
	logg.Info(logg.WithField(ctx, "written", len(written)), "catalog seeded")
}
