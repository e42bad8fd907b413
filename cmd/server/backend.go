package main

import (
	"context"
	"fmt"

	"github.com/banglalekha/backend/internal/catalog"
	"github.com/banglalekha/backend/internal/config"
	"github.com/banglalekha/backend/internal/database"
	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/store/postgres"
	"github.com/banglalekha/backend/internal/store/sqlite"
	"github.com/rs/zerolog/log"
)

// backend bundles the ledger store with the package catalog living next to it.
type backend struct {
	store   ledger.Store
	catalog catalog.Catalog
	migrate func(ctx context.Context) error
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info().Str("path", cfg.Storage.SQLitePath).Msg("using sqlite ledger store")
		return &backend{
			store:   store,
			catalog: catalog.NewStatic(cfg.Packages),
			// Schema is created when the file is opened.
			migrate: func(context.Context) error { return nil },
		}, nil
	default:
		db, err := database.InitDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		store := postgres.New(db)
		packages := postgres.NewCatalog(db)
		return &backend{
			store:   store,
			catalog: packages,
			migrate: func(ctx context.Context) error {
				if err := store.Migrate(ctx); err != nil {
					return err
				}
				return packages.SeedPackages(ctx, cfg.Packages)
			},
		}, nil
	}
}

func (b *backend) Close() {
	if err := b.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close ledger store")
	}
}
