// Package app wires the store, importer, ratio engine and market refresher
// shared by the server, the CLI and the scheduler.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mauv0809/screener/internal/config"
	"github.com/mauv0809/screener/internal/db"
	"github.com/mauv0809/screener/internal/fundamentals"
	"github.com/mauv0809/screener/internal/ingest"
	"github.com/mauv0809/screener/internal/market"
	"github.com/mauv0809/screener/internal/metrics"
	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
	"github.com/mauv0809/screener/internal/store/memstore"
	"github.com/rs/zerolog"
)

// ErrNoDatabase is returned when a database is required but not configured.
var ErrNoDatabase = errors.New("DATABASE_URL is not set")

type App struct {
	Config    *config.Config
	Store     store.Store
	Importer  *ingest.Importer
	Engine    *fundamentals.Engine
	Refresher *market.Refresher
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger

	pool *pgxpool.Pool
}

// Options controls how New picks its store.
type Options struct {
	// RequireDatabase fails instead of falling back to the in-memory store.
	RequireDatabase bool
	// Source overrides the HTTP market client.
	Source market.Source
}

// New connects the store, seeds the metric categories and builds the services.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New(), Logger: logger}

	if err := a.openStore(ctx, opts.RequireDatabase); err != nil {
		return nil, err
	}
	if err := a.Store.SeedMetricCategories(ctx, models.Categories); err != nil {
		a.Close()
		return nil, fmt.Errorf("seeding metric categories: %w", err)
	}

	source := opts.Source
	if source == nil {
		source = market.NewClient(
			market.WithBaseURL(cfg.MarketBaseURL),
			market.WithSymbolSuffix(cfg.MarketSymbolSuffix),
			market.WithRateLimit(cfg.MarketRateLimit),
			market.WithTimeout(cfg.MarketTimeout),
			market.WithLogger(logger.With().Str("component", "market").Logger()),
		)
	}

	a.Engine = fundamentals.NewEngine(a.Store, a.Metrics, logger.With().Str("component", "fundamentals").Logger())
	a.Refresher = market.NewRefresher(a.Store, source,
		market.WithHistorySince(cfg.HistorySince),
		market.WithMetrics(a.Metrics),
		market.WithRefresherLogger(logger.With().Str("component", "refresher").Logger()),
	)
	a.Importer = ingest.NewImporter(a.Store, a.Engine,
		ingest.WithHistory(a.Refresher),
		ingest.WithMetrics(a.Metrics),
		ingest.WithLogger(logger.With().Str("component", "importer").Logger()),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context, required bool) error {
	if a.Config.DatabaseURL == "" {
		if required {
			return ErrNoDatabase
		}
		a.Logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
		a.Store = memstore.New()
		return nil
	}

	if err := db.RunMigrations(a.Config.DatabaseURL); err != nil {
		if required {
			return fmt.Errorf("running migrations: %w", err)
		}
		a.Logger.Warn().Err(err).Msg("could not run migrations")
	} else {
		a.Logger.Info().Msg("migrations completed")
	}

	pool, err := db.Connect(ctx, a.Config.DatabaseURL)
	if err != nil {
		if required {
			return fmt.Errorf("connecting to database: %w", err)
		}
		a.Logger.Warn().Err(err).Msg("could not connect to database, continuing with in-memory store")
		a.Store = memstore.New()
		return nil
	}
	a.Logger.Info().Msg("connected to database")
	a.pool = pool
	a.Store = db.NewRepository(pool)
	return nil
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
