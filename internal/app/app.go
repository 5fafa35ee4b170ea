// Package app assembles a tracker run from configuration for each store backend.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shpitdev/price-sheet-tracker/internal/config"
	"github.com/shpitdev/price-sheet-tracker/internal/tracker"
	"github.com/shpitdev/price-sheet-tracker/pkg/extract"
	"github.com/shpitdev/price-sheet-tracker/pkg/fetch"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/core"
	localio "github.com/shpitdev/price-sheet-tracker/pkg/pipeline/io/local"
	sheetsio "github.com/shpitdev/price-sheet-tracker/pkg/pipeline/io/sheets"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/io/sqlitestore"
	"github.com/shpitdev/price-sheet-tracker/pkg/sheets"
)

// NewDriver builds a Driver with a fresh fetcher and extractor from cfg.
func NewDriver(cfg config.Config, logger *slog.Logger) (*tracker.Driver, error) {
	policy, err := tracker.ParsePricePolicy(cfg.Run.PricePolicy)
	if err != nil {
		return nil, err
	}
	return &tracker.Driver{
		Fetcher:          fetch.New(cfg.FetchOptions()),
		Extractor:        extract.New(),
		Layout:           cfg.SchemaLayout(),
		Policy:           policy,
		MarketplaceToken: cfg.Fetch.MarketplaceToken,
		Workers:          cfg.Run.Workers,
		Delay:            cfg.Run.DelayDuration(),
		DryRun:           cfg.Run.DryRun,
		DebugSampleBytes: cfg.Run.DebugSampleBytes,
		Logger:           logger,
	}, nil
}

// RunSheets reconciles the configured worksheet through the Sheets values API.
func RunSheets(ctx context.Context, cfg config.Config, logger *slog.Logger) (tracker.RunSummary, error) {
	if err := cfg.Validate(config.ModeSheets); err != nil {
		return tracker.RunSummary{}, err
	}
	token, err := sheets.ReadToken(cfg.Sheets.CredentialFile)
	if err != nil {
		return tracker.RunSummary{}, err
	}
	baseURL, err := sheets.ResolveBaseURL(cfg.Sheets.APIURL, cfg.Sheets.DiscoveryFile)
	if err != nil {
		return tracker.RunSummary{}, err
	}
	client, err := sheets.NewClient(baseURL, token)
	if err != nil {
		return tracker.RunSummary{}, err
	}
	store := sheetsio.NewStore(client, cfg.Sheets.SpreadsheetID, cfg.Sheets.Worksheet)

	logger.InfoContext(ctx, "sheets run start",
		"spreadsheet", cfg.Sheets.SpreadsheetID,
		"worksheet", cfg.Sheets.Worksheet,
		"api", baseURL,
	)
	probeStart := time.Now()
	if err := store.Probe(ctx); err != nil {
		return tracker.RunSummary{}, fmt.Errorf("%w: probe worksheet: %w", tracker.ErrStoreUnavailable, err)
	}
	logger.InfoContext(ctx, "worksheet probe ok", "took", time.Since(probeStart))

	return run(ctx, cfg, logger, store)
}

// RunCSV reconciles a local CSV file and rewrites it when anything changed.
func RunCSV(ctx context.Context, cfg config.Config, logger *slog.Logger) (tracker.RunSummary, error) {
	if err := cfg.Validate(config.ModeCSV); err != nil {
		return tracker.RunSummary{}, err
	}
	store, err := localio.OpenCSV(cfg.CSV.Path)
	if err != nil {
		return tracker.RunSummary{}, fmt.Errorf("%w: %w", tracker.ErrStoreUnavailable, err)
	}
	logger.InfoContext(ctx, "csv run start", "path", cfg.CSV.Path)

	summary, runErr := run(ctx, cfg, logger, store)
	// Rows written before an abort are kept.
	if store.Dirty() {
		if err := store.Save(); err != nil {
			return summary, fmt.Errorf("%w: save %s: %w", tracker.ErrStoreUnavailable, cfg.CSV.Path, err)
		}
		logger.InfoContext(ctx, "csv saved", "path", cfg.CSV.Path)
	}
	return summary, runErr
}

// RunSQLite reconciles one sheet of a SQLite cell store, optionally seeding it
// from a CSV file first.
func RunSQLite(ctx context.Context, cfg config.Config, logger *slog.Logger) (tracker.RunSummary, error) {
	if err := cfg.Validate(config.ModeSQLite); err != nil {
		return tracker.RunSummary{}, err
	}
	store, err := sqlitestore.Open(ctx, cfg.SQLite.DSN, cfg.SQLite.Sheet)
	if err != nil {
		return tracker.RunSummary{}, fmt.Errorf("%w: %w", tracker.ErrStoreUnavailable, err)
	}
	defer func() {
		_ = store.Close()
	}()

	if cfg.SQLite.SeedCSV != "" {
		if err := seedSQLite(ctx, store, cfg.SQLite.SeedCSV); err != nil {
			return tracker.RunSummary{}, err
		}
		logger.InfoContext(ctx, "sqlite seeded", "sheet", cfg.SQLite.Sheet, "from", cfg.SQLite.SeedCSV)
	}
	logger.InfoContext(ctx, "sqlite run start", "dsn", cfg.SQLite.DSN, "sheet", cfg.SQLite.Sheet)
	return run(ctx, cfg, logger, store)
}

func seedSQLite(ctx context.Context, store *sqlitestore.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	t, err := localio.ReadTable(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return store.Seed(ctx, t)
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, store core.TableStore) (tracker.RunSummary, error) {
	driver, err := NewDriver(cfg, logger)
	if err != nil {
		return tracker.RunSummary{}, err
	}
	start := time.Now()
	summary, err := driver.Run(ctx, store)
	logger.InfoContext(ctx, "run complete",
		"considered", summary.Considered,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"took", time.Since(start),
	)
	return summary, err
}
