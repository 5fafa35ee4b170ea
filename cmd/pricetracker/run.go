package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shpitdev/price-sheet-tracker/internal/app"
	"github.com/shpitdev/price-sheet-tracker/internal/config"
	"github.com/shpitdev/price-sheet-tracker/internal/tracker"
)

// runFlags are shared by every store subcommand. Only flags the user set
// override the loaded config.
type runFlags struct {
	delay       time.Duration
	workers     int
	pricePolicy string
	dryRun      bool
	sample      int

	timeout     time.Duration
	userAgent   string
	marketplace string
	bypass      bool

	titleColumn string
	priceColumn string
	urlHeader   string
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.DurationVar(&f.delay, "delay", tracker.DefaultDelay, "Minimum spacing between product page requests (env: PRICE_TRACKER_DELAY)")
	fs.IntVar(&f.workers, "workers", 1, "Concurrent page fetches (env: PRICE_TRACKER_WORKERS)")
	fs.StringVar(&f.pricePolicy, "price-policy", string(tracker.PricePolicyOnChange), "When to write prices: on-change or always (env: PRICE_TRACKER_PRICE_POLICY)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Log planned updates without writing them (env: PRICE_TRACKER_DRY_RUN)")
	fs.IntVar(&f.sample, "debug-sample-bytes", 800, "Bytes of the first fetched page to log at debug level, 0 disables")

	fs.DurationVar(&f.timeout, "timeout", 0, "Per-page fetch timeout (env: PRICE_TRACKER_TIMEOUT)")
	fs.StringVar(&f.userAgent, "user-agent", "", "User-Agent for page requests (env: PRICE_TRACKER_USER_AGENT)")
	fs.StringVar(&f.marketplace, "marketplace", "", "Substring a product URL must contain (env: PRICE_TRACKER_MARKETPLACE)")
	fs.BoolVar(&f.bypass, "bypass-bot-protection", false, "Route page requests through a browser-like TLS transport")

	fs.StringVar(&f.titleColumn, "title-column", "", "Title column, letters or 1-based number (env: PRICE_TRACKER_TITLE_COLUMN)")
	fs.StringVar(&f.priceColumn, "price-column", "", "Price column, letters or 1-based number (env: PRICE_TRACKER_PRICE_COLUMN)")
	fs.StringVar(&f.urlHeader, "url-header", "", "Header of the product URL column (env: PRICE_TRACKER_URL_HEADER)")
}

func (f *runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("delay") {
		cfg.Run.Delay = f.delay.String()
	}
	if fs.Changed("workers") {
		cfg.Run.Workers = f.workers
	}
	if fs.Changed("price-policy") {
		cfg.Run.PricePolicy = f.pricePolicy
	}
	if fs.Changed("dry-run") {
		cfg.Run.DryRun = f.dryRun
	}
	if fs.Changed("debug-sample-bytes") {
		cfg.Run.DebugSampleBytes = f.sample
	}
	if fs.Changed("timeout") {
		cfg.Fetch.Timeout = f.timeout.String()
	}
	if fs.Changed("user-agent") {
		cfg.Fetch.UserAgent = f.userAgent
	}
	if fs.Changed("marketplace") {
		cfg.Fetch.MarketplaceToken = f.marketplace
	}
	if fs.Changed("bypass-bot-protection") {
		cfg.Fetch.BypassBotProtection = f.bypass
	}
	if fs.Changed("title-column") {
		cfg.Layout.TitleColumn = f.titleColumn
	}
	if fs.Changed("price-column") {
		cfg.Layout.PriceColumn = f.priceColumn
	}
	if fs.Changed("url-header") {
		cfg.Layout.URLHeader = f.urlHeader
	}
}

type runFunc func(context.Context, config.Config, *slog.Logger) (tracker.RunSummary, error)

// execRun validates cfg for mode, runs, and prints the summary. The summary is
// printed even when the run aborts part way.
func (c *cli) execRun(cmd *cobra.Command, mode config.Mode, cfg config.Config, run runFunc) error {
	if err := cfg.Validate(mode); err != nil {
		return configError(err)
	}
	summary, err := run(cmd.Context(), cfg, c.logger)
	renderSummary(c.stdout, mode, cfg.Run.DryRun, summary)
	if err != nil {
		if errors.Is(err, config.ErrInvalid) {
			return configError(err)
		}
		return runError(err)
	}
	return nil
}

func newSheetsCmd(c *cli) *cobra.Command {
	var rf runFlags
	var sheetID, worksheet, credFile, apiURL, discovery string

	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Reconcile a worksheet through the spreadsheet values API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg
			fs := cmd.Flags()
			rf.apply(fs, &cfg)
			if fs.Changed("sheet-id") {
				cfg.Sheets.SpreadsheetID = sheetID
			}
			if fs.Changed("worksheet") {
				cfg.Sheets.Worksheet = worksheet
			}
			if fs.Changed("credential-file") {
				cfg.Sheets.CredentialFile = credFile
			}
			if fs.Changed("api-url") {
				cfg.Sheets.APIURL = apiURL
			}
			if fs.Changed("discovery-file") {
				cfg.Sheets.DiscoveryFile = discovery
			}
			return c.execRun(cmd, config.ModeSheets, cfg, app.RunSheets)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&sheetID, "sheet-id", "", "Spreadsheet id (env: SHEET_ID)")
	fs.StringVar(&worksheet, "worksheet", "", "Worksheet name, default Data (env: SHEET_NAME)")
	fs.StringVar(&credFile, "credential-file", "", "File holding a bearer token (env: SHEETS_CREDENTIAL_FILE)")
	fs.StringVar(&apiURL, "api-url", "", "Spreadsheet API base URL override (env: SHEETS_API_URL)")
	fs.StringVar(&discovery, "discovery-file", "", "YAML service discovery file with a sheets_api entry (env: SHEETS_SERVICE_DISCOVERY)")
	rf.register(fs)
	return cmd
}

func newCSVCmd(c *cli) *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "csv [path]",
		Short: "Reconcile a local CSV file in place.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			rf.apply(cmd.Flags(), &cfg)
			if len(args) == 1 {
				cfg.CSV.Path = args[0]
			}
			return c.execRun(cmd, config.ModeCSV, cfg, app.RunCSV)
		},
	}
	rf.register(cmd.Flags())
	return cmd
}

func newSQLiteCmd(c *cli) *cobra.Command {
	var rf runFlags
	var dsn, sheet, seed string
	cmd := &cobra.Command{
		Use:   "sqlite",
		Short: "Reconcile one sheet of a SQLite cell store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg
			fs := cmd.Flags()
			rf.apply(fs, &cfg)
			if fs.Changed("dsn") {
				cfg.SQLite.DSN = dsn
			}
			if fs.Changed("sheet") {
				cfg.SQLite.Sheet = sheet
			}
			if fs.Changed("seed-csv") {
				cfg.SQLite.SeedCSV = seed
			}
			return c.execRun(cmd, config.ModeSQLite, cfg, app.RunSQLite)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&dsn, "dsn", "", "SQLite database path or DSN (env: PRICE_TRACKER_SQLITE_DSN)")
	fs.StringVar(&sheet, "sheet", "", "Sheet name inside the database, default Data")
	fs.StringVar(&seed, "seed-csv", "", "Replace the sheet with this CSV before the run")
	rf.register(fs)
	return cmd
}
