package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/shpitdev/price-sheet-tracker/internal/config"
	"github.com/shpitdev/price-sheet-tracker/internal/telemetry"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/redact"
)

// exitError carries a process exit code: 2 for configuration problems, 1 for
// failed runs.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error { return &exitError{code: 2, err: err} }
func runError(err error) error    { return &exitError{code: 1, err: err} }

// cli is the state shared by every subcommand once the root has loaded config.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg      config.Config
	logger   *slog.Logger
	shutdown telemetry.Shutdown

	stdout io.Writer
	stderr io.Writer
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, c := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	c.teardown()
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "error: %s\n", redact.Secrets(err.Error()))
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Flag and argument parsing errors.
	return 2
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *cli) {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "pricetracker",
		Short: "Refreshes product titles and prices in a spreadsheet from their product pages.",
		Long: `pricetracker reads every row of a worksheet, fetches the product page named in
the "Amazon Link" column, and writes the page's title and current price back
into the row.

Configuration is layered: built-in defaults, then --config (json5 or yaml, with
an optional <name>.local.<ext> override), then environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Context())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "Config file (.json5, .yaml or .yml)")
	pf.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error (env: PRICE_TRACKER_LOG_LEVEL)")
	pf.StringVar(&c.logFormat, "log-format", "", "Log format: text or json (env: PRICE_TRACKER_LOG_FORMAT)")

	root.AddCommand(
		newSheetsCmd(c),
		newCSVCmd(c),
		newSQLiteCmd(c),
		newVersionCmd(c),
	)
	return root, c
}

func (c *cli) setup(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return configError(err)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Log.Format = c.logFormat
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return configError(fmt.Errorf("log level: %w", err))
	}
	c.cfg = cfg
	c.logger = telemetry.NewLogger(c.stderr, level, cfg.Log.Format, telemetry.NewRunID())
	slog.SetDefault(c.logger)

	c.shutdown, err = telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return configError(fmt.Errorf("telemetry: %w", err))
	}
	return nil
}

func (c *cli) teardown() {
	if c.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.shutdown(ctx); err != nil {
		c.logger.Warn("telemetry shutdown failed", "err", err)
	}
}
