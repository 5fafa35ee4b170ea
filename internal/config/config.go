// Package config loads run settings from defaults, config files, environment
// variables and flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shpitdev/price-sheet-tracker/internal/tracker"
	"github.com/shpitdev/price-sheet-tracker/pkg/fetch"
	sheetsio "github.com/shpitdev/price-sheet-tracker/pkg/pipeline/io/sheets"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/schema"
)

// ErrInvalid wraps every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Mode selects the table store backing a run.
type Mode string

const (
	ModeSheets Mode = "sheets"
	ModeCSV    Mode = "csv"
	ModeSQLite Mode = "sqlite"
)

type Config struct {
	Sheets    SheetsConfig    `json:"sheets" yaml:"sheets"`
	CSV       CSVConfig       `json:"csv" yaml:"csv"`
	SQLite    SQLiteConfig    `json:"sqlite" yaml:"sqlite"`
	Layout    LayoutConfig    `json:"layout" yaml:"layout"`
	Fetch     FetchConfig     `json:"fetch" yaml:"fetch"`
	Run       RunConfig       `json:"run" yaml:"run"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

type SheetsConfig struct {
	SpreadsheetID string `json:"spreadsheet_id" yaml:"spreadsheet_id"`
	Worksheet     string `json:"worksheet" yaml:"worksheet"`
	// CredentialFile holds an already-issued bearer token.
	CredentialFile string `json:"credential_file" yaml:"credential_file"`
	APIURL         string `json:"api_url" yaml:"api_url"`
	DiscoveryFile  string `json:"discovery_file" yaml:"discovery_file"`
}

type CSVConfig struct {
	Path string `json:"path" yaml:"path"`
}

type SQLiteConfig struct {
	DSN   string `json:"dsn" yaml:"dsn"`
	Sheet string `json:"sheet" yaml:"sheet"`
	// SeedCSV, when set, replaces the sheet's contents before the run.
	SeedCSV string `json:"seed_csv" yaml:"seed_csv"`
}

type LayoutConfig struct {
	TitleColumn string `json:"title_column" yaml:"title_column"`
	PriceColumn string `json:"price_column" yaml:"price_column"`
	URLHeader   string `json:"url_header" yaml:"url_header"`
}

type FetchConfig struct {
	Timeout             string `json:"timeout" yaml:"timeout"`
	UserAgent           string `json:"user_agent" yaml:"user_agent"`
	MaxBodyBytes        int64  `json:"max_body_bytes" yaml:"max_body_bytes"`
	BypassBotProtection bool   `json:"bypass_bot_protection" yaml:"bypass_bot_protection"`
	MarketplaceToken    string `json:"marketplace_token" yaml:"marketplace_token"`
}

type RunConfig struct {
	Delay            string `json:"delay" yaml:"delay"`
	Workers          int    `json:"workers" yaml:"workers"`
	PricePolicy      string `json:"price_policy" yaml:"price_policy"`
	DryRun           bool   `json:"dry_run" yaml:"dry_run"`
	DebugSampleBytes int    `json:"debug_sample_bytes" yaml:"debug_sample_bytes"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	Insecure     bool   `json:"insecure" yaml:"insecure"`
	ServiceName  string `json:"service_name" yaml:"service_name"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Sheets: SheetsConfig{Worksheet: sheetsio.DefaultWorksheet},
		SQLite: SQLiteConfig{Sheet: sheetsio.DefaultWorksheet},
		Layout: LayoutConfig{
			TitleColumn: schema.DefaultTitleColumn,
			PriceColumn: schema.DefaultPriceColumn,
			URLHeader:   schema.DefaultURLHeader,
		},
		Fetch: FetchConfig{
			Timeout:          fetch.DefaultTimeout.String(),
			UserAgent:        fetch.DefaultUserAgent,
			MaxBodyBytes:     fetch.DefaultMaxBodyBytes,
			MarketplaceToken: "amazon",
		},
		Run: RunConfig{
			Delay:            tracker.DefaultDelay.String(),
			Workers:          1,
			PricePolicy:      string(tracker.PricePolicyOnChange),
			DebugSampleBytes: 800,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{
			ServiceName: "pricetracker",
		},
	}
}

// Validate reports every problem with c for the given mode at once.
func (c Config) Validate(mode Mode) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch mode {
	case ModeSheets:
		if strings.TrimSpace(c.Sheets.SpreadsheetID) == "" {
			add("spreadsheet id is required (SHEET_ID or sheets.spreadsheet_id)")
		}
		if strings.TrimSpace(c.Sheets.CredentialFile) == "" {
			add("credential file is required (SHEETS_CREDENTIAL_FILE or sheets.credential_file)")
		}
	case ModeCSV:
		if strings.TrimSpace(c.CSV.Path) == "" {
			add("csv path is required")
		}
	case ModeSQLite:
		if strings.TrimSpace(c.SQLite.DSN) == "" {
			add("sqlite dsn is required")
		}
		if strings.TrimSpace(c.SQLite.Sheet) == "" {
			add("sqlite sheet name is required")
		}
	default:
		add("unknown mode %q", mode)
	}

	if _, err := schema.ParseColumn(c.Layout.TitleColumn); err != nil {
		add("layout.title_column: %w", err)
	}
	if _, err := schema.ParseColumn(c.Layout.PriceColumn); err != nil {
		add("layout.price_column: %w", err)
	}
	if strings.TrimSpace(c.Layout.URLHeader) == "" {
		add("layout.url_header is required")
	}

	if d, err := time.ParseDuration(c.Fetch.Timeout); err != nil || d <= 0 {
		add("fetch.timeout must be a positive duration (got %q)", c.Fetch.Timeout)
	}
	if c.Fetch.MaxBodyBytes < 0 {
		add("fetch.max_body_bytes must not be negative")
	}
	if d, err := time.ParseDuration(c.Run.Delay); err != nil || d < 0 {
		add("run.delay must be a non-negative duration (got %q)", c.Run.Delay)
	}
	if c.Run.Workers < 1 {
		add("run.workers must be at least 1 (got %d)", c.Run.Workers)
	}
	if _, err := tracker.ParsePricePolicy(c.Run.PricePolicy); err != nil {
		add("run.price_policy: %w", err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", "text", "json":
	default:
		add("log.format must be text or json (got %q)", c.Log.Format)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// TimeoutDuration returns the parsed fetch timeout, falling back to the default.
func (f FetchConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(f.Timeout)
	if err != nil || d <= 0 {
		return fetch.DefaultTimeout
	}
	return d
}

// DelayDuration returns the parsed inter-request delay, falling back to the default.
func (r RunConfig) DelayDuration() time.Duration {
	d, err := time.ParseDuration(r.Delay)
	if err != nil || d < 0 {
		return tracker.DefaultDelay
	}
	return d
}

func (c Config) SchemaLayout() schema.Layout {
	return schema.Layout{
		TitleColumn: c.Layout.TitleColumn,
		PriceColumn: c.Layout.PriceColumn,
		URLHeader:   c.Layout.URLHeader,
	}
}

func (c Config) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:             c.Fetch.TimeoutDuration(),
		UserAgent:           c.Fetch.UserAgent,
		MaxBodyBytes:        c.Fetch.MaxBodyBytes,
		BypassBotProtection: c.Fetch.BypassBotProtection,
	}
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(raw string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(raw) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}
