package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Load layers the config file at path (if any) and the process environment
// over Default. A missing path is not an error; a named file that does not
// exist is.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		fromFile, err := ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := mergo.Merge(&cfg, fromFile, mergo.WithOverride); err != nil {
			return Config{}, fmt.Errorf("merge config file: %w", err)
		}
	}
	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadFile decodes path (json5, or yaml for .yaml/.yml) and merges a sibling
// <name>.local.<ext> file over it when one exists. It returns os.ErrNotExist
// if neither file is present.
func ReadFile(path string) (Config, error) {
	ext := filepath.Ext(path)
	localPath := strings.TrimSuffix(path, ext) + ".local" + ext

	var out Config
	found := false

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(ext, b, &out); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		found = true
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	b, err = os.ReadFile(localPath)
	switch {
	case err == nil:
		var override Config
		if err := decode(ext, b, &override); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", localPath, err)
		}
		slog.Info("merging config with local overrides", "local", localPath)
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return Config{}, fmt.Errorf("merge %s: %w", localPath, err)
		}
		found = true
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read %s: %w", localPath, err)
	}

	if !found {
		return Config{}, fmt.Errorf("config %s: %w", path, os.ErrNotExist)
	}
	return out, nil
}

func decode(ext string, b []byte, out *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, out)
	default:
		return json5.Unmarshal(b, out)
	}
}

// ApplyEnv overrides cfg with any of the recognised environment variables that
// are set and non-empty.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	e := envReader{getenv: getenv}

	e.setString("SHEET_ID", &cfg.Sheets.SpreadsheetID)
	e.setString("SHEET_NAME", &cfg.Sheets.Worksheet)
	e.setString("SHEETS_CREDENTIAL_FILE", &cfg.Sheets.CredentialFile)
	e.setString("SHEETS_API_URL", &cfg.Sheets.APIURL)
	e.setString("SHEETS_SERVICE_DISCOVERY", &cfg.Sheets.DiscoveryFile)

	e.setString("PRICE_TRACKER_CSV", &cfg.CSV.Path)
	e.setString("PRICE_TRACKER_SQLITE_DSN", &cfg.SQLite.DSN)

	e.setString("PRICE_TRACKER_TITLE_COLUMN", &cfg.Layout.TitleColumn)
	e.setString("PRICE_TRACKER_PRICE_COLUMN", &cfg.Layout.PriceColumn)
	e.setString("PRICE_TRACKER_URL_HEADER", &cfg.Layout.URLHeader)

	e.setDuration("PRICE_TRACKER_TIMEOUT", &cfg.Fetch.Timeout)
	e.setString("PRICE_TRACKER_USER_AGENT", &cfg.Fetch.UserAgent)
	e.setInt64("PRICE_TRACKER_MAX_BODY_BYTES", &cfg.Fetch.MaxBodyBytes)
	e.setBool("PRICE_TRACKER_BYPASS_BOT_PROTECTION", &cfg.Fetch.BypassBotProtection)
	e.setString("PRICE_TRACKER_MARKETPLACE", &cfg.Fetch.MarketplaceToken)

	e.setDuration("PRICE_TRACKER_DELAY", &cfg.Run.Delay)
	e.setInt("PRICE_TRACKER_WORKERS", &cfg.Run.Workers)
	e.setString("PRICE_TRACKER_PRICE_POLICY", &cfg.Run.PricePolicy)
	e.setBool("PRICE_TRACKER_DRY_RUN", &cfg.Run.DryRun)

	e.setString("PRICE_TRACKER_LOG_LEVEL", &cfg.Log.Level)
	e.setString("PRICE_TRACKER_LOG_FORMAT", &cfg.Log.Format)

	e.setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	e.setString("OTEL_SERVICE_NAME", &cfg.Telemetry.ServiceName)
	e.setBool("OTEL_EXPORTER_OTLP_INSECURE", &cfg.Telemetry.Insecure)

	return errors.Join(e.errs...)
}

type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) lookup(varName string) (string, bool) {
	v := strings.TrimSpace(e.getenv(varName))
	return v, v != ""
}

func (e *envReader) setString(varName string, dst *string) {
	if v, ok := e.lookup(varName); ok {
		*dst = v
	}
}

func (e *envReader) setInt(varName string, dst *int) {
	v, ok := e.lookup(varName)
	if !ok {
		return
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s=%q: %w", varName, v, err))
		return
	}
	*dst = out
}

func (e *envReader) setInt64(varName string, dst *int64) {
	v, ok := e.lookup(varName)
	if !ok {
		return
	}
	out, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s=%q: %w", varName, v, err))
		return
	}
	*dst = out
}

// setDuration validates eagerly but stores the text form used by config files.
func (e *envReader) setDuration(varName string, dst *string) {
	v, ok := e.lookup(varName)
	if !ok {
		return
	}
	if _, err := time.ParseDuration(v); err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s=%q: %w", varName, v, err))
		return
	}
	*dst = v
}

func (e *envReader) setBool(varName string, dst *bool) {
	v, ok := e.lookup(varName)
	if !ok {
		return
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s=%q: %w", varName, v, err))
		return
	}
	*dst = out
}
