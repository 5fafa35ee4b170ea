package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/price-sheet-tracker/internal/app"
	"github.com/shpitdev/price-sheet-tracker/internal/config"
	"github.com/shpitdev/price-sheet-tracker/internal/tracker"
	"github.com/shpitdev/price-sheet-tracker/pkg/mocksheets"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/io/local"
)

const widgetPage = `<html><body>
<span id="productTitle"> Widget </span>
<div id="corePrice_feature_div"><span class="a-price"><span class="a-offscreen">£25.00</span></span></div>
</body></html>`

type pageServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newPageServer(t *testing.T) *pageServer {
	t.Helper()
	ps := &pageServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.hits.Add(1)
		switch r.URL.Path {
		case "/amazon/dp/widget":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, widgetPage)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ps.Close)
	return ps
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.Run.Delay = "0s"
	cfg.Fetch.Timeout = "5s"
	return cfg
}

func TestRunSheets_EndToEnd(t *testing.T) {
	ctx := context.Background()
	pages := newPageServer(t)

	const token = "sheets-token"
	srv := mocksheets.New()
	srv.RequireBearerToken(token)
	srv.Seed("sheet-1", "Data", [][]string{
		{"Title", "Amazon Link", "", "", "", "Price"},
		{"", pages.URL + "/amazon/dp/widget", "", "", "", "20.00"},
		{"Keep me", "", "", "", "", "9.99"},
	})
	api := httptest.NewServer(srv.Handler())
	defer api.Close()

	credPath := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(credPath, []byte(token+"\n"), 0o600))

	cfg := baseConfig()
	cfg.Sheets.SpreadsheetID = "sheet-1"
	cfg.Sheets.CredentialFile = credPath
	cfg.Sheets.APIURL = api.URL

	summary, err := app.RunSheets(ctx, cfg, discardLogger())
	require.NoError(t, err)
	require.Equal(t, tracker.RunSummary{Considered: 2, Updated: 1, Skipped: 1}, summary)
	require.EqualValues(t, 1, pages.hits.Load())

	want := [][]string{
		{"Title", "Amazon Link", "", "", "", "Price"},
		{"Widget", pages.URL + "/amazon/dp/widget", "", "", "", "25.00"},
		{"Keep me", "", "", "", "", "9.99"},
	}
	if diff := cmp.Diff(want, srv.Grid("sheet-1", "Data")); diff != "" {
		t.Fatalf("grid mismatch (-want +got):\n%s", diff)
	}

	var writes []string
	for _, c := range srv.Calls() {
		if c.Method == http.MethodPut {
			writes = append(writes, c.Range)
		}
	}
	require.Equal(t, []string{"'Data'!A2", "'Data'!F2"}, writes)
}

func TestRunSheets_SecondRunWritesNoPrice(t *testing.T) {
	ctx := context.Background()
	pages := newPageServer(t)

	srv := mocksheets.New()
	srv.Seed("sheet-1", "Data", [][]string{
		{"Title", "Amazon Link", "", "", "", "Price"},
		{"Widget", pages.URL + "/amazon/dp/widget", "", "", "", "25.00"},
	})
	api := httptest.NewServer(srv.Handler())
	defer api.Close()

	credPath := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(credPath, []byte(`{"access_token":"x"}`), 0o600))

	cfg := baseConfig()
	cfg.Sheets.SpreadsheetID = "sheet-1"
	cfg.Sheets.CredentialFile = credPath
	cfg.Sheets.APIURL = api.URL

	_, err := app.RunSheets(ctx, cfg, discardLogger())
	require.NoError(t, err)
	for _, c := range srv.Calls() {
		if c.Method == http.MethodPut {
			require.NotEqual(t, "'Data'!F2", c.Range, "price must not be rewritten when unchanged")
		}
	}
}

func TestRunSheets_MissingWorksheetIsStoreUnavailable(t *testing.T) {
	srv := mocksheets.New()
	srv.Seed("sheet-1", "Other", [][]string{{"Amazon Link"}})
	api := httptest.NewServer(srv.Handler())
	defer api.Close()

	credPath := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(credPath, []byte("t"), 0o600))

	cfg := baseConfig()
	cfg.Sheets.SpreadsheetID = "sheet-1"
	cfg.Sheets.CredentialFile = credPath
	cfg.Sheets.APIURL = api.URL

	_, err := app.RunSheets(context.Background(), cfg, discardLogger())
	if !errors.Is(err, tracker.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	require.ErrorContains(t, err, `worksheet "Data" not found`)
}

func TestRunSheets_InvalidConfig(t *testing.T) {
	_, err := app.RunSheets(context.Background(), baseConfig(), discardLogger())
	require.ErrorContains(t, err, "spreadsheet id is required")
}

func TestRunCSV_EndToEnd(t *testing.T) {
	pages := newPageServer(t)
	path := filepath.Join(t.TempDir(), "rows.csv")
	input := "Title,Amazon Link,,,,Price\n" +
		"," + pages.URL + "/amazon/dp/widget,,,,20.00\n" +
		",,,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(input), 0o600))

	cfg := baseConfig()
	cfg.CSV.Path = path

	summary, err := app.RunCSV(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.Equal(t, tracker.RunSummary{Considered: 2, Updated: 1, Skipped: 1}, summary)
	require.EqualValues(t, 1, pages.hits.Load())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	table, err := local.ReadTable(f)
	require.NoError(t, err)
	require.Equal(t, "Widget", table.Rows[0].Cell(1))
	require.Equal(t, "25.00", table.Rows[0].Cell(6))
	require.Equal(t, "", table.Rows[1].Cell(1))
}

func TestRunCSV_DryRunLeavesFileUntouched(t *testing.T) {
	pages := newPageServer(t)
	path := filepath.Join(t.TempDir(), "rows.csv")
	input := "Title,Amazon Link,,,,Price\n," + pages.URL + "/amazon/dp/widget,,,,20.00\n"
	require.NoError(t, os.WriteFile(path, []byte(input), 0o600))

	cfg := baseConfig()
	cfg.CSV.Path = path
	cfg.Run.DryRun = true

	var logs bytes.Buffer
	summary, err := app.RunCSV(context.Background(), cfg, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, input, string(got))
	require.True(t, strings.Contains(logs.String(), "dry_run=true"))
}

func TestRunSQLite_SeedsAndUpdates(t *testing.T) {
	pages := newPageServer(t)
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.csv")
	require.NoError(t, os.WriteFile(seed, []byte(
		"Title,Amazon Link,,,,Price\n,"+pages.URL+"/amazon/dp/widget,,,,20.00\n"+
			",https://example.com/not-a-product,,,,\n",
	), 0o600))

	cfg := baseConfig()
	cfg.SQLite.DSN = filepath.Join(dir, "cells.db")
	cfg.SQLite.SeedCSV = seed

	summary, err := app.RunSQLite(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.Equal(t, tracker.RunSummary{Considered: 2, Updated: 1, Skipped: 1}, summary)
	require.EqualValues(t, 1, pages.hits.Load())

	// A second run against the same file, without reseeding, finds nothing new to price.
	cfg.SQLite.SeedCSV = ""
	summary, err = app.RunSQLite(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Considered)
}
