package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/price-sheet-tracker/pkg/mocksheets"
)

func main() {
	addr := defaultString("MOCK_SHEETS_ADDR", ":8080")
	dataDir := defaultString("MOCK_SHEETS_DATA_DIR", "/data/sheets")
	token := defaultString("MOCK_SHEETS_TOKEN", "")

	fs := flag.NewFlagSet("mock-sheets", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&dataDir, "data-dir", dataDir, "Directory of worksheets laid out as <spreadsheet-id>/<sheet>.csv")
	fs.StringVar(&token, "token", token, "Require this bearer token on every request (also supports env: MOCK_SHEETS_TOKEN)")
	_ = fs.Parse(os.Args[1:])

	srv := mocksheets.New()
	srv.RequireBearerToken(token)
	if err := srv.LoadDir(dataDir); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load %s: %v\n", dataDir, err)
		os.Exit(1)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-sheets listening on %s (data=%s)\n", addr, dataDir)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
