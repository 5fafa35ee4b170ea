// Package mocksheets serves an in-memory spreadsheet values API for local runs and tests.
package mocksheets

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/io/local"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/schema"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
	// Range is the decoded A1 range for values requests.
	Range string
}

type workbook struct {
	order  []string
	sheets map[string][][]string
}

// Server implements a minimal spreadsheet API surface: spreadsheet metadata
// plus values get and update.
type Server struct {
	mu    sync.Mutex
	calls []Call
	books map[string]*workbook

	expectedAuthorization string

	failCount  int
	failStatus int
}

// New constructs an empty mock server.
func New() *Server {
	return &Server{books: make(map[string]*workbook)}
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// FailNext makes the next n requests fail with status before any other handling.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCount = n
	s.failStatus = status
}

// Seed replaces a worksheet's cells, creating the spreadsheet when needed.
func (s *Server) Seed(spreadsheetID, sheet string, rows [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wb, ok := s.books[spreadsheetID]
	if !ok {
		wb = &workbook{sheets: make(map[string][][]string)}
		s.books[spreadsheetID] = wb
	}
	if _, ok := wb.sheets[sheet]; !ok {
		wb.order = append(wb.order, sheet)
	}
	grid := make([][]string, len(rows))
	for i, r := range rows {
		grid[i] = append([]string(nil), r...)
	}
	wb.sheets[sheet] = grid
}

// SeedCSV seeds a worksheet from CSV; the first record becomes row 1.
func (s *Server) SeedCSV(spreadsheetID, sheet string, r io.Reader) error {
	t, err := local.ReadTable(r)
	if err != nil {
		return err
	}
	rows := [][]string{t.Header}
	for _, row := range t.Rows {
		rows = append(rows, row.Cells)
	}
	s.Seed(spreadsheetID, sheet, rows)
	return nil
}

// LoadDir seeds every <dir>/<spreadsheetID>/<sheet>.csv file.
func (s *Server) LoadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*", "*.csv"))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for _, p := range matches {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		id := filepath.Base(filepath.Dir(p))
		sheet := strings.TrimSuffix(filepath.Base(p), ".csv")
		err = s.SeedCSV(id, sheet, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Grid returns a copy of a worksheet's cells.
func (s *Server) Grid(spreadsheetID, sheet string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	wb, ok := s.books[spreadsheetID]
	if !ok {
		return nil
	}
	grid := wb.sheets[sheet]
	out := make([][]string, len(grid))
	for i, r := range grid {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/spreadsheets/", s.handleSpreadsheets)
	return mux
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "request had invalid authentication credentials")
		return false
	}
	return true
}

func (s *Server) injectedFailure(w http.ResponseWriter) bool {
	s.mu.Lock()
	if s.failCount <= 0 {
		s.mu.Unlock()
		return false
	}
	s.failCount--
	status := s.failStatus
	s.mu.Unlock()

	writeError(w, status, "UNAVAILABLE", "injected failure")
	return true
}

func (s *Server) handleSpreadsheets(w http.ResponseWriter, r *http.Request) {
	// /v4/spreadsheets/{id}
	// /v4/spreadsheets/{id}/values/{range}
	rest := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/")
	parts := strings.SplitN(rest, "/", 3)

	call := Call{Method: r.Method, Path: r.URL.Path}
	if len(parts) == 3 {
		call.Range = parts[2]
	}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	if !s.authorize(w, r) || s.injectedFailure(w) {
		return
	}

	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "INVALID_ARGUMENT", "method not allowed")
			return
		}
		s.serveMetadata(w, id)
	case len(parts) == 3 && parts[1] == "values":
		switch r.Method {
		case http.MethodGet:
			s.serveValues(w, id, parts[2])
		case http.MethodPut:
			s.handleUpdate(w, r, id, parts[2])
		default:
			writeError(w, http.StatusMethodNotAllowed, "INVALID_ARGUMENT", "method not allowed")
		}
	default:
		http.NotFound(w, r)
	}
}

type sheetJSON struct {
	Properties struct {
		SheetID int    `json:"sheetId"`
		Title   string `json:"title"`
	} `json:"properties"`
}

func (s *Server) serveMetadata(w http.ResponseWriter, id string) {
	s.mu.Lock()
	wb, ok := s.books[id]
	var sheets []sheetJSON
	if ok {
		for i, title := range wb.order {
			var sj sheetJSON
			sj.Properties.SheetID = i
			sj.Properties.Title = title
			sheets = append(sheets, sj)
		}
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Requested entity was not found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"spreadsheetId": id,
		"sheets":        sheets,
	})
}

func (s *Server) serveValues(w http.ResponseWriter, id, a1 string) {
	rng, err := parseRange(a1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	s.mu.Lock()
	grid, status, msg := s.lookup(id, rng.sheet)
	var values [][]string
	if status == 0 {
		values = window(grid, rng)
	}
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, statusName(status), msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"range":          a1,
		"majorDimension": "ROWS",
		"values":         values,
	})
}

type updateBody struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, id, a1 string) {
	if r.URL.Query().Get("valueInputOption") == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "valueInputOption is required")
		return
	}
	rng, err := parseRange(a1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	var body updateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body")
		return
	}

	s.mu.Lock()
	grid, status, msg := s.lookup(id, rng.sheet)
	updated := 0
	if status == 0 {
		for i, row := range body.Values {
			for j, v := range row {
				grid = setCell(grid, rng.row0+i, rng.col0+j, cellString(v))
				updated++
			}
		}
		s.books[id].sheets[rng.sheet] = grid
	}
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, statusName(status), msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"spreadsheetId": id,
		"updatedRange":  a1,
		"updatedCells":  updated,
	})
}

// lookup must be called with s.mu held.
func (s *Server) lookup(id, sheet string) ([][]string, int, string) {
	wb, ok := s.books[id]
	if !ok {
		return nil, http.StatusNotFound, "Requested entity was not found."
	}
	grid, ok := wb.sheets[sheet]
	if !ok {
		return nil, http.StatusBadRequest, fmt.Sprintf("Unable to parse range: %s", sheet)
	}
	return grid, 0, ""
}

type a1Range struct {
	sheet      string
	row0, col0 int
	row1, col1 int // 0 means unbounded
}

// parseRange accepts 'Sheet'!A1:F9, Sheet!F2, Sheet!A:F and a bare sheet name.
func parseRange(raw string) (a1Range, error) {
	var out a1Range
	sheetPart, cellPart := raw, ""
	if i := strings.LastIndex(raw, "!"); i >= 0 {
		sheetPart, cellPart = raw[:i], raw[i+1:]
	}
	if len(sheetPart) >= 2 && strings.HasPrefix(sheetPart, "'") && strings.HasSuffix(sheetPart, "'") {
		sheetPart = strings.ReplaceAll(sheetPart[1:len(sheetPart)-1], "''", "'")
	}
	if sheetPart == "" {
		return out, fmt.Errorf("Unable to parse range: %s", raw)
	}
	out.sheet = sheetPart
	out.row0, out.col0 = 1, 1

	if cellPart == "" {
		return out, nil
	}
	start, end, hasEnd := strings.Cut(cellPart, ":")
	r, c, err := parseRef(start)
	if err != nil {
		return out, fmt.Errorf("Unable to parse range: %s", raw)
	}
	if r > 0 {
		out.row0 = r
	}
	if c > 0 {
		out.col0 = c
	}
	if !hasEnd {
		out.row1, out.col1 = out.row0, out.col0
		return out, nil
	}
	out.row1, out.col1, err = parseRef(end)
	if err != nil {
		return out, fmt.Errorf("Unable to parse range: %s", raw)
	}
	return out, nil
}

func parseRef(ref string) (row, col int, err error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		i++
	}
	if i > 0 {
		col, err = schema.ParseColumn(ref[:i])
		if err != nil {
			return 0, 0, err
		}
	}
	if i < len(ref) {
		row, err = strconv.Atoi(ref[i:])
		if err != nil || row < 1 {
			return 0, 0, fmt.Errorf("invalid row in %q", ref)
		}
	}
	if row == 0 && col == 0 {
		return 0, 0, fmt.Errorf("empty reference")
	}
	return row, col, nil
}

// window cuts rng out of grid, dropping trailing empty cells and rows like the real API.
func window(grid [][]string, rng a1Range) [][]string {
	var out [][]string
	for r := rng.row0; r <= len(grid) && (rng.row1 == 0 || r <= rng.row1); r++ {
		src := grid[r-1]
		var row []string
		for c := rng.col0; c <= len(src) && (rng.col1 == 0 || c <= rng.col1); c++ {
			row = append(row, src[c-1])
		}
		for len(row) > 0 && row[len(row)-1] == "" {
			row = row[:len(row)-1]
		}
		out = append(out, row)
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	for i := range out {
		if out[i] == nil {
			out[i] = []string{}
		}
	}
	return out
}

func setCell(grid [][]string, row, col int, value string) [][]string {
	for len(grid) < row {
		grid = append(grid, nil)
	}
	for len(grid[row-1]) < col {
		grid[row-1] = append(grid[row-1], "")
	}
	grid[row-1][col-1] = value
	return grid
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func statusName(code int) string {
	switch code {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	default:
		return "UNKNOWN"
	}
}

func writeError(w http.ResponseWriter, code int, status, message string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
