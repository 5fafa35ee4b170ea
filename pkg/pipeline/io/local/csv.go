package local

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/core"
)

// ReadTable reads a CSV whose first record is the header. Data rows are numbered
// from 2 so they line up with spreadsheet row numbers.
func ReadTable(r io.Reader) (core.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return core.Table{}, fmt.Errorf("read header: %w", err)
	}

	t := core.Table{Header: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return core.Table{}, fmt.Errorf("read row: %w", err)
		}
		t.Rows = append(t.Rows, core.Row{Number: len(t.Rows) + 2, Cells: rec})
	}
	return t, nil
}

// WriteTable writes the header and rows back out, padding short rows to the widest row.
func WriteTable(w io.Writer, t core.Table) error {
	width := len(t.Header)
	for _, r := range t.Rows {
		if len(r.Cells) > width {
			width = len(r.Cells)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(pad(t.Header, width)); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if err := cw.Write(pad(r.Cells, width)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func pad(cells []string, width int) []string {
	if len(cells) >= width {
		return cells
	}
	out := make([]string, width)
	copy(out, cells)
	return out
}

// CSVStore is a core.TableStore over a local CSV file. Writes are held in
// memory until Save replaces the file.
type CSVStore struct {
	path string

	mu    sync.Mutex
	table core.Table
	dirty bool
}

// OpenCSV loads path into memory.
func OpenCSV(path string) (*CSVStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	t, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &CSVStore{path: path, table: t}, nil
}

func (s *CSVStore) ReadAll(_ context.Context) (core.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTable(s.table), nil
}

func (s *CSVStore) WriteCell(_ context.Context, row, column int, value string) error {
	if row < 1 || column < 1 {
		return fmt.Errorf("invalid cell row=%d column=%d", row, column)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if row == 1 {
		s.table.Header = setCell(s.table.Header, column, value)
		s.dirty = true
		return nil
	}
	for len(s.table.Rows) < row-1 {
		s.table.Rows = append(s.table.Rows, core.Row{Number: len(s.table.Rows) + 2})
	}
	r := &s.table.Rows[row-2]
	r.Cells = setCell(r.Cells, column, value)
	s.dirty = true
	return nil
}

func setCell(cells []string, column int, value string) []string {
	for len(cells) < column {
		cells = append(cells, "")
	}
	cells[column-1] = value
	return cells
}

// Dirty reports whether any cell was written since the last Save.
func (s *CSVStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Save writes the table to a temporary file beside path and renames it into place.
func (s *CSVStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	var buf bytes.Buffer
	if err := WriteTable(&buf, s.table); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func cloneTable(t core.Table) core.Table {
	out := core.Table{
		Header: append([]string(nil), t.Header...),
		Rows:   make([]core.Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = core.Row{Number: r.Number, Cells: append([]string(nil), r.Cells...)}
	}
	return out
}
