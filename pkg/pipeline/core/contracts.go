package core

import (
	"context"
	"strings"
)

// Row is one data row of a table, addressed by its 1-based row number in the store.
type Row struct {
	Number int
	Cells  []string
}

// Cell returns the value at the 1-based column, or "" when the row is shorter.
func (r Row) Cell(column int) string {
	if column < 1 || column > len(r.Cells) {
		return ""
	}
	return r.Cells[column-1]
}

// Table is a header row plus data rows in store order.
type Table struct {
	Header []string
	Rows   []Row
}

// ColumnByHeader returns the 1-based column whose header matches name,
// ignoring case and surrounding whitespace.
func (t Table) ColumnByHeader(name string) (int, bool) {
	want := strings.TrimSpace(name)
	for i, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			return i + 1, true
		}
	}
	return 0, false
}

// TableStore is the tabular store rows are read from and written back to.
// Row and column numbers are 1-based, matching spreadsheet addressing.
type TableStore interface {
	ReadAll(ctx context.Context) (Table, error)
	WriteCell(ctx context.Context, row, column int, value string) error
}

// Processor transforms one input item into one output item.
type Processor[In any, Out any] interface {
	Process(ctx context.Context, in In) (Out, error)
}

// ProcessFunc adapts a function to the Processor interface.
type ProcessFunc[In any, Out any] func(ctx context.Context, in In) (Out, error)

func (f ProcessFunc[In, Out]) Process(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// TransientError marks a store error as retryable by store adapters.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
