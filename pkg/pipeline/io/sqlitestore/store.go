// Package sqlitestore keeps worksheets as sparse cell rows in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/core"
)

//go:embed schema.sql
var Schema string

// Store is a core.TableStore over the cells of one named sheet.
type Store struct {
	db    *sql.DB
	sheet string
	owned bool
}

// Open opens (or creates) the database at dsn and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, dsn, sheet string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if strings.Contains(dsn, ":memory:") {
		// Every new connection to :memory: is a fresh database.
		db.SetMaxOpenConns(1)
	}
	s, err := New(ctx, db, sheet)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an existing database handle and applies the schema.
func New(ctx context.Context, db *sql.DB, sheet string) (*Store, error) {
	sheet = strings.TrimSpace(sheet)
	if sheet == "" {
		return nil, fmt.Errorf("sheet name is required")
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, sheet: sheet}, nil
}

// Close closes the database when Open created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Seed replaces the sheet's contents with t. The header becomes row 1.
func (s *Store) Seed(ctx context.Context, t core.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "delete from cells where sheet = ?", s.sheet); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "insert into cells (sheet, row_number, column_number, value) values (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	insertRow := func(row int, cells []string) error {
		for i, v := range cells {
			if v == "" {
				continue
			}
			if _, err := stmt.ExecContext(ctx, s.sheet, row, i+1, v); err != nil {
				return err
			}
		}
		return nil
	}
	if err := insertRow(1, t.Header); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if err := insertRow(r.Number, r.Cells); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ReadAll(ctx context.Context) (core.Table, error) {
	rows, err := s.db.QueryContext(ctx,
		"select row_number, column_number, value from cells where sheet = ? order by row_number, column_number",
		s.sheet,
	)
	if err != nil {
		return core.Table{}, err
	}
	defer rows.Close()

	grid := map[int][]string{}
	maxRow := 0
	for rows.Next() {
		var r, c int
		var v string
		if err := rows.Scan(&r, &c, &v); err != nil {
			return core.Table{}, err
		}
		cells := grid[r]
		for len(cells) < c {
			cells = append(cells, "")
		}
		cells[c-1] = v
		grid[r] = cells
		if r > maxRow {
			maxRow = r
		}
	}
	if err := rows.Err(); err != nil {
		return core.Table{}, err
	}
	if maxRow == 0 {
		return core.Table{}, fmt.Errorf("sheet %q is empty", s.sheet)
	}

	t := core.Table{Header: grid[1]}
	for r := 2; r <= maxRow; r++ {
		t.Rows = append(t.Rows, core.Row{Number: r, Cells: grid[r]})
	}
	return t, nil
}

func (s *Store) WriteCell(ctx context.Context, row, column int, value string) error {
	if row < 1 || column < 1 {
		return fmt.Errorf("invalid cell row=%d column=%d", row, column)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into cells (sheet, row_number, column_number, value) values (?, ?, ?, ?)
		on conflict (sheet, row_number, column_number) do update set value = excluded.value`,
		s.sheet, row, column, value,
	)
	return err
}
