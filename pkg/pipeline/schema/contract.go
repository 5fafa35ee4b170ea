package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/core"
)

const (
	DefaultTitleColumn = "A"
	DefaultPriceColumn = "F"
	DefaultURLHeader   = "Amazon Link"
)

// Layout describes where the tracked fields live in a worksheet. The header is
// always row 1 and data starts at row 2.
type Layout struct {
	// TitleColumn and PriceColumn accept a column letter ("F") or a 1-based number ("6").
	TitleColumn string
	PriceColumn string
	// URLHeader names the header cell of the product URL column.
	URLHeader string
}

// Columns is a Layout resolved against a concrete header row. All fields are 1-based.
type Columns struct {
	Title int
	Price int
	URL   int
}

func DefaultLayout() Layout {
	return Layout{
		TitleColumn: DefaultTitleColumn,
		PriceColumn: DefaultPriceColumn,
		URLHeader:   DefaultURLHeader,
	}
}

func (l Layout) withDefaults() Layout {
	d := DefaultLayout()
	if strings.TrimSpace(l.TitleColumn) == "" {
		l.TitleColumn = d.TitleColumn
	}
	if strings.TrimSpace(l.PriceColumn) == "" {
		l.PriceColumn = d.PriceColumn
	}
	if strings.TrimSpace(l.URLHeader) == "" {
		l.URLHeader = d.URLHeader
	}
	return l
}

// Resolve finds the URL column in header and parses the title and price columns.
func (l Layout) Resolve(header []string) (Columns, error) {
	l = l.withDefaults()

	title, err := ParseColumn(l.TitleColumn)
	if err != nil {
		return Columns{}, fmt.Errorf("title column: %w", err)
	}
	price, err := ParseColumn(l.PriceColumn)
	if err != nil {
		return Columns{}, fmt.Errorf("price column: %w", err)
	}

	url, ok := core.Table{Header: header}.ColumnByHeader(l.URLHeader)
	if !ok {
		return Columns{}, fmt.Errorf("missing required column %q", l.URLHeader)
	}
	return Columns{Title: title, Price: price, URL: url}, nil
}

// ParseColumn accepts "F", "f", "AA" or "6" and returns the 1-based column index.
func ParseColumn(raw string) (int, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("empty column")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("invalid column %q", raw)
		}
		return n, nil
	}
	n := 0
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("invalid column %q", raw)
		}
		n = n*26 + int(r-'A'+1)
	}
	return n, nil
}

// ColumnLetter renders a 1-based column index as spreadsheet letters (1 -> A, 27 -> AA).
func ColumnLetter(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// A1 renders a single-cell range such as 'Data'!F2.
func A1(sheet string, row, col int) string {
	return fmt.Sprintf("%s!%s%d", QuoteSheet(sheet), ColumnLetter(col), row)
}

// QuoteSheet quotes a worksheet name for use in A1 ranges.
func QuoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}
