package tracker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/core"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/schema"
	"github.com/shpitdev/price-sheet-tracker/pkg/price"
)

// ErrStoreUnavailable wraps any failure to read from or write to the table store.
// It aborts a run.
var ErrStoreUnavailable = errors.New("table store unavailable")

// PricePolicy decides when an extracted price is written back.
type PricePolicy string

const (
	// PricePolicyOnChange writes only when the stored price is absent or differs.
	PricePolicyOnChange PricePolicy = "on-change"
	// PricePolicyAlways writes whenever a price was extracted.
	PricePolicyAlways PricePolicy = "always"
)

func ParsePricePolicy(raw string) (PricePolicy, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", "on-change", "onchange", "changed":
		return PricePolicyOnChange, nil
	case "always":
		return PricePolicyAlways, nil
	default:
		return "", fmt.Errorf("invalid price policy %q (expected on-change|always)", raw)
	}
}

// TrackedRow is one data row as read at the start of a run.
type TrackedRow struct {
	// RowIndex is the store row number; the header is row 1.
	RowIndex    int
	ProductURL  string
	StoredTitle *string
	StoredPrice *decimal.Decimal
}

// ExtractedFields holds what was found on the product page after normalization.
type ExtractedFields struct {
	Title *string
	Price *decimal.Decimal
}

// RowUpdate is the set of cells to write for one row.
type RowUpdate struct {
	RowIndex int
	NewTitle *string
	NewPrice *decimal.Decimal
}

func (u RowUpdate) Empty() bool {
	return u.NewTitle == nil && u.NewPrice == nil
}

type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

const (
	ReasonInvalidURL       = "invalid url"
	ReasonNothingExtracted = "nothing extracted"
	ReasonUnchanged        = "unchanged"
)

// RowResult is the outcome of reconciling one row.
type RowResult struct {
	Row     TrackedRow
	Outcome Outcome
	Reason  string
	Update  RowUpdate
	Err     error
}

// RunSummary counts row outcomes for one run.
type RunSummary struct {
	Considered int
	Updated    int
	Skipped    int
	Failed     int
}

func (s *RunSummary) add(r RowResult) {
	s.Considered++
	switch r.Outcome {
	case OutcomeUpdated:
		s.Updated++
	case OutcomeFailed:
		s.Failed++
	default:
		s.Skipped++
	}
}

// RowsFromTable maps data rows to TrackedRows. Stored values that are blank, or
// prices that do not normalize, are absent.
func RowsFromTable(t core.Table, cols schema.Columns) []TrackedRow {
	out := make([]TrackedRow, 0, len(t.Rows))
	for _, r := range t.Rows {
		tr := TrackedRow{
			RowIndex:   r.Number,
			ProductURL: strings.TrimSpace(r.Cell(cols.URL)),
		}
		if title := strings.TrimSpace(r.Cell(cols.Title)); title != "" {
			tr.StoredTitle = &title
		}
		if p, ok := price.Normalize(r.Cell(cols.Price)); ok {
			tr.StoredPrice = &p
		}
		out = append(out, tr)
	}
	return out
}
