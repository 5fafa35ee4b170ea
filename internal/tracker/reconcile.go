package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shpitdev/price-sheet-tracker/pkg/extract"
	"github.com/shpitdev/price-sheet-tracker/pkg/fetch"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/core"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/schema"
	"github.com/shpitdev/price-sheet-tracker/pkg/price"
)

var tracer = otel.Tracer("pricetracker/tracker")

// PageFetcher is satisfied by *fetch.Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) fetch.Result
}

// FieldExtractor is satisfied by *extract.Extractor.
type FieldExtractor interface {
	Extract(markup string) extract.Fields
}

// Reconciler turns one tracked row into at most one RowUpdate and applies it.
// Plan only reads; Apply is the only method that touches the store.
type Reconciler struct {
	Fetcher   PageFetcher
	Extractor FieldExtractor
	Store     core.TableStore
	Columns   schema.Columns

	Policy           PricePolicy
	MarketplaceToken string

	// DebugSampleBytes, when positive, logs that many bytes of the first
	// fetched page at debug level.
	DebugSampleBytes int

	Logger *slog.Logger

	sampled atomic.Bool
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Plan fetches and extracts the row's page and decides what to write. It never
// writes and never returns an error: fetch failures come back as OutcomeFailed.
func (r *Reconciler) Plan(ctx context.Context, row TrackedRow) RowResult {
	if !fetch.ValidURL(row.ProductURL, r.MarketplaceToken) {
		return RowResult{Row: row, Outcome: OutcomeSkipped, Reason: ReasonInvalidURL}
	}

	ctx, span := tracer.Start(ctx, "reconcile row")
	defer span.End()
	span.SetAttributes(
		attribute.Int("row", row.RowIndex),
		attribute.String("url", row.ProductURL),
	)

	res := r.Fetcher.Fetch(ctx, row.ProductURL)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Err.Kind))
		return RowResult{Row: row, Outcome: OutcomeFailed, Reason: "fetch " + string(res.Err.Kind), Err: res.Err}
	}
	r.maybeLogSample(ctx, row, res.Markup)

	fields := r.Extractor.Extract(res.Markup)
	extracted := ExtractedFields{
		Title: fields.Title,
		Price: price.NormalizePtr(fields.PriceText),
	}
	if fields.PriceText != nil && extracted.Price == nil {
		r.logger().DebugContext(ctx, "price text did not normalize",
			"row", row.RowIndex,
			"text", *fields.PriceText,
			"locator", fields.PriceLocator,
		)
	}
	span.SetAttributes(
		attribute.String("title_locator", fields.TitleLocator),
		attribute.String("price_locator", fields.PriceLocator),
	)

	if extracted.Title == nil && extracted.Price == nil {
		return RowResult{Row: row, Outcome: OutcomeSkipped, Reason: ReasonNothingExtracted}
	}

	update := BuildUpdate(row, extracted, r.Policy)
	if update.Empty() {
		return RowResult{Row: row, Outcome: OutcomeSkipped, Reason: ReasonUnchanged, Update: update}
	}
	return RowResult{Row: row, Outcome: OutcomeUpdated, Update: update}
}

// BuildUpdate diffs extracted fields against the stored row. The title is
// written whenever one was extracted; the price follows policy.
func BuildUpdate(row TrackedRow, got ExtractedFields, policy PricePolicy) RowUpdate {
	u := RowUpdate{RowIndex: row.RowIndex}
	if got.Title != nil {
		t := *got.Title
		u.NewTitle = &t
	}
	if got.Price != nil {
		if policy == PricePolicyAlways || !price.Equal(row.StoredPrice, got.Price) {
			p := *got.Price
			u.NewPrice = &p
		}
	}
	return u
}

// Apply writes the present fields of u, title first. Any write error wraps
// ErrStoreUnavailable.
func (r *Reconciler) Apply(ctx context.Context, u RowUpdate) error {
	if u.NewTitle != nil {
		if err := r.Store.WriteCell(ctx, u.RowIndex, r.Columns.Title, *u.NewTitle); err != nil {
			return fmt.Errorf("%w: write title row %d: %w", ErrStoreUnavailable, u.RowIndex, err)
		}
	}
	if u.NewPrice != nil {
		if err := r.Store.WriteCell(ctx, u.RowIndex, r.Columns.Price, price.Format(*u.NewPrice)); err != nil {
			return fmt.Errorf("%w: write price row %d: %w", ErrStoreUnavailable, u.RowIndex, err)
		}
	}
	return nil
}

// Reconcile plans and, when there is something to write, applies one row.
func (r *Reconciler) Reconcile(ctx context.Context, row TrackedRow) (RowResult, error) {
	res := r.Plan(ctx, row)
	if res.Outcome != OutcomeUpdated {
		return res, nil
	}
	if err := r.Apply(ctx, res.Update); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Reconciler) maybeLogSample(ctx context.Context, row TrackedRow, markup string) {
	if r.DebugSampleBytes <= 0 || !r.logger().Enabled(ctx, slog.LevelDebug) {
		return
	}
	if !r.sampled.CompareAndSwap(false, true) {
		return
	}
	sample := markup
	if len(sample) > r.DebugSampleBytes {
		sample = sample[:r.DebugSampleBytes]
	}
	r.logger().DebugContext(ctx, "first page sample",
		"row", row.RowIndex,
		"bytes", len(markup),
		"sample", strings.ToValidUTF8(sample, ""),
	)
}
