package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shpitdev/price-sheet-tracker/pkg/fetch"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/core"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/redact"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/schema"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/worker"
)

const DefaultDelay = 2 * time.Second

// Driver runs one reconciliation pass over a table store.
type Driver struct {
	Fetcher   PageFetcher
	Extractor FieldExtractor
	Layout    schema.Layout

	Policy           PricePolicy
	MarketplaceToken string

	// Workers bounds concurrent fetches. Values <= 1 keep the run sequential.
	Workers int
	// Delay is the minimum spacing between outbound page requests.
	Delay time.Duration
	// DryRun plans and logs updates without writing them.
	DryRun bool

	DebugSampleBytes int
	Logger           *slog.Logger
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Run reads the whole store, then reconciles every data row.
func (d *Driver) Run(ctx context.Context, store core.TableStore) (RunSummary, error) {
	table, err := store.ReadAll(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("%w: read table: %w", ErrStoreUnavailable, err)
	}
	return d.RunTable(ctx, table, store)
}

// RunTable reconciles the rows of table, writing updates to store. Rows are
// fetched in store order; a failed row never stops later rows, but a store
// write failure aborts the run and is returned with the partial summary.
func (d *Driver) RunTable(ctx context.Context, table core.Table, store core.TableStore) (RunSummary, error) {
	log := d.logger()

	cols, err := d.Layout.Resolve(table.Header)
	if err != nil {
		return RunSummary{}, err
	}
	rec := &Reconciler{
		Fetcher:          d.Fetcher,
		Extractor:        d.Extractor,
		Store:            store,
		Columns:          cols,
		Policy:           d.Policy,
		MarketplaceToken: d.MarketplaceToken,
		DebugSampleBytes: d.DebugSampleBytes,
		Logger:           log,
	}

	var summary RunSummary
	record := func(res RowResult) {
		summary.add(res)
		attrs := []any{
			"row", res.Row.RowIndex,
			"url", res.Row.ProductURL,
			"outcome", string(res.Outcome),
		}
		if res.Reason != "" {
			attrs = append(attrs, "reason", res.Reason)
		}
		if res.Update.NewTitle != nil {
			attrs = append(attrs, "title", *res.Update.NewTitle)
		}
		if res.Update.NewPrice != nil {
			attrs = append(attrs, "price", res.Update.NewPrice.StringFixed(2))
		}
		switch {
		case res.Err != nil:
			attrs = append(attrs, "err", redact.Secrets(res.Err.Error()))
			log.WarnContext(ctx, "row failed", attrs...)
		case res.Outcome == OutcomeUpdated:
			if d.DryRun {
				attrs = append(attrs, "dry_run", true)
			}
			log.InfoContext(ctx, "row updated", attrs...)
		default:
			log.InfoContext(ctx, "row skipped", attrs...)
		}
	}

	rows := RowsFromTable(table, cols)
	pending := make([]TrackedRow, 0, len(rows))
	for _, row := range rows {
		if !fetch.ValidURL(row.ProductURL, d.MarketplaceToken) {
			record(RowResult{Row: row, Outcome: OutcomeSkipped, Reason: ReasonInvalidURL})
			continue
		}
		pending = append(pending, row)
	}
	log.InfoContext(ctx, "reconciling rows",
		"rows", len(rows),
		"fetching", len(pending),
		"workers", max(d.Workers, 1),
		"delay", d.Delay,
		"policy", string(d.Policy),
		"dry_run", d.DryRun,
	)

	plan := core.ProcessFunc[TrackedRow, RowResult](func(ctx context.Context, row TrackedRow) (RowResult, error) {
		return rec.Plan(ctx, row), nil
	})
	_, err = worker.ProcessAllWithCallback(ctx, pending, plan.Process, func(wr worker.Result[TrackedRow, RowResult]) error {
		res := wr.Output
		if wr.Err != nil {
			res = RowResult{Row: wr.Input, Outcome: OutcomeFailed, Reason: "cancelled", Err: wr.Err}
		}
		if res.Outcome == OutcomeUpdated && !d.DryRun {
			if err := rec.Apply(ctx, res.Update); err != nil {
				return err
			}
		}
		record(res)
		return nil
	}, worker.Options{
		Workers:       d.Workers,
		Interval:      d.Delay,
		FailurePolicy: worker.FailurePolicyPartialOutput,
	})
	return summary, err
}
