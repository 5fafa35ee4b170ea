package tracker_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/price-sheet-tracker/internal/tracker"
	"github.com/shpitdev/price-sheet-tracker/pkg/extract"
	"github.com/shpitdev/price-sheet-tracker/pkg/fetch"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/core"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/schema"
)

func page(title, price string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	if title != "" {
		fmt.Fprintf(&b, `<span id="productTitle">%s</span>`, title)
	}
	if price != "" {
		fmt.Fprintf(&b, `<span class="a-price aok-align-center"><span class="a-offscreen">%s</span></span>`, price)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]fetch.Result
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]fetch.Result{}}
}

func (f *fakeFetcher) serve(url, markup string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = fetch.Result{Markup: markup}
}

func (f *fakeFetcher) fail(url string, kind fetch.Kind, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = fetch.Result{Err: &fetch.Error{URL: url, Kind: kind, StatusCode: status}}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) fetch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	res, ok := f.pages[url]
	if !ok {
		return fetch.Result{Err: &fetch.Error{URL: url, Kind: fetch.KindStatus, StatusCode: 404}}
	}
	return res
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type write struct {
	Row, Column int
	Value       string
}

// memStore is an in-memory TableStore that records writes and flags concurrent ones.
type memStore struct {
	mu       sync.Mutex
	table    core.Table
	writes   []write
	failOn   int // fail the Nth write (1-based); 0 disables
	inWrite  atomic.Int32
	overlaps atomic.Int32
}

func newMemStore(rows ...[]string) *memStore {
	t := core.Table{Header: []string{"Title", "Amazon Link", "", "", "", "Price"}}
	for i, r := range rows {
		t.Rows = append(t.Rows, core.Row{Number: i + 2, Cells: append([]string(nil), r...)})
	}
	return &memStore{table: t}
}

func (s *memStore) ReadAll(context.Context) (core.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := core.Table{Header: s.table.Header}
	for _, r := range s.table.Rows {
		out.Rows = append(out.Rows, core.Row{Number: r.Number, Cells: append([]string(nil), r.Cells...)})
	}
	return out, nil
}

func (s *memStore) WriteCell(_ context.Context, row, column int, value string) error {
	if s.inWrite.Add(1) > 1 {
		s.overlaps.Add(1)
	}
	defer s.inWrite.Add(-1)
	time.Sleep(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn > 0 && len(s.writes)+1 == s.failOn {
		return errors.New("connection reset by peer")
	}
	s.writes = append(s.writes, write{Row: row, Column: column, Value: value})
	r := &s.table.Rows[row-2]
	for len(r.Cells) < column {
		r.Cells = append(r.Cells, "")
	}
	r.Cells[column-1] = value
	return nil
}

func (s *memStore) Writes() []write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]write(nil), s.writes...)
}

func newDriver(f *fakeFetcher) *tracker.Driver {
	return &tracker.Driver{
		Fetcher:          f,
		Extractor:        extract.New(),
		Layout:           schema.DefaultLayout(),
		Policy:           tracker.PricePolicyOnChange,
		MarketplaceToken: "amazon",
		Logger:           slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	}
}

const (
	urlA = "https://www.amazon.co.uk/dp/A"
	urlB = "https://www.amazon.co.uk/dp/B"
	urlC = "https://www.amazon.co.uk/dp/C"
)

func TestDriver_UpdatesTitleAndChangedPrice(t *testing.T) {
	f := newFakeFetcher()
	f.serve(urlA, page("Widget", "£25.00"))
	store := newMemStore([]string{"", urlA, "", "", "", "20.00"})

	summary, err := newDriver(f).Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, tracker.RunSummary{Considered: 1, Updated: 1}, summary)
	require.Equal(t, []write{
		{Row: 2, Column: 1, Value: "Widget"},
		{Row: 2, Column: 6, Value: "25.00"},
	}, store.Writes())
}

func TestDriver_FetchFailureCountsOnceAndWritesNothing(t *testing.T) {
	f := newFakeFetcher()
	f.fail(urlA, fetch.KindStatus, 503)
	f.serve(urlB, page("Gadget", "£5.00"))
	store := newMemStore(
		[]string{"", urlA, "", "", "", "20.00"},
		[]string{"", urlB},
	)

	summary, err := newDriver(f).Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, tracker.RunSummary{Considered: 2, Updated: 1, Failed: 1}, summary)
	for _, w := range store.Writes() {
		require.NotEqual(t, 2, w.Row, "failed row must not be written")
	}
	require.Equal(t, []string{urlA, urlB}, f.Calls(), "each URL is fetched exactly once")
}

func TestDriver_SecondRunWritesNoPrices(t *testing.T) {
	f := newFakeFetcher()
	f.serve(urlA, page("Widget", "£25.00"))
	store := newMemStore([]string{"", urlA, "", "", "", "20.00"})
	d := newDriver(f)

	_, err := d.Run(context.Background(), store)
	require.NoError(t, err)
	before := len(store.Writes())

	summary, err := d.Run(context.Background(), store)
	require.NoError(t, err)
	for _, w := range store.Writes()[before:] {
		require.NotEqual(t, 6, w.Column, "unchanged price must not be rewritten")
	}
	require.Equal(t, 1, summary.Considered)
}

func TestDriver_UnchangedPriceWithoutTitleIsSkipped(t *testing.T) {
	f := newFakeFetcher()
	f.serve(urlA, page("", "£20"))
	store := newMemStore([]string{"", urlA, "", "", "", "20.00"})

	summary, err := newDriver(f).Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, tracker.RunSummary{Considered: 1, Skipped: 1}, summary)
	require.Empty(t, store.Writes())
}

func TestDriver_AlwaysPolicyRewritesPrice(t *testing.T) {
	f := newFakeFetcher()
	f.serve(urlA, page("", "£20.00"))
	store := newMemStore([]string{"", urlA, "", "", "", "20.00"})
	d := newDriver(f)
	d.Policy = tracker.PricePolicyAlways

	summary, err := d.Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)
	require.Equal(t, []write{{Row: 2, Column: 6, Value: "20.00"}}, store.Writes())
}

func TestDriver_InvalidURLsAreSkippedWithoutFetching(t *testing.T) {
	f := newFakeFetcher()
	store := newMemStore(
		[]string{"", ""},
		[]string{"", "   "},
		[]string{"", "https://www.ebay.co.uk/itm/1"},
		nil,
	)

	summary, err := newDriver(f).Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, tracker.RunSummary{Considered: 4, Skipped: 4}, summary)
	require.Empty(t, f.Calls())
	require.Empty(t, store.Writes())
}

func TestDriver_NothingExtractedIsSkipped(t *testing.T) {
	f := newFakeFetcher()
	f.serve(urlA, "<html><body>captcha</body></html>")
	store := newMemStore([]string{"Keep", urlA, "", "", "", "20.00"})

	summary, err := newDriver(f).Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, tracker.RunSummary{Considered: 1, Skipped: 1}, summary)
	require.Empty(t, store.Writes())
}

func TestDriver_StoreWriteFailureAborts(t *testing.T) {
	f := newFakeFetcher()
	f.serve(urlA, page("A", "£1.00"))
	f.serve(urlB, page("B", "£2.00"))
	f.serve(urlC, page("C", "£3.00"))
	store := newMemStore([]string{"", urlA}, []string{"", urlB}, []string{"", urlC})
	store.failOn = 3 // title of the second row

	summary, err := newDriver(f).Run(context.Background(), store)
	require.Error(t, err)
	require.ErrorIs(t, err, tracker.ErrStoreUnavailable)
	require.Equal(t, 1, summary.Updated)
	for _, w := range store.Writes() {
		require.Equal(t, 2, w.Row, "no row after the failing write may be written")
	}
}

func TestDriver_DryRunWritesNothing(t *testing.T) {
	f := newFakeFetcher()
	f.serve(urlA, page("Widget", "£25.00"))
	store := newMemStore([]string{"", urlA, "", "", "", "20.00"})
	d := newDriver(f)
	d.DryRun = true

	summary, err := d.Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)
	require.Empty(t, store.Writes())
}

func TestDriver_MissingURLHeader(t *testing.T) {
	store := &memStore{table: core.Table{Header: []string{"Title", "Price"}}}
	_, err := newDriver(newFakeFetcher()).Run(context.Background(), store)
	require.ErrorContains(t, err, `missing required column "Amazon Link"`)
}

func TestDriver_PoolSerializesWrites(t *testing.T) {
	f := newFakeFetcher()
	var rows [][]string
	for i := 0; i < 8; i++ {
		u := fmt.Sprintf("https://www.amazon.co.uk/dp/P%d", i)
		f.serve(u, page(fmt.Sprintf("Item %d", i), fmt.Sprintf("£%d.99", i+1)))
		rows = append(rows, []string{"", u})
	}
	store := newMemStore(rows...)
	d := newDriver(f)
	d.Workers = 4

	summary, err := d.Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, tracker.RunSummary{Considered: 8, Updated: 8}, summary)
	require.Len(t, store.Writes(), 16)
	require.Zero(t, store.overlaps.Load(), "writes must not overlap")
}

func TestDriver_DelayPacesFetches(t *testing.T) {
	f := newFakeFetcher()
	f.serve(urlA, page("A", ""))
	f.serve(urlB, page("B", ""))
	f.serve(urlC, page("C", ""))
	store := newMemStore([]string{"", urlA}, []string{"", urlB}, []string{"", urlC})
	d := newDriver(f)
	d.Delay = 30 * time.Millisecond

	start := time.Now()
	_, err := d.Run(context.Background(), store)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDriver_LogsFirstPageSampleOnce(t *testing.T) {
	f := newFakeFetcher()
	f.serve(urlA, page("A", "£1.00"))
	f.serve(urlB, page("B", "£2.00"))
	store := newMemStore([]string{"", urlA}, []string{"", urlB})

	var buf bytes.Buffer
	d := newDriver(f)
	d.DebugSampleBytes = 20
	d.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := d.Run(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(buf.String(), "first page sample"))
	require.Contains(t, buf.String(), `sample="<html><body><span id"`)
}

func TestBuildUpdate(t *testing.T) {
	d := func(s string) *decimal.Decimal {
		v := decimal.RequireFromString(s)
		return &v
	}
	title := "Widget"

	tests := []struct {
		name      string
		stored    *decimal.Decimal
		got       tracker.ExtractedFields
		policy    tracker.PricePolicy
		wantTitle bool
		wantPrice *decimal.Decimal
	}{
		{name: "absent stored price is written", got: tracker.ExtractedFields{Price: d("25.00")}, policy: tracker.PricePolicyOnChange, wantPrice: d("25.00")},
		{name: "equal by value is not written", stored: d("25"), got: tracker.ExtractedFields{Price: d("25.00")}, policy: tracker.PricePolicyOnChange},
		{name: "changed price is written", stored: d("20.00"), got: tracker.ExtractedFields{Price: d("25.00")}, policy: tracker.PricePolicyOnChange, wantPrice: d("25.00")},
		{name: "always writes equal price", stored: d("25.00"), got: tracker.ExtractedFields{Price: d("25.00")}, policy: tracker.PricePolicyAlways, wantPrice: d("25.00")},
		{name: "title always written", stored: d("25.00"), got: tracker.ExtractedFields{Title: &title, Price: d("25.00")}, policy: tracker.PricePolicyOnChange, wantTitle: true},
		{name: "nothing extracted is empty", stored: d("25.00"), policy: tracker.PricePolicyAlways},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tracker.BuildUpdate(tracker.TrackedRow{RowIndex: 7, StoredPrice: tt.stored}, tt.got, tt.policy)
			require.Equal(t, 7, u.RowIndex)
			require.Equal(t, tt.wantTitle, u.NewTitle != nil)
			if tt.wantPrice == nil {
				require.Nil(t, u.NewPrice)
			} else {
				require.NotNil(t, u.NewPrice)
				require.True(t, tt.wantPrice.Equal(*u.NewPrice))
			}
			require.Equal(t, !tt.wantTitle && tt.wantPrice == nil, u.Empty())
		})
	}
}

func TestParsePricePolicy(t *testing.T) {
	for in, want := range map[string]tracker.PricePolicy{
		"":          tracker.PricePolicyOnChange,
		"on-change": tracker.PricePolicyOnChange,
		"ALWAYS":    tracker.PricePolicyAlways,
	} {
		got, err := tracker.ParsePricePolicy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := tracker.ParsePricePolicy("sometimes")
	require.Error(t, err)
}

func TestRowsFromTable(t *testing.T) {
	tbl := core.Table{
		Header: []string{"Title", "Amazon Link", "", "", "", "Price"},
		Rows: []core.Row{
			{Number: 2, Cells: []string{" Widget ", " " + urlA + " ", "", "", "", "£1,234.50"}},
			{Number: 5, Cells: []string{"", urlB, "", "", "", "n/a"}},
		},
	}
	rows := tracker.RowsFromTable(tbl, schema.Columns{Title: 1, Price: 6, URL: 2})
	require.Len(t, rows, 2)

	require.Equal(t, 2, rows[0].RowIndex)
	require.Equal(t, urlA, rows[0].ProductURL)
	require.Equal(t, "Widget", *rows[0].StoredTitle)
	require.Equal(t, "1234.5", rows[0].StoredPrice.String())

	require.Equal(t, 5, rows[1].RowIndex)
	require.Nil(t, rows[1].StoredTitle)
	require.Nil(t, rows[1].StoredPrice)
}
