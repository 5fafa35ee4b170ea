package sheetsio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/core"
	"github.com/shpitdev/price-sheet-tracker/pkg/pipeline/schema"
	"github.com/shpitdev/price-sheet-tracker/pkg/sheets"
)

const (
	DefaultWorksheet = "Data"

	// readColumns bounds the columns fetched by ReadAll.
	readColumns = "ZZ"
)

// Store is a core.TableStore over one worksheet of a spreadsheet.
type Store struct {
	client        *sheets.Client
	spreadsheetID string
	worksheet     string

	attempts     int
	initialSleep time.Duration
}

// NewStore binds a client to a worksheet. An empty worksheet means DefaultWorksheet.
func NewStore(client *sheets.Client, spreadsheetID, worksheet string) *Store {
	worksheet = strings.TrimSpace(worksheet)
	if worksheet == "" {
		worksheet = DefaultWorksheet
	}
	return &Store{
		client:        client,
		spreadsheetID: strings.TrimSpace(spreadsheetID),
		worksheet:     worksheet,
		attempts:      8,
		initialSleep:  200 * time.Millisecond,
	}
}

// WithRetry overrides the transient retry budget. Mostly useful in tests.
func (s *Store) WithRetry(attempts int, initialSleep time.Duration) *Store {
	if attempts < 1 {
		attempts = 1
	}
	s.attempts = attempts
	s.initialSleep = initialSleep
	return s
}

// Probe checks that the spreadsheet is reachable and the worksheet exists.
func (s *Store) Probe(ctx context.Context) error {
	var ok bool
	err := retryTransient(ctx, s.attempts, s.initialSleep, func() error {
		var err error
		ok, err = s.client.ProbeWorksheet(ctx, s.spreadsheetID, s.worksheet)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("worksheet %q not found in spreadsheet %s", s.worksheet, s.spreadsheetID)
	}
	return nil
}

// ReadAll reads the whole worksheet. Row 1 is the header; blank rows keep their
// numbers so writes land on the right line.
func (s *Store) ReadAll(ctx context.Context) (core.Table, error) {
	rng := fmt.Sprintf("%s!A1:%s", schema.QuoteSheet(s.worksheet), readColumns)

	var vr sheets.ValueRange
	err := retryTransient(ctx, s.attempts, s.initialSleep, func() error {
		var err error
		vr, err = s.client.GetValues(ctx, s.spreadsheetID, rng)
		return err
	})
	if err != nil {
		return core.Table{}, err
	}

	values := vr.Strings()
	if len(values) == 0 {
		return core.Table{}, fmt.Errorf("worksheet %q is empty", s.worksheet)
	}
	t := core.Table{Header: values[0]}
	for i, cells := range values[1:] {
		t.Rows = append(t.Rows, core.Row{Number: i + 2, Cells: cells})
	}
	return t, nil
}

// WriteCell overwrites one cell.
func (s *Store) WriteCell(ctx context.Context, row, column int, value string) error {
	if row < 1 || column < 1 {
		return fmt.Errorf("invalid cell row=%d column=%d", row, column)
	}
	rng := schema.A1(s.worksheet, row, column)
	return retryTransient(ctx, s.attempts, s.initialSleep, func() error {
		return s.client.UpdateValues(ctx, s.spreadsheetID, rng, [][]string{{value}})
	})
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var he *sheets.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == 429 || he.StatusCode/100 == 5
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return false
}

func retryTransient(ctx context.Context, attempts int, initialSleep time.Duration, f func() error) error {
	sleep := initialSleep
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := f(); err == nil {
			return nil
		} else {
			lastErr = err
			if !isTransient(err) || i == attempts-1 {
				return err
			}
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		sleep *= 2
		if sleep > 2*time.Second {
			sleep = 2 * time.Second
		}
	}
	return lastErr
}
