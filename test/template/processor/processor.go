package processor

import (
	"context"
	"fmt"

	"github.com/shpitdev/price-sheet-tracker/pkg/price"
)

type Result struct {
	Input  string
	Output string
}

// Processor normalizes scraped price text into the two-decimal form written
// back to the sheet.
type Processor struct{}

func (Processor) Process(_ context.Context, in string) (Result, error) {
	d, ok := price.Normalize(in)
	if !ok {
		return Result{}, fmt.Errorf("no price in %q", in)
	}
	return Result{Input: in, Output: price.Format(d)}, nil
}
