// Package price turns scraped price text into decimal amounts.
package price

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// amountRe matches the first amount in the text: digits with an optional
// decimal point followed by one or two digits.
var amountRe = regexp.MustCompile(`\d+(?:\.\d{1,2})?`)

// Normalize extracts the first amount from raw price text such as "£1,234.56".
//
// Comma grouping separators are stripped before matching. Currency symbols,
// surrounding whitespace and trailing text are ignored. The second return value
// is false when the text is empty or holds no amount; that is an expected
// outcome, not an error.
func Normalize(text string) (decimal.Decimal, bool) {
	text = strings.ReplaceAll(text, ",", "")
	if strings.TrimSpace(text) == "" {
		return decimal.Decimal{}, false
	}
	m := amountRe.FindString(text)
	if m == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// NormalizePtr is Normalize for optional values: nil in, nil out, and nil when
// the text holds no amount.
func NormalizePtr(text *string) *decimal.Decimal {
	if text == nil {
		return nil
	}
	d, ok := Normalize(*text)
	if !ok {
		return nil
	}
	return &d
}

// Format renders an amount with exactly two decimal places ("25.00").
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Equal compares two optional amounts by value, so 25 and 25.00 are equal.
func Equal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
