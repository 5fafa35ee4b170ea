// Package extract pulls product fields out of product-page markup.
//
// Each field is located by an ordered list of independent locators. The first
// locator that matches a node with non-empty text wins. The lists are plain
// data: new strategies are appended without touching the lookup code, which
// is how extraction keeps working when the page layout drifts.
package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Locator finds one field inside a parsed document.
type Locator struct {
	// Name identifies the locator in logs and tests.
	Name string
	// Selector is a CSS selector evaluated with goquery.
	Selector string
	// Attr, when set, reads the attribute of the first matching node
	// instead of its text.
	Attr string
}

// DefaultTitleLocators tries the stable product title id first, then an
// alternate container id, then the page's title meta attribute.
var DefaultTitleLocators = []Locator{
	{Name: "product-title-id", Selector: "#productTitle"},
	{Name: "title-container-id", Selector: "#title"},
	{Name: "title-meta", Selector: `meta[name="title"]`, Attr: "content"},
}

// DefaultPriceLocators are ranked from the most specific (the price box of
// the buy box) to the generic offscreen price span. Specific locators come
// first so a struck-through list price is not picked over the current price.
var DefaultPriceLocators = []Locator{
	{Name: "aligned-price-offscreen", Selector: "span.a-price.aok-align-center span.a-offscreen"},
	{Name: "aligned-price-direct-offscreen", Selector: "span.a-price.aok-align-center > span.a-offscreen"},
	{Name: "base-color-offscreen", Selector: "span[data-a-color='base'] span.a-offscreen"},
	{Name: "price-direct-offscreen", Selector: "span.a-price > span.a-offscreen"},
	{Name: "core-price-offscreen", Selector: "#corePrice_feature_div span.a-offscreen"},
	{Name: "any-offscreen", Selector: "span.a-offscreen"},
}

// Fields holds what was found on a page. Either field may be nil.
type Fields struct {
	Title     *string
	PriceText *string

	// TitleLocator and PriceLocator name the locators that matched.
	TitleLocator string
	PriceLocator string
}

// Extractor applies title and price locators to markup.
type Extractor struct {
	TitleLocators []Locator
	PriceLocators []Locator
}

// New returns an Extractor using the default locator lists.
func New() *Extractor {
	return &Extractor{
		TitleLocators: DefaultTitleLocators,
		PriceLocators: DefaultPriceLocators,
	}
}

// Extract parses markup and applies both locator lists. Markup that cannot be
// parsed, or that matches no locator, yields nil fields rather than an error.
func (e *Extractor) Extract(markup string) Fields {
	if strings.TrimSpace(markup) == "" {
		return Fields{}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(markup))
	if err != nil {
		return Fields{}
	}

	var out Fields
	out.Title, out.TitleLocator = First(doc.Selection, e.TitleLocators)
	out.PriceText, out.PriceLocator = First(doc.Selection, e.PriceLocators)
	return out
}

// First evaluates locators in order against sel and returns the cleaned text
// of the first match together with the locator's name.
func First(sel *goquery.Selection, locators []Locator) (*string, string) {
	for _, loc := range locators {
		if loc.Selector == "" {
			continue
		}
		text, ok := loc.find(sel)
		if ok {
			return &text, loc.Name
		}
	}
	return nil, ""
}

func (l Locator) find(sel *goquery.Selection) (string, bool) {
	found := false
	var text string
	sel.Find(l.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw string
		if l.Attr != "" {
			raw = s.AttrOr(l.Attr, "")
		} else {
			raw = s.Text()
		}
		raw = cleanText(raw)
		if raw == "" {
			return true
		}
		text = raw
		found = true
		return false
	})
	return text, found
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
