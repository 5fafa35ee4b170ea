// Package fetch retrieves product-page markup over HTTP.
//
// A Fetcher issues exactly one GET per call with a fixed browser-like header
// set. Every transport problem comes back as a typed *Error inside Result;
// nothing panics across this boundary.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"

	"github.com/shpitdev/price-sheet-tracker/pkg/restyutil"
)

const (
	DefaultTimeout      = 25 * time.Second
	DefaultMaxBodyBytes = 5 * 1024 * 1024
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0 Safari/537.36"
)

// DefaultHeaders is the browser header set sent with every request. Marketplace
// pages block bare clients far more often, so these are part of the contract.
func DefaultHeaders(userAgent string) map[string]string {
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	return map[string]string{
		"User-Agent":                userAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-GB,en;q=0.9",
		"Cache-Control":             "no-cache",
		"Pragma":                    "no-cache",
		"Upgrade-Insecure-Requests": "1",
	}
}

// ValidURL reports whether raw is non-empty and contains the marketplace token,
// compared case-insensitively. An empty token only checks for non-empty input.
func ValidURL(raw, marketplaceToken string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	token := strings.ToLower(strings.TrimSpace(marketplaceToken))
	return strings.Contains(strings.ToLower(raw), token)
}

type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindStatus    Kind = "status"
	KindTransport Kind = "transport"
)

// Error describes why a page could not be fetched.
type Error struct {
	URL        string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "fetch error"
	}
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	default:
		if e.Err == nil {
			return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
		}
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Result is the outcome of one fetch: Markup on success, Err otherwise.
type Result struct {
	Markup string
	Err    *Error
}

type Options struct {
	// Timeout bounds each call. Defaults to DefaultTimeout.
	Timeout time.Duration
	// UserAgent overrides DefaultUserAgent.
	UserAgent string
	// MaxBodyBytes caps how much of the body is read. Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// BypassBotProtection wraps the transport with a Cloudflare-style
	// bot-protection bypass.
	BypassBotProtection bool
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return o
}

type Fetcher struct {
	http *resty.Client
	opts Options
}

func New(opts Options) *Fetcher {
	opts = opts.withDefaults()

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeaders(DefaultHeaders(opts.UserAgent))
	if opts.BypassBotProtection {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	restyutil.InstrumentClient(client, "pricetracker/fetch")

	return &Fetcher{http: client, opts: opts}
}

// Fetch performs one GET for url. Only 2xx responses count as success.
func (f *Fetcher) Fetch(ctx context.Context, url string) Result {
	res, err := f.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return Result{Err: classify(url, err)}
	}
	body := res.RawBody()
	defer func() {
		_ = body.Close()
	}()

	if !res.IsSuccess() {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
		return Result{Err: &Error{URL: url, Kind: KindStatus, StatusCode: res.StatusCode()}}
	}

	b, err := io.ReadAll(io.LimitReader(body, f.opts.MaxBodyBytes))
	if err != nil {
		return Result{Err: classify(url, fmt.Errorf("read body: %w", err))}
	}
	return Result{Markup: string(b)}
}

func classify(url string, err error) *Error {
	kind := KindTransport
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &Error{URL: url, Kind: kind, Err: err}
}
