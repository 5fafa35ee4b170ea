package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shpitdev/price-sheet-tracker/pkg/fetch"
)

func TestFetch_Returns2xxBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<span id="productTitle">Widget</span>`))
	}))
	defer srv.Close()

	res := fetch.New(fetch.Options{}).Fetch(context.Background(), srv.URL)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !strings.Contains(res.Markup, "Widget") {
		t.Fatalf("unexpected markup: %q", res.Markup)
	}
}

func TestFetch_SendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotLang, gotAccept atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		gotLang.Store(r.Header.Get("Accept-Language"))
		gotAccept.Store(r.Header.Get("Accept"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	res := fetch.New(fetch.Options{}).Fetch(context.Background(), srv.URL)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if gotUA.Load().(string) != fetch.DefaultUserAgent {
		t.Fatalf("user agent: got %q", gotUA.Load())
	}
	if gotLang.Load().(string) == "" || gotAccept.Load().(string) == "" {
		t.Fatalf("expected Accept and Accept-Language headers, got %q / %q", gotAccept.Load(), gotLang.Load())
	}
}

func TestFetch_CustomUserAgent(t *testing.T) {
	t.Parallel()

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	fetch.New(fetch.Options{UserAgent: "custom/1.0"}).Fetch(context.Background(), srv.URL)
	if gotUA.Load().(string) != "custom/1.0" {
		t.Fatalf("user agent: got %q", gotUA.Load())
	}
}

func TestFetch_ReturnsStatusErrorOnNon2xx(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusNotFound, http.StatusServiceUnavailable, http.StatusFound + 100} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		res := fetch.New(fetch.Options{}).Fetch(context.Background(), srv.URL)
		srv.Close()

		if res.Err == nil {
			t.Fatalf("expected error for %d", code)
		}
		if res.Err.Kind != fetch.KindStatus || res.Err.StatusCode != code {
			t.Fatalf("unexpected error for %d: %#v", code, res.Err)
		}
		if res.Markup != "" {
			t.Fatalf("expected no markup for %d", code)
		}
	}
}

func TestFetch_ReturnsTimeoutError(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := fetch.New(fetch.Options{Timeout: 100 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	if res.Err == nil {
		t.Fatal("expected error on timeout")
	}
	if res.Err.Kind != fetch.KindTimeout {
		t.Fatalf("expected timeout kind, got %q (%v)", res.Err.Kind, res.Err)
	}
}

func TestFetch_ReturnsTransportErrorOnConnectionRefused(t *testing.T) {
	t.Parallel()

	res := fetch.New(fetch.Options{Timeout: 2 * time.Second}).Fetch(context.Background(), "http://127.0.0.1:1")
	if res.Err == nil {
		t.Fatal("expected error on connection refused")
	}
	if res.Err.Kind != fetch.KindTransport {
		t.Fatalf("expected transport kind, got %q", res.Err.Kind)
	}
	if errors.Unwrap(res.Err) == nil {
		t.Fatal("expected wrapped cause")
	}
}

func TestFetch_TruncatesBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer srv.Close()

	res := fetch.New(fetch.Options{MaxBodyBytes: 100}).Fetch(context.Background(), srv.URL)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Markup) != 100 {
		t.Fatalf("expected 100 bytes, got %d", len(res.Markup))
	}
}

func TestFetch_OneRequestPerCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fetch.New(fetch.Options{}).Fetch(context.Background(), srv.URL)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 request, got %d", got)
	}
}

func TestValidURL(t *testing.T) {
	tests := []struct {
		raw   string
		token string
		want  bool
	}{
		{raw: "https://www.amazon.co.uk/dp/B000", token: "amazon", want: true},
		{raw: "https://WWW.AMAZON.COM/dp/B000", token: "amazon", want: true},
		{raw: "  https://www.amazon.de/dp/B000  ", token: "Amazon", want: true},
		{raw: "https://www.ebay.co.uk/itm/1", token: "amazon", want: false},
		{raw: "", token: "amazon", want: false},
		{raw: "   ", token: "amazon", want: false},
		{raw: "http://127.0.0.1/page", token: "", want: true},
	}
	for _, tt := range tests {
		if got := fetch.ValidURL(tt.raw, tt.token); got != tt.want {
			t.Fatalf("ValidURL(%q, %q)=%t want=%t", tt.raw, tt.token, got, tt.want)
		}
	}
}
