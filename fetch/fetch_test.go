package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"listing_scrooper/config"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>ua=" + r.UserAgent() + "</body></html>"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(t *testing.T, srv *httptest.Server) Fetcher {
	t.Helper()
	factory := NewHTTPFactoryWithClient(srv.Client(), config.FetchConfig{UserAgent: "scrooper-test", Timeout: time.Second})
	f, err := factory.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return f
}

func TestHTTPFetcher_OK(t *testing.T) {
	srv := newTestServer(t)
	f := newTestFetcher(t, srv)

	page, err := f.Fetch(context.Background(), srv.URL+"/redirect", Options{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if page.FinalURL != srv.URL+"/ok" {
		t.Fatalf("expected final url after redirect, got %s", page.FinalURL)
	}
	if page.HTML != "<html><body>ua=scrooper-test</body></html>" {
		t.Fatalf("unexpected body %q", page.HTML)
	}
}

func TestHTTPFetcher_Status(t *testing.T) {
	srv := newTestServer(t)
	f := newTestFetcher(t, srv)

	_, err := f.Fetch(context.Background(), srv.URL+"/missing", Options{})
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindStatus || fe.Status != 404 {
		t.Fatalf("expected status 404 error, got %v", err)
	}
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	srv := newTestServer(t)
	f := newTestFetcher(t, srv)

	_, err := f.Fetch(context.Background(), srv.URL+"/slow", Options{Timeout: 30 * time.Millisecond})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestHTTPFetcher_Canceled(t *testing.T) {
	srv := newTestServer(t)
	f := newTestFetcher(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, srv.URL+"/ok", Options{})
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindCanceled {
		t.Fatalf("expected canceled error, got %v", err)
	}
	if IsTimeout(err) {
		t.Fatalf("cancellation must not be reported as a timeout")
	}
}

func TestNewFactory(t *testing.T) {
	f, err := NewFactory("", config.FetchConfig{})
	if err != nil {
		t.Fatalf("expected default http factory, got %v", err)
	}
	if _, ok := f.(*HTTPFactory); !ok {
		t.Fatalf("expected *HTTPFactory, got %T", f)
	}
	if _, err := NewFactory("selenium", config.FetchConfig{}); err == nil {
		t.Fatalf("expected error for unknown fetcher")
	}
}

type countingFetcher struct {
	calls atomic.Int32
	err   error
}

func (c *countingFetcher) Fetch(ctx context.Context, url string, opts Options) (*Page, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &Page{HTML: "<html></html>", FinalURL: url}, nil
}

func (c *countingFetcher) Close() error { return nil }

func TestCached(t *testing.T) {
	inner := &countingFetcher{}
	c := Cached(inner)

	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), "https://a.ng/x", Options{}); err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
	}
	c.Fetch(context.Background(), "https://a.ng/y", Options{})

	if inner.calls.Load() != 2 {
		t.Fatalf("expected 2 underlying fetches, got %d", inner.calls.Load())
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 cached pages, got %d", c.Len())
	}
}

func TestCached_ErrorsNotCached(t *testing.T) {
	inner := &countingFetcher{err: errors.New("boom")}
	c := Cached(inner)
	c.Fetch(context.Background(), "https://a.ng/x", Options{})
	c.Fetch(context.Background(), "https://a.ng/x", Options{})
	if inner.calls.Load() != 2 {
		t.Fatalf("expected failed fetch to be retried, got %d calls", inner.calls.Load())
	}
}

func TestRateLimited(t *testing.T) {
	inner := &countingFetcher{}
	f := RateLimited(inner, NewLimiter(40*time.Millisecond))

	start := time.Now()
	for i := 0; i < 3; i++ {
		f.Fetch(context.Background(), "https://a.ng/x", Options{})
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Fatalf("expected limiter to space requests, took %v", elapsed)
	}
}

func TestRateLimited_Canceled(t *testing.T) {
	inner := &countingFetcher{}
	limiter := NewLimiter(time.Hour)
	f := RateLimited(inner, limiter)
	f.Fetch(context.Background(), "https://a.ng/x", Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Fetch(ctx, "https://a.ng/y", Options{}); err == nil {
		t.Fatalf("expected limiter wait to fail")
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("expected second fetch to be blocked by the limiter")
	}
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &Error{URL: "u", Kind: KindNetwork, Err: errors.New("reset")}
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got %v after %d calls", err, calls)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 1, time.Millisecond, func(ctx context.Context) error {
		calls++
		return &Error{URL: "u", Kind: KindTimeout, Err: context.DeadlineExceeded}
	})
	if calls != 2 || !IsTimeout(err) {
		t.Fatalf("expected 2 calls ending in timeout, got %d calls, err %v", calls, err)
	}
}

func TestRetry_NotFoundIsFinal(t *testing.T) {
	calls := 0
	Retry(context.Background(), 2, time.Millisecond, func(ctx context.Context) error {
		calls++
		return &Error{URL: "u", Kind: KindStatus, Status: 404}
	})
	if calls != 1 {
		t.Fatalf("expected no retry after 404, got %d calls", calls)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	Retry(ctx, 5, 10*time.Millisecond, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("flaky")
	})
	if calls != 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", calls)
	}
}
