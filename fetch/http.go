package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"listing_scrooper/config"
	"listing_scrooper/httputil"
)

const maxBodyBytes = 10 << 20

type HTTPFactory struct {
	client    *http.Client
	userAgent string
	cfg       config.FetchConfig
}

func NewHTTPFactory(cfg config.FetchConfig) (*HTTPFactory, error) {
	clients, err := httputil.NewClients(cfg)
	if err != nil {
		return nil, err
	}
	return &HTTPFactory{client: clients.Scraping, userAgent: cfg.UserAgent, cfg: cfg}, nil
}

// NewHTTPFactoryWithClient is used when the caller owns the client, e.g. in
// tests against httptest servers.
func NewHTTPFactoryWithClient(client *http.Client, cfg config.FetchConfig) *HTTPFactory {
	return &HTTPFactory{client: client, userAgent: cfg.UserAgent, cfg: cfg}
}

// New shares the underlying client; an http.Client carries no per-page state.
func (f *HTTPFactory) New() (Fetcher, error) {
	return &HTTPFetcher{client: f.client, userAgent: f.userAgent, cfg: f.cfg}, nil
}

func (f *HTTPFactory) Close() error { return nil }

type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	cfg       config.FetchConfig
}

func (h *HTTPFetcher) Fetch(ctx context.Context, url string, opts Options) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutFor(opts, h.cfg.Timeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{URL: url, Kind: KindNavigation, Err: err}
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classify(ctx, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{URL: url, Kind: KindStatus, Status: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(ctx, url, err)
	}

	return &Page{HTML: string(body), FinalURL: resp.Request.URL.String()}, nil
}

func (h *HTTPFetcher) Close() error { return nil }
