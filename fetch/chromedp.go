package fetch

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"listing_scrooper/config"
)

// ChromedpFactory shares an exec allocator. Every fetcher gets its own
// browser context from it.
type ChromedpFactory struct {
	cfg         config.FetchConfig
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
}

func NewChromedpFactory(cfg config.FetchConfig) *ChromedpFactory {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromedpFactory{cfg: cfg, allocCtx: allocCtx, cancelAlloc: cancel}
}

func (f *ChromedpFactory) New() (Fetcher, error) {
	if err := f.allocCtx.Err(); err != nil {
		return nil, fmt.Errorf("chromedp allocator closed: %w", err)
	}
	tabCtx, cancel := chromedp.NewContext(f.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	// The first Run opens the tab; doing it here keeps per-fetch timeouts
	// from tearing the tab down with them.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return &ChromedpFetcher{tabCtx: tabCtx, cancel: cancel, cfg: f.cfg}, nil
}

func (f *ChromedpFactory) Close() error {
	f.cancelAlloc()
	return nil
}

type ChromedpFetcher struct {
	tabCtx context.Context
	cancel context.CancelFunc
	cfg    config.FetchConfig
}

func (c *ChromedpFetcher) Fetch(ctx context.Context, url string, opts Options) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, url, err)
	}

	// Run must use a context derived from the tab; the caller's context is
	// linked in so cancellation still aborts the navigation.
	runCtx, cancel := context.WithTimeout(c.tabCtx, timeoutFor(opts, c.cfg.Timeout))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	waitFor := opts.WaitForSelector
	if waitFor == "" {
		waitFor = "body"
	}

	var html, location string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady(waitFor, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&location),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classify(ctx, url, ctx.Err())
		}
		if runCtx.Err() != nil {
			return nil, &Error{URL: url, Kind: KindTimeout, Err: runCtx.Err()}
		}
		return nil, &Error{URL: url, Kind: KindNavigation, Err: err}
	}
	return &Page{HTML: html, FinalURL: location}, nil
}

func (c *ChromedpFetcher) Close() error {
	c.cancel()
	return nil
}
