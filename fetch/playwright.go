package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
	"listing_scrooper/config"
)

// PlaywrightFactory launches one Chromium lazily and gives every fetcher its
// own BrowserContext, so cookies and pages are never shared across workers.
type PlaywrightFactory struct {
	cfg config.FetchConfig

	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
}

func NewPlaywrightFactory(cfg config.FetchConfig) *PlaywrightFactory {
	return &PlaywrightFactory{cfg: cfg}
}

func (f *PlaywrightFactory) ensureBrowser() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	var err error
	f.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(f.cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if f.cfg.ProxyURL != "" {
		opts.Proxy = &playwright.Proxy{Server: f.cfg.ProxyURL}
	}
	f.browser, err = f.pw.Chromium.Launch(opts)
	if err != nil {
		f.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	f.initialized = true
	return nil
}

func (f *PlaywrightFactory) New() (Fetcher, error) {
	if err := f.ensureBrowser(); err != nil {
		return nil, err
	}

	bctx, err := f.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(f.cfg.UserAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return &PlaywrightFetcher{bctx: bctx, cfg: f.cfg}, nil
}

func (f *PlaywrightFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	if f.browser != nil {
		errs = append(errs, f.browser.Close())
	}
	if f.pw != nil {
		errs = append(errs, f.pw.Stop())
	}
	f.initialized = false
	return errors.Join(errs...)
}

type PlaywrightFetcher struct {
	bctx playwright.BrowserContext
	page playwright.Page
	cfg  config.FetchConfig
}

func (p *PlaywrightFetcher) Fetch(ctx context.Context, url string, opts Options) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, url, err)
	}
	if p.page == nil {
		page, err := p.bctx.NewPage()
		if err != nil {
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
		p.page = page
	}
	page := p.page

	// Playwright calls take no context; closing the page aborts whatever is
	// in flight when the caller gives up.
	stop := context.AfterFunc(ctx, func() { page.Close() })
	defer func() {
		if !stop() {
			p.page = nil
		}
	}()

	timeoutMS := float64(timeoutFor(opts, p.cfg.Timeout).Milliseconds())

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(timeoutMS),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return nil, p.wrap(ctx, url, err)
	}
	if resp != nil && (resp.Status() < 200 || resp.Status() >= 400) {
		return nil, &Error{URL: url, Kind: KindStatus, Status: resp.Status(), Err: fmt.Errorf("status %d", resp.Status())}
	}

	if opts.WaitForSelector != "" {
		err := page.Locator(opts.WaitForSelector).First().WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(timeoutMS),
		})
		if err != nil {
			return nil, p.wrap(ctx, url, err)
		}
	}

	html, err := page.Content()
	if err != nil {
		return nil, p.wrap(ctx, url, err)
	}
	return &Page{HTML: html, FinalURL: page.URL()}, nil
}

func (p *PlaywrightFetcher) wrap(ctx context.Context, url string, err error) error {
	if ctx.Err() != nil {
		return classify(ctx, url, ctx.Err())
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return &Error{URL: url, Kind: KindTimeout, Err: err}
	}
	return &Error{URL: url, Kind: KindNavigation, Err: err}
}

func (p *PlaywrightFetcher) Close() error {
	if p.page != nil {
		p.page.Close()
		p.page = nil
	}
	return p.bctx.Close()
}
