package fetch

import (
	"context"
	"sync"
)

// CachedFetcher memoizes successful pages for the lifetime of one traversal
// so a page visited during discovery is not fetched again for extraction.
type CachedFetcher struct {
	Fetcher

	mu    sync.Mutex
	pages map[string]*Page
}

func Cached(f Fetcher) *CachedFetcher {
	return &CachedFetcher{Fetcher: f, pages: make(map[string]*Page)}
}

func (c *CachedFetcher) Fetch(ctx context.Context, url string, opts Options) (*Page, error) {
	c.mu.Lock()
	page, ok := c.pages[url]
	c.mu.Unlock()
	if ok {
		return page, nil
	}

	page, err := c.Fetcher.Fetch(ctx, url, opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.pages[url] = page
	c.mu.Unlock()
	return page, nil
}

func (c *CachedFetcher) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}
