package fetch

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// NewLimiter allows one request per interval. A non-positive interval
// disables limiting.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

type rateLimited struct {
	Fetcher
	limiter *rate.Limiter
}

// RateLimited waits on limiter before every fetch. The limiter may be shared
// between fetchers of the same site; it holds no browser state.
func RateLimited(f Fetcher, limiter *rate.Limiter) Fetcher {
	return &rateLimited{Fetcher: f, limiter: limiter}
}

func (r *rateLimited) Fetch(ctx context.Context, url string, opts Options) (*Page, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, classify(ctx, url, err)
	}
	return r.Fetcher.Fetch(ctx, url, opts)
}

type limitedFactory struct {
	Factory
	limiter *rate.Limiter
}

// LimitFactory wraps every fetcher the factory hands out with one shared
// limiter.
func LimitFactory(f Factory, limiter *rate.Limiter) Factory {
	return &limitedFactory{Factory: f, limiter: limiter}
}

func (l *limitedFactory) New() (Fetcher, error) {
	f, err := l.Factory.New()
	if err != nil {
		return nil, err
	}
	return RateLimited(f, l.limiter), nil
}
