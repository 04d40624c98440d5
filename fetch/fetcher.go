// Package fetch retrieves rendered HTML for a URL. Implementations range from
// a plain HTTP client to full browsers; every instance is owned by a single
// goroutine at a time.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"listing_scrooper/config"
)

type Options struct {
	// WaitForSelector, when set, is awaited before the page is captured.
	// Plain HTTP fetches ignore it.
	WaitForSelector string
	Timeout         time.Duration
}

type Page struct {
	HTML     string
	FinalURL string
}

type Fetcher interface {
	Fetch(ctx context.Context, url string, opts Options) (*Page, error)
	Close() error
}

// Factory hands out fetchers. Each call returns an instance nobody else
// holds, so concurrent workers never share browser state.
type Factory interface {
	New() (Fetcher, error)
	Close() error
}

type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindCanceled   ErrorKind = "canceled"
	KindNetwork    ErrorKind = "network"
	KindStatus     ErrorKind = "status"
	KindNavigation ErrorKind = "navigation"
)

type Error struct {
	URL    string
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a fetch that ran out of time.
func IsTimeout(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindTimeout
}

// classify wraps a transport error, telling caller cancellation apart from
// the per-fetch deadline.
func classify(ctx context.Context, url string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return &Error{URL: url, Kind: KindCanceled, Err: ctx.Err()}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{URL: url, Kind: KindTimeout, Err: err}
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return &Error{URL: url, Kind: KindTimeout, Err: err}
	}
	return &Error{URL: url, Kind: KindNetwork, Err: err}
}

func timeoutFor(opts Options, fallback time.Duration) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if fallback > 0 {
		return fallback
	}
	return 30 * time.Second
}

// NewFactory builds the factory for a site's configured fetcher kind.
func NewFactory(kind string, cfg config.FetchConfig) (Factory, error) {
	switch kind {
	case "", config.FetcherHTTP:
		return NewHTTPFactory(cfg)
	case config.FetcherPlaywright:
		return NewPlaywrightFactory(cfg), nil
	case config.FetcherChromedp:
		return NewChromedpFactory(cfg), nil
	default:
		return nil, fmt.Errorf("unknown fetcher %q", kind)
	}
}
