package workers

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"listing_scrooper/config"
	"listing_scrooper/extractor"
	"listing_scrooper/fetch"
	"listing_scrooper/models"
	"listing_scrooper/services"
	"listing_scrooper/telemetry"
)

// EnrichOptions bounds the detail fetches of one run.
type EnrichOptions struct {
	MaxConcurrent int
	// Cap limits total detail fetches; 0 means unlimited.
	Cap        int
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	WaitFor    string
}

// EnrichOptionsFromSite copies a site's enrichment settings.
func EnrichOptionsFromSite(site *config.SiteConfig) EnrichOptions {
	e := site.EnrichmentConfig
	return EnrichOptions{
		MaxConcurrent: e.MaxConcurrent,
		Cap:           e.Cap,
		Timeout:       e.Timeout,
		Retries:       e.Retries,
		RetryDelay:    e.RetryDelay,
		WaitFor:       site.SelectorConfig.Detail.WaitFor,
	}
}

// EnrichmentWorker fills gaps in list-page records from their detail pages.
// Every goroutine in the pool owns its own fetcher from the factory.
type EnrichmentWorker struct {
	factory    fetch.Factory
	normalizer *services.Normalizer
	scorer     *services.Scorer
	sel        config.DetailSelectors
	opts       EnrichOptions
	events     telemetry.Sink
}

func NewEnrichmentWorker(factory fetch.Factory, normalizer *services.Normalizer, scorer *services.Scorer, sel config.DetailSelectors, opts EnrichOptions, events telemetry.Sink) *EnrichmentWorker {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = config.DefaultMaxConcurrent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultDetailTimeout
	}
	opts.Retries = min(max(opts.Retries, 0), 2)
	if scorer == nil {
		scorer = services.NewScorer()
	}
	if events == nil {
		events = telemetry.Discard
	}
	return &EnrichmentWorker{
		factory:    factory,
		normalizer: normalizer,
		scorer:     scorer,
		sel:        sel,
		opts:       opts,
		events:     events,
	}
}

// NeedsEnrichment reports whether any field the list page usually lacks is
// still absent.
func NeedsEnrichment(rec models.PropertyRecord) bool {
	return !rec.Has(models.FieldBedrooms) || !rec.Has(models.FieldPrice) || !rec.Has(models.FieldDescription)
}

type enrichStats struct {
	fetched atomic.Int32
	failed  atomic.Int32
}

// Enrich returns records in input order, same length. Failures never drop a
// record; they leave its fields as they were and set EnrichmentError.
func (w *EnrichmentWorker) Enrich(ctx context.Context, records []models.PropertyRecord) []models.PropertyRecord {
	out := make([]models.PropertyRecord, len(records))
	copy(out, records)

	var pending []int
	for i, rec := range out {
		if NeedsEnrichment(rec) && rec.ListingURL != "" {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return out
	}

	if w.opts.Cap > 0 && len(pending) > w.opts.Cap {
		skipped := len(pending) - w.opts.Cap
		pending = pending[:w.opts.Cap]
		w.events.Emit(models.Event{
			Type:    models.EventDetailFetchSkipped,
			Level:   models.LogLevelInfo,
			Count:   skipped,
			Message: fmt.Sprintf("detail fetch cap of %d reached", w.opts.Cap),
		})
	}

	jobs := make(chan int, len(pending))
	for _, i := range pending {
		jobs <- i
	}
	close(jobs)

	stats := &enrichStats{}
	var g errgroup.Group
	for n := min(w.opts.MaxConcurrent, len(pending)); n > 0; n-- {
		g.Go(func() error {
			f, err := w.factory.New()
			if err != nil {
				log.Printf("Warning: failed to create detail fetcher: %v", err)
				return err
			}
			defer f.Close()

			for i := range jobs {
				out[i] = w.enrichOne(ctx, f, out[i], stats)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Jobs no worker could take keep their fields.
		for i := range jobs {
			out[i] = w.fail(out[i], fmt.Errorf("no detail fetcher: %w", err), stats)
		}
	}

	log.Printf("Enrichment: %d fetched, %d failed of %d pending", stats.fetched.Load(), stats.failed.Load(), len(pending))
	return out
}

func (w *EnrichmentWorker) enrichOne(ctx context.Context, f fetch.Fetcher, rec models.PropertyRecord, stats *enrichStats) models.PropertyRecord {
	if err := ctx.Err(); err != nil {
		return w.fail(rec, err, stats)
	}

	var page *fetch.Page
	err := fetch.Retry(ctx, w.opts.Retries, w.opts.RetryDelay, func(ctx context.Context) error {
		var err error
		page, err = f.Fetch(ctx, rec.ListingURL, fetch.Options{WaitForSelector: w.opts.WaitFor, Timeout: w.opts.Timeout})
		return err
	})
	if err != nil {
		return w.fail(rec, err, stats)
	}

	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = rec.ListingURL
	}
	detail, err := extractor.ExtractDetail(page.HTML, pageURL, w.sel)
	if err != nil {
		return w.fail(rec, err, stats)
	}

	enriched := rec.Clone()
	for k, v := range w.normalizer.NormalizeFields(detail.Fields, detail.Images, rec.ScrapeTimestamp) {
		if !enriched.Has(k) {
			enriched.Set(k, v)
		}
	}
	enriched.EnrichmentError = ""
	services.Finalize(&enriched, w.scorer)
	stats.fetched.Add(1)
	return enriched
}

func (w *EnrichmentWorker) fail(rec models.PropertyRecord, err error, stats *enrichStats) models.PropertyRecord {
	stats.failed.Add(1)
	rec.EnrichmentError = err.Error()
	w.events.Emit(models.Event{
		Type:    models.EventDetailFetchFailed,
		Level:   models.LogLevelWarn,
		SiteKey: rec.SiteKey,
		URL:     rec.ListingURL,
		Message: err.Error(),
	})
	return rec
}
