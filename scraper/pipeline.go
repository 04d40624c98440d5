package scraper

import (
	"context"
	"fmt"
	"log"
	"time"

	"listing_scrooper/classifier"
	"listing_scrooper/config"
	"listing_scrooper/discovery"
	"listing_scrooper/extractor"
	"listing_scrooper/fetch"
	"listing_scrooper/geo"
	"listing_scrooper/models"
	"listing_scrooper/services"
	"listing_scrooper/telemetry"
	"listing_scrooper/workers"
)

// Deps are the collaborators a pipeline run needs besides the site itself.
type Deps struct {
	Factory   fetch.Factory
	Normalize config.NormalizeConfig
	Scorer    *services.Scorer
	// Geocoder is only consulted for sites with geocode enabled.
	Geocoder geo.Geocoder
	Events   telemetry.Sink
	Now      func() time.Time
}

type RunStats struct {
	Seeds              int `json:"seeds"`
	SeedsFailed        int `json:"seeds_failed"`
	PagesVisited       int `json:"pages_visited"`
	ListingPages       int `json:"listing_pages"`
	PageErrors         int `json:"page_errors"`
	CandidatesFound    int `json:"candidates_found"`
	CandidatesRejected int `json:"candidates_rejected"`
	Records            int `json:"records"`
	EnrichmentFailed   int `json:"enrichment_failed"`
	Geocoded           int `json:"geocoded"`
}

// Pipeline scrapes one site: discover listing pages, extract and classify
// cards, normalize, enrich, and collapse duplicates. It never touches the
// record store.
type Pipeline struct {
	site       *config.SiteConfig
	parser     Parser
	deps       Deps
	classifier *classifier.Classifier
	normalizer *services.Normalizer
	merger     *services.Merger
}

// NewPipeline validates the site. A site without selectors or seeds yields a
// *config.ConfigurationMissingError.
func NewPipeline(site *config.SiteConfig, deps Deps) (*Pipeline, error) {
	if err := site.Validate(); err != nil {
		return nil, err
	}
	if deps.Factory == nil {
		return nil, fmt.Errorf("site %s: no fetcher factory", site.ID)
	}
	cls, err := classifier.New(site.ClassifierConfig)
	if err != nil {
		return nil, fmt.Errorf("site %s: classifier: %w", site.ID, err)
	}
	if deps.Scorer == nil {
		deps.Scorer = services.NewScorer()
	}
	if deps.Events == nil {
		deps.Events = telemetry.Discard
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Pipeline{
		site:       site,
		parser:     site,
		deps:       deps,
		classifier: cls,
		normalizer: services.NewNormalizer(deps.Normalize, site.Currency, deps.Scorer),
		merger:     services.NewMerger(deps.Scorer),
	}, nil
}

// Run returns the site's records for this run, collapsed by identity and
// scored. Per-page and per-record failures are reported as events; Run only
// fails when no seed could be fetched or ctx is canceled.
func (p *Pipeline) Run(ctx context.Context, runID string) ([]models.PropertyRecord, *RunStats, error) {
	counter := telemetry.NewCounter()
	events := telemetry.Scoped{
		Sink:    telemetry.Multi(p.deps.Events, counter),
		SiteKey: p.parser.SiteKey(),
		RunID:   runID,
	}
	stats := &RunStats{}
	scrapedAt := p.deps.Now().UTC()

	limiter := fetch.NewLimiter(time.Duration(p.site.RateLimitMS) * time.Millisecond)
	factory := fetch.LimitFactory(p.deps.Factory, limiter)

	f, err := factory.New()
	if err != nil {
		return nil, stats, fmt.Errorf("create fetcher: %w", err)
	}
	defer f.Close()
	pages := fetch.Cached(f)

	listingPages, err := p.discover(ctx, pages, events, stats)
	if err != nil {
		return nil, stats, err
	}

	raws, err := p.extract(ctx, pages, listingPages, events, stats, scrapedAt)
	stats.PagesVisited = pages.Len()
	if err != nil {
		return nil, stats, err
	}

	records := make([]models.PropertyRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, p.normalizer.Normalize(raw))
	}
	records = services.Collapse(records, p.merger)

	enricher := workers.NewEnrichmentWorker(factory, p.normalizer, p.deps.Scorer,
		p.parser.Selectors().Detail, workers.EnrichOptionsFromSite(p.site), events)
	records = enricher.Enrich(ctx, records)
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	if p.site.Geocode && p.deps.Geocoder != nil {
		stats.Geocoded = geo.FillCoordinates(ctx, p.deps.Geocoder, records)
	}
	for i := range records {
		p.normalizer.Finalize(&records[i])
	}
	// Enrichment can fill identity fields, so two records may now coincide.
	records = services.Collapse(records, p.merger)

	stats.Records = len(records)
	stats.PageErrors = counter.Count(models.EventPageFetchFailed)
	stats.EnrichmentFailed = counter.Count(models.EventDetailFetchFailed)

	log.Printf("[%s] %s: %d listing pages, %d candidates, %d records", models.LogLevelInfo, p.site.ID,
		stats.ListingPages, stats.CandidatesFound, stats.Records)
	return records, stats, nil
}

// discover runs every seed and returns the union of listing pages in
// discovery order. A failed seed is logged and skipped unless all fail.
func (p *Pipeline) discover(ctx context.Context, f fetch.Fetcher, events telemetry.Sink, stats *RunStats) ([]string, error) {
	disc, err := discovery.New(f, p.classifier, *p.site, events)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", p.site.ID, err)
	}

	seen := make(map[string]bool)
	var out []string
	var lastErr error
	for _, seed := range p.site.Seeds {
		stats.Seeds++
		found, err := disc.Discover(ctx, seed, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			stats.SeedsFailed++
			lastErr = err
			events.Emit(models.Event{
				Type:    models.EventPageFetchFailed,
				Level:   models.LogLevelWarn,
				URL:     seed,
				Message: err.Error(),
			})
			continue
		}
		for _, u := range found {
			key := discovery.NormalizeURL(u)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, u)
		}
	}

	if stats.SeedsFailed == stats.Seeds {
		return nil, fmt.Errorf("all %d seeds failed: %w", stats.Seeds, lastErr)
	}
	return out, nil
}

// extract walks each listing page and its pagination, up to max_pages per
// chain. Pages already seen through another chain are not walked twice.
func (p *Pipeline) extract(ctx context.Context, f fetch.Fetcher, listingPages []string, events telemetry.Sink, stats *RunStats, at time.Time) ([]models.RawListing, error) {
	sel := p.parser.Selectors()
	visited := make(map[string]bool)
	var raws []models.RawListing

	for _, start := range listingPages {
		pageURL := start
		for n := 0; n < p.site.MaxPages && pageURL != ""; n++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			key := discovery.NormalizeURL(pageURL)
			if visited[key] {
				break
			}
			visited[key] = true

			fetched, err := f.Fetch(ctx, pageURL, fetch.Options{WaitForSelector: sel.WaitFor})
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				events.Emit(models.Event{
					Type:    models.EventPageFetchFailed,
					Level:   models.LogLevelWarn,
					URL:     pageURL,
					Message: err.Error(),
				})
				break
			}

			page, err := extractor.Parse(fetched.HTML, pageURL)
			if err != nil {
				log.Printf("Warning: parse %s: %v", pageURL, err)
				break
			}
			stats.ListingPages++
			raws = append(raws, p.candidates(page, events, stats, at)...)
			pageURL = page.NextPage(sel.NextPage)
		}
	}
	return raws, nil
}

// candidates turns a page's cards into raw listings. Category links are
// dropped. Unknown links are kept and flagged, except from the generic
// anchor fallback where only property links are trusted.
func (p *Pipeline) candidates(page *extractor.Page, events telemetry.Sink, stats *RunStats, at time.Time) []models.RawListing {
	sel := p.parser.Selectors()
	cards, err := page.Cards(sel.Cards, sel.CardFields)
	if err != nil {
		log.Printf("Warning: extract cards from %s: %v", page.URL(), err)
		return nil
	}

	var raws []models.RawListing
	rejected := 0
	for _, c := range cards.Candidates {
		kind := p.classifier.Classify(c.ListingURL)
		switch {
		case kind == classifier.Category:
			rejected++
			continue
		case kind == classifier.Unknown && cards.Fallback:
			continue
		}
		raws = append(raws, models.RawListing{
			SiteKey:    p.parser.SiteKey(),
			ListingURL: c.ListingURL,
			SourceURL:  c.SourceURL,
			Fields:     c.RawFields,
			ScrapedAt:  at,
			Unknown:    kind == classifier.Unknown,
		})
	}

	stats.CandidatesFound += len(raws)
	stats.CandidatesRejected += rejected
	if rejected > 0 {
		events.Emit(models.Event{
			Type:    models.EventCandidatesRejected,
			Level:   models.LogLevelInfo,
			URL:     page.URL(),
			Count:   rejected,
			Message: fmt.Sprintf("%d category links from %s", rejected, cards.Selector),
		})
	}
	if len(raws) == 0 {
		events.Emit(models.Event{
			Type:    models.EventExtractionEmpty,
			Level:   models.LogLevelInfo,
			URL:     page.URL(),
			Message: fmt.Sprintf("no listings from %d matched elements", cards.Matched),
		})
		return nil
	}
	events.Emit(models.Event{
		Type:    models.EventCandidatesFound,
		Level:   models.LogLevelInfo,
		URL:     page.URL(),
		Count:   len(raws),
		Message: "selector " + cards.Selector,
	})
	return raws
}
