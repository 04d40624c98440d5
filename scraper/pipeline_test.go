package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"listing_scrooper/config"
	"listing_scrooper/fetch"
	"listing_scrooper/models"
	"listing_scrooper/telemetry"
)

const host = "https://example.ng"

// fakeFactory serves every fetcher from one shared page map.
type fakeFactory struct {
	mu      sync.Mutex
	pages   map[string]string
	fetches map[string]int
	created int
}

func newFakeFactory(pages map[string]string) *fakeFactory {
	return &fakeFactory{pages: pages, fetches: make(map[string]int)}
}

func (f *fakeFactory) New() (fetch.Fetcher, error) {
	f.mu.Lock()
	f.created++
	f.mu.Unlock()
	return &fakeFetcher{factory: f}, nil
}

func (f *fakeFactory) Close() error { return nil }

func (f *fakeFactory) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[url]
}

type fakeFetcher struct {
	factory *fakeFactory
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, opts fetch.Options) (*fetch.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fetch.Error{URL: url, Kind: fetch.KindCanceled, Err: err}
	}
	f.factory.mu.Lock()
	f.factory.fetches[url]++
	html, ok := f.factory.pages[url]
	f.factory.mu.Unlock()
	if !ok {
		return nil, &fetch.Error{URL: url, Kind: fetch.KindStatus, Status: 404}
	}
	return &fetch.Page{HTML: html, FinalURL: url}, nil
}

func (f *fakeFetcher) Close() error { return nil }

type card struct {
	href, title, price, location string
}

func page(cards []card, extra string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="results">`)
	for _, c := range cards {
		fmt.Fprintf(&b, `<div class="property-card"><a href="%s"><h3 class="title">%s</h3></a>`+
			`<span class="price">%s</span><span class="location">%s</span></div>`,
			c.href, c.title, c.price, c.location)
	}
	b.WriteString(`</div>`)
	b.WriteString(extra)
	b.WriteString(`</body></html>`)
	return b.String()
}

func detail(description string) string {
	return `<html><body><div class="description">` + description + `</div></body></html>`
}

// testPages is a small site: one seed directory with three areas. Lekki has
// two pages of results, Ikeja lists a card the classifier cannot place and
// Ikoyi is down.
func testPages() map[string]string {
	return map[string]string{
		host + "/for-sale/lagos": `<html><body><ul>
			<li><a href="/for-sale/lagos/lekki">Lekki</a></li>
			<li><a href="/for-sale/lagos/ikeja">Ikeja</a></li>
			<li><a href="/for-sale/lagos/ikoyi">Ikoyi</a></li>
		</ul></body></html>`,
		host + "/for-sale/lagos/lekki": page([]card{
			{"/property/100001-3-bedroom-flat-lekki", "3 Bedroom Flat", "₦ 45,000,000", "Lekki, Lagos"},
			{"/for-sale/flats/lagos", "All flats in Lagos", "", ""},
		}, `<a class="next" href="/for-sale/lagos/lekki?page=2">Next</a>`),
		host + "/for-sale/lagos/lekki?page=2": page([]card{
			{"/property/100002-5-bedroom-duplex-lekki", "5 Bedroom Duplex", "₦ 150,000,000", "Lekki Phase 1, Lagos"},
		}, ""),
		host + "/for-sale/lagos/ikeja": page([]card{
			{"/listing/house-a1", "Mini house", "₦ 2,000,000", "Ikeja, Lagos"},
		}, ""),
		host + "/property/100001-3-bedroom-flat-lekki": detail("Spacious flat close to the expressway."),
		host + "/listing/house-a1":                     detail("Small house with a garden."),
	}
}

func testSite() *config.SiteConfig {
	return &config.SiteConfig{
		ID:       "example",
		Name:     "Example Properties",
		Fetcher:  config.FetcherHTTP,
		MaxPages: 5,
		Seeds:    []string{host + "/for-sale/lagos"},
		SelectorConfig: config.Selectors{
			Cards: []string{".property-card"},
			CardFields: config.CardFields{
				Title:    []string{".title"},
				Price:    []string{".price"},
				Location: []string{".location"},
			},
			NextPage: []string{"a.next"},
			Detail: config.DetailSelectors{
				Description: []string{".description"},
			},
		},
		EnrichmentConfig: config.EnrichmentConfig{MaxConcurrent: 2},
	}
}

func testNormalize() config.NormalizeConfig {
	return config.NormalizeConfig{CanonicalCurrency: "NGN", MaxBedrooms: 20, MaxBathrooms: 20, MaxToilets: 20}
}

func byURL(records []models.PropertyRecord) map[string]models.PropertyRecord {
	out := make(map[string]models.PropertyRecord, len(records))
	for _, r := range records {
		out[strings.TrimPrefix(r.ListingURL, host)] = r
	}
	return out
}

func TestPipeline_Run(t *testing.T) {
	factory := newFakeFactory(testPages())
	counter := telemetry.NewCounter()
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	p, err := NewPipeline(testSite(), Deps{
		Factory:   factory,
		Normalize: testNormalize(),
		Events:    counter,
		Now:       func() time.Time { return at },
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	records, stats, err := p.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	got := byURL(records)

	flat, ok := got["/property/100001-3-bedroom-flat-lekki"]
	if !ok {
		t.Fatalf("expected the lekki flat, got %v", got)
	}
	if flat.Text(models.FieldDescription) != "Spacious flat close to the expressway." {
		t.Fatalf("expected description from the detail page, got %q", flat.Text(models.FieldDescription))
	}
	if beds, _ := flat.Int(models.FieldBedrooms); beds != 3 {
		t.Fatalf("expected 3 bedrooms from the title, got %d", beds)
	}
	if flat.EnrichmentError != "" || flat.ClassificationUnknown {
		t.Fatalf("expected a clean record, got %+v", flat)
	}
	if !flat.ScrapeTimestamp.Equal(at) {
		t.Fatalf("expected scrape time %v, got %v", at, flat.ScrapeTimestamp)
	}

	duplex := got["/property/100002-5-bedroom-duplex-lekki"]
	if duplex.EnrichmentError == "" {
		t.Fatalf("expected an enrichment error for the missing detail page")
	}
	if !duplex.Has(models.FieldPrice) {
		t.Fatalf("expected list page fields kept after failed enrichment")
	}

	house := got["/listing/house-a1"]
	if !house.ClassificationUnknown {
		t.Fatalf("expected unclassifiable listing to be flagged")
	}
	if house.Text(models.FieldDescription) == "" {
		t.Fatalf("expected flagged listing to be enriched too")
	}

	if _, ok := got["/for-sale/flats/lagos"]; ok {
		t.Fatalf("expected category link to be rejected")
	}
	if stats.CandidatesRejected != 1 || counter.Sum(models.EventCandidatesRejected) != 1 {
		t.Fatalf("expected 1 rejected candidate, got %d", stats.CandidatesRejected)
	}
	if stats.ListingPages != 3 {
		t.Fatalf("expected 3 listing pages (lekki x2, ikeja), got %d", stats.ListingPages)
	}
	if stats.CandidatesFound != 3 || counter.Sum(models.EventCandidatesFound) != 3 {
		t.Fatalf("expected 3 candidates, got %d", stats.CandidatesFound)
	}
	if stats.PageErrors != 1 {
		t.Fatalf("expected the ikoyi failure to be counted, got %d", stats.PageErrors)
	}
	if stats.EnrichmentFailed != 1 {
		t.Fatalf("expected 1 failed detail fetch, got %d", stats.EnrichmentFailed)
	}
	// seed, lekki, ikeja during discovery plus lekki page 2
	if stats.PagesVisited != 4 {
		t.Fatalf("expected 4 pages visited, got %d", stats.PagesVisited)
	}
	if n := factory.count(host + "/for-sale/lagos/lekki"); n != 1 {
		t.Fatalf("expected listing page fetched once thanks to the cache, got %d", n)
	}
}

func TestPipeline_EventsAreScoped(t *testing.T) {
	counter := telemetry.NewCounter()
	p, err := NewPipeline(testSite(), Deps{
		Factory:   newFakeFactory(testPages()),
		Normalize: testNormalize(),
		Events:    counter,
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	if _, _, err := p.Run(context.Background(), "run-7"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, ev := range counter.Events() {
		if ev.SiteKey != "example" || ev.RunID != "run-7" {
			t.Fatalf("expected event scoped to site and run, got %+v", ev)
		}
	}
}

func TestPipeline_PaginationBounded(t *testing.T) {
	pages := testPages()
	// page 2 links on to page 3, which must not be visited with max_pages 2
	pages[host+"/for-sale/lagos/lekki?page=2"] = page([]card{
		{"/property/100002-5-bedroom-duplex-lekki", "5 Bedroom Duplex", "₦ 150,000,000", "Lekki Phase 1, Lagos"},
	}, `<a class="next" href="/for-sale/lagos/lekki?page=3">Next</a>`)
	pages[host+"/for-sale/lagos/lekki?page=3"] = page([]card{
		{"/property/100003-2-bedroom-flat-lekki", "2 Bedroom Flat", "₦ 30,000,000", "Lekki, Lagos"},
	}, "")

	site := testSite()
	site.MaxPages = 2
	factory := newFakeFactory(pages)
	p, err := NewPipeline(site, Deps{Factory: factory, Normalize: testNormalize()})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	records, _, err := p.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, ok := byURL(records)["/property/100003-2-bedroom-flat-lekki"]; ok {
		t.Fatalf("expected page 3 to be beyond max_pages")
	}
	if factory.count(host+"/for-sale/lagos/lekki?page=3") != 0 {
		t.Fatalf("expected page 3 never fetched")
	}
}

func TestPipeline_GenericFallbackKeepsOnlyProperties(t *testing.T) {
	site := testSite()
	site.Seeds = []string{host + "/for-sale/lagos/ajah"}
	pages := map[string]string{
		host + "/for-sale/lagos/ajah": `<html><body>
			<a href="/property/100003-4-bedroom-terrace-ajah">4 Bedroom Terrace</a>
			<a href="/listing/house-b2">Mini house</a>
			<a href="/about">About us</a>
		</body></html>`,
	}

	p, err := NewPipeline(site, Deps{Factory: newFakeFactory(pages), Normalize: testNormalize()})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	records, stats, err := p.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := byURL(records)
	if len(got) != 1 {
		t.Fatalf("expected only the property link, got %v", got)
	}
	if _, ok := got["/property/100003-4-bedroom-terrace-ajah"]; !ok {
		t.Fatalf("expected the terrace listing, got %v", got)
	}
	if _, ok := got["/listing/house-b2"]; ok {
		t.Fatalf("expected unclassified links from the generic selector to be dropped")
	}
	if stats.CandidatesFound != 1 || stats.CandidatesRejected != 1 {
		t.Fatalf("expected 1 found and 1 rejected, got %d and %d", stats.CandidatesFound, stats.CandidatesRejected)
	}
}

func TestPipeline_ConfigurationMissing(t *testing.T) {
	site := testSite()
	site.SelectorConfig.Cards = nil

	_, err := NewPipeline(site, Deps{Factory: newFakeFactory(nil)})
	if !errors.Is(err, config.ErrConfigurationMissing) {
		t.Fatalf("expected configuration missing, got %v", err)
	}
	var cme *config.ConfigurationMissingError
	if !errors.As(err, &cme) || cme.Site != "example" {
		t.Fatalf("expected typed error for site example, got %v", err)
	}
}

func TestPipeline_AllSeedsFail(t *testing.T) {
	site := testSite()
	site.Seeds = []string{host + "/nowhere", host + "/also-nowhere"}

	p, err := NewPipeline(site, Deps{Factory: newFakeFactory(testPages()), Normalize: testNormalize()})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	_, stats, err := p.Run(context.Background(), "run-1")
	if err == nil {
		t.Fatalf("expected an error when no seed can be fetched")
	}
	if stats.SeedsFailed != 2 {
		t.Fatalf("expected 2 failed seeds, got %d", stats.SeedsFailed)
	}
}

func TestPipeline_OneSeedFails(t *testing.T) {
	site := testSite()
	site.Seeds = append([]string{host + "/nowhere"}, site.Seeds...)

	p, err := NewPipeline(site, Deps{Factory: newFakeFactory(testPages()), Normalize: testNormalize()})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	records, stats, err := p.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("expected the remaining seed to carry the run, got %v", err)
	}
	if stats.SeedsFailed != 1 || len(records) != 3 {
		t.Fatalf("expected 1 failed seed and 3 records, got %d and %d", stats.SeedsFailed, len(records))
	}
}

func TestPipeline_Canceled(t *testing.T) {
	p, err := NewPipeline(testSite(), Deps{Factory: newFakeFactory(testPages()), Normalize: testNormalize()})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := p.Run(ctx, "run-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
