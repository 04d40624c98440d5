// Package discovery walks a site's location directories breadth-first,
// starting from a seed, until it reaches pages that list properties.
package discovery

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"

	"listing_scrooper/classifier"
	"listing_scrooper/config"
	"listing_scrooper/extractor"
	"listing_scrooper/fetch"
	"listing_scrooper/models"
	"listing_scrooper/telemetry"
)

type Discoverer struct {
	fetcher    fetch.Fetcher
	classifier *classifier.Classifier
	site       string
	selectors  config.Selectors
	minLinks   int
	expansions int
	patterns   []*regexp.Regexp
	skip       []*regexp.Regexp
	events     telemetry.Sink
}

func New(fetcher fetch.Fetcher, cls *classifier.Classifier, cfg config.SiteConfig, events telemetry.Sink) (*Discoverer, error) {
	disc := cfg.Discovery()
	patterns, err := compile(disc.LocationLinkPatterns)
	if err != nil {
		return nil, fmt.Errorf("location link patterns: %w", err)
	}
	skip, err := compile(disc.SkipPatterns)
	if err != nil {
		return nil, fmt.Errorf("skip patterns: %w", err)
	}
	if events == nil {
		events = telemetry.Discard
	}

	d := &Discoverer{
		fetcher:    fetcher,
		classifier: cls,
		site:       cfg.SiteKey(),
		selectors:  cfg.Selectors(),
		minLinks:   disc.MinLocationLinks,
		expansions: disc.MaxExpansions,
		patterns:   patterns,
		skip:       skip,
		events:     events,
	}
	if d.minLinks <= 0 {
		d.minLinks = config.DefaultMinLocationLinks
	}
	if d.expansions <= 0 {
		d.expansions = config.DefaultMaxExpansions
	}
	return d, nil
}

// Discover returns listing page URLs reachable from seed, in the order they
// were found. Every fetched page consumes one expansion, so the result never
// holds more than maxExpansions URLs. Running out of budget returns the
// partial result without error; only a failed seed fetch is an error.
// A non-positive maxExpansions uses the site's configured budget.
func (d *Discoverer) Discover(ctx context.Context, seed string, maxExpansions int) ([]string, error) {
	if maxExpansions <= 0 {
		maxExpansions = d.expansions
	}

	queue := []models.DirectoryNode{{URL: seed, Depth: 0}}
	visited := map[string]bool{NormalizeURL(seed): true}
	var listings []string
	used := 0

	for len(queue) > 0 && used < maxExpansions {
		if err := ctx.Err(); err != nil {
			return listings, err
		}

		node := queue[0]
		queue = queue[1:]
		used++

		page, err := d.fetcher.Fetch(ctx, node.URL, fetch.Options{WaitForSelector: d.selectors.WaitFor})
		if err != nil {
			if ctx.Err() != nil {
				return listings, ctx.Err()
			}
			if node.Depth == 0 {
				return nil, fmt.Errorf("fetch seed %s: %w", node.URL, err)
			}
			d.events.Emit(models.Event{
				Type:    models.EventPageFetchFailed,
				Level:   models.LogLevelWarn,
				SiteKey: d.site,
				URL:     node.URL,
				Message: err.Error(),
			})
			continue
		}

		classified := d.Classify(page.HTML, node.URL)
		switch classified.Kind {
		case models.PageListing:
			listings = append(listings, node.URL)

		case models.PageDirectory:
			// Never queue more than the budget can still fetch.
			room := maxExpansions - used - len(queue)
			added := 0
			for _, child := range classified.ChildURLs {
				if added >= room {
					break
				}
				key := NormalizeURL(child)
				if visited[key] {
					continue
				}
				visited[key] = true
				queue = append(queue, models.DirectoryNode{URL: child, Depth: node.Depth + 1})
				added++
			}
			d.events.Emit(models.Event{
				Type:    models.EventDirectoryExpanded,
				Level:   models.LogLevelInfo,
				SiteKey: d.site,
				URL:     node.URL,
				Count:   added,
				Message: fmt.Sprintf("depth %d, %d location links", node.Depth, len(classified.ChildURLs)),
			})

		default:
			d.events.Emit(models.Event{
				Type:    models.EventExtractionEmpty,
				Level:   models.LogLevelDebug,
				SiteKey: d.site,
				URL:     node.URL,
				Message: "no listings or location links",
			})
		}
	}

	if len(queue) > 0 {
		log.Printf("[%s] %s: expansion budget of %d exhausted with %d pages queued", models.LogLevelInfo, d.site, maxExpansions, len(queue))
	}
	return listings, nil
}

// Classify decides what kind of page html is. Property cards make it a
// listing page regardless of any location links; otherwise enough location
// links make it a directory. Cards the classifier cannot place still count as
// listings when they came from a configured selector.
func (d *Discoverer) Classify(html, pageURL string) models.DirectoryNode {
	node := models.DirectoryNode{URL: pageURL, Kind: models.PageUnknown}

	page, err := extractor.Parse(html, pageURL)
	if err != nil {
		return node
	}

	unknown := 0
	if cards, err := page.Cards(d.selectors.Cards, d.selectors.CardFields); err == nil {
		for _, c := range cards.Candidates {
			switch d.classifier.Classify(c.ListingURL) {
			case classifier.Property:
				node.Kind = models.PageListing
				return node
			case classifier.Unknown:
				if !cards.Fallback {
					unknown++
				}
			}
		}
	}

	links := d.locationLinks(page, pageURL)
	if len(links) >= d.minLinks {
		node.Kind = models.PageDirectory
		node.IsLocationDirectory = true
		node.ChildURLs = links
		return node
	}

	if unknown > 0 {
		node.Kind = models.PageListing
	}
	return node
}

// locationLinks drops site navigation (/about, /blog, /login) so it never
// counts toward the directory threshold.
func (d *Discoverer) locationLinks(page *extractor.Page, pageURL string) []string {
	var out []string
	for _, link := range page.LocationLinks(d.locationPatterns(pageURL), d.skip) {
		if !classifier.IsNavigation(link) {
			out = append(out, link)
		}
	}
	return out
}

// locationPatterns falls back to "direct children of this page's path" when
// the site configures no location link patterns.
func (d *Discoverer) locationPatterns(pageURL string) []*regexp.Regexp {
	if len(d.patterns) > 0 {
		return d.patterns
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	path := strings.TrimRight(strings.ToLower(u.Path), "/")
	return []*regexp.Regexp{regexp.MustCompile(`^` + regexp.QuoteMeta(path) + `/[^/]+/?$`)}
}

// NormalizeURL is the visited-set key: lower-case scheme and host, no
// fragment, no trailing slash. The query is kept.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

func compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
