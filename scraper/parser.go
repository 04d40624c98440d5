package scraper

import (
	"listing_scrooper/config"
)

// Parser is everything the pipeline needs to know about a site's markup.
// Sites differ only in this data; there are no per-site code paths.
type Parser interface {
	SiteKey() string
	Selectors() config.Selectors
	Discovery() config.DiscoveryConfig
}

var _ Parser = (*config.SiteConfig)(nil)
