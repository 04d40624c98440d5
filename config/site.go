package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfigurationMissing marks a site that cannot be scraped because it has
// no selector configuration. It is fatal for that site only.
var ErrConfigurationMissing = errors.New("configuration missing")

type ConfigurationMissingError struct {
	Site   string
	Reason string
}

func (e *ConfigurationMissingError) Error() string {
	return fmt.Sprintf("site %s: %s: %s", e.Site, ErrConfigurationMissing, e.Reason)
}

func (e *ConfigurationMissingError) Unwrap() error {
	return ErrConfigurationMissing
}

// Fetcher kinds.
const (
	FetcherHTTP       = "http"
	FetcherPlaywright = "playwright"
	FetcherChromedp   = "chromedp"
)

const (
	DefaultMaxExpansions    = 50
	DefaultMinLocationLinks = 3
	DefaultMaxConcurrent    = 5
	DefaultMaxPages         = 5
	DefaultDetailTimeout    = 30 * time.Second
	DefaultRetryDelay       = 2 * time.Second
)

// SiteConfig describes one site entirely as data. Every site goes through the
// same pipeline; there is no per-site code.
type SiteConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Fetcher     string   `yaml:"fetcher"`
	RateLimitMS int      `yaml:"rate_limit_ms"`
	Currency    string   `yaml:"currency"`
	MaxPages    int      `yaml:"max_pages"`
	Geocode     bool     `yaml:"geocode"`
	Seeds       []string `yaml:"seeds"`

	SelectorConfig   Selectors        `yaml:"selectors"`
	DiscoveryConfig  DiscoveryConfig  `yaml:"discovery"`
	ClassifierConfig ClassifierConfig `yaml:"classifier"`
	EnrichmentConfig EnrichmentConfig `yaml:"enrichment"`
}

type Selectors struct {
	// Cards are tried in order; the first one matching anything wins.
	Cards      []string        `yaml:"cards"`
	WaitFor    string          `yaml:"wait_for"`
	CardFields CardFields      `yaml:"card_fields"`
	Detail     DetailSelectors `yaml:"detail"`
	NextPage   []string        `yaml:"next_page"`
}

// CardFields are evaluated relative to each card element.
type CardFields struct {
	Title     []string `yaml:"title"`
	Price     []string `yaml:"price"`
	Location  []string `yaml:"location"`
	Bedrooms  []string `yaml:"bedrooms"`
	Bathrooms []string `yaml:"bathrooms"`
	Image     []string `yaml:"image"`
}

type DetailSelectors struct {
	WaitFor      string   `yaml:"wait_for"`
	Title        []string `yaml:"title"`
	Price        []string `yaml:"price"`
	Location     []string `yaml:"location"`
	Bedrooms     []string `yaml:"bedrooms"`
	Bathrooms    []string `yaml:"bathrooms"`
	Toilets      []string `yaml:"toilets"`
	PropertyType []string `yaml:"property_type"`
	Description  []string `yaml:"description"`
	Images       []string `yaml:"images"`
	AgentName    []string `yaml:"agent_name"`
	AgentPhone   []string `yaml:"agent_phone"`
	AgentEmail   []string `yaml:"agent_email"`
}

type DiscoveryConfig struct {
	MaxExpansions        int      `yaml:"max_expansions"`
	MinLocationLinks     int      `yaml:"min_location_links"`
	LocationLinkPatterns []string `yaml:"location_link_patterns"`
	SkipPatterns         []string `yaml:"skip_patterns"`
}

type ClassifierConfig struct {
	DenyPatterns    []string `yaml:"deny_patterns"`
	AllowPatterns   []string `yaml:"allow_patterns"`
	ListingIDParams []string `yaml:"listing_id_params"`
}

type EnrichmentConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	Cap           int           `yaml:"cap"` // 0 means unlimited
	Timeout       time.Duration `yaml:"timeout"`
	Retries       int           `yaml:"retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

func (s *SiteConfig) SiteKey() string            { return s.ID }
func (s *SiteConfig) Selectors() Selectors       { return s.SelectorConfig }
func (s *SiteConfig) Discovery() DiscoveryConfig { return s.DiscoveryConfig }

func (s *SiteConfig) withDefaults() {
	if s.Name == "" {
		s.Name = s.ID
	}
	if s.Fetcher == "" {
		s.Fetcher = FetcherHTTP
	}
	if s.MaxPages <= 0 {
		s.MaxPages = DefaultMaxPages
	}
	d := &s.DiscoveryConfig
	if d.MaxExpansions <= 0 {
		d.MaxExpansions = DefaultMaxExpansions
	}
	if d.MinLocationLinks <= 0 {
		d.MinLocationLinks = DefaultMinLocationLinks
	}
	e := &s.EnrichmentConfig
	if e.MaxConcurrent <= 0 {
		e.MaxConcurrent = DefaultMaxConcurrent
	}
	if e.Cap < 0 {
		e.Cap = 0
	}
	if e.Timeout <= 0 {
		e.Timeout = DefaultDetailTimeout
	}
	if e.Retries < 0 {
		e.Retries = 0
	}
	if e.Retries > 2 {
		e.Retries = 2
	}
	if e.RetryDelay <= 0 {
		e.RetryDelay = DefaultRetryDelay
	}
}

// Validate reports ConfigurationMissing when the site has nothing to scrape
// with. Running it against the generic fallback alone would silently crawl
// every anchor on the page.
func (s *SiteConfig) Validate() error {
	if len(s.SelectorConfig.Cards) == 0 {
		return &ConfigurationMissingError{Site: s.ID, Reason: "no card selectors configured"}
	}
	if len(s.Seeds) == 0 {
		return &ConfigurationMissingError{Site: s.ID, Reason: "no seed urls configured"}
	}
	switch s.Fetcher {
	case FetcherHTTP, FetcherPlaywright, FetcherChromedp:
	default:
		return fmt.Errorf("site %s: unknown fetcher %q", s.ID, s.Fetcher)
	}
	return nil
}
