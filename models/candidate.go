package models

import "time"

// Raw field keys produced by card and detail extraction.
const (
	RawTitle        = "title"
	RawPrice        = "price"
	RawLocation     = "location"
	RawBedrooms     = "bedrooms"
	RawBathrooms    = "bathrooms"
	RawToilets      = "toilets"
	RawPropertyType = "property_type"
	RawDescription  = "description"
	RawImage        = "image"
	RawAgentName    = "agent_name"
	RawAgentPhone   = "agent_phone"
	RawAgentEmail   = "agent_email"
)

// ListingCandidate is an unvalidated card pulled off a list page.
// ListingURL is always an absolute URL read from the card's own anchor.
type ListingCandidate struct {
	SourceURL  string            `json:"source_url"`
	ListingURL string            `json:"listing_url"`
	RawFields  map[string]string `json:"raw_fields"`
}

// RawListing is the input to normalization: text as scraped plus image URLs.
type RawListing struct {
	SiteKey    string            `json:"site_key"`
	ListingURL string            `json:"listing_url"`
	SourceURL  string            `json:"source_url"`
	Fields     map[string]string `json:"fields"`
	Images     []string          `json:"images"`
	ScrapedAt  time.Time         `json:"scraped_at"`

	// Unknown is set when the URL classifier could not decide.
	Unknown bool `json:"unknown"`
}
