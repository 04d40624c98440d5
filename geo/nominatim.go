// Package geo resolves listing locations to coordinates through Nominatim.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"listing_scrooper/models"
)

const DefaultBaseURL = "https://nominatim.openstreetmap.org"

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type point struct {
	lat, lng decimal.Decimal
	ok       bool
}

// Nominatim is safe for concurrent use. Lookups are cached per instance,
// since many listings share a neighbourhood string.
type Nominatim struct {
	client    *http.Client
	baseURL   string
	email     string
	userAgent string
	limiter   *rate.Limiter

	mu    sync.Mutex
	cache map[string]point
}

// NewNominatim uses limiter to respect the service's one request per second
// policy; nil means that default.
func NewNominatim(client *http.Client, baseURL, email string, limiter *rate.Limiter) *Nominatim {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	return &Nominatim{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		email:     email,
		userAgent: "listing-scrooper/1.0 (property listing aggregator)",
		limiter:   limiter,
		cache:     make(map[string]point),
	}
}

// Geocode returns ok=false with a nil error when the query has no match.
func (n *Nominatim) Geocode(ctx context.Context, query string) (lat, lng decimal.Decimal, ok bool, err error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return decimal.Zero, decimal.Zero, false, nil
	}

	n.mu.Lock()
	p, cached := n.cache[key]
	n.mu.Unlock()
	if cached {
		return p.lat, p.lng, p.ok, nil
	}

	p, err = n.lookup(ctx, query)
	if err != nil {
		return decimal.Zero, decimal.Zero, false, err
	}

	n.mu.Lock()
	n.cache[key] = p
	n.mu.Unlock()
	return p.lat, p.lng, p.ok, nil
}

func (n *Nominatim) lookup(ctx context.Context, query string) (point, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return point{}, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	if n.email != "" {
		params.Set("email", n.email)
	}
	reqURL := fmt.Sprintf("%s/search?%s", n.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return point{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return point{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return point{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return point{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(results) == 0 {
		return point{}, nil
	}

	lat, err := decimal.NewFromString(results[0].Lat)
	if err != nil {
		return point{}, fmt.Errorf("failed to parse latitude: %w", err)
	}
	lng, err := decimal.NewFromString(results[0].Lon)
	if err != nil {
		return point{}, fmt.Errorf("failed to parse longitude: %w", err)
	}
	return point{lat: lat, lng: lng, ok: true}, nil
}

// Geocoder is what FillCoordinates needs from Nominatim.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (lat, lng decimal.Decimal, ok bool, err error)
}

// FillCoordinates sets latitude and longitude on records that have a
// location but no coordinates. Lookup failures are logged and skipped.
// It returns how many records gained coordinates.
func FillCoordinates(ctx context.Context, g Geocoder, records []models.PropertyRecord) int {
	filled := 0
	for i := range records {
		rec := &records[i]
		loc := rec.Text(models.FieldLocation)
		if loc == "" || rec.Has(models.FieldLatitude) || rec.Has(models.FieldLongitude) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		lat, lng, ok, err := g.Geocode(ctx, loc)
		if err != nil {
			log.Printf("Warning: geocode %q: %v", loc, err)
			continue
		}
		if !ok {
			continue
		}
		*rec = rec.Clone()
		rec.Set(models.FieldLatitude, models.DecimalValue(lat, rec.ScrapeTimestamp))
		rec.Set(models.FieldLongitude, models.DecimalValue(lng, rec.ScrapeTimestamp))
		filled++
	}
	return filled
}
