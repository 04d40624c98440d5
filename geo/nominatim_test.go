package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"listing_scrooper/models"
)

func newTestNominatim(t *testing.T) (*Nominatim, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if r.Header.Get("User-Agent") == "" {
			http.Error(w, "missing user agent", http.StatusForbidden)
			return
		}
		switch r.URL.Query().Get("q") {
		case "Lekki Phase 1, Lagos":
			w.Write([]byte(`[{"lat":"6.4478","lon":"3.4723","display_name":"Lekki Phase 1"}]`))
		case "boom":
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		default:
			w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(srv.Close)
	return NewNominatim(srv.Client(), srv.URL, "ops@example.ng", rate.NewLimiter(rate.Inf, 1)), &calls
}

func TestGeocode(t *testing.T) {
	n, calls := newTestNominatim(t)

	lat, lng, ok, err := n.Geocode(context.Background(), "Lekki Phase 1, Lagos")
	if err != nil || !ok {
		t.Fatalf("expected a match, got ok=%v err=%v", ok, err)
	}
	if !lat.Equal(decimal.RequireFromString("6.4478")) || !lng.Equal(decimal.RequireFromString("3.4723")) {
		t.Fatalf("unexpected coordinates %s,%s", lat, lng)
	}

	n.Geocode(context.Background(), "lekki phase 1, lagos ")
	if calls.Load() != 1 {
		t.Fatalf("expected cached lookup, got %d calls", calls.Load())
	}

	_, _, ok, err = n.Geocode(context.Background(), "Nowhere")
	if err != nil || ok {
		t.Fatalf("expected no match without error, got ok=%v err=%v", ok, err)
	}

	if _, _, _, err := n.Geocode(context.Background(), "boom"); err == nil {
		t.Fatalf("expected error for 503")
	}
}

func TestFillCoordinates(t *testing.T) {
	n, _ := newTestNominatim(t)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	withLoc := models.PropertyRecord{Fields: map[string]models.Value{
		models.FieldLocation: models.TextValue("Lekki Phase 1, Lagos", at),
	}}
	unknown := models.PropertyRecord{Fields: map[string]models.Value{
		models.FieldLocation: models.TextValue("Nowhere", at),
	}}
	noLoc := models.PropertyRecord{Fields: map[string]models.Value{}}
	original := withLoc.Clone()

	records := []models.PropertyRecord{withLoc, unknown, noLoc}
	if got := FillCoordinates(context.Background(), n, records); got != 1 {
		t.Fatalf("expected 1 record geocoded, got %d", got)
	}
	if !records[0].Has(models.FieldLatitude) || !records[0].Has(models.FieldLongitude) {
		t.Fatalf("expected coordinates on the first record")
	}
	if records[1].Has(models.FieldLatitude) || records[2].Has(models.FieldLatitude) {
		t.Fatalf("expected no coordinates on the others")
	}
	if !withLoc.Equal(original) {
		t.Fatalf("caller's record map was mutated")
	}
}
