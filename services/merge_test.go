package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"listing_scrooper/models"
)

var (
	t1 = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 1, 8, 8, 0, 0, 0, time.UTC)
	t3 = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
)

// sameIdentity builds records sharing title, price and location so they
// hash identically, varying everything else.
func sameIdentity(at time.Time, url string, extra map[string]models.Value) models.PropertyRecord {
	rec := models.PropertyRecord{
		SiteKey:         "npc",
		ListingURL:      url,
		ScrapeTimestamp: at,
		Fields: map[string]models.Value{
			models.FieldTitle:    models.TextValue("3 Bed Flat, Lekki", at),
			models.FieldPrice:    models.DecimalValue(decimal.NewFromInt(2_500_000), at),
			models.FieldLocation: models.TextValue("Lekki, Lagos", at),
		},
	}
	for k, v := range extra {
		rec.Fields[k] = v
	}
	Finalize(&rec, NewScorer())
	return rec
}

func fixtureRecords() []models.PropertyRecord {
	a := sameIdentity(t1, "https://npc.ng/p/1", map[string]models.Value{
		models.FieldBedrooms:    models.IntValue(3, t1),
		models.FieldDescription: models.TextValue("Short description.", t1),
	})
	a.EnrichmentError = "timeout"

	b := sameIdentity(t3, "https://npc.ng/p/1?ref=2", map[string]models.Value{
		models.FieldBedrooms:  models.IntValue(4, t3),
		models.FieldBathrooms: models.IntValue(3, t3),
		models.FieldImages:    models.ListValue([]string{"https://img/1.jpg"}, t3),
	})
	b.ClassificationUnknown = true

	c := sameIdentity(t2, "https://npc.ng/p/1", map[string]models.Value{
		models.FieldDescription: models.TextValue("A much longer description of the flat with a swimming pool and gym.", t2),
		models.FieldImages:      models.ListValue([]string{"https://img/1.jpg", "https://img/2.jpg"}, t2),
		models.FieldToilets:     models.IntValue(4, t2),
	})
	c.EnrichmentError = "navigation failed"

	return []models.PropertyRecord{a, b, c}
}

func TestMerge_Idempotent(t *testing.T) {
	m := NewMerger(nil)
	for i, r := range fixtureRecords() {
		if got := m.Merge(r, r); !got.Equal(r) {
			t.Fatalf("record %d: merge(r, r) != r: %+v vs %+v", i, got, r)
		}
	}
}

func TestMerge_AssociativeAndCommutative(t *testing.T) {
	m := NewMerger(nil)
	recs := fixtureRecords()
	a, b, c := recs[0], recs[1], recs[2]

	left := m.Merge(m.Merge(a, b), c)
	right := m.Merge(a, m.Merge(b, c))
	if !left.Equal(right) {
		t.Fatalf("merge is not associative:\n%+v\n%+v", left, right)
	}

	orders := [][3]models.PropertyRecord{
		{a, b, c}, {a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a},
	}
	for i, o := range orders {
		got := m.Merge(m.Merge(o[0], o[1]), o[2])
		if !got.Equal(left) {
			t.Fatalf("order %d produced a different record", i)
		}
	}
}

func TestMerge_FieldRules(t *testing.T) {
	m := NewMerger(nil)
	recs := fixtureRecords()
	got := m.Merge(m.Merge(recs[0], recs[1]), recs[2])

	if beds, _ := got.Int(models.FieldBedrooms); beds != 4 {
		t.Fatalf("expected newest bedrooms 4, got %d", beds)
	}
	if got.Text(models.FieldDescription) != recs[2].Text(models.FieldDescription) {
		t.Fatalf("expected longer description to win, got %q", got.Text(models.FieldDescription))
	}
	if len(got.List(models.FieldImages)) != 2 {
		t.Fatalf("expected longer image list to win, got %v", got.List(models.FieldImages))
	}
	if toilets, ok := got.Int(models.FieldToilets); !ok || toilets != 4 {
		t.Fatalf("expected toilets kept from the only record that had them")
	}
	if baths, ok := got.Int(models.FieldBathrooms); !ok || baths != 3 {
		t.Fatalf("expected bathrooms kept from the only record that had them")
	}
	if !got.ScrapeTimestamp.Equal(t3) {
		t.Fatalf("expected latest scrape timestamp, got %v", got.ScrapeTimestamp)
	}
	if got.ListingURL != "https://npc.ng/p/1?ref=2" {
		t.Fatalf("expected listing url from newest record, got %s", got.ListingURL)
	}
	if got.ClassificationUnknown {
		t.Fatalf("expected classified record to clear the unknown flag")
	}
	if got.EnrichmentError != "" {
		t.Fatalf("expected enrichment error cleared by the clean record, got %q", got.EnrichmentError)
	}
	if got.IdentityHash != recs[0].IdentityHash {
		t.Fatalf("expected identity hash to be stable")
	}
}

func TestMerge_AbsentNeverOverwritesPresent(t *testing.T) {
	m := NewMerger(nil)
	older := sameIdentity(t1, "https://npc.ng/p/1", map[string]models.Value{
		models.FieldAgentPhone: models.TextValue("+2348012345678", t1),
	})
	newer := sameIdentity(t2, "https://npc.ng/p/1", nil)

	got := m.Merge(older, newer)
	if got.Text(models.FieldAgentPhone) != "+2348012345678" {
		t.Fatalf("expected phone to survive a newer record without it")
	}
}

func TestConflicts(t *testing.T) {
	a := sameIdentity(t1, "u", map[string]models.Value{models.FieldBedrooms: models.IntValue(2, t1)})
	b := sameIdentity(t2, "u", map[string]models.Value{models.FieldBedrooms: models.IntValue(6, t2)})

	got := Conflicts(a, b, DefaultConflictRatio)
	if len(got) != 1 || got[0] != models.FieldBedrooms {
		t.Fatalf("expected bedrooms conflict, got %v", got)
	}

	c := sameIdentity(t2, "u", map[string]models.Value{models.FieldBedrooms: models.IntValue(3, t2)})
	if got := Conflicts(a, c, DefaultConflictRatio); len(got) != 0 {
		t.Fatalf("expected no conflict for a small difference, got %v", got)
	}
}
