package services

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"listing_scrooper/models"
)

func scoredRecord(fields ...string) models.PropertyRecord {
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rec := models.PropertyRecord{SiteKey: "npc"}
	for _, f := range fields {
		switch f {
		case models.FieldPrice:
			rec.Set(f, models.DecimalValue(decimal.NewFromInt(1_000_000), at))
		case models.FieldBedrooms:
			rec.Set(f, models.IntValue(3, at))
		case models.FieldImages:
			rec.Set(f, models.ListValue([]string{"https://img/1.jpg"}, at))
		case models.FieldDescription:
			rec.Set(f, models.TextValue(strings.Repeat("spacious ", 8), at))
		default:
			rec.Set(f, models.TextValue("Lekki, Lagos", at))
		}
	}
	return rec
}

func TestScore(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		name   string
		fields []string
		want   float64
	}{
		{"empty", nil, 0},
		{"price only", []string{models.FieldPrice}, 0.25},
		{"price and location", []string{models.FieldPrice, models.FieldLocation}, 0.45},
		{"complete", []string{models.FieldPrice, models.FieldBedrooms, models.FieldLocation, models.FieldDescription, models.FieldImages}, 1},
	}
	for _, tt := range tests {
		if got := s.Score(scoredRecord(tt.fields...)); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestScore_ShortDescriptionDoesNotCount(t *testing.T) {
	rec := scoredRecord(models.FieldPrice)
	rec.Set(models.FieldDescription, models.TextValue("Nice flat.", time.Now()))
	if got := NewScorer().Score(rec); got != 0.25 {
		t.Fatalf("expected 0.25, got %v", got)
	}
}

func TestScore_UnknownPenalty(t *testing.T) {
	rec := scoredRecord(models.FieldPrice, models.FieldBedrooms, models.FieldLocation, models.FieldDescription, models.FieldImages)
	rec.ClassificationUnknown = true
	if got := NewScorer().Score(rec); got != 0.8 {
		t.Fatalf("expected unknown record scaled to 0.8, got %v", got)
	}
}

func TestFilterByQuality(t *testing.T) {
	s := NewScorer()
	low := scoredRecord(models.FieldLocation)
	high := scoredRecord(models.FieldPrice, models.FieldLocation)
	low.QualityScore = s.Score(low)
	high.QualityScore = s.Score(high)

	got := s.FilterByQuality([]models.PropertyRecord{low, high}, DefaultQualityThreshold)
	if len(got) != 1 || got[0].QualityScore != 0.45 {
		t.Fatalf("expected only the 0.45 record to pass, got %+v", got)
	}

	if got := s.FilterByQuality([]models.PropertyRecord{low}, 0.2); len(got) != 1 {
		t.Fatalf("expected score equal to threshold to pass")
	}
}
