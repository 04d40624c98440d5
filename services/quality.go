package services

import (
	"math"
	"unicode/utf8"

	"listing_scrooper/models"
)

// Weights assigns each completeness signal its share of the score. They are
// expected to sum to 1.
type Weights struct {
	Price       float64
	Bedrooms    float64
	Location    float64
	Description float64
	Images      float64
}

var DefaultWeights = Weights{
	Price:       0.25,
	Bedrooms:    0.20,
	Location:    0.20,
	Description: 0.20,
	Images:      0.15,
}

const (
	DefaultMinDescriptionLen = 50
	DefaultUnknownPenalty    = 0.8
	DefaultQualityThreshold  = 0.3
)

// Scorer rates a record's completeness in [0,1]. It is a pure function of
// which fields are present.
type Scorer struct {
	Weights           Weights
	MinDescriptionLen int
	// UnknownPenalty scales the score of records whose URL the classifier
	// could not place.
	UnknownPenalty float64
}

func NewScorer() *Scorer {
	return &Scorer{
		Weights:           DefaultWeights,
		MinDescriptionLen: DefaultMinDescriptionLen,
		UnknownPenalty:    DefaultUnknownPenalty,
	}
}

func (s *Scorer) Score(rec models.PropertyRecord) float64 {
	w := s.Weights
	score := 0.0
	if rec.Has(models.FieldPrice) {
		score += w.Price
	}
	if rec.Has(models.FieldBedrooms) {
		score += w.Bedrooms
	}
	if rec.Has(models.FieldLocation) {
		score += w.Location
	}
	if utf8.RuneCountInString(rec.Text(models.FieldDescription)) >= s.MinDescriptionLen {
		score += w.Description
	}
	if len(rec.List(models.FieldImages)) > 0 {
		score += w.Images
	}
	if rec.ClassificationUnknown && s.UnknownPenalty > 0 {
		score *= s.UnknownPenalty
	}
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*10000) / 10000
}

func (s *Scorer) Passes(rec models.PropertyRecord, threshold float64) bool {
	return rec.QualityScore >= threshold
}

// FilterByQuality keeps records scoring at or above threshold, in order.
func (s *Scorer) FilterByQuality(records []models.PropertyRecord, threshold float64) []models.PropertyRecord {
	out := make([]models.PropertyRecord, 0, len(records))
	for _, rec := range records {
		if s.Passes(rec, threshold) {
			out = append(out, rec)
		}
	}
	return out
}
