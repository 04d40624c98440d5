package services

import (
	"cmp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"listing_scrooper/models"
)

// DefaultConflictRatio is the relative difference above which two numeric
// values for the same property are reported as a merge conflict.
const DefaultConflictRatio = 0.5

// Merger combines records that share an identity. Every rule is an argmax
// over a total order, so Merge is idempotent, commutative and associative:
// runs may be merged in any order and reach the same record.
type Merger struct {
	scorer *Scorer
}

func NewMerger(scorer *Scorer) *Merger {
	if scorer == nil {
		scorer = NewScorer()
	}
	return &Merger{scorer: scorer}
}

func (m *Merger) Merge(existing, incoming models.PropertyRecord) models.PropertyRecord {
	a, b := existing, incoming

	out := models.PropertyRecord{
		SiteKey:               max(a.SiteKey, b.SiteKey),
		ScrapeTimestamp:       a.ScrapeTimestamp,
		ClassificationUnknown: a.ClassificationUnknown && b.ClassificationUnknown,
		EnrichmentError:       mergeEnrichmentError(a.EnrichmentError, b.EnrichmentError),
		Fields:                make(map[string]models.Value, len(a.Fields)+len(b.Fields)),
	}
	if b.ScrapeTimestamp.After(a.ScrapeTimestamp) {
		out.ScrapeTimestamp = b.ScrapeTimestamp
	}

	out.ListingURL = a.ListingURL
	if c := b.ScrapeTimestamp.Compare(a.ScrapeTimestamp); c > 0 || (c == 0 && b.ListingURL > a.ListingURL) {
		out.ListingURL = b.ListingURL
	}

	for k, va := range a.Fields {
		vb, ok := b.Fields[k]
		if !ok || compareValues(va, vb) >= 0 {
			out.Fields[k] = cloneValue(va)
		} else {
			out.Fields[k] = cloneValue(vb)
		}
	}
	for k, vb := range b.Fields {
		if _, ok := a.Fields[k]; !ok {
			out.Fields[k] = cloneValue(vb)
		}
	}

	Finalize(&out, m.scorer)
	return out
}

// compareValues orders two present values for the same field; the greater
// one survives a merge. Numbers prefer the newer observation, text and
// lists prefer the more complete value. Remaining ties fall back to the
// value itself so the order is total.
func compareValues(a, b models.Value) int {
	if a.Kind != b.Kind {
		return cmp.Compare(a.Kind, b.Kind)
	}
	switch a.Kind {
	case models.KindInt, models.KindDecimal:
		if c := a.ObservedAt.Compare(b.ObservedAt); c != 0 {
			return c
		}
		if a.Kind == models.KindInt {
			return cmp.Compare(a.Int, b.Int)
		}
		return a.Decimal.Cmp(b.Decimal)
	case models.KindList:
		if c := cmp.Compare(len(a.List), len(b.List)); c != 0 {
			return c
		}
		if c := a.ObservedAt.Compare(b.ObservedAt); c != 0 {
			return c
		}
		return cmp.Compare(strings.Join(a.List, "\x00"), strings.Join(b.List, "\x00"))
	default:
		if c := cmp.Compare(utf8.RuneCountInString(a.Text), utf8.RuneCountInString(b.Text)); c != 0 {
			return c
		}
		if c := a.ObservedAt.Compare(b.ObservedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Text, b.Text)
	}
}

// mergeEnrichmentError keeps an error only if neither side enriched cleanly.
func mergeEnrichmentError(a, b string) string {
	if a == "" || b == "" {
		return ""
	}
	return max(a, b)
}

func cloneValue(v models.Value) models.Value {
	if v.List != nil {
		v.List = append([]string(nil), v.List...)
	}
	return v
}

// Conflicts lists numeric fields present in both records whose values differ
// by more than ratio of the larger value.
func Conflicts(a, b models.PropertyRecord, ratio float64) []string {
	var out []string
	r := decimal.NewFromFloat(ratio)
	for k, va := range a.Fields {
		vb, ok := b.Fields[k]
		if !ok || va.Kind != vb.Kind || !va.IsNumeric() {
			continue
		}
		x, y := va.Decimal, vb.Decimal
		if va.Kind == models.KindInt {
			x, y = decimal.NewFromInt(int64(va.Int)), decimal.NewFromInt(int64(vb.Int))
		}
		hi := decimal.Max(x.Abs(), y.Abs())
		if hi.IsZero() {
			continue
		}
		if x.Sub(y).Abs().Div(hi).GreaterThan(r) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Collapse merges records sharing site and identity hash within one run,
// keeping the position of the first occurrence.
func Collapse(records []models.PropertyRecord, merger *Merger) []models.PropertyRecord {
	index := make(map[string]int, len(records))
	out := make([]models.PropertyRecord, 0, len(records))
	for _, rec := range records {
		key := rec.SiteKey + "|" + rec.IdentityHash
		if i, ok := index[key]; ok {
			out[i] = merger.Merge(out[i], rec)
			continue
		}
		index[key] = len(out)
		out = append(out, rec)
	}
	return out
}
