package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical field names stored in PropertyRecord.Fields.
const (
	FieldTitle        = "title"
	FieldPrice        = "price"
	FieldBedrooms     = "bedrooms"
	FieldBathrooms    = "bathrooms"
	FieldToilets      = "toilets"
	FieldLocation     = "location"
	FieldLatitude     = "latitude"
	FieldLongitude    = "longitude"
	FieldPropertyType = "property_type"
	FieldDescription  = "description"
	FieldImages       = "images"
	FieldAgentName    = "agent_name"
	FieldAgentPhone   = "agent_phone"
	FieldAgentEmail   = "agent_email"
)

type ValueKind string

const (
	KindText    ValueKind = "text"
	KindInt     ValueKind = "int"
	KindDecimal ValueKind = "decimal"
	KindList    ValueKind = "list"
)

// Value is one typed field value. ObservedAt is the scrape instant the value
// was seen at, carried per field so merges do not depend on arrival order.
type Value struct {
	Kind       ValueKind       `json:"kind"`
	Text       string          `json:"text,omitempty"`
	Int        int             `json:"int,omitempty"`
	Decimal    decimal.Decimal `json:"decimal"`
	List       []string        `json:"list,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
}

func TextValue(s string, at time.Time) Value {
	return Value{Kind: KindText, Text: s, ObservedAt: at}
}

func IntValue(n int, at time.Time) Value {
	return Value{Kind: KindInt, Int: n, ObservedAt: at}
}

func DecimalValue(d decimal.Decimal, at time.Time) Value {
	return Value{Kind: KindDecimal, Decimal: d, ObservedAt: at}
}

func ListValue(items []string, at time.Time) Value {
	return Value{Kind: KindList, List: slices.Clone(items), ObservedAt: at}
}

// IsNumeric reports whether merges treat the value as a numeric field.
func (v Value) IsNumeric() bool {
	return v.Kind == KindInt || v.Kind == KindDecimal
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || !v.ObservedAt.Equal(o.ObservedAt) {
		return false
	}
	switch v.Kind {
	case KindText:
		return v.Text == o.Text
	case KindInt:
		return v.Int == o.Int
	case KindDecimal:
		return v.Decimal.Equal(o.Decimal)
	case KindList:
		return slices.Equal(v.List, o.List)
	}
	return false
}

// PropertyRecord is the durable, deduplicated unit produced by a scrape.
type PropertyRecord struct {
	IdentityHash          string           `json:"identity_hash"`
	SiteKey               string           `json:"site_key"`
	ListingURL            string           `json:"listing_url"`
	Fields                map[string]Value `json:"fields"`
	QualityScore          float64          `json:"quality_score"`
	ScrapeTimestamp       time.Time        `json:"scrape_timestamp"`
	ClassificationUnknown bool             `json:"classification_unknown,omitempty"`
	EnrichmentError       string           `json:"enrichment_error,omitempty"`
}

func (r *PropertyRecord) Has(field string) bool {
	_, ok := r.Fields[field]
	return ok
}

func (r *PropertyRecord) Text(field string) string {
	return r.Fields[field].Text
}

func (r *PropertyRecord) Int(field string) (int, bool) {
	v, ok := r.Fields[field]
	if !ok || v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}

func (r *PropertyRecord) Decimal(field string) (decimal.Decimal, bool) {
	v, ok := r.Fields[field]
	if !ok || v.Kind != KindDecimal {
		return decimal.Zero, false
	}
	return v.Decimal, true
}

func (r *PropertyRecord) List(field string) []string {
	return r.Fields[field].List
}

// Set stores a field, initialising the map when needed.
func (r *PropertyRecord) Set(field string, v Value) {
	if r.Fields == nil {
		r.Fields = make(map[string]Value)
	}
	r.Fields[field] = v
}

// Clone returns a deep copy safe to mutate independently.
func (r PropertyRecord) Clone() PropertyRecord {
	out := r
	out.Fields = make(map[string]Value, len(r.Fields))
	for k, v := range r.Fields {
		v.List = slices.Clone(v.List)
		out.Fields[k] = v
	}
	return out
}

func (r PropertyRecord) Equal(o PropertyRecord) bool {
	if r.IdentityHash != o.IdentityHash ||
		r.SiteKey != o.SiteKey ||
		r.ListingURL != o.ListingURL ||
		r.QualityScore != o.QualityScore ||
		!r.ScrapeTimestamp.Equal(o.ScrapeTimestamp) ||
		r.ClassificationUnknown != o.ClassificationUnknown ||
		r.EnrichmentError != o.EnrichmentError ||
		len(r.Fields) != len(o.Fields) {
		return false
	}
	for k, v := range r.Fields {
		ov, ok := o.Fields[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
