package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"listing_scrooper/config"
	"listing_scrooper/identity"
	"listing_scrooper/models"
)

var (
	numberRegex     = regexp.MustCompile(`\d{1,3}(?:[ \x{00A0}\x{202F},.]\d{3})+(?:\.\d+)?|\d[\d,.]*`)
	suffixRegex     = regexp.MustCompile(`^\s*(k|m|mn|million|b|bn|billion)\b`)
	rangeSplitRegex = regexp.MustCompile(`\s+(-|–|—|to)\s+`)
	nairaPrefix     = regexp.MustCompile(`(^|\s)n\s?\d`)
	countRegex      = regexp.MustCompile(`\d+`)
	titleBedsRegex  = regexp.MustCompile(`(?i)\b(\d+|one|two|three|four|five|six|seven|eight|nine|ten)\s*-?\s*(bed|beds|bedroom|bedrooms|bdr|br)\b`)
	multiSpace      = regexp.MustCompile(`\s+`)

	thousandsSeparators = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "\u202f", "")

	wordNumbers = map[string]int{
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
		"eleven": 11, "twelve": 12,
	}

	multipliers = map[string]decimal.Decimal{
		"k":       decimal.NewFromInt(1_000),
		"m":       decimal.NewFromInt(1_000_000),
		"mn":      decimal.NewFromInt(1_000_000),
		"million": decimal.NewFromInt(1_000_000),
		"b":       decimal.NewFromInt(1_000_000_000),
		"bn":      decimal.NewFromInt(1_000_000_000),
		"billion": decimal.NewFromInt(1_000_000_000),
	}

	currencyMarkers = []struct {
		marker string
		code   string
	}{
		{"₦", "NGN"}, {"ngn", "NGN"}, {"naira", "NGN"},
		{"us$", "USD"}, {"usd", "USD"}, {"$", "USD"},
		{"£", "GBP"}, {"gbp", "GBP"},
		{"€", "EUR"}, {"eur", "EUR"},
		{"ghs", "GHS"}, {"gh₵", "GHS"}, {"kes", "KES"}, {"ksh", "KES"},
	}
)

// pricePrecision is the number of decimal places stored prices keep.
const pricePrecision = 2

// defaultMaxCount bounds bedroom, bathroom and toilet counts when the config
// leaves them unset.
const defaultMaxCount = 20

// Normalizer turns scraped text into typed record fields. It is configured
// once per site and safe for concurrent use.
type Normalizer struct {
	cfg          config.NormalizeConfig
	siteCurrency string
	scorer       *Scorer
}

func NewNormalizer(cfg config.NormalizeConfig, siteCurrency string, scorer *Scorer) *Normalizer {
	if cfg.CanonicalCurrency == "" {
		cfg.CanonicalCurrency = "NGN"
	}
	if siteCurrency == "" {
		siteCurrency = cfg.CanonicalCurrency
	}
	for _, limit := range []*int{&cfg.MaxBedrooms, &cfg.MaxBathrooms, &cfg.MaxToilets} {
		if *limit <= 0 {
			*limit = defaultMaxCount
		}
	}
	if scorer == nil {
		scorer = NewScorer()
	}
	return &Normalizer{cfg: cfg, siteCurrency: strings.ToUpper(siteCurrency), scorer: scorer}
}

func (n *Normalizer) Normalize(raw models.RawListing) models.PropertyRecord {
	at := raw.ScrapedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	rec := models.PropertyRecord{
		SiteKey:               raw.SiteKey,
		ListingURL:            raw.ListingURL,
		ScrapeTimestamp:       at,
		ClassificationUnknown: raw.Unknown,
		Fields:                n.NormalizeFields(raw.Fields, raw.Images, at),
	}
	n.Finalize(&rec)
	return rec
}

// Finalize recomputes the derived identity hash and quality score.
func (n *Normalizer) Finalize(rec *models.PropertyRecord) {
	Finalize(rec, n.scorer)
}

func Finalize(rec *models.PropertyRecord, scorer *Scorer) {
	if rec.Fields == nil {
		rec.Fields = make(map[string]models.Value)
	}
	rec.IdentityHash = identity.RecordHash(rec)
	rec.QualityScore = scorer.Score(*rec)
}

// NormalizeFields converts raw field text into typed values observed at at.
// Anything that fails to parse is left absent.
func (n *Normalizer) NormalizeFields(raw map[string]string, images []string, at time.Time) map[string]models.Value {
	fields := make(map[string]models.Value)

	setText := func(field, s string) {
		if s = cleanText(s); s != "" {
			fields[field] = models.TextValue(s, at)
		}
	}

	setText(models.FieldTitle, raw[models.RawTitle])
	setText(models.FieldLocation, raw[models.RawLocation])
	setText(models.FieldDescription, raw[models.RawDescription])
	setText(models.FieldAgentName, raw[models.RawAgentName])

	if pt := strings.ToLower(cleanText(raw[models.RawPropertyType])); pt != "" {
		fields[models.FieldPropertyType] = models.TextValue(pt, at)
	}
	if phone := normalizePhone(raw[models.RawAgentPhone]); phone != "" {
		fields[models.FieldAgentPhone] = models.TextValue(phone, at)
	}
	if email := strings.ToLower(cleanText(raw[models.RawAgentEmail])); strings.Contains(email, "@") {
		fields[models.FieldAgentEmail] = models.TextValue(email, at)
	}

	if price, ok := n.ParsePrice(raw[models.RawPrice]); ok {
		fields[models.FieldPrice] = models.DecimalValue(price, at)
	}

	if beds, ok := ParseCount(raw[models.RawBedrooms], n.cfg.MaxBedrooms); ok {
		fields[models.FieldBedrooms] = models.IntValue(beds, at)
	} else if beds, ok := BedroomsFromTitle(raw[models.RawTitle], n.cfg.MaxBedrooms); ok {
		fields[models.FieldBedrooms] = models.IntValue(beds, at)
	}
	if baths, ok := ParseCount(raw[models.RawBathrooms], n.cfg.MaxBathrooms); ok {
		fields[models.FieldBathrooms] = models.IntValue(baths, at)
	}
	if toilets, ok := ParseCount(raw[models.RawToilets], n.cfg.MaxToilets); ok {
		fields[models.FieldToilets] = models.IntValue(toilets, at)
	}

	var imgs []string
	seen := make(map[string]bool)
	for _, img := range append([]string{raw[models.RawImage]}, images...) {
		img = strings.TrimSpace(img)
		if img == "" || seen[img] {
			continue
		}
		seen[img] = true
		imgs = append(imgs, img)
	}
	if len(imgs) > 0 {
		fields[models.FieldImages] = models.ListValue(imgs, at)
	}

	return fields
}

// ParsePrice extracts an amount in the canonical currency, rounded to
// pricePrecision places. Ranges take their lower bound. A currency without a
// configured rate yields no price rather than a guess.
func (n *Normalizer) ParsePrice(s string) (decimal.Decimal, bool) {
	s = strings.ToLower(cleanText(s))
	if s == "" {
		return decimal.Zero, false
	}
	if parts := rangeSplitRegex.Split(s, 2); len(parts) == 2 && numberRegex.MatchString(parts[0]) {
		s = parts[0]
	}

	loc := numberRegex.FindStringIndex(s)
	if loc == nil {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(cleanNumber(s[loc[0]:loc[1]]))
	if err != nil {
		return decimal.Zero, false
	}
	if m := suffixRegex.FindStringSubmatch(s[loc[1]:]); m != nil {
		amount = amount.Mul(multipliers[m[1]])
	}
	if !amount.IsPositive() {
		return decimal.Zero, false
	}

	currency := n.detectCurrency(s)
	if currency != n.cfg.CanonicalCurrency {
		rate, ok := n.cfg.Rates[currency]
		if !ok {
			return decimal.Zero, false
		}
		amount = amount.Mul(rate)
	}
	return amount.Round(pricePrecision), true
}

func (n *Normalizer) detectCurrency(s string) string {
	for _, c := range currencyMarkers {
		if strings.Contains(s, c.marker) {
			return c.code
		}
	}
	if nairaPrefix.MatchString(s) {
		return "NGN"
	}
	return n.siteCurrency
}

// cleanNumber drops thousands separators. Several dots mean the dots are
// separators too ("1.500.000").
func cleanNumber(s string) string {
	s = strings.TrimRight(s, ",.")
	if strings.Count(s, ".") > 1 {
		s = strings.ReplaceAll(s, ".", "")
	}
	return thousandsSeparators.Replace(s)
}

// ParseCount reads the first count in free text ("3 bed", "Bedrooms: 4",
// "three"). Values above max are parse failures.
func ParseCount(s string, max int) (int, bool) {
	s = strings.ToLower(cleanText(s))
	if s == "" {
		return 0, false
	}
	n := -1
	if m := countRegex.FindString(s); m != "" {
		v, err := strconv.Atoi(m)
		if err != nil {
			return 0, false
		}
		n = v
	} else {
		for _, word := range strings.FieldsFunc(s, func(r rune) bool { return r < 'a' || r > 'z' }) {
			if v, ok := wordNumbers[word]; ok {
				n = v
				break
			}
		}
	}
	if n < 0 || (max > 0 && n > max) {
		return 0, false
	}
	return n, true
}

// BedroomsFromTitle reads counts such as "4 Bedroom Duplex" from a title.
func BedroomsFromTitle(title string, max int) (int, bool) {
	m := titleBedsRegex.FindStringSubmatch(title)
	if m == nil {
		return 0, false
	}
	return ParseCount(m[1], max)
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(strings.TrimPrefix(out, "+")) < 7 {
		return ""
	}
	return out
}

func cleanText(s string) string {
	return strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
}
