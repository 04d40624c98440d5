package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"listing_scrooper/models"
)

var (
	// Fragments that change between scrapes of the same listing.
	volatilePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d+\s*(people\s+)?(viewed|views?)(\s+(today|this\s+week))?\b`),
		regexp.MustCompile(`\b(added|updated|posted)\s+(today|yesterday|\d+\s+\w+\s+ago)\b`),
		regexp.MustCompile(`\b(new|featured|hot|premium|verified|promoted|sponsored|top\s+deal|hot\s+deal)\b`),
	}
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// NormalizeTitle maps titles that differ only in case, punctuation or
// volatile badges to the same string.
func NormalizeTitle(title string) string {
	t := strings.ToLower(title)
	t = nonAlnumRegex.ReplaceAllString(t, " ")
	for _, re := range volatilePatterns {
		t = re.ReplaceAllString(t, " ")
	}
	return collapse(t)
}

// NormalizeLocation lower-cases and collapses whitespace. Punctuation is
// treated as whitespace so "Lekki,Lagos" and "Lekki, Lagos" agree.
func NormalizeLocation(loc string) string {
	l := strings.ToLower(loc)
	l = nonAlnumRegex.ReplaceAllString(l, " ")
	return collapse(l)
}

// NormalizePrice renders a price in whole canonical units. Sub-unit noise
// never changes identity.
func NormalizePrice(price decimal.Decimal, ok bool) string {
	if !ok {
		return ""
	}
	return price.Round(0).String()
}

func Hash(title, price, location string) string {
	input := title + "|" + price + "|" + location
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// RecordHash derives the identity hash from a record's canonical fields.
func RecordHash(rec *models.PropertyRecord) string {
	price, ok := rec.Decimal(models.FieldPrice)
	return Hash(
		NormalizeTitle(rec.Text(models.FieldTitle)),
		NormalizePrice(price, ok),
		NormalizeLocation(rec.Text(models.FieldLocation)),
	)
}

func collapse(s string) string {
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(s, " "))
}
