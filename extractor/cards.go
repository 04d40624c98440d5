// Package extractor pulls listing cards, detail fields and links out of
// fetched HTML with goquery. Everything here is a pure function of its input.
package extractor

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"listing_scrooper/config"
	"listing_scrooper/models"
)

// GenericCardSelector is the broad fallback tried only when every configured
// card selector matched nothing.
const GenericCardSelector = "a[href]"

const cardContainer = "article, li, [class*='card'], [class*='listing'], [class*='property'], [class*='item']"

var (
	genericTitle    = []string{"h2", "h3", "h4", "[class*='title']"}
	genericPrice    = []string{"[class*='price']", "[class*='amount']"}
	genericLocation = []string{"address", "[class*='location']", "[class*='address']"}
	genericBedrooms = []string{"[class*='bed']"}
	genericBaths    = []string{"[class*='bath']"}
	genericImage    = []string{"img"}

	priceTextRegex = regexp.MustCompile(`(₦|(?i:ngn|usd|gbp|eur)|\bN|\$|£|€)\s?\d[\d,.]*(\s?(?i:k|m|million|b|bn|billion)\b)?`)
	spaceRegex     = regexp.MustCompile(`\s+`)
)

// CardResult reports which selector produced the candidates.
type CardResult struct {
	Candidates []models.ListingCandidate
	Selector   string
	Fallback   bool
	Matched    int
}

// ExtractCards tries selectors in order and trusts the first one that
// matches anything, even if it matches few elements. The generic fallback is
// never unioned with a specific selector's results.
func ExtractCards(html, pageURL string, selectors []string, fields config.CardFields) (*CardResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return extractCards(doc, pageURL, selectors, fields)
}

func extractCards(doc *goquery.Document, pageURL string, selectors []string, fields config.CardFields) (*CardResult, error) {
	base, err := BaseURL(doc, pageURL)
	if err != nil {
		return nil, err
	}

	result := &CardResult{}
	var matched *goquery.Selection
	for _, sel := range selectors {
		if s := doc.Find(sel); s.Length() > 0 {
			matched = s
			result.Selector = sel
			break
		}
	}
	if matched == nil {
		matched = doc.Find(GenericCardSelector)
		result.Selector = GenericCardSelector
		result.Fallback = true
	}
	result.Matched = matched.Length()

	seen := make(map[string]bool)
	if self, ok := Resolve(base, pageURL); ok {
		seen[self] = true
	}
	matched.Each(func(_ int, card *goquery.Selection) {
		href, ok := cardHref(card)
		if !ok {
			return
		}
		listingURL, ok := Resolve(base, href)
		if !ok || seen[listingURL] {
			return
		}
		seen[listingURL] = true

		container := card
		if result.Fallback {
			if c := card.Closest(cardContainer); c.Length() > 0 {
				container = c
			}
		}

		result.Candidates = append(result.Candidates, models.ListingCandidate{
			SourceURL:  pageURL,
			ListingURL: listingURL,
			RawFields:  cardFields(container, card, base, fields),
		})
	})

	return result, nil
}

// cardHref returns the card's own anchor: the element itself when it is a
// link, otherwise its first link descendant.
func cardHref(card *goquery.Selection) (string, bool) {
	anchor := card
	if goquery.NodeName(card) != "a" {
		anchor = card.Find("a[href]").First()
	}
	href, ok := anchor.Attr("href")
	if !ok {
		return "", false
	}
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	switch {
	case href == "", strings.HasPrefix(href, "#"),
		strings.HasPrefix(lower, "javascript:"),
		strings.HasPrefix(lower, "mailto:"),
		strings.HasPrefix(lower, "tel:"),
		strings.HasPrefix(lower, "whatsapp:"):
		return "", false
	}
	return href, true
}

func cardFields(container, anchor *goquery.Selection, base *url.URL, f config.CardFields) map[string]string {
	raw := make(map[string]string)

	if v := firstText(container, f.Title, genericTitle); v != "" {
		raw[models.RawTitle] = v
	} else if v := cleanText(anchor.AttrOr("title", "")); v != "" {
		raw[models.RawTitle] = v
	} else if v := cleanText(anchor.Text()); v != "" {
		raw[models.RawTitle] = v
	}

	if v := firstText(container, f.Price, genericPrice); v != "" {
		raw[models.RawPrice] = v
	} else if m := priceTextRegex.FindString(container.Text()); m != "" {
		raw[models.RawPrice] = m
	}

	if v := firstText(container, f.Location, genericLocation); v != "" {
		raw[models.RawLocation] = v
	}
	if v := firstText(container, f.Bedrooms, genericBedrooms); v != "" {
		raw[models.RawBedrooms] = v
	}
	if v := firstText(container, f.Bathrooms, genericBaths); v != "" {
		raw[models.RawBathrooms] = v
	}

	imgSelectors := f.Image
	if len(imgSelectors) == 0 {
		imgSelectors = genericImage
	}
	for _, sel := range imgSelectors {
		if src := imageSource(container.Find(sel).First()); src != "" {
			if abs, ok := Resolve(base, src); ok {
				raw[models.RawImage] = abs
				break
			}
		}
	}

	return raw
}

// firstText returns the text of the first selector yielding non-empty text,
// trying configured selectors before generic ones.
func firstText(s *goquery.Selection, configured, generic []string) string {
	for _, list := range [][]string{configured, generic} {
		for _, sel := range list {
			if v := cleanText(s.Find(sel).First().Text()); v != "" {
				return v
			}
		}
	}
	return ""
}

func imageSource(img *goquery.Selection) string {
	for _, attr := range []string{"data-src", "data-lazy-src", "src"} {
		if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.TrimSpace(spaceRegex.ReplaceAllString(s, " "))
}

// BaseURL honours a <base href> element when present.
func BaseURL(doc *goquery.Document, pageURL string) (*url.URL, error) {
	page, err := url.Parse(pageURL)
	if err != nil || !page.IsAbs() {
		return nil, fmt.Errorf("page url %q is not absolute", pageURL)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := page.Parse(strings.TrimSpace(href)); err == nil {
			return b, nil
		}
	}
	return page, nil
}

// Resolve makes href absolute against base and strips the fragment.
// Only http(s) results are accepted.
func Resolve(base *url.URL, href string) (string, bool) {
	u, err := base.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}
