package extractor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"listing_scrooper/config"
	"listing_scrooper/models"
)

// DetailFields is what a detail page yielded: raw text per field plus the
// image gallery in page order.
type DetailFields struct {
	Fields map[string]string
	Images []string
}

// ExtractDetail reads every configured detail field. For text fields the
// first selector with non-empty text wins.
func ExtractDetail(html, pageURL string, sel config.DetailSelectors) (*DetailFields, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := BaseURL(doc, pageURL)
	if err != nil {
		return nil, err
	}

	out := &DetailFields{Fields: make(map[string]string)}
	text := []struct {
		key       string
		selectors []string
	}{
		{models.RawTitle, sel.Title},
		{models.RawPrice, sel.Price},
		{models.RawLocation, sel.Location},
		{models.RawBedrooms, sel.Bedrooms},
		{models.RawBathrooms, sel.Bathrooms},
		{models.RawToilets, sel.Toilets},
		{models.RawPropertyType, sel.PropertyType},
		{models.RawDescription, sel.Description},
		{models.RawAgentName, sel.AgentName},
		{models.RawAgentPhone, sel.AgentPhone},
		{models.RawAgentEmail, sel.AgentEmail},
	}
	for _, f := range text {
		if v := firstText(doc.Selection, f.selectors, nil); v != "" {
			out.Fields[f.key] = v
		}
	}

	// Phone and email links carry the value in the href more reliably.
	if _, ok := out.Fields[models.RawAgentPhone]; !ok {
		if href, ok := doc.Find("a[href^='tel:']").First().Attr("href"); ok {
			out.Fields[models.RawAgentPhone] = strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
		}
	}
	if _, ok := out.Fields[models.RawAgentEmail]; !ok {
		if href, ok := doc.Find("a[href^='mailto:']").First().Attr("href"); ok {
			addr, _, _ := strings.Cut(strings.TrimPrefix(href, "mailto:"), "?")
			out.Fields[models.RawAgentEmail] = strings.TrimSpace(addr)
		}
	}

	seen := make(map[string]bool)
	for _, s := range sel.Images {
		doc.Find(s).Each(func(_ int, img *goquery.Selection) {
			src := imageSource(img)
			if src == "" {
				src = strings.TrimSpace(img.AttrOr("href", ""))
			}
			if src == "" {
				return
			}
			if abs, ok := Resolve(base, src); ok && !seen[abs] {
				seen[abs] = true
				out.Images = append(out.Images, abs)
			}
		})
		if len(out.Images) > 0 {
			break
		}
	}

	return out, nil
}
