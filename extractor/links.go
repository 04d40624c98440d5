package extractor

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"listing_scrooper/config"
)

// Page is a parsed document that can be queried several times without
// re-parsing, as discovery does when classifying a page.
type Page struct {
	doc *goquery.Document
	url string
}

func Parse(html, pageURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{doc: doc, url: pageURL}, nil
}

func (p *Page) URL() string { return p.url }

func (p *Page) Cards(selectors []string, fields config.CardFields) (*CardResult, error) {
	return extractCards(p.doc, p.url, selectors, fields)
}

// LocationLinks returns same-host links whose path matches one of patterns
// and none of skip, deduplicated, in document order. The page itself is
// never included. Patterns are matched against the URL path.
func (p *Page) LocationLinks(patterns, skip []*regexp.Regexp) []string {
	base, err := BaseURL(p.doc, p.url)
	if err != nil {
		return nil
	}
	self, _ := Resolve(base, p.url)

	seen := map[string]bool{strings.TrimRight(self, "/"): true}
	var links []string
	p.doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		abs, ok := Resolve(base, a.AttrOr("href", ""))
		key := strings.TrimRight(abs, "/")
		if !ok || seen[key] {
			return
		}
		u, err := url.Parse(abs)
		if err != nil || !sameHost(u.Host, base.Host) {
			return
		}
		path := strings.ToLower(u.Path)
		if !matchesAny(path, patterns) || matchesAny(path, skip) {
			return
		}
		seen[key] = true
		links = append(links, abs)
	})
	return links
}

// NextPage returns the pagination link for the first selector that resolves
// to a URL other than the page itself, or "".
func (p *Page) NextPage(selectors []string) string {
	base, err := BaseURL(p.doc, p.url)
	if err != nil {
		return ""
	}
	self, _ := Resolve(base, p.url)
	for _, sel := range selectors {
		href, ok := p.doc.Find(sel).First().Attr("href")
		if !ok {
			continue
		}
		if abs, ok := Resolve(base, href); ok && abs != self {
			return abs
		}
	}
	return ""
}

func sameHost(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	return a == b
}

func matchesAny(s string, res []*regexp.Regexp) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
