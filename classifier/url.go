// Package classifier decides from the URL alone whether a link points at a
// single property or at a category/navigation page.
package classifier

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"listing_scrooper/config"
)

type Kind int

const (
	Unknown Kind = iota
	Property
	Category
)

func (k Kind) String() string {
	switch k {
	case Property:
		return "property"
	case Category:
		return "category"
	default:
		return "unknown"
	}
}

var (
	navigationPattern = `/(search|category|categories|tag|tags|agents?|agencies|developers|blog|news|about(-us)?|contact(-us)?|login|register|signup|faq|terms|privacy|sitemap)(/|$)`

	defaultDeny = []string{
		// transaction prefix followed only by alphabetic slugs: /for-sale/lagos, /for-rent/flats/lagos/lekki
		`^/(for-sale|for-rent|for-lease|to-rent|to-let|short-let|shortlet|property-for-sale|property-for-rent)(/[a-z]+(-[a-z]+)*){0,4}/?$`,
		`/showtype/?$`,
		navigationPattern,
		`/page/\d+/?$`,
	}
	defaultAllow = []string{
		`(^|[/\-_])\d{5,}([/\-_.]|$)`,
		`\d+[-_]?(bed|beds|bedroom|bedrooms|bdr|bath|baths|bathroom|bathrooms)([/\-_.]|$)`,
		`/[^/]*\d[^/]*(duplex|bungalow|apartment|flat|terrace|terraced|detached|penthouse|studio|mansion|maisonette|townhouse|villa)[^/]*/?$`,
		`/[^/]*(duplex|bungalow|apartment|flat|terrace|terraced|detached|penthouse|studio|mansion|maisonette|townhouse|villa)[^/]*\d[^/]*/?$`,
	}
	defaultListingIDParams = []string{"id", "pid", "listing_id", "listingid", "property_id", "propertyid", "ref"}

	geographyToken  = regexp.MustCompile(`^[a-z]+(-[a-z]+)*$`)
	digitsRegex     = regexp.MustCompile(`\d`)
	navigationRegex = regexp.MustCompile(navigationPattern)

	// Singular only: "flats" or "duplexes" name a category, "luxury-duplex-lekki" a unit.
	propertyTypeToken = regexp.MustCompile(`(^|-)(duplex|bungalow|apartment|flat|terrace|terraced|detached|penthouse|studio|mansion|maisonette|townhouse|villa)(-|$)`)
)

// Classifier is immutable after New and safe for concurrent use.
type Classifier struct {
	deny     []*regexp.Regexp
	allow    []*regexp.Regexp
	idParams map[string]bool
}

func New(cfg config.ClassifierConfig) (*Classifier, error) {
	deny, err := compileAll(append(append([]string{}, defaultDeny...), cfg.DenyPatterns...))
	if err != nil {
		return nil, fmt.Errorf("compile deny patterns: %w", err)
	}
	allow, err := compileAll(append(append([]string{}, defaultAllow...), cfg.AllowPatterns...))
	if err != nil {
		return nil, fmt.Errorf("compile allow patterns: %w", err)
	}

	idParams := make(map[string]bool)
	for _, p := range append(append([]string{}, defaultListingIDParams...), cfg.ListingIDParams...) {
		idParams[strings.ToLower(p)] = true
	}

	return &Classifier{deny: deny, allow: allow, idParams: idParams}, nil
}

// Classify runs the deny-list before the allow-list. Relative or unparsable
// URLs come back Unknown; resolving them is the caller's job.
func (c *Classifier) Classify(rawURL string) Kind {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return Unknown
	}

	path := strings.ToLower(u.EscapedPath())
	path = strings.TrimRight(path, "/")
	segments := splitPath(path)

	if len(segments) == 0 {
		return Category
	}
	for _, re := range c.deny {
		if re.MatchString(path) {
			return Category
		}
	}
	if len(segments) <= 2 && allGeography(segments) {
		return Category
	}

	if c.hasListingID(u) {
		return Property
	}
	for _, re := range c.allow {
		if re.MatchString(path) {
			return Property
		}
	}
	if len(segments) >= 4 && digitsRegex.MatchString(segments[len(segments)-1]) {
		return Property
	}

	return Unknown
}

// IsNavigation reports whether rawURL points at a site section such as
// /about, /blog or /login.
func IsNavigation(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return navigationRegex.MatchString(strings.ToLower(u.EscapedPath()))
}

func (c *Classifier) hasListingID(u *url.URL) bool {
	for key, vals := range u.Query() {
		if !c.idParams[strings.ToLower(key)] {
			continue
		}
		for _, v := range vals {
			if digitsRegex.MatchString(v) {
				return true
			}
		}
	}
	return false
}

func splitPath(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func allGeography(segments []string) bool {
	for _, s := range segments {
		if !geographyToken.MatchString(s) || propertyTypeToken.MatchString(s) {
			return false
		}
	}
	return true
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
