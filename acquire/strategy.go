package acquire

import (
	"net/url"
	"regexp"
	"strings"
)

// Strategy is the per-domain specialisation hook: known source domains
// get their own header sets, referrer handling, and high-resolution URL
// rewriting. The engine's contract with a strategy is only "given a
// reference, produce the URL and headers to try".
type Strategy interface {
	// Rewrite maps an extracted asset URL to the URL actually fetched,
	// typically upgrading to a higher-resolution variant.
	Rewrite(assetURL string) string

	// Headers returns extra request headers for the domain.
	Headers(pageURL string) map[string]string
}

// defaultStrategy fetches the URL as extracted, sending the document page
// as referrer. Works for most origins.
type defaultStrategy struct{}

func (defaultStrategy) Rewrite(assetURL string) string { return assetURL }

func (defaultStrategy) Headers(pageURL string) map[string]string {
	if pageURL == "" {
		return nil
	}
	return map[string]string{"Referer": pageURL}
}

// cdnResizeStrategy strips width/quality resize parameters from CDN image
// URLs so the stored asset is the full-resolution original.
type cdnResizeStrategy struct {
	defaultStrategy
	params []string
}

func (s cdnResizeStrategy) Rewrite(assetURL string) string {
	u, err := url.Parse(assetURL)
	if err != nil {
		return assetURL
	}
	q := u.Query()
	changed := false
	for _, p := range s.params {
		if q.Has(p) {
			q.Del(p)
			changed = true
		}
	}
	if !changed {
		return assetURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// thumbnailPathStrategy rewrites thumbnail path segments to their
// full-size counterparts.
type thumbnailPathStrategy struct {
	defaultStrategy
	pattern *regexp.Regexp
	replace string
}

func (s thumbnailPathStrategy) Rewrite(assetURL string) string {
	return s.pattern.ReplaceAllString(assetURL, s.replace)
}

// strategies maps source domains to their specialisation. Domains not
// listed use the default.
var strategies = map[string]Strategy{
	"golfweek.usatoday.com": cdnResizeStrategy{params: []string{"width", "height", "quality", "fit"}},
	"www.golfdigest.com":    cdnResizeStrategy{params: []string{"w", "q", "auto"}},
	"golf.com":              thumbnailPathStrategy{pattern: regexp.MustCompile(`-\d+x\d+(\.\w+)$`), replace: "$1"},
}

// StrategyFor selects the strategy for a document's source domain.
func StrategyFor(pageURL string) Strategy {
	u, err := url.Parse(pageURL)
	if err != nil {
		return defaultStrategy{}
	}
	host := strings.ToLower(u.Hostname())
	if s, ok := strategies[host]; ok {
		return s
	}
	if s, ok := strategies[strings.TrimPrefix(host, "www.")]; ok {
		return s
	}
	return defaultStrategy{}
}
