package feedparse

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// commonFeedPaths are probed when a page declares no feed link.
var commonFeedPaths = []string{
	"/feed", "/rss", "/rss.xml", "/atom.xml", "/feed.xml", "/index.xml",
}

// DiscoveredFeed is one candidate found for a site URL.
type DiscoveredFeed struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Discover finds feeds for a URL. It tries the URL as a feed directly, then
// scans the HTML for <link rel="alternate"> declarations, then probes the
// common feed paths. Results are verified by parsing.
func (f *Fetcher) Discover(ctx context.Context, pageURL string) ([]DiscoveredFeed, error) {
	body, err := f.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	if parsed, err := f.parser.Parse(bytes.NewReader(body)); err == nil {
		return []DiscoveredFeed{{URL: pageURL, Title: strings.TrimSpace(parsed.Title)}}, nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, &ParseError{URL: pageURL, Err: err}
	}

	var found []DiscoveredFeed
	seen := map[string]bool{}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		doc.Find(`link[rel="alternate"]`).Each(func(_ int, sel *goquery.Selection) {
			typ, _ := sel.Attr("type")
			if !strings.Contains(typ, "rss") && !strings.Contains(typ, "atom") &&
				!strings.Contains(typ, "xml") {
				return
			}
			href, ok := sel.Attr("href")
			if !ok || href == "" {
				return
			}
			ref, err := url.Parse(href)
			if err != nil {
				return
			}
			abs := base.ResolveReference(ref).String()
			if seen[abs] {
				return
			}
			seen[abs] = true
			title, _ := sel.Attr("title")
			found = append(found, DiscoveredFeed{URL: abs, Title: strings.TrimSpace(title)})
		})
	}
	if len(found) > 0 {
		return f.verify(ctx, found), nil
	}

	for _, path := range commonFeedPaths {
		candidate := base.Scheme + "://" + base.Host + path
		if seen[candidate] {
			continue
		}
		seen[candidate] = true
		if parsed, err := f.Fetch(ctx, candidate); err == nil {
			found = append(found, DiscoveredFeed{URL: candidate, Title: parsed.Title})
		}
	}
	return found, nil
}

// verify keeps only candidates that actually parse as feeds, filling in
// missing titles from the feed itself.
func (f *Fetcher) verify(ctx context.Context, candidates []DiscoveredFeed) []DiscoveredFeed {
	var valid []DiscoveredFeed
	for _, c := range candidates {
		parsed, err := f.Fetch(ctx, c.URL)
		if err != nil {
			continue
		}
		if c.Title == "" {
			c.Title = parsed.Title
		}
		valid = append(valid, c)
	}
	return valid
}
