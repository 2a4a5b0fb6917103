// Package opml reads and writes OPML subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// MaxImportSize caps accepted OPML documents at 1MB.
const MaxImportSize = 1 << 20

// Subscription is one feed entry from an OPML document, with the enclosing
// outline's title as its category.
type Subscription struct {
	Title    string
	FeedURL  string
	SiteURL  string
	Category string
}

type opmlDoc struct {
	XMLName xml.Name  `xml:"opml"`
	Version string    `xml:"version,attr"`
	Head    opmlHead  `xml:"head"`
	Body    opmlBody  `xml:"body"`
}

type opmlHead struct {
	Title       string `xml:"title"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type opmlBody struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Children []outline `xml:"outline"`
}

func (o *outline) title() string {
	if o.Title != "" {
		return o.Title
	}
	return o.Text
}

// Parse decodes an OPML document and flattens its outline tree into
// subscriptions. Outlines without an xmlUrl act as category containers; only
// the innermost container names the category.
func Parse(data []byte) ([]Subscription, error) {
	if len(data) > MaxImportSize {
		return nil, fmt.Errorf("opml document exceeds %d bytes", MaxImportSize)
	}

	var doc opmlDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse opml: %w", err)
	}

	var subs []Subscription
	var walk func(nodes []outline, category string)
	walk = func(nodes []outline, category string) {
		for i := range nodes {
			n := &nodes[i]
			if n.XMLURL != "" {
				subs = append(subs, Subscription{
					Title:    strings.TrimSpace(n.title()),
					FeedURL:  strings.TrimSpace(n.XMLURL),
					SiteURL:  strings.TrimSpace(n.HTMLURL),
					Category: category,
				})
				continue
			}
			walk(n.Children, strings.TrimSpace(n.title()))
		}
	}
	walk(doc.Body.Outlines, "")
	return subs, nil
}

// Export renders subscriptions grouped by category. Uncategorized feeds sit
// at the top level; category order follows first appearance.
func Export(title string, subs []Subscription, now time.Time) ([]byte, error) {
	doc := opmlDoc{
		Version: "2.0",
		Head: opmlHead{
			Title:       title,
			DateCreated: now.UTC().Format(time.RFC1123Z),
		},
	}

	groups := map[string]*outline{}
	var order []string
	for _, s := range subs {
		node := outline{
			Text:    s.Title,
			Title:   s.Title,
			Type:    "rss",
			XMLURL:  s.FeedURL,
			HTMLURL: s.SiteURL,
		}
		if s.Category == "" {
			doc.Body.Outlines = append(doc.Body.Outlines, node)
			continue
		}
		group, ok := groups[s.Category]
		if !ok {
			group = &outline{Text: s.Category, Title: s.Category}
			groups[s.Category] = group
			order = append(order, s.Category)
		}
		group.Children = append(group.Children, node)
	}
	for _, name := range order {
		doc.Body.Outlines = append(doc.Body.Outlines, *groups[name])
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render opml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
