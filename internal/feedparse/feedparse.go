// Package feedparse fetches and decodes RSS/Atom feeds.
package feedparse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"skimmer/internal/logger"
)

const (
	UserAgent = "skimmer/1.0"

	fetchTimeout = 10 * time.Second
	maxBodySize  = 10 * 1024 * 1024
	maxRedirects = 3
)

// FetchError is a network or HTTP-level failure.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is a decode failure on a body that was fetched fine.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.URL, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Entry is one decoded feed item.
type Entry struct {
	GUID        string
	URL         string
	Title       string
	Author      string
	Content     string
	PublishedAt *time.Time
}

// Feed is the decoded feed with its entries in document order.
type Feed struct {
	Title   string
	SiteURL string
	Entries []Entry
}

// Fetcher fetches and parses feeds. Redirects are handled manually so that
// cross-host hops can be logged.
type Fetcher struct {
	client *http.Client
	parser *gofeed.Parser
}

// New returns a Fetcher with the standard timeout.
func New() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		parser: gofeed.NewParser(),
	}
}

// Fetch retrieves and decodes the feed at feedURL.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (*Feed, error) {
	body, err := f.get(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	parsed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: feedURL, Err: err}
	}

	feed := &Feed{
		Title:   strings.TrimSpace(parsed.Title),
		SiteURL: strings.TrimSpace(parsed.Link),
	}
	for _, item := range parsed.Items {
		feed.Entries = append(feed.Entries, convertItem(item))
	}
	return feed, nil
}

// get follows up to maxRedirects hops by hand, enforcing the size cap.
func (f *Fetcher) get(ctx context.Context, feedURL string) ([]byte, error) {
	current := feedURL

	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, &FetchError{URL: current, Err: err}
		}
		req.Header.Set("User-Agent", UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, &FetchError{URL: current, Err: err}
		}

		if isRedirect(resp.StatusCode) {
			location, err := resp.Location()
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if err != nil {
				return nil, &FetchError{URL: current, Err: fmt.Errorf("redirect without location")}
			}
			if hop >= maxRedirects {
				return nil, &FetchError{URL: feedURL, Err: fmt.Errorf("too many redirects")}
			}

			next := location.String()
			if resp.StatusCode == http.StatusMovedPermanently {
				logger.Info("Feed moved permanently", "from", current, "to", next)
			}
			if !safeRedirect(req.URL.Host, req.URL.Scheme, location.Host, location.Scheme) {
				logger.Warn("Feed redirect crosses hosts", "from", current, "to", next)
			}
			current = next
			continue
		}

		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, &FetchError{URL: current, Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		if resp.ContentLength > maxBodySize {
			return nil, &FetchError{URL: current, Err: fmt.Errorf("body too large: %d bytes", resp.ContentLength)}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
		if err != nil {
			return nil, &FetchError{URL: current, Err: err}
		}
		if len(body) > maxBodySize {
			return nil, &FetchError{URL: current, Err: fmt.Errorf("body exceeds %d bytes", maxBodySize)}
		}
		return body, nil
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// safeRedirect allows same-host hops and http to https upgrades on the same
// host.
func safeRedirect(fromHost, fromScheme, toHost, toScheme string) bool {
	if !strings.EqualFold(fromHost, toHost) {
		return false
	}
	if fromScheme == toScheme {
		return true
	}
	return fromScheme == "http" && toScheme == "https"
}

// convertItem maps a gofeed item onto an Entry: content falls back through
// content, then summary/description; the date through published, then
// updated.
func convertItem(item *gofeed.Item) Entry {
	e := Entry{
		GUID:  strings.TrimSpace(item.GUID),
		URL:   strings.TrimSpace(item.Link),
		Title: strings.TrimSpace(item.Title),
	}

	if item.Author != nil {
		e.Author = strings.TrimSpace(item.Author.Name)
	} else if len(item.Authors) > 0 && item.Authors[0] != nil {
		e.Author = strings.TrimSpace(item.Authors[0].Name)
	}

	if strings.TrimSpace(item.Content) != "" {
		e.Content = item.Content
	} else {
		e.Content = item.Description
	}

	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		e.PublishedAt = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		e.PublishedAt = &t
	}

	return e
}
