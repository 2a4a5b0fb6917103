package feedparse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
  <title>Example Blog</title>
  <link>https://example.com</link>
  <item>
    <guid>post-1</guid>
    <link>https://example.com/post-1</link>
    <title>First Post</title>
    <author>alice@example.com (Alice)</author>
    <description>Short summary</description>
    <content:encoded><![CDATA[<p>Full <b>body</b></p>]]></content:encoded>
    <pubDate>Mon, 06 Jan 2025 10:00:00 GMT</pubDate>
  </item>
  <item>
    <guid>post-2</guid>
    <link>https://example.com/post-2</link>
    <title>Second Post</title>
    <description>Only a description</description>
  </item>
</channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <link href="https://atom.example.com"/>
  <entry>
    <id>urn:uuid:entry-1</id>
    <title>Atom Entry</title>
    <link href="https://atom.example.com/1"/>
    <summary>Atom summary</summary>
    <updated>2025-02-01T12:00:00Z</updated>
  </entry>
</feed>`

func serveBody(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != UserAgent {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", contentType)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchRSS(t *testing.T) {
	srv := serveBody(t, "application/rss+xml", sampleRSS)

	feed, err := New().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if feed.Title != "Example Blog" || feed.SiteURL != "https://example.com" {
		t.Errorf("feed meta = %q / %q", feed.Title, feed.SiteURL)
	}
	if len(feed.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(feed.Entries))
	}

	first := feed.Entries[0]
	if first.GUID != "post-1" || first.URL != "https://example.com/post-1" {
		t.Errorf("first entry ids: %+v", first)
	}
	// content:encoded wins over description.
	if !strings.Contains(first.Content, "<b>body</b>") {
		t.Errorf("content = %q, want full body", first.Content)
	}
	if first.PublishedAt == nil || first.PublishedAt.Day() != 6 {
		t.Errorf("published = %v", first.PublishedAt)
	}

	second := feed.Entries[1]
	if second.Content != "Only a description" {
		t.Errorf("description fallback: %q", second.Content)
	}
	if second.PublishedAt != nil {
		t.Errorf("dateless entry has published = %v", second.PublishedAt)
	}
}

func TestFetchAtom(t *testing.T) {
	srv := serveBody(t, "application/atom+xml", sampleAtom)

	feed, err := New().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(feed.Entries) != 1 {
		t.Fatalf("entries = %d", len(feed.Entries))
	}

	e := feed.Entries[0]
	if e.GUID != "urn:uuid:entry-1" {
		t.Errorf("guid = %q", e.GUID)
	}
	if e.Content != "Atom summary" {
		t.Errorf("content = %q", e.Content)
	}
	// updated is used when published is absent.
	if e.PublishedAt == nil || e.PublishedAt.Year() != 2025 {
		t.Errorf("published = %v", e.PublishedAt)
	}
}

func TestFetchFollowsRedirects(t *testing.T) {
	target := serveBody(t, "application/rss+xml", sampleRSS)
	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusMovedPermanently)
	}))
	t.Cleanup(hop.Close)

	feed, err := New().Fetch(context.Background(), hop.URL)
	if err != nil {
		t.Fatalf("fetch through redirect: %v", err)
	}
	if feed.Title != "Example Blog" {
		t.Errorf("title = %q", feed.Title)
	}
}

func TestFetchRedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	_, err := New().Fetch(context.Background(), srv.URL)
	var fe *FetchError
	if !errors.As(err, &fe) || !strings.Contains(fe.Error(), "too many redirects") {
		t.Fatalf("err = %v, want redirect limit", err)
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	t.Cleanup(srv.Close)

	_, err := New().Fetch(context.Background(), srv.URL)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %T, want *FetchError", err)
	}
}

func TestFetchBodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		// Stream past the cap without declaring Content-Length.
		chunk := strings.Repeat("a", 64*1024)
		for i := 0; i < (maxBodySize/len(chunk))+2; i++ {
			if _, err := fmt.Fprint(w, chunk); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	_, err := New().Fetch(context.Background(), srv.URL)
	var fe *FetchError
	if !errors.As(err, &fe) || !strings.Contains(fe.Error(), "exceeds") {
		t.Fatalf("err = %v, want size cap error", err)
	}
}

func TestFetchMalformedXML(t *testing.T) {
	srv := serveBody(t, "application/rss+xml", "<html><body>not a feed</body></html>")

	_, err := New().Fetch(context.Background(), srv.URL)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %T (%v), want *ParseError", err, err)
	}
}
