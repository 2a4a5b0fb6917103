// Package extract pulls the main article text out of web pages for
// summarization and the reader view.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"

	"skimmer/internal/logger"
	"skimmer/internal/sanitize"
)

const (
	fetchTimeout   = 15 * time.Second
	maxRedirects   = 5
	maxContentSize = 5 * 1024 * 1024
	minContentLen  = 100

	curlTimeout = 35 * time.Second
)

// browserUA mimics a desktop browser; many sites serve reduced pages to
// unknown agents.
const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// nonArticleSelector matches containers that readability tends to keep but
// that are never article content.
const nonArticleSelector = `[class*='appeal'], [class*='donation'], [class*='donate'],
	[class*='fundrais'], [class*='cookie'], [class*='gdpr'], [class*='consent'],
	[class*='newsletter'], [class*='subscribe'], [class*='modal'],
	[class*='overlay'], [class*='popup']`

// appealPhrases flag donation/paywall interstitials that slip through
// extraction. Two or more hits reject the result.
var appealPhrases = []string{
	"please don't scroll past this",
	"can you chip in",
	"please donate",
	"support us",
	"we need your help",
	"chip in today",
	"make a donation",
	"please pitch in",
}

// challengeMarkers identify a Cloudflare JavaScript challenge page.
var challengeMarkers = []string{
	"just a moment",
	"checking your browser",
	"cf-challenge",
	"challenge-platform",
}

// curlBinaries are TLS-fingerprint-impersonating curl builds probed on PATH,
// in preference order.
var curlBinaries = []string{"curl_chrome116", "curl_chrome110", "curl-impersonate-chrome"}

// ErrChallenge is returned when a page sits behind a browser challenge and
// no impersonating binary can get past it.
var ErrChallenge = errors.New("page protected by browser challenge")

// Result is an extracted article.
type Result struct {
	Title   string
	Content string // sanitized HTML, not truncated
}

// Extractor fetches pages and runs readability extraction.
type Extractor struct {
	client   *http.Client
	curlPath string
}

// New probes PATH for an impersonating curl binary and returns an Extractor.
func New() *Extractor {
	e := &Extractor{
		client: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
	for _, name := range curlBinaries {
		if path, err := exec.LookPath(name); err == nil {
			e.curlPath = path
			break
		}
	}
	return e
}

// Extract fetches url and returns the readable article, falling back to an
// impersonating curl subprocess when the page is challenge-protected.
func (e *Extractor) Extract(ctx context.Context, url string) (*Result, error) {
	html, err := e.fetch(ctx, url)
	if errors.Is(err, ErrChallenge) {
		html, err = e.fetchImpersonated(ctx, url)
	}
	if err != nil {
		return nil, err
	}
	return extractReadable(html)
}

func (e *Extractor) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,pt-BR;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", ErrChallenge
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return "", fmt.Errorf("not an html page: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentSize+1))
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	if len(body) > maxContentSize {
		return "", fmt.Errorf("content too large")
	}

	html := string(body)
	if isChallengePage(html) {
		return "", ErrChallenge
	}
	return html, nil
}

// fetchImpersonated shells out to a curl-impersonate binary, which carries a
// real browser TLS fingerprint past Cloudflare.
func (e *Extractor) fetchImpersonated(ctx context.Context, url string) (string, error) {
	if e.curlPath == "" {
		return "", ErrChallenge
	}
	logger.Info("Falling back to impersonated fetch", "url", url)

	ctx, cancel := context.WithTimeout(ctx, curlTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.curlPath, "-sL", "--max-time", "30", url)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("impersonated fetch failed: %w", err)
	}
	if len(out) > maxContentSize {
		return "", fmt.Errorf("content too large")
	}

	html := string(out)
	if isChallengePage(html) {
		return "", ErrChallenge
	}
	return html, nil
}

func isChallengePage(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// extractReadable strips non-article containers, runs readability and
// sanitizes the result.
func extractReadable(html string) (*Result, error) {
	cleaned := stripNonArticle(html)

	article, err := readability.FromReader(strings.NewReader(cleaned), nil)
	if err != nil {
		return nil, fmt.Errorf("readability failed: %w", err)
	}

	var buf strings.Builder
	if err := article.RenderHTML(&buf); err != nil {
		return nil, fmt.Errorf("failed to render article: %w", err)
	}

	content := sanitize.HTML(buf.String(), false)
	if len(strings.TrimSpace(content)) < minContentLen {
		return nil, fmt.Errorf("could not extract meaningful content")
	}
	if isAppealContent(content) {
		return nil, fmt.Errorf("extracted content is not an article")
	}

	return &Result{Title: strings.TrimSpace(article.Title()), Content: content}, nil
}

// stripNonArticle removes scripts, chrome and known interstitial containers
// before readability sees the document.
func stripNonArticle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	doc.Find("script, style, noscript, iframe, nav, footer, aside").Remove()
	doc.Find(nonArticleSelector).Remove()

	out, err := doc.Html()
	if err != nil || out == "" {
		return html
	}
	return out
}

func isAppealContent(content string) bool {
	lower := strings.ToLower(content)
	hits := 0
	for _, phrase := range appealPhrases {
		if strings.Contains(lower, phrase) {
			hits++
		}
	}
	return hits >= 2
}
