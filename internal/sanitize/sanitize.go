// Package sanitize filters untrusted feed HTML down to a safe subset.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MaxContentLength caps the stored short content of a post.
const MaxContentLength = 500

// hrefPattern allows http(s), relative paths and fragment anchors on links.
var hrefPattern = regexp.MustCompile(`(?i)^(https?://|/|#)\S*$`)

// srcPattern allows https and inline images only; plain http is rejected to
// avoid mixed content.
var srcPattern = regexp.MustCompile(`(?i)^(https://|data:image/|/)\S*$`)

var (
	contentPolicy = newContentPolicy()
	textPolicy    = bluemonday.StrictPolicy()

	anchorTag  = regexp.MustCompile(`(?i)<a\s[^>]*>`)
	relAttr    = regexp.MustCompile(`(?i)\s+rel="[^"]*"`)
	targetAttr = regexp.MustCompile(`(?i)\s+target="[^"]*"`)
	spaces     = regexp.MustCompile(`\s+`)
)

func newContentPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "b", "em", "i", "u", "s", "strike", "del", "ins",
		"table", "thead", "tbody", "tr",
		"figure", "figcaption",
		"div", "span", "sub", "sup",
	)

	p.AllowAttrs("class", "id").Globally()
	p.AllowAttrs("href").Matching(hrefPattern).OnElements("a")
	p.AllowAttrs("title").OnElements("a")
	p.AllowAttrs("src").Matching(srcPattern).OnElements("img")
	p.AllowAttrs("alt", "title", "width", "height").OnElements("img")
	p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
	p.AllowElements("td", "th")
	// Anchors without an href survive; images without a safe src do not.
	p.AllowNoAttrs().OnElements("a")

	return p
}

// HTML sanitizes feed HTML: disallowed tags are stripped, event handlers and
// unsafe URL schemes removed, and every link rewritten to open in a new tab
// with rel="noopener noreferrer". When truncate is true the result is capped
// at MaxContentLength characters at a tag-safe boundary.
func HTML(html string, truncate bool) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	out := contentPolicy.Sanitize(html)
	out = rewriteLinks(out)

	if truncate && len(out) > MaxContentLength {
		out = truncateSafely(out, MaxContentLength) + "..."
	}

	out = strings.TrimSpace(spaces.ReplaceAllString(out, " "))
	return out
}

// rewriteLinks forces rel and target on every anchor.
func rewriteLinks(html string) string {
	return anchorTag.ReplaceAllStringFunc(html, func(tag string) string {
		tag = relAttr.ReplaceAllString(tag, "")
		tag = targetAttr.ReplaceAllString(tag, "")
		return strings.Replace(tag, "<a ", `<a rel="noopener noreferrer" target="_blank" `, 1)
	})
}

// truncateSafely cuts html at limit without leaving a dangling open bracket.
func truncateSafely(html string, limit int) string {
	cut := html[:limit]
	if lt := strings.LastIndex(cut, "<"); lt > strings.LastIndex(cut, ">") {
		cut = cut[:lt]
	}
	return cut
}

// ExtractText strips all markup and collapses whitespace, returning the
// plain text of an HTML fragment.
func ExtractText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	text := textPolicy.Sanitize(html)
	return strings.TrimSpace(spaces.ReplaceAllString(text, " "))
}
