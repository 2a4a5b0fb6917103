// Package hashing computes content-addressed hashes for deduplication and
// summary sharing.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"skimmer/internal/sanitize"
)

// maxHashSize bounds the normalized text fed to the hash; larger inputs are
// reduced to their head and tail halves so edits anywhere still change the
// hash.
const maxHashSize = 200 * 1024

// boilerplatePatterns match text that varies between fetches of the same
// article (timestamps, share buttons, newsletter banners).
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}\b`),
	regexp.MustCompile(`\b\d{1,2}:\d{2}(:\d{2})?\s*(am|pm)?\b`),
	regexp.MustCompile(`\b(leia|read|continue|ver|see)\s+(mais|more|reading|lendo)\b`),
	regexp.MustCompile(`\b(clique|click)\s+(aqui|here)\b`),
	regexp.MustCompile(`\b(share|compartilha|compartilhe|tweet|retweet)\b`),
	regexp.MustCompile(`\b(newsletter|subscribe|inscreva-se|cadastre-se)\b`),
}

var whitespace = regexp.MustCompile(`\s+`)

// normalizeForHash lowercases, strips boilerplate and collapses whitespace.
func normalizeForHash(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ToLower(text)
	for _, p := range boilerplatePatterns {
		text = p.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// ContentHash returns the SHA-256 hex of the normalized (title + url + text)
// of a post, or "" when the content has no extractable text. Title and URL
// are included so minimal-content posts with distinct titles hash
// distinctly.
func ContentHash(content, title, url string) string {
	if content == "" {
		return ""
	}

	text := sanitize.ExtractText(content)
	if text == "" {
		return ""
	}

	var parts []string
	for _, p := range []string{title, url, text} {
		if p != "" {
			parts = append(parts, p)
		}
	}

	normalized := normalizeForHash(strings.Join(parts, "\n"))
	if normalized == "" {
		return ""
	}

	if len(normalized) > maxHashSize {
		half := maxHashSize / 2
		normalized = normalized[:half] + normalized[len(normalized)-half:]
	}

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
