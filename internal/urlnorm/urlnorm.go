// Package urlnorm canonicalizes URLs for deduplication.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters stripped during normalization.
// Prefix entries (ending in "*") match any parameter with that prefix.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"gclsrc":  true,
	"dclid":   true,
	"twclid":  true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
	"_ga":     true,
	"_gl":     true,
	"ref":     true,
	"source":  true,
	"via":     true,
}

var trackingPrefixes = []string{"utm_", "hsa_", "fb_"}

func isTrackingParam(name string) bool {
	name = strings.ToLower(name)
	if trackingParams[name] {
		return true
	}
	for _, p := range trackingPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize canonicalizes a URL for comparison:
// scheme and hostname lowercased, default port and fragment removed,
// trailing slash stripped (except root), tracking parameters removed and the
// remaining query sorted. Returns "" for URLs that are rejected: non-http(s)
// schemes, embedded userinfo, or an empty hostname.
//
// The result is idempotent: Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	if u.User != nil {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}

	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}
	netloc := host
	if port != "" {
		netloc = host + ":" + port
	}

	path := u.EscapedPath()
	if path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}

	query := normalizeQuery(u.Query())

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(netloc)
	b.WriteString(path)
	if query != "" {
		b.WriteString("?")
		b.WriteString(query)
	}
	return b.String()
}

func normalizeQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if !isTrackingParam(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		for _, v := range values[k] {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(pairs, "&")
}

// Domain extracts the lowercase hostname from a URL, or "" if invalid.
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
