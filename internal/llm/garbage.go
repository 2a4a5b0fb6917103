package llm

import "strings"

// garbagePatterns flag error, session and paywall pages that should never be
// sent upstream for summarization.
var garbagePatterns = []string{
	// GitHub session pages
	"reload to refresh your session",
	"you signed in with another tab",
	"you signed out in another tab",
	"you switched accounts on another tab",
	"you can't perform that action at this time",
	"octocat-spinner",
	// Generic error pages
	"access denied",
	"403 forbidden",
	"404 not found",
	"500 internal server error",
	"502 bad gateway",
	"503 service unavailable",
	"page not found",
	// Paywalls and login walls
	"subscribe to continue reading",
	"create an account to continue",
	"sign in to continue",
	"this content is for subscribers only",
	// Cookie walls
	"we use cookies",
	"accept all cookies",
	"manage cookie preferences",
}

// IsGarbage reports whether content looks like an error/session/paywall page
// with no real article in it.
func IsGarbage(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < 50 {
		return true
	}

	lower := strings.ToLower(content)
	matches := 0
	for _, pattern := range garbagePatterns {
		if strings.Contains(lower, pattern) {
			matches++
		}
	}

	if matches >= 2 {
		return true
	}
	return matches >= 1 && len(trimmed) < 200
}
