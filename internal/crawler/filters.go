package crawler

import (
	"net/url"
	"strings"
)

// Skip reasons recorded in crawl statistics. The first failing filter wins.
const (
	SkipHost      = "host"
	SkipDenylist  = "denylist"
	SkipAllowlist = "allowlist"
	SkipExtension = "extension"
	SkipScheme    = "scheme"
	SkipHostCap   = "host_cap"
	SkipRobots    = "robots"
	SkipEmpty     = "empty_text"
)

// nonHTMLExtensions are path suffixes the crawler never fetches.
var nonHTMLExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".pdf", ".zip", ".mp4", ".mp3",
}

// hostAllowed reports whether the URL's host is in the seed-derived allow set.
// An empty set allows every host.
func hostAllowed(u *url.URL, allowedHosts map[string]struct{}) bool {
	if len(allowedHosts) == 0 {
		return true
	}
	_, ok := allowedHosts[u.Host]
	return ok
}

// denyReason returns the first matching denylist rule, or "" when none match.
// Matching is case-insensitive substring over the whole URL.
func denyReason(rawURL string, denylist []string) string {
	urlLower := strings.ToLower(rawURL)
	for _, rule := range denylist {
		ruleLower := strings.ToLower(strings.TrimSpace(rule))
		if ruleLower != "" && strings.Contains(urlLower, ruleLower) {
			return rule
		}
	}
	return ""
}

// matchesAllowlist reports whether the URL matches at least one allowlist rule.
// An empty allowlist allows everything.
func matchesAllowlist(rawURL string, allowlist []string) bool {
	rules := make([]string, 0, len(allowlist))
	for _, rule := range allowlist {
		if s := strings.TrimSpace(rule); s != "" {
			rules = append(rules, s)
		}
	}
	if len(rules) == 0 {
		return true
	}
	urlLower := strings.ToLower(rawURL)
	for _, rule := range rules {
		if strings.Contains(urlLower, strings.ToLower(rule)) {
			return true
		}
	}
	return false
}

// isHTMLURL rejects URLs whose path ends in a known non-HTML extension.
func isHTMLURL(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, ext := range nonHTMLExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}

// schemeAllowed restricts crawling to http and https.
func schemeAllowed(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}
