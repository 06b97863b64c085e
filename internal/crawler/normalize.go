package crawler

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters stripped during normalization.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"mc_cid":       {},
	"mc_eid":       {},
}

// Normalize canonicalizes a URL: drops the fragment, removes tracking query
// parameters, sorts the remaining query pairs by name, and strips a trailing
// slash from any path other than "/". Idempotent; unparseable input is
// returned unchanged.
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		u.RawQuery = normalizeQuery(u.RawQuery)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	u.Path = path
	u.RawPath = ""

	return u.String()
}

type queryPair struct {
	key   string
	value string
}

func normalizeQuery(rawQuery string) string {
	var pairs []queryPair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			decodedKey = key
		}
		if _, tracked := trackingParams[strings.ToLower(decodedKey)]; tracked {
			continue
		}
		pairs = append(pairs, queryPair{key: key, value: value})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.key+"="+p.value)
	}
	return strings.Join(parts, "&")
}
