package search

import (
	"errors"
	"html"
	"net/url"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var englishIndicators = map[string]struct{}{
	"the": {}, "is": {}, "are": {}, "was": {}, "were": {}, "been": {}, "being": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {},
	"will": {}, "would": {}, "could": {}, "should": {}, "may": {}, "might": {},
	"and": {}, "but": {}, "or": {}, "because": {}, "if": {}, "when": {}, "while": {},
}

// IsEnglish is a cheap language heuristic: more than 5% of the words must be
// common English function words. Empty text is rejected; one or two words
// are too short to judge and pass.
func IsEnglish(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return false
	}
	if len(words) < 3 {
		return true
	}
	matches := 0
	for _, w := range words {
		if _, ok := englishIndicators[w]; ok {
			matches++
		}
	}
	return float64(matches)/float64(len(words)) > 0.05
}

func declaredEnglish(lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	return lang == "" || lang == "en" || strings.HasPrefix(lang, "en-") || strings.HasPrefix(lang, "en_")
}

var strictPolicy = bluemonday.StrictPolicy()

// Sanitize strips markup from provider text and collapses whitespace.
func Sanitize(s string) string {
	clean := html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.Join(strings.Fields(clean), " ")
}

var errInvalidURL = errors.New("invalid url")

// NormalizeURL canonicalises an http(s) URL for dedup: lowercase scheme and
// host, no fragment, no trailing slash, sorted query parameters.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errInvalidURL
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return raw, nil
	}
	if parsed.Host == "" {
		return "", errInvalidURL
	}
	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	if parsed.RawQuery != "" {
		params := parsed.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		parsed.RawQuery = b.String()
	}
	return parsed.String(), nil
}
