// Package mimefilter decides whether a fetched response should be accepted
// for extraction based on its declared Content-Type.
package mimefilter

import "strings"

// Filter holds the allow/block MIME lists configured for a crawl run.
//
// Matching rules:
//   - the Content-Type is normalized (parameters after ';' stripped, lowercased, trimmed)
//   - an entry may be an exact MIME type ("text/html") or a category wildcard ("image/*")
//   - if Blocked is non-empty and the MIME matches it, the response is rejected
//   - else if Allowed is non-empty, the response is accepted only on a match
//   - else the response is accepted
type Filter struct {
	Allowed []string
	Blocked []string
}

// New builds a Filter from the given allow/block lists.
func New(allowed, blocked []string) Filter {
	return Filter{Allowed: allowed, Blocked: blocked}
}

// Accepts reports whether contentType passes this filter's policy.
func Accepts(contentType string, f Filter) bool {
	normalized := Normalize(contentType)

	if len(f.Blocked) > 0 && matchesAny(normalized, f.Blocked) {
		return false
	}
	if len(f.Allowed) > 0 {
		return matchesAny(normalized, f.Allowed)
	}
	return true
}

// Normalize strips any ";charset=..." parameters, trims whitespace, and
// lowercases the MIME type.
func Normalize(contentType string) string {
	mime := contentType
	if idx := strings.IndexByte(mime, ';'); idx != -1 {
		mime = mime[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

func matchesAny(mime string, patterns []string) bool {
	for _, p := range patterns {
		pattern := Normalize(p)
		if pattern == mime {
			return true
		}
		if strings.HasSuffix(pattern, "/*") {
			category := strings.TrimSuffix(pattern, "/*")
			if strings.HasPrefix(mime, category+"/") {
				return true
			}
		}
	}
	return false
}

// Preset MIME lists referenced by configuration. Each is a copy so callers
// are free to mutate the slice they receive.
var (
	HTMLOnly   = []string{"text/html", "application/xhtml+xml"}
	TextTypes  = []string{"text/*"}
	Images     = []string{"image/*"}
	Documents  = []string{
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}
	Crawlable = []string{"text/html", "application/xhtml+xml", "application/xml", "text/plain"}
)

// Preset returns a copy of a named preset list, and whether the name was
// recognized.
func Preset(name string) ([]string, bool) {
	switch name {
	case "HTML_ONLY":
		return append([]string(nil), HTMLOnly...), true
	case "TEXT_TYPES":
		return append([]string(nil), TextTypes...), true
	case "IMAGES":
		return append([]string(nil), Images...), true
	case "DOCUMENTS":
		return append([]string(nil), Documents...), true
	case "CRAWLABLE":
		return append([]string(nil), Crawlable...), true
	default:
		return nil, false
	}
}
