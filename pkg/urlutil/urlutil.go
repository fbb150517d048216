package urlutil

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/osint-platform/crawler-core/pkg/hashutil"
)

// indexFileRe matches terminal directory-index filenames that are
// equivalent to the directory itself (e.g. "/docs/index.html" == "/docs/").
var indexFileRe = regexp.MustCompile(`(?i)/(index|default)\.(html?|php|asp|aspx|jsp)$`)

// Canonicalize applies a deterministic normalization to a URL, producing a canonical form.
// It maps equivalent URL spellings to a single canonical representation.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased
//   - Default ports are omitted (e.g., :80 for http, :443 for https)
//   - Fragment is removed
//   - Query parameters are sorted by key (stable on key, values preserved)
//   - Path is cleaned (trailing slashes removed, except for root "/")
//   - A terminal directory-index filename (index.html, default.php, ...) is stripped
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(url)) == Canonicalize(url)
//   - Context-free: does not depend on crawl history
func Canonicalize(sourceUrl url.URL) url.URL {
	// Create a copy to avoid mutating the original
	canonical := sourceUrl

	// Lowercase scheme and host
	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	// Remove default port if present
	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	// Remove fragment (anchor)
	canonical.Fragment = ""
	canonical.RawFragment = ""

	// Sort query parameters by key; values are preserved as-is. A bare
	// "?" with no parameters is dropped.
	canonical.ForceQuery = false
	if canonical.RawQuery != "" {
		canonical.RawQuery = sortedQuery(canonical.Query())
	}

	// Strip a terminal directory-index filename before trimming the
	// trailing slash, so "/docs/index.html" and "/docs/" converge.
	canonical.Path = indexFileRe.ReplaceAllString(canonical.Path, "/")

	// Clean the path: remove trailing slashes (except root)
	if len(canonical.Path) > 1 {
		canonical.Path = stripTrailingSlash(canonical.Path)
	}

	return canonical
}

// sortedQuery re-serializes query parameters with keys in lexicographic
// order. url.Values.Encode already sorts by key, but we go through it
// explicitly so the ordering guarantee is visible at the call site.
func sortedQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		for j, v := range values[k] {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// IdentityHash returns the hex-encoded digest used as a canonical URL's
// identity key throughout a crawl run.
func IdentityHash(canonical url.URL) string {
	digest, err := hashutil.HashBytes([]byte(canonical.String()), hashutil.HashAlgoSHA256)
	if err != nil {
		// HashBytes only fails on an unsupported algorithm constant;
		// HashAlgoSHA256 is always supported.
		panic(err)
	}
	return digest
}

// IsCrawlableScheme reports whether scheme is a scheme the crawler will
// ever dispatch a fetch for.
func IsCrawlableScheme(scheme string) bool {
	s := lowerASCII(scheme)
	return s == "http" || s == "https"
}

// SameHost reports whether two URLs share the same host (case-insensitively).
func SameHost(a, b url.URL) bool {
	return lowerASCII(a.Hostname()) == lowerASCII(b.Hostname())
}

// MatchesDomainList reports whether u's host matches any pattern in the list.
// A pattern "*.example.com" matches "example.com" and any subdomain of it;
// any other pattern must match the host exactly (case-insensitively).
func MatchesDomainList(u url.URL, patterns []string) bool {
	host := lowerASCII(u.Hostname())
	for _, pattern := range patterns {
		p := lowerASCII(pattern)
		if strings.HasPrefix(p, "*.") {
			suffix := p[1:] // ".example.com"
			base := p[2:]   // "example.com"
			if host == base || strings.HasSuffix(host, suffix) {
				return true
			}
			continue
		}
		if host == p {
			return true
		}
	}
	return false
}

// MatchesAny reports whether u's string form matches any of the given
// regular expressions.
func MatchesAny(u url.URL, patterns []*regexp.Regexp) bool {
	s := u.String()
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// lowerASCII converts ASCII characters to lowercase without allocating.
// This is faster than strings.ToLower for ASCII-only strings.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// stripTrailingSlash removes trailing slashes from a path.
func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
