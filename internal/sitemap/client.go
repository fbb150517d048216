package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/osint-platform/crawler-core/internal/metadata"
)

const (
	fetchTimeout   = 15 * time.Second
	probeTimeout   = 10 * time.Second
	maxSitemapSize = 32 << 20 // guard against a hostile or misconfigured sitemap server
)

/*
Client

Responsibilities:
- Expand robots.txt-declared and well-known sitemap URLs into page candidates
- Recurse through sitemap indexes, bounded by a visited-sitemap-URL set
- Treat every failure as non-fatal: log and skip, never abort the crawl

Malformed or unreachable sitemaps never stop discovery of the rest.
*/
type Client struct {
	httpClient *http.Client
	userAgent  string
	sink       metadata.MetadataSink
}

// NewClient returns a sitemap Client identifying itself with userAgent on
// every GET/HEAD it issues.
func NewClient(sink metadata.MetadataSink, userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: fetchTimeout},
		userAgent:  userAgent,
		sink:       sink,
	}
}

// Discover expands declaredSitemaps (typically robots.txt's Sitemaps
// field) plus, if declaredSitemaps is empty, a HEAD probe of the
// well-known sitemap paths under seedOrigin. It returns the union of
// entries found across every reachable sitemap, deduplicated by Loc.
func (c *Client) Discover(ctx context.Context, seedOrigin string, declaredSitemaps []string) []Entry {
	roots := declaredSitemaps
	if len(roots) == 0 {
		roots = c.probeWellKnown(ctx, seedOrigin)
	}

	visited := make(map[string]struct{})
	seen := make(map[string]struct{})
	var out []Entry

	for _, root := range roots {
		for _, e := range c.expand(ctx, root, visited) {
			if _, dup := seen[e.Loc]; dup {
				continue
			}
			seen[e.Loc] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// probeWellKnown issues a HEAD request for each well-known sitemap path
// under seedOrigin and returns those that answered 200.
func (c *Client) probeWellKnown(ctx context.Context, seedOrigin string) []string {
	var found []string
	for _, p := range wellKnownPaths {
		candidate := seedOrigin + p
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, candidate, nil)
		if err != nil {
			cancel()
			continue
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		cancel()
		if err != nil {
			c.recordError("probeWellKnown", candidate, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			found = append(found, candidate)
		}
	}
	return found
}

// expand fetches sitemapURL and, recursively, every sitemap it indexes.
// visited guards against cyclic sitemap indexes; a URL already in visited
// is skipped without a second fetch.
func (c *Client) expand(ctx context.Context, sitemapURL string, visited map[string]struct{}) []Entry {
	if _, already := visited[sitemapURL]; already {
		return nil
	}
	visited[sitemapURL] = struct{}{}

	body, err := c.fetch(ctx, sitemapURL)
	if err != nil {
		c.recordError("expand", sitemapURL, err)
		return nil
	}

	if idx, ok := decodeSitemapIndex(body); ok {
		var out []Entry
		for _, ref := range idx.Sitemaps {
			if ref.Loc == "" {
				continue
			}
			out = append(out, c.expand(ctx, ref.Loc, visited)...)
		}
		return out
	}

	set, err := decodeURLSet(body)
	if err != nil {
		c.recordError("expand", sitemapURL, err)
		return nil
	}
	return toEntries(set)
}

func (c *Client) fetch(ctx context.Context, target string) ([]byte, error) {
	if _, err := url.Parse(target); err != nil {
		return nil, fmt.Errorf("invalid sitemap url %q: %w", target, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap %s returned status %d", target, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxSitemapSize))
}

func (c *Client) recordError(action, target string, err error) {
	if c.sink == nil {
		return
	}
	c.sink.RecordError(
		time.Now(),
		"sitemap",
		action,
		metadata.CauseNetworkFailure,
		err.Error(),
		[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, target)},
	)
}

// decodeSitemapIndex reports whether body's root element is <sitemapindex>.
// A urlset document (or anything else) returns ok=false without error,
// since sitemapindex vs urlset is determined by probing, not failing.
func decodeSitemapIndex(body []byte) (sitemapIndex, bool) {
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(body, &probe); err != nil {
		return sitemapIndex{}, false
	}
	if probe.XMLName.Local != "sitemapindex" {
		return sitemapIndex{}, false
	}

	var idx sitemapIndex
	if err := xml.Unmarshal(body, &idx); err != nil {
		return sitemapIndex{}, false
	}
	return idx, true
}

func decodeURLSet(body []byte) (urlSet, error) {
	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return urlSet{}, err
	}
	return set, nil
}

func toEntries(set urlSet) []Entry {
	out := make([]Entry, 0, len(set.URLs))
	for _, u := range set.URLs {
		if u.Loc == "" {
			continue
		}
		entry := Entry{Loc: u.Loc, ChangeFreq: u.ChangeFreq}
		if u.LastMod != "" {
			if t, err := parseLastMod(u.LastMod); err == nil {
				entry.LastMod = t
			}
		}
		if u.Priority != "" {
			if p, err := strconv.ParseFloat(u.Priority, 64); err == nil {
				entry.Priority = p
			}
		}
		out = append(out, entry)
	}
	return out
}

var lastModLayouts = []string{
	time.RFC3339,
	"2006-01-02",
}

func parseLastMod(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
