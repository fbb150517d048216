package linkextract

import (
	"bytes"
	"net/url"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/osint-platform/crawler-core/internal/metadata"
	"github.com/osint-platform/crawler-core/pkg/failure"
)

/*
Responsibilities
- Parse HTML into a DOM tree
- Walk it for every outbound-URL-bearing element
- Resolve each one against the page's base URL
- Optionally scan raw bytes for JS-embedded URLs

Extraction never fails the crawl: an individual unresolvable URL is
skipped silently, and only a wholly unparseable document is reported as
an error. Dedup happens at frontier admission, not here.
*/

type Extractor struct {
	metadataSink metadata.MetadataSink
}

func NewExtractor(metadataSink metadata.MetadataSink) Extractor {
	return Extractor{metadataSink: metadataSink}
}

// Extract walks htmlBytes and returns every candidate outbound link found,
// in discovery order. When extractJS is true, the raw bytes are also
// scanned with the JAVASCRIPT heuristics.
func (x Extractor) Extract(base url.URL, htmlBytes []byte, extractJS bool) ([]Link, failure.ClassifiedError) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		extractionErr := &ExtractionError{Message: err.Error(), Cause: ErrCauseNotParseable}
		if x.metadataSink != nil {
			x.metadataSink.RecordError(
				time.Now(),
				"linkextract",
				"Extractor.Extract",
				metadata.CauseContentInvalid,
				extractionErr.Error(),
				[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, base.String())},
			)
		}
		return nil, extractionErr
	}

	var links []Link

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if l, ok := resolve(base, href, Anchor, attrsOf(s)); ok {
			l.AnchorText = s.Text()
			links = append(links, l)
		}
	})

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if l, ok := resolve(base, src, Image, attrsOf(s)); ok {
			links = append(links, l)
		}
	})

	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if l, ok := resolve(base, src, Script, attrsOf(s)); ok {
			links = append(links, l)
		}
	})

	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		rel, _ := s.Attr("rel")
		typ := Other
		if rel == "stylesheet" {
			typ = Stylesheet
		}
		if l, ok := resolve(base, href, typ, attrsOf(s)); ok {
			links = append(links, l)
		}
	})

	doc.Find("iframe[src], frame[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if l, ok := resolve(base, src, Frame, attrsOf(s)); ok {
			links = append(links, l)
		}
	})

	if extractJS {
		links = append(links, x.extractJSLinks(base, htmlBytes)...)
	}

	return links, nil
}

func resolve(base url.URL, raw string, typ LinkType, attrs map[string]string) (Link, bool) {
	if raw == "" {
		return Link{}, false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return Link{}, false
	}
	resolved := base.ResolveReference(ref)
	return Link{URL: resolved.String(), Type: typ, Attrs: attrs}, true
}

func attrsOf(s *goquery.Selection) map[string]string {
	if len(s.Nodes) == 0 {
		return nil
	}
	node := s.Nodes[0]
	if len(node.Attr) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(node.Attr))
	for _, a := range node.Attr {
		attrs[a.Key] = a.Val
	}
	return attrs
}

var (
	jsQuotedURLRe      = regexp.MustCompile(`["'](//[^\s"']+|https?://[^\s"']+)["']`)
	jsLocationAssignRe = regexp.MustCompile(`window\.location(?:\.href)?\s*=\s*["']([^"']+)["']`)
	jsCallURLRe        = regexp.MustCompile(`(?:fetch|ajax|\.get|\.post)\(\s*["']([^"']+)["']`)
)

// extractJSLinks applies the optional JS heuristic: it scans the raw
// document bytes (not just <script> contents) for quoted URL literals,
// window.location assignments, and fetch/ajax/get/post call targets.
// Matches are heuristic and may include false positives.
func (x Extractor) extractJSLinks(base url.URL, raw []byte) []Link {
	var out []Link
	seen := make(map[string]struct{})

	add := func(candidate string) {
		ref, err := url.Parse(candidate)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref).String()
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		out = append(out, Link{URL: resolved, Type: Javascript})
	}

	for _, m := range jsQuotedURLRe.FindAllSubmatch(raw, -1) {
		add(string(m[1]))
	}
	for _, m := range jsLocationAssignRe.FindAllSubmatch(raw, -1) {
		add(string(m[1]))
	}
	for _, m := range jsCallURLRe.FindAllSubmatch(raw, -1) {
		add(string(m[1]))
	}

	return out
}
