package orchestrator

import (
	"context"
	"net/url"

	"github.com/osint-platform/crawler-core/internal/formextract"
	"github.com/osint-platform/crawler-core/internal/linkextract"
	"github.com/osint-platform/crawler-core/internal/robots"
	"github.com/osint-platform/crawler-core/internal/sitemap"
	"github.com/osint-platform/crawler-core/pkg/failure"
)

// robotsClient is the subset of robots.CachedRobot the orchestrator
// depends on. Declared locally (the teacher's scheduler package refers
// to a robots.Robot type that was never actually declared) so tests can
// substitute a double without reaching into the robots package.
type robotsClient interface {
	Init(userAgent string)
	Decide(u url.URL) (robots.Decision, error)
	Sitemaps(u url.URL) ([]string, error)
}

// sitemapDiscoverer is the subset of *sitemap.Client the orchestrator
// depends on for the Initialize step's optional sitemap expansion.
type sitemapDiscoverer interface {
	Discover(ctx context.Context, seedOrigin string, declaredSitemaps []string) []sitemap.Entry
}

// linkExtractorDep is the subset of linkextract.Extractor the orchestrator
// depends on.
type linkExtractorDep interface {
	Extract(base url.URL, htmlBytes []byte, extractJS bool) ([]linkextract.Link, failure.ClassifiedError)
}

// formExtractorDep is the subset of formextract.Extractor the orchestrator
// depends on.
type formExtractorDep interface {
	Extract(base url.URL, htmlBytes []byte) ([]formextract.Form, []linkextract.Link, failure.ClassifiedError)
}
