package orchestrator

import (
	"net/url"
	"time"

	"github.com/osint-platform/crawler-core/internal/checkpoint"
	"github.com/osint-platform/crawler-core/internal/formextract"
	"github.com/osint-platform/crawler-core/internal/linkextract"
)

// CrawlResult is delivered to OnPage after a successful fetch and
// extraction: exactly the per-page outcome an external collaborator
// needs, with no orchestrator-internal bookkeeping leaked into it.
type CrawlResult struct {
	URL        url.URL
	Depth      int
	StatusCode int
	Links      []linkextract.Link
	Forms      []formextract.Form
	LoadTime   time.Duration
	FetchedAt  time.Time
}

// CrawlError is delivered to OnError for any per-URL failure in steps
// (c)-(h) of the per-task lifecycle.
type CrawlError struct {
	URL       url.URL
	Err       error
	Timestamp time.Time
	Depth     int
}

// Hooks are the three external callbacks the orchestrator invokes. Each
// is optional (nil is a no-op). OnPage and OnError are invoked
// synchronously from the worker goroutine handling that URL, so slow
// hooks apply backpressure the same way a slow fetch would; OnComplete
// is invoked once from Crawl's own goroutine after all tasks finish.
type Hooks struct {
	OnPage     func(CrawlResult)
	OnError    func(CrawlError)
	OnComplete func(checkpoint.CrawlStats)
}
