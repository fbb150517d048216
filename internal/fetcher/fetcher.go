package fetcher

import (
	"context"
	"net/http"
	"net/url"

	"github.com/osint-platform/crawler-core/pkg/failure"
	"github.com/osint-platform/crawler-core/pkg/retry"
)

// Fetcher performs the single HTTP GET per admitted URL. It never parses
// or filters content - status/redirect/network classification only.
type Fetcher interface {
	Init(httpClient *http.Client, userAgent string)
	Fetch(
		ctx context.Context,
		crawlDepth int,
		target url.URL,
		retryParam retry.RetryParam,
	) (FetchResult, failure.ClassifiedError)
}
