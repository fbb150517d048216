package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/osint-platform/crawler-core/internal/metadata"
	"github.com/osint-platform/crawler-core/pkg/failure"
	"github.com/osint-platform/crawler-core/pkg/retry"
)

/*
Responsibilities

- Perform HTTP requests
- Apply headers and timeouts
- Handle redirects safely
- Classify responses by status/network outcome

Fetch Semantics

- Any status in [200, 400) is accepted; content-type acceptance is a
  separate downstream concern (see mimefilter).
- Redirect chains are bounded by the injected http.Client.
- All responses are logged with metadata.

The fetcher never parses content; it only returns bytes and metadata.
*/

type HtmlFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
	userAgent    string
}

func NewHtmlFetcher(
	metadataSink metadata.MetadataSink,
) HtmlFetcher {
	return HtmlFetcher{
		metadataSink: metadataSink,
		httpClient:   &http.Client{},
	}
}

// Init binds the HTTP client (timeout and redirect policy are the
// caller's responsibility) and the User-Agent sent on every request.
func (h *HtmlFetcher) Init(httpClient *http.Client, userAgent string) {
	h.httpClient = httpClient
	h.userAgent = userAgent
}

func (h *HtmlFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	target url.URL,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "HtmlFetcher.Fetch"
	startTime := time.Now()

	result, attempts, err := h.fetchWithRetry(ctx, target, retryParam)

	duration := time.Since(startTime)

	var statusCode int
	var contentType string
	retryCount := attempts

	if err == nil {
		statusCode = result.Code()
		contentType = result.ContentType()
	}

	h.metadataSink.RecordFetch(
		target.String(),
		statusCode,
		duration,
		contentType,
		retryCount,
		crawlDepth,
	)

	if err != nil {
		if errors.Is(err, &retry.RetryError{}) {
			h.recordRetryError(callerMethod, target, err)
		} else {
			h.recordFetchError(callerMethod, target, err)
		}
		return FetchResult{}, err
	}

	return result, nil
}

func (h *HtmlFetcher) recordFetchError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var fetchError *FetchError
	if errors.As(err, &fetchError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			mapFetchErrorToMetadataCause(fetchError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HtmlFetcher) recordRetryError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var retryError *retry.RetryError
	if errors.As(err, &retryError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			metadata.CauseRetryFailure,
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrMessage, retryError.Error()),
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HtmlFetcher) fetchWithRetry(ctx context.Context, fetchUrl url.URL, retryParam retry.RetryParam) (FetchResult, int, failure.ClassifiedError) {
	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		return h.performFetch(ctx, fetchUrl)
	}

	outcome := retry.Retry(retryParam, fetchTask)
	if outcome.IsFailure() {
		retryErr := outcome.Err()
		var fetchErr *FetchError
		if errors.As(retryErr, &fetchErr) {
			return FetchResult{}, outcome.Attempts(), fetchErr
		}
		return FetchResult{}, outcome.Attempts(), retryErr
	}

	return outcome.Value(), outcome.Attempts(), nil
}

func (h *HtmlFetcher) performFetch(ctx context.Context, fetchUrl url.URL) (FetchResult, failure.ClassifiedError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchUrl.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseNetworkFailure,
		}
	}

	for key, value := range requestHeaders(h.userAgent) {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     ErrCauseNetworkFailure,
		}
	}
	defer resp.Body.Close()

	// Success range per the fetch contract: [200, 400).
	switch {
	case resp.StatusCode >= 500:
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("server error: %d", resp.StatusCode),
			Retryable: true,
			Cause:     ErrCauseRequest5xx,
		}

	case resp.StatusCode == 429:
		return FetchResult{}, &FetchError{
			Message:   "rate limited (429)",
			Retryable: true,
			Cause:     ErrCauseRequestTooMany,
		}

	case resp.StatusCode == 403:
		return FetchResult{}, &FetchError{
			Message:   "access forbidden (403)",
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("client error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}
	}

	// Anything else - [200,300) or an unconsumed [300,400) redirect the
	// injected client chose to surface rather than follow - is success
	// per the fetch contract's accepted range [200, 400).

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to read response body: %v", err),
			Retryable: true,
			Cause:     ErrCauseReadResponseBodyError,
		}
	}

	responseHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	result := FetchResult{
		url:       fetchUrl,
		body:      body,
		fetchedAt: time.Now(),
		meta: ResponseMeta{
			statusCode:      resp.StatusCode,
			responseHeaders: responseHeaders,
		},
	}

	return result, nil
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"DNT":             "1",
		"Connection":      "keep-alive",
	}
}
