package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/osint-platform/crawler-core/internal/checkpoint"
	"github.com/osint-platform/crawler-core/internal/config"
	"github.com/osint-platform/crawler-core/internal/fetcher"
	"github.com/osint-platform/crawler-core/internal/formextract"
	"github.com/osint-platform/crawler-core/internal/linkextract"
	"github.com/osint-platform/crawler-core/internal/metadata"
	"github.com/osint-platform/crawler-core/internal/orchestrator"
	"github.com/osint-platform/crawler-core/internal/robots"
	"github.com/osint-platform/crawler-core/internal/sitemap"
	"github.com/osint-platform/crawler-core/pkg/failure"
	"github.com/osint-platform/crawler-core/pkg/retry"
	"github.com/osint-platform/crawler-core/pkg/timeutil"
	"github.com/osint-platform/crawler-core/pkg/urlutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return *u
}

// fakeRobots disallows exact URLs named in disallowed and fails Decide
// outright for URLs named in failDecide; everything else is allowed.
type fakeRobots struct {
	disallowed map[string]bool
	failDecide map[string]bool
	sitemaps   []string
}

func (f *fakeRobots) Init(string) {}

func (f *fakeRobots) Decide(u url.URL) (robots.Decision, error) {
	if f.failDecide[u.String()] {
		return robots.Decision{}, errors.New("robots.txt fetch failed: 503")
	}
	if f.disallowed[u.String()] {
		return robots.Decision{Url: u, Allowed: false, Reason: robots.DisallowedByRobots}, nil
	}
	return robots.Decision{Url: u, Allowed: true, Reason: robots.AllowedByRobots}, nil
}

func (f *fakeRobots) Sitemaps(url.URL) ([]string, error) {
	return f.sitemaps, nil
}

type fakeSitemapClient struct {
	entries []sitemap.Entry
}

func (f *fakeSitemapClient) Discover(context.Context, string, []string) []sitemap.Entry {
	return f.entries
}

// fakeFetcher returns a canned HTML page for any URL not listed in fail,
// and a non-retryable FetchError for any URL that is.
type fakeFetcher struct {
	fail map[string]bool
}

func (f *fakeFetcher) Init(*http.Client, string) {}

func (f *fakeFetcher) Fetch(_ context.Context, _ int, target url.URL, _ retry.RetryParam) (fetcher.FetchResult, failure.ClassifiedError) {
	key := target.String()
	if f.fail[key] {
		return fetcher.FetchResult{}, &fetcher.FetchError{Message: "forbidden", Retryable: false, Cause: fetcher.ErrCauseRequestPageForbidden}
	}
	return fetcher.NewFetchResultForTest(
		target,
		[]byte("<html><body>ok</body></html>"),
		200,
		map[string]string{"Content-Type": "text/html"},
		time.Now(),
	), nil
}

// fakeLinkExtractor returns a fixed link set keyed by the page URL it was
// called with.
type fakeLinkExtractor struct {
	linksByURL map[string][]linkextract.Link
}

func (f *fakeLinkExtractor) Extract(base url.URL, _ []byte, _ bool) ([]linkextract.Link, failure.ClassifiedError) {
	return f.linksByURL[base.String()], nil
}

type fakeFormExtractor struct{}

func (f *fakeFormExtractor) Extract(url.URL, []byte) ([]formextract.Form, []linkextract.Link, failure.ClassifiedError) {
	return nil, nil, nil
}

// noopLimiter never delays or backs off, so tests run fast regardless of
// config's politeness fields.
type noopLimiter struct{}

func (noopLimiter) SetBaseDelay(time.Duration)               {}
func (noopLimiter) SetJitter(time.Duration)                  {}
func (noopLimiter) SetRandomSeed(int64)                      {}
func (noopLimiter) SetBackoffParam(timeutil.BackoffParam)    {}
func (noopLimiter) SetCrawlDelay(string, time.Duration)      {}
func (noopLimiter) Backoff(string) time.Duration             { return 0 }
func (noopLimiter) ResetBackoff(string)                      {}
func (noopLimiter) ResolveDelay(string) time.Duration        { return 0 }
func (noopLimiter) WaitForHost(context.Context, string) error { return nil }

func newTestOrchestrator(
	hooks orchestrator.Hooks,
	robot *fakeRobots,
	fetch *fakeFetcher,
	links *fakeLinkExtractor,
) *orchestrator.Orchestrator {
	recorder := metadata.NewRecorder(100)
	return orchestrator.NewWithDeps(
		recorder,
		recorder,
		robot,
		&fakeSitemapClient{},
		fetch,
		links,
		&fakeFormExtractor{},
		noopLimiter{},
		timeutil.NewRealSleeper(),
		hooks,
	)
}

func baseConfig(t *testing.T, seed string, stateDir string) config.Config {
	t.Helper()
	cfg, err := config.WithDefault([]url.URL{mustURL(t, seed)}).
		WithConcurrency(2).
		WithMaxDepth(2).
		WithMaxPages(50).
		WithRespectRobotsTxt(true).
		WithBaseDelay(0).
		WithJitter(0).
		WithTimeout(time.Second).
		WithStateDir(stateDir).
		Build()
	require.NoError(t, err)
	return cfg
}

func TestCrawl_NoSeedURLsIsFatal(t *testing.T) {
	o := newTestOrchestrator(orchestrator.Hooks{}, &fakeRobots{}, &fakeFetcher{}, &fakeLinkExtractor{})
	_, err := o.Crawl(context.Background(), config.Config{})
	require.NotNil(t, err)
}

func TestCrawl_FollowsLinksUpToMaxDepth(t *testing.T) {
	root := "https://example.com/"
	child := "https://example.com/a"
	grandchild := "https://example.com/b"

	robot := &fakeRobots{}
	fetch := &fakeFetcher{}
	links := &fakeLinkExtractor{linksByURL: map[string][]linkextract.Link{
		root:  {{URL: child, Type: linkextract.Anchor}},
		child: {{URL: grandchild, Type: linkextract.Anchor}},
	}}

	var pages []orchestrator.CrawlResult
	hooks := orchestrator.Hooks{OnPage: func(r orchestrator.CrawlResult) { pages = append(pages, r) }}

	o := newTestOrchestrator(hooks, robot, fetch, links)
	cfg := baseConfig(t, root, t.TempDir())

	stats, err := o.Crawl(context.Background(), cfg)
	require.Nil(t, err)
	assert.Equal(t, 3, stats.TotalPages)
	assert.Equal(t, 3, stats.SuccessfulPages)
	assert.Len(t, pages, 3)
}

func TestCrawl_RobotsDisallowedNeverCountsAsFetched(t *testing.T) {
	root := "https://example.com/"
	blocked := "https://example.com/private"
	kept := "https://example.com/kept"
	stateDir := t.TempDir()

	robot := &fakeRobots{disallowed: map[string]bool{blocked: true}}
	fetch := &fakeFetcher{}
	links := &fakeLinkExtractor{linksByURL: map[string][]linkextract.Link{
		root: {
			{URL: blocked, Type: linkextract.Anchor},
			{URL: kept, Type: linkextract.Anchor},
		},
	}}

	o := newTestOrchestrator(orchestrator.Hooks{}, robot, fetch, links)
	cfg, err := config.WithDefault([]url.URL{mustURL(t, root)}).
		WithMaxPages(1).
		WithRespectRobotsTxt(true).
		WithResumable(true).
		WithStateDir(stateDir).
		WithBaseDelay(0).
		WithJitter(0).
		Build()
	require.NoError(t, err)

	stats, cerr := o.Crawl(context.Background(), cfg)
	require.Nil(t, cerr)
	assert.Equal(t, 1, stats.TotalPages)
	assert.Equal(t, 1, stats.SuccessfulPages)

	// blocked was never fetched, but must still be marked visited per
	// spec.md's robots-disallowed scenario: it is seen, not skipped.
	// kept is still pending (maxPages=1 stopped the loop before it was
	// dequeued), so the run's state is non-empty and SaveFinal persists
	// a snapshot we can inspect directly.
	snap := mustLoadOnlySnapshot(t, stateDir)
	blockedKey := urlutil.Canonicalize(mustURL(t, blocked)).String()
	assert.Contains(t, snap.Visited, blockedKey)
}

// mustLoadOnlySnapshot reads the single *.json snapshot file written into
// stateDir, failing the test if there isn't exactly one.
func mustLoadOnlySnapshot(t *testing.T, stateDir string) checkpoint.Snapshot {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(stateDir, "*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)

	var snap checkpoint.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap
}

func TestCrawl_RobotsDecideErrorIsPermissive(t *testing.T) {
	root := "https://example.com/"
	flaky := "https://example.com/flaky"

	robot := &fakeRobots{failDecide: map[string]bool{flaky: true}}
	fetch := &fakeFetcher{}
	links := &fakeLinkExtractor{linksByURL: map[string][]linkextract.Link{
		root: {{URL: flaky, Type: linkextract.Anchor}},
	}}

	o := newTestOrchestrator(orchestrator.Hooks{}, robot, fetch, links)
	cfg := baseConfig(t, root, t.TempDir())

	stats, err := o.Crawl(context.Background(), cfg)
	require.Nil(t, err)
	// a robots.txt fetch failure must not drop the candidate nor
	// surface as a crawl error: root + flaky both get fetched.
	assert.Equal(t, 2, stats.TotalPages)
	assert.Equal(t, 2, stats.SuccessfulPages)
	assert.Equal(t, 0, stats.FailedPages)
}

func TestCrawl_TaskFailureNeverAbortsLoop(t *testing.T) {
	root := "https://example.com/"
	failing := "https://example.com/fails"
	ok := "https://example.com/ok"

	robot := &fakeRobots{}
	fetch := &fakeFetcher{fail: map[string]bool{failing: true}}
	links := &fakeLinkExtractor{linksByURL: map[string][]linkextract.Link{
		root: {
			{URL: failing, Type: linkextract.Anchor},
			{URL: ok, Type: linkextract.Anchor},
		},
	}}

	var crawlErrors []orchestrator.CrawlError
	hooks := orchestrator.Hooks{OnError: func(e orchestrator.CrawlError) { crawlErrors = append(crawlErrors, e) }}

	o := newTestOrchestrator(hooks, robot, fetch, links)
	cfg := baseConfig(t, root, t.TempDir())

	stats, err := o.Crawl(context.Background(), cfg)
	require.Nil(t, err)
	assert.Equal(t, 1, stats.FailedPages)
	assert.Equal(t, 2, stats.SuccessfulPages)
	require.Len(t, crawlErrors, 1)
	assert.Equal(t, failing, crawlErrors[0].URL.String())
}

func TestCrawl_OnPagePanicRecoversAsFailure(t *testing.T) {
	root := "https://example.com/"
	fetch := &fakeFetcher{}
	links := &fakeLinkExtractor{}

	var crawlErrors []orchestrator.CrawlError
	hooks := orchestrator.Hooks{
		OnPage:  func(orchestrator.CrawlResult) { panic("boom") },
		OnError: func(e orchestrator.CrawlError) { crawlErrors = append(crawlErrors, e) },
	}

	o := newTestOrchestrator(hooks, &fakeRobots{}, fetch, links)
	cfg := baseConfig(t, root, t.TempDir())

	stats, err := o.Crawl(context.Background(), cfg)
	require.Nil(t, err)
	assert.Equal(t, 1, stats.FailedPages)
	assert.Equal(t, 0, stats.SuccessfulPages)
	require.Len(t, crawlErrors, 1)
}

func TestCrawl_OnErrorPanicIsSwallowed(t *testing.T) {
	root := "https://example.com/"
	failing := "https://example.com/fails"

	fetch := &fakeFetcher{fail: map[string]bool{failing: true}}
	links := &fakeLinkExtractor{linksByURL: map[string][]linkextract.Link{
		root: {{URL: failing, Type: linkextract.Anchor}},
	}}

	hooks := orchestrator.Hooks{OnError: func(orchestrator.CrawlError) { panic("boom") }}

	o := newTestOrchestrator(hooks, &fakeRobots{}, fetch, links)
	cfg := baseConfig(t, root, t.TempDir())

	assert.NotPanics(t, func() {
		stats, err := o.Crawl(context.Background(), cfg)
		require.Nil(t, err)
		assert.Equal(t, 1, stats.FailedPages)
	})
}

func TestCrawl_NonHTTPSchemeNeverAdmitted(t *testing.T) {
	root := "https://example.com/"
	fetch := &fakeFetcher{}
	links := &fakeLinkExtractor{linksByURL: map[string][]linkextract.Link{
		root: {{URL: "mailto:someone@example.com", Type: linkextract.Anchor}},
	}}

	o := newTestOrchestrator(orchestrator.Hooks{}, &fakeRobots{}, fetch, links)
	cfg := baseConfig(t, root, t.TempDir())

	stats, err := o.Crawl(context.Background(), cfg)
	require.Nil(t, err)
	assert.Equal(t, 1, stats.TotalPages)
}

// TestCrawl_ResumeContinuesFromCheckpoint runs a crawl capped at one page
// (leaving discovered links queued), then resumes it with room for the
// rest - exercising the deterministic run id, Restore, and the on-cap
// SaveFinal path together.
func TestCrawl_ResumeContinuesFromCheckpoint(t *testing.T) {
	root := "https://example.com/"
	childA := "https://example.com/a"
	childB := "https://example.com/b"
	stateDir := t.TempDir()

	fetch := &fakeFetcher{}
	links := &fakeLinkExtractor{linksByURL: map[string][]linkextract.Link{
		root: {
			{URL: childA, Type: linkextract.Anchor},
			{URL: childB, Type: linkextract.Anchor},
		},
	}}

	firstCfg, err := config.WithDefault([]url.URL{mustURL(t, root)}).
		WithMaxPages(1).
		WithResumable(true).
		WithStateDir(stateDir).
		WithBaseDelay(0).
		WithJitter(0).
		Build()
	require.NoError(t, err)

	first := newTestOrchestrator(orchestrator.Hooks{}, &fakeRobots{}, fetch, links)
	firstStats, err := first.Crawl(context.Background(), firstCfg)
	require.Nil(t, err)
	assert.Equal(t, 1, firstStats.TotalPages)

	var resumedPages []orchestrator.CrawlResult
	hooks := orchestrator.Hooks{OnPage: func(r orchestrator.CrawlResult) { resumedPages = append(resumedPages, r) }}

	secondCfg, err := config.WithDefault([]url.URL{mustURL(t, root)}).
		WithMaxPages(50).
		WithResumable(true).
		WithStateDir(stateDir).
		WithBaseDelay(0).
		WithJitter(0).
		Build()
	require.NoError(t, err)

	second := newTestOrchestrator(hooks, &fakeRobots{}, fetch, links)
	secondStats, err := second.Crawl(context.Background(), secondCfg)
	require.Nil(t, err)

	assert.Equal(t, 3, secondStats.TotalPages)
	require.Len(t, resumedPages, 2)
}
