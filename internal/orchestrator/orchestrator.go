package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/osint-platform/crawler-core/internal/checkpoint"
	"github.com/osint-platform/crawler-core/internal/config"
	"github.com/osint-platform/crawler-core/internal/fetcher"
	"github.com/osint-platform/crawler-core/internal/formextract"
	"github.com/osint-platform/crawler-core/internal/frontier"
	"github.com/osint-platform/crawler-core/internal/linkextract"
	"github.com/osint-platform/crawler-core/internal/metadata"
	"github.com/osint-platform/crawler-core/internal/mimefilter"
	"github.com/osint-platform/crawler-core/internal/robots"
	"github.com/osint-platform/crawler-core/internal/sitemap"
	"github.com/osint-platform/crawler-core/pkg/failure"
	"github.com/osint-platform/crawler-core/pkg/limiter"
	"github.com/osint-platform/crawler-core/pkg/retry"
	"github.com/osint-platform/crawler-core/pkg/timeutil"
	"lukechampine.com/blake3"
)

/*
Orchestrator is the sole control-plane authority of the crawl.

Determinism and admission guarantees, carried over from the teacher's
Scheduler:
- Orchestrator is the ONLY component allowed to decide whether a URL may
  enter the crawl frontier; admit() is the single admission choke point.
- admit() checks robots.txt before a URL reaches the frontier; the
  scope, depth, page-limit, pattern and partition checks then run in
  the frontier's Submit filter chain, which admit() calls.

Unlike the teacher's Scheduler, a per-task failure (steps c-h of the
per-URL lifecycle) is never fatal to the run: it is always caught,
counted, and reported via on_error. The only error surfaced to Crawl's
caller is an invalid/empty seed URL set.
*/

const checkpointInterval = 100

// Orchestrator owns the lifecycle of a single crawl run and composes
// every other component: robots, sitemap discovery, the frontier, the
// fetcher, link/form extraction, the content-type filter, per-host
// politeness, and checkpointing.
type Orchestrator struct {
	metadataSink   metadata.MetadataSink
	crawlFinalizer metadata.CrawlFinalizer
	robot          robotsClient
	sitemapClient  sitemapDiscoverer
	htmlFetcher    fetcher.Fetcher
	linkExtractor  linkExtractorDep
	formExtractor  formExtractorDep
	rateLimiter    limiter.RateLimiter
	sleeper        timeutil.Sleeper
	hooks          Hooks

	defaultSitemapClient bool

	frontier        *frontier.CrawlingPolicy
	checkpointStore checkpoint.Store

	mu                  sync.Mutex
	stats               checkpoint.CrawlStats
	errorLog            []checkpoint.CrawlErrorSnapshot
	stopped             bool
	lastCheckpointedAt  int
}

// New builds an Orchestrator with production dependencies: an in-memory
// Recorder for observability, a CachedRobot, a default HTML fetcher, the
// real link/form extractors, and a ConcurrentRateLimiter. The sitemap
// client and HTTP client are (re)built per Crawl call once the run's
// user agent and timeout are known.
func New(hooks Hooks) *Orchestrator {
	recorder := metadata.NewRecorder(1000)
	cachedRobot := robots.NewCachedRobot(recorder)
	htmlFetcher := fetcher.NewHtmlFetcher(recorder)
	return &Orchestrator{
		metadataSink:         recorder,
		crawlFinalizer:       recorder,
		robot:                cachedRobot,
		htmlFetcher:          &htmlFetcher,
		linkExtractor:        linkextract.NewExtractor(recorder),
		formExtractor:        formextract.NewExtractor(recorder),
		rateLimiter:          limiter.NewConcurrentRateLimiter(),
		sleeper:              timeutil.NewRealSleeper(),
		hooks:                hooks,
		defaultSitemapClient: true,
	}
}

// NewWithDeps builds an Orchestrator from injected dependencies, for
// tests that need doubles in place of robots/fetcher/extractors/sitemap.
func NewWithDeps(
	metadataSink metadata.MetadataSink,
	crawlFinalizer metadata.CrawlFinalizer,
	robot robotsClient,
	sitemapClient sitemapDiscoverer,
	htmlFetcher fetcher.Fetcher,
	linkExtractor linkExtractorDep,
	formExtractor formExtractorDep,
	rateLimiter limiter.RateLimiter,
	sleeper timeutil.Sleeper,
	hooks Hooks,
) *Orchestrator {
	return &Orchestrator{
		metadataSink:   metadataSink,
		crawlFinalizer: crawlFinalizer,
		robot:          robot,
		sitemapClient:  sitemapClient,
		htmlFetcher:    htmlFetcher,
		linkExtractor:  linkExtractor,
		formExtractor:  formExtractor,
		rateLimiter:    rateLimiter,
		sleeper:        sleeper,
		hooks:          hooks,
	}
}

// Crawl runs cfg to completion (frontier drained, stop() called, or
// max_pages reached) and returns the final stats. The only error it can
// return is an empty seed URL list; every other failure is per-URL and
// surfaces only through Hooks.OnError and the returned stats.
func (o *Orchestrator) Crawl(ctx context.Context, cfg config.Config) (checkpoint.CrawlStats, failure.ClassifiedError) {
	if len(cfg.SeedURLs()) == 0 {
		return checkpoint.CrawlStats{}, fmtErr(ErrCauseNoSeedURLs, "no seed urls configured")
	}

	runID := o.deriveRunID(cfg)
	o.checkpointStore = checkpoint.NewStore(cfg.StateDir())

	fr := frontier.NewCrawlFrontier()
	o.frontier = &fr
	o.frontier.Init(cfg)

	o.rateLimiter.SetBaseDelay(cfg.BaseDelay())
	o.rateLimiter.SetJitter(cfg.Jitter())
	o.rateLimiter.SetRandomSeed(cfg.RandomSeed())
	o.rateLimiter.SetBackoffParam(timeutil.NewBackoffParam(
		cfg.BackoffInitialDuration(),
		cfg.BackoffMultiplier(),
		cfg.BackoffMaxDuration(),
	))

	httpClient := &http.Client{
		Timeout:       cfg.Timeout(),
		CheckRedirect: boundedRedirects(5),
	}
	o.htmlFetcher.Init(httpClient, cfg.UserAgent())
	o.robot.Init(cfg.UserAgent())
	if o.defaultSitemapClient {
		o.sitemapClient = sitemap.NewClient(o.metadataSink, cfg.UserAgent())
	}

	mimeFilter := mimefilter.New(cfg.AllowedMimeTypes(), cfg.BlockedMimeTypes())

	o.mu.Lock()
	o.stopped = false
	o.errorLog = nil
	o.lastCheckpointedAt = 0
	o.mu.Unlock()

	resumed := false
	if cfg.Resumable() {
		if snap, ok := o.checkpointStore.Load(runID); ok {
			o.restore(snap)
			resumed = true
		}
	}

	if !resumed {
		o.mu.Lock()
		o.stats = checkpoint.CrawlStats{StartTime: time.Now()}
		o.mu.Unlock()
		o.seed(ctx, cfg)
	}

	o.runMainLoop(ctx, cfg, runID, mimeFilter)

	return o.finalize(runID, cfg), nil
}

// Stop requests graceful termination: the main loop stops dispatching
// new tasks once it next checks, but outstanding in-flight tasks are
// allowed to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = true
}

// GetStats returns a consistent snapshot of the run's current stats.
func (o *Orchestrator) GetStats() checkpoint.CrawlStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// seed admits every configured seed URL at depth 0 and, if follow_sitemaps
// is set, expands robots-declared and well-known sitemaps and admits the
// resulting URLs at depth 0 too.
func (o *Orchestrator) seed(ctx context.Context, cfg config.Config) {
	for _, seedURL := range cfg.SeedURLs() {
		o.admit(cfg, seedURL, frontier.SourceSeed, 0)
	}

	if !cfg.FollowSitemaps() {
		return
	}

	seed := cfg.SeedURLs()[0]
	origin := seed.Scheme + "://" + seed.Host

	var declared []string
	if cfg.RespectRobotsTxt() {
		if sitemaps, err := o.robot.Sitemaps(seed); err == nil {
			declared = sitemaps
		}
	}

	for _, entry := range o.sitemapClient.Discover(ctx, origin, declared) {
		u, err := url.Parse(entry.Loc)
		if err != nil {
			continue
		}
		o.admit(cfg, *u, frontier.SourceCrawl, 0)
	}
}

// admit is the single admission choke point: robots.txt (if enabled),
// then the frontier's own scope/depth/pattern/partition filter chain.
// Out-of-scope candidates are dropped silently by the frontier (no
// counters, no sink events). A robots-disallowed candidate is marked
// visited but never reaches the frontier's filter chain or a fetch
// task - it is seen, not skipped. A robots.txt fetch failure yields a
// permissive record (allow all, no delay) rather than dropping the
// candidate: network failures never propagate as crawl errors.
func (o *Orchestrator) admit(cfg config.Config, target url.URL, source frontier.SourceContext, depth int) {
	if target.Scheme != "http" && target.Scheme != "https" {
		return
	}

	if cfg.RespectRobotsTxt() {
		decision, err := o.robot.Decide(target)
		switch {
		case err != nil:
			o.recordInfraError("admit", target, err)
		case !decision.Allowed:
			o.frontier.MarkVisited(target)
			return
		default:
			if o.rateLimiter != nil {
				o.rateLimiter.ResetBackoff(target.Host)
				if decision.CrawlDelay > 0 {
					o.rateLimiter.SetCrawlDelay(target.Host, decision.CrawlDelay)
				}
			}
			target = decision.Url
		}
	}

	candidate := frontier.NewCrawlAdmissionCandidate(target, source, frontier.NewDiscoveryMetadata(depth, nil))
	o.frontier.Submit(candidate)
}

// runMainLoop dispatches dequeued tokens onto worker goroutines, bounded
// by cfg.Concurrency() via a buffered-channel semaphore - the idiomatic
// Go stand-in for "if in-flight >= max_concurrent, sleep ~100ms": a full
// semaphore blocks the dispatching goroutine exactly as long as a poll
// loop would have slept, without the busy-wait. An empty frontier ends
// the loop only when no task is in flight; otherwise the loop polls until
// the running tasks have admitted their discovered links.
func (o *Orchestrator) runMainLoop(ctx context.Context, cfg config.Config, runID string, filter mimefilter.Filter) {
	maxConcurrent := cfg.Concurrency()
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var inFlightMu sync.Mutex
	inFlight := 0

	for {
		if o.isStopped() || o.pageCapReached(cfg) {
			break
		}
		inFlightMu.Lock()
		pending := inFlight
		inFlightMu.Unlock()
		token, ok := o.frontier.Dequeue()
		if !ok {
			if pending == 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		sem <- struct{}{}
		inFlightMu.Lock()
		inFlight++
		inFlightMu.Unlock()
		wg.Add(1)
		go func(tok frontier.CrawlToken) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() { inFlightMu.Lock(); inFlight--; inFlightMu.Unlock() }()

			o.runTask(ctx, cfg, tok, filter)

			if o.shouldCheckpoint() {
				o.writeCheckpoint(runID)
			}
		}(token)
	}

	wg.Wait()
}

// runTask executes the per-URL lifecycle (steps c-i). Robots admission
// (step b) already happened in admit(), before this token ever entered
// the frontier, mirroring the teacher's single-admission-gate design.
// Any failure in steps c-h is caught here, counted, and reported via
// on_error; it never propagates to abort the run.
func (o *Orchestrator) runTask(ctx context.Context, cfg config.Config, token frontier.CrawlToken, filter mimefilter.Filter) {
	target := token.URL()
	depth := token.Depth()

	// c. per-host politeness wait
	if err := o.rateLimiter.WaitForHost(ctx, target.Host); err != nil {
		o.recordTaskError(target, err, depth)
		return
	}

	// d. fetch
	start := time.Now()
	result, ferr := o.htmlFetcher.Fetch(ctx, depth, target, retryParamFromConfig(cfg))
	loadTime := time.Since(start)
	if ferr != nil {
		o.rateLimiter.Backoff(target.Host)
		o.recordTaskError(target, ferr, depth)
		return
	}
	o.rateLimiter.ResetBackoff(target.Host)

	// e. content-type filter - reject is not an error (visited, uncounted)
	if !mimefilter.Accepts(result.ContentType(), filter) {
		return
	}

	// f. extraction
	links, lerr := o.linkExtractor.Extract(result.URL(), result.Body(), cfg.ExtractJSLinks())
	if lerr != nil {
		o.recordTaskError(target, lerr, depth)
		return
	}

	var forms []formextract.Form
	if cfg.ExtractForms() {
		extractedForms, actionLinks, ferr2 := o.formExtractor.Extract(result.URL(), result.Body())
		if ferr2 != nil {
			o.recordTaskError(target, ferr2, depth)
			return
		}
		forms = extractedForms
		links = append(links, actionLinks...)
	}

	// g. build result + invoke on_page (panics are recovered per the
	// sink-panic resolution: counted as a failed page, routed to on_error)
	crawlResult := CrawlResult{
		URL:        result.URL(),
		Depth:      depth,
		StatusCode: result.Code(),
		Links:      links,
		Forms:      forms,
		LoadTime:   loadTime,
		FetchedAt:  result.FetchedAt(),
	}
	if o.invokeOnPagePanicked(crawlResult) {
		o.recordTaskError(target, fmt.Errorf("on_page callback panicked"), depth)
		return
	}

	// h. stats
	o.mu.Lock()
	o.stats.RecordSuccess(len(links), len(forms), loadTime)
	o.mu.Unlock()

	// i. re-admit discovered links at depth+1
	maxDepth := cfg.MaxDepth()
	if maxDepth != 0 && depth >= maxDepth {
		return
	}
	for _, link := range links {
		linkURL, err := url.Parse(link.URL)
		if err != nil {
			continue
		}
		o.admit(cfg, *linkURL, frontier.SourceCrawl, depth+1)
	}
}

func (o *Orchestrator) recordTaskError(target url.URL, err error, depth int) {
	now := time.Now()
	o.mu.Lock()
	o.stats.RecordFailure()
	o.errorLog = append(o.errorLog, checkpoint.CrawlErrorSnapshot{
		URL:       target.String(),
		Error:     err.Error(),
		Timestamp: now,
		Depth:     depth,
	})
	o.mu.Unlock()

	o.invokeOnError(CrawlError{URL: target, Err: err, Timestamp: now, Depth: depth})
}

func (o *Orchestrator) recordInfraError(action string, target url.URL, err error) {
	if o.metadataSink != nil {
		o.metadataSink.RecordError(
			time.Now(),
			"orchestrator",
			action,
			metadata.CauseNetworkFailure,
			err.Error(),
			[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, target.String())},
		)
	}
}

// invokeOnPagePanicked calls Hooks.OnPage, if set, recovering a panic and
// reporting it back to the caller instead of letting it unwind the
// worker goroutine.
func (o *Orchestrator) invokeOnPagePanicked(result CrawlResult) (panicked bool) {
	if o.hooks.OnPage == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			panicked = true
		}
	}()
	o.hooks.OnPage(result)
	return false
}

// invokeOnError calls Hooks.OnError, if set. A panicking OnError is
// swallowed rather than re-routed, guarding against recovering into an
// infinite loop of synthetic errors.
func (o *Orchestrator) invokeOnError(ce CrawlError) {
	if o.hooks.OnError == nil {
		return
	}
	defer func() { recover() }()
	o.hooks.OnError(ce)
}

// invokeOnComplete calls Hooks.OnComplete, if set, with the same
// swallow-on-panic guard as invokeOnError.
func (o *Orchestrator) invokeOnComplete(stats checkpoint.CrawlStats) {
	if o.hooks.OnComplete == nil {
		return
	}
	defer func() { recover() }()
	o.hooks.OnComplete(stats)
}

func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

func (o *Orchestrator) pageCapReached(cfg config.Config) bool {
	maxPages := cfg.MaxPages()
	if maxPages == 0 {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats.TotalPages >= maxPages
}

// shouldCheckpoint reports whether stats.total_pages has just crossed a
// multiple of checkpointInterval, and records that it has so the same
// multiple never triggers a second checkpoint.
func (o *Orchestrator) shouldCheckpoint() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stats.TotalPages == 0 || o.stats.TotalPages%checkpointInterval != 0 {
		return false
	}
	if o.stats.TotalPages == o.lastCheckpointedAt {
		return false
	}
	o.lastCheckpointedAt = o.stats.TotalPages
	return true
}

func (o *Orchestrator) writeCheckpoint(runID string) {
	snap := o.buildSnapshot(nil)
	if err := o.checkpointStore.SaveCheckpoint(runID, snap); err != nil {
		o.recordInfraError("writeCheckpoint", url.URL{}, err)
	}
}

func (o *Orchestrator) buildSnapshot(options *checkpoint.OptionsSnapshot) checkpoint.Snapshot {
	o.mu.Lock()
	stats := o.stats
	errs := append([]checkpoint.CrawlErrorSnapshot(nil), o.errorLog...)
	o.mu.Unlock()

	visited := o.frontier.VisitedKeys()
	pending := o.frontier.PendingTokens()
	queued := make([]checkpoint.QueueItemSnapshot, 0, len(pending))
	for _, t := range pending {
		queued = append(queued, checkpoint.QueueItemSnapshot{URL: t.URL().String(), Depth: t.Depth()})
	}

	return checkpoint.Snapshot{
		Visited:   visited,
		Frontier:  queued,
		Stats:     stats,
		Timestamp: time.Now(),
		Options:   options,
		Errors:    errs,
	}
}

// restore seeds the frontier, visited set, and stats from a prior run's
// snapshot, skipping seed admission and sitemap expansion entirely.
func (o *Orchestrator) restore(snap checkpoint.Snapshot) {
	tokens := make([]frontier.CrawlToken, 0, len(snap.Frontier))
	for _, item := range snap.Frontier {
		u, err := url.Parse(item.URL)
		if err != nil {
			continue
		}
		tokens = append(tokens, frontier.NewCrawlToken(*u, item.Depth))
	}
	o.frontier.Restore(snap.Visited, tokens)

	o.mu.Lock()
	o.stats = snap.Stats
	o.errorLog = append([]checkpoint.CrawlErrorSnapshot(nil), snap.Errors...)
	o.mu.Unlock()
}

// finalize stamps end time/duration, reports the terminal summary, and -
// when resumable - either deletes run state (clean completion) or writes
// the final snapshot (stopped early / page cap reached with work left).
func (o *Orchestrator) finalize(runID string, cfg config.Config) checkpoint.CrawlStats {
	o.mu.Lock()
	o.stats.Finalize(time.Now())
	stats := o.stats
	errCount := len(o.errorLog)
	o.mu.Unlock()

	if o.crawlFinalizer != nil {
		o.crawlFinalizer.RecordFinalCrawlStats(stats.TotalPages, errCount, 0, stats.Duration)
	}

	o.invokeOnComplete(stats)

	if cfg.Resumable() {
		pending := o.frontier.PendingTokens()
		if len(pending) == 0 && !o.isStopped() {
			o.checkpointStore.Delete(runID)
		} else {
			seedStrs := make([]string, 0, len(cfg.SeedURLs()))
			for _, s := range cfg.SeedURLs() {
				seedStrs = append(seedStrs, s.String())
			}
			options := &checkpoint.OptionsSnapshot{
				SeedURLs: seedStrs,
				Strategy: string(cfg.Strategy()),
				MaxDepth: cfg.MaxDepth(),
				MaxPages: cfg.MaxPages(),
			}
			snap := o.buildSnapshot(options)
			o.checkpointStore.SaveFinal(runID, snap)
		}
	}

	return stats
}

// deriveRunID derives a stable identifier for this cfg so a resumed run
// finds the same checkpoint files: a worker-id-prefixed digest of the
// seed URLs, so distinct seed sets (or distinct workers of a partitioned
// crawl) never collide on one run id.
func (o *Orchestrator) deriveRunID(cfg config.Config) string {
	var b strings.Builder
	for _, seedURL := range cfg.SeedURLs() {
		b.WriteString(seedURL.String())
		b.WriteByte('\n')
	}
	b.WriteString(cfg.WorkerID())

	digest := blake3.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s-%x", cfg.WorkerID(), digest[:6])
}

// boundedRedirects caps automatic redirect-following at max hops; beyond
// that the last (redirect) response is returned as-is rather than
// erroring, so it is still classified by the fetcher's [200,400) success
// range rather than surfacing as a network failure.
func boundedRedirects(max int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return http.ErrUseLastResponse
		}
		return nil
	}
}

func retryParamFromConfig(cfg config.Config) retry.RetryParam {
	return retry.NewRetryParam(
		cfg.BaseDelay(),
		cfg.Jitter(),
		cfg.RandomSeed(),
		cfg.MaxAttempt(),
		timeutil.NewBackoffParam(
			cfg.BackoffInitialDuration(),
			cfg.BackoffMultiplier(),
			cfg.BackoffMaxDuration(),
		),
	)
}
