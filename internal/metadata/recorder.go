package metadata

import (
	"fmt"
	"sync"
	"time"
)

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)
*/

// MetadataSink receives structured observability events as a crawl runs.
// Implementations must not let a slow sink block the caller for long -
// Recorder buffers in memory and never performs I/O on the hot path.
type MetadataSink interface {
	RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int)
	RecordError(observedAt time.Time, packageName, action string, cause ErrorCause, errorString string, attrs []Attribute)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
}

// CrawlFinalizer records the terminal, one-time summary of a completed
// crawl. It is invoked exactly once, after the orchestrator's main loop has
// stopped, and never influences scheduling decisions.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration)
}

// Recorder is the in-memory MetadataSink/CrawlFinalizer implementation used
// by the orchestrator. It keeps bounded ring buffers of recent fetch and
// error events for post-run inspection, plus the one-shot final stats.
type Recorder struct {
	mu sync.Mutex

	maxEvents int
	fetches   []FetchEvent
	errors    []ErrorRecord
	artifacts []ArtifactRecord
	final     *crawlStats
}

// NewRecorder returns a Recorder retaining at most maxEvents of each event
// kind. A non-positive maxEvents means unbounded.
func NewRecorder(maxEvents int) *Recorder {
	return &Recorder{maxEvents: maxEvents}
}

func (r *Recorder) RecordFetch(fetchUrl string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fetches = appendBounded(r.fetches, FetchEvent{
		fetchUrl:    fetchUrl,
		httpStatus:  httpStatus,
		duration:    duration,
		contentType: contentType,
		retryCount:  retryCount,
		crawlDepth:  crawlDepth,
		observedAt:  time.Now(),
	}, r.maxEvents)
}

func (r *Recorder) RecordError(observedAt time.Time, packageName, action string, cause ErrorCause, errorString string, attrs []Attribute) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = appendBounded(r.errors, ErrorRecord{
		packageName: packageName,
		action:      action,
		cause:       cause,
		errorString: errorString,
		observedAt:  observedAt,
		attrs:       attrs,
	}, r.maxEvents)
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.artifacts = appendBounded(r.artifacts, ArtifactRecord{
		kind:       kind,
		path:       path,
		attrs:      attrs,
		observedAt: time.Now(),
	}, r.maxEvents)
}

// RecordFinalCrawlStats records the terminal crawl summary. Safe to call at
// most meaningfully once; subsequent calls overwrite the prior summary
// rather than panicking, since a deferred finalize call may legitimately
// race a shutdown path.
func (r *Recorder) RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.final = &crawlStats{
		totalPages:  totalPages,
		totalErrors: totalErrors,
		totalAssets: totalAssets,
		durationMs:  duration.Milliseconds(),
	}
}

// FetchEvents returns a copy of the retained fetch events, oldest first.
func (r *Recorder) FetchEvents() []FetchEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FetchEvent, len(r.fetches))
	copy(out, r.fetches)
	return out
}

// ErrorRecords returns a copy of the retained error records, oldest first.
func (r *Recorder) ErrorRecords() []ErrorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ErrorRecord, len(r.errors))
	copy(out, r.errors)
	return out
}

// ArtifactRecords returns a copy of the retained artifact records, oldest first.
func (r *Recorder) ArtifactRecords() []ArtifactRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ArtifactRecord, len(r.artifacts))
	copy(out, r.artifacts)
	return out
}

// FinalStats returns the recorded terminal crawl summary, and whether one
// has been recorded yet.
func (r *Recorder) FinalStats() (totalPages, totalErrors, totalAssets int, duration time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.final == nil {
		return 0, 0, 0, 0, false
	}
	return r.final.totalPages, r.final.totalErrors, r.final.totalAssets, time.Duration(r.final.durationMs) * time.Millisecond, true
}

func appendBounded[T any](buf []T, item T, max int) []T {
	buf = append(buf, item)
	if max > 0 && len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

func (e FetchEvent) String() string {
	return fmt.Sprintf("fetch url=%s status=%d duration=%s contentType=%q retries=%d depth=%d",
		e.fetchUrl, e.httpStatus, e.duration, e.contentType, e.retryCount, e.crawlDepth)
}

func (e ErrorRecord) String() string {
	return fmt.Sprintf("error pkg=%s action=%s cause=%d msg=%q", e.packageName, e.action, e.cause, e.errorString)
}
