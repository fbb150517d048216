package checkpoint

import "time"

// schemaVersion guards the on-disk snapshot format. Bump it whenever
// Snapshot's shape changes in a way older readers cannot tolerate.
const schemaVersion = 1

// QueueItemSnapshot is the serializable form of a frontier token: just
// enough to re-admit it on resume without re-running discovery.
type QueueItemSnapshot struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// CrawlStats accumulates the run-wide counters the orchestrator reports
// via get_stats and persists into every checkpoint. All updates happen
// under the orchestrator's single critical section; CrawlStats itself
// has no locking of its own.
type CrawlStats struct {
	TotalPages      int           `json:"total_pages"`
	SuccessfulPages int           `json:"successful_pages"`
	FailedPages     int           `json:"failed_pages"`
	TotalLinks      int           `json:"total_links"`
	TotalForms      int           `json:"total_forms"`
	MeanLoadTimeMs  float64       `json:"mean_load_time_ms"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
}

// RecordSuccess folds one successfully fetched page into the stats,
// updating the running mean load time incrementally (no retained
// per-page history).
func (s *CrawlStats) RecordSuccess(links, forms int, loadTime time.Duration) {
	s.TotalPages++
	s.SuccessfulPages++
	s.TotalLinks += links
	s.TotalForms += forms
	n := float64(s.SuccessfulPages)
	s.MeanLoadTimeMs += (float64(loadTime.Milliseconds()) - s.MeanLoadTimeMs) / n
}

// RecordFailure folds one failed-attempt page into the stats.
func (s *CrawlStats) RecordFailure() {
	s.TotalPages++
	s.FailedPages++
}

// Finalize stamps end time and duration from start.
func (s *CrawlStats) Finalize(end time.Time) {
	s.EndTime = end
	s.Duration = end.Sub(s.StartTime)
}

// OptionsSnapshot captures the handful of run options that matter for
// resuming and for a human reading a final-state file; it is not a
// full config round-trip.
type OptionsSnapshot struct {
	SeedURLs []string `json:"seed_urls"`
	Strategy string   `json:"strategy"`
	MaxDepth int      `json:"max_depth"`
	MaxPages int      `json:"max_pages"`
}

// CrawlErrorSnapshot is the serializable form of a per-URL failure.
type CrawlErrorSnapshot struct {
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Depth     int       `json:"depth"`
}

// Snapshot is the full on-disk document for both the rolling
// checkpoint and the final state file (final adds Options/Errors).
type Snapshot struct {
	SchemaVersion int                  `json:"schema_version"`
	RunID         string               `json:"run_id"`
	Visited       []string             `json:"visited"`
	Frontier      []QueueItemSnapshot  `json:"frontier"`
	Stats         CrawlStats           `json:"stats"`
	Timestamp     time.Time            `json:"timestamp"`
	Options       *OptionsSnapshot     `json:"options,omitempty"`
	Errors        []CrawlErrorSnapshot `json:"errors,omitempty"`
}
