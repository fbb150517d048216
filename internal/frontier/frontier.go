package frontier

/*
Frontier Responsibilities
- Maintain BFS (or DFS) ordering per strategy
- Deduplicate URLs via canonicalized-string identity
- Track crawl depth and enforce depth/page limits
- Run the admission filter chain (scope, domain, pattern, partitioner)
- Knows nothing about:
	- fetching
	- extraction
	- storage

It is a data structure + policy module, not a pipeline executor.
*/

import (
	"net/url"
	"strings"
	"sync"

	"github.com/osint-platform/crawler-core/internal/config"
	"github.com/osint-platform/crawler-core/internal/partition"
	"github.com/osint-platform/crawler-core/pkg/urlutil"
)

// CrawlingPolicy is the deduplicated, strategy-ordered work queue.
// BFS observes strict per-depth draining (every depth-N item is popped
// before any depth-(N+1) item becomes eligible); DFS observes plain
// last-in-first-out admission order. Admission runs the filter chain
// from config before a candidate ever reaches a queue.
type CrawlingPolicy struct {
	mu sync.Mutex

	cfg config.Config

	queuesByDepth map[int]*FIFOQueue[CrawlToken]
	dfsStack      []CrawlToken
	depthCount    map[int]int

	visited   Set[string]
	seedHosts Set[string]

	admittedCount int

	shouldProcess func(url.URL) bool
}

// NewCrawlFrontier constructs an empty frontier. Call Init before
// Submit/Dequeue so config-derived limits and seed hosts are in place.
func NewCrawlFrontier() CrawlingPolicy {
	return CrawlingPolicy{
		queuesByDepth: make(map[int]*FIFOQueue[CrawlToken]),
		depthCount:    make(map[int]int),
		visited:       NewSet[string](),
		seedHosts:     NewSet[string](),
	}
}

// Init binds the frontier to a run's config: limits, strategy, and the
// seed hosts stay_in_domain checks against. The seed hosts are captured
// once here, independent of any later queue mutation.
func (c *CrawlingPolicy) Init(cfg config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg
	if c.queuesByDepth == nil {
		c.queuesByDepth = make(map[int]*FIFOQueue[CrawlToken])
	}
	if c.depthCount == nil {
		c.depthCount = make(map[int]int)
	}
	if c.visited == nil {
		c.visited = NewSet[string]()
	}
	c.seedHosts = NewSet[string]()
	for _, seed := range cfg.SeedURLs() {
		c.seedHosts.Add(lowerHost(seed))
	}

	if cfg.TotalWorkers() > 1 {
		p := partition.New(partition.IndexFromWorkerID(cfg.WorkerID()), cfg.TotalWorkers())
		c.shouldProcess = p.ShouldProcess
	} else {
		c.shouldProcess = nil
	}
}

// SetPartitioner wires a should_process hook (see the partitioner
// component); a nil hook (the default) admits every candidate that
// passes the rest of the filter chain.
func (c *CrawlingPolicy) SetPartitioner(shouldProcess func(url.URL) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldProcess = shouldProcess
}

// Submit runs the admission filter chain and, on success, enqueues the
// candidate's token for eventual Dequeue. Rejection is side-effect-free.
func (c *CrawlingPolicy) Submit(candidate CrawlAdmissionCandidate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := candidate.TargetURL()
	canonical := urlutil.Canonicalize(target)
	key := canonical.String()

	if c.visited.Contains(key) {
		return false
	}

	depth := candidate.DiscoveryMetadata().Depth()
	if maxDepth := c.cfg.MaxDepth(); maxDepth != 0 && depth > maxDepth {
		return false
	}
	if maxPages := c.cfg.MaxPages(); maxPages != 0 && c.admittedCount >= maxPages {
		return false
	}
	if c.cfg.StayInDomain() && c.seedHosts.Size() > 0 && !c.seedHosts.Contains(lowerHost(target)) {
		return false
	}
	if allowed := c.cfg.AllowedDomains(); len(allowed) > 0 && !urlutil.MatchesDomainList(target, allowed) {
		return false
	}
	if blocked := c.cfg.BlockedDomains(); len(blocked) > 0 && urlutil.MatchesDomainList(target, blocked) {
		return false
	}
	if patterns := c.cfg.URLPatterns(); len(patterns) > 0 && !urlutil.MatchesAny(target, patterns) {
		return false
	}
	if exclude := c.cfg.ExcludePatterns(); len(exclude) > 0 && urlutil.MatchesAny(target, exclude) {
		return false
	}
	if c.shouldProcess != nil && !c.shouldProcess(target) {
		return false
	}

	c.visited.Add(key)
	c.admittedCount++
	c.depthCount[depth]++

	token := NewCrawlToken(target, depth)
	if c.cfg.Strategy() == config.StrategyDFS {
		c.dfsStack = append(c.dfsStack, token)
		return true
	}

	q, ok := c.queuesByDepth[depth]
	if !ok {
		q = NewFIFOQueue[CrawlToken]()
		c.queuesByDepth[depth] = q
	}
	q.Enqueue(token)
	return true
}

// MarkVisited records target's canonical identity as visited without
// running the admission filter chain and without enqueuing it for
// Dequeue. It exists for candidates rejected before admission (e.g.
// robots-disallowed) that must still count as seen - per
// VisitedSet's contract, a URL visited-but-never-fetched is still
// visited - so a later rediscovery of the same URL is deduplicated
// instead of re-running the rejection. It deliberately does not touch
// admittedCount or depthCount: those drive MaxPages and depth
// exhaustion, and this candidate is never dispatched to a fetch task.
func (c *CrawlingPolicy) MarkVisited(target url.URL) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := urlutil.Canonicalize(target).String()
	if c.visited.Contains(key) {
		return false
	}
	c.visited.Add(key)
	return true
}

// Dequeue pops the next token per strategy. ok is false once the
// frontier is drained.
func (c *CrawlingPolicy) Dequeue() (CrawlToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Strategy() == config.StrategyDFS {
		n := len(c.dfsStack)
		if n == 0 {
			return CrawlToken{}, false
		}
		token := c.dfsStack[n-1]
		c.dfsStack = c.dfsStack[:n-1]
		c.depthCount[token.Depth()]--
		return token, true
	}

	depth := c.currentMinDepthLocked()
	if depth == -1 {
		return CrawlToken{}, false
	}

	q, ok := c.queuesByDepth[depth]
	if !ok {
		// depthCount reported a pending token at this depth but no
		// backing queue exists; treat as drained instead of
		// dereferencing a nil queue.
		return CrawlToken{}, false
	}
	token, ok := q.Dequeue()
	if !ok {
		return CrawlToken{}, false
	}
	c.depthCount[depth]--
	return token, true
}

// IsDepthExhausted reports whether depth currently has no pending
// tokens. Negative depths never exist and are always exhausted.
func (c *CrawlingPolicy) IsDepthExhausted(depth int) bool {
	if depth < 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depthCount[depth] <= 0
}

// CurrentMinDepth returns the smallest depth with a pending token, or
// -1 when the frontier is empty.
func (c *CrawlingPolicy) CurrentMinDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentMinDepthLocked()
}

func (c *CrawlingPolicy) currentMinDepthLocked() int {
	min := -1
	for depth, count := range c.depthCount {
		if count <= 0 {
			continue
		}
		if min == -1 || depth < min {
			min = depth
		}
	}
	return min
}

// VisitedCount returns the cumulative count of unique canonical URLs
// in the visited set: those admitted by Submit, restored by Restore, or
// recorded by MarkVisited. It is append-only: dequeuing never decreases
// it. Submit stops admitting at MaxPages, but keys from MarkVisited and
// Restore are counted beyond that limit.
func (c *CrawlingPolicy) VisitedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visited.Size()
}

// VisitedKeys returns a snapshot of every canonical key in the visited
// set (admitted, restored, or recorded by MarkVisited; queued or already
// dequeued), for checkpointing.
func (c *CrawlingPolicy) VisitedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visited.Keys()
}

// PendingTokens returns a snapshot of every token still queued (not yet
// dequeued), for checkpointing. Order is not significant to the caller.
func (c *CrawlingPolicy) PendingTokens() []CrawlToken {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []CrawlToken
	if c.cfg.Strategy() == config.StrategyDFS {
		out = append(out, c.dfsStack...)
		return out
	}
	for _, q := range c.queuesByDepth {
		out = append(out, q.Items()...)
	}
	return out
}

// Restore preloads a frontier from a prior run's checkpoint: visitedKeys
// are marked visited without re-running the admission chain, and tokens
// are requeued directly (they were already admitted before the crawl
// that wrote the checkpoint stopped). Callers must call Restore before
// any Submit in the resumed run.
func (c *CrawlingPolicy) Restore(visitedKeys []string, tokens []CrawlToken) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range visitedKeys {
		if !c.visited.Contains(key) {
			c.visited.Add(key)
			c.admittedCount++
		}
	}

	for _, token := range tokens {
		depth := token.Depth()
		c.depthCount[depth]++
		if c.cfg.Strategy() == config.StrategyDFS {
			c.dfsStack = append(c.dfsStack, token)
			continue
		}
		q, ok := c.queuesByDepth[depth]
		if !ok {
			q = NewFIFOQueue[CrawlToken]()
			c.queuesByDepth[depth] = q
		}
		q.Enqueue(token)
	}
}

func lowerHost(u url.URL) string {
	return strings.ToLower(u.Hostname())
}
