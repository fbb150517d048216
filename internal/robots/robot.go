package robots

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/osint-platform/crawler-core/internal/metadata"
	"github.com/osint-platform/crawler-core/internal/robots/cache"
)

/*
Responsibilities

- Fetch robots.txt per host
- Cache rules for crawl duration
- Enforce allow/disallow rules before enqueue

Robots checks occur before a URL enters the frontier.
*/

type robotCore struct {
	mu        sync.RWMutex
	userAgent string
	sink      metadata.MetadataSink
	fetcher   *RobotsFetcher
}

// CachedRobot is the Robots Client: it fetches and caches robots.txt per
// host and decides whether a URL may be crawled for the configured user
// agent. The zero value is not usable - construct with NewCachedRobot and
// call Init or InitWithCache before Decide.
type CachedRobot struct {
	core *robotCore
}

// NewCachedRobot allocates a CachedRobot bound to the given metadata sink.
// Init or InitWithCache must be called before Decide.
func NewCachedRobot(sink metadata.MetadataSink) CachedRobot {
	return CachedRobot{core: &robotCore{sink: sink}}
}

// Init configures the robot with a fresh in-memory robots.txt cache.
func (r CachedRobot) Init(userAgent string) {
	r.InitWithCache(userAgent, cache.NewMemoryCache())
}

// InitWithCache configures the robot with a caller-supplied Cache, letting
// callers share one robots.txt cache across robots produced for the same
// crawl run.
func (r CachedRobot) InitWithCache(userAgent string, c cache.Cache) {
	r.core.mu.Lock()
	defer r.core.mu.Unlock()
	r.core.userAgent = userAgent
	r.core.fetcher = NewRobotsFetcher(r.core.sink, userAgent, c)
}

// Decide fetches (or reuses the cached) robots.txt for u's host and
// reports whether u may be crawled under the configured user agent.
func (r CachedRobot) Decide(u url.URL) (Decision, error) {
	r.core.mu.RLock()
	fetcher := r.core.fetcher
	userAgent := r.core.userAgent
	sink := r.core.sink
	r.core.mu.RUnlock()

	if fetcher == nil {
		return Decision{}, &RobotsError{
			Message:   "robot used before Init/InitWithCache",
			Retryable: false,
			Cause:     ErrCausePreFetchFailure,
		}
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := u.Host

	result, ferr := fetcher.Fetch(context.Background(), scheme, host)
	if ferr != nil {
		if sink != nil {
			sink.RecordError(
				time.Now(),
				"robots",
				"CachedRobot.Decide",
				mapRobotsErrorToMetadataCause(ferr),
				ferr.Error(),
				[]metadata.Attribute{
					metadata.NewAttr(metadata.AttrURL, u.String()),
					metadata.NewAttr(metadata.AttrHost, host),
				},
			)
		}
		return Decision{}, ferr
	}

	rs := MapResponseToRuleSet(result.Response, userAgent, result.FetchedAt)
	return evaluateDecision(rs, u), nil
}

// Sitemaps returns the Sitemap: URLs robots.txt declares for u's host,
// fetching (or reusing the cached) robots.txt the same way Decide does.
func (r CachedRobot) Sitemaps(u url.URL) ([]string, error) {
	r.core.mu.RLock()
	fetcher := r.core.fetcher
	r.core.mu.RUnlock()

	if fetcher == nil {
		return nil, &RobotsError{
			Message:   "robot used before Init/InitWithCache",
			Retryable: false,
			Cause:     ErrCausePreFetchFailure,
		}
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	result, ferr := fetcher.Fetch(context.Background(), scheme, u.Host)
	if ferr != nil {
		return nil, ferr
	}
	return result.Response.Sitemaps, nil
}

func evaluateDecision(rs ruleSet, u url.URL) Decision {
	decision := Decision{Url: u}

	if rs.crawlDelay != nil {
		decision.CrawlDelay = *rs.crawlDelay
	}

	if !rs.hasGroups {
		decision.Allowed = true
		decision.Reason = EmptyRuleSet
		return decision
	}
	if !rs.matchedGroup {
		decision.Allowed = true
		decision.Reason = UserAgentNotMatched
		return decision
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	allowed, matched := decideForRules(rs, path)
	decision.Allowed = allowed
	switch {
	case !matched:
		decision.Reason = NoMatchingRules
	case allowed:
		decision.Reason = AllowedByRobots
	default:
		decision.Reason = DisallowedByRobots
	}
	return decision
}

// decideForRules finds the longest matching allow/disallow pattern for
// path. Ties prefer Allow, per the de-facto robots.txt extension used by
// major crawlers. matched is false when no rule in the group touches path.
func decideForRules(rs ruleSet, path string) (allowed bool, matched bool) {
	bestLen := -1
	bestAllow := true

	for _, rule := range rs.allowRules {
		if matchRobotsPattern(rule.prefix, path) && len(rule.prefix) > bestLen {
			bestLen = len(rule.prefix)
			bestAllow = true
		}
	}
	for _, rule := range rs.disallowRules {
		if matchRobotsPattern(rule.prefix, path) && len(rule.prefix) > bestLen {
			bestLen = len(rule.prefix)
			bestAllow = false
		}
	}

	if bestLen == -1 {
		return true, false
	}
	return bestAllow, true
}

var patternRegexCache sync.Map // string -> *regexp.Regexp

// matchRobotsPattern reports whether a robots.txt path pattern (which may
// contain '*' wildcards and an end-anchoring '$') matches path. Patterns
// always match as a prefix unless anchored with a trailing '$'.
func matchRobotsPattern(pattern, path string) bool {
	if cached, ok := patternRegexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(path)
	}

	endAnchored := strings.HasSuffix(pattern, "$")
	body := pattern
	if endAnchored {
		body = pattern[:len(pattern)-1]
	}

	var b strings.Builder
	b.WriteString("^")
	for _, part := range strings.Split(body, "*") {
		b.WriteString(regexp.QuoteMeta(part))
		b.WriteString(".*")
	}
	re := strings.TrimSuffix(b.String(), ".*")
	if endAnchored {
		re += "$"
	}

	compiled := regexp.MustCompile(re)
	patternRegexCache.Store(pattern, compiled)
	return compiled.MatchString(path)
}
