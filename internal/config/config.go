package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/osint-platform/crawler-core/internal/mimefilter"
)

// Strategy selects the traversal order the frontier dequeues items in.
type Strategy string

const (
	StrategyBFS Strategy = "bfs"
	StrategyDFS Strategy = "dfs"
)

// Config is the immutable, builder-constructed set of options governing one
// crawl run. Instances are produced via WithDefault(...).With...().Build()
// or loaded from a JSON file via WithConfigFile.
type Config struct {
	//===============
	//  Crawl scope
	//===============
	seedURLs        []url.URL
	strategy        Strategy
	allowedDomains  []string
	blockedDomains  []string
	stayInDomain    bool
	urlPatterns     []*regexp.Regexp
	excludePatterns []*regexp.Regexp

	//===============
	// Limits
	//===============
	maxDepth int
	maxPages int

	//===============
	// Content-type filter
	//===============
	allowedMimeTypes []string
	blockedMimeTypes []string

	//===============
	// Politeness
	//===============
	concurrency            int
	baseDelay              time.Duration
	jitter                 time.Duration
	randomSeed             int64
	maxAttempt             int
	backoffInitialDuration time.Duration
	backoffMultiplier      float64
	backoffMaxDuration     time.Duration

	//===============
	// Fetch
	//===============
	timeout           time.Duration
	userAgent         string
	respectRobotsTxt  bool
	followSitemaps    bool
	extractForms      bool
	extractJSLinks    bool

	//===============
	// Resume / partition
	//===============
	resumable    bool
	stateDir     string
	workerID     string
	totalWorkers int
}

type configDTO struct {
	SeedURLs               []url.URL     `json:"seedUrls"`
	Strategy               string        `json:"strategy,omitempty"`
	AllowedDomains         []string      `json:"allowedDomains,omitempty"`
	BlockedDomains         []string      `json:"blockedDomains,omitempty"`
	StayInDomain           bool          `json:"stayInDomain,omitempty"`
	URLPatterns            []string      `json:"urlPatterns,omitempty"`
	ExcludePatterns        []string      `json:"excludePatterns,omitempty"`
	MaxDepth               int           `json:"maxDepth,omitempty"`
	MaxPages               int           `json:"maxPages,omitempty"`
	AllowedMimeTypes       []string      `json:"allowedMimeTypes,omitempty"`
	BlockedMimeTypes       []string      `json:"blockedMimeTypes,omitempty"`
	Concurrency            int           `json:"concurrency,omitempty"`
	BaseDelay              time.Duration `json:"baseDelay,omitempty"`
	Jitter                 time.Duration `json:"jitter,omitempty"`
	RandomSeed             int64         `json:"randomSeed,omitempty"`
	MaxAttempt             int           `json:"maxAttempt,omitempty"`
	BackoffInitialDuration time.Duration `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64       `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration `json:"backoffMaxDuration,omitempty"`
	Timeout                time.Duration `json:"timeout,omitempty"`
	UserAgent              string        `json:"userAgent,omitempty"`
	RespectRobotsTxt       *bool         `json:"respectRobotsTxt,omitempty"`
	FollowSitemaps         bool          `json:"followSitemaps,omitempty"`
	ExtractForms           bool          `json:"extractForms,omitempty"`
	ExtractJSLinks         bool          `json:"extractJsLinks,omitempty"`
	Resumable              bool          `json:"resumable,omitempty"`
	StateDir               string        `json:"stateDir,omitempty"`
	WorkerID               string        `json:"workerId,omitempty"`
	TotalWorkers           int           `json:"totalWorkers,omitempty"`
}

func compilePatterns(raw []string) ([]*regexp.Regexp, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiled := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid pattern %q: %s", ErrInvalidConfig, p, err.Error())
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault(dto.SeedURLs).Build()
	if err != nil {
		return Config{}, err
	}

	if dto.Strategy != "" {
		cfg.strategy = Strategy(dto.Strategy)
	}
	if len(dto.AllowedDomains) > 0 {
		cfg.allowedDomains = dto.AllowedDomains
	}
	if len(dto.BlockedDomains) > 0 {
		cfg.blockedDomains = dto.BlockedDomains
	}
	cfg.stayInDomain = dto.StayInDomain

	urlPatterns, err := compilePatterns(dto.URLPatterns)
	if err != nil {
		return Config{}, err
	}
	if urlPatterns != nil {
		cfg.urlPatterns = urlPatterns
	}
	excludePatterns, err := compilePatterns(dto.ExcludePatterns)
	if err != nil {
		return Config{}, err
	}
	if excludePatterns != nil {
		cfg.excludePatterns = excludePatterns
	}

	if dto.MaxDepth != 0 {
		cfg.maxDepth = dto.MaxDepth
	}
	if dto.MaxPages != 0 {
		cfg.maxPages = dto.MaxPages
	}
	if len(dto.AllowedMimeTypes) > 0 {
		cfg.allowedMimeTypes = dto.AllowedMimeTypes
	}
	if len(dto.BlockedMimeTypes) > 0 {
		cfg.blockedMimeTypes = dto.BlockedMimeTypes
	}
	if dto.Concurrency != 0 {
		cfg.concurrency = dto.Concurrency
	}
	if dto.BaseDelay != 0 {
		cfg.baseDelay = dto.BaseDelay
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}
	if dto.Timeout != 0 {
		cfg.timeout = dto.Timeout
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.RespectRobotsTxt != nil {
		cfg.respectRobotsTxt = *dto.RespectRobotsTxt
	}
	cfg.followSitemaps = dto.FollowSitemaps
	cfg.extractForms = dto.ExtractForms
	cfg.extractJSLinks = dto.ExtractJSLinks
	cfg.resumable = dto.Resumable
	if dto.StateDir != "" {
		cfg.stateDir = dto.StateDir
	}
	if dto.WorkerID != "" {
		cfg.workerID = dto.WorkerID
	}
	if dto.TotalWorkers != 0 {
		cfg.totalWorkers = dto.TotalWorkers
	}

	return cfg, nil
}

// WithConfigFile loads a Config from a JSON file on disk.
func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	if err := json.Unmarshal(configContent, &cfgDTO); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	return newConfigFromDTO(cfgDTO)
}

// WithDefault creates a new Config with the provided seed URLs and default
// values for all other fields. seedUrls is mandatory and must not be empty -
// Build will return an error if it is.
func WithDefault(seedUrls []url.URL) *Config {
	crawlable, _ := mimefilter.Preset("CRAWLABLE")
	defaultConfig := Config{
		seedURLs:               seedUrls,
		strategy:               StrategyBFS,
		allowedDomains:         nil,
		blockedDomains:         nil,
		stayInDomain:           false,
		urlPatterns:            nil,
		excludePatterns:        nil,
		maxDepth:               3,
		maxPages:               1000,
		allowedMimeTypes:       crawlable,
		blockedMimeTypes:       nil,
		concurrency:            5,
		baseDelay:              time.Second,
		jitter:                 time.Millisecond * 500,
		randomSeed:             time.Now().UnixNano(),
		maxAttempt:             3,
		backoffInitialDuration: 100 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     10 * time.Second,
		timeout:                30 * time.Second,
		userAgent:              "OSINT-Crawler/1.0",
		respectRobotsTxt:       true,
		followSitemaps:         false,
		extractForms:           false,
		extractJSLinks:         false,
		resumable:              false,
		stateDir:               ".crawl-state",
		workerID:               "worker-0",
		totalWorkers:           1,
	}
	return &defaultConfig
}

func (c *Config) WithSeedUrls(urls []url.URL) *Config {
	c.seedURLs = urls
	return c
}

func (c *Config) WithStrategy(strategy Strategy) *Config {
	c.strategy = strategy
	return c
}

func (c *Config) WithAllowedDomains(domains []string) *Config {
	c.allowedDomains = domains
	return c
}

func (c *Config) WithBlockedDomains(domains []string) *Config {
	c.blockedDomains = domains
	return c
}

func (c *Config) WithStayInDomain(stay bool) *Config {
	c.stayInDomain = stay
	return c
}

func (c *Config) WithURLPatterns(patterns []*regexp.Regexp) *Config {
	c.urlPatterns = patterns
	return c
}

func (c *Config) WithExcludePatterns(patterns []*regexp.Regexp) *Config {
	c.excludePatterns = patterns
	return c
}

func (c *Config) WithMaxDepth(depth int) *Config {
	c.maxDepth = depth
	return c
}

func (c *Config) WithMaxPages(pages int) *Config {
	c.maxPages = pages
	return c
}

func (c *Config) WithAllowedMimeTypes(types []string) *Config {
	c.allowedMimeTypes = types
	return c
}

func (c *Config) WithBlockedMimeTypes(types []string) *Config {
	c.blockedMimeTypes = types
	return c
}

func (c *Config) WithConcurrency(concurrency int) *Config {
	c.concurrency = concurrency
	return c
}

func (c *Config) WithBaseDelay(delay time.Duration) *Config {
	c.baseDelay = delay
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithRespectRobotsTxt(respect bool) *Config {
	c.respectRobotsTxt = respect
	return c
}

func (c *Config) WithFollowSitemaps(follow bool) *Config {
	c.followSitemaps = follow
	return c
}

func (c *Config) WithExtractForms(extract bool) *Config {
	c.extractForms = extract
	return c
}

func (c *Config) WithExtractJSLinks(extract bool) *Config {
	c.extractJSLinks = extract
	return c
}

func (c *Config) WithResumable(resumable bool) *Config {
	c.resumable = resumable
	return c
}

func (c *Config) WithStateDir(dir string) *Config {
	c.stateDir = dir
	return c
}

func (c *Config) WithWorkerID(id string) *Config {
	c.workerID = id
	return c
}

func (c *Config) WithTotalWorkers(total int) *Config {
	c.totalWorkers = total
	return c
}

// Build validates and finalizes the Config. seedURLs must be non-empty.
func (c *Config) Build() (Config, error) {
	if len(c.seedURLs) == 0 {
		return Config{}, fmt.Errorf("%w: seedUrls cannot be empty", ErrInvalidConfig)
	}
	if c.totalWorkers < 1 {
		c.totalWorkers = 1
	}
	if c.strategy == "" {
		c.strategy = StrategyBFS
	}
	return *c, nil
}

func (c Config) SeedURLs() []url.URL {
	urls := make([]url.URL, len(c.seedURLs))
	copy(urls, c.seedURLs)
	return urls
}

func (c Config) Strategy() Strategy                { return c.strategy }
func (c Config) StayInDomain() bool                 { return c.stayInDomain }
func (c Config) MaxDepth() int                      { return c.maxDepth }
func (c Config) MaxPages() int                      { return c.maxPages }
func (c Config) Concurrency() int                   { return c.concurrency }
func (c Config) BaseDelay() time.Duration           { return c.baseDelay }
func (c Config) Jitter() time.Duration              { return c.jitter }
func (c Config) RandomSeed() int64                  { return c.randomSeed }
func (c Config) Timeout() time.Duration             { return c.timeout }
func (c Config) UserAgent() string                  { return c.userAgent }
func (c Config) RespectRobotsTxt() bool             { return c.respectRobotsTxt }
func (c Config) FollowSitemaps() bool               { return c.followSitemaps }
func (c Config) ExtractForms() bool                 { return c.extractForms }
func (c Config) ExtractJSLinks() bool                { return c.extractJSLinks }
func (c Config) Resumable() bool                    { return c.resumable }
func (c Config) StateDir() string                   { return c.stateDir }
func (c Config) WorkerID() string                   { return c.workerID }
func (c Config) TotalWorkers() int                  { return c.totalWorkers }
func (c Config) MaxAttempt() int                    { return c.maxAttempt }
func (c Config) BackoffInitialDuration() time.Duration { return c.backoffInitialDuration }
func (c Config) BackoffMultiplier() float64         { return c.backoffMultiplier }
func (c Config) BackoffMaxDuration() time.Duration  { return c.backoffMaxDuration }

func (c Config) AllowedDomains() []string {
	domains := make([]string, len(c.allowedDomains))
	copy(domains, c.allowedDomains)
	return domains
}

func (c Config) BlockedDomains() []string {
	domains := make([]string, len(c.blockedDomains))
	copy(domains, c.blockedDomains)
	return domains
}

func (c Config) URLPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(c.urlPatterns))
	copy(patterns, c.urlPatterns)
	return patterns
}

func (c Config) ExcludePatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(c.excludePatterns))
	copy(patterns, c.excludePatterns)
	return patterns
}

func (c Config) AllowedMimeTypes() []string {
	types := make([]string, len(c.allowedMimeTypes))
	copy(types, c.allowedMimeTypes)
	return types
}

func (c Config) BlockedMimeTypes() []string {
	types := make([]string, len(c.blockedMimeTypes))
	copy(types, c.blockedMimeTypes)
	return types
}
