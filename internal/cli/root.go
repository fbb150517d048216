package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/osint-platform/crawler-core/internal/build"
	"github.com/osint-platform/crawler-core/internal/config"
	"github.com/osint-platform/crawler-core/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	cfgFile          string
	seedURLs         []string
	strategy         string
	maxDepth         int
	maxPages         int
	concurrency      int
	stayInDomain     bool
	allowedDomains   []string
	blockedDomains   []string
	urlPatterns      []string
	excludePatterns  []string
	allowedMimeTypes []string
	blockedMimeTypes []string
	userAgent        string
	timeout          time.Duration
	baseDelay        time.Duration
	jitter           time.Duration
	randomSeed       int64
	maxAttempt       int
	backoffInitial   time.Duration
	backoffMultiple  float64
	backoffMax       time.Duration
	respectRobotsTxt bool
	followSitemaps   bool
	extractForms     bool
	extractJSLinks   bool
	resumable        bool
	stateDir         string
	workerID         string
	totalWorkers     int
)

// parseSeedURLs converts a string slice of URLs to []url.URL
func parseSeedURLs(urlStrings []string) ([]url.URL, error) {
	if len(urlStrings) == 0 {
		return nil, fmt.Errorf("seed URLs cannot be empty")
	}

	var urls []url.URL
	for _, urlStr := range urlStrings {
		parsedURL, err := url.Parse(urlStr)
		if err != nil {
			return nil, fmt.Errorf("error parsing seed URL %s: %w", urlStr, err)
		}
		urls = append(urls, *parsedURL)
	}
	return urls, nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "crawler-core",
	Short: "A polite, resumable crawler core for link and form discovery.",
	Long: `crawler-core walks a seed set of URLs, discovering outbound links and
forms while respecting robots.txt and per-host crawl-delay policy. It can
resume an interrupted run from its last checkpoint and shard a crawl across
multiple worker processes.`,
	Version: build.FullVersion(),
	Run: func(cmd *cobra.Command, args []string) {
		if len(seedURLs) == 0 {
			fmt.Fprintf(os.Stderr, "Error: --seed-url is required. Please provide at least one seed URL to start crawling.\n")
			cmd.Usage()
			os.Exit(1)
		}

		parsedURLs, err := parseSeedURLs(seedURLs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}

		cfg := InitConfig(parsedURLs)

		fmt.Printf("Seed URLs: %s\n", strings.Join(seedURLs, ", "))
		fmt.Printf("Strategy: %s | Max Depth: %d | Max Pages: %d | Concurrency: %d\n",
			cfg.Strategy(), cfg.MaxDepth(), cfg.MaxPages(), cfg.Concurrency())
		fmt.Printf("Robots: %t | Sitemaps: %t | Forms: %t | JS links: %t\n",
			cfg.RespectRobotsTxt(), cfg.FollowSitemaps(), cfg.ExtractForms(), cfg.ExtractJSLinks())
		if cfg.Resumable() {
			fmt.Printf("Resumable: state-dir=%s worker=%s total-workers=%d\n",
				cfg.StateDir(), cfg.WorkerID(), cfg.TotalWorkers())
		}

		pagesSeen := 0
		o := orchestrator.New(orchestrator.Hooks{
			OnPage: func(r orchestrator.CrawlResult) {
				pagesSeen++
				fmt.Printf("[%d] %s (%d) depth=%d links=%d forms=%d\n",
					pagesSeen, r.URL.String(), r.StatusCode, r.Depth, len(r.Links), len(r.Forms))
			},
			OnError: func(e orchestrator.CrawlError) {
				fmt.Fprintf(os.Stderr, "error: %s: %s\n", e.URL.String(), e.Err)
			},
		})

		stats, crawlErr := o.Crawl(cmd.Context(), cfg)
		if crawlErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", crawlErr)
			os.Exit(1)
		}

		fmt.Printf("Done: %d pages (%d ok, %d failed), %d links, %d forms, in %s\n",
			stats.TotalPages, stats.SuccessfulPages, stats.FailedPages,
			stats.TotalLinks, stats.TotalForms, stats.Duration)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ExecuteContext is like Execute but binds ctx as the command's context,
// so cancellation (e.g. on SIGINT/SIGTERM) reaches rootCmd.Run and, through
// it, orchestrator.Crawl's fetch/retry loop.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringArrayVar(&seedURLs, "seed-url", []string{}, "one or more starting URLs (can be repeated)")
	rootCmd.PersistentFlags().StringVar(&strategy, "strategy", "", "traversal order: bfs or dfs")
	rootCmd.PersistentFlags().IntVar(&maxDepth, "max-depth", 0, "maximum link depth from seed URL (0 keeps the default)")
	rootCmd.PersistentFlags().IntVar(&maxPages, "max-pages", 0, "maximum number of pages to fetch (0 keeps the default)")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "number of concurrent fetch workers")
	rootCmd.PersistentFlags().BoolVar(&stayInDomain, "stay-in-domain", false, "restrict crawl to the seed URLs' hosts")
	rootCmd.PersistentFlags().StringArrayVar(&allowedDomains, "allowed-domain", []string{}, "explicit domain allowlist (can be repeated)")
	rootCmd.PersistentFlags().StringArrayVar(&blockedDomains, "blocked-domain", []string{}, "domain blocklist (can be repeated)")
	rootCmd.PersistentFlags().StringArrayVar(&urlPatterns, "url-pattern", []string{}, "only admit URLs matching one of these regexes")
	rootCmd.PersistentFlags().StringArrayVar(&excludePatterns, "exclude-pattern", []string{}, "never admit URLs matching one of these regexes")
	rootCmd.PersistentFlags().StringArrayVar(&allowedMimeTypes, "allowed-mime-type", []string{}, "content-type allowlist (supports type/* wildcards)")
	rootCmd.PersistentFlags().StringArrayVar(&blockedMimeTypes, "blocked-mime-type", []string{}, "content-type blocklist")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "timeout for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&baseDelay, "base-delay", 0, "base delay between HTTP requests to the same host")
	rootCmd.PersistentFlags().DurationVar(&jitter, "jitter", 0, "random jitter added to base delay")
	rootCmd.PersistentFlags().Int64Var(&randomSeed, "random-seed", 0, "seed for random number generation (0 for current time)")
	rootCmd.PersistentFlags().IntVar(&maxAttempt, "max-attempt", 0, "maximum fetch attempts per URL before giving up")
	rootCmd.PersistentFlags().DurationVar(&backoffInitial, "backoff-initial-duration", 0, "initial backoff delay after a recoverable failure")
	rootCmd.PersistentFlags().Float64Var(&backoffMultiple, "backoff-multiplier", 0, "multiplier applied to backoff delay on each retry")
	rootCmd.PersistentFlags().DurationVar(&backoffMax, "backoff-max-duration", 0, "ceiling on the backoff delay")
	rootCmd.PersistentFlags().BoolVar(&respectRobotsTxt, "respect-robots-txt", true, "honor robots.txt disallow/crawl-delay directives")
	rootCmd.PersistentFlags().BoolVar(&followSitemaps, "follow-sitemaps", false, "expand robots-declared and well-known sitemaps at startup")
	rootCmd.PersistentFlags().BoolVar(&extractForms, "extract-forms", false, "enumerate forms and inputs on each page")
	rootCmd.PersistentFlags().BoolVar(&extractJSLinks, "extract-js-links", false, "additionally scan inline script text for URL literals")
	rootCmd.PersistentFlags().BoolVar(&resumable, "resumable", false, "checkpoint progress and allow resuming an interrupted run")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "directory checkpoint/resume state is written to")
	rootCmd.PersistentFlags().StringVar(&workerID, "worker-id", "", "this worker's identity, e.g. worker-0 (for sharded crawls)")
	rootCmd.PersistentFlags().IntVar(&totalWorkers, "total-workers", 0, "total number of workers sharding this crawl")
}

// InitConfig reads in the config file if set, otherwise the flag values.
// seedUrls is a mandatory parameter and must contain at least one valid URL.
func InitConfig(seedUrls []url.URL) config.Config {
	cfg, err := InitConfigWithError(seedUrls)
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// InitConfigWithError reads in the config file if set, otherwise the flag values, returning any errors.
// seedUrls is a mandatory parameter and must contain at least one valid URL.
// This makes it easier to test error cases.
func InitConfigWithError(seedUrls []url.URL) (config.Config, error) {
	if len(seedUrls) == 0 {
		return config.Config{}, fmt.Errorf("%w: seedUrls cannot be empty", config.ErrInvalidConfig)
	}

	if cfgFile != "" {
		fmt.Printf("Initializing config from file: %s\n", cfgFile)
		cfg, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
		return cfg, nil
	}

	fmt.Println("No config file specified. Using default and flag values")

	configBuilder := config.WithDefault(seedUrls)

	if strategy != "" {
		configBuilder = configBuilder.WithStrategy(config.Strategy(strategy))
	}
	if maxDepth > 0 {
		configBuilder = configBuilder.WithMaxDepth(maxDepth)
	}
	if maxPages > 0 {
		configBuilder = configBuilder.WithMaxPages(maxPages)
	}
	if concurrency > 0 {
		configBuilder = configBuilder.WithConcurrency(concurrency)
	}
	if stayInDomain {
		configBuilder = configBuilder.WithStayInDomain(stayInDomain)
	}
	if len(allowedDomains) > 0 {
		configBuilder = configBuilder.WithAllowedDomains(allowedDomains)
	}
	if len(blockedDomains) > 0 {
		configBuilder = configBuilder.WithBlockedDomains(blockedDomains)
	}
	if len(urlPatterns) > 0 {
		compiled, err := compilePatternFlags(urlPatterns)
		if err != nil {
			return config.Config{}, err
		}
		configBuilder = configBuilder.WithURLPatterns(compiled)
	}
	if len(excludePatterns) > 0 {
		compiled, err := compilePatternFlags(excludePatterns)
		if err != nil {
			return config.Config{}, err
		}
		configBuilder = configBuilder.WithExcludePatterns(compiled)
	}
	if len(allowedMimeTypes) > 0 {
		configBuilder = configBuilder.WithAllowedMimeTypes(allowedMimeTypes)
	}
	if len(blockedMimeTypes) > 0 {
		configBuilder = configBuilder.WithBlockedMimeTypes(blockedMimeTypes)
	}
	if userAgent != "" {
		configBuilder = configBuilder.WithUserAgent(userAgent)
	}
	if timeout > 0 {
		configBuilder = configBuilder.WithTimeout(timeout)
	}
	if baseDelay > 0 {
		configBuilder = configBuilder.WithBaseDelay(baseDelay)
	}
	if jitter > 0 {
		configBuilder = configBuilder.WithJitter(jitter)
	}
	if randomSeed != 0 {
		configBuilder = configBuilder.WithRandomSeed(randomSeed)
	}
	if maxAttempt > 0 {
		configBuilder = configBuilder.WithMaxAttempt(maxAttempt)
	}
	if backoffInitial > 0 {
		configBuilder = configBuilder.WithBackoffInitialDuration(backoffInitial)
	}
	if backoffMultiple > 0 {
		configBuilder = configBuilder.WithBackoffMultiplier(backoffMultiple)
	}
	if backoffMax > 0 {
		configBuilder = configBuilder.WithBackoffMaxDuration(backoffMax)
	}
	configBuilder = configBuilder.WithRespectRobotsTxt(respectRobotsTxt)
	if followSitemaps {
		configBuilder = configBuilder.WithFollowSitemaps(followSitemaps)
	}
	if extractForms {
		configBuilder = configBuilder.WithExtractForms(extractForms)
	}
	if extractJSLinks {
		configBuilder = configBuilder.WithExtractJSLinks(extractJSLinks)
	}
	if resumable {
		configBuilder = configBuilder.WithResumable(resumable)
	}
	if stateDir != "" {
		configBuilder = configBuilder.WithStateDir(stateDir)
	}
	if workerID != "" {
		configBuilder = configBuilder.WithWorkerID(workerID)
	}
	if totalWorkers > 0 {
		configBuilder = configBuilder.WithTotalWorkers(totalWorkers)
	}

	cfg, err := configBuilder.Build()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func compilePatternFlags(raw []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid pattern %q: %s", config.ErrInvalidConfig, p, err.Error())
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func ResetFlags() {
	cfgFile = ""
	seedURLs = []string{}
	strategy = ""
	maxDepth = 0
	maxPages = 0
	concurrency = 0
	stayInDomain = false
	allowedDomains = []string{}
	blockedDomains = []string{}
	urlPatterns = []string{}
	excludePatterns = []string{}
	allowedMimeTypes = []string{}
	blockedMimeTypes = []string{}
	userAgent = ""
	timeout = 0
	baseDelay = 0
	jitter = 0
	randomSeed = 0
	maxAttempt = 0
	backoffInitial = 0
	backoffMultiple = 0
	backoffMax = 0
	respectRobotsTxt = true
	followSitemaps = false
	extractForms = false
	extractJSLinks = false
	resumable = false
	stateDir = ""
	workerID = ""
	totalWorkers = 0
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string) { cfgFile = path }

func SetSeedURLsForTest(urls []string) { seedURLs = urls }

func SetStrategyForTest(s string) { strategy = s }

func SetMaxDepthForTest(depth int) { maxDepth = depth }

func SetMaxPagesForTest(pages int) { maxPages = pages }

func SetConcurrencyForTest(conc int) { concurrency = conc }

func SetStayInDomainForTest(stay bool) { stayInDomain = stay }

func SetAllowedDomainsForTest(domains []string) { allowedDomains = domains }

func SetBlockedDomainsForTest(domains []string) { blockedDomains = domains }

func SetURLPatternsForTest(patterns []string) { urlPatterns = patterns }

func SetExcludePatternsForTest(patterns []string) { excludePatterns = patterns }

func SetAllowedMimeTypesForTest(types []string) { allowedMimeTypes = types }

func SetBlockedMimeTypesForTest(types []string) { blockedMimeTypes = types }

func SetUserAgentForTest(agent string) { userAgent = agent }

func SetTimeoutForTest(t time.Duration) { timeout = t }

func SetBaseDelayForTest(delay time.Duration) { baseDelay = delay }

func SetJitterForTest(j time.Duration) { jitter = j }

func SetRandomSeedForTest(seed int64) { randomSeed = seed }

func SetMaxAttemptForTest(attempts int) { maxAttempt = attempts }

func SetBackoffInitialDurationForTest(d time.Duration) { backoffInitial = d }

func SetBackoffMultiplierForTest(m float64) { backoffMultiple = m }

func SetBackoffMaxDurationForTest(d time.Duration) { backoffMax = d }

func SetRespectRobotsTxtForTest(respect bool) { respectRobotsTxt = respect }

func SetFollowSitemapsForTest(follow bool) { followSitemaps = follow }

func SetExtractFormsForTest(extract bool) { extractForms = extract }

func SetExtractJSLinksForTest(extract bool) { extractJSLinks = extract }

func SetResumableForTest(r bool) { resumable = r }

func SetStateDirForTest(dir string) { stateDir = dir }

func SetWorkerIDForTest(id string) { workerID = id }

func SetTotalWorkersForTest(total int) { totalWorkers = total }
