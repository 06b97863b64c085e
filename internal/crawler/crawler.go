// Package crawler implements the polite frontier crawler: URL normalization,
// policy filtering, robots compliance, per-host rate limiting, and page
// extraction.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/domain"
	"github.com/sagecloud/kbcrawl/internal/metrics"
)

// Config holds one crawl's run parameters.
type Config struct {
	Seeds        []string
	Allowlist    []string
	Denylist     []string
	UserAgent    string
	MaxPages     int
	PerHostCap   int // 0 = uncapped
	Timeout      time.Duration
	MaxRedirects int
	LogEvery     int
	RateLimit    time.Duration
	RateJitter   time.Duration
	RetryMax     int
	RetryBackoff time.Duration
}

// Heartbeat is the periodic progress observation emitted every LogEvery pages.
type Heartbeat struct {
	PagesFetched int
	QueueDepth   int
	Elapsed      time.Duration
	PagesPerMin  float64
	LastURL      string
}

// Engine drives one breadth-first crawl. All mutable crawl state (robots
// cache, rate-limiter timestamps, statistics) is owned by the instance, so
// independent engines may run concurrently.
type Engine struct {
	cfg     Config
	client  *http.Client
	limiter *rateLimiter
	robots  *robotsCache
	logger  *zap.Logger

	// OnHeartbeat, when set, receives a progress observation every
	// LogEvery fetched pages.
	OnHeartbeat func(Heartbeat)
}

var errTooManyRedirects = errors.New("too many redirects")

// New creates a crawl engine. Zero-valued config fields fall back to the
// defaults the pipeline ships with.
func New(cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 200
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "kbcrawl/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 25
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 400 * time.Millisecond
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}

	return &Engine{
		cfg:     cfg,
		client:  client,
		limiter: newRateLimiter(cfg.RateLimit, cfg.RateJitter),
		robots:  newRobotsCache(client, cfg.UserAgent, logger),
		logger:  logger,
	}
}

// Run crawls breadth-first from the seeds and calls emit for every page with
// non-empty extracted text. The sequence is finite and not restartable; an
// emit error aborts the crawl and is returned to the caller. The returned
// statistics are valid even on early termination.
func (e *Engine) Run(ctx context.Context, emit func(domain.Page) error) (*Stats, error) {
	stats := NewStats()
	start := time.Now()

	queue := make([]string, 0, len(e.cfg.Seeds))
	allowedHosts := map[string]struct{}{}
	for _, seed := range e.cfg.Seeds {
		normalized := Normalize(seed)
		queue = append(queue, normalized)
		if u, err := url.Parse(normalized); err == nil && u.Host != "" {
			allowedHosts[u.Host] = struct{}{}
		}
	}
	visited := map[string]struct{}{}

	e.logger.Info("crawl start",
		zap.Strings("seeds", e.cfg.Seeds),
		zap.Int("max_pages", e.cfg.MaxPages),
		zap.Duration("rate_limit", e.cfg.RateLimit),
	)

	for len(queue) > 0 && len(visited) < e.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		pageURL := Normalize(queue[0])
		queue = queue[1:]

		if _, seen := visited[pageURL]; seen {
			continue
		}

		parsed, err := url.Parse(pageURL)
		if err != nil {
			e.recordSkip(stats, SkipScheme, pageURL)
			continue
		}
		if reason := e.filterURL(pageURL, parsed, allowedHosts, stats); reason != "" {
			if reason == SkipRobots {
				stats.RobotsBlocked++
			}
			e.recordSkip(stats, reason, pageURL)
			continue
		}

		e.limiter.wait(parsed.Host)

		status, body, err := e.fetch(ctx, pageURL)
		if err != nil {
			stats.Errors++
			if isTimeout(err) {
				stats.Timeouts++
			}
			e.logger.Warn("fetch failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}

		visited[pageURL] = struct{}{}
		stats.PagesFetched++
		stats.PerStatus[strconv.Itoa(status)]++
		stats.PerHost[parsed.Host]++
		metrics.CrawlPagesFetchedTotal.WithLabelValues(parsed.Host, strconv.Itoa(status)).Inc()

		if status >= 400 {
			// Fetched but unusable: counts as both skipped and an error.
			stats.PagesSkipped++
			stats.Errors++
			continue
		}

		doc, err := parseHTML(string(body))
		if err != nil {
			stats.Errors++
			e.logger.Warn("parse failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}

		title := extractTitle(doc)
		text := extractText(doc)
		publishedDate := extractDate(doc)
		imageURL := extractImage(doc, parsed)

		e.heartbeat(stats, len(queue), start, pageURL)

		if text != "" {
			page := domain.Page{
				URL:           pageURL,
				Title:         title,
				PublishedDate: publishedDate,
				ContentText:   text,
				ImageURL:      imageURL,
			}
			if err := emit(page); err != nil {
				return stats, fmt.Errorf("emit page %s: %w", pageURL, err)
			}
		} else {
			stats.skip(SkipEmpty)
		}

		for _, link := range discoverLinks(doc, parsed) {
			normalized := Normalize(link)
			if _, seen := visited[normalized]; seen {
				continue
			}
			linkURL, err := url.Parse(normalized)
			if err != nil {
				continue
			}
			// Eager pre-filter to bound frontier growth; the per-host cap
			// and robots policy are re-checked at dequeue time.
			if !isHTMLURL(linkURL) ||
				!hostAllowed(linkURL, allowedHosts) ||
				denyReason(normalized, e.cfg.Denylist) != "" ||
				!matchesAllowlist(normalized, e.cfg.Allowlist) {
				continue
			}
			queue = append(queue, normalized)
		}
	}

	e.logger.Info("crawl done",
		zap.Int("pages_fetched", stats.PagesFetched),
		zap.Int("pages_skipped", stats.PagesSkipped),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// filterURL applies the policy filters in their fixed order and returns the
// skip reason of the first failing filter, or "" when the URL passes.
func (e *Engine) filterURL(
	pageURL string, parsed *url.URL, allowedHosts map[string]struct{}, stats *Stats,
) string {
	if !hostAllowed(parsed, allowedHosts) {
		return SkipHost
	}
	if denyReason(pageURL, e.cfg.Denylist) != "" {
		return SkipDenylist
	}
	if !matchesAllowlist(pageURL, e.cfg.Allowlist) {
		return SkipAllowlist
	}
	if !isHTMLURL(parsed) {
		return SkipExtension
	}
	if !schemeAllowed(parsed) {
		return SkipScheme
	}
	if e.cfg.PerHostCap > 0 && stats.PerHost[parsed.Host] >= e.cfg.PerHostCap {
		return SkipHostCap
	}
	if !e.robots.allowed(parsed) {
		return SkipRobots
	}
	return ""
}

func (e *Engine) recordSkip(stats *Stats, reason, pageURL string) {
	stats.skip(reason)
	metrics.CrawlPagesSkippedTotal.WithLabelValues(reason).Inc()
	e.logger.Debug("skip", zap.String("reason", reason), zap.String("url", pageURL))
}

// fetch issues a GET with bounded timeout and retries transient failures
// (connection errors, 429 and 5xx responses) with exponential backoff.
// Redirect loops abort immediately.
func (e *Engine) fetch(ctx context.Context, pageURL string) (int, []byte, error) {
	backoff := e.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt < e.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", e.cfg.UserAgent)

		resp, err := e.client.Do(req)
		if err != nil {
			if errors.Is(err, errTooManyRedirects) {
				return 0, nil, err
			}
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		metrics.CrawlFetchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			lastErr = fmt.Errorf("read body: %w", err)
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < e.cfg.RetryMax-1 {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}

		e.logger.Debug("fetched",
			zap.Int("status", resp.StatusCode),
			zap.Int("bytes", len(body)),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("url", pageURL),
		)
		return resp.StatusCode, body, nil
	}
	return 0, nil, lastErr
}

func (e *Engine) heartbeat(stats *Stats, queueDepth int, start time.Time, lastURL string) {
	if stats.PagesFetched%e.cfg.LogEvery != 0 {
		return
	}
	elapsed := time.Since(start)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(stats.PagesFetched) / elapsed.Minutes()
	}
	hb := Heartbeat{
		PagesFetched: stats.PagesFetched,
		QueueDepth:   queueDepth,
		Elapsed:      elapsed,
		PagesPerMin:  rate,
		LastURL:      lastURL,
	}
	e.logger.Info("heartbeat",
		zap.Int("fetched", hb.PagesFetched),
		zap.Int("queue", hb.QueueDepth),
		zap.Duration("elapsed", hb.Elapsed),
		zap.Float64("pages_per_min", hb.PagesPerMin),
		zap.String("last", hb.LastURL),
	)
	if e.OnHeartbeat != nil {
		e.OnHeartbeat(hb)
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
