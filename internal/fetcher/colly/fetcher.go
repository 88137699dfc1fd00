// Package collyfetcher implements tracker.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/gocolly/colly/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/JakeFAU/taleon-tracker/internal/metrics"
	"github.com/JakeFAU/taleon-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

// ProfilePath is the profile endpoint relative to the base URL.
const ProfilePath = "/characterprofile.php"

// Defaults applied by New when the config leaves a field empty.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultCacheTTL       = 5 * time.Minute
	DefaultCacheSize      = 1024
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	DefaultAcceptLanguage = "en-US,en;q=0.9"
)

// Config controls collector behavior.
type Config struct {
	BaseURL        string
	UserAgent      string
	Accept         string
	AcceptLanguage string
	Timeout        time.Duration
	CacheTTL       time.Duration
	CacheSize      int
	RateLimitRPS   float64
	RateLimitBurst int
	// TLSBypass wraps the transport with browser-like TLS and header settings.
	TLSBypass bool
}

// Fetcher downloads profile pages. It owns its HTTP client and a
// time-bounded cache keyed by character name; it holds no other state.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	cache         *expirable.LRU[string, []byte]
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState collects what the colly callbacks observed for one request.
type fetchState struct {
	body   []byte
	status int
	err    error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	cfg = withDefaults(cfg)
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.UserAgent = cfg.UserAgent

	var transport http.RoundTripper = newHTTPTransport()
	if cfg.TLSBypass {
		transport = cloudflarebp.AddCloudFlareByPass(transport)
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		cache:         expirable.NewLRU[string, []byte](cfg.CacheSize, nil, cfg.CacheTTL),
		limiter:       ratelimit.New(ratelimit.Config{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst}),
		logger:        logger,
	}, nil
}

func withDefaults(cfg Config) Config {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Accept == "" {
		cfg.Accept = DefaultAccept
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = DefaultAcceptLanguage
	}
	return cfg
}

// ProfileURL returns the profile page URL for name.
func (f *Fetcher) ProfileURL(name string) string {
	return f.cfg.BaseURL + ProfilePath + "?name=" + url.QueryEscape(name)
}

// Fetch returns the profile HTML for name, serving repeats within the cache
// TTL without touching the network. Failures are *tracker.UpstreamError.
func (f *Fetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	if cached, ok := f.cache.Get(name); ok {
		metrics.ObserveCache(true)
		f.logger.Debug("profile served from cache", zap.String("character", name))
		return append([]byte(nil), cached...), nil
	}
	metrics.ObserveCache(false)

	target := f.ProfileURL(name)
	if err := f.limiter.Wait(ctx, target); err != nil {
		return nil, tracker.NewUpstreamError(target, 0, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	state := &fetchState{}
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, state)

	if err := runCollector(ctx, collector, target, state); err != nil {
		f.logger.Debug("profile fetch failed",
			zap.String("character", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	if reason, blocked := detectChallenge(state.body); blocked {
		f.logger.Warn("upstream returned a non-profile page",
			zap.String("character", name),
			zap.String("reason", reason),
			zap.Int("status_code", state.status),
		)
		return nil, tracker.NewUpstreamError(target, state.status, fmt.Errorf("%w: %s", ErrChallengePage, reason))
	}

	f.cache.Add(name, state.body)
	f.logger.Debug("profile fetched",
		zap.String("character", name),
		zap.Int("bytes", len(state.body)),
		zap.Duration("duration", time.Since(start)),
	)
	return append([]byte(nil), state.body...), nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", f.cfg.Accept)
		r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		if r.StatusCode < http.StatusOK || r.StatusCode >= http.StatusMultipleChoices {
			state.err = fmt.Errorf("unexpected status %d", r.StatusCode)
			return
		}
		state.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			state.status = r.StatusCode
		}
		state.err = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return tracker.NewUpstreamError(target, 0, ctx.Err())
	case err := <-done:
		if err == nil {
			err = state.err
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %w", ctxErr, err)
			}
			return tracker.NewUpstreamError(target, state.status, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
