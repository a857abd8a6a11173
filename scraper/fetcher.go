package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Fetcher retrieves rendered product pages through the scraping-proxy API.
//
// Each fetch is a single GET with no retries; callers decide what a failure
// means. An LRU cache keyed by identifier sits in front of the proxy because
// every proxy request costs metered credits — a duplicate fetch inside one
// process must never pay twice.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	cache     *lru.Cache[string, string]
	metrics   *Metrics
}

type fetchCapture struct {
	body   string
	status int
	err    error
	start  time.Time
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("proxy url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	// The proxy endpoint is an API, not a crawl target.
	collector.IgnoreRobotsTxt = true
	if cfg.Timeout > 0 {
		collector.SetRequestTimeout(cfg.Timeout)
	}
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Concurrency,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create page cache: %w", err)
	}

	f := &Fetcher{
		cfg:       cfg,
		collector: collector,
		cache:     cache,
		metrics:   metrics,
	}
	f.registerHandlers()
	return f, nil
}

func (f *Fetcher) registerHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		if capture, ok := r.Ctx.GetAny("capture").(*fetchCapture); ok {
			capture.start = time.Now()
		}
		f.metrics.IncRequest("started")
	})

	f.collector.OnResponse(func(r *colly.Response) {
		capture, ok := r.Request.Ctx.GetAny("capture").(*fetchCapture)
		if !ok {
			return
		}
		capture.status = r.StatusCode
		capture.body = string(r.Body)
		if !capture.start.IsZero() {
			f.metrics.ObserveDuration(time.Since(capture.start))
		}
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Request == nil {
			return
		}
		if capture, ok := r.Request.Ctx.GetAny("capture").(*fetchCapture); ok {
			capture.status = r.StatusCode
			capture.err = err
		}
	})
}

// ProductURL returns the canonical item-page URL for an identifier.
func (f *Fetcher) ProductURL(asin string) string {
	return fmt.Sprintf(f.cfg.ProductURL, asin)
}

// proxyRequestURL wraps the product URL in a rendering-proxy request.
func (f *Fetcher) proxyRequestURL(asin string) string {
	params := url.Values{}
	params.Set("api_key", f.cfg.APIKey)
	params.Set("url", f.ProductURL(asin))
	if f.cfg.RenderJS {
		params.Set("dynamic", "true")
	}
	return f.cfg.ProxyURL + "?" + params.Encode()
}

// Fetch returns the rendered markup for one identifier. All failure modes
// surface as a *FetchError carrying the identifier.
func (f *Fetcher) Fetch(ctx context.Context, asin string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &FetchError{ASIN: asin, Err: err}
	}

	if body, ok := f.cache.Get(asin); ok {
		f.metrics.IncCacheHit()
		return body, nil
	}

	capture := &fetchCapture{}
	rctx := colly.NewContext()
	rctx.Put("capture", capture)

	if err := f.collector.Request(http.MethodGet, f.proxyRequestURL(asin), nil, rctx, nil); err != nil {
		if capture.err != nil {
			err = capture.err
		}
		return "", &FetchError{ASIN: asin, Status: capture.status, Err: err}
	}
	if capture.err != nil {
		return "", &FetchError{ASIN: asin, Status: capture.status, Err: capture.err}
	}
	if strings.TrimSpace(capture.body) == "" {
		return "", &FetchError{ASIN: asin, Status: capture.status, Err: errors.New("empty response body")}
	}

	f.cache.Add(asin, capture.body)
	return capture.body, nil
}

// WithTransport swaps the underlying HTTP transport. Used by tests.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}
