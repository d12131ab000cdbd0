// Package collyfetcher implements tracker.ContentFetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/fetcher/extract"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Headers are added to every request.
	Headers http.Header
}

// Promoter decides whether a probed page needs a headless render.
type Promoter interface {
	ShouldPromote(status int, body []byte) bool
}

// Fetcher implements tracker.ContentFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	extractor     *extract.Extractor
	baseCollector *colly.Collector
	logger        *zap.Logger

	promoter Promoter
	renderer tracker.ContentFetcher
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page is the raw outcome of one visit.
type page struct {
	status int
	body   []byte
}

// New builds a Fetcher.
func New(cfg Config, extractor *extract.Extractor, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = extract.New(true)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		extractor:     extractor,
		baseCollector: c,
		logger:        logger,
	}
}

// WithPromotion makes Fetch hand pages the promoter flags to renderer instead
// of extracting the probed body.
func (f *Fetcher) WithPromotion(promoter Promoter, renderer tracker.ContentFetcher) *Fetcher {
	f.promoter = promoter
	f.renderer = renderer
	return f
}

// Fetch downloads url and returns its extracted content. HTTP and parse
// failures are reported in the result; only ctx cancellation is returned.
func (f *Fetcher) Fetch(ctx context.Context, url string) (tracker.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return tracker.FetchResult{}, fmt.Errorf("colly fetch canceled: %w", err)
	}
	var (
		result   page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(&result, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return tracker.FetchResult{}, fmt.Errorf("colly fetch canceled: %w", ctxErr)
		}
		return tracker.FetchResult{Success: false, Error: err.Error()}, nil
	}

	if f.promoter != nil && f.renderer != nil && f.promoter.ShouldPromote(result.status, result.body) {
		f.logger.Debug("promoting to headless render", zap.String("url", url), zap.Int("bytes", len(result.body)))
		return f.renderer.Fetch(ctx, url)
	}

	content, err := f.extractor.Extract(string(result.body))
	if err != nil {
		return tracker.FetchResult{Success: false, Error: fmt.Sprintf("extract content: %v", err)}, nil
	}
	f.logger.Debug("fetched page",
		zap.String("url", url),
		zap.Int("status", result.status),
		zap.Int("bytes", len(result.body)),
		zap.Duration("duration", time.Since(start)),
	)
	return tracker.FetchResult{Success: true, Content: content}, nil
}

func (f *Fetcher) buildCollector(result *page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = page{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("http %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
