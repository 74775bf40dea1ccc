// Package collyfetcher fetches newspaper index pages with gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

// Accept header sent with every index page request.
const acceptHeader = "application/pdf,text/html,*/*"

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	RespectRobots  bool
	Timeout        time.Duration
	// Transport is shared with the PDF downloader so both reuse one pool.
	Transport http.RoundTripper
}

// Fetcher implements newspaper.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	// Index pages are re-read on every session.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.Transport != nil {
		c.WithTransport(cfg.Transport)
	}
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// FetchPage executes a single HTTP GET for an index page. Non-2xx responses
// are returned as errors carrying the status code.
func (f *Fetcher) FetchPage(ctx context.Context, request newspaper.PageRequest) (newspaper.Page, error) {
	collector := f.buildCollector()
	collector.Context = ctx

	// The visit goroutine owns res until it is sent on done.
	done := make(chan visitResult, 1)
	go func() {
		var res visitResult
		f.configureCollectorHooks(collector, time.Now(), &res.page, &res.hookErr)
		res.visitErr = collector.Visit(request.URL)
		done <- res
	}()

	select {
	case <-ctx.Done():
		return newspaper.Page{URL: request.URL}, fmt.Errorf("page fetch canceled: %w", ctx.Err())
	case res := <-done:
		if err := res.err(); err != nil {
			return newspaper.Page{URL: request.URL, StatusCode: res.page.StatusCode}, err
		}
		return res.page, nil
	}
}

type visitResult struct {
	page     newspaper.Page
	hookErr  error
	visitErr error
}

func (r visitResult) err() error {
	if r.hookErr != nil {
		return fmt.Errorf("page response failed: %w", r.hookErr)
	}
	if r.visitErr != nil {
		return fmt.Errorf("page visit failed: %w", r.visitErr)
	}
	return nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	if f.cfg.Transport != nil {
		collector.WithTransport(f.cfg.Transport)
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	page *newspaper.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
		if f.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*page = newspaper.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			page.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}
