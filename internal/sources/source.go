// Package sources discovers page PDFs on the supported newspaper sites.
package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

// Config wires the shared dependencies of every source.
type Config struct {
	Fetcher newspaper.PageFetcher
	Logger  *zap.Logger
	// Roots overrides a source's site root, keyed by source id.
	Roots map[string]string
}

// base carries what every site scraper needs.
type base struct {
	id      string
	name    string
	root    string
	fetcher newspaper.PageFetcher
	logger  *zap.Logger
}

func newBase(cfg Config, id, name, defaultRoot string) base {
	root := defaultRoot
	if override, ok := cfg.Roots[id]; ok && override != "" {
		root = override
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		id:      id,
		name:    name,
		root:    strings.TrimRight(root, "/"),
		fetcher: cfg.Fetcher,
		logger:  logger.Named("sources").With(zap.String("source", id)),
	}
}

// ID returns the stable source identifier.
func (b base) ID() string { return b.id }

// Name returns the newspaper's display name, also used in titles.
func (b base) Name() string { return b.name }

// document fetches rawURL and parses it. Any failure is a DiscoveryError.
func (b base) document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	page, err := b.fetcher.FetchPage(ctx, newspaper.PageRequest{Source: b.id, URL: rawURL})
	if err != nil {
		return nil, &newspaper.DiscoveryError{Source: b.id, URL: rawURL, Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &newspaper.DiscoveryError{Source: b.id, URL: rawURL, Err: fmt.Errorf("parse html: %w", err)}
	}
	return doc, nil
}

// noPages logs the selector mismatch diagnostic and returns an empty list.
func (b base) noPages(indexURL, selector string) []newspaper.Task {
	b.logger.Warn("no pages matched selector",
		zap.String("url", indexURL),
		zap.String("selector", selector),
	)
	return []newspaper.Task{}
}

func (b base) skipPage(text string, reason string) {
	b.logger.Warn("skip page", zap.String("text", text), zap.String("reason", reason))
}

func (b base) task(date time.Time, pageNum, pageTitle, pdfURL string) newspaper.Task {
	return newspaper.Task{
		Source: b.id,
		Title:  formatTitle(b.name, date, pageNum, pageTitle),
		URL:    pdfURL,
	}
}

// formatTitle renders "{paper}_{YYYYMMDD}_第{NN}版_{title}" with leading and
// trailing underscores removed.
func formatTitle(paper string, date time.Time, pageNum, pageTitle string) string {
	return strings.Trim(fmt.Sprintf("%s_%s_第%s版_%s", paper, date.Format("20060102"), pageNum, pageTitle), "_")
}

// zfill left-pads s with zeros to width runes.
func zfill(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return strings.Repeat("0", width-n) + s
}

// pageNumber extracts NN from text shaped like "第NN版...".
func pageNumber(text string) (string, bool) {
	_, rest, ok := strings.Cut(text, "第")
	if !ok {
		return "", false
	}
	num, _, ok := strings.Cut(rest, "版")
	num = strings.TrimSpace(num)
	if !ok || num == "" {
		return "", false
	}
	return num, true
}

// segment returns the text between the first and second occurrence of sep.
func segment(text, sep string) (string, bool) {
	parts := strings.Split(text, sep)
	if len(parts) < 2 {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// resolve joins ref against baseURL.
func resolve(baseURL, ref string) (string, error) {
	b, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse ref: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}

const parentPrefix = "../../../"
