// Package download implements the streamed PDF fetch primitive.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/paperfetch/internal/hash/sha256"
	"github.com/JakeFAU/paperfetch/internal/metrics"
	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

const (
	acceptHeader      = "application/pdf,text/html,*/*"
	defaultChunkBytes = 2 * 1024 * 1024
)

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the downloader.
type Config struct {
	// Timeout bounds the wait for response headers and for each body read.
	// A slow but steady transfer is never cut off.
	Timeout        time.Duration
	ChunkBytes     int
	UserAgent      string
	AcceptLanguage string
	Transport      http.RoundTripper
	Retry          *RetryPolicy
	Limiter        Limiter
	Logger         *zap.Logger
}

// Downloader implements newspaper.Fetcher over a shared HTTP client.
type Downloader struct {
	client     *http.Client
	idle       time.Duration
	chunkBytes int
	userAgent  string
	acceptLang string
	retry      *RetryPolicy
	limiter    Limiter
	logger     *zap.Logger
}

// New builds a Downloader.
func New(cfg Config) *Downloader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	chunk := cfg.ChunkBytes
	if chunk <= 0 {
		chunk = defaultChunkBytes
	}
	transport := cfg.Transport
	if transport == nil {
		transport = NewTransport(TransportConfig{ResponseHeaderTimeout: timeout})
	}
	retry := cfg.Retry
	if retry == nil {
		retry = NewRetryPolicy(0, 0, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		client:     &http.Client{Transport: transport},
		idle:       timeout,
		chunkBytes: chunk,
		userAgent:  cfg.UserAgent,
		acceptLang: cfg.AcceptLanguage,
		retry:      retry,
		limiter:    cfg.Limiter,
		logger:     logger.Named("download"),
	}
}

// Fetch downloads task into dir as "{title}.pdf". It never returns an error:
// failures are reported on the Outcome as a *newspaper.FetchError.
func (d *Downloader) Fetch(ctx context.Context, task newspaper.Task, dir string) newspaper.Outcome {
	start := time.Now()
	out := newspaper.Outcome{Task: task}

	metrics.IncActiveFetches()
	defer metrics.DecActiveFetches()

	path := filepath.Join(dir, FileName(task.Title))
	status, written, digest, err := d.fetchTo(ctx, task, path)
	out.StatusCode = status
	out.Duration = time.Since(start)
	if err != nil {
		out.Err = &newspaper.FetchError{Title: task.Title, URL: task.URL, StatusCode: status, Err: err}
		d.logger.Warn("fetch failed",
			zap.String("title", task.Title),
			zap.String("url", task.URL),
			zap.Int("status", status),
			zap.Error(err),
		)
		metrics.ObserveDownload(task.Source, false, 0)
		return out
	}

	out.Success = true
	out.Path = path
	out.Bytes = written
	out.SHA256 = digest
	d.logger.Debug("fetch complete",
		zap.String("title", task.Title),
		zap.Int64("bytes", written),
		zap.Duration("duration", out.Duration),
	)
	metrics.ObserveDownload(task.Source, true, written)
	return out
}

func (d *Downloader) fetchTo(ctx context.Context, task newspaper.Task, path string) (int, int64, string, error) {
	if err := task.Validate(); err != nil {
		return 0, 0, "", err
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, task.URL); err != nil {
			return 0, 0, "", err
		}
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	resp, err := d.do(reqCtx, task.URL)
	if err != nil {
		return 0, 0, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body := newIdleReader(reqCtx, cancel, resp.Body, d.idle)
	defer body.stop()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, 0, "", fmt.Errorf("unexpected status: %s", resp.Status)
	}

	written, digest, err := d.writeFile(path, body)
	return resp.StatusCode, written, digest, err
}

// do issues the GET, retrying connection-level failures only.
func (d *Downloader) do(ctx context.Context, rawURL string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if d.userAgent != "" {
			req.Header.Set("User-Agent", d.userAgent)
		}
		req.Header.Set("Accept", acceptHeader)
		if d.acceptLang != "" {
			req.Header.Set("Accept-Language", d.acceptLang)
		}

		resp, err := d.client.Do(req)
		if err == nil {
			return resp, nil
		}
		if !d.retry.ShouldRetry(err, attempt) {
			return nil, fmt.Errorf("http get: %w", err)
		}
		metrics.ObserveRetry(rawURL)
		d.logger.Debug("retrying fetch", zap.String("url", rawURL), zap.Int("attempt", attempt+1), zap.Error(err))
		if err := sleep(ctx, d.retry.Backoff(attempt)); err != nil {
			return nil, fmt.Errorf("retry backoff: %w", err)
		}
	}
}

// writeFile streams body to path. Empty bodies and partial files are removed.
func (d *Downloader) writeFile(path string, body io.Reader) (int64, string, error) {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, "", fmt.Errorf("create file: %w", err)
	}

	digest := sha256.New()
	written, copyErr := io.CopyBuffer(io.MultiWriter(f, digest), body, make([]byte, d.chunkBytes))
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("write body: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close file: %w", closeErr)
	case written == 0:
		err = newspaper.ErrEmptyBody
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			d.logger.Warn("remove partial file", zap.String("path", path), zap.Error(rmErr))
		}
		return 0, "", err
	}
	return written, digest.Sum(), nil
}

var unsafeName = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// FileName maps a task title to a safe "{title}.pdf" name.
func FileName(title string) string {
	name := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, unsafeName.Replace(title))
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		name = "untitled"
	}
	return name + ".pdf"
}
