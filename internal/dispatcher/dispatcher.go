// Package dispatcher fans download tasks out over a bounded worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
	"github.com/JakeFAU/paperfetch/internal/progress"
)

const defaultConcurrency = 10

// Config controls the pool size.
type Config struct {
	Concurrency int
}

// Dispatcher runs tasks through a Fetcher with at most Concurrency in flight.
type Dispatcher struct {
	fetcher newspaper.Fetcher
	emitter progress.Emitter
	workers int
	logger  *zap.Logger

	// inflight tracks submit goroutines, which outlive a cancelled Dispatch.
	inflight sync.WaitGroup
}

// New creates a Dispatcher.
func New(fetcher newspaper.Fetcher, emitter progress.Emitter, cfg Config, logger *zap.Logger) *Dispatcher {
	workers := cfg.Concurrency
	if workers <= 0 {
		workers = defaultConcurrency
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		fetcher: fetcher,
		emitter: emitter,
		workers: workers,
		logger:  logger.Named("dispatcher"),
	}
}

// Dispatch downloads tasks into dir and gathers outcomes in completion order.
//
// Cancelling ctx stops the gather immediately and returns a Cancelled summary.
// Tasks that have not started are skipped; transfers already in flight run to
// completion in the background, detached from ctx; Wait blocks until they do.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, tasks []newspaper.Task, dir string) newspaper.Summary {
	summary := newspaper.Summary{
		Status:   newspaper.StatusDownloading,
		Counts:   newspaper.Counts{Total: len(tasks)},
		BySource: make(map[string]newspaper.Counts),
	}

	// Buffered to len(tasks) so no worker ever blocks on a gather that has stopped.
	results := make(chan newspaper.Outcome, len(tasks))
	d.inflight.Go(func() { d.submit(ctx, tasks, dir, results) })

	for received := 0; received < len(tasks); received++ {
		if ctx.Err() != nil {
			return d.cancelled(summary)
		}
		select {
		case <-ctx.Done():
			return d.cancelled(summary)
		case out := <-results:
			if out.Skipped {
				return d.cancelled(summary)
			}
			d.record(sessionID, &summary, out)
		}
	}

	summary.Status = newspaper.StatusCompleted
	d.logger.Info("dispatch complete",
		zap.String("session_id", sessionID),
		zap.Int("total", summary.Counts.Total),
		zap.Int("succeeded", summary.Counts.Succeeded),
		zap.Int("failed", summary.Counts.Failed),
	)
	return summary
}

// Wait blocks until every transfer started by Dispatch has returned, so no
// partially written file is left behind when the process exits.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for transfers: %w", ctx.Err())
	}
}

func (d *Dispatcher) submit(ctx context.Context, tasks []newspaper.Task, dir string, results chan<- newspaper.Outcome) {
	var g errgroup.Group
	g.SetLimit(d.workers)
	detached := context.WithoutCancel(ctx)
	for _, task := range tasks {
		g.Go(func() error {
			if ctx.Err() != nil {
				results <- newspaper.Outcome{Task: task, Skipped: true}
				return nil
			}
			results <- d.fetcher.Fetch(detached, task, dir)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) record(sessionID string, summary *newspaper.Summary, out newspaper.Outcome) {
	src := summary.BySource[out.Task.Source]
	src.Total++
	evt := progress.Event{
		SessionID:   sessionID,
		TS:          time.Now().UTC(),
		Source:      out.Task.Source,
		Title:       out.Task.Title,
		URL:         out.Task.URL,
		Bytes:       out.Bytes,
		StatusClass: progress.ClassifyStatus(out.StatusCode),
		Dur:         out.Duration,
	}
	if out.Success {
		summary.Counts.Succeeded++
		src.Succeeded++
		if out.Path != "" {
			summary.Files = append(summary.Files, out.Path)
		}
		evt.Stage = progress.StageFetchDone
		evt.Note = fmt.Sprintf("downloaded: %s", out.Task.Title)
	} else {
		summary.Counts.Failed++
		src.Failed++
		evt.Stage = progress.StageFetchError
		evt.Note = fmt.Sprintf("download failed: %s: %v", out.Task.Title, out.Err)
	}
	summary.BySource[out.Task.Source] = src
	d.emitter.Emit(evt)
}

func (d *Dispatcher) cancelled(summary newspaper.Summary) newspaper.Summary {
	summary.Status = newspaper.StatusCancelled
	d.logger.Info("dispatch cancelled",
		zap.Int("total", summary.Counts.Total),
		zap.Int("succeeded", summary.Counts.Succeeded),
		zap.Int("failed", summary.Counts.Failed),
	)
	return summary
}
