// Package session drives a download session from request validation through
// discovery, dispatch and the final summary.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/paperfetch/internal/metrics"
	"github.com/JakeFAU/paperfetch/internal/newspaper"
	"github.com/JakeFAU/paperfetch/internal/progress"
	"github.com/JakeFAU/paperfetch/internal/sources"
)

// Dispatcher downloads a task list and reports the summary.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string, tasks []newspaper.Task, dir string) newspaper.Summary
}

// Config controls where files land and what happens after completion.
type Config struct {
	OutputDir  string
	DateSubdir bool
	// ArchivePrefix is prepended to object paths in the blob store.
	ArchivePrefix string
	ContentType   string
	// Topic receives a completion notice when a publisher is configured.
	Topic string
}

// Deps groups the collaborators of a Runner. Blobs and Publisher are optional.
type Deps struct {
	Registry   *sources.Registry
	Dispatcher Dispatcher
	Store      newspaper.SessionStore
	Blobs      newspaper.BlobStore
	Publisher  newspaper.Publisher
	Emitter    progress.Emitter
	Clock      newspaper.Clock
	Logger     *zap.Logger
}

// Notice is the payload published when a session completes.
type Notice struct {
	SessionID string                      `json:"session_id"`
	Date      string                      `json:"date"`
	Status    newspaper.Status            `json:"status"`
	Counts    newspaper.Counts            `json:"counts"`
	BySource  map[string]newspaper.Counts `json:"by_source,omitempty"`
	Archived  []string                    `json:"archived,omitempty"`
}

// Runner executes one session at a time. It is safe to share between
// goroutines as long as each call uses a distinct session id.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewRunner validates deps and builds a Runner.
func NewRunner(deps Deps, cfg Config) (*Runner, error) {
	if deps.Registry == nil {
		return nil, errors.New("session runner requires a source registry")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("session runner requires a dispatcher")
	}
	if deps.Store == nil {
		return nil, errors.New("session runner requires a session store")
	}
	if deps.Clock == nil {
		return nil, errors.New("session runner requires a clock")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/pdf"
	}
	return &Runner{deps: deps, cfg: cfg, logger: deps.Logger.Named("session")}, nil
}

// Run executes the session id for req. The record must already exist in the
// store. Only setup failures are returned as errors; they are always
// *newspaper.SessionError and leave the session Failed.
func (r *Runner) Run(ctx context.Context, id string, req newspaper.Request) (newspaper.Summary, error) {
	logger := r.logger.With(zap.String("session_id", id), zap.String("date", req.Date.Format(newspaper.DateLayout)))
	r.emit(progress.Event{
		SessionID: id,
		Stage:     progress.StageSessionStart,
		Note:      fmt.Sprintf("session started: %s %s", req.Date.Format(newspaper.DateLayout), strings.Join(req.Sources, ",")),
	})

	srcs, dir, err := r.prepare(req)
	if err != nil {
		return r.fail(ctx, id, err, logger)
	}

	r.transition(ctx, id, newspaper.StatusDiscovering, newspaper.Counts{}, logger)
	tasks := r.discover(ctx, id, srcs, req.Date, logger)
	if ctx.Err() != nil {
		return r.cancelled(ctx, id, newspaper.Summary{Counts: newspaper.Counts{Total: len(tasks)}}, logger)
	}

	r.transition(ctx, id, newspaper.StatusDownloading, newspaper.Counts{Total: len(tasks)}, logger)
	if len(tasks) > 0 {
		r.emit(progress.Event{SessionID: id, Stage: progress.StageDownloadStart, Note: fmt.Sprintf("starting download of %d files", len(tasks))})
	}
	summary := r.deps.Dispatcher.Dispatch(ctx, id, tasks, dir)
	if summary.Status == newspaper.StatusCancelled {
		return r.cancelled(ctx, id, summary, logger)
	}
	return r.completed(ctx, id, req, summary, logger), nil
}

// prepare validates req and creates the destination directory.
func (r *Runner) prepare(req newspaper.Request) ([]newspaper.LinkSource, string, error) {
	srcs, err := r.deps.Registry.Resolve(req.Sources)
	if err != nil {
		return nil, "", &newspaper.SessionError{Op: "validate sources", Err: err}
	}
	if req.Date.IsZero() {
		return nil, "", &newspaper.SessionError{Op: "validate date", Err: errors.New("date is required")}
	}
	if afterToday(req.Date, r.deps.Clock.Now()) {
		return nil, "", &newspaper.SessionError{
			Op:  "validate date",
			Err: fmt.Errorf("%w: %s", newspaper.ErrFutureDate, req.Date.Format(newspaper.DateLayout)),
		}
	}
	dir := r.Dir(req)
	if dir == "" {
		return nil, "", &newspaper.SessionError{Op: "create output dir", Err: errors.New("output directory is required")}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, "", &newspaper.SessionError{Op: "create output dir", Err: err}
	}
	return srcs, dir, nil
}

// Dir returns the directory files for req are written to.
func (r *Runner) Dir(req newspaper.Request) string {
	out := req.OutputDir
	if out == "" {
		out = r.cfg.OutputDir
	}
	if out == "" {
		return ""
	}
	if r.cfg.DateSubdir {
		return filepath.Join(out, req.Date.Format(newspaper.DateLayout))
	}
	return out
}

// afterToday compares calendar days, reading date's fields as written and
// now's fields in the clock's own location.
func afterToday(date, now time.Time) bool {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	dy, dm, dd := date.Date()
	return time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC).After(today)
}

func (r *Runner) discover(
	ctx context.Context,
	id string,
	srcs []newspaper.LinkSource,
	date time.Time,
	logger *zap.Logger,
) []newspaper.Task {
	var tasks []newspaper.Task
	for _, src := range srcs {
		if ctx.Err() != nil {
			return tasks
		}
		r.emit(progress.Event{
			SessionID: id,
			Stage:     progress.StageDiscoveryStart,
			Source:    src.ID(),
			Note:      fmt.Sprintf("discovering %s", src.Name()),
		})
		start := time.Now()
		found, err := src.Discover(ctx, date)
		metrics.ObserveDiscovery(src.ID(), len(found), err)
		if err != nil {
			logger.Warn("discovery failed", zap.String("source", src.ID()), zap.Error(err))
			r.emit(progress.Event{
				SessionID: id,
				Stage:     progress.StageDiscoveryError,
				Source:    src.ID(),
				Dur:       time.Since(start),
				Note:      fmt.Sprintf("discovery failed: %s: %v", src.Name(), err),
			})
			continue
		}

		valid := found[:0:0]
		for _, task := range found {
			if err := task.Validate(); err != nil {
				logger.Warn("dropping invalid task", zap.String("source", src.ID()), zap.String("title", task.Title), zap.Error(err))
				continue
			}
			valid = append(valid, task)
		}
		note := fmt.Sprintf("%s: found %d pages", src.Name(), len(valid))
		if len(valid) == 0 {
			note = fmt.Sprintf("%s: no pages found for %s", src.Name(), date.Format(newspaper.DateLayout))
		}
		r.emit(progress.Event{
			SessionID: id,
			Stage:     progress.StageDiscoveryDone,
			Source:    src.ID(),
			Pages:     len(valid),
			Dur:       time.Since(start),
			Note:      note,
		})
		tasks = append(tasks, valid...)
	}
	return tasks
}

func (r *Runner) completed(
	ctx context.Context,
	id string,
	req newspaper.Request,
	summary newspaper.Summary,
	logger *zap.Logger,
) newspaper.Summary {
	summary.Status = newspaper.StatusCompleted
	var note string
	switch {
	case summary.Counts.Total == 0:
		note = "download complete: no files found"
	case summary.Counts.Failed == 0:
		note = fmt.Sprintf("all %d files downloaded", summary.Counts.Total)
	default:
		note = fmt.Sprintf("download complete: %d succeeded, %d failed", summary.Counts.Succeeded, summary.Counts.Failed)
	}

	bg := context.WithoutCancel(ctx)
	archived := r.archive(bg, id, req, summary.Files, logger)
	r.publish(bg, id, req, summary, archived, logger)

	r.transition(ctx, id, newspaper.StatusCompleted, summary.Counts, logger)
	r.emit(progress.Event{SessionID: id, Stage: progress.StageSessionDone, Note: note})
	return summary
}

func (r *Runner) cancelled(ctx context.Context, id string, summary newspaper.Summary, logger *zap.Logger) (newspaper.Summary, error) {
	summary.Status = newspaper.StatusCancelled
	r.transition(ctx, id, newspaper.StatusCancelled, summary.Counts, logger)
	r.emit(progress.Event{SessionID: id, Stage: progress.StageSessionCancelled, Note: "download cancelled"})
	return summary, nil
}

func (r *Runner) fail(ctx context.Context, id string, err error, logger *zap.Logger) (newspaper.Summary, error) {
	logger.Error("session failed", zap.Error(err))
	r.transitionErr(ctx, id, newspaper.StatusFailed, newspaper.Counts{}, err.Error(), logger)
	r.emit(progress.Event{SessionID: id, Stage: progress.StageSessionError, Note: fmt.Sprintf("session failed: %v", err)})
	return newspaper.Summary{Status: newspaper.StatusFailed}, err
}

func (r *Runner) transition(ctx context.Context, id string, status newspaper.Status, counts newspaper.Counts, logger *zap.Logger) {
	r.transitionErr(ctx, id, status, counts, "", logger)
}

// transitionErr writes the new status even when ctx has been cancelled.
func (r *Runner) transitionErr(
	ctx context.Context,
	id string,
	status newspaper.Status,
	counts newspaper.Counts,
	errText string,
	logger *zap.Logger,
) {
	if err := r.deps.Store.UpdateSessionStatus(context.WithoutCancel(ctx), id, status, counts, errText); err != nil {
		logger.Error("update session status failed", zap.String("status", string(status)), zap.Error(err))
	}
	if status.Terminal() {
		metrics.ObserveSession(string(status))
	}
	logger.Info("session transition", zap.String("status", string(status)), zap.Int("total", counts.Total))
}

// archive copies downloaded files to the blob store. Failures are logged and
// do not change the session result.
func (r *Runner) archive(ctx context.Context, id string, req newspaper.Request, files []string, logger *zap.Logger) []string {
	if r.deps.Blobs == nil || len(files) == 0 {
		return nil
	}
	uris := make([]string, 0, len(files))
	for _, file := range files {
		object := path.Join(strings.Trim(r.cfg.ArchivePrefix, "/"), req.Date.Format(newspaper.DateLayout), filepath.Base(file))
		uri, err := r.putFile(ctx, object, file)
		if err != nil {
			logger.Warn("archive file failed", zap.String("session_id", id), zap.String("path", file), zap.Error(err))
			continue
		}
		uris = append(uris, uri)
	}
	return uris
}

func (r *Runner) putFile(ctx context.Context, object, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open archive source: %w", err)
	}
	defer func() { _ = f.Close() }()
	return r.deps.Blobs.PutObject(ctx, object, r.cfg.ContentType, f)
}

func (r *Runner) publish(
	ctx context.Context,
	id string,
	req newspaper.Request,
	summary newspaper.Summary,
	archived []string,
	logger *zap.Logger,
) {
	if r.deps.Publisher == nil || r.cfg.Topic == "" {
		return
	}
	notice := Notice{
		SessionID: id,
		Date:      req.Date.Format(newspaper.DateLayout),
		Status:    summary.Status,
		Counts:    summary.Counts,
		BySource:  summary.BySource,
		Archived:  archived,
	}
	msgID, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, notice)
	if err != nil {
		logger.Warn("publish completion notice failed", zap.Error(err))
		return
	}
	logger.Debug("published completion notice", zap.String("message_id", msgID))
}

func (r *Runner) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = r.deps.Clock.Now().UTC()
	}
	r.deps.Emitter.Emit(evt)
}
