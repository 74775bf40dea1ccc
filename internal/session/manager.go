package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/paperfetch/internal/metrics"
	"github.com/JakeFAU/paperfetch/internal/newspaper"
	"github.com/JakeFAU/paperfetch/internal/progress"
	"github.com/JakeFAU/paperfetch/internal/queue/memory"
)

// Manager errors.
var (
	ErrQueueFull = errors.New("session queue is full")
	ErrFinished  = errors.New("session already finished")
)

const defaultRetainFinished = 256

// ManagerConfig bounds the queue and the finished sessions kept for Wait.
type ManagerConfig struct {
	QueueDepth     int
	RetainFinished int
	// OnEvict is called with each finished session id dropped from memory.
	OnEvict func(id string)
}

// Manager queues session requests and runs them one at a time.
type Manager struct {
	runner  *Runner
	store   newspaper.SessionStore
	ids     newspaper.IDGenerator
	clock   newspaper.Clock
	emitter progress.Emitter
	queue   *memory.Queue[string]
	retain  int
	onEvict func(id string)
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*handle
	finished []string
}

type handle struct {
	req       newspaper.Request
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
	summary   newspaper.Summary
	err       error
}

// NewManager wires a Manager around runner. The runner's store, clock and
// emitter are reused.
func NewManager(runner *Runner, ids newspaper.IDGenerator, cfg ManagerConfig) *Manager {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	if cfg.RetainFinished <= 0 {
		cfg.RetainFinished = defaultRetainFinished
	}
	return &Manager{
		runner:   runner,
		store:    runner.deps.Store,
		ids:      ids,
		clock:    runner.deps.Clock,
		emitter:  runner.deps.Emitter,
		queue:    memory.NewQueue[string](cfg.QueueDepth),
		retain:   cfg.RetainFinished,
		onEvict:  cfg.OnEvict,
		logger:   runner.deps.Logger.Named("manager"),
		sessions: make(map[string]*handle),
	}
}

// Submit records a new idle session and queues it. It returns the session id.
func (m *Manager) Submit(ctx context.Context, req newspaper.Request) (string, error) {
	id, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	rec := newspaper.Record{
		ID:        id,
		Request:   req,
		Status:    newspaper.StatusIdle,
		Submitted: m.clock.Now().UTC(),
	}
	if err := m.store.CreateSession(ctx, rec); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = &handle{req: req, done: make(chan struct{})}
	m.mu.Unlock()

	ok, err := m.queue.TryEnqueue(id)
	if err == nil && !ok {
		err = ErrQueueFull
	}
	if err != nil {
		m.finish(id, newspaper.Summary{Status: newspaper.StatusFailed}, err)
		if upErr := m.store.UpdateSessionStatus(ctx, id, newspaper.StatusFailed, newspaper.Counts{}, err.Error()); upErr != nil {
			m.logger.Error("mark rejected session failed", zap.String("session_id", id), zap.Error(upErr))
		}
		return "", err
	}
	m.logger.Info("session queued", zap.String("session_id", id), zap.Int("queued", m.queue.Len()))
	return id, nil
}

// Run executes queued sessions until ctx is done or Close has been called
// and the queue drained. Cancelling ctx also cancels the running session,
// closes the queue and marks every session still queued as cancelled.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			m.abandon(ctx)
			return err
		}
		id, err := m.queue.Dequeue(ctx)
		if errors.Is(err, memory.ErrClosed) {
			return nil
		}
		if err != nil {
			m.abandon(ctx)
			return err
		}
		m.runOne(ctx, id)
	}
}

// abandon stops intake and cancels whatever is left in the queue.
func (m *Manager) abandon(ctx context.Context) {
	m.queue.Close()
	for {
		id, ok := m.queue.TryDequeue()
		if !ok {
			return
		}
		m.skip(ctx, id)
	}
}

func (m *Manager) runOne(ctx context.Context, id string) {
	m.mu.Lock()
	h, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if h.cancelled {
		m.mu.Unlock()
		m.skip(ctx, id)
		return
	}
	sessCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	req := h.req
	m.mu.Unlock()

	summary, err := m.runner.Run(sessCtx, id, req)
	cancel()
	m.finish(id, summary, err)
}

// skip closes a session cancelled while it was still queued.
func (m *Manager) skip(ctx context.Context, id string) {
	err := m.store.UpdateSessionStatus(context.WithoutCancel(ctx), id, newspaper.StatusCancelled, newspaper.Counts{}, "")
	if err != nil {
		m.logger.Error("mark queued session cancelled", zap.String("session_id", id), zap.Error(err))
	}
	metrics.ObserveSession(string(newspaper.StatusCancelled))
	m.emitter.Emit(progress.Event{
		SessionID: id,
		TS:        m.clock.Now().UTC(),
		Stage:     progress.StageSessionCancelled,
		Note:      "download cancelled",
	})
	m.finish(id, newspaper.Summary{Status: newspaper.StatusCancelled}, nil)
}

func (m *Manager) finish(id string, summary newspaper.Summary, err error) {
	m.mu.Lock()
	h, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	h.summary, h.err = summary, err
	h.cancel = nil
	close(h.done)

	var evicted []string
	m.finished = append(m.finished, id)
	for len(m.finished) > m.retain {
		evicted = append(evicted, m.finished[0])
		delete(m.sessions, m.finished[0])
		m.finished = m.finished[1:]
	}
	m.mu.Unlock()

	if m.onEvict != nil {
		for _, old := range evicted {
			m.onEvict(old)
		}
	}
}

// Cancel stops a queued or running session.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, newspaper.ErrNotFound)
	}
	select {
	case <-h.done:
		return fmt.Errorf("cancel %s: %w", id, ErrFinished)
	default:
	}
	h.cancelled = true
	if h.cancel != nil {
		h.cancel()
	}
	m.logger.Info("session cancel requested", zap.String("session_id", id), zap.Bool("running", h.cancel != nil))
	return nil
}

// Wait blocks until the session is terminal and returns its summary.
func (m *Manager) Wait(ctx context.Context, id string) (newspaper.Summary, error) {
	m.mu.Lock()
	h, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return newspaper.Summary{}, fmt.Errorf("wait %s: %w", id, newspaper.ErrNotFound)
	}
	select {
	case <-ctx.Done():
		return newspaper.Summary{}, fmt.Errorf("wait %s: %w", id, ctx.Err())
	case <-h.done:
		return h.summary, h.err
	}
}

// Get returns the persisted record for id.
func (m *Manager) Get(ctx context.Context, id string) (newspaper.Record, error) {
	return m.store.GetSession(ctx, id)
}

// List returns up to limit records, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]newspaper.Record, error) {
	return m.store.ListSessions(ctx, limit)
}

// Pending reports the number of queued sessions.
func (m *Manager) Pending() int {
	return m.queue.Len()
}

// Close stops accepting submissions. Run returns once the queue drains.
func (m *Manager) Close() {
	m.queue.Close()
}
