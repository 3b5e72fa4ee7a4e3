package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Handle is the in-memory record of a submitted job.
type Handle struct {
	Job
	State    State     `json:"state"`
	Error    string    `json:"error,omitempty"`
	Created  time.Time `json:"created"`
	Started  time.Time `json:"started,omitzero"`
	Finished time.Time `json:"finished,omitzero"`

	ctx    context.Context
	cancel context.CancelFunc
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Workers is the number of jobs run concurrently.
	Workers int
	// QueueSize bounds the number of jobs waiting for a worker.
	QueueSize int
	Logger    *slog.Logger
}

// Manager runs jobs on a bounded worker pool and tracks their handles.
type Manager struct {
	runner *Runner
	logger *slog.Logger

	queue chan *Handle
	wg    sync.WaitGroup

	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// NewManager starts the worker pool.
func NewManager(runner *Runner, opts ManagerOptions) *Manager {
	if opts.Workers < 1 {
		opts.Workers = 2
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 32
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		runner:  runner,
		logger:  logger,
		queue:   make(chan *Handle, opts.QueueSize),
		baseCtx: ctx,
		stop:    stop,
		handles: make(map[string]*Handle),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	logger.Info("job workers started", "workers", opts.Workers, "queue", opts.QueueSize)
	return m
}

// Submit queues job without blocking. The upload must already be in the
// workspace.
func (m *Manager) Submit(job Job) (Handle, error) {
	if !ValidID(job.ID) {
		return Handle{}, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Handle{}, ErrClosed
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	h := &Handle{Job: job, State: StateQueued, Created: time.Now(), ctx: ctx, cancel: cancel}

	select {
	case m.queue <- h:
	default:
		cancel()
		return Handle{}, ErrQueueFull
	}
	m.handles[job.ID] = h
	m.runner.write(job.ID, Progress{Total: 1, State: StateQueued})
	m.logger.Info("job queued", "job", job.ID, "code", job.Code)
	return h.snapshot(), nil
}

// Get returns a snapshot of the handle for id.
func (m *Manager) Get(id string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	if !ok {
		return Handle{}, ErrNotFound
	}
	return h.snapshot(), nil
}

// List returns snapshots of all tracked handles, newest first.
func (m *Manager) List() []Handle {
	m.mu.Lock()
	out := make([]Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out
}

// Cancel stops a queued or running job. Canceling a job that already ended
// is a no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	if !ok {
		return ErrNotFound
	}
	if h.State.Terminal() {
		return nil
	}
	h.cancel()
	if h.State == StateQueued {
		m.finish(h, StateCanceled, "canceled")
		m.runner.write(id, Progress{Total: 1, Error: true, State: StateCanceled, Message: "canceled"})
	}
	m.logger.Info("job cancel requested", "job", id)
	return nil
}

// Close stops accepting jobs, cancels everything in flight and waits for
// the workers to return or ctx to expire.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("job workers stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) worker(n int) {
	defer m.wg.Done()
	for h := range m.queue {
		m.mu.Lock()
		if h.State != StateQueued || h.ctx.Err() != nil {
			if !h.State.Terminal() {
				m.finish(h, StateCanceled, "canceled")
				m.runner.write(h.ID, Progress{Total: 1, Error: true, State: StateCanceled, Message: "canceled"})
			}
			m.mu.Unlock()
			continue
		}
		h.State = StateRunning
		h.Started = time.Now()
		m.mu.Unlock()

		m.logger.Debug("worker picked job", "worker", n, "job", h.ID)
		err := m.runner.Run(h.ctx, h.Job)

		m.mu.Lock()
		switch {
		case err == nil:
			m.finish(h, StateFinished, "")
		case errors.Is(err, context.Canceled):
			m.finish(h, StateCanceled, "canceled")
		default:
			m.finish(h, StateFailed, err.Error())
		}
		m.mu.Unlock()
	}
}

// finish must be called with m.mu held.
func (m *Manager) finish(h *Handle, state State, msg string) {
	h.State = state
	h.Error = msg
	h.Finished = time.Now()
	h.cancel()
}

func (h *Handle) snapshot() Handle {
	return Handle{Job: h.Job, State: h.State, Error: h.Error, Created: h.Created, Started: h.Started, Finished: h.Finished}
}

// active reports whether id is queued or running.
func (m *Manager) active(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	return ok && !h.State.Terminal()
}

// forget drops ended handles that finished before cutoff.
func (m *Manager) forget(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, h := range m.handles {
		if h.State.Terminal() && h.Finished.Before(cutoff) {
			delete(m.handles, id)
			n++
		}
	}
	return n
}
