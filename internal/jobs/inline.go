package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("job queue closed")

// InlineQueue runs jobs in-process on timers, bounded by a worker limit. It
// is used when no broker is configured; queued jobs do not survive restart.
type InlineQueue struct {
	logger *slog.Logger
	slots  chan struct{}

	mu      sync.Mutex
	exec    func(ctx context.Context, job Job) error
	ctx     context.Context
	closed  bool
	timers  map[string]*time.Timer
	held    []Job
	running sync.WaitGroup
}

// NewInlineQueue constructs a queue that runs at most workers jobs at once.
func NewInlineQueue(workers int, logger *slog.Logger) *InlineQueue {
	if workers < 1 {
		workers = 1
	}
	return &InlineQueue{
		logger: logger,
		slots:  make(chan struct{}, workers),
		timers: make(map[string]*time.Timer),
	}
}

// Start sets the executor. Jobs that came due before Start run now.
func (q *InlineQueue) Start(ctx context.Context, exec func(ctx context.Context, job Job) error) {
	q.mu.Lock()
	q.ctx = ctx
	q.exec = exec
	held := q.held
	q.held = nil
	q.mu.Unlock()

	for _, job := range held {
		go q.run(ctx, exec, job)
	}
}

// Enqueue schedules the job at its RunAt.
func (q *InlineQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.running.Add(1)
	q.timers[job.ID] = time.AfterFunc(job.Delay(time.Now()), func() { q.dispatch(job) })
	return nil
}

func (q *InlineQueue) dispatch(job Job) {
	q.mu.Lock()
	delete(q.timers, job.ID)
	if q.exec == nil {
		if q.closed {
			q.running.Done()
		} else {
			q.held = append(q.held, job)
		}
		q.mu.Unlock()
		return
	}
	exec, ctx := q.exec, q.ctx
	q.mu.Unlock()
	q.run(ctx, exec, job)
}

func (q *InlineQueue) run(ctx context.Context, exec func(ctx context.Context, job Job) error, job Job) {
	defer q.running.Done()
	q.slots <- struct{}{}
	defer func() { <-q.slots }()
	if err := exec(ctx, job); err != nil {
		q.logger.Error("inline job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
	}
}

// Close stops pending timers and waits for running jobs.
func (q *InlineQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	for id, t := range q.timers {
		if t.Stop() {
			q.running.Done()
		}
		delete(q.timers, id)
	}
	for range q.held {
		q.running.Done()
	}
	q.held = nil
	q.mu.Unlock()
	q.running.Wait()
	return nil
}
