package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chat-plugin/internal/observability"
)

// Queue accepts jobs for later execution.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// DeadLetterFunc receives jobs that exhausted their attempts.
type DeadLetterFunc func(ctx context.Context, job Job, cause error)

// Runner executes jobs, re-enqueueing failures with exponential backoff
// until MaxAttempts, then dead-lettering them.
type Runner struct {
	registry    *Registry
	queue       Queue
	logger      *slog.Logger
	maxAttempts int
	baseBackoff time.Duration
	deadLetter  DeadLetterFunc
	now         func() time.Time
}

// NewRunner constructs a Runner that re-enqueues retries on queue.
func NewRunner(registry *Registry, queue Queue, logger *slog.Logger, maxAttempts int, baseBackoff time.Duration) *Runner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	r := &Runner{
		registry:    registry,
		queue:       queue,
		logger:      logger,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		now:         time.Now,
	}
	r.deadLetter = func(_ context.Context, job Job, cause error) {
		r.logger.Error("job dead-lettered", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", cause)
	}
	return r
}

// OnDeadLetter replaces the dead-letter sink. The failure is still logged.
func (r *Runner) OnDeadLetter(fn DeadLetterFunc) {
	prev := r.deadLetter
	r.deadLetter = func(ctx context.Context, job Job, cause error) {
		prev(ctx, job, cause)
		fn(ctx, job, cause)
	}
}

// Backoff returns the wait before retry number attempt (1-based).
func (r *Runner) Backoff(attempt int) time.Duration {
	return r.baseBackoff * time.Duration(1<<uint(attempt))
}

// Run executes job once and schedules its retry on failure. The returned
// error is non-nil only when the retry itself could not be scheduled.
func (r *Runner) Run(ctx context.Context, job Job) error {
	handler, ok := r.registry.Lookup(job.Kind)
	if !ok {
		observability.IncJob(string(job.Kind), "dead")
		r.deadLetter(ctx, job, fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind))
		return nil
	}

	start := r.now()
	err := handler(ctx, job.Payload)
	observability.ObserveJobDuration(string(job.Kind), r.now().Sub(start))
	if err == nil {
		observability.IncJob(string(job.Kind), "success")
		return nil
	}

	job.Attempt++
	if IsPermanent(err) {
		observability.IncJob(string(job.Kind), "dead")
		r.deadLetter(ctx, job, err)
		return nil
	}
	if job.Attempt >= r.maxAttempts {
		observability.IncJob(string(job.Kind), "dead")
		r.deadLetter(ctx, job, err)
		return nil
	}

	wait := r.Backoff(job.Attempt)
	job.RunAt = r.now().Add(wait)
	r.logger.Warn("job failed, retrying", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "backoff", wait, "error", err)
	observability.IncJob(string(job.Kind), "retry")
	if err := r.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("requeue %s: %w", job.Kind, err)
	}
	return nil
}
