package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/nhle/mailpipe/internal/model"
)

const (
	defaultWorkers     = 4
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	maxBackoff         = 30 * time.Second
)

// Handler performs one job. Returning a Permanent error fails the job
// without further attempts.
type Handler func(ctx context.Context, job model.Job) error

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the pool does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Options configures a Pool.
type Options struct {
	Workers     int
	MaxAttempts int
	// Backoff is the delay before the second attempt. It doubles per
	// attempt up to 30s.
	Backoff time.Duration
	Logger  *log.Logger
}

// Pool runs enqueued jobs on a fixed number of workers.
type Pool struct {
	tracker  Tracker
	handlers map[model.JobKind]Handler
	opts     Options
	logger   *log.Logger

	mu      sync.Mutex
	queue   []model.Job
	wake    chan struct{}
	running bool
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
}

// NewPool creates a stopped pool.
func NewPool(tracker Tracker, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	return &Pool{
		tracker:  tracker,
		handlers: make(map[model.JobKind]Handler),
		opts:     opts,
		logger:   opts.Logger,
		wake:     make(chan struct{}, 1),
	}
}

// Handle registers the handler for kind. Call before Start.
func (p *Pool) Handle(kind model.JobKind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Start launches the workers. They stop when ctx is cancelled or Stop
// is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg = conc.NewWaitGroup()
	p.running = true

	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Go(func() { p.work(ctx) })
	}
	p.logger.Debug("job pool started", "workers", p.opts.Workers)
}

// Stop cancels the workers and waits for them to exit. Jobs cut short
// stay running in the tracker and are picked up by Recover.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, wg := p.cancel, p.wg
	p.mu.Unlock()

	cancel()
	wg.Wait()
}

// Enqueue records a pending job and queues it for a worker.
func (p *Pool) Enqueue(ctx context.Context, kind model.JobKind, messageID int64) (string, error) {
	now := time.Now().UTC()
	job := model.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		MessageID: messageID,
		State:     model.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := p.tracker.Create(ctx, job); err != nil {
		return "", fmt.Errorf("enqueueing %s job for message %d: %w", kind, messageID, err)
	}
	p.push(job)
	return job.ID, nil
}

// Status returns the tracked state of a job.
func (p *Pool) Status(ctx context.Context, id string) (model.Job, error) {
	return p.tracker.Get(ctx, id)
}

// InFlight reports whether a pending or running job of kind exists for
// the message.
func (p *Pool) InFlight(ctx context.Context, messageID int64, kind model.JobKind) (bool, error) {
	return p.tracker.InFlight(ctx, messageID, kind)
}

// Recover re-queues every job the tracker still holds as pending or
// running. Call it once at startup, before new work is enqueued.
func (p *Pool) Recover(ctx context.Context) (int, error) {
	jobs, err := p.tracker.Incomplete(ctx)
	if err != nil {
		return 0, fmt.Errorf("recovering jobs: %w", err)
	}
	for _, job := range jobs {
		p.push(job)
	}
	if len(jobs) > 0 {
		p.logger.Info("recovered unfinished jobs", "count", len(jobs))
	}
	return len(jobs), nil
}

// Wait blocks until every job in ids is done or failed, polling the
// tracker every interval.
func (p *Pool) Wait(ctx context.Context, interval time.Duration, ids ...string) ([]model.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		jobs := make([]model.Job, 0, len(ids))
		finished := true
		for _, id := range ids {
			job, err := p.tracker.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
			finished = finished && job.State.Terminal()
		}
		if finished {
			return jobs, nil
		}

		select {
		case <-ctx.Done():
			return jobs, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pool) push(job model.Job) {
	p.mu.Lock()
	p.queue = append(p.queue, job)
	p.mu.Unlock()
	p.signal()
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) next(ctx context.Context) (model.Job, bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			job := p.queue[0]
			p.queue = p.queue[1:]
			more := len(p.queue) > 0
			p.mu.Unlock()
			if more {
				p.signal()
			}
			return job, true
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.Job{}, false
		case <-p.wake:
		}
	}
}

func (p *Pool) work(ctx context.Context) {
	for {
		job, ok := p.next(ctx)
		if !ok {
			return
		}
		p.run(ctx, job)
	}
}

func (p *Pool) run(ctx context.Context, job model.Job) {
	p.mu.Lock()
	h, ok := p.handlers[job.Kind]
	p.mu.Unlock()

	logger := p.logger.With("job", job.ID, "kind", job.Kind, "message", job.MessageID)

	if !ok {
		job.State = model.JobFailed
		job.Error = fmt.Sprintf("no handler for job kind %q", job.Kind)
		p.update(ctx, logger, job)
		logger.Error("job failed", "err", job.Error)
		return
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(retryPolicy(p.opts.Backoff), uint64(p.opts.MaxAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		job.Attempts++
		job.State = model.JobRunning
		job.Error = ""
		p.update(ctx, logger, job)

		err := h(ctx, job)
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, delay time.Duration) {
		logger.Warn("job attempt failed, retrying", "attempt", job.Attempts, "delay", delay, "err", err)
	})

	if err == nil {
		job.State = model.JobDone
		p.update(ctx, logger, job)
		logger.Debug("job done", "attempts", job.Attempts)
		return
	}
	if ctx.Err() != nil {
		// Left running; Recover picks it up on the next start.
		return
	}

	job.State = model.JobFailed
	job.Error = err.Error()
	p.update(ctx, logger, job)
	logger.Error("job failed", "attempts", job.Attempts, "err", err)
}

func (p *Pool) update(ctx context.Context, logger *log.Logger, job model.Job) {
	if err := p.tracker.Update(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("recording job state", "state", job.State, "err", err)
	}
}

// retryPolicy doubles the delay after every failed attempt, starting at
// base and capped at maxBackoff.
func retryPolicy(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
