// SPDX-License-Identifier: Apache-2.0

// Package queue drives the durable per-form migration queue: one logical
// worker per form, forms progressing in parallel, jobs within a form strictly
// FIFO. Jobs survive process restarts; orphaned active jobs are returned to
// the queue on start-up.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/qcollector/fieldmigrate/pkg/migrations"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

const (
	DefaultMaxWorkers   = 8
	DefaultPollInterval = 1 * time.Second

	retryInitialInterval = 2 * time.Second
	retryMaxInterval     = 60 * time.Second
)

// Applier executes one claimed job. Implemented by the DDL executor.
type Applier interface {
	Apply(ctx context.Context, formID, actor string, change migrations.Change) (*migrations.Result, error)
}

// Notifier receives operational alerts for terminally failed jobs. The core
// does not know the delivery channel.
type Notifier interface {
	JobFailed(ctx context.Context, job *state.Job, err error)
}

// LogNotifier is the default Notifier: it logs and nothing more.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) JobFailed(_ context.Context, job *state.Job, err error) {
	n.Logger.Error("migration job failed terminally",
		slog.String("job", job.ID),
		slog.String("form", job.FormID),
		slog.Int("attempts", job.Attempts+1),
		slog.Any("err", err))
}

// Runner owns the worker pool. At most one worker is live per form at any
// time; the pool bounds how many forms migrate concurrently.
type Runner struct {
	state    *state.State
	applier  Applier
	notifier Notifier
	logger   *slog.Logger

	pollInterval time.Duration
	maxWorkers   int

	mu      sync.Mutex
	workers map[string]struct{}

	wake chan string
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type Option func(*Runner)

func WithNotifier(n Notifier) Option {
	return func(r *Runner) {
		r.notifier = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithMaxWorkers(n int) Option {
	return func(r *Runner) {
		r.maxWorkers = n
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		r.pollInterval = d
	}
}

func NewRunner(st *state.State, applier Applier, opts ...Option) *Runner {
	r := &Runner{
		state:        st,
		applier:      applier,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		maxWorkers:   DefaultMaxWorkers,
		workers:      make(map[string]struct{}),
		wake:         make(chan string, 64),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.notifier == nil {
		r.notifier = LogNotifier{Logger: r.logger}
	}
	return r
}

// Start requeues jobs orphaned by a previous process and begins dispatching.
func (r *Runner) Start(ctx context.Context) error {
	requeued, err := r.state.RequeueOrphanedActive(ctx)
	if err != nil {
		return fmt.Errorf("unable to requeue orphaned jobs: %w", err)
	}
	if requeued > 0 {
		r.logger.Info("requeued orphaned jobs", slog.Int64("count", requeued))
	}

	r.wg.Add(1)
	go r.dispatch(ctx)
	return nil
}

// Wake nudges the dispatcher about new work for a form. Safe to call from any
// goroutine; dropping the hint is harmless because the poll ticker will find
// the job anyway.
func (r *Runner) Wake(formID string) {
	select {
	case r.wake <- formID:
	default:
	}
}

// Stop halts dispatching and waits for in-flight jobs to finish their
// transactions. Active jobs are never interrupted mid-DDL.
func (r *Runner) Stop() {
	r.once.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

func (r *Runner) dispatch(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case formID := <-r.wake:
			r.ensureWorker(ctx, formID)
		case <-ticker.C:
			forms, err := r.state.FormsWithDueJobs(ctx)
			if err != nil {
				r.logger.Error("unable to poll for due jobs", slog.Any("err", err))
				continue
			}
			for _, formID := range forms {
				r.ensureWorker(ctx, formID)
			}
		}
	}
}

// ensureWorker spawns a worker for the form unless one is already live or the
// pool is exhausted; a full pool is retried on the next poll tick.
func (r *Runner) ensureWorker(ctx context.Context, formID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, running := r.workers[formID]; running {
		return
	}
	if len(r.workers) >= r.maxWorkers {
		return
	}

	r.workers[formID] = struct{}{}
	r.wg.Add(1)
	go r.work(ctx, formID)
}

func (r *Runner) work(ctx context.Context, formID string) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.workers, formID)
		r.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		job, err := r.state.ClaimNextJob(ctx, formID)
		if err != nil {
			r.logger.Error("unable to claim job",
				slog.String("form", formID), slog.Any("err", err))
			return
		}
		if job == nil {
			return
		}

		r.runJob(ctx, job)
	}
}

func (r *Runner) runJob(ctx context.Context, job *state.Job) {
	err := r.applyJob(ctx, job)
	if err == nil {
		if err := r.state.CompleteJob(ctx, job.ID); err != nil {
			r.logger.Error("unable to mark job completed",
				slog.String("job", job.ID), slog.Any("err", err))
		}
		return
	}

	attempts := job.Attempts + 1
	var panicked panicError
	terminal := migrations.IsStructural(err) ||
		errors.As(err, &panicked) ||
		attempts >= job.MaxAttempts

	if terminal {
		if failErr := r.state.FailJob(ctx, job.ID, err); failErr != nil {
			r.logger.Error("unable to mark job failed",
				slog.String("job", job.ID), slog.Any("err", failErr))
		}
		r.notifier.JobFailed(ctx, job, err)
		return
	}

	delay := retryDelay(attempts)
	r.logger.Warn("migration job failed; will retry",
		slog.String("job", job.ID),
		slog.String("form", job.FormID),
		slog.Int("attempt", attempts),
		slog.Duration("delay", delay),
		slog.Any("err", err))

	if retryErr := r.state.RetryJob(ctx, job.ID, err, delay); retryErr != nil {
		r.logger.Error("unable to requeue job",
			slog.String("job", job.ID), slog.Any("err", retryErr))
	}
}

// applyJob decodes and executes one job, converting a worker panic into a
// terminal error. A panic means a bug; it is never retried.
func (r *Runner) applyJob(ctx context.Context, job *state.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in migration worker",
				slog.String("job", job.ID), slog.Any("panic", p))
			err = panicError{value: p}
		}
	}()

	var change migrations.Change
	if unmarshalErr := json.Unmarshal(job.Change, &change); unmarshalErr != nil {
		return migrations.InvalidPlanError{Reason: unmarshalErr.Error()}
	}

	_, err = r.applier.Apply(ctx, job.FormID, job.EnqueuedBy, change)
	return err
}

// panicError marks a worker panic so the job fails without retry.
type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("panic while executing migration: %v", e.value)
}

// retryDelay computes the backoff before the given attempt number is retried:
// 2s, doubling, capped at 60s.
func retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
