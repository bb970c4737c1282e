// Package worker drives a core.Queue: reserve one job, run its handler, then
// ack or fail it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-outbound/core"
)

const DefaultIdleInterval = time.Second

type Worker struct {
	Queue   core.Queue
	Handler core.JobHandler
	// Timeout bounds a single handler call. Zero means unbounded.
	Timeout time.Duration
	// Backoff, when set, computes the delay passed to Fail through
	// core.RetryAfter. Nil keeps the job's own backoff_seconds.
	Backoff BackoffPolicy
	Hook    core.JobWorkerHook
	Metrics core.MetricsRecorder
	Logger  glog.Logger
	Now     func() time.Time
}

type Option func(*Worker)

func WithTimeout(timeout time.Duration) Option {
	return func(w *Worker) {
		if timeout > 0 {
			w.Timeout = timeout
		}
	}
}

func WithBackoff(policy BackoffPolicy) Option {
	return func(w *Worker) {
		w.Backoff = policy
	}
}

func WithHook(hook core.JobWorkerHook) Option {
	return func(w *Worker) {
		w.Hook = hook
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(w *Worker) {
		if metrics != nil {
			w.Metrics = metrics
		}
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.Logger = logger
		}
	}
}

func New(queue core.Queue, handler core.JobHandler, opts ...Option) *Worker {
	w := &Worker{
		Queue:   queue,
		Handler: handler,
		Metrics: core.NopMetricsRecorder{},
		Logger:  glog.Nop(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(w)
	}
	return w
}

// ProcessOne reserves at most one job and runs it. It reports true whenever a
// job was reserved, whatever the handler outcome. Handler failures are
// absorbed into Fail; only queue errors are returned.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	if w == nil || w.Queue == nil || w.Handler == nil {
		return false, fmt.Errorf("worker: queue and handler are required")
	}
	job, ok, err := w.Queue.ReserveNext(ctx)
	if err != nil {
		return false, core.WrapError(err, goerrors.CategoryOperation, core.ErrorQueueUnavailable, "worker: reserve next job")
	}
	if !ok {
		return false, nil
	}

	tags := map[string]string{"job_name": job.Name}
	w.metrics().IncCounter(ctx, core.MetricJobsReserved, 1, tags)

	startedAt := w.now()
	event := core.JobWorkerEvent{Job: job, Attempt: job.Attempts, StartedAt: startedAt}
	w.emit(ctx, hookStart, event)

	handlerErr := w.run(ctx, job)
	event.Duration = w.now().Sub(startedAt)
	w.metrics().ObserveHistogram(ctx, core.MetricJobDuration, float64(event.Duration.Milliseconds()), tags)

	if handlerErr == nil {
		if err := w.Queue.Ack(ctx, job.ID, core.AckForAttempt(job.Attempts)); err != nil {
			return true, core.WrapError(err, goerrors.CategoryOperation, core.ErrorQueueUnavailable, "worker: ack job")
		}
		w.metrics().IncCounter(ctx, core.MetricJobsSucceeded, 1, tags)
		w.emit(ctx, hookSuccess, event)
		w.logger().Debug("job succeeded", "job_id", job.ID, "job_name", job.Name, "attempt", job.Attempts)
		return true, nil
	}

	event.Err = handlerErr
	failOpts := []core.FailOption{core.ForAttempt(job.Attempts)}
	var delayer core.RetryDelayer
	switch {
	case errors.As(handlerErr, &delayer) && delayer.RetryDelay() > 0:
		seconds := int(math.Ceil(delayer.RetryDelay().Seconds()))
		failOpts = append(failOpts, core.RetryAfter(seconds))
		event.Delay = time.Duration(seconds) * time.Second
	case w.Backoff != nil:
		seconds := w.Backoff.NextBackoffSeconds(job)
		failOpts = append(failOpts, core.RetryAfter(seconds))
		event.Delay = time.Duration(seconds) * time.Second
	default:
		event.Delay = time.Duration(job.BackoffSeconds) * time.Second
	}
	if err := w.Queue.Fail(ctx, job.ID, handlerErr, failOpts...); err != nil {
		return true, core.WrapError(err, goerrors.CategoryOperation, core.ErrorQueueUnavailable, "worker: fail job")
	}
	w.metrics().IncCounter(ctx, core.MetricJobsFailed, 1, tags)

	if job.Exhausted() {
		event.Delay = 0
		w.emit(ctx, hookFailure, event)
		w.logger().Error("job failed on final attempt",
			"job_id", job.ID,
			"job_name", job.Name,
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"error", handlerErr,
		)
		return true, nil
	}
	w.emit(ctx, hookRetry, event)
	w.logger().Warn("job failed, scheduled for retry",
		"job_id", job.ID,
		"job_name", job.Name,
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"retry_in", event.Delay,
		"error", handlerErr,
	)
	return true, nil
}

// Drain calls ProcessOne until the queue has nothing reservable or limit jobs
// were processed. A limit of zero or less means no limit.
func (w *Worker) Drain(ctx context.Context, limit int) (int, error) {
	processed := 0
	for limit <= 0 || processed < limit {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		did, err := w.ProcessOne(ctx)
		if err != nil {
			return processed, err
		}
		if !did {
			return processed, nil
		}
		processed++
	}
	return processed, nil
}

// Run drains the queue, then sleeps for idle before trying again, until ctx
// is done.
func (w *Worker) Run(ctx context.Context, idle time.Duration) error {
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if _, err := w.Drain(ctx, 0); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger().Error("worker drain failed", "error", err)
		}
		timer.Reset(idle)
	}
}

type handlerResult struct {
	err error
}

func (w *Worker) run(ctx context.Context, job core.Job) error {
	if w.Timeout <= 0 {
		return w.invoke(ctx, job)
	}

	runCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	done := make(chan handlerResult, 1)
	go func() {
		done <- handlerResult{err: w.invoke(runCtx, job)}
	}()

	select {
	case result := <-done:
		return result.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.WrapError(runCtx.Err(), goerrors.CategoryOperation, core.ErrorHandlerTimeout,
			fmt.Sprintf("worker: handler for %s exceeded %s", job.Name, w.Timeout))
	}
}

func (w *Worker) invoke(ctx context.Context, job core.Job) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = core.NewError(fmt.Sprintf("worker: handler panic: %v", recovered), goerrors.CategoryInternal, core.ErrorInternal)
		}
	}()
	return w.Handler.Handle(ctx, job.Clone())
}

type hookKind int

const (
	hookStart hookKind = iota
	hookSuccess
	hookFailure
	hookRetry
)

func (w *Worker) emit(ctx context.Context, kind hookKind, event core.JobWorkerEvent) {
	if w.Hook == nil {
		return
	}
	switch kind {
	case hookStart:
		w.Hook.OnStart(ctx, event)
	case hookSuccess:
		w.Hook.OnSuccess(ctx, event)
	case hookFailure:
		w.Hook.OnFailure(ctx, event)
	case hookRetry:
		w.Hook.OnRetry(ctx, event)
	}
}

func (w *Worker) metrics() core.MetricsRecorder {
	if w.Metrics == nil {
		return core.NopMetricsRecorder{}
	}
	return w.Metrics
}

func (w *Worker) logger() glog.Logger {
	return glog.Ensure(w.Logger)
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}
