// Package gojob lets go-job producers, consumers and worker hooks run on top
// of an outbound queue.
package gojob

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-outbound/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

// ErrQueueEmpty is returned by Dequeue when no job is ready.
var ErrQueueEmpty = errors.New("gojob: queue is empty")

const defaultNackReason = "nacked"

// RetryPolicy bounds what a go-job consumer may ask for on nack.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage describes a reserved job as a go-job message. The job
// name doubles as script path so go-job routing keys on it.
func ToExecutionMessage(j core.Job) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          j.Name,
		ScriptPath:     j.Name,
		Parameters:     core.ClonePayload(j.Payload),
		IdempotencyKey: IdempotencyKey(j),
	}
}

// FromExecutionMessage rebuilds the name and payload of a job. Queue state
// such as id and attempts is not carried by go-job messages.
func FromExecutionMessage(msg *job.ExecutionMessage) core.Job {
	if msg == nil {
		return core.Job{}
	}
	name := strings.TrimSpace(msg.JobID)
	if name == "" {
		name = strings.TrimSpace(msg.ScriptPath)
	}
	return core.Job{Name: name, Payload: core.ClonePayload(msg.Parameters)}
}

// IdempotencyKey keys bridged jobs by outbox message so duplicates of one
// message share a key.
func IdempotencyKey(j core.Job) string {
	if bridged, err := core.ParseBridgedJob(j.Payload); err == nil {
		return "outbox:" + strconv.FormatInt(bridged.OutboxID, 10)
	}
	return "job:" + strconv.FormatInt(j.ID, 10)
}

// QueueEnqueuer is a go-job Enqueuer writing into an outbound queue.
type QueueEnqueuer struct {
	queue core.Queue
	opts  []core.EnqueueOption
}

func NewQueueEnqueuer(q core.Queue, opts ...core.EnqueueOption) *QueueEnqueuer {
	return &QueueEnqueuer{queue: q, opts: opts}
}

func (e *QueueEnqueuer) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if e == nil || e.queue == nil {
		return fmt.Errorf("gojob: queue is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	name := FromExecutionMessage(msg).Name
	if name == "" {
		return fmt.Errorf("gojob: execution message needs a job id or script path")
	}
	_, err := e.queue.Enqueue(ctx, name, core.ClonePayload(msg.Parameters), e.opts...)
	return err
}

// QueueDequeuer is a go-job Dequeuer reserving from an outbound queue.
type QueueDequeuer struct {
	queue  core.Queue
	policy RetryPolicy
}

func NewQueueDequeuer(q core.Queue, policy RetryPolicy) *QueueDequeuer {
	return &QueueDequeuer{queue: q, policy: policy}
}

func (d *QueueDequeuer) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if d == nil || d.queue == nil {
		return nil, fmt.Errorf("gojob: queue is not configured")
	}
	reserved, ok, err := d.queue.ReserveNext(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrQueueEmpty
	}
	return &Delivery{queue: d.queue, job: reserved, policy: d.policy}, nil
}

// Delivery wraps one reserved job.
type Delivery struct {
	queue  core.Queue
	job    core.Job
	policy RetryPolicy
}

func (d *Delivery) Job() core.Job {
	return d.job.Clone()
}

func (d *Delivery) Message() *job.ExecutionMessage {
	if d == nil {
		return nil
	}
	return ToExecutionMessage(d.job)
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d == nil || d.queue == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.queue.Ack(ctx, d.job.ID, core.AckForAttempt(d.job.Attempts))
}

// Nack fails the job. A delay replaces the job's backoff, and a dead-letter
// request skips any attempts left.
func (d *Delivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if d == nil || d.queue == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, d.job.Attempts)
	reason := normalized.Reason
	if reason == "" {
		reason = defaultNackReason
	}
	failOpts := []core.FailOption{core.ForAttempt(d.job.Attempts)}
	switch {
	case normalized.DeadLetter:
		failOpts = append(failOpts, core.DeadLetterNow())
	case normalized.Delay > 0:
		failOpts = append(failOpts, core.RetryAfter(int(math.Ceil(normalized.Delay.Seconds()))))
	}
	return d.queue.Fail(ctx, d.job.ID, errors.New(reason), failOpts...)
}

// WorkerHookAdapter forwards go-job worker events to an outbound hook.
type WorkerHookAdapter struct {
	hook core.JobWorkerHook
}

func NewWorkerHookAdapter(hook core.JobWorkerHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, fromWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, fromWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, fromWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnRetry(ctx, fromWorkerEvent(event))
}

// HookBridge lets an outbound worker notify go-job hooks.
type HookBridge struct {
	hook worker.Hook
}

func NewHookBridge(hook worker.Hook) *HookBridge {
	return &HookBridge{hook: hook}
}

func (b *HookBridge) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	if b == nil || b.hook == nil {
		return
	}
	b.hook.OnStart(ctx, toWorkerEvent(event))
}

func (b *HookBridge) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if b == nil || b.hook == nil {
		return
	}
	b.hook.OnSuccess(ctx, toWorkerEvent(event))
}

func (b *HookBridge) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	if b == nil || b.hook == nil {
		return
	}
	b.hook.OnFailure(ctx, toWorkerEvent(event))
}

func (b *HookBridge) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	if b == nil || b.hook == nil {
		return
	}
	b.hook.OnRetry(ctx, toWorkerEvent(event))
}

func fromWorkerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	out := core.JobWorkerEvent{
		Job:       FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
	if delivery, ok := event.Delivery.(*Delivery); ok && delivery != nil {
		out.Job = delivery.Job()
	}
	if event.Attempt > 0 {
		out.Job.Attempts = event.Attempt
	}
	return out
}

func toWorkerEvent(event core.JobWorkerEvent) worker.Event {
	return worker.Event{
		Message:   ToExecutionMessage(event.Job),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

var (
	_ queue.Enqueuer     = (*QueueEnqueuer)(nil)
	_ queue.Dequeuer     = (*QueueDequeuer)(nil)
	_ queue.Delivery     = (*Delivery)(nil)
	_ worker.Hook        = (*WorkerHookAdapter)(nil)
	_ core.JobWorkerHook = (*HookBridge)(nil)
)
