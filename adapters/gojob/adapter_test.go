package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-outbound/core"
	outboundqueue "github.com/goliatone/go-outbound/queue"
	"github.com/goliatone/go-outbound/queue/queuetest"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func newQueue(maxAttempts int) (*outboundqueue.MemoryQueue, *queuetest.Clock) {
	clock := queuetest.NewClock()
	q := outboundqueue.NewMemoryQueue(core.QueueDefaults{
		VisibilityTimeout: 30 * time.Second,
		MaxAttempts:       maxAttempts,
		BackoffSeconds:    10,
	}, outboundqueue.WithNow(clock.Now))
	return q, clock
}

func TestMessageMapping(t *testing.T) {
	bridged := core.Job{
		ID:      9,
		Name:    "outbox.order.created",
		Payload: core.BridgedJobPayload(core.OutboxMessage{ID: 41, Topic: "order.created"}),
	}
	msg := ToExecutionMessage(bridged)
	if msg.JobID != "outbox.order.created" || msg.ScriptPath != "outbox.order.created" {
		t.Fatalf("unexpected message identity %+v", msg)
	}
	if msg.IdempotencyKey != "outbox:41" {
		t.Fatalf("expected outbox idempotency key, got %q", msg.IdempotencyKey)
	}

	plain := ToExecutionMessage(core.Job{ID: 3, Name: "report", Payload: map[string]any{"x": 1}})
	if plain.IdempotencyKey != "job:3" {
		t.Fatalf("expected job idempotency key, got %q", plain.IdempotencyKey)
	}

	back := FromExecutionMessage(&job.ExecutionMessage{ScriptPath: "report", Parameters: map[string]any{"x": 1}})
	if back.Name != "report" || back.Payload["x"] != 1 {
		t.Fatalf("unexpected job %+v", back)
	}
}

func TestEnqueueAndDequeueThroughQueue(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(5)

	enqueuer := NewQueueEnqueuer(q)
	if err := enqueuer.Enqueue(ctx, &job.ExecutionMessage{
		JobID:      "report.nightly",
		Parameters: map[string]any{"day": "2026-03-01"},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := enqueuer.Enqueue(ctx, &job.ExecutionMessage{}); err == nil {
		t.Fatalf("expected message without name to be rejected")
	}

	dequeuer := NewQueueDequeuer(q, RetryPolicy{})
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	msg := delivery.Message()
	if msg.JobID != "report.nightly" || msg.Parameters["day"] != "2026-03-01" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if _, err := dequeuer.Dequeue(ctx); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected empty queue, got %v", err)
	}

	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if stats := q.Stats(); stats.Reserved != 0 || stats.Ready != 0 {
		t.Fatalf("expected queue to be empty after ack, got %+v", stats)
	}
}

func TestNackDelayBecomesRetryAfter(t *testing.T) {
	ctx := context.Background()
	q, clock := newQueue(5)
	if _, err := q.Enqueue(ctx, "report", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	dequeuer := NewQueueDequeuer(q, RetryPolicy{MaxDelay: 10 * time.Second})
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{Delay: 90 * time.Second, Requeue: true, Reason: "busy"}); err != nil {
		t.Fatalf("nack: %v", err)
	}

	stored, err := q.Get(ctx, delivery.(*Delivery).Job().ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.BackoffSeconds != 10 {
		t.Fatalf("expected delay clamped to 10s, got %d", stored.BackoffSeconds)
	}
	if stored.LastError != "busy" {
		t.Fatalf("expected nack reason as last error, got %q", stored.LastError)
	}

	clock.Advance(9 * time.Second)
	if _, err := dequeuer.Dequeue(ctx); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected job to be delayed, got %v", err)
	}
	clock.Advance(time.Second)
	if _, err := dequeuer.Dequeue(ctx); err != nil {
		t.Fatalf("expected job after delay: %v", err)
	}
}

func TestNackDeadLetterSkipsRemainingAttempts(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(5)
	if _, err := q.Enqueue(ctx, "report", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := NewQueueDequeuer(q, RetryPolicy{}).Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{DeadLetter: true}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	dead, _ := q.DeadLetters(ctx)
	if len(dead) != 1 || dead[0].Attempts != 1 {
		t.Fatalf("expected one dead job after a single attempt, got %+v", dead)
	}
	if dead[0].LastError != defaultNackReason {
		t.Fatalf("expected default reason, got %q", dead[0].LastError)
	}
}

func TestRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	early := policy.NormalizeAttempt(queue.NackOptions{Delay: 30 * time.Second, Reason: " transient "}, 1)
	if early.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", early.Delay)
	}
	if !early.Requeue || early.DeadLetter {
		t.Fatalf("expected requeue before max attempts, got %+v", early)
	}
	if early.Reason != "transient" {
		t.Fatalf("expected trimmed reason, got %q", early.Reason)
	}

	last := policy.NormalizeAttempt(queue.NackOptions{Requeue: true}, 3)
	if last.Requeue || !last.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", last)
	}
}

func TestWorkerHookAdapterEventMapping(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	coreHook := &capturingHook{}
	adapter := NewWorkerHookAdapter(coreHook)

	adapter.OnRetry(context.Background(), worker.Event{
		Message: &job.ExecutionMessage{
			JobID:      "outbox.order.created",
			Parameters: map[string]any{"outbox_id": int64(4)},
		},
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: now,
		Duration:  250 * time.Millisecond,
	})
	got := coreHook.last
	if got.Job.Name != "outbox.order.created" {
		t.Fatalf("expected job name mapping, got %q", got.Job.Name)
	}
	if got.Attempt != 2 || got.Job.Attempts != 2 {
		t.Fatalf("expected attempt 2, got %d/%d", got.Attempt, got.Job.Attempts)
	}
	if got.Delay != 5*time.Second || got.Duration != 250*time.Millisecond {
		t.Fatalf("expected timing mapping, got %+v", got)
	}
	if !got.StartedAt.Equal(now) {
		t.Fatalf("expected started_at mapping")
	}
	if got.Err == nil || got.Err.Error() != "retry" {
		t.Fatalf("expected error mapping")
	}
}

func TestHookBridgeForwardsToGoJobHook(t *testing.T) {
	hook := &capturingWorkerHook{}
	bridge := NewHookBridge(hook)

	bridge.OnSuccess(context.Background(), core.JobWorkerEvent{
		Job:     core.Job{ID: 5, Name: "outbox.user.deleted", Payload: core.BridgedJobPayload(core.OutboxMessage{ID: 12})},
		Attempt: 1,
	})
	if hook.successes != 1 {
		t.Fatalf("expected one success event, got %d", hook.successes)
	}
	if hook.last.Message == nil || hook.last.Message.JobID != "outbox.user.deleted" {
		t.Fatalf("expected mapped message, got %+v", hook.last.Message)
	}
	if hook.last.Message.IdempotencyKey != "outbox:12" {
		t.Fatalf("expected idempotency key, got %q", hook.last.Message.IdempotencyKey)
	}
}

type capturingHook struct {
	last core.JobWorkerEvent
}

func (h *capturingHook) OnStart(context.Context, core.JobWorkerEvent)   {}
func (h *capturingHook) OnSuccess(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnFailure(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.last = event
}

type capturingWorkerHook struct {
	successes int
	last      worker.Event
}

func (h *capturingWorkerHook) OnStart(context.Context, worker.Event) {}
func (h *capturingWorkerHook) OnSuccess(_ context.Context, event worker.Event) {
	h.successes++
	h.last = event
}
func (h *capturingWorkerHook) OnFailure(context.Context, worker.Event) {}
func (h *capturingWorkerHook) OnRetry(context.Context, worker.Event)   {}
