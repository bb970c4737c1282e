// Package queuetest holds the behaviour suite every core.Queue backend runs.
package queuetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-outbound/core"
)

type Backend interface {
	core.Queue
	core.QueueInspector
}

// Factory builds a fresh, empty backend bound to the given clock.
type Factory func(t *testing.T, defaults core.QueueDefaults, now func() time.Time) Backend

type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func Run(t *testing.T, factory Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, Factory)
	}{
		{"EnqueueDefaults", testEnqueueDefaults},
		{"ReserveLeasesInFIFOOrder", testReserveLeasesInFIFOOrder},
		{"AckIsIdempotent", testAckIsIdempotent},
		{"FailIgnoresUnknownAndUnreserved", testFailIgnoresUnknownAndUnreserved},
		{"DeadLetterOnNthFailure", testDeadLetterOnNthFailure},
		{"BackoffDelaysRedelivery", testBackoffDelaysRedelivery},
		{"RetryAfterOverridesBackoff", testRetryAfterOverridesBackoff},
		{"DeadLetterNowSkipsRemainingAttempts", testDeadLetterNowSkipsRemainingAttempts},
		{"DelayedEnqueue", testDelayedEnqueue},
		{"LeaseExpiryMakesJobReservable", testLeaseExpiryMakesJobReservable},
		{"LeaseExpiryOnLastAttemptDeadLetters", testLeaseExpiryOnLastAttemptDeadLetters},
		{"StaleLeaseTokenIsIgnored", testStaleLeaseTokenIsIgnored},
		{"ConcurrentReserveNeverDuplicates", testConcurrentReserveNeverDuplicates},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, factory)
		})
	}
}

func defaults() core.QueueDefaults {
	return core.QueueDefaults{
		VisibilityTimeout: 30 * time.Second,
		MaxAttempts:       3,
		BackoffSeconds:    0,
	}
}

func mustReserve(t *testing.T, q Backend) core.Job {
	t.Helper()
	job, ok, err := q.ReserveNext(context.Background())
	if err != nil {
		t.Fatalf("reserve next: %v", err)
	}
	if !ok {
		t.Fatalf("expected a job to be reserved")
	}
	return job
}

func mustBeEmpty(t *testing.T, q Backend) {
	t.Helper()
	job, ok, err := q.ReserveNext(context.Background())
	if err != nil {
		t.Fatalf("reserve next: %v", err)
	}
	if ok {
		t.Fatalf("expected no reservable job, got %+v", job)
	}
}

func testEnqueueDefaults(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	job, err := q.Enqueue(context.Background(), "outbox.order.created", map[string]any{"outbox_id": 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.ID == 0 {
		t.Fatalf("expected job id")
	}
	if job.Attempts != 0 || job.Status != core.JobStatusReady {
		t.Fatalf("expected ready job with zero attempts, got %+v", job)
	}
	if job.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", job.MaxAttempts)
	}
	if !job.AvailableAt.Equal(clock.Now()) {
		t.Fatalf("expected available_at now, got %s", job.AvailableAt)
	}
	if _, err := q.Enqueue(context.Background(), " ", nil); err == nil {
		t.Fatalf("expected empty job name to be rejected")
	}
}

func testReserveLeasesInFIFOOrder(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	first, _ := q.Enqueue(ctx, "a", map[string]any{"n": 1})
	second, _ := q.Enqueue(ctx, "b", map[string]any{"n": 2})

	got := mustReserve(t, q)
	if got.ID != first.ID {
		t.Fatalf("expected first job %d, got %d", first.ID, got.ID)
	}
	if got.Attempts != 1 || got.Status != core.JobStatusReserved {
		t.Fatalf("expected reserved job with one attempt, got %+v", got)
	}
	if got.ReservedUntil == nil || !got.ReservedUntil.Equal(clock.Now().Add(30*time.Second)) {
		t.Fatalf("expected lease of 30s, got %v", got.ReservedUntil)
	}
	if n, _ := core.ToInt64(got.Payload["n"]); n != 1 {
		t.Fatalf("expected payload to survive, got %+v", got.Payload)
	}

	next := mustReserve(t, q)
	if next.ID != second.ID {
		t.Fatalf("expected second job %d, got %d", second.ID, next.ID)
	}
	mustBeEmpty(t, q)
}

func testAckIsIdempotent(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "a", nil)
	job := mustReserve(t, q)

	for i := 0; i < 2; i++ {
		if err := q.Ack(ctx, job.ID); err != nil {
			t.Fatalf("ack %d: %v", i, err)
		}
	}
	if err := q.Ack(ctx, 987654); err != nil {
		t.Fatalf("ack unknown: %v", err)
	}
	if err := q.Fail(ctx, job.ID, errors.New("late")); err != nil {
		t.Fatalf("fail after ack: %v", err)
	}
	clock.Advance(time.Hour)
	mustBeEmpty(t, q)
	dead, _ := q.DeadLetters(ctx)
	if len(dead) != 0 {
		t.Fatalf("expected no dead letters, got %d", len(dead))
	}
}

func testFailIgnoresUnknownAndUnreserved(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	if err := q.Fail(ctx, 123456, errors.New("boom")); err != nil {
		t.Fatalf("fail unknown: %v", err)
	}
	job, _ := q.Enqueue(ctx, "a", nil)
	if err := q.Fail(ctx, job.ID, errors.New("not reserved")); err != nil {
		t.Fatalf("fail unreserved: %v", err)
	}
	stored, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != core.JobStatusReady || stored.Attempts != 0 || stored.LastError != "" {
		t.Fatalf("expected untouched ready job, got %+v", stored)
	}
}

func testDeadLetterOnNthFailure(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	enqueued, _ := q.Enqueue(ctx, "a", nil)

	for attempt := 1; attempt <= 3; attempt++ {
		job := mustReserve(t, q)
		if job.ID != enqueued.ID {
			t.Fatalf("expected job %d, got %d", enqueued.ID, job.ID)
		}
		if job.Attempts != attempt {
			t.Fatalf("expected attempts %d, got %d", attempt, job.Attempts)
		}
		if err := q.Fail(ctx, job.ID, errors.New("receiver returned 500")); err != nil {
			t.Fatalf("fail: %v", err)
		}
		stored, _ := q.Get(ctx, job.ID)
		if attempt < 3 && stored.Status != core.JobStatusReady {
			t.Fatalf("expected ready after failure %d, got %s", attempt, stored.Status)
		}
		if attempt == 3 && stored.Status != core.JobStatusDead {
			t.Fatalf("expected dead after failure %d, got %s", attempt, stored.Status)
		}
	}
	mustBeEmpty(t, q)

	dead, err := q.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != enqueued.ID {
		t.Fatalf("expected job in dead-letter list, got %+v", dead)
	}
	if dead[0].Attempts != 3 || dead[0].LastError != "receiver returned 500" {
		t.Fatalf("expected inspectable dead letter, got %+v", dead[0])
	}

	if err := q.Ack(ctx, enqueued.ID); err != nil {
		t.Fatalf("ack dead: %v", err)
	}
	if err := q.Fail(ctx, enqueued.ID, errors.New("again")); err != nil {
		t.Fatalf("fail dead: %v", err)
	}
	dead, _ = q.DeadLetters(ctx)
	if len(dead) != 1 || dead[0].Attempts != 3 {
		t.Fatalf("expected dead letter unchanged, got %+v", dead)
	}
}

func testBackoffDelaysRedelivery(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "a", nil, core.WithBackoffSeconds(5))

	job := mustReserve(t, q)
	if err := q.Fail(ctx, job.ID, errors.New("boom")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	mustBeEmpty(t, q)
	clock.Advance(4 * time.Second)
	mustBeEmpty(t, q)
	clock.Advance(time.Second)
	again := mustReserve(t, q)
	if again.ID != job.ID || again.Attempts != 2 {
		t.Fatalf("expected redelivery with attempt 2, got %+v", again)
	}
}

func testRetryAfterOverridesBackoff(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "a", nil, core.WithBackoffSeconds(1))

	job := mustReserve(t, q)
	if err := q.Fail(ctx, job.ID, errors.New("boom"), core.RetryAfter(60)); err != nil {
		t.Fatalf("fail: %v", err)
	}
	clock.Advance(59 * time.Second)
	mustBeEmpty(t, q)
	clock.Advance(time.Second)
	again := mustReserve(t, q)
	if again.BackoffSeconds != 60 {
		t.Fatalf("expected backoff 60 to persist, got %d", again.BackoffSeconds)
	}
}

func testDeadLetterNowSkipsRemainingAttempts(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	enqueued, _ := q.Enqueue(ctx, "a", nil)

	job := mustReserve(t, q)
	if err := q.Fail(ctx, job.ID, errors.New("no handler"), core.DeadLetterNow()); err != nil {
		t.Fatalf("fail: %v", err)
	}
	mustBeEmpty(t, q)
	dead, err := q.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != enqueued.ID || dead[0].Attempts != 1 {
		t.Fatalf("expected job dead after first attempt, got %+v", dead)
	}
}

func testDelayedEnqueue(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	delayed, _ := q.Enqueue(ctx, "later", nil, core.WithDelay(10*time.Second))
	immediate, _ := q.Enqueue(ctx, "now", nil)

	got := mustReserve(t, q)
	if got.ID != immediate.ID {
		t.Fatalf("expected immediate job first, got %d", got.ID)
	}
	mustBeEmpty(t, q)
	clock.Advance(10 * time.Second)
	got = mustReserve(t, q)
	if got.ID != delayed.ID {
		t.Fatalf("expected delayed job once due, got %d", got.ID)
	}
}

func testLeaseExpiryMakesJobReservable(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "a", nil, core.WithBackoffSeconds(120))

	job := mustReserve(t, q)
	clock.Advance(29 * time.Second)
	mustBeEmpty(t, q)
	clock.Advance(time.Second)
	recovered := mustReserve(t, q)
	if recovered.ID != job.ID {
		t.Fatalf("expected recovered job %d, got %d", job.ID, recovered.ID)
	}
	if recovered.Attempts != 2 {
		t.Fatalf("expected attempts 2 after lease expiry, got %d", recovered.Attempts)
	}
	if err := q.Ack(ctx, recovered.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	mustBeEmpty(t, q)
}

func testLeaseExpiryOnLastAttemptDeadLetters(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	enqueued, _ := q.Enqueue(ctx, "a", nil, core.WithMaxAttempts(1))

	_ = mustReserve(t, q)
	clock.Advance(31 * time.Second)
	mustBeEmpty(t, q)

	dead, _ := q.DeadLetters(ctx)
	if len(dead) != 1 || dead[0].ID != enqueued.ID {
		t.Fatalf("expected expired last attempt to be dead-lettered, got %+v", dead)
	}
	if dead[0].LastError == "" {
		t.Fatalf("expected lease expiry reason on dead letter")
	}
}

func testStaleLeaseTokenIsIgnored(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "a", nil)

	first := mustReserve(t, q)
	clock.Advance(31 * time.Second)
	second := mustReserve(t, q)
	if second.ID != first.ID || second.Attempts != 2 {
		t.Fatalf("expected job %d on attempt 2, got %d on attempt %d", first.ID, second.ID, second.Attempts)
	}

	if err := q.Fail(ctx, first.ID, errors.New("late"), core.ForAttempt(first.Attempts)); err != nil {
		t.Fatalf("stale fail: %v", err)
	}
	mustBeEmpty(t, q)
	if err := q.Ack(ctx, first.ID, core.AckForAttempt(first.Attempts)); err != nil {
		t.Fatalf("stale ack: %v", err)
	}
	current, err := q.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != core.JobStatusReserved || current.Attempts != 2 {
		t.Fatalf("expected live reservation on attempt 2, got %s on attempt %d", current.Status, current.Attempts)
	}

	if err := q.Fail(ctx, second.ID, errors.New("boom"), core.ForAttempt(second.Attempts)); err != nil {
		t.Fatalf("fail: %v", err)
	}
	third := mustReserve(t, q)
	if third.Attempts != 3 {
		t.Fatalf("expected attempt 3 after current holder failed, got %d", third.Attempts)
	}
	if err := q.Ack(ctx, third.ID, core.AckForAttempt(third.Attempts)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	mustBeEmpty(t, q)
}

func testConcurrentReserveNeverDuplicates(t *testing.T, factory Factory) {
	clock := NewClock()
	q := factory(t, defaults(), clock.Now)
	ctx := context.Background()
	const total = 40
	for i := 0; i < total; i++ {
		if _, err := q.Enqueue(ctx, "a", map[string]any{"i": i}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
		wg   sync.WaitGroup
	)
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok, err := q.ReserveNext(ctx)
				if err != nil {
					errs <- err
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent reserve: %v", err)
	}
	if len(seen) != total {
		t.Fatalf("expected %d distinct jobs, got %d", total, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("job %d reserved %d times", id, count)
		}
	}
}
