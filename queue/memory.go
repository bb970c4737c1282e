// Package queue provides the in-process leased job queue. All mutating
// operations run under a single mutex, so concurrent ReserveNext callers never
// receive the same job.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-outbound/core"
)

const leaseExpiredReason = "lease expired"

type Option func(*MemoryQueue)

func WithLogger(logger glog.Logger) Option {
	return func(q *MemoryQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(q *MemoryQueue) {
		if now != nil {
			q.Now = now
		}
	}
}

type MemoryQueue struct {
	mu       sync.Mutex
	defaults core.QueueDefaults
	nextID   int64
	seq      int64
	records  map[int64]*core.Job
	delayed  delayedIndex
	ready    []int64
	reserved map[int64]struct{}
	dead     []int64
	logger   glog.Logger
	Now      func() time.Time
}

type Stats struct {
	Ready    int
	Delayed  int
	Reserved int
	Dead     int
}

func NewMemoryQueue(defaults core.QueueDefaults, opts ...Option) *MemoryQueue {
	q := &MemoryQueue{
		defaults: defaults.Normalize(),
		records:  map[int64]*core.Job{},
		reserved: map[int64]struct{}{},
		logger:   glog.Nop(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, name string, payload map[string]any, opts ...core.EnqueueOption) (core.Job, error) {
	if q == nil {
		return core.Job{}, fmt.Errorf("queue: memory queue is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Job{}, fmt.Errorf("queue: job name is required")
	}
	options := core.ResolveEnqueueOptions(opts...)
	backoff := q.defaults.BackoffSeconds
	if options.BackoffSeconds != nil {
		backoff = *options.BackoffSeconds
	}
	maxAttempts := q.defaults.MaxAttempts
	if options.MaxAttempts > 0 {
		maxAttempts = options.MaxAttempts
	}
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	job := &core.Job{
		ID:             q.nextID,
		Name:           name,
		Payload:        core.ClonePayload(payload),
		MaxAttempts:    maxAttempts,
		BackoffSeconds: backoff,
		Status:         core.JobStatusReady,
		AvailableAt:    now.Add(options.Delay),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	q.records[job.ID] = job
	q.scheduleLocked(job, now)
	return job.Clone(), nil
}

func (q *MemoryQueue) ReserveNext(_ context.Context) (core.Job, bool, error) {
	if q == nil {
		return core.Job{}, false, fmt.Errorf("queue: memory queue is nil")
	}
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.reclaimExpiredLocked(now)
	q.promoteDueLocked(now)

	for len(q.ready) > 0 {
		id := q.ready[0]
		q.ready = q.ready[1:]
		job, ok := q.records[id]
		if !ok || job.Status != core.JobStatusReady {
			continue
		}
		until := now.Add(q.defaults.VisibilityTimeout)
		job.Status = core.JobStatusReserved
		job.Attempts++
		job.ReservedUntil = &until
		job.UpdatedAt = now
		q.reserved[id] = struct{}{}
		return job.Clone(), true, nil
	}
	return core.Job{}, false, nil
}

// Ack removes the job from every active structure. Unknown and dead jobs, and
// acks carrying a stale lease token, are left untouched.
func (q *MemoryQueue) Ack(_ context.Context, id int64, opts ...core.AckOption) error {
	if q == nil {
		return fmt.Errorf("queue: memory queue is nil")
	}
	options := core.ResolveAckOptions(opts...)
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.records[id]
	if !ok || job.Status.Terminal() || !core.LeaseMatches(options.Attempt, job.Attempts) {
		return nil
	}
	q.removeFromIndexesLocked(id)
	delete(q.records, id)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, id int64, cause error, opts ...core.FailOption) error {
	if q == nil {
		return fmt.Errorf("queue: memory queue is nil")
	}
	options := core.ResolveFailOptions(opts...)
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.records[id]
	if !ok || job.Status != core.JobStatusReserved || !core.LeaseMatches(options.Attempt, job.Attempts) {
		return nil
	}
	delete(q.reserved, id)
	job.ReservedUntil = nil
	job.UpdatedAt = now
	job.LastError = errorText(cause)
	if options.BackoffSeconds != nil {
		job.BackoffSeconds = *options.BackoffSeconds
	}
	if job.Exhausted() || options.DeadLetter {
		q.deadLetterLocked(job)
		return nil
	}
	job.Status = core.JobStatusReady
	job.AvailableAt = now.Add(time.Duration(job.BackoffSeconds) * time.Second)
	q.scheduleLocked(job, now)
	return nil
}

func (q *MemoryQueue) Get(_ context.Context, id int64) (core.Job, error) {
	if q == nil {
		return core.Job{}, fmt.Errorf("queue: memory queue is nil")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.records[id]
	if !ok {
		return core.Job{}, fmt.Errorf("%w: %d", core.ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

func (q *MemoryQueue) DeadLetters(_ context.Context) ([]core.Job, error) {
	if q == nil {
		return nil, fmt.Errorf("queue: memory queue is nil")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]core.Job, 0, len(q.dead))
	for _, id := range q.dead {
		if job, ok := q.records[id]; ok {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (q *MemoryQueue) Stats() Stats {
	if q == nil {
		return Stats{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Ready:    len(q.ready),
		Delayed:  q.delayed.Len(),
		Reserved: len(q.reserved),
		Dead:     len(q.dead),
	}
}

func (q *MemoryQueue) scheduleLocked(job *core.Job, now time.Time) {
	if job.AvailableAt.After(now) {
		q.seq++
		heap.Push(&q.delayed, &delayedEntry{id: job.ID, at: job.AvailableAt, seq: q.seq})
		return
	}
	q.ready = append(q.ready, job.ID)
}

// reclaimExpiredLocked treats an elapsed lease as one failed attempt.
func (q *MemoryQueue) reclaimExpiredLocked(now time.Time) {
	if len(q.reserved) == 0 {
		return
	}
	expired := make([]int64, 0)
	for id := range q.reserved {
		job, ok := q.records[id]
		if !ok {
			delete(q.reserved, id)
			continue
		}
		if job.ReservedUntil != nil && !job.ReservedUntil.After(now) {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	for _, id := range expired {
		job := q.records[id]
		delete(q.reserved, id)
		job.ReservedUntil = nil
		job.UpdatedAt = now
		job.LastError = leaseExpiredReason
		if job.Exhausted() {
			q.deadLetterLocked(job)
			continue
		}
		job.Status = core.JobStatusReady
		job.AvailableAt = now
		q.ready = append(q.ready, id)
		q.logger.Debug("reclaimed expired job lease", "job_id", id, "attempts", job.Attempts)
	}
}

func (q *MemoryQueue) promoteDueLocked(now time.Time) {
	for q.delayed.Len() > 0 {
		next := q.delayed[0]
		if next.at.After(now) {
			return
		}
		heap.Pop(&q.delayed)
		job, ok := q.records[next.id]
		if !ok || job.Status != core.JobStatusReady {
			continue
		}
		q.ready = append(q.ready, next.id)
	}
}

func (q *MemoryQueue) deadLetterLocked(job *core.Job) {
	q.removeFromIndexesLocked(job.ID)
	job.Status = core.JobStatusDead
	q.dead = append(q.dead, job.ID)
	q.logger.Warn("job moved to dead-letter list",
		"job_id", job.ID,
		"job_name", job.Name,
		"attempts", job.Attempts,
		"last_error", job.LastError,
	)
}

func (q *MemoryQueue) removeFromIndexesLocked(id int64) {
	delete(q.reserved, id)
	for i, readyID := range q.ready {
		if readyID == id {
			q.ready = append(q.ready[:i], q.ready[i+1:]...)
			break
		}
	}
	for i, entry := range q.delayed {
		if entry.id == id {
			heap.Remove(&q.delayed, i)
			break
		}
	}
}

func (q *MemoryQueue) now() time.Time {
	if q != nil && q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type delayedEntry struct {
	id  int64
	at  time.Time
	seq int64
}

// delayedIndex orders delayed jobs by available_at, then by scheduling order.
type delayedIndex []*delayedEntry

func (d delayedIndex) Len() int { return len(d) }

func (d delayedIndex) Less(i, j int) bool {
	if d[i].at.Equal(d[j].at) {
		return d[i].seq < d[j].seq
	}
	return d[i].at.Before(d[j].at)
}

func (d delayedIndex) Swap(i, j int) { d[i], d[j] = d[j], d[i] }

func (d *delayedIndex) Push(x any) {
	*d = append(*d, x.(*delayedEntry))
}

func (d *delayedIndex) Pop() any {
	old := *d
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*d = old[:n-1]
	return item
}

var (
	_ core.Queue          = (*MemoryQueue)(nil)
	_ core.QueueInspector = (*MemoryQueue)(nil)
)
