package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-outbound/core"
)

const leaseExpiredReason = "lease expired"

const jobColumns = `id, name, payload, attempts, max_attempts, backoff_seconds, status,
	available_at_ms, reserved_until_ms, last_error, created_at_ms, updated_at_ms`

// JobQueue is the durable core.Queue. Rows with status ready and a future
// available_at_ms form the delayed index; due ready rows, ordered by
// (available_at_ms, id), form the ready index. ReserveNext reclaims expired
// leases and claims one due row in a single transaction.
type JobQueue struct {
	db       *bun.DB
	defaults core.QueueDefaults
	logger   glog.Logger
	Now      func() time.Time
}

type JobQueueOption func(*JobQueue)

func WithJobQueueLogger(logger glog.Logger) JobQueueOption {
	return func(q *JobQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithJobQueueNow(now func() time.Time) JobQueueOption {
	return func(q *JobQueue) {
		if now != nil {
			q.Now = now
		}
	}
}

func NewJobQueue(db *bun.DB, defaults core.QueueDefaults, opts ...JobQueueOption) (*JobQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	q := &JobQueue{
		db:       db,
		defaults: defaults.Normalize(),
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
	return q, nil
}

func (q *JobQueue) Enqueue(ctx context.Context, name string, payload map[string]any, opts ...core.EnqueueOption) (core.Job, error) {
	if q == nil || q.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job queue is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Job{}, fmt.Errorf("sqlstore: job name is required")
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
	if payload == nil {
		payload = map[string]any{}
	}
	now := q.now()
	record := &jobRecord{
		Name:           name,
		Payload:        core.ClonePayload(payload),
		MaxAttempts:    maxAttempts,
		BackoffSeconds: backoff,
		Status:         string(core.JobStatusReady),
		AvailableAtMs:  toMillis(now.Add(options.Delay)),
		CreatedAtMs:    toMillis(now),
		UpdatedAtMs:    toMillis(now),
	}
	if _, err := q.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

func (q *JobQueue) ReserveNext(ctx context.Context) (core.Job, bool, error) {
	if q == nil || q.db == nil {
		return core.Job{}, false, fmt.Errorf("sqlstore: job queue is not configured")
	}
	now := toMillis(q.now())
	leaseUntil := now + q.defaults.VisibilityTimeout.Milliseconds()

	var claimed []jobRecord
	var deadLettered int64
	err := q.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		dead, err := q.reclaimExpiredTx(ctx, tx, now)
		if err != nil {
			return err
		}
		deadLettered = dead

		query := fmt.Sprintf(`
UPDATE outbound_jobs
SET status = ?, attempts = attempts + 1, reserved_until_ms = ?, updated_at_ms = ?
WHERE id = (
	SELECT id
	FROM outbound_jobs
	WHERE status = ?
	  AND available_at_ms <= ?
	ORDER BY available_at_ms ASC, id ASC
	LIMIT 1
	%s
)
  AND status = ?
RETURNING %s
`, q.lockClause(), jobColumns)
		err = tx.NewRaw(
			query,
			string(core.JobStatusReserved),
			leaseUntil,
			now,
			string(core.JobStatusReady),
			now,
			string(core.JobStatusReady),
		).Scan(ctx, &claimed)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return core.Job{}, false, err
	}
	if deadLettered > 0 {
		q.logger.Warn("expired job leases moved to dead-letter list", "count", deadLettered)
	}
	if len(claimed) == 0 {
		return core.Job{}, false, nil
	}
	return claimed[0].toDomain(), true, nil
}

// reclaimExpiredTx treats an elapsed lease as one failed attempt.
func (q *JobQueue) reclaimExpiredTx(ctx context.Context, tx bun.Tx, now int64) (int64, error) {
	result, err := tx.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusDead)).
		Set("reserved_until_ms = NULL").
		Set("last_error = ?", leaseExpiredReason).
		Set("updated_at_ms = ?", now).
		Where("status = ?", string(core.JobStatusReserved)).
		Where("reserved_until_ms <= ?", now).
		Where("attempts >= max_attempts").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	dead, _ := result.RowsAffected()

	if _, err := tx.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusReady)).
		Set("reserved_until_ms = NULL").
		Set("available_at_ms = ?", now).
		Set("last_error = ?", leaseExpiredReason).
		Set("updated_at_ms = ?", now).
		Where("status = ?", string(core.JobStatusReserved)).
		Where("reserved_until_ms <= ?", now).
		Exec(ctx); err != nil {
		return 0, err
	}
	return dead, nil
}

// Ack marks ready or reserved jobs done. Unknown, done and dead jobs, and acks
// carrying a stale lease token, are left untouched.
func (q *JobQueue) Ack(ctx context.Context, id int64, opts ...core.AckOption) error {
	if q == nil || q.db == nil {
		return fmt.Errorf("sqlstore: job queue is not configured")
	}
	options := core.ResolveAckOptions(opts...)
	query := q.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusDone)).
		Set("reserved_until_ms = NULL").
		Set("updated_at_ms = ?", toMillis(q.now())).
		Where("id = ?", id).
		Where("status IN (?)", bun.In([]string{string(core.JobStatusReady), string(core.JobStatusReserved)}))
	if options.Attempt > 0 {
		query = query.Where("attempts = ?", options.Attempt)
	}
	_, err := query.Exec(ctx)
	return err
}

func (q *JobQueue) Fail(ctx context.Context, id int64, cause error, opts ...core.FailOption) error {
	if q == nil || q.db == nil {
		return fmt.Errorf("sqlstore: job queue is not configured")
	}
	options := core.ResolveFailOptions(opts...)
	now := q.now()

	record := &jobRecord{}
	err := q.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if record.Status != string(core.JobStatusReserved) || !core.LeaseMatches(options.Attempt, record.Attempts) {
		return nil
	}

	backoff := record.BackoffSeconds
	if options.BackoffSeconds != nil {
		backoff = *options.BackoffSeconds
	}
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	status := core.JobStatusReady
	if record.Attempts >= record.MaxAttempts || options.DeadLetter {
		status = core.JobStatusDead
	}

	result, err := q.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(status)).
		Set("reserved_until_ms = NULL").
		Set("backoff_seconds = ?", backoff).
		Set("available_at_ms = ?", toMillis(now.Add(time.Duration(backoff)*time.Second))).
		Set("last_error = ?", lastError).
		Set("updated_at_ms = ?", toMillis(now)).
		Where("id = ?", id).
		Where("status = ?", string(core.JobStatusReserved)).
		Where("attempts = ?", record.Attempts).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected > 0 && status == core.JobStatusDead {
		q.logger.Warn("job moved to dead-letter list",
			"job_id", id,
			"job_name", record.Name,
			"attempts", record.Attempts,
			"last_error", lastError,
		)
	}
	return nil
}

func (q *JobQueue) Get(ctx context.Context, id int64) (core.Job, error) {
	if q == nil || q.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job queue is not configured")
	}
	record := &jobRecord{}
	err := q.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Job{}, fmt.Errorf("%w: %d", core.ErrJobNotFound, id)
		}
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

func (q *JobQueue) DeadLetters(ctx context.Context) ([]core.Job, error) {
	if q == nil || q.db == nil {
		return nil, fmt.Errorf("sqlstore: job queue is not configured")
	}
	var records []jobRecord
	err := q.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.JobStatusDead)).
		OrderExpr("?TableAlias.updated_at_ms ASC, ?TableAlias.id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	out := make([]core.Job, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// PurgeDone deletes acknowledged jobs last updated before cutoff.
func (q *JobQueue) PurgeDone(ctx context.Context, cutoff time.Time) (int64, error) {
	if q == nil || q.db == nil {
		return 0, fmt.Errorf("sqlstore: job queue is not configured")
	}
	result, err := q.db.NewDelete().
		Model((*jobRecord)(nil)).
		Where("status = ?", string(core.JobStatusDone)).
		Where("updated_at_ms < ?", toMillis(cutoff)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *JobQueue) lockClause() string {
	if q.db.Dialect().Name() == dialect.PG {
		return "FOR UPDATE SKIP LOCKED"
	}
	return ""
}

func (q *JobQueue) now() time.Time {
	if q != nil && q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

var (
	_ core.Queue          = (*JobQueue)(nil)
	_ core.QueueInspector = (*JobQueue)(nil)
)
