// Package bridge promotes unprocessed outbox messages into queue jobs.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-outbound/core"
)

const (
	DefaultBatchSize  = 100
	DefaultClaimLease = time.Minute
)

type TickStats struct {
	Enqueued int
	Marked   int
}

type Bridge struct {
	Outbox    core.OutboxStore
	Queue     core.Queue
	BatchSize int
	// ClaimLease bounds how long claimed messages stay hidden from other
	// bridges when the outbox implements core.OutboxClaimer.
	ClaimLease time.Duration
	Logger     glog.Logger
	// EnqueueOptions are applied to every job the bridge creates.
	EnqueueOptions []core.EnqueueOption

	mu sync.Mutex
}

func New(outbox core.OutboxStore, queue core.Queue) *Bridge {
	return &Bridge{
		Outbox:     outbox,
		Queue:      queue,
		BatchSize:  DefaultBatchSize,
		ClaimLease: DefaultClaimLease,
		Logger:     glog.Nop(),
	}
}

// Tick enqueues one job per pending outbox message, oldest first, and marks
// each message processed after its job is written. A crash between the two
// steps re-enqueues the message on the next tick; the delivery handler's inbox
// check absorbs the duplicate.
func (b *Bridge) Tick(ctx context.Context) (TickStats, error) {
	stats := TickStats{}
	if b == nil || b.Outbox == nil || b.Queue == nil {
		return stats, fmt.Errorf("bridge: outbox and queue are required")
	}
	// Ticks on one Bridge run one at a time.
	b.mu.Lock()
	defer b.mu.Unlock()

	pending, err := b.pending(ctx)
	if err != nil {
		return stats, err
	}
	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		job, err := b.Queue.Enqueue(ctx, core.OutboxJobName(msg.Topic), core.BridgedJobPayload(msg), b.EnqueueOptions...)
		if err != nil {
			return stats, fmt.Errorf("bridge: enqueue outbox %d: %w", msg.ID, err)
		}
		stats.Enqueued++
		if err := b.Outbox.MarkProcessed(ctx, msg.ID); err != nil {
			return stats, fmt.Errorf("bridge: mark outbox %d processed: %w", msg.ID, err)
		}
		stats.Marked++
		b.logger().Debug("outbox message bridged",
			"outbox_id", msg.ID,
			"topic", msg.Topic,
			"job_id", job.ID,
			"job_name", job.Name,
		)
	}
	if stats.Enqueued > 0 {
		b.logger().Info("bridge tick complete", "enqueued", stats.Enqueued)
	}
	return stats, nil
}

// Drain ticks until a tick finds nothing to promote.
func (b *Bridge) Drain(ctx context.Context) (TickStats, error) {
	total := TickStats{}
	for {
		stats, err := b.Tick(ctx)
		total.Enqueued += stats.Enqueued
		total.Marked += stats.Marked
		if err != nil || stats.Enqueued == 0 {
			return total, err
		}
	}
}

// pending claims the batch when the outbox is shared between processes. A
// plain outbox is read directly; the mutex already serialises this Bridge.
func (b *Bridge) pending(ctx context.Context) ([]core.OutboxMessage, error) {
	if claimer, ok := b.Outbox.(core.OutboxClaimer); ok {
		lease := b.ClaimLease
		if lease <= 0 {
			lease = DefaultClaimLease
		}
		return claimer.ClaimPending(ctx, b.batchSize(), lease)
	}
	return b.Outbox.Pending(ctx, b.batchSize())
}

func (b *Bridge) batchSize() int {
	if b != nil && b.BatchSize > 0 {
		return b.BatchSize
	}
	return DefaultBatchSize
}

func (b *Bridge) logger() glog.Logger {
	if b == nil {
		return glog.Nop()
	}
	return glog.Ensure(b.Logger)
}
