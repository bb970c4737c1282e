package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-outbound/core"
)

type outboxRecord struct {
	bun.BaseModel `bun:"table:outbound_outbox,alias:obo"`

	ID             int64          `bun:"id,pk,autoincrement"`
	Topic          string         `bun:"topic,notnull"`
	Payload        map[string]any `bun:"payload,type:jsonb,notnull"`
	CreatedAt      time.Time      `bun:"created_at,notnull"`
	ProcessedAt    *time.Time     `bun:"processed_at,nullzero"`
	ClaimedUntilMs int64          `bun:"claimed_until_ms,nullzero"`
}

func (r outboxRecord) toDomain() core.OutboxMessage {
	msg := core.OutboxMessage{
		ID:        r.ID,
		Topic:     r.Topic,
		Payload:   core.ClonePayload(r.Payload),
		CreatedAt: r.CreatedAt.UTC(),
	}
	if msg.Payload == nil {
		msg.Payload = map[string]any{}
	}
	if r.ProcessedAt != nil {
		at := r.ProcessedAt.UTC()
		msg.ProcessedAt = &at
	}
	return msg
}

type inboxRecord struct {
	bun.BaseModel `bun:"table:outbound_inbox,alias:obi"`

	DeliveryKey string    `bun:"delivery_key,pk"`
	SeenAt      time.Time `bun:"seen_at,notnull"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:outbound_subscriptions,alias:obs"`

	ID        string    `bun:"id,pk"`
	Topic     string    `bun:"topic,notnull"`
	URL       string    `bun:"url,notnull"`
	Secret    string    `bun:"secret,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (r *subscriptionRecord) toDomain() core.WebhookSubscription {
	if r == nil {
		return core.WebhookSubscription{}
	}
	return core.WebhookSubscription{
		ID:        r.ID,
		Topic:     r.Topic,
		URL:       r.URL,
		Secret:    r.Secret,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// jobRecord keeps timestamps as unix milliseconds so ordering and lease
// comparisons are plain integer comparisons on every dialect.
type jobRecord struct {
	bun.BaseModel `bun:"table:outbound_jobs,alias:obj"`

	ID              int64          `bun:"id,pk,autoincrement"`
	Name            string         `bun:"name,notnull"`
	Payload         map[string]any `bun:"payload,type:jsonb,notnull"`
	Attempts        int            `bun:"attempts,notnull"`
	MaxAttempts     int            `bun:"max_attempts,notnull"`
	BackoffSeconds  int            `bun:"backoff_seconds,notnull"`
	Status          string         `bun:"status,notnull"`
	AvailableAtMs   int64          `bun:"available_at_ms,notnull"`
	ReservedUntilMs *int64         `bun:"reserved_until_ms"`
	LastError       string         `bun:"last_error,notnull"`
	CreatedAtMs     int64          `bun:"created_at_ms,notnull"`
	UpdatedAtMs     int64          `bun:"updated_at_ms,notnull"`
}

func (r jobRecord) toDomain() core.Job {
	job := core.Job{
		ID:             r.ID,
		Name:           r.Name,
		Payload:        core.ClonePayload(r.Payload),
		Attempts:       r.Attempts,
		MaxAttempts:    r.MaxAttempts,
		BackoffSeconds: r.BackoffSeconds,
		Status:         core.JobStatus(r.Status),
		AvailableAt:    fromMillis(r.AvailableAtMs),
		LastError:      r.LastError,
		CreatedAt:      fromMillis(r.CreatedAtMs),
		UpdatedAt:      fromMillis(r.UpdatedAtMs),
	}
	if r.ReservedUntilMs != nil {
		until := fromMillis(*r.ReservedUntilMs)
		job.ReservedUntil = &until
	}
	return job
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
