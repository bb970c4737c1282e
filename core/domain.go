package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrOutboxMessageNotFound = errors.New("core: outbox message not found")
	ErrSubscriptionNotFound  = errors.New("core: subscription not found")
	ErrJobNotFound           = errors.New("core: job not found")
	ErrHandlerNotFound       = errors.New("core: job handler not found")
	ErrInvalidEnvelope       = errors.New("core: invalid delivery envelope")
)

// OutboxJobPrefix is prepended to the topic to name bridged jobs.
const OutboxJobPrefix = "outbox."

func OutboxJobName(topic string) string {
	return OutboxJobPrefix + strings.TrimSpace(topic)
}

type OutboxMessage struct {
	ID          int64
	Topic       string
	Payload     map[string]any
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func (m OutboxMessage) Processed() bool {
	return m.ProcessedAt != nil
}

type WebhookSubscription struct {
	ID        string
	Topic     string
	URL       string
	Secret    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s WebhookSubscription) Validate() error {
	if strings.TrimSpace(s.Topic) == "" {
		return fmt.Errorf("core: subscription topic is required")
	}
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("core: subscription url is required")
	}
	return nil
}

type InboxRecord struct {
	Key    string
	SeenAt time.Time
}

type JobStatus string

const (
	JobStatusReady    JobStatus = "ready"
	JobStatusReserved JobStatus = "reserved"
	JobStatusDone     JobStatus = "done"
	JobStatusDead     JobStatus = "dead"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusDead
}

type Job struct {
	ID             int64
	Name           string
	Payload        map[string]any
	Attempts       int
	MaxAttempts    int
	BackoffSeconds int
	Status         JobStatus
	AvailableAt    time.Time
	ReservedUntil  *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Exhausted reports whether another failure moves the job to the dead-letter list.
func (j Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// ClonePayload deep-copies nested maps and slices so stored records cannot be
// mutated through values handed to callers.
func ClonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return ClonePayload(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return value
	}
}

func (j Job) Clone() Job {
	out := j
	out.Payload = ClonePayload(j.Payload)
	if j.ReservedUntil != nil {
		until := *j.ReservedUntil
		out.ReservedUntil = &until
	}
	return out
}

func (m OutboxMessage) Clone() OutboxMessage {
	out := m
	out.Payload = ClonePayload(m.Payload)
	if m.ProcessedAt != nil {
		at := *m.ProcessedAt
		out.ProcessedAt = &at
	}
	return out
}
