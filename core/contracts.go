package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type OutboxStore interface {
	Enqueue(ctx context.Context, topic string, payload map[string]any) (OutboxMessage, error)
	// FetchNext returns the oldest unprocessed message without mutating state.
	FetchNext(ctx context.Context) (OutboxMessage, bool, error)
	Pending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Get(ctx context.Context, id int64) (OutboxMessage, error)
	MarkProcessed(ctx context.Context, id int64) error
}

// OutboxClaimer is implemented by outbox stores shared between processes.
// ClaimPending hides the returned messages from other claimers for lease, so
// concurrent bridges do not promote the same message. Messages still
// unprocessed when the lease ends can be claimed again.
type OutboxClaimer interface {
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]OutboxMessage, error)
}

type InboxStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	// Record inserts key if absent and reports whether it was inserted.
	Record(ctx context.Context, key string) (bool, error)
}

type SubscriptionRegistry interface {
	Add(ctx context.Context, topic, url, secret string) (WebhookSubscription, error)
	GetForTopic(ctx context.Context, topic string) ([]WebhookSubscription, error)
	Remove(ctx context.Context, topic, url string) (bool, error)
	List(ctx context.Context) ([]WebhookSubscription, error)
}

type EnqueueOptions struct {
	BackoffSeconds *int
	MaxAttempts    int
	Delay          time.Duration
}

type EnqueueOption func(*EnqueueOptions)

func WithBackoffSeconds(seconds int) EnqueueOption {
	return func(o *EnqueueOptions) {
		if seconds < 0 {
			seconds = 0
		}
		o.BackoffSeconds = &seconds
	}
}

func WithMaxAttempts(attempts int) EnqueueOption {
	return func(o *EnqueueOptions) {
		o.MaxAttempts = attempts
	}
}

func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) {
		if delay > 0 {
			o.Delay = delay
		}
	}
}

func ResolveEnqueueOptions(opts ...EnqueueOption) EnqueueOptions {
	resolved := EnqueueOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&resolved)
	}
	return resolved
}

type FailOptions struct {
	BackoffSeconds *int
	DeadLetter     bool
	Attempt        int
}

type FailOption func(*FailOptions)

// RetryAfter replaces the job's backoff_seconds before it is made ready again.
func RetryAfter(seconds int) FailOption {
	return func(o *FailOptions) {
		if seconds < 0 {
			seconds = 0
		}
		o.BackoffSeconds = &seconds
	}
}

// DeadLetterNow moves the job to the dead-letter list regardless of the
// attempts it has left.
func DeadLetterNow() FailOption {
	return func(o *FailOptions) {
		o.DeadLetter = true
	}
}

// ForAttempt ties the failure to the reservation that produced attempt. The
// queue ignores it once the job has been reserved again.
func ForAttempt(attempt int) FailOption {
	return func(o *FailOptions) {
		o.Attempt = attempt
	}
}

func ResolveFailOptions(opts ...FailOption) FailOptions {
	resolved := FailOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&resolved)
	}
	return resolved
}

type AckOptions struct {
	Attempt int
}

type AckOption func(*AckOptions)

// AckForAttempt is the ack counterpart of ForAttempt.
func AckForAttempt(attempt int) AckOption {
	return func(o *AckOptions) {
		o.Attempt = attempt
	}
}

func ResolveAckOptions(opts ...AckOption) AckOptions {
	resolved := AckOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&resolved)
	}
	return resolved
}

// LeaseMatches reports whether a token taken at reservation time still refers
// to the current attempt. Zero means no token.
func LeaseMatches(token, attempts int) bool {
	return token <= 0 || token == attempts
}

// Queue is a leased job queue. Ack and Fail accept a lease token
// (AckForAttempt, ForAttempt) so a worker whose lease expired cannot touch
// a job another worker has since reserved.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload map[string]any, opts ...EnqueueOption) (Job, error)
	ReserveNext(ctx context.Context) (Job, bool, error)
	Ack(ctx context.Context, id int64, opts ...AckOption) error
	Fail(ctx context.Context, id int64, cause error, opts ...FailOption) error
}

type QueueInspector interface {
	Get(ctx context.Context, id int64) (Job, error)
	DeadLetters(ctx context.Context) ([]Job, error)
}

type QueueDefaults struct {
	VisibilityTimeout time.Duration
	MaxAttempts       int
	BackoffSeconds    int
}

func DefaultQueueDefaults() QueueDefaults {
	return QueueDefaults{
		VisibilityTimeout: 30 * time.Second,
		MaxAttempts:       5,
		BackoffSeconds:    10,
	}
}

func (d QueueDefaults) Normalize() QueueDefaults {
	fallback := DefaultQueueDefaults()
	if d.VisibilityTimeout <= 0 {
		d.VisibilityTimeout = fallback.VisibilityTimeout
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = fallback.MaxAttempts
	}
	if d.BackoffSeconds < 0 {
		d.BackoffSeconds = 0
	}
	return d
}

type JobHandler interface {
	Handle(ctx context.Context, job Job) error
}

type JobHandlerFunc func(ctx context.Context, job Job) error

func (fn JobHandlerFunc) Handle(ctx context.Context, job Job) error {
	return fn(ctx, job)
}

type SecretCipher interface {
	EncryptSecret(plaintext string) (string, error)
	DecryptSecret(value string) (string, error)
	IsEncrypted(value string) bool
}

type DeliveryRequest struct {
	URL     string
	Body    []byte
	Headers map[string]string
}

type DeliveryResponse struct {
	StatusCode int
	Body       []byte
	// Headers holds the first value of each response header.
	Headers map[string]string
}

func (r DeliveryResponse) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Sender interface {
	Send(ctx context.Context, req DeliveryRequest) (DeliveryResponse, error)
}

// RetryDelayer is implemented by handler errors that know when the job
// should run again. The worker prefers it over its backoff policy.
type RetryDelayer interface {
	RetryDelay() time.Duration
}

type TopicResolver func(ctx context.Context, topic string) (string, error)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Job       Job
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
