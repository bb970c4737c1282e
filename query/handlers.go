// Package query exposes read-only inspection of subscriptions, outbox
// messages and queue state as go-command queriers.
package query

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-outbound/core"
)

type SubscriptionLister interface {
	List(ctx context.Context) ([]core.WebhookSubscription, error)
	GetForTopic(ctx context.Context, topic string) ([]core.WebhookSubscription, error)
}

type OutboxReader interface {
	Get(ctx context.Context, id int64) (core.OutboxMessage, error)
}

type ListSubscriptionsQuery struct {
	reader SubscriptionLister
}

func NewListSubscriptionsQuery(reader SubscriptionLister) *ListSubscriptionsQuery {
	return &ListSubscriptionsQuery{reader: reader}
}

func (q *ListSubscriptionsQuery) Query(
	ctx context.Context,
	msg ListSubscriptionsMessage,
) ([]core.WebhookSubscription, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: subscription registry is required")
	}
	if topic := strings.TrimSpace(msg.Topic); topic != "" {
		return q.reader.GetForTopic(ctx, topic)
	}
	return q.reader.List(ctx)
}

type GetOutboxMessageQuery struct {
	reader OutboxReader
}

func NewGetOutboxMessageQuery(reader OutboxReader) *GetOutboxMessageQuery {
	return &GetOutboxMessageQuery{reader: reader}
}

func (q *GetOutboxMessageQuery) Query(ctx context.Context, msg GetOutboxMessageMessage) (core.OutboxMessage, error) {
	if q == nil || q.reader == nil {
		return core.OutboxMessage{}, queryDependencyError("query: outbox store is required")
	}
	if err := msg.Validate(); err != nil {
		return core.OutboxMessage{}, err
	}
	return q.reader.Get(ctx, msg.ID)
}

type GetJobQuery struct {
	inspector core.QueueInspector
}

func NewGetJobQuery(inspector core.QueueInspector) *GetJobQuery {
	return &GetJobQuery{inspector: inspector}
}

func (q *GetJobQuery) Query(ctx context.Context, msg GetJobMessage) (core.Job, error) {
	if q == nil || q.inspector == nil {
		return core.Job{}, queryDependencyError("query: queue inspector is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Job{}, err
	}
	return q.inspector.Get(ctx, msg.ID)
}

type ListDeadLettersQuery struct {
	inspector core.QueueInspector
}

func NewListDeadLettersQuery(inspector core.QueueInspector) *ListDeadLettersQuery {
	return &ListDeadLettersQuery{inspector: inspector}
}

func (q *ListDeadLettersQuery) Query(ctx context.Context, msg ListDeadLettersMessage) ([]core.Job, error) {
	if q == nil || q.inspector == nil {
		return nil, queryDependencyError("query: queue inspector is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	dead, err := q.inspector.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Job, 0, len(dead))
	for _, job := range dead {
		if msg.NamePrefix != "" && !strings.HasPrefix(job.Name, msg.NamePrefix) {
			continue
		}
		out = append(out, job)
		if msg.Limit > 0 && len(out) == msg.Limit {
			break
		}
	}
	return out, nil
}

var (
	_ gocmd.Querier[ListSubscriptionsMessage, []core.WebhookSubscription] = (*ListSubscriptionsQuery)(nil)
	_ gocmd.Querier[GetOutboxMessageMessage, core.OutboxMessage]          = (*GetOutboxMessageQuery)(nil)
	_ gocmd.Querier[GetJobMessage, core.Job]                              = (*GetJobQuery)(nil)
	_ gocmd.Querier[ListDeadLettersMessage, []core.Job]                   = (*ListDeadLettersQuery)(nil)
)
