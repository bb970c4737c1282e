package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-outbound/core"
)

type SubscriptionRegistry struct {
	mu            sync.RWMutex
	subscriptions []core.WebhookSubscription
	Now           func() time.Time
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Add upserts on (topic, url). An existing subscription keeps its id and gets
// the new secret.
func (r *SubscriptionRegistry) Add(_ context.Context, topic, url, secret string) (core.WebhookSubscription, error) {
	if r == nil {
		return core.WebhookSubscription{}, fmt.Errorf("memstore: subscription registry is nil")
	}
	sub := core.WebhookSubscription{
		Topic:  strings.TrimSpace(topic),
		URL:    strings.TrimSpace(url),
		Secret: secret,
	}
	if err := sub.Validate(); err != nil {
		return core.WebhookSubscription{}, err
	}
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subscriptions {
		existing := &r.subscriptions[i]
		if existing.Topic == sub.Topic && existing.URL == sub.URL {
			existing.Secret = sub.Secret
			existing.UpdatedAt = now
			return *existing, nil
		}
	}
	sub.ID = uuid.NewString()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	r.subscriptions = append(r.subscriptions, sub)
	return sub, nil
}

func (r *SubscriptionRegistry) GetForTopic(_ context.Context, topic string) ([]core.WebhookSubscription, error) {
	if r == nil {
		return nil, fmt.Errorf("memstore: subscription registry is nil")
	}
	topic = strings.TrimSpace(topic)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.WebhookSubscription, 0)
	for _, sub := range r.subscriptions {
		if sub.Topic == topic {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *SubscriptionRegistry) Remove(_ context.Context, topic, url string) (bool, error) {
	if r == nil {
		return false, fmt.Errorf("memstore: subscription registry is nil")
	}
	topic = strings.TrimSpace(topic)
	url = strings.TrimSpace(url)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subscriptions {
		if sub.Topic == topic && sub.URL == url {
			r.subscriptions = append(r.subscriptions[:i], r.subscriptions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *SubscriptionRegistry) List(_ context.Context) ([]core.WebhookSubscription, error) {
	if r == nil {
		return nil, fmt.Errorf("memstore: subscription registry is nil")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.WebhookSubscription(nil), r.subscriptions...), nil
}

var _ core.SubscriptionRegistry = (*SubscriptionRegistry)(nil)
