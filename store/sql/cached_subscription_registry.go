package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-outbound/core"
)

const subscriptionCacheKeyPrefix = "go-outbound::subscriptions::v1"

// CachedSubscriptionRegistry serves GetForTopic through a read-through cache
// and invalidates the topic entry on every write made through it. Writes made
// by other processes become visible once the cache TTL elapses.
type CachedSubscriptionRegistry struct {
	base  core.SubscriptionRegistry
	cache repositorycache.CacheService
}

func NewCachedSubscriptionRegistry(
	base core.SubscriptionRegistry,
	cacheService repositorycache.CacheService,
) (*CachedSubscriptionRegistry, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base subscription registry is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: subscription cache service is required")
	}
	return &CachedSubscriptionRegistry{base: base, cache: cacheService}, nil
}

// SubscriptionCacheKey returns go-outbound::subscriptions::v1::<topic> with the
// topic URL-path escaped.
func SubscriptionCacheKey(topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", fmt.Errorf("sqlstore: subscription topic is required")
	}
	return subscriptionCacheKeyPrefix + "::" + url.PathEscape(topic), nil
}

func (r *CachedSubscriptionRegistry) Add(ctx context.Context, topic, endpoint, secret string) (core.WebhookSubscription, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: cached subscription registry is not configured")
	}
	sub, err := r.base.Add(ctx, topic, endpoint, secret)
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	if err := r.invalidate(ctx, sub.Topic); err != nil {
		return core.WebhookSubscription{}, err
	}
	return sub, nil
}

func (r *CachedSubscriptionRegistry) GetForTopic(ctx context.Context, topic string) ([]core.WebhookSubscription, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached subscription registry is not configured")
	}
	cacheKey, err := SubscriptionCacheKey(topic)
	if err != nil {
		return nil, err
	}
	subs, err := repositorycache.GetOrFetch(ctx, r.cache, cacheKey, func(ctx context.Context) ([]core.WebhookSubscription, error) {
		fetched, fetchErr := r.base.GetForTopic(ctx, strings.TrimSpace(topic))
		if fetchErr != nil {
			return nil, fetchErr
		}
		return append([]core.WebhookSubscription(nil), fetched...), nil
	})
	if err != nil {
		return nil, err
	}
	return append([]core.WebhookSubscription(nil), subs...), nil
}

func (r *CachedSubscriptionRegistry) Remove(ctx context.Context, topic, endpoint string) (bool, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return false, fmt.Errorf("sqlstore: cached subscription registry is not configured")
	}
	removed, err := r.base.Remove(ctx, topic, endpoint)
	if err != nil {
		return false, err
	}
	if err := r.invalidate(ctx, topic); err != nil {
		return false, err
	}
	return removed, nil
}

func (r *CachedSubscriptionRegistry) List(ctx context.Context) ([]core.WebhookSubscription, error) {
	if r == nil || r.base == nil {
		return nil, fmt.Errorf("sqlstore: cached subscription registry is not configured")
	}
	return r.base.List(ctx)
}

func (r *CachedSubscriptionRegistry) invalidate(ctx context.Context, topic string) error {
	cacheKey, err := SubscriptionCacheKey(topic)
	if err != nil {
		return err
	}
	return r.cache.Delete(ctx, cacheKey)
}

var _ core.SubscriptionRegistry = (*CachedSubscriptionRegistry)(nil)
