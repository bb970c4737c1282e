// Package publish fans an event out into one outbox message per subscription.
package publish

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-outbound/core"
)

const DefaultPayloadVersion = 1

type Service struct {
	Registry core.SubscriptionRegistry
	Outbox   core.OutboxStore
	Cipher   core.SecretCipher
	Logger   glog.Logger
	Now      func() time.Time
}

func NewService(registry core.SubscriptionRegistry, outbox core.OutboxStore, cipher core.SecretCipher) *Service {
	return &Service{
		Registry: registry,
		Outbox:   outbox,
		Cipher:   cipher,
		Logger:   glog.Nop(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Publish writes one envelope per subscription of topic and returns the id of
// the last outbox message written. It returns 0 and writes nothing when the
// topic has no subscribers. A version below 1 is treated as 1.
func (s *Service) Publish(ctx context.Context, topic string, payload any, version int) (int64, error) {
	if s == nil || s.Registry == nil || s.Outbox == nil {
		return 0, fmt.Errorf("publish: service requires registry and outbox")
	}
	if s.Cipher == nil {
		return 0, fmt.Errorf("publish: secret cipher is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return 0, core.NewError("publish: topic is required", goerrors.CategoryBadInput, core.ErrorBadInput)
	}
	if version < 1 {
		version = DefaultPayloadVersion
	}

	subscriptions, err := s.Registry.GetForTopic(ctx, topic)
	if err != nil {
		return 0, err
	}
	if len(subscriptions) == 0 {
		s.logger().Debug("publish skipped, topic has no subscribers", "topic", topic)
		return 0, nil
	}

	event := core.EventBlock{
		Topic:     topic,
		Payload:   payload,
		Version:   version,
		CreatedAt: s.now(),
	}

	var lastID int64
	for _, sub := range subscriptions {
		secret, err := s.Cipher.EncryptSecret(sub.Secret)
		if err != nil {
			return lastID, core.WrapError(err, goerrors.CategoryInternal, core.ErrorInternal,
				"publish: encrypt subscription secret")
		}
		envelope := core.DeliveryEnvelope{
			Event: event,
			Subscription: &core.SubscriptionSnapshot{
				ID:     sub.ID,
				URL:    sub.URL,
				Secret: secret,
			},
		}
		msg, err := s.Outbox.Enqueue(ctx, topic, envelope.ToMap())
		if err != nil {
			return lastID, err
		}
		lastID = msg.ID
	}

	s.logger().Info("event published",
		"topic", topic,
		"version", version,
		"subscribers", len(subscriptions),
		"last_outbox_id", lastID,
	)
	return lastID, nil
}

func (s *Service) logger() glog.Logger {
	if s == nil {
		return glog.Nop()
	}
	return glog.Ensure(s.Logger)
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
