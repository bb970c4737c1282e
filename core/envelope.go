package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	envelopeKeyEvent        = "event"
	envelopeKeySubscription = "subscription"

	jobKeyOutboxID = "outbox_id"
	jobKeyTopic    = "topic"
	jobKeyPayload  = "payload"
)

type EventBlock struct {
	Topic     string
	Payload   any
	Version   int
	CreatedAt time.Time
}

type SubscriptionSnapshot struct {
	ID     string
	URL    string
	Secret string
}

// DeliveryEnvelope is the outbox payload written per subscription at publish
// time. Subscription is nil when the message uses the legacy flat form.
type DeliveryEnvelope struct {
	Event        EventBlock
	Subscription *SubscriptionSnapshot
}

func (e DeliveryEnvelope) Legacy() bool {
	return e.Subscription == nil
}

func (e DeliveryEnvelope) ToMap() map[string]any {
	event := map[string]any{
		"topic":      e.Event.Topic,
		"payload":    e.Event.Payload,
		"version":    e.Event.Version,
		"created_at": e.Event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.Subscription == nil {
		return map[string]any{
			"topic":   e.Event.Topic,
			"payload": e.Event.Payload,
		}
	}
	return map[string]any{
		envelopeKeyEvent: event,
		envelopeKeySubscription: map[string]any{
			"id":     e.Subscription.ID,
			"url":    e.Subscription.URL,
			"secret": e.Subscription.Secret,
		},
	}
}

// DecodeEnvelope reads both the {event, subscription} form and the legacy flat
// {topic, payload} form.
func DecodeEnvelope(payload map[string]any) (DeliveryEnvelope, error) {
	if payload == nil {
		return DeliveryEnvelope{}, fmt.Errorf("%w: payload is empty", ErrInvalidEnvelope)
	}
	rawEvent, hasEvent := payload[envelopeKeyEvent].(map[string]any)
	if !hasEvent {
		topic, _ := payload["topic"].(string)
		if strings.TrimSpace(topic) == "" {
			return DeliveryEnvelope{}, fmt.Errorf("%w: missing event block and topic", ErrInvalidEnvelope)
		}
		return DeliveryEnvelope{
			Event: EventBlock{Topic: topic, Payload: payload["payload"], Version: 1},
		}, nil
	}

	event := EventBlock{Payload: rawEvent["payload"], Version: 1}
	event.Topic, _ = rawEvent["topic"].(string)
	if strings.TrimSpace(event.Topic) == "" {
		return DeliveryEnvelope{}, fmt.Errorf("%w: event topic is required", ErrInvalidEnvelope)
	}
	if version, ok := ToInt64(rawEvent["version"]); ok && version > 0 {
		event.Version = int(version)
	}
	switch created := rawEvent["created_at"].(type) {
	case time.Time:
		event.CreatedAt = created.UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
			event.CreatedAt = parsed.UTC()
		}
	}

	envelope := DeliveryEnvelope{Event: event}
	rawSub, ok := payload[envelopeKeySubscription].(map[string]any)
	if !ok {
		return envelope, nil
	}
	snapshot := &SubscriptionSnapshot{}
	snapshot.ID, _ = rawSub["id"].(string)
	snapshot.URL, _ = rawSub["url"].(string)
	snapshot.Secret, _ = rawSub["secret"].(string)
	if strings.TrimSpace(snapshot.URL) == "" {
		return DeliveryEnvelope{}, fmt.Errorf("%w: subscription url is required", ErrInvalidEnvelope)
	}
	envelope.Subscription = snapshot
	return envelope, nil
}

// BridgedJobPayload is the job payload the bridge enqueues for an outbox message.
func BridgedJobPayload(msg OutboxMessage) map[string]any {
	return map[string]any{
		jobKeyOutboxID: msg.ID,
		jobKeyTopic:    msg.Topic,
		jobKeyPayload:  ClonePayload(msg.Payload),
	}
}

type BridgedJob struct {
	OutboxID int64
	Topic    string
	Payload  map[string]any
}

func ParseBridgedJob(payload map[string]any) (BridgedJob, error) {
	id, ok := ToInt64(payload[jobKeyOutboxID])
	if !ok || id <= 0 {
		return BridgedJob{}, fmt.Errorf("core: job payload missing outbox_id")
	}
	out := BridgedJob{OutboxID: id}
	out.Topic, _ = payload[jobKeyTopic].(string)
	out.Payload, _ = payload[jobKeyPayload].(map[string]any)
	return out, nil
}

// ToInt64 accepts the numeric shapes a payload takes after a JSON round trip.
func ToInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case uint32:
		return int64(typed), true
	case float64:
		if typed != math.Trunc(typed) {
			return 0, false
		}
		return int64(typed), true
	case json.Number:
		parsed, err := typed.Int64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
