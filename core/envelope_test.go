package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDeliveryEnvelope_SurvivesJSONRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	envelope := DeliveryEnvelope{
		Event: EventBlock{
			Topic:     "order.created",
			Payload:   map[string]any{"id": "o1"},
			Version:   2,
			CreatedAt: created,
		},
		Subscription: &SubscriptionSnapshot{ID: "sub-1", URL: "https://hooks.test/a", Secret: "enc:v1:abc"},
	}

	raw, err := json.Marshal(envelope.ToMap())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decodedMap map[string]any
	if err := json.Unmarshal(raw, &decodedMap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	decoded, err := DecodeEnvelope(decodedMap)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Legacy() {
		t.Fatalf("expected subscription snapshot")
	}
	if decoded.Event.Version != 2 {
		t.Fatalf("expected version 2, got %d", decoded.Event.Version)
	}
	if !decoded.Event.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at %s, got %s", created, decoded.Event.CreatedAt)
	}
	if decoded.Subscription.Secret != "enc:v1:abc" {
		t.Fatalf("unexpected secret %q", decoded.Subscription.Secret)
	}
}

func TestDecodeEnvelope_LegacyFlatForm(t *testing.T) {
	decoded, err := DecodeEnvelope(map[string]any{
		"topic":   "user.deleted",
		"payload": map[string]any{"id": "u1"},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Legacy() {
		t.Fatalf("expected legacy envelope")
	}
	if decoded.Event.Topic != "user.deleted" || decoded.Event.Version != 1 {
		t.Fatalf("unexpected event block %+v", decoded.Event)
	}
}

func TestDecodeEnvelope_RejectsMissingTopic(t *testing.T) {
	if _, err := DecodeEnvelope(map[string]any{"payload": 1}); err == nil {
		t.Fatalf("expected invalid envelope error")
	}
	if _, err := DecodeEnvelope(nil); err == nil {
		t.Fatalf("expected invalid envelope error for nil payload")
	}
}

func TestParseBridgedJob_AcceptsJSONNumbers(t *testing.T) {
	parsed, err := ParseBridgedJob(map[string]any{
		"outbox_id": float64(42),
		"topic":     "order.created",
		"payload":   map[string]any{"event": map[string]any{}},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.OutboxID != 42 {
		t.Fatalf("expected outbox id 42, got %d", parsed.OutboxID)
	}

	if _, err := ParseBridgedJob(map[string]any{"outbox_id": 1.5}); err == nil {
		t.Fatalf("expected fractional outbox id to be rejected")
	}
}

func TestClonePayload_IsDeep(t *testing.T) {
	original := map[string]any{
		"nested": map[string]any{"k": "v"},
		"list":   []any{map[string]any{"x": 1}},
	}
	cloned := ClonePayload(original)
	cloned["nested"].(map[string]any)["k"] = "changed"
	cloned["list"].([]any)[0].(map[string]any)["x"] = 2

	if original["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("expected nested map to be isolated")
	}
	if original["list"].([]any)[0].(map[string]any)["x"] != 1 {
		t.Fatalf("expected list elements to be isolated")
	}
}
