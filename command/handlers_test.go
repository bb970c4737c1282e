package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-outbound/bridge"
	"github.com/goliatone/go-outbound/core"
	memstore "github.com/goliatone/go-outbound/store/memory"
)

type stubPublisher struct {
	topic   string
	version int
	id      int64
	err     error
}

func (s *stubPublisher) Publish(_ context.Context, topic string, _ any, version int) (int64, error) {
	s.topic = topic
	s.version = version
	return s.id, s.err
}

type stubBridge struct {
	ticks  int
	drains int
}

func (s *stubBridge) Tick(context.Context) (bridge.TickStats, error) {
	s.ticks++
	return bridge.TickStats{Enqueued: 2, Marked: 2}, nil
}

func (s *stubBridge) Drain(context.Context) (bridge.TickStats, error) {
	s.drains++
	return bridge.TickStats{Enqueued: 5, Marked: 5}, nil
}

type stubDrainer struct {
	limit int
}

func (s *stubDrainer) Drain(_ context.Context, limit int) (int, error) {
	s.limit = limit
	return 3, nil
}

func TestPublishCommand_StoresLastOutboxID(t *testing.T) {
	publisher := &stubPublisher{id: 17}
	collector := gocmd.NewResult[PublishResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := NewPublishCommand(publisher).Execute(ctx, PublishMessage{Topic: "order.created", Payload: map[string]any{"id": "o1"}, Version: 2}); err != nil {
		t.Fatalf("execute publish: %v", err)
	}
	if publisher.topic != "order.created" || publisher.version != 2 {
		t.Fatalf("unexpected publish call %+v", publisher)
	}
	result, ok := collector.Load()
	if !ok || result.LastOutboxID != 17 {
		t.Fatalf("expected stored outbox id 17, got %+v", result)
	}
}

func TestPublishCommand_ReturnsServiceError(t *testing.T) {
	boom := errors.New("outbox down")
	err := NewPublishCommand(&stubPublisher{err: boom}).Execute(context.Background(), PublishMessage{Topic: "t"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected service error, got %v", err)
	}
}

func TestSubscriptionCommands_AddAndRemove(t *testing.T) {
	registry := memstore.NewSubscriptionRegistry()

	subCollector := gocmd.NewResult[core.WebhookSubscription]()
	ctx := gocmd.ContextWithResult(context.Background(), subCollector)
	if err := NewAddSubscriptionCommand(registry).Execute(ctx, AddSubscriptionMessage{
		Topic:  "order.created",
		URL:    "https://hooks.test/a",
		Secret: "s1",
	}); err != nil {
		t.Fatalf("execute add: %v", err)
	}
	sub, ok := subCollector.Load()
	if !ok || sub.ID == "" || sub.Secret != "s1" {
		t.Fatalf("expected stored subscription, got %+v", sub)
	}

	removeCollector := gocmd.NewResult[RemoveSubscriptionResult]()
	ctx = gocmd.ContextWithResult(context.Background(), removeCollector)
	if err := NewRemoveSubscriptionCommand(registry).Execute(ctx, RemoveSubscriptionMessage{
		Topic: "order.created",
		URL:   "https://hooks.test/a",
	}); err != nil {
		t.Fatalf("execute remove: %v", err)
	}
	removed, _ := removeCollector.Load()
	if !removed.Removed {
		t.Fatalf("expected subscription to be removed")
	}
}

func TestBridgeTickCommand_TickOrDrain(t *testing.T) {
	stub := &stubBridge{}
	cmd := NewBridgeTickCommand(stub)
	collector := gocmd.NewResult[bridge.TickStats]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, BridgeTickMessage{}); err != nil {
		t.Fatalf("execute tick: %v", err)
	}
	if err := cmd.Execute(ctx, BridgeTickMessage{Drain: true}); err != nil {
		t.Fatalf("execute drain: %v", err)
	}
	if stub.ticks != 1 || stub.drains != 1 {
		t.Fatalf("expected one tick and one drain, got %+v", stub)
	}
	stats, _ := collector.Load()
	if stats.Enqueued != 5 {
		t.Fatalf("expected latest stats from drain, got %+v", stats)
	}
}

func TestDrainWorkerCommand_PassesLimit(t *testing.T) {
	stub := &stubDrainer{}
	collector := gocmd.NewResult[DrainWorkerResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := NewDrainWorkerCommand(stub).Execute(ctx, DrainWorkerMessage{Limit: 10}); err != nil {
		t.Fatalf("execute drain: %v", err)
	}
	if stub.limit != 10 {
		t.Fatalf("expected limit 10, got %d", stub.limit)
	}
	result, _ := collector.Load()
	if result.Processed != 3 {
		t.Fatalf("expected 3 processed, got %d", result.Processed)
	}
}

func TestCommands_MissingDependencies(t *testing.T) {
	var publish *PublishCommand
	if err := publish.Execute(context.Background(), PublishMessage{Topic: "t"}); !core.IsErrorCode(err, core.ErrorInternal) {
		t.Fatalf("expected internal dependency error, got %v", err)
	}
	if err := NewDrainWorkerCommand(nil).Execute(context.Background(), DrainWorkerMessage{}); err == nil {
		t.Fatalf("expected missing worker to fail")
	}
}

func TestMessages_Validate(t *testing.T) {
	cases := []struct {
		name  string
		msg   interface{ Validate() error }
		valid bool
	}{
		{name: "publish ok", msg: PublishMessage{Topic: "order.created"}, valid: true},
		{name: "publish empty topic", msg: PublishMessage{Topic: "  "}},
		{name: "publish negative version", msg: PublishMessage{Topic: "t", Version: -1}},
		{name: "add ok", msg: AddSubscriptionMessage{Topic: "t", URL: "https://hooks.test", Secret: "s"}, valid: true},
		{name: "add relative url", msg: AddSubscriptionMessage{Topic: "t", URL: "/hook", Secret: "s"}},
		{name: "add ftp url", msg: AddSubscriptionMessage{Topic: "t", URL: "ftp://hooks.test", Secret: "s"}},
		{name: "add missing secret", msg: AddSubscriptionMessage{Topic: "t", URL: "https://hooks.test"}},
		{name: "remove missing url", msg: RemoveSubscriptionMessage{Topic: "t"}},
		{name: "drain negative", msg: DrainWorkerMessage{Limit: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.valid && err != nil {
				t.Fatalf("expected valid message, got %v", err)
			}
			if !tc.valid {
				if err == nil {
					t.Fatalf("expected validation error")
				}
				if !core.IsErrorCode(err, core.ErrorBadInput) {
					t.Fatalf("expected bad input code, got %v", err)
				}
			}
		})
	}
}
