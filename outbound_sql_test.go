package outbound

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/queue/queuetest"
	sqlstore "github.com/goliatone/go-outbound/store/sql"
	"github.com/goliatone/go-outbound/transport"
)

func TestSQLBackend_DeliversAndDeadLetters(t *testing.T) {
	ctx := context.Background()
	client, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver: sqlstore.DriverSQLite,
		Server: fmt.Sprintf("file:outbound-facade-%d?mode=memory&cache=shared", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = client.Close() }()

	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}

	sender := &transport.RecordingSender{
		Respond: func(req core.DeliveryRequest) (core.DeliveryResponse, error) {
			if req.URL == "https://down.test/hook" {
				return core.DeliveryResponse{StatusCode: http.StatusBadGateway}, nil
			}
			return core.DeliveryResponse{StatusCode: http.StatusNoContent}, nil
		},
	}
	clock := queuetest.NewClock()
	runtime := Config{EncryptionKey: "sql-facade-key"}
	runtime.Queue.MaxAttempts = 2
	o, err := New(runtime,
		WithPersistenceClient(client),
		WithSubscriptionCache(cacheService),
		WithSender(sender),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("new outbound: %v", err)
	}
	if o.Backend() != BackendSQL {
		t.Fatalf("expected sql backend, got %q", o.Backend())
	}
	if _, ok := o.Registry().(*sqlstore.CachedSubscriptionRegistry); !ok {
		t.Fatalf("expected cached registry, got %T", o.Registry())
	}

	if _, err := o.Subscribe(ctx, "order.created", "https://up.test/hook", "s-up"); err != nil {
		t.Fatalf("subscribe up: %v", err)
	}
	if _, err := o.Subscribe(ctx, "order.created", "https://down.test/hook", "s-down"); err != nil {
		t.Fatalf("subscribe down: %v", err)
	}
	if _, err := o.Publish(ctx, "order.created", map[string]any{"id": "o1"}, 1); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if stats, err := o.Tick(ctx); err != nil || stats.Enqueued != 2 {
		t.Fatalf("expected 2 bridged jobs, got %+v (%v)", stats, err)
	}
	if n, err := o.Drain(ctx, 0); err != nil || n != 2 {
		t.Fatalf("first drain: n=%d err=%v", n, err)
	}

	clock.Advance(time.Duration(o.Config().Queue.BackoffSeconds) * time.Second)
	if n, err := o.Drain(ctx, 0); err != nil || n != 1 {
		t.Fatalf("second drain: n=%d err=%v", n, err)
	}

	dead, err := o.Queue().DeadLetters(ctx)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].Attempts != 2 {
		t.Fatalf("expected the failing delivery dead after 2 attempts, got %+v", dead)
	}
	if dead[0].LastError == "" {
		t.Fatalf("expected last error on dead job")
	}
	if sender.Count() != 3 {
		t.Fatalf("expected 3 posts, got %d", sender.Count())
	}
}
