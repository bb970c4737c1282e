package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/goliatone/go-outbound/core"
)

func newTestPolicy(now *time.Time) *ReceiverPolicy {
	policy := NewReceiverPolicy(NewMemoryStateStore())
	policy.Now = func() time.Time { return *now }
	return policy
}

func TestReceiverKey_UsesHost(t *testing.T) {
	if got := ReceiverKey("https://Hooks.Example.com:8443/a?b=1"); got != "hooks.example.com:8443" {
		t.Fatalf("unexpected receiver key %q", got)
	}
	if got := ReceiverKey(" not a url "); got != "not a url" {
		t.Fatalf("expected raw fallback, got %q", got)
	}
}

func TestReceiverPolicy_RetryAfterSecondsBlocksUntilElapsed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := newTestPolicy(&now)
	ctx := context.Background()
	target := "https://hooks.test/orders"

	err := policy.AfterSend(ctx, target, core.DeliveryResponse{
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"Retry-After": "7"},
	})
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected throttled error, got %v", err)
	}
	if throttled.RetryDelay() != 7*time.Second {
		t.Fatalf("expected 7s delay, got %s", throttled.RetryDelay())
	}

	now = now.Add(3 * time.Second)
	err = policy.BeforeSend(ctx, "https://hooks.test/other-path")
	if !errors.As(err, &throttled) {
		t.Fatalf("expected same host to stay throttled, got %v", err)
	}
	if throttled.RetryAfter != 4*time.Second {
		t.Fatalf("expected 4s remaining, got %s", throttled.RetryAfter)
	}
	if err := policy.BeforeSend(ctx, "https://elsewhere.test/"); err != nil {
		t.Fatalf("expected other receivers unaffected, got %v", err)
	}

	now = now.Add(4 * time.Second)
	if err := policy.BeforeSend(ctx, target); err != nil {
		t.Fatalf("expected window to be closed, got %v", err)
	}
}

func TestReceiverPolicy_RetryAfterHTTPDate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := newTestPolicy(&now)

	err := policy.AfterSend(context.Background(), "https://hooks.test", core.DeliveryResponse{
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"retry-after": now.Add(90 * time.Second).Format(http.TimeFormat)},
	})
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected throttled error, got %v", err)
	}
	if throttled.RetryAfter != 90*time.Second {
		t.Fatalf("expected 90s delay, got %s", throttled.RetryAfter)
	}
}

func TestReceiverPolicy_BackoffGrowsWithoutHint(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := newTestPolicy(&now)
	policy.InitialBackoff = 2 * time.Second
	policy.MaxBackoff = 5 * time.Second
	ctx := context.Background()

	want := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, expected := range want {
		err := policy.AfterSend(ctx, "https://hooks.test", core.DeliveryResponse{StatusCode: http.StatusTooManyRequests})
		var throttled ThrottledError
		if !errors.As(err, &throttled) {
			t.Fatalf("attempt %d: expected throttled error, got %v", i+1, err)
		}
		if throttled.RetryAfter != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, throttled.RetryAfter)
		}
	}

	if err := policy.AfterSend(ctx, "https://hooks.test", core.DeliveryResponse{StatusCode: http.StatusOK}); err != nil {
		t.Fatalf("after send ok: %v", err)
	}
	state, err := policy.Store.Get(ctx, "hooks.test")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 0 || state.ThrottledUntil != nil {
		t.Fatalf("expected success to reset throttle state, got %+v", state)
	}
}

func TestReceiverPolicy_ExhaustedQuotaDefersWithoutFailing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := newTestPolicy(&now)
	ctx := context.Background()
	reset := now.Add(30 * time.Second)

	err := policy.AfterSend(ctx, "https://hooks.test", core.DeliveryResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"X-RateLimit-Limit":     "100",
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
		},
	})
	if err != nil {
		t.Fatalf("expected delivered response to report no error, got %v", err)
	}
	if err := policy.BeforeSend(ctx, "https://hooks.test"); err == nil {
		t.Fatalf("expected next send to be deferred")
	}
}

func TestReceiverPolicy_ServerErrorsDoNotThrottle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := newTestPolicy(&now)
	ctx := context.Background()

	if err := policy.AfterSend(ctx, "https://hooks.test", core.DeliveryResponse{StatusCode: http.StatusServiceUnavailable}); err != nil {
		t.Fatalf("after send: %v", err)
	}
	if err := policy.BeforeSend(ctx, "https://hooks.test"); err != nil {
		t.Fatalf("expected 503 to leave receiver open, got %v", err)
	}
}

func TestReceiverPolicy_NilPolicyIsPermissive(t *testing.T) {
	var policy *ReceiverPolicy
	if err := policy.BeforeSend(context.Background(), "https://hooks.test"); err != nil {
		t.Fatalf("expected nil policy to allow sends, got %v", err)
	}
	if err := policy.AfterSend(context.Background(), "https://hooks.test", core.DeliveryResponse{StatusCode: 429}); err != nil {
		t.Fatalf("expected nil policy to ignore responses, got %v", err)
	}
}

func TestThrottledError_ToErrorCarriesRateLimitCode(t *testing.T) {
	mapped := ThrottledError{Receiver: "hooks.test", RetryAfter: 2 * time.Second}.ToError()
	if mapped.TextCode != core.ErrorRateLimited {
		t.Fatalf("expected rate limited code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", mapped.Code)
	}
	if mapped.Metadata["retry_after_ms"] != int64(2000) {
		t.Fatalf("unexpected metadata %+v", mapped.Metadata)
	}
}
