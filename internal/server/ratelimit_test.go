package server

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterDisabledByDefault(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	if !rl.AllowRequest() {
		t.Fatal("global limiter should be disabled with zero RPS")
	}
	allowed, _, err := rl.AllowUpload(context.Background(), "203.0.113.9")
	if err != nil || !allowed {
		t.Fatalf("upload limiter should be disabled, got allowed=%v err=%v", allowed, err)
	}
}

func TestGlobalTokenBucketExhausts(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{GlobalRPS: 1, GlobalBurst: 2})
	if !rl.AllowRequest() || !rl.AllowRequest() {
		t.Fatal("burst capacity should admit the first two requests")
	}
	if rl.AllowRequest() {
		t.Fatal("third immediate request should be rejected")
	}
}

func TestUploadLimiterPerIP(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{UploadLimit: 2, UploadWindow: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := rl.AllowUpload(ctx, "203.0.113.9")
		if err != nil || !allowed {
			t.Fatalf("upload %d should be allowed, got allowed=%v err=%v", i, allowed, err)
		}
	}
	allowed, retryAfter, err := rl.AllowUpload(ctx, "203.0.113.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("third upload in the window should be rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Hour {
		t.Fatalf("unexpected retry-after %s", retryAfter)
	}

	allowed, _, err = rl.AllowUpload(ctx, "198.51.100.7")
	if err != nil || !allowed {
		t.Fatal("a different client should have its own budget")
	}
}

func TestUploadLimiterWindowReset(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{UploadLimit: 1, UploadWindow: time.Minute})
	now := time.Now()
	rl.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	if allowed, _, _ := rl.AllowUpload(ctx, "203.0.113.9"); !allowed {
		t.Fatal("first upload should be allowed")
	}
	if allowed, _, _ := rl.AllowUpload(ctx, "203.0.113.9"); allowed {
		t.Fatal("second upload in the same window should be rejected")
	}

	now = now.Add(time.Minute + time.Second)
	if allowed, _, _ := rl.AllowUpload(ctx, "203.0.113.9"); !allowed {
		t.Fatal("upload after the window elapses should be allowed")
	}
}

type fakeTokenStore struct {
	calls int
	allow bool
}

func (f *fakeTokenStore) Allow(context.Context, string, int, time.Duration) (bool, time.Duration, error) {
	f.calls++
	return f.allow, 0, nil
}

func TestUploadLimiterPrefersSharedStore(t *testing.T) {
	store := &fakeTokenStore{allow: false}
	rl := newRateLimiter(RateLimitConfig{UploadLimit: 5, UploadWindow: time.Minute, UploadStore: store})

	allowed, _, err := rl.AllowUpload(context.Background(), "203.0.113.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("shared store verdict should win")
	}
	if store.calls != 1 {
		t.Fatalf("expected one store call, got %d", store.calls)
	}
}
