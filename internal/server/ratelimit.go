package server

import (
	"context"
	"sync"
	"time"
)

type RateLimitConfig struct {
	// GlobalRPS caps the sustained request rate across all clients. Zero
	// disables the global limiter.
	GlobalRPS   float64
	GlobalBurst int

	// UploadLimit caps upload requests per client IP within UploadWindow.
	// Zero disables per-IP upload throttling.
	UploadLimit  int
	UploadWindow time.Duration

	// UploadStore optionally backs the per-IP counters with a shared store
	// so limits hold across replicas. Nil falls back to in-process counters.
	UploadStore TokenStore
}

// TokenStore counts requests per key within a rolling window and reports
// whether the caller is still under the limit.
type TokenStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

type rateLimiter struct {
	global *tokenBucket

	uploadLimit  int
	uploadWindow time.Duration
	uploadStore  TokenStore

	mu      sync.Mutex
	perIP   map[string]*windowCounter
	lastGC  time.Time
	nowFunc func() time.Time
}

type windowCounter struct {
	count       int
	windowStart time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		uploadLimit:  cfg.UploadLimit,
		uploadWindow: cfg.UploadWindow,
		uploadStore:  cfg.UploadStore,
		perIP:        make(map[string]*windowCounter),
		nowFunc:      time.Now,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst <= 0 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.uploadWindow <= 0 {
		rl.uploadWindow = time.Minute
	}
	return rl
}

func (rl *rateLimiter) AllowRequest() bool {
	if rl == nil || rl.global == nil {
		return true
	}
	return rl.global.Allow()
}

// AllowUpload reports whether the client identified by ip may upload now, and
// when denied, how long until the window resets.
func (rl *rateLimiter) AllowUpload(ctx context.Context, ip string) (bool, time.Duration, error) {
	if rl == nil || rl.uploadLimit <= 0 || ip == "" {
		return true, 0, nil
	}
	if rl.uploadStore != nil {
		return rl.uploadStore.Allow(ctx, "uploads:"+ip, rl.uploadLimit, rl.uploadWindow)
	}
	return rl.allowUploadLocal(ip)
}

func (rl *rateLimiter) allowUploadLocal(ip string) (bool, time.Duration, error) {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.gcLocked(now)

	counter := rl.perIP[ip]
	if counter == nil || now.Sub(counter.windowStart) >= rl.uploadWindow {
		rl.perIP[ip] = &windowCounter{count: 1, windowStart: now}
		return true, 0, nil
	}
	if counter.count >= rl.uploadLimit {
		retry := rl.uploadWindow - now.Sub(counter.windowStart)
		return false, retry, nil
	}
	counter.count++
	return true, 0, nil
}

func (rl *rateLimiter) gcLocked(now time.Time) {
	if now.Sub(rl.lastGC) < rl.uploadWindow {
		return
	}
	rl.lastGC = now
	for ip, counter := range rl.perIP {
		if now.Sub(counter.windowStart) >= rl.uploadWindow {
			delete(rl.perIP, ip)
		}
	}
}

type tokenBucket struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

func (b *tokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
