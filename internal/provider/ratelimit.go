package provider

import (
	"context"
	"sync"
	"time"

	"guestmail/internal/domain"
)

// RateLimiter is a token bucket for throttling generation calls.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
	now      func() time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 1
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
		now:      time.Now,
	}
}

// reserve takes a token if one is available; otherwise it returns how long
// until the next one accrues.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = min(rl.max, rl.tokens+now.Sub(rl.lastTime).Seconds()*rl.rate)
	rl.lastTime = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return 0
	}
	return time.Duration((1.0 - rl.tokens) / rl.rate * float64(time.Second))
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := rl.reserve()
		if wait == 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimitedProvider throttles Chat calls on the wrapped provider.
type RateLimitedProvider struct {
	domain.Provider
	limiter *RateLimiter
}

func NewRateLimitedProvider(p domain.Provider, limiter *RateLimiter) *RateLimitedProvider {
	return &RateLimitedProvider{Provider: p, limiter: limiter}
}

func (r *RateLimitedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Provider.Chat(ctx, req)
}
