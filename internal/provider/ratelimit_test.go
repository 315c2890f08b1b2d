package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"guestmail/internal/config"
	"guestmail/internal/domain"
)

func fakeClock(rl *RateLimiter, start time.Time) *time.Time {
	now := start
	rl.now = func() time.Time { return now }
	rl.lastTime = start
	return &now
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl := NewRateLimiter(2, 30) // one token every 2s
	now := fakeClock(rl, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	if rl.reserve() != 0 || rl.reserve() != 0 {
		t.Fatal("burst of 2 should be available immediately")
	}
	if wait := rl.reserve(); wait != 2*time.Second {
		t.Fatalf("expected 2s wait after burst, got %v", wait)
	}

	*now = now.Add(time.Second)
	if wait := rl.reserve(); wait != time.Second {
		t.Fatalf("expected 1s wait half way through refill, got %v", wait)
	}

	*now = now.Add(time.Minute)
	if rl.reserve() != 0 || rl.reserve() != 0 {
		t.Fatal("bucket should refill up to the burst")
	}
	if rl.reserve() == 0 {
		t.Fatal("bucket must not exceed its burst")
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRateLimitedProvider_PassesThrough(t *testing.T) {
	inner := &mockProvider{name: "openai", healthy: true, chatResp: &domain.ChatResponse{Content: "hi"}}
	p := NewRateLimitedProvider(inner, NewRateLimiter(1, 60))

	if p.Name() != "openai" {
		t.Fatalf("unexpected name %q", p.Name())
	}
	if err := p.Healthy(context.Background()); err != nil {
		t.Fatal(err)
	}
	resp, err := p.Chat(context.Background(), domain.ChatRequest{})
	if err != nil || resp.Content != "hi" {
		t.Fatalf("unexpected chat result %v, %v", resp, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Chat(ctx, domain.ChatRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation while throttled, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("throttled call must not reach the provider, calls = %d", inner.calls)
	}
}

func TestFactory_GeneratorRateLimited(t *testing.T) {
	cfg := config.Defaults()
	cfg.Generation.RequestsPerMinute = 10
	cfg.Generation.RequestBurst = 3
	f := NewFactory(cfg, testLogger())

	p, err := f.Generator()
	if err != nil {
		t.Fatal(err)
	}
	rp, ok := p.(*RateLimitedProvider)
	if !ok {
		t.Fatalf("expected rate limited provider, got %T", p)
	}
	if rp.limiter.max != 3 || rp.Name() != "openai" {
		t.Fatalf("unexpected limiter: burst %v name %q", rp.limiter.max, rp.Name())
	}
}
