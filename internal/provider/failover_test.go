package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"guestmail/internal/config"
	"guestmail/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name     string
	healthy  bool
	chatErr  error
	chatResp *domain.ChatResponse
	calls    int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailoverProvider_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-primary"}}
	p2 := &mockProvider{name: "secondary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", resp.Content)
	}
	if p2.calls != 0 {
		t.Fatalf("secondary should not be called, got %d calls", p2.calls)
	}
}

func TestFailoverProvider_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatErr: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", resp.Content)
	}
}

func TestFailoverProvider_FallsBackOnBlankCompletion(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatResp: &domain.ChatResponse{Content: "  \n"}}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "real answer"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "real answer" {
		t.Fatalf("expected fallback content, got %q", resp.Content)
	}
}

func TestFailoverProvider_AllProvidersFail(t *testing.T) {
	last := errors.New("fail 2")
	p1 := &mockProvider{name: "p1", chatErr: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", chatErr: last}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, last) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestFailoverProvider_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := &mockProvider{name: "p1", chatErr: context.Canceled}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "late"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if _, err := fp.Chat(ctx, domain.ChatRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p2.calls != 0 {
		t.Fatal("secondary should not be tried after cancellation")
	}
}

func TestFailoverProvider_Empty(t *testing.T) {
	fp := NewFailoverProvider(nil, testLogger())
	if _, err := fp.Chat(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

// --- Health check ---

func TestFailoverProvider_Healthy_AtLeastOneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick", healthy: false}
	p2 := &mockProvider{name: "well", healthy: true}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestFailoverProvider_Healthy_NoneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick1", healthy: false}
	p2 := &mockProvider{name: "sick2", healthy: false}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailoverProvider_Name(t *testing.T) {
	fp := NewFailoverProvider([]domain.Provider{&mockProvider{name: "openai"}, &mockProvider{name: "claude"}}, testLogger())
	if name := fp.Name(); name != "failover(openai→claude)" {
		t.Fatalf("expected 'failover(openai→claude)', got %q", name)
	}
}

// --- Factory ---

func TestFactory_GeneratorPrimaryOnly(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	p, err := f.Generator()
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected openai, got %q", p.Name())
	}
	again, _ := f.Get("openai")
	if again != p {
		t.Fatal("expected cached provider instance")
	}
}

func TestFactory_GeneratorWithFailoverChain(t *testing.T) {
	cfg := config.Defaults()
	cfg.Generation.FailoverChain = []string{"openai", "claude"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Generator()
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	if p.Name() != "failover(openai→claude)" {
		t.Fatalf("unexpected chain: %q", p.Name())
	}
}

func TestFactory_RegisteredConstructor(t *testing.T) {
	cfg := config.Defaults()
	cfg.Generation.Provider = "stub"
	f := NewFactory(cfg, testLogger())
	stub := &mockProvider{name: "stub"}
	f.RegisterConstructor("stub", func(config.ProviderConfig, *slog.Logger) domain.Provider { return stub })

	p, err := f.Generator()
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	if p != stub {
		t.Fatal("expected registered provider")
	}
}

func TestFactory_UnknownProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Generation.Provider = "nope"
	if _, err := NewFactory(cfg, testLogger()).Generator(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
