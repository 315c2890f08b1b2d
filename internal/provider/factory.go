package provider

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"guestmail/internal/config"
	"guestmail/internal/domain"
)

// ProviderConstructor creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches generation providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.Mutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey:     pc.APIKey,
			APIBase:    pc.APIBase,
			Model:      pc.DefaultModel,
			Timeout:    timeout(pc),
			MaxRetries: defaultMaxRetries,
			Logger:     logger,
		})
	}
	f.constructors["claude"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{
			APIKey:     pc.APIKey,
			APIBase:    pc.APIBase,
			Model:      pc.DefaultModel,
			Timeout:    timeout(pc),
			MaxRetries: defaultMaxRetries,
			Logger:     logger,
		})
	}
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
	delete(f.cache, name)
}

// Get returns the provider with the given name. Created providers are cached
// so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	p := ctor(f.providerConfig(name), f.logger.With("provider", name))
	f.cache[name] = p
	return p, nil
}

// Generator returns the configured generation provider: the primary alone,
// or the primary followed by the failover chain, throttled when a request
// rate is set.
func (f *Factory) Generator() (domain.Provider, error) {
	p, err := f.chain()
	if err != nil {
		return nil, err
	}
	gen := f.cfg.Generation
	if gen.RequestsPerMinute > 0 {
		f.logger.Debug("generation rate limited", "per_minute", gen.RequestsPerMinute, "burst", gen.RequestBurst)
		return NewRateLimitedProvider(p, NewRateLimiter(gen.RequestBurst, gen.RequestsPerMinute)), nil
	}
	return p, nil
}

func (f *Factory) chain() (domain.Provider, error) {
	gen := f.cfg.Generation
	primary, err := f.Get(gen.Provider)
	if err != nil {
		return nil, err
	}
	if len(gen.FailoverChain) == 0 {
		return primary, nil
	}

	chain := []domain.Provider{primary}
	seen := map[string]bool{gen.Provider: true}
	for _, name := range gen.FailoverChain {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, err := f.Get(name)
		if err != nil {
			return nil, fmt.Errorf("failover chain: %w", err)
		}
		chain = append(chain, p)
	}
	if len(chain) == 1 {
		return primary, nil
	}
	return NewFailoverProvider(chain, f.logger), nil
}

// Embedder returns the embeddings client used for the knowledge index.
func (f *Factory) Embedder() *OpenAIEmbedder {
	pc := f.cfg.Providers.OpenAI
	return NewOpenAIEmbedder(OpenAIEmbedderConfig{
		APIKey:     pc.APIKey,
		APIBase:    pc.APIBase,
		Model:      f.cfg.Knowledge.EmbeddingModel,
		Timeout:    timeout(pc),
		MaxRetries: defaultMaxRetries,
	})
}

func (f *Factory) providerConfig(name string) config.ProviderConfig {
	switch name {
	case "openai":
		return f.cfg.Providers.OpenAI
	case "claude":
		return f.cfg.Providers.Claude
	}
	return config.ProviderConfig{}
}

func timeout(pc config.ProviderConfig) time.Duration {
	if pc.TimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(pc.TimeoutSeconds) * time.Second
}
