package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ragagent/internal/config"
	"ragagent/internal/domain"
)

// ProviderConstructor is a function that creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches LLM providers and embedders from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["ollama"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Logger: logger})
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
}

// Get returns the provider with the given name, or the agent provider if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.Agent.Provider
	}
	if name == "" {
		return nil, fmt.Errorf("no provider configured")
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	ctor, found := f.constructors[name]

	var p domain.Provider
	if found {
		p = ctor(pc, f.logger)
	} else if pc.APIBase != "" {
		// Unknown names are treated as OpenAI-compatible endpoints.
		p = NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: f.logger})
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
	}

	f.cache[name] = p
	return p, nil
}

// AgentProvider returns the provider the agent should talk to. When a
// failover chain is configured the agent provider is tried first, then the
// chain in order.
func (f *Factory) AgentProvider() (domain.Provider, error) {
	primary, err := f.Get("")
	if err != nil {
		return nil, err
	}
	if len(f.cfg.Agent.FailoverChain) == 0 {
		return primary, nil
	}

	chain := []domain.Provider{primary}
	seen := map[string]bool{f.cfg.Agent.Provider: true}
	for _, name := range f.cfg.Agent.FailoverChain {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("failover provider unavailable", "provider", name, "error", err)
			continue
		}
		chain = append(chain, p)
	}
	if len(chain) == 1 {
		return primary, nil
	}
	return NewFailoverProvider(chain, f.logger), nil
}

// Embedder builds a remote embedder for the "openai" or "ollama" embedder types.
// When the embedder config has no API base or key, the matching provider entry fills them in.
func (f *Factory) Embedder(ec config.EmbedderConfig) (domain.Embedder, error) {
	pc := f.cfg.Providers[ec.Type]
	ecfg := EmbedderConfig{
		APIBase:   ec.APIBase,
		APIKey:    ec.APIKey,
		Model:     ec.Model,
		Dimension: ec.Dimension,
		BatchSize: ec.BatchSize,
		Timeout:   time.Duration(ec.TimeoutSeconds) * time.Second,
		Logger:    f.logger,
	}
	if ecfg.APIBase == "" {
		ecfg.APIBase = pc.APIBase
	}
	if ecfg.APIKey == "" {
		ecfg.APIKey = pc.APIKey
	}

	switch ec.Type {
	case "openai":
		return NewOpenAIEmbedder(ecfg), nil
	case "ollama":
		return NewOllamaEmbedder(ecfg), nil
	default:
		return nil, fmt.Errorf("no remote embedder for type %q", ec.Type)
	}
}

// HealthyProvider returns the first enabled provider, by name, that passes a health check.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	names := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p, err := f.Get(name)
		if err != nil || p == nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
