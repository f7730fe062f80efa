package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry maps backend names ("ollama", "openrouter") to provider factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(name)] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, model)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Defaults holds the connection settings of the built-in backends.
type Defaults struct {
	OllamaBaseURL     string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterSiteURL string
	OpenRouterAppName string
}

// NewDefaultRegistry registers the ollama and openrouter backends.
func NewDefaultRegistry(d Defaults) *Registry {
	r := NewRegistry()
	r.Register("ollama", func(_ context.Context, model string) (Provider, error) {
		return NewOllamaProvider(d.OllamaBaseURL, model), nil
	})
	r.Register("openrouter", func(_ context.Context, model string) (Provider, error) {
		return NewOpenRouterProvider(d.OpenRouterBaseURL, d.OpenRouterAPIKey, model, d.OpenRouterSiteURL, d.OpenRouterAppName), nil
	})
	return r
}
