package ai

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Registry is the provider-id lookup table.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// NewDefaultRegistry registers the four built-in adapters sharing client.
func NewDefaultRegistry(client *http.Client) *Registry {
	r := NewRegistry()
	r.Register(NewAzureProvider(client))
	r.Register(NewOpenAIProvider(client))
	r.Register(NewAnthropicProvider(client))
	r.Register(NewOllamaProvider(client))
	return r
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalizeID(p.ID())] = p
}

func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[normalizeID(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedProviderError{ID: id}
	}
	return p, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
