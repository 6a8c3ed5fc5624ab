package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]Provider)}
}

func (r *ProviderRegistry) Register(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("core: provider is nil")
	}
	service := strings.TrimSpace(strings.ToLower(provider.Service()))
	if service == "" {
		return fmt.Errorf("core: provider service is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[service]; exists {
		return fmt.Errorf("core: provider already registered: %s", service)
	}
	r.providers[service] = provider
	return nil
}

func (r *ProviderRegistry) Get(service string) (Provider, bool) {
	service = strings.TrimSpace(strings.ToLower(service))
	if service == "" {
		return nil, false
	}
	r.mu.RLock()
	provider, ok := r.providers[service]
	r.mu.RUnlock()
	return provider, ok
}

func (r *ProviderRegistry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.providers))
	for service := range r.providers {
		keys = append(keys, service)
	}
	sort.Strings(keys)
	providers := make([]Provider, 0, len(keys))
	for _, service := range keys {
		providers = append(providers, r.providers[service])
	}
	return providers
}

var _ Registry = (*ProviderRegistry)(nil)
