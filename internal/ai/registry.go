package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownProvider = errors.New("unknown ai provider")

// ProviderFactory builds a provider for a model; an empty model means the provider default.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type Registry struct {
	mu          sync.RWMutex
	factories   map[string]ProviderFactory
	defaultName string
}

func NewRegistry(defaultName string) *Registry {
	return &Registry{
		factories:   make(map[string]ProviderFactory),
		defaultName: normalizeName(defaultName),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = normalizeName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	if r.defaultName == "" {
		r.defaultName = name
	}
}

// Get resolves a provider by name; an empty name selects the registry default.
func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = normalizeName(name)
	r.mu.RLock()
	if name == "" {
		name = r.defaultName
	}
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return f(ctx, strings.TrimSpace(model))
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
