package producer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Factory func(ctx context.Context, model string) (Producer, error)

// Registry resolves a reply backend by name. Names are matched
// case-insensitively; registering a name again replaces the earlier
// factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(name)] = f
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs a producer for the named backend and model.
func (r *Registry) Build(ctx context.Context, name, model string) (Producer, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown reply backend %q (registered: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(ctx, model)
}
