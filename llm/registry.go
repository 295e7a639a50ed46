package llm

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// RegisteredBackend is one entry of a ProviderRegistry.
type RegisteredBackend struct {
	Name     string
	Provider Provider
	Model    string
	AddedAt  time.Time
}

// ProviderRegistry holds the named backends a role slot may be switched to.
// Names are the labels operators pass to switch_backend; re-registering a
// name replaces the backend behind it.
type ProviderRegistry struct {
	mu      sync.RWMutex
	entries map[string]RegisteredBackend
	now     func() time.Time
}

// NewProviderRegistry creates an empty ProviderRegistry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{entries: map[string]RegisteredBackend{}, now: time.Now}
}

// Register stores p under name and reports whether an earlier backend was replaced.
func (r *ProviderRegistry) Register(name string, p Provider) (replaced bool) {
	e := RegisteredBackend{Name: name, Provider: p, AddedAt: r.now()}
	if m, ok := p.(ModelReporter); ok {
		e.Model = m.Model()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced = r.entries[name]
	r.entries[name] = e
	return replaced
}

// Get returns the backend registered under name.
func (r *ProviderRegistry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.Provider, ok
}

// MustGet is Get with an error for unknown names.
func (r *ProviderRegistry) MustGet(name string) (Provider, error) {
	if p, ok := r.Get(name); ok {
		return p, nil
	}
	return nil, fmt.Errorf("backend %q not registered", name)
}

// List returns the registered names in lexical order.
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

// Entries returns a copy of every entry, ordered by name.
func (r *ProviderRegistry) Entries() []RegisteredBackend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Collect(maps.Values(r.entries))
	slices.SortFunc(out, func(a, b RegisteredBackend) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Unregister removes name. Slots already holding that backend keep it.
func (r *ProviderRegistry) Unregister(name string) {
	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
}

// Len returns the number of registered backends.
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
