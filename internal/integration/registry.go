package integration

import (
	"fmt"
	"slices"
	"sync"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// Registry maps entry types to integrations. It is built once at start-up
// and handed to the engine; lookups are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Integration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Integration)}
}

// Register binds entryType to impl. Registering an empty type, a nil
// implementation or a type twice is an error.
func (r *Registry) Register(entryType string, impl Integration) error {
	if entryType == "" {
		return fmt.Errorf("register integration: empty entry type")
	}
	if impl == nil {
		return fmt.Errorf("register integration %q: nil implementation", entryType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[entryType]; ok {
		return fmt.Errorf("register integration %q: already registered", entryType)
	}
	r.items[entryType] = impl
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(entryType string, impl Integration) {
	if err := r.Register(entryType, impl); err != nil {
		panic(err)
	}
}

// Resolve returns the integration bound to entryType or an
// *model.UnknownIntegrationError.
func (r *Registry) Resolve(entryType string) (Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.items[entryType]
	if !ok {
		return nil, &model.UnknownIntegrationError{Type: entryType}
	}
	return impl, nil
}

// Has reports whether entryType is registered.
func (r *Registry) Has(entryType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[entryType]
	return ok
}

// List returns the registered entry types in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for t := range r.items {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Info describes a registered integration.
type Info struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Validates   bool   `json:"validates_inputs"`
}

// Describe returns Info for every registered type in sorted order.
func (r *Registry) Describe() []Info {
	types := r.List()
	out := make([]Info, 0, len(types))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range types {
		impl := r.items[t]
		info := Info{Type: t}
		if d, ok := impl.(Describer); ok {
			info.Description = d.Description()
		}
		_, info.Validates = impl.(InputValidator)
		out = append(out, info)
	}
	return out
}
