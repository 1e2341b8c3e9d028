package mapper

import (
	"reflect"
	"sync"
)

// Registry maps event method names to the concrete payload type used when a
// subscriber does not name one. It is populated at setup time and only grows
// afterwards; lookups are safe from any goroutine.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]reflect.Type)}
}

// Register binds method to the type of prototype. Pointer prototypes are
// dereferenced, so Register(m, T{}) and Register(m, &T{}) are equivalent.
// A later registration for the same method replaces the earlier one.
func (r *Registry) Register(method string, prototype any) {
	typ := reflect.TypeOf(prototype)
	if typ == nil {
		return
	}
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	r.mu.Lock()
	r.types[method] = typ
	r.mu.Unlock()
}

// RegisterAll registers every entry of mappings.
func (r *Registry) RegisterAll(mappings map[string]any) {
	for method, prototype := range mappings {
		r.Register(method, prototype)
	}
}

// Lookup returns the registered type for method.
func (r *Registry) Lookup(method string) (reflect.Type, bool) {
	r.mu.RLock()
	typ, ok := r.types[method]
	r.mu.RUnlock()
	return typ, ok
}

// Len returns the number of registered methods.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
