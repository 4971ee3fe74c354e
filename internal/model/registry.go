package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/san-kum/vehsim/internal/dynamo"
)

// BuiltinPrefix marks a model reference that names a compiled-in model.
const BuiltinPrefix = "builtin:"

// Registry maps names to compiled-in model sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

func (r *Registry) Register(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[src.Name()] = src
}

// Get accepts a bare name or a builtin: reference.
func (r *Registry) Get(name string) (Source, error) {
	name = strings.TrimPrefix(name, BuiltinPrefix)
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", dynamo.ErrUnknownModel, name)
	}
	return src, nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
