// Package registry holds the capability registries of one pipeline orchestrator.
//
// # Overview
//
// A Registries value owns three independent name-to-capability tables, one per
// step kind (extract, transform, load). Tables are fields of the orchestrator,
// never package globals, so two orchestrators cannot see each other's
// registrations.
//
// # Handles
//
// Every registration returns a Handle. Registering a capability under a name
// that is already taken replaces the previous one (last registration wins), and
// the replaced registration's handle becomes stale: removing it is a no-op. This
// lets the plugin manager remove exactly what a plugin contributed without
// clobbering a later registration of the same name by another plugin.
//
//	regs := registry.New()
//	h := regs.RegisterExtractor(myExtractor)
//	defer regs.Remove(h)
package registry

import (
	"slices"
	"sync"

	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/pkg/connector"
)

// Handle identifies one registration.
type Handle struct {
	Kind connector.StepKind
	Name string
	id   uint64
}

type slot[C any] struct {
	capability C
	id         uint64
}

// Registries is safe for concurrent use.
type Registries struct {
	mu           sync.RWMutex
	nextID       uint64
	extractors   map[string]slot[connector.Extractor]
	transformers map[string]slot[connector.Transformer]
	loaders      map[string]slot[connector.Loader]
}

// New creates empty registries.
func New() *Registries {
	return &Registries{
		extractors:   make(map[string]slot[connector.Extractor]),
		transformers: make(map[string]slot[connector.Transformer]),
		loaders:      make(map[string]slot[connector.Loader]),
	}
}

func put[C any](r *Registries, table map[string]slot[C], kind connector.StepKind, name string, c C) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	table[name] = slot[C]{capability: c, id: r.nextID}
	return Handle{Kind: kind, Name: name, id: r.nextID}
}

func get[C any](r *Registries, table map[string]slot[C], kind connector.StepKind, name string) (C, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := table[name]
	if !ok {
		var zero C
		return zero, &errhandling.StepNotFoundError{Kind: kind.String(), Name: name}
	}
	return s.capability, nil
}

func drop[C any](table map[string]slot[C], h Handle) bool {
	s, ok := table[h.Name]
	if !ok || s.id != h.id {
		return false
	}
	delete(table, h.Name)
	return true
}

func names[C any](table map[string]slot[C]) []string {
	out := make([]string, 0, len(table))
	for name := range table {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// RegisterExtractor registers e under e.Name().
func (r *Registries) RegisterExtractor(e connector.Extractor) Handle {
	return put(r, r.extractors, connector.Extract, e.Name(), e)
}

// RegisterTransformer registers t under t.Name().
func (r *Registries) RegisterTransformer(t connector.Transformer) Handle {
	return put(r, r.transformers, connector.Transform, t.Name(), t)
}

// RegisterLoader registers l under l.Name().
func (r *Registries) RegisterLoader(l connector.Loader) Handle {
	return put(r, r.loaders, connector.Load, l.Name(), l)
}

// Remove deletes the registration identified by h. It reports false when the
// name was since re-registered or already removed.
func (r *Registries) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch h.Kind {
	case connector.Extract:
		return drop(r.extractors, h)
	case connector.Transform:
		return drop(r.transformers, h)
	case connector.Load:
		return drop(r.loaders, h)
	default:
		return false
	}
}

// Extractor resolves an extractor, or returns a *errhandling.StepNotFoundError.
func (r *Registries) Extractor(name string) (connector.Extractor, error) {
	return get(r, r.extractors, connector.Extract, name)
}

// Transformer resolves a transformer, or returns a *errhandling.StepNotFoundError.
func (r *Registries) Transformer(name string) (connector.Transformer, error) {
	return get(r, r.transformers, connector.Transform, name)
}

// Loader resolves a loader, or returns a *errhandling.StepNotFoundError.
func (r *Registries) Loader(name string) (connector.Loader, error) {
	return get(r, r.loaders, connector.Load, name)
}

// Has reports whether a capability of kind is registered under name.
func (r *Registries) Has(kind connector.StepKind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case connector.Extract:
		_, ok := r.extractors[name]
		return ok
	case connector.Transform:
		_, ok := r.transformers[name]
		return ok
	case connector.Load:
		_, ok := r.loaders[name]
		return ok
	default:
		return false
	}
}

// Names returns the sorted capability names registered for kind.
func (r *Registries) Names(kind connector.StepKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case connector.Extract:
		return names(r.extractors)
	case connector.Transform:
		return names(r.transformers)
	case connector.Load:
		return names(r.loaders)
	default:
		return nil
	}
}
