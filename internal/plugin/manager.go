// Package plugin manages the lifecycle of plugins and the capabilities they
// contribute to a set of registries.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/registry"
	"github.com/canectors/flow/pkg/connector"
)

// Info describes a registered plugin.
type Info struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Extractors   []string `json:"extractors,omitempty"`
	Transformers []string `json:"transformers,omitempty"`
	Loaders      []string `json:"loaders,omitempty"`
}

type entry struct {
	plugin  connector.Plugin
	handles []registry.Handle
}

// Manager registers plugins into registries it does not own.
type Manager struct {
	mu      sync.Mutex
	regs    *registry.Registries
	entries map[string]*entry
	order   []string
	log     *slog.Logger
}

// NewManager creates a manager that contributes capabilities to regs.
func NewManager(regs *registry.Registries) *Manager {
	return &Manager{
		regs:    regs,
		entries: make(map[string]*entry),
		log:     logger.WithComponent("plugin"),
	}
}

// Register runs the plugin's Initialize hook and then registers every
// capability it exposes. A failing hook leaves the registries untouched.
func (m *Manager) Register(ctx context.Context, p connector.Plugin) error {
	name := p.Name()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[name]; exists {
		return fmt.Errorf("%w: %q", errhandling.ErrPluginAlreadyRegistered, name)
	}

	if err := p.Initialize(ctx); err != nil {
		return &errhandling.PluginLifecycleError{Plugin: name, Hook: "initialize", Err: err}
	}

	e := &entry{plugin: p}
	for _, c := range p.Extractors() {
		e.handles = append(e.handles, m.regs.RegisterExtractor(c))
	}
	for _, c := range p.Transformers() {
		e.handles = append(e.handles, m.regs.RegisterTransformer(c))
	}
	for _, c := range p.Loaders() {
		e.handles = append(e.handles, m.regs.RegisterLoader(c))
	}
	m.entries[name] = e
	m.order = append(m.order, name)

	m.log.Info("plugin registered",
		slog.String("plugin", name),
		slog.String("version", p.Version()),
		slog.Int("capabilities", len(e.handles)),
	)
	return nil
}

// Unregister runs the plugin's Cleanup hook and then removes exactly the
// registrations the plugin made. When cleanup fails the plugin stays registered.
func (m *Manager) Unregister(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unregister(ctx, name)
}

func (m *Manager) unregister(ctx context.Context, name string) error {
	e, ok := m.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", errhandling.ErrPluginNotRegistered, name)
	}

	if err := e.plugin.Cleanup(ctx); err != nil {
		return &errhandling.PluginLifecycleError{Plugin: name, Hook: "cleanup", Err: err}
	}

	for _, h := range e.handles {
		m.regs.Remove(h)
	}
	delete(m.entries, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })

	m.log.Info("plugin unregistered", slog.String("plugin", name))
	return nil
}

// ClearAll unregisters every plugin in registration order. It keeps going when
// a cleanup fails and returns all failures joined; failed plugins remain registered.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, name := range slices.Clone(m.order) {
		if err := m.unregister(ctx, name); err != nil {
			m.log.Warn("plugin cleanup failed",
				slog.String("plugin", name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Has reports whether a plugin named name is registered.
func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[name]
	return ok
}

// List describes the registered plugins in registration order.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		p := m.entries[name].plugin
		info := Info{Name: name, Version: p.Version()}
		for _, c := range p.Extractors() {
			info.Extractors = append(info.Extractors, c.Name())
		}
		for _, c := range p.Transformers() {
			info.Transformers = append(info.Transformers, c.Name())
		}
		for _, c := range p.Loaders() {
			info.Loaders = append(info.Loaders, c.Name())
		}
		out = append(out, info)
	}
	return out
}
