package plugin

import (
	"sync"
)

// Factory is a Module written in Go.
type Factory func(ctx SetupContext) (Instance, error)

// Setup implements Module.
func (f Factory) Setup(ctx SetupContext) (Instance, error) {
	return f(ctx)
}

// Builtins is a Loader for modules compiled into the binary. Reloading a
// builtin calls its factory again but cannot change its code.
type Builtins struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewBuiltins returns an empty builtin loader.
func NewBuiltins() *Builtins {
	return &Builtins{modules: make(map[string]Module)}
}

// Register makes m loadable as name, replacing any earlier module.
func (b *Builtins) Register(name string, m Module) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modules[name] = m
}

// Names returns the registered module names.
func (b *Builtins) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.modules))
	for name := range b.modules {
		names = append(names, name)
	}
	return names
}

// Load implements Loader.
func (b *Builtins) Load(name, _ string) (Module, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.modules[name]
	if !ok {
		return nil, ErrModuleNotFound(name)
	}
	return m, nil
}
