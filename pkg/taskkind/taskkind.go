package taskkind

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Kind is an executable task type. Jobs name the kind to run and ship
// only arguments; the code itself lives in the worker binary.
type Kind interface {
	// Name returns the registry name clients reference in submissions
	Name() string

	// Run executes the kind against one task's arguments. Long-running
	// kinds should record progress through the runtime and honor ctx
	// cancellation between iterations.
	Run(ctx context.Context, rt *Runtime, args []any) (any, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Kind)
)

// Register adds a kind to the registry. It panics on duplicate names,
// matching the init-time registration pattern of the built-ins.
func Register(kind Kind) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[kind.Name()]; exists {
		panic(fmt.Sprintf("taskkind: duplicate registration of %q", kind.Name()))
	}
	registry[kind.Name()] = kind
}

// Get looks up a kind by name
func Get(name string) (Kind, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kind, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown task kind: %s", name)
	}
	return kind, nil
}

// Names returns the registered kind names, sorted
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
