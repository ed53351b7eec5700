// Package source defines the Source plugin interface and a registry for
// plugins that decode raw diagnostic payloads into violations.
package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/scbrown/genfeedback/internal/model"
)

// Source decodes one raw diagnostic payload format. Each plugin handles a
// specific producer (the runtime diagnostics subsystem, a smoke-test run).
type Source interface {
	// Name returns the unique identifier for this source (e.g., "diagnostic").
	Name() string

	// Extract parses raw bytes and returns the violations they describe.
	// Records that cannot be decoded are reported one error each in bad and
	// do not affect the others. err is set only when the payload as a whole
	// is unreadable. A payload that describes no failures yields an empty
	// slice.
	Extract(raw []byte) (vs []model.Violation, bad []error, err error)
}

// Describer is an optional interface for plugins that provide a short
// human-readable description for `gf bridge --list-sources`.
type Describer interface {
	Description() string
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Source)
)

// Register adds a source plugin to the registry. It panics if a source
// with the same name is already registered.
func Register(s Source) {
	mu.Lock()
	defer mu.Unlock()
	name := s.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("source: duplicate registration for %q", name))
	}
	registry[name] = s
}

// Get returns the source plugin with the given name, or nil if not found.
func Get(name string) Source {
	mu.RLock()
	defer mu.RUnlock()
	return registry[name]
}

// Names returns the sorted names of all registered source plugins.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the plugin's description, or "" when it has none.
func Describe(s Source) string {
	if d, ok := s.(Describer); ok {
		return d.Description()
	}
	return ""
}
