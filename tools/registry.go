package tools

import (
	"sync"

	"github.com/cockroachdb/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrDuplicateToolName is returned when a tool with the same name is already registered.
var ErrDuplicateToolName = errors.New("duplicate tool name")

// Registry is a set of uniquely named tools, listed in registration order.
type Registry struct {
	lock  sync.RWMutex
	tools *orderedmap.OrderedMap[string, Tool]
}

var _ ToolSet = (*Registry)(nil)

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		tools: orderedmap.New[string, Tool](),
	}
}

// Register adds the tools to the registry.
// Registration stops at the first failure.
func (r *Registry) Register(list ...Tool) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, tool := range list {
		if tool == nil {
			return errors.New("tool is nil")
		}
		name := tool.Name()
		if name == "" {
			return errors.New("tool name is empty")
		}
		if _, ok := r.tools.Get(name); ok {
			return errors.Mark(errors.Newf("tool %q is already registered", name), ErrDuplicateToolName)
		}
		r.tools.Set(name, tool)
	}
	return nil
}

// List returns a snapshot of the registered tools
func (r *Registry) List() []Tool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]Tool, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, pair.Value)
	}
	return list
}

// Find returns the tool by name
func (r *Registry) Find(name string) (Tool, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.tools.Get(name)
}

// Names returns the names of the registered tools
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	names := make([]string, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.tools.Len()
}
