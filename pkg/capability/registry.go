package capability

import (
	"fmt"
	"strings"
	"sync"
)

type entry struct {
	desc   Descriptor
	exec   Executor
	input  *compiledSchema
	output *compiledSchema
}

// Registry maps tool ids to descriptors and executors. It is safe for
// concurrent use; the bus reads it from every session.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register validates desc, compiles its schemas and stores a private copy.
func (r *Registry) Register(desc Descriptor, exec Executor) error {
	if exec == nil {
		return fmt.Errorf("%w: %s: executor is nil", ErrInvalidDescriptor, desc.ToolID)
	}
	if err := validateDescriptor(desc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, desc.ToolID, err)
	}
	input, err := compileSchema(desc.InputSchema)
	if err != nil {
		return fmt.Errorf("%w: %s: input schema: %v", ErrInvalidDescriptor, desc.ToolID, err)
	}
	output, err := compileSchema(desc.OutputSchema)
	if err != nil {
		return fmt.Errorf("%w: %s: output schema: %v", ErrInvalidDescriptor, desc.ToolID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.ToolID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, desc.ToolID)
	}
	r.entries[desc.ToolID] = &entry{
		desc:   desc.Clone(),
		exec:   exec,
		input:  input,
		output: output,
	}
	r.order = append(r.order, desc.ToolID)
	return nil
}

// RegisterCapability registers a self-describing tool.
func (r *Registry) RegisterCapability(c Capability) error {
	return r.Register(c.Descriptor(), c)
}

func validateDescriptor(d Descriptor) error {
	switch {
	case strings.TrimSpace(d.ToolID) == "":
		return fmt.Errorf("tool id cannot be empty")
	case strings.ContainsAny(d.ToolID, " /*"):
		return fmt.Errorf("tool id cannot contain spaces, slashes or wildcards")
	case strings.TrimSpace(d.Name) == "":
		return fmt.Errorf("tool name cannot be empty")
	case strings.TrimSpace(d.Description) == "":
		return fmt.Errorf("tool description cannot be empty")
	case len(d.InputSchema) == 0:
		return fmt.Errorf("input schema is required")
	}
	return nil
}

// DescribeAll returns copies of every descriptor in registration order.
func (r *Registry) DescribeAll() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].desc.Clone())
	}
	return out
}

// IDs returns tool ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Get returns a copy of the descriptor for toolID.
func (r *Registry) Get(toolID string) (Descriptor, error) {
	e, err := r.lookup(toolID)
	if err != nil {
		return Descriptor{}, err
	}
	return e.desc.Clone(), nil
}

// Lookup returns the descriptor copy and the executor for toolID.
func (r *Registry) Lookup(toolID string) (Descriptor, Executor, error) {
	e, err := r.lookup(toolID)
	if err != nil {
		return Descriptor{}, nil, err
	}
	return e.desc.Clone(), e.exec, nil
}

func (r *Registry) lookup(toolID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[toolID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, toolID)
	}
	return e, nil
}
