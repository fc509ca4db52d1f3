package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Node is an executable step. Run receives a private copy of the state and
// returns the changes it wants applied.
type Node interface {
	Run(ctx context.Context, state *State) (Update, error)
}

// NodeFunc adapts a function to the Node interface
type NodeFunc func(ctx context.Context, state *State) (Update, error)

// Run calls f
func (f NodeFunc) Run(ctx context.Context, state *State) (Update, error) {
	return f(ctx, state)
}

// Registry maps node ids to executable nodes.
type Registry struct {
	mu    sync.RWMutex
	nodes map[NodeID]Node
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[NodeID]Node)}
}

// Register adds a node. Registering the same id twice is an error.
func (r *Registry) Register(id NodeID, node Node) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownNode)
	}
	if id.builtin() {
		return fmt.Errorf("node %s is run by the engine and cannot be registered", id)
	}
	if node == nil {
		return fmt.Errorf("node %s: nil implementation", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	r.nodes[id] = node
	return nil
}

// Replace registers node under id, overwriting any previous registration
func (r *Registry) Replace(id NodeID, node Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[id] = node
}

// Lookup returns the node registered under id
func (r *Registry) Lookup(id NodeID) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return n, nil
}

// Resolve returns the node providing a capability
func (r *Registry) Resolve(c Capability) (Node, error) {
	id, ok := NodeForCapability(c)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, c)
	}
	return r.Lookup(id)
}

// Has reports whether id is registered
func (r *Registry) Has(id NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[id]
	return ok
}

// IDs returns the registered ids in sorted order
func (r *Registry) IDs() []NodeID {
	r.mu.RLock()
	ids := make([]NodeID, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Check verifies every node the plan needs is registered
func (r *Registry) Check(plan Plan) error {
	var missing []NodeID
	for _, id := range plan.Nodes() {
		if id.builtin() {
			continue
		}
		if !r.Has(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrUnknownNode, missing)
	}
	return nil
}
