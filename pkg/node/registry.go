package node

import (
	"sort"
	"strconv"
	"sync"

	"github.com/coreemu/coreemu/internal/coreerr"
)

// Registry is the Session's keyed store of Nodes (C2). It enforces
// name/id uniqueness and is safe for concurrent use from the session thread
// and worker callbacks (§5).
type Registry struct {
	mu    sync.Mutex
	nodes map[uint32]*Node
	names map[string]uint32
}

// NewRegistry returns an empty node registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[uint32]*Node),
		names: make(map[string]uint32),
	}
}

// Spec describes a requested node; ID of 0 means "allocate the smallest
// free positive id" (§4.2).
type Spec struct {
	ID       uint32
	Name     string
	Kind     Kind
	Model    string
	Position Position
	Geo      Geo
	Services []string
	PeerName string
}

// Create allocates an id (if spec.ID is 0, the smallest free positive
// integer), checks name uniqueness, and stores a new Node. It does not spawn
// a container — that happens in Realize.
func (r *Registry) Create(spec Spec) (*Node, error) {
	if err := validateSpec(spec.Name, spec.Kind); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[spec.Name]; exists {
		return nil, coreerr.NewValidation("node name " + spec.Name + " already in use")
	}

	id := spec.ID
	if id == 0 {
		id = r.smallestFreeIDLocked()
	} else if _, exists := r.nodes[id]; exists {
		return nil, coreerr.NewValidation("node id already in use")
	}

	n := NewNode(id, spec.Name, spec.Kind)
	n.Model = spec.Model
	n.Position = spec.Position
	n.Geo = spec.Geo
	n.Services = append([]string(nil), spec.Services...)
	n.PeerName = spec.PeerName

	r.nodes[id] = n
	r.names[spec.Name] = id
	return n, nil
}

// smallestFreeIDLocked returns the smallest positive integer not currently
// in use. Caller must hold r.mu.
func (r *Registry) smallestFreeIDLocked() uint32 {
	for id := uint32(1); ; id++ {
		if _, used := r.nodes[id]; !used {
			return id
		}
	}
}

// Get looks up a node by id.
func (r *Registry) Get(id uint32) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil, coreerr.NewNotFound("node", idString(id))
	}
	return n, nil
}

// GetByName looks up a node by display name.
func (r *Registry) GetByName(name string) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.names[name]
	if !ok {
		return nil, coreerr.NewNotFound("node", name)
	}
	return r.nodes[id], nil
}

// Remove deletes a node's registry entry. Callers are responsible for
// releasing the node's own resources (interfaces, container, filesystem)
// before calling Remove.
func (r *Registry) Remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return
	}
	delete(r.names, n.Name)
	delete(r.nodes, id)
}

// Rename updates a node's display name, enforcing uniqueness.
func (r *Registry) Rename(id uint32, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return coreerr.NewNotFound("node", idString(id))
	}
	if newName == n.Name {
		return nil
	}
	if _, exists := r.names[newName]; exists {
		return coreerr.NewValidation("node name " + newName + " already in use")
	}
	delete(r.names, n.Name)
	n.Name = newName
	r.names[newName] = id
	return nil
}

// All returns every node sorted by id, for deterministic iteration (state
// transitions, XML export, service scheduling order).
func (r *Registry) All() []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint32, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Node, len(ids))
	for i, id := range ids {
		out[i] = r.nodes[id]
	}
	return out
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

func idString(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
