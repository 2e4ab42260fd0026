package model

import "sort"

// Registry owns the node records of one analysis run.
type Registry struct {
	nodes   map[string]*NodeRecord
	indexOf func(id string) int
}

// NewRegistry creates an empty registry. indexOf derives a node's ordinal
// from its id; nil means every node gets -1.
func NewRegistry(indexOf func(id string) int) *Registry {
	return &Registry{nodes: make(map[string]*NodeRecord), indexOf: indexOf}
}

// Ensure returns the record for id, creating it on first reference.
func (r *Registry) Ensure(id string) *NodeRecord {
	if rec, ok := r.nodes[id]; ok {
		return rec
	}
	idx := -1
	if r.indexOf != nil {
		idx = r.indexOf(id)
	}
	rec := &NodeRecord{ID: id, Index: idx, TestTypes: make(map[string]int)}
	r.nodes[id] = rec
	return rec
}

// Get returns the record for id if it exists.
func (r *Registry) Get(id string) (*NodeRecord, bool) {
	rec, ok := r.nodes[id]
	return rec, ok
}

// Len returns the number of known nodes.
func (r *Registry) Len() int {
	return len(r.nodes)
}

// List returns all records sorted by id.
func (r *Registry) List() []*NodeRecord {
	out := make([]*NodeRecord, 0, len(r.nodes))
	for _, rec := range r.nodes {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
