package types

import "fmt"

// Graph is the normalized resource collection, in declaration order.
// References between resources are still names at this point.
type Graph struct {
	Resources []*Resource `json:"resources"`
	byID      map[string]*Resource
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{byID: make(map[string]*Resource)}
}

// Add appends a resource and assigns its declaration order
func (g *Graph) Add(r *Resource) error {
	if r.Spec == nil || r.Spec.Kind() != r.Kind {
		return fmt.Errorf("resource %s: spec does not match kind %s", r.ID, r.Kind)
	}
	if _, exists := g.byID[r.ID]; exists {
		return fmt.Errorf("resource %s declared twice", r.ID)
	}
	r.Order = len(g.Resources)
	g.Resources = append(g.Resources, r)
	g.byID[r.ID] = r
	return nil
}

// Get looks up a resource by graph ID
func (g *Graph) Get(id string) (*Resource, bool) {
	r, ok := g.byID[id]
	return r, ok
}

// OfKind returns resources of one kind in declaration order
func (g *Graph) OfKind(kind Kind) []*Resource {
	var out []*Resource
	for _, r := range g.Resources {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of resources
func (g *Graph) Len() int {
	return len(g.Resources)
}
