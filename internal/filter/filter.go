// Package filter narrows a template to the resources one run should touch.
package filter

import (
	"fmt"

	"github.com/yairfalse/fundeploy/resolver"
	"github.com/yairfalse/fundeploy/types"
)

// Filter selects units to deploy and kinds to leave alone.
type Filter struct {
	units        map[string]bool
	excludeKinds map[types.Kind]bool
}

// New creates a Filter. A unit is named by its top-level key or by the graph
// ID of one of its resources. No units selects every unit.
func New(units []string, excludeKinds []types.Kind) *Filter {
	unitMap := make(map[string]bool)
	for _, u := range units {
		unitMap[u] = true
	}
	kindMap := make(map[types.Kind]bool)
	for _, k := range excludeKinds {
		kindMap[k] = true
	}

	return &Filter{
		units:        unitMap,
		excludeKinds: kindMap,
	}
}

// ShouldIncludeKind returns true if resources of kind are deployed
func (f *Filter) ShouldIncludeKind(kind types.Kind) bool {
	return !f.excludeKinds[kind]
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.units) == 0 && len(f.excludeKinds) == 0
}

// Apply returns the subgraph of graph the filter selects.
//
// A selected unit brings along everything it depends on, so an Api drags in
// the function it routes to. A resource of an excluded kind is dropped along
// with everything that depends on it.
func (f *Filter) Apply(graph *types.Graph, plan *resolver.Plan) (*types.Graph, error) {
	if f.IsEmpty() {
		return graph, nil
	}

	known := make(map[string]bool)
	for _, s := range plan.Steps {
		known[s.Unit] = true
		known[s.ID()] = true
	}
	for u := range f.units {
		if !known[u] {
			return nil, fmt.Errorf("unknown resource %q", u)
		}
	}

	keep := make(map[string]bool)
	var pull func(id string)
	pull = func(id string) {
		if keep[id] {
			return
		}
		keep[id] = true
		if s, ok := plan.Step(id); ok {
			for _, dep := range s.DependsOn {
				pull(dep)
			}
		}
	}
	for _, s := range plan.Steps {
		if len(f.units) == 0 || f.units[s.Unit] || f.units[s.ID()] {
			pull(s.ID())
		}
	}

	// Steps are topologically ordered, so dependencies are settled first.
	for _, s := range plan.Steps {
		if !keep[s.ID()] {
			continue
		}
		if !f.ShouldIncludeKind(s.Resource.Kind) {
			delete(keep, s.ID())
			continue
		}
		for _, dep := range s.DependsOn {
			if !keep[dep] {
				delete(keep, s.ID())
				break
			}
		}
	}

	out := types.NewGraph()
	for _, r := range graph.Resources {
		if !keep[r.ID] {
			continue
		}
		c := *r
		if err := out.Add(&c); err != nil {
			return nil, err
		}
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("filter selects no resources")
	}
	return out, nil
}
