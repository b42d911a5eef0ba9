// Package dag is a small directed acyclic graph with a stable topological sort.
//
// Vertices carry a declaration order. Whenever several vertices are ready at
// the same time, the one declared first comes first.
package dag

import (
	"cmp"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/btree"
)

// Vertex is one node of the graph
type Vertex[T cmp.Ordered] struct {
	ID T
	// Order breaks ties between vertices that are ready at the same time.
	Order int
	// DependsOn holds the IDs this vertex must come after.
	DependsOn map[T]struct{}
}

// DirectedAcyclicGraph refuses edges that would close a cycle
type DirectedAcyclicGraph[T cmp.Ordered] struct {
	Vertices map[T]*Vertex[T]
}

// NewDirectedAcyclicGraph creates an empty graph
func NewDirectedAcyclicGraph[T cmp.Ordered]() *DirectedAcyclicGraph[T] {
	return &DirectedAcyclicGraph[T]{Vertices: make(map[T]*Vertex[T])}
}

// CycleError reports the vertices that form a cycle, first vertex repeated at the end
type CycleError[T cmp.Ordered] struct {
	Cycle []T
}

func (e *CycleError[T]) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = fmt.Sprint(id)
	}
	return "graph contains a cycle: " + strings.Join(parts, " -> ")
}

// AsCycleError returns err as a *CycleError, or nil
func AsCycleError[T cmp.Ordered](err error) *CycleError[T] {
	var cerr *CycleError[T]
	if errors.As(err, &cerr) {
		return cerr
	}
	return nil
}

// AddVertex adds a vertex. Adding the same ID twice is an error.
func (d *DirectedAcyclicGraph[T]) AddVertex(id T, order int) error {
	if _, exists := d.Vertices[id]; exists {
		return fmt.Errorf("vertex %v already exists", id)
	}
	d.Vertices[id] = &Vertex[T]{ID: id, Order: order, DependsOn: make(map[T]struct{})}
	return nil
}

// AddDependencies records that id comes after every vertex in deps.
// Nothing is added when any edge is invalid or the edges would close a cycle.
func (d *DirectedAcyclicGraph[T]) AddDependencies(id T, deps []T) error {
	v, ok := d.Vertices[id]
	if !ok {
		return fmt.Errorf("vertex %v does not exist", id)
	}
	for _, dep := range deps {
		if dep == id {
			return fmt.Errorf("vertex %v cannot depend on itself", id)
		}
		if _, ok := d.Vertices[dep]; !ok {
			return fmt.Errorf("vertex %v depends on unknown vertex %v", id, dep)
		}
	}

	var added []T
	for _, dep := range deps {
		if _, exists := v.DependsOn[dep]; exists {
			continue
		}
		v.DependsOn[dep] = struct{}{}
		added = append(added, dep)
	}

	if cyclic, cycle := d.hasCycle(); cyclic {
		for _, dep := range added {
			delete(v.DependsOn, dep)
		}
		return &CycleError[T]{Cycle: cycle}
	}
	return nil
}

// Dependents returns the vertices that depend directly on id, in declaration order
func (d *DirectedAcyclicGraph[T]) Dependents(id T) []T {
	var out []*Vertex[T]
	for _, v := range d.Vertices {
		if _, ok := v.DependsOn[id]; ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	ids := make([]T, len(out))
	for i, v := range out {
		ids[i] = v.ID
	}
	return ids
}

// DependenciesOf returns what id depends on directly, in declaration order
func (d *DirectedAcyclicGraph[T]) DependenciesOf(id T) []T {
	v, ok := d.Vertices[id]
	if !ok {
		return nil
	}
	deps := make([]*Vertex[T], 0, len(v.DependsOn))
	for dep := range v.DependsOn {
		deps = append(deps, d.Vertices[dep])
	}
	sort.Slice(deps, func(i, j int) bool { return less(deps[i], deps[j]) })
	ids := make([]T, len(deps))
	for i, dep := range deps {
		ids[i] = dep.ID
	}
	return ids
}

func less[T cmp.Ordered](a, b *Vertex[T]) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.ID < b.ID
}

// TopologicalSort orders every vertex after its dependencies.
// Among ready vertices the lowest Order goes first.
func (d *DirectedAcyclicGraph[T]) TopologicalSort() ([]T, error) {
	pending := make(map[T]int, len(d.Vertices))
	dependents := make(map[T][]*Vertex[T], len(d.Vertices))
	ready := btree.NewG(2, less[T])

	for id, v := range d.Vertices {
		pending[id] = len(v.DependsOn)
		for dep := range v.DependsOn {
			dependents[dep] = append(dependents[dep], v)
		}
		if len(v.DependsOn) == 0 {
			ready.ReplaceOrInsert(v)
		}
	}

	order := make([]T, 0, len(d.Vertices))
	for ready.Len() > 0 {
		v, _ := ready.DeleteMin()
		order = append(order, v.ID)
		for _, next := range dependents[v.ID] {
			pending[next.ID]--
			if pending[next.ID] == 0 {
				ready.ReplaceOrInsert(next)
			}
		}
	}

	if len(order) != len(d.Vertices) {
		_, cycle := d.hasCycle()
		return nil, &CycleError[T]{Cycle: cycle}
	}
	return order, nil
}

// TopologicalSortLevels groups vertices into waves. Every vertex of a wave
// depends only on earlier waves. Vertices keep declaration order within a wave.
func (d *DirectedAcyclicGraph[T]) TopologicalSortLevels() ([][]T, error) {
	order, err := d.TopologicalSort()
	if err != nil {
		return nil, err
	}

	level := make(map[T]int, len(order))
	var levels [][]*Vertex[T]
	for _, id := range order {
		v := d.Vertices[id]
		l := 0
		for dep := range v.DependsOn {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[id] = l
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], v)
	}

	out := make([][]T, len(levels))
	for i, vs := range levels {
		sort.SliceStable(vs, func(a, b int) bool { return less(vs[a], vs[b]) })
		out[i] = make([]T, len(vs))
		for j, v := range vs {
			out[i][j] = v.ID
		}
	}
	return out, nil
}

// hasCycle runs a depth-first search and returns the first cycle found
func (d *DirectedAcyclicGraph[T]) hasCycle() (bool, []T) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[T]int, len(d.Vertices))
	var stack []T

	ids := make([]T, 0, len(d.Vertices))
	for id := range d.Vertices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var visit func(id T) []T
	visit = func(id T) []T {
		state[id] = visiting
		stack = append(stack, id)

		deps := make([]T, 0, len(d.Vertices[id].DependsOn))
		for dep := range d.Vertices[id].DependsOn {
			deps = append(deps, dep)
		}
		sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })

		for _, dep := range deps {
			switch state[dep] {
			case visiting:
				for i, s := range stack {
					if s == dep {
						cycle := append([]T{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range ids {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return true, cycle
			}
		}
	}
	return false, nil
}
