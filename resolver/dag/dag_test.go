package dag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// build creates a graph from "A,B,C" and edges "A->B" meaning B depends on A
func build(t *testing.T, nodes, edges string) *DirectedAcyclicGraph[string] {
	t.Helper()
	d := NewDirectedAcyclicGraph[string]()
	for i, node := range strings.Split(nodes, ",") {
		require.NoError(t, d.AddVertex(node, i))
	}
	if edges == "" {
		return d
	}
	for _, edge := range strings.Split(edges, ",") {
		tokens := strings.SplitN(edge, "->", 2)
		require.NoError(t, d.AddDependencies(tokens[1], []string{tokens[0]}), "edge %s", edge)
	}
	return d
}

func TestAddVertex(t *testing.T) {
	d := NewDirectedAcyclicGraph[string]()
	require.NoError(t, d.AddVertex("A", 1))
	assert.Error(t, d.AddVertex("A", 1))
	assert.Len(t, d.Vertices, 1)
}

func TestAddDependencies(t *testing.T) {
	d := build(t, "A,B", "")

	assert.NoError(t, d.AddDependencies("A", []string{"B"}))
	assert.Error(t, d.AddDependencies("A", []string{"C"}), "unknown dependency")
	assert.Error(t, d.AddDependencies("A", []string{"A"}), "self reference")
	assert.Error(t, d.AddDependencies("Z", []string{"A"}), "unknown vertex")
}

func TestCycles(t *testing.T) {
	d := build(t, "A,B,C", "B->A,C->B")

	cyclic, _ := d.hasCycle()
	assert.False(t, cyclic)

	err := d.AddDependencies("C", []string{"A"})
	require.Error(t, err)
	require.NotNil(t, AsCycleError[string](err))
	_, kept := d.Vertices["C"].DependsOn["A"]
	assert.False(t, kept, "rejected edge is rolled back")

	order, err := d.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B", "A"}, order)

	// force a cycle past AddDependencies
	d.Vertices["C"].DependsOn["A"] = struct{}{}
	_, err = d.TopologicalSort()
	cerr := AsCycleError[string](err)
	require.NotNil(t, cerr)
	assert.Equal(t, []string{"A", "B", "C", "A"}, cerr.Cycle)
	assert.Contains(t, cerr.Error(), "A -> B -> C -> A")
}

func TestTopologicalSort(t *testing.T) {
	tests := []struct {
		nodes string
		edges string
		want  string
	}{
		{nodes: "A,B", want: "A,B"},
		{nodes: "A,B", edges: "A->B", want: "A,B"},
		{nodes: "A,B", edges: "B->A", want: "B,A"},
		{nodes: "A,B,C,D,E,F", want: "A,B,C,D,E,F"},
		{nodes: "A,B,C,D,E,F", edges: "C->D", want: "A,B,C,D,E,F"},
		{nodes: "A,B,C,D,E,F", edges: "D->C", want: "A,B,D,C,E,F"},
		{nodes: "A,B,C,D,E,F", edges: "F->A,F->B,B->A", want: "C,D,E,F,B,A"},
		{nodes: "A,B,C,D,E,F", edges: "B->A,C->A,D->B,D->C,F->E,A->E", want: "D,B,C,A,F,E"},
	}

	for _, tt := range tests {
		t.Run(tt.nodes+"/"+tt.edges, func(t *testing.T) {
			d := build(t, tt.nodes, tt.edges)
			order, err := d.TopologicalSort()
			require.NoError(t, err)
			assert.Equal(t, tt.want, strings.Join(order, ","))

			pos := make(map[string]int, len(order))
			for i, id := range order {
				pos[id] = i
			}
			for _, id := range order {
				for dep := range d.Vertices[id].DependsOn {
					assert.Less(t, pos[dep], pos[id], "%s must come after %s", id, dep)
				}
			}
		})
	}
}

func TestTopologicalSortLevels(t *testing.T) {
	tests := []struct {
		name   string
		nodes  string
		edges  string
		levels [][]string
	}{
		{name: "chain", nodes: "A,B,C", edges: "A->B,B->C", levels: [][]string{{"A"}, {"B"}, {"C"}}},
		{name: "fan in", nodes: "A,B,C", edges: "A->C,B->C", levels: [][]string{{"A", "B"}, {"C"}}},
		{name: "diamond", nodes: "A,B,C,D", edges: "A->B,A->C,B->D,C->D", levels: [][]string{{"A"}, {"B", "C"}, {"D"}}},
		{name: "independent", nodes: "A,B,C", levels: [][]string{{"A", "B", "C"}}},
		{name: "declaration order within level", nodes: "Z,Y,X,W,V,U", edges: "Z->U,Y->U,X->U",
			levels: [][]string{{"Z", "Y", "X", "W", "V"}, {"U"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels, err := build(t, tt.nodes, tt.edges).TopologicalSortLevels()
			require.NoError(t, err)
			assert.Equal(t, tt.levels, levels)
		})
	}
}

func TestDependentsAndDependencies(t *testing.T) {
	d := build(t, "A,B,C,D", "A->C,A->B,B->D,C->D")

	assert.Equal(t, []string{"B", "C"}, d.Dependents("A"))
	assert.Equal(t, []string{"B", "C"}, d.DependenciesOf("D"))
	assert.Empty(t, d.Dependents("D"))
	assert.Nil(t, d.DependenciesOf("nope"))
}
