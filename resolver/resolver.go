// Package resolver orders a resource graph so every resource comes after
// the resources it needs outputs from.
package resolver

import (
	"fmt"
	"strings"

	"github.com/yairfalse/fundeploy/resolver/dag"
	"github.com/yairfalse/fundeploy/types"
)

// Step is one resource in the plan
type Step struct {
	Index    int             `json:"index"`
	Resource *types.Resource `json:"resource"`
	// DependsOn lists direct dependencies by graph ID, in declaration order.
	DependsOn []string `json:"dependsOn,omitempty"`
	// Unit is the top-level resource this step belongs to.
	Unit string `json:"unit"`
}

// ID returns the graph ID of the step's resource
func (s *Step) ID() string { return s.Resource.ID }

// Plan is the total reconciliation order of a template
type Plan struct {
	Steps []*Step `json:"steps"`

	byID map[string]*Step
	dag  *dag.DirectedAcyclicGraph[string]
}

// Step looks up a step by graph ID
func (p *Plan) Step(id string) (*Step, bool) {
	s, ok := p.byID[id]
	return s, ok
}

// Len returns the number of steps
func (p *Plan) Len() int { return len(p.Steps) }

// Dependents returns the steps that depend directly on id
func (p *Plan) Dependents(id string) []string {
	return p.dag.Dependents(id)
}

// Levels groups step IDs into waves that could run concurrently
func (p *Plan) Levels() ([][]string, error) {
	return p.dag.TopologicalSortLevels()
}

// Resolve computes the plan for a normalized graph.
// Dangling references and cycles are reported as *types.DependencyError.
func Resolve(graph *types.Graph) (*Plan, error) {
	d := dag.NewDirectedAcyclicGraph[string]()
	for _, r := range graph.Resources {
		if err := d.AddVertex(r.ID, r.Order); err != nil {
			return nil, &types.DependencyError{ResourceID: r.ID, Reason: err.Error()}
		}
	}

	groups := groupIndex(graph)
	units := make(map[string]string, graph.Len())

	for _, r := range graph.Resources {
		deps, unit, err := dependencies(graph, groups, r)
		if err != nil {
			return nil, err
		}
		units[r.ID] = unit
		if len(deps) == 0 {
			continue
		}
		if err := d.AddDependencies(r.ID, deps); err != nil {
			if cerr := dag.AsCycleError[string](err); cerr != nil {
				return nil, &types.DependencyError{
					ResourceID: r.ID,
					Reason:     "dependency cycle " + strings.Join(cerr.Cycle, " -> "),
				}
			}
			return nil, &types.DependencyError{ResourceID: r.ID, Reason: err.Error()}
		}
	}

	order, err := d.TopologicalSort()
	if err != nil {
		if cerr := dag.AsCycleError[string](err); cerr != nil && len(cerr.Cycle) > 0 {
			return nil, &types.DependencyError{
				ResourceID: cerr.Cycle[0],
				Reason:     "dependency cycle " + strings.Join(cerr.Cycle, " -> "),
			}
		}
		return nil, fmt.Errorf("failed to sort resources: %w", err)
	}

	plan := &Plan{
		Steps: make([]*Step, len(order)),
		byID:  make(map[string]*Step, len(order)),
		dag:   d,
	}
	for i, id := range order {
		r, _ := graph.Get(id)
		step := &Step{
			Index:     i,
			Resource:  r,
			DependsOn: d.DependenciesOf(id),
			Unit:      units[id],
		}
		plan.Steps[i] = step
		plan.byID[id] = step
	}
	return plan, nil
}

// groupIndex maps both group keys and group names to the group's graph ID
func groupIndex(graph *types.Graph) map[string]string {
	idx := make(map[string]string)
	for _, r := range graph.OfKind(types.KindGroup) {
		idx[r.ID] = r.ID
	}
	for _, r := range graph.OfKind(types.KindGroup) {
		if _, taken := idx[r.Name]; !taken {
			idx[r.Name] = r.ID
		}
	}
	return idx
}

// dependencies returns the direct dependencies of r and the unit it belongs to
func dependencies(graph *types.Graph, groups map[string]string, r *types.Resource) ([]string, string, error) {
	switch spec := r.Spec.(type) {
	case *types.RoleSpec:
		return nil, types.ServiceID(spec.ServiceName), nil

	case *types.ServiceSpec:
		if spec.RoleID == "" {
			return nil, r.ID, nil
		}
		if _, ok := graph.Get(spec.RoleID); !ok {
			return nil, "", &types.DependencyError{ResourceID: r.ID, Reference: spec.RoleID, Reason: "service references unknown role"}
		}
		return []string{spec.RoleID}, r.ID, nil

	case *types.FunctionSpec:
		if err := expect(graph, r.ID, r.Parent, types.KindService, "function's owning service not found"); err != nil {
			return nil, "", err
		}
		return []string{r.Parent}, r.Parent, nil

	case *types.TriggerSpec:
		if err := expect(graph, r.ID, r.Parent, types.KindFunction, "trigger's owning function not found"); err != nil {
			return nil, "", err
		}
		return []string{r.Parent}, types.ServiceID(spec.ServiceName), nil

	case *types.ApiSpec:
		if err := expect(graph, r.ID, types.ServiceID(spec.ServiceName), types.KindService, "route references unknown service"); err != nil {
			return nil, "", err
		}
		if err := expect(graph, r.ID, spec.FunctionID(), types.KindFunction, "route references unknown function"); err != nil {
			return nil, "", err
		}
		group, ok := groups[spec.GroupName]
		if !ok {
			return nil, "", &types.DependencyError{ResourceID: r.ID, Reference: spec.GroupName, Reason: "route references unknown group"}
		}
		return []string{spec.FunctionID(), group}, group, nil

	case *types.GroupSpec, *types.TableSpec:
		return nil, r.ID, nil

	default:
		return nil, "", &types.DependencyError{ResourceID: r.ID, Reason: fmt.Sprintf("unsupported resource kind %s", r.Kind)}
	}
}

func expect(graph *types.Graph, from, id string, kind types.Kind, reason string) error {
	target, ok := graph.Get(id)
	if !ok || target.Kind != kind {
		return &types.DependencyError{ResourceID: from, Reference: id, Reason: reason}
	}
	return nil
}
