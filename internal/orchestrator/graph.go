package orchestrator

import "fmt"

// planGraph is the dependency graph of a plan. Steps are nodes; edges point
// from a step to the steps it depends on.
type planGraph struct {
	order []string
	edges map[string][]string
}

// buildPlanGraph validates steps and returns their graph. Every failure is
// reported as ErrInvalidGraph.
func buildPlanGraph(steps []Step) (*planGraph, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: plan has no steps", ErrInvalidGraph)
	}

	g := &planGraph{edges: make(map[string][]string, len(steps))}
	for i, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: step %d has no id", ErrInvalidGraph, i)
		}
		if s.Capability == "" {
			return nil, fmt.Errorf("%w: step %q has no capability", ErrInvalidGraph, s.ID)
		}
		if _, dup := g.edges[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate step id %q", ErrInvalidGraph, s.ID)
		}
		g.edges[s.ID] = nil
		g.order = append(g.order, s.ID)
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := g.edges[dep]; !ok {
				return nil, fmt.Errorf("%w: step %q depends on unknown step %q", ErrInvalidGraph, s.ID, dep)
			}
			g.edges[s.ID] = append(g.edges[s.ID], dep)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: dependency cycle %v", ErrInvalidGraph, cycle)
	}
	return g, nil
}

// findCycle runs a depth-first search with white/grey/black colouring and
// returns the first cycle found as a path that starts and ends on the same
// step, or nil.
func (g *planGraph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	colors := make(map[string]int, len(g.order))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = grey
		stack = append(stack, id)

		for _, dep := range g.edges[id] {
			switch colors[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, dep)
					}
				}
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, id := range g.order {
		if colors[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}
