package costing

import (
	"slices"

	"makercalc/internal/apperr"
)

type idSet map[uint]struct{}

func (s idSet) add(id uint) { s[id] = struct{}{} }

func (s idSet) sorted() []uint {
	out := make([]uint, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Graph is the ingredient reference graph of one workspace. Edges point from a
// formulation to the sub-formulations it uses; reverse indexes map materials
// and sub-formulations to the formulations that depend on them.
type Graph struct {
	nodes     idSet
	subs      map[uint]idSet
	parents   map[uint]idSet
	materials map[uint]idSet
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:     make(idSet),
		subs:      make(map[uint]idSet),
		parents:   make(map[uint]idSet),
		materials: make(map[uint]idSet),
	}
}

// BuildGraph indexes the references of every formulation input.
func BuildGraph(inputs map[uint]FormulationInput) *Graph {
	g := NewGraph()
	for id, in := range inputs {
		g.AddFormulation(id)
		for _, ing := range in.Ingredients {
			switch {
			case ing.MaterialID != nil && *ing.MaterialID != 0:
				g.AddMaterial(id, *ing.MaterialID)
			case ing.SubFormulationID != nil && *ing.SubFormulationID != 0:
				g.AddSubFormulation(id, *ing.SubFormulationID)
			}
		}
	}
	return g
}

// AddFormulation registers a node with no references.
func (g *Graph) AddFormulation(id uint) {
	g.nodes.add(id)
}

// AddSubFormulation records that parent uses child as an ingredient.
func (g *Graph) AddSubFormulation(parent, child uint) {
	g.nodes.add(parent)
	g.nodes.add(child)
	if g.subs[parent] == nil {
		g.subs[parent] = make(idSet)
	}
	g.subs[parent].add(child)
	if g.parents[child] == nil {
		g.parents[child] = make(idSet)
	}
	g.parents[child].add(parent)
}

// AddMaterial records that formulation uses material as an ingredient.
func (g *Graph) AddMaterial(formulation, material uint) {
	g.nodes.add(formulation)
	if g.materials[material] == nil {
		g.materials[material] = make(idSet)
	}
	g.materials[material].add(formulation)
}

// WouldCreateCycle reports the loop that adding parent -> child would close.
// A formulation referencing itself is the shortest such loop.
func (g *Graph) WouldCreateCycle(parent, child uint) error {
	if parent == child {
		return &apperr.CycleError{Path: []uint{parent, parent}}
	}
	if path := g.pathBetween(child, parent); path != nil {
		return &apperr.CycleError{Path: append([]uint{parent}, path...)}
	}
	return nil
}

// pathBetween walks sub-formulation edges depth first and returns the first
// path from -> to, or nil when to is unreachable.
func (g *Graph) pathBetween(from, to uint) []uint {
	visited := make(idSet)
	var path []uint

	var walk func(uint) bool
	walk = func(id uint) bool {
		visited.add(id)
		path = append(path, id)
		if id == to {
			return true
		}
		for _, next := range g.subs[id].sorted() {
			if _, seen := visited[next]; seen {
				continue
			}
			if walk(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if walk(from) {
		return path
	}
	return nil
}

// DetectCycles returns every distinct loop found by a depth-first search with a
// recursion stack.
func (g *Graph) DetectCycles() [][]uint {
	visited := make(idSet)
	onStack := make(map[uint]bool)
	var stack []uint
	var cycles [][]uint

	var visit func(uint)
	visit = func(id uint) {
		visited.add(id)
		onStack[id] = true
		stack = append(stack, id)

		for _, next := range g.subs[id].sorted() {
			if onStack[next] {
				start := slices.Index(stack, next)
				loop := append(append([]uint(nil), stack[start:]...), next)
				cycles = append(cycles, loop)
				continue
			}
			if _, seen := visited[next]; !seen {
				visit(next)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[id] = false
	}

	for _, id := range g.nodes.sorted() {
		if _, seen := visited[id]; !seen {
			visit(id)
		}
	}
	return cycles
}

// TopologicalOrder returns the formulations ordered so that every
// sub-formulation precedes the formulations that use it. Formulations on a
// loop, or depending on one, cannot be ordered and are returned as blocked.
func (g *Graph) TopologicalOrder() (order []uint, blocked []uint) {
	pending := make(map[uint]int, len(g.nodes))
	var ready []uint
	for id := range g.nodes {
		pending[id] = len(g.subs[id])
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}
	slices.Sort(ready)

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, parent := range g.parents[id].sorted() {
			pending[parent]--
			if pending[parent] == 0 {
				ready = append(ready, parent)
				slices.Sort(ready)
			}
		}
	}

	for id, remaining := range pending {
		if remaining > 0 {
			blocked = append(blocked, id)
		}
	}
	slices.Sort(blocked)
	return order, blocked
}

// DependentsOfMaterial returns every formulation that uses material directly
// or through sub-formulations, in recompute order.
func (g *Graph) DependentsOfMaterial(material uint) []uint {
	return g.closeOverParents(g.materials[material].sorted())
}

// DependentsOfFormulation returns every formulation that uses id as a
// sub-formulation, directly or transitively, in recompute order.
func (g *Graph) DependentsOfFormulation(id uint) []uint {
	return g.closeOverParents(g.parents[id].sorted())
}

// Affected returns id followed by its transitive dependents.
func (g *Graph) Affected(id uint) []uint {
	return g.closeOverParents([]uint{id})
}

func (g *Graph) closeOverParents(start []uint) []uint {
	seen := make(idSet)
	queue := append([]uint(nil), start...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen.add(id)
		queue = append(queue, g.parents[id].sorted()...)
	}
	return g.inRecomputeOrder(seen)
}

func (g *Graph) inRecomputeOrder(set idSet) []uint {
	if len(set) == 0 {
		return nil
	}
	order, blocked := g.TopologicalOrder()
	out := make([]uint, 0, len(set))
	for _, id := range append(order, blocked...) {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
