package costing

import (
	"errors"
	"slices"

	"makercalc/internal/apperr"
)

// MaterialSource resolves raw material unit costs.
type MaterialSource interface {
	Material(id uint) (Source, error)
}

// MaterialFunc adapts a function to MaterialSource.
type MaterialFunc func(id uint) (Source, error)

func (f MaterialFunc) Material(id uint) (Source, error) { return f(id) }

// Evaluator computes a set of formulations whose sub-formulations reference
// each other. Results and failures are memoized so each formulation is costed
// once per evaluator, and a recursion stack turns reference loops into a
// CycleError instead of unbounded recursion.
type Evaluator struct {
	inputs    map[uint]FormulationInput
	materials MaterialSource

	results map[uint]Breakdown
	failed  map[uint]error
	stack   []uint
	onStack map[uint]bool
}

// NewEvaluator prepares an evaluator over the given formulations.
func NewEvaluator(inputs map[uint]FormulationInput, materials MaterialSource) *Evaluator {
	return &Evaluator{
		inputs:    inputs,
		materials: materials,
		results:   make(map[uint]Breakdown, len(inputs)),
		failed:    make(map[uint]error),
		onStack:   make(map[uint]bool),
	}
}

// Evaluate returns the breakdown of formulation id.
func (e *Evaluator) Evaluate(id uint) (Breakdown, error) {
	if result, ok := e.results[id]; ok {
		return result, nil
	}
	if err, ok := e.failed[id]; ok {
		return Breakdown{}, err
	}
	if e.onStack[id] {
		return Breakdown{}, &apperr.CycleError{Path: e.loopFrom(id)}
	}

	in, ok := e.inputs[id]
	if !ok {
		return Breakdown{}, apperr.NotFound("formulation", id)
	}

	e.onStack[id] = true
	e.stack = append(e.stack, id)
	result, err := Compute(in, formulationResolver{evaluator: e, parent: id})
	e.stack = e.stack[:len(e.stack)-1]
	e.onStack[id] = false

	if err != nil {
		e.failed[id] = err
		return Breakdown{}, err
	}
	e.results[id] = result
	return result, nil
}

func (e *Evaluator) loopFrom(id uint) []uint {
	for i, member := range e.stack {
		if member == id {
			path := append([]uint(nil), e.stack[i:]...)
			return append(path, id)
		}
	}
	return []uint{id, id}
}

type formulationResolver struct {
	evaluator *Evaluator
	parent    uint
}

func (r formulationResolver) Material(id uint) (Source, error) {
	return r.evaluator.materials.Material(id)
}

func (r formulationResolver) Formulation(id uint) (Source, error) {
	in, ok := r.evaluator.inputs[id]
	if !ok {
		return Source{}, apperr.NotFound("sub-formulation", id)
	}
	result, err := r.evaluator.Evaluate(id)
	if err != nil {
		var cycle *apperr.CycleError
		if errors.As(err, &cycle) && slices.Contains(cycle.Path, r.parent) {
			return Source{}, err
		}
		return Source{}, &apperr.DependencyError{FormulationID: r.parent, SubFormulationID: id, Err: err}
	}
	return Source{UnitCost: result.UnitCost, Unit: in.BatchUnit}, nil
}
