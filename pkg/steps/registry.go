package steps

import (
	"errors"
	"fmt"
)

// ErrStepNotCompleted is returned by dependency lookup when no step of the
// requested kind has succeeded. It always indicates a misordered or
// misconfigured registry.
var ErrStepNotCompleted = errors.New("no completed step")

// Registry is the ordered list of steps selected for one install run.
// The list is fixed at construction.
type Registry struct {
	steps  []Step
	byKind map[Kind][]Step
}

// NewRegistry creates a registry; execution order is argument order.
func NewRegistry(steps ...Step) *Registry {
	r := &Registry{
		steps:  append([]Step(nil), steps...),
		byKind: make(map[Kind][]Step),
	}
	for _, s := range r.steps {
		r.byKind[s.Kind()] = append(r.byKind[s.Kind()], s)
	}
	return r
}

// Steps returns the steps in execution order.
func (r *Registry) Steps() []Step {
	return append([]Step(nil), r.steps...)
}

// Len returns the number of steps.
func (r *Registry) Len() int { return len(r.steps) }

// GetCompleted returns the first step of kind whose status is successful.
func (r *Registry) GetCompleted(kind Kind) (Step, error) {
	for _, s := range r.byKind[kind] {
		if s.Status() == StatusSuccessful {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w %s exists in registry", ErrStepNotCompleted, kind)
}

// Completed is GetCompleted with the result asserted to T.
func Completed[T any](r *Registry, kind Kind) (T, error) {
	var zero T
	s, err := r.GetCompleted(kind)
	if err != nil {
		return zero, err
	}
	t, ok := s.(T)
	if !ok {
		return zero, fmt.Errorf("completed step %s has type %T, want %T", kind, s, zero)
	}
	return t, nil
}
