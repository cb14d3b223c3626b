package graphie

import (
	"context"
	"fmt"
	"strings"
)

// StepFunc is the sole extension point: a pluggable function invoked with the
// resolved step input. It may append chat messages or request a pause through
// the activation handle, and may return an output object to record in memory.
// A nil output is valid and records nothing.
type StepFunc func(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error)

// Registry maps function names to statically-known implementations. Names are
// validated at workflow-load time, not at call time, so authoring errors
// surface early instead of mid-session.
type Registry struct {
	funcs map[string]StepFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]StepFunc)}
}

func (r *Registry) Register(name string, fn StepFunc) {
	r.funcs[NormalizeFunction(name)] = fn
}

// Resolve returns the function for a step's function spec.
func (r *Registry) Resolve(spec string) (StepFunc, error) {
	fn, ok := r.funcs[NormalizeFunction(spec)]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", spec)
	}
	return fn, nil
}

// Validate reports whether a function spec can be dispatched.
func (r *Registry) Validate(spec string) error {
	_, err := r.Resolve(spec)
	return err
}

// Names returns the registered canonical names, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}

// NormalizeFunction maps authored function specs to canonical names,
// preserving the shorthand used by existing step data: a spec with exactly
// one dot ("request.request") lives in the utils namespace, as does a bare
// name; anything with more dots is used verbatim.
func NormalizeFunction(spec string) string {
	switch strings.Count(spec, ".") {
	case 0:
		return "utils." + spec
	case 1:
		return "utils." + spec
	default:
		return spec
	}
}
