package operator

import (
	"fmt"
	"slices"
	"sync"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
)

// Factory builds an operator from its parameters. The parameters never
// contain [ClassNameKey].
type Factory func(p Params) (Operator, error)

// Registry maps class names to factories. It is the load path for
// serialized operators.
type Registry struct {
	mtx       sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in operators.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(IdentityClass, func(Params) (Operator, error) { return Identity{}, nil })
	registerChain(r)
	return r
}

// Register adds a factory for class. Registering a class twice replaces the
// previous factory.
func (r *Registry) Register(class string, f Factory) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.factories[class] = f
}

// Has reports whether class is registered.
func (r *Registry) Has(class string) bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	_, ok := r.factories[class]
	return ok
}

// Classes returns the registered class names, sorted.
func (r *Registry) Classes() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	classes := make([]string, 0, len(r.factories))
	for class := range r.factories {
		classes = append(classes, class)
	}
	slices.Sort(classes)
	return classes
}

// New instantiates class with p.
func (r *Registry) New(class string, p Params) (Operator, error) {
	r.mtx.RLock()
	f, ok := r.factories[class]
	r.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", preperrors.ErrUnknownClass, class)
	}

	op, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", class, err)
	}
	return op, nil
}

// Decode instantiates the operator serialized as p. p must name its class
// under [ClassNameKey].
func (r *Registry) Decode(p Params) (Operator, error) {
	class, ok := p[ClassNameKey].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", preperrors.ErrUnknownClass, ClassNameKey)
	}
	rest := p.Clone()
	delete(rest, ClassNameKey)
	return r.New(class, rest)
}
