package operator

import (
	"errors"
	"fmt"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
	"github.com/grafana/colprep/pkg/prep/internal/metastore"
)

// ErrSkipChildren can be returned from a [WalkFunc] to skip the children of
// the visited operator.
var ErrSkipChildren = errors.New("skip children")

// WalkFunc is called for every operator visited by [Walk].
type WalkFunc func(op Operator) error

// Walk visits op and its descendants depth-first in pre-order. Nil operators
// are not visited. Walk stops at the first error returned by fn, except
// [ErrSkipChildren].
func Walk(op Operator, fn WalkFunc) error {
	if op == nil {
		return nil
	}
	switch err := fn(op); {
	case errors.Is(err, ErrSkipChildren):
		return nil
	case err != nil:
		return err
	}

	c, ok := op.(Container)
	if !ok {
		return nil
	}
	for _, child := range c.Children() {
		if err := Walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// InjectStore hands s to every [StoreUser] in the tree rooted at op.
func InjectStore(op Operator, s *metastore.Store) {
	_ = Walk(op, func(op Operator) error {
		if u, ok := op.(StoreUser); ok {
			u.UseStore(s)
		}
		return nil
	})
}

// SetName gives op the display name name when op is a [Namer]. Nested
// operators keep their own names.
func SetName(op Operator, name string) {
	if n, ok := op.(Namer); ok {
		n.SetName(name)
	}
}

// Clone returns a deep copy of op. Operators implementing [Cloner] copy
// themselves; [Configurable] operators are rebuilt from their parameters
// through reg. Clone fails with [preperrors.ErrContractViolation] for any
// other operator, so that a copy never shares state with op.
func Clone(op Operator, reg *Registry) (Operator, error) {
	switch c := op.(type) {
	case nil:
		return nil, nil
	case Cloner:
		return c.Clone()
	case Configurable:
		if reg == nil || !reg.Has(ClassName(op)) {
			return nil, fmt.Errorf("%w: %s cannot be copied without a registered class", preperrors.ErrContractViolation, Describe(op))
		}
		return reg.Decode(Encode(op))
	default:
		return nil, fmt.Errorf("%w: %s can be neither cloned nor rebuilt from parameters", preperrors.ErrContractViolation, Describe(op))
	}
}
