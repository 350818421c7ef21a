package operator

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// IdentityClass is the class name of [Identity].
const IdentityClass = "Identity"

// Identity is an operator that returns its input unchanged. Resolvers fall
// back to it when no other operator applies to a column.
type Identity struct{}

var (
	_ Fitter       = Identity{}
	_ Inverter     = Identity{}
	_ Configurable = Identity{}
	_ Cloner       = Identity{}
)

func (Identity) Fit(context.Context, arrow.Record, arrow.Array) error { return nil }

func (Identity) Transform(_ context.Context, t arrow.Record) (arrow.Record, error) {
	t.Retain()
	return t, nil
}

func (Identity) InverseTransform(_ context.Context, t arrow.Record) (arrow.Record, error) {
	t.Retain()
	return t, nil
}

func (Identity) ClassName() string { return IdentityClass }

func (Identity) Params() Params { return Params{} }

func (Identity) SetParams(Params) error { return nil }

func (Identity) Clone() (Operator, error) { return Identity{}, nil }
