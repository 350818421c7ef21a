// Package operator defines the capability contract between the preparation
// engine and the column operators it runs.
//
// The engine never inspects an operator beyond the interfaces in this
// package. Every operator transforms; fitting may be provided either as
// [Fitter] or as [FitTransformer]. All other capabilities are optional.
//
// Tables are passed as [arrow.Record] values. Operators must not release
// their input, and the caller owns every record an operator returns.
package operator

import (
	"context"
	"fmt"
	"maps"
	"reflect"

	"github.com/apache/arrow-go/v18/arrow"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
	"github.com/grafana/colprep/pkg/prep/internal/metastore"
	"github.com/grafana/colprep/pkg/prep/internal/table"
)

// Operator transforms a table. It is the only capability every operator
// must provide.
type Operator interface {
	Transform(ctx context.Context, t arrow.Record) (arrow.Record, error)
}

// Fitter is an operator that learns its state from a table. labels may be
// nil.
type Fitter interface {
	Fit(ctx context.Context, t arrow.Record, labels arrow.Array) error
}

// FitTransformer is an operator that fits and transforms in a single pass.
type FitTransformer interface {
	FitTransform(ctx context.Context, t arrow.Record, labels arrow.Array) (arrow.Record, error)
}

// Inverter is an operator that can undo its transformation.
type Inverter interface {
	InverseTransform(ctx context.Context, t arrow.Record) (arrow.Record, error)
}

// Configurable operators round-trip their configuration through [Params].
type Configurable interface {
	Params() Params
	SetParams(p Params) error
}

// Classed operators report the class name they are registered under.
type Classed interface {
	ClassName() string
}

// Cloner operators return a deep copy of themselves.
type Cloner interface {
	Clone() (Operator, error)
}

// Namer operators carry a display name.
type Namer interface {
	Name() string
	SetName(name string)
}

// ColumnKeeper operators can keep their original input columns next to the
// columns they produce.
type ColumnKeeper interface {
	SetKeepColumns(keep bool)
}

// StoreUser operators read or write the shared metadata store of a run.
type StoreUser interface {
	UseStore(s *metastore.Store)
}

// Container operators hold nested operators.
type Container interface {
	Children() []Operator
}

// Entry associates an operator with the columns it reads. A nil Op marks a
// skipped operator, which is ignored during execution and serialization.
type Entry struct {
	Name    string
	Op      Operator
	Columns []table.Ref
	// Weight multiplies the numeric output of the operator when set.
	Weight *float64
}

// Params holds the configuration of an operator.
type Params map[string]any

// ClassNameKey is the parameter naming the class of a serialized operator.
const ClassNameKey = "class_name"

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Check reports an [preperrors.ErrContractViolation] if op can be neither
// fitted nor fit-transformed.
func Check(op Operator) error {
	if op == nil {
		return nil
	}
	_, fits := op.(Fitter)
	_, fitTransforms := op.(FitTransformer)
	if !fits && !fitTransforms {
		return fmt.Errorf("%w: %s implements neither Fit nor FitTransform", preperrors.ErrContractViolation, Describe(op))
	}
	return nil
}

// Fit fits op on t, falling back to FitTransform when op has no Fit method.
func Fit(ctx context.Context, op Operator, t arrow.Record, labels arrow.Array) error {
	switch op := op.(type) {
	case Fitter:
		return op.Fit(ctx, t, labels)
	case FitTransformer:
		out, err := op.FitTransform(ctx, t, labels)
		if err != nil {
			return err
		}
		out.Release()
		return nil
	default:
		return Check(op)
	}
}

// FitTransform fits op on t and returns the transformed table, preferring the
// fused FitTransform method when op provides it.
func FitTransform(ctx context.Context, op Operator, t arrow.Record, labels arrow.Array) (arrow.Record, error) {
	switch fop := op.(type) {
	case FitTransformer:
		return fop.FitTransform(ctx, t, labels)
	case Fitter:
		if err := fop.Fit(ctx, t, labels); err != nil {
			return nil, err
		}
		return op.Transform(ctx, t)
	default:
		return nil, Check(op)
	}
}

// Inverse inverts t with op, or fails with
// [preperrors.ErrInverseUnavailable] when op cannot invert.
func Inverse(ctx context.Context, op Operator, t arrow.Record) (arrow.Record, error) {
	inv, ok := op.(Inverter)
	if !ok {
		return nil, fmt.Errorf("%w: %s", preperrors.ErrInverseUnavailable, Describe(op))
	}
	return inv.InverseTransform(ctx, t)
}

// ClassName returns the class name of op: the result of
// [Classed.ClassName] when implemented, or the name of its Go type.
func ClassName(op Operator) string {
	if c, ok := op.(Classed); ok {
		return c.ClassName()
	}
	typ := reflect.TypeOf(op)
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ == nil {
		return "<nil>"
	}
	return typ.Name()
}

// Describe returns a human readable identification of op for error messages.
func Describe(op Operator) string {
	if n, ok := op.(Namer); ok && n.Name() != "" {
		return fmt.Sprintf("%q (%s)", n.Name(), ClassName(op))
	}
	return ClassName(op)
}

// Encode returns the serialized form of op: its parameters plus its class
// name.
func Encode(op Operator) Params {
	var p Params
	if c, ok := op.(interface{ Params() Params }); ok {
		p = c.Params().Clone()
	}
	if p == nil {
		p = Params{}
	}
	p[ClassNameKey] = ClassName(op)
	return p
}
