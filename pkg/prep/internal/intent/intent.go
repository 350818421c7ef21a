// Package intent infers the semantic intent of columns and records it in the
// metadata store.
package intent

import (
	"context"
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/grafana/colprep/pkg/prep/internal/operator"
	"github.com/grafana/colprep/pkg/prep/internal/resolve"
)

// Aspect is the store aspect intents are recorded under.
const Aspect = "intent"

// CategoricalRatio is the ratio of distinct to non-null values below which a
// column is categorical.
const CategoricalRatio = 0.2

// Kind is the intent of a column.
type Kind uint8

const (
	Neither Kind = iota
	Numeric
	Categorical
)

var kinds = []Kind{Neither, Numeric, Categorical}

func (k Kind) String() string {
	switch k {
	case Neither:
		return "Neither"
	case Numeric:
		return "Numeric"
	case Categorical:
		return "Categorical"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ParseKind returns the kind named s.
func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return Neither, fmt.Errorf("unknown intent %q", s)
}

// Infer returns the intent of arr. A column is numeric if any of its values
// is a number, categorical if few of its values are distinct, and neither
// otherwise.
func Infer(arr arrow.Array) Kind {
	switch {
	case arr.NullN() == arr.Len():
		if isNumericType(arr.DataType()) {
			return Categorical
		}
		return Neither
	case isNumericType(arr.DataType()):
		return Numeric
	}

	var (
		count    int
		distinct = make(map[string]struct{})
	)
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		v := valueStr(arr, i)
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return Numeric
		}
		count++
		distinct[v] = struct{}{}
	}
	if float64(len(distinct))/float64(count) < CategoricalRatio {
		return Categorical
	}
	return Neither
}

func isNumericType(dt arrow.DataType) bool {
	return arrow.IsInteger(dt.ID()) || arrow.IsFloating(dt.ID()) || dt.ID() == arrow.BOOL
}

func valueStr(arr arrow.Array, i int) string {
	if s, ok := arr.(*array.String); ok {
		return s.Value(i)
	}
	return arr.ValueStr(i)
}

// Operator marks columns with an intent. It passes its input through
// unchanged.
type Operator struct {
	kind Kind
	name string
}

var (
	_ operator.Fitter   = (*Operator)(nil)
	_ operator.Inverter = (*Operator)(nil)
	_ operator.Namer    = (*Operator)(nil)
	_ operator.Cloner   = (*Operator)(nil)
)

// New returns the operator of kind.
func New(kind Kind) *Operator { return &Operator{kind: kind} }

// Kind returns the intent of the operator.
func (o *Operator) Kind() Kind { return o.kind }

func (o *Operator) Fit(context.Context, arrow.Record, arrow.Array) error { return nil }

func (o *Operator) Transform(_ context.Context, t arrow.Record) (arrow.Record, error) {
	t.Retain()
	return t, nil
}

func (o *Operator) InverseTransform(_ context.Context, t arrow.Record) (arrow.Record, error) {
	t.Retain()
	return t, nil
}

func (o *Operator) ClassName() string                 { return o.kind.String() }
func (o *Operator) Name() string                      { return o.name }
func (o *Operator) SetName(name string)               { o.name = name }
func (o *Operator) Params() operator.Params           { return operator.Params{} }
func (o *Operator) Clone() (operator.Operator, error) { cp := *o; return &cp, nil }

// Register registers the operators of every intent on reg, and a factory
// for unresolved intent resolvers.
func Register(reg *operator.Registry) {
	for _, k := range kinds {
		reg.Register(k.String(), func(operator.Params) (operator.Operator, error) {
			return New(k), nil
		})
	}
	reg.Register(resolve.Class, func(p operator.Params) (operator.Operator, error) {
		if sel, _ := p["selector"].(string); sel != Aspect {
			return nil, fmt.Errorf("unknown selector %q", sel)
		}
		r, err := NewResolver(resolve.Config{Registry: reg})
		if err != nil {
			return nil, err
		}
		return r, r.SetParams(p)
	})
}

// Selector picks the operator matching the intent of the first column of a
// sample. Samples without columns have no intent.
func Selector() resolve.Selector {
	return resolve.SelectorFunc(func(_ context.Context, s resolve.Sample) (operator.Operator, error) {
		if s.Table == nil || s.Table.NumCols() == 0 {
			return New(Neither), nil
		}
		return New(Infer(s.Table.Column(0))), nil
	})
}

// NewResolver returns a resolvable operator which binds the intent of its
// first column. Every fit records the bound intent in the store under
// [Aspect], so a fresh store holds it even when the fit did not resolve.
func NewResolver(cfg resolve.Config) (*resolve.Operator, error) {
	next := cfg.OnFit
	cfg.OnFit = func(ctx context.Context, s resolve.Sample, op operator.Operator) {
		if cols := s.Columns(); len(cols) > 0 && s.Store != nil {
			s.Store.Set(Aspect, cols[0], operator.ClassName(op))
		}
		if next != nil {
			next(ctx, s, op)
		}
	}
	if cfg.Params == nil {
		cfg.Params = operator.Params{"selector": Aspect}
	}
	return resolve.New(Selector(), cfg)
}
