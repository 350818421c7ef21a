// Package operatortest provides operators for testing the engine.
package operatortest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
	"github.com/grafana/colprep/pkg/prep/internal/metastore"
	"github.com/grafana/colprep/pkg/prep/internal/operator"
)

// Rename is a fittable, invertible operator which appends Suffix to the name
// of every column it transforms. Values are left unchanged.
//
// When Aspect is set, Fit writes (Aspect, column) = Suffix into the store of
// the operator for every input column.
type Rename struct {
	Suffix string
	Aspect string

	// OnFit is called at the start of Fit.
	OnFit func(ctx context.Context) error

	name    string
	keep    bool
	store   *metastore.Store
	fitted  bool
	fits    int
	columns []string
}

var (
	_ operator.Fitter       = (*Rename)(nil)
	_ operator.Inverter     = (*Rename)(nil)
	_ operator.Configurable = (*Rename)(nil)
	_ operator.Namer        = (*Rename)(nil)
	_ operator.ColumnKeeper = (*Rename)(nil)
	_ operator.StoreUser    = (*Rename)(nil)
	_ operator.Cloner       = (*Rename)(nil)
)

// NewRename returns a Rename operator appending suffix.
func NewRename(suffix string) *Rename { return &Rename{Suffix: suffix} }

// RegisterRename registers Rename on r.
func RegisterRename(r *operator.Registry) {
	r.Register("Rename", func(p operator.Params) (operator.Operator, error) {
		op := &Rename{}
		return op, op.SetParams(p)
	})
}

func (r *Rename) Fit(ctx context.Context, t arrow.Record, _ arrow.Array) error {
	if r.OnFit != nil {
		if err := r.OnFit(ctx); err != nil {
			return err
		}
	}
	r.fits++
	r.fitted = true
	r.columns = fieldNames(t)
	if r.Aspect != "" && r.store != nil {
		for _, col := range r.columns {
			r.store.Set(r.Aspect, col, r.Suffix)
		}
	}
	return nil
}

func (r *Rename) Transform(_ context.Context, t arrow.Record) (arrow.Record, error) {
	if !r.fitted {
		return nil, fmt.Errorf("rename %q: %w", r.Suffix, preperrors.ErrNotFitted)
	}
	out := renamed(t, func(name string) string { return name + r.Suffix })
	if !r.keep {
		return out, nil
	}
	defer out.Release()
	cols := slices.Concat(t.Columns(), out.Columns())
	fields := slices.Concat(t.Schema().Fields(), out.Schema().Fields())
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, t.NumRows()), nil
}

func (r *Rename) InverseTransform(_ context.Context, t arrow.Record) (arrow.Record, error) {
	if !r.fitted {
		return nil, fmt.Errorf("rename %q: %w", r.Suffix, preperrors.ErrNotFitted)
	}
	return renamed(t, func(name string) string { return strings.TrimSuffix(name, r.Suffix) }), nil
}

// Fits returns how often the operator was fitted.
func (r *Rename) Fits() int { return r.fits }

// FittedColumns returns the column names seen by the last Fit.
func (r *Rename) FittedColumns() []string { return r.columns }

// KeepColumns reports whether input columns are kept in the output.
func (r *Rename) KeepColumns() bool { return r.keep }

// Store returns the store injected into the operator.
func (r *Rename) Store() *metastore.Store { return r.store }

func (r *Rename) Name() string                { return r.name }
func (r *Rename) SetName(name string)         { r.name = name }
func (r *Rename) SetKeepColumns(keep bool)    { r.keep = keep }
func (r *Rename) UseStore(s *metastore.Store) { r.store = s }

func (r *Rename) Params() operator.Params {
	return operator.Params{"suffix": r.Suffix, "aspect": r.Aspect}
}

func (r *Rename) SetParams(p operator.Params) error {
	if v, ok := p["suffix"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("suffix: expected string, got %T", v)
		}
		r.Suffix = s
	}
	if v, ok := p["aspect"].(string); ok {
		r.Aspect = v
	}
	return nil
}

func (r *Rename) Clone() (operator.Operator, error) {
	cp := *r
	cp.columns = append([]string(nil), r.columns...)
	return &cp, nil
}

// Expand keeps its input and appends a copy of the first input column named
// Column. It lets a later step consume a column created by an earlier one.
type Expand struct {
	Column string
	fitted bool
}

var (
	_ operator.FitTransformer = (*Expand)(nil)
	_ operator.Cloner         = (*Expand)(nil)
)

func (e *Expand) FitTransform(ctx context.Context, t arrow.Record, _ arrow.Array) (arrow.Record, error) {
	e.fitted = true
	return e.Transform(ctx, t)
}

func (e *Expand) Transform(_ context.Context, t arrow.Record) (arrow.Record, error) {
	if !e.fitted {
		return nil, fmt.Errorf("expand %q: %w", e.Column, preperrors.ErrNotFitted)
	}
	if t.NumCols() == 0 {
		t.Retain()
		return t, nil
	}
	first := t.Schema().Field(0)
	first.Name = e.Column
	fields := slices.Concat(t.Schema().Fields(), []arrow.Field{first})
	cols := slices.Concat(t.Columns(), []arrow.Array{t.Column(0)})
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, t.NumRows()), nil
}

func (e *Expand) Clone() (operator.Operator, error) {
	cp := *e
	return &cp, nil
}

// Fitted reports whether the operator was fitted.
func (e *Expand) Fitted() bool { return e.fitted }

// TransformOnly can transform but never be fitted.
type TransformOnly struct{}

func (TransformOnly) Transform(_ context.Context, t arrow.Record) (arrow.Record, error) {
	t.Retain()
	return t, nil
}

// ErrBoom is returned by [Failing].
var ErrBoom = errors.New("boom")

// Failing fails every call with [ErrBoom].
type Failing struct{}

func (Failing) Fit(context.Context, arrow.Record, arrow.Array) error { return ErrBoom }

func (Failing) Transform(context.Context, arrow.Record) (arrow.Record, error) { return nil, ErrBoom }

// Rendezvous returns a function suitable for [Rename.OnFit] which blocks
// until n callers arrived. It fails if the callers do not meet within
// timeout, which proves that they did not run concurrently.
func Rendezvous(n int, timeout time.Duration) func(context.Context) error {
	var (
		mtx     sync.Mutex
		arrived int
		all     = make(chan struct{})
	)
	return func(ctx context.Context) error {
		mtx.Lock()
		arrived++
		if arrived == n {
			close(all)
		}
		mtx.Unlock()

		select {
		case <-all:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timeout):
			return fmt.Errorf("rendezvous of %d callers timed out", n)
		}
	}
}

func renamed(t arrow.Record, rename func(string) string) arrow.Record {
	fields := make([]arrow.Field, 0, t.NumCols())
	for _, f := range t.Schema().Fields() {
		f.Name = rename(f.Name)
		fields = append(fields, f)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), t.Columns(), t.NumRows())
}

func fieldNames(t arrow.Record) []string {
	names := make([]string, 0, t.NumCols())
	for _, f := range t.Schema().Fields() {
		names = append(names, f.Name)
	}
	return names
}
