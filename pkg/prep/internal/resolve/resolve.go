// Package resolve implements operators whose concrete implementation is
// chosen from the first data they see.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
	"github.com/grafana/colprep/pkg/prep/internal/metastore"
	"github.com/grafana/colprep/pkg/prep/internal/operator"
	"github.com/grafana/colprep/pkg/prep/internal/table"
)

var tracer = otel.Tracer("pkg/prep/internal/resolve")

// Class is the class name of an unresolved [Operator].
const Class = "Resolvable"

// State is the resolution state of an [Operator].
type State uint8

const (
	Unresolved State = iota
	Resolving
	Resolved
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Sample is the data a [Selector] chooses an operator from.
type Sample struct {
	Table  arrow.Record
	Labels arrow.Array // May be nil.
	Store  *metastore.Store
}

// Columns returns the column names of the sample table.
func (s Sample) Columns() []string {
	if s.Table == nil {
		return nil
	}
	return table.Names(s.Table.Schema())
}

// Selector chooses a concrete operator for a sample.
type Selector interface {
	Select(ctx context.Context, s Sample) (operator.Operator, error)
}

// SelectorFunc adapts a function to a [Selector].
type SelectorFunc func(ctx context.Context, s Sample) (operator.Operator, error)

func (f SelectorFunc) Select(ctx context.Context, s Sample) (operator.Operator, error) {
	return f(ctx, s)
}

// Config configures an [Operator].
type Config struct {
	// Name is the display name, propagated to the bound operator.
	Name string
	// KeepColumns is propagated to bound operators implementing
	// [operator.ColumnKeeper].
	KeepColumns bool
	// ForceReresolve selects a new operator on every fit.
	ForceReresolve bool

	// Override binds an operator permanently without consulting the
	// selector.
	Override operator.Operator

	// OnResolve is called after a selected operator has been bound.
	OnResolve func(ctx context.Context, s Sample, op operator.Operator)

	// OnFit is called on every fit with the bound operator, before it is
	// fitted, whether or not the fit resolved it.
	OnFit func(ctx context.Context, s Sample, op operator.Operator)

	// Params is the selection configuration, serialized while unresolved.
	Params operator.Params

	// Registry instantiates operators from parameters. It is used to copy
	// operators which cannot clone themselves and by SetParams.
	Registry *operator.Registry

	Logger log.Logger
}

// Operator defers the choice of its concrete implementation to the first
// fit. It satisfies every capability interface of package operator and
// delegates to the bound operator.
type Operator struct {
	cfg      Config
	selector Selector
	logger   log.Logger

	state         State
	shouldResolve bool
	overridden    bool
	bound         operator.Operator
	fitted        bool
	store         *metastore.Store
}

var (
	_ operator.Fitter         = (*Operator)(nil)
	_ operator.FitTransformer = (*Operator)(nil)
	_ operator.Inverter       = (*Operator)(nil)
	_ operator.Configurable   = (*Operator)(nil)
	_ operator.Namer          = (*Operator)(nil)
	_ operator.ColumnKeeper   = (*Operator)(nil)
	_ operator.StoreUser      = (*Operator)(nil)
	_ operator.Container      = (*Operator)(nil)
	_ operator.Cloner         = (*Operator)(nil)
)

// New returns an operator resolved through selector. If cfg carries an
// override the operator is resolved immediately and never consults
// selector.
func New(selector Selector, cfg Config) (*Operator, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	o := &Operator{
		cfg:           cfg,
		selector:      selector,
		logger:        cfg.Logger,
		shouldResolve: true,
	}
	if cfg.Override != nil {
		if err := o.assign(cfg.Override); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", preperrors.ErrResolution, o.describe(), err)
		}
		o.overridden = true
		o.shouldResolve = false
	} else if selector == nil {
		return nil, fmt.Errorf("%w: %q has neither a selector nor an override", preperrors.ErrResolution, cfg.Name)
	}
	return o, nil
}

// State returns the resolution state.
func (o *Operator) State() State { return o.state }

// Bound returns the bound operator, or nil while unresolved.
func (o *Operator) Bound() operator.Operator { return o.bound }

// ShouldResolve reports whether the next fit selects an operator.
func (o *Operator) ShouldResolve() bool {
	return o.shouldResolve || (o.cfg.ForceReresolve && !o.overridden)
}

func (o *Operator) resolve(ctx context.Context, s Sample) error {
	if o.overridden || !o.ShouldResolve() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Operator.resolve", trace.WithAttributes(
		attribute.String("name", o.cfg.Name),
		attribute.StringSlice("columns", s.Columns()),
	))
	defer span.End()

	prev := o.state
	o.state = Resolving

	op, err := o.selector.Select(ctx, s)
	if err == nil && op == nil {
		err = errors.New("selector returned no operator")
	}
	if err == nil {
		err = operator.Check(op)
	}
	if err == nil {
		err = o.assign(op)
	}
	if err != nil {
		o.state = prev
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %s: %w", preperrors.ErrResolution, o.describe(), err)
	}

	o.shouldResolve = false
	o.fitted = false
	span.SetStatus(codes.Ok, "")
	level.Debug(o.logger).Log("msg", "resolved operator", "name", o.cfg.Name, "class", operator.ClassName(o.bound), "columns", fmt.Sprint(s.Columns()))

	if o.cfg.OnResolve != nil {
		o.cfg.OnResolve(ctx, s, o.bound)
	}
	return nil
}

// assign binds a copy of op and propagates the wrapper configuration to it.
// Operators which can be neither cloned nor rebuilt through the registry are
// rejected.
func (o *Operator) assign(op operator.Operator) error {
	cp, err := operator.Clone(op, o.cfg.Registry)
	if err != nil {
		return err
	}
	operator.SetName(cp, o.cfg.Name)
	if k, ok := cp.(operator.ColumnKeeper); ok {
		k.SetKeepColumns(o.cfg.KeepColumns)
	}
	if o.store != nil {
		operator.InjectStore(cp, o.store)
	}
	o.bound = cp
	o.state = Resolved
	return nil
}

func (o *Operator) sample(t arrow.Record, labels arrow.Array) Sample {
	return Sample{Table: t, Labels: labels, Store: o.store}
}

// prepare resolves o if needed and runs the OnFit hook.
func (o *Operator) prepare(ctx context.Context, t arrow.Record, labels arrow.Array) error {
	s := o.sample(t, labels)
	if err := o.resolve(ctx, s); err != nil {
		return err
	}
	if o.cfg.OnFit != nil {
		o.cfg.OnFit(ctx, s, o.bound)
	}
	return nil
}

func (o *Operator) Fit(ctx context.Context, t arrow.Record, labels arrow.Array) error {
	if err := o.prepare(ctx, t, labels); err != nil {
		return err
	}
	if err := operator.Fit(ctx, o.bound, t, labels); err != nil {
		return fmt.Errorf("%s: %w", o.describe(), err)
	}
	o.fitted = true
	return nil
}

func (o *Operator) FitTransform(ctx context.Context, t arrow.Record, labels arrow.Array) (arrow.Record, error) {
	if err := o.prepare(ctx, t, labels); err != nil {
		return nil, err
	}
	out, err := operator.FitTransform(ctx, o.bound, t, labels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.describe(), err)
	}
	o.fitted = true
	return out, nil
}

// Transform fails with [preperrors.ErrNotFitted] until the operator has been
// fitted. Transform never resolves: an unresolved operator does not consult
// its selector here, and a forced re-resolution waits for the next fit.
func (o *Operator) Transform(ctx context.Context, t arrow.Record) (arrow.Record, error) {
	if !o.fitted {
		return nil, fmt.Errorf("%s: %w", o.describe(), preperrors.ErrNotFitted)
	}
	out, err := o.bound.Transform(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.describe(), err)
	}
	return out, nil
}

func (o *Operator) InverseTransform(ctx context.Context, t arrow.Record) (arrow.Record, error) {
	if !o.fitted {
		return nil, fmt.Errorf("%s: %w", o.describe(), preperrors.ErrNotFitted)
	}
	out, err := operator.Inverse(ctx, o.bound, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.describe(), err)
	}
	return out, nil
}

func (o *Operator) Name() string { return o.cfg.Name }

func (o *Operator) SetName(name string) {
	o.cfg.Name = name
	if o.bound != nil {
		operator.SetName(o.bound, name)
	}
}

func (o *Operator) SetKeepColumns(keep bool) {
	o.cfg.KeepColumns = keep
	if k, ok := o.bound.(operator.ColumnKeeper); ok {
		k.SetKeepColumns(keep)
	}
}

func (o *Operator) UseStore(s *metastore.Store) {
	o.store = s
	if o.bound != nil {
		operator.InjectStore(o.bound, s)
	}
}

// Children returns the bound operator, if any.
func (o *Operator) Children() []operator.Operator {
	if o.bound == nil {
		return nil
	}
	return []operator.Operator{o.bound}
}

// ClassName returns the class of the bound operator once resolved.
func (o *Operator) ClassName() string {
	if o.state == Resolved {
		return operator.ClassName(o.bound)
	}
	return Class
}

// Clone returns a copy of o holding a copy of the bound operator.
func (o *Operator) Clone() (operator.Operator, error) {
	cp := *o
	cp.cfg.Params = o.cfg.Params.Clone()
	if o.bound != nil {
		bound, err := operator.Clone(o.bound, o.cfg.Registry)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o.describe(), err)
		}
		cp.bound = bound
	}
	return &cp, nil
}

const (
	paramName           = "name"
	paramKeepColumns    = "keep_columns"
	paramForceReresolve = "force_reresolve"
)

// Params returns the parameters of the bound operator, tagged with its
// class name, once resolved. Before that it returns the selection
// configuration.
func (o *Operator) Params() operator.Params {
	if o.state == Resolved {
		return operator.Encode(o.bound)
	}
	p := o.cfg.Params.Clone()
	if p == nil {
		p = operator.Params{}
	}
	p[paramName] = o.cfg.Name
	p[paramKeepColumns] = o.cfg.KeepColumns
	p[paramForceReresolve] = o.cfg.ForceReresolve
	return p
}

// SetParams binds the operator described by p when p names a class, which
// resolves o permanently. Otherwise the parameters are forwarded to the bound
// operator, or update the selection configuration while unresolved.
func (o *Operator) SetParams(p operator.Params) error {
	if _, ok := p[operator.ClassNameKey]; ok {
		if o.cfg.Registry == nil {
			return fmt.Errorf("%w: %s has no registry", preperrors.ErrUnknownClass, o.describe())
		}
		op, err := o.cfg.Registry.Decode(p)
		if err != nil {
			return fmt.Errorf("%s: %w", o.describe(), err)
		}
		if err := o.assign(op); err != nil {
			return fmt.Errorf("%w: %s: %w", preperrors.ErrResolution, o.describe(), err)
		}
		o.shouldResolve = false
		o.fitted = false
		return nil
	}

	if c, ok := o.bound.(operator.Configurable); ok && o.state == Resolved {
		return c.SetParams(p)
	}

	if o.cfg.Params == nil {
		o.cfg.Params = operator.Params{}
	}
	for k, v := range p {
		switch k {
		case paramName:
			name, _ := v.(string)
			o.SetName(name)
		case paramKeepColumns:
			keep, _ := v.(bool)
			o.SetKeepColumns(keep)
		case paramForceReresolve:
			force, _ := v.(bool)
			o.cfg.ForceReresolve = force
		default:
			o.cfg.Params[k] = v
		}
	}
	return nil
}

// MarshalJSON encodes [Operator.Params].
func (o *Operator) MarshalJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(o.Params())
}

func (o *Operator) describe() string {
	if o.cfg.Name != "" {
		return fmt.Sprintf("resolvable operator %q", o.cfg.Name)
	}
	return "resolvable operator"
}
