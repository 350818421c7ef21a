package prep

import (
	"context"
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
	"github.com/grafana/colprep/pkg/prep/internal/executor"
	"github.com/grafana/colprep/pkg/prep/internal/metastore"
	"github.com/grafana/colprep/pkg/prep/internal/operator"
	"github.com/grafana/colprep/pkg/prep/internal/planner"
)

// StepClass is the class name of a [Step].
const StepClass = "Step"

// MappingFunc derives the column mapping of a step from the first table the
// step is fitted on. The store holds the metadata written by earlier steps of
// the run.
type MappingFunc func(ctx context.Context, t arrow.Record, store *metastore.Store) (planner.Mapping, error)

// Step is a stage of a [Pipeline]. It plans its mapping the first time it is
// fitted and runs the resulting processor from then on.
type Step struct {
	name    string
	mapping MappingFunc

	logger log.Logger
	opts   []executor.Option
	store  *metastore.Store

	plan *planner.Plan
	proc *executor.Processor
}

var (
	_ operator.Fitter         = (*Step)(nil)
	_ operator.FitTransformer = (*Step)(nil)
	_ operator.Inverter       = (*Step)(nil)
	_ operator.Namer          = (*Step)(nil)
	_ operator.StoreUser      = (*Step)(nil)
	_ operator.Container      = (*Step)(nil)
	_ operator.Classed        = (*Step)(nil)
)

// NewStep returns a step planning its work with mapping.
func NewStep(name string, mapping MappingFunc) *Step {
	return &Step{name: name, mapping: mapping, logger: log.NewNopLogger()}
}

// configure sets the options of the processor built by s.
func (s *Step) configure(logger log.Logger, opts ...executor.Option) {
	s.logger = log.With(logger, "step", s.name)
	s.opts = slices.Concat(opts, []executor.Option{executor.WithLogger(s.logger), executor.WithName(s.name)})
}

// Plan returns the plan of s, or nil before s has been fitted.
func (s *Step) Plan() *planner.Plan { return s.plan }

// Processor returns the processor of s, or nil before s has been fitted.
func (s *Step) Processor() *executor.Processor { return s.proc }

func (s *Step) Name() string        { return s.name }
func (s *Step) SetName(name string) { s.name = name }
func (s *Step) ClassName() string   { return StepClass }

func (s *Step) Children() []operator.Operator {
	if s.proc == nil {
		return nil
	}
	return []operator.Operator{s.proc}
}

func (s *Step) UseStore(store *metastore.Store) {
	s.store = store
	if s.proc != nil {
		s.proc.UseStore(store)
	}
}

// build plans s on t unless it has been planned before.
func (s *Step) build(ctx context.Context, t arrow.Record) error {
	if s.proc != nil {
		return nil
	}

	m, err := s.mapping(ctx, t, s.store)
	if err != nil {
		return fmt.Errorf("step %q: mapping: %w", s.name, err)
	}
	plan, err := planner.Build(m)
	if err != nil {
		return fmt.Errorf("step %q: %w", s.name, err)
	}
	proc, err := executor.FromPlan(plan, slices.Concat(s.opts, []executor.Option{executor.WithStore(s.store)})...)
	if err != nil {
		return fmt.Errorf("step %q: %w", s.name, err)
	}

	level.Debug(s.logger).Log("msg", "planned step", "units", len(plan.Units), "fingerprint", fmt.Sprintf("%016x", plan.Fingerprint()), "plan", planner.Sprint(plan))
	s.plan, s.proc = plan, proc
	return nil
}

func (s *Step) Fit(ctx context.Context, t arrow.Record, labels arrow.Array) error {
	if err := s.build(ctx, t); err != nil {
		return err
	}
	return s.proc.Fit(ctx, t, labels)
}

func (s *Step) FitTransform(ctx context.Context, t arrow.Record, labels arrow.Array) (arrow.Record, error) {
	if err := s.build(ctx, t); err != nil {
		return nil, err
	}
	return s.proc.FitTransform(ctx, t, labels)
}

func (s *Step) Transform(ctx context.Context, t arrow.Record) (arrow.Record, error) {
	if s.proc == nil {
		return nil, fmt.Errorf("step %q: %w", s.name, preperrors.ErrNotFitted)
	}
	return s.proc.Transform(ctx, t)
}

func (s *Step) InverseTransform(ctx context.Context, t arrow.Record) (arrow.Record, error) {
	if s.proc == nil {
		return nil, fmt.Errorf("step %q: %w", s.name, preperrors.ErrNotFitted)
	}
	return s.proc.InverseTransform(ctx, t)
}

// Params returns the name of s and, once planned, its processor.
func (s *Step) Params() operator.Params {
	p := operator.Params{"name": s.name}
	if s.proc != nil {
		p["processor"] = operator.Encode(s.proc)
	}
	return p
}
