package executor

import (
	"slices"

	"github.com/grafana/colprep/pkg/prep/internal/operator"
	"github.com/grafana/colprep/pkg/prep/internal/planner"
)

// FromPlan compiles plan into a processor with one entry per unit.
//
// An independent unit becomes a [operator.Chain] of its steps. A fused unit
// becomes a chain of processors, one per super-step, so that every
// super-step runs its branches in parallel and completes before the next
// one starts. Super-step processors keep provenance on their results so
// that later branches can refer to columns by origin.
func FromPlan(plan *planner.Plan, opts ...Option) (*Processor, error) {
	base := &Processor{}
	for _, opt := range opts {
		opt(base)
	}
	if base.metrics == nil {
		base.metrics = NewMetrics()
	}
	shared := append(slices.Clone(opts), WithMetrics(base.metrics))

	entries := make([]operator.Entry, 0, len(plan.Units))
	for _, u := range plan.Units {
		var (
			op  operator.Operator
			err error
		)
		switch u.Kind {
		case planner.UnitIndependent:
			op = compileChain(u)
		case planner.UnitFused:
			op, err = compileFused(u, base.cfg, shared)
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, operator.Entry{Name: u.Name, Op: op, Columns: u.Columns})
	}
	return NewProcessor(entries, shared...)
}

func compileChain(u planner.Unit) operator.Operator {
	steps := make([]operator.Operator, 0, len(u.Steps))
	for _, step := range u.Steps {
		operator.SetName(step.Op, step.Name)
		steps = append(steps, step.Op)
	}
	chain := operator.NewChain(u.Name, steps...)
	if len(chain.Steps()) == 0 {
		return nil
	}
	return chain
}

func compileFused(u planner.Unit, cfg Config, opts []Option) (operator.Operator, error) {
	cfg.CollapseIndex = false

	steps := make([]operator.Operator, 0, len(u.SuperSteps))
	for _, branches := range u.SuperSteps {
		entries := make([]operator.Entry, 0, len(branches))
		for _, b := range branches {
			entries = append(entries, operator.Entry{Name: b.Name, Op: b.Step.Op, Columns: b.Step.Columns})
		}
		proc, err := NewProcessor(entries, append(slices.Clone(opts), WithConfig(cfg), WithName(u.Name))...)
		if err != nil {
			return nil, err
		}
		steps = append(steps, proc)
	}
	return operator.NewChain(u.Name, steps...), nil
}
