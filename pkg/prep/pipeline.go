// Package prep runs ordered preparation steps over arrow records. Every step
// maps groups of columns to operators, plans them into independent and
// step-synchronized units, and executes the units in parallel while keeping
// track of which input column every output column derives from.
package prep

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
	"github.com/grafana/colprep/pkg/prep/internal/executor"
	"github.com/grafana/colprep/pkg/prep/internal/metastore"
	"github.com/grafana/colprep/pkg/prep/internal/operator"
	"github.com/grafana/colprep/pkg/prep/internal/table"
)

var tracer = otel.Tracer("pkg/prep")

// Pipeline runs steps in order, feeding the output of every step to the
// next one. Every fit is a run with its own metadata store, shared by all
// steps, so that a step planning its mapping can read what earlier steps
// recorded.
type Pipeline struct {
	logger     log.Logger
	registerer prometheus.Registerer
	metrics    *executor.Metrics
	cfg        Config

	steps []*Step
	chain *operator.Chain

	run   ulid.ULID
	store *metastore.Store
}

// New returns a pipeline running steps. Step names must be unique.
func New(params Params, steps ...*Step) (*Pipeline, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(steps))
	ops := make([]operator.Operator, 0, len(steps))
	for _, s := range steps {
		if _, ok := seen[s.Name()]; ok {
			return nil, fmt.Errorf("%w: step %q", preperrors.ErrDuplicateName, s.Name())
		}
		seen[s.Name()] = struct{}{}
		ops = append(ops, s)
	}

	metrics := executor.NewMetrics()
	if err := metrics.Register(params.Registerer); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	// Provenance is collapsed once at the end of the pipeline, never between
	// steps.
	stepCfg := params.Config.Executor
	stepCfg.CollapseIndex = false
	for _, s := range steps {
		s.configure(params.Logger, executor.WithConfig(stepCfg), executor.WithMetrics(metrics))
	}

	return &Pipeline{
		logger:     params.Logger,
		registerer: params.Registerer,
		metrics:    metrics,
		cfg:        params.Config,

		steps: steps,
		chain: operator.NewChain("pipeline", ops...),
	}, nil
}

// Close unregisters the metrics of p.
func (p *Pipeline) Close() {
	p.metrics.Unregister(p.registerer)
}

// Steps returns the steps of p in execution order.
func (p *Pipeline) Steps() []*Step { return p.steps }

// RunID returns the identifier of the last run, or the zero ULID before the
// first fit.
func (p *Pipeline) RunID() ulid.ULID { return p.run }

// Store returns the metadata store of the last run.
func (p *Pipeline) Store() *metastore.Store { return p.store }

// startRun gives p a fresh store and run identifier.
func (p *Pipeline) startRun() {
	p.run = ulid.Make()
	p.store = metastore.New()
	operator.InjectStore(p.chain, p.store)
}

// Fit fits every step on the output of the previous one.
func (p *Pipeline) Fit(ctx context.Context, t arrow.Record, labels arrow.Array) error {
	p.startRun()
	_, err := p.do(ctx, "fit", t, func(ctx context.Context) (arrow.Record, error) {
		return nil, p.chain.Fit(ctx, t, labels)
	})
	return err
}

// FitTransform fits every step and returns the output of the last one.
func (p *Pipeline) FitTransform(ctx context.Context, t arrow.Record, labels arrow.Array) (arrow.Record, error) {
	p.startRun()
	return p.do(ctx, "fit_transform", t, func(ctx context.Context) (arrow.Record, error) {
		out, err := p.chain.FitTransform(ctx, t, labels)
		return p.collapse(out, err)
	})
}

// Transform runs every fitted step.
func (p *Pipeline) Transform(ctx context.Context, t arrow.Record) (arrow.Record, error) {
	return p.do(ctx, "transform", t, func(ctx context.Context) (arrow.Record, error) {
		out, err := p.chain.Transform(ctx, t)
		return p.collapse(out, err)
	})
}

// InverseTransform inverts every step in reverse order. t must keep its
// provenance, so it cannot be a collapsed result.
func (p *Pipeline) InverseTransform(ctx context.Context, t arrow.Record) (arrow.Record, error) {
	return p.do(ctx, "inverse_transform", t, func(ctx context.Context) (arrow.Record, error) {
		return p.chain.InverseTransform(ctx, t)
	})
}

func (p *Pipeline) do(ctx context.Context, op string, t arrow.Record, fn func(ctx context.Context) (arrow.Record, error)) (arrow.Record, error) {
	ctx, span := tracer.Start(ctx, "Pipeline."+op, trace.WithAttributes(
		attribute.String("run", p.run.String()),
		attribute.Int("steps", len(p.steps)),
		attribute.Int64("rows", t.NumRows()),
		attribute.Int64("columns", t.NumCols()),
	))
	defer span.End()

	logger := log.With(p.logger, "run", p.run, "op", op)
	start := time.Now()

	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		level.Error(logger).Log("msg", "pipeline failed", "duration", time.Since(start), "err", err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")

	kvs := []any{"msg", "pipeline finished", "duration", time.Since(start)}
	if out != nil {
		kvs = append(kvs, "columns", out.NumCols())
	}
	if p.store != nil {
		kvs = append(kvs, "store_keys", p.store.Len())
	}
	level.Info(logger).Log(kvs...)
	return out, nil
}

func (p *Pipeline) collapse(out arrow.Record, err error) (arrow.Record, error) {
	if err != nil || !p.cfg.Executor.CollapseIndex {
		return out, err
	}
	defer out.Release()
	return table.Collapse(out)
}

// MarshalJSON encodes the steps of p.
func (p *Pipeline) MarshalJSON() ([]byte, error) {
	steps := make([]operator.Params, 0, len(p.steps))
	for _, s := range p.steps {
		steps = append(steps, s.Params())
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(steps)
}
