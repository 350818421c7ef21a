// Package executor runs operator entries over column slices of a table
// concurrently and reassembles their outputs with provenance.
package executor

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/concurrency"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
	"github.com/grafana/colprep/pkg/prep/internal/metastore"
	"github.com/grafana/colprep/pkg/prep/internal/operator"
	"github.com/grafana/colprep/pkg/prep/internal/table"
)

var tracer = otel.Tracer("pkg/prep/internal/executor")

// Class is the class name of a [Processor].
const Class = "Processor"

type mode uint8

const (
	modeFit mode = iota
	modeFitTransform
	modeTransform
	modeInverse
)

func (m mode) String() string {
	switch m {
	case modeFit:
		return "fit"
	case modeFitTransform:
		return "fit_transform"
	case modeTransform:
		return "transform"
	case modeInverse:
		return "inverse_transform"
	default:
		return fmt.Sprintf("mode(%d)", m)
	}
}

func (m mode) fits() bool { return m == modeFit || m == modeFitTransform }

// Option configures a [Processor].
type Option func(*Processor)

// WithConfig sets the configuration of the processor.
func WithConfig(cfg Config) Option { return func(p *Processor) { p.cfg = cfg } }

// WithLogger sets the logger of the processor.
func WithLogger(logger log.Logger) Option { return func(p *Processor) { p.logger = logger } }

// WithMetrics makes the processor report to m.
func WithMetrics(m *Metrics) Option { return func(p *Processor) { p.metrics = m } }

// WithStore injects s into the processor and its operators.
func WithStore(s *metastore.Store) Option { return func(p *Processor) { p.store = s } }

// WithName sets the display name of the processor.
func WithName(name string) Option { return func(p *Processor) { p.name = name } }

// Processor applies operator entries to column slices of a table in
// parallel. Outputs are tagged with the origin of their input columns and
// joined in entry order, followed by all columns no entry selected.
type Processor struct {
	name    string
	cfg     Config
	logger  log.Logger
	metrics *Metrics

	entries []operator.Entry
	fitted  bool

	storeMtx sync.Mutex // Serializes merges into store.
	store    *metastore.Store
}

var (
	_ operator.Fitter         = (*Processor)(nil)
	_ operator.FitTransformer = (*Processor)(nil)
	_ operator.Inverter       = (*Processor)(nil)
	_ operator.Container      = (*Processor)(nil)
	_ operator.Namer          = (*Processor)(nil)
	_ operator.StoreUser      = (*Processor)(nil)
	_ operator.Classed        = (*Processor)(nil)
	_ operator.Cloner         = (*Processor)(nil)
)

// NewProcessor returns a processor running entries. Entry names must be
// unique. Every operator is given the name of its entry, and nested
// operators without a name inherit it.
func NewProcessor(entries []operator.Entry, opts ...Option) (*Processor, error) {
	p := &Processor{entries: slices.Clone(entries)}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.NewNopLogger()
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range p.entries {
		if _, ok := seen[e.Name]; ok {
			return nil, fmt.Errorf("%w: %q", preperrors.ErrDuplicateName, e.Name)
		}
		seen[e.Name] = struct{}{}
		nameTree(e)
	}

	if p.store != nil {
		p.UseStore(p.store)
	}
	return p, nil
}

// nameTree names the operator of e after e, and every nested operator
// without a name as well.
func nameTree(e operator.Entry) {
	operator.SetName(e.Op, e.Name)
	_ = operator.Walk(e.Op, func(op operator.Operator) error {
		if n, ok := op.(operator.Namer); ok && n.Name() == "" {
			n.SetName(e.Name)
		}
		return nil
	})
}

// Entries returns the entries of the processor.
func (p *Processor) Entries() []operator.Entry { return p.entries }

// Fitted reports whether the processor has been fitted.
func (p *Processor) Fitted() bool { return p.fitted }

func (p *Processor) Name() string        { return p.name }
func (p *Processor) SetName(name string) { p.name = name }
func (p *Processor) ClassName() string   { return Class }

// Children returns the operators of all non-skipped entries.
func (p *Processor) Children() []operator.Operator {
	children := make([]operator.Operator, 0, len(p.entries))
	for _, e := range p.entries {
		if e.Op != nil {
			children = append(children, e.Op)
		}
	}
	return children
}

// UseStore makes s the canonical store of the processor and hands it to
// every operator.
func (p *Processor) UseStore(s *metastore.Store) {
	p.store = s
	for _, op := range p.Children() {
		operator.InjectStore(op, s)
	}
}

// Store returns the canonical store of the processor.
func (p *Processor) Store() *metastore.Store { return p.store }

// Clone returns a processor running copies of the operators of p.
func (p *Processor) Clone() (operator.Operator, error) {
	entries := make([]operator.Entry, 0, len(p.entries))
	for _, e := range p.entries {
		op, err := operator.Clone(e.Op, nil)
		if err != nil {
			return nil, fmt.Errorf("processor %q: entry %q: %w", p.name, e.Name, err)
		}
		e.Op = op
		entries = append(entries, e)
	}
	return &Processor{
		name:    p.name,
		cfg:     p.cfg,
		logger:  p.logger,
		metrics: p.metrics,
		entries: entries,
		fitted:  p.fitted,
		store:   p.store,
	}, nil
}

// Check validates the contract of every operator, including nested ones,
// before any work is dispatched.
func (p *Processor) Check() error {
	for _, e := range p.entries {
		err := operator.Walk(e.Op, func(op operator.Operator) error {
			return operator.Check(op)
		})
		if err != nil {
			return fmt.Errorf("entry %q: %w", e.Name, err)
		}
	}
	return nil
}

func (p *Processor) Fit(ctx context.Context, t arrow.Record, labels arrow.Array) error {
	_, err := p.execute(ctx, modeFit, t, labels)
	return err
}

func (p *Processor) FitTransform(ctx context.Context, t arrow.Record, labels arrow.Array) (arrow.Record, error) {
	return p.execute(ctx, modeFitTransform, t, labels)
}

func (p *Processor) Transform(ctx context.Context, t arrow.Record) (arrow.Record, error) {
	return p.execute(ctx, modeTransform, t, nil)
}

func (p *Processor) InverseTransform(ctx context.Context, t arrow.Record) (arrow.Record, error) {
	return p.execute(ctx, modeInverse, t, nil)
}

// job is the work of one entry.
type job struct {
	entry operator.Entry
	input arrow.Record

	// origin is the smallest origin of the selected columns.
	origin string
	// origins maps the names of the selected columns to their origin.
	origins map[string]string
}

func (p *Processor) execute(ctx context.Context, m mode, t arrow.Record, labels arrow.Array) (arrow.Record, error) {
	ctx, span := tracer.Start(ctx, "Processor."+m.String(), trace.WithAttributes(
		attribute.String("name", p.name),
		attribute.Int("entries", len(p.entries)),
		attribute.Int64("rows", t.NumRows()),
	))
	defer span.End()

	res, err := p.doExecute(ctx, m, t, labels)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (p *Processor) doExecute(ctx context.Context, m mode, t arrow.Record, labels arrow.Array) (arrow.Record, error) {
	if m.fits() {
		if err := p.Check(); err != nil {
			return nil, err
		}
	} else if !p.fitted {
		return nil, fmt.Errorf("%s: %w", p.describe(), preperrors.ErrNotFitted)
	}

	jobs, covered := p.plan(t)
	defer func() {
		for _, j := range jobs {
			j.input.Release()
		}
	}()

	outputs := make([]arrow.Record, len(jobs))
	release := func() {
		for _, out := range outputs {
			if out != nil {
				out.Release()
			}
		}
	}

	err := concurrency.ForEachJob(ctx, len(jobs), p.cfg.workers(len(jobs)), func(ctx context.Context, idx int) error {
		out, err := p.runUnit(ctx, m, jobs[idx], labels)
		outputs[idx] = out
		return err
	})
	if err != nil {
		release()
		return nil, err
	}

	if m == modeFit {
		p.fitted = true
		return nil, nil
	}
	if m == modeFitTransform {
		p.fitted = true
	}

	res, err := p.assemble(t, outputs, covered)
	release()
	return res, err
}

// plan slices the input of every runnable entry. Entries without an
// operator, and entries selecting no column, are skipped; their columns are
// passed through.
func (p *Processor) plan(t arrow.Record) ([]job, []bool) {
	var (
		jobs    []job
		covered = make([]bool, t.NumCols())
	)
	for _, e := range p.entries {
		if e.Op == nil {
			p.metrics.skippedUnitsTotal.Inc()
			continue
		}
		indices := table.Select(t.Schema(), e.Columns)
		if len(indices) == 0 {
			level.Debug(p.logger).Log("msg", "skipping unit without columns", "processor", p.name, "unit", e.Name, "columns", table.JoinRefs(e.Columns))
			p.metrics.skippedUnitsTotal.Inc()
			continue
		}

		var (
			origin  = table.FieldKey(t.Schema().Field(indices[0])).Origin
			origins = make(map[string]string, len(indices))
		)
		for _, i := range indices {
			covered[i] = true
			k := table.FieldKey(t.Schema().Field(i))
			origin = min(origin, k.Origin)
			origins[k.Name] = k.Origin
		}
		jobs = append(jobs, job{
			entry:   e,
			input:   table.Slice(t, e.Columns),
			origin:  origin,
			origins: origins,
		})
	}
	return jobs, covered
}

func (p *Processor) runUnit(ctx context.Context, m mode, j job, labels arrow.Array) (out arrow.Record, err error) {
	e := j.entry
	ctx, span := tracer.Start(ctx, "Processor.runUnit", trace.WithAttributes(
		attribute.String("unit", e.Name),
		attribute.String("operator", operator.ClassName(e.Op)),
		attribute.String("columns", table.JoinRefs(e.Columns)),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			level.Warn(p.logger).Log("msg", "unit failed", "processor", p.name, "unit", e.Name, "op", m, "err", err)
		} else {
			p.metrics.unitSeconds.WithLabelValues(m.String()).Observe(time.Since(start).Seconds())
			level.Debug(p.logger).Log("msg", "unit finished", "processor", p.name, "unit", e.Name, "op", m, "duration", time.Since(start))
		}
		p.metrics.unitsTotal.WithLabelValues(m.String(), outcome).Inc()
	}()

	if m.fits() && p.cfg.IsolateStores && p.store != nil {
		fork := p.store.Fork()
		operator.InjectStore(e.Op, fork)
		defer p.mergeStore(e, fork)
	}

	switch m {
	case modeFit:
		err = operator.Fit(ctx, e.Op, j.input, labels)
	case modeFitTransform:
		out, err = operator.FitTransform(ctx, e.Op, j.input, labels)
	case modeTransform:
		out, err = e.Op.Transform(ctx, j.input)
	case modeInverse:
		out, err = operator.Inverse(ctx, e.Op, j.input)
	}
	if err != nil {
		return nil, fmt.Errorf("unit %q (%s) on columns %s: %w", e.Name, operator.ClassName(e.Op), table.JoinRefs(e.Columns), err)
	}
	if out == nil {
		return nil, nil
	}
	return p.finish(j, out)
}

// finish scales and tags the output of a unit. It takes ownership of out.
func (p *Processor) finish(j job, out arrow.Record) (arrow.Record, error) {
	defer out.Release()

	if out.NumRows() != j.input.NumRows() {
		return nil, fmt.Errorf("unit %q on columns %s: %w: expected %d rows, got %d", j.entry.Name, table.JoinRefs(j.entry.Columns), preperrors.ErrRowMismatch, j.input.NumRows(), out.NumRows())
	}

	res := out
	if w := j.entry.Weight; w != nil {
		res = table.Scale(out, *w)
		defer res.Release()
	}
	if !table.IsTwoLevel(res.Schema()) {
		return table.Tag(res, j.origin), nil
	}

	// Nested processors tag their output relative to the slice they
	// received. Translate those origins back to the columns of this table.
	return table.MapOrigins(res, func(k table.Key) string {
		if origin, ok := j.origins[k.Origin]; ok {
			return origin
		}
		return j.origin
	}), nil
}

// mergeStore merges the writes of a unit into the canonical store and hands
// the canonical store back to the operators of the unit.
func (p *Processor) mergeStore(e operator.Entry, fork *metastore.Store) {
	p.storeMtx.Lock()
	defer p.storeMtx.Unlock()

	merged := p.store.Merge(fork)
	operator.InjectStore(e.Op, p.store)

	p.metrics.storeMergesTotal.Inc()
	p.metrics.storeMergedTotal.Add(float64(len(merged)))
	if len(merged) > 0 {
		level.Debug(p.logger).Log("msg", "merged unit store", "processor", p.name, "unit", e.Name, "keys", len(merged))
	}
}

// assemble joins the unit outputs in entry order followed by the columns no
// unit selected.
func (p *Processor) assemble(t arrow.Record, outputs []arrow.Record, covered []bool) (arrow.Record, error) {
	parts := make([]arrow.Record, 0, len(outputs)+1)
	for _, out := range outputs {
		if out != nil {
			parts = append(parts, out)
		}
	}

	if passed := countFalse(covered); passed > 0 {
		rest := table.Passthrough(t, covered)
		defer rest.Release()
		parts = append(parts, rest)
		p.metrics.passthroughTotal.Add(float64(passed))
	}

	res, err := table.Concat(t.NumRows(), parts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.describe(), err)
	}
	if !p.cfg.CollapseIndex {
		return res, nil
	}

	defer res.Release()
	collapsed, err := table.Collapse(res)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.describe(), err)
	}
	return collapsed, nil
}

func countFalse(bs []bool) int {
	n := 0
	for _, b := range bs {
		if !b {
			n++
		}
	}
	return n
}

func (p *Processor) describe() string {
	if p.name != "" {
		return fmt.Sprintf("processor %q", p.name)
	}
	return "processor"
}
