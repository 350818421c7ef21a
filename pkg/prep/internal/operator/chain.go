package operator

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// ChainClass is the class name of [Chain].
const ChainClass = "Chain"

// Chain runs operators strictly in sequence, feeding the output of each
// operator to the next one.
type Chain struct {
	name  string
	steps []Operator
}

var (
	_ Fitter         = (*Chain)(nil)
	_ FitTransformer = (*Chain)(nil)
	_ Inverter       = (*Chain)(nil)
	_ Container      = (*Chain)(nil)
	_ Namer          = (*Chain)(nil)
	_ Cloner         = (*Chain)(nil)
)

// NewChain returns a chain of steps. Nil steps are dropped.
func NewChain(name string, steps ...Operator) *Chain {
	c := &Chain{name: name}
	for _, step := range steps {
		if step != nil {
			c.steps = append(c.steps, step)
		}
	}
	return c
}

// Steps returns the operators of the chain in execution order.
func (c *Chain) Steps() []Operator { return c.steps }

func (c *Chain) Children() []Operator { return c.steps }

func (c *Chain) Name() string { return c.name }

func (c *Chain) SetName(name string) { c.name = name }

func (c *Chain) ClassName() string { return ChainClass }

// Check validates the contract of every step.
func (c *Chain) Check() error {
	for _, step := range c.steps {
		if err := Check(step); err != nil {
			return err
		}
	}
	return nil
}

// Fit fit-transforms every step but the last one, which is only fitted.
func (c *Chain) Fit(ctx context.Context, t arrow.Record, labels arrow.Array) error {
	if len(c.steps) == 0 {
		return nil
	}
	cur, err := c.fitTransform(ctx, c.steps[:len(c.steps)-1], t, labels)
	if err != nil {
		return err
	}
	defer cur.Release()

	last := c.steps[len(c.steps)-1]
	if err := Fit(ctx, last, cur, labels); err != nil {
		return c.wrap(len(c.steps)-1, err)
	}
	return nil
}

func (c *Chain) FitTransform(ctx context.Context, t arrow.Record, labels arrow.Array) (arrow.Record, error) {
	return c.fitTransform(ctx, c.steps, t, labels)
}

func (c *Chain) fitTransform(ctx context.Context, steps []Operator, t arrow.Record, labels arrow.Array) (arrow.Record, error) {
	t.Retain()
	cur := t
	for i, step := range steps {
		next, err := FitTransform(ctx, step, cur, labels)
		cur.Release()
		if err != nil {
			return nil, c.wrap(i, err)
		}
		cur = next
	}
	return cur, nil
}

func (c *Chain) Transform(ctx context.Context, t arrow.Record) (arrow.Record, error) {
	t.Retain()
	cur := t
	for i, step := range c.steps {
		next, err := step.Transform(ctx, cur)
		cur.Release()
		if err != nil {
			return nil, c.wrap(i, err)
		}
		cur = next
	}
	return cur, nil
}

// InverseTransform inverts the steps in reverse order.
func (c *Chain) InverseTransform(ctx context.Context, t arrow.Record) (arrow.Record, error) {
	t.Retain()
	cur := t
	for i := len(c.steps) - 1; i >= 0; i-- {
		next, err := Inverse(ctx, c.steps[i], cur)
		cur.Release()
		if err != nil {
			return nil, c.wrap(i, err)
		}
		cur = next
	}
	return cur, nil
}

// Clone returns a chain holding copies of the steps.
func (c *Chain) Clone() (Operator, error) {
	steps := make([]Operator, 0, len(c.steps))
	for _, step := range c.steps {
		cp, err := Clone(step, nil)
		if err != nil {
			return nil, fmt.Errorf("chain %q: %w", c.name, err)
		}
		steps = append(steps, cp)
	}
	return &Chain{name: c.name, steps: steps}, nil
}

// Params returns the serialized steps of the chain.
func (c *Chain) Params() Params {
	steps := make([]any, 0, len(c.steps))
	for _, step := range c.steps {
		steps = append(steps, Encode(step))
	}
	return Params{"name": c.name, "steps": steps}
}

func (c *Chain) wrap(step int, err error) error {
	return fmt.Errorf("chain %q: %s: %w", c.name, Describe(c.steps[step]), err)
}

// registerChain registers a factory for [Chain] which decodes the serialized
// steps through r itself.
func registerChain(r *Registry) {
	r.Register(ChainClass, func(p Params) (Operator, error) {
		name, _ := p["name"].(string)
		raw, _ := p["steps"].([]any)
		steps := make([]Operator, 0, len(raw))
		for _, s := range raw {
			sp, ok := AsParams(s)
			if !ok {
				return nil, fmt.Errorf("chain %q: unexpected step of type %T", name, s)
			}
			op, err := r.Decode(sp)
			if err != nil {
				return nil, fmt.Errorf("chain %q: %w", name, err)
			}
			steps = append(steps, op)
		}
		return NewChain(name, steps...), nil
	})
}

// AsParams converts a decoded parameter object to [Params].
func AsParams(v any) (Params, bool) {
	switch v := v.(type) {
	case Params:
		return v, true
	case map[string]any:
		return Params(v), true
	default:
		return nil, false
	}
}
