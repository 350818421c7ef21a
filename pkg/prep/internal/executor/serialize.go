package executor

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/grafana/colprep/pkg/prep/internal/operator"
	"github.com/grafana/colprep/pkg/prep/internal/table"
)

// Unit is the serialized form of one processor entry.
type Unit struct {
	Name     string          `json:"name,omitempty"`
	Columns  string          `json:"columns"`
	Operator operator.Params `json:"operator"`
	Weight   *float64        `json:"weight,omitempty"`
}

// Units returns the serialized entries of the processor. Skipped entries are
// left out.
func (p *Processor) Units() []Unit {
	units := make([]Unit, 0, len(p.entries))
	for _, e := range p.entries {
		if e.Op == nil {
			continue
		}
		units = append(units, Unit{
			Name:     e.Name,
			Columns:  table.JoinRefs(e.Columns),
			Operator: operator.Encode(e.Op),
			Weight:   e.Weight,
		})
	}
	return units
}

// Params returns the parameters the processor is rebuilt from by the factory
// installed with [Register].
func (p *Processor) Params() operator.Params {
	units := make([]any, 0, len(p.entries))
	for _, u := range p.Units() {
		up := operator.Params{
			"name":     u.Name,
			"columns":  u.Columns,
			"operator": u.Operator,
		}
		if u.Weight != nil {
			up["weight"] = *u.Weight
		}
		units = append(units, up)
	}
	return operator.Params{
		"name":           p.name,
		"collapse_index": p.cfg.CollapseIndex,
		"units":          units,
	}
}

// MarshalJSON encodes the processor as the list of its units.
func (p *Processor) MarshalJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(p.Units())
}

// Decode rebuilds a processor from the output of [Processor.MarshalJSON].
// Operators are instantiated through reg.
func Decode(reg *operator.Registry, data []byte, opts ...Option) (*Processor, error) {
	var units []Unit
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &units); err != nil {
		return nil, fmt.Errorf("decoding processor: %w", err)
	}
	entries, err := decodeUnits(reg, units)
	if err != nil {
		return nil, err
	}
	return NewProcessor(entries, opts...)
}

func decodeUnits(reg *operator.Registry, units []Unit) ([]operator.Entry, error) {
	entries := make([]operator.Entry, 0, len(units))
	for _, u := range units {
		op, err := reg.Decode(u.Operator)
		if err != nil {
			return nil, fmt.Errorf("unit %q on columns %s: %w", u.Name, u.Columns, err)
		}
		name := u.Name
		if name == "" {
			name = u.Columns
		}
		entries = append(entries, operator.Entry{
			Name:    name,
			Op:      op,
			Columns: table.ParseRefs(u.Columns),
			Weight:  u.Weight,
		})
	}
	return entries, nil
}

// Register installs a factory for [Processor] on reg so that nested
// processors, such as the super-steps of a fused unit, can be decoded.
// Decoded processors are built with opts.
func Register(reg *operator.Registry, opts ...Option) {
	reg.Register(Class, func(p operator.Params) (operator.Operator, error) {
		name, _ := p["name"].(string)
		collapse, _ := p["collapse_index"].(bool)

		raw, _ := p["units"].([]any)
		units := make([]Unit, 0, len(raw))
		for _, r := range raw {
			up, ok := operator.AsParams(r)
			if !ok {
				return nil, fmt.Errorf("processor %q: unexpected unit of type %T", name, r)
			}
			u := Unit{}
			u.Name, _ = up["name"].(string)
			u.Columns, _ = up["columns"].(string)
			if u.Operator, ok = operator.AsParams(up["operator"]); !ok {
				return nil, fmt.Errorf("processor %q: unit %q has no operator", name, u.Name)
			}
			if w, ok := up["weight"].(float64); ok {
				u.Weight = &w
			}
			units = append(units, u)
		}

		entries, err := decodeUnits(reg, units)
		if err != nil {
			return nil, fmt.Errorf("processor %q: %w", name, err)
		}
		proc, err := NewProcessor(entries, opts...)
		if err != nil {
			return nil, err
		}
		proc.name = name
		proc.cfg.CollapseIndex = collapse
		return proc, nil
	})
}
