// Package planner partitions a column mapping into execution units.
//
// Groups whose column subset is the same at every step become independent
// units: a sequential chain that runs in parallel with every other unit.
// Groups whose columns change from step to step depend on columns created by
// their own earlier steps, so they are fused into a single step-synchronized
// unit: at every position the steps of all fused groups run in parallel, and
// the next position starts only once the previous one completed.
package planner

import (
	"fmt"
	"maps"
	"slices"

	"github.com/zeebo/xxh3"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
	"github.com/grafana/colprep/pkg/prep/internal/operator"
	"github.com/grafana/colprep/pkg/prep/internal/table"
)

// FusedGroup is the group id of the fused unit.
const FusedGroup = -1

// FusedName is the name of the fused unit.
const FusedName = "grouped_pipeline"

// Step applies an operator to a subset of columns. A nil Op marks a skipped
// step.
type Step struct {
	Name    string
	Op      operator.Operator
	Columns []table.Ref
}

// Mapping maps group ids to the ordered steps of the group.
type Mapping map[int][]Step

// UnitKind is the kind of an execution [Unit].
type UnitKind uint8

const (
	// UnitIndependent runs the steps of one group as a sequential chain.
	UnitIndependent UnitKind = iota
	// UnitFused runs the steps of several groups position by position.
	UnitFused
)

func (k UnitKind) String() string {
	switch k {
	case UnitIndependent:
		return "Independent"
	case UnitFused:
		return "Fused"
	default:
		return fmt.Sprintf("UnitKind(%d)", k)
	}
}

// Branch is the step of one fused group at one position.
type Branch struct {
	Name  string
	Group int
	Step  Step
}

// Unit is an execution unit of a [Plan].
type Unit struct {
	Name  string
	Group int
	Kind  UnitKind

	// Columns lists every column read by the unit. For fused units it is the
	// union of the columns of all steps in first-seen order.
	Columns []table.Ref

	// Steps holds the chain of an independent unit.
	Steps []Step
	// SuperSteps holds the branches of a fused unit, one slice per position.
	SuperSteps [][]Branch
}

// Plan is the ordered list of execution units. Independent units come first
// in ascending group order, followed by the fused unit, if any.
type Plan struct {
	Units []Unit
}

// Build plans m. An empty mapping yields an empty plan. Build fails with
// [preperrors.ErrOverlappingColumns] when the first steps of two groups, or
// two branches of one fused position, share a column.
func Build(m Mapping) (*Plan, error) {
	groups := slices.Sorted(maps.Keys(m))

	if err := validateFirstSteps(m, groups); err != nil {
		return nil, err
	}

	var (
		plan  = &Plan{}
		fused []int
	)
	for _, group := range groups {
		steps := m[group]
		if len(steps) == 0 {
			continue
		}
		if !homogeneous(steps) {
			fused = append(fused, group)
			continue
		}
		plan.Units = append(plan.Units, Unit{
			Name:    GroupName(group),
			Group:   group,
			Kind:    UnitIndependent,
			Columns: slices.Clone(steps[0].Columns),
			Steps:   slices.Clone(steps),
		})
	}

	if len(fused) > 0 {
		unit, err := fuse(m, fused)
		if err != nil {
			return nil, err
		}
		plan.Units = append(plan.Units, unit)
	}
	return plan, nil
}

// GroupName returns the name of the independent unit of group.
func GroupName(group int) string {
	return fmt.Sprintf("group: %d", group)
}

// BranchName returns the name of the branch running step of group.
func BranchName(group int, step string) string {
	return fmt.Sprintf("group: %d, operator: %s", group, step)
}

func homogeneous(steps []Step) bool {
	for _, step := range steps[1:] {
		if !slices.Equal(step.Columns, steps[0].Columns) {
			return false
		}
	}
	return true
}

func fuse(m Mapping, groups []int) (Unit, error) {
	depth := 0
	for _, group := range groups {
		depth = max(depth, len(m[group]))
	}

	unit := Unit{
		Name:       FusedName,
		Group:      FusedGroup,
		Kind:       UnitFused,
		SuperSteps: make([][]Branch, 0, depth),
	}
	seen := make(map[table.Ref]struct{})
	for pos := 0; pos < depth; pos++ {
		var branches []Branch
		for _, group := range groups {
			steps := m[group]
			if pos >= len(steps) {
				continue
			}
			step := steps[pos]
			branches = append(branches, Branch{
				Name:  BranchName(group, step.Name),
				Group: group,
				Step:  step,
			})
		}
		if err := validateDisjoint(branchColumns(branches)); err != nil {
			return Unit{}, fmt.Errorf("%s: %w", FusedName, err)
		}
		unit.SuperSteps = append(unit.SuperSteps, branches)
	}

	for _, group := range groups {
		for _, step := range m[group] {
			for _, ref := range step.Columns {
				if _, ok := seen[ref]; ok {
					continue
				}
				seen[ref] = struct{}{}
				unit.Columns = append(unit.Columns, ref)
			}
		}
	}
	return unit, nil
}

type namedColumns struct {
	name    string
	columns []table.Ref
}

func branchColumns(branches []Branch) []namedColumns {
	out := make([]namedColumns, 0, len(branches))
	for _, b := range branches {
		out = append(out, namedColumns{name: b.Name, columns: b.Step.Columns})
	}
	return out
}

func validateFirstSteps(m Mapping, groups []int) error {
	var first []namedColumns
	for _, group := range groups {
		if steps := m[group]; len(steps) > 0 {
			first = append(first, namedColumns{name: GroupName(group), columns: steps[0].Columns})
		}
	}
	return validateDisjoint(first)
}

// validateDisjoint reports an error if any column name is claimed by more
// than one entry. Origin and derived references with the same name count as
// the same column.
func validateDisjoint(entries []namedColumns) error {
	owner := make(map[string]string)
	for _, e := range entries {
		for _, ref := range e.columns {
			prev, ok := owner[ref.Name]
			if ok && prev != e.name {
				return fmt.Errorf("%w: column %q is used by %q and %q", preperrors.ErrOverlappingColumns, ref.Name, prev, e.name)
			}
			owner[ref.Name] = e.name
		}
	}
	return nil
}

// Fingerprint returns a hash of the printed plan. Plans built from the same
// mapping have the same fingerprint.
func (p *Plan) Fingerprint() uint64 {
	return xxh3.HashString(Sprint(p))
}

// Independent returns the independent units of p.
func (p *Plan) Independent() []Unit {
	var out []Unit
	for _, u := range p.Units {
		if u.Kind == UnitIndependent {
			out = append(out, u)
		}
	}
	return out
}

// Fused returns the fused unit of p, if any.
func (p *Plan) Fused() (Unit, bool) {
	for _, u := range p.Units {
		if u.Kind == UnitFused {
			return u, true
		}
	}
	return Unit{}, false
}

// SeparateColumns returns a mapping which gives every column a group of its
// own, each with a single step running a fresh operator from newOp.
func SeparateColumns(name string, newOp func() operator.Operator, columns ...string) Mapping {
	return PerColumn(columns, func(col string) []Step {
		return []Step{{Name: name, Op: newOp(), Columns: []table.Ref{table.Origin(col)}}}
	})
}

// PerColumn returns a mapping with one group per column, applying the steps
// built by newSteps to that column only.
func PerColumn(columns []string, newSteps func(column string) []Step) Mapping {
	m := make(Mapping, len(columns))
	for i, col := range columns {
		m[i] = newSteps(col)
	}
	return m
}
