package planner

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
	"github.com/grafana/colprep/pkg/prep/internal/operator"
	"github.com/grafana/colprep/pkg/prep/internal/operator/operatortest"
	"github.com/grafana/colprep/pkg/prep/internal/table"
)

func step(name string, op operator.Operator, refs ...string) Step {
	cols := make([]table.Ref, 0, len(refs))
	for _, r := range refs {
		cols = append(cols, table.ParseRef(r))
	}
	return Step{Name: name, Op: op, Columns: cols}
}

func rename() operator.Operator { return operatortest.NewRename("'") }

func TestBuild(t *testing.T) {
	for _, tt := range []struct {
		name    string
		mapping Mapping
		expect  string
	}{
		{
			name:    "empty mapping",
			mapping: Mapping{},
			expect: `Plan units=0
`,
		},
		{
			name: "two independent groups",
			mapping: Mapping{
				1: {step("opB", rename(), "colY")},
				0: {step("opA", rename(), "colX")},
			},
			expect: `Plan units=2
├── Independent name="group: 0" columns=(colX)
│   └── Step name="opA" class=Rename columns=(colX)
└── Independent name="group: 1" columns=(colY)
    └── Step name="opB" class=Rename columns=(colY)
`,
		},
		{
			name: "homogeneous group becomes a chain",
			mapping: Mapping{
				0: {step("op1", rename(), "colX"), step("op2", rename(), "colX")},
			},
			expect: `Plan units=1
└── Independent name="group: 0" columns=(colX)
    ├── Step name="op1" class=Rename columns=(colX)
    └── Step name="op2" class=Rename columns=(colX)
`,
		},
		{
			name: "heterogeneous group is fused, homogeneous group stays independent",
			mapping: Mapping{
				0: {step("op1", &operatortest.Expand{Column: "colX_new"}, "colX"), step("op2", rename(), "colX", "$colX_new")},
				1: {step("op3", rename(), "colY"), step("op4", rename(), "colY")},
			},
			expect: `Plan units=2
├── Independent name="group: 1" columns=(colY)
│   ├── Step name="op3" class=Rename columns=(colY)
│   └── Step name="op4" class=Rename columns=(colY)
└── Fused name="grouped_pipeline" columns=(colX, $colX_new)
    ├── SuperStep position=0
    │   └── Branch name="group: 0, operator: op1" class=Expand columns=(colX)
    └── SuperStep position=1
        └── Branch name="group: 0, operator: op2" class=Rename columns=(colX, $colX_new)
`,
		},
		{
			name: "heterogeneous groups share super-steps",
			mapping: Mapping{
				0: {
					step("a1", rename(), "a"),
					step("a2", rename(), "a", "$a_new"),
					step("a3", rename(), "$a_new"),
				},
				1: {
					step("b1", rename(), "b"),
					step("b2", nil, "$b_new"),
				},
			},
			expect: `Plan units=1
└── Fused name="grouped_pipeline" columns=(a, $a_new, b, $b_new)
    ├── SuperStep position=0
    │   ├── Branch name="group: 0, operator: a1" class=Rename columns=(a)
    │   └── Branch name="group: 1, operator: b1" class=Rename columns=(b)
    ├── SuperStep position=1
    │   ├── Branch name="group: 0, operator: a2" class=Rename columns=(a, $a_new)
    │   └── Branch name="group: 1, operator: b2" class=<skipped> columns=($b_new)
    └── SuperStep position=2
        └── Branch name="group: 0, operator: a3" class=Rename columns=($a_new)
`,
		},
		{
			name: "groups without steps are dropped",
			mapping: Mapping{
				0: nil,
				3: {step("op", rename(), "colZ")},
			},
			expect: `Plan units=1
└── Independent name="group: 3" columns=(colZ)
    └── Step name="op" class=Rename columns=(colZ)
`,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Build(tt.mapping)
			require.NoError(t, err)
			require.Equal(t, tt.expect, Sprint(plan))
		})
	}
}

func TestBuild_Units(t *testing.T) {
	op1, op2 := rename(), rename()
	plan, err := Build(Mapping{
		0: {step("op1", op1, "colX"), step("op2", op2, "colX")},
	})
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)

	unit := plan.Units[0]
	require.Equal(t, UnitIndependent, unit.Kind)
	require.Equal(t, 0, unit.Group)
	require.Equal(t, []table.Ref{table.Origin("colX")}, unit.Columns)
	require.Same(t, op1, unit.Steps[0].Op)
	require.Same(t, op2, unit.Steps[1].Op)

	_, ok := plan.Fused()
	require.False(t, ok)
	require.Len(t, plan.Independent(), 1)
}

func TestBuild_Overlap(t *testing.T) {
	t.Run("first steps of two groups", func(t *testing.T) {
		_, err := Build(Mapping{
			0: {step("a", rename(), "colX", "colY")},
			1: {step("b", rename(), "colY")},
		})
		require.ErrorIs(t, err, preperrors.ErrOverlappingColumns)
		require.ErrorContains(t, err, `"colY" is used by "group: 0" and "group: 1"`)
	})

	t.Run("branches of one super-step", func(t *testing.T) {
		_, err := Build(Mapping{
			0: {step("a1", rename(), "a"), step("a2", rename(), "$shared")},
			1: {step("b1", rename(), "b"), step("b2", rename(), "$shared")},
		})
		require.ErrorIs(t, err, preperrors.ErrOverlappingColumns)
		require.ErrorContains(t, err, FusedName)
	})

	t.Run("later steps of one group may reuse columns", func(t *testing.T) {
		_, err := Build(Mapping{
			0: {step("a1", rename(), "a"), step("a2", rename(), "a", "$a_new")},
		})
		require.NoError(t, err)
	})
}

func TestBuild_Idempotent(t *testing.T) {
	m := Mapping{
		2: {step("c", rename(), "c")},
		0: {step("a1", rename(), "a"), step("a2", rename(), "a", "$a_new")},
		1: {step("b", rename(), "b"), step("b", rename(), "b")},
	}

	first, err := Build(m)
	require.NoError(t, err)
	second, err := Build(m)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, first.Fingerprint(), second.Fingerprint())
	require.Equal(t, Sprint(first), Sprint(second))

	other, err := Build(Mapping{0: {step("a", rename(), "a")}})
	require.NoError(t, err)
	require.NotEqual(t, first.Fingerprint(), other.Fingerprint())
}

// TestBuild_Disjointness builds random mappings whose groups use disjoint
// columns and checks that no two concurrently running units or branches share
// a column.
func TestBuild_Disjointness(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for iter := 0; iter < 100; iter++ {
		m := Mapping{}
		groups := 1 + rnd.Intn(6)
		for g := 0; g < groups; g++ {
			var (
				steps = 1 + rnd.Intn(4)
				base  = fmt.Sprintf("g%d_c", g)
				cols  = []string{base + "0"}
			)
			for s := 0; s < steps; s++ {
				if rnd.Intn(3) == 0 {
					cols = append(cols, fmt.Sprintf("$%s%d", base, len(cols)))
				}
				m[g*10] = append(m[g*10], step(fmt.Sprintf("s%d", s), rename(), cols...))
			}
		}

		plan, err := Build(m)
		require.NoError(t, err)

		owners := map[string]string{}
		for _, u := range plan.Units {
			first := u.Columns
			if u.Kind == UnitFused {
				first = nil
				for _, b := range u.SuperSteps[0] {
					first = append(first, b.Step.Columns...)
				}
			}
			for _, ref := range first {
				prev, ok := owners[ref.Name]
				require.False(t, ok, "column %s shared by %s and %s", ref.Name, prev, u.Name)
				owners[ref.Name] = u.Name
			}

			for _, branches := range u.SuperSteps {
				seen := map[string]string{}
				for _, b := range branches {
					for _, ref := range b.Step.Columns {
						prev, ok := seen[ref.Name]
						require.False(t, ok, "column %s shared by %s and %s", ref.Name, prev, b.Name)
						seen[ref.Name] = b.Name
					}
				}
			}
		}
	}
}

func TestSeparateColumns(t *testing.T) {
	m := SeparateColumns("impute", rename, "b", "a")
	plan, err := Build(m)
	require.NoError(t, err)

	require.Equal(t, `Plan units=2
├── Independent name="group: 0" columns=(b)
│   └── Step name="impute" class=Rename columns=(b)
└── Independent name="group: 1" columns=(a)
    └── Step name="impute" class=Rename columns=(a)
`, Sprint(plan))
	require.NotSame(t, m[0][0].Op, m[1][0].Op, "every group gets its own operator")
}
