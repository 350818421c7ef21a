package table_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
	"github.com/grafana/colprep/pkg/prep/internal/table"
	"github.com/grafana/colprep/pkg/prep/internal/tabletest"
)

func TestParseRef(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want table.Ref
	}{
		{in: "colX", want: table.Origin("colX")},
		{in: "$colX_new", want: table.Derived("colX_new")},
		{in: "$", want: table.Derived("")},
	} {
		t.Run(tt.in, func(t *testing.T) {
			got := table.ParseRef(tt.in)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.in, got.String())
		})
	}

	refs := table.ParseRefs("a,$b,c")
	require.Equal(t, []table.Ref{table.Origin("a"), table.Derived("b"), table.Origin("c")}, refs)
	require.Equal(t, "a,$b,c", table.JoinRefs(refs))
	require.Nil(t, table.ParseRefs(""))
}

func TestOriginOf(t *testing.T) {
	require.Equal(t, "a", table.OriginOf(table.Origins("c", "a", "b")))
	require.Equal(t, "colX", table.OriginOf([]table.Ref{table.Derived("colX_new"), table.Origin("colX")}))
	require.Empty(t, table.OriginOf(nil))
}

func twoLevel(t *testing.T) arrow.Record {
	t.Helper()

	rec := tabletest.CSV(t, []arrow.Field{tabletest.Float64("colX"), tabletest.Float64("colX_new"), tabletest.Float64("colY")}, `
1,10,100
2,20,200
`)
	x := table.Tag(table.Project(rec, []int{0, 1}, false), "colX")
	defer x.Release()
	y := table.Project(rec, []int{2}, false)
	defer y.Release()

	out, err := table.Concat(2, x, y)
	require.NoError(t, err)
	t.Cleanup(out.Release)
	return out
}

func TestSlice(t *testing.T) {
	t.Run("single level by name", func(t *testing.T) {
		rec := tabletest.CSV(t, []arrow.Field{tabletest.Float64("a"), tabletest.String("b"), tabletest.Float64("c")}, `
1,x,3
4,y,6
`)
		out := table.Slice(rec, table.Origins("c", "a"))
		defer out.Release()

		require.Equal(t, []string{"c", "a"}, table.Names(out.Schema()))
		require.Equal(t, []any{3.0, 6.0}, tabletest.Column(out, "c"))
		require.False(t, table.IsTwoLevel(out.Schema()))
	})

	t.Run("two level by origin selects every derived column", func(t *testing.T) {
		rec := twoLevel(t)
		require.True(t, table.IsTwoLevel(rec.Schema()))

		out := table.Slice(rec, table.Origins("colX"))
		defer out.Release()

		require.Equal(t, []string{"colX", "colX_new"}, table.Names(out.Schema()))
		require.False(t, table.IsTwoLevel(out.Schema()), "operators receive single-level tables")
	})

	t.Run("two level by derived name", func(t *testing.T) {
		rec := twoLevel(t)

		out := table.Slice(rec, []table.Ref{table.Derived("colX_new")})
		defer out.Release()

		require.Equal(t, []string{"colX_new"}, table.Names(out.Schema()))
		require.Equal(t, []any{10.0, 20.0}, tabletest.Column(out, "colX_new"))
	})

	t.Run("zero columns keeps row count", func(t *testing.T) {
		rec := twoLevel(t)

		out := table.Slice(rec, nil)
		defer out.Release()

		require.EqualValues(t, 0, out.NumCols())
		require.EqualValues(t, 2, out.NumRows())
	})

	t.Run("missing references are skipped", func(t *testing.T) {
		rec := twoLevel(t)

		out := table.Slice(rec, table.Origins("nope", "colY"))
		defer out.Release()

		require.Equal(t, []string{"colY"}, table.Names(out.Schema()))
	})

	t.Run("empty table is returned as is", func(t *testing.T) {
		rec := table.Empty(3)
		defer rec.Release()

		out := table.Slice(rec, table.Origins("a"))
		defer out.Release()

		require.EqualValues(t, 3, out.NumRows())
	})
}

func TestPassthrough(t *testing.T) {
	rec := tabletest.CSV(t, []arrow.Field{tabletest.Float64("a"), tabletest.Float64("b"), tabletest.Float64("c")}, `
1,2,3
`)
	covered := table.Covered(rec.Schema(), table.Origins("b"))
	require.Equal(t, []bool{false, true, false}, covered)

	out := table.Passthrough(rec, covered)
	defer out.Release()

	require.Equal(t, []table.Key{{Origin: "a", Name: "a"}, {Origin: "c", Name: "c"}}, tabletest.Keys(out))
	require.True(t, table.IsTwoLevel(out.Schema()))
}

func TestConcat(t *testing.T) {
	a := tabletest.CSV(t, []arrow.Field{tabletest.Float64("a")}, "1\n2")
	b := tabletest.CSV(t, []arrow.Field{tabletest.Float64("b")}, "1")

	_, err := table.Concat(2, a, b)
	require.ErrorIs(t, err, preperrors.ErrRowMismatch)

	empty, err := table.Concat(5)
	require.NoError(t, err)
	defer empty.Release()
	require.EqualValues(t, 5, empty.NumRows())
}

func TestCollapse(t *testing.T) {
	t.Run("drops provenance without reordering rows", func(t *testing.T) {
		rec := twoLevel(t)

		out, err := table.Collapse(rec)
		require.NoError(t, err)
		defer out.Release()

		require.False(t, table.IsTwoLevel(out.Schema()))
		require.Equal(t, []string{"colX", "colX_new", "colY"}, table.Names(out.Schema()))
		require.Equal(t, tabletest.Columns(rec), tabletest.Columns(out))
	})

	t.Run("duplicate derived names are ambiguous", func(t *testing.T) {
		rec := tabletest.CSV(t, []arrow.Field{tabletest.Float64("v"), tabletest.Float64("v")}, "1,2")
		a := table.Tag(table.Project(rec, []int{0}, false), "a")
		defer a.Release()
		b := table.Tag(table.Project(rec, []int{1}, false), "b")
		defer b.Release()
		joined, err := table.Concat(1, a, b)
		require.NoError(t, err)
		defer joined.Release()

		_, err = table.Collapse(joined)
		require.ErrorIs(t, err, preperrors.ErrAmbiguousColumns)
		require.ErrorContains(t, err, "v")
	})
}

func TestScale(t *testing.T) {
	rec := tabletest.CSV(t, []arrow.Field{tabletest.Float64("f"), tabletest.Int64("i"), tabletest.String("s")}, `
1.5,2,x
,4,y
`)
	out := table.Scale(rec, 2)
	defer out.Release()

	require.Equal(t, map[string][]any{
		"f": {3.0, nil},
		"i": {4.0, 8.0},
		"s": {"x", "y"},
	}, tabletest.Columns(out))
	require.Equal(t, arrow.PrimitiveTypes.Float64, out.Schema().Field(1).Type)

	t.Run("every numeric type is widened", func(t *testing.T) {
		rec := tabletest.CSV(t, []arrow.Field{
			{Name: "i8", Type: arrow.PrimitiveTypes.Int8, Nullable: true},
			{Name: "i32", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
			{Name: "u16", Type: arrow.PrimitiveTypes.Uint16, Nullable: true},
			{Name: "f32", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		}, `
-3,7,,0.5
1,,9,2.25
`)
		out := table.Scale(rec, 2)
		defer out.Release()

		require.Equal(t, map[string][]any{
			"i8":  {-6.0, 2.0},
			"i32": {14.0, nil},
			"u16": {nil, 18.0},
			"f32": {1.0, 4.5},
		}, tabletest.Columns(out))
		for _, f := range out.Schema().Fields() {
			require.Equal(t, arrow.PrimitiveTypes.Float64, f.Type, f.Name)
		}
	})
}
