package executor_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/colprep/pkg/prep/internal/executor"
	"github.com/grafana/colprep/pkg/prep/internal/operator"
	"github.com/grafana/colprep/pkg/prep/internal/operator/operatortest"
	"github.com/grafana/colprep/pkg/prep/internal/planner"
)

func registry() *operator.Registry {
	reg := operator.NewRegistry()
	operatortest.RegisterRename(reg)
	executor.Register(reg)
	return reg
}

func TestProcessor_MarshalJSON(t *testing.T) {
	w := 0.5
	scaled := entry("scaled", operatortest.NewRename("_s"), "colY", "$colY_new")
	scaled.Weight = &w

	p := newProcessor(t, []operator.Entry{
		entry("opA", operatortest.NewRename("'"), "colX"),
		entry("gone", nil, "colZ"),
		scaled,
	})

	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t, `[
		{"name": "opA", "columns": "colX", "operator": {"class_name": "Rename", "suffix": "'", "aspect": ""}},
		{"name": "scaled", "columns": "colY,$colY_new", "operator": {"class_name": "Rename", "suffix": "_s", "aspect": ""}, "weight": 0.5}
	]`, string(data))
}

func TestDecode(t *testing.T) {
	ctx := context.Background()
	p := newProcessor(t, []operator.Entry{
		entry("opA", operatortest.NewRename("'"), "colX"),
		entry("opB", operatortest.NewRename("_b"), "colY"),
	})
	data, err := json.Marshal(p)
	require.NoError(t, err)

	decoded, err := executor.Decode(registry(), data)
	require.NoError(t, err)
	require.False(t, decoded.Fitted())
	require.Equal(t, p.Units(), decoded.Units())

	out, err := decoded.FitTransform(ctx, xyz(t), nil)
	require.NoError(t, err)
	defer out.Release()
	requireKeys(t, keys("colX", "colX'", "colY", "colY_b", "colZ", "colZ"), out)

	_, err = executor.Decode(operator.NewRegistry(), data)
	require.ErrorContains(t, err, `unit "opA"`)
}

func TestRegister_FusedRoundTrip(t *testing.T) {
	plan, err := planner.Build(planner.Mapping{
		0: {step("a1", operatortest.NewRename("_1"), "colX"), step("a2", operatortest.NewRename("_2"), "colX", "$colX_1")},
		1: {step("b1", operatortest.NewRename("_1"), "colY")},
	})
	require.NoError(t, err)
	p, err := executor.FromPlan(plan)
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	decoded, err := executor.Decode(registry(), data)
	require.NoError(t, err)

	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(again))

	want, err := p.FitTransform(context.Background(), xyz(t), nil)
	require.NoError(t, err)
	defer want.Release()
	got, err := decoded.FitTransform(context.Background(), xyz(t), nil)
	require.NoError(t, err)
	defer got.Release()
	requireKeys(t, keys(
		"colY", "colY_1",
		"colX", "colX_1_2",
		"colZ", "colZ",
	), got)
	requireKeys(t, keys(
		"colY", "colY_1",
		"colX", "colX_1_2",
		"colZ", "colZ",
	), want)
}
