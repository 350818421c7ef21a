package prep

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/grafana/colprep/pkg/prep/internal/executor"
)

func TestConfig_YAML(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(`
executor:
  parallelism: 4
  collapse_index: true
  isolate_stores: true
`), &cfg))

	require.Equal(t, Config{Executor: executor.Config{
		Parallelism:   4,
		CollapseIndex: true,
		IsolateStores: true,
	}}, cfg)
}

func TestConfig_Flags(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlagsWithPrefix("prep.", fs)

	require.NoError(t, fs.Parse([]string{"-prep.executor.parallelism=2", "-prep.executor.isolate-stores"}))
	require.Equal(t, 2, cfg.Executor.Parallelism)
	require.True(t, cfg.Executor.IsolateStores)
	require.False(t, cfg.Executor.CollapseIndex)
}

func TestParams_Validate(t *testing.T) {
	var p Params
	require.NoError(t, p.validate())
	require.NotNil(t, p.Logger)
	require.NotNil(t, p.Registerer)
	require.Equal(t, []string{"Categorical", "Chain", "Identity", "Neither", "Numeric", "Processor", "Resolvable"}, p.Registry.Classes())
}
