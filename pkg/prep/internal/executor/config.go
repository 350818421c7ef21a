package executor

import (
	"flag"
	"runtime"
)

// Config configures a [Processor].
type Config struct {
	// Parallelism bounds the number of units running concurrently. Zero or a
	// negative value uses all available CPUs, 1 runs units sequentially.
	Parallelism int `yaml:"parallelism"`

	// CollapseIndex drops the provenance level from results.
	CollapseIndex bool `yaml:"collapse_index"`

	// IsolateStores gives every unit its own fork of the metadata store while
	// fitting. Writes of a unit are merged into the canonical store when the
	// unit completes.
	IsolateStores bool `yaml:"isolate_stores"`
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.Parallelism, prefix+"parallelism", 0, "Maximum number of column groups processed concurrently. 0 uses all available CPUs, 1 processes groups sequentially.")
	f.BoolVar(&cfg.CollapseIndex, prefix+"collapse-index", false, "Drop column provenance from results, keeping only derived column names.")
	f.BoolVar(&cfg.IsolateStores, prefix+"isolate-stores", false, "Give every column group its own copy of the metadata store while fitting and merge its writes back on completion.")
}

// workers returns the number of workers to use for jobs units.
func (cfg Config) workers(jobs int) int {
	n := cfg.Parallelism
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return max(1, min(n, jobs))
}
