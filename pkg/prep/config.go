package prep

import (
	"errors"
	"flag"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/colprep/pkg/prep/internal/executor"
	"github.com/grafana/colprep/pkg/prep/internal/intent"
	"github.com/grafana/colprep/pkg/prep/internal/operator"
)

// Config configures a [Pipeline].
type Config struct {
	Executor executor.Config `yaml:"executor"`
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	cfg.Executor.RegisterFlagsWithPrefix(prefix+"executor.", f)
}

// Params holds parameters for constructing a new [Pipeline].
type Params struct {
	Logger     log.Logger            // Logger for optional log messages.
	Registerer prometheus.Registerer // Registerer for optional metrics.

	Config Config // Config for the Pipeline.

	// Registry instantiates operators when decoding. Defaults to a registry
	// holding the built-in operators, processors and intents.
	Registry *operator.Registry
}

// validate validates p and applies defaults.
func (p *Params) validate() error {
	if p.Logger == nil {
		p.Logger = log.NewNopLogger()
	}
	if p.Registerer == nil {
		p.Registerer = prometheus.NewRegistry()
	}
	if p.Registry == nil {
		p.Registry = NewRegistry()
	}
	if p.Config.Executor.Parallelism < 0 {
		return errors.New("parallelism must not be negative, use 0 for all available CPUs")
	}
	return nil
}

// NewRegistry returns a registry holding the built-in operators, processors
// and intents.
func NewRegistry() *operator.Registry {
	reg := operator.NewRegistry()
	executor.Register(reg)
	intent.Register(reg)
	return reg
}
