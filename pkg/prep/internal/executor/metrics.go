package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a container of metrics shared by the processors of a run.
type Metrics struct {
	// registry to collect metrics as a unit.
	reg *prometheus.Registry

	unitsTotal        *prometheus.CounterVec
	unitSeconds       *prometheus.HistogramVec
	passthroughTotal  prometheus.Counter
	storeMergedTotal  prometheus.Counter
	storeMergesTotal  prometheus.Counter
	skippedUnitsTotal prometheus.Counter
}

// NewMetrics returns metrics collected on a private registry. Use
// [Metrics.Register] to report them.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	return &Metrics{
		reg: reg,

		unitsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "colprep_executor_units_total",
			Help: "Total number of executed units by operation and outcome",
		}, []string{"op", "outcome"}),
		unitSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "colprep_executor_unit_seconds",
			Help: "Number of seconds a unit took to complete successfully",

			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: time.Hour,
		}, []string{"op"}),
		passthroughTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "colprep_executor_passthrough_columns_total",
			Help: "Total number of columns copied unchanged to results",
		}),
		storeMergedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "colprep_executor_store_merged_keys_total",
			Help: "Total number of metadata store keys merged back from isolated units",
		}),
		storeMergesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "colprep_executor_store_merges_total",
			Help: "Total number of isolated unit stores merged into the canonical store",
		}),
		skippedUnitsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "colprep_executor_skipped_units_total",
			Help: "Total number of units skipped because they had no operator or selected no columns",
		}),
	}
}

// Register registers metrics to report to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error { return reg.Register(m.reg) }

// Unregister unregisters metrics from the provided Registerer.
func (m *Metrics) Unregister(reg prometheus.Registerer) { reg.Unregister(m.reg) }
