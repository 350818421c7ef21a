package prep

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/colprep/pkg/prep/internal/intent"
	"github.com/grafana/colprep/pkg/prep/internal/metastore"
	"github.com/grafana/colprep/pkg/prep/internal/planner"
	"github.com/grafana/colprep/pkg/prep/internal/resolve"
	"github.com/grafana/colprep/pkg/prep/internal/table"
)

// IntentAspect is the store aspect the intent of every column is recorded
// under by [IntentStep].
const IntentAspect = intent.Aspect

// IntentStep returns a step which infers the intent of every column on its
// own and records it in the store. The columns pass through unchanged.
func IntentStep(name string) *Step {
	return NewStep(name, func(_ context.Context, t arrow.Record, _ *metastore.Store) (planner.Mapping, error) {
		var err error
		m := planner.PerColumn(table.OriginNames(t.Schema()), func(col string) []planner.Step {
			r, rerr := intent.NewResolver(resolve.Config{Name: name})
			if rerr != nil {
				err = rerr
			}
			return []planner.Step{{Name: name, Op: r, Columns: []table.Ref{table.Origin(col)}}}
		})
		return m, err
	})
}

// Intents returns the intent recorded in s for every column.
func Intents(s *metastore.Store) map[string]string {
	out := make(map[string]string)
	s.Range(func(k metastore.Key, v any) bool {
		if k.Aspect == intent.Aspect {
			if name, ok := v.(string); ok {
				out[k.Column] = name
			}
		}
		return true
	})
	return out
}
