package table

import (
	"fmt"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	preperrors "github.com/grafana/colprep/pkg/prep/internal/errors"
)

// Empty returns a table without columns that keeps the given row count.
func Empty(rows int64) arrow.Record {
	return array.NewRecord(arrow.NewSchema(nil, nil), nil, rows)
}

// Select returns the indices of the fields of s matched by refs. Indices are
// ordered by the first matching reference and each field appears at most
// once. References that match nothing are skipped.
func Select(s *arrow.Schema, refs []Ref) []int {
	var (
		indices []int
		seen    = make(map[int]struct{}, s.NumFields())
	)
	for _, ref := range refs {
		for i, f := range s.Fields() {
			if _, ok := seen[i]; ok || !ref.Matches(f) {
				continue
			}
			seen[i] = struct{}{}
			indices = append(indices, i)
		}
	}
	return indices
}

// Covered reports for every field of s whether any of refs selects it.
func Covered(s *arrow.Schema, refs []Ref) []bool {
	covered := make([]bool, s.NumFields())
	for _, i := range Select(s, refs) {
		covered[i] = true
	}
	return covered
}

// Slice returns the columns of rec selected by refs, in selection order.
//
// A table without columns is returned as is. Requesting zero columns returns
// an empty table with the row count of rec. Provenance metadata is dropped
// from the selected fields, so operators always receive single-level tables.
// The caller owns the returned record.
func Slice(rec arrow.Record, refs []Ref) arrow.Record {
	if rec.NumCols() == 0 {
		rec.Retain()
		return rec
	}
	if len(refs) == 0 {
		return Empty(rec.NumRows())
	}
	return Project(rec, Select(rec.Schema(), refs), true)
}

// Project returns the columns of rec at indices. When dropLevel is set the
// origin metadata is removed from the projected fields.
func Project(rec arrow.Record, indices []int, dropLevel bool) arrow.Record {
	fields := make([]arrow.Field, 0, len(indices))
	cols := make([]arrow.Array, 0, len(indices))
	for _, i := range indices {
		f := rec.Schema().Field(i)
		if dropLevel {
			f = withoutOrigin(f)
		}
		fields = append(fields, f)
		cols = append(cols, rec.Column(i))
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, rec.NumRows())
}

// Passthrough returns the columns of rec which are not covered, in input
// order. Each returned field carries an explicit origin so that it can be
// concatenated with tagged outputs.
func Passthrough(rec arrow.Record, covered []bool) arrow.Record {
	var (
		fields []arrow.Field
		cols   []arrow.Array
	)
	for i, f := range rec.Schema().Fields() {
		if i < len(covered) && covered[i] {
			continue
		}
		fields = append(fields, withOrigin(f, FieldKey(f).Origin))
		cols = append(cols, rec.Column(i))
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, rec.NumRows())
}

// Tag returns rec with every field assigned to origin.
func Tag(rec arrow.Record, origin string) arrow.Record {
	return MapOrigins(rec, func(Key) string { return origin })
}

// MapOrigins returns rec with the origin of every field replaced by the
// result of fn.
func MapOrigins(rec arrow.Record, fn func(Key) string) arrow.Record {
	fields := make([]arrow.Field, 0, rec.NumCols())
	for _, f := range rec.Schema().Fields() {
		fields = append(fields, withOrigin(f, fn(FieldKey(f))))
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), rec.Columns(), rec.NumRows())
}

// Concat joins recs column-wise. All records must have rows rows. Concat of
// no records returns an empty table with rows rows.
func Concat(rows int64, recs ...arrow.Record) (arrow.Record, error) {
	var (
		fields []arrow.Field
		cols   []arrow.Array
	)
	for _, rec := range recs {
		if rec.NumRows() != rows {
			return nil, fmt.Errorf("%w: expected %d rows, got %d (columns %s)", preperrors.ErrRowMismatch, rows, rec.NumRows(), strings.Join(Names(rec.Schema()), ","))
		}
		fields = append(fields, rec.Schema().Fields()...)
		cols = append(cols, rec.Columns()...)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, rows), nil
}

// Collapse drops the provenance level of rec, keeping derived names only. It
// fails with [preperrors.ErrAmbiguousColumns] if that produces duplicate
// names. Row order is unchanged.
func Collapse(rec arrow.Record) (arrow.Record, error) {
	var (
		fields = make([]arrow.Field, 0, rec.NumCols())
		seen   = make(map[string]int, rec.NumCols())
		dups   []string
	)
	for _, f := range rec.Schema().Fields() {
		seen[f.Name]++
		if seen[f.Name] == 2 {
			dups = append(dups, f.Name)
		}
		fields = append(fields, withoutOrigin(f))
	}
	if len(dups) > 0 {
		return nil, fmt.Errorf("%w: %s", preperrors.ErrAmbiguousColumns, strings.Join(dups, ","))
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), rec.Columns(), rec.NumRows()), nil
}

// Names returns the field names of s in schema order.
func Names(s *arrow.Schema) []string {
	out := make([]string, 0, s.NumFields())
	for _, f := range s.Fields() {
		out = append(out, f.Name)
	}
	return out
}

// OriginNames returns the distinct origins of s in first-seen order.
func OriginNames(s *arrow.Schema) []string {
	var out []string
	for _, k := range Keys(s) {
		if !slices.Contains(out, k.Origin) {
			out = append(out, k.Origin)
		}
	}
	return out
}
