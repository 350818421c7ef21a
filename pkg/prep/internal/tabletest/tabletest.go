// Package tabletest provides helpers for building and inspecting tables in
// tests.
package tabletest

import (
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/grafana/colprep/pkg/prep/internal/table"
)

// Float64 returns a nullable float64 field.
func Float64(name string) arrow.Field {
	return arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true}
}

// Int64 returns a nullable int64 field.
func Int64(name string) arrow.Field {
	return arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64, Nullable: true}
}

// String returns a nullable utf8 field.
func String(name string) arrow.Field {
	return arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
}

// CSV converts csvData to a record with the given fields using the arrow CSV
// reader. Empty cells and "NULL" are read as nulls. The record is released
// when the test finishes.
func CSV(t testing.TB, fields []arrow.Field, csvData string) arrow.Record {
	t.Helper()

	csvData = strings.TrimSpace(csvData)
	reader := csv.NewReader(
		strings.NewReader(csvData),
		arrow.NewSchema(fields, nil),
		csv.WithAllocator(memory.NewGoAllocator()),
		csv.WithNullReader(true, "", "NULL"),
		csv.WithComma(','),
		csv.WithChunk(-1), // Read all rows
	)
	defer reader.Release()

	require.True(t, reader.Next(), "failed to read CSV data: %v", reader.Err())
	rec := reader.Record()
	rec.Retain()
	t.Cleanup(rec.Release)
	return rec
}

// Columns returns the values of every column of rec keyed by field name.
// Nulls are reported as nil.
func Columns(rec arrow.Record) map[string][]any {
	out := make(map[string][]any, rec.NumCols())
	for i, f := range rec.Schema().Fields() {
		out[f.Name] = Values(rec.Column(i))
	}
	return out
}

// Column returns the values of the first column of rec named name, or nil if
// there is none.
func Column(rec arrow.Record, name string) []any {
	for i, f := range rec.Schema().Fields() {
		if f.Name == name {
			return Values(rec.Column(i))
		}
	}
	return nil
}

// Values returns the values of arr as Go values.
func Values(arr arrow.Array) []any {
	out := make([]any, arr.Len())
	for i := range out {
		if arr.IsNull(i) {
			continue
		}
		switch arr := arr.(type) {
		case *array.Float64:
			out[i] = arr.Value(i)
		case *array.Int64:
			out[i] = arr.Value(i)
		case *array.String:
			out[i] = arr.Value(i)
		case *array.Boolean:
			out[i] = arr.Value(i)
		default:
			out[i] = arr.ValueStr(i)
		}
	}
	return out
}

// Keys returns the provenance keys of rec.
func Keys(rec arrow.Record) []table.Key {
	return table.Keys(rec.Schema())
}
