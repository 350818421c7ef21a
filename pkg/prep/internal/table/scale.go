package table

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Scale multiplies every numeric column of rec by w. Integer and floating
// point columns other than float64 are widened to float64; other columns are
// kept unchanged. Nulls stay null. The caller owns the returned record.
func Scale(rec arrow.Record, w float64) arrow.Record {
	fields := make([]arrow.Field, 0, rec.NumCols())
	cols := make([]arrow.Array, 0, rec.NumCols())
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()

	for i, f := range rec.Schema().Fields() {
		col := rec.Column(i)
		value, ok := numericValue(col)
		if !ok {
			col.Retain()
			cols = append(cols, col)
			fields = append(fields, f)
			continue
		}
		cols = append(cols, scaleFloat64(col.Len(), col.IsNull, value, w))
		f.Type = arrow.PrimitiveTypes.Float64
		fields = append(fields, f)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, rec.NumRows())
}

// numericValue returns an accessor reading the values of col as float64, or
// false if col is not numeric.
func numericValue(col arrow.Array) (func(int) float64, bool) {
	switch arr := col.(type) {
	case *array.Float64:
		return arr.Value, true
	case *array.Float32:
		return func(i int) float64 { return float64(arr.Value(i)) }, true
	case *array.Float16:
		return func(i int) float64 { return float64(arr.Value(i).Float32()) }, true
	case *array.Int8:
		return func(i int) float64 { return float64(arr.Value(i)) }, true
	case *array.Int16:
		return func(i int) float64 { return float64(arr.Value(i)) }, true
	case *array.Int32:
		return func(i int) float64 { return float64(arr.Value(i)) }, true
	case *array.Int64:
		return func(i int) float64 { return float64(arr.Value(i)) }, true
	case *array.Uint8:
		return func(i int) float64 { return float64(arr.Value(i)) }, true
	case *array.Uint16:
		return func(i int) float64 { return float64(arr.Value(i)) }, true
	case *array.Uint32:
		return func(i int) float64 { return float64(arr.Value(i)) }, true
	case *array.Uint64:
		return func(i int) float64 { return float64(arr.Value(i)) }, true
	default:
		return nil, false
	}
}

func scaleFloat64(n int, isNull func(int) bool, value func(int) float64, w float64) arrow.Array {
	b := array.NewFloat64Builder(memory.DefaultAllocator)
	defer b.Release()
	b.Reserve(n)
	for i := 0; i < n; i++ {
		if isNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(value(i) * w)
	}
	return b.NewArray()
}
