package frame

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ExplodeIncludeNull flattens the named list column into one scalar value per
// row, duplicating all other column values across the rows produced from the
// same source row. A row whose list is empty or null still yields exactly one
// output row, with the flattened column set to null. Source row order is kept
// and each row's expansion group stays contiguous.
func ExplodeIncludeNull(mem memory.Allocator, rec arrow.Record, name string) (arrow.Record, error) {
	idx, err := ColumnIndex(rec, name)
	if err != nil {
		return nil, err
	}
	list, ok := rec.Column(idx).(*array.List)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, expected a list", name, rec.Column(idx).DataType())
	}
	listType, ok := rec.Schema().Field(idx).Type.(*arrow.ListType)
	if !ok {
		return nil, fmt.Errorf("column %q field type is not a list", name)
	}

	old := rec.Schema()
	fields := make([]arrow.Field, old.NumFields())
	for j := 0; j < old.NumFields(); j++ {
		fields[j] = old.Field(j)
	}
	fields[idx] = arrow.Field{Name: name, Type: listType.Elem(), Nullable: true}
	md := old.Metadata()
	schema := arrow.NewSchema(fields, &md)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	values := list.ListValues()
	for row := 0; row < int(rec.NumRows()); row++ {
		start, end := int64(0), int64(0)
		if !list.IsNull(row) {
			start, end = list.ValueOffsets(row)
		}
		if end <= start {
			// zero cells: keep the row, null the flattened column
			b.Field(idx).AppendNull()
			if err := appendOthers(b, rec, idx, row); err != nil {
				return nil, err
			}
			continue
		}
		for j := start; j < end; j++ {
			if err := appendValue(b.Field(idx), values, int(j)); err != nil {
				return nil, fmt.Errorf("column %q: %w", name, err)
			}
			if err := appendOthers(b, rec, idx, row); err != nil {
				return nil, err
			}
		}
	}
	return b.NewRecord(), nil
}

func appendOthers(b *array.RecordBuilder, rec arrow.Record, skip, row int) error {
	for j := 0; j < int(rec.NumCols()); j++ {
		if j == skip {
			continue
		}
		if err := appendValue(b.Field(j), rec.Column(j), row); err != nil {
			return fmt.Errorf("column %q: %w", rec.Schema().Field(j).Name, err)
		}
	}
	return nil
}

// appendValue copies one scalar from src[row] into dst. Only the column types
// produced by this module are supported; anything else is rejected rather
// than silently coerced.
func appendValue(dst array.Builder, src arrow.Array, row int) error {
	if src.IsNull(row) {
		dst.AppendNull()
		return nil
	}
	switch sb := dst.(type) {
	case *array.Uint64Builder:
		sb.Append(src.(*array.Uint64).Value(row))
	case *array.Int64Builder:
		sb.Append(src.(*array.Int64).Value(row))
	case *array.Float64Builder:
		sb.Append(src.(*array.Float64).Value(row))
	case *array.StringBuilder:
		sb.Append(src.(*array.String).Value(row))
	case *array.BinaryBuilder:
		sb.Append(src.(*array.Binary).Value(row))
	case *array.BooleanBuilder:
		sb.Append(src.(*array.Boolean).Value(row))
	default:
		return fmt.Errorf("unsupported column type %s", src.DataType())
	}
	return nil
}
