// Package frame provides small helpers for treating Arrow records as plain
// column-oriented tables: column lookup, dropping and appending columns, and
// exploding list columns into rows.
package frame

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

var ErrNoColumn = errors.New("column not found")

// ColumnIndex returns the positional index of the named column.
func ColumnIndex(rec arrow.Record, name string) (int, error) {
	idxs := rec.Schema().FieldIndices(name)
	if len(idxs) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoColumn, name)
	}
	return idxs[0], nil
}

// DropColumn returns a new record without the column at index i. The input
// record is left untouched; its remaining columns are shared, not copied.
func DropColumn(rec arrow.Record, i int) arrow.Record {
	old := rec.Schema()
	fields := make([]arrow.Field, 0, old.NumFields()-1)
	cols := make([]arrow.Array, 0, old.NumFields()-1)
	for j := 0; j < old.NumFields(); j++ {
		if j == i {
			continue
		}
		fields = append(fields, old.Field(j))
		cols = append(cols, rec.Column(j))
	}
	md := old.Metadata()
	return array.NewRecord(arrow.NewSchema(fields, &md), cols, rec.NumRows())
}

// AppendColumn returns a new record with col attached under field. If a
// column with the same name already exists it is replaced in place, keeping
// the column order stable.
func AppendColumn(rec arrow.Record, field arrow.Field, col arrow.Array) (arrow.Record, error) {
	if int64(col.Len()) != rec.NumRows() {
		return nil, fmt.Errorf("column %q has %d rows, record has %d", field.Name, col.Len(), rec.NumRows())
	}
	old := rec.Schema()
	fields := make([]arrow.Field, 0, old.NumFields()+1)
	cols := make([]arrow.Array, 0, old.NumFields()+1)
	replaced := false
	for j := 0; j < old.NumFields(); j++ {
		if old.Field(j).Name == field.Name {
			fields = append(fields, field)
			cols = append(cols, col)
			replaced = true
			continue
		}
		fields = append(fields, old.Field(j))
		cols = append(cols, rec.Column(j))
	}
	if !replaced {
		fields = append(fields, field)
		cols = append(cols, col)
	}
	md := old.Metadata()
	return array.NewRecord(arrow.NewSchema(fields, &md), cols, rec.NumRows()), nil
}
