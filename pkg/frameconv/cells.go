package frameconv

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/h3-frames/internal/frame"
	"github.com/mohammed-shakir/h3-frames/internal/hexgrid"
)

// GridDisk replaces every cell in the named uint64 column with the cells
// within grid distance k, exploding so each neighbor becomes its own row and
// duplicating all other column values. Null or invalid cells survive as a
// single row with a null cell. The input record is not mutated.
func GridDisk(mem memory.Allocator, rec arrow.Record, cellColumn string, k int) (arrow.Record, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: k=%d (must be >= 0)", hexgrid.ErrInvalidK, k)
	}
	return mapCellColumn(mem, rec, cellColumn, func(c h3.Cell) ([]h3.Cell, error) {
		return hexgrid.GridDisk(c, k)
	})
}

// ChangeResolution moves every cell in the named uint64 column to the target
// resolution: coarser targets map to the ancestor, finer targets explode into
// all descendants, equal targets pass through. Null or invalid cells survive
// as a single row with a null cell. The input record is not mutated.
func ChangeResolution(mem memory.Allocator, rec arrow.Record, cellColumn string, res int) (arrow.Record, error) {
	if err := hexgrid.ValidateResolution(res); err != nil {
		return nil, err
	}
	return mapCellColumn(mem, rec, cellColumn, func(c h3.Cell) ([]h3.Cell, error) {
		cur := c.Resolution()
		switch {
		case res == cur:
			return []h3.Cell{c}, nil
		case res < cur:
			p, err := hexgrid.Parent(c, res)
			if err != nil {
				return nil, err
			}
			return []h3.Cell{p}, nil
		default:
			return hexgrid.Children(c, res)
		}
	})
}

// mapCellColumn applies op to every valid cell of the named column, swaps the
// column for the resulting list<uint64> and explodes with null retention, so
// null and invalid source cells keep exactly one null row.
func mapCellColumn(mem memory.Allocator, rec arrow.Record, cellColumn string, op func(h3.Cell) ([]h3.Cell, error)) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	if cellColumn == "" {
		cellColumn = DefaultCellColumn
	}
	ci, err := frame.ColumnIndex(rec, cellColumn)
	if err != nil {
		return nil, err
	}
	cells, ok := rec.Column(ci).(*array.Uint64)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, expected uint64 cells", cellColumn, rec.Column(ci).DataType())
	}

	ids := make([]uint64, cells.Len())
	for row := 0; row < cells.Len(); row++ {
		if !cells.IsNull(row) {
			ids[row] = cells.Value(row)
		}
	}
	valid := hexgrid.ValidCells(ids)

	lb := array.NewListBuilder(mem, arrow.PrimitiveTypes.Uint64)
	defer lb.Release()
	vb := lb.ValueBuilder().(*array.Uint64Builder)
	for row := 0; row < cells.Len(); row++ {
		lb.Append(true)
		if cells.IsNull(row) || !valid[row] {
			continue
		}
		mapped, err := op(h3.Cell(ids[row]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		for _, c := range mapped {
			vb.Append(uint64(c))
		}
	}
	listArr := lb.NewArray()
	defer listArr.Release()

	dropped := frame.DropColumn(rec, ci)
	defer dropped.Release()
	listField := arrow.Field{Name: cellColumn, Type: arrow.ListOf(arrow.PrimitiveTypes.Uint64), Nullable: true}
	nested, err := frame.AppendColumn(dropped, listField, listArr)
	if err != nil {
		return nil, err
	}
	defer nested.Release()

	return frame.ExplodeIncludeNull(mem, nested, cellColumn)
}
