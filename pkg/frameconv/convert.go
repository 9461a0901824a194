// Package frameconv converts between cell-identifier tables and
// geometry-bearing tables over the H3 grid. Tables are Arrow records; the
// geometry column carries WKB bytes tagged with the WGS84 CRS.
package frameconv

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/h3-frames/internal/frame"
	"github.com/mohammed-shakir/h3-frames/internal/geomwkb"
	"github.com/mohammed-shakir/h3-frames/internal/hexgrid"
)

const (
	// DefaultCellColumn is the process-wide default name of the column
	// holding H3 cell identifiers.
	DefaultCellColumn = "cell"
	// DefaultGeometryColumn is the default name of the WKB geometry column.
	DefaultGeometryColumn = "geometry"
)

// GeometryField is the schema field used for geometry columns this package
// produces.
func GeometryField(name string) arrow.Field {
	return arrow.Field{
		Name:     name,
		Type:     arrow.BinaryTypes.Binary,
		Nullable: true,
		Metadata: arrow.NewMetadata([]string{"crs"}, []string{geomwkb.CRS}),
	}
}

// CellsToGeometry derives a WKB polygon boundary for every cell in the named
// uint64 column and attaches the result as a geometry column on a new record.
// Null or invalid cell identifiers propagate as null geometries; no row is
// dropped and no error is raised for them. The input record is not mutated.
func CellsToGeometry(mem memory.Allocator, rec arrow.Record, cellColumn string) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	if cellColumn == "" {
		cellColumn = DefaultCellColumn
	}
	idx, err := frame.ColumnIndex(rec, cellColumn)
	if err != nil {
		return nil, err
	}
	cells, ok := rec.Column(idx).(*array.Uint64)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, expected uint64 cells", cellColumn, rec.Column(idx).DataType())
	}

	b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer b.Release()
	for row := 0; row < cells.Len(); row++ {
		if cells.IsNull(row) {
			b.AppendNull()
			continue
		}
		c := h3.Cell(cells.Value(row))
		if !c.IsValid() {
			b.AppendNull()
			continue
		}
		poly, err := geomwkb.BoundaryPolygon(c)
		if err != nil {
			b.AppendNull()
			continue
		}
		wkbBytes, err := geomwkb.Encode(poly)
		if err != nil {
			return nil, fmt.Errorf("encode boundary of %s: %w", c, err)
		}
		b.Append(wkbBytes)
	}

	geom := b.NewArray()
	defer geom.Release()
	return frame.AppendColumn(rec, GeometryField(DefaultGeometryColumn), geom)
}

// Options configures GeometryToCells.
type Options struct {
	// Resolution is the target H3 resolution, 0..15.
	Resolution int
	// Containment decides which cells count as inside a polygon.
	Containment hexgrid.ContainmentMode
	// Compact replaces complete sibling sets with their parent cell.
	Compact bool
	// CellColumn names the output cell column. Empty means DefaultCellColumn.
	CellColumn string
	// GeometryColumn names the input WKB column. Empty means
	// DefaultGeometryColumn.
	GeometryColumn string
	// Workers bounds the rasterization fan-out. Zero means one worker per
	// available CPU.
	Workers int
	// Rasterizer overrides the H3-backed rasterizer, for tests.
	Rasterizer hexgrid.Rasterizer
}

// GeometryToCells rasterizes the geometry column of rec into H3 cells and
// explodes the record so every cell becomes its own row, duplicating all
// other column values. Rows whose geometry produced zero cells survive as a
// single row with a null cell value. Output rows follow input row order, and
// the rows exploded from one source row stay contiguous in the rasterizer's
// order; positions are dense again because a fresh record is built.
//
// Every non-cell value is duplicated per produced cell, so peak memory grows
// with the total exploded row count, not the input size.
func GeometryToCells(mem memory.Allocator, rec arrow.Record, opts Options) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	cellColumn := opts.CellColumn
	if cellColumn == "" {
		cellColumn = DefaultCellColumn
	}
	geomColumn := opts.GeometryColumn
	if geomColumn == "" {
		geomColumn = DefaultGeometryColumn
	}

	// Configuration problems surface before any rasterization work.
	if err := hexgrid.ValidateResolution(opts.Resolution); err != nil {
		return nil, err
	}
	if err := opts.Containment.Validate(); err != nil {
		return nil, err
	}
	gi, err := frame.ColumnIndex(rec, geomColumn)
	if err != nil {
		return nil, err
	}
	geomCol, ok := rec.Column(gi).(*array.Binary)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, expected binary wkb", geomColumn, rec.Column(gi).DataType())
	}

	wkbs := make([][]byte, geomCol.Len())
	for row := 0; row < geomCol.Len(); row++ {
		if geomCol.IsNull(row) {
			continue
		}
		wkbs[row] = geomCol.Value(row)
	}

	raster := opts.Rasterizer
	if raster == nil {
		raster = hexgrid.New()
	}
	lists, err := hexgrid.CellsForAll(raster, wkbs, opts.Resolution, opts.Containment, opts.Compact, opts.Workers)
	if err != nil {
		return nil, err
	}

	lb := array.NewListBuilder(mem, arrow.PrimitiveTypes.Uint64)
	defer lb.Release()
	vb := lb.ValueBuilder().(*array.Uint64Builder)
	for _, cells := range lists {
		lb.Append(true)
		for _, c := range cells {
			vb.Append(uint64(c))
		}
	}
	listArr := lb.NewArray()
	defer listArr.Release()

	dropped := frame.DropColumn(rec, gi)
	defer dropped.Release()
	listField := arrow.Field{Name: cellColumn, Type: arrow.ListOf(arrow.PrimitiveTypes.Uint64), Nullable: true}
	nested, err := frame.AppendColumn(dropped, listField, listArr)
	if err != nil {
		return nil, err
	}
	defer nested.Release()

	return frame.ExplodeIncludeNull(mem, nested, cellColumn)
}
