package frameconv

import (
	"math"
	"sync/atomic"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/h3-frames/internal/geomwkb"
	"github.com/mohammed-shakir/h3-frames/internal/hexgrid"
)

// scriptedRaster returns one pre-scripted cell list per input row, matched by
// the geometry payload byte.
type scriptedRaster struct {
	calls atomic.Int64
	lists map[byte][]h3.Cell
}

func (s *scriptedRaster) CellsFor(wkbGeom []byte, _ int, _ hexgrid.ContainmentMode, _ bool) ([]h3.Cell, error) {
	s.calls.Add(1)
	if len(wkbGeom) == 0 {
		return nil, nil
	}
	return s.lists[wkbGeom[0]], nil
}

// geomRecord builds a record with id, label and geometry columns; geoms are
// opaque payloads for the scripted rasterizer, nil means null geometry.
func geomRecord(t *testing.T, geoms [][]byte) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "label", Type: arrow.BinaryTypes.String, Nullable: true},
		GeometryField(DefaultGeometryColumn),
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	ids := b.Field(0).(*array.Int64Builder)
	labels := b.Field(1).(*array.StringBuilder)
	gs := b.Field(2).(*array.BinaryBuilder)
	for i, g := range geoms {
		ids.Append(int64(i))
		labels.Append(string(rune('a' + i)))
		if g == nil {
			gs.AppendNull()
		} else {
			gs.Append(g)
		}
	}
	return b.NewRecord()
}

func TestGeometryToCells_RowCountLaw(t *testing.T) {
	raster := &scriptedRaster{lists: map[byte][]h3.Cell{
		'x': {1, 2, 3},
		'y': {},
		'z': {9},
	}}
	rec := geomRecord(t, [][]byte{{'x'}, {'y'}, {'z'}})
	defer rec.Release()

	out, err := GeometryToCells(nil, rec, Options{Resolution: 8, Rasterizer: raster})
	if err != nil {
		t.Fatalf("GeometryToCells: %v", err)
	}
	defer out.Release()

	if out.NumRows() != 5 {
		t.Fatalf("expected 3+1+1 = 5 rows, got %d", out.NumRows())
	}

	ci := out.Schema().FieldIndices(DefaultCellColumn)
	if len(ci) != 1 {
		t.Fatalf("missing cell column in output schema %v", out.Schema())
	}
	cells := out.Column(ci[0]).(*array.Uint64)
	wantNull := []bool{false, false, false, true, false}
	wantVals := []uint64{1, 2, 3, 0, 9}
	for i := range wantNull {
		if cells.IsNull(i) != wantNull[i] {
			t.Fatalf("row %d: null=%v, want %v", i, cells.IsNull(i), wantNull[i])
		}
		if !wantNull[i] && cells.Value(i) != wantVals[i] {
			t.Fatalf("row %d: cell=%d, want %d", i, cells.Value(i), wantVals[i])
		}
	}
}

func TestGeometryToCells_DuplicationLaw(t *testing.T) {
	raster := &scriptedRaster{lists: map[byte][]h3.Cell{
		'x': {10, 11},
		'y': {},
	}}
	rec := geomRecord(t, [][]byte{{'x'}, {'y'}})
	defer rec.Release()

	out, err := GeometryToCells(nil, rec, Options{Resolution: 8, Rasterizer: raster})
	if err != nil {
		t.Fatalf("GeometryToCells: %v", err)
	}
	defer out.Release()

	ids := out.Column(0).(*array.Int64)
	labels := out.Column(1).(*array.String)
	wantIDs := []int64{0, 0, 1}
	wantLabels := []string{"a", "a", "b"}
	for i := range wantIDs {
		if ids.Value(i) != wantIDs[i] || labels.Value(i) != wantLabels[i] {
			t.Fatalf("row %d: (%d,%q), want (%d,%q)", i, ids.Value(i), labels.Value(i), wantIDs[i], wantLabels[i])
		}
	}
}

func TestGeometryToCells_DropsGeometryColumn(t *testing.T) {
	raster := &scriptedRaster{lists: map[byte][]h3.Cell{'x': {1}}}
	rec := geomRecord(t, [][]byte{{'x'}})
	defer rec.Release()

	out, err := GeometryToCells(nil, rec, Options{Resolution: 8, Rasterizer: raster})
	if err != nil {
		t.Fatalf("GeometryToCells: %v", err)
	}
	defer out.Release()

	if len(out.Schema().FieldIndices(DefaultGeometryColumn)) != 0 {
		t.Fatalf("geometry column must not survive, schema %v", out.Schema())
	}
}

func TestGeometryToCells_NullGeometryYieldsNullRow(t *testing.T) {
	raster := &scriptedRaster{lists: map[byte][]h3.Cell{'x': {7}}}
	rec := geomRecord(t, [][]byte{nil, {'x'}})
	defer rec.Release()

	out, err := GeometryToCells(nil, rec, Options{Resolution: 8, Rasterizer: raster})
	if err != nil {
		t.Fatalf("GeometryToCells: %v", err)
	}
	defer out.Release()

	if out.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", out.NumRows())
	}
	ci := out.Schema().FieldIndices(DefaultCellColumn)[0]
	cells := out.Column(ci).(*array.Uint64)
	if !cells.IsNull(0) {
		t.Fatalf("row with null geometry must keep a null cell row")
	}
	if cells.IsNull(1) || cells.Value(1) != 7 {
		t.Fatalf("second row should carry cell 7")
	}
}

func TestGeometryToCells_ConfigErrorsBeforeRasterization(t *testing.T) {
	raster := &scriptedRaster{lists: map[byte][]h3.Cell{'x': {1}}}
	rec := geomRecord(t, [][]byte{{'x'}})
	defer rec.Release()

	cases := []Options{
		{Resolution: -1, Rasterizer: raster},
		{Resolution: 16, Rasterizer: raster},
		{Resolution: 8, Containment: hexgrid.ContainmentMode(99), Rasterizer: raster},
	}
	for i, opts := range cases {
		if _, err := GeometryToCells(nil, rec, opts); err == nil {
			t.Fatalf("case %d: expected configuration error", i)
		}
	}
	if got := raster.calls.Load(); got != 0 {
		t.Fatalf("rasterizer must not run on configuration errors, got %d calls", got)
	}
}

func TestGeometryToCells_MissingGeometryColumn(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	b.Field(0).(*array.Int64Builder).Append(1)
	rec := b.NewRecord()
	b.Release()
	defer rec.Release()

	if _, err := GeometryToCells(nil, rec, Options{Resolution: 8}); err == nil {
		t.Fatalf("expected missing column error")
	}
}

func TestGeometryToCells_CustomCellColumnName(t *testing.T) {
	raster := &scriptedRaster{lists: map[byte][]h3.Cell{'x': {5}}}
	rec := geomRecord(t, [][]byte{{'x'}})
	defer rec.Release()

	out, err := GeometryToCells(nil, rec, Options{Resolution: 8, CellColumn: "hex_id", Rasterizer: raster})
	if err != nil {
		t.Fatalf("GeometryToCells: %v", err)
	}
	defer out.Release()

	if len(out.Schema().FieldIndices("hex_id")) != 1 {
		t.Fatalf("expected hex_id column, schema %v", out.Schema())
	}
}

func TestGeometryToCells_InputNotMutated(t *testing.T) {
	raster := &scriptedRaster{lists: map[byte][]h3.Cell{'x': {1, 2}}}
	rec := geomRecord(t, [][]byte{{'x'}})
	defer rec.Release()

	out, err := GeometryToCells(nil, rec, Options{Resolution: 8, Rasterizer: raster})
	if err != nil {
		t.Fatalf("GeometryToCells: %v", err)
	}
	out.Release()

	if rec.NumRows() != 1 || rec.NumCols() != 3 {
		t.Fatalf("input record changed shape: %dx%d", rec.NumRows(), rec.NumCols())
	}
	if rec.Schema().Field(2).Name != DefaultGeometryColumn {
		t.Fatalf("input schema changed: %v", rec.Schema())
	}
}

func cellRecord(t *testing.T, ids []uint64, nulls []bool) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: DefaultCellColumn, Type: arrow.PrimitiveTypes.Uint64, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	idb := b.Field(0).(*array.Int64Builder)
	cb := b.Field(1).(*array.Uint64Builder)
	for i, v := range ids {
		idb.Append(int64(i))
		if nulls != nil && nulls[i] {
			cb.AppendNull()
		} else {
			cb.Append(v)
		}
	}
	return b.NewRecord()
}

func TestCellsToGeometry_RowPreservingWithNulls(t *testing.T) {
	valid, err := h3.LatLngToCell(h3.LatLng{Lat: 59.3293, Lng: 18.0686}, 8)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	rec := cellRecord(t, []uint64{uint64(valid), 0, 0}, []bool{false, true, false})
	defer rec.Release()

	out, err := CellsToGeometry(nil, rec, "")
	if err != nil {
		t.Fatalf("CellsToGeometry: %v", err)
	}
	defer out.Release()

	if out.NumRows() != rec.NumRows() {
		t.Fatalf("row count must be preserved: %d != %d", out.NumRows(), rec.NumRows())
	}
	gi := out.Schema().FieldIndices(DefaultGeometryColumn)
	if len(gi) != 1 {
		t.Fatalf("missing geometry column, schema %v", out.Schema())
	}
	geoms := out.Column(gi[0]).(*array.Binary)
	if geoms.IsNull(0) {
		t.Fatalf("valid cell must yield a geometry")
	}
	if !geoms.IsNull(1) {
		t.Fatalf("null cell must yield a null geometry")
	}
	if !geoms.IsNull(2) {
		t.Fatalf("invalid cell (0) must yield a null geometry")
	}

	md := out.Schema().Field(gi[0]).Metadata
	ki := md.FindKey("crs")
	if ki < 0 || md.Values()[ki] != geomwkb.CRS {
		t.Fatalf("geometry column must carry crs metadata, got %v", md)
	}
}

// A polygon that covers exactly one cell should survive the round trip: its
// rasterization is that one cell, and the cell's derived boundary matches the
// cell's known boundary.
func TestRoundTrip_SingleCellPolygon(t *testing.T) {
	const res = 8
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: 59.3293, Lng: 18.0686}, res)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	boundary, err := geomwkb.BoundaryPolygon(cell)
	if err != nil {
		t.Fatalf("BoundaryPolygon: %v", err)
	}
	wkbPoly, err := geomwkb.Encode(boundary)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		GeometryField(DefaultGeometryColumn),
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	b.Field(0).(*array.Int64Builder).Append(1)
	b.Field(1).(*array.BinaryBuilder).Append(wkbPoly)
	rec := b.NewRecord()
	b.Release()
	defer rec.Release()

	cellsRec, err := GeometryToCells(nil, rec, Options{Resolution: res, Containment: hexgrid.ContainmentCenter})
	if err != nil {
		t.Fatalf("GeometryToCells: %v", err)
	}
	defer cellsRec.Release()

	if cellsRec.NumRows() != 1 {
		t.Fatalf("polygon equal to one cell must rasterize to exactly 1 row, got %d", cellsRec.NumRows())
	}
	ci := cellsRec.Schema().FieldIndices(DefaultCellColumn)[0]
	got := cellsRec.Column(ci).(*array.Uint64)
	if got.IsNull(0) || h3.Cell(got.Value(0)) != cell {
		t.Fatalf("expected cell %s, got %v", cell, got)
	}

	geomRec, err := CellsToGeometry(nil, cellsRec, "")
	if err != nil {
		t.Fatalf("CellsToGeometry: %v", err)
	}
	defer geomRec.Release()

	gi := geomRec.Schema().FieldIndices(DefaultGeometryColumn)[0]
	raw := geomRec.Column(gi).(*array.Binary).Value(0)
	g, err := geomwkb.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	gotPoly, ok := g.(orb.Polygon)
	if !ok {
		t.Fatalf("expected polygon, got %T", g)
	}
	if len(gotPoly[0]) != len(boundary[0]) {
		t.Fatalf("boundary vertex count differs: %d != %d", len(gotPoly[0]), len(boundary[0]))
	}
	for i, pt := range gotPoly[0] {
		want := boundary[0][i]
		if math.Abs(pt.Lon()-want.Lon()) > 1e-9 || math.Abs(pt.Lat()-want.Lat()) > 1e-9 {
			t.Fatalf("boundary point %d drifted: %v != %v", i, pt, want)
		}
	}
}

func TestCellsToGeometry_MissingColumn(t *testing.T) {
	rec := cellRecord(t, []uint64{1}, nil)
	defer rec.Release()

	if _, err := CellsToGeometry(nil, rec, "absent"); err == nil {
		t.Fatalf("expected missing column error")
	}
}

func TestCellsToGeometry_WrongColumnType(t *testing.T) {
	rec := cellRecord(t, []uint64{1}, nil)
	defer rec.Release()

	if _, err := CellsToGeometry(nil, rec, "id"); err == nil {
		t.Fatalf("expected type error for int64 cell column")
	}
}
