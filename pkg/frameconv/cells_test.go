package frameconv

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/h3-frames/internal/hexgrid"
)

func originCell(t *testing.T, res int) h3.Cell {
	t.Helper()
	c, err := h3.LatLngToCell(h3.LatLng{Lat: 59.3293, Lng: 18.0686}, res)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	return c
}

func TestGridDisk_ExplodesNeighbors(t *testing.T) {
	origin := originCell(t, 8)
	rec := cellRecord(t, []uint64{uint64(origin), 0}, []bool{false, true})
	defer rec.Release()

	out, err := GridDisk(nil, rec, "", 1)
	if err != nil {
		t.Fatalf("GridDisk: %v", err)
	}
	defer out.Release()

	// 7 disk rows for the hexagon plus one null row for the null cell
	if out.NumRows() != 8 {
		t.Fatalf("expected 7+1 rows, got %d", out.NumRows())
	}
	ci := out.Schema().FieldIndices(DefaultCellColumn)[0]
	cells := out.Column(ci).(*array.Uint64)
	ids := out.Column(0).(*array.Int64)
	sawOrigin := false
	for row := 0; row < 7; row++ {
		if cells.IsNull(row) {
			t.Fatalf("disk row %d must carry a cell", row)
		}
		if h3.Cell(cells.Value(row)) == origin {
			sawOrigin = true
		}
		if ids.Value(row) != 0 {
			t.Fatalf("disk row %d must duplicate the source id, got %d", row, ids.Value(row))
		}
	}
	if !sawOrigin {
		t.Fatalf("disk must include the origin cell")
	}
	if !cells.IsNull(7) || ids.Value(7) != 1 {
		t.Fatalf("null source cell must survive as one null row for id 1")
	}
}

func TestGridDisk_InvalidCellKeepsNullRow(t *testing.T) {
	rec := cellRecord(t, []uint64{0}, nil)
	defer rec.Release()

	out, err := GridDisk(nil, rec, "", 1)
	if err != nil {
		t.Fatalf("GridDisk: %v", err)
	}
	defer out.Release()

	if out.NumRows() != 1 {
		t.Fatalf("invalid cell must keep exactly one row, got %d", out.NumRows())
	}
	ci := out.Schema().FieldIndices(DefaultCellColumn)[0]
	if !out.Column(ci).(*array.Uint64).IsNull(0) {
		t.Fatalf("invalid cell must map to a null row")
	}
}

func TestGridDisk_InvalidK(t *testing.T) {
	rec := cellRecord(t, []uint64{uint64(originCell(t, 8))}, nil)
	defer rec.Release()

	if _, err := GridDisk(nil, rec, "", -1); !errors.Is(err, hexgrid.ErrInvalidK) {
		t.Fatalf("expected ErrInvalidK, got %v", err)
	}
}

func TestChangeResolution_ToParent(t *testing.T) {
	origin := originCell(t, 8)
	want, err := hexgrid.Parent(origin, 7)
	if err != nil {
		t.Fatalf("Parent: %v", err)
	}
	rec := cellRecord(t, []uint64{uint64(origin)}, nil)
	defer rec.Release()

	out, err := ChangeResolution(nil, rec, "", 7)
	if err != nil {
		t.Fatalf("ChangeResolution: %v", err)
	}
	defer out.Release()

	if out.NumRows() != 1 {
		t.Fatalf("coarsening must keep one row, got %d", out.NumRows())
	}
	ci := out.Schema().FieldIndices(DefaultCellColumn)[0]
	got := out.Column(ci).(*array.Uint64)
	if got.IsNull(0) || h3.Cell(got.Value(0)) != want {
		t.Fatalf("expected parent %s, got %v", want, got)
	}
}

func TestChangeResolution_ToChildren(t *testing.T) {
	origin := originCell(t, 8)
	rec := cellRecord(t, []uint64{uint64(origin)}, nil)
	defer rec.Release()

	out, err := ChangeResolution(nil, rec, "", 9)
	if err != nil {
		t.Fatalf("ChangeResolution: %v", err)
	}
	defer out.Release()

	if out.NumRows() != 7 {
		t.Fatalf("a hexagon has 7 children one level down, got %d rows", out.NumRows())
	}
	ci := out.Schema().FieldIndices(DefaultCellColumn)[0]
	cells := out.Column(ci).(*array.Uint64)
	for row := 0; row < int(out.NumRows()); row++ {
		c := h3.Cell(cells.Value(row))
		p, err := hexgrid.Parent(c, 8)
		if err != nil {
			t.Fatalf("Parent: %v", err)
		}
		if p != origin {
			t.Fatalf("row %d: child %s does not descend from %s", row, c, origin)
		}
	}
}

func TestChangeResolution_SameResolutionPassesThrough(t *testing.T) {
	origin := originCell(t, 8)
	rec := cellRecord(t, []uint64{uint64(origin), 0}, []bool{false, true})
	defer rec.Release()

	out, err := ChangeResolution(nil, rec, "", 8)
	if err != nil {
		t.Fatalf("ChangeResolution: %v", err)
	}
	defer out.Release()

	if out.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", out.NumRows())
	}
	ci := out.Schema().FieldIndices(DefaultCellColumn)[0]
	cells := out.Column(ci).(*array.Uint64)
	if cells.IsNull(0) || h3.Cell(cells.Value(0)) != origin {
		t.Fatalf("same-resolution cell must pass through unchanged")
	}
	if !cells.IsNull(1) {
		t.Fatalf("null cell must stay null")
	}
}

func TestChangeResolution_InvalidResolution(t *testing.T) {
	rec := cellRecord(t, []uint64{uint64(originCell(t, 8))}, nil)
	defer rec.Release()

	if _, err := ChangeResolution(nil, rec, "", 16); !errors.Is(err, hexgrid.ErrInvalidResolution) {
		t.Fatalf("expected ErrInvalidResolution, got %v", err)
	}
}
