// Package hexgrid rasterizes vector geometries into sets of H3 cells. The
// Rasterizer interface is the seam between orchestration and the H3 library,
// so tests can substitute a double.
package hexgrid

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/h3-frames/internal/geomwkb"
)

// ContainmentMode decides whether a cell counts as inside a polygon.
type ContainmentMode int

const (
	// ContainmentCenter keeps cells whose centroid is inside the polygon.
	// Centroids sitting exactly on a polygon edge resolve to one side by the
	// H3 library's point-in-polygon rule; the outcome is deterministic for a
	// given polygon and cell.
	ContainmentCenter ContainmentMode = iota
	// ContainmentFull keeps cells fully covered by the polygon.
	ContainmentFull
	// ContainmentOverlapping keeps cells that intersect the polygon at all.
	ContainmentOverlapping
	// ContainmentOverlappingBbox keeps cells whose bounding box intersects
	// the polygon. Cheaper and coarser than ContainmentOverlapping.
	ContainmentOverlappingBbox
)

var (
	ErrUnknownContainment = errors.New("unknown containment mode")
	ErrInvalidResolution  = errors.New("invalid H3 resolution")
)

func (m ContainmentMode) String() string {
	switch m {
	case ContainmentCenter:
		return "center"
	case ContainmentFull:
		return "full"
	case ContainmentOverlapping:
		return "overlapping"
	case ContainmentOverlappingBbox:
		return "overlapping_bbox"
	default:
		return fmt.Sprintf("containment(%d)", int(m))
	}
}

func (m ContainmentMode) Validate() error {
	if m < ContainmentCenter || m > ContainmentOverlappingBbox {
		return fmt.Errorf("%w: %d", ErrUnknownContainment, int(m))
	}
	return nil
}

// ParseContainment maps the wire spelling of a containment mode to its value.
func ParseContainment(s string) (ContainmentMode, error) {
	switch s {
	case "", "center":
		return ContainmentCenter, nil
	case "full":
		return ContainmentFull, nil
	case "overlapping":
		return ContainmentOverlapping, nil
	case "overlapping_bbox":
		return ContainmentOverlappingBbox, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownContainment, s)
	}
}

// ValidateResolution rejects resolutions outside the H3 range.
func ValidateResolution(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("%w %d (must be 0..15)", ErrInvalidResolution, res)
	}
	return nil
}

// Rasterizer turns one WKB geometry into the cells it covers at a resolution.
// Empty or nil geometry yields an empty cell set, never an error.
type Rasterizer interface {
	CellsFor(wkbGeom []byte, res int, mode ContainmentMode, compact bool) ([]h3.Cell, error)
}

// Grid is the H3-backed Rasterizer.
type Grid struct{}

func New() *Grid { return &Grid{} }

func (g *Grid) CellsFor(wkbGeom []byte, res int, mode ContainmentMode, compact bool) ([]h3.Cell, error) {
	if err := ValidateResolution(res); err != nil {
		return nil, err
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	geom, err := geomwkb.Decode(wkbGeom)
	if err != nil {
		return nil, err
	}
	if geom == nil {
		return nil, nil
	}

	var cells []h3.Cell
	switch gm := geom.(type) {
	case orb.Point:
		c, err := h3.LatLngToCell(h3.LatLng{Lat: gm.Lat(), Lng: gm.Lon()}, res)
		if err != nil {
			return nil, fmt.Errorf("point to cell: %w", err)
		}
		cells = []h3.Cell{c}
	case orb.MultiPoint:
		cells = make([]h3.Cell, 0, len(gm))
		for _, pt := range gm {
			c, err := h3.LatLngToCell(h3.LatLng{Lat: pt.Lat(), Lng: pt.Lon()}, res)
			if err != nil {
				return nil, fmt.Errorf("point to cell: %w", err)
			}
			cells = append(cells, c)
		}
		cells = dedupe(cells)
	default:
		polys, err := geomwkb.GeoPolygons(geom)
		if err != nil {
			return nil, err
		}
		for _, poly := range polys {
			if len(poly.GeoLoop) < 3 {
				continue
			}
			part, err := polygonCells(poly, res, mode)
			if err != nil {
				return nil, err
			}
			cells = append(cells, part...)
		}
		if len(polys) > 1 {
			cells = dedupe(cells)
		}
	}

	if compact && len(cells) > 0 {
		compacted, err := h3.CompactCells(cells)
		if err != nil {
			return nil, fmt.Errorf("compact cells: %w", err)
		}
		cells = compacted
	}
	return cells, nil
}

// polygonCells is the single call site of the version-sensitive H3 polyfill
// entry points.
func polygonCells(poly h3.GeoPolygon, res int, mode ContainmentMode) ([]h3.Cell, error) {
	var (
		cells []h3.Cell
		err   error
	)
	switch mode {
	case ContainmentCenter:
		cells, err = h3.PolygonToCells(poly, res)
	case ContainmentFull:
		cells, err = h3.PolygonToCellsExperimental(poly, res, h3.ContainmentFull)
	case ContainmentOverlapping:
		cells, err = h3.PolygonToCellsExperimental(poly, res, h3.ContainmentOverlapping)
	case ContainmentOverlappingBbox:
		cells, err = h3.PolygonToCellsExperimental(poly, res, h3.ContainmentOverlappingBbox)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownContainment, int(mode))
	}
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill (%s): %w", mode, err)
	}
	return cells, nil
}

// dedupe drops repeated cells while keeping first-occurrence order.
func dedupe(cells []h3.Cell) []h3.Cell {
	seen := make(map[h3.Cell]struct{}, len(cells))
	out := cells[:0]
	for _, c := range cells {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// CellsForAll rasterizes a batch of geometries, fanning the rows out across
// workers in contiguous chunks so that results land at their input position.
// Parameters are validated once, before any rasterization starts. Per-row
// failures are aggregated; any failure means no result.
func CellsForAll(r Rasterizer, geoms [][]byte, res int, mode ContainmentMode, compact bool, workers int) ([][]h3.Cell, error) {
	if err := ValidateResolution(res); err != nil {
		return nil, err
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}

	n := len(geoms)
	out := make([][]h3.Cell, n)
	if n == 0 {
		return out, nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	errs := make([]error, n)
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				cells, err := r.CellsFor(geoms[i], res, mode, compact)
				if err != nil {
					errs[i] = fmt.Errorf("row %d: %w", i, err)
					continue
				}
				out[i] = cells
			}
		}(lo, hi)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
