// Package geomwkb is the geometry boundary of the module: it converts between
// well-known-binary bytes, orb geometries, and the polygon loops consumed by
// the H3 library.
package geomwkb

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	h3 "github.com/uber/h3-go/v4"
)

// CRS is the coordinate reference all geometries in this module share. H3
// cell geometry is defined on WGS84.
const CRS = "EPSG:4326"

var ErrInvalidWKB = errors.New("invalid wkb")

// Decode parses WKB bytes into an orb geometry. Empty input decodes to a nil
// geometry, structurally broken input returns ErrInvalidWKB.
func Decode(b []byte) (orb.Geometry, error) {
	if len(b) == 0 {
		return nil, nil
	}
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWKB, err)
	}
	return g, nil
}

// Encode serializes an orb geometry to WKB.
func Encode(g orb.Geometry) ([]byte, error) {
	return wkb.Marshal(g)
}

// GeoPolygons converts a polygonal geometry into H3 polygon loops. A nil or
// empty geometry yields no polygons.
func GeoPolygons(g orb.Geometry) ([]h3.GeoPolygon, error) {
	switch geom := g.(type) {
	case nil:
		return nil, nil
	case orb.Polygon:
		if len(geom) == 0 {
			return nil, nil
		}
		return []h3.GeoPolygon{polygonToGeoPolygon(geom)}, nil
	case orb.MultiPolygon:
		out := make([]h3.GeoPolygon, 0, len(geom))
		for _, p := range geom {
			if len(p) == 0 {
				continue
			}
			out = append(out, polygonToGeoPolygon(p))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %s", g.GeoJSONType())
	}
}

func polygonToGeoPolygon(p orb.Polygon) h3.GeoPolygon {
	gp := h3.GeoPolygon{GeoLoop: ringToLoop(p[0])}
	for _, hole := range p[1:] {
		gp.Holes = append(gp.Holes, ringToLoop(hole))
	}
	return gp
}

// ringToLoop converts an orb ring to an h3 loop in degrees. Rings carry an
// explicit closing vertex, loops do not.
func ringToLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, pt := range r {
		loop = append(loop, h3.LatLng{Lat: pt.Lat(), Lng: pt.Lon()})
	}
	if len(loop) >= 2 {
		first, last := loop[0], loop[len(loop)-1]
		if first.Lat == last.Lat && first.Lng == last.Lng {
			loop = loop[:len(loop)-1]
		}
	}
	return loop
}

// BoundaryPolygon returns the closed boundary ring of a cell as an orb
// polygon.
func BoundaryPolygon(c h3.Cell) (orb.Polygon, error) {
	boundary, err := c.Boundary()
	if err != nil {
		return nil, fmt.Errorf("cell boundary: %w", err)
	}
	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, ll := range boundary {
		ring = append(ring, orb.Point{ll.Lng, ll.Lat})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}, nil
}
