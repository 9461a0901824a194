package hexgrid

import (
	"errors"
	"fmt"

	h3 "github.com/uber/h3-go/v4"
)

var ErrInvalidK = errors.New("invalid grid distance")

// GridDisk returns all cells within grid distance k of origin, origin
// included. k=0 is just the origin itself.
func GridDisk(origin h3.Cell, k int) ([]h3.Cell, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: k=%d (must be >= 0)", ErrInvalidK, k)
	}
	if !origin.IsValid() {
		return nil, fmt.Errorf("invalid h3 cell %s", origin)
	}
	cells, err := h3.GridDisk(origin, k)
	if err != nil {
		return nil, fmt.Errorf("h3 grid disk: %w", err)
	}
	return cells, nil
}

// GridDiskDistances returns the cells within grid distance k of origin,
// grouped by distance: band i holds the cells exactly i steps away.
func GridDiskDistances(origin h3.Cell, k int) ([][]h3.Cell, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: k=%d (must be >= 0)", ErrInvalidK, k)
	}
	if !origin.IsValid() {
		return nil, fmt.Errorf("invalid h3 cell %s", origin)
	}
	bands, err := h3.GridDiskDistances(origin, k)
	if err != nil {
		return nil, fmt.Errorf("h3 grid disk distances: %w", err)
	}
	return bands, nil
}

// GridRingDistances returns the distance bands from kMin through kMax
// inclusive.
func GridRingDistances(origin h3.Cell, kMin, kMax int) ([][]h3.Cell, error) {
	if kMin < 0 || kMin >= kMax {
		return nil, fmt.Errorf("%w: ring %d..%d (need 0 <= kMin < kMax)", ErrInvalidK, kMin, kMax)
	}
	bands, err := GridDiskDistances(origin, kMax)
	if err != nil {
		return nil, err
	}
	return bands[kMin:], nil
}
