package hexgrid

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"
)

// Parent returns the ancestor of c at the given coarser resolution. Asking
// for the cell's own resolution returns the cell itself.
func Parent(c h3.Cell, res int) (h3.Cell, error) {
	if err := ValidateResolution(res); err != nil {
		return 0, err
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %s", c)
	}
	cur := c.Resolution()
	if res > cur {
		return 0, fmt.Errorf("parent resolution %d must be <= cell resolution %d", res, cur)
	}
	if res == cur {
		return c, nil
	}
	p, err := c.Parent(res)
	if err != nil {
		return 0, fmt.Errorf("h3 parent: %w", err)
	}
	return p, nil
}

// Children returns the descendants of c at the given finer resolution.
func Children(c h3.Cell, res int) ([]h3.Cell, error) {
	if err := ValidateResolution(res); err != nil {
		return nil, err
	}
	if !c.IsValid() {
		return nil, fmt.Errorf("invalid h3 cell %s", c)
	}
	cur := c.Resolution()
	if res < cur {
		return nil, fmt.Errorf("child resolution %d must be >= cell resolution %d", res, cur)
	}
	if res == cur {
		return []h3.Cell{c}, nil
	}
	kids, err := c.Children(res)
	if err != nil {
		return nil, fmt.Errorf("h3 children: %w", err)
	}
	return kids, nil
}

// Compact replaces complete sibling sets with their shared parent,
// recursively. The covered area is unchanged.
func Compact(cells []h3.Cell) ([]h3.Cell, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	out, err := h3.CompactCells(cells)
	if err != nil {
		return nil, fmt.Errorf("h3 compact: %w", err)
	}
	return out, nil
}

// Uncompact expands a mixed-resolution cell set to uniform cells at res.
func Uncompact(cells []h3.Cell, res int) ([]h3.Cell, error) {
	if err := ValidateResolution(res); err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, nil
	}
	out, err := h3.UncompactCells(cells, res)
	if err != nil {
		return nil, fmt.Errorf("h3 uncompact: %w", err)
	}
	return out, nil
}

// ValidCells reports, per index value, whether it encodes a valid cell.
func ValidCells(ids []uint64) []bool {
	out := make([]bool, len(ids))
	for i, v := range ids {
		out[i] = h3.Cell(v).IsValid()
	}
	return out
}
