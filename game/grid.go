package game

import "math"

// spatialGrid is a uniform spatial hash over planet positions. The cell size
// must be at least the largest distance a query cares about, so that any
// candidate within range lives in the query cell or one of its 8 neighbours.
type spatialGrid struct {
	cellSize float64
	cols     int
	rows     int
	cells    [][]PlanetID
}

func newSpatialGrid(width, height, cellSize float64) *spatialGrid {
	if cellSize <= 0 {
		cellSize = 1
	}
	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(height / cellSize))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	cells := make([][]PlanetID, cols*rows)
	for i := range cells {
		cells[i] = make([]PlanetID, 0, 2)
	}

	return &spatialGrid{
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		cells:    cells,
	}
}

// cell returns the clamped column and row for a position
func (g *spatialGrid) cell(p Vec2) (int, int) {
	col := int(p.X / g.cellSize)
	row := int(p.Y / g.cellSize)

	if col < 0 {
		col = 0
	} else if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	} else if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

func (g *spatialGrid) insert(id PlanetID, p Vec2) {
	col, row := g.cell(p)
	idx := row*g.cols + col
	g.cells[idx] = append(g.cells[idx], id)
}

// nearby returns ids that might be within cellSize of p. The caller must
// still perform exact distance checks.
func (g *spatialGrid) nearby(p Vec2) []PlanetID {
	col, row := g.cell(p)

	var result []PlanetID
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			c := col + dc
			r := row + dr
			if c < 0 || c >= g.cols || r < 0 || r >= g.rows {
				continue
			}
			result = append(result, g.cells[r*g.cols+c]...)
		}
	}
	return result
}
