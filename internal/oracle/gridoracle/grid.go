package gridoracle

import (
	"container/heap"
	"context"
	"math"

	"pathpilot/internal/geom"
)

type neighbor struct {
	col      int
	row      int
	cost     float64
	diagonal bool
}

var neighborOffsets = [...]neighbor{
	{col: 0, row: -1, cost: 1, diagonal: false},
	{col: 1, row: 0, cost: 1, diagonal: false},
	{col: 0, row: 1, cost: 1, diagonal: false},
	{col: -1, row: 0, cost: 1, diagonal: false},
	{col: 1, row: -1, cost: math.Sqrt2, diagonal: true},
	{col: 1, row: 1, cost: math.Sqrt2, diagonal: true},
	{col: -1, row: 1, cost: math.Sqrt2, diagonal: true},
	{col: -1, row: -1, cost: math.Sqrt2, diagonal: true},
}

// Grid is a walkability raster over a rectangular zone.
type Grid struct {
	bounds    geom.Rect
	cols      int
	rows      int
	cellSize  float64
	walkable  []bool
	clearance float64
}

// NewGrid rasterises the zone. A cell is walkable when a circle of the given
// clearance around its centre stays inside bounds and clear of every obstacle.
func NewGrid(bounds geom.Rect, cellSize, clearance float64, obstacles []geom.Rect) *Grid {
	if cellSize <= 0 {
		cellSize = 1
	}
	cols := int(math.Ceil(bounds.Width() / cellSize))
	rows := int(math.Ceil(bounds.Height() / cellSize))
	if cols <= 0 {
		cols = 1
	}
	if rows <= 0 {
		rows = 1
	}
	g := &Grid{
		bounds:    bounds,
		cols:      cols,
		rows:      rows,
		cellSize:  cellSize,
		walkable:  make([]bool, cols*rows),
		clearance: clearance,
	}

	inner := bounds.Inset(clearance)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			center := g.center(col, row)
			if !inner.Contains(center) {
				continue
			}
			blocked := false
			for _, obs := range obstacles {
				if circleRectOverlap(center, clearance, obs) {
					blocked = true
					break
				}
			}
			if !blocked {
				g.walkable[row*cols+col] = true
			}
		}
	}
	return g
}

func circleRectOverlap(c geom.Point, radius float64, r geom.Rect) bool {
	nearest := r.ClampPoint(c)
	return geom.Distance(nearest, c) < radius || r.Contains(c)
}

// Cols reports the number of columns.
func (g *Grid) Cols() int { return g.cols }

// Rows reports the number of rows.
func (g *Grid) Rows() int { return g.rows }

// Walkable reports whether the cell containing p can be traversed.
func (g *Grid) Walkable(p geom.Point) bool {
	col, row, ok := g.locate(p)
	return ok && g.walkable[g.index(col, row)]
}

func (g *Grid) inBounds(col, row int) bool {
	return col >= 0 && row >= 0 && col < g.cols && row < g.rows
}

func (g *Grid) index(col, row int) int {
	return row*g.cols + col
}

func (g *Grid) center(col, row int) geom.Point {
	return geom.Point{
		X: g.bounds.MinX + (float64(col)+0.5)*g.cellSize,
		Y: g.bounds.MinY + (float64(row)+0.5)*g.cellSize,
	}
}

func (g *Grid) locate(p geom.Point) (int, int, bool) {
	if !p.IsFinite() {
		return 0, 0, false
	}
	x := geom.Clamp(p.X-g.bounds.MinX, 0, math.Max(0, g.bounds.Width()-1e-9))
	y := geom.Clamp(p.Y-g.bounds.MinY, 0, math.Max(0, g.bounds.Height()-1e-9))
	col := int(x / g.cellSize)
	row := int(y / g.cellSize)
	if !g.inBounds(col, row) {
		return 0, 0, false
	}
	return col, row, true
}

func (g *Grid) canTraverseDiagonal(current cell, delta neighbor) bool {
	if !delta.diagonal {
		return true
	}
	hc, hr := current.col+delta.col, current.row
	vc, vr := current.col, current.row+delta.row
	if !g.inBounds(hc, hr) || !g.inBounds(vc, vr) {
		return false
	}
	return g.walkable[g.index(hc, hr)] && g.walkable[g.index(vc, vr)]
}

// closestWalkable runs a breadth-first search outward from the cell.
func (g *Grid) closestWalkable(col, row int) (int, int, bool) {
	if !g.inBounds(col, row) {
		return 0, 0, false
	}
	visited := map[int]struct{}{g.index(col, row): {}}
	queue := []cell{{col: col, row: row}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if g.walkable[g.index(current.col, current.row)] {
			return current.col, current.row, true
		}
		for _, delta := range neighborOffsets {
			nc := current.col + delta.col
			nr := current.row + delta.row
			if !g.inBounds(nc, nr) {
				continue
			}
			idx := g.index(nc, nr)
			if _, seen := visited[idx]; seen {
				continue
			}
			visited[idx] = struct{}{}
			queue = append(queue, cell{col: nc, row: nr})
		}
	}
	return 0, 0, false
}

type cell struct {
	col int
	row int
}

func heuristic(a, b cell) float64 {
	dx := math.Abs(float64(a.col - b.col))
	dy := math.Abs(float64(a.row - b.row))
	if dx > dy {
		return dx + (math.Sqrt2-1)*dy
	}
	return dy + (math.Sqrt2-1)*dx
}

type node struct {
	cell   cell
	g      float64
	f      float64
	index  int
	parent *node
}

type openSet []*node

func (pq openSet) Len() int { return len(pq) }

func (pq openSet) Less(i, j int) bool { return pq[i].f < pq[j].f }

func (pq openSet) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *openSet) Push(x any) {
	item := x.(*node)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *openSet) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// expansionsPerCheck bounds how many nodes are expanded between context checks.
const expansionsPerCheck = 256

func (g *Grid) astar(ctx context.Context, start, goal cell) ([]cell, error) {
	open := &openSet{}
	heap.Init(open)
	heap.Push(open, &node{cell: start, f: heuristic(start, goal)})
	gScore := map[int]float64{g.index(start.col, start.row): 0}
	closed := make(map[int]struct{})

	for expanded := 0; open.Len() > 0; expanded++ {
		if expanded%expansionsPerCheck == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		current := heap.Pop(open).(*node)
		currIdx := g.index(current.cell.col, current.cell.row)
		if _, seen := closed[currIdx]; seen {
			continue
		}
		closed[currIdx] = struct{}{}
		if current.cell == goal {
			return reconstruct(current), nil
		}

		for _, delta := range neighborOffsets {
			if !g.canTraverseDiagonal(current.cell, delta) {
				continue
			}
			next := cell{col: current.cell.col + delta.col, row: current.cell.row + delta.row}
			if !g.inBounds(next.col, next.row) {
				continue
			}
			idx := g.index(next.col, next.row)
			if !g.walkable[idx] {
				continue
			}
			if _, seen := closed[idx]; seen {
				continue
			}
			tentative := current.g + delta.cost
			if prev, ok := gScore[idx]; ok && tentative >= prev {
				continue
			}
			gScore[idx] = tentative
			heap.Push(open, &node{
				cell:   next,
				g:      tentative,
				f:      tentative + heuristic(next, goal),
				parent: current,
			})
		}
	}
	return nil, nil
}

func reconstruct(end *node) []cell {
	var path []cell
	for n := end; n != nil; n = n.parent {
		path = append(path, n.cell)
	}
	for i := 0; i < len(path)/2; i++ {
		j := len(path) - 1 - i
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// FindPath searches from start to target. The returned waypoints begin at the
// rounded start, follow cell centres, and end at the rounded target. A nil
// slice with a nil error means no path exists.
func (g *Grid) FindPath(ctx context.Context, start, target geom.Point) ([]geom.Waypoint, error) {
	startCol, startRow, ok := g.locate(start)
	if !ok {
		return nil, nil
	}
	goalCol, goalRow, ok := g.locate(target)
	if !ok || !g.walkable[g.index(goalCol, goalRow)] {
		return nil, nil
	}
	if !g.walkable[g.index(startCol, startRow)] {
		startCol, startRow, ok = g.closestWalkable(startCol, startRow)
		if !ok {
			return nil, nil
		}
	}

	cells, err := g.astar(ctx, cell{col: startCol, row: startRow}, cell{col: goalCol, row: goalRow})
	if err != nil || len(cells) == 0 {
		return nil, err
	}

	waypoints := make([]geom.Waypoint, 0, len(cells)+2)
	appendUnique := func(wp geom.Waypoint) {
		if n := len(waypoints); n > 0 && waypoints[n-1] == wp {
			return
		}
		waypoints = append(waypoints, wp)
	}
	appendUnique(geom.Round(start))
	for i := 1; i < len(cells)-1; i++ {
		appendUnique(geom.Round(g.center(cells[i].col, cells[i].row)))
	}
	appendUnique(geom.Round(target))
	return waypoints, nil
}
