// Package grid holds the editor's world box and cell grid configuration.
package grid

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// WorldSizes are the selectable world box edges.
var WorldSizes = []int{4, 8, 16, 32, 64, 128, 256, 512}

var ErrSize = errors.New("grid: unsupported size")

const arrowHead = 0.3

type Grid struct {
	worldIdx int
	cellIdx  int
	cells    []int
	centered bool

	arrows   []int
	arrowIdx int

	// OnCellSize and OnWorldSize are called after the respective size changes.
	OnCellSize  func(cell int)
	OnWorldSize func(world int)
}

// CellSizes lists the powers of two that fit twice in world.
func CellSizes(world int) []int {
	var out []int
	for s := 1; s <= world/2; s *= 2 {
		out = append(out, s)
	}
	return out
}

func indexOf(list []int, v int) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}

func New(world, cell int) (*Grid, error) {
	wi := indexOf(WorldSizes, world)
	if wi < 0 {
		return nil, fmt.Errorf("%w: world %d", ErrSize, world)
	}
	cells := CellSizes(world)
	ci := indexOf(cells, cell)
	if ci < 0 {
		return nil, fmt.Errorf("%w: cell %d for world %d", ErrSize, cell, world)
	}
	return &Grid{
		worldIdx: wi,
		cellIdx:  ci,
		cells:    cells,
		arrows:   []int{1, 3, world / 2, world + 1},
		arrowIdx: 1,
	}, nil
}

func (g *Grid) World() int       { return WorldSizes[g.worldIdx] }
func (g *Grid) Cell() int        { return g.cells[g.cellIdx] }
func (g *Grid) Centered() bool   { return g.centered }
func (g *Grid) ArrowLength() int { return g.arrows[g.arrowIdx] }

// CellSizes lists the cell sizes valid for the current world.
func (g *Grid) CellSizes() []int { return append([]int(nil), g.cells...) }

// Bounds is the world box extent on every axis.
func (g *Grid) Bounds() (lo, hi int) {
	w := g.World()
	if g.centered {
		return -w / 2, w / 2
	}
	return 0, w
}

func (g *Grid) ToggleCentered() { g.centered = !g.centered }

// CycleWorldSize advances to the next world size, wrapping around. The cell
// size resets to 1 when it no longer fits.
func (g *Grid) CycleWorldSize() {
	g.worldIdx = (g.worldIdx + 1) % len(WorldSizes)
	world := g.World()
	cell := g.Cell()
	g.cells = CellSizes(world)
	g.arrows = []int{1, world / 2, world + 1}
	g.arrowIdx = min(g.arrowIdx, len(g.arrows)-1)
	if g.OnWorldSize != nil {
		g.OnWorldSize(world)
	}
	if i := indexOf(g.cells, cell); i >= 0 {
		g.cellIdx = i
		return
	}
	g.cellIdx = 0
	g.cellChanged()
}

func (g *Grid) CycleCellSize() {
	g.cellIdx = (g.cellIdx + 1) % len(g.cells)
	g.cellChanged()
}

// CycleArrowLength steps through the first three arrow lengths.
func (g *Grid) CycleArrowLength() {
	g.arrowIdx = (g.arrowIdx + 1) % 3
}

// Set applies a stored configuration.
func (g *Grid) Set(world, cell int) error {
	wi := indexOf(WorldSizes, world)
	if wi < 0 {
		return fmt.Errorf("%w: world %d", ErrSize, world)
	}
	cells := CellSizes(world)
	ci := indexOf(cells, cell)
	if ci < 0 {
		return fmt.Errorf("%w: cell %d for world %d", ErrSize, cell, world)
	}
	g.worldIdx, g.cells, g.cellIdx = wi, cells, ci
	g.arrows = []int{1, world / 2, world + 1}
	g.arrowIdx = min(g.arrowIdx, len(g.arrows)-1)
	if g.OnWorldSize != nil {
		g.OnWorldSize(world)
	}
	g.cellChanged()
	return nil
}

func (g *Grid) cellChanged() {
	if g.OnCellSize != nil {
		g.OnCellSize(g.Cell())
	}
}

// BoxLines returns the 12 world box edges as line segment endpoints.
func (g *Grid) BoxLines() []mgl32.Vec3 {
	lo, hi := g.Bounds()
	b, t := float32(lo), float32(hi)
	return []mgl32.Vec3{
		{b, b, b}, {t, b, b}, {t, b, b}, {t, b, t}, {t, b, t}, {b, b, t}, {b, b, t}, {b, b, b},
		{b, t, b}, {t, t, b}, {t, t, b}, {t, t, t}, {t, t, t}, {b, t, t}, {b, t, t}, {b, t, b},
		{b, b, b}, {b, t, b}, {t, b, b}, {t, t, b}, {t, b, t}, {t, t, t}, {b, b, t}, {b, t, t},
	}
}

// FloorLines returns the cell grid on the y=0 plane as line segment endpoints.
func (g *Grid) FloorLines() []mgl32.Vec3 {
	lo, hi := g.Bounds()
	step := g.Cell()
	var out []mgl32.Vec3
	for x := lo; x <= hi; x += step {
		out = append(out, mgl32.Vec3{float32(x), 0, float32(lo)}, mgl32.Vec3{float32(x), 0, float32(hi)})
	}
	for z := lo; z <= hi; z += step {
		out = append(out, mgl32.Vec3{float32(lo), 0, float32(z)}, mgl32.Vec3{float32(hi), 0, float32(z)})
	}
	return out
}

// ArrowLines returns the three axis arrows, each a shaft plus four head strokes.
func (g *Grid) ArrowLines() []mgl32.Vec3 {
	l := float32(g.ArrowLength())
	h := float32(arrowHead)
	var out []mgl32.Vec3
	for axis := 0; axis < 3; axis++ {
		tip := mgl32.Vec3{}
		tip[axis] = l
		out = append(out, mgl32.Vec3{}, tip)
		u, v := (axis+1)%3, (axis+2)%3
		if axis == 1 {
			u, v = 0, 2
		}
		for _, s := range [4][2]float32{{1, 1}, {-1, 1}, {1, -1}, {-1, -1}} {
			p := tip
			p[axis] = l - h
			p[u] = s[0] * h
			p[v] = s[1] * h
			out = append(out, tip, p)
		}
	}
	return out
}
