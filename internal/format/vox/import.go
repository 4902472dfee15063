package vox

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"

	"voxelander/internal/voxel"
)

var ErrNoModels = errors.New("vox: file contains no models")

type ImportOptions struct {
	VoxelSize int
	Center    bool
	// RegionSize clips points to a cube of this edge length. Zero disables
	// clipping.
	RegionSize int
}

type ImportStats struct {
	Models     int
	Instances  int
	Points     int
	Duplicates int
	Clipped    int
	Placed     int
}

// HasSceneGraph reports whether the file carried any node chunks.
func (s *Scene) HasSceneGraph() bool { return s.Graph != nil }

// ImportInto replaces the contents of store with the scene. The new state is
// built off to the side and swapped in only after every point was placed; on
// error store is untouched.
func ImportInto(store *voxel.Store, sc *Scene, opts ImportOptions) (ImportStats, error) {
	var st ImportStats
	if sc == nil || len(sc.Models) == 0 {
		return st, ErrNoModels
	}
	vs := opts.VoxelSize
	if vs < 1 {
		vs = 1
	}
	palette := sc.Palette
	if len(palette) == 0 {
		palette = DefaultPalette()
	}

	type point struct {
		pos   [3]int
		color int
	}
	instances := sc.Instances()
	st.Models = len(sc.Models)
	st.Instances = len(instances)

	var pts []point
	for _, inst := range instances {
		if inst.ModelID < 0 || inst.ModelID >= len(sc.Models) {
			continue
		}
		t := inst.Translation
		for _, v := range sc.Models[inst.ModelID].Voxels {
			pts = append(pts, point{
				pos:   [3]int{int(v.X) + t[0], int(v.Y) + t[1], int(v.Z) + t[2]},
				color: int(v.ColorIndex),
			})
		}
	}
	st.Points = len(pts)

	var shift [3]int
	if opts.Center && len(pts) > 0 {
		lo, hi := pts[0].pos, pts[0].pos
		for _, p := range pts[1:] {
			for a := 0; a < 3; a++ {
				lo[a] = min(lo[a], p.pos[a])
				hi[a] = max(hi[a], p.pos[a])
			}
		}
		for a := 0; a < 3; a++ {
			shift[a] = floorDiv(-(lo[a] + hi[a]), 2)
		}
	}

	var lo, hi int
	if opts.RegionSize > 0 {
		if opts.Center {
			lo, hi = -opts.RegionSize/2, opts.RegionSize/2
		} else {
			lo, hi = 0, opts.RegionSize
		}
	}
	inRegion := func(c voxel.Cell) bool {
		if opts.RegionSize <= 0 {
			return true
		}
		return c.X >= lo && c.X < hi && c.Y >= lo && c.Y < hi && c.Z >= lo && c.Z < hi
	}

	seen := make(map[voxel.Cell]struct{}, len(pts))
	placements := make([]voxel.Placement, 0, len(pts))
	for _, p := range pts {
		x, y, z := p.pos[0]+shift[0], p.pos[1]+shift[1], p.pos[2]+shift[2]
		// Model space is Z-up; the store is Y-up.
		c := voxel.Cell{X: x * vs, Y: z * vs, Z: y * vs}
		if _, dup := seen[c]; dup {
			st.Duplicates++
			continue
		}
		seen[c] = struct{}{}
		if !inRegion(c) {
			st.Clipped++
			continue
		}
		placements = append(placements, voxel.Placement{Origin: c, Size: vs, Color: palette.Color(p.color)})
	}
	st.Placed = store.Restore(placements)
	return st, nil
}

// ImportFile reads path and imports it into store.
func ImportFile(store *voxel.Store, path string, opts ImportOptions) (ImportStats, error) {
	sc, err := ReadFile(path)
	if err != nil {
		return ImportStats{}, err
	}
	return ImportInto(store, sc, opts)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// defaultRamp is a yellow to magenta ramp following white.
var defaultRamp = [...]mgl32.Vec4{
	{1, 1, 1, 1},
	{1, 1, 0.8, 1}, {1, 1, 0.6, 1}, {1, 1, 0.4, 1},
	{1, 1, 0.2, 1}, {1, 1, 0, 1}, {1, 0.8, 0, 1},
	{1, 0.6, 0, 1}, {1, 0.4, 0, 1}, {1, 0.2, 0, 1},
	{1, 0, 0, 1}, {1, 0, 0.2, 1}, {1, 0, 0.4, 1},
	{1, 0, 0.6, 1}, {1, 0, 0.8, 1}, {1, 0, 1, 1},
}

// DefaultPalette is used when a file carries no RGBA chunk. Entries past the
// ramp are mid grey.
func DefaultPalette() Palette {
	p := make(Palette, 0, paletteSize)
	p = append(p, defaultRamp[:]...)
	for len(p) < paletteSize {
		p = append(p, mgl32.Vec4{0.5, 0.5, 0.5, 1})
	}
	return p
}
