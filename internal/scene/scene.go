// Package scene stores the editor state in a vld container: a "voxels"
// section of fixed-size batch records and a "grid" section.
package scene

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"voxelander/internal/binio"
	"voxelander/internal/format/vld"
	"voxelander/internal/voxel"
)

const (
	SectionVoxels = "voxels"
	SectionGrid   = "grid"

	// VoxelRecordSize is x, y, z int32, size uint32 and r, g, b float32.
	VoxelRecordSize = 28
	gridRecordSize  = 8
)

var ErrMalformed = errors.New("scene: malformed section")

// GridSize is the persisted grid configuration.
type GridSize struct {
	World uint32
	Cell  uint32
}

// GridSetter receives a loaded grid configuration.
type GridSetter interface {
	Set(world, cell int) error
}

// EncodeVoxels writes one record per live batch in id order.
func EncodeVoxels(s *voxel.Store) []byte {
	var buf bytes.Buffer
	w := binio.NewWriter(&buf)
	for _, p := range s.Placements() {
		w.I32(int32(p.Origin.X))
		w.I32(int32(p.Origin.Y))
		w.I32(int32(p.Origin.Z))
		w.U32(uint32(p.Size))
		w.F32(p.Color[0])
		w.F32(p.Color[1])
		w.F32(p.Color[2])
	}
	return buf.Bytes()
}

func DecodeVoxels(b []byte) ([]voxel.Placement, error) {
	if len(b)%VoxelRecordSize != 0 {
		return nil, fmt.Errorf("%w: voxels length %d is not a multiple of %d", ErrMalformed, len(b), VoxelRecordSize)
	}
	r := binio.NewReader(b)
	out := make([]voxel.Placement, 0, len(b)/VoxelRecordSize)
	for r.Len() > 0 {
		c := voxel.Cell{X: int(r.I32()), Y: int(r.I32()), Z: int(r.I32())}
		size := r.U32()
		col := mgl32.Vec3{r.F32(), r.F32(), r.F32()}
		if size < 1 || size > voxel.MaxBatchSize {
			return nil, fmt.Errorf("%w: batch %d at %v has size %d", ErrMalformed, len(out), c, size)
		}
		out = append(out, voxel.Placement{Origin: c, Size: int(size), Color: col})
	}
	return out, r.Err()
}

func EncodeGrid(g GridSize) []byte {
	var buf bytes.Buffer
	w := binio.NewWriter(&buf)
	w.U32(g.World)
	w.U32(g.Cell)
	return buf.Bytes()
}

func DecodeGrid(b []byte) (GridSize, error) {
	if len(b) != gridRecordSize {
		return GridSize{}, fmt.Errorf("%w: grid length %d want %d", ErrMalformed, len(b), gridRecordSize)
	}
	r := binio.NewReader(b)
	return GridSize{World: r.U32(), Cell: r.U32()}, nil
}

// Save writes the store and grid to path.
func Save(path string, s *voxel.Store, g GridSize) error {
	return vld.Save(path, vld.Sections{
		{Name: SectionVoxels, Data: EncodeVoxels(s)},
		{Name: SectionGrid, Data: EncodeGrid(g)},
	})
}

// Scene is a fully decoded scene file. Either section may be absent.
type Scene struct {
	Voxels    []voxel.Placement
	HasVoxels bool
	Grid      GridSize
	HasGrid   bool
}

// Load decodes every section before returning so that a bad file never
// leaves the editor half loaded.
func Load(path string) (*Scene, error) {
	secs, err := vld.Open(path)
	if err != nil {
		return nil, err
	}
	sc := &Scene{}
	if b, ok := secs.Lookup(SectionVoxels); ok {
		if sc.Voxels, err = DecodeVoxels(b); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		sc.HasVoxels = true
	}
	if b, ok := secs.Lookup(SectionGrid); ok {
		if sc.Grid, err = DecodeGrid(b); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		sc.HasGrid = true
	}
	return sc, nil
}

// Apply installs the scene. The grid is set first; if it is rejected the
// store is left as it was. It returns the number of placements accepted.
func (sc *Scene) Apply(store *voxel.Store, grid GridSetter) (int, error) {
	if sc.HasGrid && grid != nil {
		if err := grid.Set(int(sc.Grid.World), int(sc.Grid.Cell)); err != nil {
			return 0, err
		}
	}
	if !sc.HasVoxels {
		return 0, nil
	}
	return store.Restore(sc.Voxels), nil
}
