package voxel

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// VertexStride is the number of float32 values per vertex: position, normal, color.
const VertexStride = 9

const (
	verticesPerFace = 4
	indicesPerFace  = 6
)

// MaxBatchSize is the largest batch edge, the largest world box.
const MaxBatchSize = 512

var White = mgl32.Vec3{1, 1, 1}

// Cell is a unit voxel position.
type Cell struct {
	X, Y, Z int
}

func (c Cell) Add(o Cell) Cell { return Cell{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z + o.Z} }

func (c Cell) String() string { return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z) }

// Mesh is an interleaved vertex buffer plus triangle indices.
type Mesh struct {
	Vertices []float32
	Indices  []uint32
}

func (m Mesh) VertexCount() int { return len(m.Vertices) / VertexStride }

func (m Mesh) FaceCount() int { return len(m.Indices) / indicesPerFace }

// Vertex returns position, normal and color of vertex i.
func (m Mesh) Vertex(i int) (pos, normal, color mgl32.Vec3) {
	v := m.Vertices[i*VertexStride : (i+1)*VertexStride]
	return mgl32.Vec3{v[0], v[1], v[2]}, mgl32.Vec3{v[3], v[4], v[5]}, mgl32.Vec3{v[6], v[7], v[8]}
}

// Batch is one placed cube of Size³ unit cells.
type Batch struct {
	ID     int
	Origin Cell
	Size   int
	Color  mgl32.Vec3
	Mesh   Mesh
}

// Contains reports whether c lies inside the batch cube.
func (b *Batch) Contains(c Cell) bool {
	return c.X >= b.Origin.X && c.X < b.Origin.X+b.Size &&
		c.Y >= b.Origin.Y && c.Y < b.Origin.Y+b.Size &&
		c.Z >= b.Origin.Z && c.Z < b.Origin.Z+b.Size
}

// FaceColor is the color stored on the first emitted vertex. A batch whose
// faces were all culled at placement time has no vertices and reads as white.
func (b *Batch) FaceColor() mgl32.Vec3 {
	if len(b.Mesh.Vertices) < VertexStride {
		return White
	}
	v := b.Mesh.Vertices
	return mgl32.Vec3{v[6], v[7], v[8]}
}

// Placement is the persisted form of a batch.
type Placement struct {
	Origin Cell
	Size   int
	Color  mgl32.Vec3
}

// ToggleResult describes what a toggle gesture did.
type ToggleResult struct {
	Placed  bool
	BatchID int
	Removed []int
	// Cleared holds the removed batches, parallel to Removed.
	Cleared []Placement
}

type owner struct {
	id   int
	size int
}

// forEachCell visits the size³ cube at origin, x outermost. It stops early
// when fn returns false.
func forEachCell(origin Cell, size int, fn func(Cell) bool) {
	for dx := 0; dx < size; dx++ {
		for dy := 0; dy < size; dy++ {
			for dz := 0; dz < size; dz++ {
				if !fn(Cell{X: origin.X + dx, Y: origin.Y + dy, Z: origin.Z + dz}) {
					return
				}
			}
		}
	}
}
