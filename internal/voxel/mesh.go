package voxel

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type cubeFace struct {
	corners [4]mgl32.Vec3 // in units of half the edge length
	normal  [3]int
}

var cubeFaces = [6]cubeFace{
	{corners: [4]mgl32.Vec3{{-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1}}, normal: [3]int{0, 0, -1}},
	{corners: [4]mgl32.Vec3{{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1}}, normal: [3]int{0, 0, 1}},
	{corners: [4]mgl32.Vec3{{-1, -1, -1}, {1, -1, -1}, {1, -1, 1}, {-1, -1, 1}}, normal: [3]int{0, -1, 0}},
	{corners: [4]mgl32.Vec3{{-1, 1, -1}, {1, 1, -1}, {1, 1, 1}, {-1, 1, 1}}, normal: [3]int{0, 1, 0}},
	{corners: [4]mgl32.Vec3{{1, -1, -1}, {1, 1, -1}, {1, 1, 1}, {1, -1, 1}}, normal: [3]int{1, 0, 0}},
	{corners: [4]mgl32.Vec3{{-1, -1, -1}, {-1, 1, -1}, {-1, 1, 1}, {-1, -1, 1}}, normal: [3]int{-1, 0, 0}},
}

// faceNeighbor is the single cell consulted to decide whether a face is
// hidden. Unit batches look at the adjacent cell; larger batches step a full
// edge length from their center, so only one cell at their own granularity is
// tested.
func faceNeighbor(origin Cell, size int, n [3]int) Cell {
	if size == 1 {
		return Cell{X: origin.X + n[0], Y: origin.Y + n[1], Z: origin.Z + n[2]}
	}
	half := float64(size) / 2
	step := func(o, d int) int {
		return int(float64(o) + half + float64(d*size))
	}
	return Cell{X: step(origin.X, n[0]), Y: step(origin.Y, n[1]), Z: step(origin.Z, n[2])}
}

func (s *Store) buildMesh(origin Cell, size int, color mgl32.Vec3) Mesh {
	var m Mesh
	half := float32(size) * 0.5
	center := mgl32.Vec3{
		float32(origin.X) + half,
		float32(origin.Y) + half,
		float32(origin.Z) + half,
	}
	var offset uint32
	for _, f := range cubeFaces {
		if s.Occupied(faceNeighbor(origin, size, f.normal)) {
			continue
		}
		nx, ny, nz := float32(f.normal[0]), float32(f.normal[1]), float32(f.normal[2])
		for _, c := range f.corners {
			p := center.Add(c.Mul(half))
			m.Vertices = append(m.Vertices,
				p[0], p[1], p[2],
				nx, ny, nz,
				color[0], color[1], color[2],
			)
		}
		m.Indices = append(m.Indices, offset, offset+1, offset+2, offset+2, offset+3, offset)
		offset += verticesPerFace
	}
	return m
}

// RebuildGeometry concatenates the live batch meshes when the store changed
// since the last rebuild. It reports whether a rebuild happened.
func (s *Store) RebuildGeometry() bool {
	if !s.dirty {
		return false
	}
	var (
		m      Mesh
		offset uint32
	)
	for _, b := range s.batches {
		if b == nil {
			continue
		}
		m.Vertices = append(m.Vertices, b.Mesh.Vertices...)
		for _, i := range b.Mesh.Indices {
			m.Indices = append(m.Indices, i+offset)
		}
		offset += uint32(b.Mesh.VertexCount())
	}
	s.geom = m
	s.dirty = false
	return true
}

// Geometry returns the combined mesh, rebuilding it first if needed.
func (s *Store) Geometry() Mesh {
	s.RebuildGeometry()
	return s.geom
}

func (s *Store) Dirty() bool { return s.dirty }

// Digest hashes the live placements. Two stores with the same batches in the
// same order hash equally.
func (s *Store) Digest() string {
	h := sha256.New()
	var tmp [28]byte
	for _, p := range s.Placements() {
		binary.LittleEndian.PutUint32(tmp[0:], uint32(int32(p.Origin.X)))
		binary.LittleEndian.PutUint32(tmp[4:], uint32(int32(p.Origin.Y)))
		binary.LittleEndian.PutUint32(tmp[8:], uint32(int32(p.Origin.Z)))
		binary.LittleEndian.PutUint32(tmp[12:], uint32(p.Size))
		binary.LittleEndian.PutUint32(tmp[16:], math.Float32bits(p.Color[0]))
		binary.LittleEndian.PutUint32(tmp[20:], math.Float32bits(p.Color[1]))
		binary.LittleEndian.PutUint32(tmp[24:], math.Float32bits(p.Color[2]))
		h.Write(tmp[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
