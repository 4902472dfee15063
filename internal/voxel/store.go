// Package voxel is the authoritative sparse voxel volume of the editor.
//
// Voxels are placed as cube batches. Batches live in an append-only arena:
// removing one leaves a nil slot so batch ids stay valid for the lifetime of
// the store. A cell map gives O(1) ownership lookups used for conflict
// resolution and face culling.
package voxel

import (
	"io"
	"log"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type Store struct {
	log *log.Logger

	batches []*Batch
	cells   map[Cell]owner
	live    int

	dirty bool
	geom  Mesh
}

func New(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		log:   logger,
		cells: map[Cell]owner{},
		dirty: true,
	}
}

// AddBatch places a size³ batch at origin.
//
// If any covered cell is owned by a batch at least as large, nothing changes
// and ok is false. Otherwise every smaller batch overlapping the cube is
// removed first and the new batch takes the next arena slot.
func (s *Store) AddBatch(origin Cell, size int, color mgl32.Vec3) (id int, ok bool) {
	if size < 1 || size > MaxBatchSize {
		s.log.Printf("add batch at %v: size %d out of range", origin, size)
		return -1, false
	}

	var (
		victims []int
		seen    = map[int]struct{}{}
		blocker = -1
	)
	forEachCell(origin, size, func(c Cell) bool {
		o, occupied := s.cells[c]
		if !occupied {
			return true
		}
		if o.size >= size {
			blocker = o.id
			return false
		}
		if _, dup := seen[o.id]; !dup {
			seen[o.id] = struct{}{}
			victims = append(victims, o.id)
		}
		return true
	})
	if blocker >= 0 {
		s.log.Printf("conflict at %v size=%d: occupied by batch %d", origin, size, blocker)
		return -1, false
	}
	for _, v := range victims {
		s.RemoveBatch(v)
	}

	id = len(s.batches)
	forEachCell(origin, size, func(c Cell) bool {
		s.cells[c] = owner{id: id, size: size}
		return true
	})
	b := &Batch{
		ID:     id,
		Origin: origin,
		Size:   size,
		Color:  color,
	}
	b.Mesh = s.buildMesh(origin, size, color)
	s.batches = append(s.batches, b)
	s.live++
	s.dirty = true
	return id, true
}

// RemoveBatch tombstones a batch and frees its cells. Faces of neighbors that
// become exposed are not regenerated.
func (s *Store) RemoveBatch(id int) bool {
	if id < 0 || id >= len(s.batches) || s.batches[id] == nil {
		return false
	}
	b := s.batches[id]
	s.batches[id] = nil
	forEachCell(b.Origin, b.Size, func(c Cell) bool {
		if o, ok := s.cells[c]; ok && o.id == id {
			delete(s.cells, c)
		}
		return true
	})
	s.live--
	s.dirty = true
	return true
}

// ToggleAt clears every batch of at most unit size inside the unit³ region at
// target, or places a new unit batch there when nothing qualifies.
func (s *Store) ToggleAt(target Cell, unit int, color mgl32.Vec3) ToggleResult {
	if unit < 1 {
		return ToggleResult{BatchID: -1}
	}
	var (
		ids  []int
		seen = map[int]struct{}{}
	)
	forEachCell(target, unit, func(c Cell) bool {
		o, ok := s.cells[c]
		if !ok || o.size > unit {
			return true
		}
		if _, dup := seen[o.id]; !dup {
			seen[o.id] = struct{}{}
			ids = append(ids, o.id)
		}
		return true
	})
	if len(ids) > 0 {
		cleared := make([]Placement, 0, len(ids))
		for _, id := range ids {
			b := s.batches[id]
			cleared = append(cleared, Placement{Origin: b.Origin, Size: b.Size, Color: b.Color})
			s.RemoveBatch(id)
		}
		return ToggleResult{BatchID: -1, Removed: ids, Cleared: cleared}
	}
	id, ok := s.AddBatch(target, unit, color)
	return ToggleResult{Placed: ok, BatchID: id}
}

// Align snaps a cursor target to the unit-aligned cell whose region the
// cursor cube covers.
func Align(target mgl32.Vec3, unit float32) Cell {
	if unit <= 0 {
		unit = 1
	}
	u := float64(unit)
	snap := func(v float32) int {
		return int(math.Floor((float64(v)-u*0.5)/u) * u)
	}
	return Cell{X: snap(target[0]), Y: snap(target[1]), Z: snap(target[2])}
}

// Clear drops every batch. Batch ids restart at zero.
func (s *Store) Clear() {
	s.batches = nil
	s.cells = map[Cell]owner{}
	s.live = 0
	s.geom = Mesh{}
	s.dirty = true
}

// Replace takes over the state of other. other must not be used afterwards.
func (s *Store) Replace(other *Store) {
	s.batches = other.batches
	s.cells = other.cells
	s.live = other.live
	s.geom = Mesh{}
	s.dirty = true
}

// Restore rebuilds the store from placements, in order, and swaps the result
// in only once every placement has been applied. It returns how many
// placements were accepted.
func (s *Store) Restore(placements []Placement) int {
	fresh := New(s.log)
	n := 0
	for _, p := range placements {
		if _, ok := fresh.AddBatch(p.Origin, p.Size, p.Color); ok {
			n++
		}
	}
	s.Replace(fresh)
	return n
}

// Owner returns the batch owning c.
func (s *Store) Owner(c Cell) (*Batch, bool) {
	o, ok := s.cells[c]
	if !ok {
		return nil, false
	}
	return s.batches[o.id], true
}

func (s *Store) Occupied(c Cell) bool {
	_, ok := s.cells[c]
	return ok
}

// Batch returns the live batch with the given id.
func (s *Store) Batch(id int) (*Batch, bool) {
	if id < 0 || id >= len(s.batches) || s.batches[id] == nil {
		return nil, false
	}
	return s.batches[id], true
}

// Len is the number of live batches.
func (s *Store) Len() int { return s.live }

// Slots is the arena length, tombstones included.
func (s *Store) Slots() int { return len(s.batches) }

// Cells is the number of occupied unit cells.
func (s *Store) Cells() int { return len(s.cells) }

// EachCell visits every occupied cell grouped by batch in id order.
func (s *Store) EachCell(fn func(c Cell, b *Batch)) {
	for _, b := range s.batches {
		if b == nil {
			continue
		}
		forEachCell(b.Origin, b.Size, func(c Cell) bool {
			if o, ok := s.cells[c]; ok && o.id == b.ID {
				fn(c, b)
			}
			return true
		})
	}
}

// Placements snapshots the live batches in id order. Colors are sampled the
// same way the scene file stores them.
func (s *Store) Placements() []Placement {
	out := make([]Placement, 0, s.live)
	for _, b := range s.batches {
		if b == nil {
			continue
		}
		out = append(out, Placement{Origin: b.Origin, Size: b.Size, Color: b.FaceColor()})
	}
	return out
}
