package main

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelander/internal/persistence/journal"
	"voxelander/internal/voxel"
)

func addEntry(session string, seq uint64, origin [3]int, id int) journal.Entry {
	s := voxel.New(nil)
	for i := 0; i < id; i++ {
		s.AddBatch(voxel.Cell{X: 100 + i}, 1, voxel.White)
		s.RemoveBatch(i)
	}
	s.AddBatch(voxel.Cell{X: origin[0], Y: origin[1], Z: origin[2]}, 1, mgl32.Vec3{1, 0, 0})
	return journal.Entry{Seq: seq, Session: session, Op: journal.OpAdd, Origin: origin, Size: 1,
		Color: [3]float32{1, 0, 0}, BatchID: id, Accepted: true, Digest: s.Digest()}
}

func TestReplayer_ResetsPerSession(t *testing.T) {
	r := newReplayer("", 0)
	for _, e := range []journal.Entry{
		addEntry("a", 1, [3]int{0, 0, 0}, 0),
		addEntry("b", 1, [3]int{5, 0, 0}, 0),
	} {
		if err := r.apply(e); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if r.sessions != 2 || r.applied != 2 || r.store.Len() != 1 {
		t.Fatalf("sessions=%d applied=%d batches=%d", r.sessions, r.applied, r.store.Len())
	}
	if !r.store.Occupied(voxel.Cell{X: 5}) {
		t.Fatalf("second session state missing")
	}
}

func TestReplayer_SessionFilterAndStop(t *testing.T) {
	r := newReplayer("b", 0)
	if err := r.apply(addEntry("a", 1, [3]int{0, 0, 0}, 0)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if r.applied != 0 {
		t.Fatalf("filtered entry applied")
	}

	r = newReplayer("", 1)
	if err := r.apply(addEntry("a", 1, [3]int{0, 0, 0}, 0)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := r.apply(addEntry("a", 2, [3]int{1, 0, 0}, 1)); !errors.Is(err, errStop) {
		t.Fatalf("err=%v want errStop", err)
	}
}

func TestReplayer_ReportsDivergence(t *testing.T) {
	r := newReplayer("", 0)
	e := addEntry("a", 1, [3]int{0, 0, 0}, 0)
	e.Digest = "bad"
	if err := r.apply(e); !errors.Is(err, journal.ErrDiverged) {
		t.Fatalf("err=%v want ErrDiverged", err)
	}
}
