package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"voxelander/internal/persistence/journal"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEdit}

	_ = s.WriteEdit(journal.Entry{Seq: 2})
	s.RecordFile(FileRecord{Kind: KindSave, Path: "scene.vld"})

	st := s.Stats()
	if st.DropEditTotal != 1 || st.DropFileTotal != 1 {
		t.Fatalf("drops edit=%d file=%d want 1/1", st.DropEditTotal, st.DropFileTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	if err := s.WriteEdit(journal.Entry{}); err != nil {
		t.Fatalf("WriteEdit: %v", err)
	}
	s.RecordFile(FileRecord{})
	if err := s.RecordSession(context.Background(), "x", time.Now(), nil); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	if st := s.Stats(); st != (Stats{}) {
		t.Fatalf("stats=%+v", st)
	}
}

func TestSQLiteIndex_RecordsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "index.sqlite")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := idx.RecordSession(ctx, "sess-1", started, []byte(`{"grid":{"world":16}}`)); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	_ = idx.WriteEdit(journal.Entry{Seq: 1, Session: "sess-1", Time: "2026-03-01T10:00:01Z", Op: journal.OpAdd, Origin: [3]int{4, 5, 6}, Size: 1, BatchID: 0, Accepted: true, Digest: "aa"})
	_ = idx.WriteEdit(journal.Entry{Seq: 2, Session: "sess-1", Time: "2026-03-01T10:00:02Z", Op: journal.OpRemove, Origin: [3]int{4, 5, 6}, Size: 1, BatchID: 0, Accepted: true, Digest: "bb"})
	_ = idx.WriteEdit(journal.Entry{Seq: 3, Session: "sess-1", Time: "2026-03-01T10:00:03Z", Op: journal.OpRestore, Placements: []journal.Record{{Size: 1}, {Size: 2}}, Digest: "cc"})
	idx.RecordFile(FileRecord{Session: "sess-1", Kind: KindSave, Path: "/tmp/scene.vld", Time: started.Add(time.Minute), Items: 2, Bytes: 600, Digest: "cc"})
	idx.RecordFile(FileRecord{Session: "sess-1", Kind: KindExport, Path: "/tmp/object_0.bin", Time: started.Add(2 * time.Minute), Items: 8, Bytes: 48})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent and later writes are ignored.
	if err := idx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	_ = idx.WriteEdit(journal.Entry{Seq: 9})

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	sessions, err := r.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "sess-1" || sessions[0].Edits != 3 || sessions[0].Files != 2 {
		t.Fatalf("sessions=%+v", sessions)
	}
	if !sessions[0].StartedAt.Equal(started) {
		t.Fatalf("started=%v", sessions[0].StartedAt)
	}

	files, err := r.Files(ctx, "", 0)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 || files[0].Kind != KindExport || files[1].Kind != KindSave {
		t.Fatalf("files=%+v", files)
	}
	if files[1].Items != 2 || files[1].Bytes != 600 || files[1].Digest != "cc" {
		t.Fatalf("save row=%+v", files[1])
	}
	saves, err := r.Files(ctx, KindSave, 1)
	if err != nil || len(saves) != 1 || saves[0].Path != "/tmp/scene.vld" {
		t.Fatalf("saves=%+v err=%v", saves, err)
	}

	edits, err := r.EditsAt(ctx, 4, 5, 6)
	if err != nil {
		t.Fatalf("EditsAt: %v", err)
	}
	if len(edits) != 2 || edits[0].Op != "add" || edits[1].Op != "remove" || !edits[1].Accepted {
		t.Fatalf("edits=%+v", edits)
	}
	if edits[0].Origin != [3]int{4, 5, 6} || edits[0].Digest != "aa" {
		t.Fatalf("edit row=%+v", edits[0])
	}
}

func TestOpenReader_MissingFile(t *testing.T) {
	if _, err := OpenReader(filepath.Join(t.TempDir(), "nope.sqlite")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("expected error")
	}
}
