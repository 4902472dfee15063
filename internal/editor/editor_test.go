package editor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelander/internal/config"
	"voxelander/internal/format/packed"
	"voxelander/internal/format/vox"
	"voxelander/internal/persistence/archive"
	"voxelander/internal/persistence/indexdb"
	"voxelander/internal/persistence/journal"
	"voxelander/internal/transport/preview"
	"voxelander/internal/voxel"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Paths.Root = t.TempDir()
	cfg.Normalize()
	return cfg
}

func newEditor(t *testing.T, opts Options) *Editor {
	t.Helper()
	if opts.Config.Paths.Scene == "" {
		opts.Config = testConfig(t)
	}
	if opts.Session == "" {
		opts.Session = "test-session"
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// settle runs frames until the cursor stops.
func settle(t *testing.T, e *Editor) {
	t.Helper()
	for i := 0; i < 10; i++ {
		e.Frame(1)
		if !e.Cursor().IsMoving() {
			return
		}
	}
	t.Fatalf("cursor never settled")
}

type fakePublisher struct {
	updates []preview.Update
}

func (f *fakePublisher) Publish(u preview.Update) uint64 {
	f.updates = append(f.updates, u)
	return uint64(len(f.updates))
}

func TestHandleKey_TogglePlacesThenClears(t *testing.T) {
	e := newEditor(t, Options{})

	e.HandleKey(KeyA, Release, 0)
	if e.Store().Len() != 1 {
		t.Fatalf("batches=%d want 1", e.Store().Len())
	}
	b, ok := e.Store().Owner(voxel.Cell{})
	if !ok || b.Color != Palette[0] || b.Size != 1 {
		t.Fatalf("owner=%+v ok=%v", b, ok)
	}

	// A press alone does nothing.
	e.HandleKey(KeyA, Press, 0)
	if e.Store().Len() != 1 {
		t.Fatalf("press toggled")
	}

	e.HandleKey(KeyA, Release, 0)
	if e.Store().Len() != 0 || e.Store().Cells() != 0 {
		t.Fatalf("batches=%d cells=%d want empty", e.Store().Len(), e.Store().Cells())
	}
}

func TestToggle_BlockedWhileCursorMoving(t *testing.T) {
	e := newEditor(t, Options{})

	e.HandleKey(KeyR, Press, 0)
	e.Frame(0.01)
	if !e.Cursor().IsMoving() {
		t.Fatalf("cursor should be moving")
	}
	e.HandleKey(KeyA, Release, 0)
	if e.Store().Len() != 0 {
		t.Fatalf("toggle ran while moving")
	}
	if _, ran := e.Toggle(); ran {
		t.Fatalf("Toggle reported running while moving")
	}

	e.HandleKey(KeyR, Release, 0)
	settle(t, e)
	e.HandleKey(KeyA, Release, 0)
	if !e.Store().Occupied(voxel.Cell{X: 1}) || e.Store().Occupied(voxel.Cell{}) {
		t.Fatalf("expected a voxel at (1,0,0) only")
	}
}

func TestHandleKey_ColorCycles(t *testing.T) {
	e := newEditor(t, Options{})
	for i := 0; i < len(Palette)+1; i++ {
		e.HandleKey(KeyC, Press, 0)
	}
	if e.ColorIndex() != 1 {
		t.Fatalf("color index=%d want 1", e.ColorIndex())
	}
	e.HandleKey(KeyC, Release, 0)
	if e.ColorIndex() != 1 {
		t.Fatalf("release changed color")
	}
	e.HandleKey(KeyA, Release, 0)
	b, _ := e.Store().Owner(voxel.Cell{})
	if b == nil || b.Color != (mgl32.Vec3{0, 1, 0}) {
		t.Fatalf("placed batch=%+v", b)
	}
}

func TestHandleKey_GridKeysDriveCursorUnit(t *testing.T) {
	var worlds []int
	e := newEditor(t, Options{OnWorldSize: func(w int) { worlds = append(worlds, w) }})

	e.HandleKey(Key3, Release, 0)
	if e.Grid().Cell() != 2 || e.Cursor().Unit() != 2 {
		t.Fatalf("cell=%d unit=%v", e.Grid().Cell(), e.Cursor().Unit())
	}
	if e.Cursor().Target() != (mgl32.Vec3{1, 1, 1}) {
		t.Fatalf("target=%v", e.Cursor().Target())
	}

	e.HandleKey(Key2, Release, 0)
	if e.Grid().World() != 32 || len(worlds) != 1 || worlds[0] != 32 {
		t.Fatalf("world=%d callbacks=%v", e.Grid().World(), worlds)
	}
	if e.Grid().Cell() != 2 {
		t.Fatalf("cell=%d should survive a larger world", e.Grid().Cell())
	}

	e.HandleKey(Key1, Release, 0)
	if !e.Grid().Centered() {
		t.Fatalf("1 should toggle centered mode")
	}

	// A 2-unit toggle places one 2³ batch.
	e.HandleKey(KeyA, Release, 0)
	b, ok := e.Store().Owner(voxel.Cell{X: 1, Y: 1, Z: 1})
	if !ok || b.Size != 2 || b.Origin != (voxel.Cell{}) {
		t.Fatalf("owner=%+v ok=%v", b, ok)
	}
}

func TestSaveOpen_RoundTripRestoresGridAndVoxels(t *testing.T) {
	e := newEditor(t, Options{})
	e.HandleKey(KeyA, Release, 0)
	e.HandleKey(KeyS, Press, ModCtrl)
	if _, err := os.Stat(e.cfg.Paths.Scene); err != nil {
		t.Fatalf("scene not written: %v", err)
	}
	want := e.Store().Digest()

	e.Clear()
	e.HandleKey(Key2, Release, 0)
	if e.Grid().World() != 32 || e.Store().Len() != 0 {
		t.Fatalf("setup: world=%d batches=%d", e.Grid().World(), e.Store().Len())
	}

	e.HandleKey(KeyO, Press, ModCtrl)
	if e.Grid().World() != 16 || e.Grid().Cell() != 1 {
		t.Fatalf("grid=%d/%d", e.Grid().World(), e.Grid().Cell())
	}
	if e.Store().Len() != 1 || e.Store().Digest() != want {
		t.Fatalf("batches=%d digest mismatch", e.Store().Len())
	}
}

func TestSave_BacksUpPreviousScene(t *testing.T) {
	e := newEditor(t, Options{})
	if err := e.Save(); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if all, _ := archive.List(e.cfg.Backup.Dir); len(all) != 0 {
		t.Fatalf("first save should not back up: %v", all)
	}
	first, err := os.ReadFile(e.cfg.Paths.Scene)
	if err != nil {
		t.Fatalf("read scene: %v", err)
	}

	e.HandleKey(KeyA, Release, 0)
	if err := e.Save(); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	all, err := archive.List(e.cfg.Backup.Dir)
	if err != nil || len(all) != 1 {
		t.Fatalf("backups=%v err=%v", all, err)
	}
	meta, err := archive.ReadMeta(all[0])
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(all[0], meta.File))
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(b) != string(first) {
		t.Fatalf("backup does not hold the previous scene")
	}
}

type mirrorRecorder struct{ paths []string }

func (m *mirrorRecorder) Enqueue(p string) { m.paths = append(m.paths, p) }

func TestSaveExport_EnqueueMirrorUploads(t *testing.T) {
	m := &mirrorRecorder{}
	e := newEditor(t, Options{Mirror: m})
	e.HandleKey(KeyA, Release, 0)
	if err := e.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := e.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := e.Export(); err != nil {
		t.Fatalf("Export: %v", err)
	}
	// scene, backup then scene, export
	if len(m.paths) != 4 {
		t.Fatalf("uploads=%v", m.paths)
	}
	if m.paths[0] != e.cfg.Paths.Scene || m.paths[2] != e.cfg.Paths.Scene || m.paths[3] != e.cfg.Paths.Export {
		t.Fatalf("uploads=%v", m.paths)
	}
	if filepath.Dir(filepath.Dir(m.paths[1])) != e.cfg.Backup.Dir {
		t.Fatalf("backup upload=%s", m.paths[1])
	}
}

func TestHandleKey_SaveNeedsCtrl(t *testing.T) {
	e := newEditor(t, Options{})
	e.HandleKey(KeyS, Press, 0)
	if _, err := os.Stat(e.cfg.Paths.Scene); !os.IsNotExist(err) {
		t.Fatalf("plain S saved: %v", err)
	}
}

func TestOpen_MissingFileLeavesStore(t *testing.T) {
	e := newEditor(t, Options{})
	e.HandleKey(KeyA, Release, 0)
	if err := e.Open(); err == nil {
		t.Fatalf("expected error for missing scene")
	}
	if e.Store().Len() != 1 {
		t.Fatalf("store changed on failed open")
	}
}

func TestImport_ReplacesStore(t *testing.T) {
	e := newEditor(t, Options{})
	e.HandleKey(KeyA, Release, 0)

	sc := &vox.Scene{
		Version: vox.DefaultVersion,
		Models: []vox.Model{{
			Size:   [3]int{2, 2, 1},
			Voxels: []vox.Voxel{{X: 0, Y: 0, Z: 0, ColorIndex: 1}, {X: 1, Y: 0, Z: 0, ColorIndex: 1}},
		}},
	}
	if err := vox.WriteFile(e.cfg.Paths.Import, sc); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	st, err := e.Import()
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if st.Placed != 2 || e.Store().Len() != 2 {
		t.Fatalf("stats=%+v batches=%d", st, e.Store().Len())
	}
}

func TestImport_MalformedLeavesStore(t *testing.T) {
	e := newEditor(t, Options{})
	e.HandleKey(KeyA, Release, 0)
	want := e.Store().Digest()
	if err := os.WriteFile(e.cfg.Paths.Import, []byte("not a voxel file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e.HandleKey(KeyV, Press, ModCtrl)
	if e.Store().Digest() != want {
		t.Fatalf("store changed on malformed import")
	}
}

func TestHandleKey_ExportWritesPackedFile(t *testing.T) {
	e := newEditor(t, Options{})
	e.HandleKey(KeyA, Release, 0)
	e.HandleKey(KeyE, Release, 0)

	b, err := os.ReadFile(e.cfg.Paths.Export)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	pts, err := packed.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pts) != 1 {
		t.Fatalf("points=%d want 1", len(pts))
	}
	// Y is inverted by default.
	if pts[0].X != 0 || pts[0].Y != 0 || pts[0].Z != 0 {
		t.Fatalf("point=%+v", pts[0])
	}
}

func TestFrame_PublishesOnlyOnChange(t *testing.T) {
	pub := &fakePublisher{}
	e := newEditor(t, Options{Preview: pub})

	if !e.Frame(0.016) || len(pub.updates) != 1 {
		t.Fatalf("first frame should publish")
	}
	if e.Frame(0.016) || len(pub.updates) != 1 {
		t.Fatalf("idle frame published")
	}

	e.HandleKey(KeyA, Release, 0)
	if !e.Frame(0.016) {
		t.Fatalf("frame after edit should publish")
	}
	u := pub.updates[len(pub.updates)-1]
	if u.Batches != 1 || u.Mesh.FaceCount() != 6 || u.Session != "test-session" {
		t.Fatalf("update batches=%d faces=%d session=%q", u.Batches, u.Mesh.FaceCount(), u.Session)
	}

	e.HandleKey(KeyC, Press, 0)
	if !e.Frame(0.016) {
		t.Fatalf("color change should publish")
	}
	if pub.updates[len(pub.updates)-1].Color != Palette[1] {
		t.Fatalf("published color=%v", pub.updates[len(pub.updates)-1].Color)
	}
}

func TestJournalAndIndex_RecordEveryMutation(t *testing.T) {
	cfg := testConfig(t)
	j := journal.Open(cfg.Paths.JournalDir, "sess-j")
	idx, err := indexdb.OpenSQLite(cfg.Paths.IndexDB)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	e := newEditor(t, Options{Config: cfg, Session: "sess-j", Journal: j, Index: idx})

	e.HandleKey(KeyA, Release, 0) // add
	e.HandleKey(KeyA, Release, 0) // remove
	e.HandleKey(KeyA, Release, 0) // add again, new batch id
	e.HandleKey(KeyS, Press, ModCtrl)
	e.HandleKey(KeyO, Press, ModCtrl) // restore
	e.HandleKey(KeyE, Release, 0)
	final := e.Store().Digest()

	if err := j.Close(); err != nil {
		t.Fatalf("journal Close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("index Close: %v", err)
	}

	replayed := voxel.New(nil)
	var ops []journal.Op
	if err := journal.ReadDir(cfg.Paths.JournalDir, func(ent journal.Entry) error {
		ops = append(ops, ent.Op)
		return journal.Replay(replayed, ent)
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	want := []journal.Op{journal.OpAdd, journal.OpRemove, journal.OpAdd, journal.OpRestore}
	if len(ops) != len(want) {
		t.Fatalf("ops=%v want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("ops=%v want %v", ops, want)
		}
	}
	if replayed.Digest() != final {
		t.Fatalf("replayed digest mismatch")
	}

	r, err := indexdb.OpenReader(cfg.Paths.IndexDB)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	ctx := context.Background()
	files, err := r.Files(ctx, "", 0)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 3 || files[0].Kind != indexdb.KindExport || files[1].Kind != indexdb.KindLoad || files[2].Kind != indexdb.KindSave {
		t.Fatalf("files=%+v", files)
	}
	edits, err := r.EditsAt(ctx, 0, 0, 0)
	if err != nil {
		t.Fatalf("EditsAt: %v", err)
	}
	if len(edits) != 3 || edits[0].Session != "sess-j" {
		t.Fatalf("edits=%+v", edits)
	}
}

func TestNew_RejectsBadGrid(t *testing.T) {
	cfg := testConfig(t)
	cfg.Grid.Cell = 3
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatalf("expected grid error")
	}
}

func TestParseKey(t *testing.T) {
	k, m, err := ParseKey("ctrl+s")
	if err != nil || k != KeyS || m != ModCtrl {
		t.Fatalf("ctrl+s: %v %v %v", k, m, err)
	}
	k, m, err = ParseKey("a")
	if err != nil || k != KeyA || m != 0 {
		t.Fatalf("a: %v %v %v", k, m, err)
	}
	if _, _, err := ParseKey("alt+a"); err == nil {
		t.Fatalf("expected modifier error")
	}
	if _, _, err := ParseKey("enter"); err == nil {
		t.Fatalf("expected key error")
	}
	if a, err := ParseAction("release"); err != nil || a != Release {
		t.Fatalf("ParseAction: %v %v", a, err)
	}
}

func TestStatus(t *testing.T) {
	e := newEditor(t, Options{})
	e.HandleKey(KeyA, Release, 0)
	st := e.Status()
	if st.Batches != 1 || st.Cells != 1 || st.World != 16 || st.Cell != 1 || st.Session != "test-session" {
		t.Fatalf("status=%+v", st)
	}
	if !filepath.IsAbs(e.cfg.Paths.Scene) {
		t.Fatalf("scene path not rooted: %q", e.cfg.Paths.Scene)
	}
}
