package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBackupScene_CopiesAndWritesMeta(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scene.vld")
	want := []byte("scene bytes")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got, ok, err := BackupScene(filepath.Join(dir, "backups"), src, "sess-1", 0, now)
	if err != nil || !ok {
		t.Fatalf("backup ok=%v err=%v", ok, err)
	}
	b, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(b) != string(want) {
		t.Fatalf("backup content=%q want %q", b, want)
	}

	meta, err := ReadMeta(filepath.Dir(got))
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.Source != src || meta.File != "scene.vld" || meta.Bytes != int64(len(want)) || meta.Session != "sess-1" {
		t.Fatalf("meta=%+v", meta)
	}
}

func TestBackupScene_MissingSceneIsNoop(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := BackupScene(filepath.Join(dir, "backups"), filepath.Join(dir, "none.vld"), "", 3, time.Now())
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "backups")); !os.IsNotExist(err) {
		t.Fatalf("backups dir created: %v", err)
	}
}

func TestBackupScene_PrunesOldest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scene.vld")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	backups := filepath.Join(dir, "backups")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if _, _, err := BackupScene(backups, src, "", 2, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("backup %d: %v", i, err)
		}
	}
	// Unrelated entries are left alone.
	if err := os.MkdirAll(filepath.Join(backups, "notes"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	all, err := List(backups)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("backups=%v want 2", all)
	}
	if filepath.Base(all[0]) != base.Add(2*time.Second).Format(stampLayout) {
		t.Fatalf("oldest kept=%s", filepath.Base(all[0]))
	}
	if _, err := os.Stat(filepath.Join(backups, "notes")); err != nil {
		t.Fatalf("notes removed: %v", err)
	}
}
