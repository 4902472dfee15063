package main

import (
	"context"
	"io"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"voxelander/internal/config"
	"voxelander/internal/editor"
	"voxelander/internal/persistence/indexdb"
	"voxelander/internal/persistence/journal"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Paths.Root = t.TempDir()
	cfg.Normalize()
	return cfg
}

func TestRun_QuitClosesJournalAndIndex(t *testing.T) {
	cfg := testConfig(t)
	if code := run(cfg, runOptions{FPS: 60}, strings.NewReader("tap a\nquit\n")); code != 0 {
		t.Fatalf("exit code=%d", code)
	}

	var ops []journal.Op
	if err := journal.ReadDir(cfg.Paths.JournalDir, func(e journal.Entry) error {
		ops = append(ops, e.Op)
		return nil
	}); err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(ops) != 1 || ops[0] != journal.OpAdd {
		t.Fatalf("ops=%v", ops)
	}

	// Edits are committed in batches, so the row is only there if the index
	// was closed.
	r, err := indexdb.OpenReader(cfg.Paths.IndexDB)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	edits, err := r.EditsAt(context.Background(), 0, 0, 0)
	if err != nil || len(edits) != 1 {
		t.Fatalf("edits=%v err=%v", edits, err)
	}
}

func TestRun_MirrorFailureStillClosesIndex(t *testing.T) {
	t.Setenv("VOXELANDER_MIRROR_ACCESS_KEY_ID", "")
	t.Setenv("VOXELANDER_MIRROR_SECRET_ACCESS_KEY", "")
	cfg := testConfig(t)
	cfg.Mirror.Endpoint = "r2.example.com"
	cfg.Mirror.Bucket = "scenes"

	if code := run(cfg, runOptions{}, strings.NewReader("")); code != 2 {
		t.Fatalf("exit code=%d want 2", code)
	}
	// Closing the last connection checkpoints and removes the WAL file.
	if _, err := os.Stat(cfg.Paths.IndexDB + "-wal"); !os.IsNotExist(err) {
		t.Fatalf("index left open: %v", err)
	}
	r, err := indexdb.OpenReader(cfg.Paths.IndexDB)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	sessions, err := r.Sessions(context.Background())
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions=%v err=%v", sessions, err)
	}
}

func TestRunCommand_DrivesEditor(t *testing.T) {
	cfg := testConfig(t)
	ed, err := editor.New(editor.Options{Config: cfg, Session: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger := log.New(io.Discard, "", 0)
	dt := time.Second / 60

	for _, line := range []string{"", "tap a", "press r", "release r", "wait", "tap a", "bogus", "press", "tap alt+a"} {
		if runCommand(ed, line, logger, dt) {
			t.Fatalf("%q should not quit", line)
		}
	}
	if ed.Status().Batches != 2 {
		t.Fatalf("batches=%d want 2", ed.Status().Batches)
	}
	if runCommand(ed, "clear", logger, dt); ed.Status().Batches != 0 {
		t.Fatalf("clear left %d batches", ed.Status().Batches)
	}
	if !runCommand(ed, "quit", logger, dt) {
		t.Fatalf("quit should quit")
	}
}
