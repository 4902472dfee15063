// Command replay re-applies an edit journal to a fresh store and verifies
// the recorded digests. Each session starts from an empty store.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"voxelander/internal/persistence/journal"
	"voxelander/internal/scene"
	"voxelander/internal/voxel"
)

func main() {
	var (
		journalDir = flag.String("journal", "data/journal", "journal dir containing edits-*.jsonl.zst")
		session    = flag.String("session", "", "replay only this session (optional)")
		toSeq      = flag.Uint64("to_seq", 0, "stop after this sequence number (inclusive, optional)")
		scenePath  = flag.String("scene", "", "scene file the final state must match (optional)")
	)
	flag.Parse()

	files, err := journal.ListFiles(*journalDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found in", *journalDir)
		os.Exit(1)
	}

	r := newReplayer(*session, *toSeq)
	for _, path := range files {
		if err := journal.ReadFile(path, r.apply); err != nil {
			if errors.Is(err, errStop) {
				break
			}
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: sessions=%d entries=%d batches=%d digest=%s\n",
		r.sessions, r.applied, r.store.Len(), r.store.Digest())

	if *scenePath == "" {
		return
	}
	sc, err := scene.Load(*scenePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load scene:", err)
		os.Exit(1)
	}
	want := voxel.New(nil)
	if _, err := sc.Apply(want, nil); err != nil {
		fmt.Fprintln(os.Stderr, "apply scene:", err)
		os.Exit(1)
	}
	if want.Digest() != r.store.Digest() {
		fmt.Fprintf(os.Stderr, "scene mismatch: replay=%s scene=%s\n", r.store.Digest(), want.Digest())
		os.Exit(1)
	}
	fmt.Println("scene matches")
}

var errStop = errors.New("stop")

type replayer struct {
	session string
	toSeq   uint64

	store    *voxel.Store
	current  string
	sessions int
	applied  int
}

func newReplayer(session string, toSeq uint64) *replayer {
	return &replayer{session: session, toSeq: toSeq, store: voxel.New(nil)}
}

func (r *replayer) apply(e journal.Entry) error {
	if r.session != "" && e.Session != r.session {
		return nil
	}
	if e.Session != r.current || r.sessions == 0 {
		if r.toSeq != 0 && r.sessions > 0 {
			return errStop
		}
		r.current = e.Session
		r.store = voxel.New(nil)
		r.sessions++
	}
	if r.toSeq != 0 && e.Seq > r.toSeq {
		return errStop
	}
	if err := journal.Replay(r.store, e); err != nil {
		return fmt.Errorf("session %s: %w", e.Session, err)
	}
	r.applied++
	return nil
}
