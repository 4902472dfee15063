// Package journal records every store mutation as a JSONL entry in hourly
// zstd compressed files and replays them against a fresh store.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/klauspost/compress/zstd"

	"voxelander/internal/voxel"
)

const (
	Prefix     = "edits"
	fileSuffix = ".jsonl.zst"
	hourLayout = "2006-01-02-15"
)

type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpClear  Op = "clear"
	// OpRestore replaces the whole store, as scene load and import do.
	OpRestore Op = "restore"
)

var (
	ErrDiverged = errors.New("journal: replay diverged")
	ErrBadEntry = errors.New("journal: bad entry")
)

// Record is a compact placement.
type Record struct {
	Origin [3]int     `json:"o"`
	Size   int        `json:"s"`
	Color  [3]float32 `json:"c"`
}

type Entry struct {
	Seq      uint64     `json:"seq"`
	Time     string     `json:"time"`
	Session  string     `json:"session,omitempty"`
	Op       Op         `json:"op"`
	Origin   [3]int     `json:"origin"`
	Size     int        `json:"size,omitempty"`
	Color    [3]float32 `json:"color"`
	BatchID  int        `json:"batch_id"`
	Accepted bool       `json:"accepted"`

	// Source names the file a restore came from.
	Source     string   `json:"source,omitempty"`
	Placements []Record `json:"placements,omitempty"`

	// Digest is the store digest after the entry was applied.
	Digest string `json:"digest"`
}

func FromPlacements(ps []voxel.Placement) []Record {
	out := make([]Record, 0, len(ps))
	for _, p := range ps {
		out = append(out, Record{
			Origin: [3]int{p.Origin.X, p.Origin.Y, p.Origin.Z},
			Size:   p.Size,
			Color:  [3]float32(p.Color),
		})
	}
	return out
}

// ToPlacements converts records back to placements. Sizes outside
// 1..voxel.MaxBatchSize are rejected.
func ToPlacements(rs []Record) ([]voxel.Placement, error) {
	out := make([]voxel.Placement, 0, len(rs))
	for i, r := range rs {
		if r.Size < 1 || r.Size > voxel.MaxBatchSize {
			return nil, fmt.Errorf("%w: placement %d has size %d", ErrBadEntry, i, r.Size)
		}
		out = append(out, voxel.Placement{
			Origin: voxel.Cell{X: r.Origin[0], Y: r.Origin[1], Z: r.Origin[2]},
			Size:   r.Size,
			Color:  mgl32.Vec3(r.Color),
		})
	}
	return out, nil
}

// Journal stamps entries with a sequence number, time and session id.
type Journal struct {
	w       *JSONLZstdWriter
	session string

	mu  sync.Mutex
	seq uint64
}

func Open(dir, session string) *Journal {
	return &Journal{w: NewJSONLZstdWriter(dir, Prefix), session: session}
}

// Append stamps e and writes it. The stamped entry is returned even when the
// write fails.
func (j *Journal) Append(e Entry) (Entry, error) {
	j.mu.Lock()
	j.seq++
	e.Seq = j.seq
	j.mu.Unlock()

	e.Session = j.session
	e.Time = j.w.now().UTC().Format(time.RFC3339Nano)
	return e, j.w.Write(e)
}

func (j *Journal) Close() error { return j.w.Close() }

// ListFiles returns the journal files in dir in chronological order.
func ListFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, Prefix+"-") && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadFile calls fn for every entry in path, in order.
func ReadFile(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s:%d: unmarshal: %w", filepath.Base(path), line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadDir reads every journal file in dir.
func ReadDir(dir string, fn func(Entry) error) error {
	files, err := ListFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := ReadFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

// Replay applies e to s and checks that the outcome matches what was
// recorded. Entries with an empty digest are applied without the digest check.
func Replay(s *voxel.Store, e Entry) error {
	switch e.Op {
	case OpAdd:
		if e.Size < 1 || e.Size > voxel.MaxBatchSize {
			return fmt.Errorf("%w: seq %d add size %d", ErrBadEntry, e.Seq, e.Size)
		}
		origin := voxel.Cell{X: e.Origin[0], Y: e.Origin[1], Z: e.Origin[2]}
		id, ok := s.AddBatch(origin, e.Size, mgl32.Vec3(e.Color))
		if ok != e.Accepted {
			return fmt.Errorf("%w: seq %d add accepted=%v want %v", ErrDiverged, e.Seq, ok, e.Accepted)
		}
		if ok && id != e.BatchID {
			return fmt.Errorf("%w: seq %d add id=%d want %d", ErrDiverged, e.Seq, id, e.BatchID)
		}
	case OpRemove:
		if ok := s.RemoveBatch(e.BatchID); ok != e.Accepted {
			return fmt.Errorf("%w: seq %d remove %d accepted=%v want %v", ErrDiverged, e.Seq, e.BatchID, ok, e.Accepted)
		}
	case OpClear:
		s.Clear()
	case OpRestore:
		ps, err := ToPlacements(e.Placements)
		if err != nil {
			return fmt.Errorf("seq %d: %w", e.Seq, err)
		}
		s.Restore(ps)
	default:
		return fmt.Errorf("journal: seq %d: unknown op %q", e.Seq, e.Op)
	}
	if e.Digest != "" && s.Digest() != e.Digest {
		return fmt.Errorf("%w: seq %d digest mismatch", ErrDiverged, e.Seq)
	}
	return nil
}
