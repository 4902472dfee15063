package editor

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"voxelander/internal/format/packed"
	"voxelander/internal/format/vox"
	"voxelander/internal/persistence/archive"
	"voxelander/internal/persistence/indexdb"
	"voxelander/internal/persistence/journal"
	"voxelander/internal/scene"
	"voxelander/internal/voxel"
)

// Toggle places or clears the cursor's aligned region with the selected
// color. It does nothing while the cursor is moving and reports whether the
// gesture ran.
func (e *Editor) Toggle() (voxel.ToggleResult, bool) {
	if e.cursor.IsMoving() {
		e.log.Printf("toggle ignored: cursor moving")
		return voxel.ToggleResult{BatchID: -1}, false
	}
	cell := e.cursor.Cell()
	unit := int(e.cursor.Unit())
	color := e.Color()
	res := e.store.ToggleAt(cell, unit, color)

	if len(res.Removed) > 0 {
		for i, id := range res.Removed {
			p := res.Cleared[i]
			ent := journal.Entry{
				Op:       journal.OpRemove,
				Origin:   [3]int{p.Origin.X, p.Origin.Y, p.Origin.Z},
				Size:     p.Size,
				Color:    [3]float32(p.Color),
				BatchID:  id,
				Accepted: true,
			}
			if i == len(res.Removed)-1 {
				ent.Digest = e.store.Digest()
			}
			e.record(ent)
		}
		return res, true
	}
	e.record(journal.Entry{
		Op:       journal.OpAdd,
		Origin:   [3]int{cell.X, cell.Y, cell.Z},
		Size:     unit,
		Color:    [3]float32(color),
		BatchID:  res.BatchID,
		Accepted: res.Placed,
		Digest:   e.store.Digest(),
	})
	return res, true
}

// Clear empties the store.
func (e *Editor) Clear() {
	e.store.Clear()
	e.record(journal.Entry{Op: journal.OpClear, BatchID: -1, Digest: e.store.Digest()})
}

// Save writes the store and grid to the configured scene path. The file it
// replaces is copied to the backup directory first.
func (e *Editor) Save() error {
	path := e.cfg.Paths.Scene
	if dir := e.cfg.Backup.Dir; dir != "" {
		dst, ok, err := archive.BackupScene(dir, path, e.session, e.cfg.Backup.Keep, time.Now())
		if err != nil {
			e.log.Printf("backup %s: %v", path, err)
		} else if ok {
			e.log.Printf("backed up %s to %s", path, dst)
			e.upload(dst)
		}
	}
	g := scene.GridSize{World: uint32(e.grid.World()), Cell: uint32(e.grid.Cell())}
	if err := scene.Save(path, e.store, g); err != nil {
		return err
	}
	size := fileSize(path)
	e.log.Printf("saved %d batches to %s (%s)", e.store.Len(), path, humanize.Bytes(uint64(size)))
	e.recordFile(indexdb.KindSave, path, e.store.Len(), size)
	e.upload(path)
	return nil
}

// Open loads the configured scene path. Missing sections leave that part of
// the editor as it is; a bad file changes nothing.
func (e *Editor) Open() error {
	path := e.cfg.Paths.Scene
	sc, err := scene.Load(path)
	if err != nil {
		return err
	}
	n, err := sc.Apply(e.store, e.grid)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if sc.HasVoxels {
		if n != len(sc.Voxels) {
			e.log.Printf("open %s: %d of %d batches conflicted", path, len(sc.Voxels)-n, len(sc.Voxels))
		}
		e.recordRestore(path)
	}
	e.log.Printf("opened %s: %d batches, grid %d/%d", path, e.store.Len(), e.grid.World(), e.grid.Cell())
	e.recordFile(indexdb.KindLoad, path, e.store.Len(), fileSize(path))
	return nil
}

// Import replaces the store with the configured chunked voxel file.
func (e *Editor) Import() (vox.ImportStats, error) {
	path := e.cfg.Paths.Import
	st, err := vox.ImportFile(e.store, path, e.cfg.ImportOptions())
	if err != nil {
		return st, err
	}
	e.log.Printf("imported %s: models=%d instances=%d points=%d placed=%d duplicates=%d clipped=%d",
		path, st.Models, st.Instances, st.Points, st.Placed, st.Duplicates, st.Clipped)
	e.recordRestore(path)
	e.recordFile(indexdb.KindImport, path, st.Placed, fileSize(path))
	return st, nil
}

// Export writes the packed point file to the configured export path.
func (e *Editor) Export() (packed.Result, error) {
	path := e.cfg.Paths.Export
	res, err := packed.WriteFile(path, e.store, e.cfg.PackedConfig())
	if err != nil {
		return res, err
	}
	size := fileSize(path)
	e.log.Printf("exported %d points to %s (%s, dropped=%d merged=%d)",
		len(res.Points), path, humanize.Bytes(uint64(size)), res.Dropped, res.Merged)
	e.recordFile(indexdb.KindExport, path, len(res.Points), size)
	e.upload(path)
	return res, nil
}

func (e *Editor) recordRestore(source string) {
	e.record(journal.Entry{
		Op:         journal.OpRestore,
		BatchID:    -1,
		Source:     source,
		Placements: journal.FromPlacements(e.store.Placements()),
		Digest:     e.store.Digest(),
	})
}

func (e *Editor) record(ent journal.Entry) {
	ent.Session = e.session
	if e.journal != nil {
		var err error
		if ent, err = e.journal.Append(ent); err != nil {
			e.log.Printf("journal: %v", err)
		}
	}
	if e.index != nil {
		_ = e.index.WriteEdit(ent)
	}
}

func (e *Editor) recordFile(kind indexdb.FileKind, path string, items int, size int64) {
	if e.index == nil {
		return
	}
	e.index.RecordFile(indexdb.FileRecord{
		Session: e.session,
		Kind:    kind,
		Path:    path,
		Time:    time.Now(),
		Items:   items,
		Bytes:   size,
		Digest:  e.store.Digest(),
	})
}

func (e *Editor) upload(path string) {
	if e.mirror != nil {
		e.mirror.Enqueue(path)
	}
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
