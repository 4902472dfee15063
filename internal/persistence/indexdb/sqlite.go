// Package indexdb keeps a queryable SQLite index of editor sessions, journal
// entries and the files the editor saved, loaded, imported or exported.
// The journal stays the source of truth; rows may be dropped under load.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelander/internal/persistence/journal"
)

const schemaVersion = "1"

type FileKind string

const (
	KindSave   FileKind = "save"
	KindLoad   FileKind = "load"
	KindImport FileKind = "import"
	KindExport FileKind = "export"
)

// FileRecord describes one file operation. Items counts batches for scenes
// and imports and points for exports.
type FileRecord struct {
	Session string
	Kind    FileKind
	Path    string
	Time    time.Time
	Items   int
	Bytes   int64
	Digest  string
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropEditTotal uint64
	DropFileTotal uint64
}

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEdit atomic.Uint64
	dropFile atomic.Uint64
}

type reqKind int

const (
	reqEdit reqKind = iota + 1
	reqFile
)

type req struct {
	kind reqKind

	edit journal.Entry
	file FileRecord
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			config_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS edits (
			session TEXT NOT NULL,
			seq INTEGER NOT NULL,
			time TEXT NOT NULL,
			op TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			size INTEGER NOT NULL,
			batch_id INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			placements INTEGER NOT NULL,
			digest TEXT NOT NULL,
			PRIMARY KEY (session, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_pos ON edits(x, z, y);`,
		`CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			items INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			digest TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_files_kind ON files(kind, id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropEditTotal: s.dropEdit.Load(),
		DropFileTotal: s.dropFile.Load(),
	}
}

// RecordSession stores the session row synchronously. It must be called
// before the first queued write so the row is never missing.
func (s *SQLiteIndex) RecordSession(ctx context.Context, session string, started time.Time, configJSON []byte) error {
	if s == nil {
		return nil
	}
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions(session,started_at,config_json) VALUES(?,?,?)`,
		session, started.UTC().Format(time.RFC3339Nano), string(configJSON))
	return err
}

func (s *SQLiteIndex) WriteEdit(e journal.Entry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEdit, edit: e}:
	default:
		// Drop if the indexer falls behind; the journal remains the source of truth.
		s.dropEdit.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordFile(r FileRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	select {
	case s.ch <- req{kind: reqFile, file: r}:
	default:
		s.dropFile.Add(1)
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEdit, _ := s.db.Prepare(`INSERT OR REPLACE INTO edits(session,seq,time,op,x,y,z,size,batch_id,accepted,placements,digest) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertFile, _ := s.db.Prepare(`INSERT INTO files(session,kind,path,recorded_at,items,bytes,digest) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertEdit != nil {
			_ = insertEdit.Close()
		}
		if insertFile != nil {
			_ = insertFile.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEdit:
			e := r.edit
			if insertEdit == nil {
				continue
			}
			accepted := 0
			if e.Accepted {
				accepted = 1
			}
			if _, err := tx.Stmt(insertEdit).Exec(
				e.Session,
				int64(e.Seq),
				e.Time,
				string(e.Op),
				e.Origin[0], e.Origin[1], e.Origin[2],
				e.Size,
				e.BatchID,
				accepted,
				len(e.Placements),
				e.Digest,
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqFile:
			f := r.file
			if insertFile == nil {
				continue
			}
			if _, err := tx.Stmt(insertFile).Exec(
				f.Session,
				string(f.Kind),
				f.Path,
				f.Time.UTC().Format(time.RFC3339Nano),
				f.Items,
				f.Bytes,
				f.Digest,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		// File rows commit immediately.
		if r.kind == reqFile || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
