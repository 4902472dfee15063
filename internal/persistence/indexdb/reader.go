package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"
)

// Reader queries an index written by SQLiteIndex. It uses its own
// connection so it never waits on the writer's open transaction.
type Reader struct {
	db *sql.DB
}

type Session struct {
	ID         string
	StartedAt  time.Time
	ConfigJSON string
	Edits      int
	Files      int
}

type EditRow struct {
	Session  string
	Seq      uint64
	Time     string
	Op       string
	Origin   [3]int
	Size     int
	BatchID  int
	Accepted bool
	Digest   string
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// Sessions returns every session, newest first.
func (r *Reader) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.session, s.started_at, s.config_json,
			(SELECT COUNT(*) FROM edits e WHERE e.session = s.session),
			(SELECT COUNT(*) FROM files f WHERE f.session = s.session)
		FROM sessions s
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s       Session
			started string
		)
		if err := rows.Scan(&s.ID, &started, &s.ConfigJSON, &s.Edits, &s.Files); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			s.StartedAt = t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Files returns file records, newest first. An empty kind matches all
// kinds; limit <= 0 means no limit.
func (r *Reader) Files(ctx context.Context, kind FileKind, limit int) ([]FileRecord, error) {
	q := `SELECT session, kind, path, recorded_at, items, bytes, digest FROM files`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	q += ` ORDER BY id DESC`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var (
			f        FileRecord
			k, stamp string
		)
		if err := rows.Scan(&f.Session, &k, &f.Path, &stamp, &f.Items, &f.Bytes, &f.Digest); err != nil {
			return nil, err
		}
		f.Kind = FileKind(k)
		if t, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
			f.Time = t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// EditsAt returns the add and remove entries whose batch origin is the
// given cell, oldest first.
func (r *Reader) EditsAt(ctx context.Context, x, y, z int) ([]EditRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session, seq, time, op, x, y, z, size, batch_id, accepted, digest
		FROM edits
		WHERE x = ? AND z = ? AND y = ? AND op IN ('add', 'remove')
		ORDER BY time, seq`, x, z, y)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EditRow
	for rows.Next() {
		var (
			e        EditRow
			seq      int64
			accepted int
		)
		if err := rows.Scan(&e.Session, &seq, &e.Time, &e.Op, &e.Origin[0], &e.Origin[1], &e.Origin[2], &e.Size, &e.BatchID, &accepted, &e.Digest); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Accepted = accepted != 0
		out = append(out, e)
	}
	return out, rows.Err()
}
