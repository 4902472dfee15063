// Package archive keeps copies of a scene file before it is overwritten.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	stampLayout = "20060102T150405.000000000Z"
	metaName    = "meta.json"
)

type BackupMeta struct {
	Source    string `json:"source"`
	File      string `json:"file"`
	Bytes     int64  `json:"bytes"`
	Session   string `json:"session,omitempty"`
	CreatedAt string `json:"created_at"`
}

// BackupScene copies scenePath into dir/<stamp>/ with a meta.json beside it,
// then prunes the oldest backups so at most keep remain. A missing scene is
// not an error; ok reports whether a copy was made. keep <= 0 keeps all.
func BackupScene(dir, scenePath, session string, keep int, now time.Time) (backupPath string, ok bool, err error) {
	fi, err := os.Stat(scenePath)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if fi.IsDir() {
		return "", false, fmt.Errorf("archive: %s is a directory", scenePath)
	}

	stampDir := filepath.Join(dir, now.UTC().Format(stampLayout))
	if err := os.MkdirAll(stampDir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(stampDir, filepath.Base(scenePath))
	n, err := copyFile(scenePath, dst)
	if err != nil {
		return "", false, err
	}

	meta := BackupMeta{
		Source:    scenePath,
		File:      filepath.Base(dst),
		Bytes:     n,
		Session:   session,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(stampDir, metaName), b, 0o644)
	}

	if keep > 0 {
		if err := Prune(dir, keep); err != nil {
			return dst, true, err
		}
	}
	return dst, true, nil
}

// List returns the backup directories in dir, oldest first.
func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), "Z") {
			continue
		}
		if _, err := time.Parse(stampLayout, e.Name()); err != nil {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ReadMeta reads the meta.json of one backup directory.
func ReadMeta(backupDir string) (BackupMeta, error) {
	var m BackupMeta
	b, err := os.ReadFile(filepath.Join(backupDir, metaName))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

// Prune removes the oldest backups in dir until at most keep remain.
func Prune(dir string, keep int) error {
	all, err := List(dir)
	if err != nil {
		return err
	}
	for len(all) > keep {
		if err := os.RemoveAll(all[0]); err != nil {
			return err
		}
		all = all[1:]
	}
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer func() { _ = out.Close() }()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, err
	}
	return n, out.Close()
}
