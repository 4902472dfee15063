// Package vld implements the named-section container used for scene files.
//
// A file is a plain sequence of records with no header or footer:
//
//	name  [256]byte  ASCII, NUL padded
//	size  uint32     little endian
//	data  [size]byte
//
// Paths ending in ".zst" are additionally zstd framed.
package vld

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	NameSize = 256

	zstdSuffix = ".zst"
)

var (
	ErrTruncated = errors.New("vld: unexpected end of file")
	ErrName      = errors.New("vld: section name is not ASCII")
)

type Section struct {
	Name string
	Data []byte
}

// Sections keeps file order. Names may repeat.
type Sections []Section

// Lookup returns the data of the last section called name.
func (s Sections) Lookup(name string) ([]byte, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Name == name {
			return s[i].Data, true
		}
	}
	return nil, false
}

// Map collapses the sections by name; later sections win.
func (s Sections) Map() map[string][]byte {
	m := make(map[string][]byte, len(s))
	for _, sec := range s {
		m[sec.Name] = sec.Data
	}
	return m
}

func (s Sections) Names() []string {
	out := make([]string, 0, len(s))
	for _, sec := range s {
		out = append(out, sec.Name)
	}
	return out
}

func encodeName(name string) ([NameSize]byte, error) {
	var buf [NameSize]byte
	for i := 0; i < len(name); i++ {
		if name[i] >= 0x80 {
			return buf, fmt.Errorf("%w: %q", ErrName, name)
		}
	}
	copy(buf[:], name)
	return buf, nil
}

// Encode writes sections in order. Names longer than NameSize bytes are
// truncated.
func Encode(w io.Writer, sections Sections) error {
	var size [4]byte
	for _, sec := range sections {
		name, err := encodeName(sec.Name)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(size[:], uint32(len(sec.Data)))
		if _, err := w.Write(name[:]); err != nil {
			return err
		}
		if _, err := w.Write(size[:]); err != nil {
			return err
		}
		if _, err := w.Write(sec.Data); err != nil {
			return err
		}
	}
	return nil
}

// Read parses records until the stream ends. A stream that ends inside a
// name or size field ends cleanly; one that ends inside section data returns
// ErrTruncated.
func Read(r io.Reader) (Sections, error) {
	var (
		out  Sections
		name [NameSize]byte
		size [4]byte
	)
	for {
		if _, err := io.ReadFull(r, name[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return out, nil
			}
			return out, err
		}
		n := strings.TrimRight(string(name[:]), "\x00")
		for i := 0; i < len(n); i++ {
			if n[i] >= 0x80 {
				return out, fmt.Errorf("%w: %q", ErrName, n)
			}
		}
		if _, err := io.ReadFull(r, size[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return out, nil
			}
			return out, err
		}
		want := int64(binary.LittleEndian.Uint32(size[:]))

		var data bytes.Buffer
		got, err := io.CopyN(&data, r, want)
		if err != nil && err != io.EOF {
			return out, err
		}
		if got < want {
			return out, fmt.Errorf("%w: section %q has %d of %d bytes", ErrTruncated, n, got, want)
		}
		out = append(out, Section{Name: n, Data: data.Bytes()})
	}
}

func Decode(b []byte) (Sections, error) {
	return Read(bytes.NewReader(b))
}

// Save writes sections to path, replacing any existing file.
func Save(path string, sections Sections) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := write(f, path, sections); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func write(f *os.File, path string, sections Sections) error {
	bw := bufio.NewWriterSize(f, 64*1024)
	if !strings.HasSuffix(path, zstdSuffix) {
		if err := Encode(bw, sections); err != nil {
			return err
		}
		return bw.Flush()
	}
	enc, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := Encode(enc, sections); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

// Open reads every section of the file at path.
func Open(path string) (Sections, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, 64*1024)
	if strings.HasSuffix(path, zstdSuffix) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}
	secs, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return secs, nil
}
