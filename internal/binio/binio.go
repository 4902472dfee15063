// Package binio holds the little-endian primitives shared by the voxel file codecs.
//
// Reader is a cursor over an in-memory buffer with a sticky error: once a read
// runs past the end every later read returns zero values and Err reports
// ErrShort. Writer mirrors that over an io.Writer.
package binio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var ErrShort = errors.New("binio: short buffer")

type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error { return r.err }

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Len is the number of unread bytes.
func (r *Reader) Len() int {
	if r.off >= len(r.buf) {
		return 0
	}
	return len(r.buf) - r.off
}

// Next returns the next n bytes without copying. The returned slice aliases
// the reader's buffer.
func (r *Reader) Next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.Len() {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShort, n, r.off, r.Len())
		r.off = len(r.buf)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Skip(n int) { _ = r.Next(n) }

func (r *Reader) U8() uint8 {
	b := r.Next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.Next(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.Next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) I32() int32 { return int32(r.U32()) }

func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }

// String reads a u32 length followed by that many bytes.
func (r *Reader) String() string {
	n := r.U32()
	if r.err != nil {
		return ""
	}
	if uint64(n) > uint64(r.Len()) {
		r.Next(r.Len() + 1)
		return ""
	}
	return string(r.Next(int(n)))
}

// Writer writes little-endian values and keeps the first error.
type Writer struct {
	w   io.Writer
	buf [8]byte
	n   int64
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Err() error { return w.err }

// Written reports the number of bytes successfully written.
func (w *Writer) Written() int64 { return w.n }

func (w *Writer) Bytes(b []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(b)
	w.n += int64(n)
	if err != nil {
		w.err = err
	}
}

func (w *Writer) U8(v uint8) {
	w.buf[0] = v
	w.Bytes(w.buf[:1])
}

func (w *Writer) I8(v int8) { w.U8(uint8(v)) }

func (w *Writer) U16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:2], v)
	w.Bytes(w.buf[:2])
}

func (w *Writer) U32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.Bytes(w.buf[:4])
}

func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

// String writes a u32 length prefix followed by the raw bytes of s.
func (w *Writer) String(s string) {
	w.U32(uint32(len(s)))
	w.Bytes([]byte(s))
}
