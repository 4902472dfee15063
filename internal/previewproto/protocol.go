// Package previewproto defines the messages of the mesh preview websocket.
package previewproto

import (
	"bytes"
	"errors"
	"fmt"

	"voxelander/internal/binio"
)

const Version = "1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeFrame     = "FRAME"
)

var ErrGeometry = errors.New("previewproto: malformed geometry payload")

// Client -> Server. First message on the preview WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// HTTP response for GET /v1/preview/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	Session         string       `json:"session"`
	Seq             uint64       `json:"seq"`
	Grid            GridParams   `json:"grid"`
	Stats           Stats        `json:"stats"`
	Palette         [][3]float32 `json:"palette"`
}

type GridParams struct {
	World       int    `json:"world"`
	Cell        int    `json:"cell"`
	Centered    bool   `json:"centered"`
	ArrowLength int    `json:"arrow_length"`
	Bounds      [2]int `json:"bounds"`
}

type Stats struct {
	Batches  int    `json:"batches"`
	Cells    int    `json:"cells"`
	Vertices int    `json:"vertices"`
	Faces    int    `json:"faces"`
	Digest   string `json:"digest"`
}

// Server -> Client. A FRAME text message is always followed by one binary
// message holding the geometry described by it.
type FrameMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Seq             uint64     `json:"seq"`
	Stride          int        `json:"stride"`
	FloatCount      int        `json:"float_count"`
	IndexCount      int        `json:"index_count"`
	Cursor          [3]float32 `json:"cursor"`
	Color           [3]float32 `json:"color"`
	Grid            GridParams `json:"grid"`
	Stats           Stats      `json:"stats"`
}

// EncodeGeometry packs little-endian float32 vertices followed by uint32
// indices.
func EncodeGeometry(vertices []float32, indices []uint32) []byte {
	var buf bytes.Buffer
	buf.Grow(4 * (len(vertices) + len(indices)))
	w := binio.NewWriter(&buf)
	for _, v := range vertices {
		w.F32(v)
	}
	for _, i := range indices {
		w.U32(i)
	}
	return buf.Bytes()
}

// DecodeGeometry splits a payload using the counts of its FRAME header.
func DecodeGeometry(h FrameMsg, b []byte) ([]float32, []uint32, error) {
	if h.FloatCount < 0 || h.IndexCount < 0 || len(b) != 4*(h.FloatCount+h.IndexCount) {
		return nil, nil, fmt.Errorf("%w: %d bytes for %d floats and %d indices", ErrGeometry, len(b), h.FloatCount, h.IndexCount)
	}
	r := binio.NewReader(b)
	vertices := make([]float32, h.FloatCount)
	for i := range vertices {
		vertices[i] = r.F32()
	}
	indices := make([]uint32, h.IndexCount)
	for i := range indices {
		indices[i] = r.U32()
	}
	return vertices, indices, r.Err()
}
