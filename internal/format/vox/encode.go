package vox

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"

	"voxelander/internal/binio"
)

// Encode writes sc as a well-formed file. Models are written as SIZE/XYZI
// pairs, then the palette when present, then the scene graph with transforms
// in their original order and groups and shapes by id.
func Encode(sc *Scene) []byte {
	var body bytes.Buffer
	for _, m := range sc.Models {
		writeChunk(&body, TagSize, func(w *binio.Writer) {
			w.U32(uint32(m.Size[0]))
			w.U32(uint32(m.Size[1]))
			w.U32(uint32(m.Size[2]))
		})
		writeChunk(&body, TagXYZI, func(w *binio.Writer) {
			w.U32(uint32(len(m.Voxels)))
			for _, v := range m.Voxels {
				w.U8(v.X)
				w.U8(v.Y)
				w.U8(v.Z)
				w.U8(v.ColorIndex)
			}
		})
	}
	if len(sc.Palette) > 0 {
		writeChunk(&body, TagRGBA, func(w *binio.Writer) {
			for i := 0; i < paletteSize; i++ {
				var c [4]float32
				if i < len(sc.Palette) {
					c = sc.Palette[i]
				}
				for _, ch := range c {
					w.U8(uint8(math.Round(float64(ch) * 255)))
				}
			}
		})
	}
	if g := sc.Graph; g != nil {
		for _, id := range g.TransformOrder {
			t := g.Transforms[id]
			writeChunk(&body, TagTransform, func(w *binio.Writer) {
				w.U32(t.ID)
				writeDict(w, t.Attrs)
				w.U32(t.ChildID)
				w.U32(t.ReservedID)
				w.U32(t.LayerID)
				frames := t.Frames
				if len(frames) == 0 && t.Translation != ([3]int{}) {
					frames = []Dict{{"_t": fmt.Sprintf("%d %d %d", t.Translation[0], t.Translation[1], t.Translation[2])}}
				}
				w.U32(uint32(len(frames)))
				for _, f := range frames {
					writeDict(w, f)
				}
			})
		}
		for _, id := range sortedKeys(g.Groups) {
			n := g.Groups[id]
			writeChunk(&body, TagGroup, func(w *binio.Writer) {
				w.U32(n.ID)
				writeDict(w, n.Attrs)
				w.U32(uint32(len(n.Children)))
				for _, c := range n.Children {
					w.U32(c)
				}
			})
		}
		for _, id := range sortedKeys(g.Shapes) {
			n := g.Shapes[id]
			writeChunk(&body, TagShape, func(w *binio.Writer) {
				w.U32(n.ID)
				writeDict(w, n.Attrs)
				w.U32(uint32(len(n.Models)))
				for _, m := range n.Models {
					w.U32(m.ModelID)
					writeDict(w, m.Attrs)
				}
			})
		}
	}

	var out bytes.Buffer
	w := binio.NewWriter(&out)
	w.Bytes([]byte(Magic))
	version := sc.Version
	if version == 0 {
		version = DefaultVersion
	}
	w.U32(version)
	w.Bytes([]byte(TagMain))
	w.U32(0)
	w.U32(uint32(body.Len()))
	w.Bytes(body.Bytes())
	return out.Bytes()
}

// WriteFile encodes sc to path.
func WriteFile(path string, sc *Scene) error {
	return os.WriteFile(path, Encode(sc), 0o644)
}

func writeChunk(dst *bytes.Buffer, tag string, content func(w *binio.Writer)) {
	var c bytes.Buffer
	content(binio.NewWriter(&c))
	w := binio.NewWriter(dst)
	w.Bytes([]byte(tag))
	w.U32(uint32(c.Len()))
	w.U32(0)
	w.Bytes(c.Bytes())
}

func writeDict(w *binio.Writer, d Dict) {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.U32(uint32(len(keys)))
	for _, k := range keys {
		w.String(k)
		w.String(d[k])
	}
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
