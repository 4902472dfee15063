// Package vox reads the chunked voxel model format: a magic header followed by
// a MAIN chunk whose children carry models (SIZE/XYZI), a palette (RGBA) and an
// optional transform/group/shape scene graph (nTRN/nGRP/nSHP).
package vox

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"voxelander/internal/binio"
)

const (
	Magic          = "VOX "
	DefaultVersion = 150

	chunkHeaderSize = 12
	paletteSize     = 256
	defaultExtent   = 256
)

// Chunk tags.
const (
	TagMain      = "MAIN"
	TagSize      = "SIZE"
	TagXYZI      = "XYZI"
	TagRGBA      = "RGBA"
	TagTransform = "nTRN"
	TagGroup     = "nGRP"
	TagShape     = "nSHP"
)

var (
	ErrMalformed   = errors.New("vox: malformed file")
	ErrBadMagic    = fmt.Errorf("%w: bad magic", ErrMalformed)
	ErrMissingMain = fmt.Errorf("%w: missing MAIN chunk", ErrMalformed)
	ErrTruncated   = fmt.Errorf("%w: truncated", ErrMalformed)
)

// Voxel is one model-space voxel. ColorIndex 1..255 selects palette entry
// ColorIndex-1.
type Voxel struct {
	X, Y, Z    uint8
	ColorIndex uint8
}

type Model struct {
	Size   [3]int
	Voxels []Voxel
}

// Palette entries are normalized RGBA.
type Palette []mgl32.Vec4

// Color resolves a color index. Index 0 and indices past the palette read as
// white.
func (p Palette) Color(index int) mgl32.Vec3 {
	if index <= 0 || index > len(p) {
		return mgl32.Vec3{1, 1, 1}
	}
	return p[index-1].Vec3()
}

// Scene is everything decoded from one file.
type Scene struct {
	Version uint32
	Models  []Model
	Palette Palette
	Graph   *SceneGraph // nil when the file has no node chunks
}

// Instances resolves the scene graph into placed models.
func (s *Scene) Instances() []Instance {
	return ResolveInstances(s.Graph, s.Models)
}

// ReadFile decodes the file at path. I/O failures are returned as *fs.PathError.
func ReadFile(path string) (*Scene, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

type chunkHeader struct {
	tag      string
	content  uint32
	children uint32
}

func readHeader(r *binio.Reader) (chunkHeader, bool) {
	if r.Len() < chunkHeaderSize {
		return chunkHeader{}, false
	}
	tag := string(r.Next(4))
	content := r.U32()
	children := r.U32()
	return chunkHeader{tag: tag, content: content, children: children}, true
}

type decoder struct {
	scene   *Scene
	current *Model
	graph   *SceneGraph
}

// Decode parses a complete file held in memory.
func Decode(b []byte) (*Scene, error) {
	r := binio.NewReader(b)
	if string(r.Next(4)) != Magic {
		return nil, ErrBadMagic
	}
	version := r.U32()
	if r.Err() != nil {
		return nil, ErrTruncated
	}
	main, ok := readHeader(r)
	if !ok || main.tag != TagMain {
		return nil, ErrMissingMain
	}
	r.Skip(int(main.content))
	if r.Err() != nil {
		return nil, fmt.Errorf("%w: MAIN content", ErrTruncated)
	}

	d := &decoder{scene: &Scene{Version: version}}
	if err := d.parseChunks(r, int64(main.children)); err != nil {
		return nil, err
	}
	d.scene.Graph = d.graph
	return d.scene, nil
}

// parseChunks consumes sibling chunks until the byte budget is spent or the
// input runs out of complete headers.
func (d *decoder) parseChunks(r *binio.Reader, remaining int64) error {
	for remaining > 0 {
		h, ok := readHeader(r)
		if !ok {
			return nil
		}
		content := r.Next(int(h.content))
		if r.Err() != nil {
			return fmt.Errorf("%w: %s content (%d bytes)", ErrTruncated, h.tag, h.content)
		}
		if err := d.parseContent(h.tag, content); err != nil {
			return err
		}
		if h.children > 0 {
			if err := d.parseChunks(r, int64(h.children)); err != nil {
				return err
			}
		}
		remaining -= chunkHeaderSize + int64(h.content) + int64(h.children)
	}
	return nil
}

func (d *decoder) parseContent(tag string, content []byte) error {
	r := binio.NewReader(content)
	switch tag {
	case TagSize:
		x, y, z := r.U32(), r.U32(), r.U32()
		if r.Err() != nil {
			return fmt.Errorf("%w: SIZE", ErrTruncated)
		}
		d.current = &Model{Size: [3]int{int(x), int(y), int(z)}}
	case TagXYZI:
		d.parseXYZI(r)
	case TagRGBA:
		pal := make(Palette, 0, paletteSize)
		for i := 0; i < paletteSize; i++ {
			c := r.Next(4)
			if c == nil {
				return fmt.Errorf("%w: RGBA entry %d", ErrTruncated, i)
			}
			pal = append(pal, mgl32.Vec4{
				float32(c[0]) / 255, float32(c[1]) / 255, float32(c[2]) / 255, float32(c[3]) / 255,
			})
		}
		d.scene.Palette = pal
	case TagTransform:
		n := readTransform(r)
		if r.Err() != nil {
			return fmt.Errorf("%w: nTRN", ErrTruncated)
		}
		d.sceneGraph().addTransform(n)
	case TagGroup:
		n := readGroup(r)
		if r.Err() != nil {
			return fmt.Errorf("%w: nGRP", ErrTruncated)
		}
		d.sceneGraph().Groups[n.ID] = n
	case TagShape:
		n := readShape(r)
		if r.Err() != nil {
			return fmt.Errorf("%w: nSHP", ErrTruncated)
		}
		d.sceneGraph().Shapes[n.ID] = n
	}
	return nil
}

// parseXYZI finalizes the pending model. A voxel list shorter than its count
// is ignored and leaves the pending model open.
func (d *decoder) parseXYZI(r *binio.Reader) {
	if d.current == nil {
		d.current = &Model{Size: [3]int{defaultExtent, defaultExtent, defaultExtent}}
	}
	if r.Len() < 4 {
		return
	}
	n := int64(r.U32())
	if n*4 > int64(r.Len()) {
		return
	}
	data := r.Next(int(n * 4))

	seen := make(map[[3]uint8]struct{}, n)
	voxels := make([]Voxel, 0, n)
	for i := 0; i+3 < len(data); i += 4 {
		pos := [3]uint8{data[i], data[i+1], data[i+2]}
		if _, dup := seen[pos]; dup {
			continue
		}
		seen[pos] = struct{}{}
		voxels = append(voxels, Voxel{X: pos[0], Y: pos[1], Z: pos[2], ColorIndex: data[i+3]})
	}
	d.current.Voxels = voxels
	d.scene.Models = append(d.scene.Models, *d.current)
	d.current = nil
}

func (d *decoder) sceneGraph() *SceneGraph {
	if d.graph == nil {
		d.graph = NewSceneGraph()
	}
	return d.graph
}
