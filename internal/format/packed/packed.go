// Package packed exports the volume as a flat list of 6-byte points:
//
//	color  uint16  r | g<<5 | b<<11 (5-6-5)
//	x,y,z  int8
//	flag   int8    always 1
//
// Colors are averaged with occupied face neighbors before quantization, and
// points that land on the same coordinate are merged by averaging their
// quantized channels.
package packed

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl32"

	"voxelander/internal/binio"
	"voxelander/internal/voxel"
)

const (
	RecordSize = 6

	maxRed   = 0x1F
	maxGreen = 0x3F
	maxBlue  = 0x1F

	maxGridSize = 256
)

var (
	ErrConfig    = errors.New("packed: invalid config")
	ErrMalformed = errors.New("packed: malformed point data")
)

type Config struct {
	// GridSize is the edge of the exported cube, centered on the origin.
	GridSize int
	// Scale divides coordinates (floor) before range checks. 1 keeps them.
	Scale int

	RedLevel   float64
	GreenLevel float64
	BlueLevel  float64
	Brightness int
	InvertY    bool
}

func DefaultConfig() Config {
	return Config{
		GridSize:   256,
		Scale:      1,
		RedLevel:   0.9,
		GreenLevel: 1.0,
		BlueLevel:  1.5,
	}
}

func (c Config) Validate() error {
	if c.GridSize < 2 || c.GridSize > maxGridSize || c.GridSize%2 != 0 {
		return fmt.Errorf("%w: grid size %d must be even and in [2,%d]", ErrConfig, c.GridSize, maxGridSize)
	}
	if c.Scale < 1 {
		return fmt.Errorf("%w: scale %d < 1", ErrConfig, c.Scale)
	}
	return nil
}

type Point struct {
	R, G, B uint8
	X, Y, Z int8
}

func (p Point) Color() uint16 {
	return uint16(p.R) | uint16(p.G)<<5 | uint16(p.B)<<11
}

// Result is a built point list plus bookkeeping.
type Result struct {
	Points []Point
	// Cells is the number of occupied cells visited.
	Cells int
	// Dropped counts cells outside the grid.
	Dropped int
	// Merged counts cells folded into an earlier point.
	Merged int
}

type accum struct {
	r, g, b int
	n       int
	x, y, z int
}

var neighborOffsets = [6]voxel.Cell{
	{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1},
}

// Collect walks every occupied cell in store order.
func Collect(s *voxel.Store, cfg Config) (Result, error) {
	var res Result
	if err := cfg.Validate(); err != nil {
		return res, err
	}
	half := cfg.GridSize / 2

	index := map[[3]int]int{}
	var acc []accum
	s.EachCell(func(c voxel.Cell, b *voxel.Batch) {
		res.Cells++
		col := smoothed(s, c, b.FaceColor())

		x, y, z := c.X, c.Y, c.Z
		if cfg.InvertY {
			y = -y
		}
		x, y, z = floorDiv(x, cfg.Scale), floorDiv(y, cfg.Scale), floorDiv(z, cfg.Scale)
		if x < -half || x >= half || y < -half || y >= half || z < -half || z >= half {
			res.Dropped++
			return
		}

		r := quantize(col[0], maxRed, cfg.RedLevel, cfg.Brightness)
		g := quantize(col[1], maxGreen, cfg.GreenLevel, cfg.Brightness)
		bl := quantize(col[2], maxBlue, cfg.BlueLevel, cfg.Brightness)

		key := [3]int{x, y, z}
		if i, ok := index[key]; ok {
			a := &acc[i]
			a.r += r
			a.g += g
			a.b += bl
			a.n++
			res.Merged++
			return
		}
		index[key] = len(acc)
		acc = append(acc, accum{r: r, g: g, b: bl, n: 1, x: x, y: y, z: z})
	})

	res.Points = make([]Point, 0, len(acc))
	for _, a := range acc {
		res.Points = append(res.Points, Point{
			R: uint8(a.r / a.n),
			G: uint8(a.g / a.n),
			B: uint8(a.b / a.n),
			X: int8(a.x),
			Y: int8(a.y),
			Z: int8(a.z),
		})
	}
	return res, nil
}

func Build(s *voxel.Store, cfg Config) ([]Point, error) {
	res, err := Collect(s, cfg)
	return res.Points, err
}

// smoothed averages base with the colors of occupied face neighbors.
func smoothed(s *voxel.Store, c voxel.Cell, base mgl32.Vec3) [3]float64 {
	sum := [3]float64{float64(base[0]), float64(base[1]), float64(base[2])}
	n := 1.0
	for _, d := range neighborOffsets {
		nb, ok := s.Owner(c.Add(d))
		if !ok {
			continue
		}
		col := nb.FaceColor()
		sum[0] += float64(col[0])
		sum[1] += float64(col[1])
		sum[2] += float64(col[2])
		n++
	}
	return [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
}

func quantize(c float64, top int, level float64, brightness int) int {
	q := brightness + int(math.Floor(c*float64(top)*level))
	if q < 0 {
		return 0
	}
	if q > top {
		return top
	}
	return q
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func Encode(w io.Writer, points []Point) error {
	bw := binio.NewWriter(w)
	for _, p := range points {
		bw.U16(p.Color())
		bw.I8(p.X)
		bw.I8(p.Y)
		bw.I8(p.Z)
		bw.I8(1)
	}
	return bw.Err()
}

// Export builds and encodes the store. It returns the number of points written.
func Export(w io.Writer, s *voxel.Store, cfg Config) (int, error) {
	res, err := Collect(s, cfg)
	if err != nil {
		return 0, err
	}
	if err := Encode(w, res.Points); err != nil {
		return 0, err
	}
	return len(res.Points), nil
}

// WriteFile exports the store to path.
func WriteFile(path string, s *voxel.Store, cfg Config) (Result, error) {
	res, err := Collect(s, cfg)
	if err != nil {
		return res, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return res, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return res, err
	}
	bw := bufio.NewWriter(f)
	if err := Encode(bw, res.Points); err != nil {
		_ = f.Close()
		return res, fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return res, fmt.Errorf("write %s: %w", path, err)
	}
	return res, f.Close()
}

// Decode parses exported records.
func Decode(b []byte) ([]Point, error) {
	if len(b)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrMalformed, len(b), RecordSize)
	}
	r := binio.NewReader(b)
	out := make([]Point, 0, len(b)/RecordSize)
	for r.Len() > 0 {
		c := r.U16()
		p := Point{
			R: uint8(c & maxRed),
			G: uint8((c >> 5) & maxGreen),
			B: uint8(c >> 11),
			X: int8(r.U8()),
			Y: int8(r.U8()),
			Z: int8(r.U8()),
		}
		if flag := r.U8(); flag != 1 {
			return out, fmt.Errorf("%w: flag %d at record %d", ErrMalformed, flag, len(out))
		}
		out = append(out, p)
	}
	return out, r.Err()
}

// EncodeBytes is Encode into memory.
func EncodeBytes(points []Point) []byte {
	var buf bytes.Buffer
	_ = Encode(&buf, points)
	return buf.Bytes()
}
