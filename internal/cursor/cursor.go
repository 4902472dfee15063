// Package cursor is the headless edit cursor. It tracks the point the editor
// acts on, moves it one unit at a time while movement keys are held, and
// eases the visible target toward its destination.
package cursor

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"voxelander/internal/voxel"
)

// Dir is a movement key.
type Dir byte

const (
	Back    Dir = 'B'
	Forward Dir = 'F'
	Left    Dir = 'L'
	Right   Dir = 'R'
	Up      Dir = 'U'
	Down    Dir = 'D'
)

// settleEpsilon is how close the target must get before it snaps.
const settleEpsilon = 0.001

type Config struct {
	Speed        float64 // smoothing rate, 1/s
	InitialDelay float64 // seconds before a held key repeats
	RepeatDelay  float64 // seconds between repeats
}

func DefaultConfig() Config {
	return Config{Speed: 2.0, InitialDelay: 0.3, RepeatDelay: 0.1}
}

type Cursor struct {
	cfg Config

	target mgl32.Vec3
	dest   mgl32.Vec3
	unit   float32
	moving bool

	held      map[Dir]struct{}
	sinceMove float64
	repeating bool
}

func New(cfg Config) *Cursor {
	start := mgl32.Vec3{0.5, 0.5, 0.5}
	return &Cursor{
		cfg:    cfg,
		target: start,
		dest:   start,
		unit:   1,
		held:   map[Dir]struct{}{},
	}
}

func (c *Cursor) Target() mgl32.Vec3      { return c.target }
func (c *Cursor) Destination() mgl32.Vec3 { return c.dest }
func (c *Cursor) Unit() float32           { return c.unit }

// IsMoving is true while the target is still easing toward the destination.
func (c *Cursor) IsMoving() bool { return c.moving }

// Cell is the unit-aligned region under the cursor.
func (c *Cursor) Cell() voxel.Cell { return voxel.Align(c.target, c.unit) }

// SetUnit changes the step size and recenters on the first cell of that size.
func (c *Cursor) SetUnit(u float32) {
	if u <= 0 {
		return
	}
	c.unit = u
	half := u * 0.5
	c.target = mgl32.Vec3{half, half, half}
	c.dest = c.target
	c.moving = false
}

func (c *Cursor) SetConfig(cfg Config) { c.cfg = cfg }

// Press starts moving in d. The first step happens immediately.
func (c *Cursor) Press(d Dir) {
	if !validDir(d) {
		return
	}
	if _, ok := c.held[d]; ok {
		return
	}
	c.held[d] = struct{}{}
	c.step()
	c.sinceMove = 0
	c.repeating = false
}

func (c *Cursor) Release(d Dir) {
	if _, ok := c.held[d]; !ok {
		return
	}
	delete(c.held, d)
	if len(c.held) == 0 {
		c.repeating = false
	}
}

// Update advances the cursor by dt seconds.
func (c *Cursor) Update(dt float64) {
	if !c.settled() {
		c.moving = true
		alpha := float32(1 - math.Exp(-c.cfg.Speed*dt))
		c.target = c.target.Mul(1 - alpha).Add(c.dest.Mul(alpha))
	} else if c.moving {
		c.target = c.dest
		c.moving = false
	}

	if len(c.held) == 0 {
		return
	}
	c.sinceMove += dt
	delay := c.cfg.RepeatDelay
	if !c.repeating {
		delay = c.cfg.InitialDelay
	}
	if c.sinceMove >= delay {
		c.step()
		c.repeating = true
		c.sinceMove = 0
	}
}

func (c *Cursor) settled() bool {
	for i := 0; i < 3; i++ {
		if math.Abs(float64(c.target[i]-c.dest[i])) > settleEpsilon {
			return false
		}
	}
	return true
}

func (c *Cursor) step() {
	var m mgl32.Vec3
	for d := range c.held {
		switch d {
		case Back:
			m[2] -= c.unit
		case Forward:
			m[2] += c.unit
		case Left:
			m[0] -= c.unit
		case Right:
			m[0] += c.unit
		case Up:
			m[1] += c.unit
		case Down:
			m[1] -= c.unit
		}
	}
	c.dest = c.dest.Add(m)
}

func validDir(d Dir) bool {
	switch d {
	case Back, Forward, Left, Right, Up, Down:
		return true
	}
	return false
}
