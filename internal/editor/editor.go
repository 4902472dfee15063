// Package editor is the editor context: it owns the voxel store, grid,
// cursor and color selection, turns key events into edits, and records
// every edit in the journal and index.
package editor

import (
	"io"
	"log"

	"github.com/go-gl/mathgl/mgl32"

	"voxelander/internal/config"
	"voxelander/internal/cursor"
	"voxelander/internal/grid"
	"voxelander/internal/persistence/indexdb"
	"voxelander/internal/persistence/journal"
	"voxelander/internal/previewproto"
	"voxelander/internal/transport/preview"
	"voxelander/internal/voxel"
)

// Palette is the color selection cycled with C.
var Palette = []mgl32.Vec3{
	{1.0, 0.0, 0.0},
	{0.0, 1.0, 0.0},
	{0.0, 0.0, 1.0},
	{1.0, 1.0, 0.0},
	{1.0, 1.0, 1.0},
	{1.0, 0.5, 0.0},
	{0.4, 0.2, 0.1},
	{0.1, 0.1, 0.1},
	{1.0, 0.4, 0.7},
	{0.6, 0.0, 0.6},
	{0.5, 0.8, 1.0},
	{0.5, 1.0, 0.5},
}

// Publisher receives view updates. *preview.Server implements it.
type Publisher interface {
	Publish(u preview.Update) uint64
}

// Mirror receives files to copy off the machine. *mirror.Uploader
// implements it.
type Mirror interface {
	Enqueue(localPath string)
}

type Options struct {
	Config  config.Config
	Session string
	Logger  *log.Logger

	// Journal, Index, Preview and Mirror are optional.
	Journal *journal.Journal
	Index   *indexdb.SQLiteIndex
	Preview Publisher
	Mirror  Mirror

	// OnWorldSize is told about world size changes.
	OnWorldSize func(world int)
}

type Editor struct {
	cfg     config.Config
	session string
	log     *log.Logger

	store  *voxel.Store
	grid   *grid.Grid
	cursor *cursor.Cursor
	color  int

	journal *journal.Journal
	index   *indexdb.SQLiteIndex
	preview Publisher
	mirror  Mirror

	onWorldSize func(int)

	// viewDirty is set by changes that alter the preview without touching
	// geometry.
	viewDirty bool
	lastDest  mgl32.Vec3
}

func New(opts Options) (*Editor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	g, err := grid.New(opts.Config.Grid.World, opts.Config.Grid.Cell)
	if err != nil {
		return nil, err
	}
	e := &Editor{
		cfg:         opts.Config,
		session:     opts.Session,
		log:         logger,
		store:       voxel.New(log.New(logger.Writer(), "[store] ", logger.Flags())),
		grid:        g,
		cursor:      cursor.New(opts.Config.CursorConfig()),
		journal:     opts.Journal,
		index:       opts.Index,
		preview:     opts.Preview,
		mirror:      opts.Mirror,
		onWorldSize: opts.OnWorldSize,
		viewDirty:   true,
	}
	g.OnCellSize = e.cellSizeChanged
	g.OnWorldSize = e.worldSizeChanged
	e.cursor.SetUnit(float32(g.Cell()))
	e.lastDest = e.cursor.Destination()
	return e, nil
}

func (e *Editor) cellSizeChanged(cell int) {
	e.cursor.SetUnit(float32(cell))
	e.viewDirty = true
}

func (e *Editor) worldSizeChanged(world int) {
	e.viewDirty = true
	if e.onWorldSize != nil {
		e.onWorldSize(world)
	}
}

func (e *Editor) Store() *voxel.Store   { return e.store }
func (e *Editor) Grid() *grid.Grid      { return e.grid }
func (e *Editor) Cursor() *cursor.Cursor { return e.cursor }
func (e *Editor) Session() string       { return e.session }
func (e *Editor) ColorIndex() int       { return e.color }
func (e *Editor) Color() mgl32.Vec3     { return Palette[e.color] }

// NextColor advances the color selection, wrapping around.
func (e *Editor) NextColor() {
	e.color = (e.color + 1) % len(Palette)
	e.viewDirty = true
}

// HandleKey dispatches one key event. Failures are logged; none of them stop
// the editor.
func (e *Editor) HandleKey(k Key, a Action, mods Mod) {
	if d, ok := moveKeys[k]; ok && mods&ModCtrl == 0 {
		switch a {
		case Press:
			e.cursor.Press(d)
		case Release:
			e.cursor.Release(d)
		}
		return
	}

	ctrl := mods&ModCtrl != 0
	switch {
	case k == KeyA && a == Release:
		e.Toggle()
	case k == KeyC && a == Press:
		e.NextColor()
	case k == Key1 && a == Release:
		e.grid.ToggleCentered()
		e.viewDirty = true
	case k == Key2 && a == Release:
		e.grid.CycleWorldSize()
	case k == Key3 && a == Release:
		e.grid.CycleCellSize()
	case k == Key4 && a == Release:
		e.grid.CycleArrowLength()
		e.viewDirty = true
	case k == KeyE && a == Release:
		if _, err := e.Export(); err != nil {
			e.log.Printf("export: %v", err)
		}
	case k == KeyS && a == Press && ctrl:
		if err := e.Save(); err != nil {
			e.log.Printf("save: %v", err)
		}
	case k == KeyO && a == Press && ctrl:
		if err := e.Open(); err != nil {
			e.log.Printf("open: %v", err)
		}
	case k == KeyV && a == Press && ctrl:
		if _, err := e.Import(); err != nil {
			e.log.Printf("import: %v", err)
		}
	}
}

// Frame advances the cursor by dt seconds, rebuilds geometry if the store
// changed and publishes to the preview when anything visible changed. It
// reports whether an update was published.
func (e *Editor) Frame(dt float64) bool {
	e.cursor.Update(dt)
	if d := e.cursor.Destination(); d != e.lastDest {
		e.lastDest = d
		e.viewDirty = true
	}
	rebuilt := e.store.RebuildGeometry()
	if !rebuilt && !e.viewDirty {
		return false
	}
	e.viewDirty = false
	if e.preview == nil {
		return false
	}
	e.preview.Publish(e.update())
	return true
}

func (e *Editor) gridParams() previewproto.GridParams {
	lo, hi := e.grid.Bounds()
	return previewproto.GridParams{
		World:       e.grid.World(),
		Cell:        e.grid.Cell(),
		Centered:    e.grid.Centered(),
		ArrowLength: e.grid.ArrowLength(),
		Bounds:      [2]int{lo, hi},
	}
}

func (e *Editor) update() preview.Update {
	return preview.Update{
		Session: e.session,
		Grid:    e.gridParams(),
		Cursor:  e.cursor.Target(),
		Color:   e.Color(),
		Palette: Palette,
		Batches: e.store.Len(),
		Cells:   e.store.Cells(),
		Digest:  e.store.Digest(),
		Mesh:    e.store.Geometry(),
	}
}

// Status is a point-in-time summary of the editor.
type Status struct {
	Session  string
	Batches  int
	Slots    int
	Cells    int
	World    int
	Cell     int
	Centered bool
	Target   mgl32.Vec3
	Moving   bool
	Color    int
	Digest   string
}

func (e *Editor) Status() Status {
	return Status{
		Session:  e.session,
		Batches:  e.store.Len(),
		Slots:    e.store.Slots(),
		Cells:    e.store.Cells(),
		World:    e.grid.World(),
		Cell:     e.grid.Cell(),
		Centered: e.grid.Centered(),
		Target:   e.cursor.Target(),
		Moving:   e.cursor.IsMoving(),
		Color:    e.color,
		Digest:   e.store.Digest(),
	}
}
