package vox

import (
	"strconv"
	"strings"

	"voxelander/internal/binio"
)

// Dict is a node or frame attribute dictionary. Lookups never fail; missing or
// unparsable values fall back to the supplied default.
type Dict map[string]string

func (d Dict) String(key, def string) string {
	if v, ok := d[key]; ok {
		return v
	}
	return def
}

// Ints parses n whitespace separated integers from key.
func (d Dict) Ints(key string, n int) ([]int, bool) {
	v, ok := d[key]
	if !ok {
		return nil, false
	}
	fields := strings.Fields(v)
	if len(fields) < n {
		return nil, false
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		x, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, false
		}
		out[i] = x
	}
	return out, true
}

// Translation reads the "_t" attribute, or zero.
func (d Dict) Translation() [3]int {
	v, ok := d.Ints("_t", 3)
	if !ok {
		return [3]int{}
	}
	return [3]int{v[0], v[1], v[2]}
}

type TransformNode struct {
	ID         uint32
	Attrs      Dict
	ChildID    uint32
	ReservedID uint32
	LayerID    uint32
	Frames     []Dict

	// Translation comes from the first frame.
	Translation [3]int
}

type GroupNode struct {
	ID       uint32
	Attrs    Dict
	Children []uint32
}

type ShapeModel struct {
	ModelID uint32
	Attrs   Dict
}

type ShapeNode struct {
	ID     uint32
	Attrs  Dict
	Models []ShapeModel
}

type SceneGraph struct {
	Transforms map[uint32]*TransformNode
	Groups     map[uint32]*GroupNode
	Shapes     map[uint32]*ShapeNode

	// TransformOrder lists transform ids in the order they first appeared.
	TransformOrder []uint32
}

func NewSceneGraph() *SceneGraph {
	return &SceneGraph{
		Transforms: map[uint32]*TransformNode{},
		Groups:     map[uint32]*GroupNode{},
		Shapes:     map[uint32]*ShapeNode{},
	}
}

func (g *SceneGraph) addTransform(n *TransformNode) {
	if _, ok := g.Transforms[n.ID]; !ok {
		g.TransformOrder = append(g.TransformOrder, n.ID)
	}
	g.Transforms[n.ID] = n
}

// AddTransform, AddGroup and AddShape build graphs by hand.
func (g *SceneGraph) AddTransform(n *TransformNode) { g.addTransform(n) }
func (g *SceneGraph) AddGroup(n *GroupNode)         { g.Groups[n.ID] = n }
func (g *SceneGraph) AddShape(n *ShapeNode)         { g.Shapes[n.ID] = n }

func readDict(r *binio.Reader) Dict {
	n := r.U32()
	d := Dict{}
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		k := r.String()
		v := r.String()
		if r.Err() == nil {
			d[k] = v
		}
	}
	return d
}

func readTransform(r *binio.Reader) *TransformNode {
	n := &TransformNode{ID: r.U32()}
	n.Attrs = readDict(r)
	n.ChildID = r.U32()
	n.ReservedID = r.U32()
	n.LayerID = r.U32()
	frames := r.U32()
	for i := uint32(0); i < frames && r.Err() == nil; i++ {
		n.Frames = append(n.Frames, readDict(r))
	}
	if len(n.Frames) > 0 {
		n.Translation = n.Frames[0].Translation()
	}
	return n
}

func readGroup(r *binio.Reader) *GroupNode {
	n := &GroupNode{ID: r.U32()}
	n.Attrs = readDict(r)
	count := r.U32()
	for i := uint32(0); i < count && r.Err() == nil; i++ {
		n.Children = append(n.Children, r.U32())
	}
	return n
}

func readShape(r *binio.Reader) *ShapeNode {
	n := &ShapeNode{ID: r.U32()}
	n.Attrs = readDict(r)
	count := r.U32()
	for i := uint32(0); i < count && r.Err() == nil; i++ {
		m := ShapeModel{ModelID: r.U32()}
		m.Attrs = readDict(r)
		n.Models = append(n.Models, m)
	}
	return n
}

// Instance places one model at an integer translation.
type Instance struct {
	ModelID     int
	Translation [3]int
}

func identityInstances(models []Model) []Instance {
	out := make([]Instance, 0, len(models))
	for i := range models {
		out = append(out, Instance{ModelID: i})
	}
	return out
}

// ResolveInstances flattens the scene graph. Roots are transforms that no
// other transform names as its child, walked in file order. Every shape emits
// its models at most once; transform and group cycles are cut. A missing or
// disconnected graph yields one instance per model at the origin.
func ResolveInstances(g *SceneGraph, models []Model) []Instance {
	if g == nil {
		return identityInstances(models)
	}
	child := make(map[uint32]struct{}, len(g.Transforms))
	for _, t := range g.Transforms {
		child[t.ChildID] = struct{}{}
	}

	w := &walker{
		g:      g,
		shapes: map[uint32]struct{}{},
		path:   map[uint32]struct{}{},
	}
	for _, id := range g.TransformOrder {
		if _, isChild := child[id]; isChild {
			continue
		}
		w.visit(id, [3]int{})
	}
	if len(w.out) == 0 {
		return identityInstances(models)
	}
	return w.out
}

type walker struct {
	g      *SceneGraph
	out    []Instance
	shapes map[uint32]struct{}
	path   map[uint32]struct{}
}

func (w *walker) visit(id uint32, offset [3]int) {
	if _, cyc := w.path[id]; cyc {
		return
	}
	if t, ok := w.g.Transforms[id]; ok {
		w.path[id] = struct{}{}
		next := [3]int{
			offset[0] + t.Translation[0],
			offset[1] + t.Translation[1],
			offset[2] + t.Translation[2],
		}
		w.visit(t.ChildID, next)
		delete(w.path, id)
		return
	}
	if grp, ok := w.g.Groups[id]; ok {
		w.path[id] = struct{}{}
		for _, c := range grp.Children {
			w.visit(c, offset)
		}
		delete(w.path, id)
		return
	}
	shp, ok := w.g.Shapes[id]
	if !ok {
		return
	}
	if _, done := w.shapes[id]; done {
		return
	}
	w.shapes[id] = struct{}{}
	for _, m := range shp.Models {
		w.out = append(w.out, Instance{ModelID: int(m.ModelID), Translation: offset})
	}
}
