// Command voxtool inspects and converts voxel files outside the editor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"voxelander/internal/config"
	"voxelander/internal/format/packed"
	"voxelander/internal/format/vld"
	"voxelander/internal/format/vox"
	"voxelander/internal/persistence/archive"
	"voxelander/internal/persistence/indexdb"
	"voxelander/internal/scene"
	"voxelander/internal/voxel"
)

const usage = `usage: voxtool <command> [flags]

commands:
  info     describe a chunked .vox file
  import   convert a .vox file into a scene file
  export   write the packed point file for a scene
  mesh     report geometry statistics for a scene
  crop     keep only the batches inside a box
  scene    list the sections of a scene file
  history  query the editor index
  backups  list scene backups, or restore one with -restore`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "info":
		infoCmd(args)
	case "import":
		importCmd(args)
	case "export":
		exportCmd(args)
	case "mesh":
		meshCmd(args)
	case "crop":
		cropCmd(args)
	case "scene":
		sceneCmd(args)
	case "history":
		historyCmd(args)
	case "backups":
		backupsCmd(args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(2)
	}
	return cfg
}

func infoCmd(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	in := fs.String("in", "scene.vox", "input .vox path")
	_ = fs.Parse(args)

	info, err := vox.Inspect(*in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		os.Exit(1)
	}
	fmt.Printf("%s: version=%d models=%d instances=%d voxels=%d custom_palette=%v\n",
		*in, info.Version, len(info.Models), info.Instances, info.Voxels, info.CustomPalette)
	if info.SceneGraph {
		fmt.Printf("scene graph: transforms=%d groups=%d shapes=%d\n", info.Transforms, info.Groups, info.Shapes)
	}
	for i, m := range info.Models {
		fmt.Printf("  model %d: size=%dx%dx%d voxels=%d\n", i, m.Size[0], m.Size[1], m.Size[2], m.Voxels)
	}
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "editor.yaml (defaults when empty)")
	in := fs.String("in", "", "input .vox path (default: paths.import)")
	out := fs.String("out", "", "output scene path (default: paths.scene)")
	voxelSize := fs.Int("voxel_size", 0, "edge length of each imported voxel (default: import.voxel_size)")
	region := fs.Int("region", -1, "clip region edge, 0 disables (default: import.region_size)")
	noCenter := fs.Bool("no_center", false, "do not recenter the model")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	opts := cfg.ImportOptions()
	if *voxelSize > 0 {
		opts.VoxelSize = *voxelSize
	}
	if *region >= 0 {
		opts.RegionSize = *region
	}
	if *noCenter {
		opts.Center = false
	}
	src := firstNonEmpty(*in, cfg.Paths.Import)
	dst := firstNonEmpty(*out, cfg.Paths.Scene)

	store := voxel.New(nil)
	st, err := vox.ImportFile(store, src, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "import:", err)
		os.Exit(1)
	}
	g := scene.GridSize{World: uint32(cfg.Grid.World), Cell: uint32(cfg.Grid.Cell)}
	if err := scene.Save(dst, store, g); err != nil {
		fmt.Fprintln(os.Stderr, "save:", err)
		os.Exit(1)
	}
	fmt.Printf("imported %s -> %s: models=%d instances=%d points=%d placed=%d duplicates=%d clipped=%d\n",
		src, dst, st.Models, st.Instances, st.Points, st.Placed, st.Duplicates, st.Clipped)
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "editor.yaml (defaults when empty)")
	in := fs.String("scene", "", "scene path (default: paths.scene)")
	out := fs.String("out", "", "output path (default: paths.export)")
	scale := fs.Int("scale", 0, "downsampling factor (default: export.scale)")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	pc := cfg.PackedConfig()
	if *scale > 0 {
		pc.Scale = *scale
	}
	store := mustLoadScene(firstNonEmpty(*in, cfg.Paths.Scene))
	dst := firstNonEmpty(*out, cfg.Paths.Export)
	res, err := packed.WriteFile(dst, store, pc)
	if err != nil {
		fmt.Fprintln(os.Stderr, "export:", err)
		os.Exit(1)
	}
	fmt.Printf("exported %d points to %s (%s) cells=%d dropped=%d merged=%d\n",
		len(res.Points), dst, humanize.Bytes(uint64(len(res.Points)*packed.RecordSize)), res.Cells, res.Dropped, res.Merged)
}

func meshCmd(args []string) {
	fs := flag.NewFlagSet("mesh", flag.ExitOnError)
	in := fs.String("scene", "scene.vld", "scene path")
	_ = fs.Parse(args)

	store := mustLoadScene(*in)
	m := store.Geometry()
	fmt.Printf("batches=%d cells=%d vertices=%d faces=%d buffer=%s digest=%s\n",
		store.Len(), store.Cells(), m.VertexCount(), m.FaceCount(),
		humanize.Bytes(uint64(4*(len(m.Vertices)+len(m.Indices)))), store.Digest())
}

func cropCmd(args []string) {
	fs := flag.NewFlagSet("crop", flag.ExitOnError)
	in := fs.String("scene", "scene.vld", "scene path")
	out := fs.String("out", "", "output scene path (required)")
	aabb := fs.String("aabb", "", "box filter: x1,y1,z1:x2,y2,z2 (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(os.Stderr, "missing -out")
		os.Exit(2)
	}
	lo, hi, err := parseAABB(*aabb)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -aabb:", err)
		os.Exit(2)
	}
	sc, err := scene.Load(*in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	kept := cropPlacements(sc.Voxels, lo, hi)
	store := voxel.New(nil)
	store.Restore(kept)
	g := sc.Grid
	if !sc.HasGrid {
		d := config.Defaults()
		g = scene.GridSize{World: uint32(d.Grid.World), Cell: uint32(d.Grid.Cell)}
	}
	if err := scene.Save(*out, store, g); err != nil {
		fmt.Fprintln(os.Stderr, "save:", err)
		os.Exit(1)
	}
	fmt.Printf("kept %d of %d batches -> %s\n", len(kept), len(sc.Voxels), *out)
}

// cropPlacements keeps batches that lie entirely inside the inclusive box.
func cropPlacements(ps []voxel.Placement, lo, hi [3]int) []voxel.Placement {
	var out []voxel.Placement
	for _, p := range ps {
		o := [3]int{p.Origin.X, p.Origin.Y, p.Origin.Z}
		inside := true
		for i := 0; i < 3; i++ {
			if o[i] < lo[i] || o[i]+p.Size-1 > hi[i] {
				inside = false
				break
			}
		}
		if inside {
			out = append(out, p)
		}
	}
	return out
}

func sceneCmd(args []string) {
	fs := flag.NewFlagSet("scene", flag.ExitOnError)
	in := fs.String("scene", "scene.vld", "scene path")
	_ = fs.Parse(args)

	secs, err := vld.Open(*in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	for _, s := range secs {
		fmt.Printf("%-16s %s\n", s.Name, humanize.Bytes(uint64(len(s.Data))))
	}
	sc, err := scene.Load(*in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}
	if sc.HasVoxels {
		fmt.Printf("voxels: %d batches\n", len(sc.Voxels))
	}
	if sc.HasGrid {
		fmt.Printf("grid: world=%d cell=%d\n", sc.Grid.World, sc.Grid.Cell)
	}
}

func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "editor.yaml (defaults when empty)")
	dbPath := fs.String("db", "", "index path (default: paths.index_db)")
	kind := fs.String("kind", "", "file kind filter: save, load, import or export")
	limit := fs.Int("limit", 20, "maximum file rows")
	at := fs.String("at", "", "list edits whose batch origin is x,y,z")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	r, err := indexdb.OpenReader(firstNonEmpty(*dbPath, cfg.Paths.IndexDB))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	defer r.Close()
	ctx := context.Background()

	if strings.TrimSpace(*at) != "" {
		v, err := parseVec3(*at)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -at:", err)
			os.Exit(2)
		}
		edits, err := r.EditsAt(ctx, v[0], v[1], v[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, e := range edits {
			fmt.Printf("%s %s #%d %-6s size=%d batch=%d accepted=%v\n", e.Time, e.Session, e.Seq, e.Op, e.Size, e.BatchID, e.Accepted)
		}
		return
	}

	sessions, err := r.Sessions(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, s := range sessions {
		fmt.Printf("session %s started %s (%s) edits=%d files=%d\n",
			s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), humanize.Time(s.StartedAt), s.Edits, s.Files)
	}
	files, err := r.Files(ctx, indexdb.FileKind(*kind), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Printf("%s %-6s %s items=%d size=%s\n",
			f.Time.Format("2006-01-02 15:04:05"), f.Kind, f.Path, f.Items, humanize.Bytes(uint64(f.Bytes)))
	}
}

func backupsCmd(args []string) {
	fs := flag.NewFlagSet("backups", flag.ExitOnError)
	configPath := fs.String("config", "", "editor.yaml (defaults when empty)")
	dir := fs.String("dir", "", "backup directory (default: backup.dir)")
	restore := fs.String("restore", "", "copy this backup (directory name) over paths.scene")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	root := firstNonEmpty(*dir, cfg.Backup.Dir)
	if root == "" {
		fmt.Fprintln(os.Stderr, "backups are disabled (backup.dir is empty)")
		os.Exit(2)
	}

	if name := strings.TrimSpace(*restore); name != "" {
		src := filepath.Join(root, filepath.Base(name))
		meta, err := archive.ReadMeta(src)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read backup:", err)
			os.Exit(1)
		}
		// The current scene is backed up too, so a restore can be undone.
		if _, _, err := archive.BackupScene(root, cfg.Paths.Scene, "", 0, time.Now()); err != nil {
			fmt.Fprintln(os.Stderr, "backup current scene:", err)
			os.Exit(1)
		}
		b, err := os.ReadFile(filepath.Join(src, meta.File))
		if err != nil {
			fmt.Fprintln(os.Stderr, "read backup:", err)
			os.Exit(1)
		}
		if err := os.WriteFile(cfg.Paths.Scene, b, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "restore:", err)
			os.Exit(1)
		}
		fmt.Printf("restored %s from %s\n", cfg.Paths.Scene, src)
		return
	}

	all, err := archive.List(root)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, d := range all {
		meta, err := archive.ReadMeta(d)
		if err != nil {
			fmt.Printf("%s (no meta: %v)\n", filepath.Base(d), err)
			continue
		}
		created, _ := time.Parse(time.RFC3339Nano, meta.CreatedAt)
		fmt.Printf("%s %s %s session=%s (%s)\n",
			filepath.Base(d), meta.File, humanize.Bytes(uint64(meta.Bytes)), meta.Session, humanize.Time(created))
	}
}

func mustLoadScene(path string) *voxel.Store {
	sc, err := scene.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	store := voxel.New(nil)
	if _, err := sc.Apply(store, nil); err != nil {
		fmt.Fprintln(os.Stderr, "apply:", err)
		os.Exit(1)
	}
	return store
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseAABB(s string) (lo, hi [3]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return lo, hi, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return lo, hi, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return lo, hi, err
	}
	for i := 0; i < 3; i++ {
		lo[i], hi[i] = min(a[i], b[i]), max(a[i], b[i])
	}
	return lo, hi, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
