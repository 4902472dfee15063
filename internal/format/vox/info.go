package vox

type ModelInfo struct {
	Size   [3]int
	Voxels int
}

// Info summarizes a file without importing it.
type Info struct {
	Version       uint32
	Models        []ModelInfo
	Instances     int
	Voxels        int
	CustomPalette bool
	SceneGraph    bool
	Transforms    int
	Groups        int
	Shapes        int
}

func Inspect(path string) (Info, error) {
	sc, err := ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	return Describe(sc), nil
}

func Describe(sc *Scene) Info {
	info := Info{
		Version:       sc.Version,
		Instances:     len(sc.Instances()),
		CustomPalette: len(sc.Palette) > 0,
		SceneGraph:    sc.HasSceneGraph(),
	}
	for _, m := range sc.Models {
		info.Models = append(info.Models, ModelInfo{Size: m.Size, Voxels: len(m.Voxels)})
		info.Voxels += len(m.Voxels)
	}
	if g := sc.Graph; g != nil {
		info.Transforms = len(g.Transforms)
		info.Groups = len(g.Groups)
		info.Shapes = len(g.Shapes)
	}
	return info
}
