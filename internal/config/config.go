// Package config loads the editor configuration from YAML.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelander/internal/cursor"
	"voxelander/internal/format/packed"
	"voxelander/internal/format/vox"
	"voxelander/internal/grid"
)

//go:embed schema.json
var schemaJSON string

type Config struct {
	Paths   Paths   `yaml:"paths"`
	Log     Log     `yaml:"log"`
	Grid    Grid    `yaml:"grid"`
	Cursor  Cursor  `yaml:"cursor"`
	Import  Import  `yaml:"import"`
	Export  Export  `yaml:"export"`
	Preview Preview `yaml:"preview"`
	Backup  Backup  `yaml:"backup"`
	Mirror  Mirror  `yaml:"mirror"`
}

// Paths are resolved against Root when relative. An empty JournalDir or
// IndexDB disables that store.
type Paths struct {
	Root       string `yaml:"root"`
	Scene      string `yaml:"scene"`
	Import     string `yaml:"import"`
	Export     string `yaml:"export"`
	JournalDir string `yaml:"journal_dir"`
	IndexDB    string `yaml:"index_db"`
}

// Log configures the rotating log file. An empty File logs to stdout.
type Log struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type Grid struct {
	World int `yaml:"world"`
	Cell  int `yaml:"cell"`
}

type Cursor struct {
	Speed        float64 `yaml:"speed"`
	InitialDelay float64 `yaml:"initial_delay"`
	RepeatDelay  float64 `yaml:"repeat_delay"`
}

type Import struct {
	VoxelSize  int  `yaml:"voxel_size"`
	Center     bool `yaml:"center"`
	RegionSize int  `yaml:"region_size"`
}

type Export struct {
	GridSize   int     `yaml:"grid_size"`
	Scale      int     `yaml:"scale"`
	RedLevel   float64 `yaml:"red_level"`
	GreenLevel float64 `yaml:"green_level"`
	BlueLevel  float64 `yaml:"blue_level"`
	Brightness int     `yaml:"brightness"`
	InvertY    bool    `yaml:"invert_y"`
}

// Preview configures the mesh preview websocket. An empty Addr disables it.
type Preview struct {
	Addr        string `yaml:"addr"`
	AllowRemote bool   `yaml:"allow_remote"`
}

// Backup configures the copies taken of the scene file before each save.
// An empty Dir disables backups; Keep <= 0 keeps every backup.
type Backup struct {
	Dir  string `yaml:"dir"`
	Keep int    `yaml:"keep"`
}

// Mirror configures uploads of saved files to an S3-compatible bucket. An
// empty Endpoint disables it. Credentials come from the environment.
type Mirror struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Workers  int    `yaml:"workers"`
}

func Defaults() Config {
	return Config{
		Paths: Paths{
			Scene:      "scene.vld",
			Import:     "scene.vox",
			Export:     "object_0.bin",
			JournalDir: "data/journal",
			IndexDB:    "data/index.sqlite",
		},
		Log:    Log{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
		Grid:   Grid{World: 16, Cell: 1},
		Cursor: Cursor{Speed: 10, InitialDelay: 0.5, RepeatDelay: 0.25},
		Import: Import{VoxelSize: 1, Center: true, RegionSize: 256},
		Export: Export{
			GridSize:   256,
			Scale:      1,
			RedLevel:   0.9,
			GreenLevel: 1.0,
			BlueLevel:  1.5,
			InvertY:    true,
		},
		Backup: Backup{Dir: "data/backups", Keep: 5},
		Mirror: Mirror{Workers: 2},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Defaults()
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Defaults(), err
	}
	cfg, err := Parse(b)
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults, then normalizes and
// validates the result.
func Parse(b []byte) (Config, error) {
	cfg := Defaults()
	if err := checkSchema(b); err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("editor.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// checkSchema validates the raw document so unknown keys are reported
// before defaults hide them.
func checkSchema(b []byte) error {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round trip through JSON so the validator sees JSON types.
	jb, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var v any
	if err := json.Unmarshal(jb, &v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return s.Validate(v)
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	p := &c.Paths
	p.Root = strings.TrimSpace(p.Root)
	for _, s := range []*string{&p.Scene, &p.Import, &p.Export, &p.JournalDir, &p.IndexDB, &c.Backup.Dir} {
		*s = strings.TrimSpace(*s)
		if *s != "" && p.Root != "" && !filepath.IsAbs(*s) {
			*s = filepath.Join(p.Root, *s)
		}
	}
	c.Log.File = strings.TrimSpace(c.Log.File)
	c.Preview.Addr = strings.TrimSpace(c.Preview.Addr)
	c.Mirror.Endpoint = strings.TrimSpace(c.Mirror.Endpoint)
	c.Mirror.Bucket = strings.TrimSpace(c.Mirror.Bucket)
	if c.Import.VoxelSize < 1 {
		c.Import.VoxelSize = 1
	}
	if c.Export.Scale < 1 {
		c.Export.Scale = 1
	}
}

func (c Config) Validate() error {
	if _, err := grid.New(c.Grid.World, c.Grid.Cell); err != nil {
		return err
	}
	if err := c.PackedConfig().Validate(); err != nil {
		return err
	}
	if c.Paths.Scene == "" || c.Paths.Import == "" || c.Paths.Export == "" {
		return fmt.Errorf("config: scene, import and export paths are required")
	}
	if c.Mirror.Endpoint != "" && c.Mirror.Bucket == "" {
		return fmt.Errorf("config: mirror bucket is required when an endpoint is set")
	}
	if c.Cursor.Speed <= 0 {
		return fmt.Errorf("config: cursor speed must be positive")
	}
	return nil
}

func (c Config) PackedConfig() packed.Config {
	return packed.Config{
		GridSize:   c.Export.GridSize,
		Scale:      c.Export.Scale,
		RedLevel:   c.Export.RedLevel,
		GreenLevel: c.Export.GreenLevel,
		BlueLevel:  c.Export.BlueLevel,
		Brightness: c.Export.Brightness,
		InvertY:    c.Export.InvertY,
	}
}

func (c Config) CursorConfig() cursor.Config {
	return cursor.Config{
		Speed:        c.Cursor.Speed,
		InitialDelay: c.Cursor.InitialDelay,
		RepeatDelay:  c.Cursor.RepeatDelay,
	}
}

func (c Config) ImportOptions() vox.ImportOptions {
	return vox.ImportOptions{
		VoxelSize:  c.Import.VoxelSize,
		Center:     c.Import.Center,
		RegionSize: c.Import.RegionSize,
	}
}
