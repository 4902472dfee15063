// Command editor runs the voxel editor headless. Key events arrive as lines
// on stdin, e.g. "tap a", "press r", "release r", "tap ctrl+s", "wait",
// "status" or "quit"; frames advance on a fixed ticker.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"voxelander/internal/config"
	"voxelander/internal/editor"
	"voxelander/internal/persistence/indexdb"
	"voxelander/internal/persistence/journal"
	"voxelander/internal/persistence/mirror"
	"voxelander/internal/transport/preview"
)

type runOptions struct {
	FPS            int
	DisableDB      bool
	DisableJournal bool
}

func main() {
	var (
		configPath = flag.String("config", "", "path to editor.yaml (defaults when empty)")
		fps        = flag.Int("fps", 60, "frames per second")
		previewAdr = flag.String("preview", "", "override preview listen address")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
		noJournal  = flag.Bool("disable_journal", false, "disable the edit journal")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(2)
	}
	if *previewAdr != "" {
		cfg.Preview.Addr = strings.TrimSpace(*previewAdr)
	}
	os.Exit(run(cfg, runOptions{FPS: *fps, DisableDB: *disableDB, DisableJournal: *noJournal}, os.Stdin))
}

// run owns every resource of one editor session and returns the process
// exit code once they are closed.
func run(cfg config.Config, o runOptions, in io.Reader) int {
	if o.FPS <= 0 {
		o.FPS = 60
	}

	out := logOutput(cfg.Log)
	logger := log.New(out, "[editor] ", log.LstdFlags|log.Lmicroseconds)
	session := uuid.NewString()
	logger.Printf("session %s", session)

	var jr *journal.Journal
	if !o.DisableJournal && cfg.Paths.JournalDir != "" {
		jr = journal.Open(cfg.Paths.JournalDir, session)
		defer func() {
			if err := jr.Close(); err != nil {
				logger.Printf("journal close: %v", err)
			}
		}()
	}

	ctx, cancel := signalContext()
	defer cancel()

	var idx *indexdb.SQLiteIndex
	if !o.DisableDB && cfg.Paths.IndexDB != "" {
		var err error
		idx, err = indexdb.OpenSQLite(cfg.Paths.IndexDB)
		if err != nil {
			logger.Printf("index disabled: %v", err)
			idx = nil
		} else {
			defer idx.Close()
			cfgJSON, _ := json.Marshal(cfg)
			if err := idx.RecordSession(ctx, session, time.Now(), cfgJSON); err != nil {
				logger.Printf("index session: %v", err)
			}
		}
	}

	opts := editor.Options{
		Config:  cfg,
		Session: session,
		Logger:  logger,
		Journal: jr,
		Index:   idx,
		OnWorldSize: func(world int) {
			logger.Printf("world size %d", world)
		},
	}
	if cfg.Mirror.Endpoint != "" {
		up, err := openMirror(cfg, log.New(out, "[mirror] ", log.LstdFlags|log.Lmicroseconds))
		if err != nil {
			fmt.Fprintln(os.Stderr, "mirror:", err)
			return 2
		}
		defer up.Close()
		opts.Mirror = up
	}
	if cfg.Preview.Addr != "" {
		srv := preview.NewServer(log.New(out, "[preview] ", log.LstdFlags|log.Lmicroseconds), cfg.Preview.AllowRemote)
		opts.Preview = srv
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Preview.Addr); err != nil {
				logger.Printf("preview stopped: %v", err)
			}
		}()
	}

	ed, err := editor.New(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "editor:", err)
		return 1
	}

	lines := make(chan string)
	go readLines(in, lines)

	dt := time.Second / time.Duration(o.FPS)
	ticker := time.NewTicker(dt)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Printf("shutting down")
			return 0
		case now := <-ticker.C:
			ed.Frame(now.Sub(last).Seconds())
			last = now
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			if quit := runCommand(ed, line, logger, dt); quit {
				return 0
			}
		}
	}
}

// openMirror reads the bucket credentials from VOXELANDER_MIRROR_ACCESS_KEY_ID
// and VOXELANDER_MIRROR_SECRET_ACCESS_KEY.
func openMirror(cfg config.Config, logger *log.Logger) (*mirror.Uploader, error) {
	b, err := mirror.NewBucket(mirror.BucketConfig{
		Endpoint:        cfg.Mirror.Endpoint,
		Bucket:          cfg.Mirror.Bucket,
		Region:          cfg.Mirror.Region,
		AccessKeyID:     os.Getenv("VOXELANDER_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("VOXELANDER_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, err
	}
	return mirror.NewUploader(b, mirror.Options{
		Root:    cfg.Paths.Root,
		Prefix:  cfg.Mirror.Prefix,
		Workers: cfg.Mirror.Workers,
		Logger:  logger,
	}), nil
}

func runCommand(ed *editor.Editor, line string, logger *log.Logger, dt time.Duration) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch cmd := strings.ToLower(fields[0]); cmd {
	case "quit", "exit":
		return true
	case "status":
		st := ed.Status()
		fmt.Printf("batches=%d slots=%d cells=%d world=%d cell=%d centered=%v target=%v moving=%v color=%d digest=%s\n",
			st.Batches, st.Slots, st.Cells, st.World, st.Cell, st.Centered, st.Target, st.Moving, st.Color, st.Digest)
	case "wait":
		// Run frames until the cursor settles.
		c := ed.Cursor()
		for i := 0; i < 600 && (c.IsMoving() || c.Target() != c.Destination()); i++ {
			ed.Frame(dt.Seconds())
		}
	case "clear":
		ed.Clear()
	case "press", "release", "repeat", "tap":
		if len(fields) != 2 {
			logger.Printf("usage: %s <key>", cmd)
			return false
		}
		k, mods, err := editor.ParseKey(fields[1])
		if err != nil {
			logger.Printf("%v", err)
			return false
		}
		if cmd == "tap" {
			ed.HandleKey(k, editor.Press, mods)
			ed.HandleKey(k, editor.Release, mods)
			return false
		}
		a, err := editor.ParseAction(cmd)
		if err != nil {
			logger.Printf("%v", err)
			return false
		}
		ed.HandleKey(k, a, mods)
	default:
		logger.Printf("unknown command %q", cmd)
	}
	return false
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func logOutput(c config.Log) io.Writer {
	if c.File == "" {
		return os.Stdout
	}
	fmt.Printf("Sending log messages to: %s\n", c.File)
	return &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB, // megabytes
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays, // days
		Compress:   c.Compress,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(ch)
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
