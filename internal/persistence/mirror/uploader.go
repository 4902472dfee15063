package mirror

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Putter stores one local file under an object key. *Bucket implements it.
type Putter interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Enqueued      uint64
	Dropped       uint64
	Uploaded      uint64
	Failed        uint64
}

type Options struct {
	// Root is the directory object keys are taken relative to.
	Root   string
	Prefix string

	Workers  int
	Queue    int
	Attempts int
	Backoff  time.Duration
	Logger   *log.Logger
}

// Uploader copies files to a Putter from a bounded queue. Enqueue never
// blocks; a full queue drops the file and counts it.
type Uploader struct {
	put    Putter
	root   string
	prefix string
	log    *log.Logger

	attempts int
	backoff  time.Duration

	jobs   chan string
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
}

func NewUploader(p Putter, opts Options) *Uploader {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	root := opts.Root
	if root == "" {
		root = "."
	}
	u := &Uploader{
		put:      p,
		root:     root,
		prefix:   strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/"),
		log:      opts.Logger,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		jobs:     make(chan string, opts.Queue),
	}
	for i := 0; i < opts.Workers; i++ {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			for local := range u.jobs {
				u.upload(local)
			}
		}()
	}
	return u
}

// Enqueue schedules localPath for upload. A nil Uploader does nothing.
func (u *Uploader) Enqueue(localPath string) {
	if u == nil || u.closed.Load() {
		return
	}
	u.enqueued.Add(1)
	select {
	case u.jobs <- localPath:
	default:
		n := u.dropped.Add(1)
		u.printf("mirror drop %s: queue full (dropped=%d)", localPath, n)
	}
}

// Close waits for queued uploads to finish.
func (u *Uploader) Close() {
	if u == nil {
		return
	}
	u.once.Do(func() {
		u.closed.Store(true)
		close(u.jobs)
	})
	u.wg.Wait()
}

func (u *Uploader) Stats() Stats {
	if u == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(u.jobs),
		QueueCapacity: cap(u.jobs),
		Enqueued:      u.enqueued.Load(),
		Dropped:       u.dropped.Load(),
		Uploaded:      u.uploaded.Load(),
		Failed:        u.failed.Load(),
	}
}

// Key returns the object key for localPath.
func (u *Uploader) Key(localPath string) (string, error) {
	absRoot, err := filepath.Abs(u.root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("mirror: %s is outside %s", abs, absRoot)
	}
	if u.prefix != "" {
		rel = path.Join(u.prefix, rel)
	}
	return rel, nil
}

func (u *Uploader) upload(localPath string) {
	key, err := u.Key(localPath)
	if err != nil {
		u.failed.Add(1)
		u.printf("mirror skip %s: %v", localPath, err)
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = u.put.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			u.uploaded.Add(1)
			u.printf("mirror uploaded %s", key)
			return
		}
		if attempt >= u.attempts {
			break
		}
		time.Sleep(time.Duration(attempt*attempt) * u.backoff)
	}
	u.failed.Add(1)
	u.printf("mirror upload %s failed: %v", key, err)
}

func (u *Uploader) printf(format string, args ...any) {
	if u.log != nil {
		u.log.Printf(format, args...)
	}
}
