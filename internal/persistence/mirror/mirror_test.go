package mirror

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBucket_PutFileSignsPathStyleRequest(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody string
		gotHash string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method=%s", r.Method)
		}
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	b, err := NewBucket(BucketConfig{Endpoint: srv.URL, Bucket: "scenes", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("NewBucket: %v", err)
	}
	b.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "scene.vld")
	if err := os.WriteFile(local, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := b.PutFile(context.Background(), "/saves/my scene.vld", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if gotPath != "/scenes/saves/my%20scene.vld" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotBody != "hello" {
		t.Fatalf("body=%q", gotBody)
	}
	// sha256("hello")
	if gotHash != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("payload hash=%q", gotHash)
	}
	wantPrefix := "AWS4-HMAC-SHA256 Credential=AK/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="
	if !strings.HasPrefix(gotAuth, wantPrefix) || len(gotAuth) != len(wantPrefix)+64 {
		t.Fatalf("auth=%q", gotAuth)
	}
}

func TestBucket_PutFileReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	b, err := NewBucket(BucketConfig{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("NewBucket: %v", err)
	}
	local := filepath.Join(t.TempDir(), "x")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err = b.PutFile(context.Background(), "x", local)
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("err=%v", err)
	}
}

func TestNewBucket_RequiresFields(t *testing.T) {
	if _, err := NewBucket(BucketConfig{Endpoint: "example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected error without credentials")
	}
	b, err := NewBucket(BucketConfig{Endpoint: "example.com", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("NewBucket: %v", err)
	}
	if b.endpoint != "https://example.com" || b.region != "auto" {
		t.Fatalf("endpoint=%q region=%q", b.endpoint, b.region)
	}
}

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"/":            "",
		`a\b.vld`:      "a/b.vld",
		"/a//b/../c":   "a/c",
		"../../x.bin":  "x.bin",
		" saves/a.vld": "saves/a.vld",
	}
	for in, want := range cases {
		if got := cleanKey(in); got != want {
			t.Fatalf("cleanKey(%q)=%q want %q", in, got, want)
		}
	}
}

type fakePutter struct {
	mu    sync.Mutex
	fails int
	keys  []string
	calls int
}

func (f *fakePutter) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("transient")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestUploader_RetriesAndPrefixesKeys(t *testing.T) {
	root := t.TempDir()
	local := filepath.Join(root, "saves", "scene.vld")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := &fakePutter{fails: 2}
	u := NewUploader(p, Options{Root: root, Prefix: "/desk-1/", Workers: 1, Backoff: time.Millisecond})
	u.Enqueue(local)
	u.Close()

	st := u.Stats()
	if st.Uploaded != 1 || st.Failed != 0 || p.calls != 3 {
		t.Fatalf("stats=%+v calls=%d", st, p.calls)
	}
	if len(p.keys) != 1 || p.keys[0] != "desk-1/saves/scene.vld" {
		t.Fatalf("keys=%v", p.keys)
	}
}

func TestUploader_GivesUpAndSkipsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "a.bin")
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := &fakePutter{fails: 10}
	u := NewUploader(p, Options{Root: root, Workers: 1, Attempts: 2, Backoff: time.Millisecond})
	u.Enqueue(inside)
	u.Enqueue(filepath.Join(t.TempDir(), "b.bin"))
	u.Close()

	st := u.Stats()
	if st.Failed != 2 || st.Uploaded != 0 || p.calls != 2 {
		t.Fatalf("stats=%+v calls=%d", st, p.calls)
	}
	// Enqueue after Close is ignored.
	u.Enqueue(inside)
	if u.Stats().Enqueued != 2 {
		t.Fatalf("enqueued=%d", u.Stats().Enqueued)
	}
}

func TestUploader_NilIsNoop(t *testing.T) {
	var u *Uploader
	u.Enqueue("x")
	u.Close()
	if u.Stats() != (Stats{}) {
		t.Fatalf("nil stats=%+v", u.Stats())
	}
}
