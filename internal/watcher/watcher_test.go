package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/ragcli/internal/models"
)

// fakeIngester records calls. It accepts .txt and .md files.
type fakeIngester struct {
	mu       sync.Mutex
	ingested []string
	deleted  []string
	synced   []string
}

func (f *fakeIngester) IngestFile(_ context.Context, path string) (*models.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, path)
	return &models.IngestResult{Path: path, Chunks: 1}, nil
}

func (f *fakeIngester) IngestDirectory(_ context.Context, dir string) ([]*models.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []*models.IngestResult
	for _, e := range entries {
		if !e.IsDir() && f.Accepts(e.Name()) {
			out = append(out, &models.IngestResult{Path: filepath.Join(dir, e.Name()), Chunks: 1})
		}
	}
	return out, nil
}

func (f *fakeIngester) DeleteDocument(_ context.Context, filename string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, filename)
	return 2, nil
}

func (f *fakeIngester) Accepts(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".txt" || ext == ".md"
}

func (f *fakeIngester) count(suffix string, deleted bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.ingested
	if deleted {
		list = f.deleted
	}
	n := 0
	for _, p := range list {
		if strings.HasSuffix(p, suffix) {
			n++
		}
	}
	return n
}

func startWatcher(t *testing.T, ing Ingester, roots ...string) *Watcher {
	t.Helper()
	w := New(ing, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx, roots...); err != nil {
		cancel()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})
	return w
}

// eventually polls cond for up to three seconds.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	w := startWatcher(t, &fakeIngester{}, a)

	if err := w.AddDirectory(b, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(b, false); err != nil {
		t.Fatal(err)
	}
	if dirs := w.Directories(); len(dirs) != 2 || dirs[1] != filepath.Clean(b) {
		t.Errorf("Directories() = %v", dirs)
	}
	if err := w.RemoveDirectory(a); err != nil {
		t.Fatal(err)
	}
	if dirs := w.Directories(); len(dirs) != 1 || dirs[0] != filepath.Clean(b) {
		t.Errorf("after remove: %v", dirs)
	}
}

func TestWatcher_addedDirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	w := startWatcher(t, ing)
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "later.txt"), []byte("added after start"), 0644); err != nil {
		t.Fatal(err)
	}
	eventually(t, "later.txt ingested", func() bool { return ing.count("later.txt", false) > 0 })

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("after remove"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := ing.count("ignored.txt", false); n != 0 {
		t.Errorf("file in removed directory ingested %d times", n)
	}
}

func TestWatcher_debouncesWrites(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	startWatcher(t, ing, dir)

	path := filepath.Join(dir, "notes.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		fmt.Fprintf(f, "line %d\n", i)
	}
	f.Close()

	eventually(t, "notes.txt ingested", func() bool { return ing.count("notes.txt", false) > 0 })
	time.Sleep(200 * time.Millisecond)
	if n := ing.count("notes.txt", false); n != 1 {
		t.Errorf("notes.txt ingested %d times, want 1", n)
	}
}

func TestWatcher_filtersFiles(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	startWatcher(t, ing, dir)

	for _, name := range []string{"main.go", ".draft.txt", "backup.txt~", "keep.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	eventually(t, "keep.md ingested", func() bool { return ing.count("keep.md", false) == 1 })
	time.Sleep(150 * time.Millisecond)
	ing.mu.Lock()
	defer ing.mu.Unlock()
	if len(ing.ingested) != 1 {
		t.Errorf("ingested %v, want only keep.md", ing.ingested)
	}
}

func TestWatcher_removeDeletesDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.txt")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	ing := &fakeIngester{}
	var mu sync.Mutex
	var events []Event
	w := New(ing, WithDebounce(50*time.Millisecond), WithEventHook(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx, dir); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	eventually(t, "old.txt deleted", func() bool { return ing.count("old.txt", true) == 1 })
	ing.mu.Lock()
	if ing.deleted[0] != "old.txt" {
		t.Errorf("deleted %q, want the bare filename", ing.deleted[0])
	}
	ing.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Op != OpDelete || events[0].Removed != 2 {
		t.Errorf("events = %+v", events)
	}
}

func TestWatcher_newFolderIsWatched(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	startWatcher(t, ing, dir)

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "deep.txt"), []byte("deep"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "skip.xyz"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	eventually(t, "deep.txt ingested", func() bool { return ing.count("deep.txt", false) > 0 })
	if ing.count("skip.xyz", false) != 0 {
		t.Error("skip.xyz should not be ingested")
	}
}

func TestWatcher_Sync(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(a, "a.txt"), []byte("a"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(b, "b.md"), []byte("b"), 0600); err != nil {
		t.Fatal(err)
	}
	ing := &fakeIngester{}
	w := startWatcher(t, ing, a, b)

	results := w.Sync(context.Background())
	if len(results) != 2 {
		t.Fatalf("Sync returned %d results, want 2", len(results))
	}
	if len(ing.synced) != 2 {
		t.Errorf("synced roots = %v", ing.synced)
	}
}

func TestWatcher_startCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	startWatcher(t, &fakeIngester{}, root)
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root should exist after Start: %v", err)
	}
}

func TestWatcher_stopIsIdempotent(t *testing.T) {
	w := New(&fakeIngester{})
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx, t.TempDir()); err != nil {
		t.Fatal(err)
	}
	cancel()
	w.Stop()
	w.Stop()
	if err := w.Start(context.Background()); err == nil {
		t.Error("restarting a stopped watcher should fail")
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
		{"/tmp/a", "/tmp/ab/c.txt", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
