package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
)

type fakeWatcher struct {
	mu     sync.Mutex
	dirs   []string
	synced []string
}

func (f *fakeWatcher) Directories() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dirs...)
}

func (f *fakeWatcher) AddDirectory(root string, syncExisting bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !slices.Contains(f.dirs, root) {
		f.dirs = append(f.dirs, root)
	}
	if syncExisting {
		f.synced = append(f.synced, root)
	}
	return nil
}

func (f *fakeWatcher) RemoveDirectory(root string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = slices.DeleteFunc(f.dirs, func(d string) bool { return d == root })
	return nil
}

func TestWatchDirectories(t *testing.T) {
	fw := &fakeWatcher{}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	h := newTestServer(t, WithWatcher(fw, cfgPath))
	dir := t.TempDir()

	w := do(t, h, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir})
	if w.Code != http.StatusCreated {
		t.Fatalf("add: got %d, body: %s", w.Code, w.Body.String())
	}
	if len(fw.synced) != 1 || fw.synced[0] != dir {
		t.Errorf("existing files should be synced by default: %v", fw.synced)
	}
	saved, err := os.ReadFile(cfgPath)
	if err != nil || !strings.Contains(string(saved), dir) {
		t.Errorf("config not saved with the new directory: %v\n%s", err, saved)
	}

	w = do(t, h, http.MethodGet, "/api/v1/watch/directories", nil)
	var list struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Directories) != 1 || list.Directories[0] != dir {
		t.Errorf("directories = %v", list.Directories)
	}

	w = do(t, h, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil)
	if w.Code != http.StatusOK || len(fw.Directories()) != 0 {
		t.Errorf("remove: got %d, dirs %v", w.Code, fw.Directories())
	}

	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		method string
		body   interface{}
		want   int
	}{
		{"missing path", http.MethodPost, map[string]string{}, http.StatusBadRequest},
		{"missing directory", http.MethodPost, map[string]string{"path": filepath.Join(dir, "nope")}, http.StatusNotFound},
		{"not a directory", http.MethodPost, map[string]string{"path": file}, http.StatusBadRequest},
		{"remove without path", http.MethodDelete, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, tt.method, "/api/v1/watch/directories", tt.body); w.Code != tt.want {
				t.Errorf("got %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestWatchDirectories_notEnabled(t *testing.T) {
	h := newTestServer(t)
	if w := do(t, h, http.MethodGet, "/api/v1/watch/directories", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("got %d, want 501", w.Code)
	}
}
