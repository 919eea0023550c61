package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/ragcli/internal/models"
)

type testEnv struct {
	t      *testing.T
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`data_dir: %s
ingest:
  chunk_size: 200
  chunk_overlap: 20
  upload_dir: %s
embedding:
  provider: mock
  model: mock
  dimensions: 8
ollama:
  url: http://127.0.0.1:1
`, filepath.Join(dir, "data"), filepath.Join(dir, "uploads"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"k8s.txt":    "Kubernetes schedules pods onto nodes. A deployment keeps replicas running.",
		"recipe.txt": "Banana bread needs ripe bananas, flour, butter and sugar. Bake for an hour.",
	}
	for name, text := range files {
		if err := os.WriteFile(filepath.Join(docs, name), []byte(text), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return &testEnv{t: t, dir: dir, config: path}
}

func (e *testEnv) docs() string { return filepath.Join(e.dir, "docs") }

// run executes ragcli with the test config and the given stdin.
func (e *testEnv) run(stdin string, args ...string) (int, string, string) {
	e.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config", e.config}, args...)
	code := run(context.Background(), full, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_version(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"version"}, strings.NewReader(""), &out, &out)
	if code != 0 || !strings.Contains(out.String(), "ragcli version") {
		t.Errorf("code %d, output %q", code, out.String())
	}
}

func TestRun_uploadAndSearch(t *testing.T) {
	env := newTestEnv(t)

	code, out, errOut := env.run("", "upload", env.docs())
	if code != 0 {
		t.Fatalf("upload exit %d: %s%s", code, out, errOut)
	}
	if !strings.Contains(out, "2 ingested") {
		t.Errorf("upload output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "uploads", "k8s.txt")); err != nil {
		t.Errorf("uploaded copy missing: %v", err)
	}

	code, out, _ = env.run("", "upload", env.docs())
	if code != 0 || !strings.Contains(out, "2 skipped") {
		t.Errorf("re-upload exit %d:\n%s", code, out)
	}

	code, out, errOut = env.run("", "search", "--mode", "keyword", "banana", "bread")
	if code != 0 {
		t.Fatalf("search exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "recipe.txt") || strings.Contains(out, "k8s.txt") {
		t.Errorf("search output:\n%s", out)
	}

	code, out, _ = env.run("", "search", "--mode", "keyword", "--format", "json", "pods")
	if code != 0 {
		t.Fatalf("json search exit %d", code)
	}
	var resp models.SearchResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("search output is not JSON: %v\n%s", err, out)
	}
	if len(resp.Results) == 0 || resp.Results[0].Chunk.Filename != "k8s.txt" {
		t.Errorf("results = %+v", resp.Results)
	}
	if resp.Mode != models.ModeKeyword || resp.Index != "rag_index" {
		t.Errorf("mode %q index %q", resp.Mode, resp.Index)
	}
}

func TestRun_manage(t *testing.T) {
	env := newTestEnv(t)
	if code, out, errOut := env.run("", "upload", "--no-copy", env.docs()); code != 0 {
		t.Fatalf("upload exit %d: %s%s", code, out, errOut)
	}

	code, out, _ := env.run("", "manage", "list-docs")
	if code != 0 || !strings.Contains(out, "k8s.txt") || !strings.Contains(out, "recipe.txt") {
		t.Errorf("list-docs exit %d:\n%s", code, out)
	}

	code, out, _ = env.run("", "manage", "list-indices", "--format", "json")
	if code != 0 || !strings.Contains(out, `"rag_index"`) {
		t.Errorf("list-indices exit %d:\n%s", code, out)
	}

	code, out, _ = env.run("n\n", "manage", "delete-doc", "k8s.txt")
	if code != 0 || !strings.Contains(out, "Cancelled") {
		t.Errorf("declined delete exit %d:\n%s", code, out)
	}

	code, out, _ = env.run("", "manage", "delete-doc", "--yes", "k8s.txt")
	if code != 0 || !strings.Contains(out, "Deleted 'k8s.txt'") {
		t.Errorf("delete-doc exit %d:\n%s", code, out)
	}
	code, out, _ = env.run("", "manage", "delete-doc", "--yes", "k8s.txt")
	if code != 0 || !strings.Contains(out, "is not in index") {
		t.Errorf("second delete-doc exit %d:\n%s", code, out)
	}

	code, out, _ = env.run("", "manage", "list-docs", "--format", "json")
	if code != 0 || strings.Contains(out, "k8s.txt") {
		t.Errorf("deleted document still listed:\n%s", out)
	}

	code, out, _ = env.run("y\n", "manage", "delete-idx")
	if code != 0 || !strings.Contains(out, "Deleted index 'rag_index'") {
		t.Errorf("delete-idx exit %d:\n%s", code, out)
	}

	code, _, errOut := env.run("", "search", "pods")
	if code != 1 || !strings.Contains(errOut, "index not found") || !strings.Contains(errOut, "ragcli upload") {
		t.Errorf("search after delete exit %d:\n%s", code, errOut)
	}
}

func TestRun_status(t *testing.T) {
	env := newTestEnv(t)
	code, out, _ := env.run("", "manage", "status", "--format", "json")
	if code != 0 {
		t.Fatalf("status exit %d", code)
	}
	var report struct {
		Checks []struct {
			Name string `json:"name"`
			OK   bool   `json:"ok"`
		} `json:"checks"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, out)
	}
	got := map[string]bool{}
	for _, c := range report.Checks {
		got[c.Name] = c.OK
	}
	if ok, present := got["Ollama"]; !present || ok {
		t.Errorf("Ollama should be reported unreachable: %v", got)
	}
	if ok := got["Index rag_index"]; ok {
		t.Errorf("index should not exist yet: %v", got)
	}
	if !got["Config"] || !got["Embedding model"] {
		t.Errorf("checks = %v", got)
	}
}

func TestRun_errors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"invalid index name", []string{"--index-name", "bad name", "manage", "list-docs"}, "invalid index name"},
		{"invalid mode", []string{"search", "--mode", "fuzzy", "x"}, "invalid search mode"},
		{"missing file", []string{"upload", filepath.Join(env.dir, "nope.pdf")}, "1 of 1 files failed"},
		{"unknown format", []string{"manage", "list-indices", "--format", "xml"}, "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := env.run("", tt.args...)
			if code != 1 || !strings.Contains(errOut, tt.wantErr) {
				t.Errorf("exit %d, stderr %q", code, errOut)
			}
		})
	}
}
