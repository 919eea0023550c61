package fileid

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDocID(t *testing.T) {
	id1 := DocID("report.pdf")
	id2 := DocID("report.pdf")
	if id1 != id2 {
		t.Errorf("same name should give same ID: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, prefix) {
		t.Errorf("ID should have prefix %q: got %q", prefix, id1)
	}
	if DocID("report.pdf") == DocID("other.pdf") {
		t.Error("different names should give different IDs")
	}
}

func TestDocID_usesBaseName(t *testing.T) {
	if DocID("/tmp/a/report.pdf") != DocID("/home/u/report.pdf") {
		t.Error("same base name in different directories should match")
	}
	if DocID("./report.pdf") != DocID("report.pdf") {
		t.Error("relative prefix should be ignored")
	}
}

func TestChunkID(t *testing.T) {
	doc := DocID("a.pdf")
	id := ChunkID(doc, 3)
	if id != doc+"#0003" {
		t.Errorf("got %q", id)
	}
	if ChunkID(doc, 1) == ChunkID(doc, 2) {
		t.Error("ordinals must give distinct IDs")
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	h, n, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("size: got %d", n)
	}
	if h != HashBytes([]byte("hello")) {
		t.Errorf("hash mismatch: %s", h)
	}
	if _, _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
