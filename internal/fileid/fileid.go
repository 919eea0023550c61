// Package fileid derives stable identifiers for documents and chunks.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const prefix = "doc:"

// DocID returns a stable document ID for a filename. A document is identified
// by its base name inside an index, so the same file uploaded from two
// directories maps to the same document.
func DocID(filename string) string {
	name := filepath.Base(filepath.Clean(filename))
	hash := sha256.Sum256([]byte(name))
	return prefix + hex.EncodeToString(hash[:12])
}

// ChunkID returns the ID of the ordinal-th chunk of a document.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s#%04d", docID, ordinal)
}

// HashFile returns the hex sha256 of the file's contents and its size.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes returns the hex sha256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
