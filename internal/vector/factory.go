package vector

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backend names accepted by Open.
const (
	// BackendMemory is brute-force search over vectors held in memory and
	// saved to a single file. Good for small and medium indices.
	BackendMemory = "memory"
	// BackendChromem stores vectors in a chromem-go persistent database.
	BackendChromem = "chromem"
	// BackendSQLiteVec stores vectors in a sqlite-vec vec0 table.
	BackendSQLiteVec = "sqlite-vec"
)

// Backends lists the supported backend names.
func Backends() []string {
	return []string{BackendMemory, BackendChromem, BackendSQLiteVec}
}

// Path returns the file or directory a backend keeps under dir.
func Path(backend, dir string) string {
	switch backend {
	case BackendChromem:
		return filepath.Join(dir, "chromem")
	case BackendSQLiteVec:
		return filepath.Join(dir, "vectors.db")
	}
	return filepath.Join(dir, "vectors.bin")
}

// Destroy removes the files of a closed index opened with Open(backend, _, dir).
func Destroy(backend, dir string) error {
	path := Path(backend, dir)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return nil
}

// Open opens (or creates) a vector index of the given backend whose files
// live under dir. An empty dir gives a non-persistent memory index.
func Open(backend string, dimensions int, dir string) (VectorIndex, error) {
	switch backend {
	case BackendMemory, "":
		var (
			idx *MemoryIndex
			err error
		)
		if dir == "" {
			idx, err = NewMemoryIndex(dimensions)
		} else {
			idx, err = OpenMemoryIndex(dimensions, Path(BackendMemory, dir))
		}
		if err != nil {
			return nil, err
		}
		return idx, nil
	case BackendChromem:
		if dir == "" {
			return nil, fmt.Errorf("chromem backend requires a directory")
		}
		idx, err := OpenChromemIndex(dimensions, Path(backend, dir))
		if err != nil {
			return nil, err
		}
		return idx, nil
	case BackendSQLiteVec:
		if dir == "" {
			return nil, fmt.Errorf("sqlite-vec backend requires a directory")
		}
		idx, err := OpenSQLiteVecIndex(dimensions, Path(backend, dir))
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
	return nil, fmt.Errorf("unknown vector backend %q (supported: %s)", backend, strings.Join(Backends(), ", "))
}
