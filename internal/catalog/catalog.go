// Package catalog manages named indices under the data directory. Each index
// lives in its own directory holding a SQLite chunk store, a vector index and
// a bleve keyword index.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/ragcli/internal/config"
	"github.com/hyperjump/ragcli/internal/models"
	"go.uber.org/zap"
)

// Options apply to indices created by a Catalog.
type Options struct {
	// Backend is the vector backend for new indices; existing indices keep theirs.
	Backend string
	// Dimensions is the embedder's output dimension.
	Dimensions     int
	EmbeddingModel string
	Logger         *zap.Logger
}

// Catalog opens, creates, lists and deletes indices.
type Catalog struct {
	root string
	opts Options

	mu   sync.Mutex
	open map[string]*Index
}

// New returns a catalog rooted at dataDir/indices.
func New(dataDir string, opts Options) (*Catalog, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	root := filepath.Join(dataDir, "indices")
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %w", models.ErrConnection, err)
	}
	return &Catalog{root: root, opts: opts, open: make(map[string]*Index)}, nil
}

func (c *Catalog) dir(name string) string {
	return filepath.Join(c.root, name)
}

func validName(name string) error {
	if !config.ValidIndexName(name) {
		return fmt.Errorf("%w: %q (use letters, digits, '_' and '-')", models.ErrInvalidIndexName, name)
	}
	return nil
}

// Open returns an existing index. A missing index is ErrIndexNotFound.
func (c *Catalog) Open(ctx context.Context, name string) (*Index, error) {
	return c.get(ctx, name, false)
}

// OpenOrCreate returns the named index, creating it if needed.
func (c *Catalog) OpenOrCreate(ctx context.Context, name string) (*Index, error) {
	return c.get(ctx, name, true)
}

func (c *Catalog) get(ctx context.Context, name string, create bool) (*Index, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.open[name]; ok {
		return idx, nil
	}
	if create {
		if err := os.MkdirAll(c.dir(name), 0755); err != nil {
			return nil, fmt.Errorf("%w: create index dir: %w", models.ErrConnection, err)
		}
	}
	idx, err := openIndex(ctx, name, c.dir(name), c.opts, create)
	if err != nil {
		return nil, err
	}
	c.open[name] = idx
	c.opts.Logger.Debug("index opened", zap.String("index", name), zap.String("backend", idx.Backend()))
	return idx, nil
}

// Exists reports whether the named index exists on disk.
func (c *Catalog) Exists(name string) bool {
	if validName(name) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(c.dir(name), "index.db"))
	return err == nil
}

// List returns the names of all indices, sorted.
func (c *Catalog) List() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("%w: list indices: %w", models.ErrConnection, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && c.Exists(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete closes and removes the named index.
func (c *Catalog) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if !c.Exists(name) {
		return fmt.Errorf("%w: %s", models.ErrIndexNotFound, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.open[name]; ok {
		if err := idx.Close(); err != nil {
			c.opts.Logger.Warn("close index before delete", zap.String("index", name), zap.Error(err))
		}
		delete(c.open, name)
	}
	if err := os.RemoveAll(c.dir(name)); err != nil {
		return fmt.Errorf("remove index %s: %w", name, err)
	}
	return nil
}

// Stats opens the named index and summarises it.
func (c *Catalog) Stats(ctx context.Context, name string) (*models.IndexStats, error) {
	idx, err := c.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return idx.Stats(ctx)
}

// Close closes every open index.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for name, idx := range c.open {
		errs = append(errs, idx.Close())
		delete(c.open, name)
	}
	return errors.Join(errs...)
}
