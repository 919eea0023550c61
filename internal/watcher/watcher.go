// Package watcher keeps an index in sync with folders on disk. New and changed
// files are ingested after a per-file quiet period; removed files are deleted
// from the index.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/ragcli/internal/models"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Ingester is the part of indexer.Indexer the watcher drives.
type Ingester interface {
	IngestFile(ctx context.Context, path string) (*models.IngestResult, error)
	IngestDirectory(ctx context.Context, dir string) ([]*models.IngestResult, error)
	DeleteDocument(ctx context.Context, filename string) (int, error)
	Accepts(path string) bool
}

// Op is what the watcher did in response to a file change.
type Op string

const (
	OpIngest Op = "ingest"
	OpDelete Op = "delete"
)

// Event reports one ingest or delete.
type Event struct {
	Op      Op
	Path    string
	Result  *models.IngestResult // OpIngest only
	Removed int                  // chunks removed, OpDelete only
	Err     error
}

// Watcher watches root directories and feeds changes to an Ingester.
type Watcher struct {
	ingester  Ingester
	recursive bool
	debounce  time.Duration
	onEvent   func(Event)
	logger    *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	ctx     context.Context
	roots   []string
	watched map[string][]string // root -> directories added to fsw
	pending map[string]*time.Timer
	closed  bool
	done    chan struct{}

	// work serializes ingests so one file is never processed twice at once.
	work     sync.Mutex
	inflight sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRecursive controls whether subdirectories are watched. Default true.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// WithEventHook calls fn after every ingest or delete. fn runs on the
// watcher's goroutines and must not block for long.
func WithEventHook(fn func(Event)) Option {
	return func(w *Watcher) { w.onEvent = fn }
}

// New returns a stopped watcher.
func New(ing Ingester, opts ...Option) *Watcher {
	w := &Watcher{
		ingester:  ing,
		recursive: true,
		debounce:  defaultDebounce,
		logger:    zap.NewNop(),
		watched:   make(map[string][]string),
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Start begins watching roots. It runs until ctx is cancelled or Stop is
// called. Missing roots are created.
func (w *Watcher) Start(ctx context.Context, roots ...string) error {
	w.mu.Lock()
	if w.fsw != nil || w.closed {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	for _, root := range roots {
		if err := w.addRootLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			w.mu.Unlock()
			return err
		}
	}
	w.logger.Debug("watcher started", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive), zap.Duration("debounce", w.debounce))
	w.mu.Unlock()

	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if hidden(filepath.Base(path)) || !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.addNewDirectory(path)
			return
		}
		if w.ingester.Accepts(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// A rename reports the old name; the new name arrives as Create.
		w.cancel(path)
		if w.ingester.Accepts(path) {
			w.remove(path)
		}
	}
}

// addNewDirectory watches a directory created (or moved) under a root and
// schedules the files already inside it.
func (w *Watcher) addNewDirectory(dir string) {
	w.mu.Lock()
	fsw := w.fsw
	root := w.rootOf(dir)
	w.mu.Unlock()
	if fsw == nil || !w.recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && hidden(d.Name()) {
				return filepath.SkipDir
			}
			if err := fsw.Add(path); err != nil {
				w.logger.Debug("watcher add directory failed", zap.String("path", path), zap.Error(err))
				return nil
			}
			w.mu.Lock()
			if root != "" {
				w.watched[root] = append(w.watched[root], path)
			}
			w.mu.Unlock()
			return nil
		}
		if !hidden(d.Name()) && w.ingester.Accepts(path) {
			w.schedule(path)
		}
		return nil
	})
}

// schedule ingests path once it has been quiet for the debounce period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		ctx := w.ctx
		w.inflight.Add(1)
		w.mu.Unlock()
		defer w.inflight.Done()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	w.work.Lock()
	defer w.work.Unlock()
	res, err := w.ingester.IngestFile(ctx, path)
	if err != nil {
		w.logger.Warn("watcher ingest failed", zap.String("path", path), zap.Error(err))
	} else {
		w.logger.Debug("watcher ingested", zap.String("path", path), zap.Int("chunks", res.Chunks), zap.Bool("skipped", res.Skipped))
	}
	w.emit(Event{Op: OpIngest, Path: path, Result: res, Err: err})
}

func (w *Watcher) remove(path string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	w.work.Lock()
	defer w.work.Unlock()
	n, err := w.ingester.DeleteDocument(ctx, filepath.Base(path))
	if errors.Is(err, models.ErrDocumentNotFound) {
		return
	}
	if err != nil {
		w.logger.Warn("watcher delete failed", zap.String("path", path), zap.Error(err))
	}
	w.emit(Event{Op: OpDelete, Path: path, Removed: n, Err: err})
}

func (w *Watcher) emit(ev Event) {
	if w.onEvent != nil {
		w.onEvent(ev)
	}
}

// Sync ingests the files already present in every root.
func (w *Watcher) Sync(ctx context.Context) []*models.IngestResult {
	var all []*models.IngestResult
	for _, root := range w.Directories() {
		w.work.Lock()
		results, err := w.ingester.IngestDirectory(ctx, root)
		w.work.Unlock()
		if err != nil {
			w.logger.Warn("watcher sync failed", zap.String("root", root), zap.Error(err))
			all = append(all, &models.IngestResult{Path: root, Err: err, Error: err.Error()})
			continue
		}
		for _, res := range results {
			w.emit(Event{Op: OpIngest, Path: res.Path, Result: res, Err: res.Err})
		}
		all = append(all, results...)
	}
	return all
}

// AddDirectory starts watching root. With syncExisting set, files already in it are
// ingested in the background.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return errors.New("watcher not started")
	}
	if _, ok := w.watched[abs]; ok {
		w.mu.Unlock()
		return nil
	}
	if err := w.addRootLocked(abs); err != nil {
		w.mu.Unlock()
		return err
	}
	ctx := w.ctx
	if syncExisting {
		w.inflight.Add(1)
	}
	w.mu.Unlock()
	w.logger.Debug("watcher directory added", zap.String("path", abs), zap.Bool("sync", syncExisting))
	if syncExisting {
		go func() {
			defer w.inflight.Done()
			w.work.Lock()
			defer w.work.Unlock()
			if _, err := w.ingester.IngestDirectory(ctx, abs); err != nil {
				w.logger.Warn("watcher sync failed", zap.String("root", abs), zap.Error(err))
			}
		}()
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	if err := os.MkdirAll(abs, 0755); err != nil {
		return err
	}
	var dirs []string
	if w.recursive {
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if path != abs && hidden(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				return err
			}
			dirs = append(dirs, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := w.fsw.Add(abs); err != nil {
			return err
		}
		dirs = append(dirs, abs)
	}
	w.watched[abs] = dirs
	w.roots = append(w.roots, abs)
	return nil
}

// RemoveDirectory stops watching root. Indexed documents are kept.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	dirs, ok := w.watched[abs]
	if !ok {
		return nil
	}
	if w.fsw != nil {
		for _, d := range dirs {
			_ = w.fsw.Remove(d)
		}
	}
	delete(w.watched, abs)
	for i, r := range w.roots {
		if r == abs {
			w.roots = append(w.roots[:i], w.roots[i+1:]...)
			break
		}
	}
	w.logger.Debug("watcher directory removed", zap.String("path", abs))
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Stop stops watching, drops pending ingests and waits for a running one.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	fsw := w.fsw
	w.mu.Unlock()

	close(w.done)
	if fsw != nil {
		_ = fsw.Close()
	}
	w.inflight.Wait()
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rootOf(path) != ""
}

// rootOf returns the root containing path, or "". Callers hold mu.
func (w *Watcher) rootOf(path string) string {
	for _, root := range w.roots {
		if inDir(root, path) {
			return root
		}
	}
	return ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// hidden matches dotfiles and editor swap files.
func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}
