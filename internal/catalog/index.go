package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hyperjump/ragcli/internal/keyword"
	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/internal/storage"
	"github.com/hyperjump/ragcli/internal/vector"
	"go.uber.org/zap"
)

// Metadata keys recorded in each index's storage.
const (
	metaDimensions     = "dimensions"
	metaVectorBackend  = "vector_backend"
	metaEmbeddingModel = "embedding_model"
	metaCreatedAt      = "created_at"
	metaUpdatedAt      = "updated_at"
)

// Index is one named collection of documents. Its chunk store, vector index
// and keyword index always change together.
type Index struct {
	name    string
	dir     string
	dims    int
	backend string
	model   string

	storage  storage.Storage
	vectors  vector.VectorIndex
	keywords keyword.KeywordIndex
	logger   *zap.Logger

	// Writes are serialized; reads go straight to the stores.
	mu sync.Mutex
}

func openIndex(ctx context.Context, name, dir string, opts Options, create bool) (*Index, error) {
	if !create {
		if _, err := os.Stat(filepath.Join(dir, "index.db")); err != nil {
			return nil, fmt.Errorf("%w: %s", models.ErrIndexNotFound, name)
		}
	}
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("%w: open index %s: %w", models.ErrConnection, name, err)
	}

	idx := &Index{name: name, dir: dir, storage: store, logger: opts.Logger}
	if err := idx.loadMeta(ctx, opts); err != nil {
		store.Close()
		return nil, err
	}

	idx.vectors, err = vector.Open(idx.backend, idx.dims, dir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("%w: open %s vectors of index %s: %w", models.ErrConnection, idx.backend, name, err)
	}
	kw, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		idx.vectors.Close()
		store.Close()
		return nil, fmt.Errorf("%w: open keyword index of %s: %w", models.ErrConnection, name, err)
	}
	idx.keywords = kw

	if err := idx.reconcile(ctx); err != nil {
		idx.Close()
		return nil, err
	}
	return idx, nil
}

// loadMeta reads the recorded dimension, backend and model, recording the
// configured values for a new index. A configured dimension that differs from
// the recorded one is an error: vectors of different sizes cannot be compared.
func (x *Index) loadMeta(ctx context.Context, opts Options) error {
	dimStr, ok, err := x.storage.GetMeta(ctx, metaDimensions)
	if err != nil {
		return fmt.Errorf("read index metadata: %w", err)
	}
	if !ok {
		if opts.Dimensions <= 0 {
			return fmt.Errorf("index %s: embedding dimension is not configured", x.name)
		}
		x.dims = opts.Dimensions
		x.backend = opts.Backend
		if x.backend == "" {
			x.backend = vector.BackendMemory
		}
		x.model = opts.EmbeddingModel
		now := time.Now().UTC().Format(time.RFC3339)
		for k, v := range map[string]string{
			metaDimensions:     strconv.Itoa(x.dims),
			metaVectorBackend:  x.backend,
			metaEmbeddingModel: x.model,
			metaCreatedAt:      now,
			metaUpdatedAt:      now,
		} {
			if err := x.storage.SetMeta(ctx, k, v); err != nil {
				return fmt.Errorf("write index metadata: %w", err)
			}
		}
		return nil
	}

	x.dims, err = strconv.Atoi(dimStr)
	if err != nil {
		return fmt.Errorf("index %s: corrupt dimension %q", x.name, dimStr)
	}
	if opts.Dimensions > 0 && opts.Dimensions != x.dims {
		return fmt.Errorf("%w: index %s was built with %d dimensions, embedder produces %d",
			models.ErrDimensionMismatch, x.name, x.dims, opts.Dimensions)
	}
	x.backend, _, _ = x.storage.GetMeta(ctx, metaVectorBackend)
	x.model, _, _ = x.storage.GetMeta(ctx, metaEmbeddingModel)
	if x.backend == "" {
		x.backend = vector.BackendMemory
	}
	if opts.EmbeddingModel != "" && x.model != "" && opts.EmbeddingModel != x.model {
		x.logger.Warn("index was built with a different embedding model",
			zap.String("index", x.name), zap.String("built_with", x.model), zap.String("configured", opts.EmbeddingModel))
	}
	return nil
}

// reconcile rebuilds the vector or keyword index from storage when its size
// disagrees with the stored chunk count, e.g. after a file was lost or a
// write was interrupted. A rebuilt index starts empty, so stale entries go
// away along with missing ones being added.
func (x *Index) reconcile(ctx context.Context) error {
	chunks, err := x.storage.CountChunks(ctx)
	if err != nil {
		return err
	}
	rebuildVectors := int(chunks) != x.vectors.Size()
	kwCount, err := x.keywords.DocCount()
	rebuildKeywords := err != nil || kwCount != uint64(chunks)
	if !rebuildVectors && !rebuildKeywords {
		return nil
	}

	if rebuildVectors {
		x.logger.Warn("vector index out of sync, rebuilding from stored embeddings",
			zap.String("index", x.name), zap.Int64("chunks", chunks), zap.Int("vectors", x.vectors.Size()))
		if err := x.resetVectors(); err != nil {
			return fmt.Errorf("reset vectors of %s: %w", x.name, err)
		}
	}
	if rebuildKeywords {
		x.logger.Warn("keyword index out of sync, rebuilding from stored chunks",
			zap.String("index", x.name), zap.Int64("chunks", chunks), zap.Uint64("keywords", kwCount))
		if err := x.resetKeywords(); err != nil {
			return fmt.Errorf("reset keywords of %s: %w", x.name, err)
		}
	}

	var batch []*models.Chunk
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		defer func() { batch = batch[:0] }()
		if rebuildVectors {
			var ids []string
			var vecs [][]float32
			for _, ch := range batch {
				if len(ch.Embedding) == x.dims {
					ids = append(ids, ch.ID)
					vecs = append(vecs, ch.Embedding)
				}
			}
			if len(ids) > 0 {
				if err := x.vectors.Add(ctx, ids, vecs); err != nil {
					return err
				}
			}
		}
		if rebuildKeywords {
			return x.keywords.Index(ctx, batch)
		}
		return nil
	}
	err = x.storage.AllChunks(ctx, func(ch *models.Chunk) error {
		batch = append(batch, ch)
		if len(batch) >= 256 {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", x.name, err)
	}
	return x.vectors.Flush()
}

func (x *Index) resetVectors() error {
	if err := x.vectors.Close(); err != nil {
		return err
	}
	x.vectors = nil
	if err := vector.Destroy(x.backend, x.dir); err != nil {
		return err
	}
	v, err := vector.Open(x.backend, x.dims, x.dir)
	if err != nil {
		return err
	}
	x.vectors = v
	return nil
}

func (x *Index) resetKeywords() error {
	if err := x.keywords.Close(); err != nil {
		return err
	}
	x.keywords = nil
	path := filepath.Join(x.dir, "bleve")
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	kw, err := keyword.NewBleveIndex(path)
	if err != nil {
		return err
	}
	x.keywords = kw
	return nil
}

// Name returns the index name.
func (x *Index) Name() string { return x.name }

// Dimensions returns the embedding dimension the index was created with.
func (x *Index) Dimensions() int { return x.dims }

// Backend returns the vector backend recorded at creation.
func (x *Index) Backend() string { return x.backend }

// Storage returns the chunk and document store.
func (x *Index) Storage() storage.Storage { return x.storage }

// Vectors returns the vector index.
func (x *Index) Vectors() vector.VectorIndex { return x.vectors }

// Keywords returns the keyword index.
func (x *Index) Keywords() keyword.KeywordIndex { return x.keywords }

// Put stores doc and its embedded chunks, replacing any document with the
// same filename. Every chunk must carry an embedding of the index dimension.
//
// The replaced document stays searchable until the new one is committed to
// storage. If any step fails the indexes are put back the way they were.
func (x *Index) Put(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error {
	ids := make([]string, len(chunks))
	vecs := make([][]float32, len(chunks))
	for i, ch := range chunks {
		if len(ch.Embedding) != x.dims {
			return fmt.Errorf("%w: chunk %s has %d dimensions, index %s expects %d",
				models.ErrDimensionMismatch, ch.ID, len(ch.Embedding), x.name, x.dims)
		}
		ids[i] = ch.ID
		vecs[i] = ch.Embedding
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	old, err := x.replacedChunks(ctx, doc)
	if err != nil {
		return fmt.Errorf("replace %s: %w", doc.Filename, err)
	}

	if err := x.vectors.Add(ctx, ids, vecs); err != nil {
		x.restore(ids, old)
		return fmt.Errorf("index vectors: %w", err)
	}
	if err := x.keywords.Index(ctx, chunks); err != nil {
		x.restore(ids, old)
		return fmt.Errorf("index keywords: %w", err)
	}
	if err := x.storage.PutDocument(ctx, doc, chunks); err != nil {
		x.restore(ids, old)
		return fmt.Errorf("store document: %w", err)
	}

	if stale := staleIDs(chunkIDs(old), ids); len(stale) > 0 {
		if err := x.vectors.Remove(ctx, stale); err != nil {
			x.logger.Warn("remove replaced vectors failed", zap.String("index", x.name), zap.Error(err))
		}
		if err := x.keywords.Delete(ctx, stale); err != nil {
			x.logger.Warn("remove replaced keywords failed", zap.String("index", x.name), zap.Error(err))
		}
	}
	x.touch(ctx)
	if err := x.vectors.Flush(); err != nil {
		return fmt.Errorf("flush vectors: %w", err)
	}
	x.logger.Debug("document stored",
		zap.String("index", x.name), zap.String("filename", doc.Filename),
		zap.Int("chunks", len(chunks)), zap.Int("replaced", len(old)))
	return nil
}

// replacedChunks loads the stored chunks that PutDocument will replace: those
// of the document with the same filename and of the document with the same ID.
func (x *Index) replacedChunks(ctx context.Context, doc *models.Document) ([]*models.Chunk, error) {
	seen := map[string]bool{}
	var out []*models.Chunk
	load := func(d *models.Document, err error) error {
		if errors.Is(err, models.ErrDocumentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if seen[d.ID] {
			return nil
		}
		seen[d.ID] = true
		chunks, err := x.storage.GetChunksByDocumentID(ctx, d.ID)
		if err != nil {
			return err
		}
		out = append(out, chunks...)
		return nil
	}
	if err := load(x.storage.GetDocumentByFilename(ctx, doc.Filename)); err != nil {
		return nil, err
	}
	if err := load(x.storage.GetDocument(ctx, doc.ID)); err != nil {
		return nil, err
	}
	return out, nil
}

// restore undoes a failed Put: chunks that only the new document has are
// removed and the replaced chunks are indexed again.
func (x *Index) restore(ids []string, old []*models.Chunk) {
	ctx := context.Background()
	if added := staleIDs(ids, chunkIDs(old)); len(added) > 0 {
		if err := x.vectors.Remove(ctx, added); err != nil {
			x.logger.Warn("rollback vectors failed", zap.Error(err))
		}
		if err := x.keywords.Delete(ctx, added); err != nil {
			x.logger.Warn("rollback keywords failed", zap.Error(err))
		}
	}
	if len(old) == 0 {
		return
	}
	var oldIDs []string
	var oldVecs [][]float32
	for _, ch := range old {
		if len(ch.Embedding) == x.dims {
			oldIDs = append(oldIDs, ch.ID)
			oldVecs = append(oldVecs, ch.Embedding)
		}
	}
	if len(oldIDs) > 0 {
		if err := x.vectors.Add(ctx, oldIDs, oldVecs); err != nil {
			x.logger.Warn("restore vectors failed", zap.Error(err))
		}
	}
	if err := x.keywords.Index(ctx, old); err != nil {
		x.logger.Warn("restore keywords failed", zap.Error(err))
	}
}

func chunkIDs(chunks []*models.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	return ids
}

// staleIDs returns the IDs of from that are not in keep.
func staleIDs(from, keep []string) []string {
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var out []string
	for _, id := range from {
		if !kept[id] {
			out = append(out, id)
			kept[id] = true
		}
	}
	return out
}

// DeleteByDocument removes the document stored under filename and exactly
// its chunks from all stores. It returns the number of chunks removed.
func (x *Index) DeleteByDocument(ctx context.Context, filename string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	n, err := x.deleteLocked(ctx, filename)
	if err != nil {
		return 0, err
	}
	x.touch(ctx)
	return n, x.vectors.Flush()
}

func (x *Index) deleteLocked(ctx context.Context, filename string) (int, error) {
	doc, err := x.storage.GetDocumentByFilename(ctx, filename)
	if err != nil {
		return 0, err
	}
	ids, err := x.storage.DeleteDocument(ctx, doc.ID)
	if err != nil {
		return 0, err
	}
	if err := x.vectors.Remove(ctx, ids); err != nil {
		return 0, fmt.Errorf("remove vectors: %w", err)
	}
	if err := x.keywords.Delete(ctx, ids); err != nil {
		return 0, fmt.Errorf("remove keywords: %w", err)
	}
	return len(ids), nil
}

func (x *Index) touch(ctx context.Context) {
	if err := x.storage.SetMeta(ctx, metaUpdatedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		x.logger.Warn("record update time failed", zap.Error(err))
	}
}

// Document returns the document stored under filename.
func (x *Index) Document(ctx context.Context, filename string) (*models.Document, error) {
	return x.storage.GetDocumentByFilename(ctx, filename)
}

// Documents lists documents ordered by filename.
func (x *Index) Documents(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	return x.storage.ListDocuments(ctx, offset, limit)
}

// Chunks returns the chunks with the given IDs keyed by ID.
func (x *Index) Chunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	return x.storage.GetChunks(ctx, ids)
}

// Stats summarises the index.
func (x *Index) Stats(ctx context.Context) (*models.IndexStats, error) {
	docs, err := x.storage.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := x.storage.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	disk, err := storage.DiskUsageBytes(x.dir)
	if err != nil {
		return nil, err
	}
	st := &models.IndexStats{
		Name:           x.name,
		Documents:      int(docs),
		Chunks:         int(chunks),
		Vectors:        x.vectors.Size(),
		Dimensions:     x.dims,
		VectorBackend:  x.backend,
		EmbeddingModel: x.model,
		DiskBytes:      disk,
	}
	if v, ok, _ := x.storage.GetMeta(ctx, metaCreatedAt); ok {
		st.CreatedAt, _ = time.Parse(time.RFC3339, v)
	}
	if v, ok, _ := x.storage.GetMeta(ctx, metaUpdatedAt); ok {
		st.UpdatedAt, _ = time.Parse(time.RFC3339, v)
	}
	return st, nil
}

// Close flushes and closes all stores.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	var errs []error
	if x.vectors != nil {
		errs = append(errs, x.vectors.Close())
	}
	if x.keywords != nil {
		errs = append(errs, x.keywords.Close())
	}
	if x.storage != nil {
		errs = append(errs, x.storage.Close())
	}
	return errors.Join(errs...)
}
