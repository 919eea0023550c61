package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/ragcli/internal/config"
	"github.com/hyperjump/ragcli/internal/embedding"
	"github.com/hyperjump/ragcli/internal/extract"
	"github.com/hyperjump/ragcli/internal/fileid"
	"github.com/hyperjump/ragcli/internal/models"
	"go.uber.org/zap"
)

// Store is where ingested documents end up. catalog.Index implements it.
type Store interface {
	Put(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error
	DeleteByDocument(ctx context.Context, filename string) (int, error)
	Document(ctx context.Context, filename string) (*models.Document, error)
}

// Indexer extracts, chunks and embeds documents and writes them to a Store.
type Indexer struct {
	store     Store
	embedder  embedding.Embedder
	splitter  Splitter
	extractor *extract.Extractor
	config    *config.IngestConfig
	copy      bool
	logger    *zap.Logger // optional; when set, logs debug events
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file ingested, skipped, deleted).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithCopyUploads overrides ingest.copy_uploads.
func WithCopyUploads(enabled bool) IndexerOption {
	return func(idx *Indexer) { idx.copy = enabled }
}

// NewIndexer creates an indexer. extractor may be nil, in which case a
// default extractor without OCR is used. The chunking strategy, size and
// overlap come from cfg.
func NewIndexer(
	store Store,
	embedder embedding.Embedder,
	extractor *extract.Extractor,
	cfg *config.IngestConfig,
	opts ...IndexerOption,
) (*Indexer, error) {
	splitter, err := NewSplitter(cfg.Strategy, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	idx := &Indexer{
		store:     store,
		embedder:  embedder,
		splitter:  splitter,
		extractor: extractor,
		config:    cfg,
		copy:      cfg.CopyUploadsOrDefault() && cfg.UploadDir != "",
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	return idx, nil
}

// IngestFile ingests one file. Re-ingesting a file whose size and content
// hash match the stored document is skipped.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	return idx.ingestFile(ctx, path, "")
}

// IngestUpload ingests a file received as name and staged at path, which may
// be removed once this returns. The document records the upload copy as its
// source, or name when uploads are not copied.
func (idx *Indexer) IngestUpload(ctx context.Context, path, name string) (*models.IngestResult, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("filename is required")
	}
	return idx.ingestFile(ctx, path, name)
}

func (idx *Indexer) ingestFile(ctx context.Context, path, uploadName string) (*models.IngestResult, error) {
	idx.logger.Debug("indexer ingesting file", zap.String("path", path))
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	if !extract.Supported(absPath) {
		return nil, fmt.Errorf("%w: %s (supported: %s)", models.ErrUnsupportedFormat,
			filepath.Base(absPath), strings.Join(extract.SupportedExtensions(), ", "))
	}

	hash, size, err := fileid.HashFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("hash file: %w", err)
	}
	filename := filepath.Base(absPath)
	source := absPath
	if uploadName != "" {
		source = uploadName
	}
	if res, ok := idx.unchanged(ctx, source, filename, hash, size); ok {
		return res, nil
	}

	text, err := idx.extractor.Extract(ctx, absPath)
	if err != nil {
		return nil, err
	}

	doc := newDocument(filename, hash, size)
	doc.SourcePath = source
	doc.Content = Preprocess(text)
	if idx.copy {
		stored, err := idx.copyUpload(absPath, filename)
		if err != nil {
			return nil, err
		}
		doc.StoredPath = stored
		if uploadName != "" {
			doc.SourcePath = stored
		}
	}

	res, err := idx.ingest(ctx, doc)
	if err != nil {
		return nil, err
	}
	res.Path = doc.SourcePath
	return res, nil
}

// IngestText ingests text that is already in memory under the given filename.
func (idx *Indexer) IngestText(ctx context.Context, filename, text string) (*models.IngestResult, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, fmt.Errorf("filename is required")
	}
	hash := fileid.HashBytes([]byte(text))
	size := int64(len(text))
	if res, ok := idx.unchanged(ctx, filename, filename, hash, size); ok {
		return res, nil
	}
	doc := newDocument(filename, hash, size)
	doc.Content = Preprocess(text)
	res, err := idx.ingest(ctx, doc)
	if err != nil {
		return nil, err
	}
	res.Path = filename
	return res, nil
}

// IngestFiles ingests each path independently. A failing file is recorded in
// its result and does not stop the others. A cancelled context stops the
// batch, and so does a fatal error, which is recorded as the last result.
func (idx *Indexer) IngestFiles(ctx context.Context, paths []string) []*models.IngestResult {
	results := make([]*models.IngestResult, 0, len(paths))
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		res, err := idx.IngestFile(ctx, p)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				break
			}
			idx.logger.Debug("indexer file failed", zap.String("path", p), zap.Error(err))
			results = append(results, &models.IngestResult{Path: p, Err: err, Error: err.Error()})
			if IsFatal(err) {
				break
			}
			continue
		}
		results = append(results, res)
	}
	return results
}

// IsFatal reports whether err means no further file can be ingested: the
// embedding model or the store is unreachable.
func IsFatal(err error) bool {
	return errors.Is(err, models.ErrConnection) || errors.Is(err, models.ErrModelUnavailable)
}

// IngestDirectory walks dir recursively and ingests every file whose
// extension is both configured and supported.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string) ([]*models.IngestResult, error) {
	paths, err := idx.CollectFiles(dir)
	if err != nil {
		return nil, err
	}
	return idx.IngestFiles(ctx, paths), nil
}

// CollectFiles returns the ingestible files under dir in lexical order.
func (idx *Indexer) CollectFiles(dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var paths []string
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !idx.Accepts(path) {
			return nil
		}
		// Resolve symlinks so we only ingest regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// Accepts reports whether path has an extension that is configured and that
// the extractor supports.
func (idx *Indexer) Accepts(path string) bool {
	if !extract.Supported(path) {
		return false
	}
	if len(idx.config.Extensions) == 0 {
		return true
	}
	return extensionAllowed(filepath.Ext(path), idx.config.Extensions)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// DeleteDocument removes the document stored under filename and returns the
// number of chunks removed.
func (idx *Indexer) DeleteDocument(ctx context.Context, filename string) (int, error) {
	filename = filepath.Base(filename)
	n, err := idx.store.DeleteByDocument(ctx, filename)
	if err != nil {
		return 0, err
	}
	idx.logger.Debug("indexer document deleted", zap.String("filename", filename), zap.Int("chunks", n))
	return n, nil
}

func newDocument(filename, hash string, size int64) *models.Document {
	now := time.Now().UTC()
	return &models.Document{
		ID:          fileid.DocID(filename),
		Filename:    filename,
		SizeBytes:   size,
		ContentHash: hash,
		UploadedAt:  now,
		UpdatedAt:   now,
	}
}

// unchanged returns a skipped result when the stored document has the same
// content hash and size.
func (idx *Indexer) unchanged(ctx context.Context, path, filename, hash string, size int64) (*models.IngestResult, bool) {
	doc, err := idx.store.Document(ctx, filename)
	if err != nil || doc.ContentHash != hash || doc.SizeBytes != size {
		return nil, false
	}
	idx.logger.Debug("indexer skipping unchanged file", zap.String("path", path))
	return &models.IngestResult{Path: path, Document: doc, Chunks: doc.TotalChunks, Skipped: true}, true
}

// ingest chunks, embeds and stores doc, replacing any previous version.
func (idx *Indexer) ingest(ctx context.Context, doc *models.Document) (*models.IngestResult, error) {
	spans, err := idx.splitter.Split(doc.Content)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("%w: %s contains no text", models.ErrExtraction, doc.Filename)
	}
	chunks := BuildChunks(doc, spans)
	doc.TotalChunks = len(chunks)

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	start := time.Now()
	embeddings, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", doc.Filename, err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", models.ErrModelUnavailable, len(embeddings), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}
	idx.logger.Debug("indexer chunks embedded",
		zap.String("filename", doc.Filename), zap.Int("chunks", len(chunks)), zap.Duration("took", time.Since(start)))

	if err := idx.store.Put(ctx, doc, chunks); err != nil {
		return nil, err
	}
	idx.logger.Debug("indexer document stored", zap.String("filename", doc.Filename), zap.String("doc_id", doc.ID))
	return &models.IngestResult{Document: doc, Chunks: len(chunks)}, nil
}

// copyUpload copies src into the upload directory and returns the new path.
func (idx *Indexer) copyUpload(src, filename string) (string, error) {
	dst := filepath.Join(idx.config.UploadDir, filename)
	if dst == src {
		return dst, nil
	}
	if err := os.MkdirAll(idx.config.UploadDir, 0755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("copy upload: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("copy upload: %w", err)
	}
	return dst, nil
}
