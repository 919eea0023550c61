package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/ragcli/internal/catalog"
	"github.com/hyperjump/ragcli/internal/chat"
	"github.com/hyperjump/ragcli/internal/indexer"
	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/internal/search"
	"go.uber.org/zap"
)

const maxUploadBytes = 64 << 20

// index opens the index selected by ?index=, falling back to the default.
func (s *Server) index(r *http.Request, create bool) (*catalog.Index, error) {
	name := r.URL.Query().Get("index")
	if name == "" {
		name = s.config.Index.Default
	}
	if create {
		return s.catalog.OpenOrCreate(r.Context(), name)
	}
	return s.catalog.Open(r.Context(), name)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	idx, err := s.index(r, false)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.logger.Debug("search request", zap.String("index", idx.Name()), zap.String("query", query.Query), zap.Int("top_k", query.TopK))
	response, err := search.ForIndex(idx, s.embedder, &s.config.Search).Search(r.Context(), &query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

type chatRequest struct {
	Query       string           `json:"query"`
	RAG         *bool            `json:"rag,omitempty"`
	TopK        int              `json:"top_k,omitempty"`
	Mode        string           `json:"mode,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	History     []models.Message `json:"history,omitempty"`
}

// handleChat streams the answer as plain text. The filenames of the
// retrieved sources are sent in the X-Sources trailer.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		s.respondError(w, http.StatusServiceUnavailable, "chat model not configured")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mode, err := models.ParseSearchMode(req.Mode)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	opts := chat.Options{
		RAG:          req.RAG == nil || *req.RAG,
		TopK:         req.TopK,
		Mode:         mode,
		Temperature:  s.config.LLM.Temperature,
		SystemPrompt: s.config.LLM.SystemPrompt,
		HistoryLimit: s.config.LLM.HistoryLimit,
	}
	if opts.TopK <= 0 {
		opts.TopK = s.config.Search.TopK
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	chatOpts := []chat.Option{chat.WithHistory(req.History), chat.WithLogger(s.logger)}
	if opts.RAG {
		idx, err := s.index(r, false)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		chatOpts = append(chatOpts, chat.WithRetriever(search.ForIndex(idx, s.embedder, &s.config.Search), s.embedder))
	}
	orch, err := chat.NewOrchestrator(s.llm, opts, chatOpts...)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rc := http.NewResponseController(w)
	started := false
	turn, err := orch.Ask(r.Context(), req.Query, func(token string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Trailer", "X-Sources")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(w, token); err != nil {
			return err
		}
		return rc.Flush()
	})
	if !started {
		if err != nil {
			s.logger.Error("chat failed", zap.Error(err))
			s.respondErr(w, err)
			return
		}
		// Nothing was streamed; send the (possibly empty) answer in one piece.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Trailer", "X-Sources")
		w.WriteHeader(http.StatusOK)
		if turn != nil {
			_, _ = io.WriteString(w, turn.Response)
		}
	} else if err != nil {
		s.logger.Error("chat stream broke", zap.Error(err))
		_, _ = fmt.Fprintf(w, "\n[error: %v]", err)
	}
	if turn != nil {
		w.Header().Set("X-Sources", sourceList(turn.Sources))
	}
}

func sourceList(results []*models.SearchResult) string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range results {
		if r == nil || r.Chunk == nil || seen[r.Chunk.Filename] {
			continue
		}
		seen[r.Chunk.Filename] = true
		names = append(names, r.Chunk.Filename)
	}
	return strings.Join(names, ", ")
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	idx, err := s.index(r, false)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	docs, err := idx.Documents(r.Context(), max(offset, 0), limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"index": idx.Name(), "documents": docs})
}

type textUpload struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// handleUploadDocument ingests a multipart "file" field or a JSON
// {"filename", "text"} body into the selected index, creating it if needed.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	idx, err := s.index(r, true)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	ing, err := indexer.NewIndexer(idx, s.embedder, s.extractor, &s.config.Ingest, indexer.WithLogger(s.logger))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var result *models.IngestResult
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		result, err = s.ingestMultipart(w, r, ing)
	} else {
		var body textUpload
		if derr := json.NewDecoder(r.Body).Decode(&body); derr != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(body.Filename) == "" {
			s.respondError(w, http.StatusBadRequest, "filename is required")
			return
		}
		s.logger.Debug("index text request", zap.String("index", idx.Name()), zap.String("filename", body.Filename))
		result, err = ing.IngestText(r.Context(), body.Filename, body.Text)
	}
	if err != nil {
		s.logger.Error("indexing failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	status := http.StatusCreated
	if result.Skipped {
		status = http.StatusOK
	}
	s.respondJSON(w, status, result)
}

func (s *Server) ingestMultipart(w http.ResponseWriter, r *http.Request, ing *indexer.Indexer) (*models.IngestResult, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: multipart field \"file\": %w", errBadRequest, err)
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: missing filename", errBadRequest)
	}
	// The file keeps its name so the document is stored under it.
	dir, err := os.MkdirTemp("", "ragcli-upload-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		return nil, fmt.Errorf("%w: read upload: %w", errBadRequest, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	s.logger.Debug("index file request", zap.String("filename", name), zap.Int64("size", header.Size))
	return ing.IngestUpload(r.Context(), path, name)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	idx, err := s.index(r, false)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.logger.Debug("delete document request", zap.String("index", idx.Name()), zap.String("filename", filename))
	n, err := idx.DeleteByDocument(r.Context(), filename)
	if err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"filename": filename, "chunks_removed": n, "status": "deleted"})
}

func (s *Server) handleListIndices(w http.ResponseWriter, r *http.Request) {
	names, err := s.catalog.List()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	indices := make([]*models.IndexStats, 0, len(names))
	for _, name := range names {
		st, err := s.catalog.Stats(r.Context(), name)
		if err != nil {
			s.logger.Warn("index stats failed", zap.String("index", name), zap.Error(err))
			indices = append(indices, &models.IndexStats{Name: name})
			continue
		}
		indices = append(indices, st)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"default": s.config.Index.Default, "indices": indices})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	idx, err := s.index(r, false)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	stats, err := idx.Stats(r.Context())
	if err != nil {
		s.logger.Error("status: stats failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	resp := map[string]interface{}{
		"index": stats,
		"config": map[string]interface{}{
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.embedder.Dimensions(),
			"chunk_size":           s.config.Ingest.ChunkSize,
			"chunk_overlap":        s.config.Ingest.ChunkOverlap,
			"search_mode":          s.config.Search.Mode,
			"llm_model":            s.config.LLM.Model,
		},
	}
	if s.admin != nil {
		ollama := map[string]interface{}{"url": s.config.Ollama.URL}
		if v, err := s.admin.Version(r.Context()); err != nil {
			ollama["error"] = err.Error()
		} else {
			ollama["version"] = v
		}
		resp["ollama"] = ollama
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errBadRequest = errors.New("bad request")

// statusFor maps error classes to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrIndexNotFound), errors.Is(err, models.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrInvalidIndexName),
		errors.Is(err, models.ErrEmptyQuery),
		errors.Is(err, models.ErrInvalidMode),
		errors.Is(err, models.ErrInvalidChunking):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, models.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, models.ErrConnection),
		errors.Is(err, models.ErrModelUnavailable),
		errors.Is(err, models.ErrLLMUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	s.respondError(w, statusFor(err), err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
