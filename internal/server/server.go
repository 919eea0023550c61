// Package server provides the HTTP API for ragcli.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hyperjump/ragcli/internal/catalog"
	"github.com/hyperjump/ragcli/internal/config"
	"github.com/hyperjump/ragcli/internal/embedding"
	"github.com/hyperjump/ragcli/internal/extract"
	"github.com/hyperjump/ragcli/internal/llm"
	"go.uber.org/zap"
)

// Server is the HTTP server for the ragcli API. Every endpoint works on the
// index named by the ?index= query parameter, or the configured default.
type Server struct {
	catalog   *catalog.Catalog
	embedder  embedding.Embedder
	extractor *extract.Extractor
	llm       llm.Client
	admin     *llm.Admin
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server

	watch      DirectoryWatcher
	configPath string
	configMu   sync.Mutex
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithLLM enables POST /api/v1/chat.
func WithLLM(client llm.Client) Option {
	return func(s *Server) { s.llm = client }
}

// WithAdmin reports the Ollama runtime in /api/v1/status.
func WithAdmin(admin *llm.Admin) Option {
	return func(s *Server) { s.admin = admin }
}

// WithExtractor replaces the default extractor used for uploads.
func WithExtractor(e *extract.Extractor) Option {
	return func(s *Server) { s.extractor = e }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	cat *catalog.Catalog,
	embedder embedding.Embedder,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		catalog:  cat,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = extract.NewExtractor(extract.WithLogger(logger))
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		// Chat streams for as long as the model generates.
		r.Post("/chat", s.handleChat)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Minute))
			r.Use(middleware.Compress(5))
			r.Post("/search", s.handleSearch)
			r.Get("/documents", s.handleListDocuments)
			r.Post("/documents", s.handleUploadDocument)
			r.Delete("/documents/{filename}", s.handleDeleteDocument)
			r.Get("/indices", s.handleListIndices)
			r.Get("/status", s.handleStatus)
			r.Get("/watch/directories", s.handleListWatched)
			r.Post("/watch/directories", s.handleAddWatched)
			r.Delete("/watch/directories", s.handleRemoveWatched)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestID tags each request with a UUID, reusing the caller's X-Request-ID.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
