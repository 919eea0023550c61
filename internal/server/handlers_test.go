package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/ragcli/internal/catalog"
	"github.com/hyperjump/ragcli/internal/config"
	"github.com/hyperjump/ragcli/internal/embedding"
	"github.com/hyperjump/ragcli/internal/llm"
	"github.com/hyperjump/ragcli/internal/models"
	"go.uber.org/zap"
)

type echoLLM struct {
	tokens []string
	last   llm.Request
}

func (e *echoLLM) Model() string { return "echo" }

func (e *echoLLM) Stream(_ context.Context, req llm.Request, onToken llm.TokenFunc) (string, error) {
	e.last = req
	var b strings.Builder
	for _, t := range e.tokens {
		b.WriteString(t)
		if err := onToken(t); err != nil {
			return b.String(), err
		}
	}
	return b.String(), nil
}

func newTestServer(t *testing.T, opts ...Option) http.Handler {
	t.Helper()
	cfg := &config.Config{DataDir: t.TempDir()}
	config.ApplyDefaults(cfg)
	cfg.Ingest.ChunkSize = 40
	cfg.Ingest.ChunkOverlap = 5
	cfg.Ingest.UploadDir = ""
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = 8

	cat, err := catalog.New(cfg.DataDir, catalog.Options{Backend: "memory", Dimensions: 8, EmbeddingModel: "mock"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })
	return NewServer(cat, embedding.NewMockEmbedder(8), cfg, zap.NewNop(), opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func upload(t *testing.T, h http.Handler, target, filename, text string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodPost, target, map[string]string{"filename": filename, "text": text})
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("missing request id header")
	}
}

func TestDocumentsLifecycle(t *testing.T) {
	h := newTestServer(t)

	w := upload(t, h, "/api/v1/documents", "notes.txt", "The quarterly report covers revenue growth in Europe and Asia.")
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: got %d, body: %s", w.Code, w.Body.String())
	}
	var res models.IngestResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Chunks < 2 || res.Document == nil || res.Document.Filename != "notes.txt" {
		t.Errorf("ingest result: %+v", res)
	}

	// Same content again is skipped.
	w = upload(t, h, "/api/v1/documents", "notes.txt", "The quarterly report covers revenue growth in Europe and Asia.")
	if w.Code != http.StatusOK {
		t.Errorf("re-upload: got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/documents", nil)
	var list struct {
		Index     string             `json:"index"`
		Documents []*models.Document `json:"documents"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Index != config.DefaultIndexName || len(list.Documents) != 1 {
		t.Errorf("documents: %+v", list)
	}

	w = do(t, h, http.MethodDelete, "/api/v1/documents/notes.txt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: got %d, body: %s", w.Code, w.Body.String())
	}
	var del struct {
		ChunksRemoved int `json:"chunks_removed"`
	}
	_ = json.NewDecoder(w.Body).Decode(&del)
	if del.ChunksRemoved != res.Chunks {
		t.Errorf("chunks removed: got %d, want %d", del.ChunksRemoved, res.Chunks)
	}

	w = do(t, h, http.MethodDelete, "/api/v1/documents/notes.txt", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d, want 404", w.Code)
	}
}

func TestUploadMultipart(t *testing.T) {
	h := newTestServer(t)
	send := func(filename, content string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(content))
		_ = mw.Close()
		r := httptest.NewRequest(http.MethodPost, "/api/v1/documents?index=papers", &buf)
		r.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	w := send("guide.md", "# Guide\n\nRun make install to build the binary.")
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: got %d, body: %s", w.Code, w.Body.String())
	}
	var res models.IngestResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	// The staging file is gone after the request; the document keeps the
	// name it was uploaded under.
	if res.Document == nil || res.Document.SourcePath != "guide.md" || res.Path != "guide.md" {
		t.Errorf("ingest result: %+v", res)
	}

	w = do(t, h, http.MethodPost, "/api/v1/search?index=papers", map[string]interface{}{"query": "make install", "mode": "keyword"})
	var found models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&found); err != nil {
		t.Fatal(err)
	}
	if len(found.Results) == 0 {
		t.Fatalf("uploaded text not searchable: %s", w.Body.String())
	}
	for _, r := range found.Results {
		if r.Chunk.Source != "guide.md" {
			t.Errorf("chunk %s source = %q, want guide.md", r.Chunk.ID, r.Chunk.Source)
		}
		if r.Preview == "" {
			t.Errorf("chunk %s has no preview", r.Chunk.ID)
		}
	}
	if w := send("tool.exe", "MZ"); w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("unsupported upload: got %d, want 415", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/documents?index=papers", nil)
	if !strings.Contains(w.Body.String(), "guide.md") {
		t.Errorf("uploaded file not listed: %s", w.Body.String())
	}
}

func TestSearch(t *testing.T) {
	h := newTestServer(t)
	upload(t, h, "/api/v1/documents", "a.txt", "Kubernetes schedules pods onto nodes.")
	upload(t, h, "/api/v1/documents", "b.txt", "Bananas are rich in potassium.")

	w := do(t, h, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "Bananas are rich in potassium.", "top_k": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("search: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Chunk.Filename != "b.txt" {
		t.Errorf("top result: %+v", resp.Results)
	}
	if resp.Index != config.DefaultIndexName {
		t.Errorf("index: got %q", resp.Index)
	}

	tests := []struct {
		name   string
		target string
		body   interface{}
		want   int
	}{
		{"empty query", "/api/v1/search", map[string]string{"query": "  "}, http.StatusBadRequest},
		{"bad mode", "/api/v1/search", map[string]string{"query": "x", "mode": "vector"}, http.StatusBadRequest},
		{"missing index", "/api/v1/search?index=nope", map[string]string{"query": "x"}, http.StatusNotFound},
		{"invalid index name", "/api/v1/search?index=a/b", map[string]string{"query": "x"}, http.StatusBadRequest},
		{"bad body", "/api/v1/search", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, http.MethodPost, tt.target, tt.body); w.Code != tt.want {
				t.Errorf("got %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestIndicesAndStatus(t *testing.T) {
	h := newTestServer(t)
	upload(t, h, "/api/v1/documents?index=one", "x.txt", "alpha beta gamma")
	upload(t, h, "/api/v1/documents?index=two", "y.txt", "delta epsilon")

	w := do(t, h, http.MethodGet, "/api/v1/indices", nil)
	var out struct {
		Indices []*models.IndexStats `json:"indices"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Indices) != 2 || out.Indices[0].Name != "one" || out.Indices[1].Documents != 1 {
		t.Errorf("indices: %+v", out.Indices)
	}

	w = do(t, h, http.MethodGet, "/api/v1/status?index=one", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var status struct {
		Index  models.IndexStats      `json:"index"`
		Config map[string]interface{} `json:"config"`
	}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Index.Documents != 1 || status.Index.Dimensions != 8 || status.Index.VectorBackend != "memory" {
		t.Errorf("status index: %+v", status.Index)
	}
	if status.Config["embedding_provider"] != "mock" {
		t.Errorf("status config: %+v", status.Config)
	}
}

func TestChat(t *testing.T) {
	model := &echoLLM{tokens: []string{"Pods ", "run ", "on nodes."}}
	h := newTestServer(t, WithLLM(model))
	upload(t, h, "/api/v1/documents", "k8s.txt", "Kubernetes schedules pods onto nodes.")

	w := do(t, h, http.MethodPost, "/api/v1/chat", map[string]interface{}{
		"query":   "where do pods run?",
		"history": []models.Message{{Role: models.RoleUser, Content: "hi"}, {Role: models.RoleAssistant, Content: "hello"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("chat: got %d, body: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "Pods run on nodes." {
		t.Errorf("body: %q", w.Body.String())
	}
	if got := w.Result().Trailer.Get("X-Sources"); got != "k8s.txt" {
		t.Errorf("sources trailer: %q", got)
	}
	var sawContext, sawHistory bool
	for _, m := range model.last.Messages {
		if strings.Contains(m.Content, "Kubernetes schedules pods") {
			sawContext = true
		}
		if m.Content == "hello" {
			sawHistory = true
		}
	}
	if !sawContext || !sawHistory {
		t.Errorf("prompt missing context or history: %+v", model.last.Messages)
	}

	// RAG off works without any index.
	w = do(t, h, http.MethodPost, "/api/v1/chat?index=missing", map[string]interface{}{"query": "hi", "rag": false})
	if w.Code != http.StatusOK {
		t.Errorf("chat without rag: got %d", w.Code)
	}
	if w = do(t, h, http.MethodPost, "/api/v1/chat?index=missing", map[string]interface{}{"query": "hi"}); w.Code != http.StatusNotFound {
		t.Errorf("chat on missing index: got %d", w.Code)
	}
	if w = do(t, h, http.MethodPost, "/api/v1/chat", map[string]interface{}{"query": " "}); w.Code != http.StatusBadRequest {
		t.Errorf("empty chat query: got %d", w.Code)
	}
}

func TestChat_notConfigured(t *testing.T) {
	h := newTestServer(t)
	if w := do(t, h, http.MethodPost, "/api/v1/chat", map[string]string{"query": "hi"}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", w.Code)
	}
}
