package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: "./data"
index:
  default: "papers"
  vector_backend: "chromem"
ingest:
  chunk_size: 256
  chunk_overlap: 32
llm:
  model: "mistral"
  temperature: 0.2
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != filepath.Join(dir, "data") {
		t.Errorf("data_dir: got %q", cfg.DataDir)
	}
	if cfg.Index.Default != "papers" || cfg.Index.VectorBackend != "chromem" {
		t.Errorf("unexpected index config: %+v", cfg.Index)
	}
	if cfg.Ingest.ChunkSize != 256 || cfg.Ingest.ChunkOverlap != 32 {
		t.Errorf("unexpected ingest config: %+v", cfg.Ingest)
	}
	if cfg.LLM.Model != "mistral" || cfg.LLM.Temperature != 0.2 {
		t.Errorf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
	if cfg.Index.Default != DefaultIndexName {
		t.Errorf("index default: got %q", cfg.Index.Default)
	}
	if cfg.Ingest.ChunkSize != 512 || cfg.Ingest.ChunkOverlap != 50 {
		t.Errorf("chunking defaults: got %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Search.TopK != 5 || cfg.Search.Mode != "hybrid" {
		t.Errorf("search defaults: %+v", cfg.Search)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("temperature default: got %g", cfg.LLM.Temperature)
	}
	if !cfg.Ingest.CopyUploadsOrDefault() {
		t.Error("copy_uploads should default to true")
	}
	if !filepath.IsAbs(cfg.DataDir) {
		t.Errorf("data_dir should be absolute, got %q", cfg.DataDir)
	}
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("ingest: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_overlapNotBelowSizeRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
ingest:
  chunk_size: 100
  chunk_overlap: 100
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad backend", func(c *Config) { c.Index.VectorBackend = "faiss" }, false},
		{"sqlite-vec backend", func(c *Config) { c.Index.VectorBackend = "sqlite-vec" }, true},
		{"chromem backend", func(c *Config) { c.Index.VectorBackend = "chromem" }, true},
		{"bad mode", func(c *Config) { c.Search.Mode = "fuzzy" }, false},
		{"bad index name", func(c *Config) { c.Index.Default = "../escape" }, false},
		{"negative weight", func(c *Config) { c.Search.KeywordWeight = -1 }, false},
		{"temperature too high", func(c *Config) { c.LLM.Temperature = 3 }, false},
		{"top_k above max", func(c *Config) { c.Search.TopK = 500 }, false},
		{"recursive strategy", func(c *Config) { c.Ingest.Strategy = "recursive" }, true},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "openai" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoad_envOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  model: from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RAGCLI_LLM_MODEL", "from-env")
	t.Setenv("RAGCLI_EMBEDDING_DIMENSIONS", "384")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "from-env" {
		t.Errorf("model: got %q", cfg.LLM.Model)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("dimensions: got %d", cfg.Embedding.Dimensions)
	}
}

func TestLoad_envOverrideInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RAGCLI_TEMPERATURE", "warm")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-numeric temperature")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("RAGCLI_TEST_DOTENV=hello\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RAGCLI_TEST_DOTENV", "")
	os.Unsetenv("RAGCLI_TEST_DOTENV")
	if err := LoadDotEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("RAGCLI_TEST_DOTENV"); got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
ingest:
  upload_dir: "./uploads"
watch:
  directories: ["./inbox"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.UploadDir != filepath.Join(dir, "uploads") {
		t.Errorf("upload_dir: got %q", cfg.Ingest.UploadDir)
	}
	if len(cfg.Watch.Directories) != 1 || cfg.Watch.Directories[0] != filepath.Join(dir, "inbox") {
		t.Errorf("watch dirs: got %v", cfg.Watch.Directories)
	}
	if !cfg.Watch.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.LLM.Model = "qwen2"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.LLM.Model != "qwen2" {
		t.Errorf("model: got %q", loaded.LLM.Model)
	}
}
