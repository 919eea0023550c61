// Package config provides configuration loading and structs for ragcli.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. It is built once at
// start-up and handed to each component; components do not mutate it.
type Config struct {
	Debug     bool            `yaml:"debug"`
	DataDir   string          `yaml:"data_dir"`
	Log       LogConfig       `yaml:"log"`
	Index     IndexConfig     `yaml:"index"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	Server    ServerConfig    `yaml:"server"`
	Watch     WatchConfig     `yaml:"watch"`
}

// LogConfig controls where logs go. Logs never go to stdout.
type LogConfig struct {
	File string `yaml:"file"`
}

// IndexConfig selects the default index and how new indices store vectors.
type IndexConfig struct {
	Default       string `yaml:"default"`
	VectorBackend string `yaml:"vector_backend"`
}

// IngestConfig holds extraction and chunking settings.
type IngestConfig struct {
	ChunkSize    int       `yaml:"chunk_size"`
	ChunkOverlap int       `yaml:"chunk_overlap"`
	Strategy     string    `yaml:"strategy"`
	UploadDir    string    `yaml:"upload_dir"`
	CopyUploads  *bool     `yaml:"copy_uploads"`
	Extensions   []string  `yaml:"extensions"`
	OCR          OCRConfig `yaml:"ocr"`
}

// CopyUploadsOrDefault reports whether ingested files are copied into UploadDir; defaults to true when unset.
func (c *IngestConfig) CopyUploadsOrDefault() bool {
	if c.CopyUploads != nil {
		return *c.CopyUploads
	}
	return true
}

// OCRConfig holds settings for the external OCR fallback used on scanned PDFs.
type OCRConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Language string `yaml:"language"`
	DPI      int    `yaml:"dpi"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	BatchSize  int    `yaml:"batch_size"`
	CacheSize  int    `yaml:"cache_size"`
}

// OllamaConfig holds the address of the local Ollama runtime.
type OllamaConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// LLMConfig holds chat model settings.
type LLMConfig struct {
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`
	HistoryLimit int     `yaml:"history_limit"`
	AutoPull     bool    `yaml:"auto_pull"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	TopK           int     `yaml:"top_k"`
	MaxTopK        int     `yaml:"max_top_k"`
	Mode           string  `yaml:"mode"`
	TopKCandidates int     `yaml:"top_k_candidates"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`

	// FilenameBoost and PhraseBoost tune BM25; values <= 1 leave it plain.
	FilenameBoost float64 `yaml:"filename_boost"`
	PhraseBoost   float64 `yaml:"phrase_boost"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories    []string `yaml:"directories"`
	Recursive      *bool    `yaml:"recursive"`
	DebounceMillis int      `yaml:"debounce_ms"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults and
// environment overrides, expands paths, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&cfg, filepath.Dir(path))
}

// Default returns the configuration used when no config file exists.
func Default() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return finish(&Config{}, wd)
}

// Resolve loads the first config file found among path (when non-empty),
// ./config.yaml and ~/.config/ragcli/config.yaml, falling back to Default.
// An explicit path that does not exist is an error.
func Resolve(path string) (*Config, string, error) {
	if path != "" {
		cfg, err := Load(path)
		return cfg, path, err
	}
	candidates := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "ragcli", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			cfg, err := Load(c)
			return cfg, c, err
		}
	}
	cfg, err := Default()
	return cfg, "", err
}

// LoadDotEnv loads KEY=value pairs from the given files (default ".env") into
// the process environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func finish(cfg *Config, configDir string) (*Config, error) {
	ApplyDefaults(cfg)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.DataDir = expandPath(cfg.DataDir, configDir)
	cfg.Ingest.UploadDir = expandPath(cfg.Ingest.UploadDir, configDir)
	cfg.Log.File = expandPath(cfg.Log.File, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides maps RAGCLI_* variables onto config fields.
var envOverrides = map[string]func(*Config, string) error{
	"RAGCLI_DATA_DIR":        func(c *Config, v string) error { c.DataDir = v; return nil },
	"RAGCLI_INDEX":           func(c *Config, v string) error { c.Index.Default = v; return nil },
	"RAGCLI_VECTOR_BACKEND":  func(c *Config, v string) error { c.Index.VectorBackend = v; return nil },
	"RAGCLI_OLLAMA_URL":      func(c *Config, v string) error { c.Ollama.URL = v; return nil },
	"RAGCLI_LLM_MODEL":       func(c *Config, v string) error { c.LLM.Model = v; return nil },
	"RAGCLI_EMBEDDING_MODEL": func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	"RAGCLI_EMBEDDING_PROVIDER": func(c *Config, v string) error {
		c.Embedding.Provider = v
		return nil
	},
	"RAGCLI_EMBEDDING_DIMENSIONS": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Embedding.Dimensions = n
		return nil
	},
	"RAGCLI_TEMPERATURE": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.LLM.Temperature = f
		return nil
	},
}

func applyEnv(cfg *Config) error {
	for key, set := range envOverrides {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		if err := set(cfg, v); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

// expandPath converts a path to absolute. "~/" is the home directory, paths
// starting with "./" are relative to configDir, other relative paths are
// relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	home, homeErr := os.UserHomeDir()
	if strings.HasPrefix(path, "~/") && homeErr == nil {
		return filepath.Join(home, path[2:])
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if homeErr == nil {
		return filepath.Join(home, path)
	}
	return path
}
