package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/pkg/utils"
	"go.uber.org/zap"
)

// ModelInfo describes an installed model.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Admin queries and manages the Ollama runtime: version, installed models
// and model pulls.
type Admin struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewAdmin returns an admin client for the Ollama server at baseURL.
func NewAdmin(baseURL string, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Admin{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger,
	}
}

// Version returns the server version.
func (a *Admin) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := a.getJSON(ctx, "/api/version", &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// Models lists installed models.
func (a *Admin) Models(ctx context.Context) ([]ModelInfo, error) {
	var out struct {
		Models []ModelInfo `json:"models"`
	}
	if err := a.getJSON(ctx, "/api/tags", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// HasModel reports whether model is installed. A name without a tag matches
// the ":latest" tag.
func (a *Admin) HasModel(ctx context.Context, model string) (bool, error) {
	installed, err := a.Models(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range installed {
		if sameModel(m.Name, model) {
			return true, nil
		}
	}
	return false, nil
}

func sameModel(a, b string) bool {
	norm := func(s string) string {
		if !strings.Contains(s, ":") {
			return s + ":latest"
		}
		return s
	}
	return norm(a) == norm(b)
}

// Pull downloads model, reporting each status line to onProgress (may be nil).
func (a *Admin) Pull(ctx context.Context, model string, onProgress func(status string)) error {
	body, err := json.Marshal(map[string]any{"model": model, "stream": true})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// One JSON object per line.
	scanner := bufio.NewScanner(resp.Body)
	var last string
	for scanner.Scan() {
		var msg struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return fmt.Errorf("%w: pull %s: %s", models.ErrLLMUnavailable, model, msg.Error)
		}
		if msg.Status != "" && msg.Status != last {
			last = msg.Status
			if onProgress != nil {
				onProgress(msg.Status)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: pull %s: %w", models.ErrLLMUnavailable, model, err)
	}
	if last != "success" {
		return fmt.Errorf("%w: pull %s ended with status %q", models.ErrLLMUnavailable, model, last)
	}
	return nil
}

// EnsureModel checks that model is installed and pulls it when pull is true.
func (a *Admin) EnsureModel(ctx context.Context, model string, pull bool, onProgress func(status string)) error {
	ok, err := a.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if !pull {
		return fmt.Errorf("%w: model %s is not installed (run: ollama pull %s)", models.ErrLLMUnavailable, model, model)
	}
	a.logger.Info("pulling model", zap.String("model", model))
	return a.Pull(ctx, model, onProgress)
}

func (a *Admin) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := a.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", models.ErrLLMUnavailable, path, err)
	}
	return nil
}

// do sends req and turns transport failures and non-200 replies into errors.
func (a *Admin) do(req *http.Request) (*http.Response, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		if utils.IsConnectionError(err) {
			return nil, fmt.Errorf("%w: %w: ollama at %s: %w", models.ErrLLMUnavailable, models.ErrConnection, a.baseURL, err)
		}
		return nil, fmt.Errorf("%w: ollama at %s: %w", models.ErrLLMUnavailable, a.baseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", models.ErrLLMUnavailable,
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
