package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/ragcli/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
)

// OllamaClient generates answers with a local Ollama model through langchaingo.
type OllamaClient struct {
	llm    llms.Model
	model  string
	logger *zap.Logger
}

// NewOllamaClient returns a client for model served at url. timeout bounds a
// whole generation; zero means no limit.
func NewOllamaClient(url, model string, timeout time.Duration, logger *zap.Logger) (*OllamaClient, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(url),
		ollama.WithModel(model),
		ollama.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create ollama client: %w", models.ErrLLMUnavailable, err)
	}
	return newOllamaClient(llm, model, logger), nil
}

func newOllamaClient(llm llms.Model, model string, logger *zap.Logger) *OllamaClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClient{llm: llm, model: model, logger: logger}
}

// Model returns the model name.
func (c *OllamaClient) Model() string { return c.model }

// Stream sends the conversation to the model.
func (c *OllamaClient) Stream(ctx context.Context, req Request, onToken TokenFunc) (string, error) {
	var out strings.Builder
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.Stream {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			out.Write(chunk)
			if onToken != nil {
				return onToken(string(chunk))
			}
			return nil
		}))
	}

	start := time.Now()
	resp, err := c.llm.GenerateContent(ctx, toMessageContent(req.Messages), opts...)
	if err != nil {
		return out.String(), wrapError(ctx, c.model, err)
	}
	if out.Len() == 0 && resp != nil && len(resp.Choices) > 0 {
		text := resp.Choices[0].Content
		out.WriteString(text)
		if onToken != nil && text != "" {
			if err := onToken(text); err != nil {
				return out.String(), err
			}
		}
	}
	c.logger.Debug("llm generation done",
		zap.String("model", c.model), zap.Int("messages", len(req.Messages)),
		zap.Int("chars", out.Len()), zap.Duration("took", time.Since(start)))
	return out.String(), nil
}

func toMessageContent(msgs []models.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case models.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case models.RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}
