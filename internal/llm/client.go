// Package llm talks to the local chat model runtime.
package llm

import (
	"context"
	"fmt"

	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/pkg/utils"
)

// Request is one generation request.
type Request struct {
	Messages    []models.Message
	Temperature float64
	// Stream delivers tokens to the callback as they arrive. Without it the
	// callback receives the whole answer once.
	Stream bool
}

// TokenFunc receives generated text. Returning an error aborts generation.
type TokenFunc func(token string) error

// Client generates chat completions.
type Client interface {
	// Stream runs req and returns the text generated so far, which is partial
	// when the error is non-nil. A cancelled ctx returns ctx.Err().
	Stream(ctx context.Context, req Request, onToken TokenFunc) (string, error)
	Model() string
}

// wrapError classifies a generation failure. Context errors pass through
// unchanged so callers can tell an interruption from a failure.
func wrapError(ctx context.Context, model string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if utils.IsConnectionError(err) {
		return fmt.Errorf("%w: %w: %s: %w", models.ErrLLMUnavailable, models.ErrConnection, model, err)
	}
	return fmt.Errorf("%w: %s: %w", models.ErrLLMUnavailable, model, err)
}
