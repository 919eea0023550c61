package chat

import (
	"fmt"
	"strings"

	"github.com/hyperjump/ragcli/internal/models"
)

// BuildPrompt assembles the messages sent to the model: system instructions,
// a context message with the retrieved chunks (when there are any), the last
// historyLimit history messages and finally the question.
func BuildPrompt(system string, retrieved []*models.SearchResult, history []models.Message, historyLimit int, query string) []models.Message {
	msgs := make([]models.Message, 0, len(history)+3)
	if system != "" {
		msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: system})
	}
	if block := ContextBlock(retrieved); block != "" {
		msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: block})
	}
	if historyLimit > 0 && len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	msgs = append(msgs, history...)
	return append(msgs, models.Message{Role: models.RoleUser, Content: query})
}

// ContextBlock formats retrieved chunks as numbered sources.
func ContextBlock(retrieved []*models.SearchResult) string {
	if len(retrieved) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Context from the user's documents:\n")
	for i, r := range retrieved {
		if r == nil || r.Chunk == nil {
			continue
		}
		c := r.Chunk
		fmt.Fprintf(&b, "\n[%d] %s (chunk %d of %d)\n%s\n", i+1, c.Filename, c.Ordinal+1, c.TotalChunks, c.Text)
	}
	return b.String()
}
