// Package chat runs retrieval-augmented conversations: each question is
// embedded, matched against an index and answered by the chat model with the
// retrieved chunks as context.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/ragcli/internal/embedding"
	"github.com/hyperjump/ragcli/internal/llm"
	"github.com/hyperjump/ragcli/internal/models"
	"go.uber.org/zap"
)

// State is a step of one chat turn.
type State string

const (
	StateReceiveQuery    State = "RECEIVE_QUERY"
	StateEmbedQuery      State = "EMBED_QUERY"
	StateRetrieveContext State = "RETRIEVE_CONTEXT"
	StateBuildPrompt     State = "BUILD_PROMPT"
	StateStreamResponse  State = "STREAM_RESPONSE"
	StateAppendHistory   State = "APPEND_HISTORY"
)

// Retriever finds chunks relevant to an embedded query. search.Engine
// implements it.
type Retriever interface {
	SearchWithEmbedding(ctx context.Context, query *models.SearchQuery, queryEmbedding []float32) (*models.SearchResponse, error)
}

// Options configure an Orchestrator.
type Options struct {
	RAG          bool
	TopK         int
	Mode         models.SearchMode
	Temperature  float64
	SystemPrompt string
	HistoryLimit int
}

// Turn is the outcome of one question.
type Turn struct {
	Query    string
	Sources  []*models.SearchResult
	Response string
	// Interrupted is set when the context was cancelled mid-answer. Response
	// then holds the partial answer and history is unchanged.
	Interrupted bool
	Duration    time.Duration
}

// Orchestrator owns one conversation.
type Orchestrator struct {
	client    llm.Client
	retriever Retriever
	embedder  embedding.Embedder
	opts      Options
	onState   func(State)
	logger    *zap.Logger
	sessionID string

	mu      sync.Mutex
	history []models.Message
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetriever enables retrieval through r, embedding questions with emb.
func WithRetriever(r Retriever, emb embedding.Embedder) Option {
	return func(o *Orchestrator) {
		o.retriever = r
		o.embedder = emb
	}
}

// WithStateHook calls fn on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// WithHistory seeds the conversation, e.g. from a stateless HTTP client.
func WithHistory(msgs []models.Message) Option {
	return func(o *Orchestrator) {
		o.history = append([]models.Message(nil), msgs...)
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator returns an orchestrator with an empty history. RAG needs a
// retriever; without one it is an error to enable it.
func NewOrchestrator(client llm.Client, opts Options, options ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		client:    client,
		opts:      opts,
		logger:    zap.NewNop(),
		sessionID: uuid.New().String(),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.opts.RAG && (o.retriever == nil || o.embedder == nil) {
		return nil, fmt.Errorf("retrieval enabled without a retriever and embedder")
	}
	if o.opts.TopK <= 0 {
		o.opts.TopK = models.DefaultTopK
	}
	return o, nil
}

// SessionID identifies the conversation in logs.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// RAGEnabled reports whether questions are answered with retrieved context.
func (o *Orchestrator) RAGEnabled() bool { return o.opts.RAG }

// History returns a copy of the conversation so far.
func (o *Orchestrator) History() []models.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Message, len(o.history))
	copy(out, o.history)
	return out
}

// Clear forgets the conversation.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	o.history = nil
	o.mu.Unlock()
	o.logger.Debug("chat history cleared", zap.String("session", o.sessionID))
}

func (o *Orchestrator) enter(s State) {
	o.logger.Debug("chat state", zap.String("session", o.sessionID), zap.String("state", string(s)))
	if o.onState != nil {
		o.onState(s)
	}
}

// Ask answers query, passing generated tokens to onToken (may be nil).
// History is only extended when the answer completes. A cancelled ctx
// returns the partial turn with Interrupted set and a nil error; a failed
// generation returns the partial turn and an ErrLLMUnavailable error.
func (o *Orchestrator) Ask(ctx context.Context, query string, onToken llm.TokenFunc) (*Turn, error) {
	start := time.Now()
	o.enter(StateReceiveQuery)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.ErrEmptyQuery
	}
	turn := &Turn{Query: query}

	if o.opts.RAG {
		var vec []float32
		if o.opts.Mode.NeedsEmbedding() {
			o.enter(StateEmbedQuery)
			var err error
			vec, err = o.embedder.Embed(ctx, query)
			if err != nil {
				if ctx.Err() != nil {
					turn.Interrupted = true
					return turn, nil
				}
				return nil, fmt.Errorf("embed question: %w", err)
			}
		}

		o.enter(StateRetrieveContext)
		resp, err := o.retriever.SearchWithEmbedding(ctx, &models.SearchQuery{
			Query: query,
			TopK:  o.opts.TopK,
			Mode:  o.opts.Mode,
		}, vec)
		if err != nil {
			if ctx.Err() != nil {
				turn.Interrupted = true
				return turn, nil
			}
			return nil, fmt.Errorf("retrieve context: %w", err)
		}
		turn.Sources = resp.Results
		o.logger.Debug("chat context retrieved", zap.String("session", o.sessionID), zap.Int("chunks", len(resp.Results)))
	}

	o.enter(StateBuildPrompt)
	history := o.History()
	messages := BuildPrompt(o.opts.SystemPrompt, turn.Sources, history, o.opts.HistoryLimit, query)

	o.enter(StateStreamResponse)
	text, err := o.client.Stream(ctx, llm.Request{
		Messages:    messages,
		Temperature: o.opts.Temperature,
		Stream:      true,
	}, onToken)
	turn.Response = text
	turn.Duration = time.Since(start)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			turn.Interrupted = true
			o.logger.Debug("chat turn interrupted", zap.String("session", o.sessionID), zap.Int("partial_chars", len(text)))
			return turn, nil
		}
		if !errors.Is(err, models.ErrLLMUnavailable) {
			err = fmt.Errorf("%w: %w", models.ErrLLMUnavailable, err)
		}
		return turn, err
	}

	o.enter(StateAppendHistory)
	o.mu.Lock()
	o.history = append(o.history,
		models.Message{Role: models.RoleUser, Content: query},
		models.Message{Role: models.RoleAssistant, Content: text},
	)
	o.mu.Unlock()
	return turn, nil
}
