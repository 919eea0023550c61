package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/ragcli/internal/embedding"
	"github.com/hyperjump/ragcli/internal/llm"
	"github.com/hyperjump/ragcli/internal/models"
)

// fakeClient emits tokens one by one. It can cancel the turn or fail after
// cutoff tokens.
type fakeClient struct {
	tokens []string
	cutoff int
	cancel context.CancelFunc

	requests []llm.Request
}

func (f *fakeClient) Model() string { return "fake" }

func (f *fakeClient) Stream(ctx context.Context, req llm.Request, onToken llm.TokenFunc) (string, error) {
	f.requests = append(f.requests, req)
	var out strings.Builder
	for i, tok := range f.tokens {
		if f.cutoff > 0 && i == f.cutoff {
			if f.cancel != nil {
				f.cancel()
				return out.String(), ctx.Err()
			}
			return out.String(), fmt.Errorf("%w: stream broke", models.ErrLLMUnavailable)
		}
		out.WriteString(tok)
		if onToken != nil {
			if err := onToken(tok); err != nil {
				return out.String(), err
			}
		}
	}
	return out.String(), nil
}

type fakeRetriever struct {
	calls   int
	results []*models.SearchResult
	lastVec []float32
}

func (f *fakeRetriever) SearchWithEmbedding(_ context.Context, q *models.SearchQuery, vec []float32) (*models.SearchResponse, error) {
	f.calls++
	f.lastVec = vec
	if len(vec) == 0 && q.Mode.NeedsEmbedding() {
		return nil, errors.New("missing embedding")
	}
	n := min(q.TopK, len(f.results))
	return &models.SearchResponse{Query: q.Query, Results: f.results[:n]}, nil
}

func retrieved() []*models.SearchResult {
	return []*models.SearchResult{
		{Chunk: &models.Chunk{ID: "a#0", Filename: "guide.pdf", Ordinal: 0, TotalChunks: 2, Text: "Install with make."}, Score: 0.9},
		{Chunk: &models.Chunk{ID: "b#1", Filename: "faq.md", Ordinal: 1, TotalChunks: 3, Text: "Ports default to 8080."}, Score: 0.5},
	}
}

func newRAG(t *testing.T, client llm.Client, r Retriever, hook func(State)) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(client, Options{RAG: true, TopK: 5, SystemPrompt: "be helpful", HistoryLimit: 20},
		WithRetriever(r, embedding.NewMockEmbedder(16)), WithStateHook(hook))
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestAsk_ragTurn(t *testing.T) {
	client := &fakeClient{tokens: []string{"Use ", "make."}}
	ret := &fakeRetriever{results: retrieved()}
	var states []State
	o := newRAG(t, client, ret, func(s State) { states = append(states, s) })

	var streamed strings.Builder
	turn, err := o.Ask(context.Background(), "  how do I install?  ", func(tok string) error {
		streamed.WriteString(tok)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if turn.Response != "Use make." || streamed.String() != "Use make." || turn.Interrupted {
		t.Errorf("turn = %+v, streamed %q", turn, streamed.String())
	}
	if len(turn.Sources) != 2 || ret.calls != 1 {
		t.Errorf("sources = %d, retriever calls = %d", len(turn.Sources), ret.calls)
	}

	want := []State{StateReceiveQuery, StateEmbedQuery, StateRetrieveContext, StateBuildPrompt, StateStreamResponse, StateAppendHistory}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", states, want)
	}

	req := client.requests[0]
	if !req.Stream {
		t.Error("request should stream")
	}
	if len(req.Messages) != 3 {
		t.Fatalf("prompt has %d messages, want system, context, question", len(req.Messages))
	}
	ctxMsg := req.Messages[1].Content
	if !strings.Contains(ctxMsg, "guide.pdf (chunk 1 of 2)") || !strings.Contains(ctxMsg, "Ports default to 8080.") {
		t.Errorf("context message = %q", ctxMsg)
	}
	if q := req.Messages[2]; q.Role != models.RoleUser || q.Content != "how do I install?" {
		t.Errorf("question message = %+v", q)
	}

	h := o.History()
	if len(h) != 2 || h[0].Content != "how do I install?" || h[1].Role != models.RoleAssistant || h[1].Content != "Use make." {
		t.Errorf("history = %+v", h)
	}
}

func TestAsk_keywordModeSkipsEmbedding(t *testing.T) {
	client := &fakeClient{tokens: []string{"ok"}}
	ret := &fakeRetriever{results: retrieved()}
	var states []State
	o, err := NewOrchestrator(client, Options{RAG: true, TopK: 5, Mode: models.ModeKeyword},
		WithRetriever(ret, embedding.NewMockEmbedder(16)), WithStateHook(func(s State) { states = append(states, s) }))
	if err != nil {
		t.Fatal(err)
	}
	turn, err := o.Ask(context.Background(), "ports", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ret.calls != 1 || ret.lastVec != nil || len(turn.Sources) != 2 {
		t.Errorf("calls = %d, vec = %v, sources = %d", ret.calls, ret.lastVec, len(turn.Sources))
	}
	for _, s := range states {
		if s == StateEmbedQuery {
			t.Errorf("keyword retrieval embedded the question: %v", states)
		}
	}
}

func TestAsk_historyIsSentOnNextTurn(t *testing.T) {
	client := &fakeClient{tokens: []string{"ok"}}
	o := newRAG(t, client, &fakeRetriever{}, nil)
	ctx := context.Background()
	if _, err := o.Ask(ctx, "first", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Ask(ctx, "second", nil); err != nil {
		t.Fatal(err)
	}
	// No results means no context message: system, user, assistant, user.
	msgs := client.requests[1].Messages
	if len(msgs) != 4 || msgs[1].Content != "first" || msgs[2].Content != "ok" || msgs[3].Content != "second" {
		t.Errorf("second prompt = %+v", msgs)
	}
}

func TestAsk_ragDisabledSkipsRetrieval(t *testing.T) {
	client := &fakeClient{tokens: []string{"hi"}}
	ret := &fakeRetriever{results: retrieved()}
	var states []State
	o, err := NewOrchestrator(client, Options{RAG: false, SystemPrompt: "sys"},
		WithRetriever(ret, embedding.NewMockEmbedder(16)),
		WithStateHook(func(s State) { states = append(states, s) }))
	if err != nil {
		t.Fatal(err)
	}
	turn, err := o.Ask(context.Background(), "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ret.calls != 0 || len(turn.Sources) != 0 {
		t.Errorf("retriever called %d times with RAG disabled", ret.calls)
	}
	for _, s := range states {
		if s == StateEmbedQuery || s == StateRetrieveContext {
			t.Errorf("unexpected state %s", s)
		}
	}
	if msgs := client.requests[0].Messages; len(msgs) != 2 {
		t.Errorf("prompt = %+v, want system and question only", msgs)
	}
}

func TestAsk_cancelledLeavesHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeClient{tokens: []string{"ok"}}
	o := newRAG(t, client, &fakeRetriever{results: retrieved()}, nil)
	if _, err := o.Ask(context.Background(), "warm up", nil); err != nil {
		t.Fatal(err)
	}

	client.tokens = []string{"The ", "answer ", "is"}
	client.cutoff = 2
	client.cancel = cancel
	turn, err := o.Ask(ctx, "interrupt me", nil)
	if err != nil {
		t.Fatalf("interrupted turn returned error: %v", err)
	}
	if !turn.Interrupted || turn.Response != "The answer " {
		t.Errorf("turn = %+v", turn)
	}
	if h := o.History(); len(h) != 2 || h[0].Content != "warm up" {
		t.Errorf("history changed by interrupted turn: %+v", h)
	}
}

func TestAsk_generationFailureKeepsPartial(t *testing.T) {
	client := &fakeClient{tokens: []string{"par", "tial", "!"}, cutoff: 2}
	o := newRAG(t, client, &fakeRetriever{}, nil)
	turn, err := o.Ask(context.Background(), "question", nil)
	if !errors.Is(err, models.ErrLLMUnavailable) {
		t.Fatalf("err = %v, want ErrLLMUnavailable", err)
	}
	if turn == nil || turn.Response != "partial" || turn.Interrupted {
		t.Errorf("turn = %+v", turn)
	}
	if len(o.History()) != 0 {
		t.Error("failed turn was added to history")
	}
}

func TestAsk_emptyQuery(t *testing.T) {
	o := newRAG(t, &fakeClient{}, &fakeRetriever{}, nil)
	if _, err := o.Ask(context.Background(), "   ", nil); !errors.Is(err, models.ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestOrchestrator_clearAndCopy(t *testing.T) {
	o := newRAG(t, &fakeClient{tokens: []string{"a"}}, &fakeRetriever{}, nil)
	if _, err := o.Ask(context.Background(), "q", nil); err != nil {
		t.Fatal(err)
	}
	h := o.History()
	h[0].Content = "mutated"
	if o.History()[0].Content != "q" {
		t.Error("History() must return a copy")
	}
	o.Clear()
	if len(o.History()) != 0 {
		t.Error("Clear() left messages behind")
	}
	if o.SessionID() == "" {
		t.Error("empty session id")
	}
}

func TestNewOrchestrator_ragNeedsRetriever(t *testing.T) {
	if _, err := NewOrchestrator(&fakeClient{}, Options{RAG: true}); err == nil {
		t.Error("expected error enabling RAG without a retriever")
	}
}
