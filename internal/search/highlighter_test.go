package search

import (
	"testing"

	"github.com/hyperjump/ragcli/internal/config"
	"github.com/hyperjump/ragcli/internal/models"
)

func TestHighlight(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"x", 0, "x"},
		{"long text here", 4, "long..."},
		{"the quick brown fox", 12, "the quick..."},
		{"héllo wörld ñandú", 7, "héllo..."},
		{"日本語のテキスト", 3, "日本語..."},
	}
	for _, tt := range tests {
		if got := Highlight(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("Highlight(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestProcessQuery(t *testing.T) {
	cfg := &config.SearchConfig{TopK: 7, MaxTopK: 20, Mode: "keyword", KeywordWeight: 0.3, SemanticWeight: 0.7}

	q := &models.SearchQuery{Query: " hi "}
	if err := ProcessQuery(q, cfg); err != nil {
		t.Fatal(err)
	}
	if q.Query != "hi" || q.TopK != 7 || q.Mode != models.ModeKeyword || q.KeywordWeight != 0.3 {
		t.Errorf("defaults not applied: %+v", q)
	}

	q = &models.SearchQuery{Query: "hi", TopK: 50, Mode: models.ModeHybrid, KeywordWeight: 1}
	if err := ProcessQuery(q, cfg); err != nil {
		t.Fatal(err)
	}
	if q.TopK != 20 || q.Mode != models.ModeHybrid || q.KeywordWeight != 1 || q.SemanticWeight != 0 {
		t.Errorf("explicit values overridden: %+v", q)
	}

	q = &models.SearchQuery{Query: "hi"}
	if err := ProcessQuery(q, nil); err != nil {
		t.Fatal(err)
	}
	if q.TopK != models.DefaultTopK || q.Mode != models.ModeHybrid {
		t.Errorf("nil config defaults: %+v", q)
	}
}
