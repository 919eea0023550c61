package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/ragcli/internal/models"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:     "test query",
		Index:     "rag_index",
		Mode:      models.ModeHybrid,
		QueryTime: 42,
		Total:     1,
		Results: []*models.SearchResult{{
			Rank:  1,
			Score: 0.9,
			Chunk: &models.Chunk{
				ID:          "doc#0",
				Filename:    "report.pdf",
				Ordinal:     0,
				TotalChunks: 3,
				Text:        "Revenue grew\nin the second quarter.",
			},
		}},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.SearchResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Query != "test query" || len(decoded.Results) != 1 || decoded.Results[0].Chunk.Filename != "report.pdf" {
		t.Errorf("decoded %+v", decoded)
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"test query", "report.pdf [1/3]", "0.9000", "Revenue grew in the second quarter."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSearchResults_usesPreview(t *testing.T) {
	resp := sampleResponse()
	resp.Results[0].Preview = "Revenue grew..."
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "Revenue grew...") || strings.Contains(out, "second quarter") {
		t.Errorf("output should show the preview:\n%s", out)
	}
}

func TestWriteSearchResults_empty(t *testing.T) {
	resp := sampleResponse()
	resp.Results = nil
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No results found") {
		t.Errorf("output: %s", buf.String())
	}
}

func TestWriteDocumentsAndIndices(t *testing.T) {
	docs := []*models.Document{{Filename: "a.pdf", TotalChunks: 4, SizeBytes: 2048, UpdatedAt: time.Now()}}
	var buf bytes.Buffer
	if err := WriteDocuments(&buf, "papers", docs, OutputText); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "a.pdf") || !strings.Contains(out, "2.0 KiB") {
		t.Errorf("documents output:\n%s", out)
	}

	buf.Reset()
	if err := WriteDocuments(&buf, "papers", nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"documents": []`) {
		t.Errorf("empty JSON list expected, got %s", buf.String())
	}

	buf.Reset()
	stats := []*models.IndexStats{{Name: "papers", Documents: 1, Chunks: 4, VectorBackend: "memory", Dimensions: 768}}
	if err := WriteIndices(&buf, stats, "papers", OutputText); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "papers *") || !strings.Contains(out, "memory") {
		t.Errorf("indices output:\n%s", out)
	}
}

func TestSummarizeAndWriteIngestResults(t *testing.T) {
	results := []*models.IngestResult{
		{Path: "/d/a.pdf", Chunks: 3},
		{Path: "/d/b.pdf", Chunks: 2, Skipped: true},
		{Path: "/d/c.pdf", Err: errors.New("corrupt"), Error: "corrupt"},
		{Path: "/d/d.txt", Chunks: 1},
	}
	sum := Summarize(results)
	if sum != (IngestSummary{Ingested: 2, Skipped: 1, Failed: 1, Chunks: 4}) {
		t.Errorf("summary = %+v", sum)
	}
	var buf bytes.Buffer
	if err := WriteIngestResults(&buf, "rag_index", results, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"/d/a.pdf: 3 chunks", "/d/c.pdf: corrupt", "2 ingested (4 chunks), 1 skipped, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteStatus(t *testing.T) {
	checks := []Check{
		{Name: "Ollama", OK: true, Detail: "0.5.1", Items: []string{"llama3.2"}},
		{Name: "Index", OK: false, Detail: "not found"},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, checks, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "✓ Ollama: 0.5.1") || !strings.Contains(out, "✗ Index: not found") || !strings.Contains(out, "llama3.2") {
		t.Errorf("status output:\n%s", out)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"yes", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := Confirm(strings.NewReader(tt.in), &out, "Delete?"); got != tt.want {
			t.Errorf("Confirm(%q) = %v", tt.in, got)
		}
		if !strings.Contains(out.String(), "Delete? [y/N]") {
			t.Errorf("prompt: %q", out.String())
		}
	}
}
