// Package cli formats ragcli command output as styled text tables or JSON.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat accepts "text" or "json"; empty means text.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

const previewLen = 150

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	Panel(w, fmt.Sprintf("%s %s\n%s", Title("Query:"), response.Query,
		dimStyle.Render(fmt.Sprintf("Index: %s | Mode: %s | %d results in %dms",
			response.Index, response.Mode, len(response.Results), response.QueryTime))))
	if len(response.Results) == 0 {
		Warn(w, "No results found")
		return nil
	}
	t := newTable("Rank", "Score", "Source", "Text Preview")
	for _, r := range response.Results {
		t.Row(
			strconv.Itoa(r.Rank),
			fmt.Sprintf("%.4f", r.Score),
			sourceStyle.Render(chunkLabel(r.Chunk)),
			preview(r),
		)
	}
	fmt.Fprintln(w, t.Render())
	return nil
}

func preview(r *models.SearchResult) string {
	if r.Preview != "" {
		return r.Preview
	}
	return utils.Truncate(utils.OneLine(r.Chunk.Text), previewLen)
}

func chunkLabel(c *models.Chunk) string {
	return fmt.Sprintf("%s [%d/%d]", utils.Truncate(c.Filename, 28), c.Ordinal+1, c.TotalChunks)
}

// WriteSources lists the documents a chat answer drew on.
func WriteSources(w io.Writer, results []*models.SearchResult) {
	if len(results) == 0 {
		return
	}
	var parts []string
	for i, r := range results {
		parts = append(parts, fmt.Sprintf("[%d] %s (%.2f)", i+1, chunkLabel(r.Chunk), r.Score))
	}
	Dim(w, "Sources: %s", strings.Join(parts, ", "))
}

// WriteDocuments lists the documents of an index.
func WriteDocuments(w io.Writer, index string, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		return WriteJSON(w, map[string]interface{}{"index": index, "documents": docs})
	}
	if len(docs) == 0 {
		Warn(w, "No documents in index '%s'", index)
		return nil
	}
	t := newTable("Filename", "Chunks", "Size", "Updated")
	for _, d := range docs {
		t.Row(d.Filename, strconv.Itoa(d.TotalChunks), utils.HumanBytes(d.SizeBytes), d.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(w, Title(fmt.Sprintf("Documents in '%s' (%d)", index, len(docs))))
	fmt.Fprintln(w, t.Render())
	return nil
}

// WriteIndices lists indices with their stats. current is marked.
func WriteIndices(w io.Writer, indices []*models.IndexStats, current string, format OutputFormat) error {
	if format == OutputJSON {
		if indices == nil {
			indices = []*models.IndexStats{}
		}
		return WriteJSON(w, map[string]interface{}{"current": current, "indices": indices})
	}
	if len(indices) == 0 {
		Warn(w, "No indices yet. Run 'ragcli upload <path>' to create one.")
		return nil
	}
	t := newTable("Index", "Docs", "Chunks", "Backend", "Dims", "Size")
	for _, s := range indices {
		name := s.Name
		if name == current {
			name += " *"
		}
		t.Row(name, strconv.Itoa(s.Documents), strconv.Itoa(s.Chunks), s.VectorBackend, strconv.Itoa(s.Dimensions), utils.HumanBytes(s.DiskBytes))
	}
	fmt.Fprintln(w, Title("Indices"))
	fmt.Fprintln(w, t.Render())
	return nil
}

// Check is one line of a status report.
type Check struct {
	Name   string   `json:"name"`
	OK     bool     `json:"ok"`
	Detail string   `json:"detail,omitempty"`
	Items  []string `json:"items,omitempty"`
}

// WriteStatus writes the outcome of the status checks.
func WriteStatus(w io.Writer, checks []Check, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]interface{}{"checks": checks})
	}
	Panel(w, Title("System Status Check"))
	for _, c := range checks {
		if c.OK {
			Success(w, "%s: %s", c.Name, c.Detail)
		} else {
			Failure(w, "%s: %s", c.Name, c.Detail)
		}
		for _, item := range c.Items {
			Dim(w, "    • %s", item)
		}
	}
	return nil
}

// IngestSummary counts the outcomes of a batch ingest.
type IngestSummary struct {
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Chunks   int `json:"chunks"`
}

// Summarize counts results by outcome.
func Summarize(results []*models.IngestResult) IngestSummary {
	var s IngestSummary
	for _, r := range results {
		switch {
		case r.Err != nil || r.Error != "":
			s.Failed++
		case r.Skipped:
			s.Skipped++
		default:
			s.Ingested++
			s.Chunks += r.Chunks
		}
	}
	return s
}

// WriteIngestResults reports a batch ingest, one line per file.
func WriteIngestResults(w io.Writer, index string, results []*models.IngestResult, format OutputFormat) error {
	sum := Summarize(results)
	if format == OutputJSON {
		if results == nil {
			results = []*models.IngestResult{}
		}
		return WriteJSON(w, map[string]interface{}{"index": index, "results": results, "summary": sum})
	}
	for _, r := range results {
		switch {
		case r.Err != nil || r.Error != "":
			msg := r.Error
			if msg == "" {
				msg = r.Err.Error()
			}
			Failure(w, "%s: %s", r.Path, msg)
		case r.Skipped:
			Dim(w, "- %s unchanged, skipped", r.Path)
		default:
			Success(w, "%s: %d chunks", r.Path, r.Chunks)
		}
	}
	fmt.Fprintf(w, "\nIndex '%s': %d ingested (%d chunks), %d skipped, %d failed\n",
		index, sum.Ingested, sum.Chunks, sum.Skipped, sum.Failed)
	return nil
}
