package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

func parseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSummary prints the counts of an index run.
func WriteSummary(w io.Writer, action string, s models.Summary) {
	fmt.Fprintf(w, "%s: %d indexed, %d updated, %d removed, %d unchanged, %d failed\n",
		action, s.Indexed, s.Updated, s.Removed, s.Unchanged, s.Failed)
}

// Diagnostics is the output of the debug command.
type Diagnostics struct {
	Backends models.HealthReport `json:"backends"`
	Index    *models.IndexStats  `json:"index"`
	Config   DiagnosticsConfig   `json:"config"`
}

// DiagnosticsConfig is the effective configuration shown by the debug command.
type DiagnosticsConfig struct {
	Embedder         string   `json:"embedder"`
	EmbedderModel    string   `json:"embedder_model,omitempty"`
	Dimensions       int      `json:"dimensions"`
	VectorDB         string   `json:"vector_db"`
	Collection       string   `json:"collection"`
	LLM              string   `json:"llm"`
	LLMModel         string   `json:"llm_model,omitempty"`
	TopK             int      `json:"top_k"`
	ChunkSize        int      `json:"chunk_size"`
	ChunkOverlap     int      `json:"chunk_overlap"`
	PageTypes        []string `json:"page_types,omitempty"`
	AssistantEnabled bool     `json:"assistant_enabled"`
	DatabasePath     string   `json:"database_path"`
	ContentDirectory string   `json:"content_directory"`
}

// WriteDiagnostics prints d in the given format.
func WriteDiagnostics(w io.Writer, d *Diagnostics, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, d)
	}
	b := d.Backends
	fmt.Fprintf(w, "status:             %s\n", b.Status)
	fmt.Fprintf(w, "embedder:           %s (%s)\n", b.Embedder, d.Config.Embedder)
	fmt.Fprintf(w, "vector_db:          %s (%s)\n", b.VectorDB, d.Config.VectorDB)
	fmt.Fprintf(w, "llm:                %s (%s)\n", b.LLM, d.Config.LLM)
	fmt.Fprintf(w, "vector_count:       %d\n", b.IndexedDocuments)
	if s := d.Index; s != nil {
		fmt.Fprintf(w, "active_pages:       %d\n", s.ActiveItems)
		fmt.Fprintf(w, "inactive_pages:     %d\n", s.InactiveItems)
		fmt.Fprintf(w, "chunk_records:      %d\n", s.ChunkRecords)
		for _, typ := range slices.Sorted(maps.Keys(s.ByContentType)) {
			fmt.Fprintf(w, "  %-18s%d\n", typ+":", s.ByContentType[typ])
		}
		if s.LastIndexedAt != nil {
			fmt.Fprintf(w, "last_indexed_at:    %s\n", s.LastIndexedAt.Format(time.RFC3339))
		} else {
			fmt.Fprintln(w, "last_indexed_at:    never")
		}
		fmt.Fprintf(w, "database_bytes:     %d\n", s.DatabaseBytes)
	}

	c := d.Config
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	if c.EmbedderModel != "" {
		fmt.Fprintf(w, "embedder_model:     %s\n", c.EmbedderModel)
	}
	fmt.Fprintf(w, "dimensions:         %d\n", c.Dimensions)
	fmt.Fprintf(w, "collection:         %s\n", c.Collection)
	if c.LLMModel != "" {
		fmt.Fprintf(w, "llm_model:          %s\n", c.LLMModel)
	}
	fmt.Fprintf(w, "top_k:              %d\n", c.TopK)
	fmt.Fprintf(w, "chunk_size:         %d\n", c.ChunkSize)
	fmt.Fprintf(w, "chunk_overlap:      %d\n", c.ChunkOverlap)
	if len(c.PageTypes) > 0 {
		fmt.Fprintf(w, "page_types:         %v\n", c.PageTypes)
	}
	fmt.Fprintf(w, "assistant_enabled:  %t\n", c.AssistantEnabled)
	fmt.Fprintf(w, "database_path:      %s\n", c.DatabasePath)
	fmt.Fprintf(w, "content_directory:  %s\n", c.ContentDirectory)
	return nil
}

// WriteSources prints the numbered source list of an answer.
func WriteSources(w io.Writer, sources []models.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for i, s := range sources {
		title := s.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(w, "  [%d] %s  %s (%.3f)\n", i+1, title, s.URL, s.Score)
	}
}
