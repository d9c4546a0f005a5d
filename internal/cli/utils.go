// Package cli provides output formatting and an HTTP client for the recall CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/server"
	"github.com/hyperjump/recall/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputCompact, OutputJSON:
		return OutputFormat(s), nil
	case "":
		return OutputText, nil
	}
	return "", fmt.Errorf("%w: unknown output format %q; use text, compact, or json", models.ErrInvalidArgument, s)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", r.Rank, r.Score, r.RecordID, TruncateWords(oneLine(r.Text), 12))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms (%d exact, %d semantic)\n",
		response.Total, response.QueryTime, response.TotalExact, response.Total-response.TotalExact)
	if response.Degraded {
		fmt.Fprintln(w, "semantic search disabled: phrase matches only")
	}
	if response.UsedIndex {
		fmt.Fprintln(w, "answered by proximity index")
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		source := "semantic"
		if result.Exact {
			source = "exact"
		}
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "[%s] Rank: %d | Score: %.4f (Similarity: %.4f)\n", source, result.Rank, result.Score, result.Similarity)
		fmt.Fprintf(w, "ID: %s\n", result.RecordID)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(result.Text, 200))
	}
}

// WriteRecord writes one record. Text output omits the embedding values.
func WriteRecord(w io.Writer, rec *models.Record, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rec)
	}
	dims := 0
	if rec.Embedding != nil {
		dims = rec.Embedding.Dimensions()
	}
	fmt.Fprintf(w, "id:          %s\n", rec.ID)
	fmt.Fprintf(w, "dimensions:  %d\n", dims)
	fmt.Fprintf(w, "created_at:  %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "updated_at:  %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "\n%s\n", rec.Text)
	return nil
}

// WriteStatus writes a status report.
func WriteStatus(w io.Writer, status *server.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	if status.Status != nil {
		fmt.Fprintf(w, "method:             %s\n", status.Method)
		fmt.Fprintf(w, "semantic_enabled:   %t\n", status.Settings.Enabled)
		fmt.Fprintf(w, "threshold:          %.2f\n", status.Settings.Threshold)
		fmt.Fprintf(w, "vocabulary_size:    %d   # distinct terms seen\n", status.Corpus.VocabularySize)
		fmt.Fprintf(w, "total_documents:    %d   # documents observed\n", status.Corpus.TotalDocuments)
		fmt.Fprintf(w, "persisted_owners:   %s\n", strings.Join(status.Persisted, ", "))
		for _, o := range status.Open {
			fmt.Fprintf(w, "owner %s: %d records (capacity %d)", o.OwnerID, o.Records, o.Capacity)
			if o.Index != nil {
				fmt.Fprintf(w, ", index %d nodes, max layer %d, %d deleted", o.Index.Nodes, o.Index.MaxLayer, o.Index.Deleted)
			}
			fmt.Fprintln(w)
		}
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *status.DiskUsageBytes)
	}
	if status.Config != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "backend:            %s\n", status.Config.Backend)
		fmt.Fprintf(w, "embedding_dims:     %d\n", status.Config.EmbeddingDimensions)
		fmt.Fprintf(w, "index_min_vectors:  %d\n", status.Config.IndexMinVectors)
		for _, p := range []string{status.Config.DatabasePath, status.Config.JSONLDir, status.Config.BoltPath} {
			if p != "" {
				fmt.Fprintf(w, "path:               %s\n", p)
			}
		}
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
