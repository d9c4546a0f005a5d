package search

import (
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/vector"
)

// FilterByThreshold keeps exact phrase matches and semantic matches whose similarity is at
// least threshold, then renumbers ranks.
func FilterByThreshold(matches []*models.Match, threshold float64) []*models.Match {
	filtered := matches[:0]
	for _, m := range matches {
		if m.Exact || m.Similarity >= threshold {
			filtered = append(filtered, m)
		}
	}
	for i, m := range filtered {
		m.Rank = i + 1
	}
	return filtered
}

// Attach joins matches with the text of their records. Matches whose record vanished are skipped.
func Attach(store *vector.Store, matches []*models.Match) []*models.SearchResult {
	results := make([]*models.SearchResult, 0, len(matches))
	for _, m := range matches {
		rec, err := store.Record(m.RecordID)
		if err != nil {
			continue
		}
		results = append(results, &models.SearchResult{Match: m, Text: rec.Text})
	}
	return results
}

// CountExact returns how many matches came from the phrase path.
func CountExact(matches []*models.Match) int {
	n := 0
	for _, m := range matches {
		if m.Exact {
			n++
		}
	}
	return n
}
