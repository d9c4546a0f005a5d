// Package corpus tracks document frequencies for statistical term weighting.
//
// A *Stats is the mutable handle owned by whoever stores documents. Query paths only
// ever see a View, which has no mutating methods.
package corpus

import "math"

// View is a read-only window onto corpus statistics.
type View interface {
	DocumentFrequency(term string) int
	TotalDocuments() int
	VocabularySize() int
}

// Stats holds the vocabulary, per-term document frequency and document count.
// It performs no locking; callers serialize access.
type Stats struct {
	df        map[string]int
	totalDocs int
}

// NewStats returns empty statistics.
func NewStats() *Stats {
	return &Stats{df: make(map[string]int)}
}

// Observe records one document given its tokens. Repeated tokens count once.
func (s *Stats) Observe(terms []string) {
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		s.df[t]++
	}
	s.totalDocs++
}

// DocumentFrequency returns how many observed documents contained term.
func (s *Stats) DocumentFrequency(term string) int {
	return s.df[term]
}

// TotalDocuments returns the number of observed documents.
func (s *Stats) TotalDocuments() int {
	return s.totalDocs
}

// VocabularySize returns the number of distinct terms observed.
func (s *Stats) VocabularySize() int {
	return len(s.df)
}

// Reset discards all statistics.
func (s *Stats) Reset() {
	s.df = make(map[string]int)
	s.totalDocs = 0
}

// View returns s as a read-only View. The view reflects later mutations of s.
func (s *Stats) View() View {
	return readOnly{s}
}

// Snapshot returns a copy that later Observe calls do not affect.
func (s *Stats) Snapshot() View {
	df := make(map[string]int, len(s.df))
	for k, v := range s.df {
		df[k] = v
	}
	return readOnly{&Stats{df: df, totalDocs: s.totalDocs}}
}

// Summary is a point-in-time readout of corpus size.
type Summary struct {
	VocabularySize int `json:"vocabulary_size"`
	TotalDocuments int `json:"total_documents"`
}

// Summarize returns the current vocabulary size and document count.
func Summarize(v View) Summary {
	return Summary{VocabularySize: v.VocabularySize(), TotalDocuments: v.TotalDocuments()}
}

type readOnly struct {
	s *Stats
}

func (r readOnly) DocumentFrequency(term string) int { return r.s.DocumentFrequency(term) }
func (r readOnly) TotalDocuments() int               { return r.s.TotalDocuments() }
func (r readOnly) VocabularySize() int               { return r.s.VocabularySize() }

// IDF returns the smoothed inverse document frequency log((N+1)/df) for a known term
// and 0 for a term the corpus has never seen.
func IDF(v View, term string) float64 {
	df := v.DocumentFrequency(term)
	n := v.TotalDocuments()
	if df <= 0 || n <= 0 {
		return 0
	}
	return math.Log(float64(n+1) / float64(df))
}
