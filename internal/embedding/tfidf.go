package embedding

import (
	"context"

	"github.com/hyperjump/recall/internal/corpus"
)

// TFIDFEmbedder weights each term by its frequency in the text times its inverse document
// frequency in the corpus. Terms the corpus has never seen weigh zero.
type TFIDFEmbedder struct {
	stats      *corpus.Stats
	dimensions int
	opts       TermOptions
	spread     float64
}

// NewTFIDFEmbedder returns a statistical strategy backed by stats.
func NewTFIDFEmbedder(stats *corpus.Stats, dimensions int, opts TermOptions, neighborSpread float64) *TFIDFEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &TFIDFEmbedder{stats: stats, dimensions: dimensions, opts: opts, spread: neighborSpread}
}

// Document records text in the corpus statistics and then embeds it.
func (e *TFIDFEmbedder) Document(_ context.Context, text string) ([]float32, error) {
	terms := Terms(text, e.opts)
	if len(terms) > 0 {
		e.stats.Observe(TermStrings(terms))
	}
	return e.weigh(terms, e.stats.View()), nil
}

// Query embeds text against a read-only view of the corpus.
func (e *TFIDFEmbedder) Query(_ context.Context, text string) ([]float32, error) {
	return e.weigh(Terms(text, e.opts), e.stats.View()), nil
}

// Observe records text without embedding it. Used when rebuilding statistics from stored records.
func (e *TFIDFEmbedder) Observe(text string) {
	terms := Terms(text, e.opts)
	if len(terms) > 0 {
		e.stats.Observe(TermStrings(terms))
	}
}

func (e *TFIDFEmbedder) weigh(terms []Term, view corpus.View) []float32 {
	values := make([]float32, e.dimensions)
	total := 0
	for _, t := range terms {
		total += t.Frequency
	}
	if total == 0 {
		return values
	}
	for _, t := range terms {
		idf := corpus.IDF(view, t.Text)
		if idf == 0 {
			continue
		}
		tf := float64(t.Frequency) / float64(total)
		spread(values, HashTerm(t.Text, e.dimensions), tf*idf, e.spread)
	}
	return values
}

// Stats returns a read-only view of the corpus statistics.
func (e *TFIDFEmbedder) Stats() corpus.View { return e.stats.View() }

// Method returns MethodStatistical.
func (e *TFIDFEmbedder) Method() Method { return MethodStatistical }

// Dimensions returns the embedding dimension.
func (e *TFIDFEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op.
func (e *TFIDFEmbedder) Close() error { return nil }
