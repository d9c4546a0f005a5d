package embedding

import "context"

// HashEmbedder maps each term's hash to a dimension. It is deterministic and needs no corpus.
type HashEmbedder struct {
	dimensions int
	opts       TermOptions
	spread     float64
}

// NewHashEmbedder returns a hash strategy of the given dimensions.
func NewHashEmbedder(dimensions int, opts TermOptions, neighborSpread float64) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions, opts: opts, spread: neighborSpread}
}

// Document embeds text. Equivalent to Query.
func (e *HashEmbedder) Document(ctx context.Context, text string) ([]float32, error) {
	return e.Query(ctx, text)
}

// Query embeds text by counting term occurrences per bucket.
func (e *HashEmbedder) Query(_ context.Context, text string) ([]float32, error) {
	values := make([]float32, e.dimensions)
	for _, term := range Terms(text, e.opts) {
		spread(values, HashTerm(term.Text, e.dimensions), float64(term.Frequency), e.spread)
	}
	return values, nil
}

// Method returns MethodHash.
func (e *HashEmbedder) Method() Method { return MethodHash }

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op.
func (e *HashEmbedder) Close() error { return nil }
