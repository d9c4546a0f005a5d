package models

import "fmt"

// SearchQuery represents a search request against one owner's store.
type SearchQuery struct {
	OwnerID   string   `json:"owner_id"`
	Query     string   `json:"query"`
	Limit     int      `json:"limit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"` // overrides the configured semantic threshold
}

// Validate ensures the search query has valid fields and sets defaults.
// maxResults caps Limit; a non-positive maxResults means 100.
func (q *SearchQuery) Validate(maxResults int) error {
	if q.OwnerID == "" {
		return fmt.Errorf("%w: owner_id cannot be empty", ErrInvalidArgument)
	}
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidArgument)
	}
	if maxResults <= 0 {
		maxResults = 100
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > maxResults {
		q.Limit = maxResults
	}
	if q.Threshold != nil && (*q.Threshold < 0 || *q.Threshold > 1) {
		return fmt.Errorf("%w: threshold must be within [0,1], got %f", ErrInvalidArgument, *q.Threshold)
	}
	return nil
}

// SemanticSettings is the runtime-adjustable part of semantic search.
type SemanticSettings struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Threshold  float64 `json:"threshold" yaml:"threshold"`
	Method     string  `json:"method" yaml:"method"`
	MaxResults int     `json:"max_results" yaml:"max_results"`
}

// Validate checks the threshold range and max results.
func (s SemanticSettings) Validate() error {
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [0,1], got %f", ErrInvalidArgument, s.Threshold)
	}
	if s.MaxResults < 0 {
		return fmt.Errorf("%w: max_results must not be negative", ErrInvalidArgument)
	}
	return nil
}
