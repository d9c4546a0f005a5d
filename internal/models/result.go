package models

// Match is a single vector search hit.
type Match struct {
	RecordID   string  `json:"record_id"`
	Similarity float64 `json:"similarity"`
	// Score orders results: 1.0 for an exact phrase hit, otherwise the similarity.
	Score float64 `json:"score"`
	Exact bool    `json:"exact"`
	Rank  int     `json:"rank"`
}

// SearchResult is a Match joined with the record text for callers that display it.
type SearchResult struct {
	*Match
	Text string `json:"text"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results    []*SearchResult `json:"results"`
	Total      int             `json:"total"`
	TotalExact int             `json:"total_exact"`
	QueryTime  int64           `json:"query_time_ms"`
	Query      string          `json:"query"`
	OwnerID    string          `json:"owner_id"`
	// Degraded is set when semantic search was skipped and only the phrase path ran.
	Degraded bool `json:"degraded,omitempty"`
	// UsedIndex reports whether the proximity index answered the semantic part.
	UsedIndex bool `json:"used_index,omitempty"`
}
