package search

import "github.com/hyperjump/recall/internal/models"

// ProcessQuery validates and applies defaults to the search query.
func ProcessQuery(query *models.SearchQuery, maxResults int) error {
	return query.Validate(maxResults)
}
