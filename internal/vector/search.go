package vector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/models"
)

// Search returns at most k matches for query, best first.
//
// Records whose text contains query as a case-insensitive substring come first with
// Score 1 and Exact set, ordered by similarity and then insertion order. The remaining
// slots go to records ranked by cosine similarity to the query embedding, which is built
// without touching corpus statistics. Semantic matches with similarity <= 0 are dropped.
// The semantic pass uses the proximity index once one is built and the store holds at
// least MinIndexVectors records; otherwise every record is compared.
func (s *Store) Search(ctx context.Context, query string, k int) ([]*models.Match, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", models.ErrInvalidArgument)
	}
	if k <= 0 || len(s.entries) == 0 {
		return nil, nil
	}

	q, embedErr := embedding.CreateQuery(ctx, s.strategy, query)

	exact := s.exactMatches(query, q)
	if embedErr != nil {
		if len(exact) == 0 {
			return nil, fmt.Errorf("embed query: %w", embedErr)
		}
		s.logger.Warn("query embedding failed, returning phrase matches only", zap.Error(embedErr))
		return rank(truncate(exact, k)), nil
	}
	if len(exact) >= k {
		return rank(exact[:k]), nil
	}

	seen := make(map[string]struct{}, len(exact))
	for _, m := range exact {
		seen[m.RecordID] = struct{}{}
	}
	semantic, err := s.semanticMatches(q, k+len(exact))
	if err != nil {
		return nil, err
	}
	matches := exact
	for _, m := range semantic {
		if len(matches) == k {
			break
		}
		if _, dup := seen[m.RecordID]; dup || m.Similarity <= 0 {
			continue
		}
		matches = append(matches, m)
	}
	return rank(matches), nil
}

// UsesIndex reports whether Search would consult the proximity index.
func (s *Store) UsesIndex() bool {
	return s.index != nil && s.opts.IndexEnabled && len(s.entries) >= s.opts.MinIndexVectors
}

func (s *Store) exactMatches(query string, q *models.Embedding) []*models.Match {
	needle := strings.ToLower(query)
	var out []*models.Match
	for _, rec := range s.entries {
		if !strings.Contains(strings.ToLower(rec.Text), needle) {
			continue
		}
		out = append(out, &models.Match{
			RecordID:   rec.ID,
			Similarity: CosineSimilarity(q, rec.Embedding),
			Score:      1,
			Exact:      true,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

func (s *Store) semanticMatches(q *models.Embedding, k int) ([]*models.Match, error) {
	if q.Magnitude == 0 {
		return nil, nil
	}
	if s.UsesIndex() {
		hits, err := s.index.Search(q, k)
		if err != nil {
			return nil, fmt.Errorf("index search: %w", err)
		}
		out := make([]*models.Match, 0, len(hits))
		for _, h := range hits {
			sim := 1 - h.Distance
			out = append(out, &models.Match{RecordID: h.ID, Similarity: sim, Score: sim})
		}
		return out, nil
	}

	out := make([]*models.Match, 0, len(s.entries))
	for _, rec := range s.entries {
		sim := CosineSimilarity(q, rec.Embedding)
		out = append(out, &models.Match{RecordID: rec.ID, Similarity: sim, Score: sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return truncate(out, k), nil
}

func truncate(m []*models.Match, k int) []*models.Match {
	if len(m) > k {
		return m[:k]
	}
	return m
}

func rank(m []*models.Match) []*models.Match {
	for i := range m {
		m[i].Rank = i + 1
	}
	return m
}

// PhraseSearch returns only the case-insensitive substring matches for query, in insertion
// order, without embedding the query.
func (s *Store) PhraseSearch(query string, k int) []*models.Match {
	if query == "" || k <= 0 {
		return nil
	}
	return rank(truncate(s.exactMatches(query, nil), k))
}
