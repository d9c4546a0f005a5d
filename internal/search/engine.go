// Package search provides the engine that owns every vector store and serializes access to them.
package search

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/corpus"
	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/hnsw"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/internal/vector"
	"github.com/hyperjump/recall/pkg/utils"
)

// Engine runs hybrid (exact phrase + semantic) search over per-owner stores. Stores, the
// proximity indexes and corpus statistics do no locking of their own; every Engine method
// holds mu for its whole duration.
type Engine struct {
	mu        sync.Mutex
	embedCfg  config.EmbeddingConfig
	stats     *corpus.Stats
	persister storage.Persister
	strategy  embedding.Strategy
	stores    map[string]*vector.Store
	settings  models.SemanticSettings
	opts      vector.Options
	logger    *zap.Logger
}

// OwnerStatus describes one open store.
type OwnerStatus struct {
	OwnerID  string      `json:"owner_id"`
	Records  int         `json:"records"`
	Capacity int         `json:"capacity"`
	Indexed  bool        `json:"indexed"`
	Index    *hnsw.Stats `json:"index,omitempty"`
}

// Status is a snapshot of the engine.
type Status struct {
	Method    string                  `json:"method"`
	Settings  models.SemanticSettings `json:"settings"`
	Corpus    corpus.Summary          `json:"corpus"`
	Open      []OwnerStatus           `json:"open"`
	Persisted []string                `json:"persisted"`
}

// NewEngine builds the embedding strategy named by cfg and an engine around persister.
// The engine copies what it needs from cfg and never writes to it. It does not own
// persister; callers close it after Close.
func NewEngine(cfg *config.Config, persister storage.Persister, logger *zap.Logger) (*Engine, error) {
	if cfg == nil || persister == nil {
		return nil, fmt.Errorf("%w: config and persister are required", models.ErrInvalidArgument)
	}
	logger = utils.OrNop(logger)
	stats := corpus.NewStats()
	strategy, err := embedding.New(cfg.Embedding, stats, logger)
	if err != nil {
		return nil, fmt.Errorf("embedding strategy: %w", err)
	}
	e := &Engine{
		embedCfg:  cfg.Embedding,
		stats:     stats,
		persister: persister,
		strategy:  strategy,
		stores:    make(map[string]*vector.Store),
		settings:  SettingsFromConfig(cfg),
		opts:      vector.OptionsFromConfig(cfg),
		logger:    logger,
	}
	e.settings.Method = string(strategy.Method())
	logger.Info("search engine ready",
		zap.String("method", e.settings.Method),
		zap.Int("dimensions", strategy.Dimensions()),
		zap.Bool("semantic", e.settings.Enabled))
	return e, nil
}

// SettingsFromConfig extracts the runtime-adjustable semantic settings from cfg.
func SettingsFromConfig(cfg *config.Config) models.SemanticSettings {
	return models.SemanticSettings{
		Enabled:    cfg.Semantic.EnabledOrDefault(),
		Threshold:  cfg.Semantic.ThresholdOrDefault(),
		Method:     cfg.Embedding.Method,
		MaxResults: cfg.Semantic.MaxResults,
	}
}

// Open initializes the store for ownerID. An already open store is kept unless forceNew is
// set, in which case it is replaced by an empty one.
func (e *Engine) Open(ctx context.Context, ownerID string, forceNew bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.stores[ownerID]; ok && !forceNew {
		return nil
	}
	s, err := vector.Open(ctx, ownerID, forceNew, e.strategy, e.persister, e.opts, e.logger)
	if err != nil {
		return err
	}
	e.stores[ownerID] = s
	return nil
}

// Store embeds and stores text under recordID for ownerID, generating an id when recordID
// is empty. The id is returned even when the error is a *models.PersistError.
func (e *Engine) Store(ctx context.Context, ownerID, recordID, text string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.store(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if recordID == "" {
		recordID = uuid.NewString()
	}
	if err := s.Store(ctx, recordID, text); err != nil {
		if models.IsNotDurable(err) {
			return recordID, err
		}
		return "", err
	}
	return recordID, nil
}

// Get returns the record stored under recordID.
func (e *Engine) Get(ctx context.Context, ownerID, recordID string) (*models.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.store(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.Record(recordID)
}

// Delete removes recordID from ownerID's store.
func (e *Engine) Delete(ctx context.Context, ownerID, recordID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.store(ctx, ownerID)
	if err != nil {
		return err
	}
	return s.Delete(ctx, recordID)
}

// Search runs the query against the owner's store. Exact phrase hits come first with score 1;
// semantic hits below the threshold are dropped. With semantic search disabled only the
// phrase path runs and the response is marked degraded.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ProcessQuery(query, e.settings.MaxResults); err != nil {
		return nil, err
	}
	s, err := e.store(ctx, query.OwnerID)
	if err != nil {
		return nil, err
	}

	resp := &models.SearchResponse{Query: query.Query, OwnerID: query.OwnerID}
	var matches []*models.Match
	if !e.settings.Enabled {
		e.logger.Info("semantic search disabled, phrase matching only", zap.String("owner", query.OwnerID))
		matches = s.PhraseSearch(query.Query, query.Limit)
		resp.Degraded = true
	} else {
		matches, err = s.Search(ctx, query.Query, query.Limit)
		if err != nil {
			return nil, err
		}
		threshold := e.settings.Threshold
		if query.Threshold != nil {
			threshold = *query.Threshold
		}
		matches = FilterByThreshold(matches, threshold)
		resp.UsedIndex = s.UsesIndex()
	}

	resp.Results = Attach(s, matches)
	resp.Total = len(resp.Results)
	resp.TotalExact = CountExact(matches)
	resp.QueryTime = time.Since(start).Milliseconds()
	e.logger.Debug("search completed",
		zap.String("owner", query.OwnerID),
		zap.Int("results", resp.Total),
		zap.Int("exact", resp.TotalExact),
		zap.Int64("query_time_ms", resp.QueryTime))
	return resp, nil
}

// BuildIndex builds the proximity index for ownerID.
func (e *Engine) BuildIndex(ctx context.Context, ownerID string) (hnsw.Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.store(ctx, ownerID)
	if err != nil {
		return hnsw.Stats{}, err
	}
	return s.BuildIndex()
}

// Regenerate recomputes corpus statistics from every open store and then re-embeds and
// re-persists every record of ownerID. It returns the number of vectors re-created.
func (e *Engine) Regenerate(ctx context.Context, ownerID string, progress func(done, total int)) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.store(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	if observer, ok := e.strategy.(embedding.Observer); ok {
		e.rebuildCorpus(observer)
	}
	return s.Regenerate(ctx, progress)
}

// rebuildCorpus resets corpus statistics and observes every record of every open store.
func (e *Engine) rebuildCorpus(observer embedding.Observer) {
	e.stats.Reset()
	for _, id := range e.ownerIDs() {
		for _, rec := range e.stores[id].Records() {
			observer.Observe(rec.Text)
		}
	}
	sum := corpus.Summarize(e.stats.View())
	e.logger.Info("corpus statistics rebuilt",
		zap.Int("documents", sum.TotalDocuments), zap.Int("vocabulary", sum.VocabularySize))
}

// Settings returns the current semantic settings.
func (e *Engine) Settings() models.SemanticSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Configure replaces the semantic settings. A new method builds a new strategy and switches
// every open store to it. Strategies that keep corpus statistics start from the texts of the
// open stores; existing vectors keep their values until Regenerate.
func (e *Engine) Configure(settings models.SemanticSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if settings.Method == "" {
		settings.Method = e.settings.Method
	}
	if settings.MaxResults == 0 {
		settings.MaxResults = e.settings.MaxResults
	}
	method, err := embedding.ParseMethod(settings.Method)
	if err != nil {
		return err
	}
	if method != e.strategy.Method() {
		ecfg := e.embedCfg
		ecfg.Method = string(method)
		strategy, err := embedding.New(ecfg, e.stats, e.logger)
		if err != nil {
			return fmt.Errorf("embedding strategy: %w", err)
		}
		old := e.strategy
		e.strategy = strategy
		for _, s := range e.stores {
			s.SetStrategy(strategy)
		}
		if err := old.Close(); err != nil {
			e.logger.Warn("closing previous embedding strategy", zap.Error(err))
		}
		e.embedCfg.Method = string(method)
		if observer, ok := strategy.(embedding.Observer); ok {
			e.rebuildCorpus(observer)
		}
		e.logger.Info("embedding method changed, run regenerate to re-embed stored records",
			zap.String("from", string(old.Method())), zap.String("to", string(strategy.Method())))
	}
	settings.Method = string(e.strategy.Method())
	e.settings = settings
	return nil
}

// CorpusStats returns vocabulary size and document count of the shared corpus statistics.
func (e *Engine) CorpusStats() corpus.Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return corpus.Summarize(e.stats.View())
}

// Status reports the open stores, corpus statistics and owners known to the persister.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	persisted, err := e.persister.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	st := &Status{
		Method:    string(e.strategy.Method()),
		Settings:  e.settings,
		Corpus:    corpus.Summarize(e.stats.View()),
		Persisted: persisted,
	}
	for _, id := range e.ownerIDs() {
		s := e.stores[id]
		ost := OwnerStatus{OwnerID: id, Records: s.Count(), Capacity: s.Capacity()}
		if ix, ok := s.IndexStats(); ok {
			ost.Indexed = true
			ost.Index = &ix
		}
		st.Open = append(st.Open, ost)
	}
	return st, nil
}

// Close releases the embedding strategy and forgets every open store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stores = make(map[string]*vector.Store)
	return e.strategy.Close()
}

// store returns the open store for ownerID, loading it from the persister on first use.
func (e *Engine) store(ctx context.Context, ownerID string) (*vector.Store, error) {
	if s, ok := e.stores[ownerID]; ok {
		return s, nil
	}
	s, err := vector.Open(ctx, ownerID, false, e.strategy, e.persister, e.opts, e.logger)
	if err != nil {
		return nil, err
	}
	e.stores[ownerID] = s
	return s, nil
}

func (e *Engine) ownerIDs() []string {
	ids := make([]string, 0, len(e.stores))
	for id := range e.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
