// Package vector holds per-owner embedding stores and the search dispatcher over them.
package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/hnsw"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/pkg/utils"
)

// Store maps record ids to embeddings for one owner. Every mutation is written through to
// the persister. A Store performs no locking; callers serialize access.
type Store struct {
	ownerID   string
	entries   []*models.Record
	capacity  int
	byID      map[string]int
	strategy  embedding.Strategy
	persister storage.Persister
	index     *hnsw.Index
	opts      Options
	logger    *zap.Logger
}

// Open creates the store for ownerID. Unless forceNew is set, records previously persisted
// for the owner are loaded and, for strategies that keep corpus statistics, observed again.
// forceNew starts empty without deleting persisted data.
func Open(ctx context.Context, ownerID string, forceNew bool, strategy embedding.Strategy,
	persister storage.Persister, opts Options, logger *zap.Logger) (*Store, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", models.ErrInvalidArgument)
	}
	if strategy == nil || persister == nil {
		return nil, fmt.Errorf("%w: strategy and persister are required", models.ErrInvalidArgument)
	}
	if opts.InitialCapacity <= 0 {
		opts.InitialCapacity = DefaultOptions().InitialCapacity
	}
	s := &Store{
		ownerID:   ownerID,
		entries:   make([]*models.Record, 0, opts.InitialCapacity),
		capacity:  opts.InitialCapacity,
		byID:      make(map[string]int),
		strategy:  strategy,
		persister: persister,
		opts:      opts,
		logger:    utils.OrNop(logger).With(zap.String("owner", ownerID)),
	}
	if forceNew {
		s.logger.Info("vector store initialized empty")
		return s, nil
	}

	records, err := persister.Load(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load vectors for %s: %w", ownerID, err)
	}
	observer, _ := strategy.(embedding.Observer)
	for _, rec := range records {
		s.put(rec)
		if observer != nil && rec.Text != "" {
			observer.Observe(rec.Text)
		}
	}
	s.logger.Info("vector store loaded", zap.Int("records", len(records)), zap.Int("capacity", s.capacity))
	return s, nil
}

// OwnerID returns the owner namespace.
func (s *Store) OwnerID() string { return s.ownerID }

// Count returns the number of live records.
func (s *Store) Count() int { return len(s.entries) }

// Capacity returns the current slot capacity. It doubles whenever Count reaches it.
func (s *Store) Capacity() int { return s.capacity }

// Strategy returns the embedding strategy in use.
func (s *Store) Strategy() embedding.Strategy { return s.strategy }

// SetStrategy switches the strategy used for new stores and queries. Existing embeddings
// keep their values until Regenerate.
func (s *Store) SetStrategy(strategy embedding.Strategy) {
	s.strategy = strategy
}

// Store embeds text and inserts or replaces the record for recordID. A failed embedding
// leaves the store untouched. A *models.PersistError means the record is in memory but
// not durable.
func (s *Store) Store(ctx context.Context, recordID, text string) error {
	if recordID == "" {
		return fmt.Errorf("%w: record id is required", models.ErrInvalidArgument)
	}

	now := time.Now()
	if i, ok := s.byID[recordID]; ok && s.entries[i].Text == text && s.entries[i].Embedding != nil {
		// Same text: re-observing it would count the document twice.
		s.entries[i].UpdatedAt = now
		return s.save(ctx, s.entries[i])
	}

	emb, err := embedding.Create(ctx, s.strategy, recordID, text)
	if err != nil {
		return fmt.Errorf("embed %s: %w", recordID, err)
	}

	rec := &models.Record{ID: recordID, Text: text, Embedding: emb, CreatedAt: now, UpdatedAt: now}
	if i, ok := s.byID[recordID]; ok {
		rec.CreatedAt = s.entries[i].CreatedAt
	}
	s.put(rec)
	if s.index != nil {
		if err := s.index.Insert(recordID, emb); err != nil {
			s.logger.Warn("index insert failed, dropping index", zap.String("record", recordID), zap.Error(err))
			s.index = nil
		}
	}
	s.logger.Debug("stored vector", zap.String("record", recordID), zap.Int("count", len(s.entries)))
	return s.save(ctx, rec)
}

// Get returns the embedding for recordID or ErrNotFound.
func (s *Store) Get(recordID string) (*models.Embedding, error) {
	rec, err := s.Record(recordID)
	if err != nil {
		return nil, err
	}
	return rec.Embedding, nil
}

// Record returns the full record for recordID or ErrNotFound.
func (s *Store) Record(recordID string) (*models.Record, error) {
	i, ok := s.byID[recordID]
	if !ok {
		return nil, fmt.Errorf("%w: record %s in %s", models.ErrNotFound, recordID, s.ownerID)
	}
	return s.entries[i], nil
}

// Records returns the live records in insertion order. The slice is a copy.
func (s *Store) Records() []*models.Record {
	out := make([]*models.Record, len(s.entries))
	copy(out, s.entries)
	return out
}

// Delete removes recordID. Count drops by one. A *models.PersistError means the record is
// gone from memory but may still be on disk.
func (s *Store) Delete(ctx context.Context, recordID string) error {
	i, ok := s.byID[recordID]
	if !ok {
		return fmt.Errorf("%w: record %s in %s", models.ErrNotFound, recordID, s.ownerID)
	}
	copy(s.entries[i:], s.entries[i+1:])
	s.entries[len(s.entries)-1] = nil
	s.entries = s.entries[:len(s.entries)-1]
	delete(s.byID, recordID)
	for j := i; j < len(s.entries); j++ {
		s.byID[s.entries[j].ID] = j
	}
	if s.index != nil {
		s.index.Remove(recordID)
	}
	s.logger.Debug("deleted vector", zap.String("record", recordID), zap.Int("count", len(s.entries)))

	if err := s.persister.Delete(ctx, s.ownerID, recordID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return &models.PersistError{Op: "delete", OwnerID: s.ownerID, RecordID: recordID, Err: err}
	}
	return nil
}

// BuildIndex builds a proximity index over every live record. Later stores and deletes
// keep it current.
func (s *Store) BuildIndex() (hnsw.Stats, error) {
	ix := hnsw.New(s.opts.Index)
	for _, rec := range s.entries {
		if err := ix.Insert(rec.ID, rec.Embedding); err != nil {
			return hnsw.Stats{}, fmt.Errorf("index %s: %w", rec.ID, err)
		}
	}
	s.index = ix
	st := ix.Stats()
	s.logger.Info("proximity index built",
		zap.Int("nodes", st.Nodes), zap.Int("max_layer", st.MaxLayer), zap.Int("connections", st.Connections))
	return st, nil
}

// DropIndex discards the proximity index.
func (s *Store) DropIndex() {
	s.index = nil
}

// IndexStats reports the proximity index shape and whether one is built.
func (s *Store) IndexStats() (hnsw.Stats, bool) {
	if s.index == nil {
		return hnsw.Stats{}, false
	}
	return s.index.Stats(), true
}

// Regenerate re-embeds every record with the current strategy and rewrites the owner's
// persisted state. Records are upserted before stale rows are deleted, so an interrupted
// rewrite leaves every record persisted, some with their previous vectors. Corpus statistics are not touched, so callers refresh them first.
// progress, if non-nil, is called after each record.
func (s *Store) Regenerate(ctx context.Context, progress func(done, total int)) (int, error) {
	fresh := make([]*models.Embedding, len(s.entries))
	for i, rec := range s.entries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		emb, err := embedding.CreateQuery(ctx, s.strategy, rec.Text)
		if err != nil {
			return 0, fmt.Errorf("embed %s: %w", rec.ID, err)
		}
		emb.RecordID = rec.ID
		fresh[i] = emb
		if progress != nil {
			progress(i+1, len(s.entries))
		}
	}

	now := time.Now()
	for i, rec := range s.entries {
		rec.Embedding = fresh[i]
		rec.UpdatedAt = now
	}
	if s.index != nil {
		if _, err := s.BuildIndex(); err != nil {
			s.logger.Warn("index rebuild failed, dropping index", zap.Error(err))
			s.index = nil
		}
	}

	if err := s.rewrite(ctx); err != nil {
		return len(fresh), err
	}
	s.logger.Info("vectors regenerated", zap.Int("records", len(fresh)), zap.String("method", string(s.strategy.Method())))
	return len(fresh), nil
}

// rewrite upserts every in-memory record, then deletes persisted records the store no
// longer holds.
func (s *Store) rewrite(ctx context.Context) error {
	if len(s.entries) == 0 {
		if err := s.persister.Clear(ctx, s.ownerID); err != nil {
			return &models.PersistError{Op: "clear", OwnerID: s.ownerID, Err: err}
		}
		return nil
	}
	for _, rec := range s.entries {
		if err := s.save(ctx, rec); err != nil {
			return err
		}
	}
	persisted, err := s.persister.Load(ctx, s.ownerID)
	if err != nil {
		return &models.PersistError{Op: "load", OwnerID: s.ownerID, Err: err}
	}
	for _, rec := range persisted {
		if _, ok := s.byID[rec.ID]; ok {
			continue
		}
		if err := s.persister.Delete(ctx, s.ownerID, rec.ID); err != nil {
			return &models.PersistError{Op: "delete", OwnerID: s.ownerID, RecordID: rec.ID, Err: err}
		}
	}
	return nil
}

// put inserts or replaces rec in memory, doubling capacity when full.
func (s *Store) put(rec *models.Record) {
	if i, ok := s.byID[rec.ID]; ok {
		s.entries[i] = rec
		return
	}
	if len(s.entries) >= s.capacity {
		s.grow()
	}
	s.byID[rec.ID] = len(s.entries)
	s.entries = append(s.entries, rec)
}

func (s *Store) grow() {
	newCap := s.capacity * 2
	entries := make([]*models.Record, len(s.entries), newCap)
	copy(entries, s.entries)
	s.entries = entries
	s.capacity = newCap
	s.logger.Debug("vector store grown", zap.Int("capacity", newCap))
}

func (s *Store) save(ctx context.Context, rec *models.Record) error {
	if err := s.persister.Save(ctx, s.ownerID, rec); err != nil {
		return &models.PersistError{Op: "save", OwnerID: s.ownerID, RecordID: rec.ID, Err: err}
	}
	return nil
}
