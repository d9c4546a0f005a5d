package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hyperjump/recall/internal/models"
)

// MemoryPersister keeps records in process memory. Useful for tests and ephemeral servers.
// It performs no locking.
type MemoryPersister struct {
	owners map[string][]*models.Record
}

// NewMemoryPersister returns an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{owners: make(map[string][]*models.Record)}
}

// Load returns copies of the owner's records.
func (p *MemoryPersister) Load(_ context.Context, ownerID string) ([]*models.Record, error) {
	recs := p.owners[ownerID]
	out := make([]*models.Record, len(recs))
	for i, r := range recs {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

// Save inserts or replaces a copy of rec.
func (p *MemoryPersister) Save(_ context.Context, ownerID string, rec *models.Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	recs := p.owners[ownerID]
	for i, r := range recs {
		if r.ID == rec.ID {
			recs[i] = cloneRecord(rec)
			return nil
		}
	}
	p.owners[ownerID] = append(recs, cloneRecord(rec))
	return nil
}

// Delete removes one record.
func (p *MemoryPersister) Delete(_ context.Context, ownerID, recordID string) error {
	recs := p.owners[ownerID]
	for i, r := range recs {
		if r.ID == recordID {
			p.owners[ownerID] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", models.ErrNotFound, ownerID, recordID)
}

// Clear drops every record of ownerID.
func (p *MemoryPersister) Clear(_ context.Context, ownerID string) error {
	delete(p.owners, ownerID)
	return nil
}

// Owners lists owners with at least one record.
func (p *MemoryPersister) Owners(_ context.Context) ([]string, error) {
	owners := make([]string, 0, len(p.owners))
	for o, recs := range p.owners {
		if len(recs) > 0 {
			owners = append(owners, o)
		}
	}
	sort.Strings(owners)
	return owners, nil
}

// Close is a no-op.
func (p *MemoryPersister) Close() error {
	return nil
}

func cloneRecord(r *models.Record) *models.Record {
	c := *r
	if r.Embedding != nil {
		c.Embedding = r.Embedding.Clone(r.Embedding.RecordID)
	}
	return &c
}
