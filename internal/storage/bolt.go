package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hyperjump/recall/internal/models"
)

// BoltPersister keeps one bucket per owner. Values are JSON records tagged with a
// per-bucket sequence so Load can restore first-saved order.
type BoltPersister struct {
	db *bbolt.DB
}

type boltRecord struct {
	Seq    uint64         `json:"seq"`
	Record *models.Record `json:"record"`
}

// NewBoltPersister opens or creates a bolt database at path.
func NewBoltPersister(path string) (*BoltPersister, error) {
	if err := ensureParent(path); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return &BoltPersister{db: db}, nil
}

// Load returns the owner's records sorted by their first save.
func (p *BoltPersister) Load(_ context.Context, ownerID string) ([]*models.Record, error) {
	var entries []boltRecord
	err := p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ownerID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e boltRecord
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("record %s: %w", k, err)
			}
			if e.Record == nil || e.Record.Embedding == nil {
				return fmt.Errorf("record %s: missing embedding", k)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", models.ErrIO, ownerID, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	records := make([]*models.Record, len(entries))
	for i, e := range entries {
		records[i] = e.Record
	}
	return records, nil
}

// Save inserts or replaces rec, keeping the sequence of a replaced record.
func (p *BoltPersister) Save(_ context.Context, ownerID string, rec *models.Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	if ownerID == "" {
		return fmt.Errorf("%w: owner id is required", models.ErrInvalidArgument)
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	err := p.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ownerID))
		if err != nil {
			return err
		}
		key := []byte(rec.ID)
		e := boltRecord{Record: rec}
		if old := b.Get(key); old != nil {
			var prev boltRecord
			if err := json.Unmarshal(old, &prev); err == nil {
				e.Seq = prev.Seq
			}
		}
		if e.Seq == 0 {
			if e.Seq, err = b.NextSequence(); err != nil {
				return err
			}
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("%w: save %s/%s: %v", models.ErrIO, ownerID, rec.ID, err)
	}
	return nil
}

// Delete removes one record. Deleting a missing record returns ErrNotFound.
func (p *BoltPersister) Delete(_ context.Context, ownerID, recordID string) error {
	found := false
	err := p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ownerID))
		if b == nil || b.Get([]byte(recordID)) == nil {
			return nil
		}
		found = true
		return b.Delete([]byte(recordID))
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", models.ErrIO, ownerID, recordID, err)
	}
	if !found {
		return fmt.Errorf("%w: %s/%s", models.ErrNotFound, ownerID, recordID)
	}
	return nil
}

// Clear drops the owner's bucket.
func (p *BoltPersister) Clear(_ context.Context, ownerID string) error {
	err := p.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(ownerID)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(ownerID))
	})
	if err != nil {
		return fmt.Errorf("%w: clear %s: %v", models.ErrIO, ownerID, err)
	}
	return nil
}

// Owners lists every owner bucket.
func (p *BoltPersister) Owners(_ context.Context) ([]string, error) {
	var owners []string
	err := p.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			owners = append(owners, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list owners: %v", models.ErrIO, err)
	}
	return owners, nil
}

// Close closes the database.
func (p *BoltPersister) Close() error {
	return p.db.Close()
}
