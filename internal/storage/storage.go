// Package storage persists embedding records per owner.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/models"
)

// Persister stores one durable record per embedding, scoped by owner.
// Load returns records in the order they were first saved.
type Persister interface {
	Load(ctx context.Context, ownerID string) ([]*models.Record, error)
	Save(ctx context.Context, ownerID string, rec *models.Record) error
	Delete(ctx context.Context, ownerID, recordID string) error
	Clear(ctx context.Context, ownerID string) error
	Owners(ctx context.Context) ([]string, error)
	Close() error
}

// New opens the backend named by cfg.Backend.
func New(cfg config.StorageConfig) (Persister, error) {
	switch cfg.Backend {
	case "sqlite", "":
		return NewSQLitePersister(cfg.DatabasePath)
	case "jsonl":
		return NewJSONLPersister(cfg.JSONLDir)
	case "bolt":
		return NewBoltPersister(cfg.BoltPath)
	case "memory":
		return NewMemoryPersister(), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q (supported: sqlite, jsonl, bolt, memory)",
			models.ErrInvalidArgument, cfg.Backend)
	}
}

func ensureParent(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func validate(rec *models.Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record id is required", models.ErrInvalidArgument)
	}
	if rec.Embedding == nil {
		return fmt.Errorf("%w: record %s has no embedding", models.ErrInvalidArgument, rec.ID)
	}
	return nil
}
