package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/recall/internal/models"
)

// SQLitePersister implements Persister using SQLite. Vectors are stored as little-endian
// float32 blobs.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	if err := ensureParent(dbPath); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLitePersister{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS vectors (
		owner_id TEXT NOT NULL,
		record_id TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		embedding_values BLOB NOT NULL,
		magnitude REAL NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (owner_id, record_id)
	);

	CREATE INDEX IF NOT EXISTS idx_vectors_owner ON vectors(owner_id);
	`
	_, err := db.Exec(schema)
	return err
}

// Load returns every record for ownerID in first-saved order.
func (s *SQLitePersister) Load(ctx context.Context, ownerID string) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, dimensions, embedding_values, magnitude, content, created_at, updated_at
		 FROM vectors WHERE owner_id = ? ORDER BY rowid`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: query vectors: %v", models.ErrIO, err)
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		var (
			rec       models.Record
			dims      int
			blob      []byte
			magnitude float64
		)
		if err := rows.Scan(&rec.ID, &dims, &blob, &magnitude, &rec.Text, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan vector: %v", models.ErrIO, err)
		}
		if len(blob) != dims*4 {
			return nil, fmt.Errorf("%w: record %s has %d bytes for %d dimensions", models.ErrIO, rec.ID, len(blob), dims)
		}
		rec.Embedding = &models.Embedding{
			RecordID:  rec.ID,
			Values:    bytesToFloat32Slice(blob),
			Magnitude: float32(magnitude),
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	return records, nil
}

// Save inserts or replaces rec. A replaced record keeps its original position.
func (s *SQLitePersister) Save(ctx context.Context, ownerID string, rec *models.Record) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vectors (owner_id, record_id, dimensions, embedding_values, magnitude, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id, record_id) DO UPDATE SET
			dimensions = excluded.dimensions,
			embedding_values = excluded.embedding_values,
			magnitude = excluded.magnitude,
			content = excluded.content,
			updated_at = excluded.updated_at`,
		ownerID, rec.ID, rec.Embedding.Dimensions(), float32SliceToBytes(rec.Embedding.Values),
		float64(rec.Embedding.Magnitude), rec.Text, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: save vector: %v", models.ErrIO, err)
	}
	return nil
}

// Delete removes one record. Deleting a missing record returns ErrNotFound.
func (s *SQLitePersister) Delete(ctx context.Context, ownerID, recordID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE owner_id = ? AND record_id = ?`, ownerID, recordID)
	if err != nil {
		return fmt.Errorf("%w: delete vector: %v", models.ErrIO, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s/%s", models.ErrNotFound, ownerID, recordID)
	}
	return nil
}

// Clear removes every record for ownerID.
func (s *SQLitePersister) Clear(ctx context.Context, ownerID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("%w: clear vectors: %v", models.ErrIO, err)
	}
	return nil
}

// Owners returns every owner with at least one record.
func (s *SQLitePersister) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM vectors ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list owners: %v", models.ErrIO, err)
	}
	defer rows.Close()
	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrIO, err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// Close closes the database.
func (s *SQLitePersister) Close() error {
	return s.db.Close()
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
