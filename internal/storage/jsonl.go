package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/recall/internal/models"
)

var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const (
	opPut    = "put"
	opDelete = "delete"
)

// jsonlEntry is one line of an owner's log.
type jsonlEntry struct {
	Op       string         `json:"op"`
	RecordID string         `json:"record_id"`
	Record   *models.Record `json:"record,omitempty"`
}

// JSONLPersister keeps one append-only line-delimited JSON log per owner. Loading replays
// the log and rewrites it when deletes and replacements outnumber live records.
type JSONLPersister struct {
	dir string
}

// NewJSONLPersister stores logs under dir, creating it if needed.
func NewJSONLPersister(dir string) (*JSONLPersister, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jsonl directory: %w", err)
	}
	return &JSONLPersister{dir: dir}, nil
}

func (p *JSONLPersister) path(ownerID string) (string, error) {
	if !ownerPattern.MatchString(ownerID) {
		return "", fmt.Errorf("%w: owner id %q must match %s", models.ErrInvalidArgument, ownerID, ownerPattern)
	}
	return filepath.Join(p.dir, ownerID+".jsonl"), nil
}

// Load replays the owner's log.
func (p *JSONLPersister) Load(_ context.Context, ownerID string) ([]*models.Record, error) {
	path, err := p.path(ownerID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrIO, path, err)
	}
	defer f.Close()

	var (
		records []*models.Record
		pos     = make(map[string]int)
		lines   int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines++
		var e jsonlEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", models.ErrIO, path, lines, err)
		}
		switch e.Op {
		case opPut:
			if e.Record == nil || e.Record.Embedding == nil {
				return nil, fmt.Errorf("%w: %s line %d: put without record", models.ErrIO, path, lines)
			}
			if i, ok := pos[e.Record.ID]; ok {
				records[i] = e.Record
				continue
			}
			pos[e.Record.ID] = len(records)
			records = append(records, e.Record)
		case opDelete:
			i, ok := pos[e.RecordID]
			if !ok {
				continue
			}
			records = append(records[:i], records[i+1:]...)
			delete(pos, e.RecordID)
			for id, j := range pos {
				if j > i {
					pos[id] = j - 1
				}
			}
		default:
			return nil, fmt.Errorf("%w: %s line %d: unknown op %q", models.ErrIO, path, lines, e.Op)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrIO, path, err)
	}

	if lines > 2*len(records) && lines > 16 {
		if err := p.rewrite(path, records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Save appends a put line.
func (p *JSONLPersister) Save(_ context.Context, ownerID string, rec *models.Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	path, err := p.path(ownerID)
	if err != nil {
		return err
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	return p.append(path, jsonlEntry{Op: opPut, RecordID: rec.ID, Record: rec})
}

// Delete appends a delete line.
func (p *JSONLPersister) Delete(_ context.Context, ownerID, recordID string) error {
	path, err := p.path(ownerID)
	if err != nil {
		return err
	}
	return p.append(path, jsonlEntry{Op: opDelete, RecordID: recordID})
}

// Clear removes the owner's log.
func (p *JSONLPersister) Clear(_ context.Context, ownerID string) error {
	path, err := p.path(ownerID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", models.ErrIO, path, err)
	}
	return nil
}

// Owners lists owners that have a log file.
func (p *JSONLPersister) Owners(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(p.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	owners := make([]string, 0, len(matches))
	for _, m := range matches {
		owners = append(owners, strings.TrimSuffix(filepath.Base(m), ".jsonl"))
	}
	sort.Strings(owners)
	return owners, nil
}

// Close is a no-op; every write is flushed and synced before returning.
func (p *JSONLPersister) Close() error {
	return nil
}

func (p *JSONLPersister) append(path string, e jsonlEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", models.ErrIO, path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("%w: write %s: %v", models.ErrIO, path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync %s: %v", models.ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", models.ErrIO, path, err)
	}
	return nil
}

// rewrite replaces the log with one put line per live record.
func (p *JSONLPersister) rewrite(path string, records []*models.Record) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: compact %s: %v", models.ErrIO, path, err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(jsonlEntry{Op: opPut, RecordID: rec.ID, Record: rec}); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("%w: compact %s: %v", models.ErrIO, path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: compact %s: %v", models.ErrIO, path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: compact %s: %v", models.ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: compact %s: %v", models.ErrIO, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: compact %s: %v", models.ErrIO, path, err)
	}
	return nil
}
