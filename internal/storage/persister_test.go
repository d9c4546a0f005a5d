package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/models"
)

func newRecord(id, text string, values ...float32) *models.Record {
	return &models.Record{ID: id, Text: text, Embedding: models.NewEmbedding(id, values)}
}

func backends(t *testing.T) map[string]Persister {
	t.Helper()
	dir := t.TempDir()
	sqlite, err := NewSQLitePersister(filepath.Join(dir, "db", "vectors.db"))
	if err != nil {
		t.Fatal(err)
	}
	jsonl, err := NewJSONLPersister(filepath.Join(dir, "jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	bolt, err := NewBoltPersister(filepath.Join(dir, "bolt", "vectors.bolt"))
	if err != nil {
		t.Fatal(err)
	}
	ps := map[string]Persister{
		"sqlite": sqlite,
		"jsonl":  jsonl,
		"bolt":   bolt,
		"memory": NewMemoryPersister(),
	}
	t.Cleanup(func() {
		for _, p := range ps {
			_ = p.Close()
		}
	})
	return ps
}

func TestPersister_roundTrip(t *testing.T) {
	ctx := context.Background()
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := newRecord("a", "first record", 0.1, 0.2, 0.3)
			b := newRecord("b", "second record", 1, 0, 0)
			c := newRecord("c", "", 0, 0, 0)
			for _, r := range []*models.Record{a, b, c} {
				if err := p.Save(ctx, "ci", r); err != nil {
					t.Fatal(err)
				}
			}
			if err := p.Save(ctx, "other", newRecord("x", "elsewhere", 1, 1, 1)); err != nil {
				t.Fatal(err)
			}

			got, err := p.Load(ctx, "ci")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 3 {
				t.Fatalf("Load returned %d records, want 3", len(got))
			}
			for i, want := range []*models.Record{a, b, c} {
				if got[i].ID != want.ID || got[i].Text != want.Text {
					t.Errorf("record %d = %s/%q, want %s/%q", i, got[i].ID, got[i].Text, want.ID, want.Text)
				}
				if got[i].Embedding.Magnitude != want.Embedding.Magnitude {
					t.Errorf("%s magnitude = %f, want %f", want.ID, got[i].Embedding.Magnitude, want.Embedding.Magnitude)
				}
				for j, v := range want.Embedding.Values {
					if got[i].Embedding.Values[j] != v {
						t.Errorf("%s value %d = %v, want %v", want.ID, j, got[i].Embedding.Values[j], v)
					}
				}
			}

			owners, err := p.Owners(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(owners, ",") != "ci,other" {
				t.Errorf("Owners = %v", owners)
			}
		})
	}
}

func TestPersister_replaceKeepsPosition(t *testing.T) {
	ctx := context.Background()
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = p.Save(ctx, "ci", newRecord("a", "one", 1, 0))
			_ = p.Save(ctx, "ci", newRecord("b", "two", 0, 1))
			if err := p.Save(ctx, "ci", newRecord("a", "one again", 1, 1)); err != nil {
				t.Fatal(err)
			}
			got, err := p.Load(ctx, "ci")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 || got[0].ID != "a" || got[0].Text != "one again" || got[1].ID != "b" {
				t.Errorf("after replace: %+v", got)
			}
		})
	}
}

func TestPersister_deleteAndClear(t *testing.T) {
	ctx := context.Background()
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				id := fmt.Sprintf("r%d", i)
				_ = p.Save(ctx, "ci", newRecord(id, id, 1, float32(i)))
			}
			if err := p.Delete(ctx, "ci", "r1"); err != nil {
				t.Fatal(err)
			}
			got, _ := p.Load(ctx, "ci")
			if len(got) != 2 || got[0].ID != "r0" || got[1].ID != "r2" {
				t.Errorf("after delete: %v", ids(got))
			}
			if err := p.Clear(ctx, "ci"); err != nil {
				t.Fatal(err)
			}
			got, _ = p.Load(ctx, "ci")
			if len(got) != 0 {
				t.Errorf("after clear: %v", ids(got))
			}
		})
	}
}

func TestPersister_rejectsRecordWithoutEmbedding(t *testing.T) {
	ctx := context.Background()
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := p.Save(ctx, "ci", &models.Record{ID: "x", Text: "t"})
			if !errors.Is(err, models.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestJSONLPersister_ownerValidation(t *testing.T) {
	p, err := NewJSONLPersister(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, owner := range []string{"", "..", "../escape", "a/b"} {
		if _, err := p.Load(context.Background(), owner); !errors.Is(err, models.ErrInvalidArgument) {
			t.Errorf("owner %q: expected ErrInvalidArgument, got %v", owner, err)
		}
	}
}

func TestJSONLPersister_compacts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p, err := NewJSONLPersister(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		_ = p.Save(ctx, "ci", newRecord("same", fmt.Sprintf("version %d", i), 1, float32(i)))
	}
	got, err := p.Load(ctx, "ci")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Text != "version 19" {
		t.Fatalf("Load = %+v", got)
	}
	data, err := os.ReadFile(filepath.Join(dir, "ci.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 1 {
		t.Errorf("expected compacted log with 1 line, got %d", n)
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StorageConfig{
		Backend:      "memory",
		DatabasePath: filepath.Join(dir, "v.db"),
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	_ = p.Close()

	cfg.Backend = "sqlite"
	p, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	_ = p.Close()
	if len(Paths(cfg)) != 3 {
		t.Errorf("sqlite paths: %v", Paths(cfg))
	}

	cfg.Backend = "postgres"
	if _, err := New(cfg); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func ids(recs []*models.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
