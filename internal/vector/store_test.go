package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/corpus"
	"github.com/hyperjump/recall/internal/embedding"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/storage"
)

const (
	dragonCon = "I attended Dragon Con in Atlanta with George R R Martin"
	roman     = "The Roman Empire history is fascinating"
	machine   = "Machine learning algorithms process data"
)

func statistical(stats *corpus.Stats) embedding.Strategy {
	return embedding.NewTFIDFEmbedder(stats, 384, embedding.DefaultTermOptions, 0.5)
}

func openStore(t *testing.T, strategy embedding.Strategy, p storage.Persister, opts Options) *Store {
	t.Helper()
	s, err := Open(context.Background(), "ci", false, strategy, p, opts, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func seed(t *testing.T, s *Store, texts ...string) {
	t.Helper()
	for i, text := range texts {
		if err := s.Store(context.Background(), fmt.Sprintf("doc-%d", i+1), text); err != nil {
			t.Fatal(err)
		}
	}
}

type flakyPersister struct {
	*storage.MemoryPersister
	fail bool
}

func (f *flakyPersister) Save(ctx context.Context, owner string, rec *models.Record) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryPersister.Save(ctx, owner, rec)
}

func (f *flakyPersister) Delete(ctx context.Context, owner, id string) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryPersister.Delete(ctx, owner, id)
}

// budgetPersister accepts saves until its budget runs out.
type budgetPersister struct {
	*storage.MemoryPersister
	saves int
}

func (b *budgetPersister) Save(ctx context.Context, owner string, rec *models.Record) error {
	if b.saves <= 0 {
		return errors.New("disk full")
	}
	b.saves--
	return b.MemoryPersister.Save(ctx, owner, rec)
}

type brokenStrategy struct{ embedding.Strategy }

func (brokenStrategy) Document(context.Context, string) ([]float32, error) { return nil, models.ErrIO }
func (brokenStrategy) Query(context.Context, string) ([]float32, error)    { return nil, models.ErrIO }

func TestOpen_requiresOwner(t *testing.T) {
	_, err := Open(context.Background(), "", false, statistical(corpus.NewStats()), storage.NewMemoryPersister(), DefaultOptions(), nil)
	if !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestStore_roundTrip(t *testing.T) {
	s := openStore(t, statistical(corpus.NewStats()), storage.NewMemoryPersister(), DefaultOptions())
	seed(t, s, "hello world")

	a, err := s.Get("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := s.Get("doc-1")
	if a.RecordID != "doc-1" || a.Dimensions() != 384 || a != b {
		t.Errorf("Get = %+v", a)
	}
	if math.Abs(float64(a.Magnitude)-1) > 1e-6 {
		t.Errorf("magnitude = %f, want 1", a.Magnitude)
	}
	if sim := CosineSimilarity(a, a); math.Abs(sim-1) > 1e-5 {
		t.Errorf("self similarity = %f", sim)
	}
	if _, err := s.Get("missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Store(context.Background(), "", "x"); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty id, got %v", err)
	}
}

func TestStore_similarityOrdering(t *testing.T) {
	s := openStore(t, embedding.NewHashEmbedder(384, embedding.DefaultTermOptions, 0.5), storage.NewMemoryPersister(), DefaultOptions())
	seed(t, s, "hello world", "hello world", "goodbye mars")
	a, _ := s.Get("doc-1")
	b, _ := s.Get("doc-2")
	c, _ := s.Get("doc-3")
	if CosineSimilarity(a, b) <= CosineSimilarity(a, c) {
		t.Errorf("sim(hello,hello)=%f <= sim(hello,goodbye)=%f", CosineSimilarity(a, b), CosineSimilarity(a, c))
	}
	for _, pair := range [][2]*models.Embedding{{a, b}, {a, c}, {b, c}} {
		if sim := CosineSimilarity(pair[0], pair[1]); sim < -1 || sim > 1 {
			t.Errorf("similarity out of range: %f", sim)
		}
	}
}

func TestStore_capacityGrowth(t *testing.T) {
	opts := DefaultOptions()
	opts.InitialCapacity = 4
	s := openStore(t, statistical(corpus.NewStats()), storage.NewMemoryPersister(), opts)
	for i := 0; i < 150; i++ {
		if err := s.Store(context.Background(), fmt.Sprintf("r%03d", i), fmt.Sprintf("record number %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if s.Count() != 150 {
		t.Errorf("Count = %d, want 150", s.Count())
	}
	if s.Capacity() != 256 {
		t.Errorf("Capacity = %d, want 256", s.Capacity())
	}
	for i := 0; i < 150; i++ {
		if _, err := s.Get(fmt.Sprintf("r%03d", i)); err != nil {
			t.Errorf("r%03d: %v", i, err)
		}
	}
}

func TestStore_replace(t *testing.T) {
	stats := corpus.NewStats()
	s := openStore(t, statistical(stats), storage.NewMemoryPersister(), DefaultOptions())
	seed(t, s, roman)
	if err := s.Store(context.Background(), "doc-1", roman); err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocuments() != 1 {
		t.Errorf("re-storing identical text observed it again: docs=%d", stats.TotalDocuments())
	}
	if err := s.Store(context.Background(), "doc-1", machine); err != nil {
		t.Fatal(err)
	}
	rec, _ := s.Record("doc-1")
	if s.Count() != 1 || rec.Text != machine {
		t.Errorf("replace: count=%d text=%q", s.Count(), rec.Text)
	}
}

func TestStore_delete(t *testing.T) {
	s := openStore(t, statistical(corpus.NewStats()), storage.NewMemoryPersister(), DefaultOptions())
	seed(t, s, dragonCon, roman, machine)

	if err := s.Delete(context.Background(), "doc-2"); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 2 {
		t.Errorf("Count = %d, want 2", s.Count())
	}
	if _, err := s.Get("doc-2"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get("doc-3"); err != nil {
		t.Errorf("doc-3 should survive: %v", err)
	}
	for _, q := range []string{"Roman Empire", "roman history fascinating", "the"} {
		matches, err := s.Search(context.Background(), q, 10)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range matches {
			if m.RecordID == "doc-2" {
				t.Errorf("deleted record returned for %q", q)
			}
		}
	}
	if err := s.Delete(context.Background(), "doc-2"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestStore_searchScenario(t *testing.T) {
	s := openStore(t, statistical(corpus.NewStats()), storage.NewMemoryPersister(), DefaultOptions())
	seed(t, s, dragonCon, roman, machine)

	matches, err := s.Search(context.Background(), "Dragon Atlanta", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 || matches[0].RecordID != "doc-1" {
		t.Fatalf("Dragon Atlanta: %+v", matches)
	}

	matches, err = s.Search(context.Background(), "Dragon Con", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 || matches[0].RecordID != "doc-1" || !matches[0].Exact || matches[0].Score != 1 {
		t.Fatalf("Dragon Con: %+v", matches)
	}
	for i, m := range matches {
		if m.Rank != i+1 {
			t.Errorf("rank %d = %d", i, m.Rank)
		}
	}
}

func TestStore_searchDoesNotMutateStats(t *testing.T) {
	stats := corpus.NewStats()
	s := openStore(t, statistical(stats), storage.NewMemoryPersister(), DefaultOptions())
	seed(t, s, dragonCon, roman, machine)
	vocab, docs := stats.VocabularySize(), stats.TotalDocuments()

	if _, err := s.Search(context.Background(), "quantum zebra novelty", 5); err != nil {
		t.Fatal(err)
	}
	if stats.VocabularySize() != vocab || stats.TotalDocuments() != docs {
		t.Errorf("search mutated stats: vocab %d->%d docs %d->%d", vocab, stats.VocabularySize(), docs, stats.TotalDocuments())
	}
}

func TestStore_searchMultiTermDegradation(t *testing.T) {
	s := openStore(t, statistical(corpus.NewStats()), storage.NewMemoryPersister(), DefaultOptions())
	seed(t, s, dragonCon, roman, machine)

	matches, err := s.Search(context.Background(), "Roman xylophone", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 || matches[0].RecordID != "doc-2" || matches[0].Similarity <= 0 {
		t.Errorf("matches = %+v", matches)
	}
}

func TestStore_searchOrderingAndLimit(t *testing.T) {
	s := openStore(t, statistical(corpus.NewStats()), storage.NewMemoryPersister(), DefaultOptions())
	seed(t, s,
		"data pipelines move data",
		"machine learning on data",
		"learning to cook pasta",
		"history of data storage",
		machine,
	)
	matches, err := s.Search(context.Background(), "machine learning data", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) > 3 {
		t.Errorf("len = %d, want <= 3", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("scores not non-increasing: %v then %v", matches[i-1].Score, matches[i].Score)
		}
	}
}

func TestStore_searchEmptyAndZero(t *testing.T) {
	s := openStore(t, statistical(corpus.NewStats()), storage.NewMemoryPersister(), DefaultOptions())
	matches, err := s.Search(context.Background(), "anything", 5)
	if err != nil || len(matches) != 0 {
		t.Errorf("empty store: %v %v", matches, err)
	}
	seed(t, s, roman)
	matches, err = s.Search(context.Background(), "unrelated quasar", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("expected zero-similarity matches dropped, got %+v", matches)
	}
	if _, err := s.Search(context.Background(), "", 5); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("empty query: expected ErrInvalidArgument, got %v", err)
	}
}

func TestStore_reloadRebuildsCorpus(t *testing.T) {
	p := storage.NewMemoryPersister()
	s := openStore(t, statistical(corpus.NewStats()), p, DefaultOptions())
	seed(t, s, dragonCon, roman, machine)

	stats := corpus.NewStats()
	reloaded := openStore(t, statistical(stats), p, DefaultOptions())
	if reloaded.Count() != 3 {
		t.Fatalf("reloaded Count = %d", reloaded.Count())
	}
	if stats.TotalDocuments() != 3 {
		t.Errorf("corpus not rebuilt: docs=%d", stats.TotalDocuments())
	}
	orig, _ := s.Get("doc-1")
	got, _ := reloaded.Get("doc-1")
	for i := range orig.Values {
		if orig.Values[i] != got.Values[i] {
			t.Fatalf("value %d differs after reload", i)
		}
	}
	matches, _ := reloaded.Search(context.Background(), "Dragon Con", 10)
	if len(matches) == 0 || matches[0].RecordID != "doc-1" {
		t.Errorf("phrase search after reload: %+v", matches)
	}

	fresh, err := Open(context.Background(), "ci", true, statistical(corpus.NewStats()), p, DefaultOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Count() != 0 {
		t.Errorf("forceNew Count = %d", fresh.Count())
	}
	if recs, _ := p.Load(context.Background(), "ci"); len(recs) != 3 {
		t.Errorf("forceNew must not delete persisted data, have %d", len(recs))
	}
}

func TestStore_persistFailureIsNotDurable(t *testing.T) {
	p := &flakyPersister{MemoryPersister: storage.NewMemoryPersister()}
	s := openStore(t, statistical(corpus.NewStats()), p, DefaultOptions())
	seed(t, s, roman)

	p.fail = true
	err := s.Store(context.Background(), "doc-2", machine)
	if !models.IsNotDurable(err) || !errors.Is(err, models.ErrIO) {
		t.Fatalf("expected not-durable error, got %v", err)
	}
	if _, err := s.Get("doc-2"); err != nil {
		t.Errorf("record should be accepted in memory: %v", err)
	}
	if err := s.Delete(context.Background(), "doc-1"); !models.IsNotDurable(err) {
		t.Errorf("expected not-durable delete, got %v", err)
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
}

func TestStore_embeddingFailureLeavesStoreIntact(t *testing.T) {
	stats := corpus.NewStats()
	s := openStore(t, statistical(stats), storage.NewMemoryPersister(), DefaultOptions())
	seed(t, s, roman)
	s.SetStrategy(brokenStrategy{s.Strategy()})

	if err := s.Store(context.Background(), "doc-1", machine); !errors.Is(err, models.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	rec, _ := s.Record("doc-1")
	if rec.Text != roman || s.Count() != 1 {
		t.Errorf("store corrupted: %q count=%d", rec.Text, s.Count())
	}
	matches, err := s.Search(context.Background(), "Roman", 5)
	if err != nil || len(matches) != 1 || !matches[0].Exact {
		t.Errorf("phrase path should survive embedding failure: %+v %v", matches, err)
	}
}

func TestStore_indexRouting(t *testing.T) {
	opts := DefaultOptions()
	opts.MinIndexVectors = 5
	opts.Index.Seed = 1
	s := openStore(t, embedding.NewHashEmbedder(128, embedding.DefaultTermOptions, 0.5), storage.NewMemoryPersister(), opts)
	for i := 0; i < 40; i++ {
		if err := s.Store(context.Background(), fmt.Sprintf("r%d", i), fmt.Sprintf("topic%d shared words item%d", i%7, i)); err != nil {
			t.Fatal(err)
		}
	}
	if s.UsesIndex() {
		t.Fatal("no index built yet")
	}
	st, err := s.BuildIndex()
	if err != nil {
		t.Fatal(err)
	}
	if st.Nodes != 40 || !s.UsesIndex() {
		t.Fatalf("Stats = %+v UsesIndex=%v", st, s.UsesIndex())
	}

	if err := s.Store(context.Background(), "late", "zebra quagga okapi"); err != nil {
		t.Fatal(err)
	}
	matches, err := s.Search(context.Background(), "okapi zebra", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 || matches[0].RecordID != "late" {
		t.Errorf("index search missed incrementally inserted record: %+v", matches)
	}

	if err := s.Delete(context.Background(), "late"); err != nil {
		t.Fatal(err)
	}
	matches, _ = s.Search(context.Background(), "quagga", 3)
	for _, m := range matches {
		if m.RecordID == "late" {
			t.Error("deleted record returned through index")
		}
	}
	if st, ok := s.IndexStats(); !ok || st.Deleted != 1 || st.Nodes != 40 {
		t.Errorf("IndexStats = %+v %v", st, ok)
	}
}

func TestStore_regenerate(t *testing.T) {
	stats := corpus.NewStats()
	p := storage.NewMemoryPersister()
	s := openStore(t, statistical(stats), p, DefaultOptions())
	seed(t, s, "history of the roman empire", roman, machine)

	before, _ := s.Get("doc-1")
	beforeValues := append([]float32(nil), before.Values...)

	stats.Reset()
	for _, rec := range s.Records() {
		s.Strategy().(embedding.Observer).Observe(rec.Text)
	}
	calls := 0
	n, err := s.Regenerate(context.Background(), func(done, total int) {
		calls++
		if total != 3 {
			t.Errorf("total = %d", total)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || calls != 3 {
		t.Errorf("Regenerate = %d, progress calls = %d", n, calls)
	}
	if stats.TotalDocuments() != 3 {
		t.Errorf("regenerate must not observe again: docs=%d", stats.TotalDocuments())
	}

	// doc-1 was embedded when every term had the same weight; "of" is now rarer than
	// the terms it shares with doc-2.
	after, _ := s.Get("doc-1")
	same := true
	for i := range beforeValues {
		if beforeValues[i] != after.Values[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected doc-1 to be re-embedded with settled statistics")
	}
	recs, _ := p.Load(context.Background(), "ci")
	if len(recs) != 3 || recs[0].ID != "doc-1" {
		t.Errorf("persisted after regenerate: %d records", len(recs))
	}
}

func TestStore_regenerateInterruptedKeepsRecords(t *testing.T) {
	p := &budgetPersister{MemoryPersister: storage.NewMemoryPersister(), saves: 3}
	s := openStore(t, statistical(corpus.NewStats()), p, DefaultOptions())
	seed(t, s, dragonCon, roman, machine)

	p.saves = 1
	_, err := s.Regenerate(context.Background(), nil)
	if !models.IsNotDurable(err) {
		t.Fatalf("expected not-durable error, got %v", err)
	}
	recs, err := p.MemoryPersister.Load(context.Background(), "ci")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Errorf("interrupted regenerate left %d persisted records, want 3", len(recs))
	}
}

func TestStore_regenerateDropsStaleRows(t *testing.T) {
	ctx := context.Background()
	p := storage.NewMemoryPersister()
	s := openStore(t, statistical(corpus.NewStats()), p, DefaultOptions())
	seed(t, s, dragonCon, roman)

	fresh, err := Open(ctx, "ci", true, statistical(corpus.NewStats()), p, DefaultOptions(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := fresh.Store(ctx, "doc-3", machine); err != nil {
		t.Fatal(err)
	}
	if _, err := fresh.Regenerate(ctx, nil); err != nil {
		t.Fatal(err)
	}
	recs, err := p.Load(ctx, "ci")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "doc-3" {
		t.Errorf("persisted after regenerate = %d records", len(recs))
	}
}

func BenchmarkStore_Search(b *testing.B) {
	s, _ := Open(context.Background(), "bench", true, statistical(corpus.NewStats()), storage.NewMemoryPersister(), DefaultOptions(), nil)
	for i := 0; i < 2000; i++ {
		_ = s.Store(context.Background(), fmt.Sprint(i), fmt.Sprintf("memory %d about topic %d and subject %d", i, i%31, i%17))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Search(context.Background(), "topic subject", 10)
	}
}
