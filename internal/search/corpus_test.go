package search

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/storage"
)

// topic is a memory with a signature phrase that appears verbatim in its text and a
// paraphrase that reuses its rare words in another order.
type topic struct {
	phrase     string
	paraphrase string
	text       string
}

var topics = []topic{
	{"Kubernetes container orchestration", "orchestration for kubernetes", "Kubernetes is an open-source platform. Kubernetes container orchestration automates deployment and scaling."},
	{"Go golang concurrency", "goroutines channels", "Go is a statically typed language. Go golang concurrency is achieved with goroutines and channels."},
	{"PostgreSQL relational database", "postgresql json", "PostgreSQL is an advanced database. PostgreSQL relational database supports JSON and full-text search."},
	{"machine learning algorithms", "algorithms that learn patterns", "Machine learning is a subset of AI. Machine learning algorithms learn patterns from data."},
	{"Redis in-memory cache", "sessions redis", "Redis is an in-memory data store. Redis in-memory cache is used for sessions and caching."},
	{"Terraform infrastructure as code", "declarative terraform", "Terraform manages cloud infrastructure. Terraform infrastructure as code is declarative."},
	{"Prometheus monitoring metrics", "prometheus time-series", "Prometheus is a monitoring system. Prometheus monitoring metrics are time-series based."},
	{"OAuth 2.0 authorization", "delegated oauth access", "OAuth 2.0 is a framework. OAuth 2.0 authorization enables secure delegated access."},
	{"Git version control", "git tracks source changes", "Git is a distributed system. Git version control tracks changes in source code."},
	{"Apache Kafka streaming", "kafka throughput", "Apache Kafka is a distributed event platform. Apache Kafka streaming handles high throughput."},
	{"Nginx reverse proxy", "nginx static files", "Nginx is a web server. Nginx reverse proxy balances load and serves static files."},
	{"password hashing bcrypt", "bcrypt rainbow tables", "Passwords must be hashed. Password hashing bcrypt is resistant to rainbow tables."},
	{"disaster recovery DR", "failover runbooks", "DR plans restore after outages. Disaster recovery DR involves failover and runbooks."},
	{"graph database Neo4j", "neo4j relationships", "Graph stores keep nodes and edges. Graph database Neo4j is used for relationships."},
	{"CRDT conflict-free", "crdt replication merge", "CRDTs enable replication. CRDT conflict-free replicated data types merge without coordination."},
	{"zero trust security", "trust verifies every request", "Zero trust assumes breach. Zero trust security verifies every request."},
}

func newSQLiteEngine(t *testing.T, dbPath string, minVectors int) (*Engine, storage.Persister) {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = dbPath
	cfg.Index.MinVectors = minVectors
	p, err := storage.New(cfg.Storage)
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(cfg, p, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return e, p
}

func topicID(i int) string { return fmt.Sprintf("topic-%02d", i) }

func assertTopicsFound(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	zero := 0.0
	for i, tp := range topics {
		want := topicID(i)

		resp, err := e.Search(ctx, &models.SearchQuery{OwnerID: "ci", Query: tp.phrase, Limit: 5})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Total == 0 || resp.Results[0].RecordID != want || !resp.Results[0].Exact {
			t.Errorf("phrase %q: expected %s as exact first result, got %+v", tp.phrase, want, resp.Results)
		}

		resp, err = e.Search(ctx, &models.SearchQuery{OwnerID: "ci", Query: tp.paraphrase, Limit: 3, Threshold: &zero})
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, r := range resp.Results {
			if r.RecordID == want {
				found = true
			}
		}
		if !found {
			t.Errorf("paraphrase %q: %s not in top 3 %+v", tp.paraphrase, want, resp.Results)
		}
	}
}

func TestCorpus_persistedAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "db", "vectors.db")

	e, p := newSQLiteEngine(t, dbPath, 1000)
	for i, tp := range topics {
		if _, err := e.Store(ctx, "ci", topicID(i), tp.text); err != nil {
			t.Fatal(err)
		}
	}
	assertTopicsFound(t, e)
	before := e.CorpusStats()
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	e, p = newSQLiteEngine(t, dbPath, 1000)
	defer p.Close()
	defer e.Close()
	if err := e.Open(ctx, "ci", false); err != nil {
		t.Fatal(err)
	}
	if after := e.CorpusStats(); after != before {
		t.Errorf("corpus after reload = %+v, want %+v", after, before)
	}
	assertTopicsFound(t, e)
}

func TestCorpus_throughIndex(t *testing.T) {
	ctx := context.Background()
	e, p := newSQLiteEngine(t, filepath.Join(t.TempDir(), "vectors.db"), 4)
	defer p.Close()
	defer e.Close()

	for i, tp := range topics {
		if _, err := e.Store(ctx, "ci", topicID(i), tp.text); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.BuildIndex(ctx, "ci"); err != nil {
		t.Fatal(err)
	}
	resp, err := e.Search(ctx, &models.SearchQuery{OwnerID: "ci", Query: topics[0].phrase})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.UsedIndex {
		t.Error("expected search to use the proximity index")
	}
	assertTopicsFound(t, e)
}
