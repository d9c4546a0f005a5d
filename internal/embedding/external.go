package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	ollama "github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperjump/recall/internal/models"
)

// MaxResponseBytes caps the size of a provider response body.
const MaxResponseBytes = 1 << 20

var errResponseTooLarge = errors.New("embedding response exceeds 1MB")

// Provider names a remote embedding service.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// ExternalOptions configures an ExternalEmbedder.
type ExternalOptions struct {
	Provider   string
	Model      string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
	// APIKeyEnv lists environment variables tried in order for the API key.
	APIKeyEnv []string
	CacheSize int
}

// remote is one provider's embedding call.
type remote interface {
	embed(ctx context.Context, text string) ([]float32, error)
}

// ExternalEmbedder fetches embeddings from a remote provider. Results are cached by text.
type ExternalEmbedder struct {
	provider   Provider
	dimensions int
	timeout    time.Duration
	client     remote
	cache      *EmbeddingCache
}

// APIKeyFromEnv returns the first non-empty value among the named environment variables.
func APIKeyFromEnv(names []string) (string, bool) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
	}
	return "", false
}

// Available reports whether the provider in opts can be used with the current environment.
// OpenAI needs an API key; Ollama runs locally and needs none.
func Available(opts ExternalOptions) bool {
	switch Provider(opts.Provider) {
	case ProviderOpenAI:
		_, ok := APIKeyFromEnv(opts.APIKeyEnv)
		return ok
	case ProviderOllama:
		return true
	default:
		return false
	}
}

// NewExternalEmbedder builds an embedder for the configured provider.
func NewExternalEmbedder(opts ExternalOptions) (*ExternalEmbedder, error) {
	if opts.Dimensions <= 0 {
		opts.Dimensions = 384
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	httpClient := &http.Client{
		Timeout:   opts.Timeout,
		Transport: &limitTransport{base: http.DefaultTransport, limit: MaxResponseBytes},
	}

	var client remote
	switch Provider(opts.Provider) {
	case ProviderOpenAI:
		key, ok := APIKeyFromEnv(opts.APIKeyEnv)
		if !ok {
			return nil, fmt.Errorf("%w: no API key in %v", models.ErrIO, opts.APIKeyEnv)
		}
		cfg := openai.DefaultConfig(key)
		cfg.HTTPClient = httpClient
		if opts.BaseURL != "" {
			cfg.BaseURL = opts.BaseURL
		}
		model := opts.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		client = &openaiRemote{client: openai.NewClientWithConfig(cfg), model: model, dimensions: opts.Dimensions}
	case ProviderOllama:
		host := opts.BaseURL
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		if host == "" {
			host = "http://localhost:11434"
		}
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ollama url %q: %v", models.ErrInvalidArgument, host, err)
		}
		model := opts.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		client = &ollamaRemote{client: ollama.NewClient(u, httpClient), model: model}
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q (supported: openai, ollama)",
			models.ErrInvalidArgument, opts.Provider)
	}

	cache, err := NewEmbeddingCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &ExternalEmbedder{
		provider:   Provider(opts.Provider),
		dimensions: opts.Dimensions,
		timeout:    opts.Timeout,
		client:     client,
		cache:      cache,
	}, nil
}

// Document embeds text. Remote providers keep no corpus, so this equals Query.
func (e *ExternalEmbedder) Document(ctx context.Context, text string) ([]float32, error) {
	return e.Query(ctx, text)
}

// Query embeds text with the remote provider, padding or truncating to Dimensions.
func (e *ExternalEmbedder) Query(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	values, err := e.client.embed(ctx, text)
	if err != nil {
		if errors.Is(err, errResponseTooLarge) {
			return nil, fmt.Errorf("%w: %s embedding: %v", models.ErrResource, e.provider, err)
		}
		return nil, fmt.Errorf("%w: %s embedding: %v", models.ErrIO, e.provider, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s returned an empty embedding", models.ErrIO, e.provider)
	}
	values = fit(values, e.dimensions)
	e.cache.Set(text, values)
	return values, nil
}

// Method returns MethodExternal.
func (e *ExternalEmbedder) Method() Method { return MethodExternal }

// Dimensions returns the embedding dimension.
func (e *ExternalEmbedder) Dimensions() int { return e.dimensions }

// Close releases the cache.
func (e *ExternalEmbedder) Close() error {
	e.cache.Close()
	return nil
}

type openaiRemote struct {
	client     *openai.Client
	model      string
	dimensions int
}

func (r *openaiRemote) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := r.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(r.model),
		Input:      []string{text},
		Dimensions: r.dimensions,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding in response")
	}
	return resp.Data[0].Embedding, nil
}

type ollamaRemote struct {
	client *ollama.Client
	model  string
}

func (r *ollamaRemote) embed(ctx context.Context, text string) ([]float32, error) {
	res, err := r.client.Embed(ctx, &ollama.EmbedRequest{
		Model: r.model,
		Input: text,
	})
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Embeddings) == 0 {
		return nil, errors.New("no embedding in response")
	}
	return res.Embeddings[0], nil
}

// limitTransport rejects response bodies larger than limit.
type limitTransport struct {
	base  http.RoundTripper
	limit int64
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > t.limit {
		resp.Body.Close()
		return nil, errResponseTooLarge
	}
	resp.Body = &limitedBody{rc: resp.Body, remaining: t.limit}
	return resp, nil
}

type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		// One byte past the limit means the body really is too large.
		var probe [1]byte
		if n, _ := b.rc.Read(probe[:]); n > 0 {
			return 0, errResponseTooLarge
		}
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *limitedBody) Close() error {
	return b.rc.Close()
}
