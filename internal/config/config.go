// Package config provides configuration loading and structs for the recall server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Semantic  SemanticConfig  `yaml:"semantic"`
	Index     IndexConfig     `yaml:"index"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects the persistence backend and its paths.
type StorageConfig struct {
	Backend         string `yaml:"backend"` // sqlite, jsonl, bolt or memory
	DatabasePath    string `yaml:"database_path"`
	JSONLDir        string `yaml:"jsonl_dir"`
	BoltPath        string `yaml:"bolt_path"`
	InitialCapacity int    `yaml:"initial_capacity"`
}

// EmbeddingConfig holds embedding strategy settings.
type EmbeddingConfig struct {
	Method         string         `yaml:"method"` // hash, statistical, external or onnx
	Dimensions     int            `yaml:"dimensions"`
	MinTokenLength int            `yaml:"min_token_length"`
	MaxTokenLength int            `yaml:"max_token_length"`
	MaxTokens      int            `yaml:"max_tokens"`
	NeighborSpread *float64       `yaml:"neighbor_spread"`
	Fallback       *bool          `yaml:"fallback"`
	External       ExternalConfig `yaml:"external"`
	ONNX           ONNXConfig     `yaml:"onnx"`
}

// FallbackOrDefault returns whether failed external/onnx embeddings fall back to the
// statistical strategy; defaults to true when unset.
func (e *EmbeddingConfig) FallbackOrDefault() bool {
	if e.Fallback != nil {
		return *e.Fallback
	}
	return true
}

// NeighborSpreadOrDefault returns the fraction of a term's weight spread to adjacent
// dimensions; defaults to 0.5 when unset. Zero disables spreading.
func (e *EmbeddingConfig) NeighborSpreadOrDefault() float64 {
	if e.NeighborSpread != nil {
		return *e.NeighborSpread
	}
	return 0.5
}

// ExternalConfig configures the remote embedding provider.
type ExternalConfig struct {
	Provider  string        `yaml:"provider"` // openai or ollama
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	APIKeyEnv []string      `yaml:"api_key_env"`
	CacheSize int           `yaml:"cache_size"`
}

// ONNXConfig configures the local model strategy.
type ONNXConfig struct {
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
}

// SemanticConfig is the similarity search surface.
type SemanticConfig struct {
	Enabled    *bool    `yaml:"enabled"`
	Threshold  *float64 `yaml:"threshold"`
	MaxResults int      `yaml:"max_results"`
}

// EnabledOrDefault returns whether semantic search is on; defaults to true when unset.
func (s *SemanticConfig) EnabledOrDefault() bool {
	if s.Enabled != nil {
		return *s.Enabled
	}
	return true
}

// ThresholdOrDefault returns the minimum similarity for semantic matches; defaults to 0.3
// when unset. Zero keeps every semantic match.
func (s *SemanticConfig) ThresholdOrDefault() float64 {
	if s.Threshold != nil {
		return *s.Threshold
	}
	return 0.3
}

// IndexConfig holds proximity graph parameters.
type IndexConfig struct {
	Enabled         *bool   `yaml:"enabled"`
	MinVectors      int     `yaml:"min_vectors"`
	M               int     `yaml:"m"`
	MMax            int     `yaml:"m_max"`
	EfConstruction  int     `yaml:"ef_construction"`
	EfSearch        int     `yaml:"ef_search"`
	MaxLayers       int     `yaml:"max_layers"`
	LevelMultiplier float64 `yaml:"level_multiplier"`
	Seed            int64   `yaml:"seed"`
}

// EnabledOrDefault returns whether stores route large searches through the index; defaults to true.
func (i *IndexConfig) EnabledOrDefault() bool {
	if i.Enabled != nil {
		return *i.Enabled
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.JSONLDir = expandPath(cfg.Storage.JSONLDir, configDir)
	cfg.Storage.BoltPath = expandPath(cfg.Storage.BoltPath, configDir)
	if cfg.Embedding.ONNX.ModelPath != "" {
		cfg.Embedding.ONNX.ModelPath = expandPath(cfg.Embedding.ONNX.ModelPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting runtime semantic settings.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects values that defaults cannot repair.
func Validate(cfg *Config) error {
	if t := cfg.Semantic.ThresholdOrDefault(); t < 0 || t > 1 {
		return fmt.Errorf("semantic.threshold must be within [0,1], got %f", t)
	}
	if sp := cfg.Embedding.NeighborSpreadOrDefault(); sp < 0 || sp > 1 {
		return fmt.Errorf("embedding.neighbor_spread must be within [0,1], got %f", sp)
	}
	switch cfg.Storage.Backend {
	case "sqlite", "jsonl", "bolt", "memory":
	default:
		return fmt.Errorf("unknown storage backend: %s (supported: sqlite, jsonl, bolt, memory)", cfg.Storage.Backend)
	}
	if cfg.Embedding.MinTokenLength > cfg.Embedding.MaxTokenLength {
		return fmt.Errorf("embedding.min_token_length (%d) exceeds max_token_length (%d)",
			cfg.Embedding.MinTokenLength, cfg.Embedding.MaxTokenLength)
	}
	if cfg.Index.MMax < cfg.Index.M {
		return fmt.Errorf("index.m_max (%d) must be at least index.m (%d)", cfg.Index.MMax, cfg.Index.M)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
