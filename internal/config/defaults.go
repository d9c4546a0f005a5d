package config

import (
	"math"
	"time"
)

// ApplyDefaults sets default values for any zero values in cfg. Settings where zero is
// meaningful (semantic.threshold, embedding.neighbor_spread, the enabled flags) stay nil
// and are resolved by their OrDefault accessors.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/recall/data/db/vectors.db"
	}
	if cfg.Storage.JSONLDir == "" {
		cfg.Storage.JSONLDir = "/usr/local/var/recall/data/vectors"
	}
	if cfg.Storage.BoltPath == "" {
		cfg.Storage.BoltPath = "/usr/local/var/recall/data/db/vectors.bolt"
	}
	if cfg.Storage.InitialCapacity == 0 {
		cfg.Storage.InitialCapacity = 100
	}

	if cfg.Embedding.Method == "" {
		cfg.Embedding.Method = "statistical"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MinTokenLength == 0 {
		cfg.Embedding.MinTokenLength = 2
	}
	if cfg.Embedding.MaxTokenLength == 0 {
		cfg.Embedding.MaxTokenLength = 50
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 1000
	}
	if cfg.Embedding.External.Provider == "" {
		cfg.Embedding.External.Provider = "openai"
	}
	if cfg.Embedding.External.Timeout == 0 {
		cfg.Embedding.External.Timeout = 30 * time.Second
	}
	if cfg.Embedding.External.APIKeyEnv == nil {
		cfg.Embedding.External.APIKeyEnv = []string{"OPENAI_API_KEY", "OPENAI_KEY"}
	}
	if cfg.Embedding.External.CacheSize == 0 {
		cfg.Embedding.External.CacheSize = 10000
	}
	if cfg.Embedding.ONNX.MaxTokens == 0 {
		cfg.Embedding.ONNX.MaxTokens = 256
	}

	if cfg.Semantic.MaxResults == 0 {
		cfg.Semantic.MaxResults = 100
	}

	if cfg.Index.MinVectors == 0 {
		cfg.Index.MinVectors = 1000
	}
	if cfg.Index.M == 0 {
		cfg.Index.M = 16
	}
	if cfg.Index.MMax == 0 {
		cfg.Index.MMax = 2 * cfg.Index.M
	}
	if cfg.Index.EfConstruction == 0 {
		cfg.Index.EfConstruction = 100
	}
	if cfg.Index.EfSearch == 0 {
		cfg.Index.EfSearch = 64
	}
	if cfg.Index.MaxLayers == 0 {
		cfg.Index.MaxLayers = 16
	}
	if cfg.Index.LevelMultiplier == 0 {
		cfg.Index.LevelMultiplier = 1 / math.Log(float64(cfg.Index.M))
	}
}
