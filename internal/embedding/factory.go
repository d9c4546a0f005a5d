package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/corpus"
	"github.com/hyperjump/recall/internal/models"
)

// New builds the strategy named by cfg.Method. stats backs the statistical strategy, which
// also serves as the fallback for external and onnx when cfg.Fallback is on (the default).
// Configuration mistakes such as an unknown method or provider are returned, not masked.
func New(cfg config.EmbeddingConfig, stats *corpus.Stats, logger *zap.Logger) (Strategy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	method, err := ParseMethod(cfg.Method)
	if err != nil {
		return nil, err
	}
	opts := TermOptions{MinLength: cfg.MinTokenLength, MaxLength: cfg.MaxTokenLength, MaxTerms: cfg.MaxTokens}
	statistical := NewTFIDFEmbedder(stats, cfg.Dimensions, opts, cfg.NeighborSpreadOrDefault())

	var primary Strategy
	switch method {
	case MethodHash:
		return NewHashEmbedder(cfg.Dimensions, opts, cfg.NeighborSpreadOrDefault()), nil
	case MethodStatistical:
		return statistical, nil
	case MethodExternal:
		ext := ExternalOptions{
			Provider:   cfg.External.Provider,
			Model:      cfg.External.Model,
			BaseURL:    cfg.External.BaseURL,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.External.Timeout,
			APIKeyEnv:  cfg.External.APIKeyEnv,
			CacheSize:  cfg.External.CacheSize,
		}
		if ext.Provider != string(ProviderOpenAI) && ext.Provider != string(ProviderOllama) {
			return nil, fmt.Errorf("%w: unsupported embedding provider %q", models.ErrInvalidArgument, ext.Provider)
		}
		if !Available(ext) {
			if !cfg.FallbackOrDefault() {
				return nil, fmt.Errorf("external embedding provider %s is unavailable", ext.Provider)
			}
			logger.Warn("external embedding unavailable, using statistical",
				zap.String("provider", ext.Provider), zap.Strings("api_key_env", ext.APIKeyEnv))
			return statistical, nil
		}
		e, err := NewExternalEmbedder(ext)
		if err != nil {
			return nil, err
		}
		primary = e
	case MethodONNX:
		e, err := NewONNXEmbedder(cfg.ONNX.ModelPath, cfg.Dimensions, cfg.ONNX.MaxTokens, cfg.External.CacheSize)
		if err != nil {
			if !cfg.FallbackOrDefault() {
				return nil, err
			}
			logger.Warn("onnx embedding unavailable, using statistical", zap.Error(err))
			return statistical, nil
		}
		primary = e
	}

	if !cfg.FallbackOrDefault() {
		return primary, nil
	}
	return NewFallbackEmbedder(primary, statistical, logger), nil
}
