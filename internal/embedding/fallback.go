package embedding

import (
	"context"

	"go.uber.org/zap"
)

// FallbackEmbedder tries primary and, on error, embeds with secondary instead.
// Both must produce the same dimensions.
type FallbackEmbedder struct {
	primary   Strategy
	secondary Strategy
	logger    *zap.Logger
}

// NewFallbackEmbedder wraps primary with a secondary strategy used when primary fails.
func NewFallbackEmbedder(primary, secondary Strategy, logger *zap.Logger) *FallbackEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackEmbedder{primary: primary, secondary: secondary, logger: logger}
}

// Document embeds with primary, falling back to secondary. A document embedded by primary is
// still observed by secondary so its corpus statistics cover every stored document.
func (e *FallbackEmbedder) Document(ctx context.Context, text string) ([]float32, error) {
	values, err := e.primary.Document(ctx, text)
	if err == nil {
		if _, ok := e.primary.(Observer); !ok {
			if o, ok := e.secondary.(Observer); ok {
				o.Observe(text)
			}
		}
		return values, nil
	}
	e.logger.Warn("embedding failed, falling back",
		zap.String("method", string(e.primary.Method())),
		zap.String("fallback", string(e.secondary.Method())),
		zap.Error(err))
	return e.secondary.Document(ctx, text)
}

// Query embeds with primary, falling back to secondary.
func (e *FallbackEmbedder) Query(ctx context.Context, text string) ([]float32, error) {
	values, err := e.primary.Query(ctx, text)
	if err == nil {
		return values, nil
	}
	e.logger.Warn("query embedding failed, falling back",
		zap.String("method", string(e.primary.Method())),
		zap.String("fallback", string(e.secondary.Method())),
		zap.Error(err))
	return e.secondary.Query(ctx, text)
}

// Method reports the primary method.
func (e *FallbackEmbedder) Method() Method { return e.primary.Method() }

// Dimensions returns the primary's dimension.
func (e *FallbackEmbedder) Dimensions() int { return e.primary.Dimensions() }

// Close closes both strategies.
func (e *FallbackEmbedder) Close() error {
	err := e.primary.Close()
	if err2 := e.secondary.Close(); err == nil {
		err = err2
	}
	return err
}

// Observe forwards to whichever wrapped strategy keeps corpus statistics.
func (e *FallbackEmbedder) Observe(text string) {
	if o, ok := e.primary.(Observer); ok {
		o.Observe(text)
		return
	}
	if o, ok := e.secondary.(Observer); ok {
		o.Observe(text)
	}
}
