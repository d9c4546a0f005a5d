// Package embedding turns text into fixed-dimension vectors using interchangeable strategies.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/recall/internal/models"
)

// Method names an embedding strategy.
type Method string

const (
	// MethodHash maps token hashes into buckets. No corpus dependency.
	MethodHash Method = "hash"
	// MethodStatistical weights tokens by TF-IDF against corpus statistics.
	MethodStatistical Method = "statistical"
	// MethodExternal calls a remote embedding provider.
	MethodExternal Method = "external"
	// MethodONNX runs a local model through onnxruntime (cgo builds only).
	MethodONNX Method = "onnx"
)

// ParseMethod resolves a configured method name. "tfidf" is accepted for statistical.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hash":
		return MethodHash, nil
	case "statistical", "tfidf", "":
		return MethodStatistical, nil
	case "external":
		return MethodExternal, nil
	case "onnx":
		return MethodONNX, nil
	default:
		return "", fmt.Errorf("%w: unknown embedding method %q (supported: hash, statistical, external, onnx)",
			models.ErrInvalidArgument, s)
	}
}

// Strategy produces raw embedding values for text.
//
// Document is called for text that is about to be stored and may record it in corpus
// statistics. Query is called for lookups and must never change corpus statistics.
type Strategy interface {
	Document(ctx context.Context, text string) ([]float32, error)
	Query(ctx context.Context, text string) ([]float32, error)
	Method() Method
	Dimensions() int
	Close() error
}

// Create embeds text for storage under recordID and returns the normalized embedding.
func Create(ctx context.Context, s Strategy, recordID, text string) (*models.Embedding, error) {
	values, err := s.Document(ctx, text)
	if err != nil {
		return nil, err
	}
	return models.NewEmbedding(recordID, fit(values, s.Dimensions())), nil
}

// CreateQuery embeds query text without touching corpus statistics.
func CreateQuery(ctx context.Context, s Strategy, text string) (*models.Embedding, error) {
	values, err := s.Query(ctx, text)
	if err != nil {
		return nil, err
	}
	return models.NewEmbedding("", fit(values, s.Dimensions())), nil
}

// fit zero-pads or truncates values to dims.
func fit(values []float32, dims int) []float32 {
	if dims <= 0 || len(values) == dims {
		return values
	}
	out := make([]float32, dims)
	copy(out, values)
	return out
}

// Observer is implemented by strategies that keep corpus statistics. Observe records a
// document's terms without embedding it.
type Observer interface {
	Observe(text string)
}
