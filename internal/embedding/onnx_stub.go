//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/recall/internal/models"
)

// ONNXEmbedder stub type when built without CGO (see onnx.go for real implementation).
type ONNXEmbedder struct{}

// NewONNXEmbedder returns an error when built without CGO (ONNX not available).
func NewONNXEmbedder(_ string, _, _, _ int) (*ONNXEmbedder, error) {
	return nil, fmt.Errorf("%w: ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime",
		models.ErrNotImplemented)
}

func (e *ONNXEmbedder) Document(context.Context, string) ([]float32, error) {
	return nil, models.ErrNotImplemented
}

func (e *ONNXEmbedder) Query(context.Context, string) ([]float32, error) {
	return nil, models.ErrNotImplemented
}

func (e *ONNXEmbedder) Method() Method  { return MethodONNX }
func (e *ONNXEmbedder) Dimensions() int { return 0 }
func (e *ONNXEmbedder) Close() error    { return nil }
