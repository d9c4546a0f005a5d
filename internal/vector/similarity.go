package vector

import (
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/pkg/utils"
)

// CosineSimilarity returns the cosine of the angle between a and b in [-1, 1]. It is 0
// when either is nil, either magnitude is 0, or their dimensions differ.
func CosineSimilarity(a, b *models.Embedding) float64 {
	if a == nil || b == nil {
		return 0
	}
	return utils.Cosine(a.Values, b.Values, float64(a.Magnitude), float64(b.Magnitude))
}
