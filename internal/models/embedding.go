// Package models defines core data structures for embeddings, records, queries, and search results.
package models

import (
	"time"

	"github.com/hyperjump/recall/pkg/utils"
)

// Embedding is a fixed-dimension vector for one record. Values are unit length unless the
// source vector was all zero, in which case Values stay zero and Magnitude is 0.
type Embedding struct {
	RecordID  string    `json:"record_id"`
	Values    []float32 `json:"values"`
	Magnitude float32   `json:"magnitude"`
}

// NewEmbedding takes ownership of values, L2-normalizes them in place and sets Magnitude.
func NewEmbedding(recordID string, values []float32) *Embedding {
	e := &Embedding{RecordID: recordID, Values: values}
	if utils.NormalizeL2(values) > 0 {
		e.Magnitude = 1
	}
	return e
}

// Dimensions returns the vector length.
func (e *Embedding) Dimensions() int {
	return len(e.Values)
}

// Clone returns a deep copy, optionally under a different record id.
func (e *Embedding) Clone(recordID string) *Embedding {
	values := make([]float32, len(e.Values))
	copy(values, e.Values)
	return &Embedding{RecordID: recordID, Values: values, Magnitude: e.Magnitude}
}

// Record is one stored memory: its original text and the embedding derived from it.
type Record struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Embedding *Embedding `json:"embedding"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
