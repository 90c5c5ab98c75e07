// Package embedding provides the dense and sparse embedding collaborators.
// Both are consumed as opaque scoring functions over HTTP; model internals
// are out of scope.
package embedding

import "context"

// SparseVector is an embedding over a token vocabulary: index/value pairs,
// aligned by position.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float64 `json:"values"`
}

// DenseProvider embeds text into fixed-length vectors. Implementations must
// offer a single-query and a batch-document variant.
type DenseProvider interface {
	EmbedQuery(ctx context.Context, query string) ([]float64, error)
	EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error)
	Dimensions() int
	Name() string
}

// SparseProvider embeds text into sparse index/value pairs.
type SparseProvider interface {
	EmbedQuery(ctx context.Context, query string) (SparseVector, error)
	EmbedDocuments(ctx context.Context, documents []string) ([]SparseVector, error)
	Name() string
}
