// Package rerank provides the optional cross-encoder reranking stage. The
// relevance model is consumed as a pure scoring function over HTTP; it is
// stateless per call and never used for indexing.
package rerank

import "context"

// Result is one reranked document: its index in the input slice and the
// model's relevance score.
type Result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Provider scores (query, document) pairs jointly and returns the topN most
// relevant input indices, ordered by descending score.
type Provider interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
	Name() string
}
