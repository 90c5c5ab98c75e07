package embedding

import (
	"context"
	"encoding/json"
	"fmt"
)

// FastEmbedProvider is the sparse embedder, speaking the REST shape of a
// FastEmbed-style sparse embedding server: a batch of texts in, one
// indices/values pair per text out. The server applies its own term
// weighting; the IDF modifier lives on the vector collection.
type FastEmbedProvider struct {
	*baseClient
}

// NewFastEmbedProvider creates the sparse embedding provider.
func NewFastEmbedProvider(cfg BaseConfig) *FastEmbedProvider {
	if cfg.Name == "" {
		cfg.Name = "fastembed-sparse"
	}
	return &FastEmbedProvider{baseClient: newBaseClient(cfg)}
}

type fastEmbedRequest struct {
	Inputs []string `json:"inputs"`
	Model  string   `json:"model,omitempty"`
}

// EmbedQuery embeds a single query string.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, query string) (SparseVector, error) {
	vecs, err := p.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return SparseVector{}, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds a batch of documents.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, documents []string) ([]SparseVector, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	raw, err := p.doRequest(ctx, "/embed_sparse", fastEmbedRequest{
		Inputs: documents,
		Model:  p.model,
	})
	if err != nil {
		return nil, err
	}

	var vecs []SparseVector
	if err := json.Unmarshal(raw, &vecs); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if len(vecs) != len(documents) {
		return nil, fmt.Errorf("%s: got %d vectors for %d inputs", p.name, len(vecs), len(documents))
	}
	for i, v := range vecs {
		if len(v.Indices) != len(v.Values) {
			return nil, fmt.Errorf("%s: vector %d has %d indices but %d values",
				p.name, i, len(v.Indices), len(v.Values))
		}
	}
	return vecs, nil
}
