package embedding

import (
	"context"
	"encoding/json"
	"fmt"
)

// OpenAIProvider is the dense embedder, speaking the OpenAI embeddings API.
// Any OpenAI-compatible server works, including local inference servers
// exposing sentence-transformer models.
type OpenAIProvider struct {
	*baseClient
	dimensions int
}

// OpenAIConfig configures the dense embedding endpoint.
type OpenAIConfig struct {
	BaseConfig
	Dimensions int
}

// NewOpenAIProvider creates the dense embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Name == "" {
		cfg.Name = "openai-embedding"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	return &OpenAIProvider{
		baseClient: newBaseClient(cfg.BaseConfig),
		dimensions: cfg.Dimensions,
	}
}

func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

type openAIEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (p *OpenAIProvider) embed(ctx context.Context, inputs []string) ([][]float64, error) {
	raw, err := p.doRequest(ctx, "/v1/embeddings", openAIEmbedRequest{
		Input: inputs,
		Model: p.model,
	})
	if err != nil {
		return nil, err
	}

	var resp openAIEmbedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("%s: got %d embeddings for %d inputs", p.name, len(resp.Data), len(inputs))
	}

	out := make([][]float64, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%s: embedding index %d out of range", p.name, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	vecs, err := p.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds a batch of documents.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	return p.embed(ctx, documents)
}
