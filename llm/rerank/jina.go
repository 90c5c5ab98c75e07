package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// JinaConfig configures the Jina-compatible rerank endpoint.
type JinaConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// JinaProvider implements reranking against a Jina-compatible /v1/rerank API.
type JinaProvider struct {
	cfg    JinaConfig
	client *http.Client
}

// NewJinaProvider creates a cross-encoder reranker client.
func NewJinaProvider(cfg JinaConfig) *JinaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.jina.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "jina-reranker-v2-base-multilingual"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &JinaProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *JinaProvider) Name() string { return "jina-rerank" }

type jinaRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type jinaRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores every document against the query and returns the topN
// highest-scoring input indices in descending score order.
func (p *JinaProvider) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if len(documents) == 0 || topN <= 0 {
		return nil, nil
	}
	if topN > len(documents) {
		topN = len(documents)
	}

	body := jinaRerankRequest{
		Query:     query,
		Documents: documents,
		Model:     p.cfg.Model,
		TopN:      topN,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("jina rerank: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("jina rerank: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("jina rerank: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("jina rerank: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var jResp jinaRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&jResp); err != nil {
		return nil, fmt.Errorf("jina rerank: decode response: %w", err)
	}

	results := make([]Result, 0, len(jResp.Results))
	for _, r := range jResp.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("jina rerank: result index %d out of range", r.Index)
		}
		results = append(results, Result{Index: r.Index, RelevanceScore: r.RelevanceScore})
	}
	// Servers are expected to sort, but the contract is ours to keep.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}
