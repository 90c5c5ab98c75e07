package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJinaRerankOrdersByScore(t *testing.T) {
	var gotReq jinaRerankRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rerank", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		// Deliberately unsorted response.
		w.Write([]byte(`{"results":[
			{"index":2,"relevance_score":0.41},
			{"index":0,"relevance_score":0.93},
			{"index":1,"relevance_score":0.77}
		]}`))
	}))
	defer server.Close()

	p := NewJinaProvider(JinaConfig{BaseURL: server.URL, Model: "test-reranker"})
	results, err := p.Rerank(context.Background(), "what is chunking?",
		[]string{"doc a", "doc b", "doc c"}, 2)
	require.NoError(t, err)

	assert.Equal(t, "test-reranker", gotReq.Model)
	assert.Equal(t, 2, gotReq.TopN)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 1, results[1].Index)
	assert.Greater(t, results[0].RelevanceScore, results[1].RelevanceScore)
}

func TestJinaRerankEmptyInput(t *testing.T) {
	p := NewJinaProvider(JinaConfig{BaseURL: "http://unused"})
	results, err := p.Rerank(context.Background(), "q", nil, 3)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestJinaRerankClampsTopN(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jinaRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.TopN, "top_n clamped to document count")
		w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.5},{"index":1,"relevance_score":0.4}]}`))
	}))
	defer server.Close()

	p := NewJinaProvider(JinaConfig{BaseURL: server.URL})
	results, err := p.Rerank(context.Background(), "q", []string{"a", "b"}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestJinaRerankUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewJinaProvider(JinaConfig{BaseURL: server.URL})
	_, err := p.Rerank(context.Background(), "q", []string{"a"}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=429")
}

func TestJinaRerankRejectsOutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"index":7,"relevance_score":0.5}]}`))
	}))
	defer server.Close()

	p := NewJinaProvider(JinaConfig{BaseURL: server.URL})
	_, err := p.Rerank(context.Background(), "q", []string{"a"}, 1)
	assert.Error(t, err)
}
