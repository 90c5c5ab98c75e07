package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderEmbeds(t *testing.T) {
	var gotPath string
	var gotBody openAIEmbedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		// Respond out of order on purpose; the client must sort by index.
		resp := openAIEmbedResponse{}
		resp.Data = []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}{
			{Index: 1, Embedding: []float64{0.3, 0.4}},
			{Index: 0, Embedding: []float64{0.1, 0.2}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{
		BaseConfig: BaseConfig{BaseURL: server.URL, Model: "all-MiniLM-L6-v2"},
		Dimensions: 2,
	})
	vecs, err := p.EmbedDocuments(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	assert.Equal(t, "/v1/embeddings", gotPath)
	assert.Equal(t, "all-MiniLM-L6-v2", gotBody.Model)
	assert.Equal(t, [][]float64{{0.1, 0.2}, {0.3, 0.4}}, vecs)
	assert.Equal(t, 2, p.Dimensions())
}

func TestOpenAIProviderUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseConfig: BaseConfig{BaseURL: server.URL}})
	_, err := p.EmbedQuery(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
}

func TestFastEmbedProviderEmbeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed_sparse", r.URL.Path)
		json.NewEncoder(w).Encode([]SparseVector{
			{Indices: []uint32{3, 17}, Values: []float64{0.5, 1.2}},
		})
	}))
	defer server.Close()

	p := NewFastEmbedProvider(BaseConfig{BaseURL: server.URL, Model: "Qdrant/bm25"})
	vec, err := p.EmbedQuery(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 17}, vec.Indices)
	assert.Equal(t, []float64{0.5, 1.2}, vec.Values)
}

func TestFastEmbedProviderRejectsMisalignedVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]SparseVector{
			{Indices: []uint32{1, 2}, Values: []float64{0.5}},
		})
	}))
	defer server.Close()

	p := NewFastEmbedProvider(BaseConfig{BaseURL: server.URL})
	_, err := p.EmbedQuery(context.Background(), "hello")
	assert.Error(t, err)
}

func TestEmbedDocumentsEmptyBatch(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{BaseConfig: BaseConfig{BaseURL: "http://unused"}})
	vecs, err := p.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)

	sp := NewFastEmbedProvider(BaseConfig{BaseURL: "http://unused"})
	svecs, err := sp.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, svecs)
}
