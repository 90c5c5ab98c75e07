package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hassaanmuzammil/pro-rag/llm/embedding"
	"github.com/hassaanmuzammil/pro-rag/types"
)

type fakeDense struct {
	vec []float64
}

func (f *fakeDense) EmbedQuery(context.Context, string) ([]float64, error) {
	return f.vec, nil
}

func (f *fakeDense) EmbedDocuments(_ context.Context, docs []string) ([][]float64, error) {
	out := make([][]float64, len(docs))
	for i := range docs {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeDense) Dimensions() int { return len(f.vec) }
func (f *fakeDense) Name() string    { return "fake-dense" }

type fakeSparse struct {
	vec embedding.SparseVector
}

func (f *fakeSparse) EmbedQuery(context.Context, string) (embedding.SparseVector, error) {
	return f.vec, nil
}

func (f *fakeSparse) EmbedDocuments(_ context.Context, docs []string) ([]embedding.SparseVector, error) {
	out := make([]embedding.SparseVector, len(docs))
	for i := range docs {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeSparse) Name() string { return "fake-sparse" }

func newTestIndex(t *testing.T, handler http.Handler) (*Index, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ix, err := New(Config{
		BaseURL:    srv.URL,
		Collection: "chunks",
		VectorSize: 2,
	},
		&fakeDense{vec: []float64{3, 4}},
		&fakeSparse{vec: embedding.SparseVector{Indices: []uint32{1, 9}, Values: []float64{0.5, 0.25}}},
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	return ix, srv
}

func queryResponse(keys ...string) map[string]any {
	points := make([]map[string]any, len(keys))
	for i, k := range keys {
		points[i] = map[string]any{
			"id":    i + 1,
			"score": 1.0 - float64(i)*0.1,
			"payload": map[string]any{
				"key":     k,
				"content": "body-" + k,
				"metadata": map[string]any{
					types.MetaSource: "doc.txt",
				},
			},
		}
	}
	return map[string]any{"result": map[string]any{"points": points}}
}

func TestEnsureCollectionCreatesOnce(t *testing.T) {
	var created bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/chunks", func(w http.ResponseWriter, r *http.Request) {
		if !created {
			http.Error(w, `{"status":{"error":"not found"}}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"config": map[string]any{
					"params": map[string]any{
						"vectors": map[string]any{"dense": map[string]any{"size": 2}},
					},
				},
			},
		})
	})
	mux.HandleFunc("PUT /collections/chunks", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "vectors")
		assert.Contains(t, body, "sparse_vectors")
		created = true
		json.NewEncoder(w).Encode(map[string]any{"result": true})
	})

	ix, _ := newTestIndex(t, mux)

	got, err := ix.EnsureCollection(context.Background())
	require.NoError(t, err)
	assert.True(t, got)

	got, err = ix.EnsureCollection(context.Background())
	require.NoError(t, err)
	assert.False(t, got, "existing collection is not created again")
}

func TestEnsureCollectionConflictIsSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/chunks", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.HandleFunc("PUT /collections/chunks", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "already exists", http.StatusConflict)
	})

	ix, _ := newTestIndex(t, mux)
	created, err := ix.EnsureCollection(context.Background())
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureCollectionDimensionMismatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/chunks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"config": map[string]any{
					"params": map[string]any{
						"vectors": map[string]any{"dense": map[string]any{"size": 768}},
					},
				},
			},
		})
	})

	ix, _ := newTestIndex(t, mux)
	_, err := ix.EnsureCollection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dense size 768")
}

func TestUpsertBuildsNamedVectorPoints(t *testing.T) {
	var captured struct {
		Points []struct {
			ID     string `json:"id"`
			Vector struct {
				Dense  []float64 `json:"dense"`
				Sparse struct {
					Indices []uint32  `json:"indices"`
					Values  []float64 `json:"values"`
				} `json:"sparse"`
			} `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /collections/chunks/points", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "acknowledged"}})
	})

	ix, _ := newTestIndex(t, mux)
	chunks := []types.Chunk{
		{Key: "k1", Content: "first", Metadata: map[string]any{types.MetaSource: "doc.txt", types.MetaOrder: 0}},
		{Key: "k2", Content: "second", Metadata: map[string]any{types.MetaSource: "doc.txt", types.MetaOrder: 1}},
	}
	require.NoError(t, ix.Upsert(context.Background(), chunks))

	require.Len(t, captured.Points, 2)
	p := captured.Points[0]
	assert.Equal(t, pointID("k1"), p.ID)
	assert.InDelta(t, 0.6, p.Vector.Dense[0], 1e-9, "dense vector is normalized")
	assert.InDelta(t, 0.8, p.Vector.Dense[1], 1e-9)
	assert.Equal(t, []uint32{1, 9}, p.Vector.Sparse.Indices)
	assert.Equal(t, "k1", p.Payload["key"])
	assert.Equal(t, "first", p.Payload["content"])

	meta, ok := p.Payload["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "doc.txt", meta[types.MetaSource])

	// Same key always maps to the same point id.
	assert.Equal(t, p.ID, pointID("k1"))
}

func TestUpsertRejectsEmptyKey(t *testing.T) {
	ix, _ := newTestIndex(t, http.NewServeMux())
	err := ix.Upsert(context.Background(), []types.Chunk{{Key: " ", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty key")
}

func TestSearchDenseSendsUsingAndFilter(t *testing.T) {
	var captured map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/chunks/points/query", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(queryResponse("a", "b"))
	})

	ix, _ := newTestIndex(t, mux)
	hits, err := ix.Search(context.Background(), "q", ModeDense, 5, Filter{Sources: []string{"doc.txt"}})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Key)
	assert.Equal(t, "body-a", hits[0].Content)
	assert.Equal(t, "doc.txt", hits[0].Metadata[types.MetaSource])

	assert.Equal(t, "dense", captured["using"])
	assert.Equal(t, float64(5), captured["limit"])
	filter := captured["filter"].(map[string]any)
	must := filter["must"].([]any)
	cond := must[0].(map[string]any)
	assert.Equal(t, "metadata."+types.MetaSource, cond["key"])
	assert.Equal(t, map[string]any{"value": "doc.txt"}, cond["match"])
}

func TestSearchHybridFusesStages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/chunks/points/query", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req["using"] {
		case "dense":
			json.NewEncoder(w).Encode(queryResponse("a", "b", "c"))
		case "sparse":
			json.NewEncoder(w).Encode(queryResponse("a", "c", "d"))
		default:
			t.Errorf("unexpected using field %v", req["using"])
		}
	})

	ix, _ := newTestIndex(t, mux)
	hits, err := ix.Search(context.Background(), "q", ModeHybrid, 3, Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "a", hits[0].Key, "top of both stages wins the fusion")
}

func TestSearchUnknownMode(t *testing.T) {
	ix, _ := newTestIndex(t, http.NewServeMux())
	_, err := ix.Search(context.Background(), "q", Mode("cosine"), 3, Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown search mode")
}

func TestSearchZeroKOrEmptyQuery(t *testing.T) {
	ix, _ := newTestIndex(t, http.NewServeMux())

	hits, err := ix.Search(context.Background(), "q", ModeDense, 0, Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = ix.Search(context.Background(), "   ", ModeDense, 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteBySource(t *testing.T) {
	var captured map[string]any
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/chunks/points/delete", func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "acknowledged"}})
	})

	ix, _ := newTestIndex(t, mux)
	require.NoError(t, ix.DeleteBySource(context.Background(), "doc.txt"))
	require.Equal(t, 1, calls)

	filter := captured["filter"].(map[string]any)
	must := filter["must"].([]any)
	cond := must[0].(map[string]any)
	assert.Equal(t, map[string]any{"value": "doc.txt"}, cond["match"])

	// Blank source is a no-op, no request goes out.
	require.NoError(t, ix.DeleteBySource(context.Background(), "  "))
	assert.Equal(t, 1, calls)
}
