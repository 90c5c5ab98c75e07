package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/hassaanmuzammil/pro-rag/docstore"
	"github.com/hassaanmuzammil/pro-rag/llm"
	"github.com/hassaanmuzammil/pro-rag/llm/rerank"
	"github.com/hassaanmuzammil/pro-rag/types"
	"github.com/hassaanmuzammil/pro-rag/vectorindex"
)

func newTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store, err := docstore.New(db, zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

type fakeDense struct{}

func (fakeDense) EmbedQuery(context.Context, string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func (fakeDense) EmbedDocuments(_ context.Context, docs []string) ([][]float64, error) {
	out := make([][]float64, len(docs))
	for i := range docs {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func (fakeDense) Dimensions() int { return 2 }
func (fakeDense) Name() string    { return "fake-dense" }

// fakeQdrant is an in-memory stand-in for the vector service: it remembers
// upserted points in insertion order, serves queries with descending scores
// and honors source filter deletes.
type fakeQdrant struct {
	mu         sync.Mutex
	order      []string
	points     map[string]map[string]any // point id -> payload
	failUpsert bool
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload"`
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{points: make(map[string]map[string]any)}
}

func (f *fakeQdrant) sourceOf(payload map[string]any) string {
	meta, _ := payload["metadata"].(map[string]any)
	src, _ := meta[types.MetaSource].(string)
	return src
}

func (f *fakeQdrant) filterSource(body map[string]any) (string, bool) {
	filter, ok := body["filter"].(map[string]any)
	if !ok {
		return "", false
	}
	must := filter["must"].([]any)
	cond := must[0].(map[string]any)
	match := cond["match"].(map[string]any)
	src, ok := match["value"].(string)
	return src, ok
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/chunks", func(w http.ResponseWriter, r *http.Request) {
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
	mux.HandleFunc("PUT /collections/chunks/points", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failUpsert {
			http.Error(w, "storage full", http.StatusInternalServerError)
			return
		}
		var req struct {
			Points []qdrantPoint `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for _, p := range req.Points {
			if _, ok := f.points[p.ID]; !ok {
				f.order = append(f.order, p.ID)
			}
			f.points[p.ID] = p.Payload
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "acknowledged"}})
	})
	mux.HandleFunc("POST /collections/chunks/points/query", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		limit := len(f.order)
		if v, ok := body["limit"].(float64); ok {
			limit = int(v)
		}
		wantSource, filtered := f.filterSource(body)

		points := make([]map[string]any, 0, limit)
		for i, id := range f.order {
			if len(points) >= limit {
				break
			}
			payload := f.points[id]
			if filtered && f.sourceOf(payload) != wantSource {
				continue
			}
			points = append(points, map[string]any{
				"id":      id,
				"score":   1.0 - float64(i)*0.01,
				"payload": payload,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"points": points}})
	})
	mux.HandleFunc("POST /collections/chunks/points/delete", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		wantSource, _ := f.filterSource(body)
		kept := f.order[:0]
		for _, id := range f.order {
			if f.sourceOf(f.points[id]) == wantSource {
				delete(f.points, id)
				continue
			}
			kept = append(kept, id)
		}
		f.order = kept
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "acknowledged"}})
	})
	return mux
}

func (f *fakeQdrant) countBySource(source string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, payload := range f.points {
		if f.sourceOf(payload) == source {
			n++
		}
	}
	return n
}

func newTestIndex(t *testing.T, fq *fakeQdrant) *vectorindex.Index {
	t.Helper()
	srv := httptest.NewServer(fq.handler(t))
	t.Cleanup(srv.Close)
	ix, err := vectorindex.New(vectorindex.Config{
		BaseURL:    srv.URL,
		Collection: "chunks",
		VectorSize: 2,
	}, fakeDense{}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return ix
}

// offlineIndex builds an index that must never be reached.
func offlineIndex(t *testing.T) *vectorindex.Index {
	t.Helper()
	ix, err := vectorindex.New(vectorindex.Config{
		BaseURL:    "http://127.0.0.1:1",
		Collection: "chunks",
		VectorSize: 2,
	}, fakeDense{}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return ix
}

type fakeRetriever struct {
	mu            sync.Mutex
	chunks        []types.Chunk
	retrieveErr   error
	indexErr      error
	indexCalls    int
	retrieveCalls int
}

func (f *fakeRetriever) Index(context.Context, string, []types.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexCalls++
	return f.indexErr
}

func (f *fakeRetriever) Retrieve(context.Context, string, vectorindex.Filter) ([]types.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieveCalls++
	return f.chunks, f.retrieveErr
}

var _ Retriever = (*fakeRetriever)(nil)

// fakeLLM scripts completions as a FIFO queue and streams from either a
// prepared token slice or a caller-driven channel.
type fakeLLM struct {
	mu                sync.Mutex
	completions       []string
	completionErr     error
	completionPrompts []string

	streamTokens []string
	streamCh     chan llm.StreamChunk
	streamErr    error
	streamPrompt string
	streamCalls  int
}

func (f *fakeLLM) Completion(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completionPrompts = append(f.completionPrompts, prompt)
	if f.completionErr != nil {
		return "", f.completionErr
	}
	if len(f.completions) == 0 {
		return "", nil
	}
	next := f.completions[0]
	f.completions = f.completions[1:]
	return next, nil
}

func (f *fakeLLM) Stream(_ context.Context, prompt string) (<-chan llm.StreamChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls++
	f.streamPrompt = prompt
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if f.streamCh != nil {
		return f.streamCh, nil
	}
	ch := make(chan llm.StreamChunk, len(f.streamTokens))
	for _, tok := range f.streamTokens {
		ch <- llm.StreamChunk{Content: tok}
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) Name() string { return "fake-llm" }

var _ llm.Client = (*fakeLLM)(nil)

type fakeReranker struct {
	results []rerank.Result
	err     error
	calls   int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, _ []string, _ int) ([]rerank.Result, error) {
	f.calls++
	return f.results, f.err
}

func (f *fakeReranker) Name() string { return "fake-rerank" }

var _ rerank.Provider = (*fakeReranker)(nil)

func newTestPipeline(t *testing.T, retriever Retriever, store *docstore.Store, client llm.Client, cfg PipelineConfig) *Pipeline {
	t.Helper()
	if store == nil {
		store = newTestStore(t)
	}
	p, err := NewPipeline(retriever, store, offlineIndex(t), nil, client, nil, cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func drain(t *testing.T, tokens <-chan string) string {
	t.Helper()
	var out string
	for tok := range tokens {
		out += tok
	}
	return out
}
