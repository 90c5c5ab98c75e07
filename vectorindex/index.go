package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hassaanmuzammil/pro-rag/llm/embedding"
	"github.com/hassaanmuzammil/pro-rag/types"
)

// Mode selects which vector stages a search runs.
type Mode string

const (
	ModeDense  Mode = "dense"
	ModeSparse Mode = "sparse"
	ModeHybrid Mode = "hybrid"
)

// Named vectors inside the collection. Dense carries the semantic embedding,
// sparse the lexical one.
const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// Hit is one search result, payload already unpacked.
type Hit struct {
	Key      string
	Content  string
	Metadata map[string]any
	Score    float64
}

// Chunk converts the hit back into a chunk value.
func (h Hit) Chunk() types.Chunk {
	return types.Chunk{Key: h.Key, Content: h.Content, Metadata: h.Metadata}
}

// Filter narrows a search to chunks from the given sources. The zero value
// matches everything.
type Filter struct {
	Sources []string
}

func (f Filter) empty() bool { return len(f.Sources) == 0 }

// Config configures the Qdrant-backed index.
type Config struct {
	BaseURL    string
	APIKey     string
	Collection string
	VectorSize int
	Timeout    time.Duration
}

// Index stores child chunks as named dense+sparse vector points in a Qdrant
// collection and searches them in dense, sparse or hybrid mode.
type Index struct {
	cfg Config

	baseURL string
	client  *http.Client
	logger  *zap.Logger

	dense  embedding.DenseProvider
	sparse embedding.SparseProvider
}

// New builds an Index. The dense provider is required; sparse may be nil, in
// which case only dense search is available and upserts carry no sparse
// vectors.
func New(cfg Config, dense embedding.DenseProvider, sparse embedding.SparseProvider, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dense == nil {
		return nil, fmt.Errorf("vectorindex: dense embedding provider is required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("vectorindex: collection is required")
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("vectorindex: vector size must be > 0")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}

	return &Index{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "vector_index")),
		dense:   dense,
		sparse:  sparse,
	}, nil
}

var pointNamespace = uuid.MustParse("7c9e3a62-1b5f-4d8c-9e2a-6f4b8d0c1a37")

// pointID derives a stable UUID from the chunk key, so re-upserting the same
// key overwrites the existing point.
func pointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

func (ix *Index) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(ix.cfg.APIKey) != "" {
		req.Header.Set("api-key", ix.cfg.APIKey)
	}
}

func (ix *Index) doJSON(ctx context.Context, method, path string, in any, out any) (int, error) {
	endpoint := ix.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, err
	}
	ix.applyHeaders(req)

	resp, err := ix.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

// EnsureCollection creates the collection if it does not exist. It reports
// whether this call created it; an existing collection (including a 409 from a
// concurrent creator) is success with created=false.
func (ix *Index) EnsureCollection(ctx context.Context) (bool, error) {
	path := fmt.Sprintf("/collections/%s", url.PathEscape(ix.cfg.Collection))

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors map[string]struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := ix.doJSON(ctx, http.MethodGet, path, nil, &info)
	if err == nil {
		if v, ok := info.Result.Config.Params.Vectors[denseVectorName]; ok && v.Size != ix.cfg.VectorSize {
			return false, fmt.Errorf("vectorindex: collection %q has dense size %d, want %d", ix.cfg.Collection, v.Size, ix.cfg.VectorSize)
		}
		return false, nil
	}
	if status != http.StatusNotFound {
		return false, err
	}

	body := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     ix.cfg.VectorSize,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{
				"modifier": "idf",
			},
		},
	}
	status, err = ix.doJSON(ctx, http.MethodPut, path, body, nil)
	if err != nil {
		// Lost a creation race; the collection exists now.
		if status == http.StatusConflict {
			return false, nil
		}
		return false, err
	}

	ix.logger.Info("collection created",
		zap.String("collection", ix.cfg.Collection),
		zap.Int("vector_size", ix.cfg.VectorSize))
	return true, nil
}

type sparsePayload struct {
	Indices []uint32  `json:"indices"`
	Values  []float64 `json:"values"`
}

type point struct {
	ID      string         `json:"id"`
	Vector  map[string]any `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Upsert embeds the chunks and writes them as points, one per chunk. The
// chunk key and metadata travel in the payload so search results can be
// resolved back to store records.
func (ix *Index) Upsert(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		if strings.TrimSpace(ch.Key) == "" {
			return fmt.Errorf("vectorindex: chunk[%d] has empty key", i)
		}
		texts[i] = ch.Content
	}

	var (
		denseVecs  [][]float64
		sparseVecs []embedding.SparseVector
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := ix.dense.EmbedDocuments(gctx, texts)
		if err != nil {
			return fmt.Errorf("embed dense: %w", err)
		}
		denseVecs = vecs
		return nil
	})
	if ix.sparse != nil {
		g.Go(func() error {
			vecs, err := ix.sparse.EmbedDocuments(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed sparse: %w", err)
			}
			sparseVecs = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(denseVecs) != len(chunks) {
		return fmt.Errorf("vectorindex: dense embedding count mismatch: got=%d want=%d", len(denseVecs), len(chunks))
	}
	if ix.sparse != nil && len(sparseVecs) != len(chunks) {
		return fmt.Errorf("vectorindex: sparse embedding count mismatch: got=%d want=%d", len(sparseVecs), len(chunks))
	}

	points := make([]point, 0, len(chunks))
	for i, ch := range chunks {
		if len(denseVecs[i]) != ix.cfg.VectorSize {
			return fmt.Errorf("vectorindex: chunk[%d] dense dimension mismatch: got=%d want=%d", i, len(denseVecs[i]), ix.cfg.VectorSize)
		}
		vector := map[string]any{
			denseVectorName: normalize(denseVecs[i]),
		}
		if ix.sparse != nil {
			vector[sparseVectorName] = sparsePayload{
				Indices: sparseVecs[i].Indices,
				Values:  sparseVecs[i].Values,
			}
		}
		points = append(points, point{
			ID:     pointID(ch.Key),
			Vector: vector,
			Payload: map[string]any{
				"key":      ch.Key,
				"content":  ch.Content,
				"metadata": ch.CloneMetadata(),
			},
		})
	}

	req := struct {
		Points []point `json:"points"`
	}{Points: points}

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(ix.cfg.Collection))
	if _, err := ix.doJSON(ctx, http.MethodPut, path, req, nil); err != nil {
		return err
	}

	ix.logger.Debug("upsert completed", zap.Int("count", len(points)))
	return nil
}

// Search embeds the query and returns up to k hits. Hybrid mode issues the
// dense and sparse stage queries concurrently and fuses them client-side with
// reciprocal rank fusion.
func (ix *Index) Search(ctx context.Context, query string, mode Mode, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}

	switch mode {
	case ModeDense:
		return ix.searchDense(ctx, query, k, filter)
	case ModeSparse:
		return ix.searchSparse(ctx, query, k, filter)
	case ModeHybrid:
		if ix.sparse == nil {
			return ix.searchDense(ctx, query, k, filter)
		}
		var denseHits, sparseHits []Hit
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			hits, err := ix.searchDense(gctx, query, k, filter)
			if err != nil {
				return err
			}
			denseHits = hits
			return nil
		})
		g.Go(func() error {
			hits, err := ix.searchSparse(gctx, query, k, filter)
			if err != nil {
				return err
			}
			sparseHits = hits
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return rrfFuse([][]Hit{denseHits, sparseHits}, k), nil
	default:
		return nil, fmt.Errorf("vectorindex: unknown search mode %q", mode)
	}
}

func (ix *Index) searchDense(ctx context.Context, query string, k int, filter Filter) ([]Hit, error) {
	vec, err := ix.dense.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed dense query: %w", err)
	}
	return ix.queryPoints(ctx, normalize(vec), denseVectorName, k, filter)
}

func (ix *Index) searchSparse(ctx context.Context, query string, k int, filter Filter) ([]Hit, error) {
	if ix.sparse == nil {
		return nil, fmt.Errorf("vectorindex: sparse search requested but no sparse provider configured")
	}
	vec, err := ix.sparse.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed sparse query: %w", err)
	}
	q := sparsePayload{Indices: vec.Indices, Values: vec.Values}
	return ix.queryPoints(ctx, q, sparseVectorName, k, filter)
}

func (ix *Index) queryPoints(ctx context.Context, queryVec any, using string, k int, filter Filter) ([]Hit, error) {
	req := map[string]any{
		"query":        queryVec,
		"using":        using,
		"limit":        k,
		"with_payload": true,
	}
	if f := sourceFilter(filter); f != nil {
		req["filter"] = f
	}

	var resp struct {
		Result struct {
			Points []struct {
				ID      any            `json:"id"`
				Score   float64        `json:"score"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/query", url.PathEscape(ix.cfg.Collection))
	if _, err := ix.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		hit := Hit{Score: p.Score, Metadata: map[string]any{}}
		if v, ok := p.Payload["key"].(string); ok {
			hit.Key = v
		}
		if v, ok := p.Payload["content"].(string); ok {
			hit.Content = v
		}
		if m, ok := p.Payload["metadata"].(map[string]any); ok {
			hit.Metadata = m
		}
		if hit.Key == "" {
			hit.Key = fmt.Sprint(p.ID)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteBySource removes every point whose payload source matches. Deleting a
// source with no points is a no-op.
func (ix *Index) DeleteBySource(ctx context.Context, source string) error {
	if strings.TrimSpace(source) == "" {
		return nil
	}
	req := map[string]any{
		"filter": sourceFilter(Filter{Sources: []string{source}}),
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(ix.cfg.Collection))
	if _, err := ix.doJSON(ctx, http.MethodPost, path, req, nil); err != nil {
		return err
	}
	ix.logger.Debug("deleted points by source", zap.String("source", source))
	return nil
}

func sourceFilter(f Filter) map[string]any {
	if f.empty() {
		return nil
	}
	var match map[string]any
	if len(f.Sources) == 1 {
		match = map[string]any{"value": f.Sources[0]}
	} else {
		match = map[string]any{"any": f.Sources}
	}
	return map[string]any{
		"must": []map[string]any{
			{
				"key":   "metadata." + types.MetaSource,
				"match": match,
			},
		},
	}
}

// normalize returns the L2-normalized copy of vec. Zero vectors come back
// unchanged so they never turn into NaN.
func normalize(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
