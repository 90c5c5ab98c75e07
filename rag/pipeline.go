package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hassaanmuzammil/pro-rag/docstore"
	"github.com/hassaanmuzammil/pro-rag/internal/metrics"
	"github.com/hassaanmuzammil/pro-rag/llm"
	"github.com/hassaanmuzammil/pro-rag/llm/rerank"
	"github.com/hassaanmuzammil/pro-rag/types"
	"github.com/hassaanmuzammil/pro-rag/vectorindex"
)

// PipelineConfig tunes the orchestration stages.
type PipelineConfig struct {
	// TopN caps the candidate set handed to generation, with or without a
	// reranker.
	TopN int
	// ContextTokenBudget truncates the rendered context block.
	ContextTokenBudget int
	// StopTokens end answer streaming when contained in a fragment.
	StopTokens []string
	// HistoryWindow bounds the chat turns conditioning the rewrite.
	HistoryWindow int
	// RelevanceGate enables the context-relevance check between retrieval
	// and answering.
	RelevanceGate bool
}

// Pipeline is the retrieval and generation orchestrator. Construction wires
// every collaborator once; requests hold no pipeline state.
type Pipeline struct {
	retriever Retriever
	store     *docstore.Store
	index     *vectorindex.Index
	reranker  rerank.Provider
	client    llm.Client
	counter   *llm.TokenCounter
	cfg       PipelineConfig
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewPipeline validates the wiring and returns a Pipeline. The reranker,
// token counter and collector are optional; everything else is required.
func NewPipeline(retriever Retriever, store *docstore.Store, index *vectorindex.Index, reranker rerank.Provider, client llm.Client, counter *llm.TokenCounter, cfg PipelineConfig, collector *metrics.Collector, logger *zap.Logger) (*Pipeline, error) {
	if retriever == nil {
		return nil, errors.New("rag: retriever is required")
	}
	if store == nil {
		return nil, errors.New("rag: docstore is required")
	}
	if index == nil {
		return nil, errors.New("rag: vector index is required")
	}
	if client == nil {
		return nil, errors.New("rag: llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = llm.NewHeuristicTokenCounter()
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 3
	}
	if cfg.ContextTokenBudget <= 0 {
		cfg.ContextTokenBudget = 3000
	}
	if len(cfg.StopTokens) == 0 {
		cfg.StopTokens = llm.DefaultStopTokens
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	return &Pipeline{
		retriever: retriever,
		store:     store,
		index:     index,
		reranker:  reranker,
		client:    client,
		counter:   counter,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "pipeline")),
		metrics:   collector,
	}, nil
}

// Index ingests one document under the given source identifier.
func (p *Pipeline) Index(ctx context.Context, source string, docs []types.Document) error {
	if strings.TrimSpace(source) == "" {
		return errors.New("rag: source is required")
	}
	if err := p.retriever.Index(ctx, source, docs); err != nil {
		p.metrics.IndexFailure()
		return err
	}
	p.metrics.DocumentIndexed()
	return nil
}

// DeleteDocument removes every index and store entry for the source. Both
// deletions are attempted even when the first fails.
func (p *Pipeline) DeleteDocument(ctx context.Context, source string) error {
	if strings.TrimSpace(source) == "" {
		return errors.New("rag: source is required")
	}
	var errs []error
	if err := p.index.DeleteBySource(ctx, source); err != nil {
		errs = append(errs, fmt.Errorf("delete vectors: %w", err))
	}
	if err := p.store.DeleteBySource(ctx, source); err != nil {
		errs = append(errs, fmt.Errorf("delete store records: %w", err))
	}
	return errors.Join(errs...)
}

// ListDocuments lists every indexed source and its stored chunk count.
func (p *Pipeline) ListDocuments(ctx context.Context) ([]docstore.SourceInfo, error) {
	return p.store.ListSources(ctx)
}

// Retrieve runs the retrieval stage: candidates, optional rerank, optional
// neighbor expansion, dedupe, then document reading order. Upstream failures
// degrade to an empty result with a log and a counter, never an error.
func (p *Pipeline) Retrieve(ctx context.Context, query string, expand bool) ([]types.SourceResult, error) {
	candidates, err := p.retriever.Retrieve(ctx, query, vectorindex.Filter{})
	if err != nil {
		p.logger.Warn("retrieval degraded to empty", zap.Error(err))
		p.metrics.DegradedRead("retriever", "search")
		return []types.SourceResult{}, nil
	}
	if len(candidates) == 0 {
		return []types.SourceResult{}, nil
	}

	candidates = p.rerankCandidates(ctx, query, candidates)
	if expand {
		candidates = p.expand(ctx, candidates)
	} else {
		candidates = dedupe(candidates)
	}
	sortByReadingOrder(candidates)

	results := make([]types.SourceResult, len(candidates))
	for i, c := range candidates {
		results[i] = types.SourceResult{
			Name:    types.SourceName(c.Source()),
			Page:    c.Page(),
			Content: strings.TrimSpace(c.Content),
		}
	}
	return results, nil
}

// rerankCandidates re-scores the pool down to TopN. Without a reranker, and
// when the reranker fails, the retrieval order passes through untouched.
func (p *Pipeline) rerankCandidates(ctx context.Context, query string, candidates []types.Chunk) []types.Chunk {
	if p.reranker == nil {
		return capN(candidates, p.cfg.TopN)
	}
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}
	ranked, err := p.reranker.Rerank(ctx, query, docs, p.cfg.TopN)
	if err != nil {
		p.logger.Warn("rerank degraded to passthrough", zap.Error(err))
		p.metrics.DegradedRead("rerank", "rerank")
		return capN(candidates, p.cfg.TopN)
	}
	out := make([]types.Chunk, 0, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		out = append(out, candidates[r.Index])
	}
	return out
}

// expand grows the candidate set with each candidate's stored neighbors. The
// result is a superset of the deduplicated input; expansion never removes a
// candidate, and neighbor fetch failures degrade to the unexpanded set.
func (p *Pipeline) expand(ctx context.Context, candidates []types.Chunk) []types.Chunk {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]types.Chunk, 0, len(candidates))
	var neighborKeys []string

	for _, c := range candidates {
		key := p.resolveKey(ctx, c)
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		// Unresolved candidates are each unique, never merged.
		out = append(out, c)

		for _, metaKey := range []string{types.MetaPrevKey, types.MetaNextKey} {
			nk := c.MetaString(metaKey)
			if nk == "" {
				continue
			}
			if _, dup := seen[nk]; dup {
				continue
			}
			seen[nk] = struct{}{}
			neighborKeys = append(neighborKeys, nk)
		}
	}

	if len(neighborKeys) == 0 {
		return out
	}
	neighbors, err := p.store.BulkGet(ctx, neighborKeys)
	if err != nil {
		p.logger.Warn("neighbor expansion degraded", zap.Error(err))
		p.metrics.DegradedRead("docstore", "bulk_get")
		return dedupe(candidates)
	}
	return append(out, neighbors...)
}

// resolveKey maps a candidate to its docstore key: the chunk's own key when
// it came from the store, otherwise a (source, order) reverse lookup.
func (p *Pipeline) resolveKey(ctx context.Context, c types.Chunk) string {
	if c.Key != "" {
		return c.Key
	}
	source := c.Source()
	order, ok := c.Order()
	if source == "" || !ok {
		return ""
	}
	key, err := p.store.FindKeyBySourceOrder(ctx, source, order)
	if err != nil {
		p.logger.Warn("key resolution degraded",
			zap.String("source", source), zap.Int("order", order), zap.Error(err))
		p.metrics.DegradedRead("docstore", "find_key")
		return ""
	}
	return key
}

// dedupe keeps the first occurrence per docstore key. Chunks without a key
// are all kept.
func dedupe(candidates []types.Chunk) []types.Chunk {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]types.Chunk, 0, len(candidates))
	for _, c := range candidates {
		if c.Key != "" {
			if _, dup := seen[c.Key]; dup {
				continue
			}
			seen[c.Key] = struct{}{}
		}
		out = append(out, c)
	}
	return out
}

// sortByReadingOrder orders chunks by (source name, order) ascending. The
// relevance ranking is discarded here; only membership survives. Chunks
// without a stored order sort after their source's ordered chunks.
func sortByReadingOrder(chunks []types.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		ni := types.SourceName(chunks[i].Source())
		nj := types.SourceName(chunks[j].Source())
		if ni != nj {
			return ni < nj
		}
		oi, oki := chunks[i].Order()
		oj, okj := chunks[j].Order()
		if oki && okj {
			return oi < oj
		}
		return oki && !okj
	})
}

func capN(chunks []types.Chunk, n int) []types.Chunk {
	if n > 0 && len(chunks) > n {
		return chunks[:n]
	}
	return chunks
}
