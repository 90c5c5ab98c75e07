package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hassaanmuzammil/pro-rag/chunker"
	"github.com/hassaanmuzammil/pro-rag/docstore"
	"github.com/hassaanmuzammil/pro-rag/types"
	"github.com/hassaanmuzammil/pro-rag/vectorindex"
)

// Retriever is the retrieval strategy behind the pipeline. The variant is
// picked once at construction, never per call.
type Retriever interface {
	// Index splits and writes a document into the docstore and the vector
	// index as one logical unit. On failure after a partial write it runs
	// compensating deletes for the source before returning the error.
	Index(ctx context.Context, source string, docs []types.Document) error

	// Retrieve returns candidate chunks for the query in relevance order.
	Retrieve(ctx context.Context, query string, filter vectorindex.Filter) ([]types.Chunk, error)
}

// ParentChildRetriever searches small child chunks in the vector index and
// resolves each hit to its enclosing parent chunk in the docstore. Parents
// are what callers see; children exist only inside the index.
type ParentChildRetriever struct {
	splitter *chunker.Splitter
	store    *docstore.Store
	index    *vectorindex.Index
	mode     vectorindex.Mode
	k        int
	logger   *zap.Logger
}

// NewParentChildRetriever wires the parent/child strategy.
func NewParentChildRetriever(splitter *chunker.Splitter, store *docstore.Store, index *vectorindex.Index, mode vectorindex.Mode, k int, logger *zap.Logger) *ParentChildRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if k <= 0 {
		k = 20
	}
	return &ParentChildRetriever{
		splitter: splitter,
		store:    store,
		index:    index,
		mode:     mode,
		k:        k,
		logger:   logger.With(zap.String("component", "parent_child_retriever")),
	}
}

func (r *ParentChildRetriever) Index(ctx context.Context, source string, docs []types.Document) error {
	parents, childGroups := r.splitter.SplitParentChild(source, docs)
	if len(parents) == 0 {
		return nil
	}

	pairs := make([]docstore.Pair, len(parents))
	for i, p := range parents {
		pairs[i] = docstore.Pair{Key: p.Key, Chunk: p}
	}
	if err := r.store.BulkPut(ctx, pairs); err != nil {
		compensate(ctx, r.store, r.index, source, r.logger)
		return fmt.Errorf("index %s: store parents: %w", source, err)
	}

	var children []types.Chunk
	for _, group := range childGroups {
		children = append(children, group...)
	}
	if err := r.index.Upsert(ctx, children); err != nil {
		compensate(ctx, r.store, r.index, source, r.logger)
		return fmt.Errorf("index %s: upsert children: %w", source, err)
	}

	r.logger.Info("document indexed",
		zap.String("source", source),
		zap.Int("parents", len(parents)),
		zap.Int("children", len(children)))
	return nil
}

func (r *ParentChildRetriever) Retrieve(ctx context.Context, query string, filter vectorindex.Filter) ([]types.Chunk, error) {
	hits, err := r.index.Search(ctx, query, r.mode, r.k, filter)
	if err != nil {
		return nil, fmt.Errorf("search children: %w", err)
	}

	// Children of the same parent collapse to one candidate; the best hit
	// decides the parent's relevance position.
	var parentKeys []string
	seen := make(map[string]struct{})
	var unresolved []types.Chunk
	for _, hit := range hits {
		key := hit.Chunk().MetaString(types.MetaParentKey)
		if key == "" {
			key = r.lookupKey(ctx, hit.Chunk())
		}
		if key == "" {
			unresolved = append(unresolved, hit.Chunk())
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		parentKeys = append(parentKeys, key)
	}

	parents, err := r.store.BulkGet(ctx, parentKeys)
	if err != nil {
		return nil, fmt.Errorf("resolve parents: %w", err)
	}
	return append(parents, unresolved...), nil
}

func (r *ParentChildRetriever) lookupKey(ctx context.Context, c types.Chunk) string {
	source := c.Source()
	order, ok := c.Order()
	if source == "" || !ok {
		return ""
	}
	key, err := r.store.FindKeyBySourceOrder(ctx, source, order)
	if err != nil {
		r.logger.Warn("parent key lookup failed",
			zap.String("source", source), zap.Int("order", order), zap.Error(err))
		return ""
	}
	return key
}

// FlatRetriever indexes and searches a single chunk granularity: the chunks
// written to the docstore are the ones embedded into the vector index, and
// hits are returned directly.
type FlatRetriever struct {
	splitter *chunker.Splitter
	store    *docstore.Store
	index    *vectorindex.Index
	mode     vectorindex.Mode
	k        int
	logger   *zap.Logger
}

// NewFlatRetriever wires the single-granularity strategy.
func NewFlatRetriever(splitter *chunker.Splitter, store *docstore.Store, index *vectorindex.Index, mode vectorindex.Mode, k int, logger *zap.Logger) *FlatRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if k <= 0 {
		k = 20
	}
	return &FlatRetriever{
		splitter: splitter,
		store:    store,
		index:    index,
		mode:     mode,
		k:        k,
		logger:   logger.With(zap.String("component", "flat_retriever")),
	}
}

func (r *FlatRetriever) Index(ctx context.Context, source string, docs []types.Document) error {
	chunks := r.splitter.Split(source, docs)
	if len(chunks) == 0 {
		return nil
	}

	pairs := make([]docstore.Pair, len(chunks))
	for i, c := range chunks {
		pairs[i] = docstore.Pair{Key: c.Key, Chunk: c}
	}
	if err := r.store.BulkPut(ctx, pairs); err != nil {
		compensate(ctx, r.store, r.index, source, r.logger)
		return fmt.Errorf("index %s: store chunks: %w", source, err)
	}
	if err := r.index.Upsert(ctx, chunks); err != nil {
		compensate(ctx, r.store, r.index, source, r.logger)
		return fmt.Errorf("index %s: upsert chunks: %w", source, err)
	}

	r.logger.Info("document indexed", zap.String("source", source), zap.Int("chunks", len(chunks)))
	return nil
}

func (r *FlatRetriever) Retrieve(ctx context.Context, query string, filter vectorindex.Filter) ([]types.Chunk, error) {
	hits, err := r.index.Search(ctx, query, r.mode, r.k, filter)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	chunks := make([]types.Chunk, len(hits))
	for i, hit := range hits {
		chunks[i] = hit.Chunk()
	}
	return chunks, nil
}

// compensate removes whatever a failed indexing attempt wrote for source, so
// no orphaned vector points outlive their store records (or the reverse).
// Compensation failures are logged, never returned; the original indexing
// error is the one the caller sees.
func compensate(ctx context.Context, store *docstore.Store, index *vectorindex.Index, source string, logger *zap.Logger) {
	if err := index.DeleteBySource(ctx, source); err != nil {
		logger.Error("compensating vector delete failed", zap.String("source", source), zap.Error(err))
	}
	if err := store.DeleteBySource(ctx, source); err != nil {
		logger.Error("compensating store delete failed", zap.String("source", source), zap.Error(err))
	}
}
