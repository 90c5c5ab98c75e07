package docstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/hassaanmuzammil/pro-rag/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store, err := New(db, zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

func batch(source string, n int) []Pair {
	pairs := make([]Pair, n)
	for i := range pairs {
		pairs[i] = Pair{
			Key: fmt.Sprintf("%s-key-%d", source, i),
			Chunk: types.Chunk{
				Content:  fmt.Sprintf("chunk %d of %s", i, source),
				Metadata: map[string]any{types.MetaSource: source, types.MetaPage: i + 1},
			},
		}
	}
	return pairs
}

func TestBulkPutLinksNeighbors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pairs := batch("docs/a.pdf", 4)
	require.NoError(t, store.BulkPut(ctx, pairs))

	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
	}
	chunks, err := store.BulkGet(ctx, keys)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	for i, c := range chunks {
		order, ok := c.Order()
		require.True(t, ok)
		assert.Equal(t, i, order, "stored order equals input position")

		if i == 0 {
			assert.Empty(t, c.MetaString(types.MetaPrevKey), "first entry has no prev_key")
		} else {
			assert.Equal(t, pairs[i-1].Key, c.MetaString(types.MetaPrevKey))
		}
		if i == len(pairs)-1 {
			assert.Empty(t, c.MetaString(types.MetaNextKey), "last entry has no next_key")
		} else {
			assert.Equal(t, pairs[i+1].Key, c.MetaString(types.MetaNextKey))
		}
	}
}

func TestFindKeyBySourceOrderInvertsBulkPut(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pairs := batch("docs/b.pdf", 5)
	require.NoError(t, store.BulkPut(ctx, pairs))

	for i, p := range pairs {
		key, err := store.FindKeyBySourceOrder(ctx, "docs/b.pdf", i)
		require.NoError(t, err)
		assert.Equal(t, p.Key, key)
	}

	// Absence is not an error.
	key, err := store.FindKeyBySourceOrder(ctx, "docs/b.pdf", 99)
	require.NoError(t, err)
	assert.Empty(t, key)
	key, err = store.FindKeyBySourceOrder(ctx, "unknown.pdf", 0)
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestBulkGetOmitsMissingKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pairs := batch("docs/c.txt", 2)
	require.NoError(t, store.BulkPut(ctx, pairs))

	chunks, err := store.BulkGet(ctx, []string{pairs[1].Key, "no-such-key", pairs[0].Key})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	// Result order follows the requested key order.
	assert.Equal(t, pairs[1].Key, chunks[0].Key)
	assert.Equal(t, pairs[0].Key, chunks[1].Key)

	chunks, err = store.BulkGet(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestBulkDeleteToleratesAbsentKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pairs := batch("docs/d.txt", 3)
	require.NoError(t, store.BulkPut(ctx, pairs))

	require.NoError(t, store.BulkDelete(ctx, []string{pairs[0].Key, "ghost-key"}))

	chunks, err := store.BulkGet(ctx, []string{pairs[0].Key, pairs[1].Key})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, pairs[1].Key, chunks[0].Key)
}

func TestDeleteBySourceIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.BulkPut(ctx, batch("docs/e.txt", 3)))
	require.NoError(t, store.BulkPut(ctx, batch("docs/keep.txt", 2)))

	require.NoError(t, store.DeleteBySource(ctx, "docs/e.txt"))
	require.NoError(t, store.DeleteBySource(ctx, "docs/e.txt"), "second delete is a no-op")

	keys, err := store.KeysByPrefix(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestKeysByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.BulkPut(ctx, batch("one", 3)))
	require.NoError(t, store.BulkPut(ctx, batch("two", 2)))

	keys, err := store.KeysByPrefix(ctx, "one-")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	for _, k := range keys {
		assert.Contains(t, k, "one-key-")
	}

	all, err := store.KeysByPrefix(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestBulkPutOverwritesExistingKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pairs := batch("docs/f.txt", 2)
	require.NoError(t, store.BulkPut(ctx, pairs))

	pairs[0].Chunk.Content = "rewritten"
	require.NoError(t, store.BulkPut(ctx, pairs))

	chunks, err := store.BulkGet(ctx, []string{pairs[0].Key})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "rewritten", chunks[0].Content)
}

func TestListSources(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkPut(ctx, batch("docs/b.pdf", 3)))
	require.NoError(t, store.BulkPut(ctx, batch("docs/a.pdf", 2)))

	infos, err := store.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, SourceInfo{Source: "docs/a.pdf", Chunks: 2}, infos[0])
	assert.Equal(t, SourceInfo{Source: "docs/b.pdf", Chunks: 3}, infos[1])

	empty := newTestStore(t)
	infos, err = empty.ListSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}
