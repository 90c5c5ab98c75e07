// Package docstore is the linked document store: a relational key-value store
// of chunks whose entries carry ordering and neighbor metadata. Parent chunks
// live here; the vector index only holds their children.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hassaanmuzammil/pro-rag/types"
)

// Record is the persisted shape of a chunk. Source and Ord duplicate the
// metadata fields they mirror so the reverse lookup stays an indexed equality
// query instead of a JSON path match.
type Record struct {
	Key      string `gorm:"primaryKey;size:64"`
	Source   string `gorm:"size:512;index:idx_chunks_source_ord"`
	Ord      int    `gorm:"index:idx_chunks_source_ord"`
	Content  string `gorm:"type:text"`
	Metadata string `gorm:"type:text"`
}

// TableName keeps the table name stable across GORM naming strategies.
func (Record) TableName() string { return "chunks" }

// Pair is one (key, chunk) element of a BulkPut batch. Order within the batch
// is significant: it defines the stored order and the neighbor links.
type Pair struct {
	Key   string
	Chunk types.Chunk
}

// Store implements the linked document store on a GORM database.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New migrates the chunk table and returns a Store.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("docstore: migrate: %w", err)
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "docstore"))}, nil
}

// BulkGet returns the chunks for the given keys. Missing keys are silently
// omitted; they are not an error. Result order follows the requested keys.
func (s *Store) BulkGet(ctx context.Context, keys []string) ([]types.Chunk, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var records []Record
	if err := s.db.WithContext(ctx).Where("key IN ?", keys).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("docstore: bulk get: %w", err)
	}

	byKey := make(map[string]types.Chunk, len(records))
	for _, rec := range records {
		byKey[rec.Key] = rec.chunk(s.logger)
	}
	out := make([]types.Chunk, 0, len(records))
	for _, key := range keys {
		if c, ok := byKey[key]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// BulkPut writes a document's chunks as one atomic batch. The order, prev_key
// and next_key of each entry are computed from its position in the
// caller-supplied sequence, not from chunk content, so callers must pass
// chunks in their true document order. Existing keys are overwritten.
func (s *Store) BulkPut(ctx context.Context, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}

	records := make([]Record, 0, len(pairs))
	for i, p := range pairs {
		meta := p.Chunk.CloneMetadata()
		if i > 0 {
			meta[types.MetaPrevKey] = pairs[i-1].Key
		} else {
			delete(meta, types.MetaPrevKey)
		}
		if i < len(pairs)-1 {
			meta[types.MetaNextKey] = pairs[i+1].Key
		} else {
			delete(meta, types.MetaNextKey)
		}
		meta[types.MetaOrder] = i

		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("docstore: marshal metadata for %s: %w", p.Key, err)
		}
		source, _ := meta[types.MetaSource].(string)
		records = append(records, Record{
			Key:      p.Key,
			Source:   source,
			Ord:      i,
			Content:  p.Chunk.Content,
			Metadata: string(raw),
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(records, 200).Error
	})
	if err != nil {
		return fmt.Errorf("docstore: bulk put: %w", err)
	}
	s.logger.Debug("chunks stored", zap.Int("count", len(records)))
	return nil
}

// BulkDelete removes the given keys in one transaction. Keys that are absent
// are not an error.
func (s *Store) BulkDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("key IN ?", keys).Delete(&Record{}).Error
	})
	if err != nil {
		return fmt.Errorf("docstore: bulk delete: %w", err)
	}
	return nil
}

// DeleteBySource removes every chunk of one source document. Used for
// explicit deletion and for compensating a failed indexing run; calling it
// for an unknown source is a no-op.
func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("source = ?", source).Delete(&Record{}).Error
	})
	if err != nil {
		return fmt.Errorf("docstore: delete by source %s: %w", source, err)
	}
	return nil
}

// FindKeyBySourceOrder is the reverse lookup from a chunk's (source, order)
// position to its store key. Returns "" with a nil error when no chunk
// matches; absence is not a failure.
func (s *Store) FindKeyBySourceOrder(ctx context.Context, source string, order int) (string, error) {
	var rec Record
	err := s.db.WithContext(ctx).
		Select("key").
		Where("source = ? AND ord = ?", source, order).
		First(&rec).Error
	switch {
	case err == nil:
		return rec.Key, nil
	case err == gorm.ErrRecordNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("docstore: find key by (%s, %d): %w", source, order, err)
	}
}

// SourceInfo summarizes one indexed document: its source identifier and how
// many chunks it stores.
type SourceInfo struct {
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}

// ListSources lists every indexed source with its chunk count, sorted by
// source identifier.
func (s *Store) ListSources(ctx context.Context) ([]SourceInfo, error) {
	var infos []SourceInfo
	err := s.db.WithContext(ctx).Model(&Record{}).
		Select("source AS source, COUNT(*) AS chunks").
		Group("source").
		Order("source").
		Scan(&infos).Error
	if err != nil {
		return nil, fmt.Errorf("docstore: list sources: %w", err)
	}
	return infos, nil
}

// KeysByPrefix lists every key starting with prefix, in storage order. An
// empty prefix lists all keys.
func (s *Store) KeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	query := s.db.WithContext(ctx).Model(&Record{})
	if prefix != "" {
		query = query.Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	var keys []string
	if err := query.Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("docstore: keys by prefix %q: %w", prefix, err)
	}
	return keys, nil
}

// chunk deserializes a record. A metadata blob that no longer parses is
// logged and degraded to an empty map rather than failing the whole read.
func (r Record) chunk(logger *zap.Logger) types.Chunk {
	meta := map[string]any{}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			logger.Warn("chunk metadata unreadable",
				zap.String("key", r.Key), zap.Error(err))
			meta = map[string]any{}
		}
	}
	return types.Chunk{Key: r.Key, Content: r.Content, Metadata: meta}
}

// escapeLike escapes LIKE wildcards so a literal prefix match is performed.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
