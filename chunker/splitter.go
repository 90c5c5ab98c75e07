// Package chunker splits raw documents into parent context chunks and child
// search chunks. Splitting is deterministic: the same input and parameters
// always yield the same boundaries in the same order.
package chunker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hassaanmuzammil/pro-rag/types"
)

// Config holds the two-granularity chunk geometry. Sizes and overlaps are in
// runes. A size must exceed its overlap so that the sliding window advances.
type Config struct {
	ParentSize    int `json:"parent_size"`
	ParentOverlap int `json:"parent_overlap"`
	ChildSize     int `json:"child_size"`
	ChildOverlap  int `json:"child_overlap"`
}

/// DefaultConfig mirrors the serving defaults: coarse 2000-rune parents for
// context, fine 400-rune children for search.
func DefaultConfig() Config {
	return Config{
		ParentSize:    2000,
		ParentOverlap: 100,
		ChildSize:     400,
		ChildOverlap:  50,
	}
}

// separators is the boundary preference order for recursive splitting:
// paragraph, line, word, and finally anywhere.
var separators = []string{"\n\n", "\n", " ", ""}

// Splitter produces parent and child chunks from raw documents.
type Splitter struct {
	cfg    Config
	logger *zap.Logger
}

// New validates the chunk geometry and returns a Splitter. Invalid geometry is
// a configuration error, fatal at startup rather than at indexing time.
func New(cfg Config, logger *zap.Logger) (*Splitter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pairs := []struct {
		name          string
		size, overlap int
	}{
		{"parent", cfg.ParentSize, cfg.ParentOverlap},
		{"child", cfg.ChildSize, cfg.ChildOverlap},
	}
	for _, p := range pairs {
		if p.size <= 0 {
			return nil, fmt.Errorf("chunker: %s size must be > 0, got %d", p.name, p.size)
		}
		if p.overlap < 0 || p.size <= p.overlap {
			return nil, fmt.Errorf("chunker: %s size %d must exceed overlap %d", p.name, p.size, p.overlap)
		}
	}
	return &Splitter{cfg: cfg, logger: logger.With(zap.String("component", "chunker"))}, nil
}

// Split is the single-granularity split used by the flat retrieval path.
// Each document is split with the child geometry; chunk metadata copies the
// document metadata plus the recovered page.
func (s *Splitter) Split(source string, docs []types.Document) []types.Chunk {
	var out []types.Chunk
	for _, doc := range docs {
		for _, piece := range splitAt(doc.Content, s.cfg.ChildSize, s.cfg.ChildOverlap, doc) {
			out = append(out, types.Chunk{
				Key:      uuid.NewString(),
				Content:  piece.text,
				Metadata: chunkMetadata(source, doc, piece),
			})
		}
	}
	return out
}

// SplitParentChild splits each document into parent chunks and each parent
// into child chunks. children[i] belong to parents[i]; every child maps to
// exactly one parent because children are derived from parent text, never
// from the raw document. Child metadata carries the parent key plus the
// parent's source position so retrieval can resolve and deduplicate on
// parent identity.
func (s *Splitter) SplitParentChild(source string, docs []types.Document) (parents []types.Chunk, children [][]types.Chunk) {
	for _, doc := range docs {
		for _, piece := range splitAt(doc.Content, s.cfg.ParentSize, s.cfg.ParentOverlap, doc) {
			parent := types.Chunk{
				Key:      uuid.NewString(),
				Content:  piece.text,
				Metadata: chunkMetadata(source, doc, piece),
			}
			order := len(parents)

			parentDoc := types.Document{Content: parent.Content, Metadata: parent.Metadata}
			var siblings []types.Chunk
			for _, cp := range splitAt(parent.Content, s.cfg.ChildSize, s.cfg.ChildOverlap, parentDoc) {
				meta := chunkMetadata(source, parentDoc, cp)
				meta[types.MetaParentKey] = parent.Key
				meta[types.MetaOrder] = order
				siblings = append(siblings, types.Chunk{
					Key:      uuid.NewString(),
					Content:  cp.text,
					Metadata: meta,
				})
			}

			parents = append(parents, parent)
			children = append(children, siblings)
		}
	}
	s.logger.Debug("document split",
		zap.String("source", source),
		zap.Int("parents", len(parents)))
	return parents, children
}

type piece struct {
	text string
	page string // page label recovered from annotations, "" when unknown
}

// chunkMetadata copies the document metadata and records the chunk's source
// and page. Page annotations recovered during splitting win over the
// document-level page field.
func chunkMetadata(source string, doc types.Document, p piece) map[string]any {
	meta := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta[types.MetaSource] = source
	if p.page != "" {
		meta[types.MetaPage] = p.page
	}
	return meta
}

// splitAt runs the recursive split and attaches the recovered page of each
// resulting piece.
func splitAt(text string, size, overlap int, _ types.Document) []piece {
	var out []piece
	for _, part := range splitRecursive(text, size, overlap, separators) {
		cleaned := stripMarkers(part)
		if cleaned == "" {
			continue
		}
		out = append(out, piece{text: cleaned, page: PageOf(text, part)})
	}
	return out
}

// splitRecursive splits text into parts of at most size runes, preferring the
// earliest separator in seps that occurs in the text. Adjacent parts share up
// to overlap runes of trailing context. Pieces longer than size are split
// again with the remaining separators; the final "" separator cuts anywhere.
func splitRecursive(text string, size, overlap int, seps []string) []string {
	if text == "" {
		return nil
	}
	if runeLen(text) <= size {
		return []string{text}
	}

	sep, rest := pickSeparator(text, seps)
	fragments := fragment(text, sep, size)

	// Break oversized fragments with finer separators before merging.
	var units []string
	for _, f := range fragments {
		if runeLen(f) > size && sep != "" {
			units = append(units, splitRecursive(f, size, 0, rest)...)
		} else {
			units = append(units, f)
		}
	}

	return merge(units, size, overlap)
}

// pickSeparator returns the first separator present in text together with the
// finer separators that follow it.
func pickSeparator(text string, seps []string) (string, []string) {
	for i, sep := range seps {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}

// fragment splits text on sep, keeping the separator attached to the
// preceding fragment so that concatenation restores the input exactly.
// An empty separator cuts anywhere: it yields windows of at most size runes.
func fragment(text, sep string, size int) []string {
	if sep == "" {
		runes := []rune(text)
		var out []string
		for len(runes) > 0 {
			n := len(runes)
			if n > size {
				n = size
			}
			out = append(out, string(runes[:n]))
			runes = runes[n:]
		}
		return out
	}
	parts := strings.SplitAfter(text, sep)
	// SplitAfter can leave a trailing empty part.
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// merge greedily packs units into chunks of at most size runes. Each new
// chunk is seeded with the trailing units of the previous chunk up to overlap
// runes. Empty chunks are never produced.
func merge(units []string, size, overlap int) []string {
	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if currentLen == 0 {
			return
		}
		chunk := strings.Join(current, "")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		// Seed the next chunk with the overlap tail of this one.
		var tail []string
		tailLen := 0
		for i := len(current) - 1; i >= 0 && overlap > 0; i-- {
			l := runeLen(current[i])
			if tailLen+l > overlap {
				break
			}
			tail = append([]string{current[i]}, tail...)
			tailLen += l
		}
		current = tail
		currentLen = tailLen
	}

	for _, u := range units {
		l := runeLen(u)
		if currentLen > 0 && currentLen+l > size {
			flush()
		}
		current = append(current, u)
		currentLen += l
	}
	if currentLen > 0 {
		chunk := strings.Join(current, "")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func runeLen(s string) int { return len([]rune(s)) }
