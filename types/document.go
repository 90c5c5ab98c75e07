package types

import (
	"fmt"
	"path"
	"strings"
)

// Metadata keys shared across the docstore and the vector index payloads.
const (
	MetaSource    = "source"     // origin document identifier
	MetaOrder     = "order"      // 0-based position within the source's chunk sequence
	MetaPrevKey   = "prev_key"   // key of the chunk at order-1, absent at the start
	MetaNextKey   = "next_key"   // key of the chunk at order+1, absent at the end
	MetaParentKey = "parent_key" // docstore key of the enclosing parent chunk
	MetaPage      = "page"       // numeric page
	MetaPageLabel = "page_label" // printed page label, preferred over page
)

// Document is a raw input document as produced by a file loader: decoded text
// plus source metadata. Page-aware loaders emit one Document per page with
// MetaPage set.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chunk is a unit of indexed text. Key is an opaque identifier that stays
// stable for the chunk's lifetime. Metadata carries at least MetaSource and,
// once stored, MetaOrder plus the neighbor links.
type Chunk struct {
	Key      string         `json:"key"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetaString returns the metadata value for key as a string, or "" when the
// key is absent or not a string.
func (c Chunk) MetaString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	if v, ok := c.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// Source returns the chunk's origin document identifier.
func (c Chunk) Source() string { return c.MetaString(MetaSource) }

// Order returns the chunk's position within its source sequence. The second
// return value is false when the chunk has not been through a store write yet.
// JSON round trips turn ints into float64, so both representations are read.
func (c Chunk) Order() (int, bool) {
	if c.Metadata == nil {
		return 0, false
	}
	switch v := c.Metadata[MetaOrder].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Page returns the chunk's page label when present, else its numeric page
// formatted as a string, else "".
func (c Chunk) Page() string {
	if label := c.MetaString(MetaPageLabel); label != "" {
		return label
	}
	if c.Metadata == nil {
		return ""
	}
	switch v := c.Metadata[MetaPage].(type) {
	case string:
		return v
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%d", int(v))
	default:
		return ""
	}
}

// CloneMetadata returns a shallow copy of the chunk's metadata map. The vector
// index payload must be a copy, never a reference, of the chunk metadata.
func (c Chunk) CloneMetadata() map[string]any {
	out := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		out[k] = v
	}
	return out
}

// SourceResult is a retrieval-time value object handed to the generation
// stage and to API callers. It is never persisted.
type SourceResult struct {
	Name    string `json:"name"`
	Page    string `json:"page,omitempty"`
	Content string `json:"content"`
}

// SourceName reduces a source identifier to its last path segment for display.
func SourceName(source string) string {
	if source == "" {
		return "Unknown"
	}
	return path.Base(strings.ReplaceAll(source, "\\", "/"))
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one message of a session's chat history.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
