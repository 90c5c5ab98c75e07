// Package loader turns files into documents ready for indexing. PDF and
// office formats are extracted by an external collaborator; this package
// handles plain text and pre-extracted paginated documents.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hassaanmuzammil/pro-rag/chunker"
	"github.com/hassaanmuzammil/pro-rag/types"
)

// DocumentLoader reads one source into documents.
type DocumentLoader interface {
	Load(ctx context.Context, source string) ([]types.Document, error)
	SupportedTypes() []string
}

// Registry routes Load calls by file extension.
type Registry struct {
	loaders map[string]DocumentLoader
}

// NewRegistry builds a registry with the built-in loaders.
func NewRegistry() *Registry {
	r := &Registry{loaders: make(map[string]DocumentLoader)}
	for _, l := range []DocumentLoader{NewTextLoader(), NewPagesLoader()} {
		for _, ext := range l.SupportedTypes() {
			r.loaders[strings.ToLower(ext)] = l
		}
	}
	return r
}

// Register adds or replaces the loader for ext (with leading dot).
func (r *Registry) Register(ext string, l DocumentLoader) {
	r.loaders[strings.ToLower(ext)] = l
}

// Load picks the loader from the source's extension.
func (r *Registry) Load(ctx context.Context, source string) ([]types.Document, error) {
	ext := strings.ToLower(filepath.Ext(source))
	l, ok := r.loaders[ext]
	if !ok {
		return nil, fmt.Errorf("loader: no loader for %q files", ext)
	}
	return l.Load(ctx, source)
}

// TextLoader reads a plain text file as one document.
type TextLoader struct{}

// NewTextLoader builds a TextLoader.
func NewTextLoader() *TextLoader { return &TextLoader{} }

func (l *TextLoader) Load(ctx context.Context, source string) ([]types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("loader: read text: %w", err)
	}
	return []types.Document{{
		Content:  string(data),
		Metadata: map[string]any{types.MetaSource: source},
	}}, nil
}

func (l *TextLoader) SupportedTypes() []string { return []string{".txt", ".md"} }

// PagesLoader reads a pre-extracted paginated document: a JSON file holding
// the page texts in order, as produced by an external PDF/DOCX extractor.
// The pages are wrapped with page annotations so chunking keeps a recoverable
// page number per chunk.
type PagesLoader struct{}

// NewPagesLoader builds a PagesLoader.
func NewPagesLoader() *PagesLoader { return &PagesLoader{} }

type pagesFile struct {
	Pages []string `json:"pages"`
}

func (l *PagesLoader) Load(ctx context.Context, source string) ([]types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("loader: read pages: %w", err)
	}
	var file pagesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("loader: decode pages: %w", err)
	}
	if len(file.Pages) == 0 {
		return nil, fmt.Errorf("loader: %s holds no pages", source)
	}

	doc := chunker.AnnotatePages(file.Pages)
	doc.Metadata[types.MetaSource] = source
	return []types.Document{doc}, nil
}

func (l *PagesLoader) SupportedTypes() []string { return []string{".pages", ".json"} }
