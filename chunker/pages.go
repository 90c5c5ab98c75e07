package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hassaanmuzammil/pro-rag/types"
)

// Page annotation markers. Paginated input is wrapped with a machine-parseable
// start annotation per page and a delimiter between pages, so the page of a
// chunk stays recoverable even after re-chunking across page boundaries.
const (
	PageDelimiter          = "\n<<<END_OF_PAGE>>>\n\f"
	pageAnnotationTemplate = "<<<START_OF_PAGE: %d>>>\n%s"
)

var pageMarkerRe = regexp.MustCompile(`<<<START_OF_PAGE: (\d+)>>>`)

// AnnotatePages concatenates pages into a single page-aware document. Each
// page is wrapped with its 1-based start annotation; pages are separated by
// PageDelimiter.
func AnnotatePages(pages []string) types.Document {
	annotated := make([]string, len(pages))
	for i, page := range pages {
		annotated[i] = fmt.Sprintf(pageAnnotationTemplate, i+1, strings.TrimSpace(page))
	}
	return types.Document{
		Content:  strings.Join(annotated, PageDelimiter),
		Metadata: map[string]any{},
	}
}

// PageOf recovers the page label of chunk within full: the page opened by the
// last start annotation at or before the chunk's first byte. Returns "" when
// full carries no annotations before the chunk.
func PageOf(full, chunk string) string {
	start := strings.Index(full, chunk)
	if start < 0 {
		return ""
	}
	// A marker that begins inside the chunk also counts when it is the
	// chunk's own first content.
	prefix := full[:start+markerPrefixLen(chunk)]
	matches := pageMarkerRe.FindAllStringSubmatch(prefix, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// stripMarkers removes page annotations and delimiters from chunk text so
// they never leak into stored or retrieved content.
func stripMarkers(s string) string {
	s = pageMarkerRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "<<<END_OF_PAGE>>>", "")
	s = strings.ReplaceAll(s, "\f", "")
	return strings.TrimSpace(s)
}

// markerPrefixLen returns the length of a page marker when the chunk starts
// with one, so the chunk is attributed to the page it opens.
func markerPrefixLen(chunk string) int {
	loc := pageMarkerRe.FindStringIndex(chunk)
	if loc != nil && loc[0] == 0 {
		return loc[1]
	}
	return 0
}
