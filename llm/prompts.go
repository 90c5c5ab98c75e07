package llm

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hassaanmuzammil/pro-rag/types"
)

// Default stop sequences scanned during answer streaming. A fragment
// containing any of these ends the stream and is itself suppressed.
var DefaultStopTokens = []string{"</s>", "<|im_end|>", "<|eot_id|>", "<|endoftext|>"}

const queryRewriteTemplate = `You are a query rewriter for a document question-answering system.
Given the recent chat history and the user's new message, decide whether the
message is a question about the indexed documents.

Respond with a single JSON object and nothing else:
- if the message is in scope, {"valid": "true", "output": "<standalone rewritten query>"}
- if not, {"valid": "false", "output": "<a short direct reply to the user>"}

Chat history:
%s

User message: %s

JSON:`

const finalAnswerTemplate = `Answer the user's question using only the sources below.
Cite nothing outside them. If the sources do not contain the answer, say so.

Sources:
%s

Question: %s

Answer:`

const contextRelevanceTemplate = `Rate how relevant the context below is to the user's message
on a scale of 1 (unrelated) to 3 (directly relevant).
Respond with a single JSON object: {"rating": <1|2|3>}

Context:
%s

User message: %s

JSON:`

// RenderQueryRewrite renders the rewrite prompt from the rolled-up recent
// history and the new user message.
func RenderQueryRewrite(history []types.ChatTurn, message string) string {
	return fmt.Sprintf(queryRewriteTemplate, renderHistory(history), message)
}

// RenderFinalAnswer renders the answer synthesis prompt.
func RenderFinalAnswer(contextBlock, message string) string {
	return fmt.Sprintf(finalAnswerTemplate, contextBlock, message)
}

// RenderContextRelevance renders the relevance rating prompt.
func RenderContextRelevance(contextBlock, message string) string {
	return fmt.Sprintf(contextRelevanceTemplate, contextBlock, message)
}

func renderHistory(history []types.ChatTurn) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildContext concatenates retrieved sources into the prompt context block:
// per source a header naming the document and page, then the fenced passage,
// in the order given.
func BuildContext(sources []types.SourceResult) string {
	var b strings.Builder
	for _, src := range sources {
		name := src.Name
		if name == "" {
			name = "Unknown"
		}
		page := src.Page
		if page == "" {
			page = "Unknown"
		}
		fmt.Fprintf(&b, "Source: %s, Page: %s\n```%s```\n\n", name, page, src.Content)
	}
	return b.String()
}

// TokenCounter counts prompt tokens for context budgeting. With a nil
// encoding it falls back to a 4-bytes-per-token heuristic, close enough for
// budget enforcement when the encoding file cannot be loaded.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter on the cl100k_base encoding, the common
// denominator of the supported completion models. Loading the encoding may
// require a one-time download.
func NewTokenCounter() (*TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("llm: load token encoding: %w", err)
	}
	return &TokenCounter{enc: enc}, nil
}

// NewHeuristicTokenCounter builds the fallback counter.
func NewHeuristicTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the number of tokens in text.
func (t *TokenCounter) Count(text string) int {
	if t.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate cuts text down to at most budget tokens, keeping the head. Text
// already within budget comes back unchanged.
func (t *TokenCounter) Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if t.enc == nil {
		limit := budget * 4
		if len(text) <= limit {
			return text
		}
		return text[:limit]
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return t.enc.Decode(tokens[:budget])
}

// ExtractJSONObject extracts the outermost JSON object from raw model output:
// the substring from the first '{' through the last '}'. Returns "" when no
// such span exists. Models wrap their JSON in prose often enough that this is
// the only reliable way to get at it.
func ExtractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}
