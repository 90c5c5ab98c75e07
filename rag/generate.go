package rag

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/hassaanmuzammil/pro-rag/internal/metrics"
	"github.com/hassaanmuzammil/pro-rag/llm"
	"github.com/hassaanmuzammil/pro-rag/types"
)

// FallbackMessage is the fixed reply for any rewrite, retrieval or generation
// failure the user should not see an error for.
const FallbackMessage = "Sorry, I can not provide a response at the moment."

// Reply is the outcome of one Generate call. Exactly one of Fallback and
// Tokens is set: a non-empty Fallback is the complete non-streamed reply, a
// non-nil Tokens channel streams the answer fragments until closed.
type Reply struct {
	// Query is the standalone rewritten query, empty on fallback.
	Query string
	// Sources are the passages the answer was grounded on.
	Sources []types.SourceResult
	// Fallback, when non-empty, is the terminal reply.
	Fallback string
	// Tokens streams answer fragments in order.
	Tokens <-chan string
}

// Generate runs the rewrite, retrieve and answer stages for one user message.
// It never returns an error: every failure folds into a fallback reply. The
// caller owns chat history; on stream completion it appends the user message
// and the (possibly partial) concatenated answer itself.
func (p *Pipeline) Generate(ctx context.Context, message string, history []types.ChatTurn, expand bool, cancel *CancelToken) *Reply {
	query, fallback := p.rewrite(ctx, message, history)
	if fallback != "" {
		return &Reply{Fallback: fallback}
	}

	sources, _ := p.Retrieve(ctx, query, expand)
	contextBlock := llm.BuildContext(sources)
	contextBlock = p.counter.Truncate(contextBlock, p.cfg.ContextTokenBudget)

	if p.cfg.RelevanceGate && len(sources) > 0 && !p.contextRelevant(ctx, query, contextBlock) {
		return &Reply{Query: query, Fallback: FallbackMessage}
	}

	prompt := llm.RenderFinalAnswer(contextBlock, query)
	stream, err := p.client.Stream(ctx, prompt)
	if err != nil {
		p.logger.Warn("answer stream failed to start", zap.Error(err))
		p.metrics.DegradedRead("llm", "stream")
		return &Reply{Query: query, Sources: sources, Fallback: FallbackMessage}
	}

	out := make(chan string)
	go p.pump(ctx, stream, out, cancel)
	return &Reply{Query: query, Sources: sources, Tokens: out}
}

type rewriteVerdict struct {
	Valid  any    `json:"valid"`
	Output string `json:"output"`
}

// rewrite asks the model to either produce a standalone query or reject the
// message. Any upstream or parse failure is indistinguishable from an
// explicit invalid verdict: the caller gets a fallback, never an error.
func (p *Pipeline) rewrite(ctx context.Context, message string, history []types.ChatTurn) (query, fallback string) {
	if len(history) > p.cfg.HistoryWindow {
		history = history[len(history)-p.cfg.HistoryWindow:]
	}

	raw, err := p.client.Completion(ctx, llm.RenderQueryRewrite(history, message))
	if err != nil {
		p.logger.Warn("query rewrite failed", zap.Error(err))
		p.metrics.RewriteFallback(metrics.ReasonUpstream)
		return "", FallbackMessage
	}

	obj := llm.ExtractJSONObject(raw)
	if obj == "" {
		p.logger.Warn("query rewrite returned no JSON object")
		p.metrics.RewriteFallback(metrics.ReasonParse)
		return "", FallbackMessage
	}
	var verdict rewriteVerdict
	if err := json.Unmarshal([]byte(obj), &verdict); err != nil {
		p.logger.Warn("query rewrite JSON undecodable", zap.Error(err))
		p.metrics.RewriteFallback(metrics.ReasonParse)
		return "", FallbackMessage
	}

	if !truthy(verdict.Valid) {
		p.metrics.RewriteFallback(metrics.ReasonInvalid)
		if out := strings.TrimSpace(verdict.Output); out != "" {
			return "", out
		}
		return "", FallbackMessage
	}
	if out := strings.TrimSpace(verdict.Output); out != "" {
		return out, ""
	}
	p.metrics.RewriteFallback(metrics.ReasonParse)
	return "", FallbackMessage
}

// truthy reads the bool-like valid field: JSON booleans and the strings
// "true"/"false" both occur in model output.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	default:
		return false
	}
}

// contextRelevant rates the retrieved context against the query on a 1 to 3
// scale; 2 and up counts as relevant. Any failure counts as not relevant.
func (p *Pipeline) contextRelevant(ctx context.Context, query, contextBlock string) bool {
	raw, err := p.client.Completion(ctx, llm.RenderContextRelevance(contextBlock, query))
	if err != nil {
		p.logger.Warn("context relevance check failed", zap.Error(err))
		p.metrics.DegradedRead("llm", "relevance")
		return false
	}
	obj := llm.ExtractJSONObject(raw)
	if obj == "" {
		return false
	}
	var rating struct {
		Rating float64 `json:"rating"`
	}
	if err := json.Unmarshal([]byte(obj), &rating); err != nil {
		return false
	}
	return rating.Rating >= 2
}

// pump forwards stream fragments to out. Before each fragment it checks the
// cancellation token, then scans for stop sequences; a fragment containing a
// stop sequence ends the stream and is itself suppressed. Already-forwarded
// fragments stay valid as the partial answer.
func (p *Pipeline) pump(ctx context.Context, stream <-chan llm.StreamChunk, out chan<- string, cancel *CancelToken) {
	defer close(out)

	for chunk := range stream {
		if cancel.Cancelled() {
			p.metrics.AnswerStream(metrics.OutcomeCancelled)
			return
		}
		if chunk.Err != nil {
			p.logger.Warn("answer stream ended with error", zap.Error(chunk.Err))
			p.metrics.AnswerStream(metrics.OutcomeCompleted)
			return
		}
		if p.containsStop(chunk.Content) {
			p.metrics.AnswerStream(metrics.OutcomeStopped)
			return
		}
		select {
		case out <- chunk.Content:
		case <-cancel.Done():
			p.metrics.AnswerStream(metrics.OutcomeCancelled)
			return
		case <-ctx.Done():
			p.metrics.AnswerStream(metrics.OutcomeCancelled)
			return
		}
	}
	p.metrics.AnswerStream(metrics.OutcomeCompleted)
}

func (p *Pipeline) containsStop(fragment string) bool {
	for _, stop := range p.cfg.StopTokens {
		if strings.Contains(fragment, stop) {
			return true
		}
	}
	return false
}
