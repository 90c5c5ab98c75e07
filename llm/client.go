// Package llm provides the language model collaborator: single-shot
// completion, SSE token streaming, prompt construction, and the JSON
// extraction used by the query-rewrite protocol.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StreamChunk is one fragment of a streamed completion. A non-nil Err ends
// the stream; the channel is closed after the final chunk.
type StreamChunk struct {
	Content string
	Err     error
}

// Client is the completion model interface consumed by the generation
// orchestrator. Both calls accept a fully rendered prompt string.
type Client interface {
	// Completion returns the full text of a single-shot completion.
	Completion(ctx context.Context, prompt string) (string, error)
	// Stream returns an ordered sequence of text fragments. The channel is
	// closed on end of stream or when ctx is cancelled.
	Stream(ctx context.Context, prompt string) (<-chan StreamChunk, error)
	// Name identifies the client for logs.
	Name() string
}

// Config configures the OpenAI-compatible completion client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	NumPredict int // max tokens per completion; <=0 means provider default
	Timeout    time.Duration
}

// OpenAIClient speaks the OpenAI completions API, streamed or not. Any
// compatible server (vLLM, llama.cpp, Ollama's compatibility layer) works.
type OpenAIClient struct {
	cfg     Config
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewOpenAIClient creates the completion client.
func NewOpenAIClient(cfg Config, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &OpenAIClient{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "llm_client")),
	}
}

func (c *OpenAIClient) Name() string { return "openai-completion" }

type completionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Stream    bool   `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) newRequest(ctx context.Context, stream bool, prompt string) (*http.Request, error) {
	body := completionRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: stream,
	}
	if c.cfg.NumPredict > 0 {
		body.MaxTokens = c.cfg.NumPredict
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return req, nil
}

// Completion performs a single-shot completion and returns the full text.
func (c *OpenAIClient) Completion(ctx context.Context, prompt string) (string, error) {
	req, err := c.newRequest(ctx, false, prompt)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm: completion status=%d body=%s", resp.StatusCode, string(raw))
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("llm: decode completion: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("llm: completion returned no choices")
	}
	return cr.Choices[0].Text, nil
}

// Stream performs a streaming completion. Fragments arrive on the returned
// channel in order; the channel is closed at end of stream, on error (after a
// chunk carrying Err), or when ctx is cancelled.
func (c *OpenAIClient) Stream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	req, err := c.newRequest(ctx, true, prompt)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: stream request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("llm: stream status=%d body=%s", resp.StatusCode, string(raw))
	}
	return streamSSE(ctx, resp.Body, c.logger), nil
}

// streamSSE parses an OpenAI-compatible SSE completion stream into a channel
// of text fragments. The goroutine owns body and closes it on exit.
func streamSSE(ctx context.Context, body io.ReadCloser, logger *zap.Logger) <-chan StreamChunk {
	ch := make(chan StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					select {
					case <-ctx.Done():
					case ch <- StreamChunk{Err: fmt.Errorf("llm: stream read: %w", err)}:
					}
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var cr completionResponse
			if err := json.Unmarshal([]byte(data), &cr); err != nil {
				logger.Warn("undecodable stream event skipped", zap.Error(err))
				continue
			}
			for _, choice := range cr.Choices {
				if choice.Text == "" {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case ch <- StreamChunk{Content: choice.Text}:
				}
			}
		}
	}()
	return ch
}
