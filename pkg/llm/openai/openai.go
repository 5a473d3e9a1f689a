// Package openai implements llm.Provider for OpenAI-compatible chat
// completion endpoints using server-sent event streaming.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"

	"github.com/entrhq/formforge/pkg/llm"
	"github.com/entrhq/formforge/pkg/llm/parser"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is used when WithModel is not given.
	DefaultModel = "gpt-4o-mini"
)

// Provider implements the LLM provider interface for OpenAI-compatible APIs.
type Provider struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	modelInfo   *llm.ModelInfo
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using Azure OpenAI, local models, or other compatible services.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithTemperature sets the sampling temperature. The default is 0 so that
// repeated questions get the same answer.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = t
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) ProviderOption {
	return func(p *Provider) {
		p.maxTokens = n
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// If apiKey is empty, it will attempt to read from the OPENAI_API_KEY environment variable.
// If baseURL is not provided via WithBaseURL option, it will check OPENAI_BASE_URL environment variable.
//
// Example:
//
//	// Local OpenAI-compatible API
//	provider, _ := openai.NewProvider("local",
//	    openai.WithBaseURL("http://localhost:8080/v1"))
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:      DefaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		maxTokens:  512,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = strings.TrimSuffix(envBaseURL, "/")
		}
	}

	p.modelInfo = &llm.ModelInfo{
		Provider:          "openai",
		Name:              p.model,
		SupportsStreaming: true,
		MaxTokens:         p.maxTokens,
		Metadata:          make(map[string]interface{}),
	}
	if p.baseURL != DefaultBaseURL {
		p.modelInfo.Metadata["base_url"] = p.baseURL
	}

	return p, nil
}

// StreamCompletion sends messages to the OpenAI API and streams back response chunks.
//
// This implementation uses raw HTTP streaming to handle SSE events directly,
// which provides better compatibility with OpenAI-compatible APIs that may
// include SSE comments or have slight format variations.
func (p *Provider) StreamCompletion(ctx context.Context, messages []*llm.Message) (<-chan *llm.StreamChunk, error) {
	resp, err := p.sendStreamRequest(ctx, messages)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go p.processStreamResponse(ctx, resp, chunks)
	return chunks, nil
}

func (p *Provider) sendStreamRequest(ctx context.Context, messages []*llm.Message) (*http.Response, error) {
	reqBody := map[string]interface{}{
		"model":       p.model,
		"messages":    convertToOpenAIMessages(messages),
		"stream":      true,
		"temperature": p.temperature,
	}
	if p.maxTokens > 0 {
		reqBody["max_tokens"] = p.maxTokens
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

func (p *Provider) processStreamResponse(ctx context.Context, resp *http.Response, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	thinking := parser.NewThinkingParser()
	role := ""

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason *string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil || len(event.Choices) == 0 {
			continue
		}
		delta := event.Choices[0].Delta
		if role == "" && delta.Role != "" {
			role = delta.Role
		}

		th, msg := thinking.Parse(delta.Content)
		if !p.send(ctx, chunks, th, role) || !p.send(ctx, chunks, msg, role) {
			return
		}
	}

	th, msg := thinking.Flush()
	if !p.send(ctx, chunks, th, role) || !p.send(ctx, chunks, msg, role) {
		return
	}

	if err := scanner.Err(); err != nil {
		p.send(ctx, chunks, &llm.StreamChunk{Error: fmt.Errorf("stream read error: %w", err)}, role)
		return
	}
	p.send(ctx, chunks, &llm.StreamChunk{Finished: true}, role)
}

// send delivers chunk unless ctx is done. A nil chunk is a no-op.
func (p *Provider) send(ctx context.Context, chunks chan<- *llm.StreamChunk, chunk *llm.StreamChunk, role string) bool {
	if chunk == nil {
		return true
	}
	chunk.Role = role
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Complete sends messages to the OpenAI API and returns the answer text with
// reasoning blocks removed.
func (p *Provider) Complete(ctx context.Context, messages []*llm.Message) (*llm.Message, error) {
	stream, err := p.StreamCompletion(ctx, messages)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for chunk := range stream {
		if chunk.IsError() {
			return nil, chunk.Error
		}
		if chunk.IsThinking() {
			continue
		}
		content.WriteString(chunk.Content)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &llm.Message{Role: llm.RoleAssistant, Content: content.String()}, nil
}

// GetModelInfo returns information about the OpenAI model being used.
func (p *Provider) GetModelInfo() *llm.ModelInfo {
	return p.modelInfo
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// GetBaseURL returns the base URL being used.
func (p *Provider) GetBaseURL() string {
	return p.baseURL
}

// convertToOpenAIMessages converts messages to OpenAI's ChatCompletionMessageParamUnion format.
func convertToOpenAIMessages(messages []*llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

var _ llm.Provider = (*Provider)(nil)
