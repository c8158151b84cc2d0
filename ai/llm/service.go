// Package llm wraps OpenAI-compatible chat completion providers behind a
// small service interface with streaming and tool calling.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant, tool
	Content string

	// ToolCalls carries the calls an assistant message requested.
	ToolCalls []ToolCall
	// ToolCallID links a tool message to the call it answers.
	ToolCallID string
	// Name is the tool name for tool messages.
	Name string
}

// CallStats represents statistics for a single LLM call.
type CallStats struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	TotalDurationMs  int64 `json:"total_duration_ms"`
}

// ToolDescriptor represents a function/tool available to the LLM.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  string // JSON Schema string
}

// ToolCall represents a request to call a tool.
type ToolCall struct {
	ID       string
	Type     string
	Function FunctionCall
}

// FunctionCall represents the function details.
type FunctionCall struct {
	Name      string
	Arguments string
}

// Chunk is one streamed delta. Content and Reasoning are mutually
// exclusive in practice but both may be empty on bookkeeping frames.
type Chunk struct {
	Content   string
	Reasoning string
}

// StreamResult is the terminal frame of a streamed completion.
type StreamResult struct {
	Content   string
	Reasoning string
	ToolCalls []ToolCall
	Stats     *CallStats
}

// Service is the LLM service interface.
type Service interface {
	// Chat performs synchronous chat. Returns content, statistics, and error.
	Chat(ctx context.Context, messages []Message) (string, *CallStats, error)

	// ChatStreamWithTools performs streaming chat with function calling
	// support. Deltas arrive on the chunk channel; exactly one
	// StreamResult is sent on the result channel when the stream
	// finishes cleanly, or one error on the error channel otherwise.
	// All three channels are closed when the goroutine exits.
	ChatStreamWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor) (<-chan Chunk, <-chan *StreamResult, <-chan error)
}

// Config represents LLM service configuration.
type Config struct {
	Provider    string // openai, deepseek, openrouter, ollama
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 4096
	Temperature float32 // default: 0.7
	Timeout     int     // Request timeout in seconds (default: 300)
}

type service struct {
	client      *openai.Client
	model       string
	provider    string
	maxTokens   int
	temperature float32
	timeout     int
}

// NewService creates a new LLM Service.
func NewService(cfg *Config) (Service, error) {
	httpClient := newHTTPClient()

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = httpClient

	switch cfg.Provider {
	case "openai":
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	case "deepseek":
		clientConfig.BaseURL = defaultBaseURL(cfg.BaseURL, "https://api.deepseek.com")
	case "openrouter":
		clientConfig.BaseURL = defaultBaseURL(cfg.BaseURL, "https://openrouter.ai/api/v1")
	case "ollama":
		clientConfig.BaseURL = defaultBaseURL(cfg.BaseURL, "http://localhost:11434/v1")
	default:
		// Generic fallback for any other OpenAI-compatible provider.
		slog.Info("using generic OpenAI-compatible provider", "provider", cfg.Provider)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300
	}

	return &service{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		provider:    cfg.Provider,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
	}, nil
}

func defaultBaseURL(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func (s *service) Chat(ctx context.Context, messages []Message) (string, *CallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	startTime := time.Now()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("LLM chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("empty response from LLM")
	}

	stats := &CallStats{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		TotalDurationMs:  time.Since(startTime).Milliseconds(),
	}
	return resp.Choices[0].Message.Content, stats, nil
}

// toolCallAccumulator merges streamed tool call fragments by index.
type toolCallAccumulator struct {
	calls []ToolCall
}

func (a *toolCallAccumulator) add(deltas []openai.ToolCall) {
	for _, tc := range deltas {
		idx := len(a.calls)
		if tc.Index != nil {
			idx = *tc.Index
		}
		for len(a.calls) <= idx {
			a.calls = append(a.calls, ToolCall{Type: "function"})
		}
		call := &a.calls[idx]
		if tc.ID != "" {
			call.ID = tc.ID
		}
		if tc.Type != "" {
			call.Type = string(tc.Type)
		}
		if tc.Function.Name != "" {
			call.Function.Name += tc.Function.Name
		}
		call.Function.Arguments += tc.Function.Arguments
	}
}

func (s *service) ChatStreamWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor) (<-chan Chunk, <-chan *StreamResult, <-chan error) {
	chunkChan := make(chan Chunk, 10)
	resultChan := make(chan *StreamResult, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(resultChan)
		defer close(errChan)

		ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model:         s.model,
			MaxTokens:     s.maxTokens,
			Temperature:   s.temperature,
			Messages:      convertMessages(messages),
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		}
		if len(tools) > 0 {
			openaiTools := make([]openai.Tool, len(tools))
			for i, t := range tools {
				openaiTools[i] = openai.Tool{
					Type: openai.ToolTypeFunction,
					Function: &openai.FunctionDefinition{
						Name:        t.Name,
						Description: t.Description,
						Parameters:  json.RawMessage(t.Parameters),
					},
				}
			}
			req.Tools = openaiTools
		}

		startTime := time.Now()

		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			select {
			case errChan <- fmt.Errorf("create stream failed: %w", err):
			case <-ctx.Done():
			}
			return
		}
		defer func() { _ = stream.Close() }()

		result := &StreamResult{}
		accumulator := &toolCallAccumulator{}
		var usage *openai.Usage

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				select {
				case errChan <- fmt.Errorf("stream recv failed: %w", err):
				case <-ctx.Done():
				}
				return
			}

			// The usage frame has no choices when StreamOptions.IncludeUsage
			// is set; it arrives last.
			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				usage = response.Usage
			}
			if len(response.Choices) == 0 {
				continue
			}

			delta := response.Choices[0].Delta
			if len(delta.ToolCalls) > 0 {
				accumulator.add(delta.ToolCalls)
			}
			if delta.Content == "" && delta.ReasoningContent == "" {
				continue
			}

			result.Content += delta.Content
			result.Reasoning += delta.ReasoningContent
			select {
			case chunkChan <- Chunk{Content: delta.Content, Reasoning: delta.ReasoningContent}:
			case <-ctx.Done():
				select {
				case errChan <- ctx.Err():
				default:
				}
				return
			}
		}

		result.ToolCalls = accumulator.calls
		result.Stats = &CallStats{TotalDurationMs: time.Since(startTime).Milliseconds()}
		if usage != nil {
			result.Stats.PromptTokens = usage.PromptTokens
			result.Stats.CompletionTokens = usage.CompletionTokens
			result.Stats.TotalTokens = usage.TotalTokens
		}

		slog.Debug("LLM stream completed",
			"content_length", len(result.Content),
			"tool_calls", len(result.ToolCalls),
			"total_tokens", result.Stats.TotalTokens,
			"duration_ms", result.Stats.TotalDurationMs,
		)

		select {
		case resultChan <- result:
		case <-ctx.Done():
		}
	}()

	return chunkChan, resultChan, errChan
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := openai.ChatCompletionMessage{
			Content: m.Content,
		}
		switch m.Role {
		case "system":
			msg.Role = openai.ChatMessageRoleSystem
		case "assistant":
			msg.Role = openai.ChatMessageRoleAssistant
		case "tool":
			msg.Role = openai.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.Name
		default:
			msg.Role = openai.ChatMessageRoleUser
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				msg.ToolCalls[j] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolType(tc.Type),
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			}
		}
		llmMessages[i] = msg
	}
	return llmMessages
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// ToolMessage creates a tool result message answering a call.
func ToolMessage(callID, name, content string) Message {
	return Message{Role: "tool", ToolCallID: callID, Name: name, Content: content}
}
