// Package titlegen generates short thread titles from the first exchange.
package titlegen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"
)

// LLM parameters for title generation
const (
	titleTimeout      = 15 * time.Second
	titleMaxTokens    = 30
	titleTemperature  = 0.1
	titleTopP         = 0.5
	titleMaxLen       = 500
	titleMaxRuneCount = 50

	// maxConcurrent caps fire-and-forget generations running at once.
	maxConcurrent = 4
)

// Generator generates meaningful titles for chat threads.
type Generator struct {
	client *openai.Client
	model  string
	sem    *semaphore.Weighted
}

// Config holds configuration for the title generator.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewGenerator creates a new title generator instance.
func NewGenerator(cfg Config) *Generator {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Generator{
		client: openai.NewClientWithConfig(config),
		model:  model,
		sem:    semaphore.NewWeighted(maxConcurrent),
	}
}

// Generate generates a title based on the first user message and the
// assistant reply. Falls back with an error; callers should keep the
// default title on failure.
func (g *Generator) Generate(ctx context.Context, userMessage, aiResponse string) (string, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire title slot: %w", err)
	}
	defer g.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	if len(userMessage) > titleMaxLen {
		userMessage = userMessage[:titleMaxLen] + "..."
	}
	if len(aiResponse) > titleMaxLen {
		aiResponse = aiResponse[:titleMaxLen] + "..."
	}
	prompt := fmt.Sprintf("User message: %s\n\nAssistant reply: %s\n\nGenerate a short title for this conversation.", userMessage, aiResponse)

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   titleMaxTokens,
		Temperature: titleTemperature,
		TopP:        titleTopP,
		Stop:        []string{"\n"},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: titleSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "title_generation",
				Strict: true,
				Schema: titleJSONSchema,
			},
		},
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)

	if err != nil {
		slog.Error("title generation failed",
			"model", g.model,
			"error", err,
			"latency_ms", latency.Milliseconds())
		return "", fmt.Errorf("LLM request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from LLM")
	}

	var result struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		slog.Warn("title generation parse failed",
			"model", g.model,
			"content", resp.Choices[0].Message.Content,
			"error", err)
		return "", fmt.Errorf("parse response failed: %w", err)
	}
	if result.Title == "" {
		return "", fmt.Errorf("empty title in response")
	}

	// Truncate to max length (rune-aware for UTF-8)
	runes := []rune(result.Title)
	if len(runes) > titleMaxRuneCount {
		result.Title = string(runes[:titleMaxRuneCount])
	}

	slog.Debug("title generated",
		"model", g.model,
		"title", result.Title,
		"latency_ms", latency.Milliseconds(),
		"tokens_total", resp.Usage.TotalTokens)

	return result.Title, nil
}

// titleSystemPrompt is the system prompt for title generation.
const titleSystemPrompt = `You are a conversation title generator. Given the first user message and assistant reply, produce a short, accurate title.

Requirements:
1. 3-8 words.
2. Reflect the core topic of the conversation.
3. No filler like "Discussion about" or "Question regarding".
4. For a question, the question itself (shortened) works as a title.
5. Neutral, objective tone.

Examples:
- "How do I connect to PostgreSQL from Go?" -> "Go PostgreSQL connection"
- "Write me a binary search implementation" -> "Binary search implementation"
- "What's the weather like today?" -> "Weather today"
`

// titleJSONSchema defines the JSON schema for title generation response.
var titleJSONSchema = &jsonSchema{
	Type:                 "object",
	AdditionalProperties: false,
	Required:             []string{"title"},
	Properties: map[string]*jsonSchema{
		"title": {
			Type:        "string",
			Description: "Generated conversation title, 3-8 words",
		},
	},
}

// jsonSchema implements json.Marshaler for OpenAI's JSON Schema format.
// The alias type prevents infinite recursion during marshaling.
type jsonSchema struct {
	Properties           map[string]*jsonSchema `json:"properties,omitempty"`
	Type                 string                 `json:"type"`
	Description          string                 `json:"description,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Enum                 []string               `json:"enum,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

func (s *jsonSchema) MarshalJSON() ([]byte, error) {
	type alias jsonSchema
	return json.Marshal((*alias)(s))
}
