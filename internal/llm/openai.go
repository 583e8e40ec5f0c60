package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client over any OpenAI-compatible chat API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *slog.Logger
}

// NewOpenAIClient creates an adapter for the chat-completions API.
func NewOpenAIClient(opts Options) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := time.Duration(opts.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts.APIKey),
		model:       model,
		temperature: float32(opts.Temperature),
		timeout:     timeout,
		logger:      slog.Default().With("component", "openai", "model", model),
	}, nil
}

// Generate returns free-text output for a prompt.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt, nil)
}

// GenerateJSON requests a JSON object response and parses it, stripping a
// leading code fence first.
func (c *OpenAIClient) GenerateJSON(ctx context.Context, prompt string) (map[string]any, error) {
	format := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}
	text, err := c.complete(ctx, prompt, format)
	if err != nil {
		return nil, err
	}
	return DecodeJSON(text)
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string, format *openai.ChatCompletionResponseFormat) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	text := resp.Choices[0].Message.Content
	c.logger.Debug("openai completion",
		"prompt_length", len(prompt),
		"response_length", len(text))
	return text, nil
}
