package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// GeminiClient implements Client over Google's Generative AI SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

// NewGeminiClient creates an adapter for the Gemini API.
func NewGeminiClient(ctx context.Context, opts Options) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := time.Duration(opts.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		temperature: opts.Temperature,
		timeout:     timeout,
		logger:      slog.Default().With("component", "gemini", "model", model),
	}, nil
}

// Generate returns free-text output for a prompt.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt, "")
}

// GenerateJSON uses Gemini's native JSON mode and parses the result.
func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt string) (map[string]any, error) {
	text, err := c.complete(ctx, prompt, "application/json")
	if err != nil {
		return nil, err
	}
	return DecodeJSON(text)
}

func (c *GeminiClient) complete(ctx context.Context, prompt, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	genConfig := &genai.GenerateContentConfig{
		Temperature: ptrFloat32(c.temperature),
	}
	if mimeType != "" {
		genConfig.ResponseMIMEType = mimeType
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), genConfig)
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no content parts")
	}

	text := candidate.Content.Parts[0].Text
	c.logger.Debug("gemini completion",
		"prompt_length", len(prompt),
		"response_length", len(text))
	return text, nil
}

func ptrFloat32(f float64) *float32 {
	f32 := float32(f)
	return &f32
}
