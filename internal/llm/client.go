// Package llm defines the text/JSON generation port the investigator stages
// call, plus adapters for OpenAI-compatible and Gemini backends. Stages
// always carry a deterministic fallback, so adapter failures degrade the
// investigation instead of aborting it.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Client generates free text and JSON documents.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (map[string]any, error)
}

// Options configure an adapter.
type Options struct {
	APIKey      string
	Model       string
	Temperature float64
	TimeoutSecs int
}

// StripFences removes a leading fenced code block wrapper (``` or ```json)
// so fenced model output still parses as JSON.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	lines = lines[1:]
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// DecodeJSON strips fences and parses the result into a map.
func DecodeJSON(text string) (map[string]any, error) {
	cleaned := StripFences(text)
	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, fmt.Errorf("failed to decode LLM JSON: %w", err)
	}
	return out, nil
}
